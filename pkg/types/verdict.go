package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bias is the direction of a piece of external evidence
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasNeutral Bias = "neutral"
)

// DetectedSignal is one indicator signal from the external detector
type DetectedSignal struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Direction   Bias   `json:"direction"`
	Strength    int    `json:"strength"`
	Description string `json:"description"`
}

// CandlestickPattern is a detected candlestick formation
type CandlestickPattern struct {
	Name      string    `json:"name"`
	Direction Bias      `json:"direction"`
	Strength  int       `json:"strength"`
	Date      time.Time `json:"date"`
}

// LevelType distinguishes support from resistance
type LevelType string

const (
	LevelSupport    LevelType = "support"
	LevelResistance LevelType = "resistance"
)

// PriceLevel is a support or resistance level
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Type     LevelType       `json:"type"`
	Strength int             `json:"strength"`
	Source   string          `json:"source"`
}

// FibLevel is a Fibonacci retracement or extension level
type FibLevel struct {
	Level float64         `json:"level"`
	Price decimal.Decimal `json:"price"`
	Type  string          `json:"type"`
}

// FairValueGap is an unfilled price imbalance
type FairValueGap struct {
	MidPrice decimal.Decimal `json:"midPrice"`
	Type     Bias            `json:"type"`
	Filled   bool            `json:"filled"`
}

// PriceTargets are level-based targets from the external detector
type PriceTargets struct {
	Current    decimal.Decimal `json:"current"`
	Support    decimal.Decimal `json:"support"`
	Resistance decimal.Decimal `json:"resistance"`
	Target1    decimal.Decimal `json:"target1"`
	Target2    decimal.Decimal `json:"target2"`
	StopLoss   decimal.Decimal `json:"stopLoss"`
}

// SignalSummary is the pre-computed output of an external pattern detector
type SignalSummary struct {
	Signals             []DetectedSignal     `json:"signals"`
	CandlestickPatterns []CandlestickPattern `json:"candlestickPatterns"`
	SupportResistance   []PriceLevel         `json:"supportResistance"`
	FibLevels           []FibLevel           `json:"fibLevels"`
	FVGs                []FairValueGap       `json:"fvgs"`
	PriceTargets        PriceTargets         `json:"priceTargets"`
	CandlestickBias     Bias                 `json:"candlestickBias"`
	CandlestickScore    float64              `json:"candlestickScore"`
	OverallBias         Bias                 `json:"overallBias"`
	OverallScore        float64              `json:"overallScore"`
	PriceVsLevels       string               `json:"priceVsLevels"`
}

// SignalAction is a strategy's live classification
type SignalAction string

const (
	SignalBuy  SignalAction = "BUY"
	SignalSell SignalAction = "SELL"
	SignalWait SignalAction = "WAIT"
)

// LiveSignal is the current-bar classification of one strategy
type LiveSignal struct {
	Action  SignalAction `json:"action"`
	Reasons []string     `json:"reasons"`
}

// StrategyResult is one ranked strategy in a verdict
type StrategyResult struct {
	Strategy         Strategy        `json:"strategy"`
	Report           *BacktestReport `json:"report"`
	Signal           LiveSignal      `json:"signal"`
	Rank             int             `json:"rank"`
	Trailing6mReturn float64         `json:"trailing6mReturnPct"`
	Target           decimal.Decimal `json:"target"`
	StopLoss         decimal.Decimal `json:"stopLoss"`
}

// Direction is the verdict's overall bias
type Direction string

const (
	DirectionBullish Direction = "BULLISH"
	DirectionBearish Direction = "BEARISH"
	DirectionNeutral Direction = "NEUTRAL"
)

// Action is the unified recommendation
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ScoreComponents breaks the composite score into its weighted parts
type ScoreComponents struct {
	SignalBalance    float64 `json:"signalBalance"`
	AggregateReturn  float64 `json:"aggregateReturn"`
	TopPerformers    float64 `json:"topPerformers"`
	Candlestick      float64 `json:"candlestick"`
	Overall          float64 `json:"overall"`
	SummaryAvailable bool    `json:"summaryAvailable"`
}

// Total returns the unclipped sum of the components.
func (c ScoreComponents) Total() float64 {
	return c.SignalBalance + c.AggregateReturn + c.TopPerformers + c.Candlestick + c.Overall
}

// AggregateStats are cross-strategy statistics
type AggregateStats struct {
	StrategyCount   int     `json:"strategyCount"`
	MeanReturnPct   float64 `json:"meanReturnPct"`
	MeanSharpe      float64 `json:"meanSharpe"`
	MeanWinRate     float64 `json:"meanWinRate"`
	MeanMaxDrawdown float64 `json:"meanMaxDrawdownPct"`
	ProfitableCount int     `json:"profitableCount"`
	BuyCount        int     `json:"buyCount"`
	SellCount       int     `json:"sellCount"`
	WaitCount       int     `json:"waitCount"`
	AgreementPct    float64 `json:"agreementPct"`
	DominantSignal  string  `json:"dominantSignal"`
}

// PriceRange is the cross-strategy target range
type PriceRange struct {
	Target   decimal.Decimal `json:"target"`
	StopLoss decimal.Decimal `json:"stopLoss"`
	Source   string          `json:"source"`
}

// UnifiedAction is the single headline recommendation
type UnifiedAction struct {
	Action       Action          `json:"action"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	Target       decimal.Decimal `json:"target"`
	StopLoss     decimal.Decimal `json:"stopLoss"`
	RiskReward   float64         `json:"riskReward"`
	Reasoning    []string        `json:"reasoning"`
}

// ExcludedStrategy records a strategy dropped from ranking
type ExcludedStrategy struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// UnifiedVerdict is the top-level reconciliation output
type UnifiedVerdict struct {
	ID             string             `json:"id"`
	Symbol         string             `json:"symbol"`
	Direction      Direction          `json:"direction"`
	Confidence     float64            `json:"confidence"`
	CompositeScore float64            `json:"compositeScore"`
	Components     ScoreComponents    `json:"components"`
	PriceRange     PriceRange         `json:"priceRange"`
	Action         UnifiedAction      `json:"action"`
	Aggregate      AggregateStats     `json:"aggregate"`
	Insights       []string           `json:"insights"`
	Strategies     []StrategyResult   `json:"strategies"`
	Excluded       []ExcludedStrategy `json:"excluded,omitempty"`
	GeneratedAt    time.Time          `json:"generatedAt"`
}
