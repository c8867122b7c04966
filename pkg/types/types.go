// Package types provides shared type definitions for the backtest and verdict engine.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors for invalid input
var (
	ErrUnsortedBars    = errors.New("bars must be strictly ascending by date")
	ErrInvalidConfig   = errors.New("invalid run configuration")
	ErrInvalidStrategy = errors.New("invalid strategy definition")
)

// PositionSide represents long or short position
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Bar represents a single OHLCV session
type Bar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// ValidateBars checks that dates are strictly ascending.
func ValidateBars(bars []Bar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Date.After(bars[i-1].Date) {
			return fmt.Errorf("bar %d (%s): %w", i, bars[i].Date.Format("2006-01-02"), ErrUnsortedBars)
		}
	}
	return nil
}

// Trade represents a closed round trip
type Trade struct {
	ID           int             `json:"id"`
	EntryDate    time.Time       `json:"entryDate"`
	ExitDate     time.Time       `json:"exitDate"`
	EntryPrice   decimal.Decimal `json:"entryPrice"`
	ExitPrice    decimal.Decimal `json:"exitPrice"`
	Quantity     decimal.Decimal `json:"quantity"`
	Side         PositionSide    `json:"side"`
	PnL          decimal.Decimal `json:"pnl"`
	PnLPct       float64         `json:"pnlPct"`
	HoldingDays  int             `json:"holdingDays"`
	EntryReasons []string        `json:"entryReasons"`
	ExitReason   string          `json:"exitReason"`
	MFEPct       float64         `json:"mfePct"`
	MAEPct       float64         `json:"maePct"`
	Commission   decimal.Decimal `json:"commission"`
}

// EquityPoint represents one mark-to-market sample of the equity curve
type EquityPoint struct {
	Date        time.Time       `json:"date"`
	Equity      decimal.Decimal `json:"equity"`
	Drawdown    decimal.Decimal `json:"drawdown"`
	DrawdownPct float64         `json:"drawdownPct"`
	InMarket    bool            `json:"inMarket"`
}

// Metrics contains performance statistics derived from trades and the equity curve
type Metrics struct {
	TotalTrades         int             `json:"totalTrades"`
	WinningTrades       int             `json:"winningTrades"`
	LosingTrades        int             `json:"losingTrades"`
	TotalReturnPct      float64         `json:"totalReturnPct"`
	NetProfit           decimal.Decimal `json:"netProfit"`
	FinalEquity         decimal.Decimal `json:"finalEquity"`
	WinRate             float64         `json:"winRate"`
	AvgWin              decimal.Decimal `json:"avgWin"`
	AvgLoss             decimal.Decimal `json:"avgLoss"`
	AvgWinPct           float64         `json:"avgWinPct"`
	AvgLossPct          float64         `json:"avgLossPct"`
	BestTradePct        float64         `json:"bestTradePct"`
	WorstTradePct       float64         `json:"worstTradePct"`
	GrossProfit         decimal.Decimal `json:"grossProfit"`
	GrossLoss           decimal.Decimal `json:"grossLoss"`
	ProfitFactor        float64         `json:"profitFactor"`
	SharpeRatio         float64         `json:"sharpeRatio"`
	SortinoRatio        float64         `json:"sortinoRatio"`
	MaxDrawdown         decimal.Decimal `json:"maxDrawdown"`
	MaxDrawdownPct      float64         `json:"maxDrawdownPct"`
	MaxDrawdownDuration int             `json:"maxDrawdownDuration"`
	CalmarRatio         float64         `json:"calmarRatio"`
	RecoveryFactor      float64         `json:"recoveryFactor"`
	Expectancy          float64         `json:"expectancy"`
	TimeInMarketPct     float64         `json:"timeInMarketPct"`
	VaR95               float64         `json:"var95"`
	CVaR95              float64         `json:"cvar95"`
	MaxConsecutiveWins  int             `json:"maxConsecutiveWins"`
	MaxConsecutiveLoss  int             `json:"maxConsecutiveLosses"`
	CAGR                float64         `json:"cagr"`
	AvgHoldingDays      float64         `json:"avgHoldingDays"`
	TotalCommission     decimal.Decimal `json:"totalCommission"`
}

// MonthlyReturn is the equity change of one calendar month
type MonthlyReturn struct {
	Year      int     `json:"year"`
	Month     int     `json:"month"`
	ReturnPct float64 `json:"returnPct"`
}

// MonteCarloSummary contains the resampled drawdown distribution
type MonteCarloSummary struct {
	Iterations           int     `json:"iterations"`
	MedianMaxDrawdownPct float64 `json:"medianMaxDrawdownPct"`
	P95MaxDrawdownPct    float64 `json:"p95MaxDrawdownPct"`
	RiskOfRuinPct        float64 `json:"riskOfRuinPct"`
	MedianFinalEquity    float64 `json:"medianFinalEquity"`
	P5FinalEquity        float64 `json:"p5FinalEquity"`
	P95FinalEquity       float64 `json:"p95FinalEquity"`
}

// BenchmarkSummary compares the run against buy-and-hold of a reference series
type BenchmarkSummary struct {
	Symbol    string        `json:"symbol,omitempty"`
	ReturnPct float64       `json:"returnPct"`
	AlphaPct  float64       `json:"alphaPct"`
	Curve     []EquityPoint `json:"curve"`
}

// WalkForwardWindow is one in-sample / out-of-sample split
type WalkForwardWindow struct {
	Index             int       `json:"index"`
	InSampleStart     time.Time `json:"inSampleStart"`
	InSampleEnd       time.Time `json:"inSampleEnd"`
	OutOfSampleStart  time.Time `json:"outOfSampleStart"`
	OutOfSampleEnd    time.Time `json:"outOfSampleEnd"`
	InSampleReturnPct float64   `json:"inSampleReturnPct"`
	OutOfSampleReturn float64   `json:"outOfSampleReturnPct"`
	OutOfSampleSharpe float64   `json:"outOfSampleSharpe"`
	OutOfSampleTrades int       `json:"outOfSampleTrades"`
}

// WalkForwardSummary aggregates the walk-forward windows
type WalkForwardSummary struct {
	Windows           []WalkForwardWindow `json:"windows"`
	OutOfSampleReturn float64             `json:"outOfSampleReturnPct"`
	ConsistencyPct    float64             `json:"consistencyPct"`
	Robustness        float64             `json:"robustness"`
}

// Viability is a letter-graded deployment assessment
type Viability struct {
	Score    float64  `json:"score"`
	Grade    string   `json:"grade"`
	Viable   bool     `json:"viable"`
	Passed   []string `json:"passed"`
	Failed   []string `json:"failed"`
	Warnings []string `json:"warnings,omitempty"`
}

// BacktestReport is the immutable output of one engine run
type BacktestReport struct {
	ID             string              `json:"id"`
	Strategy       Strategy            `json:"strategy"`
	Config         RunConfig           `json:"config"`
	Symbol         string              `json:"symbol"`
	StartDate      time.Time           `json:"startDate"`
	EndDate        time.Time           `json:"endDate"`
	Trades         []Trade             `json:"trades"`
	EquityCurve    []EquityPoint       `json:"equityCurve"`
	Metrics        Metrics             `json:"metrics"`
	MonthlyReturns []MonthlyReturn     `json:"monthlyReturns"`
	MonteCarlo     MonteCarloSummary   `json:"monteCarlo"`
	Benchmark      *BenchmarkSummary   `json:"benchmark,omitempty"`
	WalkForward    *WalkForwardSummary `json:"walkForward,omitempty"`
	Viability      Viability           `json:"viability"`
	Empty          bool                `json:"empty"`
	GeneratedAt    time.Time           `json:"generatedAt"`
}
