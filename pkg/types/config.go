// Package types provides configuration types for the backtest and verdict engine.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RuleLogic combines the rules of a RuleSet
type RuleLogic string

const (
	LogicAll RuleLogic = "all"
	LogicAny RuleLogic = "any"
)

// Condition compares a rule's left operand with its right operand or value
type Condition string

const (
	ConditionAbove        Condition = "above"
	ConditionBelow        Condition = "below"
	ConditionCrossesAbove Condition = "crosses_above"
	ConditionCrossesBelow Condition = "crosses_below"
	ConditionRising       Condition = "rising"
	ConditionFalling      Condition = "falling"
)

// Operand names an indicator series and its parameters
type Operand struct {
	Indicator  string  `json:"indicator" yaml:"indicator"`
	Period     int     `json:"period,omitempty" yaml:"period,omitempty"`
	Fast       int     `json:"fast,omitempty" yaml:"fast,omitempty"`
	Slow       int     `json:"slow,omitempty" yaml:"slow,omitempty"`
	Signal     int     `json:"signal,omitempty" yaml:"signal,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
}

// Rule is a single indicator condition
type Rule struct {
	Name      string    `json:"name,omitempty" yaml:"name,omitempty"`
	Left      Operand   `json:"left" yaml:"left"`
	Condition Condition `json:"condition" yaml:"condition"`
	Right     *Operand  `json:"right,omitempty" yaml:"right,omitempty"`
	Value     float64   `json:"value,omitempty" yaml:"value,omitempty"`
}

// RuleSet is a list of rules joined by Logic
type RuleSet struct {
	Logic RuleLogic `json:"logic" yaml:"logic"`
	Rules []Rule    `json:"rules" yaml:"rules"`
}

// SizingMode selects how much capital an entry commits
type SizingMode string

const (
	SizingFixedAmount     SizingMode = "fixed_amount"
	SizingPercentOfEquity SizingMode = "percent_of_equity"
	SizingKelly           SizingMode = "kelly"
)

// Sizing configures position sizing
type Sizing struct {
	Mode  SizingMode `json:"mode" yaml:"mode"`
	Value float64    `json:"value" yaml:"value"`
}

// StopLossType selects the active stop policy
type StopLossType string

const (
	StopNone     StopLossType = "none"
	StopFixedPct StopLossType = "fixed_pct"
	StopATR      StopLossType = "atr_based"
	StopTrailing StopLossType = "trailing"
)

// TakeProfitType selects the profit target policy
type TakeProfitType string

const (
	TakeProfitNone      TakeProfitType = "none"
	TakeProfitFixedPct  TakeProfitType = "fixed_pct"
	TakeProfitRMultiple TakeProfitType = "r_multiple"
)

// StopLoss configures the stop
type StopLoss struct {
	Type      StopLossType `json:"type" yaml:"type"`
	Value     float64      `json:"value" yaml:"value"`
	ATRPeriod int          `json:"atrPeriod,omitempty" yaml:"atrPeriod,omitempty"`
}

// TakeProfit configures the profit target
type TakeProfit struct {
	Type  TakeProfitType `json:"type" yaml:"type"`
	Value float64        `json:"value" yaml:"value"`
}

// RiskManagement holds the stop and target policies of a strategy
type RiskManagement struct {
	StopLoss   StopLoss   `json:"stopLoss" yaml:"stopLoss"`
	TakeProfit TakeProfit `json:"takeProfit" yaml:"takeProfit"`
}

// Strategy is a declarative rule-based strategy
type Strategy struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Entry       RuleSet        `json:"entry" yaml:"entry"`
	Exit        RuleSet        `json:"exit" yaml:"exit"`
	Direction   PositionSide   `json:"direction" yaml:"direction"`
	Sizing      Sizing         `json:"sizing" yaml:"sizing"`
	Risk        RiskManagement `json:"risk" yaml:"risk"`
}

// Validate checks the strategy for unknown enums and negative parameters.
func (s Strategy) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("strategy id is empty: %w", ErrInvalidStrategy)
	}
	if s.Direction != "" && s.Direction != PositionSideLong {
		return fmt.Errorf("strategy %s: direction %q not supported: %w", s.ID, s.Direction, ErrInvalidStrategy)
	}
	switch s.Sizing.Mode {
	case "", SizingFixedAmount, SizingPercentOfEquity, SizingKelly:
	default:
		return fmt.Errorf("strategy %s: sizing mode %q: %w", s.ID, s.Sizing.Mode, ErrInvalidStrategy)
	}
	switch s.Risk.StopLoss.Type {
	case "", StopNone, StopFixedPct, StopATR, StopTrailing:
	default:
		return fmt.Errorf("strategy %s: stop type %q: %w", s.ID, s.Risk.StopLoss.Type, ErrInvalidStrategy)
	}
	switch s.Risk.TakeProfit.Type {
	case "", TakeProfitNone, TakeProfitFixedPct, TakeProfitRMultiple:
	default:
		return fmt.Errorf("strategy %s: take-profit type %q: %w", s.ID, s.Risk.TakeProfit.Type, ErrInvalidStrategy)
	}
	if s.Sizing.Value < 0 || s.Risk.StopLoss.Value < 0 || s.Risk.TakeProfit.Value < 0 {
		return fmt.Errorf("strategy %s: negative parameter: %w", s.ID, ErrInvalidStrategy)
	}
	return nil
}

// MonteCarloConfig configures trade resampling
type MonteCarloConfig struct {
	Iterations       int     `json:"iterations" mapstructure:"iterations"`
	RuinThresholdPct float64 `json:"ruinThresholdPct" mapstructure:"ruin_threshold_pct"`
	Seed             int64   `json:"seed" mapstructure:"seed"`
	Workers          int     `json:"workers" mapstructure:"workers"`
}

// WalkForwardConfig configures walk-forward validation
type WalkForwardConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	Windows     int     `json:"windows" mapstructure:"windows"`
	InSamplePct float64 `json:"inSamplePct" mapstructure:"in_sample_pct"`
}

// RunConfig is the immutable configuration of one backtest run
type RunConfig struct {
	InitialCapital decimal.Decimal   `json:"initialCapital"`
	CommissionPct  decimal.Decimal   `json:"commissionPct"`
	SlippagePct    decimal.Decimal   `json:"slippagePct"`
	BrokerageCap   decimal.Decimal   `json:"brokerageCap"`
	RiskFreeRate   float64           `json:"riskFreeRate"`
	Symbol         string            `json:"symbol"`
	DateRange      string            `json:"dateRange"`
	MonteCarlo     MonteCarloConfig  `json:"monteCarlo"`
	WalkForward    WalkForwardConfig `json:"walkForward"`
}

// DefaultRunConfig returns the default run configuration
func DefaultRunConfig() RunConfig {
	return RunConfig{
		InitialCapital: decimal.NewFromInt(100000),
		CommissionPct:  decimal.NewFromFloat(0.03),
		SlippagePct:    decimal.NewFromFloat(0.05),
		BrokerageCap:   decimal.NewFromInt(20),
		RiskFreeRate:   0.06,
		MonteCarlo: MonteCarloConfig{
			Iterations:       1000,
			RuinThresholdPct: 50,
		},
		WalkForward: WalkForwardConfig{
			Windows:     4,
			InSamplePct: 0.7,
		},
	}
}

// Validate checks the run configuration.
func (c RunConfig) Validate() error {
	if !c.InitialCapital.IsPositive() {
		return fmt.Errorf("initial capital must be positive: %w", ErrInvalidConfig)
	}
	if c.CommissionPct.IsNegative() || c.SlippagePct.IsNegative() || c.BrokerageCap.IsNegative() {
		return fmt.Errorf("commission, slippage and brokerage cap must be non-negative: %w", ErrInvalidConfig)
	}
	if c.MonteCarlo.Iterations < 0 {
		return fmt.Errorf("monte carlo iterations must be non-negative: %w", ErrInvalidConfig)
	}
	if c.WalkForward.Enabled && (c.WalkForward.InSamplePct <= 0 || c.WalkForward.InSamplePct >= 1) {
		return fmt.Errorf("walk-forward in-sample fraction must be in (0,1): %w", ErrInvalidConfig)
	}
	return nil
}
