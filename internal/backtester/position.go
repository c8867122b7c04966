package backtester

import (
	"errors"
	"math"
	"time"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/atlas-desktop/strategy-verdict/pkg/utils"
	"github.com/shopspring/decimal"
)

// ErrPositionOpen is returned when opening while a position is already alive
var ErrPositionOpen = errors.New("a position is already open")

// Exit reasons
const (
	ExitTrailingStop = "Trailing Stop"
	ExitStopLoss     = "Stop Loss"
	ExitATRStop      = "ATR Stop"
	ExitTakeProfit   = "Take Profit"
	ExitEndOfPeriod  = "End of Period"
	exitSignalPrefix = "Exit Signal: "
)

// Position is the single open position of a run
type Position struct {
	Side         types.PositionSide
	EntryPrice   decimal.Decimal
	EntryDate    time.Time
	EntryIndex   int
	Quantity     decimal.Decimal
	EntryCost    decimal.Decimal
	StopPrice    decimal.Decimal
	StopReason   string
	TrailingStop decimal.Decimal
	TakeProfit   decimal.Decimal
	HighestHigh  decimal.Decimal
	LowestLow    decimal.Decimal
	EntryReasons []string

	trailingPct decimal.Decimal
}

// HasStop reports whether a fixed or ATR stop is active.
func (p *Position) HasStop() bool {
	return p.StopPrice.IsPositive()
}

// HasTrailing reports whether a trailing stop is active.
func (p *Position) HasTrailing() bool {
	return p.TrailingStop.IsPositive()
}

// HasTarget reports whether a take-profit is active.
func (p *Position) HasTarget() bool {
	return p.TakeProfit.IsPositive()
}

// Track updates the running high/low since entry.
func (p *Position) Track(bar types.Bar) {
	if bar.High.GreaterThan(p.HighestHigh) {
		p.HighestHigh = bar.High
	}
	if bar.Low.LessThan(p.LowestLow) {
		p.LowestLow = bar.Low
	}
}

// Excursions returns max favorable and max adverse excursion in percent.
func (p *Position) Excursions() (mfe, mae float64) {
	if !p.EntryPrice.IsPositive() {
		return 0, 0
	}
	mfe = p.HighestHigh.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(hundred).InexactFloat64()
	mae = p.LowestLow.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(hundred).InexactFloat64()
	return math.Max(mfe, 0), math.Min(mae, 0)
}

// ExitDecision is a resting-order exit triggered by a bar
type ExitDecision struct {
	Price  decimal.Decimal
	Reason string
}

// RiskManager owns at most one open position and applies the stop and target policy to it
type RiskManager struct {
	policy   types.RiskManagement
	position *Position
}

// NewRiskManager creates a risk manager for one run
func NewRiskManager(policy types.RiskManagement) *RiskManager {
	return &RiskManager{policy: policy}
}

// Position returns the open position or nil when flat.
func (rm *RiskManager) Position() *Position {
	return rm.position
}

// IsOpen reports whether a position is alive.
func (rm *RiskManager) IsOpen() bool {
	return rm.position != nil
}

// Open creates the position and fixes its stop and target. atr is the ATR at
// the signal bar and only used by the atr_based stop.
func (rm *RiskManager) Open(entry decimal.Decimal, qty decimal.Decimal, cost decimal.Decimal,
	date time.Time, index int, atr float64, reasons []string) (*Position, error) {
	if rm.position != nil {
		return nil, ErrPositionOpen
	}

	p := &Position{
		Side:         types.PositionSideLong,
		EntryPrice:   entry,
		EntryDate:    date,
		EntryIndex:   index,
		Quantity:     qty,
		EntryCost:    cost,
		HighestHigh:  entry,
		LowestLow:    entry,
		EntryReasons: reasons,
	}

	sl := rm.policy.StopLoss
	value := decimal.NewFromFloat(sl.Value)
	switch sl.Type {
	case types.StopFixedPct:
		if sl.Value > 0 {
			p.StopPrice = entry.Mul(hundred.Sub(value)).Div(hundred)
			p.StopReason = ExitStopLoss
		}
	case types.StopATR:
		if !math.IsNaN(atr) && atr > 0 && sl.Value > 0 {
			p.StopPrice = entry.Sub(decimal.NewFromFloat(atr).Mul(value))
			p.StopReason = ExitATRStop
		}
	case types.StopTrailing:
		if sl.Value > 0 {
			p.trailingPct = value
			p.TrailingStop = entry.Mul(hundred.Sub(value)).Div(hundred)
		}
	}

	tp := rm.policy.TakeProfit
	tpValue := decimal.NewFromFloat(tp.Value)
	switch tp.Type {
	case types.TakeProfitFixedPct:
		if tp.Value > 0 {
			p.TakeProfit = entry.Mul(hundred.Add(tpValue)).Div(hundred)
		}
	case types.TakeProfitRMultiple:
		if risk := initialRisk(p); risk.IsPositive() && tp.Value > 0 {
			p.TakeProfit = entry.Add(risk.Mul(tpValue))
		}
	}

	rm.position = p
	return p, nil
}

func initialRisk(p *Position) decimal.Decimal {
	switch {
	case p.HasStop():
		return p.EntryPrice.Sub(p.StopPrice).Abs()
	case p.HasTrailing():
		return p.EntryPrice.Sub(p.TrailingStop).Abs()
	}
	return decimal.Zero
}

// CheckExit ratchets the trailing stop with the bar and reports the first resting
// exit hit in priority order: trailing stop, fixed/ATR stop, take-profit.
// Fills happen at the level, or at the open when the bar gaps through it.
func (rm *RiskManager) CheckExit(bar types.Bar) (ExitDecision, bool) {
	p := rm.position
	if p == nil {
		return ExitDecision{}, false
	}
	p.Track(bar)

	if p.HasTrailing() {
		before := p.TrailingStop
		candidate := bar.High.Mul(hundred.Sub(p.trailingPct)).Div(hundred)
		if candidate.GreaterThan(p.TrailingStop) {
			p.TrailingStop = candidate
		}
		if bar.Low.LessThanOrEqual(p.TrailingStop) {
			price := p.TrailingStop
			if bar.Open.LessThanOrEqual(before) {
				price = bar.Open
			}
			return ExitDecision{Price: price, Reason: ExitTrailingStop}, true
		}
	}

	if p.HasStop() && bar.Low.LessThanOrEqual(p.StopPrice) {
		return ExitDecision{Price: utils.MinDecimal(bar.Open, p.StopPrice), Reason: p.StopReason}, true
	}

	if p.HasTarget() && bar.High.GreaterThanOrEqual(p.TakeProfit) {
		price := p.TakeProfit
		if bar.Open.GreaterThan(p.TakeProfit) {
			price = bar.Open
		}
		return ExitDecision{Price: price, Reason: ExitTakeProfit}, true
	}

	return ExitDecision{}, false
}

// Close releases the position.
func (rm *RiskManager) Close() *Position {
	p := rm.position
	rm.position = nil
	return p
}
