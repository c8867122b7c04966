package backtester

import (
	"time"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/shopspring/decimal"
)

// EquityTracker keeps the cash ledger, the running peak and the equity curve of one run
type EquityTracker struct {
	initial decimal.Decimal
	cash    decimal.Decimal
	peak    decimal.Decimal
	curve   []types.EquityPoint
}

// NewEquityTracker creates a tracker seeded with the starting capital
func NewEquityTracker(initial decimal.Decimal, expectedPoints int) *EquityTracker {
	if expectedPoints < 0 {
		expectedPoints = 0
	}
	return &EquityTracker{
		initial: initial,
		cash:    initial,
		peak:    initial,
		curve:   make([]types.EquityPoint, 0, expectedPoints),
	}
}

// Cash returns uninvested cash.
func (et *EquityTracker) Cash() decimal.Decimal {
	return et.cash
}

// Debit removes the share value and entry costs from cash.
func (et *EquityTracker) Debit(amount decimal.Decimal) {
	et.cash = et.cash.Sub(amount)
}

// Credit adds sale proceeds net of exit costs to cash.
func (et *EquityTracker) Credit(amount decimal.Decimal) {
	et.cash = et.cash.Add(amount)
}

// Equity values the open quantity at price.
func (et *EquityTracker) Equity(qty, price decimal.Decimal) decimal.Decimal {
	return et.cash.Add(qty.Mul(price))
}

// Mark records one equity point with the open quantity valued at the close.
func (et *EquityTracker) Mark(date time.Time, qty, closePrice decimal.Decimal) types.EquityPoint {
	equity := et.Equity(qty, closePrice)
	if equity.GreaterThan(et.peak) {
		et.peak = equity
	}

	drawdown := et.peak.Sub(equity)
	var ddPct float64
	if et.peak.IsPositive() {
		ddPct = drawdown.Div(et.peak).Mul(hundred).InexactFloat64()
	}

	pt := types.EquityPoint{
		Date:        date,
		Equity:      equity,
		Drawdown:    drawdown,
		DrawdownPct: ddPct,
		InMarket:    qty.IsPositive(),
	}
	et.curve = append(et.curve, pt)
	return pt
}

// Curve returns the recorded equity curve.
func (et *EquityTracker) Curve() []types.EquityPoint {
	return et.curve
}
