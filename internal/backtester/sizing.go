package backtester

import (
	"math"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/shopspring/decimal"
)

const (
	// fixed-amount entries never commit more than this share of equity
	maxFixedAmountFraction = 0.95
	defaultEquityPct       = 95.0
	defaultKellyFraction   = 0.25
	kellyMinTrades         = 5
	kellyWarmupFraction    = 0.10
	kellyFloorFraction     = 0.02
)

// PositionSizer converts a sizing policy into an order quantity
type PositionSizer struct {
	sizing types.Sizing
	costs  CostModel
}

// NewPositionSizer creates a sizer for one run
func NewPositionSizer(sizing types.Sizing, costs CostModel) *PositionSizer {
	return &PositionSizer{sizing: sizing, costs: costs}
}

// Investment returns the capital to commit given current equity and the
// trades closed so far (used by the Kelly mode).
func (ps *PositionSizer) Investment(equity decimal.Decimal, closed []types.Trade) decimal.Decimal {
	switch ps.sizing.Mode {
	case types.SizingFixedAmount:
		amount := decimal.NewFromFloat(ps.sizing.Value)
		limit := equity.Mul(decimal.NewFromFloat(maxFixedAmountFraction))
		if amount.GreaterThan(limit) {
			return limit
		}
		return amount
	case types.SizingKelly:
		return equity.Mul(decimal.NewFromFloat(ps.kellyFraction(closed)))
	default:
		pct := ps.sizing.Value
		if pct <= 0 || pct > 100 {
			pct = defaultEquityPct
		}
		return equity.Mul(decimal.NewFromFloat(pct)).Div(hundred)
	}
}

// kellyFraction applies fractional Kelly f = p - q/b to the realized trade history.
func (ps *PositionSizer) kellyFraction(closed []types.Trade) float64 {
	if len(closed) < kellyMinTrades {
		return kellyWarmupFraction
	}

	var wins, losses int
	var sumWin, sumLoss float64
	for _, t := range closed {
		if t.PnL.IsPositive() {
			wins++
			sumWin += t.PnLPct
		} else if t.PnL.IsNegative() {
			losses++
			sumLoss += math.Abs(t.PnLPct)
		}
	}

	fraction := ps.sizing.Value
	if fraction <= 0 || fraction > 1 {
		fraction = defaultKellyFraction
	}
	if losses == 0 {
		return fraction
	}
	if wins == 0 {
		return kellyFloorFraction
	}

	p := float64(wins) / float64(len(closed))
	b := (sumWin / float64(wins)) / (sumLoss / float64(losses))
	kelly := p - (1-p)/b
	if kelly > 1 {
		kelly = 1
	}
	f := kelly * fraction
	if f < kellyFloorFraction {
		f = kellyFloorFraction
	}
	return f
}

// Quantity returns the largest whole-share quantity affordable with
// investment at price whose shares plus entry costs fit in cash.
func (ps *PositionSizer) Quantity(investment, price, cash decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if !price.IsPositive() || !investment.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	hi := decimal.Min(investment, cash).Div(price).Floor()
	if !hi.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	if cost, ok := ps.fits(hi, price, cash); ok {
		return hi, cost
	}

	// costs never exceed the uncapped rate, so lo always fits; costs grow
	// with quantity, so bisect between lo and hi.
	one := decimal.NewFromInt(1)
	lo := cash.Div(price.Mul(one.Add(ps.costs.MaxRate()))).Floor()
	if lo.GreaterThanOrEqual(hi) {
		lo = hi.Sub(one)
	}
	for lo.IsPositive() {
		if _, ok := ps.fits(lo, price, cash); ok {
			break
		}
		lo = lo.Sub(one)
	}
	for hi.Sub(lo).GreaterThan(one) {
		mid := lo.Add(hi).Div(decimal.NewFromInt(2)).Floor()
		if _, ok := ps.fits(mid, price, cash); ok {
			lo = mid
		} else {
			hi = mid
		}
	}
	if !lo.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	cost, _ := ps.fits(lo, price, cash)
	return lo, cost
}

func (ps *PositionSizer) fits(qty, price, cash decimal.Decimal) (decimal.Decimal, bool) {
	cost := ps.costs.Cost(price, qty)
	return cost, qty.Mul(price).Add(cost).LessThanOrEqual(cash)
}
