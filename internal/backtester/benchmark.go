package backtester

import (
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/atlas-desktop/strategy-verdict/pkg/utils"
	"github.com/shopspring/decimal"
)

// Benchmark builds a buy-and-hold curve of the reference bars over the span of
// the strategy curve, starting from the same capital.
func Benchmark(bars []types.Bar, curve []types.EquityPoint, initial decimal.Decimal, strategyReturnPct float64) *types.BenchmarkSummary {
	if len(bars) == 0 || len(curve) == 0 {
		return nil
	}
	from, to := curve[0].Date, curve[len(curve)-1].Date

	var base decimal.Decimal
	peak := initial
	points := make([]types.EquityPoint, 0, len(curve))
	for _, b := range bars {
		if b.Date.Before(from) || b.Date.After(to) {
			continue
		}
		if base.IsZero() {
			if !b.Close.IsPositive() {
				continue
			}
			base = b.Close
		}
		equity := initial.Mul(b.Close).Div(base)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		dd := peak.Sub(equity)
		points = append(points, types.EquityPoint{
			Date:        b.Date,
			Equity:      equity,
			Drawdown:    dd,
			DrawdownPct: dd.Div(peak).Mul(hundred).InexactFloat64(),
			InMarket:    true,
		})
	}
	if len(points) == 0 {
		return nil
	}

	ret := utils.PercentChange(initial, points[len(points)-1].Equity)
	return &types.BenchmarkSummary{
		ReturnPct: ret,
		AlphaPct:  strategyReturnPct - ret,
		Curve:     points,
	}
}
