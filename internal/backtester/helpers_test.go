package backtester_test

import (
	"math"
	"time"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/shopspring/decimal"
)

var day0 = time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)

func d(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// flatBars returns n bars closing at price with a one point range.
func flatBars(n int, price float64) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = types.Bar{
			Date:   day0.AddDate(0, 0, i),
			Open:   d(price),
			High:   d(price + 0.5),
			Low:    d(price - 0.5),
			Close:  d(price),
			Volume: d(10000),
		}
	}
	return bars
}

func setBar(bars []types.Bar, i int, o, h, l, c float64) {
	bars[i].Open, bars[i].High, bars[i].Low, bars[i].Close = d(o), d(h), d(l), d(c)
}

// waveBars oscillates around 100 so that moving-average rules trade often.
func waveBars(n int) []types.Bar {
	bars := make([]types.Bar, n)
	prev := 100.0
	for i := range bars {
		c := 100 + 10*math.Sin(float64(i)/7) + 2*math.Sin(float64(i)/2.3)
		hi := math.Max(prev, c) + 1
		lo := math.Min(prev, c) - 1
		bars[i] = types.Bar{
			Date:   day0.AddDate(0, 0, i),
			Open:   d(prev),
			High:   d(hi),
			Low:    d(lo),
			Close:  d(c),
			Volume: d(10000),
		}
		prev = c
	}
	return bars
}

func closeVs(cond types.Condition, v float64) types.Rule {
	return types.Rule{Left: types.Operand{Indicator: "close"}, Condition: cond, Value: v}
}

func smaCross(cond types.Condition, period int) types.Rule {
	return types.Rule{
		Left:      types.Operand{Indicator: "close"},
		Condition: cond,
		Right:     &types.Operand{Indicator: "sma", Period: period},
	}
}

func thresholdStrategy(entryAbove float64) types.Strategy {
	return types.Strategy{
		ID:     "threshold",
		Name:   "Threshold",
		Entry:  types.RuleSet{Rules: []types.Rule{closeVs(types.ConditionAbove, entryAbove)}},
		Sizing: types.Sizing{Mode: types.SizingPercentOfEquity, Value: 95},
	}
}

func waveStrategy() types.Strategy {
	return types.Strategy{
		ID:     "wave",
		Name:   "Wave",
		Entry:  types.RuleSet{Rules: []types.Rule{smaCross(types.ConditionCrossesAbove, 5)}},
		Exit:   types.RuleSet{Rules: []types.Rule{smaCross(types.ConditionCrossesBelow, 5)}},
		Sizing: types.Sizing{Mode: types.SizingPercentOfEquity, Value: 95},
	}
}

func testConfig() types.RunConfig {
	cfg := types.DefaultRunConfig()
	cfg.SlippagePct = decimal.Zero
	cfg.MonteCarlo.Iterations = 200
	cfg.MonteCarlo.Seed = 42
	return cfg
}
