package orchestrator_test

import (
	"time"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/shopspring/decimal"
)

var day0 = time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)

func d(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

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

func setClose(bars []types.Bar, i int, c float64) {
	bars[i].Close = d(c)
	bars[i].High = d(c + 0.5)
	bars[i].Low = d(c - 0.5)
}

func closeRule(cond types.Condition, v float64) types.Rule {
	return types.Rule{Left: types.Operand{Indicator: "close"}, Condition: cond, Value: v}
}

// strategy enters when close > entryAbove and exits when close < exitBelow.
func strategy(id string, entryAbove, exitBelow float64) types.Strategy {
	return types.Strategy{
		ID:     id,
		Name:   id,
		Entry:  types.RuleSet{Rules: []types.Rule{closeRule(types.ConditionAbove, entryAbove)}},
		Exit:   types.RuleSet{Rules: []types.Rule{closeRule(types.ConditionBelow, exitBelow)}},
		Sizing: types.Sizing{Mode: types.SizingPercentOfEquity, Value: 95},
	}
}
