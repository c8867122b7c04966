package catalog

import "github.com/atlas-desktop/strategy-verdict/pkg/types"

func op(indicator string, period int) types.Operand {
	return types.Operand{Indicator: indicator, Period: period}
}

func ref(o types.Operand) *types.Operand {
	return &o
}

var closeOp = types.Operand{Indicator: "close"}

func percentOfEquity(pct float64) types.Sizing {
	return types.Sizing{Mode: types.SizingPercentOfEquity, Value: pct}
}

// Builtin returns the default strategy set.
func Builtin() []types.Strategy {
	return []types.Strategy{
		{
			ID:          "momentum",
			Name:        "Momentum",
			Description: "Buys sustained price momentum over a lookback period",
			Entry: types.RuleSet{Logic: types.LogicAll, Rules: []types.Rule{
				{Left: op("roc", 14), Condition: types.ConditionAbove, Value: 2},
				{Left: closeOp, Condition: types.ConditionAbove, Right: ref(op("sma", 50))},
			}},
			Exit: types.RuleSet{Rules: []types.Rule{
				{Left: op("roc", 14), Condition: types.ConditionBelow, Value: 0},
			}},
			Sizing: percentOfEquity(95),
			Risk: types.RiskManagement{
				StopLoss: types.StopLoss{Type: types.StopTrailing, Value: 8},
			},
		},
		{
			ID:          "mean_reversion",
			Name:        "Mean Reversion",
			Description: "Buys closes below the lower Bollinger band when RSI is oversold",
			Entry: types.RuleSet{Logic: types.LogicAll, Rules: []types.Rule{
				{Left: closeOp, Condition: types.ConditionBelow, Right: ref(types.Operand{Indicator: "bb_lower", Period: 20, Multiplier: 2})},
				{Left: op("rsi", 14), Condition: types.ConditionBelow, Value: 35},
			}},
			Exit: types.RuleSet{Rules: []types.Rule{
				{Left: closeOp, Condition: types.ConditionAbove, Right: ref(types.Operand{Indicator: "bb_middle", Period: 20, Multiplier: 2})},
			}},
			Sizing: percentOfEquity(50),
			Risk: types.RiskManagement{
				StopLoss: types.StopLoss{Type: types.StopFixedPct, Value: 5},
			},
		},
		{
			ID:          "breakout",
			Name:        "Breakout",
			Description: "Buys a close above the 20-bar high on above-average volume",
			Entry: types.RuleSet{Logic: types.LogicAll, Rules: []types.Rule{
				{Left: closeOp, Condition: types.ConditionAbove, Right: ref(op("highest", 20))},
				{Left: types.Operand{Indicator: "volume"}, Condition: types.ConditionAbove, Right: ref(op("volume_sma", 20))},
			}},
			Exit: types.RuleSet{Rules: []types.Rule{
				{Left: closeOp, Condition: types.ConditionBelow, Right: ref(op("lowest", 10))},
			}},
			Sizing: percentOfEquity(95),
			Risk: types.RiskManagement{
				StopLoss:   types.StopLoss{Type: types.StopATR, Value: 2, ATRPeriod: 14},
				TakeProfit: types.TakeProfit{Type: types.TakeProfitRMultiple, Value: 2},
			},
		},
		{
			ID:          "trend_following",
			Name:        "Trend Following",
			Description: "Follows EMA(12/26) crossovers in the direction of the 50-day trend",
			Entry: types.RuleSet{Logic: types.LogicAll, Rules: []types.Rule{
				{Left: op("ema", 12), Condition: types.ConditionCrossesAbove, Right: ref(op("ema", 26))},
				{Left: closeOp, Condition: types.ConditionAbove, Right: ref(op("sma", 50))},
			}},
			Exit: types.RuleSet{Rules: []types.Rule{
				{Left: op("ema", 12), Condition: types.ConditionCrossesBelow, Right: ref(op("ema", 26))},
			}},
			Sizing: percentOfEquity(95),
			Risk: types.RiskManagement{
				StopLoss: types.StopLoss{Type: types.StopTrailing, Value: 10},
			},
		},
		{
			ID:          "golden_cross",
			Name:        "Golden Cross",
			Description: "SMA(50) crossing above SMA(200)",
			Entry: types.RuleSet{Rules: []types.Rule{
				{Name: "Golden cross SMA(50)/SMA(200)", Left: op("sma", 50), Condition: types.ConditionCrossesAbove, Right: ref(op("sma", 200))},
			}},
			Exit: types.RuleSet{Rules: []types.Rule{
				{Name: "Death cross SMA(50)/SMA(200)", Left: op("sma", 50), Condition: types.ConditionCrossesBelow, Right: ref(op("sma", 200))},
			}},
			Sizing: percentOfEquity(95),
			Risk: types.RiskManagement{
				StopLoss: types.StopLoss{Type: types.StopFixedPct, Value: 12},
			},
		},
		{
			ID:          "rsi_reversal",
			Name:        "RSI Reversal",
			Description: "Buys RSI recovering from oversold, sells when overbought",
			Entry: types.RuleSet{Rules: []types.Rule{
				{Left: op("rsi", 14), Condition: types.ConditionCrossesAbove, Value: 30},
			}},
			Exit: types.RuleSet{Rules: []types.Rule{
				{Left: op("rsi", 14), Condition: types.ConditionAbove, Value: 70},
			}},
			Sizing: types.Sizing{Mode: types.SizingKelly, Value: 0.25},
			Risk: types.RiskManagement{
				StopLoss:   types.StopLoss{Type: types.StopFixedPct, Value: 6},
				TakeProfit: types.TakeProfit{Type: types.TakeProfitFixedPct, Value: 12},
			},
		},
		{
			ID:          "macd_crossover",
			Name:        "MACD Crossover",
			Description: "MACD(12,26,9) line crossing its signal line",
			Entry: types.RuleSet{Rules: []types.Rule{
				{Left: op("macd", 0), Condition: types.ConditionCrossesAbove, Right: ref(op("macd_signal", 0))},
			}},
			Exit: types.RuleSet{Rules: []types.Rule{
				{Left: op("macd", 0), Condition: types.ConditionCrossesBelow, Right: ref(op("macd_signal", 0))},
			}},
			Sizing: percentOfEquity(95),
			Risk: types.RiskManagement{
				StopLoss: types.StopLoss{Type: types.StopATR, Value: 3, ATRPeriod: 14},
			},
		},
		{
			ID:          "dip_buyer",
			Name:        "Dip Buyer",
			Description: "Fixed-size entries on three falling closes above the 200-day trend",
			Entry: types.RuleSet{Logic: types.LogicAll, Rules: []types.Rule{
				{Left: closeOp, Condition: types.ConditionFalling, Value: 3},
				{Left: closeOp, Condition: types.ConditionAbove, Right: ref(op("sma", 200))},
			}},
			Exit: types.RuleSet{Rules: []types.Rule{
				{Left: closeOp, Condition: types.ConditionAbove, Right: ref(op("highest_close", 10))},
			}},
			Sizing: types.Sizing{Mode: types.SizingFixedAmount, Value: 25000},
			Risk: types.RiskManagement{
				StopLoss:   types.StopLoss{Type: types.StopFixedPct, Value: 7},
				TakeProfit: types.TakeProfit{Type: types.TakeProfitFixedPct, Value: 8},
			},
		},
	}
}
