package orchestrator_test

import (
	"math"
	"testing"
	"time"

	"github.com/atlas-desktop/strategy-verdict/internal/orchestrator"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(id string, action types.SignalAction, m types.Metrics) types.StrategyResult {
	return types.StrategyResult{
		Strategy: types.Strategy{ID: id, Name: id},
		Report:   &types.BacktestReport{Metrics: m},
		Signal:   types.LiveSignal{Action: action, Reasons: []string{}},
	}
}

func assertDecimal(t *testing.T, want float64, got decimal.Decimal) {
	t.Helper()
	assert.InDelta(t, want, got.InexactFloat64(), 0.01, "got %s", got)
}

func mixedResults() []types.StrategyResult {
	return []types.StrategyResult{
		result("c", types.SignalSell, types.Metrics{TotalReturnPct: -5}),
		result("b", types.SignalBuy, types.Metrics{TotalReturnPct: 10}),
		result("a", types.SignalBuy, types.Metrics{TotalReturnPct: 20, AvgWinPct: 10, AvgLossPct: 4}),
	}
}

func TestReconcileRanksAndScores(t *testing.T) {
	v := orchestrator.Reconcile("TEST", flatBars(2, 100), mixedResults(), nil)

	require.Len(t, v.Strategies, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, v.Strategies[i].Strategy.ID)
		assert.Equal(t, i+1, v.Strategies[i].Rank)
	}

	a, b, c := v.Strategies[0], v.Strategies[1], v.Strategies[2]
	assertDecimal(t, 110, a.Target)
	assertDecimal(t, 96, a.StopLoss)
	assertDecimal(t, 105, b.Target)
	assertDecimal(t, 97, b.StopLoss)
	assertDecimal(t, 95, c.Target)
	assertDecimal(t, 103, c.StopLoss)

	assert.Equal(t, 2, v.Aggregate.BuyCount)
	assert.Equal(t, 1, v.Aggregate.SellCount)
	assert.Equal(t, 2, v.Aggregate.ProfitableCount)
	assert.InDelta(t, 66.67, v.Aggregate.AgreementPct, 0.01)
	assert.Equal(t, "BUY", v.Aggregate.DominantSignal)

	assert.InDelta(t, 13.33, v.Components.SignalBalance, 0.01)
	assert.InDelta(t, 8.33, v.Components.AggregateReturn, 0.01)
	assert.False(t, v.Components.SummaryAvailable)
	assert.Zero(t, v.Components.Candlestick)
	assert.InDelta(t, 21.66, v.CompositeScore, 0.01)

	assert.Equal(t, types.DirectionBullish, v.Direction)
	assert.InDelta(t, 46.0, v.Confidence, 0.1)

	// weights 3 and 2 over the two BUY strategies
	assert.Equal(t, orchestrator.SourceStrategies, v.PriceRange.Source)
	assertDecimal(t, 108, v.PriceRange.Target)
	assertDecimal(t, 96.4, v.PriceRange.StopLoss)

	assert.Equal(t, types.ActionBuy, v.Action.Action)
	assertDecimal(t, 108, v.Action.Target)
	assertDecimal(t, 96.4, v.Action.StopLoss)
	assert.InDelta(t, 2.22, v.Action.RiskReward, 0.01)
	assert.NotEmpty(t, v.ID)
	assert.LessOrEqual(t, len(v.Insights), 5)
}

func TestReconcileRankTieBreak(t *testing.T) {
	results := []types.StrategyResult{
		result("z", types.SignalWait, types.Metrics{TotalReturnPct: 5, SharpeRatio: 1}),
		result("y", types.SignalWait, types.Metrics{TotalReturnPct: 5, SharpeRatio: 1}),
		result("x", types.SignalWait, types.Metrics{TotalReturnPct: 5, SharpeRatio: 2}),
	}
	v := orchestrator.Reconcile("TEST", flatBars(2, 100), results, nil)

	ids := []string{v.Strategies[0].Strategy.ID, v.Strategies[1].Strategy.ID, v.Strategies[2].Strategy.ID}
	assert.Equal(t, []string{"x", "y", "z"}, ids)
}

func TestReconcileMedianOfCandidates(t *testing.T) {
	summary := &types.SignalSummary{
		SupportResistance: []types.PriceLevel{
			{Price: d(112), Type: types.LevelResistance},
			{Price: d(105), Type: types.LevelResistance},
			{Price: d(95), Type: types.LevelSupport},
			{Price: d(99), Type: types.LevelResistance},
		},
		FibLevels: []types.FibLevel{
			{Level: 1.618, Price: d(115)},
			{Level: 0.618, Price: d(90)},
		},
		Signals: []types.DetectedSignal{
			{Name: "RSI", Direction: types.BiasBullish, Strength: 2},
			{Name: "MACD", Direction: types.BiasBullish, Strength: 5},
			{Name: "ADX", Direction: types.BiasBearish, Strength: 9},
		},
		FVGs:             []types.FairValueGap{{MidPrice: d(102), Type: types.BiasBullish}},
		CandlestickBias:  types.BiasBullish,
		CandlestickScore: 0,
		OverallBias:      types.BiasBullish,
		OverallScore:     40,
	}
	v := orchestrator.Reconcile("TEST", flatBars(2, 100), mixedResults(), summary)

	assert.True(t, v.Components.SummaryAvailable)
	assert.Equal(t, 7.5, v.Components.Candlestick)
	assert.InDelta(t, 6.0, v.Components.Overall, 0.001)
	assert.InDelta(t, 35.16, v.CompositeScore, 0.01)

	// targets {108, 105, 115}, stops {96.4, 95, 90}
	require.Equal(t, types.ActionBuy, v.Action.Action)
	assertDecimal(t, 108, v.Action.Target)
	assertDecimal(t, 95, v.Action.StopLoss)
	assert.InDelta(t, 1.6, v.Action.RiskReward, 0.01)

	require.LessOrEqual(t, len(v.Action.Reasoning), 6)
	assert.Contains(t, v.Action.Reasoning[0], "2 of 3 strategies signal BUY")
	var macd, rsi int
	for i, r := range v.Action.Reasoning {
		switch {
		case len(r) >= 4 && r[:4] == "MACD":
			macd = i
		case len(r) >= 3 && r[:3] == "RSI":
			rsi = i
		}
		assert.NotContains(t, r, "ADX")
	}
	assert.Less(t, macd, rsi, "stronger signal first")
}

func TestReconcileHoldOnMixedSignals(t *testing.T) {
	results := []types.StrategyResult{
		result("a", types.SignalWait, types.Metrics{}),
		result("b", types.SignalWait, types.Metrics{}),
	}
	v := orchestrator.Reconcile("TEST", flatBars(2, 100), results, nil)

	assert.Zero(t, v.CompositeScore)
	assert.Equal(t, types.DirectionNeutral, v.Direction)
	assert.Equal(t, 30.0, v.Confidence)

	assert.Equal(t, orchestrator.SourceDefault, v.PriceRange.Source)
	assertDecimal(t, 105, v.PriceRange.Target)
	assertDecimal(t, 97, v.PriceRange.StopLoss)

	assert.Equal(t, types.ActionHold, v.Action.Action)
	assert.True(t, v.Action.Target.Equal(d(100)))
	assert.True(t, v.Action.StopLoss.Equal(d(100)))
	assert.Zero(t, v.Action.RiskReward)
	assert.NotEmpty(t, v.Action.Reasoning)
	assert.Equal(t, "WAIT", v.Aggregate.DominantSignal)
}

func TestReconcileBuyAndSellCancel(t *testing.T) {
	results := []types.StrategyResult{
		result("long", types.SignalBuy, types.Metrics{}),
		result("short", types.SignalSell, types.Metrics{}),
	}
	v := orchestrator.Reconcile("TEST", flatBars(2, 100), results, nil)

	assert.Equal(t, 50.0, v.Aggregate.AgreementPct)
	assert.Zero(t, v.Components.SignalBalance)
	assert.Equal(t, types.ActionHold, v.Action.Action)
}

func TestReconcileScoreBounds(t *testing.T) {
	extreme := func(action types.SignalAction, ret float64, bias types.Bias, score float64) *types.UnifiedVerdict {
		results := make([]types.StrategyResult, 0, 6)
		for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
			results = append(results, result(id, action, types.Metrics{TotalReturnPct: ret}))
		}
		summary := &types.SignalSummary{
			CandlestickBias: bias, CandlestickScore: score,
			OverallBias: bias, OverallScore: score,
		}
		return orchestrator.Reconcile("TEST", flatBars(2, 100), results, summary)
	}

	bull := extreme(types.SignalBuy, 500, types.BiasBullish, 1000)
	assert.Equal(t, 100.0, bull.CompositeScore)
	assert.Equal(t, 95.0, bull.Confidence)
	assert.Equal(t, types.ActionBuy, bull.Action.Action)
	assert.Equal(t, orchestrator.SourceStrategies, bull.PriceRange.Source)

	bear := extreme(types.SignalSell, -500, types.BiasBearish, -1000)
	assert.Equal(t, -100.0, bear.CompositeScore)
	assert.Equal(t, types.DirectionBearish, bear.Direction)
	assert.Equal(t, types.ActionSell, bear.Action.Action)
	assert.True(t, bear.Action.Target.LessThan(d(100)))
	assert.True(t, bear.Action.StopLoss.GreaterThan(d(100)))

	for _, v := range []*types.UnifiedVerdict{bull, bear} {
		assert.False(t, math.IsNaN(v.CompositeScore))
		assert.GreaterOrEqual(t, v.Confidence, 0.0)
		assert.LessOrEqual(t, v.Confidence, 100.0)
	}
}

func TestReconcileSummaryFallbackRange(t *testing.T) {
	results := []types.StrategyResult{
		result("a", types.SignalWait, types.Metrics{TotalReturnPct: 40}),
	}
	summary := &types.SignalSummary{
		PriceTargets: types.PriceTargets{Target1: d(120), StopLoss: d(92), Support: d(90), Resistance: d(110)},
	}
	v := orchestrator.Reconcile("TEST", flatBars(2, 100), results, summary)

	require.Equal(t, types.DirectionBullish, v.Direction)
	assert.Equal(t, orchestrator.SourceSummary, v.PriceRange.Source)
	assertDecimal(t, 120, v.PriceRange.Target)
	assertDecimal(t, 92, v.PriceRange.StopLoss)
}

func TestReconcileTrailingSixMonths(t *testing.T) {
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	curve := []types.EquityPoint{
		{Date: start, Equity: d(100000)},
		{Date: start.AddDate(0, 3, 0), Equity: d(105000)},
		{Date: start.AddDate(0, 6, 0), Equity: d(110000)},
		{Date: start.AddDate(0, 12, 0), Equity: d(121000)},
	}
	r := result("a", types.SignalWait, types.Metrics{TotalReturnPct: 21})
	r.Report.EquityCurve = curve

	v := orchestrator.Reconcile("TEST", flatBars(2, 100), []types.StrategyResult{r}, nil)

	assert.InDelta(t, 10.0, v.Strategies[0].Trailing6mReturn, 0.001)
	assert.InDelta(t, 10.0, v.Components.TopPerformers, 0.001)
}

func TestReconcileNoResults(t *testing.T) {
	v := orchestrator.Reconcile("TEST", flatBars(2, 100), nil, nil)

	assert.Zero(t, v.CompositeScore)
	assert.Equal(t, types.ActionHold, v.Action.Action)
	assert.Equal(t, 0, v.Aggregate.StrategyCount)
	assert.NotEmpty(t, v.Insights)
}

func TestReconcileSummaryAloneHolds(t *testing.T) {
	summary := &types.SignalSummary{
		CandlestickBias:  types.BiasBullish,
		CandlestickScore: 100,
		OverallBias:      types.BiasBullish,
		OverallScore:     100,
	}
	v := orchestrator.Reconcile("TEST", flatBars(2, 100), nil, summary)

	assert.Greater(t, v.CompositeScore, 0.0)
	assert.Equal(t, types.ActionHold, v.Action.Action)
	assertDecimal(t, 100, v.Action.Target)
	assertDecimal(t, 100, v.Action.StopLoss)
}
