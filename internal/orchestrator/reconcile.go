package orchestrator

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/atlas-desktop/strategy-verdict/pkg/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	signalBalanceWeight = 40.0
	returnClip          = 30.0
	summaryClip         = 15.0
	summaryWeight       = 0.15
	biasFallback        = 7.5

	directionThreshold = 15.0
	actionThreshold    = 10.0
	maxConfidence      = 95.0
	neutralConfidence  = 30.0

	topPerformerCount = 5
	trailingMonths    = 6
	maxReasoning      = 6

	defaultWinPct  = 5.0
	defaultLossPct = 3.0
)

// Price range sources
const (
	SourceStrategies = "strategies"
	SourceSummary    = "signal_summary"
	SourceDefault    = "default"
)

var one = decimal.NewFromInt(1)

// Reconcile ranks the strategy results and derives the composite score,
// direction, price range, unified action and insights. It is a pure function
// of its inputs apart from the verdict id and timestamp.
func Reconcile(symbol string, bars []types.Bar, results []types.StrategyResult, summary *types.SignalSummary) *types.UnifiedVerdict {
	price := decimal.Zero
	if len(bars) > 0 {
		price = bars[len(bars)-1].Close
	}

	ranked := rank(results)
	for i := range ranked {
		r := &ranked[i]
		r.Target, r.StopLoss = strategyLevels(r, price)
		if r.Report != nil {
			r.Trailing6mReturn = utils.Round(trailingReturn(r.Report.EquityCurve, trailingMonths), 2)
		}
	}

	agg := aggregate(ranked)
	components := scoreComponents(ranked, agg, summary)
	score := utils.Round(utils.Clamp(components.Total(), -100, 100), 2)
	direction := directionFor(score)

	v := &types.UnifiedVerdict{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Direction:      direction,
		Confidence:     utils.Round(confidenceFor(score, direction), 1),
		CompositeScore: score,
		Components:     components,
		PriceRange:     priceRange(ranked, direction, price, summary),
		Aggregate:      agg,
		Strategies:     ranked,
		Excluded:       []types.ExcludedStrategy{},
		GeneratedAt:    time.Now().UTC(),
	}
	v.Action = unifiedAction(ranked, agg, direction, score, price, summary)
	v.Insights = buildInsights(ranked, agg, v, summary)
	return v
}

// rank orders by total return desc, then Sharpe desc, then id, and assigns
// ranks from 1.
func rank(results []types.StrategyResult) []types.StrategyResult {
	out := make([]types.StrategyResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		mi, mj := metricsOf(out[i]), metricsOf(out[j])
		if mi.TotalReturnPct != mj.TotalReturnPct {
			return mi.TotalReturnPct > mj.TotalReturnPct
		}
		if mi.SharpeRatio != mj.SharpeRatio {
			return mi.SharpeRatio > mj.SharpeRatio
		}
		return out[i].Strategy.ID < out[j].Strategy.ID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func metricsOf(r types.StrategyResult) types.Metrics {
	if r.Report == nil {
		return types.Metrics{}
	}
	return r.Report.Metrics
}

// strategyLevels projects the strategy's average win and loss from price in
// the direction of its live signal.
func strategyLevels(r *types.StrategyResult, price decimal.Decimal) (target, stop decimal.Decimal) {
	m := metricsOf(*r)
	winPct, lossPct := m.AvgWinPct, m.AvgLossPct
	if winPct <= 0 {
		winPct = defaultWinPct
	}
	if lossPct <= 0 {
		lossPct = defaultLossPct
	}
	w := decimal.NewFromFloat(winPct / 100)
	l := decimal.NewFromFloat(lossPct / 100)

	if r.Signal.Action == types.SignalSell {
		return price.Mul(one.Sub(w)), price.Mul(one.Add(l))
	}
	return price.Mul(one.Add(w)), price.Mul(one.Sub(l))
}

// trailingReturn is the percent change of the curve over its last n months.
func trailingReturn(curve []types.EquityPoint, months int) float64 {
	if len(curve) < 2 {
		return 0
	}
	last := curve[len(curve)-1]
	cutoff := last.Date.AddDate(0, -months, 0)
	base := curve[0].Equity
	for _, pt := range curve {
		if pt.Date.After(cutoff) {
			break
		}
		base = pt.Equity
	}
	return utils.PercentChange(base, last.Equity)
}

func aggregate(results []types.StrategyResult) types.AggregateStats {
	agg := types.AggregateStats{StrategyCount: len(results), DominantSignal: string(types.SignalWait)}
	if len(results) == 0 {
		return agg
	}

	var sumRet, sumSharpe, sumWin, sumDD float64
	for _, r := range results {
		m := metricsOf(r)
		sumRet += m.TotalReturnPct
		sumSharpe += m.SharpeRatio
		sumWin += m.WinRate
		sumDD += m.MaxDrawdownPct
		if m.TotalReturnPct > 0 {
			agg.ProfitableCount++
		}
		switch r.Signal.Action {
		case types.SignalBuy:
			agg.BuyCount++
		case types.SignalSell:
			agg.SellCount++
		default:
			agg.WaitCount++
		}
	}

	n := float64(len(results))
	agg.MeanReturnPct = utils.Round(sumRet/n, 2)
	agg.MeanSharpe = utils.Round(sumSharpe/n, 2)
	agg.MeanWinRate = utils.Round(sumWin/n, 2)
	agg.MeanMaxDrawdown = utils.Round(sumDD/n, 2)

	// ties resolve WAIT, then BUY, then SELL
	top := agg.WaitCount
	if agg.BuyCount > top {
		top, agg.DominantSignal = agg.BuyCount, string(types.SignalBuy)
	}
	if agg.SellCount > top {
		top, agg.DominantSignal = agg.SellCount, string(types.SignalSell)
	}
	agg.AgreementPct = utils.Round(float64(top)/n*100, 2)
	return agg
}

func scoreComponents(ranked []types.StrategyResult, agg types.AggregateStats, summary *types.SignalSummary) types.ScoreComponents {
	c := types.ScoreComponents{}
	if n := len(ranked); n > 0 {
		c.SignalBalance = utils.Round(float64(agg.BuyCount-agg.SellCount)/float64(n)*signalBalanceWeight, 2)
		c.AggregateReturn = utils.Round(utils.Clamp(agg.MeanReturnPct, -returnClip, returnClip), 2)

		top := ranked
		if len(top) > topPerformerCount {
			top = top[:topPerformerCount]
		}
		sum := 0.0
		for _, r := range top {
			sum += r.Trailing6mReturn
		}
		c.TopPerformers = utils.Round(utils.Clamp(sum/float64(len(top)), -returnClip, returnClip), 2)
	}

	if summary != nil {
		c.SummaryAvailable = true
		c.Candlestick = summaryComponent(summary.CandlestickScore, summary.CandlestickBias)
		c.Overall = summaryComponent(summary.OverallScore, summary.OverallBias)
	}
	return c
}

// summaryComponent scales a detector score; a zero score falls back to the bias.
func summaryComponent(score float64, bias types.Bias) float64 {
	if score != 0 {
		return utils.Round(utils.Clamp(score*summaryWeight, -summaryClip, summaryClip), 2)
	}
	switch bias {
	case types.BiasBullish:
		return biasFallback
	case types.BiasBearish:
		return -biasFallback
	}
	return 0
}

func directionFor(score float64) types.Direction {
	switch {
	case score >= directionThreshold:
		return types.DirectionBullish
	case score <= -directionThreshold:
		return types.DirectionBearish
	}
	return types.DirectionNeutral
}

func confidenceFor(score float64, direction types.Direction) float64 {
	c := utils.Clamp(20+1.2*math.Abs(score), 0, maxConfidence)
	if direction == types.DirectionNeutral && c < neutralConfidence {
		c = neutralConfidence
	}
	return c
}

// weightedLevels is the rank-weighted (N-rank+1) mean target and stop of the
// strategies currently signalling action.
func weightedLevels(ranked []types.StrategyResult, action types.SignalAction) (target, stop decimal.Decimal, count int) {
	n := len(ranked)
	sumW := decimal.Zero
	for _, r := range ranked {
		if r.Signal.Action != action {
			continue
		}
		w := decimal.NewFromInt(int64(n - r.Rank + 1))
		target = target.Add(r.Target.Mul(w))
		stop = stop.Add(r.StopLoss.Mul(w))
		sumW = sumW.Add(w)
		count++
	}
	if count == 0 {
		return decimal.Zero, decimal.Zero, 0
	}
	return target.Div(sumW), stop.Div(sumW), count
}

func defaultLevels(price decimal.Decimal, bearish bool) (target, stop decimal.Decimal) {
	w := decimal.NewFromFloat(defaultWinPct / 100)
	l := decimal.NewFromFloat(defaultLossPct / 100)
	if bearish {
		return price.Mul(one.Sub(w)), price.Mul(one.Add(l))
	}
	return price.Mul(one.Add(w)), price.Mul(one.Sub(l))
}

func priceRange(ranked []types.StrategyResult, direction types.Direction, price decimal.Decimal, summary *types.SignalSummary) types.PriceRange {
	bearish := direction == types.DirectionBearish
	if direction != types.DirectionNeutral {
		action := types.SignalBuy
		if bearish {
			action = types.SignalSell
		}
		if t, s, n := weightedLevels(ranked, action); n > 0 {
			return types.PriceRange{Target: t.Round(2), StopLoss: s.Round(2), Source: SourceStrategies}
		}
		if summary != nil {
			pt := summary.PriceTargets
			if !bearish && pt.Target1.IsPositive() && pt.StopLoss.IsPositive() {
				return types.PriceRange{Target: pt.Target1, StopLoss: pt.StopLoss, Source: SourceSummary}
			}
			if bearish && pt.Support.IsPositive() && pt.Resistance.IsPositive() {
				return types.PriceRange{Target: pt.Support, StopLoss: pt.Resistance, Source: SourceSummary}
			}
		}
	}
	t, s := defaultLevels(price, bearish)
	return types.PriceRange{Target: t.Round(2), StopLoss: s.Round(2), Source: SourceDefault}
}

// nearestLevel returns the closest support/resistance of type typ strictly
// above (up) or below the price.
func nearestLevel(levels []types.PriceLevel, typ types.LevelType, price decimal.Decimal, up bool) (types.PriceLevel, bool) {
	var best types.PriceLevel
	found := false
	for _, lv := range levels {
		if lv.Type != typ || !favorable(lv.Price, price, up) {
			continue
		}
		if !found || lv.Price.Sub(price).Abs().LessThan(best.Price.Sub(price).Abs()) {
			best, found = lv, true
		}
	}
	return best, found
}

func nearestFib(levels []types.FibLevel, price decimal.Decimal, up bool) (types.FibLevel, bool) {
	var best types.FibLevel
	found := false
	for _, lv := range levels {
		if !favorable(lv.Price, price, up) {
			continue
		}
		if !found || lv.Price.Sub(price).Abs().LessThan(best.Price.Sub(price).Abs()) {
			best, found = lv, true
		}
	}
	return best, found
}

func favorable(level, price decimal.Decimal, up bool) bool {
	if !level.IsPositive() {
		return false
	}
	if up {
		return level.GreaterThan(price)
	}
	return level.LessThan(price)
}

func unifiedAction(ranked []types.StrategyResult, agg types.AggregateStats, direction types.Direction,
	score float64, price decimal.Decimal, summary *types.SignalSummary) types.UnifiedAction {
	action := types.ActionHold
	switch {
	case direction == types.DirectionBullish && score > actionThreshold:
		action = types.ActionBuy
	case direction == types.DirectionBearish && score < -actionThreshold:
		action = types.ActionSell
	}

	// summary evidence alone never trades
	if len(ranked) == 0 {
		return types.UnifiedAction{
			Action:       types.ActionHold,
			CurrentPrice: price,
			Target:       price,
			StopLoss:     price,
			Reasoning:    []string{"No strategy backtest supports a trade"},
		}
	}

	if action == types.ActionHold {
		return types.UnifiedAction{
			Action:       types.ActionHold,
			CurrentPrice: price,
			Target:       price,
			StopLoss:     price,
			Reasoning: []string{
				fmt.Sprintf("Mixed signals: composite score %.1f is not decisive", score),
				"Wait for clearer strategy agreement before acting",
			},
		}
	}

	bearish := action == types.ActionSell
	signal := types.SignalBuy
	targetLevel, stopLevel := types.LevelResistance, types.LevelSupport
	if bearish {
		signal = types.SignalSell
		targetLevel, stopLevel = types.LevelSupport, types.LevelResistance
	}

	var targets, stops []decimal.Decimal
	reasoning := make([]string, 0, maxReasoning)
	count := agg.BuyCount
	if bearish {
		count = agg.SellCount
	}
	reasoning = append(reasoning, fmt.Sprintf("%d of %d strategies signal %s (%.0f%% agreement)",
		count, agg.StrategyCount, signal, agg.AgreementPct))

	if t, s, n := weightedLevels(ranked, signal); n > 0 {
		targets = append(targets, t)
		stops = append(stops, s)
		reasoning = append(reasoning, fmt.Sprintf("Backtest target %s from %d agreeing strategies", t.StringFixed(2), n))
	}

	if summary != nil {
		if lv, ok := nearestLevel(summary.SupportResistance, targetLevel, price, !bearish); ok {
			targets = append(targets, lv.Price)
			reasoning = append(reasoning, fmt.Sprintf("Nearest %s at %s", lv.Type, lv.Price.StringFixed(2)))
		}
		if lv, ok := nearestLevel(summary.SupportResistance, stopLevel, price, bearish); ok {
			stops = append(stops, lv.Price)
		}
		if fib, ok := nearestFib(summary.FibLevels, price, !bearish); ok {
			targets = append(targets, fib.Price)
			reasoning = append(reasoning, fmt.Sprintf("Fibonacci %.3f level at %s", fib.Level, fib.Price.StringFixed(2)))
		}
		if fib, ok := nearestFib(summary.FibLevels, price, bearish); ok {
			stops = append(stops, fib.Price)
		}
		reasoning = append(reasoning, corroboration(summary, bearish)...)
	}

	target, okT := utils.Median(targets)
	stop, okS := utils.Median(stops)
	defT, defS := defaultLevels(price, bearish)
	if !okT {
		target = defT
	}
	if !okS {
		stop = defS
	}

	if len(reasoning) > maxReasoning {
		reasoning = reasoning[:maxReasoning]
	}
	return types.UnifiedAction{
		Action:       action,
		CurrentPrice: price,
		Target:       target.Round(2),
		StopLoss:     stop.Round(2),
		RiskReward:   riskReward(price, target, stop),
		Reasoning:    reasoning,
	}
}

// riskReward is |target-price| / |price-stop|, 0 when the stop is at price.
func riskReward(price, target, stop decimal.Decimal) float64 {
	risk := price.Sub(stop).Abs()
	if risk.IsZero() {
		return 0
	}
	return utils.Round(target.Sub(price).Abs().Div(risk).InexactFloat64(), 2)
}

// corroboration lists summary signals agreeing with the action, strongest
// first, followed by unfilled gaps on the same side.
func corroboration(summary *types.SignalSummary, bearish bool) []string {
	want := types.BiasBullish
	if bearish {
		want = types.BiasBearish
	}

	signals := make([]types.DetectedSignal, 0)
	for _, s := range summary.Signals {
		if s.Direction == want {
			signals = append(signals, s)
		}
	}
	sort.SliceStable(signals, func(i, j int) bool { return signals[i].Strength > signals[j].Strength })

	out := make([]string, 0, len(signals)+1)
	for _, s := range signals {
		line := fmt.Sprintf("%s (strength %d)", s.Name, s.Strength)
		if s.Description != "" {
			line += ": " + s.Description
		}
		out = append(out, line)
	}

	gaps := make([]string, 0)
	for _, g := range summary.FVGs {
		if !g.Filled && g.Type == want {
			gaps = append(gaps, g.MidPrice.StringFixed(2))
		}
	}
	if len(gaps) > 0 {
		out = append(out, fmt.Sprintf("Unfilled %s FVG at %s", want, strings.Join(gaps, ", ")))
	}
	return out
}
