package orchestrator

import (
	"fmt"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
)

const maxInsights = 5

// buildInsights produces display strings, most important first. They carry
// no weight in the score.
func buildInsights(ranked []types.StrategyResult, agg types.AggregateStats, v *types.UnifiedVerdict, summary *types.SignalSummary) []string {
	out := make([]string, 0, maxInsights)
	add := func(format string, args ...interface{}) {
		if len(out) < maxInsights {
			out = append(out, fmt.Sprintf(format, args...))
		}
	}

	if len(ranked) == 0 {
		add("No strategy produced a usable backtest")
		return out
	}

	best := ranked[0]
	bm := metricsOf(best)
	add("Top strategy %s returned %.2f%% (Sharpe %.2f, win rate %.1f%%)",
		best.Strategy.Name, bm.TotalReturnPct, bm.SharpeRatio, bm.WinRate)

	add("%d of %d strategies were profitable; mean return %.2f%%",
		agg.ProfitableCount, agg.StrategyCount, agg.MeanReturnPct)

	switch {
	case agg.AgreementPct >= 75:
		add("Strong consensus: %.0f%% of strategies agree on %s", agg.AgreementPct, agg.DominantSignal)
	case agg.AgreementPct <= 50:
		add("Strategies are split (%d BUY, %d SELL, %d WAIT)", agg.BuyCount, agg.SellCount, agg.WaitCount)
	default:
		add("Moderate agreement on %s (%.0f%%)", agg.DominantSignal, agg.AgreementPct)
	}

	if agg.MeanMaxDrawdown >= 20 {
		add("High average drawdown of %.1f%% across strategies", agg.MeanMaxDrawdown)
	}

	if summary == nil {
		add("No signal summary available; score uses backtests only")
	} else if summary.OverallBias != "" && summary.OverallBias != types.BiasNeutral {
		add("Pattern detector overall bias is %s (score %.0f)", summary.OverallBias, summary.OverallScore)
	}

	if best.Report != nil && !best.Report.Empty {
		add("Top strategy viability grade %s (score %.1f)", best.Report.Viability.Grade, best.Report.Viability.Score)
	}

	if v.Action.Action != types.ActionHold {
		add("%s toward %s with stop %s (risk/reward %.2f)", v.Action.Action,
			v.Action.Target.StringFixed(2), v.Action.StopLoss.StringFixed(2), v.Action.RiskReward)
	}
	return out
}
