// Package backtester provides strategy viability assessment.
// Sharpe above 0.5, drawdown under 20% and a profit factor above 1.5 are the
// baseline for a strategy worth paper trading.
package backtester

import (
	"fmt"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/atlas-desktop/strategy-verdict/pkg/utils"
)

// ViabilityThresholds defines the minimum requirements for a viable strategy
type ViabilityThresholds struct {
	MinSharpeRatio   float64
	MaxDrawdownPct   float64
	MinProfitFactor  float64
	MinWinRate       float64 // percent
	MinTrades        int
	MaxRiskOfRuinPct float64
	MinScore         float64
}

// DefaultViabilityThresholds returns conservative default thresholds
func DefaultViabilityThresholds() ViabilityThresholds {
	return ViabilityThresholds{
		MinSharpeRatio:   0.5,
		MaxDrawdownPct:   20,
		MinProfitFactor:  1.5,
		MinWinRate:       40,
		MinTrades:        30,
		MaxRiskOfRuinPct: 5,
		MinScore:         60,
	}
}

// AggressiveViabilityThresholds for higher risk tolerance
func AggressiveViabilityThresholds() ViabilityThresholds {
	return ViabilityThresholds{
		MinSharpeRatio:   0.3,
		MaxDrawdownPct:   30,
		MinProfitFactor:  1.2,
		MinWinRate:       35,
		MinTrades:        20,
		MaxRiskOfRuinPct: 10,
		MinScore:         50,
	}
}

// ViabilityChecker grades a backtest against thresholds
type ViabilityChecker struct {
	thresholds ViabilityThresholds
}

// NewViabilityChecker creates a new viability checker
func NewViabilityChecker(thresholds ViabilityThresholds) *ViabilityChecker {
	return &ViabilityChecker{thresholds: thresholds}
}

// Assess scores the metrics 0-100, grades them A-F and lists passed and
// failed checks. A strategy is viable with no critical failure and a score at
// or above MinScore.
func (vc *ViabilityChecker) Assess(m types.Metrics, mc types.MonteCarloSummary) types.Viability {
	t := vc.thresholds
	v := types.Viability{Passed: []string{}, Failed: []string{}}
	critical := false

	check := func(ok bool, pass, fail string, isCritical bool) {
		if ok {
			v.Passed = append(v.Passed, pass)
			return
		}
		v.Failed = append(v.Failed, fail)
		if isCritical {
			critical = true
		}
	}

	check(m.SharpeRatio >= t.MinSharpeRatio,
		fmt.Sprintf("Sharpe %.2f >= %.2f", m.SharpeRatio, t.MinSharpeRatio),
		fmt.Sprintf("Sharpe %.2f below %.2f", m.SharpeRatio, t.MinSharpeRatio),
		m.SharpeRatio < 0)
	check(m.MaxDrawdownPct <= t.MaxDrawdownPct,
		fmt.Sprintf("Max drawdown %.1f%% within %.0f%%", m.MaxDrawdownPct, t.MaxDrawdownPct),
		fmt.Sprintf("Max drawdown %.1f%% exceeds %.0f%%", m.MaxDrawdownPct, t.MaxDrawdownPct),
		m.MaxDrawdownPct > t.MaxDrawdownPct*1.5)
	check(m.ProfitFactor >= t.MinProfitFactor,
		fmt.Sprintf("Profit factor %.2f >= %.2f", m.ProfitFactor, t.MinProfitFactor),
		fmt.Sprintf("Profit factor %.2f below %.2f", m.ProfitFactor, t.MinProfitFactor),
		m.ProfitFactor < 1)
	check(m.WinRate >= t.MinWinRate,
		fmt.Sprintf("Win rate %.1f%% >= %.0f%%", m.WinRate, t.MinWinRate),
		fmt.Sprintf("Win rate %.1f%% below %.0f%%", m.WinRate, t.MinWinRate),
		false)

	if m.TotalTrades < t.MinTrades {
		v.Warnings = append(v.Warnings,
			fmt.Sprintf("Only %d trades, %d needed for statistical significance", m.TotalTrades, t.MinTrades))
	}
	if m.TotalTrades == 0 {
		critical = true
		v.Failed = append(v.Failed, "No trades")
	}
	if mc.Iterations > 0 {
		check(mc.RiskOfRuinPct <= t.MaxRiskOfRuinPct,
			fmt.Sprintf("Risk of ruin %.1f%% within %.0f%%", mc.RiskOfRuinPct, t.MaxRiskOfRuinPct),
			fmt.Sprintf("Risk of ruin %.1f%% exceeds %.0f%%", mc.RiskOfRuinPct, t.MaxRiskOfRuinPct),
			mc.RiskOfRuinPct > t.MaxRiskOfRuinPct*2)
	}

	// weighted: return 30, risk 30, consistency 40
	v.Score = utils.Round(returnScore(m)*0.3+riskScore(m, mc)*0.3+consistencyScore(m)*0.4, 1)
	v.Grade = scoreToGrade(v.Score)
	v.Viable = !critical && v.Score >= t.MinScore
	return v
}

func returnScore(m types.Metrics) float64 {
	score := 50.0
	if m.SharpeRatio > 0 {
		score += utils.Clamp(m.SharpeRatio*20, 0, 30)
	} else {
		score -= 20
	}
	if m.SortinoRatio > 0 {
		score += utils.Clamp(m.SortinoRatio*10, 0, 20)
	}
	return utils.Clamp(score, 0, 100)
}

func riskScore(m types.Metrics, mc types.MonteCarloSummary) float64 {
	score := 100 - m.MaxDrawdownPct*2
	if mc.Iterations > 0 {
		score -= mc.RiskOfRuinPct
	}
	return utils.Clamp(score, 0, 100)
}

func consistencyScore(m types.Metrics) float64 {
	score := m.WinRate * 0.6
	if m.ProfitFactor > 1 {
		score += utils.Clamp((m.ProfitFactor-1)*20, 0, 40)
	}
	switch {
	case m.TotalTrades >= 100:
		score += 20
	case m.TotalTrades >= 50:
		score += 15
	case m.TotalTrades >= 30:
		score += 10
	}
	return utils.Clamp(score, 0, 100)
}

func scoreToGrade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
