// Package backtester provides performance metrics calculation.
package backtester

import (
	"math"
	"sort"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/atlas-desktop/strategy-verdict/pkg/utils"
	"github.com/shopspring/decimal"
)

const (
	tradingDaysPerYear = 252
	daysPerYear        = 365.25

	// ProfitFactorCap stands in for an infinite profit factor
	ProfitFactorCap = 999.0
)

// CalculateMetrics derives all statistics from the trade list and equity curve.
// Ratios with a zero denominator fall back to 0 (or ProfitFactorCap).
func CalculateMetrics(trades []types.Trade, curve []types.EquityPoint, config types.RunConfig) types.Metrics {
	initial := config.InitialCapital
	m := types.Metrics{FinalEquity: initial}
	if len(curve) > 0 {
		m.FinalEquity = curve[len(curve)-1].Equity
	}
	m.NetProfit = m.FinalEquity.Sub(initial)
	if initial.IsPositive() {
		m.TotalReturnPct = m.NetProfit.Div(initial).Mul(hundred).InexactFloat64()
	}

	tradeStats(&m, trades)
	curveStats(&m, curve, initial, config.RiskFreeRate)

	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = m.CAGR / m.MaxDrawdownPct
	}
	if m.MaxDrawdown.IsPositive() {
		m.RecoveryFactor = m.NetProfit.Div(m.MaxDrawdown).InexactFloat64()
	}

	sanitize(&m)
	return m
}

func tradeStats(m *types.Metrics, trades []types.Trade) {
	m.TotalTrades = len(trades)
	m.GrossProfit = decimal.Zero
	m.GrossLoss = decimal.Zero
	m.TotalCommission = decimal.Zero
	if len(trades) == 0 {
		return
	}

	var sumWinPct, sumLossPct float64
	var holding int
	winStreak, lossStreak := 0, 0
	m.BestTradePct = trades[0].PnLPct
	m.WorstTradePct = trades[0].PnLPct
	returns := make([]float64, 0, len(trades))

	for _, t := range trades {
		returns = append(returns, t.PnLPct)
		holding += t.HoldingDays
		m.TotalCommission = m.TotalCommission.Add(t.Commission)
		m.BestTradePct = math.Max(m.BestTradePct, t.PnLPct)
		m.WorstTradePct = math.Min(m.WorstTradePct, t.PnLPct)

		switch {
		case t.PnL.IsPositive():
			m.WinningTrades++
			m.GrossProfit = m.GrossProfit.Add(t.PnL)
			sumWinPct += t.PnLPct
			winStreak++
			lossStreak = 0
		case t.PnL.IsNegative():
			m.LosingTrades++
			m.GrossLoss = m.GrossLoss.Add(t.PnL.Abs())
			sumLossPct += math.Abs(t.PnLPct)
			lossStreak++
			winStreak = 0
		default:
			winStreak, lossStreak = 0, 0
		}
		if winStreak > m.MaxConsecutiveWins {
			m.MaxConsecutiveWins = winStreak
		}
		if lossStreak > m.MaxConsecutiveLoss {
			m.MaxConsecutiveLoss = lossStreak
		}
	}

	total := float64(m.TotalTrades)
	m.WinRate = float64(m.WinningTrades) / total * 100
	m.AvgHoldingDays = float64(holding) / total

	if m.WinningTrades > 0 {
		m.AvgWin = m.GrossProfit.Div(decimal.NewFromInt(int64(m.WinningTrades)))
		m.AvgWinPct = sumWinPct / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = m.GrossLoss.Div(decimal.NewFromInt(int64(m.LosingTrades)))
		m.AvgLossPct = sumLossPct / float64(m.LosingTrades)
	}

	switch {
	case m.GrossLoss.IsPositive():
		m.ProfitFactor = m.GrossProfit.Div(m.GrossLoss).InexactFloat64()
	case m.GrossProfit.IsPositive():
		m.ProfitFactor = ProfitFactorCap
	}
	if m.ProfitFactor > ProfitFactorCap {
		m.ProfitFactor = ProfitFactorCap
	}

	// Expectancy: (Win% * AvgWin) - (Loss% * AvgLoss)
	winFrac := float64(m.WinningTrades) / total
	lossFrac := float64(m.LosingTrades) / total
	m.Expectancy = winFrac*m.AvgWin.InexactFloat64() - lossFrac*m.AvgLoss.InexactFloat64()

	m.VaR95, m.CVaR95 = historicalVaR(returns)
}

// historicalVaR returns the 95% VaR and CVaR of trade returns as positive losses.
func historicalVaR(returns []float64) (float64, float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx95 := int(float64(len(sorted)) * 0.05)
	if idx95 >= len(sorted) {
		idx95 = len(sorted) - 1
	}
	varLoss := math.Max(-sorted[idx95], 0)

	tail := sorted[:idx95+1]
	cvarLoss := math.Max(-utils.Mean(tail), 0)
	return varLoss, cvarLoss
}

func curveStats(m *types.Metrics, curve []types.EquityPoint, initial decimal.Decimal, riskFreeRate float64) {
	m.MaxDrawdown = decimal.Zero
	if len(curve) == 0 {
		return
	}

	inMarket := 0
	run := 0
	for _, pt := range curve {
		if pt.InMarket {
			inMarket++
		}
		if pt.Drawdown.GreaterThan(m.MaxDrawdown) {
			m.MaxDrawdown = pt.Drawdown
		}
		if pt.DrawdownPct > m.MaxDrawdownPct {
			m.MaxDrawdownPct = pt.DrawdownPct
		}
		if pt.Drawdown.IsPositive() {
			run++
			if run > m.MaxDrawdownDuration {
				m.MaxDrawdownDuration = run
			}
		} else {
			run = 0
		}
	}
	m.TimeInMarketPct = float64(inMarket) / float64(len(curve)) * 100

	returns := dailyReturns(curve)
	if len(returns) > 1 {
		rfDaily := riskFreeRate / tradingDaysPerYear
		excess := utils.Mean(returns) - rfDaily
		if sd := utils.StdDev(returns); sd > 0 {
			m.SharpeRatio = excess / sd * math.Sqrt(tradingDaysPerYear)
		}
		if dd := downsideDeviation(returns); dd > 0 {
			m.SortinoRatio = excess / dd * math.Sqrt(tradingDaysPerYear)
		}
	}

	first, last := curve[0], curve[len(curve)-1]
	years := last.Date.Sub(first.Date).Hours() / 24 / daysPerYear
	if years > 0 && initial.IsPositive() && m.FinalEquity.IsPositive() {
		growth := m.FinalEquity.Div(initial).InexactFloat64()
		m.CAGR = (math.Pow(growth, 1/years) - 1) * 100
	}
}

// dailyReturns calculates bar-to-bar returns from the equity curve
func dailyReturns(curve []types.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev.IsZero() {
			continue
		}
		returns = append(returns, curve[i].Equity.Sub(prev).Div(prev).InexactFloat64())
	}
	return returns
}

// downsideDeviation calculates downside deviation (only negative returns)
func downsideDeviation(returns []float64) float64 {
	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	return utils.StdDev(negative)
}

func sanitize(m *types.Metrics) {
	for _, f := range []*float64{
		&m.TotalReturnPct, &m.WinRate, &m.AvgWinPct, &m.AvgLossPct, &m.BestTradePct,
		&m.WorstTradePct, &m.SharpeRatio, &m.SortinoRatio, &m.MaxDrawdownPct, &m.CalmarRatio,
		&m.RecoveryFactor, &m.Expectancy, &m.TimeInMarketPct, &m.VaR95, &m.CVaR95, &m.CAGR,
		&m.AvgHoldingDays,
	} {
		*f = utils.Finite(*f, 0)
	}
	m.ProfitFactor = utils.Finite(m.ProfitFactor, ProfitFactorCap)
}
