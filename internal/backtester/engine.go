// Package backtester provides the bar-by-bar backtesting engine.
package backtester

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atlas-desktop/strategy-verdict/internal/rules"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/atlas-desktop/strategy-verdict/pkg/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// MinWarmupBars is the smallest lookback skipped before signals are taken
	MinWarmupBars  = 100
	warmupFraction = 0.05

	defaultATRPeriod = 14
	ctxCheckInterval = 256
)

// WarmupIndex returns max(100, 5% of n).
func WarmupIndex(n int) int {
	w := int(float64(n) * warmupFraction)
	if w < MinWarmupBars {
		return MinWarmupBars
	}
	return w
}

// Observer receives per-run outcomes, e.g. for metrics
type Observer interface {
	ObserveBacktest(strategyID string, duration time.Duration, trades int, err error)
}

// Engine runs one strategy over one bar sequence
type Engine struct {
	logger   *zap.Logger
	observer Observer
}

// NewEngine creates a new backtesting engine
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// SetObserver attaches an observer; nil disables observation.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// Simulation is the raw output of the bar loop
type Simulation struct {
	Trades      []types.Trade
	EquityCurve []types.EquityPoint
	Warmup      int
}

// Run executes a backtest and derives metrics, monthly returns, Monte Carlo,
// the optional benchmark, walk-forward and viability. Too few bars yields an
// empty report, not an error.
func (e *Engine) Run(
	ctx context.Context,
	bars []types.Bar,
	strategy types.Strategy,
	config types.RunConfig,
	benchmark []types.Bar,
) (report *types.BacktestReport, err error) {
	start := time.Now()
	defer func() {
		if e.observer != nil {
			trades := 0
			if report != nil {
				trades = len(report.Trades)
			}
			e.observer.ObserveBacktest(strategy.ID, time.Since(start), trades, err)
		}
	}()

	if err := validateInput(bars, strategy, config); err != nil {
		return nil, err
	}

	report = &types.BacktestReport{
		ID:             uuid.NewString(),
		Strategy:       strategy,
		Config:         config,
		Symbol:         config.Symbol,
		Trades:         []types.Trade{},
		EquityCurve:    []types.EquityPoint{},
		MonthlyReturns: []types.MonthlyReturn{},
		GeneratedAt:    time.Now().UTC(),
	}
	if len(bars) > 0 {
		report.StartDate = bars[0].Date
		report.EndDate = bars[len(bars)-1].Date
	}

	warmup := WarmupIndex(len(bars))
	if len(bars) <= warmup {
		e.logger.Debug("Insufficient bars for backtest",
			zap.String("strategy", strategy.ID),
			zap.Int("bars", len(bars)),
			zap.Int("warmup", warmup),
		)
		report.Empty = true
		report.Metrics = types.Metrics{FinalEquity: config.InitialCapital}
		report.Viability = NewViabilityChecker(DefaultViabilityThresholds()).Assess(report.Metrics, report.MonteCarlo)
		return report, nil
	}

	sim, err := e.Simulate(ctx, bars, strategy, config, warmup)
	if err != nil {
		return nil, err
	}

	report.Trades = sim.Trades
	report.EquityCurve = sim.EquityCurve
	report.StartDate = sim.EquityCurve[0].Date
	report.Metrics = CalculateMetrics(sim.Trades, sim.EquityCurve, config)
	report.MonthlyReturns = MonthlyReturns(sim.EquityCurve, config.InitialCapital)

	pnls := make([]float64, len(sim.Trades))
	for i, t := range sim.Trades {
		pnls[i] = t.PnL.InexactFloat64()
	}
	report.MonteCarlo = NewMonteCarloSimulator(e.logger, config.MonteCarlo).Run(pnls, config.InitialCapital.InexactFloat64())

	if len(benchmark) > 0 {
		report.Benchmark = Benchmark(benchmark, sim.EquityCurve, config.InitialCapital, report.Metrics.TotalReturnPct)
	}

	if config.WalkForward.Enabled {
		wf, err := NewWalkForwardAnalyzer(e.logger, e).Run(ctx, bars, strategy, config)
		if err != nil {
			e.logger.Warn("Walk-forward analysis failed", zap.String("strategy", strategy.ID), zap.Error(err))
		} else {
			report.WalkForward = wf
		}
	}

	report.Viability = NewViabilityChecker(DefaultViabilityThresholds()).Assess(report.Metrics, report.MonteCarlo)

	e.logger.Debug("Backtest completed",
		zap.String("strategy", strategy.ID),
		zap.String("symbol", config.Symbol),
		zap.Int("trades", len(report.Trades)),
		zap.Float64("totalReturnPct", report.Metrics.TotalReturnPct),
		zap.Duration("duration", time.Since(start)),
	)

	return report, nil
}

func validateInput(bars []types.Bar, strategy types.Strategy, config types.RunConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if err := strategy.Validate(); err != nil {
		return err
	}
	if err := rules.Validate(strategy.Entry); err != nil {
		return fmt.Errorf("strategy %s entry: %w", strategy.ID, err)
	}
	if err := rules.Validate(strategy.Exit); err != nil {
		return fmt.Errorf("strategy %s exit: %w", strategy.ID, err)
	}
	return types.ValidateBars(bars)
}

// Simulate drives the bar loop from warmup to the last bar. Signals seen at
// bar i fill at the open of bar i+1, and the position is first evaluated for
// exits at bar i+2.
func (e *Engine) Simulate(
	ctx context.Context,
	bars []types.Bar,
	strategy types.Strategy,
	config types.RunConfig,
	warmup int,
) (*Simulation, error) {
	n := len(bars)
	if warmup < 0 {
		warmup = 0
	}
	if n <= warmup {
		return &Simulation{Trades: []types.Trade{}, EquityCurve: []types.EquityPoint{}, Warmup: warmup}, nil
	}

	costs := NewCostModel(config.CommissionPct, config.BrokerageCap)
	slippage := NewFixedSlippage(config.SlippagePct)
	sizer := NewPositionSizer(strategy.Sizing, costs)
	rm := NewRiskManager(strategy.Risk)
	tracker := NewEquityTracker(config.InitialCapital, n-warmup)
	series := rules.NewSeries(bars)
	trades := make([]types.Trade, 0)

	atrPeriod := strategy.Risk.StopLoss.ATRPeriod
	if atrPeriod <= 0 {
		atrPeriod = defaultATRPeriod
	}
	last := n - 1

	closePosition := func(bar types.Bar, price decimal.Decimal, reason string) {
		p := rm.Close()
		exitCost := costs.Cost(price, p.Quantity)
		tracker.Credit(price.Mul(p.Quantity).Sub(exitCost))

		pnl := price.Sub(p.EntryPrice).Mul(p.Quantity).Sub(p.EntryCost).Sub(exitCost)
		invested := p.EntryPrice.Mul(p.Quantity)
		var pnlPct float64
		if invested.IsPositive() {
			pnlPct = pnl.Div(invested).Mul(hundred).InexactFloat64()
		}
		mfe, mae := p.Excursions()

		trades = append(trades, types.Trade{
			ID:           len(trades) + 1,
			EntryDate:    p.EntryDate,
			ExitDate:     bar.Date,
			EntryPrice:   p.EntryPrice,
			ExitPrice:    price,
			Quantity:     p.Quantity,
			Side:         p.Side,
			PnL:          pnl,
			PnLPct:       pnlPct,
			HoldingDays:  utils.CalendarDays(p.EntryDate, bar.Date),
			EntryReasons: p.EntryReasons,
			ExitReason:   reason,
			MFEPct:       mfe,
			MAEPct:       mae,
			Commission:   p.EntryCost.Add(exitCost),
		})
	}

	openQty := func() decimal.Decimal {
		if p := rm.Position(); p != nil {
			return p.Quantity
		}
		return decimal.Zero
	}

	for i := warmup; i < n; i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		bar := bars[i]

		// 1. exits, resting orders first
		if rm.IsOpen() {
			if exit, ok := rm.CheckExit(bar); ok {
				closePosition(bar, exit.Price, exit.Reason)
			} else if res := rules.Evaluate(strategy.Exit, series.Window(i)); res.Triggered {
				closePosition(bar, bar.Open, exitSignalPrefix+strings.Join(res.Reasons, ", "))
			}
		}
		if i == last && rm.IsOpen() {
			closePosition(bar, bar.Close, ExitEndOfPeriod)
		}

		// 2. entries fill on the next bar
		if !rm.IsOpen() && i < last {
			window := series.Window(i)
			if res := rules.Evaluate(strategy.Entry, window); res.Triggered {
				next := bars[i+1]
				fill := slippage.Apply(next.Open, true)
				investment := sizer.Investment(tracker.Cash(), trades)
				qty, cost := sizer.Quantity(investment, fill, tracker.Cash())

				if qty.IsPositive() {
					tracker.Mark(bar.Date, decimal.Zero, bar.Close)

					tracker.Debit(fill.Mul(qty).Add(cost))
					p, err := rm.Open(fill, qty, cost, next.Date, i+1, window.ATR(atrPeriod), res.Reasons)
					if err != nil {
						return nil, err
					}
					p.Track(next)

					i++
					if i == last {
						closePosition(next, next.Close, ExitEndOfPeriod)
					}
					tracker.Mark(next.Date, openQty(), next.Close)
					continue
				}
			}
		}

		tracker.Mark(bar.Date, openQty(), bar.Close)
	}

	return &Simulation{Trades: trades, EquityCurve: tracker.Curve(), Warmup: warmup}, nil
}
