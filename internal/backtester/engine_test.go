// Package backtester_test provides tests for the backtesting engine.
package backtester_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/atlas-desktop/strategy-verdict/internal/backtester"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func runEngine(t *testing.T, bars []types.Bar, strategy types.Strategy, cfg types.RunConfig) *types.BacktestReport {
	t.Helper()
	engine := backtester.NewEngine(zap.NewNop())
	report, err := engine.Run(context.Background(), bars, strategy, cfg, nil)
	if err != nil {
		t.Fatalf("Backtest failed: %v", err)
	}
	return report
}

func TestWarmupIndex(t *testing.T) {
	cases := map[int]int{0: 100, 150: 100, 2000: 100, 2500: 125, 10000: 500}
	for n, want := range cases {
		if got := backtester.WarmupIndex(n); got != want {
			t.Errorf("WarmupIndex(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestRunTooFewBarsIsEmpty(t *testing.T) {
	cfg := testConfig()
	report := runEngine(t, flatBars(100, 100), thresholdStrategy(99), cfg)

	if !report.Empty {
		t.Error("expected empty report")
	}
	if len(report.Trades) != 0 || len(report.EquityCurve) != 0 {
		t.Errorf("expected no trades and no curve, got %d trades %d points", len(report.Trades), len(report.EquityCurve))
	}
	if !report.Metrics.FinalEquity.Equal(cfg.InitialCapital) {
		t.Errorf("final equity = %s, want %s", report.Metrics.FinalEquity, cfg.InitialCapital)
	}
	if report.Viability.Viable {
		t.Error("empty report must not be viable")
	}
}

func TestRunRejectsInvalidInput(t *testing.T) {
	engine := backtester.NewEngine(zap.NewNop())
	ctx := context.Background()

	bars := flatBars(150, 100)
	bars[5].Date = bars[4].Date
	if _, err := engine.Run(ctx, bars, thresholdStrategy(101), testConfig(), nil); !errors.Is(err, types.ErrUnsortedBars) {
		t.Errorf("unsorted bars: err = %v", err)
	}

	noID := thresholdStrategy(101)
	noID.ID = ""
	if _, err := engine.Run(ctx, flatBars(150, 100), noID, testConfig(), nil); !errors.Is(err, types.ErrInvalidStrategy) {
		t.Errorf("missing id: err = %v", err)
	}

	cfg := testConfig()
	cfg.InitialCapital = decimal.Zero
	if _, err := engine.Run(ctx, flatBars(150, 100), thresholdStrategy(101), cfg, nil); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("zero capital: err = %v", err)
	}
}

func TestEquityCurveStartsAfterWarmup(t *testing.T) {
	for _, n := range []int{150, 300, 2500} {
		bars := waveBars(n)
		report := runEngine(t, bars, waveStrategy(), testConfig())
		want := n - backtester.WarmupIndex(n)
		if len(report.EquityCurve) != want {
			t.Errorf("n=%d: curve length = %d, want %d", n, len(report.EquityCurve), want)
		}
		if !report.EquityCurve[0].Date.Equal(bars[backtester.WarmupIndex(n)].Date) {
			t.Errorf("n=%d: curve starts %s", n, report.EquityCurve[0].Date)
		}
	}
}

func TestPnLReconcilesWithEquity(t *testing.T) {
	cfg := testConfig()
	cfg.SlippagePct = decimal.NewFromFloat(0.05)
	report := runEngine(t, waveBars(600), waveStrategy(), cfg)

	if len(report.Trades) < 5 {
		t.Fatalf("expected several trades, got %d", len(report.Trades))
	}
	sum := decimal.Zero
	for _, tr := range report.Trades {
		sum = sum.Add(tr.PnL)
	}
	final := report.EquityCurve[len(report.EquityCurve)-1].Equity
	if !sum.Equal(final.Sub(cfg.InitialCapital)) {
		t.Errorf("sum of P&L %s != final equity %s - capital %s", sum, final, cfg.InitialCapital)
	}
	if !report.Metrics.FinalEquity.Equal(final) {
		t.Errorf("metrics final equity %s != curve %s", report.Metrics.FinalEquity, final)
	}
}

func TestAtMostOnePositionAtATime(t *testing.T) {
	report := runEngine(t, waveBars(600), waveStrategy(), testConfig())
	for i, tr := range report.Trades {
		if tr.ExitDate.Before(tr.EntryDate) {
			t.Errorf("trade %d exits before it enters", tr.ID)
		}
		if i > 0 && !tr.EntryDate.After(report.Trades[i-1].ExitDate) {
			t.Errorf("trade %d entered %s before trade %d exited %s",
				tr.ID, tr.EntryDate, report.Trades[i-1].ID, report.Trades[i-1].ExitDate)
		}
	}
}

func TestFutureBarsDoNotChangeEarlierTrades(t *testing.T) {
	engine := backtester.NewEngine(zap.NewNop())
	ctx := context.Background()
	bars := waveBars(600)
	warmup := backtester.WarmupIndex(len(bars))

	base, err := engine.Simulate(ctx, bars, waveStrategy(), testConfig(), warmup)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	const k = 400
	spiked := make([]types.Bar, len(bars))
	copy(spiked, bars)
	spiked[k].High = d(1000)
	spiked[k].Close = d(900)
	other, err := engine.Simulate(ctx, spiked, waveStrategy(), testConfig(), warmup)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	cutoff := bars[k].Date
	before := func(trades []types.Trade) []types.Trade {
		out := []types.Trade{}
		for _, tr := range trades {
			if tr.ExitDate.Before(cutoff) {
				out = append(out, tr)
			}
		}
		return out
	}
	a, b := before(base.Trades), before(other.Trades)
	if len(a) == 0 {
		t.Fatal("expected trades before the spike")
	}
	if len(a) != len(b) {
		t.Fatalf("trade count before spike changed: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].EntryPrice.Equal(b[i].EntryPrice) || !a[i].ExitPrice.Equal(b[i].ExitPrice) || !a[i].PnL.Equal(b[i].PnL) {
			t.Errorf("trade %d changed: %+v vs %+v", a[i].ID, a[i], b[i])
		}
	}
	for i := 0; i < k-warmup; i++ {
		if !base.EquityCurve[i].Equity.Equal(other.EquityCurve[i].Equity) {
			t.Fatalf("equity at %s changed", base.EquityCurve[i].Date)
		}
	}
}

// signalBars builds 150 flat bars at 100 with an entry signal at bar 120,
// a fill at the open of bar 121 (101) and a flat bar 122.
func signalBars() []types.Bar {
	bars := flatBars(150, 100)
	setBar(bars, 120, 100, 101.2, 99.8, 101)
	setBar(bars, 121, 101, 101.5, 100.5, 101)
	return bars
}

func TestStopLossGapFillsAtOpen(t *testing.T) {
	bars := signalBars()
	setBar(bars, 123, 94, 95, 93, 94)
	s := thresholdStrategy(100.5)
	s.Risk.StopLoss = types.StopLoss{Type: types.StopFixedPct, Value: 5}

	report := runEngine(t, bars, s, testConfig())
	if len(report.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(report.Trades))
	}
	tr := report.Trades[0]
	if !tr.EntryPrice.Equal(d(101)) || !tr.EntryDate.Equal(bars[121].Date) {
		t.Errorf("entry %s on %s, want 101 on %s", tr.EntryPrice, tr.EntryDate, bars[121].Date)
	}
	if tr.ExitReason != backtester.ExitStopLoss {
		t.Errorf("exit reason = %q", tr.ExitReason)
	}
	if !tr.ExitPrice.Equal(d(94)) {
		t.Errorf("exit price = %s, want gap open 94", tr.ExitPrice)
	}
	if tr.EntryReasons[0] != "Close above 100.50 (101.00)" {
		t.Errorf("entry reasons = %v", tr.EntryReasons)
	}
}

func TestStopLossFillsAtLevel(t *testing.T) {
	bars := signalBars()
	setBar(bars, 123, 99, 99.5, 95, 96)
	s := thresholdStrategy(100.5)
	s.Risk.StopLoss = types.StopLoss{Type: types.StopFixedPct, Value: 5}

	tr := runEngine(t, bars, s, testConfig()).Trades[0]
	if !tr.ExitPrice.Equal(d(95.95)) {
		t.Errorf("exit price = %s, want 95.95", tr.ExitPrice)
	}
	if tr.PnL.IsPositive() {
		t.Errorf("stopped trade P&L should be negative, got %s", tr.PnL)
	}
}

func TestTakeProfit(t *testing.T) {
	cases := []struct {
		name string
		open float64
		want float64
	}{
		{"intrabar", 105, 111.1},
		{"gap up", 115, 115},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bars := signalBars()
			setBar(bars, 123, tc.open, 116, 104, 100)
			s := thresholdStrategy(100.5)
			s.Risk.TakeProfit = types.TakeProfit{Type: types.TakeProfitFixedPct, Value: 10}

			tr := runEngine(t, bars, s, testConfig()).Trades[0]
			if tr.ExitReason != backtester.ExitTakeProfit {
				t.Errorf("exit reason = %q", tr.ExitReason)
			}
			if !tr.ExitPrice.Equal(d(tc.want)) {
				t.Errorf("exit price = %s, want %v", tr.ExitPrice, tc.want)
			}
		})
	}
}

func TestExitSignalFillsAtOpen(t *testing.T) {
	bars := signalBars()
	setBar(bars, 123, 99.5, 100, 98, 98.5)
	s := thresholdStrategy(100.5)
	s.Exit = types.RuleSet{Rules: []types.Rule{closeVs(types.ConditionBelow, 99)}}

	tr := runEngine(t, bars, s, testConfig()).Trades[0]
	if !strings.HasPrefix(tr.ExitReason, "Exit Signal: ") {
		t.Errorf("exit reason = %q", tr.ExitReason)
	}
	if !tr.ExitPrice.Equal(d(99.5)) || !tr.ExitDate.Equal(bars[123].Date) {
		t.Errorf("exit %s on %s", tr.ExitPrice, tr.ExitDate)
	}
}

func TestOpenPositionClosedAtEndOfPeriod(t *testing.T) {
	bars := signalBars()
	report := runEngine(t, bars, thresholdStrategy(100.5), testConfig())
	if len(report.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(report.Trades))
	}
	tr := report.Trades[0]
	if tr.ExitReason != backtester.ExitEndOfPeriod {
		t.Errorf("exit reason = %q", tr.ExitReason)
	}
	if !tr.ExitDate.Equal(bars[149].Date) || !tr.ExitPrice.Equal(bars[149].Close) {
		t.Errorf("exit %s on %s", tr.ExitPrice, tr.ExitDate)
	}
	if tr.HoldingDays != 28 {
		t.Errorf("holding days = %d, want 28", tr.HoldingDays)
	}
}

func TestSignalOnPenultimateBarClosesImmediately(t *testing.T) {
	bars := flatBars(150, 100)
	setBar(bars, 148, 100, 101.2, 99.8, 101)
	report := runEngine(t, bars, thresholdStrategy(100.5), testConfig())

	if len(report.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(report.Trades))
	}
	tr := report.Trades[0]
	if !tr.EntryDate.Equal(bars[149].Date) || !tr.ExitDate.Equal(bars[149].Date) {
		t.Errorf("trade %s -> %s, want both on last bar", tr.EntryDate, tr.ExitDate)
	}
	if tr.ExitReason != backtester.ExitEndOfPeriod || tr.HoldingDays != 0 {
		t.Errorf("unexpected trade %+v", tr)
	}
	if len(report.EquityCurve) != 50 {
		t.Errorf("curve length = %d", len(report.EquityCurve))
	}
}

func TestRunDerivedSections(t *testing.T) {
	cfg := testConfig()
	cfg.WalkForward.Enabled = true
	bars := waveBars(600)
	engine := backtester.NewEngine(zap.NewNop())
	report, err := engine.Run(context.Background(), bars, waveStrategy(), cfg, bars)
	if err != nil {
		t.Fatalf("Backtest failed: %v", err)
	}

	if report.ID == "" || report.Symbol != cfg.Symbol {
		t.Errorf("unexpected identity %q %q", report.ID, report.Symbol)
	}
	mc := report.MonteCarlo
	if mc.Iterations != 200 {
		t.Errorf("MC iterations = %d", mc.Iterations)
	}
	if mc.MedianMaxDrawdownPct > mc.P95MaxDrawdownPct {
		t.Errorf("MC median %.2f > p95 %.2f", mc.MedianMaxDrawdownPct, mc.P95MaxDrawdownPct)
	}
	if len(report.MonthlyReturns) == 0 {
		t.Error("expected monthly returns")
	}
	if report.Benchmark == nil || len(report.Benchmark.Curve) != len(report.EquityCurve) {
		t.Error("expected benchmark over the curve span")
	}
	if report.WalkForward == nil || len(report.WalkForward.Windows) != 4 {
		t.Fatalf("walk-forward = %+v", report.WalkForward)
	}
	for _, w := range report.WalkForward.Windows {
		if !w.OutOfSampleStart.After(w.InSampleEnd) {
			t.Errorf("window %d out-of-sample overlaps in-sample", w.Index)
		}
	}
	if g := report.Viability.Grade; g == "" {
		t.Error("expected a viability grade")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := backtester.NewEngine(zap.NewNop())
	if _, err := engine.Run(ctx, waveBars(600), waveStrategy(), testConfig(), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

type recordingObserver struct {
	strategies []string
	trades     []int
	errs       []error
}

func (r *recordingObserver) ObserveBacktest(id string, _ time.Duration, trades int, err error) {
	r.strategies = append(r.strategies, id)
	r.trades = append(r.trades, trades)
	r.errs = append(r.errs, err)
}

func TestObserverSeesEveryRun(t *testing.T) {
	obs := &recordingObserver{}
	engine := backtester.NewEngine(zap.NewNop())
	engine.SetObserver(obs)

	report, err := engine.Run(context.Background(), signalBars(), thresholdStrategy(100.5), testConfig(), nil)
	if err != nil {
		t.Fatalf("Backtest failed: %v", err)
	}
	bad := flatBars(150, 100)
	bad[3].Date = bad[2].Date
	_, _ = engine.Run(context.Background(), bad, thresholdStrategy(100.5), testConfig(), nil)

	if len(obs.strategies) != 2 {
		t.Fatalf("observed %d runs, want 2", len(obs.strategies))
	}
	if obs.trades[0] != len(report.Trades) || obs.errs[0] != nil {
		t.Errorf("first observation = %d trades, err %v", obs.trades[0], obs.errs[0])
	}
	if obs.errs[1] == nil {
		t.Error("second observation should carry the validation error")
	}
}
