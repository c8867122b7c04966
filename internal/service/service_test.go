package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/strategy-verdict/internal/backtester"
	"github.com/atlas-desktop/strategy-verdict/internal/cache"
	"github.com/atlas-desktop/strategy-verdict/internal/catalog"
	"github.com/atlas-desktop/strategy-verdict/internal/data"
	"github.com/atlas-desktop/strategy-verdict/internal/orchestrator"
	"github.com/atlas-desktop/strategy-verdict/internal/persistence"
	"github.com/atlas-desktop/strategy-verdict/internal/service"
	"github.com/atlas-desktop/strategy-verdict/internal/workers"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryReports struct {
	mu       sync.Mutex
	reports  map[string]*types.BacktestReport
	verdicts []*types.UnifiedVerdict
}

func newMemoryReports() *memoryReports {
	return &memoryReports{reports: make(map[string]*types.BacktestReport)}
}

func (m *memoryReports) SaveReport(_ context.Context, r *types.BacktestReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = r
	return nil
}

func (m *memoryReports) GetReport(_ context.Context, id string) (*types.BacktestReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return r, nil
}

func (m *memoryReports) SaveVerdict(_ context.Context, v *types.UnifiedVerdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts = append(m.verdicts, v)
	return nil
}

func bars(n int) []types.Bar {
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	out := make([]types.Bar, n)
	for i := range out {
		p := decimal.NewFromFloat(100 + float64(i%20))
		out[i] = types.Bar{
			Date:   start.AddDate(0, 0, i),
			Open:   p,
			High:   p.Add(decimal.NewFromInt(1)),
			Low:    p.Sub(decimal.NewFromInt(1)),
			Close:  p,
			Volume: decimal.NewFromInt(5000),
		}
	}
	return out
}

func closeAbove(id string, v float64) types.Strategy {
	return types.Strategy{
		ID:     id,
		Name:   id,
		Entry:  types.RuleSet{Rules: []types.Rule{{Left: types.Operand{Indicator: "close"}, Condition: types.ConditionAbove, Value: v}}},
		Exit:   types.RuleSet{Rules: []types.Rule{{Left: types.Operand{Indicator: "close"}, Condition: types.ConditionBelow, Value: v}}},
		Sizing: types.Sizing{Mode: types.SizingPercentOfEquity, Value: 50},
	}
}

func newService(t *testing.T, reports service.ReportStore) (*service.Service, *data.Store) {
	t.Helper()
	logger := zap.NewNop()

	store, err := data.NewStore(logger, t.TempDir())
	require.NoError(t, err)

	cfg := workers.DefaultPoolConfig("service-test")
	cfg.NumWorkers = 2
	pool := workers.NewPool(logger, cfg)
	pool.Start()
	t.Cleanup(func() { _ = pool.Stop() })

	engine := backtester.NewEngine(logger)
	orch := orchestrator.NewOrchestrator(logger, engine, pool, orchestrator.DefaultConfig())

	defaults := types.DefaultRunConfig()
	defaults.MonteCarlo.Iterations = 50
	defaults.MonteCarlo.Seed = 3

	svc := service.New(logger, store, catalog.NewRegistry(logger), engine, orch, defaults,
		cache.NewVerdictCache(logger, nil, time.Minute), reports)
	return svc, store
}

func TestBacktestRecordsReport(t *testing.T) {
	reports := newMemoryReports()
	svc, _ := newService(t, reports)

	s := closeAbove("above_105", 105)
	report, err := svc.Backtest(context.Background(), service.BacktestRequest{
		Symbol:   "test",
		Bars:     bars(300),
		Strategy: &s,
	})
	require.NoError(t, err)
	assert.Equal(t, "TEST", report.Symbol)
	assert.Equal(t, "above_105", report.Strategy.ID)

	got, err := svc.Report(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Same(t, report, got)
	assert.Contains(t, reports.reports, report.ID)
}

func TestBacktestRequestErrors(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.Backtest(ctx, service.BacktestRequest{Symbol: "TEST", Bars: bars(10)})
	assert.ErrorIs(t, err, service.ErrBadRequest)

	_, err = svc.Backtest(ctx, service.BacktestRequest{Symbol: "TEST", Bars: bars(10), StrategyID: "nope"})
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = svc.Backtest(ctx, service.BacktestRequest{Symbol: "MISSING", StrategyID: "momentum"})
	assert.ErrorIs(t, err, data.ErrSymbolNotFound)

	unsorted := bars(10)
	unsorted[3], unsorted[4] = unsorted[4], unsorted[3]
	_, err = svc.Backtest(ctx, service.BacktestRequest{Symbol: "TEST", Bars: unsorted, StrategyID: "momentum"})
	assert.ErrorIs(t, err, service.ErrBadRequest)
	assert.ErrorIs(t, err, types.ErrUnsortedBars)

	bad := closeAbove("bad", 1)
	bad.Sizing.Mode = "martingale"
	_, err = svc.Backtest(ctx, service.BacktestRequest{Symbol: "TEST", Bars: bars(10), Strategy: &bad})
	assert.ErrorIs(t, err, types.ErrInvalidStrategy)
}

func TestReportNotFound(t *testing.T) {
	svc, _ := newService(t, newMemoryReports())
	_, err := svc.Report(context.Background(), "missing")
	assert.ErrorIs(t, err, service.ErrReportNotFound)

	svc, _ = newService(t, nil)
	_, err = svc.Report(context.Background(), "missing")
	assert.ErrorIs(t, err, service.ErrReportNotFound)
}

func TestVerdictIsCached(t *testing.T) {
	reports := newMemoryReports()
	svc, _ := newService(t, reports)

	req := service.VerdictRequest{
		Symbol:     "TEST",
		Bars:       bars(300),
		Strategies: []types.Strategy{closeAbove("a", 105), closeAbove("b", 110)},
	}

	first, err := svc.Verdict(context.Background(), req, nil)
	require.NoError(t, err)
	require.Len(t, first.Strategies, 2)

	events := make([]orchestrator.Event, 0)
	second, err := svc.Verdict(context.Background(), req, func(ev orchestrator.Event) { events = append(events, ev) })
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.Len(t, events, 1)
	assert.Equal(t, orchestrator.EventVerdictReady, events[0].Type)
	assert.Len(t, reports.verdicts, 1)

	req.NoCache = true
	third, err := svc.Verdict(context.Background(), req, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Len(t, reports.verdicts, 2)
}

func TestVerdictCacheSeparatesInputs(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	history := bars(300)

	req := func(b []types.Bar, score float64, bias types.Bias) service.VerdictRequest {
		return service.VerdictRequest{
			Symbol:     "TEST",
			Bars:       b,
			Strategies: []types.Strategy{closeAbove("a", 105)},
			Summary: &types.SignalSummary{
				CandlestickBias:  bias,
				CandlestickScore: score,
				OverallBias:      bias,
				OverallScore:     score,
			},
		}
	}

	bull, err := svc.Verdict(ctx, req(history, 100, types.BiasBullish), nil)
	require.NoError(t, err)
	bear, err := svc.Verdict(ctx, req(history, -100, types.BiasBearish), nil)
	require.NoError(t, err)
	assert.NotEqual(t, bull.ID, bear.ID)
	assert.Greater(t, bull.CompositeScore, bear.CompositeScore)

	shorter, err := svc.Verdict(ctx, req(history[150:], 100, types.BiasBullish), nil)
	require.NoError(t, err)
	assert.NotEqual(t, bull.ID, shorter.ID)

	again, err := svc.Verdict(ctx, req(history, 100, types.BiasBullish), nil)
	require.NoError(t, err)
	assert.Equal(t, bull.ID, again.ID)
}

func TestVerdictFromStoredBars(t *testing.T) {
	svc, store := newService(t, nil)
	require.NoError(t, store.SaveBars("AAPL", bars(300)))

	v, err := svc.Verdict(context.Background(), service.VerdictRequest{
		Symbol:      "aapl",
		StrategyIDs: []string{"momentum", "mean_reversion"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", v.Symbol)
	assert.Len(t, v.Strategies, 2)
	assert.False(t, v.Components.SummaryAvailable)

	symbols, err := svc.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, symbols)
}

func TestVerdictRequiresSymbol(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Verdict(context.Background(), service.VerdictRequest{Bars: bars(10)}, nil)
	assert.ErrorIs(t, err, service.ErrBadRequest)
}

func TestOverridesApply(t *testing.T) {
	base := types.DefaultRunConfig()
	capital := decimal.NewFromInt(5000)
	iterations := 10
	off := false

	got := (&service.Overrides{InitialCapital: &capital, MonteCarloIterations: &iterations, WalkForward: &off}).Apply(base)
	assert.True(t, got.InitialCapital.Equal(capital))
	assert.Equal(t, 10, got.MonteCarlo.Iterations)
	assert.False(t, got.WalkForward.Enabled)
	assert.True(t, got.CommissionPct.Equal(base.CommissionPct))

	var none *service.Overrides
	assert.Equal(t, base, none.Apply(base))
}
