// Package service wires the data store, strategy catalog, engine and
// orchestrator together with the optional cache and report repository.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-verdict/internal/backtester"
	"github.com/atlas-desktop/strategy-verdict/internal/cache"
	"github.com/atlas-desktop/strategy-verdict/internal/catalog"
	"github.com/atlas-desktop/strategy-verdict/internal/data"
	"github.com/atlas-desktop/strategy-verdict/internal/orchestrator"
	"github.com/atlas-desktop/strategy-verdict/internal/persistence"
	"github.com/atlas-desktop/strategy-verdict/internal/rules"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Errors
var (
	ErrBadRequest     = errors.New("bad request")
	ErrReportNotFound = errors.New("report not found")
)

const recentReports = 256

// ReportStore persists reports and verdicts
type ReportStore interface {
	SaveReport(ctx context.Context, report *types.BacktestReport) error
	GetReport(ctx context.Context, id string) (*types.BacktestReport, error)
	SaveVerdict(ctx context.Context, v *types.UnifiedVerdict) error
}

// Overrides replaces individual run defaults; nil fields keep the default.
type Overrides struct {
	InitialCapital       *decimal.Decimal `json:"initialCapital,omitempty"`
	CommissionPct        *decimal.Decimal `json:"commissionPct,omitempty"`
	SlippagePct          *decimal.Decimal `json:"slippagePct,omitempty"`
	BrokerageCap         *decimal.Decimal `json:"brokerageCap,omitempty"`
	MonteCarloIterations *int             `json:"monteCarloIterations,omitempty"`
	Seed                 *int64           `json:"seed,omitempty"`
	WalkForward          *bool            `json:"walkForward,omitempty"`
	DateRange            string           `json:"dateRange,omitempty"`
}

// Apply returns base with the non-nil overrides applied.
func (o *Overrides) Apply(base types.RunConfig) types.RunConfig {
	if o == nil {
		return base
	}
	if o.InitialCapital != nil {
		base.InitialCapital = *o.InitialCapital
	}
	if o.CommissionPct != nil {
		base.CommissionPct = *o.CommissionPct
	}
	if o.SlippagePct != nil {
		base.SlippagePct = *o.SlippagePct
	}
	if o.BrokerageCap != nil {
		base.BrokerageCap = *o.BrokerageCap
	}
	if o.MonteCarloIterations != nil {
		base.MonteCarlo.Iterations = *o.MonteCarloIterations
	}
	if o.Seed != nil {
		base.MonteCarlo.Seed = *o.Seed
	}
	if o.WalkForward != nil {
		base.WalkForward.Enabled = *o.WalkForward
	}
	if o.DateRange != "" {
		base.DateRange = o.DateRange
	}
	return base
}

// BacktestRequest runs one strategy. Bars are loaded from the data store
// when not supplied; Strategy takes precedence over StrategyID.
type BacktestRequest struct {
	Symbol     string          `json:"symbol"`
	Bars       []types.Bar     `json:"bars,omitempty"`
	StrategyID string          `json:"strategyId,omitempty"`
	Strategy   *types.Strategy `json:"strategy,omitempty"`
	Benchmark  string          `json:"benchmark,omitempty"`
	Start      time.Time       `json:"start,omitempty"`
	End        time.Time       `json:"end,omitempty"`
	Config     *Overrides      `json:"config,omitempty"`
}

// VerdictRequest runs a set of strategies. An empty StrategyIDs and
// Strategies selects the whole catalog.
type VerdictRequest struct {
	Symbol      string               `json:"symbol"`
	Bars        []types.Bar          `json:"bars,omitempty"`
	StrategyIDs []string             `json:"strategyIds,omitempty"`
	Strategies  []types.Strategy     `json:"strategies,omitempty"`
	Summary     *types.SignalSummary `json:"summary,omitempty"`
	Benchmark   string               `json:"benchmark,omitempty"`
	Start       time.Time            `json:"start,omitempty"`
	End         time.Time            `json:"end,omitempty"`
	Config      *Overrides           `json:"config,omitempty"`
	NoCache     bool                 `json:"noCache,omitempty"`
}

// Service is the application facade used by the CLI and the HTTP API.
type Service struct {
	logger       *zap.Logger
	store        *data.Store
	catalog      *catalog.Registry
	engine       *backtester.Engine
	orchestrator *orchestrator.Orchestrator
	defaults     types.RunConfig

	cache   *cache.VerdictCache
	reports ReportStore

	mu     sync.RWMutex
	recent map[string]*types.BacktestReport
	order  []string
}

// New creates a service. cache and reports may be nil.
func New(
	logger *zap.Logger,
	store *data.Store,
	registry *catalog.Registry,
	engine *backtester.Engine,
	orch *orchestrator.Orchestrator,
	defaults types.RunConfig,
	verdicts *cache.VerdictCache,
	reports ReportStore,
) *Service {
	return &Service{
		logger:       logger.Named("service"),
		store:        store,
		catalog:      registry,
		engine:       engine,
		orchestrator: orch,
		defaults:     defaults,
		cache:        verdicts,
		reports:      reports,
		recent:       make(map[string]*types.BacktestReport),
	}
}

// Strategies lists the catalog.
func (s *Service) Strategies() []types.Strategy {
	return s.catalog.List()
}

// Symbols lists the symbols available in the data store.
func (s *Service) Symbols() ([]string, error) {
	return s.store.Symbols()
}

// Quality reports data quality for a stored symbol.
func (s *Service) Quality(ctx context.Context, symbol string) (*data.QualityReport, error) {
	return s.store.Quality(ctx, symbol)
}

// Backtest runs a single strategy and records the report.
func (s *Service) Backtest(ctx context.Context, req BacktestRequest) (*types.BacktestReport, error) {
	symbol := data.NormalizeSymbol(req.Symbol)
	if symbol == "" && len(req.Bars) == 0 {
		return nil, fmt.Errorf("symbol or bars required: %w", ErrBadRequest)
	}

	strategy, err := s.resolveStrategy(req)
	if err != nil {
		return nil, err
	}
	bars, err := s.bars(ctx, symbol, req.Bars, req.Start, req.End)
	if err != nil {
		return nil, err
	}
	benchmark := s.benchmark(ctx, req.Benchmark, req.Start, req.End)

	config := req.Config.Apply(s.defaults)
	config.Symbol = symbol

	report, err := s.engine.Run(ctx, bars, strategy, config, benchmark)
	if err != nil {
		return nil, badRequest(err)
	}

	s.remember(report)
	if s.reports != nil {
		if err := s.reports.SaveReport(ctx, report); err != nil {
			s.logger.Warn("Failed to persist report", zap.String("id", report.ID), zap.Error(err))
		}
	}
	return report, nil
}

// Report returns a report produced by this process, falling back to the
// repository.
func (s *Service) Report(ctx context.Context, id string) (*types.BacktestReport, error) {
	s.mu.RLock()
	report, ok := s.recent[id]
	s.mu.RUnlock()
	if ok {
		return report, nil
	}
	if s.reports == nil {
		return nil, fmt.Errorf("%s: %w", id, ErrReportNotFound)
	}
	report, err := s.reports.GetReport(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", id, ErrReportNotFound)
		}
		return nil, err
	}
	return report, nil
}

// Verdict runs the orchestrator, serving repeated identical requests from
// the cache. progress may be nil.
func (s *Service) Verdict(ctx context.Context, req VerdictRequest, progress func(orchestrator.Event)) (*types.UnifiedVerdict, error) {
	symbol := data.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol required: %w", ErrBadRequest)
	}

	strategies, err := s.resolveStrategies(req)
	if err != nil {
		return nil, err
	}
	bars, err := s.bars(ctx, symbol, req.Bars, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	summary := req.Summary
	if summary == nil {
		summary, err = s.store.LoadSummary(ctx, symbol)
		if err != nil {
			s.logger.Warn("Ignoring unreadable signal summary", zap.String("symbol", symbol), zap.Error(err))
			summary = nil
		}
	}

	config := req.Config.Apply(s.defaults)
	config.Symbol = symbol

	benchmark := s.benchmark(ctx, req.Benchmark, req.Start, req.End)

	key := ""
	if s.cache != nil && !req.NoCache {
		key = cache.Key(cache.Fingerprint{
			Symbol:     symbol,
			Bars:       bars,
			Benchmark:  benchmark,
			Strategies: strategies,
			Summary:    summary,
			Config:     config,
		})
		if v, ok := s.cache.Get(ctx, key); ok {
			if progress != nil {
				progress(orchestrator.Event{
					Type: orchestrator.EventVerdictReady, Symbol: symbol,
					Completed: len(strategies), Total: len(strategies), Verdict: v,
				})
			}
			return v, nil
		}
	}

	verdict, err := s.orchestrator.Run(ctx, orchestrator.Request{
		Symbol:     symbol,
		Bars:       bars,
		Strategies: strategies,
		Config:     config,
		Summary:    summary,
		Benchmark:  benchmark,
		Progress:   progress,
	})
	if err != nil {
		return nil, badRequest(err)
	}

	if key != "" {
		s.cache.Set(ctx, key, verdict)
	}
	if s.reports != nil {
		if err := s.reports.SaveVerdict(ctx, verdict); err != nil {
			s.logger.Warn("Failed to persist verdict", zap.String("id", verdict.ID), zap.Error(err))
		}
	}
	return verdict, nil
}

func (s *Service) resolveStrategy(req BacktestRequest) (types.Strategy, error) {
	if req.Strategy != nil {
		if err := req.Strategy.Validate(); err != nil {
			return types.Strategy{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		return *req.Strategy, nil
	}
	if req.StrategyID == "" {
		return types.Strategy{}, fmt.Errorf("strategy or strategyId required: %w", ErrBadRequest)
	}
	return s.catalog.Get(req.StrategyID)
}

func (s *Service) resolveStrategies(req VerdictRequest) ([]types.Strategy, error) {
	out := make([]types.Strategy, 0, len(req.Strategies)+len(req.StrategyIDs))
	out = append(out, req.Strategies...)
	if len(req.StrategyIDs) > 0 {
		selected, err := s.catalog.Select(req.StrategyIDs)
		if err != nil {
			return nil, err
		}
		out = append(out, selected...)
	}
	if len(out) == 0 {
		out = s.catalog.List()
	}
	return out, nil
}

func (s *Service) bars(ctx context.Context, symbol string, supplied []types.Bar, start, end time.Time) ([]types.Bar, error) {
	if len(supplied) > 0 {
		if err := types.ValidateBars(supplied); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		return supplied, nil
	}
	return s.store.LoadRange(ctx, symbol, start, end)
}

// benchmark bars are optional; a missing benchmark only skips the comparison.
func (s *Service) benchmark(ctx context.Context, symbol string, start, end time.Time) []types.Bar {
	if symbol == "" {
		return nil
	}
	bars, err := s.store.LoadRange(ctx, symbol, start, end)
	if err != nil {
		s.logger.Warn("Benchmark unavailable", zap.String("benchmark", symbol), zap.Error(err))
		return nil
	}
	return bars
}

func (s *Service) remember(report *types.BacktestReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent[report.ID] = report
	s.order = append(s.order, report.ID)
	if len(s.order) > recentReports {
		delete(s.recent, s.order[0])
		s.order = s.order[1:]
	}
}

// badRequest marks input validation failures so callers can map them to 400.
func badRequest(err error) error {
	switch {
	case errors.Is(err, types.ErrUnsortedBars),
		errors.Is(err, types.ErrInvalidConfig),
		errors.Is(err, types.ErrInvalidStrategy),
		errors.Is(err, rules.ErrUnknownIndicator),
		errors.Is(err, orchestrator.ErrNoStrategies),
		errors.Is(err, orchestrator.ErrNoBars):
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return err
}
