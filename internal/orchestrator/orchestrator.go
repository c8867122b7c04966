// Package orchestrator runs a strategy catalog over one symbol and reconciles
// the per-strategy backtests into a single verdict.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/strategy-verdict/internal/backtester"
	"github.com/atlas-desktop/strategy-verdict/internal/rules"
	"github.com/atlas-desktop/strategy-verdict/internal/workers"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"go.uber.org/zap"
)

// Errors
var (
	ErrNoStrategies = errors.New("no strategies to evaluate")
	ErrNoBars       = errors.New("no bars to evaluate")
)

// Progress event types
const (
	EventStrategyComplete = "strategy_complete"
	EventVerdictReady     = "verdict_ready"
)

// Event reports progress of one verdict run
type Event struct {
	Type       string                `json:"type"`
	Symbol     string                `json:"symbol"`
	StrategyID string                `json:"strategyId,omitempty"`
	Completed  int                   `json:"completed"`
	Total      int                   `json:"total"`
	Error      string                `json:"error,omitempty"`
	Verdict    *types.UnifiedVerdict `json:"verdict,omitempty"`
}

// Config configures the orchestrator.
type Config struct {
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{Timeout: 2 * time.Minute}
}

// Observer receives verdict outcomes, e.g. for metrics
type Observer interface {
	ObserveVerdict(symbol string, action types.Action, score float64, duration time.Duration)
}

// Request is one verdict run.
type Request struct {
	Symbol     string
	Bars       []types.Bar
	Strategies []types.Strategy
	Config     types.RunConfig
	Summary    *types.SignalSummary
	Benchmark  []types.Bar
	// Progress, when set, is called from worker goroutines
	Progress func(Event)
}

// Orchestrator coordinates concurrent backtests and reconciliation.
type Orchestrator struct {
	logger   *zap.Logger
	config   Config
	engine   *backtester.Engine
	pool     *workers.Pool
	observer Observer
}

// NewOrchestrator creates a new orchestrator. The pool must be started.
func NewOrchestrator(logger *zap.Logger, engine *backtester.Engine, pool *workers.Pool, config Config) *Orchestrator {
	return &Orchestrator{
		logger: logger.Named("orchestrator"),
		config: config,
		engine: engine,
		pool:   pool,
	}
}

// SetObserver attaches an observer; nil disables observation.
func (o *Orchestrator) SetObserver(obs Observer) {
	o.observer = obs
}

// Run backtests every strategy concurrently, then ranks and reconciles them.
// A failing strategy is excluded; the call fails only when none survive or
// the configured timeout expires.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*types.UnifiedVerdict, error) {
	start := time.Now()
	if len(req.Strategies) == 0 {
		return nil, ErrNoStrategies
	}
	if len(req.Bars) == 0 {
		return nil, fmt.Errorf("%s: %w", req.Symbol, ErrNoBars)
	}
	if err := types.ValidateBars(req.Bars); err != nil {
		return nil, err
	}
	if req.Config.Symbol == "" {
		req.Config.Symbol = req.Symbol
	}

	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}

	n := len(req.Strategies)
	series := rules.NewSeries(req.Bars)
	slots := make([]types.StrategyResult, n)
	var completed atomic.Int32

	errs := o.pool.RunAll(ctx, n, func(ctx context.Context, i int) error {
		s := req.Strategies[i]
		report, err := o.engine.Run(ctx, req.Bars, s, req.Config, req.Benchmark)
		if err == nil {
			slots[i] = types.StrategyResult{
				Strategy: s,
				Report:   report,
				Signal:   DetectSignal(series, s),
			}
		}
		if req.Progress != nil {
			ev := Event{
				Type:       EventStrategyComplete,
				Symbol:     req.Symbol,
				StrategyID: s.ID,
				Completed:  int(completed.Add(1)),
				Total:      n,
			}
			if err != nil {
				ev.Error = err.Error()
			}
			req.Progress(ev)
		}
		return err
	})

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("verdict for %s: %w", req.Symbol, err)
	}

	results := make([]types.StrategyResult, 0, n)
	excluded := make([]types.ExcludedStrategy, 0)
	for i, err := range errs {
		if err != nil {
			o.logger.Warn("Strategy excluded from verdict",
				zap.String("symbol", req.Symbol),
				zap.String("strategy", req.Strategies[i].ID),
				zap.Error(err),
			)
			excluded = append(excluded, types.ExcludedStrategy{ID: req.Strategies[i].ID, Reason: exclusionReason(err)})
			continue
		}
		results = append(results, slots[i])
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("verdict for %s: all %d strategies excluded: %w", req.Symbol, n, ErrNoStrategies)
	}

	verdict := Reconcile(req.Symbol, req.Bars, results, req.Summary)
	verdict.Excluded = excluded

	o.logger.Info("Verdict ready",
		zap.String("symbol", req.Symbol),
		zap.String("action", string(verdict.Action.Action)),
		zap.Float64("compositeScore", verdict.CompositeScore),
		zap.Int("strategies", len(results)),
		zap.Int("excluded", len(excluded)),
		zap.Duration("duration", time.Since(start)),
	)
	if o.observer != nil {
		o.observer.ObserveVerdict(req.Symbol, verdict.Action.Action, verdict.CompositeScore, time.Since(start))
	}
	if req.Progress != nil {
		req.Progress(Event{Type: EventVerdictReady, Symbol: req.Symbol, Completed: n, Total: n, Verdict: verdict})
	}
	return verdict, nil
}

func exclusionReason(err error) string {
	var pe *workers.PanicError
	if errors.As(err, &pe) {
		return fmt.Sprintf("panic: %v", pe.Recovered)
	}
	return err.Error()
}
