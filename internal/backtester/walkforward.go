// Package backtester provides walk-forward analysis for strategy validation.
package backtester

import (
	"context"
	"errors"
	"fmt"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/atlas-desktop/strategy-verdict/pkg/utils"
	"go.uber.org/zap"
)

// ErrNoWindows is returned when the bar range is too short to split
var ErrNoWindows = errors.New("not enough bars for walk-forward windows")

// minSegmentBars is the shortest tradable in-sample or out-of-sample segment
const minSegmentBars = 20

// WalkForwardAnalyzer re-runs the engine on consecutive in-sample and
// out-of-sample segments of the post-warmup range
type WalkForwardAnalyzer struct {
	logger *zap.Logger
	engine *Engine
}

// NewWalkForwardAnalyzer creates a new walk-forward analyzer
func NewWalkForwardAnalyzer(logger *zap.Logger, engine *Engine) *WalkForwardAnalyzer {
	return &WalkForwardAnalyzer{logger: logger, engine: engine}
}

// segment is a half-open bar index range
type segment struct {
	start, end int
}

type windowConfig struct {
	inSample    segment
	outOfSample segment
}

// Run performs walk-forward analysis. Every segment keeps the full warmup of
// the parent run as lookback, so its first signal bar is the segment start.
func (wf *WalkForwardAnalyzer) Run(
	ctx context.Context,
	bars []types.Bar,
	strategy types.Strategy,
	config types.RunConfig,
) (*types.WalkForwardSummary, error) {
	warmup := WarmupIndex(len(bars))
	windows := generateWindows(warmup, len(bars), config.WalkForward.Windows, config.WalkForward.InSamplePct)
	if len(windows) == 0 {
		return nil, fmt.Errorf("%d bars, %d windows: %w", len(bars), config.WalkForward.Windows, ErrNoWindows)
	}

	wf.logger.Debug("Starting walk-forward analysis",
		zap.String("strategy", strategy.ID),
		zap.Int("windowCount", len(windows)),
	)

	summary := &types.WalkForwardSummary{Windows: make([]types.WalkForwardWindow, 0, len(windows))}
	var isTotal, oosTotal float64
	profitable := 0

	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		is, err := wf.runSegment(ctx, bars, strategy, config, w.inSample, warmup)
		if err != nil {
			return nil, fmt.Errorf("window %d in-sample: %w", i, err)
		}
		oos, err := wf.runSegment(ctx, bars, strategy, config, w.outOfSample, warmup)
		if err != nil {
			return nil, fmt.Errorf("window %d out-of-sample: %w", i, err)
		}

		summary.Windows = append(summary.Windows, types.WalkForwardWindow{
			Index:             i,
			InSampleStart:     bars[w.inSample.start].Date,
			InSampleEnd:       bars[w.inSample.end-1].Date,
			OutOfSampleStart:  bars[w.outOfSample.start].Date,
			OutOfSampleEnd:    bars[w.outOfSample.end-1].Date,
			InSampleReturnPct: is.TotalReturnPct,
			OutOfSampleReturn: oos.TotalReturnPct,
			OutOfSampleSharpe: oos.SharpeRatio,
			OutOfSampleTrades: oos.TotalTrades,
		})
		isTotal += is.TotalReturnPct
		oosTotal += oos.TotalReturnPct
		if oos.TotalReturnPct > 0 {
			profitable++
		}
	}

	summary.OutOfSampleReturn = oosTotal
	summary.ConsistencyPct = float64(profitable) / float64(len(summary.Windows)) * 100
	summary.Robustness = calculateRobustness(isTotal, oosTotal)

	wf.logger.Debug("Walk-forward analysis complete",
		zap.String("strategy", strategy.ID),
		zap.Float64("outOfSampleReturnPct", oosTotal),
		zap.Float64("robustness", summary.Robustness),
	)
	return summary, nil
}

func (wf *WalkForwardAnalyzer) runSegment(
	ctx context.Context,
	bars []types.Bar,
	strategy types.Strategy,
	config types.RunConfig,
	seg segment,
	lookback int,
) (types.Metrics, error) {
	from := seg.start - lookback
	if from < 0 {
		from = 0
	}
	sim, err := wf.engine.Simulate(ctx, bars[from:seg.end], strategy, config, seg.start-from)
	if err != nil {
		return types.Metrics{}, err
	}
	return CalculateMetrics(sim.Trades, sim.EquityCurve, config), nil
}

// generateWindows splits [warmup, n) into k consecutive windows, each divided
// into in-sample and out-of-sample parts by inSamplePct.
func generateWindows(warmup, n, k int, inSamplePct float64) []windowConfig {
	if k <= 0 {
		k = 4
	}
	if inSamplePct <= 0 || inSamplePct >= 1 {
		inSamplePct = 0.7
	}
	span := n - warmup
	size := span / k
	if size < 2*minSegmentBars {
		return nil
	}

	windows := make([]windowConfig, 0, k)
	for i := 0; i < k; i++ {
		start := warmup + i*size
		end := start + size
		if i == k-1 {
			end = n
		}
		split := start + int(float64(end-start)*inSamplePct)
		if split-start < minSegmentBars || end-split < minSegmentBars {
			continue
		}
		windows = append(windows, windowConfig{
			inSample:    segment{start: start, end: split},
			outOfSample: segment{start: split, end: end},
		})
	}
	return windows
}

// calculateRobustness is the walk-forward efficiency ratio, clamped to [0, 2]
func calculateRobustness(inSample, outOfSample float64) float64 {
	if inSample <= 0 {
		return 0
	}
	return utils.Clamp(outOfSample/inSample, 0, 2)
}
