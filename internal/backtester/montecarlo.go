// Package backtester provides Monte Carlo simulation for strategy validation.
package backtester

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/atlas-desktop/strategy-verdict/pkg/utils"
	"go.uber.org/zap"
)

const (
	defaultMCIterations = 1000
	defaultRuinPct      = 50.0
	defaultMCWorkers    = 4
)

// MonteCarloSimulator resamples realized trade P&L to estimate the drawdown distribution
type MonteCarloSimulator struct {
	logger *zap.Logger
	config types.MonteCarloConfig
}

// NewMonteCarloSimulator creates a new Monte Carlo simulator
func NewMonteCarloSimulator(logger *zap.Logger, config types.MonteCarloConfig) *MonteCarloSimulator {
	if config.Iterations <= 0 {
		config.Iterations = defaultMCIterations
	}
	if config.RuinThresholdPct <= 0 {
		config.RuinThresholdPct = defaultRuinPct
	}
	if config.Workers <= 0 {
		config.Workers = defaultMCWorkers
	}
	if config.Seed == 0 {
		config.Seed = time.Now().UnixNano()
	}
	return &MonteCarloSimulator{logger: logger, config: config}
}

type pathResult struct {
	maxDrawdownPct float64
	finalEquity    float64
	ruined         bool
}

// Run bootstraps the P&L sequence with replacement and replays each sample from
// capital. Worker w draws trials w, w+W, w+2W... from an RNG seeded with seed+w,
// so results for a given seed and worker count are reproducible.
func (mc *MonteCarloSimulator) Run(pnls []float64, capital float64) types.MonteCarloSummary {
	if len(pnls) == 0 || capital <= 0 {
		return types.MonteCarloSummary{}
	}

	iterations := mc.config.Iterations
	workers := mc.config.Workers
	if workers > iterations {
		workers = iterations
	}
	ruinLevel := capital * mc.config.RuinThresholdPct / 100

	results := make([]pathResult, iterations)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			// Each worker gets its own RNG
			rng := rand.New(rand.NewSource(mc.config.Seed + int64(workerID)))
			sample := make([]float64, len(pnls))
			for trial := workerID; trial < iterations; trial += workers {
				for i := range sample {
					sample[i] = pnls[rng.Intn(len(pnls))]
				}
				results[trial] = simulatePath(sample, capital, ruinLevel)
			}
		}(w)
	}
	wg.Wait()

	drawdowns := make([]float64, iterations)
	finals := make([]float64, iterations)
	ruined := 0
	for i, r := range results {
		drawdowns[i] = r.maxDrawdownPct
		finals[i] = r.finalEquity
		if r.ruined {
			ruined++
		}
	}
	sort.Float64s(drawdowns)
	sort.Float64s(finals)

	summary := types.MonteCarloSummary{
		Iterations:           iterations,
		MedianMaxDrawdownPct: utils.Percentile(drawdowns, 50),
		P95MaxDrawdownPct:    utils.Percentile(drawdowns, 95),
		RiskOfRuinPct:        float64(ruined) / float64(iterations) * 100,
		MedianFinalEquity:    utils.Percentile(finals, 50),
		P5FinalEquity:        utils.Percentile(finals, 5),
		P95FinalEquity:       utils.Percentile(finals, 95),
	}

	mc.logger.Debug("Monte Carlo simulation complete",
		zap.Int("iterations", iterations),
		zap.Int("trades", len(pnls)),
		zap.Float64("medianMaxDrawdownPct", summary.MedianMaxDrawdownPct),
		zap.Float64("p95MaxDrawdownPct", summary.P95MaxDrawdownPct),
		zap.Float64("riskOfRuinPct", summary.RiskOfRuinPct),
	)

	return summary
}

// simulatePath replays one sample and records its drawdown and ruin status
func simulatePath(pnls []float64, capital, ruinLevel float64) pathResult {
	equity := capital
	peak := capital
	res := pathResult{}

	for _, pnl := range pnls {
		equity += pnl
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak * 100; dd > res.maxDrawdownPct {
				res.maxDrawdownPct = dd
			}
		}
		if equity < ruinLevel {
			res.ruined = true
		}
	}

	res.finalEquity = equity
	return res
}
