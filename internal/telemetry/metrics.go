// Package telemetry exposes Prometheus metrics for backtests and verdicts.
package telemetry

import (
	"net/http"
	"time"

	"github.com/atlas-desktop/strategy-verdict/internal/workers"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "verdict"

// Outcome labels
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics implements the engine and orchestrator observers.
type Metrics struct {
	registry *prometheus.Registry

	backtests        *prometheus.CounterVec
	trades           prometheus.Counter
	backtestDuration *prometheus.HistogramVec
	verdicts         *prometheus.CounterVec
	verdictDuration  prometheus.Histogram
	compositeScore   *prometheus.GaugeVec
	cacheRequests    *prometheus.CounterVec
}

// New registers the metrics on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		backtests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backtests_total",
			Help:      "Backtest runs by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		trades: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Closed trades across all backtests.",
		}),
		backtestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backtest_duration_seconds",
			Help:      "Wall time of one engine run.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"strategy"}),
		verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Verdicts produced by unified action.",
		}, []string{"action"}),
		verdictDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "orchestrator_duration_seconds",
			Help:      "Wall time of one multi-strategy verdict.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		compositeScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "composite_score",
			Help:      "Latest composite score per symbol.",
		}, []string{"symbol"}),
		cacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Verdict cache lookups by result.",
		}, []string{"result"}),
	}
}

// ObserveBacktest records one engine run.
func (m *Metrics) ObserveBacktest(strategyID string, duration time.Duration, trades int, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.backtests.WithLabelValues(strategyID, outcome).Inc()
	m.backtestDuration.WithLabelValues(strategyID).Observe(duration.Seconds())
	m.trades.Add(float64(trades))
}

// ObserveVerdict records one orchestrator run.
func (m *Metrics) ObserveVerdict(symbol string, action types.Action, score float64, duration time.Duration) {
	m.verdicts.WithLabelValues(string(action)).Inc()
	m.verdictDuration.Observe(duration.Seconds())
	m.compositeScore.WithLabelValues(symbol).Set(score)
}

// ObserveCache records a cache hit, miss or error.
func (m *Metrics) ObserveCache(result string) {
	m.cacheRequests.WithLabelValues(result).Inc()
}

// RegisterPool exposes the pool's queue depth and task counters.
func (m *Metrics) RegisterPool(name string, pool *workers.Pool) {
	f := promauto.With(m.registry)
	labels := prometheus.Labels{"pool": name}
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "pool_queue_length", Help: "Queued tasks.", ConstLabels: labels,
	}, func() float64 { return float64(pool.QueueLength()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Name: "pool_tasks_completed_total", Help: "Completed tasks.", ConstLabels: labels,
	}, func() float64 { return float64(pool.Stats().TasksCompleted) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Name: "pool_tasks_failed_total", Help: "Failed or timed out tasks.", ConstLabels: labels,
	}, func() float64 {
		s := pool.Stats()
		return float64(s.TasksFailed + s.TasksTimeout)
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
