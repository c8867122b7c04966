package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/atlas-desktop/strategy-verdict/internal/resilience"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"go.uber.org/zap"
)

// Lookup results reported to the Observer
const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// Observer receives lookup results, e.g. for metrics
type Observer interface {
	ObserveCache(result string)
}

// VerdictCache stores verdicts by request fingerprint. Backend failures are
// logged and treated as misses; they never fail the caller.
type VerdictCache struct {
	logger   *zap.Logger
	remote   Store
	local    *MemoryStore
	breaker  *resilience.Breaker
	ttl      time.Duration
	observer Observer
}

// NewVerdictCache creates a cache. remote may be nil, in which case only the
// in-memory store is used.
func NewVerdictCache(logger *zap.Logger, remote Store, ttl time.Duration) *VerdictCache {
	return &VerdictCache{
		logger:  logger.Named("cache"),
		remote:  remote,
		local:   NewMemoryStore(512),
		breaker: resilience.NewBreaker(logger, resilience.DefaultBreakerConfig("redis")),
		ttl:     ttl,
	}
}

// SetObserver attaches an observer; nil disables observation.
func (c *VerdictCache) SetObserver(o Observer) {
	c.observer = o
}

// Fingerprint is everything a verdict depends on.
type Fingerprint struct {
	Symbol     string
	Bars       []types.Bar
	Benchmark  []types.Bar
	Strategies []types.Strategy
	Summary    *types.SignalSummary
	Config     types.RunConfig
}

// Key hashes the full request: every bar and benchmark bar, the signal
// summary, the strategy definitions (order-insensitive) and the run config.
// The readable prefix carries the symbol, last bar date and strategy ids.
func Key(f Fingerprint) string {
	sorted := make([]types.Strategy, len(f.Strategies))
	copy(sorted, f.Strategies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	ids := make([]string, len(sorted))
	for i, s := range sorted {
		ids[i] = s.ID
	}

	h := sha256.New()
	writeBars(h, f.Bars)
	h.Write([]byte{'|'})
	writeBars(h, f.Benchmark)
	h.Write([]byte{'|'})
	if f.Summary != nil {
		summary, _ := json.Marshal(f.Summary)
		h.Write(summary)
	}
	h.Write([]byte{'|'})
	cfg, _ := json.Marshal(f.Config)
	h.Write(cfg)
	for _, s := range sorted {
		def, _ := json.Marshal(s)
		h.Write(def)
	}

	last := ""
	if len(f.Bars) > 0 {
		last = f.Bars[len(f.Bars)-1].Date.Format(time.RFC3339)
	}
	sum := hex.EncodeToString(h.Sum(nil))[:16]
	return strings.Join([]string{"verdict", strings.ToUpper(f.Symbol), last, strings.Join(ids, ","), sum}, ":")
}

func writeBars(w io.Writer, bars []types.Bar) {
	fmt.Fprintf(w, "%d;", len(bars))
	for _, b := range bars {
		fmt.Fprintf(w, "%d,%s,%s,%s,%s,%s;", b.Date.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume)
	}
}

// Get returns a cached verdict.
func (c *VerdictCache) Get(ctx context.Context, key string) (*types.UnifiedVerdict, bool) {
	body, ok, err := c.local.Get(ctx, key)
	if !ok && c.remote != nil {
		err = c.breaker.Do(func() error {
			var rerr error
			body, ok, rerr = c.remote.Get(ctx, key)
			return rerr
		})
		if err != nil {
			c.logger.Warn("Verdict cache read failed", zap.String("key", key), zap.Error(err))
			c.observe(ResultError)
			return nil, false
		}
	}
	if !ok {
		c.observe(ResultMiss)
		return nil, false
	}

	var v types.UnifiedVerdict
	if err := json.Unmarshal(body, &v); err != nil {
		c.logger.Warn("Discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = c.local.Delete(ctx, key)
		c.observe(ResultError)
		return nil, false
	}
	c.observe(ResultHit)
	return &v, true
}

// Set stores v locally and, when configured, in Redis.
func (c *VerdictCache) Set(ctx context.Context, key string, v *types.UnifiedVerdict) {
	body, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("Failed to encode verdict for cache", zap.Error(err))
		return
	}
	_ = c.local.Set(ctx, key, body, c.ttl)
	if c.remote == nil {
		return
	}
	if err := c.breaker.Do(func() error { return c.remote.Set(ctx, key, body, c.ttl) }); err != nil {
		c.logger.Warn("Verdict cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// BreakerState reports the Redis breaker state.
func (c *VerdictCache) BreakerState() string {
	return c.breaker.State()
}

func (c *VerdictCache) observe(result string) {
	if c.observer != nil {
		c.observer.ObserveCache(result)
	}
}
