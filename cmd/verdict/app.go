package main

import (
	"context"
	"fmt"

	"github.com/atlas-desktop/strategy-verdict/internal/backtester"
	"github.com/atlas-desktop/strategy-verdict/internal/cache"
	"github.com/atlas-desktop/strategy-verdict/internal/catalog"
	"github.com/atlas-desktop/strategy-verdict/internal/config"
	"github.com/atlas-desktop/strategy-verdict/internal/data"
	"github.com/atlas-desktop/strategy-verdict/internal/orchestrator"
	"github.com/atlas-desktop/strategy-verdict/internal/persistence"
	"github.com/atlas-desktop/strategy-verdict/internal/service"
	"github.com/atlas-desktop/strategy-verdict/internal/telemetry"
	"github.com/atlas-desktop/strategy-verdict/internal/workers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app holds the wired components shared by every command.
type app struct {
	logger  *zap.Logger
	config  *config.Config
	store   *data.Store
	catalog *catalog.Registry
	pool    *workers.Pool
	metrics *telemetry.Metrics
	service *service.Service
	closers []func() error
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{logger: logger, config: cfg}

	store, err := data.NewStore(logger, cfg.Data.Dir)
	if err != nil {
		return nil, err
	}
	a.store = store

	a.catalog = catalog.NewRegistry(logger)
	if _, err := a.catalog.LoadDir(cfg.Data.StrategiesDir); err != nil {
		return nil, err
	}

	poolConfig := workers.DefaultPoolConfig("backtests")
	if cfg.Orchestrator.Workers > 0 {
		poolConfig.NumWorkers = cfg.Orchestrator.Workers
	}
	if cfg.Orchestrator.QueueSize > 0 {
		poolConfig.QueueSize = cfg.Orchestrator.QueueSize
	}
	poolConfig.TaskTimeout = cfg.Orchestrator.TaskTimeout
	a.pool = workers.NewPool(logger, poolConfig)
	a.pool.Start()
	a.closers = append(a.closers, a.pool.Stop)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = telemetry.New(reg)
	a.metrics.RegisterPool(poolConfig.Name, a.pool)

	engine := backtester.NewEngine(logger)
	engine.SetObserver(a.metrics)

	orch := orchestrator.NewOrchestrator(logger, engine, a.pool, orchestrator.Config{Timeout: cfg.Orchestrator.Timeout})
	orch.SetObserver(a.metrics)

	verdicts, err := a.verdictCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var reports service.ReportStore
	if cfg.Database.Enabled {
		repo, err := a.repository(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		reports = repo
	}

	a.service = service.New(logger, store, a.catalog, engine, orch, cfg.RunConfig(), verdicts, reports)
	return a, nil
}

// verdictCache uses Redis when enabled and reachable, memory otherwise.
func (a *app) verdictCache(ctx context.Context) (*cache.VerdictCache, error) {
	cfg := a.config.Cache
	if !cfg.Enabled {
		vc := cache.NewVerdictCache(a.logger, nil, cfg.TTL)
		vc.SetObserver(a.metrics)
		return vc, nil
	}

	rdb, err := cache.NewRedisClient(ctx, cache.RedisOptions{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err != nil {
		a.logger.Warn("Redis unavailable, caching verdicts in memory only", zap.String("addr", cfg.Addr), zap.Error(err))
		vc := cache.NewVerdictCache(a.logger, nil, cfg.TTL)
		vc.SetObserver(a.metrics)
		return vc, nil
	}
	a.closers = append(a.closers, rdb.Close)

	vc := cache.NewVerdictCache(a.logger, cache.NewRedisStore(rdb, "verdict:"), cfg.TTL)
	vc.SetObserver(a.metrics)
	return vc, nil
}

func (a *app) repository(ctx context.Context) (*persistence.Repository, error) {
	cfg := a.config.Database
	db, err := persistence.Open(ctx, persistence.Config{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	repo := persistence.NewRepository(a.logger, db, 0)
	a.closers = append(a.closers, repo.Close)

	if err := repo.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate report schema: %w", err)
	}
	return repo, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Shutdown step failed", zap.Error(err))
		}
	}
	a.closers = nil
}
