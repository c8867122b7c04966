// Package config loads service configuration from defaults, an optional YAML
// file and VERDICT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix is prepended to every environment override, e.g. VERDICT_SERVER_PORT
const EnvPrefix = "VERDICT"

// Config is the full service configuration
type Config struct {
	Server       ServerConfig           `mapstructure:"server"`
	Engine       EngineConfig           `mapstructure:"engine"`
	MonteCarlo   types.MonteCarloConfig `mapstructure:"montecarlo"`
	Orchestrator OrchestratorConfig     `mapstructure:"orchestrator"`
	Data         DataConfig             `mapstructure:"data"`
	Database     DatabaseConfig         `mapstructure:"database"`
	Cache        CacheConfig            `mapstructure:"cache"`
	Log          LogConfig              `mapstructure:"log"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second per client, 0 disables
	RateBurst       int           `mapstructure:"rate_burst"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// EngineConfig holds run defaults; request fields override them
type EngineConfig struct {
	InitialCapital float64                 `mapstructure:"initial_capital"`
	CommissionPct  float64                 `mapstructure:"commission_pct"`
	SlippagePct    float64                 `mapstructure:"slippage_pct"`
	BrokerageCap   float64                 `mapstructure:"brokerage_cap"`
	RiskFreeRate   float64                 `mapstructure:"risk_free_rate"`
	WalkForward    types.WalkForwardConfig `mapstructure:"walkforward"`
}

// OrchestratorConfig bounds verdict runs
type OrchestratorConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// DataConfig locates bar files and strategy definitions
type DataConfig struct {
	Dir           string `mapstructure:"dir"`
	StrategiesDir string `mapstructure:"strategies_dir"`
}

// DatabaseConfig configures the Postgres report repository
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig configures the verdict cache
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

func setDefaults(v *viper.Viper) {
	run := types.DefaultRunConfig()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 3*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)

	v.SetDefault("engine.initial_capital", run.InitialCapital.InexactFloat64())
	v.SetDefault("engine.commission_pct", run.CommissionPct.InexactFloat64())
	v.SetDefault("engine.slippage_pct", run.SlippagePct.InexactFloat64())
	v.SetDefault("engine.brokerage_cap", run.BrokerageCap.InexactFloat64())
	v.SetDefault("engine.risk_free_rate", run.RiskFreeRate)
	v.SetDefault("engine.walkforward.enabled", true)
	v.SetDefault("engine.walkforward.windows", run.WalkForward.Windows)
	v.SetDefault("engine.walkforward.in_sample_pct", run.WalkForward.InSamplePct)

	v.SetDefault("montecarlo.iterations", run.MonteCarlo.Iterations)
	v.SetDefault("montecarlo.ruin_threshold_pct", run.MonteCarlo.RuinThresholdPct)
	v.SetDefault("montecarlo.seed", 0)
	v.SetDefault("montecarlo.workers", 0)

	v.SetDefault("orchestrator.timeout", 2*time.Minute)
	v.SetDefault("orchestrator.workers", 0)
	v.SetDefault("orchestrator.queue_size", 256)
	v.SetDefault("orchestrator.task_timeout", time.Minute)

	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.strategies_dir", "./strategies")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.dsn", "postgres://localhost:5432/verdict?sslmode=disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 15*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads .env (if present), then the YAML file at path (if non-empty),
// then VERDICT_* overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with no file or environment applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks ranges that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range: %w", c.Server.Port, ErrInvalidConfig)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server rate limit must be non-negative: %w", ErrInvalidConfig)
	}
	if c.Orchestrator.Timeout <= 0 {
		return fmt.Errorf("orchestrator.timeout must be positive: %w", ErrInvalidConfig)
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when the database is enabled: %w", ErrInvalidConfig)
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required when the cache is enabled: %w", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q: %w", c.Log.Format, ErrInvalidConfig)
	}
	if err := c.RunConfig().Validate(); err != nil {
		return fmt.Errorf("engine: %v: %w", err, ErrInvalidConfig)
	}
	return nil
}

// RunConfig converts the engine and Monte Carlo sections into run defaults.
func (c *Config) RunConfig() types.RunConfig {
	return types.RunConfig{
		InitialCapital: decimal.NewFromFloat(c.Engine.InitialCapital),
		CommissionPct:  decimal.NewFromFloat(c.Engine.CommissionPct),
		SlippagePct:    decimal.NewFromFloat(c.Engine.SlippagePct),
		BrokerageCap:   decimal.NewFromFloat(c.Engine.BrokerageCap),
		RiskFreeRate:   c.Engine.RiskFreeRate,
		MonteCarlo:     c.MonteCarlo,
		WalkForward:    c.Engine.WalkForward,
	}
}
