// Package persistence stores backtest reports and verdicts in PostgreSQL.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-desktop/strategy-verdict/internal/resilience"
	"github.com/atlas-desktop/strategy-verdict/pkg/types"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Errors
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

const uniqueViolation = "23505"

// Schema creates the tables used by Repository
const Schema = `
CREATE TABLE IF NOT EXISTS backtest_reports (
	id               TEXT PRIMARY KEY,
	symbol           TEXT NOT NULL,
	strategy_id      TEXT NOT NULL,
	total_return_pct DOUBLE PRECISION NOT NULL,
	sharpe_ratio     DOUBLE PRECISION NOT NULL,
	total_trades     INTEGER NOT NULL,
	grade            TEXT NOT NULL,
	report           JSONB NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS backtest_reports_symbol_idx ON backtest_reports (symbol, created_at DESC);

CREATE TABLE IF NOT EXISTS verdicts (
	id              TEXT PRIMARY KEY,
	symbol          TEXT NOT NULL,
	action          TEXT NOT NULL,
	direction       TEXT NOT NULL,
	composite_score DOUBLE PRECISION NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	verdict         JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS verdicts_symbol_idx ON verdicts (symbol, created_at DESC);
`

// Config configures the connection pool
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// ReportSummary is one row of ListReports
type ReportSummary struct {
	ID             string    `db:"id" json:"id"`
	Symbol         string    `db:"symbol" json:"symbol"`
	StrategyID     string    `db:"strategy_id" json:"strategyId"`
	TotalReturnPct float64   `db:"total_return_pct" json:"totalReturnPct"`
	SharpeRatio    float64   `db:"sharpe_ratio" json:"sharpeRatio"`
	TotalTrades    int       `db:"total_trades" json:"totalTrades"`
	Grade          string    `db:"grade" json:"grade"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// Repository persists reports and verdicts. Every call goes through a circuit
// breaker; not-found lookups do not count as failures.
type Repository struct {
	db      *sqlx.DB
	logger  *zap.Logger
	timeout time.Duration
	breaker *resilience.Breaker
}

// Open connects to Postgres with the lib/pq driver and pings it.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// NewRepository creates a repository over db.
func NewRepository(logger *zap.Logger, db *sqlx.DB, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg := resilience.DefaultBreakerConfig("postgres")
	cfg.Benign = func(err error) bool { return errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) }
	return &Repository{
		db:      db,
		logger:  logger.Named("persistence"),
		timeout: timeout,
		breaker: resilience.NewBreaker(logger, cfg),
	}
}

// Migrate creates the schema if it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.breaker.Do(func() error {
		if _, err := r.db.ExecContext(ctx, Schema); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		return nil
	})
}

// SaveReport inserts a report; a repeated id returns ErrDuplicate.
func (r *Repository) SaveReport(ctx context.Context, report *types.BacktestReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO backtest_reports (id, symbol, strategy_id, total_return_pct, sharpe_ratio, total_trades, grade, report, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	return r.breaker.Do(func() error {
		_, err := r.db.ExecContext(ctx, query,
			report.ID, report.Symbol, report.Strategy.ID,
			report.Metrics.TotalReturnPct, report.Metrics.SharpeRatio, report.Metrics.TotalTrades,
			report.Viability.Grade, body, report.GeneratedAt)
		return insertError("report", err)
	})
}

// GetReport loads a report by id.
func (r *Repository) GetReport(ctx context.Context, id string) (*types.BacktestReport, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return resilience.Call(r.breaker, func() (*types.BacktestReport, error) {
		var body []byte
		err := r.db.QueryRowxContext(ctx, `SELECT report FROM backtest_reports WHERE id = $1`, id).Scan(&body)
		if err != nil {
			return nil, selectError("report", id, err)
		}
		var report types.BacktestReport
		if err := json.Unmarshal(body, &report); err != nil {
			return nil, fmt.Errorf("failed to decode report %s: %w", id, err)
		}
		return &report, nil
	})
}

// ListReports returns the newest report summaries for symbol; an empty
// symbol lists all.
func (r *Repository) ListReports(ctx context.Context, symbol string, limit int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, symbol, strategy_id, total_return_pct, sharpe_ratio, total_trades, grade, created_at
		FROM backtest_reports
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	return resilience.Call(r.breaker, func() ([]ReportSummary, error) {
		rows := make([]ReportSummary, 0)
		if err := r.db.SelectContext(ctx, &rows, query, symbol, limit); err != nil {
			return nil, fmt.Errorf("failed to list reports: %w", err)
		}
		return rows, nil
	})
}

// SaveVerdict inserts a verdict.
func (r *Repository) SaveVerdict(ctx context.Context, v *types.UnifiedVerdict) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO verdicts (id, symbol, action, direction, composite_score, confidence, verdict, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	return r.breaker.Do(func() error {
		_, err := r.db.ExecContext(ctx, query,
			v.ID, v.Symbol, string(v.Action.Action), string(v.Direction),
			v.CompositeScore, v.Confidence, body, v.GeneratedAt)
		return insertError("verdict", err)
	})
}

// LatestVerdict returns the newest verdict for symbol.
func (r *Repository) LatestVerdict(ctx context.Context, symbol string) (*types.UnifiedVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return resilience.Call(r.breaker, func() (*types.UnifiedVerdict, error) {
		var body []byte
		err := r.db.QueryRowxContext(ctx,
			`SELECT verdict FROM verdicts WHERE symbol = $1 ORDER BY created_at DESC LIMIT 1`, symbol).Scan(&body)
		if err != nil {
			return nil, selectError("verdict", symbol, err)
		}
		var v types.UnifiedVerdict
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("failed to decode verdict for %s: %w", symbol, err)
		}
		return &v, nil
	})
}

// Close closes the underlying pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

func insertError(kind string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", kind, ErrDuplicate)
	}
	return fmt.Errorf("failed to insert %s: %w", kind, err)
}

func selectError(kind, key string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", kind, key, err)
}
