package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pos-terminal/internal/config"
	"pos-terminal/internal/logger"
)

// DB is the intake service's PostgreSQL pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logger.Logger
}

// RetryPolicy bounds how long startup waits for PostgreSQL. The n-th
// failed attempt is followed by a wait of n*Step.
type RetryPolicy struct {
	Attempts int
	Step     time.Duration
}

// DefaultRetry gives a database starting alongside the service about
// twenty seconds.
var DefaultRetry = RetryPolicy{Attempts: 5, Step: 2 * time.Second}

// Delay is the wait after the given failed attempt
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return time.Duration(attempt) * p.Step
}

// New connects with the service configuration and DefaultRetry
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	return Connect(ctx, cfg.DatabaseURL(), log, DefaultRetry)
}

// Connect opens a pool for url and pings it. Pool creation is lazy, so
// only a successful ping counts as connected. Waits end early when ctx
// is cancelled.
func Connect(ctx context.Context, url string, log *logger.Logger, policy RetryPolicy) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnIdleTime = 15 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	if policy.Attempts < 1 {
		policy.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		pool, err := openPool(ctx, poolConfig)
		if err == nil {
			return &DB{Pool: pool, logger: log}, nil
		}
		lastErr = err
		if attempt == policy.Attempts {
			break
		}

		wait := policy.Delay(attempt)
		log.Warn("db_connect_retry", "PostgreSQL not reachable yet", "startup", map[string]interface{}{
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("database connect cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", policy.Attempts, lastErr)
}

func openPool(ctx context.Context, poolConfig *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Ping tests the database connection
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Begin starts a new transaction
func (db *DB) Begin(ctx context.Context) (pgx.Tx, error) {
	return db.Pool.Begin(ctx)
}

// Exec executes a query without returning any rows
func (db *DB) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := db.Pool.Exec(ctx, sql, args...)
	return err
}

// Query executes a query that returns rows
func (db *DB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return db.Pool.Query(ctx, sql, args...)
}

// QueryRow executes a query that is expected to return at most one row
func (db *DB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.Pool.QueryRow(ctx, sql, args...)
}
