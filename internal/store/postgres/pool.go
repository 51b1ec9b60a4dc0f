package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PoolConfig sizes the connection pool shared by the session store and the
// migration runner.
type PoolConfig struct {
	// ConnString is a libpq URL or keyword/value string.
	ConnString string

	// Default: 20
	MaxConns int32
	// Default: 5
	MinConns int32

	// Default: 1h
	MaxConnLifetime time.Duration
	// Default: 30m
	MaxConnIdleTime time.Duration
	// Default: 1m
	HealthCheckPeriod time.Duration
	// Default: 10s
	ConnectTimeout time.Duration

	// ConnectAttempts bounds the startup ping while the database comes up. Default: 5
	ConnectAttempts uint

	// ApplicationName is reported in pg_stat_activity. Default: boostclear
	ApplicationName string
}

// Validate checks that the pool configuration is usable.
func (c *PoolConfig) Validate() error {
	if c.ConnString == "" {
		return errors.New("connection string is required")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min conns %d exceeds max conns %d", c.MinConns, c.MaxConns)
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *PoolConfig) ApplyDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 20
	}
	if c.MinConns == 0 {
		c.MinConns = min(5, c.MaxConns)
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = time.Hour
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = 30 * time.Minute
	}
	if c.HealthCheckPeriod == 0 {
		c.HealthCheckPeriod = time.Minute
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = 5
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "boostclear"
	}
}

func (c *PoolConfig) pgxConfig() (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(c.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = c.MaxConns
	poolConfig.MinConns = c.MinConns
	poolConfig.MaxConnLifetime = c.MaxConnLifetime
	poolConfig.MaxConnIdleTime = c.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = c.HealthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = c.ConnectTimeout

	// Window arithmetic and scans assume UTC timestamps.
	poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"
	poolConfig.ConnConfig.RuntimeParams["application_name"] = c.ApplicationName

	return poolConfig, nil
}

// NewPool creates a connection pool and waits for the database to answer a
// ping, retrying with exponential backoff up to ConnectAttempts times.
func NewPool(ctx context.Context, cfg *PoolConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, errors.New("pool config is required")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	poolConfig, err := cfg.pgxConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(cfg.ConnectAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retry_in", next).Msg("Database not reachable yet")
		}),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
