package postgres

import (
	"context"
	"time"
)

// SessionStoreConfig holds store-specific configuration for the PostgreSQL session store.
// Pool configuration is handled separately via PoolConfig.
type SessionStoreConfig struct {
	// QueryTimeoutSeconds is the maximum time a single statement can run before timing out.
	// Default: 10 seconds
	// Set to a negative value to use context timeouts only (no additional timeout)
	QueryTimeoutSeconds int32
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *SessionStoreConfig) ApplyDefaults() {
	if c.QueryTimeoutSeconds == 0 {
		c.QueryTimeoutSeconds = 10 // 10 seconds
	}
}

func (c *SessionStoreConfig) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.QueryTimeoutSeconds < 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(c.QueryTimeoutSeconds)*time.Second)
}
