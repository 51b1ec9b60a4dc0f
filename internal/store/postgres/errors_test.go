package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/boostclear/internal/store"
)

func TestMapPostgresError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		require.NoError(t, mapPostgresError(nil))
	})

	t.Run("non postgres error passes through", func(t *testing.T) {
		err := errors.New("boom")
		require.Equal(t, err, mapPostgresError(err))
	})

	t.Run("primary key violation", func(t *testing.T) {
		err := mapPostgresError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "boost_sessions_pkey"})
		require.ErrorIs(t, err, store.ErrSessionExists)
	})

	t.Run("other unique violation", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "schema_migrations_pkey"}
		err := mapPostgresError(pgErr)
		require.NotErrorIs(t, err, store.ErrSessionExists)
		require.ErrorAs(t, err, &pgErr)
	})

	t.Run("check violation keeps cause", func(t *testing.T) {
		pgErr := &pgconn.PgError{Code: pgerrcode.CheckViolation, ConstraintName: "boost_sessions_bid_amount_credits_check"}
		err := mapPostgresError(pgErr)
		require.ErrorContains(t, err, "constraint boost_sessions_bid_amount_credits_check violated")
		require.ErrorAs(t, err, &pgErr)
	})

	tests := []struct {
		code string
		want string
	}{
		{code: pgerrcode.SerializationFailure, want: "retryable"},
		{code: pgerrcode.DeadlockDetected, want: "retryable"},
		{code: pgerrcode.QueryCanceled, want: "query canceled"},
		{code: pgerrcode.AdminShutdown, want: "database unavailable"},
		{code: pgerrcode.ConnectionFailure, want: "database unavailable"},
		{code: pgerrcode.TooManyConnections, want: "resource limit"},
		{code: pgerrcode.UndefinedTable, want: "postgres error [42P01]"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			pgErr := &pgconn.PgError{Code: tt.code}
			err := mapPostgresError(pgErr)
			require.ErrorContains(t, err, tt.want)
			require.ErrorAs(t, err, &pgErr)
		})
	}
}

func TestSessionStoreConfigDefaults(t *testing.T) {
	cfg := SessionStoreConfig{}
	cfg.ApplyDefaults()
	require.Equal(t, int32(10), cfg.QueryTimeoutSeconds)

	disabled := SessionStoreConfig{QueryTimeoutSeconds: -1}
	disabled.ApplyDefaults()
	require.Equal(t, int32(-1), disabled.QueryTimeoutSeconds)
}
