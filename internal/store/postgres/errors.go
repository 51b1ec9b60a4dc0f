package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfeidau/boostclear/internal/store"
)

const sessionsPrimaryKey = "boost_sessions_pkey"

// mapPostgresError turns driver errors into store sentinels where one exists
// and otherwise labels them by SQLSTATE class. The cause is always kept.
func mapPostgresError(err error) error {
	var pgErr *pgconn.PgError
	if err == nil || !errors.As(err, &pgErr) {
		return err
	}

	code := pgErr.Code

	switch {
	case code == pgerrcode.UniqueViolation && pgErr.ConstraintName == sessionsPrimaryKey:
		return fmt.Errorf("%w: %s", store.ErrSessionExists, pgErr.Detail)

	case pgerrcode.IsIntegrityConstraintViolation(code):
		return fmt.Errorf("constraint %s violated: %w", pgErr.ConstraintName, err)

	case pgerrcode.IsTransactionRollback(code):
		return fmt.Errorf("transaction conflict (retryable): %w", err)

	case code == pgerrcode.QueryCanceled:
		return fmt.Errorf("query canceled: %w", err)

	case pgerrcode.IsConnectionException(code), pgerrcode.IsOperatorIntervention(code):
		return fmt.Errorf("database unavailable: %w", err)

	case pgerrcode.IsInsufficientResources(code):
		return fmt.Errorf("database resource limit: %w", err)

	default:
		return fmt.Errorf("postgres error [%s]: %s: %w", code, pgErr.Message, err)
	}
}
