package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/boostclear/internal/models"
	"github.com/wolfeidau/boostclear/internal/store"
)

var _ store.SessionStore = (*SessionStore)(nil)

const sessionColumns = `
	session_id, user_id, placement, locale,
	bid_amount_credits, auction_window_start, status,
	started_at, ends_at, metadata,
	created_at, updated_at
`

// SessionStore implements store.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *pgxpool.Pool
	cfg  SessionStoreConfig
}

// NewSessionStore creates a new PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool, cfg SessionStoreConfig) *SessionStore {
	cfg.ApplyDefaults()
	return &SessionStore{
		pool: pool,
		cfg:  cfg,
	}
}

// Create inserts a new session.
func (s *SessionStore) Create(ctx context.Context, session *models.BoostSession) error {
	query := `
		INSERT INTO boost_sessions (` + sessionColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	ctx, cancel := s.cfg.queryContext(ctx)
	defer cancel()

	_, err = s.pool.Exec(ctx, query,
		session.SessionID,
		session.UserID,
		string(session.Placement),
		string(session.Locale),
		session.BidAmountCredits,
		session.AuctionWindowStart,
		string(session.Status),
		session.StartedAt,
		session.EndsAt,
		metadata,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return mapPostgresError(fmt.Errorf("failed to create boost session: %w", err))
	}

	log.Debug().
		Str("session_id", session.SessionID.String()).
		Str("user_id", session.UserID).
		Time("window_start", session.AuctionWindowStart).
		Msg("Created boost session")

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.BoostSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM boost_sessions WHERE session_id = $1`

	ctx, cancel := s.cfg.queryContext(ctx)
	defer cancel()

	session, err := scanSession(s.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, mapPostgresError(fmt.Errorf("failed to get boost session: %w", err))
	}

	return session, nil
}

// FindOpenBid returns the pending or active session a user holds in a window.
func (s *SessionStore) FindOpenBid(ctx context.Context, key store.BidKey) (*models.BoostSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM boost_sessions
		WHERE user_id = $1
		  AND placement = $2
		  AND locale = $3
		  AND auction_window_start = $4
		  AND status IN ('pending', 'active')
		ORDER BY created_at ASC
		LIMIT 1
	`

	ctx, cancel := s.cfg.queryContext(ctx)
	defer cancel()

	session, err := scanSession(s.pool.QueryRow(ctx, query,
		key.UserID, string(key.Placement), string(key.Locale), key.WindowStart,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		return nil, mapPostgresError(fmt.Errorf("failed to find open bid: %w", err))
	}

	return session, nil
}

// ListPending returns the pending sessions of one window in clearing order.
func (s *SessionStore) ListPending(ctx context.Context, key store.WindowKey) ([]*models.BoostSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM boost_sessions
		WHERE locale = $1
		  AND placement = $2
		  AND auction_window_start = $3
		  AND status = 'pending'
		ORDER BY bid_amount_credits DESC, created_at ASC, session_id ASC
	`

	ctx, cancel := s.cfg.queryContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, string(key.Locale), string(key.Placement), key.WindowStart)
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to list pending sessions: %w", err))
	}
	defer rows.Close()

	var sessions []*models.BoostSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan boost session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to iterate pending sessions: %w", err))
	}

	return sessions, nil
}

// BulkUpdate applies each update as its own guarded statement so a failure on
// one session never rolls back or blocks the others. If ctx ends part way
// through, the updates not yet attempted are recorded as failed with the
// context error and the partial result is returned alongside it.
func (s *SessionStore) BulkUpdate(ctx context.Context, updates []store.SessionUpdate) (*store.BulkResult, error) {
	result := &store.BulkResult{}

	for i, update := range updates {
		if err := ctx.Err(); err != nil {
			for _, remaining := range updates[i:] {
				result.RecordFailure(remaining.SessionID, err)
			}
			log.Warn().
				Err(err).
				Int("applied", result.Applied).
				Int("abandoned", len(updates)-i).
				Msg("Bulk session update interrupted")
			return result, fmt.Errorf("bulk update interrupted after %d of %d updates: %w", i, len(updates), err)
		}

		if err := update.Validate(); err != nil {
			result.RecordFailure(update.SessionID, err)
			continue
		}

		if err := s.applyUpdate(ctx, update); err != nil {
			log.Warn().
				Err(err).
				Str("session_id", update.SessionID.String()).
				Str("kind", string(update.Kind)).
				Msg("Failed to apply session update")
			result.RecordFailure(update.SessionID, err)
			continue
		}

		result.Applied++
	}

	log.Debug().
		Int("applied", result.Applied).
		Int("failed", len(result.Failed)).
		Msg("Bulk session update finished")

	return result, nil
}

func (s *SessionStore) applyUpdate(ctx context.Context, update store.SessionUpdate) error {
	metadata, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	var (
		query string
		args  []any
	)

	switch update.Kind {
	case store.UpdateActivate:
		query = `
			UPDATE boost_sessions
			SET status = 'active', started_at = $3, ends_at = $4, metadata = $5, updated_at = $6
			WHERE session_id = $1 AND status = 'pending' AND auction_window_start = $2
		`
		args = []any{update.SessionID, update.ExpectedWindowStart, update.StartedAt, update.EndsAt, metadata, update.UpdatedAt}

	case store.UpdateRefund:
		query = `
			UPDATE boost_sessions
			SET status = 'refunded', metadata = $3, updated_at = $4
			WHERE session_id = $1 AND status = 'pending' AND auction_window_start = $2
		`
		args = []any{update.SessionID, update.ExpectedWindowStart, metadata, update.UpdatedAt}

	case store.UpdateRollover:
		query = `
			UPDATE boost_sessions
			SET auction_window_start = $3, metadata = $4, updated_at = $5
			WHERE session_id = $1 AND status = 'pending' AND auction_window_start = $2
		`
		args = []any{update.SessionID, update.ExpectedWindowStart, update.NextWindowStart, metadata, update.UpdatedAt}
	}

	ctx, cancel := s.cfg.queryContext(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapPostgresError(err)
	}

	if tag.RowsAffected() == 0 {
		return store.ErrSessionNotPending
	}

	return nil
}

func scanSession(row pgx.Row) (*models.BoostSession, error) {
	var (
		session   models.BoostSession
		placement string
		locale    string
		status    string
		metadata  []byte
	)

	err := row.Scan(
		&session.SessionID,
		&session.UserID,
		&placement,
		&locale,
		&session.BidAmountCredits,
		&session.AuctionWindowStart,
		&status,
		&session.StartedAt,
		&session.EndsAt,
		&metadata,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.Placement = models.Placement(placement)
	session.Locale = models.Locale(locale)
	session.Status = models.SessionStatus(status)

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &session.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session metadata: %w", err)
		}
	}

	// timestamptz scans back in the local zone
	session.AuctionWindowStart = session.AuctionWindowStart.UTC()
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()
	if session.StartedAt != nil {
		t := session.StartedAt.UTC()
		session.StartedAt = &t
	}
	if session.EndsAt != nil {
		t := session.EndsAt.UTC()
		session.EndsAt = &t
	}

	return &session, nil
}
