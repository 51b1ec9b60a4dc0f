package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/boostclear/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrSessionNotFound   = errors.New("boost session not found")
	ErrSessionExists     = errors.New("boost session already exists")
	ErrSessionNotPending = errors.New("boost session is no longer pending for this window")
)

// WindowKey identifies the set of sessions competing in one auction window.
type WindowKey struct {
	Locale      models.Locale
	Placement   models.Placement
	WindowStart time.Time
}

// BidKey identifies the single open bid a user may hold in one window.
type BidKey struct {
	UserID      string
	Placement   models.Placement
	Locale      models.Locale
	WindowStart time.Time
}

// SessionStore defines the interface for boost session storage.
//
// Implementations provide atomic single-document writes only; BulkUpdate is an
// unordered batch where a failure on one document never blocks the others.
type SessionStore interface {
	Create(ctx context.Context, session *models.BoostSession) error
	Get(ctx context.Context, sessionID uuid.UUID) (*models.BoostSession, error)

	// FindOpenBid returns the pending or active session for the key, or
	// ErrSessionNotFound.
	FindOpenBid(ctx context.Context, key BidKey) (*models.BoostSession, error)

	// ListPending returns pending sessions in the window ordered by
	// SortForClearing.
	ListPending(ctx context.Context, key WindowKey) ([]*models.BoostSession, error)

	BulkUpdate(ctx context.Context, updates []SessionUpdate) (*BulkResult, error)
}

// UpdateKind is the settlement decision applied to one pending session.
type UpdateKind string

const (
	UpdateActivate UpdateKind = "activate"
	UpdateRefund   UpdateKind = "refund"
	UpdateRollover UpdateKind = "rollover"
)

// SessionUpdate is one document operation in a settlement bulk write.
// Every update is guarded: it only applies while the session is still pending
// in ExpectedWindowStart.
type SessionUpdate struct {
	SessionID           uuid.UUID
	Kind                UpdateKind
	ExpectedWindowStart time.Time

	// activate
	StartedAt time.Time
	EndsAt    time.Time

	// rollover
	NextWindowStart time.Time

	Metadata  models.SessionMetadata
	UpdatedAt time.Time
}

// Validate checks the update carries the fields its kind needs.
func (u SessionUpdate) Validate() error {
	switch u.Kind {
	case UpdateActivate:
		if u.StartedAt.IsZero() || !u.EndsAt.After(u.StartedAt) {
			return fmt.Errorf("activate %s: invalid boost interval", u.SessionID)
		}
	case UpdateRollover:
		if !u.NextWindowStart.After(u.ExpectedWindowStart) {
			return fmt.Errorf("rollover %s: next window must be later than current", u.SessionID)
		}
	case UpdateRefund:
	default:
		return fmt.Errorf("unknown update kind %q", u.Kind)
	}
	return nil
}

// Apply returns a copy of the session with the update applied.
func (u SessionUpdate) Apply(session *models.BoostSession) *models.BoostSession {
	next := session.Clone()
	next.Metadata = u.Metadata
	next.UpdatedAt = u.UpdatedAt

	switch u.Kind {
	case UpdateActivate:
		startedAt, endsAt := u.StartedAt, u.EndsAt
		next.Status = models.SessionStatusActive
		next.StartedAt = &startedAt
		next.EndsAt = &endsAt
	case UpdateRefund:
		next.Status = models.SessionStatusRefunded
	case UpdateRollover:
		next.AuctionWindowStart = u.NextWindowStart
	}
	return next
}

// BulkResult reports the outcome of an unordered bulk write.
type BulkResult struct {
	Applied int
	Failed  map[uuid.UUID]error
}

// Err joins the per-document failures, or returns nil when every update applied.
func (r *BulkResult) Err() error {
	if r == nil || len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for id, err := range r.Failed {
		errs = append(errs, fmt.Errorf("session %s: %w", id, err))
	}
	return errors.Join(errs...)
}

// RecordFailure marks one document as failed.
func (r *BulkResult) RecordFailure(id uuid.UUID, err error) {
	if r.Failed == nil {
		r.Failed = make(map[uuid.UUID]error)
	}
	r.Failed[id] = err
}

// SortForClearing orders sessions by bid amount descending, then creation time
// ascending. Session IDs are UUIDv7 so they break any remaining tie in
// submission order.
func SortForClearing(sessions []*models.BoostSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if a.BidAmountCredits != b.BidAmountCredits {
			return a.BidAmountCredits > b.BidAmountCredits
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.SessionID.String() < b.SessionID.String()
	})
}
