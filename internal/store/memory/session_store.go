package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/wolfeidau/boostclear/internal/models"
	"github.com/wolfeidau/boostclear/internal/store"
)

var _ store.SessionStore = (*SessionStore)(nil)

// SessionStore implements store.SessionStore using in-memory storage.
// Data is lost on restart; it backs tests and --store-type=memory.
type SessionStore struct {
	mu sync.RWMutex

	sessions map[uuid.UUID]*models.BoostSession // session_id -> BoostSession
	order    []uuid.UUID                        // insertion order
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]*models.BoostSession),
	}
}

// Create inserts a new session.
func (s *SessionStore) Create(ctx context.Context, session *models.BoostSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.SessionID]; exists {
		return store.ErrSessionExists
	}

	// Clone to avoid external modifications
	s.sessions[session.SessionID] = session.Clone()
	s.order = append(s.order, session.SessionID)

	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.BoostSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, store.ErrSessionNotFound
	}

	return session.Clone(), nil
}

// FindOpenBid returns the pending or active session a user holds in a window.
func (s *SessionStore) FindOpenBid(ctx context.Context, key store.BidKey) (*models.BoostSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		session := s.sessions[id]
		if session.UserID == key.UserID &&
			session.Placement == key.Placement &&
			session.Locale == key.Locale &&
			session.AuctionWindowStart.Equal(key.WindowStart) &&
			session.IsOpen() {
			return session.Clone(), nil
		}
	}

	return nil, store.ErrSessionNotFound
}

// ListPending returns the pending sessions of one window in clearing order.
func (s *SessionStore) ListPending(ctx context.Context, key store.WindowKey) ([]*models.BoostSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*models.BoostSession
	for _, id := range s.order {
		session := s.sessions[id]
		if session.Status == models.SessionStatusPending &&
			session.Locale == key.Locale &&
			session.Placement == key.Placement &&
			session.AuctionWindowStart.Equal(key.WindowStart) {
			pending = append(pending, session.Clone())
		}
	}

	store.SortForClearing(pending)

	return pending, nil
}

// BulkUpdate applies each update independently. An update whose session has
// already left the expected window's pending set is recorded as
// store.ErrSessionNotPending and the rest still apply.
func (s *SessionStore) BulkUpdate(ctx context.Context, updates []store.SessionUpdate) (*store.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &store.BulkResult{}
	for _, update := range updates {
		if err := update.Validate(); err != nil {
			result.RecordFailure(update.SessionID, err)
			continue
		}

		session, exists := s.sessions[update.SessionID]
		if !exists {
			result.RecordFailure(update.SessionID, store.ErrSessionNotFound)
			continue
		}

		if session.Status != models.SessionStatusPending || !session.AuctionWindowStart.Equal(update.ExpectedWindowStart) {
			result.RecordFailure(update.SessionID, store.ErrSessionNotPending)
			continue
		}

		s.sessions[update.SessionID] = update.Apply(session)
		result.Applied++
	}

	return result, nil
}
