package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/boostclear/internal/ledger"
	"github.com/wolfeidau/boostclear/internal/models"
	"github.com/wolfeidau/boostclear/internal/store"
	"github.com/wolfeidau/boostclear/internal/store/memory"
)

// window 12:00-12:15 UTC, clearing due from 12:15
var (
	testWindow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testBidTime   = testWindow.Add(3 * time.Minute)
	testClearTime = testWindow.Add(16 * time.Minute)
)

type staticSettings struct {
	settings Settings
	err      error
}

func (s *staticSettings) Resolve(ctx context.Context, locale models.Locale, placement models.Placement, userKey string) (Settings, error) {
	if s.err != nil {
		return Settings{}, s.err
	}
	return s.settings, nil
}

func enabledSettings(maxWinners int) *staticSettings {
	s := DefaultSettings()
	s.Enabled = true
	s.MaxWinners = maxWinners
	return &staticSettings{settings: s}
}

type recordedEvent struct {
	name  string
	props map[string]any
}

type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (s *recordingSink) Emit(ctx context.Context, name string, props map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{name: name, props: props})
	return s.err
}

func (s *recordingSink) named(name string) []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedEvent
	for _, e := range s.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

// spyStore counts every call that reaches the wrapped store.
type spyStore struct {
	store.SessionStore

	mu     sync.Mutex
	reads  int
	writes int

	// beforeBulk runs ahead of BulkUpdate to simulate a concurrent writer.
	beforeBulk func()

	// bulk replaces the wrapped BulkUpdate when set.
	bulk func(ctx context.Context, updates []store.SessionUpdate) (*store.BulkResult, error)
}

func newSpyStore() *spyStore {
	return &spyStore{SessionStore: memory.NewSessionStore()}
}

func (s *spyStore) FindOpenBid(ctx context.Context, key store.BidKey) (*models.BoostSession, error) {
	s.count(&s.reads)
	return s.SessionStore.FindOpenBid(ctx, key)
}

func (s *spyStore) ListPending(ctx context.Context, key store.WindowKey) ([]*models.BoostSession, error) {
	s.count(&s.reads)
	return s.SessionStore.ListPending(ctx, key)
}

func (s *spyStore) Create(ctx context.Context, session *models.BoostSession) error {
	s.count(&s.writes)
	return s.SessionStore.Create(ctx, session)
}

func (s *spyStore) BulkUpdate(ctx context.Context, updates []store.SessionUpdate) (*store.BulkResult, error) {
	s.count(&s.writes)
	if s.beforeBulk != nil {
		s.beforeBulk()
	}
	if s.bulk != nil {
		return s.bulk(ctx, updates)
	}
	return s.SessionStore.BulkUpdate(ctx, updates)
}

func (s *spyStore) count(n *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*n++
}

func (s *spyStore) calls() (reads, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.writes
}

// faultyLedger fails debits for selected users with a given error.
type faultyLedger struct {
	*ledger.MemoryLedger
	failures map[string]error
	debits   []string
}

func newFaultyLedger() *faultyLedger {
	return &faultyLedger{MemoryLedger: ledger.NewMemoryLedger(), failures: map[string]error{}}
}

func (l *faultyLedger) Debit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	l.debits = append(l.debits, userID)
	if err, ok := l.failures[userID]; ok {
		return 0, err
	}
	return l.MemoryLedger.Debit(ctx, userID, amount, reason)
}

var errLedgerUnavailable = errors.New("ledger unavailable")

func grant(t *testing.T, l interface {
	Grant(context.Context, string, int64, string) (int64, error)
}, userID string, amount int64) {
	t.Helper()
	_, err := l.Grant(context.Background(), userID, amount, "test")
	require.NoError(t, err)
}

type harness struct {
	settings *staticSettings
	store    *spyStore
	ledger   *faultyLedger
	sink     *recordingSink
	bids     *BidService
	engine   *Engine
}

func newHarness(settings *staticSettings) *harness {
	h := &harness{
		settings: settings,
		store:    newSpyStore(),
		ledger:   newFaultyLedger(),
		sink:     &recordingSink{},
	}
	h.bids = NewBidService(h.settings, h.store, h.ledger, h.sink)
	h.engine = NewEngine(h.settings, h.store, h.ledger, h.sink)
	return h
}

func (h *harness) submit(t *testing.T, userID string, amount int64, autoRollover bool, at time.Time) *SubmitBidResult {
	t.Helper()
	res, err := h.bids.SubmitBid(context.Background(), SubmitBidInput{
		UserID:           userID,
		Placement:        models.PlacementDiscover,
		Locale:           models.LocaleEnUS,
		BidAmountCredits: amount,
		AutoRollover:     autoRollover,
		Now:              at,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) clear(t *testing.T, at time.Time) *ClearResult {
	t.Helper()
	res, err := h.engine.ClearWindow(context.Background(), ClearRequest{
		Locale:        models.LocaleEnUS,
		Placement:     models.PlacementDiscover,
		ReferenceTime: at,
	})
	require.NoError(t, err)
	return res
}

func (h *harness) session(t *testing.T, res *SubmitBidResult) *models.BoostSession {
	t.Helper()
	s, err := h.store.Get(context.Background(), res.SessionID)
	require.NoError(t, err)
	return s
}
