package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var (
	_ Ledger  = (*MemoryLedger)(nil)
	_ Granter = (*MemoryLedger)(nil)
)

// Entry is one recorded balance movement.
type Entry struct {
	UserID    string
	Amount    int64 // negative for debits
	Reason    string
	Balance   int64
	CreatedAt time.Time
}

// MemoryLedger is an in-process ledger used by tests and the memory store mode.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  []Entry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]int64)}
}

// Grant adds credits to a user's balance.
func (l *MemoryLedger) Grant(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[userID] += amount
	l.record(userID, amount, reason)
	return l.balances[userID], nil
}

func (l *MemoryLedger) Debit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[userID] < amount {
		return l.balances[userID], ErrInsufficientCredits
	}

	l.balances[userID] -= amount
	l.record(userID, -amount, reason)
	return l.balances[userID], nil
}

func (l *MemoryLedger) Balance(ctx context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.balances[userID], nil
}

// Entries returns a copy of every movement recorded for the user.
func (l *MemoryLedger) Entries(userID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for _, e := range l.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (l *MemoryLedger) record(userID string, amount int64, reason string) {
	l.entries = append(l.entries, Entry{
		UserID:    userID,
		Amount:    amount,
		Reason:    reason,
		Balance:   l.balances[userID],
		CreatedAt: time.Now().UTC(),
	})
}
