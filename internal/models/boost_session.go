package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a boost session.
// Transitions are one-way: pending -> active or pending -> refunded.
type SessionStatus string

const (
	SessionStatusPending  SessionStatus = "pending"
	SessionStatusActive   SessionStatus = "active"
	SessionStatusRefunded SessionStatus = "refunded"
)

// Refund causes recorded in SessionMetadata.RefundReason.
const (
	RefundReasonInsufficientCredits = "insufficient_credits"
	RefundReasonLostAuction         = "lost_auction"
)

// SessionMetadata is the free-form bag stored alongside a session.
type SessionMetadata struct {
	AutoRollover  bool   `json:"autoRollover"`
	RolloverCount int    `json:"rolloverCount"`
	RefundReason  string `json:"refundReason,omitempty"`

	// BalanceAfterDebit is the ledger balance reported by the winning debit.
	BalanceAfterDebit *int64 `json:"balanceAfterDebit,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// BoostSession is one bid and, if it wins, the boost it paid for.
// Sessions are never deleted; they are the audit trail of the auction.
type BoostSession struct {
	SessionID uuid.UUID // UUIDv7, immutable
	UserID    string

	Placement Placement
	Locale    Locale

	BidAmountCredits int64

	// AuctionWindowStart only moves forward, and only by rollover.
	AuctionWindowStart time.Time
	Status             SessionStatus

	// Set only when the session becomes active.
	StartedAt *time.Time
	EndsAt    *time.Time

	Metadata SessionMetadata

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOpen returns true if the session still holds its slot in its window.
func (s *BoostSession) IsOpen() bool {
	return s.Status == SessionStatusPending || s.Status == SessionStatusActive
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *BoostSession) Clone() *BoostSession {
	clone := *s
	if s.StartedAt != nil {
		t := *s.StartedAt
		clone.StartedAt = &t
	}
	if s.EndsAt != nil {
		t := *s.EndsAt
		clone.EndsAt = &t
	}
	if s.Metadata.BalanceAfterDebit != nil {
		b := *s.Metadata.BalanceAfterDebit
		clone.Metadata.BalanceAfterDebit = &b
	}
	if s.Metadata.Extra != nil {
		clone.Metadata.Extra = make(map[string]string, len(s.Metadata.Extra))
		for k, v := range s.Metadata.Extra {
			clone.Metadata.Extra[k] = v
		}
	}
	return &clone
}
