// Package ledger defines the credit ledger port and its adapters. The ledger
// owns the authoritative balance; debits are atomic per user.
package ledger

import (
	"context"
	"errors"
)

// ErrInsufficientCredits is returned by Debit when the balance cannot cover the amount.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ReasonBoostAuctionWin is the debit reason recorded for a winning bid.
const ReasonBoostAuctionWin = "boost_auction_win"

// Ledger is the credit ledger contract.
type Ledger interface {
	// Debit atomically removes amount from the user's balance and returns the
	// new balance, or ErrInsufficientCredits leaving the balance unchanged.
	Debit(ctx context.Context, userID string, amount int64, reason string) (int64, error)

	// Balance returns the current balance. Unknown users have a zero balance.
	Balance(ctx context.Context, userID string) (int64, error)
}

// Granter adds credits to a balance. Clearing never grants; operators do.
type Granter interface {
	Grant(ctx context.Context, userID string, amount int64, reason string) (int64, error)
}
