package auction

import (
	"errors"
	"fmt"

	"github.com/wolfeidau/boostclear/internal/ledger"
)

// Business-rule and validation errors returned by SubmitBid.
var (
	ErrAuctionDisabled      = errors.New("boost auction is disabled")
	ErrBidConflict          = errors.New("a bid already exists for this auction window")
	ErrUnsupportedLocale    = errors.New("unsupported auction locale")
	ErrUnsupportedPlacement = errors.New("unsupported auction placement")

	// ErrInsufficientCredits is the ledger sentinel, so callers can match
	// submission-time and clearing-time shortfalls the same way.
	ErrInsufficientCredits = ledger.ErrInsufficientCredits
)

// Operational errors returned by ClearWindow.
var (
	ErrInvalidSettings      = errors.New("invalid auction settings")
	ErrMisalignedWindow     = errors.New("window start is not aligned to the window length")
	ErrWindowNotClosed      = errors.New("auction window has not closed yet")
	ErrSettlementIncomplete = errors.New("settlement partially failed")
)

// BidValidationError reports a malformed bid.
type BidValidationError struct {
	Field  string
	Reason string
}

func (e *BidValidationError) Error() string {
	return fmt.Sprintf("invalid bid %s: %s", e.Field, e.Reason)
}

// BidTooLowError reports a bid under the configured minimum.
type BidTooLowError struct {
	BidAmountCredits int64
	MinBidCredits    int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid of %d credits is below the minimum of %d", e.BidAmountCredits, e.MinBidCredits)
}
