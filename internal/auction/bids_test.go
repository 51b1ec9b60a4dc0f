package auction

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/boostclear/internal/analytics"
	"github.com/wolfeidau/boostclear/internal/models"
)

func TestSubmitBid(t *testing.T) {
	ctx := context.Background()

	t.Run("records a pending session without debiting", func(t *testing.T) {
		h := newHarness(enabledSettings(5))
		grant(t, h.ledger, "u1", 100)

		res := h.submit(t, "u1", 40, true, testBidTime)

		require.Equal(t, models.SessionStatusPending, res.Status)
		require.Equal(t, testWindow, res.AuctionWindowStart)
		require.Equal(t, testWindow.Add(15*time.Minute), res.BoostStartsAt)
		require.Equal(t, testWindow.Add(135*time.Minute), res.BoostEndsAt)
		require.Equal(t, int64(100), res.AvailableCredits)
		require.Equal(t, byte(7), res.SessionID[6]>>4, "session ids are UUIDv7")

		session := h.session(t, res)
		require.Equal(t, "u1", session.UserID)
		require.Equal(t, int64(40), session.BidAmountCredits)
		require.Equal(t, testWindow, session.AuctionWindowStart)
		require.True(t, session.Metadata.AutoRollover)
		require.Zero(t, session.Metadata.RolloverCount)
		require.Nil(t, session.StartedAt, "boost interval is only persisted on activation")
		require.Nil(t, session.EndsAt)
		require.Equal(t, testBidTime, session.CreatedAt)

		balance, err := h.ledger.Balance(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, int64(100), balance)
		require.Empty(t, h.ledger.debits)

		events := h.sink.named(analytics.EventBidSubmitted)
		require.Len(t, events, 1)
		require.Equal(t, res.SessionID.String(), events[0].props["sessionId"])
	})

	t.Run("second bid in the same window conflicts regardless of amount", func(t *testing.T) {
		h := newHarness(enabledSettings(5))
		grant(t, h.ledger, "u1", 500)

		h.submit(t, "u1", 10, false, testBidTime)

		for _, amount := range []int64{5, 10, 300} {
			_, err := h.bids.SubmitBid(ctx, SubmitBidInput{
				UserID:           "u1",
				Placement:        models.PlacementDiscover,
				Locale:           models.LocaleEnUS,
				BidAmountCredits: amount,
				Now:              testBidTime.Add(time.Minute),
			})
			require.ErrorIs(t, err, ErrBidConflict)
		}
	})

	t.Run("same user may bid in another placement, locale or window", func(t *testing.T) {
		h := newHarness(enabledSettings(5))
		grant(t, h.ledger, "u1", 500)

		h.submit(t, "u1", 10, false, testBidTime)

		_, err := h.bids.SubmitBid(ctx, SubmitBidInput{UserID: "u1", Placement: models.PlacementNearby, Locale: models.LocaleEnUS, BidAmountCredits: 10, Now: testBidTime})
		require.NoError(t, err)

		_, err = h.bids.SubmitBid(ctx, SubmitBidInput{UserID: "u1", Placement: models.PlacementDiscover, Locale: models.LocaleDeDE, BidAmountCredits: 10, Now: testBidTime})
		require.NoError(t, err)

		next := h.submit(t, "u1", 10, false, testBidTime.Add(15*time.Minute))
		require.Equal(t, testWindow.Add(15*time.Minute), next.AuctionWindowStart)
	})

	t.Run("extra metadata is stored as a copy", func(t *testing.T) {
		h := newHarness(enabledSettings(5))
		grant(t, h.ledger, "u1", 100)

		extra := map[string]string{"campaign": "spring", "client": "ios"}
		res, err := h.bids.SubmitBid(ctx, SubmitBidInput{
			UserID:           "u1",
			Placement:        models.PlacementDiscover,
			Locale:           models.LocaleEnUS,
			BidAmountCredits: 10,
			Extra:            extra,
			Now:              testBidTime,
		})
		require.NoError(t, err)

		extra["campaign"] = "changed"

		session := h.session(t, res)
		require.Equal(t, map[string]string{"campaign": "spring", "client": "ios"}, session.Metadata.Extra)

		events := h.sink.named(analytics.EventBidSubmitted)
		require.Len(t, events, 1)
		require.Contains(t, events[0].props, "extra")
	})

	t.Run("analytics failure does not fail submission", func(t *testing.T) {
		h := newHarness(enabledSettings(5))
		h.sink.err = errLedgerUnavailable
		grant(t, h.ledger, "u1", 100)

		h.submit(t, "u1", 10, false, testBidTime)
	})

	t.Run("settings failure propagates", func(t *testing.T) {
		h := newHarness(&staticSettings{err: errLedgerUnavailable})
		grant(t, h.ledger, "u1", 100)

		_, err := h.bids.SubmitBid(ctx, SubmitBidInput{UserID: "u1", Placement: models.PlacementDiscover, Locale: models.LocaleEnUS, BidAmountCredits: 10, Now: testBidTime})
		require.ErrorIs(t, err, errLedgerUnavailable)
		require.NotErrorIs(t, err, ErrAuctionDisabled)
	})
}

func TestSubmitBidValidation(t *testing.T) {
	ctx := context.Background()

	disabled := DefaultSettings()
	minTwenty := DefaultSettings()
	minTwenty.Enabled = true
	minTwenty.MinBidCredits = 20

	tests := []struct {
		name     string
		settings Settings
		balance  int64
		in       SubmitBidInput
		check    func(t *testing.T, err error)
	}{
		{
			name:     "zero amount",
			settings: enabledSettings(5).settings,
			in:       SubmitBidInput{UserID: "u1", Placement: models.PlacementDiscover, Locale: models.LocaleEnUS, BidAmountCredits: 0},
			check: func(t *testing.T, err error) {
				var target *BidValidationError
				require.ErrorAs(t, err, &target)
				require.Equal(t, "bidAmountCredits", target.Field)
			},
		},
		{
			name:     "over the global cap",
			settings: enabledSettings(5).settings,
			balance:  1000,
			in:       SubmitBidInput{UserID: "u1", Placement: models.PlacementDiscover, Locale: models.LocaleEnUS, BidAmountCredits: MaxBidCredits + 1},
			check: func(t *testing.T, err error) {
				var target *BidValidationError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			name:     "amount is checked before locale",
			settings: enabledSettings(5).settings,
			in:       SubmitBidInput{UserID: "u1", Placement: models.PlacementDiscover, Locale: "xx-XX", BidAmountCredits: -1},
			check: func(t *testing.T, err error) {
				var target *BidValidationError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			name:     "missing user",
			settings: enabledSettings(5).settings,
			in:       SubmitBidInput{Placement: models.PlacementDiscover, Locale: models.LocaleEnUS, BidAmountCredits: 10},
			check: func(t *testing.T, err error) {
				var target *BidValidationError
				require.ErrorAs(t, err, &target)
				require.Equal(t, "userId", target.Field)
			},
		},
		{
			name:     "too many metadata entries",
			settings: enabledSettings(5).settings,
			in: SubmitBidInput{UserID: "u1", Placement: models.PlacementDiscover, Locale: models.LocaleEnUS, BidAmountCredits: 10,
				Extra: map[string]string{"a": "1", "b": "2", "c": "3", "d": "4", "e": "5", "f": "6", "g": "7", "h": "8", "i": "9"}},
			check: func(t *testing.T, err error) {
				var target *BidValidationError
				require.ErrorAs(t, err, &target)
				require.Equal(t, "metadata", target.Field)
			},
		},
		{
			name:     "oversized metadata value",
			settings: enabledSettings(5).settings,
			in: SubmitBidInput{UserID: "u1", Placement: models.PlacementDiscover, Locale: models.LocaleEnUS, BidAmountCredits: 10,
				Extra: map[string]string{"note": strings.Repeat("x", MaxExtraValueLength+1)}},
			check: func(t *testing.T, err error) {
				var target *BidValidationError
				require.ErrorAs(t, err, &target)
				require.Equal(t, "metadata", target.Field)
			},
		},
		{
			name:     "unsupported locale",
			settings: enabledSettings(5).settings,
			in:       SubmitBidInput{UserID: "u1", Placement: models.PlacementDiscover, Locale: "xx-XX", BidAmountCredits: 10},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrUnsupportedLocale)
			},
		},
		{
			name:     "unsupported placement",
			settings: enabledSettings(5).settings,
			in:       SubmitBidInput{UserID: "u1", Placement: "homepage", Locale: models.LocaleEnUS, BidAmountCredits: 10},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrUnsupportedPlacement)
			},
		},
		{
			name:     "disabled is checked before the minimum",
			settings: disabled,
			in:       SubmitBidInput{UserID: "u1", Placement: models.PlacementDiscover, Locale: models.LocaleEnUS, BidAmountCredits: 1},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrAuctionDisabled)
			},
		},
		{
			name:     "below the minimum",
			settings: minTwenty,
			balance:  100,
			in:       SubmitBidInput{UserID: "u1", Placement: models.PlacementDiscover, Locale: models.LocaleEnUS, BidAmountCredits: 19},
			check: func(t *testing.T, err error) {
				var target *BidTooLowError
				require.ErrorAs(t, err, &target)
				require.Equal(t, int64(20), target.MinBidCredits)
			},
		},
		{
			name:     "minimum is checked before the balance",
			settings: minTwenty,
			in:       SubmitBidInput{UserID: "u1", Placement: models.PlacementDiscover, Locale: models.LocaleEnUS, BidAmountCredits: 19},
			check: func(t *testing.T, err error) {
				var target *BidTooLowError
				require.ErrorAs(t, err, &target)
			},
		},
		{
			name:     "balance below bid",
			settings: enabledSettings(5).settings,
			balance:  9,
			in:       SubmitBidInput{UserID: "u1", Placement: models.PlacementDiscover, Locale: models.LocaleEnUS, BidAmountCredits: 10},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInsufficientCredits)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(&staticSettings{settings: tt.settings})
			if tt.balance > 0 {
				grant(t, h.ledger, "u1", tt.balance)
			}

			in := tt.in
			in.Now = testBidTime
			res, err := h.bids.SubmitBid(ctx, in)
			require.Error(t, err)
			require.Nil(t, res)
			tt.check(t, err)

			_, writes := h.store.calls()
			require.Zero(t, writes, "rejected bids are never stored")
			require.Empty(t, h.sink.named(analytics.EventBidSubmitted))
		})
	}
}
