package auction

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/boostclear/internal/analytics"
	"github.com/wolfeidau/boostclear/internal/ledger"
	"github.com/wolfeidau/boostclear/internal/models"
	"github.com/wolfeidau/boostclear/internal/store"
	"github.com/wolfeidau/boostclear/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SubmitBidInput is one user's bid for the current window.
type SubmitBidInput struct {
	UserID           string
	Placement        models.Placement
	Locale           models.Locale
	BidAmountCredits int64
	AutoRollover     bool

	// Extra is caller-supplied context (campaign, client) stored with the
	// session and echoed in analytics.
	Extra map[string]string

	// Now defaults to time.Now when zero.
	Now time.Time
}

// SubmitBidResult describes the recorded bid and the boost it competes for.
type SubmitBidResult struct {
	SessionID          uuid.UUID            `json:"sessionId"`
	Status             models.SessionStatus `json:"status"`
	AuctionWindowStart time.Time            `json:"auctionWindowStart"`
	BoostStartsAt      time.Time            `json:"boostStartsAt"`
	BoostEndsAt        time.Time            `json:"boostEndsAt"`
	AvailableCredits   int64                `json:"availableCredits"`
}

// BidService validates and records bids. It never debits credits; debits
// happen at clearing time so losing bids lock nothing up.
type BidService struct {
	settings SettingsResolver
	sessions store.SessionStore
	credits  ledger.Ledger
	sink     analytics.Sink
	metrics  *telemetry.Metrics
}

func NewBidService(settings SettingsResolver, sessions store.SessionStore, credits ledger.Ledger, sink analytics.Sink) *BidService {
	return &BidService{
		settings: settings,
		sessions: sessions,
		credits:  credits,
		sink:     sink,
		metrics:  telemetry.GetMetrics(),
	}
}

// SubmitBid validates the bid and inserts a pending session. Checks run in a
// fixed order and the first violation is returned.
func (s *BidService) SubmitBid(ctx context.Context, in SubmitBidInput) (*SubmitBidResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "auction.SubmitBid")
	defer span.End()

	res, err := s.submit(ctx, in)
	if err != nil {
		s.metrics.BidsRejectedTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", rejectionReason(err)),
			attribute.String("locale", string(in.Locale)),
			attribute.String("placement", string(in.Placement)),
		))
		span.RecordError(err)
		return nil, err
	}

	s.metrics.BidsSubmittedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("locale", string(in.Locale)),
		attribute.String("placement", string(in.Placement)),
	))

	analytics.Emit(ctx, s.sink, analytics.EventBidSubmitted, map[string]any{
		"sessionId":          res.SessionID.String(),
		"userId":             in.UserID,
		"locale":             string(in.Locale),
		"placement":          string(in.Placement),
		"bidAmountCredits":   in.BidAmountCredits,
		"autoRollover":       in.AutoRollover,
		"auctionWindowStart": res.AuctionWindowStart,
		"extra":              in.Extra,
	})

	return res, nil
}

func (s *BidService) submit(ctx context.Context, in SubmitBidInput) (*SubmitBidResult, error) {
	if in.BidAmountCredits <= 0 || in.BidAmountCredits > MaxBidCredits {
		return nil, &BidValidationError{
			Field:  "bidAmountCredits",
			Reason: fmt.Sprintf("must be between 1 and %d", MaxBidCredits),
		}
	}
	if in.UserID == "" {
		return nil, &BidValidationError{Field: "userId", Reason: "is required"}
	}
	if err := validateExtra(in.Extra); err != nil {
		return nil, err
	}

	if !in.Locale.Supported() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLocale, in.Locale)
	}
	if !in.Placement.Supported() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlacement, in.Placement)
	}

	settings, err := s.settings.Resolve(ctx, in.Locale, in.Placement, in.UserID)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		return nil, ErrAuctionDisabled
	}

	if in.BidAmountCredits < settings.MinBidCredits {
		return nil, &BidTooLowError{BidAmountCredits: in.BidAmountCredits, MinBidCredits: settings.MinBidCredits}
	}

	// Advisory only: the authoritative check is the debit at clearing time.
	balance, err := s.credits.Balance(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to read credit balance: %w", err)
	}
	if balance < in.BidAmountCredits {
		return nil, ErrInsufficientCredits
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC().Truncate(time.Microsecond)

	windowStart := WindowStart(now, settings.WindowMinutes)
	boostStartsAt, boostEndsAt := BoostTiming(windowStart, settings.WindowMinutes, settings.DurationMinutes)

	_, err = s.sessions.FindOpenBid(ctx, store.BidKey{
		UserID:      in.UserID,
		Placement:   in.Placement,
		Locale:      in.Locale,
		WindowStart: windowStart,
	})
	switch {
	case err == nil:
		return nil, ErrBidConflict
	case !errors.Is(err, store.ErrSessionNotFound):
		return nil, fmt.Errorf("failed to check for existing bid: %w", err)
	}

	sessionID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	session := &models.BoostSession{
		SessionID:          sessionID,
		UserID:             in.UserID,
		Placement:          in.Placement,
		Locale:             in.Locale,
		BidAmountCredits:   in.BidAmountCredits,
		AuctionWindowStart: windowStart,
		Status:             models.SessionStatusPending,
		Metadata: models.SessionMetadata{
			AutoRollover:  in.AutoRollover,
			RolloverCount: 0,
			Extra:         maps.Clone(in.Extra),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to record bid: %w", err)
	}

	log.Debug().
		Str("session_id", sessionID.String()).
		Str("user_id", in.UserID).
		Str("locale", string(in.Locale)).
		Str("placement", string(in.Placement)).
		Int64("bid", in.BidAmountCredits).
		Time("window_start", windowStart).
		Msg("Bid recorded")

	return &SubmitBidResult{
		SessionID:          sessionID,
		Status:             session.Status,
		AuctionWindowStart: windowStart,
		BoostStartsAt:      boostStartsAt,
		BoostEndsAt:        boostEndsAt,
		AvailableCredits:   balance,
	}, nil
}

// Limits on SubmitBidInput.Extra.
const (
	MaxExtraEntries     = 8
	MaxExtraKeyLength   = 64
	MaxExtraValueLength = 256
)

func validateExtra(extra map[string]string) error {
	if len(extra) > MaxExtraEntries {
		return &BidValidationError{Field: "metadata", Reason: fmt.Sprintf("at most %d entries", MaxExtraEntries)}
	}
	for k, v := range extra {
		switch {
		case k == "" || len(k) > MaxExtraKeyLength:
			return &BidValidationError{Field: "metadata", Reason: fmt.Sprintf("keys must be 1 to %d bytes", MaxExtraKeyLength)}
		case len(v) > MaxExtraValueLength:
			return &BidValidationError{Field: "metadata", Reason: fmt.Sprintf("value of %q exceeds %d bytes", k, MaxExtraValueLength)}
		}
	}
	return nil
}

func rejectionReason(err error) string {
	var validationErr *BidValidationError
	var tooLowErr *BidTooLowError

	switch {
	case errors.As(err, &validationErr):
		return "validation"
	case errors.Is(err, ErrUnsupportedLocale), errors.Is(err, ErrUnsupportedPlacement):
		return "unsupported"
	case errors.Is(err, ErrAuctionDisabled):
		return "disabled"
	case errors.As(err, &tooLowErr):
		return "too_low"
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, ErrBidConflict):
		return "conflict"
	default:
		return "error"
	}
}
