package auction

import (
	"context"
	"errors"
	"fmt"
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
	"go.opentelemetry.io/otel/trace"
)

// ClearRequest selects the window to clear.
type ClearRequest struct {
	Locale    models.Locale
	Placement models.Placement

	// WindowStart defaults to the window that most recently closed at
	// ReferenceTime.
	WindowStart time.Time

	// ReferenceTime defaults to time.Now when zero.
	ReferenceTime time.Time
}

// RefundBreakdown counts refunds by cause.
type RefundBreakdown struct {
	InsufficientCredits int `json:"insufficientCredits"`
	LostAuction         int `json:"lostAuction"`
}

// ClearResult is the outcome of one clearing pass. Activated, Refunded and
// RolledOver are disjoint and together cover every pending bid that was read.
type ClearResult struct {
	Locale    models.Locale    `json:"locale"`
	Placement models.Placement `json:"placement"`
	Enabled   bool             `json:"enabled"`

	WindowStart     time.Time `json:"windowStart"`
	NextWindowStart time.Time `json:"nextWindowStart"`
	BoostStartsAt   time.Time `json:"boostStartsAt"`
	BoostEndsAt     time.Time `json:"boostEndsAt"`

	PendingCount int         `json:"pendingCount"`
	Activated    []uuid.UUID `json:"activated"`
	Refunded     []uuid.UUID `json:"refunded"`
	RolledOver   []uuid.UUID `json:"rolledOver"`

	Refunds RefundBreakdown `json:"refunds"`

	// WriteFailures holds sessions whose settlement write did not apply. They
	// remain pending in WindowStart.
	WriteFailures map[uuid.UUID]error `json:"-"`

	// UnsettledDebits are winners whose debit succeeded but whose activation
	// write did not apply. They stay pending, so a later pass debits them again
	// unless an operator reconciles them first.
	UnsettledDebits []uuid.UUID `json:"unsettledDebits,omitempty"`
}

// Engine clears closed auction windows.
type Engine struct {
	settings SettingsResolver
	sessions store.SessionStore
	credits  ledger.Ledger
	sink     analytics.Sink
	metrics  *telemetry.Metrics
}

func NewEngine(settings SettingsResolver, sessions store.SessionStore, credits ledger.Ledger, sink analytics.Sink) *Engine {
	return &Engine{
		settings: settings,
		sessions: sessions,
		credits:  credits,
		sink:     sink,
		metrics:  telemetry.GetMetrics(),
	}
}

// ClearWindow ranks the pending bids of one window, debits the winners and
// settles every bid in a single unordered bulk write.
//
// Only sessions still pending in exactly this window are read, so running it
// again for a cleared window is a no-op. A ledger error other than
// insufficient credits aborts the pass before anything is written.
func (e *Engine) ClearWindow(ctx context.Context, req ClearRequest) (*ClearResult, error) {
	started := time.Now()

	ctx, span := telemetry.Tracer().Start(ctx, "auction.ClearWindow", trace.WithAttributes(
		attribute.String("locale", string(req.Locale)),
		attribute.String("placement", string(req.Placement)),
	))
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("locale", string(req.Locale)),
		attribute.String("placement", string(req.Placement)),
	)
	e.metrics.ClearingPassesTotal.Add(ctx, 1, attrs)

	result, err := e.clear(ctx, req)

	e.metrics.ClearingDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)

	if err != nil && !errors.Is(err, ErrSettlementIncomplete) {
		e.metrics.ClearingErrorsTotal.Add(ctx, 1, attrs)
		span.RecordError(err)
		return nil, err
	}

	if result.Enabled {
		e.emitSummary(ctx, result)
	}

	return result, err
}

func (e *Engine) clear(ctx context.Context, req ClearRequest) (*ClearResult, error) {
	if !req.Locale.Supported() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLocale, req.Locale)
	}
	if !req.Placement.Supported() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlacement, req.Placement)
	}

	settings, err := e.settings.Resolve(ctx, req.Locale, req.Placement, SystemUserKey)
	if err != nil {
		return nil, err
	}

	now := req.ReferenceTime
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	windowStart := req.WindowStart.UTC()
	if req.WindowStart.IsZero() {
		windowStart = DueWindowStart(now, settings.WindowMinutes)
	}

	if !WindowStart(windowStart, settings.WindowMinutes).Equal(windowStart) {
		return nil, fmt.Errorf("%w: %s for %d minute windows", ErrMisalignedWindow, windowStart.Format(time.RFC3339), settings.WindowMinutes)
	}

	nextWindowStart := NextWindowStart(windowStart, settings.WindowMinutes)
	if nextWindowStart.After(now) {
		return nil, fmt.Errorf("%w: %s closes at %s", ErrWindowNotClosed, windowStart.Format(time.RFC3339), nextWindowStart.Format(time.RFC3339))
	}

	boostStartsAt, boostEndsAt := BoostTiming(windowStart, settings.WindowMinutes, settings.DurationMinutes)

	result := &ClearResult{
		Locale:          req.Locale,
		Placement:       req.Placement,
		Enabled:         settings.Enabled,
		WindowStart:     windowStart,
		NextWindowStart: nextWindowStart,
		BoostStartsAt:   boostStartsAt,
		BoostEndsAt:     boostEndsAt,
		Activated:       []uuid.UUID{},
		Refunded:        []uuid.UUID{},
		RolledOver:      []uuid.UUID{},
	}

	logger := log.With().
		Str("locale", string(req.Locale)).
		Str("placement", string(req.Placement)).
		Time("window_start", windowStart).
		Logger()

	if !settings.Enabled {
		logger.Debug().Msg("Auction disabled, skipping clearing")
		return result, nil
	}

	pending, err := e.sessions.ListPending(ctx, store.WindowKey{
		Locale:      req.Locale,
		Placement:   req.Placement,
		WindowStart: windowStart,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending bids: %w", err)
	}

	// The ranking is fixed here, before any debit is attempted.
	store.SortForClearing(pending)
	result.PendingCount = len(pending)

	split := min(settings.MaxWinners, len(pending))
	winners, remainder := pending[:split], pending[split:]

	settledAt := time.Now().UTC()
	updates := make([]store.SessionUpdate, 0, len(pending))
	debited := make([]*models.BoostSession, 0, len(winners))

	for _, session := range winners {
		balance, err := e.credits.Debit(ctx, session.UserID, session.BidAmountCredits, ledger.ReasonBoostAuctionWin)
		switch {
		case err == nil:
			metadata := session.Metadata
			metadata.BalanceAfterDebit = &balance
			updates = append(updates, store.SessionUpdate{
				SessionID:           session.SessionID,
				Kind:                store.UpdateActivate,
				ExpectedWindowStart: windowStart,
				StartedAt:           boostStartsAt,
				EndsAt:              boostEndsAt,
				Metadata:            metadata,
				UpdatedAt:           settledAt,
			})
			result.Activated = append(result.Activated, session.SessionID)
			debited = append(debited, session)
			e.metrics.CreditsDebitedTotal.Add(ctx, session.BidAmountCredits)

		case errors.Is(err, ledger.ErrInsufficientCredits):
			metadata := session.Metadata
			metadata.RefundReason = models.RefundReasonInsufficientCredits
			updates = append(updates, store.SessionUpdate{
				SessionID:           session.SessionID,
				Kind:                store.UpdateRefund,
				ExpectedWindowStart: windowStart,
				Metadata:            metadata,
				UpdatedAt:           settledAt,
			})
			result.Refunded = append(result.Refunded, session.SessionID)
			result.Refunds.InsufficientCredits++
			logger.Info().
				Str("session_id", session.SessionID.String()).
				Str("user_id", session.UserID).
				Msg("Winning bid refunded, insufficient credits")

		default:
			return nil, fmt.Errorf("failed to debit winner %s: %w", session.SessionID, err)
		}
	}

	for _, session := range remainder {
		metadata := session.Metadata
		if metadata.AutoRollover {
			metadata.RolloverCount++
			updates = append(updates, store.SessionUpdate{
				SessionID:           session.SessionID,
				Kind:                store.UpdateRollover,
				ExpectedWindowStart: windowStart,
				NextWindowStart:     nextWindowStart,
				Metadata:            metadata,
				UpdatedAt:           settledAt,
			})
			result.RolledOver = append(result.RolledOver, session.SessionID)
			continue
		}

		metadata.RefundReason = models.RefundReasonLostAuction
		updates = append(updates, store.SessionUpdate{
			SessionID:           session.SessionID,
			Kind:                store.UpdateRefund,
			ExpectedWindowStart: windowStart,
			Metadata:            metadata,
			UpdatedAt:           settledAt,
		})
		result.Refunded = append(result.Refunded, session.SessionID)
		result.Refunds.LostAuction++
	}

	e.recordOutcome(ctx, result)

	if len(updates) == 0 {
		return result, nil
	}

	// A store that stops part way returns the partial result with its error;
	// only a write that reports nothing at all aborts the pass.
	bulk, bulkErr := e.sessions.BulkUpdate(ctx, updates)
	if bulk == nil {
		if bulkErr == nil {
			bulkErr = errors.New("store returned no bulk result")
		}
		return nil, fmt.Errorf("failed to settle window: %w", bulkErr)
	}

	logger.Info().
		Int("pending", result.PendingCount).
		Int("activated", len(result.Activated)).
		Int("refunded", len(result.Refunded)).
		Int("rolled_over", len(result.RolledOver)).
		Int("write_failures", len(bulk.Failed)).
		Msg("Auction window cleared")

	if bulkErr != nil || len(bulk.Failed) > 0 {
		result.WriteFailures = bulk.Failed
		e.metrics.SettlementFailuresTotal.Add(ctx, int64(len(bulk.Failed)))

		for _, session := range debited {
			if _, failed := bulk.Failed[session.SessionID]; !failed {
				continue
			}
			result.UnsettledDebits = append(result.UnsettledDebits, session.SessionID)
			logger.Error().
				Str("session_id", session.SessionID.String()).
				Str("user_id", session.UserID).
				Int64("bid", session.BidAmountCredits).
				Msg("Winner debited but not activated, reconcile before the next pass")
		}

		return result, fmt.Errorf("%w: %d of %d writes: %w", ErrSettlementIncomplete, len(bulk.Failed), len(updates), errors.Join(bulkErr, bulk.Err()))
	}

	return result, nil
}

func (e *Engine) recordOutcome(ctx context.Context, result *ClearResult) {
	attrs := []attribute.KeyValue{
		attribute.String("locale", string(result.Locale)),
		attribute.String("placement", string(result.Placement)),
	}

	e.metrics.SessionsActivatedTotal.Add(ctx, int64(len(result.Activated)), metric.WithAttributes(attrs...))
	e.metrics.SessionsRolledOverTotal.Add(ctx, int64(len(result.RolledOver)), metric.WithAttributes(attrs...))
	e.metrics.SessionsRefundedTotal.Add(ctx, int64(result.Refunds.InsufficientCredits),
		metric.WithAttributes(append(attrs, attribute.String("reason", models.RefundReasonInsufficientCredits))...))
	e.metrics.SessionsRefundedTotal.Add(ctx, int64(result.Refunds.LostAuction),
		metric.WithAttributes(append(attrs, attribute.String("reason", models.RefundReasonLostAuction))...))
}

func (e *Engine) emitSummary(ctx context.Context, result *ClearResult) {
	analytics.Emit(ctx, e.sink, analytics.EventAuctionCleared, map[string]any{
		"locale":        string(result.Locale),
		"placement":     string(result.Placement),
		"windowStart":   result.WindowStart,
		"pendingCount":  result.PendingCount,
		"winnerCount":   len(result.Activated),
		"refundCount":   len(result.Refunded),
		"rolloverCount": len(result.RolledOver),
		"writeFailures": len(result.WriteFailures),
	})

	if len(result.Refunded) == 0 {
		return
	}

	analytics.Emit(ctx, e.sink, analytics.EventAuctionRefunds, map[string]any{
		"locale":              string(result.Locale),
		"placement":           string(result.Placement),
		"windowStart":         result.WindowStart,
		"insufficientCredits": result.Refunds.InsufficientCredits,
		"lostAuction":         result.Refunds.LostAuction,
	})
}
