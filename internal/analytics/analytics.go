// Package analytics is the best-effort event port. Nothing emitted here may
// fail the operation that produced it.
package analytics

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event names
const (
	EventBidSubmitted   = "boost_bid_submitted"
	EventAuctionCleared = "boost_auction_cleared"
	EventAuctionRefunds = "boost_auction_refunds"
)

// Sink receives analytics events.
type Sink interface {
	Emit(ctx context.Context, name string, props map[string]any) error
}

// Emit sends an event to sink and swallows any failure after logging it.
func Emit(ctx context.Context, sink Sink, name string, props map[string]any) {
	if sink == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event", name).Interface("panic", r).Msg("Analytics sink panicked")
		}
	}()

	if err := sink.Emit(ctx, name, props); err != nil {
		log.Warn().Err(err).Str("event", name).Msg("Failed to emit analytics event")
	}
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, string, map[string]any) error { return nil }

// LogSink writes events to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, name string, props map[string]any) error {
	s.logger.Info().
		Str("event", name).
		Fields(props).
		Msg("analytics event")
	return nil
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, name string, props map[string]any) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Emit(ctx, name, props); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
