package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrSinkStopped is returned by BatchingSink.Emit after Stop.
var ErrSinkStopped = errors.New("analytics sink is stopped")

// BatchingConfig controls when buffered events are flushed.
type BatchingConfig struct {
	// FlushInterval is the longest an event waits in the buffer. Default: 2s
	FlushInterval time.Duration

	// MaxBatchSize flushes as soon as this many events are buffered. Default: 50
	MaxBatchSize int

	// MaxPendingBatches bounds flushed batches waiting for delivery; further
	// batches are dropped. Default: 20
	MaxPendingBatches int
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *BatchingConfig) ApplyDefaults() {
	if c.FlushInterval == 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 50
	}
	if c.MaxPendingBatches == 0 {
		c.MaxPendingBatches = 20
	}
}

type bufferedEvent struct {
	name  string
	props map[string]any
}

// BatchingSink buffers events and delivers them to the next sink from a
// background goroutine, so Emit never waits on the network.
type BatchingSink struct {
	mu  sync.Mutex
	cfg BatchingConfig

	next Sink

	buffer     []bufferedEvent
	flushTimer *time.Timer
	stopCh     chan struct{}

	batches chan []bufferedEvent
	done    chan struct{}
	dropped int
}

func NewBatchingSink(next Sink, cfg BatchingConfig) *BatchingSink {
	cfg.ApplyDefaults()

	s := &BatchingSink{
		cfg:     cfg,
		next:    next,
		buffer:  make([]bufferedEvent, 0, cfg.MaxBatchSize),
		stopCh:  make(chan struct{}),
		batches: make(chan []bufferedEvent, cfg.MaxPendingBatches),
		done:    make(chan struct{}),
	}

	go s.deliver()

	return s
}

// Emit buffers the event.
func (s *BatchingSink) Emit(ctx context.Context, name string, props map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stopCh:
		return ErrSinkStopped
	default:
	}

	s.buffer = append(s.buffer, bufferedEvent{name: name, props: props})

	if len(s.buffer) == 1 {
		s.startFlushTimer()
	}

	if len(s.buffer) >= s.cfg.MaxBatchSize {
		s.flushLocked("max_batch_size")
	}

	return nil
}

// Flush hands any buffered events to the delivery goroutine.
func (s *BatchingSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flushLocked("manual_flush")
}

// Dropped returns the number of events discarded because delivery fell behind.
func (s *BatchingSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dropped
}

// Stop flushes the buffer and waits until every pending batch is delivered or
// ctx is done.
func (s *BatchingSink) Stop(ctx context.Context) error {
	s.mu.Lock()
	select {
	case <-s.stopCh:
		s.mu.Unlock()
		return nil
	default:
		close(s.stopCh)
	}

	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	s.flushLocked("shutdown")
	close(s.batches)
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flushLocked must be called with the lock held.
func (s *BatchingSink) flushLocked(reason string) {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}

	if len(s.buffer) == 0 {
		return
	}

	batch := s.buffer
	s.buffer = make([]bufferedEvent, 0, s.cfg.MaxBatchSize)

	select {
	case s.batches <- batch:
		log.Debug().Int("event_count", len(batch)).Str("reason", reason).Msg("Flushing analytics batch")
	default:
		s.dropped += len(batch)
		log.Warn().Int("event_count", len(batch)).Int("dropped_total", s.dropped).Msg("Analytics delivery behind, dropping batch")
	}
}

// startFlushTimer must be called with the lock held.
func (s *BatchingSink) startFlushTimer() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}

	s.flushTimer = time.AfterFunc(s.cfg.FlushInterval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		select {
		case <-s.stopCh:
			return
		default:
		}

		s.flushLocked("timer")
	})
}

func (s *BatchingSink) deliver() {
	defer close(s.done)

	for batch := range s.batches {
		for _, e := range batch {
			Emit(context.Background(), s.next, e.name, e.props)
		}
	}
}
