package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/boostclear/internal/auction"
	"github.com/wolfeidau/boostclear/internal/models"
	"golang.org/x/sync/errgroup"
)

// Clearer clears one auction window.
type Clearer interface {
	ClearWindow(ctx context.Context, req auction.ClearRequest) (*auction.ClearResult, error)
}

// Config controls a clearing worker.
type Config struct {
	Locales    []models.Locale
	Placements []models.Placement

	// Interval between scheduled passes in Run. Must not exceed the shortest
	// configured window. Default: 1m
	Interval time.Duration

	// PairTimeout bounds one (locale, placement) clearing. A timeout leaves the
	// window pending for the next pass. Default: 30s
	PairTimeout time.Duration

	// Concurrency is the number of pairs cleared in parallel. Default: 1
	Concurrency int
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if len(c.Locales) == 0 {
		c.Locales = models.SupportedLocales
	}
	if len(c.Placements) == 0 {
		c.Placements = models.SupportedPlacements
	}
	if c.Interval == 0 {
		c.Interval = time.Minute
	}
	if c.PairTimeout == 0 {
		c.PairTimeout = 30 * time.Second
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
}

// Worker drives the clearing engine over every (locale, placement) pair. It
// keeps no state between passes.
type Worker struct {
	clearer Clearer
	cfg     Config
}

func New(clearer Clearer, cfg Config) *Worker {
	cfg.ApplyDefaults()
	return &Worker{clearer: clearer, cfg: cfg}
}

// ClearAllDueWindows clears the window currently due for each pair. Results are
// returned in locale-major order for every pair that produced one; failures
// are joined into the returned error and do not stop the other pairs.
func (w *Worker) ClearAllDueWindows(ctx context.Context, referenceTime time.Time) ([]*auction.ClearResult, error) {
	if referenceTime.IsZero() {
		referenceTime = time.Now()
	}

	type pair struct {
		locale    models.Locale
		placement models.Placement
	}

	pairs := make([]pair, 0, len(w.cfg.Locales)*len(w.cfg.Placements))
	for _, locale := range w.cfg.Locales {
		for _, placement := range w.cfg.Placements {
			pairs = append(pairs, pair{locale: locale, placement: placement})
		}
	}

	results := make([]*auction.ClearResult, len(pairs))
	errs := make([]error, len(pairs))

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)

	for i, p := range pairs {
		g.Go(func() error {
			results[i], errs[i] = w.clearPair(ctx, p.locale, p.placement, referenceTime)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*auction.ClearResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}

	return out, errors.Join(errs...)
}

func (w *Worker) clearPair(ctx context.Context, locale models.Locale, placement models.Placement, referenceTime time.Time) (*auction.ClearResult, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.PairTimeout)
	defer cancel()

	logger := log.With().Str("locale", string(locale)).Str("placement", string(placement)).Logger()

	result, err := w.clearer.ClearWindow(ctx, auction.ClearRequest{
		Locale:        locale,
		Placement:     placement,
		ReferenceTime: referenceTime,
	})
	if err != nil {
		switch {
		case errors.Is(err, auction.ErrSettlementIncomplete):
			event := logger.Error().Err(err)
			if result != nil {
				event = event.Int("write_failures", len(result.WriteFailures)).Int("unsettled_debits", len(result.UnsettledDebits))
			}
			event.Msg("Clearing settled partially")
		case errors.Is(err, context.DeadlineExceeded):
			logger.Warn().Err(err).Dur("timeout", w.cfg.PairTimeout).Msg("Clearing timed out, window not yet cleared")
		default:
			logger.Error().Err(err).Msg("Clearing aborted")
		}
		return result, fmt.Errorf("clear %s/%s: %w", locale, placement, err)
	}

	if !result.Enabled {
		logger.Debug().Msg("Auction disabled, zero activity")
	}

	return result, nil
}

// Run clears due windows every Interval until ctx is cancelled. A pass that
// fails is logged and the loop carries on; the next pass retries whatever is
// still pending.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", w.cfg.Interval).
		Dur("pair_timeout", w.cfg.PairTimeout).
		Int("pairs", len(w.cfg.Locales)*len(w.cfg.Placements)).
		Msg("Auction worker starting")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		w.tick(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("Auction worker stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	results, err := w.ClearAllDueWindows(ctx, time.Now())

	var activated, refunded, rolledOver int
	for _, r := range results {
		activated += len(r.Activated)
		refunded += len(r.Refunded)
		rolledOver += len(r.RolledOver)
	}

	event := log.Info()
	if err != nil {
		event = log.Warn().Err(err)
	}

	event.
		Int("pairs", len(results)).
		Int("activated", activated).
		Int("refunded", refunded).
		Int("rolled_over", rolledOver).
		Msg("Auction worker pass finished")
}
