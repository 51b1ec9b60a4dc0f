package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/boostclear/internal/auction"
	httpapi "github.com/wolfeidau/boostclear/internal/http"
	"github.com/wolfeidau/boostclear/internal/logger"
	"github.com/wolfeidau/boostclear/internal/telemetry"
	"github.com/wolfeidau/boostclear/internal/worker"
	"golang.org/x/sync/errgroup"
)

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"BOOSTCLEAR_LISTEN"`

	// Telemetry configuration
	Tracing          bool    `help:"enable tracing and metrics export" default:"false" env:"BOOSTCLEAR_TRACING"`
	TraceSampleRatio float64 `help:"fraction of traces sampled" default:"1" env:"BOOSTCLEAR_TRACE_SAMPLE_RATIO"`

	Worker WorkerFlags     `embed:"" prefix:"worker-"`
	Deps   DependencyFlags `embed:""`
}

// WorkerFlags configure the in-process clearing worker.
type WorkerFlags struct {
	Disabled    bool          `help:"do not run the clearing worker in this process" default:"false" env:"BOOSTCLEAR_WORKER_DISABLED"`
	Interval    time.Duration `help:"interval between clearing passes" default:"1m" env:"BOOSTCLEAR_WORKER_INTERVAL"`
	PairTimeout time.Duration `help:"timeout for clearing one locale and placement" default:"30s" env:"BOOSTCLEAR_WORKER_PAIR_TIMEOUT"`
	Concurrency int           `help:"pairs cleared in parallel" default:"2" env:"BOOSTCLEAR_WORKER_CONCURRENCY"`
}

func (f *WorkerFlags) config() worker.Config {
	return worker.Config{
		Interval:    f.Interval,
		PairTimeout: f.PairTimeout,
		Concurrency: f.Concurrency,
	}
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	appLogger := setupLogging(globals)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting clearinghouse")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "boostclear",
			Version:     globals.Version,
			SampleRatio: c.TraceSampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	deps, err := c.Deps.Build(ctx, appLogger)
	if err != nil {
		return err
	}
	defer deps.Close()

	bids := auction.NewBidService(deps.Settings, deps.Sessions, deps.Credits, deps.Sink)
	engine := auction.NewEngine(deps.Settings, deps.Sessions, deps.Credits, deps.Sink)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.HTTPRequests(appLogger))
	r.Use(middleware.Recoverer)

	httpapi.NewHandler(bids, deps.Settings).RegisterRoutes(r)

	srv := configureHTTPServer(c.Listen, r)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if c.Worker.Disabled {
		log.Info().Msg("Clearing worker disabled")
	} else {
		w := worker.New(engine, c.Worker.config())
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	return g.Wait()
}
