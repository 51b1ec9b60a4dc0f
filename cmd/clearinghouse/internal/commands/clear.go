package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/boostclear/internal/auction"
	"github.com/wolfeidau/boostclear/internal/models"
	"github.com/wolfeidau/boostclear/internal/worker"
)

type ClearCmd struct {
	Locale      string        `help:"only clear this locale"`
	Placement   string        `help:"only clear this placement"`
	WindowStart string        `help:"clear this window (RFC3339) instead of the one due now; requires --locale and --placement"`
	PairTimeout time.Duration `help:"timeout for clearing one locale and placement" default:"30s"`

	Deps DependencyFlags `embed:""`
}

func (c *ClearCmd) Validate() error {
	if c.WindowStart != "" && (c.Locale == "" || c.Placement == "") {
		return fmt.Errorf("--window-start requires --locale and --placement")
	}
	return nil
}

func (c *ClearCmd) Run(ctx context.Context, globals *Globals) error {
	appLogger := setupLogging(globals)

	deps, err := c.Deps.Build(ctx, appLogger)
	if err != nil {
		return err
	}
	defer deps.Close()

	engine := auction.NewEngine(deps.Settings, deps.Sessions, deps.Credits, deps.Sink)

	if c.WindowStart != "" {
		windowStart, err := time.Parse(time.RFC3339, c.WindowStart)
		if err != nil {
			return fmt.Errorf("invalid --window-start: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, c.PairTimeout)
		defer cancel()

		result, err := engine.ClearWindow(ctx, auction.ClearRequest{
			Locale:      models.Locale(c.Locale),
			Placement:   models.Placement(c.Placement),
			WindowStart: windowStart,
		})
		if result != nil {
			if printErr := printJSON(result); printErr != nil {
				return printErr
			}
		}
		return err
	}

	cfg := worker.Config{PairTimeout: c.PairTimeout}
	if c.Locale != "" {
		cfg.Locales = []models.Locale{models.Locale(c.Locale)}
	}
	if c.Placement != "" {
		cfg.Placements = []models.Placement{models.Placement(c.Placement)}
	}

	results, err := worker.New(engine, cfg).ClearAllDueWindows(ctx, time.Now())
	if printErr := printJSON(results); printErr != nil {
		return printErr
	}
	if err != nil {
		log.Error().Err(err).Msg("Some windows were not cleared")
	}
	return err
}
