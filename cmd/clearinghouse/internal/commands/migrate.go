package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	postgresstore "github.com/wolfeidau/boostclear/internal/store/postgres"
)

type MigrateCmd struct {
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	setupLogging(globals)

	if err := c.PostgresStore.validate(); err != nil {
		return err
	}

	pool, err := postgresstore.NewPool(ctx, c.PostgresStore.poolConfig())
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	if err := postgresstore.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Msg("Database migrations completed")
	return nil
}
