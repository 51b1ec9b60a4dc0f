package postgres

import (
	"cmp"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID serializes migration runs across replicas started with
// --postgres-auto-migrate.
const migrationLockID = 0x626f6f7374

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT        NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

type migration struct {
	version int
	name    string
	sql     string
}

// loadMigrations reads NNN_name.sql files from fsys, ordered by version.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	paths, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	migrations := make([]migration, 0, len(paths))
	for _, p := range paths {
		name := path.Base(p)

		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: name must be <version>_<name>.sql", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: invalid version: %w", name, err)
		}

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		migrations = append(migrations, migration{version: version, name: name, sql: string(content)})
	}

	slices.SortFunc(migrations, func(a, b migration) int { return cmp.Compare(a.version, b.version) })

	for i := 1; i < len(migrations); i++ {
		if migrations[i].version == migrations[i-1].version {
			return nil, fmt.Errorf("duplicate migration version %d", migrations[i].version)
		}
	}

	return migrations, nil
}

// RunMigrations applies every embedded migration not yet recorded in
// schema_migrations, each in its own transaction.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		ran, err := applyMigration(ctx, pool, m)
		if err != nil {
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if ran {
			applied++
		}
	}

	log.Info().Int("available", len(migrations)).Int("applied", applied).Msg("Database migrations complete")
	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, m migration) (bool, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return false, fmt.Errorf("failed to take migration lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}
	if exists {
		log.Debug().Int("version", m.version).Str("name", m.name).Msg("Migration already applied")
		return false, nil
	}

	log.Info().Int("version", m.version).Str("name", m.name).Msg("Applying migration")

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return false, fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
		return false, fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit migration: %w", err)
	}

	return true, nil
}
