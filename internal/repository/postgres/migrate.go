package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"

	"github.com/RMahshie/dosefit/migrations"
)

// migrateLogger routes golang-migrate output through zerolog.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Debug().Msgf(format, v...)
}

func (migrateLogger) Verbose() bool {
	return false
}

// Migrate applies all pending up migrations from the embedded migrations.
// Running it on an up-to-date schema is a no-op.
func Migrate(ctx context.Context, db *sql.DB) error {
	return withMigrator(ctx, db, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		return nil
	})
}

// Rollback applies every down migration, dropping the schema.
func Rollback(ctx context.Context, db *sql.DB) error {
	return withMigrator(ctx, db, func(m *migrate.Migrate) error {
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to roll back migrations: %w", err)
		}
		return nil
	})
}

// withMigrator runs fn on a dedicated connection so closing the migrator
// leaves db open.
func withMigrator(ctx context.Context, db *sql.DB, fn func(m *migrate.Migrate) error) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}

	driver, err := migratepg.WithConnection(ctx, conn, &migratepg.Config{})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		driver.Close()
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	m.Log = migrateLogger{}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("Failed to close migrator")
		}
	}()

	if err := fn(m); err != nil {
		return err
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info().Msg("Schema has no migrations applied")
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	default:
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema migrated")
	}

	return nil
}
