package db

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/n0rdy/tableq/common"
	"github.com/n0rdy/tableq/configs"
	"github.com/rs/zerolog/log"

	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// RunMigrations creates or upgrades the default message_queue table.
// Tables with a custom name or column mapping are expected to be managed by their owner.
func RunMigrations(dialect configs.Dialect, dsn string) error {
	var dir, url string
	switch dialect {
	case configs.SQLiteDialect:
		dir = "migrations/sqlite"
		url = "sqlite://" + dsn
	case configs.PostgresDialect:
		dir = "migrations/postgres"
		pgURL, err := toPgx5URL(dsn)
		if err != nil {
			return err
		}
		url = pgURL
	default:
		return fmt.Errorf("no migrations for dialect %q", dialect)
	}

	source, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, url)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Msg("no migrations to run")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info().Str("dialect", string(dialect)).Msg("migrations applied successfully")
	return nil
}

// toPgx5URL points a postgres URL at the pgx v5 migrate driver. The key=value DSN form has no URL equivalent here.
func toPgx5URL(dsn string) (string, error) {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix), nil
		}
	}
	return "", common.NewConfigurationError("postgres DSN must be a postgres:// or postgresql:// URL")
}
