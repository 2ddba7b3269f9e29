package repository

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"entgo.io/ent/dialect"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies the embedded migrations for the handle's dialect.
func Migrate(db *DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		driver database.Driver
		dir    string
		err    error
	)
	switch db.Dialect {
	case dialect.Postgres:
		dir = "migrations/postgres"
		driver, err = pgxmigrate.WithInstance(db.DB.DB, &pgxmigrate.Config{})
	case dialect.SQLite:
		dir = "migrations/sqlite"
		driver, err = sqlite.WithInstance(db.DB.DB, &sqlite.Config{})
	default:
		return fmt.Errorf("no migrations for dialect %q", db.Dialect)
	}
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	sub, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return err
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, db.Dialect, driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("db.migrate.failed", "dialect", db.Dialect, "error", err)
		return fmt.Errorf("run migrations: %w", err)
	}
	version, dirty, _ := m.Version()
	logger.Info("db.migrate.ok", "dialect", db.Dialect, "version", version, "dirty", dirty)
	return nil
}
