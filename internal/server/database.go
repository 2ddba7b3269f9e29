package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	repo "github.com/joseph-ayodele/invoices-pipeline/internal/repository"
)

// ConnectDB opens the configured store and applies pending migrations.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repo.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := repo.Open(ctx, repo.Config{
		Driver:           cfg.Driver,
		DSN:              cfg.DSN,
		SQLitePath:       cfg.SQLitePath,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Driver, "error", err)
		return nil, err
	}
	if err := repo.Migrate(db, logger); err != nil {
		db.Close(logger)
		return nil, err
	}
	return db, nil
}

// PingDB pings the database to ensure it's responsive
func PingDB(ctx context.Context, db *repo.DB, logger *slog.Logger, timeout time.Duration) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("pinging database")
	if err := repo.HealthCheck(ctx, db, timeout, logger); err != nil {
		logger.Error("database ping failed", "error", err)
		return err
	}
	logger.Debug("database ping successful")
	return nil
}

// CloseDB closes the database connections gracefully
func CloseDB(db *repo.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	db.Close(logger)
}
