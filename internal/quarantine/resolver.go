package quarantine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/hasher"
)

// Inserter persists a reviewed candidate.
type Inserter interface {
	Insert(ctx context.Context, c entity.CandidateInvoice) (string, error)
}

// Resolver applies a reviewer's verdict to a quarantine entry. Nothing in the
// pipeline calls it; entries only leave the store through here.
type Resolver struct {
	store  Store
	repo   Inserter
	logger *slog.Logger
}

func NewResolver(store Store, repo Inserter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, repo: repo, logger: logger}
}

// Promote inserts the entry's candidate as a new invoice and removes the entry.
// The entry stays in place when the insert fails.
func (r *Resolver) Promote(ctx context.Context, key string) (string, error) {
	e, err := r.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	c := e.Candidate
	if ok, why := hasher.ValidateHashCompleteness(c.ExtractedFields); !ok {
		return "", fmt.Errorf("%w: cannot promote %s: %s", common.ErrInvalidInput, key, why)
	}
	if c.HashContenido == "" {
		if c.HashContenido, err = hasher.HashFields(c.ExtractedFields); err != nil {
			return "", err
		}
	}
	// a reviewer verdict is final whatever lifecycle state the entry was parked in
	c.Estado = constants.EstadoProcesado
	c.ErrorMsg = nil

	id, err := r.repo.Insert(ctx, c)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			r.logger.Warn("quarantine.promote.conflict", "key", key, "hash", c.HashContenido)
		}
		return "", err
	}
	if err := r.store.Delete(ctx, key); err != nil {
		r.logger.Error("quarantine.promote.delete_failed", "key", key, "id", id, "error", err)
		return id, err
	}
	r.logger.Info("quarantine.promote.ok", "key", key, "id", id)
	return id, nil
}

// Discard drops the entry without persisting anything.
func (r *Resolver) Discard(ctx context.Context, key string) error {
	if err := r.store.Delete(ctx, key); err != nil {
		return err
	}
	r.logger.Info("quarantine.discard.ok", "key", key)
	return nil
}
