package server

import (
	"context"
	"log/slog"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/quarantine"
)

const (
	ActionPromote = "promote"
	ActionDiscard = "discard"
)

// PendingLister lists quarantined entries.
type PendingLister interface {
	List(ctx context.Context) ([]quarantine.Entry, error)
}

// Resolver applies a reviewer verdict to a quarantined entry.
type Resolver interface {
	Promote(ctx context.Context, key string) (string, error)
	Discard(ctx context.Context, key string) error
}

type ReviewService struct {
	pending  PendingLister
	resolver Resolver
	logger   *slog.Logger
}

func NewReviewService(pending PendingLister, resolver Resolver, logger *slog.Logger) *ReviewService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewService{pending: pending, resolver: resolver, logger: logger}
}

func (s *ReviewService) ListPending(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	view, err := s.listPending(ctx, stringField(in, "month"))
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return toStruct(view)
}

func (s *ReviewService) listPending(ctx context.Context, month string) (pendingView, error) {
	entries, err := s.pending.List(ctx)
	if err != nil {
		s.logger.Error("review.list.failed", append(common.LogAttrs(ctx), "error", err)...)
		return pendingView{}, err
	}
	return pendingByMonth(entries, month)
}

func (s *ReviewService) Resolve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key := stringField(in, "key")
	action := stringField(in, "action")
	id, err := s.resolve(ctx, key, action)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return toStruct(map[string]string{"key": key, "action": action, "invoice_id": id})
}

func (s *ReviewService) resolve(ctx context.Context, key, action string) (string, error) {
	v := common.NewValidator().
		Field("key", key, common.Required, common.StorageKey).
		Field("action", action, common.OneOf(ActionPromote, ActionDiscard))
	if v.HasErrors() {
		return "", v.Error()
	}

	var id string
	var err error
	switch action {
	case ActionPromote:
		id, err = s.resolver.Promote(ctx, key)
	case ActionDiscard:
		err = s.resolver.Discard(ctx, key)
	}
	if err != nil {
		s.logger.Warn("review.resolve.failed", append(common.LogAttrs(ctx), "key", key, "action", action, "error", err)...)
		return "", err
	}
	s.logger.Info("review.resolve.ok", append(common.LogAttrs(ctx), "key", key, "action", action, "invoice_id", id)...)
	return id, nil
}
