package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/dedup"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoices-pipeline/internal/hasher"
	"github.com/joseph-ayodele/invoices-pipeline/internal/quarantine"
	"github.com/joseph-ayodele/invoices-pipeline/internal/repository"
)

// Extractor is satisfied by *extract.Reconciler.
type Extractor interface {
	Sample(ctx context.Context, doc entity.Document, n int) (entity.ExtractionResult, extract.Consensus, error)
}

// InvoiceStore is the slice of the repository the processor writes through.
type InvoiceStore interface {
	Lookup(ctx context.Context, c entity.CandidateInvoice) (repository.Snapshot, error)
	Insert(ctx context.Context, c entity.CandidateInvoice) (string, error)
	Update(ctx context.Context, id string, c entity.CandidateInvoice) error
}

// Outcome is what happened to one document.
type Outcome struct {
	Document      entity.Document         `json:"document"`
	Candidate     entity.CandidateInvoice `json:"candidate"`
	Result        dedup.Result            `json:"result"`
	InvoiceID     string                  `json:"invoice_id,omitempty"`
	QuarantineKey string                  `json:"quarantine_key,omitempty"`
	Decisions     int                     `json:"decisions"` // >1 when a write conflict forced a re-decision
}

// Processor runs one document through extract → hash → lookup → decide → apply.
type Processor struct {
	extractor  Extractor
	store      InvoiceStore
	quarantine quarantine.Store
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

func New(extractor Extractor, store InvoiceStore, q quarantine.Store, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		extractor:  extractor,
		store:      store,
		quarantine: q,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		now:        time.Now,
	}
}

// Process handles one document. Extraction failures are not errors: they end in
// quarantine with estado error_permanente. Returned errors mean the decision
// could not be applied (store or quarantine unavailable, context cancelled).
func (p *Processor) Process(ctx context.Context, doc entity.Document) (Outcome, error) {
	ctx = common.WithSourcePath(ctx, doc.Path)
	log := p.logger.With(common.LogAttrs(ctx)...)
	start := time.Now()

	c, err := p.Extract(ctx, doc)
	if err != nil {
		return Outcome{Document: doc}, err
	}

	out := Outcome{Document: doc, Candidate: c}
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		res, snap, err := p.Decide(ctx, c)
		if err != nil {
			return out, err
		}
		out.Result = res
		out.Decisions = attempt + 1

		err = p.apply(ctx, c, res, snap, &out)
		if err == nil {
			log.Info("pipeline.done",
				"decision", res.Decision,
				"reason", res.Reason,
				"hash", c.HashContenido,
				"confidence", c.Confidence,
				"invoice_id", out.InvoiceID,
				"quarantine_key", out.QuarantineKey,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return out, nil
		}
		if !errors.Is(err, common.ErrConflict) {
			log.Error("pipeline.apply.failed", "decision", res.Decision, "error", err)
			return out, err
		}
		log.Warn("pipeline.apply.conflict", "decision", res.Decision, "attempt", attempt+1, "error", err)
	}
	return out, fmt.Errorf("%w: gave up after %d decisions", common.ErrConflict, out.Decisions)
}

// Extract reconciles the document and returns a pendiente candidate, hashed when
// complete. A document that could not be extracted comes back as error_permanente.
func (p *Processor) Extract(ctx context.Context, doc entity.Document) (entity.CandidateInvoice, error) {
	c, _, err := p.ExtractWithConsensus(ctx, doc)
	return c, err
}

// ExtractWithConsensus is Extract plus the per-field agreement of the sampled attempts.
func (p *Processor) ExtractWithConsensus(ctx context.Context, doc entity.Document) (entity.CandidateInvoice, extract.Consensus, error) {
	res, cons, err := p.extractor.Sample(ctx, doc, p.cfg.Samples)
	if err != nil && ctx.Err() != nil {
		return entity.CandidateInvoice{}, cons, ctx.Err()
	}
	c := entity.NewCandidate(res, doc)
	if err != nil {
		p.logger.Warn("pipeline.extract.failed", "path", doc.Path, "error", err)
		if ferr := c.Fail(err.Error()); ferr != nil {
			return c, cons, ferr
		}
		return c, cons, nil
	}
	if ok, _ := hasher.ValidateHashCompleteness(c.ExtractedFields); ok {
		h, herr := hasher.HashFields(c.ExtractedFields)
		if herr != nil {
			return c, cons, herr
		}
		c.HashContenido = h
	}
	return c, cons, nil
}

// Decide looks up existing records and returns the decision without side effects.
func (p *Processor) Decide(ctx context.Context, c entity.CandidateInvoice) (dedup.Result, repository.Snapshot, error) {
	var snap repository.Snapshot
	if c.Estado != constants.EstadoErrorPermanente {
		if ok, _ := hasher.ValidateHashCompleteness(c.ExtractedFields); ok {
			var err error
			if snap, err = p.store.Lookup(ctx, c); err != nil {
				return dedup.Result{}, snap, fmt.Errorf("lookup: %w", err)
			}
		}
	}
	res := dedup.DecideAction(c, snap.Hash, snap.Number, snap.Similar)
	p.logger.Debug("pipeline.decide",
		"path", c.SourcePath,
		"decision", res.Decision,
		"reason", res.Reason,
		"matched", res.MatchedIDs,
	)
	return res, snap, nil
}

// apply performs the side effect for res on a copy of c so a retry starts from
// the same pendiente candidate.
func (p *Processor) apply(ctx context.Context, c entity.CandidateInvoice, res dedup.Result, snap repository.Snapshot, out *Outcome) error {
	switch res.Decision {
	case constants.DecisionSkip:
		out.Candidate = c
		return nil

	case constants.DecisionInsert, constants.DecisionUpdate:
		if err := c.Transition(persistedEstado(c.Confidence)); err != nil {
			return err
		}
		out.Candidate = c
		if res.Decision == constants.DecisionInsert {
			id, err := p.store.Insert(ctx, c)
			if err != nil {
				return err
			}
			out.InvoiceID = id
			return nil
		}
		if snap.Number == nil {
			return fmt.Errorf("update decided without a number match")
		}
		if err := p.store.Update(ctx, snap.Number.ID, c); err != nil {
			return err
		}
		out.InvoiceID = snap.Number.ID
		return nil

	case constants.DecisionQuarantine:
		if c.Estado == constants.EstadoPendiente {
			if err := c.Transition(constants.EstadoRevisar); err != nil {
				return err
			}
		}
		out.Candidate = c
		if p.quarantine == nil {
			return fmt.Errorf("%w: no quarantine store configured", common.ErrUnavailable)
		}
		entry := quarantine.NewEntry(c, res.Decision, res.Reason, res.MatchedIDs, p.now())
		if err := p.quarantine.Write(ctx, entry); err != nil {
			return fmt.Errorf("quarantine write: %w", err)
		}
		out.QuarantineKey = entry.Key
		return nil
	}
	return fmt.Errorf("unknown decision %q", res.Decision)
}

// persistedEstado keeps low-confidence records visible for review.
func persistedEstado(conf constants.Confidence) constants.Estado {
	if conf == constants.ConfidenceBaja {
		return constants.EstadoRevisar
	}
	return constants.EstadoProcesado
}
