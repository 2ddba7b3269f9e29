package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/dedup"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoices-pipeline/internal/hasher"
	"github.com/joseph-ayodele/invoices-pipeline/internal/quarantine"
	"github.com/joseph-ayodele/invoices-pipeline/internal/repository"
)

func strp(s string) *string { return &s }

func decp(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type fakeExtractor struct {
	res entity.ExtractionResult
	err error
}

func (f *fakeExtractor) Sample(_ context.Context, _ entity.Document, _ int) (entity.ExtractionResult, extract.Consensus, error) {
	return f.res, extract.Consensus{}, f.err
}

func result(provider, number, total string, conf constants.Confidence) entity.ExtractionResult {
	return entity.ExtractionResult{
		Fields: entity.ExtractedFields{
			Provider:  strp(provider),
			Number:    strp(number),
			Total:     decp(total),
			IssueDate: entity.DatePtr(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)),
		},
		Source:     entity.Source{NumericExtractorID: "tesseract", TextExtractorID: "openai:m"},
		Confidence: conf,
		Attempts:   1,
	}
}

// memStore mimics the repository: unique hash, provider+number lookup, similarity via policy.
type memStore struct {
	mu         sync.Mutex
	rows       map[string]entity.CandidateInvoice
	seq        int
	lookupErr  error
	onInsert   func(s *memStore, c entity.CandidateInvoice) error
	insertions int
}

func newMemStore() *memStore { return &memStore{rows: map[string]entity.CandidateInvoice{}} }

func (s *memStore) summary(id string, c entity.CandidateInvoice) *entity.InvoiceSummary {
	return &entity.InvoiceSummary{ID: id, Hash: c.HashContenido, Provider: *c.Provider, Number: *c.Number, Amount: *c.Total, Date: *c.IssueDate}
}

func (s *memStore) Lookup(_ context.Context, c entity.CandidateInvoice) (repository.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap repository.Snapshot
	if s.lookupErr != nil {
		return snap, s.lookupErr
	}
	policy := dedup.DefaultSimilarityPolicy()
	for id, row := range s.rows {
		switch {
		case row.HashContenido == c.HashContenido:
			snap.Hash = s.summary(id, row)
		case hasher.NormalizeText(*row.Provider) == hasher.NormalizeText(*c.Provider) &&
			hasher.NormalizeNumber(*row.Number) == hasher.NormalizeNumber(*c.Number):
			snap.Number = s.summary(id, row)
		default:
			if sum := s.summary(id, row); policy.Matches(c.ExtractedFields, *sum) {
				snap.Similar = sum
			}
		}
	}
	return snap, nil
}

func (s *memStore) insertLocked(c entity.CandidateInvoice) (string, error) {
	for _, row := range s.rows {
		if row.HashContenido == c.HashContenido {
			return "", fmt.Errorf("%w: duplicate hash", common.ErrConflict)
		}
	}
	s.seq++
	id := fmt.Sprintf("inv-%d", s.seq)
	s.rows[id] = c
	return id, nil
}

func (s *memStore) Insert(_ context.Context, c entity.CandidateInvoice) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertions++
	if s.onInsert != nil {
		if err := s.onInsert(s, c); err != nil {
			return "", err
		}
	}
	return s.insertLocked(c)
}

func (s *memStore) Update(_ context.Context, id string, c entity.CandidateInvoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return common.ErrNotFound
	}
	s.rows[id] = c
	return nil
}

func newProcessor(t *testing.T, ex Extractor, store InvoiceStore) (*Processor, *quarantine.FSStore) {
	t.Helper()
	q, err := quarantine.NewFSStore(t.TempDir(), nil)
	require.NoError(t, err)
	return New(ex, store, q, Defaults(), nil), q
}

var doc = entity.Document{Path: "/in/acme-001.pdf", ContentHash: "feedbeef", Format: constants.PDF}

func TestProcessInsertThenSkipIsIdempotent(t *testing.T) {
	store := newMemStore()
	p, _ := newProcessor(t, &fakeExtractor{res: result("ACME SL", "F-1", "121.00", constants.ConfidenceAlta)}, store)
	ctx := context.Background()

	out, err := p.Process(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, constants.DecisionInsert, out.Result.Decision)
	require.Equal(t, dedup.ReasonNewInvoice, out.Result.Reason)
	require.Equal(t, constants.EstadoProcesado, out.Candidate.Estado)
	require.NotEmpty(t, out.InvoiceID)
	require.Len(t, out.Candidate.HashContenido, 64)

	again, err := p.Process(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, constants.DecisionSkip, again.Result.Decision)
	require.Equal(t, []string{out.InvoiceID}, again.Result.MatchedIDs)
	require.Len(t, store.rows, 1)
}

func TestProcessLowConfidencePersistsForReview(t *testing.T) {
	store := newMemStore()
	p, _ := newProcessor(t, &fakeExtractor{res: result("ACME SL", "F-2", "50.00", constants.ConfidenceBaja)}, store)

	out, err := p.Process(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, constants.DecisionInsert, out.Result.Decision)
	require.Equal(t, constants.EstadoRevisar, out.Candidate.Estado)
	require.Equal(t, constants.EstadoRevisar, store.rows[out.InvoiceID].Estado)
}

func TestProcessExtractionFailureQuarantines(t *testing.T) {
	store := newMemStore()
	ex := &fakeExtractor{
		res: entity.ExtractionResult{Source: entity.Source{NumericExtractorID: "none", TextExtractorID: "none"}, Confidence: constants.ConfidenceBaja},
		err: fmt.Errorf("%w: numeric: boom; text: boom", extract.ErrExtractionFailed),
	}
	p, q := newProcessor(t, ex, store)
	ctx := context.Background()

	out, err := p.Process(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, constants.DecisionQuarantine, out.Result.Decision)
	require.Equal(t, constants.EstadoErrorPermanente, out.Candidate.Estado)
	require.Equal(t, "src-feedbeef", out.QuarantineKey)
	require.True(t, strings.HasPrefix(out.Result.Reason, "extraction failed permanently"))

	_, err = p.Process(ctx, doc)
	require.NoError(t, err)
	entries, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Zero(t, store.insertions)
}

func TestProcessIncompleteQuarantines(t *testing.T) {
	res := result("ACME SL", "F-3", "10.00", constants.ConfidenceMedia)
	res.Fields.Number = nil
	p, q := newProcessor(t, &fakeExtractor{res: res}, newMemStore())

	out, err := p.Process(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, constants.DecisionQuarantine, out.Result.Decision)
	require.Contains(t, out.Result.Reason, "insufficient data to decide")
	require.Contains(t, out.Result.Reason, "numero_factura")
	require.Equal(t, constants.EstadoRevisar, out.Candidate.Estado)
	require.Empty(t, out.Candidate.HashContenido)

	got, err := q.Get(context.Background(), out.QuarantineKey)
	require.NoError(t, err)
	require.Equal(t, out.Result.Reason, got.Reason)
}

func TestProcessCorrectedAmountUpdates(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	ex := &fakeExtractor{res: result("ACME SL", "F-4", "121.50", constants.ConfidenceAlta)}
	p, _ := newProcessor(t, ex, store)

	first, err := p.Process(ctx, doc)
	require.NoError(t, err)

	ex.res = result("ACME SL", "F-4", "121.00", constants.ConfidenceAlta)
	second, err := p.Process(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, constants.DecisionUpdate, second.Result.Decision)
	require.Equal(t, first.InvoiceID, second.InvoiceID)
	require.Contains(t, second.Result.Reason, "importe_total 121.50 -> 121.00")
	require.True(t, store.rows[first.InvoiceID].Total.Equal(decimal.RequireFromString("121")))
}

func TestProcessSimilarQuarantines(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	ex := &fakeExtractor{res: result("Acme Suministros SL", "F-5", "250.00", constants.ConfidenceAlta)}
	p, q := newProcessor(t, ex, store)
	_, err := p.Process(ctx, doc)
	require.NoError(t, err)

	ex.res = result("ACME Suministros, SL", "F-5B", "250.00", constants.ConfidenceAlta)
	out, err := p.Process(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, constants.DecisionQuarantine, out.Result.Decision)
	require.Len(t, out.Result.MatchedIDs, 1)

	entries, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, out.Result.MatchedIDs, entries[0].MatchedIDs)
}

func TestProcessConflictRedecides(t *testing.T) {
	store := newMemStore()
	raced := false
	store.onInsert = func(s *memStore, c entity.CandidateInvoice) error {
		if raced {
			return nil
		}
		raced = true
		// another worker stores the same invoice between lookup and insert
		_, _ = s.insertLocked(c)
		return fmt.Errorf("%w: unique violation", common.ErrConflict)
	}
	p, _ := newProcessor(t, &fakeExtractor{res: result("ACME SL", "F-6", "10.00", constants.ConfidenceAlta)}, store)

	out, err := p.Process(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, 2, out.Decisions)
	require.Equal(t, constants.DecisionSkip, out.Result.Decision)
	require.Len(t, store.rows, 1)
}

func TestProcessStoreUnavailable(t *testing.T) {
	store := newMemStore()
	store.lookupErr = fmt.Errorf("%w: connection refused", common.ErrDatabase)
	p, _ := newProcessor(t, &fakeExtractor{res: result("ACME SL", "F-7", "10.00", constants.ConfidenceAlta)}, store)

	_, err := p.Process(context.Background(), doc)
	require.ErrorIs(t, err, common.ErrDatabase)
}

func TestProcessCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, _ := newProcessor(t, &fakeExtractor{err: context.Canceled}, newMemStore())
	_, err := p.Process(ctx, doc)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestDecideHasNoSideEffects(t *testing.T) {
	store := newMemStore()
	p, q := newProcessor(t, &fakeExtractor{res: result("ACME SL", "F-8", "10.00", constants.ConfidenceAlta)}, store)
	ctx := context.Background()

	c, err := p.Extract(ctx, doc)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		res, _, err := p.Decide(ctx, c)
		require.NoError(t, err)
		require.Equal(t, constants.DecisionInsert, res.Decision)
	}
	require.Zero(t, store.insertions)
	entries, _ := q.List(ctx)
	require.Empty(t, entries)
}

func TestConfigRetriesZeroIsHonoured(t *testing.T) {
	require.Equal(t, 0, Config{MaxRetries: 0}.withDefaults().MaxRetries)
	require.Equal(t, 1, Config{MaxRetries: -1}.withDefaults().MaxRetries)
	require.Equal(t, 0, Config{MaxRetries: 0}.ExtractConfig().MaxRetries)

	store := newMemStore()
	store.onInsert = func(*memStore, entity.CandidateInvoice) error {
		return fmt.Errorf("%w: unique violation", common.ErrConflict)
	}
	q, err := quarantine.NewFSStore(t.TempDir(), nil)
	require.NoError(t, err)
	cfg := Defaults()
	cfg.MaxRetries = 0
	p := New(&fakeExtractor{res: result("ACME SL", "F-9", "10.00", constants.ConfidenceAlta)}, store, q, cfg, nil)

	out, err := p.Process(context.Background(), doc)
	require.ErrorIs(t, err, common.ErrConflict)
	require.Equal(t, 1, out.Decisions)
	require.Equal(t, 1, store.insertions)
}
