package repository

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/dedup"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/hasher"
)

func strp(s string) *string { return &s }

func decp(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func newTestRepo(t *testing.T) (InvoiceRepository, *DB) {
	t.Helper()
	ctx := context.Background()
	db, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "invoices.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })
	require.NoError(t, Migrate(db, nil))
	return NewInvoiceRepository(db, dedup.DefaultSimilarityPolicy(), nil), db
}

func candidate(provider, number, total string, date time.Time) entity.CandidateInvoice {
	c := entity.CandidateInvoice{
		ExtractedFields: entity.ExtractedFields{
			Provider:  strp(provider),
			Number:    strp(number),
			Total:     decp(total),
			Base:      decp("100"),
			IssueDate: entity.DatePtr(date),
			Currency:  strp("EUR"),
		},
		Estado:           constants.EstadoProcesado,
		Confidence:       constants.ConfidenceAlta,
		Extractor:        "tesseract+openai:m",
		ExtractorNumeros: "tesseract",
		ExtractorTexto:   "openai:m",
		Discrepancies:    []entity.Discrepancy{{Field: "moneda", Numeric: "USD", Text: "EUR", Winner: "text"}},
		SourcePath:       "/in/a.pdf",
	}
	h, err := hasher.HashFields(c.ExtractedFields)
	if err != nil {
		panic(err)
	}
	c.HashContenido = h
	return c
}

var march5 = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

func TestInsertAndFind(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	c := candidate("ACME SL", "F-2024/001", "121.00", march5)

	id, err := repo.Insert(ctx, c)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	byHash, err := repo.FindByHash(ctx, c.HashContenido)
	require.NoError(t, err)
	require.NotNil(t, byHash)
	require.Equal(t, id, byHash.ID)
	require.True(t, byHash.Amount.Equal(decimal.RequireFromString("121")))
	require.Equal(t, "2024-03-05", byHash.Date.String())

	byNumber, err := repo.FindByNumber(ctx, "acme  sl", "f-2024 / 001")
	require.NoError(t, err)
	require.NotNil(t, byNumber)
	require.Equal(t, id, byNumber.ID)

	missing, err := repo.FindByHash(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	inv, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, constants.EstadoProcesado, inv.Candidate.Estado)
	require.Equal(t, "EUR", *inv.Candidate.Currency)
	require.Len(t, inv.Candidate.Discrepancies, 1)
	require.False(t, inv.CreatedAt.IsZero())
}

func TestInsertDuplicateHashIsConflict(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	c := candidate("ACME SL", "F-1", "10.00", march5)

	_, err := repo.Insert(ctx, c)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, c)
	require.ErrorIs(t, err, common.ErrConflict)
}

func TestInsertRejectsIncomplete(t *testing.T) {
	repo, _ := newTestRepo(t)
	c := candidate("ACME SL", "F-1", "10.00", march5)
	c.Number = nil
	_, err := repo.Insert(context.Background(), c)
	require.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestInsertValidatesColumns(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	badCurrency := candidate("ACME SL", "F-1", "10.00", march5)
	badCurrency.Currency = strp("euro")
	_, err := repo.Insert(ctx, badCurrency)
	require.ErrorIs(t, err, common.ErrValidation)
	require.Contains(t, err.Error(), "moneda")

	longNumber := candidate("ACME SL", strings.Repeat("9", 101), "10.00", march5)
	_, err = repo.Insert(ctx, longNumber)
	require.ErrorIs(t, err, common.ErrValidation)

	noCurrency := candidate("ACME SL", "F-2", "10.00", march5)
	noCurrency.Currency = nil
	_, err = repo.Insert(ctx, noCurrency)
	require.NoError(t, err)
}

func TestFindSimilar(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	stored := candidate("Acme Suministros SL", "F-100", "250.00", march5)
	id, err := repo.Insert(ctx, stored)
	require.NoError(t, err)

	probe := candidate("ACME Suministros S.L", "F-100-B", "250.00", march5.AddDate(0, 0, 3))
	s, err := repo.FindSimilar(ctx, probe.ExtractedFields)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, id, s.ID)

	farDate := candidate("Acme Suministros SL", "F-101", "250.00", march5.AddDate(0, 1, 0))
	s, err = repo.FindSimilar(ctx, farDate.ExtractedFields)
	require.NoError(t, err)
	require.Nil(t, s)

	otherAmount := candidate("Acme Suministros SL", "F-102", "250.50", march5)
	s, err = repo.FindSimilar(ctx, otherAmount.ExtractedFields)
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestLookupAndUpdate(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	c := candidate("ACME SL", "F-7", "121.50", march5)
	id, err := repo.Insert(ctx, c)
	require.NoError(t, err)

	corrected := candidate("ACME SL", "F-7", "121.00", march5)
	snap, err := repo.Lookup(ctx, corrected)
	require.NoError(t, err)
	require.Nil(t, snap.Hash)
	require.NotNil(t, snap.Number)
	require.Equal(t, id, snap.Number.ID)
	require.Nil(t, snap.Similar)

	require.NoError(t, repo.Update(ctx, id, corrected))
	got, err := repo.FindByHash(ctx, corrected.HashContenido)
	require.NoError(t, err)
	require.Equal(t, id, got.ID)

	require.ErrorIs(t, repo.Update(ctx, "missing", corrected), common.ErrNotFound)
}

func TestList(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	for i, d := range []time.Time{march5, march5.AddDate(0, 1, 0), march5.AddDate(0, 2, 0)} {
		_, err := repo.Insert(ctx, candidate("ACME", "F-"+string(rune('A'+i)), "10.00", d))
		require.NoError(t, err)
	}

	all, err := repo.List(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)

	from := march5.AddDate(0, 0, 10)
	some, err := repo.List(ctx, &from, nil)
	require.NoError(t, err)
	require.Len(t, some, 2)
	require.Equal(t, "2024-04-05", some[0].Candidate.IssueDate.String())
}

func TestMigrateIsIdempotent(t *testing.T) {
	_, db := newTestRepo(t)
	require.NoError(t, Migrate(db, nil))
	require.NoError(t, HealthCheck(context.Background(), db, time.Second, nil))
}
