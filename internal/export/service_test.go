package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/quarantine"
)

func strp(s string) *string { return &s }

func decp(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type fakeLister struct {
	invs     []*entity.Invoice
	from, to *time.Time
}

func (f *fakeLister) List(_ context.Context, from, to *time.Time) ([]*entity.Invoice, error) {
	f.from, f.to = from, to
	return f.invs, nil
}

func candidate(provider, number string, date time.Time) entity.CandidateInvoice {
	return entity.CandidateInvoice{
		ExtractedFields: entity.ExtractedFields{
			Provider:  strp(provider),
			Number:    strp(number),
			Total:     decp("121"),
			IssueDate: entity.DatePtr(date),
			Currency:  strp("EUR"),
		},
		Estado:     constants.EstadoRevisar,
		Confidence: constants.ConfidenceMedia,
		SourcePath: "/in/" + number + ".pdf",
		SourceHash: number,
	}
}

func open(t *testing.T, b []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestExportQuarantineOneSheetPerMonth(t *testing.T) {
	ctx := context.Background()
	store, err := quarantine.NewFSStore(t.TempDir(), nil)
	require.NoError(t, err)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	march := candidate("ACME SL", "F-1", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	april := candidate("Beta SA", "B-9", time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC))
	march2 := candidate("Gamma SL", "G-3", time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC))
	for _, c := range []entity.CandidateInvoice{march, april, march2} {
		e := quarantine.NewEntry(c, constants.DecisionQuarantine, "possible duplicate", []string{"inv-1"}, now)
		require.NoError(t, store.Write(ctx, e))
	}

	b, err := NewService(&fakeLister{}, store, nil).ExportQuarantineXLSX(ctx)
	require.NoError(t, err)

	f := open(t, b)
	require.Equal(t, []string{"2024-03", "2024-04"}, f.GetSheetList())

	rows, err := f.GetRows("2024-03")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, quarantineHeaders, rows[0])
	require.Equal(t, "possible duplicate", rows[1][1])
	require.Equal(t, "121.00", rows[1][6])
	require.Equal(t, "inv-1", rows[1][10])

	rows, err = f.GetRows("2024-04")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Beta SA", rows[1][3])
}

func TestExportQuarantineEmpty(t *testing.T) {
	store, err := quarantine.NewFSStore(t.TempDir(), nil)
	require.NoError(t, err)

	b, err := NewService(&fakeLister{}, store, nil).ExportQuarantineXLSX(context.Background())
	require.NoError(t, err)

	f := open(t, b)
	require.Equal(t, []string{"Pending"}, f.GetSheetList())
}

func TestExportInvoices(t *testing.T) {
	c := candidate("ACME SL", "F-1", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	c.Base = decp("100")
	c.TaxTotal = decp("21")
	lister := &fakeLister{invs: []*entity.Invoice{{ID: "inv-1", Candidate: c}}}

	from := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)
	b, err := NewService(lister, nil, nil).ExportInvoicesXLSX(context.Background(), &from, nil)
	require.NoError(t, err)
	require.Equal(t, "2024-03-01", lister.from.Format(entity.DateLayout))
	require.NotNil(t, lister.to)

	f := open(t, b)
	rows, err := f.GetRows("Invoices")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []string{"2024-03-05", "ACME SL", "F-1", "100.00", "21.00", "", "121.00", "EUR"}, rows[1][:8])
}
