package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/quarantine"
)

// InvoiceLister is the slice of the invoice repository the export needs.
type InvoiceLister interface {
	List(ctx context.Context, from, to *time.Time) ([]*entity.Invoice, error)
}

// Service produces XLSX bytes for stored invoices and pending review entries.
type Service struct {
	invoices   InvoiceLister
	quarantine quarantine.Store
	logger     *slog.Logger
}

func NewService(invoices InvoiceLister, q quarantine.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{invoices: invoices, quarantine: q, logger: logger}
}

var quarantineHeaders = []string{
	"Key",
	"Reason",
	"Decision",
	"Provider",
	"Invoice Number",
	"Issue Date",
	"Total",
	"Currency",
	"Confidence",
	"Estado",
	"Matched IDs",
	"Source Path",
	"Quarantined At",
}

var invoiceHeaders = []string{
	"Issue Date",
	"Provider",
	"Invoice Number",
	"Base",
	"Tax",
	"VAT %",
	"Total",
	"Currency",
	"Estado",
	"Confidence",
	"Extractor",
	"Source Path",
}

// ExportQuarantineXLSX returns a workbook with one sheet per month of pending entries.
// An empty review queue yields a single empty "Pending" sheet.
func (s *Service) ExportQuarantineXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()
	entries, err := s.quarantine.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quarantine: %w", err)
	}
	groups, months := quarantine.GroupByMonth(entries)

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const defaultSheet = "Sheet1"
	if len(months) == 0 {
		if err := f.SetSheetName(defaultSheet, "Pending"); err != nil {
			return nil, err
		}
		writeHeaders(f, "Pending", quarantineHeaders)
	}
	for i, month := range months {
		sheet := month
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, sheet); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
		writeHeaders(f, sheet, quarantineHeaders)
		for r, e := range groups[month] {
			c := e.Candidate
			writeRow(f, sheet, r+2,
				e.Key,
				e.Reason,
				string(e.Decision),
				deref(c.Provider),
				deref(c.Number),
				dateString(c.IssueDate),
				decString(c.Total),
				deref(c.Currency),
				string(c.Confidence),
				string(c.Estado),
				strings.Join(e.MatchedIDs, ", "),
				c.SourcePath,
				e.QuarantinedAt.UTC().Format(time.RFC3339),
			)
		}
		_ = f.SetColWidth(sheet, "A", "A", 24)
		_ = f.SetColWidth(sheet, "B", "B", 60)
		_ = f.SetColWidth(sheet, "D", "D", 32)
		_ = f.SetColWidth(sheet, "L", "L", 48)
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.quarantine.ok", "entries", len(entries), "months", len(months), "bytes", buf.Len(), "duration", time.Since(start))
	return buf.Bytes(), nil
}

// ExportInvoicesXLSX returns stored invoices issued within the window.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all invoices.
func (s *Service) ExportInvoicesXLSX(ctx context.Context, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	var fromDate, toDate *time.Time
	if from != nil {
		f := entity.NewDate(*from).Time
		fromDate = &f
	}
	if to != nil {
		t := entity.NewDate(*to).Time
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		t := entity.NewDate(time.Now().UTC()).Time
		toDate = &t
	}

	invs, err := s.invoices.List(ctx, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	const sheet = "Invoices"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	writeHeaders(f, sheet, invoiceHeaders)
	for i, inv := range invs {
		c := inv.Candidate
		writeRow(f, sheet, i+2,
			dateString(c.IssueDate),
			deref(c.Provider),
			deref(c.Number),
			decString(c.Base),
			decString(c.TaxTotal),
			decString(c.VATRate),
			decString(c.Total),
			deref(c.Currency),
			string(c.Estado),
			string(c.Confidence),
			c.Extractor,
			c.SourcePath,
		)
	}
	_ = f.SetColWidth(sheet, "A", "A", 14) // date
	_ = f.SetColWidth(sheet, "B", "B", 32) // provider
	_ = f.SetColWidth(sheet, "C", "C", 20) // number
	_ = f.SetColWidth(sheet, "D", "G", 14) // amounts
	_ = f.SetColWidth(sheet, "L", "L", 60) // path

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.invoices.ok", "rows", len(invs), "bytes", buf.Len(), "duration", time.Since(start))
	return buf.Bytes(), nil
}

func writeHeaders(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
}

func writeRow(f *excelize.File, sheet string, row int, values ...string) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func dateString(d *entity.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func decString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}
