package extract

import (
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/hasher"
)

const (
	winnerNumeric = "numeric"
	winnerText    = "text"
)

// Merge combines numeric and text output. Numeric wins amount and rate conflicts,
// text wins provider, number, date and currency conflicts. Values only one side
// reported are taken from that side.
func Merge(num, txt entity.ExtractedFields, tolerance decimal.Decimal) (entity.ExtractedFields, []entity.Discrepancy) {
	var out entity.ExtractedFields
	var diffs []entity.Discrepancy

	amount := func(name string, n, t *decimal.Decimal) *decimal.Decimal {
		switch {
		case n == nil:
			return t
		case t == nil:
			return n
		}
		if n.Sub(*t).Abs().GreaterThan(tolerance) {
			diffs = append(diffs, entity.Discrepancy{
				Field:   name,
				Numeric: hasher.NormalizeAmount(*n),
				Text:    hasher.NormalizeAmount(*t),
				Winner:  winnerNumeric,
			})
		}
		return n
	}
	out.Total = amount("importe_total", num.Total, txt.Total)
	out.Base = amount("base_imponible", num.Base, txt.Base)
	out.TaxTotal = amount("impuestos_total", num.TaxTotal, txt.TaxTotal)
	out.VATRate = amount("iva_porcentaje", num.VATRate, txt.VATRate)

	text := func(name string, n, t *string, norm func(string) string) *string {
		switch {
		case t == nil:
			return n
		case n == nil:
			return t
		}
		if norm(*n) != norm(*t) {
			diffs = append(diffs, entity.Discrepancy{Field: name, Numeric: *n, Text: *t, Winner: winnerText})
		}
		return t
	}
	out.Provider = text("proveedor_text", num.Provider, txt.Provider, hasher.NormalizeText)
	out.Number = text("numero_factura", num.Number, txt.Number, hasher.NormalizeNumber)
	out.Currency = text("moneda", num.Currency, txt.Currency, hasher.NormalizeText)

	switch {
	case txt.IssueDate != nil:
		out.IssueDate = txt.IssueDate
		if num.IssueDate != nil && !num.IssueDate.Equal(txt.IssueDate.Time) {
			diffs = append(diffs, entity.Discrepancy{
				Field:   "fecha_emision",
				Numeric: num.IssueDate.String(),
				Text:    txt.IssueDate.String(),
				Winner:  winnerText,
			})
		}
	default:
		out.IssueDate = num.IssueDate
	}
	return out, diffs
}
