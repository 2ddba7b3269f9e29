package llm

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/hasher"
)

// InvoiceFields is the normalized shape we want from the LLM.
// Amounts are optional: the numeric extractor owns them, these only fill gaps.
type InvoiceFields struct {
	Provider        string  `json:"proveedor_text"`
	Number          string  `json:"numero_factura"`
	IssueDate       string  `json:"fecha_emision"`            // YYYY-MM-DD
	Currency        string  `json:"moneda,omitempty"`         // ISO 4217
	Total           string  `json:"importe_total,omitempty"`  // decimal
	Base            string  `json:"base_imponible,omitempty"` // decimal
	TaxTotal        string  `json:"impuestos_total,omitempty"`
	VATRate         string  `json:"iva_porcentaje,omitempty"`
	ModelConfidence float32 `json:"confidence,omitempty"` // optional (0..1)
}

// ToExtracted converts the model output into extracted fields. Values that do not
// parse are dropped and reported as warnings instead of failing the whole call.
func (f InvoiceFields) ToExtracted() (entity.ExtractedFields, []string) {
	var out entity.ExtractedFields
	var warnings []string

	if s := strings.TrimSpace(f.Provider); s != "" {
		out.Provider = &s
	}
	if s := strings.TrimSpace(f.Number); s != "" {
		out.Number = &s
	}
	if s := strings.ToUpper(strings.TrimSpace(f.Currency)); s != "" {
		if verr := common.CurrencyCode("moneda", s); verr != nil {
			warnings = append(warnings, "dropped "+verr.Error())
		} else {
			out.Currency = &s
		}
	}
	if s := strings.TrimSpace(f.IssueDate); s != "" {
		if t, err := hasher.ParseDate(s); err == nil {
			out.IssueDate = entity.DatePtr(t)
		} else {
			warnings = append(warnings, fmt.Sprintf("fecha_emision %q unparseable", s))
		}
	}

	money := []struct {
		name string
		raw  string
		dst  **decimal.Decimal
	}{
		{"importe_total", f.Total, &out.Total},
		{"base_imponible", f.Base, &out.Base},
		{"impuestos_total", f.TaxTotal, &out.TaxTotal},
		{"iva_porcentaje", f.VATRate, &out.VATRate},
	}
	for _, m := range money {
		s := strings.TrimSpace(m.raw)
		if s == "" {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s %q unparseable", m.name, s))
			continue
		}
		*m.dst = &d
	}
	return out, warnings
}

type ExtractRequest struct {
	Text            string // embedded PDF text, may be empty for scans
	FilenameHint    string
	DefaultCurrency string
	ImageDataURL    string // first page, attached when there is no usable text
}
