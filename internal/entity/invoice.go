package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
)

// ErrInvalidTransition is returned when an estado change would move backwards.
var ErrInvalidTransition = errors.New("invalid estado transition")

// ExtractedFields is what a single extractor managed to read. Every member is optional.
type ExtractedFields struct {
	Total     *decimal.Decimal `json:"importe_total,omitempty"`
	Base      *decimal.Decimal `json:"base_imponible,omitempty"`
	TaxTotal  *decimal.Decimal `json:"impuestos_total,omitempty"`
	VATRate   *decimal.Decimal `json:"iva_porcentaje,omitempty"`
	Number    *string          `json:"numero_factura,omitempty"`
	Provider  *string          `json:"proveedor_text,omitempty"`
	IssueDate *Date            `json:"fecha_emision,omitempty"`
	Currency  *string          `json:"moneda,omitempty"`
}

// HasAmounts reports whether any amount field was read.
func (f ExtractedFields) HasAmounts() bool {
	return f.Total != nil || f.Base != nil || f.TaxTotal != nil
}

// HasAllAmounts reports whether total, base and tax were all read.
func (f ExtractedFields) HasAllAmounts() bool {
	return f.Total != nil && f.Base != nil && f.TaxTotal != nil
}

// TextFieldCount counts the provider/number/date/currency members that are set.
func (f ExtractedFields) TextFieldCount() int {
	n := 0
	if f.Provider != nil {
		n++
	}
	if f.Number != nil {
		n++
	}
	if f.IssueDate != nil {
		n++
	}
	if f.Currency != nil {
		n++
	}
	return n
}

// IsEmpty reports whether no field at all was read.
func (f ExtractedFields) IsEmpty() bool {
	return !f.HasAmounts() && f.VATRate == nil && f.TextFieldCount() == 0
}

// Discrepancy records a field both extractors reported with different values.
type Discrepancy struct {
	Field   string `json:"field"`
	Numeric string `json:"numeric"`
	Text    string `json:"text"`
	Winner  string `json:"winner"`
}

func (d Discrepancy) String() string {
	return fmt.Sprintf("%s: numeric=%s text=%s (kept %s)", d.Field, d.Numeric, d.Text, d.Winner)
}

// Source identifies which extractors produced a result.
type Source struct {
	NumericExtractorID string `json:"numeric_extractor_id"`
	TextExtractorID    string `json:"text_extractor_id"`
}

// ExtractionResult is the reconciled output of one or more extraction attempts.
type ExtractionResult struct {
	Fields         ExtractedFields      `json:"fields"`
	Source         Source               `json:"source"`
	Confidence     constants.Confidence `json:"confidence"`
	Discrepancies  []Discrepancy        `json:"discrepancies,omitempty"`
	AgreementRatio float64              `json:"agreement_ratio"`
	Attempts       int                  `json:"attempts"`
	Warnings       []string             `json:"warnings,omitempty"`
}

// CandidateInvoice is a reconciled, not yet persisted invoice record.
type CandidateInvoice struct {
	ExtractedFields

	HashContenido    string               `json:"hash_contenido,omitempty"`
	Estado           constants.Estado     `json:"estado"`
	ErrorMsg         *string              `json:"error_msg,omitempty"`
	Confidence       constants.Confidence `json:"confianza"`
	Extractor        string               `json:"extractor"`
	ExtractorNumeros string               `json:"extractor_numeros"`
	ExtractorTexto   string               `json:"extractor_texto"`
	Discrepancies    []Discrepancy        `json:"discrepancias,omitempty"`

	SourcePath string `json:"source_path,omitempty"`
	SourceHash string `json:"source_hash,omitempty"`
}

// NewCandidate builds a pendiente candidate from a reconciled result.
func NewCandidate(res ExtractionResult, doc Document) CandidateInvoice {
	return CandidateInvoice{
		ExtractedFields:  res.Fields,
		Estado:           constants.EstadoPendiente,
		Confidence:       res.Confidence,
		Extractor:        res.Source.NumericExtractorID + "+" + res.Source.TextExtractorID,
		ExtractorNumeros: res.Source.NumericExtractorID,
		ExtractorTexto:   res.Source.TextExtractorID,
		Discrepancies:    res.Discrepancies,
		SourcePath:       doc.Path,
		SourceHash:       doc.ContentHash,
	}
}

// Transition moves the candidate forward; backward moves are rejected.
func (c *CandidateInvoice) Transition(to constants.Estado) error {
	if !constants.CanTransition(c.Estado, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Estado, to)
	}
	c.Estado = to
	return nil
}

// Fail marks the candidate as permanently failed with msg.
func (c *CandidateInvoice) Fail(msg string) error {
	if err := c.Transition(constants.EstadoErrorPermanente); err != nil {
		return err
	}
	c.ErrorMsg = &msg
	return nil
}

// InvoiceSummary is the read-only view of a stored invoice used for duplicate decisions.
type InvoiceSummary struct {
	ID       string          `json:"id"`
	Hash     string          `json:"hash"`
	Provider string          `json:"provider"`
	Number   string          `json:"number"`
	Amount   decimal.Decimal `json:"amount"`
	Date     Date            `json:"date"`
}

// Invoice is a persisted invoice row.
type Invoice struct {
	ID        string
	Candidate CandidateInvoice
	CreatedAt time.Time
	UpdatedAt time.Time
}
