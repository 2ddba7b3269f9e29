package extract

import (
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
)

// Status summarizes how much one extractor delivered.
type Status int

const (
	StatusFailed Status = iota
	StatusPartial
	StatusFull
)

func (s Status) String() string {
	switch s {
	case StatusFull:
		return "full"
	case StatusPartial:
		return "partial"
	}
	return "failed"
}

// ConsistencyTolerance is the slack allowed between base+tax and total, one currency unit.
var ConsistencyTolerance = decimal.NewFromInt(1)

// Signals are the inputs to Label.
type Signals struct {
	Numeric   Status
	Text      Status
	Plausible bool
	// Agreement is the oracle agreement ratio; 1 for a single run.
	Agreement float64
}

// Label derives the confidence of a reconciled result.
func Label(s Signals, threshold float64) constants.Confidence {
	switch {
	case s.Agreement < threshold:
		return constants.ConfidenceBaja
	case s.Numeric == StatusFailed || s.Text == StatusFailed:
		return constants.ConfidenceBaja
	case s.Text == StatusFull && s.Plausible:
		return constants.ConfidenceAlta
	case s.Numeric == StatusFull:
		return constants.ConfidenceMedia
	}
	return constants.ConfidenceBaja
}

// NumericStatus grades numeric output: no amounts is failed, a total is full.
func NumericStatus(f entity.ExtractedFields, err error) Status {
	if err != nil || !f.HasAmounts() {
		return StatusFailed
	}
	if f.Total != nil {
		return StatusFull
	}
	return StatusPartial
}

// TextStatus grades text output: provider, number and date make it full.
func TextStatus(f entity.ExtractedFields, err error) Status {
	if err != nil || f.TextFieldCount() == 0 {
		return StatusFailed
	}
	if f.Provider != nil && f.Number != nil && f.IssueDate != nil {
		return StatusFull
	}
	return StatusPartial
}

// Plausible checks internal consistency of merged fields.
func Plausible(f entity.ExtractedFields) bool {
	if f.Total == nil || f.Total.IsNegative() {
		return false
	}
	if f.HasAllAmounts() {
		if f.Base.Add(*f.TaxTotal).Sub(*f.Total).Abs().GreaterThan(ConsistencyTolerance) {
			return false
		}
		if f.VATRate != nil {
			expected := f.Base.Mul(*f.VATRate).Div(decimal.NewFromInt(100))
			if expected.Sub(*f.TaxTotal).Abs().GreaterThan(ConsistencyTolerance) {
				return false
			}
		}
	}
	if f.IssueDate != nil {
		if y := f.IssueDate.Year(); y < 1900 || y > 2100 {
			return false
		}
	}
	return true
}
