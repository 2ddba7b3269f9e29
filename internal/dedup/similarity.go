package dedup

import (
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/hasher"
)

// SimilarityPolicy decides whether a stored invoice looks like the candidate
// under a different invoice number.
type SimilarityPolicy struct {
	AmountTolerance       decimal.Decimal // absolute, default 0.01
	ProviderMinSimilarity float64         // 1 - distance/maxLen on normalized names, default 0.85
	DateWindow            time.Duration   // +/- around the issue date, default 7 days
}

// DefaultSimilarityPolicy returns the documented thresholds.
func DefaultSimilarityPolicy() SimilarityPolicy {
	return SimilarityPolicy{
		AmountTolerance:       decimal.RequireFromString("0.01"),
		ProviderMinSimilarity: 0.85,
		DateWindow:            7 * 24 * time.Hour,
	}
}

func (p SimilarityPolicy) withDefaults() SimilarityPolicy {
	d := DefaultSimilarityPolicy()
	if p.AmountTolerance.IsZero() {
		p.AmountTolerance = d.AmountTolerance
	}
	if p.ProviderMinSimilarity <= 0 {
		p.ProviderMinSimilarity = d.ProviderMinSimilarity
	}
	if p.DateWindow <= 0 {
		p.DateWindow = d.DateWindow
	}
	return p
}

// ProviderSimilarity returns a 0..1 score between two provider names.
func ProviderSimilarity(a, b string) float64 {
	a, b = hasher.NormalizeText(a), hasher.NormalizeText(b)
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

// Matches reports whether s is a similarity match for c: similar provider, amount
// within tolerance, date inside the window (when both are known) and a different
// invoice number.
func (p SimilarityPolicy) Matches(c entity.ExtractedFields, s entity.InvoiceSummary) bool {
	p = p.withDefaults()
	if c.Provider == nil || c.Total == nil {
		return false
	}
	if c.Number != nil && hasher.NormalizeNumber(*c.Number) == hasher.NormalizeNumber(s.Number) {
		return false
	}
	if c.Total.Sub(s.Amount).Abs().GreaterThan(p.AmountTolerance) {
		return false
	}
	if ProviderSimilarity(*c.Provider, s.Provider) < p.ProviderMinSimilarity {
		return false
	}
	if c.IssueDate != nil && !s.Date.IsZero() {
		delta := c.IssueDate.Sub(s.Date.Time)
		if delta < 0 {
			delta = -delta
		}
		if delta > p.DateWindow {
			return false
		}
	}
	return true
}
