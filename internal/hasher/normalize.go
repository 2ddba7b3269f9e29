package hasher

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// AmountPlaces is the fixed currency precision amounts are rounded to before hashing.
const AmountPlaces = 2

// NormalizeText applies NFKC, Unicode case folding and whitespace collapsing.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s) // Casers are stateful, one per call
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// NormalizeNumber normalizes an invoice number. Spaces around separators are dropped
// so "F-2024 / 001" and "f-2024/001" collapse to the same value.
func NormalizeNumber(s string) string {
	s = NormalizeText(s)
	var b strings.Builder
	b.Grow(len(s))
	rs := []rune(s)
	for i, r := range rs {
		if r == ' ' {
			prev, next := rs[i-1], rs[i+1]
			if isSeparator(prev) || isSeparator(next) {
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isSeparator(r rune) bool {
	return r == '-' || r == '/' || r == '.' || r == '_'
}

// NormalizeAmount rounds half away from zero to two places and renders a fixed-point string.
func NormalizeAmount(d decimal.Decimal) string {
	return d.Round(AmountPlaces).StringFixed(AmountPlaces)
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2/1/2006",
	"02/01/06",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseDate accepts the date shapes found on invoices; day-first is assumed for
// slash/dash/dot layouts.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// CanonicalDate renders t in the single format used for hashing.
func CanonicalDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
