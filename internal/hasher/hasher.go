package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
)

// ErrIncomplete is returned when a record cannot be hashed.
var ErrIncomplete = errors.New("incomplete invoice identity")

const (
	minYear = 1900
	maxYear = 2100
)

// GenerateContentHash returns the hex SHA-256 of the normalized identity fields.
// Each field is length-prefixed so separators inside a value cannot shift bytes
// from one field into the next.
func GenerateContentHash(provider, number string, issueDate time.Time, amount decimal.Decimal) string {
	h := sha256.New()
	for _, part := range []string{
		NormalizeText(provider),
		NormalizeNumber(number),
		CanonicalDate(issueDate),
		NormalizeAmount(amount),
	} {
		fmt.Fprintf(h, "%d:%s|", len(part), part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateHashCompleteness reports whether provider, number, issue date and total are
// present and well formed. The reason lists every offending field.
func ValidateHashCompleteness(f entity.ExtractedFields) (bool, string) {
	var missing, malformed []string

	if f.Provider == nil {
		missing = append(missing, "proveedor_text")
	} else if NormalizeText(*f.Provider) == "" {
		malformed = append(malformed, "proveedor_text (blank)")
	}

	if f.Number == nil {
		missing = append(missing, "numero_factura")
	} else if NormalizeNumber(*f.Number) == "" {
		malformed = append(malformed, "numero_factura (blank)")
	}

	if f.IssueDate == nil || f.IssueDate.IsZero() {
		missing = append(missing, "fecha_emision")
	} else if y := f.IssueDate.Year(); y < minYear || y > maxYear {
		malformed = append(malformed, fmt.Sprintf("fecha_emision (year %d out of range)", y))
	}

	if f.Total == nil {
		missing = append(missing, "importe_total")
	} else if f.Total.IsNegative() {
		malformed = append(malformed, "importe_total (negative)")
	}

	if len(missing) == 0 && len(malformed) == 0 {
		return true, ""
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(missing, ", "))
	}
	if len(malformed) > 0 {
		parts = append(parts, "malformed "+strings.Join(malformed, ", "))
	}
	return false, strings.Join(parts, "; ")
}

// HashFields gates on completeness and hashes the identity fields.
func HashFields(f entity.ExtractedFields) (string, error) {
	if ok, reason := ValidateHashCompleteness(f); !ok {
		return "", fmt.Errorf("%w: %s", ErrIncomplete, reason)
	}
	return GenerateContentHash(*f.Provider, *f.Number, f.IssueDate.Time, *f.Total), nil
}
