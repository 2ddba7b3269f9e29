package ocr

import (
	"regexp"
	"strings"
)

var (
	reDate   = regexp.MustCompile(`\b(\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4}|\d{4}-\d{2}-\d{2})\b`)
	reCurr   = regexp.MustCompile(`\b(eur|usd|gbp)\b|[$£€]`)
	reAmount = regexp.MustCompile(`\b\d{1,3}([.,]\d{3})*[.,]\d{2}\b`)
	reInvKw  = regexp.MustCompile(`\b(factura|invoice|iva|vat|nif|cif)\b`)
)

// heuristicConfidence scores decoded text by the invoice artifacts it contains.
func heuristicConfidence(txt string) float32 {
	txtL := strings.ToLower(txt)
	score := float32(0.2) // base
	if reDate.MatchString(txtL) {
		score += 0.2
	}
	if reCurr.MatchString(txtL) {
		score += 0.15
	}
	if reAmount.MatchString(txtL) {
		score += 0.15
	}
	if reInvKw.MatchString(txtL) {
		score += 0.1
	}
	if len(txt) > 120 {
		score += 0.1
	} // enough content
	if score > 1.0 {
		score = 1.0
	}
	return score
}
