package ocr

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Amounts are the numeric fields read from invoice text.
type Amounts struct {
	Total    *decimal.Decimal
	Base     *decimal.Decimal
	Tax      *decimal.Decimal
	VATRate  *decimal.Decimal
	Currency string
}

var (
	reNumber  = regexp.MustCompile(`-?\d+(?:[.,]\d+)*(\s*%)?`)
	reBaseKw  = regexp.MustCompile(`base imponible|\bbase\b|subtotal|\bneto\b|net amount`)
	reTaxKw   = regexp.MustCompile(`\biva\b|\bi\.v\.a\b|impuesto|\bcuota\b|\bvat\b|\btax\b|\bigic\b`)
	reInclKw  = regexp.MustCompile(`inclu|\bincl\b`)
	reTotalKw = regexp.MustCompile(`\btotal\b|importe total|a pagar|amount due`)
)

// ParseAmounts scans text line by line for total, base, tax and VAT rate.
// Later lines override earlier ones since summaries sit at the bottom.
func ParseAmounts(text string) Amounts {
	var out Amounts
	for _, raw := range strings.Split(text, "\n") {
		line := strings.ToLower(strings.TrimSpace(raw))
		if line == "" {
			continue
		}
		if out.Currency == "" {
			out.Currency = detectCurrency(line)
		}
		amount, rate := lineNumbers(line)

		switch {
		case reBaseKw.MatchString(line):
			if amount != nil {
				out.Base = amount
			}
		case reTaxKw.MatchString(line) && !reInclKw.MatchString(line):
			if amount != nil {
				out.Tax = amount
			}
			if rate != nil {
				out.VATRate = rate
			}
		case reTotalKw.MatchString(line):
			if amount != nil {
				out.Total = amount
			}
		}
	}
	return out
}

// lineNumbers returns the last plain amount and the last percentage on a line.
func lineNumbers(line string) (amount, rate *decimal.Decimal) {
	for _, m := range reNumber.FindAllString(line, -1) {
		isPct := strings.HasSuffix(m, "%")
		tok := strings.TrimSpace(strings.TrimSuffix(m, "%"))
		d, ok := ParseNumber(tok)
		if !ok {
			continue
		}
		if isPct {
			rate = &d
			continue
		}
		// bare integers next to amounts are usually rates or line numbers
		if !strings.ContainsAny(tok, ".,") && amount != nil {
			continue
		}
		amount = &d
	}
	return amount, rate
}

// ParseNumber parses 1.234,56 and 1,234.56 style numbers. A lone separator
// followed by exactly three digits is read as a thousands separator.
func ParseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	var decSep, thouSep string
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decSep, thouSep = ".", ","
		} else {
			decSep, thouSep = ",", "."
		}
	case lastComma >= 0:
		decSep, thouSep = sepRole(s, ",", lastComma)
	case lastDot >= 0:
		decSep, thouSep = sepRole(s, ".", lastDot)
	}
	if thouSep != "" {
		s = strings.ReplaceAll(s, thouSep, "")
	}
	if decSep == "," {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func sepRole(s, sep string, last int) (decSep, thouSep string) {
	digitsAfter := len(s) - last - 1
	if strings.Count(s, sep) > 1 || digitsAfter == 3 {
		return "", sep
	}
	return sep, ""
}

func detectCurrency(line string) string {
	switch {
	case strings.Contains(line, "€") || strings.Contains(line, "eur"):
		return "EUR"
	case strings.Contains(line, "£") || strings.Contains(line, "gbp"):
		return "GBP"
	case strings.Contains(line, "$") || strings.Contains(line, "usd"):
		return "USD"
	}
	return ""
}
