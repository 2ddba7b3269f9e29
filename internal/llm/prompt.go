package llm

import (
	"strings"
)

const maxPromptText = 3000

// BuildSystemPrompt composes the system message with the currency default and formatting rules.
func BuildSystemPrompt(req ExtractRequest) string {
	defCur := strings.TrimSpace(req.DefaultCurrency)
	if defCur == "" {
		defCur = "EUR"
	}

	parts := []string{
		"You are an invoice parser for scanned Spanish and English supplier invoices. Return ONLY JSON that matches the provided JSON Schema.",
		"'proveedor_text' is the issuing company name exactly as printed, without tax ids or addresses.",
		"'numero_factura' is the invoice number exactly as printed, including series prefixes.",
		"'fecha_emision' is the issue date in ISO-8601 (YYYY-MM-DD). Dates on these invoices are day-first.",
		"'moneda' must be a 3-letter ISO 4217 code; default to " + defCur + " if uncertain.",
		"Money fields use a dot as decimal separator and no thousands separator.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the filename hint and either the text layer or a note about the attached image.
func BuildUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	if f := strings.TrimSpace(req.FilenameHint); f != "" {
		b.WriteString("Filename: ")
		b.WriteString(f)
		b.WriteString("\n")
	}

	text := strings.TrimSpace(req.Text)
	if text != "" {
		b.WriteString("\nDocument text (first ~3k chars):\n")
		if len(text) > maxPromptText {
			b.WriteString(text[:maxPromptText])
			b.WriteString("\n…(truncated)")
		} else {
			b.WriteString(text)
		}
	}
	if req.ImageDataURL != "" {
		b.WriteString("\nNote: an image of the first page is attached. Read the header block for provider, number and date.\n")
	}
	return b.String()
}
