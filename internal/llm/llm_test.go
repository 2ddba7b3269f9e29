package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAndSanitizeJSON(t *testing.T) {
	raw := []byte(`{"vendor":" ACME SL ","invoice_number":"F-1","fecha":"2024-03-05","total":121.5,"base":null,"notes":"x"}`)
	out, dropped, err := NormalizeAndSanitizeJSON(raw, nil)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	require.Equal(t, "ACME SL", m["proveedor_text"])
	require.Equal(t, "F-1", m["numero_factura"])
	require.Equal(t, "121.50", m["importe_total"])
	require.NotContains(t, m, "base_imponible")
	require.NotContains(t, m, "notes")
	require.Contains(t, dropped, "notes(unknown)")

	require.NoError(t, ValidateJSONAgainstSchema(BuildInvoiceJSONSchema(), out))
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	err := ValidateJSONAgainstSchema(BuildInvoiceJSONSchema(), []byte(`{"proveedor_text":"ACME","fecha_emision":"2024-03-05"}`))
	require.Error(t, err)
}

func TestSanitizeOptionalFields(t *testing.T) {
	out, dropped, err := SanitizeOptionalFields([]byte(`{"moneda":"eu","importe_total":"1.234,56","iva_porcentaje":"n/a","confidence":3}`))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	require.ElementsMatch(t, []string{"moneda", "importe_total", "iva_porcentaje", "confidence"}, dropped)
	require.NotContains(t, m, "importe_total")
}

func TestToExtracted(t *testing.T) {
	f, warnings := InvoiceFields{
		Provider:  "ACME",
		Number:    " F-9 ",
		IssueDate: "31/01/2024",
		Currency:  "eur",
		Total:     "121.00",
		VATRate:   "abc",
	}.ToExtracted()

	require.Equal(t, "F-9", *f.Number)
	require.Equal(t, "2024-01-31", f.IssueDate.String())
	require.Equal(t, "EUR", *f.Currency)
	require.Equal(t, "121", f.Total.String())
	require.Nil(t, f.VATRate)
	require.Len(t, warnings, 1)
}

func TestToExtractedDropsBadCurrency(t *testing.T) {
	f, warnings := InvoiceFields{Provider: "ACME", Currency: "€"}.ToExtracted()
	require.Nil(t, f.Currency)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "moneda")
}

func TestBuildUserPromptTruncates(t *testing.T) {
	long := make([]byte, maxPromptText+10)
	for i := range long {
		long[i] = 'a'
	}
	p := BuildUserPrompt(ExtractRequest{Text: string(long), FilenameHint: "f.pdf"})
	require.Contains(t, p, "Filename: f.pdf")
	require.Contains(t, p, "(truncated)")
}
