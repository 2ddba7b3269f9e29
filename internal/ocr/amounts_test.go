package ocr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	cases := map[string]string{
		"121,00":    "121",
		"1.234,56":  "1234.56",
		"1,234.56":  "1234.56",
		"1.234":     "1234",
		"1,234":     "1234",
		"12.5":      "12.5",
		"1.234.567": "1234567",
		"-3,10":     "-3.1",
		"42":        "42",
	}
	for in, want := range cases {
		d, ok := ParseNumber(in)
		require.True(t, ok, in)
		require.Equal(t, want, d.String(), in)
	}
	_, ok := ParseNumber("")
	require.False(t, ok)
}

func TestParseAmountsSpanishInvoice(t *testing.T) {
	text := `ACME SUMINISTROS SL
CIF B12345678
Factura nº F-2024/001
Fecha: 05/03/2024
Concepto            Uds   Importe
Tornillos            2     100,00
Base imponible             100,00 €
IVA 21%                     21,00 €
TOTAL                      121,00 €`

	a := ParseAmounts(text)
	require.NotNil(t, a.Total)
	require.Equal(t, "121", a.Total.String())
	require.Equal(t, "100", a.Base.String())
	require.Equal(t, "21", a.Tax.String())
	require.Equal(t, "21", a.VATRate.String())
	require.Equal(t, "EUR", a.Currency)
}

func TestParseAmountsEnglishInvoice(t *testing.T) {
	text := "Subtotal $1,000.00\nVAT (20%) $200.00\nTotal (VAT included) $1,200.00\n"
	a := ParseAmounts(text)
	require.Equal(t, "1200", a.Total.String())
	require.Equal(t, "1000", a.Base.String())
	require.Equal(t, "200", a.Tax.String())
	require.Equal(t, "20", a.VATRate.String())
	require.Equal(t, "USD", a.Currency)
}

func TestParseAmountsNothing(t *testing.T) {
	a := ParseAmounts("lorem ipsum\n\n")
	require.Nil(t, a.Total)
	require.Nil(t, a.Base)
	require.Nil(t, a.Tax)
	require.Empty(t, a.Currency)
}
