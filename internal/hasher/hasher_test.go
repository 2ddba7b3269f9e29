package hasher

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
)

func strp(s string) *string { return &s }

func decp(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestGenerateContentHashStability(t *testing.T) {
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	base := GenerateContentHash("Acme Suministros S.L.", "F-2024/001", date, decimal.RequireFromString("121.00"))

	cases := []struct {
		name     string
		provider string
		number   string
		date     string
		amount   string
	}{
		{"upper provider", "ACME SUMINISTROS S.L.", "F-2024/001", "2024-03-05", "121.00"},
		{"extra whitespace", "  Acme   Suministros\tS.L. ", "F-2024/001", "2024-03-05", "121"},
		{"lower number", "acme suministros s.l.", "f-2024/001", "05/03/2024", "121.004"},
		{"spaced separators", "Acme Suministros S.L.", "F-2024 / 001", "05.03.2024", "120.995"},
		{"long date", "Acme Suministros S.L.", "F-2024/001", "5 March 2024", "121.0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := ParseDate(tc.date)
			require.NoError(t, err)
			got := GenerateContentHash(tc.provider, tc.number, d, decimal.RequireFromString(tc.amount))
			require.Equal(t, base, got)
		})
	}
}

func TestGenerateContentHashDistinguishesFields(t *testing.T) {
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	amt := decimal.RequireFromString("121.00")
	h := GenerateContentHash("Acme", "001", date, amt)

	require.Len(t, h, 64)
	require.NotEqual(t, h, GenerateContentHash("Acme", "002", date, amt))
	require.NotEqual(t, h, GenerateContentHash("Acme Ltd", "001", date, amt))
	require.NotEqual(t, h, GenerateContentHash("Acme", "001", date.AddDate(0, 0, 1), amt))
	require.NotEqual(t, h, GenerateContentHash("Acme", "001", date, decimal.RequireFromString("121.01")))
}

func TestGenerateContentHashFieldBoundaries(t *testing.T) {
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	amt := decimal.RequireFromString("10.00")

	cases := []struct {
		name   string
		a1, n1 string
		a2, n2 string
	}{
		{"pipe moved across fields", "Acme|X", "1", "Acme", "X|1"},
		{"trailing pipe", "Acme|", "1", "Acme", "|1"},
		{"colon and digits", "Acme", "3:abc", "Acme3:", "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NotEqual(t,
				GenerateContentHash(tc.a1, tc.n1, date, amt),
				GenerateContentHash(tc.a2, tc.n2, date, amt))
		})
	}
}

func TestNormalizeText(t *testing.T) {
	require.Equal(t, "acme s.l.", NormalizeText("  ACME  S.L.\n"))
	require.Equal(t, NormalizeText("STRASSE"), NormalizeText("Straße"))
	require.Equal(t, NormalizeText("ＡＣＭＥ"), NormalizeText("acme"))
}

func TestNormalizeAmount(t *testing.T) {
	require.Equal(t, "10.00", NormalizeAmount(decimal.NewFromInt(10)))
	require.Equal(t, "10.01", NormalizeAmount(decimal.RequireFromString("10.005")))
	require.Equal(t, "-3.46", NormalizeAmount(decimal.RequireFromString("-3.455")))
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-01-31", "31/01/2024", "31-01-2024", "31.01.2024", "2024/01/31", "31/01/24", "2024-01-31T10:00:00Z"} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		require.True(t, want.Equal(got), in)
	}
	_, err := ParseDate("yesterday")
	require.Error(t, err)
}

func TestValidateHashCompleteness(t *testing.T) {
	full := entity.ExtractedFields{
		Provider:  strp("Acme"),
		Number:    strp("001"),
		IssueDate: entity.DatePtr(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)),
		Total:     decp("10.00"),
	}
	ok, reason := ValidateHashCompleteness(full)
	require.True(t, ok)
	require.Empty(t, reason)

	t.Run("each missing field fails", func(t *testing.T) {
		drops := map[string]func(f *entity.ExtractedFields){
			"proveedor_text": func(f *entity.ExtractedFields) { f.Provider = nil },
			"numero_factura": func(f *entity.ExtractedFields) { f.Number = nil },
			"fecha_emision":  func(f *entity.ExtractedFields) { f.IssueDate = nil },
			"importe_total":  func(f *entity.ExtractedFields) { f.Total = nil },
		}
		for field, drop := range drops {
			f := full
			drop(&f)
			ok, reason := ValidateHashCompleteness(f)
			require.False(t, ok, field)
			require.Contains(t, reason, field)
		}
	})

	t.Run("malformed values fail", func(t *testing.T) {
		f := full
		f.Provider = strp("   ")
		f.IssueDate = entity.DatePtr(time.Date(1850, 1, 1, 0, 0, 0, 0, time.UTC))
		ok, reason := ValidateHashCompleteness(f)
		require.False(t, ok)
		require.True(t, strings.HasPrefix(reason, "malformed"))
		require.Contains(t, reason, "proveedor_text")
		require.Contains(t, reason, "year 1850")
	})

	t.Run("empty record lists everything", func(t *testing.T) {
		ok, reason := ValidateHashCompleteness(entity.ExtractedFields{})
		require.False(t, ok)
		require.Equal(t, "missing proveedor_text, numero_factura, fecha_emision, importe_total", reason)
	})
}

func TestHashFields(t *testing.T) {
	_, err := HashFields(entity.ExtractedFields{Provider: strp("Acme")})
	require.True(t, errors.Is(err, ErrIncomplete))

	h, err := HashFields(entity.ExtractedFields{
		Provider:  strp("ACME"),
		Number:    strp("001"),
		IssueDate: entity.DatePtr(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)),
		Total:     decp("10"),
	})
	require.NoError(t, err)
	require.Equal(t, GenerateContentHash("acme", "001", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), decimal.NewFromInt(10)), h)
}
