package entity

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
)

func TestCandidateTransitionIsForwardOnly(t *testing.T) {
	c := CandidateInvoice{Estado: constants.EstadoPendiente}
	require.NoError(t, c.Transition(constants.EstadoRevisar))

	err := c.Transition(constants.EstadoPendiente)
	require.True(t, errors.Is(err, ErrInvalidTransition))
	require.Equal(t, constants.EstadoRevisar, c.Estado)
}

func TestCandidateFailSetsMessage(t *testing.T) {
	c := CandidateInvoice{Estado: constants.EstadoPendiente}
	require.NoError(t, c.Fail("numeric: timeout"))
	require.Equal(t, constants.EstadoErrorPermanente, c.Estado)
	require.Equal(t, "numeric: timeout", *c.ErrorMsg)
}

func TestCandidateJSONUsesFieldNames(t *testing.T) {
	total := decimal.RequireFromString("121.00")
	prov := "ACME SL"
	c := CandidateInvoice{
		ExtractedFields: ExtractedFields{
			Total:     &total,
			Provider:  &prov,
			IssueDate: DatePtr(time.Date(2024, 3, 5, 13, 4, 0, 0, time.UTC)),
		},
		Estado: constants.EstadoPendiente,
	}
	b, err := json.Marshal(c)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	require.Equal(t, "121", m["importe_total"])
	require.Equal(t, "ACME SL", m["proveedor_text"])
	require.Equal(t, "2024-03-05", m["fecha_emision"])
	require.Equal(t, "pendiente", m["estado"])

	var back CandidateInvoice
	require.NoError(t, json.Unmarshal(b, &back))
	require.True(t, back.Total.Equal(total))
	require.Equal(t, "2024-03-05", back.IssueDate.String())
}

func TestExtractedFieldsPredicates(t *testing.T) {
	var f ExtractedFields
	require.True(t, f.IsEmpty())
	require.False(t, f.HasAmounts())

	d := decimal.NewFromInt(10)
	f.Base = &d
	require.True(t, f.HasAmounts())
	require.False(t, f.HasAllAmounts())
	require.Equal(t, 0, f.TextFieldCount())
}
