package extract

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
)

func attempt(total string, label constants.Confidence) entity.ExtractionResult {
	f := textFields()
	f.Total = decp(total)
	return entity.ExtractionResult{Fields: f, Confidence: label}
}

func TestOracleNineOfTen(t *testing.T) {
	var runs []entity.ExtractionResult
	for i := 0; i < 9; i++ {
		runs = append(runs, attempt("121.00", constants.ConfidenceAlta))
	}
	runs = append(runs, attempt("12.10", constants.ConfidenceAlta))

	cons := Oracle{Threshold: 0.7}.Evaluate(runs)
	require.Equal(t, "121.00", cons.Fields.Total.StringFixed(2))
	require.InDelta(t, 0.9, cons.Ratio, 1e-9)
	require.Equal(t, constants.ConfidenceAlta, cons.Label)
	require.Equal(t, 10, cons.Attempts)
}

func TestOracleFiveOfTenDowngrades(t *testing.T) {
	var runs []entity.ExtractionResult
	for i := 0; i < 5; i++ {
		runs = append(runs, attempt("121.00", constants.ConfidenceAlta))
	}
	for i := 0; i < 5; i++ {
		runs = append(runs, attempt(fmt.Sprintf("%d.00", 200+i), constants.ConfidenceAlta))
	}

	cons := Oracle{Threshold: 0.7}.Evaluate(runs)
	require.Equal(t, "121.00", cons.Fields.Total.StringFixed(2))
	require.InDelta(t, 0.5, cons.Ratio, 1e-9)
	require.Equal(t, constants.ConfidenceBaja, cons.Label)
}

func TestOracleTieGoesToEarliest(t *testing.T) {
	runs := []entity.ExtractionResult{
		attempt("10.00", constants.ConfidenceMedia),
		attempt("20.00", constants.ConfidenceAlta),
		attempt("20.00", constants.ConfidenceAlta),
		attempt("10.00", constants.ConfidenceMedia),
	}
	cons := Oracle{Threshold: 0.5}.Evaluate(runs)
	require.Equal(t, "10.00", cons.Fields.Total.StringFixed(2))
	require.Equal(t, constants.ConfidenceMedia, cons.Label, "label ties go to the lower label")
}

func TestOracleAbsenceCounts(t *testing.T) {
	with := attempt("10.00", constants.ConfidenceAlta)
	without := attempt("10.00", constants.ConfidenceAlta)
	without.Fields.Number = nil

	cons := Oracle{Threshold: 0.7}.Evaluate([]entity.ExtractionResult{without, without, with})
	require.Nil(t, cons.Fields.Number)
	require.InDelta(t, 2.0/3.0, cons.Ratio, 1e-9)
	require.Equal(t, constants.ConfidenceBaja, cons.Label)
}

func TestOracleEmpty(t *testing.T) {
	cons := Oracle{Threshold: 0.7}.Evaluate(nil)
	require.Equal(t, constants.ConfidenceBaja, cons.Label)
	require.Zero(t, cons.Ratio)

	cons = Oracle{Threshold: 0.7}.Evaluate([]entity.ExtractionResult{{Confidence: constants.ConfidenceAlta}})
	require.Equal(t, constants.ConfidenceBaja, cons.Label)
}
