package constants

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(EstadoPendiente, EstadoProcesado))
	require.True(t, CanTransition(EstadoPendiente, EstadoRevisar))
	require.True(t, CanTransition(EstadoPendiente, EstadoErrorPermanente))

	require.False(t, CanTransition(EstadoPendiente, EstadoPendiente))
	require.False(t, CanTransition(EstadoRevisar, EstadoPendiente))
	require.False(t, CanTransition(EstadoErrorPermanente, EstadoProcesado))
	require.False(t, CanTransition(EstadoProcesado, EstadoRevisar))
}

func TestConfidenceRank(t *testing.T) {
	require.Less(t, ConfidenceBaja.Rank(), ConfidenceMedia.Rank())
	require.Less(t, ConfidenceMedia.Rank(), ConfidenceAlta.Rank())
	require.Equal(t, 0, Confidence("???").Rank())
}

func TestMapExtToFormat(t *testing.T) {
	require.Equal(t, PDF, MapExtToFormat(".PDF"))
	require.Equal(t, IMAGE, MapExtToFormat("jpeg"))
	require.Equal(t, "", MapExtToFormat("heic"))
}

func TestNormalizeExtWithDot(t *testing.T) {
	require.Equal(t, ".pdf", NormalizeExtWithDot(".PDF"))
	require.Equal(t, ".png", NormalizeExtWithDot("png"))
	require.Equal(t, "", NormalizeExtWithDot(""))
}
