package constants

// Estado is the lifecycle status of a candidate invoice.
// Stored verbatim in invoices.estado.
type Estado string

const (
	EstadoPendiente       Estado = "pendiente"        // created by a pipeline run, not yet routed
	EstadoProcesado       Estado = "procesado"        // persisted with acceptable confidence
	EstadoRevisar         Estado = "revisar"          // persisted or quarantined, needs a human
	EstadoErrorPermanente Estado = "error_permanente" // extraction exhausted its retry budget
)

// CanTransition reports whether moving from -> to is allowed.
// Only pendiente may move, and only forward.
func CanTransition(from, to Estado) bool {
	if from != EstadoPendiente {
		return false
	}
	switch to {
	case EstadoProcesado, EstadoRevisar, EstadoErrorPermanente:
		return true
	}
	return false
}

// Confidence is the reconciled trust label.
type Confidence string

const (
	ConfidenceAlta  Confidence = "alta"
	ConfidenceMedia Confidence = "media"
	ConfidenceBaja  Confidence = "baja"
)

// Rank orders labels: baja < media < alta. Unknown labels rank lowest.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceAlta:
		return 2
	case ConfidenceMedia:
		return 1
	}
	return 0
}

// Decision is the disposition of a candidate invoice.
type Decision string

const (
	DecisionInsert     Decision = "INSERT"
	DecisionUpdate     Decision = "UPDATE"
	DecisionSkip       Decision = "SKIP"
	DecisionQuarantine Decision = "QUARANTINE"
)

// ExtractorNone marks an extractor that did not contribute to a result.
const ExtractorNone = "none"
