package decision

import "errors"

var (
	// ErrDecisionFinal rejects writes against a decision that has reached
	// its terminal outcome. Decisions are append-only history; corrections
	// are new decisions.
	ErrDecisionFinal = errors.New("decision already finalized")

	// ErrDecisionNotFound is returned when no trace of the decision exists
	// in memory, cache or storage.
	ErrDecisionNotFound = errors.New("decision not found")
)
