package failover

import "errors"

var (
	// ErrUnknownDecision is returned for outcome reports against a
	// decision this instance is not tracking: already final, expired, or
	// never begun.
	ErrUnknownDecision = errors.New("decision not tracked")

	// ErrAccountMismatch is returned when a report names an account other
	// than the decision's current attempt.
	ErrAccountMismatch = errors.New("reported account is not the current attempt")
)
