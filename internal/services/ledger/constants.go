package ledger

import "time"

// Default configuration values
const (
	DefaultFlushInterval = 30 * time.Second
	DefaultSweepInterval = time.Minute
)

// Reservation states
const (
	reservationPending int32 = iota
	reservationCommitted
	reservationReleased
)
