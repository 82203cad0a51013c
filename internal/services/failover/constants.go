package failover

import "time"

// Default configuration values
const (
	DefaultStateTTL      = 15 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultExclusion     = 5 * time.Minute
	DefaultMaxAttempts   = 3
)
