package health

import "time"

// Health states reported in transitions.
const (
	StateDegraded  = "degraded"
	StateRecovered = "recovered"
	StateProbedOK  = "probed_ok"
)

// Default configuration values
const (
	DefaultMinSamples        = 20
	DefaultSampleCap         = 200.0
	DefaultLatencyAlpha      = 0.2
	DefaultSoftFailureWeight = 0.5
	DefaultDegradeThreshold  = 0.60
	DefaultCooldown          = 2 * time.Minute
	DefaultProbeInterval     = 30 * time.Second
	DefaultFlushInterval     = time.Minute
)

// Score latency penalty: one point per this many milliseconds of EWMA
// latency, capped.
const (
	latencyPenaltyDivisor = 40.0
	latencyPenaltyCap     = 25.0
)
