package health

import (
	"context"
	"time"

	"cascade/internal/models"
)

// Config holds tuning for the tracker.
type Config struct {
	// MinSamples is the observation count below which an account's success
	// rate is not considered meaningful by callers.
	MinSamples int64
	// SampleCap bounds the weighted observation window; older observations
	// are scaled out once the cap is reached.
	SampleCap float64
	// LatencyAlpha is the EWMA smoothing factor for latency.
	LatencyAlpha float64
	// SoftFailureWeight is how much of a full failure a soft decline counts
	// for in the success rate.
	SoftFailureWeight float64
	// DegradeThreshold is the success rate below which an account with
	// enough samples is automatically degraded.
	DegradeThreshold float64
	// DefaultCooldown applies when a degradation gives no explicit cooldown.
	DefaultCooldown time.Duration
	// ProbeInterval is how often degraded accounts are probed.
	ProbeInterval time.Duration
	// FlushInterval is how often dirty stats are written to account rows.
	FlushInterval time.Duration
}

// Stats is one account's health view.
type Stats struct {
	SuccessRate   float64   `json:"success_rate"`
	AvgLatencyMS  float64   `json:"avg_latency_ms"`
	Score         float64   `json:"score"`
	Samples       int64     `json:"samples"`
	Degraded      bool      `json:"degraded"`
	DegradedUntil time.Time `json:"degraded_until,omitempty"`
}

// Meaningful reports whether the sample count clears the tracker's floor.
func (s Stats) Meaningful(minSamples int64) bool {
	return s.Samples >= minSamples
}

// Prober checks whether a degraded account's provider is reachable again.
// Implementations typically fire a low-value verification against the
// provider referenced by the account's credentials.
type Prober interface {
	Probe(ctx context.Context, accountID uint) error
}

// HealthFlusher persists one account's health view.
type HealthFlusher interface {
	FlushHealth(id uint, health models.AccountHealth) error
}

// MetricsCollector defines the metrics the tracker emits.
type MetricsCollector interface {
	RecordHealthTransition(state string)
	RecordError(component, kind string)
}
