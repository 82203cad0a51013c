package selector

import "time"

// Default configuration values
const (
	DefaultSnapshotTTL       = 30 * time.Second
	DefaultMinSuccessSamples = 20
)

// Selection results reported to metrics.
const (
	ResultSelected   = "selected"
	ResultNoEligible = "no_eligible"
	ResultRaceLost   = "race_lost"
)

// Filter stages, used in reason counts when selection comes up empty.
const (
	filterExcluded     = "excluded"
	filterStatus       = "status"
	filterDegraded     = "degraded"
	filterRestrictions = "restrictions"
	filterHeadroom     = "headroom"
)
