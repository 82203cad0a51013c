package rules

// Default configuration values
const (
	DefaultMaxConditionDepth = 8
	DefaultMaxConditionNodes = 64
	DefaultMaxActions        = 16
	DefaultMaxSurchargePct   = 100.0
)

// Evaluation results reported to metrics.
const (
	ResultMatch    = "match"
	ResultFallback = "fallback"
)

// BIN prefix length bounds for bin_range conditions.
const (
	minBINPrefixLen = 4
	maxBINPrefixLen = 8
)
