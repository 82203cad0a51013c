package router

import "time"

// Default configuration values.
const (
	// DefaultDeadline bounds a decision when the caller's context carries
	// no deadline of its own.
	DefaultDeadline = 5 * time.Second
)
