package rules

import "time"

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordEvaluation(string, time.Duration) {}
func (n *NoopMetricsCollector) RecordSnapshotReload(string)            {}
func (n *NoopMetricsCollector) RecordError(string, string)             {}
