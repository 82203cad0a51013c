package selector

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordSelection(string, string) {}
func (n *NoopMetricsCollector) RecordSnapshotReload(string)    {}
func (n *NoopMetricsCollector) RecordError(string, string)     {}
