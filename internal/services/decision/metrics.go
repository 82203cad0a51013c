package decision

// MetricsCollector defines the metrics the recorder emits.
type MetricsCollector interface {
	RecordCacheHit(kind string)
	RecordCacheMiss(kind string)
	RecordError(component, kind string)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordCacheHit(string)      {}
func (n *NoopMetricsCollector) RecordCacheMiss(string)     {}
func (n *NoopMetricsCollector) RecordError(string, string) {}
