package failover

// MetricsCollector defines the metrics the failover controller emits.
type MetricsCollector interface {
	RecordAttempt(provider, outcome string)
	RecordFailover(class string)
	RecordError(component, kind string)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordAttempt(string, string) {}
func (n *NoopMetricsCollector) RecordFailover(string)        {}
func (n *NoopMetricsCollector) RecordError(string, string)   {}
