package health

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordHealthTransition(string) {}
func (n *NoopMetricsCollector) RecordError(string, string)    {}
