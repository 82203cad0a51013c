package ledger

// NoopMetricsCollector is a no-op implementation of MetricsCollector
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordReservation(string)   {}
func (n *NoopMetricsCollector) RecordError(string, string) {}
