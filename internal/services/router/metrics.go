package router

import "time"

// MetricsCollector defines the metrics the router emits.
type MetricsCollector interface {
	RecordRoute(outcome string, duration time.Duration)
	RecordOutcomeReport(outcome string)
	RecordSimulation(outcome string)
	RecordError(component, kind string)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (n *NoopMetricsCollector) RecordRoute(string, time.Duration) {}
func (n *NoopMetricsCollector) RecordOutcomeReport(string)        {}
func (n *NoopMetricsCollector) RecordSimulation(string)           {}
func (n *NoopMetricsCollector) RecordError(string, string)        {}
