// Package metrics exposes the engine's Prometheus collector. Service
// packages declare the narrow recorder interfaces they consume; Collector
// satisfies all of them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Collector struct {
	registry *prometheus.Registry
	logger   zerolog.Logger

	decisionsTotal    *prometheus.CounterVec
	decisionDuration  prometheus.Histogram
	outcomeReports    *prometheus.CounterVec
	simulationsTotal  *prometheus.CounterVec
	evaluationsTotal  *prometheus.CounterVec
	evaluationMicros  prometheus.Histogram
	selectionsTotal   *prometheus.CounterVec
	attemptsTotal     *prometheus.CounterVec
	failoversTotal    *prometheus.CounterVec
	reservationsTotal *prometheus.CounterVec
	healthTransitions *prometheus.CounterVec
	snapshotReloads   *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	inFlight          prometheus.Gauge
}

func NewCollector(logger zerolog.Logger) *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		logger:   logger,
		decisionsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_decisions_total",
			Help: "Routing decisions by terminal outcome",
		}, []string{"outcome"}),
		decisionDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "cascade_decision_duration_seconds",
			Help:    "End to end routing decision latency",
			Buckets: prometheus.DefBuckets,
		}),
		outcomeReports: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_outcome_reports_total",
			Help: "Outcome reports by resulting decision outcome",
		}, []string{"outcome"}),
		simulationsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_simulations_total",
			Help: "Dry-run simulations by outcome",
		}, []string{"outcome"}),
		evaluationsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_rule_evaluations_total",
			Help: "Rule engine evaluations by result",
		}, []string{"result"}),
		evaluationMicros: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "cascade_rule_evaluation_microseconds",
			Help:    "Rule engine evaluation time in microseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
		selectionsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_selections_total",
			Help: "Account selections by strategy and result",
		}, []string{"strategy", "result"}),
		attemptsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_attempts_total",
			Help: "Provider attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		failoversTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_failovers_total",
			Help: "Failover events by failure class",
		}, []string{"class"}),
		reservationsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_reservations_total",
			Help: "Usage ledger reservations by result",
		}, []string{"result"}),
		healthTransitions: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_health_transitions_total",
			Help: "Account health state transitions",
		}, []string{"state"}),
		snapshotReloads: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_snapshot_reloads_total",
			Help: "Snapshot cache rebuilds by kind",
		}, []string{"kind"}),
		cacheHits: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_cache_hits_total",
			Help: "Cache hits by kind",
		}, []string{"kind"}),
		cacheMisses: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_cache_misses_total",
			Help: "Cache misses by kind",
		}, []string{"kind"}),
		errorsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_errors_total",
			Help: "Internal errors by component and kind",
		}, []string{"component", "kind"}),
		inFlight: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "cascade_inflight_attempts",
			Help: "Attempts currently awaiting a provider outcome",
		}),
	}
}

func (c *Collector) RecordRoute(outcome string, duration time.Duration) {
	c.decisionsTotal.WithLabelValues(outcome).Inc()
	c.decisionDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordOutcomeReport(outcome string) {
	c.outcomeReports.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordSimulation(outcome string) {
	c.simulationsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordEvaluation(result string, duration time.Duration) {
	c.evaluationsTotal.WithLabelValues(result).Inc()
	c.evaluationMicros.Observe(float64(duration.Microseconds()))
}

func (c *Collector) RecordSelection(strategy, result string) {
	c.selectionsTotal.WithLabelValues(strategy, result).Inc()
}

func (c *Collector) RecordAttempt(provider, outcome string) {
	c.attemptsTotal.WithLabelValues(provider, outcome).Inc()
}

func (c *Collector) RecordFailover(class string) {
	c.failoversTotal.WithLabelValues(class).Inc()
}

func (c *Collector) RecordReservation(result string) {
	c.reservationsTotal.WithLabelValues(result).Inc()
}

func (c *Collector) RecordHealthTransition(state string) {
	c.healthTransitions.WithLabelValues(state).Inc()
}

func (c *Collector) RecordSnapshotReload(kind string) {
	c.snapshotReloads.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordCacheHit(kind string) {
	c.cacheHits.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordCacheMiss(kind string) {
	c.cacheMisses.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordError(component, kind string) {
	c.errorsTotal.WithLabelValues(component, kind).Inc()
}

func (c *Collector) AddInFlight(delta int) {
	c.inFlight.Add(float64(delta))
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on its own listener so the scrape surface
// stays off the API port.
func (c *Collector) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		c.logger.Info().Str("addr", addr).Msg("starting metrics server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return server
}
