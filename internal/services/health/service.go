// Package health tracks per-account provider health: success rates, latency
// and degradation state. Routing reads it to exclude struggling accounts and
// to rank the rest; outcome reports feed it. Updates never block or fail the
// routing path.
package health

import (
	"context"
	"sync"
	"time"

	"cascade/internal/models"

	"github.com/rs/zerolog"
)

// Service is the health tracker.
type Service interface {
	// RecordSuccess notes a successful attempt on the account.
	RecordSuccess(accountID uint, latencyMS int64)
	// RecordFailure notes a failed attempt. class is a failure class
	// constant from models; soft declines weigh less than hard failures.
	RecordFailure(accountID uint, class string, latencyMS int64)
	// MarkDegraded excludes the account from selection until the cooldown
	// lapses or a probe clears it. A zero cooldown uses the default.
	MarkDegraded(accountID uint, cooldown time.Duration)
	// Recover clears any active degradation on the account immediately.
	Recover(accountID uint)
	// Eligible reports whether the account is currently selectable.
	Eligible(accountID uint) bool
	// Snapshot returns the account's stats, if any observations exist.
	Snapshot(accountID uint) (Stats, bool)
	// Run drives probing and write-behind flushing until ctx is done.
	Run(ctx context.Context)
	// Flush writes all dirty stats to the account rows.
	Flush(ctx context.Context)
}

type service struct {
	mu      sync.RWMutex
	records map[uint]*record

	flusher HealthFlusher
	prober  Prober
	config  Config
	logger  zerolog.Logger
	metrics MetricsCollector

	now func() time.Time
}

// NewService creates a new health tracker. prober may be nil, in which case
// recovery is cooldown-only.
func NewService(flusher HealthFlusher, prober Prober, config Config, logger zerolog.Logger, metrics MetricsCollector) Service {
	if flusher == nil {
		panic("health flusher is required")
	}
	if config.MinSamples == 0 {
		config.MinSamples = DefaultMinSamples
	}
	if config.SampleCap == 0 {
		config.SampleCap = DefaultSampleCap
	}
	if config.LatencyAlpha == 0 {
		config.LatencyAlpha = DefaultLatencyAlpha
	}
	if config.SoftFailureWeight == 0 {
		config.SoftFailureWeight = DefaultSoftFailureWeight
	}
	if config.DegradeThreshold == 0 {
		config.DegradeThreshold = DefaultDegradeThreshold
	}
	if config.DefaultCooldown == 0 {
		config.DefaultCooldown = DefaultCooldown
	}
	if config.ProbeInterval == 0 {
		config.ProbeInterval = DefaultProbeInterval
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = DefaultFlushInterval
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}

	return &service{
		records: make(map[uint]*record),
		flusher: flusher,
		prober:  prober,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

type record struct {
	mu            sync.Mutex
	successes     float64
	failures      float64
	samples       int64
	ewmaLatencyMS float64
	degradedUntil time.Time
	dirty         bool
}

func (s *service) RecordSuccess(accountID uint, latencyMS int64) {
	r := s.recordFor(accountID)
	r.mu.Lock()
	defer r.mu.Unlock()

	r.observe(1, 0, latencyMS, s.config)
}

func (s *service) RecordFailure(accountID uint, class string, latencyMS int64) {
	weight := 1.0
	if class == models.FailureSoft {
		weight = s.config.SoftFailureWeight
	}

	r := s.recordFor(accountID)
	r.mu.Lock()
	r.observe(0, weight, latencyMS, s.config)
	degradeNow := r.samples >= s.config.MinSamples &&
		r.successRate() < s.config.DegradeThreshold &&
		!r.degradedUntil.After(s.now())
	r.mu.Unlock()

	// Sustained collapse degrades even without an explicit failover signal.
	if degradeNow {
		s.MarkDegraded(accountID, 0)
	}
}

func (s *service) MarkDegraded(accountID uint, cooldown time.Duration) {
	if cooldown <= 0 {
		cooldown = s.config.DefaultCooldown
	}
	until := s.now().Add(cooldown)

	r := s.recordFor(accountID)
	r.mu.Lock()
	already := r.degradedUntil.After(s.now())
	if until.After(r.degradedUntil) {
		r.degradedUntil = until
	}
	r.dirty = true
	r.mu.Unlock()

	if !already {
		s.metrics.RecordHealthTransition(StateDegraded)
		s.logger.Warn().
			Uint("account_id", accountID).
			Dur("cooldown", cooldown).
			Msg("account degraded")
	}
}

func (s *service) Recover(accountID uint) {
	s.mu.RLock()
	r := s.records[accountID]
	s.mu.RUnlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	degraded := r.degradedUntil.After(s.now())
	if degraded {
		r.degradedUntil = time.Time{}
		r.dirty = true
	}
	r.mu.Unlock()

	if degraded {
		s.metrics.RecordHealthTransition(StateRecovered)
		s.logger.Info().Uint("account_id", accountID).Msg("account degradation cleared")
	}
}

func (s *service) Eligible(accountID uint) bool {
	s.mu.RLock()
	r := s.records[accountID]
	s.mu.RUnlock()
	if r == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.degradedUntil.After(s.now())
}

func (s *service) Snapshot(accountID uint) (Stats, bool) {
	s.mu.RLock()
	r := s.records[accountID]
	s.mu.RUnlock()
	if r == nil {
		return Stats{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats(s.now()), true
}

func (s *service) recordFor(accountID uint) *record {
	s.mu.RLock()
	r, ok := s.records[accountID]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[accountID]; ok {
		return r
	}
	r = &record{}
	s.records[accountID] = r
	return r
}

// observe folds one weighted outcome into the counters. Once the weighted
// window hits the cap, both sides are rescaled so new observations keep
// moving the rate.
func (r *record) observe(success, failure float64, latencyMS int64, cfg Config) {
	r.successes += success
	r.failures += failure
	r.samples++

	if total := r.successes + r.failures; total > cfg.SampleCap {
		scale := cfg.SampleCap / total
		r.successes *= scale
		r.failures *= scale
	}

	if latencyMS > 0 {
		if r.ewmaLatencyMS == 0 {
			r.ewmaLatencyMS = float64(latencyMS)
		} else {
			r.ewmaLatencyMS = cfg.LatencyAlpha*float64(latencyMS) + (1-cfg.LatencyAlpha)*r.ewmaLatencyMS
		}
	}
	r.dirty = true
}

func (r *record) successRate() float64 {
	total := r.successes + r.failures
	if total == 0 {
		return 1
	}
	return r.successes / total
}

func (r *record) score() float64 {
	penalty := r.ewmaLatencyMS / latencyPenaltyDivisor
	if penalty > latencyPenaltyCap {
		penalty = latencyPenaltyCap
	}
	score := r.successRate()*100 - penalty
	if score < 0 {
		score = 0
	}
	return score
}

func (r *record) stats(now time.Time) Stats {
	return Stats{
		SuccessRate:   r.successRate(),
		AvgLatencyMS:  r.ewmaLatencyMS,
		Score:         r.score(),
		Samples:       r.samples,
		Degraded:      r.degradedUntil.After(now),
		DegradedUntil: r.degradedUntil,
	}
}

func (s *service) Run(ctx context.Context) {
	probe := time.NewTicker(s.config.ProbeInterval)
	flush := time.NewTicker(s.config.FlushInterval)
	defer probe.Stop()
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush(context.Background())
			return
		case <-probe.C:
			s.probeDegraded(ctx)
		case <-flush.C:
			s.Flush(ctx)
		}
	}
}

// probeDegraded asks the prober about every degraded account and lifts the
// degradation early when the provider answers.
func (s *service) probeDegraded(ctx context.Context) {
	if s.prober == nil {
		return
	}
	now := s.now()

	for _, it := range s.snapshotRecords() {
		it.r.mu.Lock()
		degraded := it.r.degradedUntil.After(now)
		it.r.mu.Unlock()
		if !degraded {
			continue
		}

		if err := s.prober.Probe(ctx, it.id); err != nil {
			s.logger.Debug().Err(err).Uint("account_id", it.id).Msg("probe failed")
			continue
		}

		it.r.mu.Lock()
		it.r.degradedUntil = time.Time{}
		it.r.dirty = true
		it.r.mu.Unlock()

		s.metrics.RecordHealthTransition(StateProbedOK)
		s.logger.Info().Uint("account_id", it.id).Msg("account recovered by probe")
	}
}

func (s *service) Flush(ctx context.Context) {
	for _, it := range s.snapshotRecords() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		it.r.mu.Lock()
		if !it.r.dirty {
			it.r.mu.Unlock()
			continue
		}
		view := models.AccountHealth{
			SuccessRate:  it.r.successRate(),
			AvgLatencyMS: it.r.ewmaLatencyMS,
			HealthScore:  it.r.score(),
		}
		it.r.dirty = false
		it.r.mu.Unlock()

		if err := s.flusher.FlushHealth(it.id, view); err != nil {
			s.logger.Warn().Err(err).Uint("account_id", it.id).Msg("health flush failed")
			s.metrics.RecordError("health", "flush")
			it.r.mu.Lock()
			it.r.dirty = true
			it.r.mu.Unlock()
		}
	}
}

type keyedRecord struct {
	id uint
	r  *record
}

func (s *service) snapshotRecords() []keyedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]keyedRecord, 0, len(s.records))
	for id, r := range s.records {
		out = append(out, keyedRecord{id: id, r: r})
	}
	return out
}
