// Package failover drives the retry loop of a routing decision. It
// classifies reported provider failures, quarantines the failed account and
// asks the selector for a replacement until the attempt budget, the
// caller's deadline or the candidates run out. All state is in-memory and
// per decision; a decision nobody reports on is swept after a TTL.
package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cascade/internal/models"
	"cascade/internal/services/selector"
)

// Service is the failover controller.
type Service interface {
	// Begin registers a freshly routed decision with its first claimed
	// selection. pool is nil when the decision is pinned to one account,
	// which disables failover.
	Begin(decisionID string, pool *models.AccountPool, txc *models.TransactionContext, sel *selector.Selection, deadline time.Time)

	// HandleOutcome resolves one reported provider attempt. On a
	// retryable failure with budget left it returns a claimed selection
	// for the next attempt; otherwise the resolution is final and the
	// decision is dropped from tracking.
	HandleOutcome(ctx context.Context, decisionID string, report Report) (*Resolution, error)

	// Abandon drops a tracked decision and returns its claims. Used when
	// the caller gives up without reporting an outcome.
	Abandon(decisionID string) bool

	// Tracking reports whether the decision still awaits an outcome.
	Tracking(decisionID string) bool

	// Run sweeps expired decisions until ctx is done.
	Run(ctx context.Context)
}

type service struct {
	states sync.Map // decision id -> *state

	selector Selector
	health   Health
	config   Config
	logger   zerolog.Logger
	metrics  MetricsCollector

	now func() time.Time
}

// NewService creates a new failover controller.
func NewService(sel Selector, tracker Health, config Config, logger zerolog.Logger, metrics MetricsCollector) Service {
	if sel == nil {
		panic("failover selector is required")
	}
	if tracker == nil {
		panic("failover health tracker is required")
	}
	if config.StateTTL == 0 {
		config.StateTTL = DefaultStateTTL
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.DefaultExclusion == 0 {
		config.DefaultExclusion = DefaultExclusion
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}

	return &service{
		selector: sel,
		health:   tracker,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (s *service) Begin(decisionID string, pool *models.AccountPool, txc *models.TransactionContext, sel *selector.Selection, deadline time.Time) {
	st := &state{
		decisionID:  decisionID,
		pinned:      pool == nil,
		strategy:    sel.Strategy,
		txc:         txc,
		maxAttempts: 1,
		cooldown:    s.config.DefaultExclusion,
		deadline:    deadline,
		attempt:     1,
		excluded:    make(map[uint]struct{}),
		current:     sel,
		begunAt:     s.now(),
	}
	if pool != nil {
		st.poolID = pool.ID
		st.failover = pool.FailoverEnabled
		st.maxAttempts = pool.MaxAttempts
		if st.maxAttempts <= 0 {
			st.maxAttempts = DefaultMaxAttempts
		}
		if pool.ExclusionSeconds > 0 {
			st.cooldown = time.Duration(pool.ExclusionSeconds) * time.Second
		}
	}
	s.states.Store(decisionID, st)
}

func (s *service) HandleOutcome(ctx context.Context, decisionID string, report Report) (*Resolution, error) {
	v, ok := s.states.Load(decisionID)
	if !ok {
		return nil, fmt.Errorf("decision %s: %w", decisionID, ErrUnknownDecision)
	}
	st := v.(*state)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.done {
		return nil, fmt.Errorf("decision %s: %w", decisionID, ErrUnknownDecision)
	}
	if st.current == nil || st.current.Account.ID != report.AccountID {
		return nil, fmt.Errorf("decision %s account %d: %w", decisionID, report.AccountID, ErrAccountMismatch)
	}

	provider := st.current.Account.Provider
	attempt := st.attempt

	if report.Success {
		st.current.Reservation.Commit()
		st.current.Load.Release()
		s.health.RecordSuccess(report.AccountID, report.LatencyMS)
		s.metrics.RecordAttempt(provider, models.AttemptSucceeded)
		s.finish(st)
		return &Resolution{Final: true, Outcome: models.OutcomeRouted, Attempt: attempt}, nil
	}

	class := Classify(report.FailureCode)
	st.current.Abandon()
	s.health.RecordFailure(report.AccountID, class, report.LatencyMS)
	s.metrics.RecordAttempt(provider, models.AttemptFailed)
	s.metrics.RecordFailover(class)

	if class == models.FailureTerminal {
		s.finish(st)
		return &Resolution{Final: true, Outcome: models.OutcomeDeclined, FailureClass: class, Attempt: attempt}, nil
	}
	if class == models.FailureSoft {
		if st.softUsed {
			// The one soft retry this decision gets is spent.
			s.finish(st)
			return &Resolution{Final: true, Outcome: models.OutcomeDeclined, FailureClass: class, Attempt: attempt}, nil
		}
		st.softUsed = true
	}

	// Quarantine the account before looking for a replacement.
	s.health.MarkDegraded(report.AccountID, st.cooldown)
	st.excluded[report.AccountID] = struct{}{}
	st.current = nil

	if !st.deadline.IsZero() && s.now().After(st.deadline) {
		s.finish(st)
		return &Resolution{Final: true, Outcome: models.OutcomeTimeout, FailureClass: class, Attempt: attempt}, nil
	}
	if st.pinned || !st.failover || st.attempt >= st.maxAttempts {
		s.finish(st)
		return &Resolution{Final: true, Outcome: models.OutcomeExhausted, FailureClass: class, Attempt: attempt}, nil
	}

	// Re-select with the strategy the decision started under, so a rule's
	// strategy override holds across attempts.
	next, err := s.selector.Select(ctx, st.poolID, st.txc, st.excluded, selector.Options{Strategy: st.strategy})
	if err != nil {
		s.finish(st)
		if errors.Is(err, selector.ErrNoEligibleAccount) {
			return &Resolution{Final: true, Outcome: models.OutcomeExhausted, FailureClass: class, Attempt: attempt}, nil
		}
		s.metrics.RecordError("failover", "reselect")
		return nil, fmt.Errorf("decision %s: re-select: %w", decisionID, err)
	}

	st.attempt++
	st.current = next
	s.logger.Debug().
		Str("decision_id", st.decisionID).
		Uint("pool_id", st.poolID).
		Uint("failed_account_id", report.AccountID).
		Uint("next_account_id", next.Account.ID).
		Str("class", class).
		Int("attempt", st.attempt).
		Msg("failing over to another account")

	return &Resolution{Final: false, FailureClass: class, Attempt: attempt, Next: next, NextAttempt: st.attempt}, nil
}

func (s *service) Abandon(decisionID string) bool {
	v, ok := s.states.LoadAndDelete(decisionID)
	if !ok {
		return false
	}
	st := v.(*state)

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return false
	}
	st.current.Abandon()
	st.current = nil
	st.done = true
	return true
}

func (s *service) Tracking(decisionID string) bool {
	v, ok := s.states.Load(decisionID)
	if !ok {
		return false
	}
	st := v.(*state)

	st.mu.Lock()
	defer st.mu.Unlock()
	return !st.done
}

// finish marks the decision final and drops it from tracking. Callers hold
// st.mu.
func (s *service) finish(st *state) {
	st.done = true
	st.current = nil
	s.states.Delete(st.decisionID)
}

func (s *service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep drops decisions whose outcome never arrived, returning any claims
// they still hold so ledger headroom and in-flight counters do not leak.
func (s *service) sweep() {
	cutoff := s.now().Add(-s.config.StateTTL)

	var abandoned []string
	s.states.Range(func(key, value interface{}) bool {
		st := value.(*state)

		st.mu.Lock()
		expired := !st.done && st.begunAt.Before(cutoff)
		if expired {
			st.current.Abandon()
			st.current = nil
			st.done = true
		}
		st.mu.Unlock()

		if expired {
			s.states.Delete(key)
			abandoned = append(abandoned, key.(string))
		}
		return true
	})

	for _, id := range abandoned {
		s.metrics.RecordError("failover", "abandoned")
		s.logger.Warn().
			Str("decision_id", id).
			Msg("routing decision abandoned without an outcome report")
		if s.config.OnAbandon != nil {
			s.config.OnAbandon(id)
		}
	}
}
