// Package decision records the audit trace of routing decisions: one row
// per routed transaction, one attempt row per account tried, finalized with
// a terminal outcome and immutable from then on.
//
// Recording must never fail routing. Every write lands on the in-memory
// copy first; storage and cache writes are best effort and logged when they
// fail, so an active decision stays readable even through a database
// outage.
package decision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"cascade/internal/models"
	"cascade/internal/repositories"
)

// Service is the decision recorder.
type Service interface {
	// Begin starts tracking a decision the router has assembled. The ID
	// must already be set; attempts are appended separately. The recorder
	// owns the struct from here on.
	Begin(ctx context.Context, dec *models.RoutingDecision)

	// AppendAttempt adds one pending attempt row for the account.
	AppendAttempt(ctx context.Context, decisionID string, seq int, account *models.MerchantAccount) error

	// ResolveAttempt stamps the outcome of a previously appended attempt.
	ResolveAttempt(ctx context.Context, decisionID string, seq int, outcome, failureCode, failureClass string, latencyMS int64) error

	// Finalize stamps the decision's terminal outcome and stops tracking
	// it. Further writes return ErrDecisionFinal.
	Finalize(ctx context.Context, decisionID, outcome string) error

	// Abandon closes out a decision whose outcome report never arrived:
	// pending attempts become abandoned and the decision finalizes as a
	// timeout.
	Abandon(ctx context.Context, decisionID string) error

	// Get returns one decision with its attempts, trying active memory,
	// then cache, then storage.
	Get(ctx context.Context, id string) (*models.RoutingDecision, error)

	// GetByRef returns the merchant's most recent decision for the
	// transaction reference.
	GetByRef(ctx context.Context, merchantID uint, ref string) (*models.RoutingDecision, error)

	// List pages through a merchant's decisions, newest first.
	List(ctx context.Context, merchantID uint, limit, offset int) ([]models.RoutingDecision, int64, error)
}

type service struct {
	repo    repositories.DecisionRepository
	cache   Cache
	logger  zerolog.Logger
	metrics MetricsCollector

	active sync.Map // decision id -> *tracked

	now func() time.Time
}

// NewService creates a new decision recorder. cache may be nil, in which
// case reads go straight to storage.
func NewService(repo repositories.DecisionRepository, cache Cache, logger zerolog.Logger, metrics MetricsCollector) Service {
	if repo == nil {
		panic("decision repository is required")
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}

	return &service{
		repo:    repo,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

func (s *service) Begin(ctx context.Context, dec *models.RoutingDecision) {
	if dec.CreatedAt.IsZero() {
		dec.CreatedAt = s.now().UTC()
	}
	if dec.Outcome == "" {
		dec.Outcome = models.OutcomePending
	}
	s.active.Store(dec.ID, &tracked{dec: dec})

	if err := s.repo.Create(dec); err != nil {
		s.metrics.RecordError("decision", "create")
		s.logger.Error().Err(err).
			Str("decision_id", dec.ID).
			Msg("decision row create failed, trace held in memory only")
	}
	s.cachePut(ctx, dec)
}

func (s *service) AppendAttempt(ctx context.Context, decisionID string, seq int, account *models.MerchantAccount) error {
	attempt := &models.DecisionAttempt{
		DecisionID: decisionID,
		Seq:        seq,
		AccountID:  account.ID,
		Provider:   account.Provider,
		Outcome:    models.AttemptPending,
		CreatedAt:  s.now().UTC(),
	}

	if tr, ok := s.trackedFor(decisionID); ok {
		tr.mu.Lock()
		if tr.dec.Final() {
			tr.mu.Unlock()
			return ErrDecisionFinal
		}
		tr.dec.Attempts = append(tr.dec.Attempts, *attempt)
		tr.dec.AttemptCount = seq
		tr.mu.Unlock()
	}

	if err := s.repo.AppendAttempt(attempt); err != nil {
		if errors.Is(err, repositories.ErrDecisionImmutable) {
			return ErrDecisionFinal
		}
		s.metrics.RecordError("decision", "append")
		s.logger.Error().Err(err).
			Str("decision_id", decisionID).
			Int("seq", seq).
			Msg("attempt append failed")
	}
	return nil
}

func (s *service) ResolveAttempt(ctx context.Context, decisionID string, seq int, outcome, failureCode, failureClass string, latencyMS int64) error {
	if tr, ok := s.trackedFor(decisionID); ok {
		tr.mu.Lock()
		if tr.dec.Final() {
			tr.mu.Unlock()
			return ErrDecisionFinal
		}
		for i := range tr.dec.Attempts {
			if tr.dec.Attempts[i].Seq == seq {
				tr.dec.Attempts[i].Outcome = outcome
				tr.dec.Attempts[i].FailureCode = failureCode
				tr.dec.Attempts[i].FailureClass = failureClass
				tr.dec.Attempts[i].LatencyMS = latencyMS
				break
			}
		}
		tr.mu.Unlock()
	}

	if err := s.repo.ResolveAttempt(decisionID, seq, outcome, failureCode, failureClass, latencyMS); err != nil {
		if errors.Is(err, repositories.ErrDecisionImmutable) {
			return ErrDecisionFinal
		}
		s.metrics.RecordError("decision", "resolve")
		s.logger.Error().Err(err).
			Str("decision_id", decisionID).
			Int("seq", seq).
			Msg("attempt resolve failed")
	}
	return nil
}

func (s *service) Finalize(ctx context.Context, decisionID, outcome string) error {
	now := s.now().UTC()

	if tr, ok := s.trackedFor(decisionID); ok {
		tr.mu.Lock()
		if tr.dec.Final() {
			tr.mu.Unlock()
			return ErrDecisionFinal
		}
		tr.dec.Outcome = outcome
		tr.dec.TotalMillis = now.Sub(tr.dec.CreatedAt).Milliseconds()
		tr.dec.FinalizedAt = &now
		dec := tr.dec
		tr.mu.Unlock()

		s.active.Delete(decisionID)
		s.persistFinal(ctx, dec)
		return nil
	}

	dec, err := s.loadForWrite(decisionID, "finalize")
	if dec == nil {
		return err
	}
	dec.Outcome = outcome
	dec.TotalMillis = now.Sub(dec.CreatedAt).Milliseconds()
	s.persistFinal(ctx, dec)
	return nil
}

func (s *service) Abandon(ctx context.Context, decisionID string) error {
	now := s.now().UTC()

	if tr, ok := s.trackedFor(decisionID); ok {
		tr.mu.Lock()
		if tr.dec.Final() {
			tr.mu.Unlock()
			return ErrDecisionFinal
		}
		var pending []int
		for i := range tr.dec.Attempts {
			if tr.dec.Attempts[i].Outcome == models.AttemptPending {
				tr.dec.Attempts[i].Outcome = models.AttemptAbandoned
				pending = append(pending, tr.dec.Attempts[i].Seq)
			}
		}
		tr.dec.Outcome = models.OutcomeTimeout
		tr.dec.TotalMillis = now.Sub(tr.dec.CreatedAt).Milliseconds()
		tr.dec.FinalizedAt = &now
		dec := tr.dec
		tr.mu.Unlock()

		s.active.Delete(decisionID)
		s.resolveAbandoned(decisionID, pending)
		s.persistFinal(ctx, dec)
		return nil
	}

	dec, err := s.loadForWrite(decisionID, "abandon")
	if dec == nil {
		return err
	}
	var pending []int
	for _, att := range dec.Attempts {
		if att.Outcome == models.AttemptPending {
			pending = append(pending, att.Seq)
		}
	}
	dec.Outcome = models.OutcomeTimeout
	dec.TotalMillis = now.Sub(dec.CreatedAt).Milliseconds()
	s.resolveAbandoned(decisionID, pending)
	s.persistFinal(ctx, dec)
	return nil
}

func (s *service) Get(ctx context.Context, id string) (*models.RoutingDecision, error) {
	if tr, ok := s.trackedFor(id); ok {
		return snapshotOf(tr), nil
	}

	if s.cache != nil {
		cached, err := s.cache.GetDecision(ctx, s.cache.GenerateKey("decision", "id", id))
		if err != nil {
			s.logger.Warn().Err(err).Str("decision_id", id).Msg("decision cache read failed")
		} else if cached != nil {
			s.metrics.RecordCacheHit("decision")
			return cached, nil
		}
		s.metrics.RecordCacheMiss("decision")
	}

	dec, err := s.repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("decision %s: %w", id, ErrDecisionNotFound)
		}
		return nil, fmt.Errorf("failed to load decision: %w", err)
	}
	s.cachePut(ctx, dec)
	return dec, nil
}

func (s *service) GetByRef(ctx context.Context, merchantID uint, ref string) (*models.RoutingDecision, error) {
	if s.cache != nil {
		cached, err := s.cache.GetDecision(ctx, s.cache.DecisionRefKey(merchantID, ref))
		if err != nil {
			s.logger.Warn().Err(err).Str("transaction_ref", ref).Msg("decision cache read failed")
		} else if cached != nil {
			s.metrics.RecordCacheHit("decision")
			return cached, nil
		}
		s.metrics.RecordCacheMiss("decision")
	}

	dec, err := s.repo.GetByTransactionRef(merchantID, ref)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("transaction %s: %w", ref, ErrDecisionNotFound)
		}
		return nil, fmt.Errorf("failed to load decision: %w", err)
	}
	s.cachePut(ctx, dec)
	return dec, nil
}

func (s *service) List(ctx context.Context, merchantID uint, limit, offset int) ([]models.RoutingDecision, int64, error) {
	decisions, total, err := s.repo.ListByMerchant(merchantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list decisions: %w", err)
	}
	return decisions, total, nil
}

func (s *service) trackedFor(id string) (*tracked, bool) {
	v, ok := s.active.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*tracked), true
}

// loadForWrite fetches the row for a decision no longer (or never) tracked
// in memory. A nil decision means the caller should return the error as is.
func (s *service) loadForWrite(decisionID, op string) (*models.RoutingDecision, error) {
	dec, err := s.repo.GetByID(decisionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("decision %s: %w", decisionID, ErrDecisionNotFound)
		}
		s.metrics.RecordError("decision", op)
		s.logger.Error().Err(err).
			Str("decision_id", decisionID).
			Str("op", op).
			Msg("decision load failed")
		return nil, nil
	}
	if dec.Final() {
		return nil, ErrDecisionFinal
	}
	return dec, nil
}

func (s *service) resolveAbandoned(decisionID string, seqs []int) {
	for _, seq := range seqs {
		err := s.repo.ResolveAttempt(decisionID, seq, models.AttemptAbandoned, "", "", 0)
		if err != nil && !errors.Is(err, repositories.ErrDecisionImmutable) {
			s.metrics.RecordError("decision", "resolve")
			s.logger.Error().Err(err).
				Str("decision_id", decisionID).
				Int("seq", seq).
				Msg("attempt abandon failed")
		}
	}
}

func (s *service) persistFinal(ctx context.Context, dec *models.RoutingDecision) {
	if err := s.repo.Finalize(dec); err != nil {
		if errors.Is(err, repositories.ErrDecisionImmutable) {
			// Another instance got there first; the row wins.
			return
		}
		s.metrics.RecordError("decision", "finalize")
		s.logger.Error().Err(err).
			Str("decision_id", dec.ID).
			Str("outcome", dec.Outcome).
			Msg("decision finalize write failed, final state preserved in this log line")
		return
	}
	s.cachePut(ctx, dec)
}

func (s *service) cachePut(ctx context.Context, dec *models.RoutingDecision) {
	if s.cache == nil {
		return
	}
	if err := s.cache.CacheDecision(ctx, dec); err != nil {
		s.metrics.RecordError("decision", "cache")
		s.logger.Warn().Err(err).Str("decision_id", dec.ID).Msg("decision cache write failed")
	}
}

// snapshotOf copies a tracked decision so callers never share memory with
// in-flight writes.
func snapshotOf(tr *tracked) *models.RoutingDecision {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	dec := *tr.dec
	dec.Attempts = make([]models.DecisionAttempt, len(tr.dec.Attempts))
	copy(dec.Attempts, tr.dec.Attempts)
	return &dec
}
