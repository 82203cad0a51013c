package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"cascade/internal/models"
	"cascade/internal/repositories"
	"cascade/internal/services/failover"
	"cascade/internal/services/rules"
	"cascade/internal/services/selector"
)

// Service is the routing orchestrator.
type Service interface {
	// RouteTransaction is the single entry point: evaluate the merchant's
	// rules against the transaction, claim an account and open the
	// decision's audit trail. The returned account is the one the
	// collaborator should charge first.
	RouteTransaction(ctx context.Context, merchantID uint, txc *models.TransactionContext) (*RoutingResult, error)

	// ReportOutcome feeds one provider attempt's result back into the
	// engine. A non-final resolution carries the next account to try;
	// exhaustion and deadline overruns come back as errors.
	ReportOutcome(ctx context.Context, decisionID string, report failover.Report) (*OutcomeResolution, error)

	// Simulate answers what RouteTransaction would do for the context
	// without claiming capacity, recording a decision or touching
	// account state.
	Simulate(ctx context.Context, merchantID uint, txc *models.TransactionContext) (*SimulationResult, error)
}

type service struct {
	merchants repositories.MerchantRepository
	engine    RuleEngine
	selector  Selector
	failover  Failover
	recorder  Recorder
	config    Config
	logger    zerolog.Logger
	metrics   MetricsCollector

	now func() time.Time
}

// NewService creates a new routing orchestrator.
func NewService(merchants repositories.MerchantRepository, engine RuleEngine, sel Selector, fo Failover, rec Recorder, config Config, logger zerolog.Logger, metrics MetricsCollector) Service {
	if merchants == nil {
		panic("router merchant repository is required")
	}
	if engine == nil {
		panic("router rule engine is required")
	}
	if sel == nil {
		panic("router selector is required")
	}
	if fo == nil {
		panic("router failover controller is required")
	}
	if rec == nil {
		panic("router decision recorder is required")
	}
	if config.DefaultDeadline == 0 {
		config.DefaultDeadline = DefaultDeadline
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}

	return &service{
		merchants: merchants,
		engine:    engine,
		selector:  sel,
		failover:  fo,
		recorder:  rec,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

func (s *service) RouteTransaction(ctx context.Context, merchantID uint, txc *models.TransactionContext) (*RoutingResult, error) {
	start := s.now()

	directive, err := s.evaluate(ctx, merchantID, txc)
	if err != nil {
		return nil, err
	}
	dec := s.newDecision(merchantID, txc, directive)

	if directive.Blocked {
		dec.BlockReason = directive.BlockReason
		s.recordTerminal(ctx, dec, models.OutcomeBlocked)
		s.metrics.RecordRoute(models.OutcomeBlocked, s.now().Sub(start))
		return nil, &BlockedError{DecisionID: dec.ID, Reason: directive.BlockReason}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = s.now().Add(s.config.DefaultDeadline)
	}
	if ctx.Err() != nil {
		s.recordTerminal(ctx, dec, models.OutcomeTimeout)
		s.metrics.RecordRoute(models.OutcomeTimeout, s.now().Sub(start))
		return nil, fmt.Errorf("decision %s: %w", dec.ID, ErrTimeout)
	}

	var (
		sel  *selector.Selection
		pool *models.AccountPool
	)
	switch {
	case directive.AccountID != 0:
		sel, err = s.selector.SelectAccount(ctx, directive.AccountID, txc, selector.Options{})
	case directive.PoolID != 0:
		pool, err = s.selector.Pool(directive.PoolID)
		if err == nil {
			sel, err = s.selector.Select(ctx, directive.PoolID, txc, nil, selector.Options{Strategy: directive.Strategy})
		}
	default:
		err = fmt.Errorf("merchant %d has no routing target: %w", merchantID, selector.ErrNoEligibleAccount)
	}
	if err != nil {
		switch {
		case errors.Is(err, selector.ErrNoEligibleAccount):
			s.recordTerminal(ctx, dec, models.OutcomeNoEligible)
			s.metrics.RecordRoute(models.OutcomeNoEligible, s.now().Sub(start))
			return nil, fmt.Errorf("decision %s: %w", dec.ID, err)
		case errors.Is(err, selector.ErrPoolNotFound), errors.Is(err, selector.ErrAccountNotFound):
			// A rule or default pool pointing at something deleted is a
			// configuration problem, same class as an empty candidate set.
			s.recordTerminal(ctx, dec, models.OutcomeNoEligible)
			s.metrics.RecordRoute(models.OutcomeNoEligible, s.now().Sub(start))
			return nil, fmt.Errorf("decision %s: %w: %w", dec.ID, selector.ErrNoEligibleAccount, err)
		default:
			s.metrics.RecordError("router", "select")
			return nil, fmt.Errorf("decision %s: select: %w", dec.ID, err)
		}
	}

	if pool != nil {
		dec.PoolID = &pool.ID
	}
	dec.Strategy = sel.Strategy
	s.recorder.Begin(ctx, dec)
	if err := s.recorder.AppendAttempt(ctx, dec.ID, 1, sel.Account); err != nil {
		s.logger.Error().Err(err).Str("decision_id", dec.ID).Msg("first attempt append failed")
	}
	s.failover.Begin(dec.ID, pool, txc, sel, deadline)

	s.metrics.RecordRoute(models.OutcomeRouted, s.now().Sub(start))
	s.logger.Debug().
		Str("decision_id", dec.ID).
		Uint("merchant_id", merchantID).
		Uint("account_id", sel.Account.ID).
		Str("provider", sel.Account.Provider).
		Str("strategy", sel.Strategy).
		Msg("transaction routed")

	result := &RoutingResult{
		DecisionID:     dec.ID,
		Account:        sel.Account,
		Strategy:       sel.Strategy,
		Attempt:        1,
		AppliedActions: directive.AppliedActions,
		SurchargePct:   directive.SurchargePct,
		SurchargeCap:   directive.SurchargeCap,
		DiscountPct:    directive.DiscountPct,
		StepUpLevel:    directive.StepUpLevel,
		FlagForReview:  directive.FlagForReview,
		Annotations:    directive.Annotations,
	}
	if pool != nil {
		result.PoolID = pool.ID
	}
	return result, nil
}

func (s *service) ReportOutcome(ctx context.Context, decisionID string, report failover.Report) (*OutcomeResolution, error) {
	res, err := s.failover.HandleOutcome(ctx, decisionID, report)
	if err != nil {
		if errors.Is(err, failover.ErrUnknownDecision) || errors.Is(err, failover.ErrAccountMismatch) {
			return nil, err
		}
		// Re-selection infrastructure failure. The controller has already
		// dropped the decision and returned its claims, so close the
		// audit trail instead of leaving it pending forever.
		s.closeAfterReselectFailure(ctx, decisionID, report)
		s.metrics.RecordError("router", "reselect")
		return nil, err
	}

	switch {
	case !res.Final:
		s.resolveAttempt(ctx, decisionID, res.Attempt, models.AttemptFailed, report, res.FailureClass)
		if err := s.recorder.AppendAttempt(ctx, decisionID, res.NextAttempt, res.Next.Account); err != nil {
			s.logger.Error().Err(err).Str("decision_id", decisionID).Int("seq", res.NextAttempt).Msg("failover attempt append failed")
		}
		s.metrics.RecordOutcomeReport("failover")
		return &OutcomeResolution{
			DecisionID:   decisionID,
			FailureClass: res.FailureClass,
			Attempt:      res.Attempt,
			NextAccount:  res.Next.Account,
			NextAttempt:  res.NextAttempt,
		}, nil

	case res.Outcome == models.OutcomeRouted:
		s.resolveAttempt(ctx, decisionID, res.Attempt, models.AttemptSucceeded, report, "")
		s.finalize(ctx, decisionID, models.OutcomeRouted)
		s.metrics.RecordOutcomeReport(models.OutcomeRouted)
		return &OutcomeResolution{DecisionID: decisionID, Final: true, Outcome: models.OutcomeRouted, Attempt: res.Attempt}, nil

	case res.Outcome == models.OutcomeDeclined:
		s.resolveAttempt(ctx, decisionID, res.Attempt, models.AttemptFailed, report, res.FailureClass)
		s.finalize(ctx, decisionID, models.OutcomeDeclined)
		s.metrics.RecordOutcomeReport(models.OutcomeDeclined)
		return &OutcomeResolution{
			DecisionID:   decisionID,
			Final:        true,
			Outcome:      models.OutcomeDeclined,
			FailureClass: res.FailureClass,
			Attempt:      res.Attempt,
		}, nil

	case res.Outcome == models.OutcomeTimeout:
		s.resolveAttempt(ctx, decisionID, res.Attempt, models.AttemptFailed, report, res.FailureClass)
		s.finalize(ctx, decisionID, models.OutcomeTimeout)
		s.metrics.RecordOutcomeReport(models.OutcomeTimeout)
		return nil, fmt.Errorf("decision %s: %w", decisionID, ErrTimeout)

	default:
		s.resolveAttempt(ctx, decisionID, res.Attempt, models.AttemptFailed, report, res.FailureClass)
		s.finalize(ctx, decisionID, models.OutcomeExhausted)
		s.metrics.RecordOutcomeReport(models.OutcomeExhausted)
		return nil, &ExhaustedError{DecisionID: decisionID, Attempts: res.Attempt, LastFailureCode: report.FailureCode}
	}
}

func (s *service) Simulate(ctx context.Context, merchantID uint, txc *models.TransactionContext) (*SimulationResult, error) {
	directive, err := s.evaluate(ctx, merchantID, txc)
	if err != nil {
		return nil, err
	}

	result := &SimulationResult{
		Rule:           directive.Rule,
		AppliedActions: directive.AppliedActions,
		EvalMicros:     directive.EvalTime.Microseconds(),
	}

	if directive.Blocked {
		result.Outcome = models.OutcomeBlocked
		result.BlockReason = directive.BlockReason
		s.metrics.RecordSimulation(models.OutcomeBlocked)
		return result, nil
	}

	var sel *selector.Selection
	switch {
	case directive.AccountID != 0:
		sel, err = s.selector.SelectAccount(ctx, directive.AccountID, txc, selector.Options{Simulate: true})
	case directive.PoolID != 0:
		result.PoolID = directive.PoolID
		sel, err = s.selector.Select(ctx, directive.PoolID, txc, nil, selector.Options{Simulate: true, Strategy: directive.Strategy})
	default:
		err = fmt.Errorf("merchant %d has no routing target: %w", merchantID, selector.ErrNoEligibleAccount)
	}
	if err != nil {
		if errors.Is(err, selector.ErrNoEligibleAccount) ||
			errors.Is(err, selector.ErrPoolNotFound) ||
			errors.Is(err, selector.ErrAccountNotFound) {
			result.Outcome = models.OutcomeNoEligible
			s.metrics.RecordSimulation(models.OutcomeNoEligible)
			return result, nil
		}
		return nil, fmt.Errorf("simulate for merchant %d: %w", merchantID, err)
	}

	result.Outcome = models.OutcomeRouted
	result.Account = sel.Account
	result.Strategy = sel.Strategy
	s.metrics.RecordSimulation(models.OutcomeRouted)
	return result, nil
}

// evaluate loads the merchant and runs the rule engine over the context.
func (s *service) evaluate(ctx context.Context, merchantID uint, txc *models.TransactionContext) (*rules.Directive, error) {
	if txc == nil || txc.Amount <= 0 || txc.Currency == "" {
		return nil, fmt.Errorf("merchant %d: %w", merchantID, ErrInvalidTransaction)
	}

	merchant, err := s.merchants.GetByID(merchantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("merchant %d: %w", merchantID, ErrMerchantNotFound)
		}
		return nil, fmt.Errorf("failed to load merchant %d: %w", merchantID, err)
	}
	if merchant.Status != models.MerchantStatusActive {
		return nil, fmt.Errorf("merchant %d is %s: %w", merchantID, merchant.Status, ErrMerchantInactive)
	}

	if txc.Timestamp.IsZero() {
		txc.Timestamp = s.now().UTC()
	}
	directive, err := s.engine.Evaluate(ctx, merchant, txc, s.now())
	if err != nil {
		s.metrics.RecordError("router", "evaluate")
		return nil, fmt.Errorf("rule evaluation for merchant %d: %w", merchantID, err)
	}
	return directive, nil
}

// newDecision assembles the audit skeleton for one routing request.
func (s *service) newDecision(merchantID uint, txc *models.TransactionContext, d *rules.Directive) *models.RoutingDecision {
	dec := &models.RoutingDecision{
		ID:             uuid.NewString(),
		MerchantID:     merchantID,
		TransactionRef: txc.TransactionRef,
		Amount:         txc.Amount,
		Currency:       txc.Currency,
		AppliedActions: d.AppliedActions,
		EvalMicros:     d.EvalTime.Microseconds(),
		CreatedAt:      s.now().UTC(),
	}
	if d.Rule != nil {
		dec.RuleID = &d.Rule.ID
		dec.RuleVersion = &d.Rule.Version
	}
	if len(d.Annotations) > 0 {
		ann := make(models.JSON, len(d.Annotations))
		for k, v := range d.Annotations {
			ann[k] = v
		}
		dec.Annotations = ann
	}
	return dec
}

// recordTerminal writes a decision that never reached an account.
func (s *service) recordTerminal(ctx context.Context, dec *models.RoutingDecision, outcome string) {
	s.recorder.Begin(ctx, dec)
	if err := s.recorder.Finalize(ctx, dec.ID, outcome); err != nil {
		s.logger.Error().Err(err).Str("decision_id", dec.ID).Str("outcome", outcome).Msg("terminal decision finalize failed")
	}
}

func (s *service) resolveAttempt(ctx context.Context, decisionID string, seq int, outcome string, report failover.Report, class string) {
	if err := s.recorder.ResolveAttempt(ctx, decisionID, seq, outcome, report.FailureCode, class, report.LatencyMS); err != nil {
		s.logger.Error().Err(err).Str("decision_id", decisionID).Int("seq", seq).Msg("attempt resolve failed")
	}
}

func (s *service) finalize(ctx context.Context, decisionID, outcome string) {
	if err := s.recorder.Finalize(ctx, decisionID, outcome); err != nil {
		s.logger.Error().Err(err).Str("decision_id", decisionID).Str("outcome", outcome).Msg("decision finalize failed")
	}
}

// closeAfterReselectFailure finalizes the audit trail when the controller
// could not ask for a replacement account. The failed attempt resolves with
// its own classification and the decision ends exhausted.
func (s *service) closeAfterReselectFailure(ctx context.Context, decisionID string, report failover.Report) {
	dec, err := s.recorder.Get(ctx, decisionID)
	if err != nil {
		s.logger.Error().Err(err).Str("decision_id", decisionID).Msg("decision lookup after re-select failure")
		return
	}
	s.resolveAttempt(ctx, decisionID, dec.AttemptCount, models.AttemptFailed, report, failover.Classify(report.FailureCode))
	s.finalize(ctx, decisionID, models.OutcomeExhausted)
}
