package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"cascade/internal/models"
	"cascade/internal/services/failover"
	"cascade/internal/services/rules"
	"cascade/internal/services/selector"
)

type fakeMerchantRepo struct {
	merchants map[uint]models.Merchant
}

func (f *fakeMerchantRepo) GetByID(id uint) (*models.Merchant, error) {
	m, ok := f.merchants[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &m, nil
}

func (f *fakeMerchantRepo) List(int, int) ([]models.Merchant, int64, error) { return nil, 0, nil }
func (f *fakeMerchantRepo) Create(*models.Merchant) error                   { return nil }
func (f *fakeMerchantRepo) Update(*models.Merchant) error                   { return nil }

// scriptedEngine returns one fixed directive for every evaluation.
type scriptedEngine struct {
	directive *rules.Directive
	err       error
}

func (e *scriptedEngine) Evaluate(_ context.Context, _ *models.Merchant, _ *models.TransactionContext, _ time.Time) (*rules.Directive, error) {
	if e.err != nil {
		return nil, e.err
	}
	d := *e.directive
	return &d, nil
}

type selectCall struct {
	poolID    uint
	accountID uint
	opts      selector.Options
}

// scriptedSelector pops pre-built selections in order and records every
// call. It serves both the router and the failover controller.
type scriptedSelector struct {
	mu         sync.Mutex
	pool       *models.AccountPool
	poolErr    error
	selections []*selector.Selection
	err        error
	calls      []selectCall
}

func (s *scriptedSelector) Select(_ context.Context, poolID uint, _ *models.TransactionContext, _ map[uint]struct{}, opts selector.Options) (*selector.Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, selectCall{poolID: poolID, opts: opts})
	return s.pop()
}

func (s *scriptedSelector) SelectAccount(_ context.Context, accountID uint, _ *models.TransactionContext, opts selector.Options) (*selector.Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, selectCall{accountID: accountID, opts: opts})
	return s.pop()
}

func (s *scriptedSelector) pop() (*selector.Selection, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.selections) == 0 {
		return nil, selector.ErrNoEligibleAccount
	}
	sel := s.selections[0]
	s.selections = s.selections[1:]
	return sel, nil
}

func (s *scriptedSelector) Pool(uint) (*models.AccountPool, error) {
	if s.poolErr != nil {
		return nil, s.poolErr
	}
	return s.pool, nil
}

type recordedHealth struct {
	mu        sync.Mutex
	successes []uint
	failures  []uint
	degraded  map[uint]time.Duration
}

func (h *recordedHealth) RecordSuccess(id uint, _ int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.successes = append(h.successes, id)
}

func (h *recordedHealth) RecordFailure(id uint, _ string, _ int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, id)
}

func (h *recordedHealth) MarkDegraded(id uint, cooldown time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.degraded[id] = cooldown
}

// fakeRecorder keeps the audit trail in a map so tests can inspect what the
// router wrote at each step.
type fakeRecorder struct {
	mu        sync.Mutex
	decisions map[string]*models.RoutingDecision
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{decisions: make(map[string]*models.RoutingDecision)}
}

func (r *fakeRecorder) Begin(_ context.Context, dec *models.RoutingDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[dec.ID] = dec
}

func (r *fakeRecorder) AppendAttempt(_ context.Context, id string, seq int, account *models.MerchantAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dec := r.decisions[id]
	dec.Attempts = append(dec.Attempts, models.DecisionAttempt{
		DecisionID: id, Seq: seq, AccountID: account.ID,
		Provider: account.Provider, Outcome: models.AttemptPending,
	})
	dec.AttemptCount = seq
	return nil
}

func (r *fakeRecorder) ResolveAttempt(_ context.Context, id string, seq int, outcome, code, class string, latencyMS int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dec := r.decisions[id]
	for i := range dec.Attempts {
		if dec.Attempts[i].Seq == seq {
			dec.Attempts[i].Outcome = outcome
			dec.Attempts[i].FailureCode = code
			dec.Attempts[i].FailureClass = class
			dec.Attempts[i].LatencyMS = latencyMS
		}
	}
	return nil
}

func (r *fakeRecorder) Finalize(_ context.Context, id, outcome string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dec := r.decisions[id]
	now := time.Now().UTC()
	dec.Outcome = outcome
	dec.FinalizedAt = &now
	return nil
}

func (r *fakeRecorder) Get(_ context.Context, id string) (*models.RoutingDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dec, ok := r.decisions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return dec, nil
}

func (r *fakeRecorder) decision(t *testing.T, id string) *models.RoutingDecision {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	dec, ok := r.decisions[id]
	require.True(t, ok, "decision %s not recorded", id)
	return dec
}

type routerFixture struct {
	svc      Service
	engine   *scriptedEngine
	sel      *scriptedSelector
	failover failover.Service
	health   *recordedHealth
	rec      *fakeRecorder
}

func newRouterFixture(t *testing.T, directive *rules.Directive, pool *models.AccountPool, selections ...*selector.Selection) *routerFixture {
	t.Helper()

	merchants := &fakeMerchantRepo{merchants: map[uint]models.Merchant{
		1: {ID: 1, Name: "acme", Status: models.MerchantStatusActive},
		2: {ID: 2, Name: "frozen", Status: models.MerchantStatusSuspended},
	}}
	engine := &scriptedEngine{directive: directive}
	sel := &scriptedSelector{pool: pool, selections: selections}
	health := &recordedHealth{degraded: make(map[uint]time.Duration)}
	fo := failover.NewService(sel, health, failover.Config{}, zerolog.Nop(), nil)
	rec := newFakeRecorder()
	svc := NewService(merchants, engine, sel, fo, rec, Config{}, zerolog.Nop(), nil)

	return &routerFixture{svc: svc, engine: engine, sel: sel, failover: fo, health: health, rec: rec}
}

func poolDirective(poolID uint) *rules.Directive {
	return &rules.Directive{
		PoolID: poolID,
		Rule:   &rules.MatchedRule{ID: 4, Version: 2, Name: "eu-cards", Priority: 10},
		AppliedActions: models.ActionList{
			{Type: models.ActionSurcharge, Percent: 1.5, Cap: 2},
			{Type: models.ActionRouteToPool, PoolID: poolID},
		},
		SurchargePct: 1.5,
		SurchargeCap: 2,
		Annotations:  map[string]string{"campaign": "q3"},
		EvalTime:     180 * time.Microsecond,
	}
}

func routerPool(id uint, maxAttempts int) *models.AccountPool {
	return &models.AccountPool{
		ID: id, MerchantID: 1, Name: "primary",
		Strategy: models.StrategyWeighted, Status: models.PoolStatusActive,
		FailoverEnabled: true, MaxAttempts: maxAttempts, ExclusionSeconds: 60,
	}
}

func claimedSelection(accountID uint, provider string) *selector.Selection {
	return &selector.Selection{
		Account: &models.MerchantAccount{
			ID: accountID, MerchantID: 1, Provider: provider,
			Status: models.AccountStatusActive,
		},
		PoolID:   7,
		Strategy: models.StrategyWeighted,
	}
}

func routeTx(amount float64) *models.TransactionContext {
	return &models.TransactionContext{
		Amount:         amount,
		Currency:       "USD",
		TransactionRef: "order-1001",
		Geography:      models.Geography{Country: "US"},
		Method:         models.PaymentMethod{Brand: "visa", Type: models.MethodCard},
	}
}

func TestRouteTransactionRoutesAndRecords(t *testing.T) {
	fx := newRouterFixture(t, poolDirective(7), routerPool(7, 3), claimedSelection(101, "stripe"))

	res, err := fx.svc.RouteTransaction(context.Background(), 1, routeTx(75))
	require.NoError(t, err)
	require.NotEmpty(t, res.DecisionID)
	assert.Equal(t, uint(101), res.Account.ID)
	assert.Equal(t, uint(7), res.PoolID)
	assert.Equal(t, models.StrategyWeighted, res.Strategy)
	assert.Equal(t, 1, res.Attempt)
	assert.Equal(t, 1.5, res.SurchargePct)
	assert.Equal(t, "q3", res.Annotations["campaign"])
	assert.Len(t, res.AppliedActions, 2)

	dec := fx.rec.decision(t, res.DecisionID)
	assert.Equal(t, uint(1), dec.MerchantID)
	assert.Equal(t, "order-1001", dec.TransactionRef)
	assert.Equal(t, 75.0, dec.Amount)
	require.NotNil(t, dec.RuleID)
	assert.Equal(t, uint(4), *dec.RuleID)
	assert.Equal(t, 2, *dec.RuleVersion)
	require.NotNil(t, dec.PoolID)
	assert.Equal(t, uint(7), *dec.PoolID)
	assert.Equal(t, int64(180), dec.EvalMicros)
	assert.Nil(t, dec.FinalizedAt)
	require.Len(t, dec.Attempts, 1)
	assert.Equal(t, uint(101), dec.Attempts[0].AccountID)
	assert.Equal(t, models.AttemptPending, dec.Attempts[0].Outcome)

	// The decision now waits on an outcome report.
	assert.True(t, fx.failover.Tracking(res.DecisionID))
}

func TestRouteTransactionBlocked(t *testing.T) {
	directive := &rules.Directive{
		Blocked:        true,
		BlockReason:    "sanctioned country",
		Rule:           &rules.MatchedRule{ID: 9, Version: 1, Name: "embargo", Priority: 1},
		AppliedActions: models.ActionList{{Type: models.ActionBlock, Reason: "sanctioned country"}},
	}
	fx := newRouterFixture(t, directive, nil)

	_, err := fx.svc.RouteTransaction(context.Background(), 1, routeTx(75))
	require.ErrorIs(t, err, ErrRuleBlocked)

	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, "sanctioned country", blocked.Reason)

	dec := fx.rec.decision(t, blocked.DecisionID)
	assert.Equal(t, models.OutcomeBlocked, dec.Outcome)
	assert.Equal(t, "sanctioned country", dec.BlockReason)
	assert.NotNil(t, dec.FinalizedAt)
	assert.Empty(t, dec.Attempts)

	// No account was ever consulted.
	assert.Empty(t, fx.sel.calls)
	assert.False(t, fx.failover.Tracking(blocked.DecisionID))
}

func TestRouteTransactionNoEligibleAccount(t *testing.T) {
	fx := newRouterFixture(t, poolDirective(7), routerPool(7, 3))

	_, err := fx.svc.RouteTransaction(context.Background(), 1, routeTx(75))
	require.ErrorIs(t, err, selector.ErrNoEligibleAccount)

	require.Len(t, fx.rec.decisions, 1)
	for _, dec := range fx.rec.decisions {
		assert.Equal(t, models.OutcomeNoEligible, dec.Outcome)
		assert.NotNil(t, dec.FinalizedAt)
	}
}

func TestRouteTransactionMissingPoolIsConfigProblem(t *testing.T) {
	fx := newRouterFixture(t, poolDirective(7), nil)
	fx.sel.poolErr = selector.ErrPoolNotFound

	_, err := fx.svc.RouteTransaction(context.Background(), 1, routeTx(75))
	assert.ErrorIs(t, err, selector.ErrNoEligibleAccount)
	assert.ErrorIs(t, err, selector.ErrPoolNotFound)
}

func TestRouteTransactionNoTargetConfigured(t *testing.T) {
	// No rule match, no default pool.
	fx := newRouterFixture(t, &rules.Directive{}, nil)

	_, err := fx.svc.RouteTransaction(context.Background(), 1, routeTx(75))
	require.ErrorIs(t, err, selector.ErrNoEligibleAccount)
	assert.Empty(t, fx.sel.calls)
}

func TestRouteTransactionPinnedAccount(t *testing.T) {
	directive := &rules.Directive{
		AccountID: 55,
		Rule:      &rules.MatchedRule{ID: 3, Version: 1, Name: "pin-amex", Priority: 5},
	}
	pinned := &selector.Selection{
		Account: &models.MerchantAccount{ID: 55, MerchantID: 1, Provider: "amex", Status: models.AccountStatusActive},
	}
	fx := newRouterFixture(t, directive, nil, pinned)

	res, err := fx.svc.RouteTransaction(context.Background(), 1, routeTx(75))
	require.NoError(t, err)
	assert.Equal(t, uint(55), res.Account.ID)
	assert.Zero(t, res.PoolID)

	require.Len(t, fx.sel.calls, 1)
	assert.Equal(t, uint(55), fx.sel.calls[0].accountID)

	// A pinned decision never fails over: the first retryable failure
	// exhausts it.
	_, err = fx.svc.ReportOutcome(context.Background(), res.DecisionID, failover.Report{AccountID: 55, FailureCode: "network_error"})
	require.ErrorIs(t, err, ErrExhausted)
	assert.Len(t, fx.sel.calls, 1)
}

func TestRouteTransactionStrategyOverridePassedToSelector(t *testing.T) {
	directive := poolDirective(7)
	directive.Strategy = models.StrategyLowestCost
	sel := claimedSelection(101, "stripe")
	sel.Strategy = models.StrategyLowestCost
	fx := newRouterFixture(t, directive, routerPool(7, 3), sel)

	res, err := fx.svc.RouteTransaction(context.Background(), 1, routeTx(75))
	require.NoError(t, err)
	assert.Equal(t, models.StrategyLowestCost, res.Strategy)

	require.Len(t, fx.sel.calls, 1)
	assert.Equal(t, models.StrategyLowestCost, fx.sel.calls[0].opts.Strategy)
	assert.Equal(t, models.StrategyLowestCost, fx.rec.decision(t, res.DecisionID).Strategy)
}

func TestRouteTransactionGuards(t *testing.T) {
	fx := newRouterFixture(t, poolDirective(7), routerPool(7, 3), claimedSelection(101, "stripe"))

	_, err := fx.svc.RouteTransaction(context.Background(), 99, routeTx(75))
	assert.ErrorIs(t, err, ErrMerchantNotFound)

	_, err = fx.svc.RouteTransaction(context.Background(), 2, routeTx(75))
	assert.ErrorIs(t, err, ErrMerchantInactive)

	_, err = fx.svc.RouteTransaction(context.Background(), 1, routeTx(0))
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	_, err = fx.svc.RouteTransaction(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	// Nothing made it far enough to be recorded.
	assert.Empty(t, fx.rec.decisions)
}

func TestRouteTransactionExpiredDeadline(t *testing.T) {
	fx := newRouterFixture(t, poolDirective(7), routerPool(7, 3), claimedSelection(101, "stripe"))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := fx.svc.RouteTransaction(ctx, 1, routeTx(75))
	require.ErrorIs(t, err, ErrTimeout)

	require.Len(t, fx.rec.decisions, 1)
	for _, dec := range fx.rec.decisions {
		assert.Equal(t, models.OutcomeTimeout, dec.Outcome)
	}
	assert.Empty(t, fx.sel.calls)
}

func TestReportOutcomeSuccessFinalizes(t *testing.T) {
	fx := newRouterFixture(t, poolDirective(7), routerPool(7, 3), claimedSelection(101, "stripe"))

	routed, err := fx.svc.RouteTransaction(context.Background(), 1, routeTx(75))
	require.NoError(t, err)

	res, err := fx.svc.ReportOutcome(context.Background(), routed.DecisionID, failover.Report{AccountID: 101, Success: true, LatencyMS: 120})
	require.NoError(t, err)
	assert.True(t, res.Final)
	assert.Equal(t, models.OutcomeRouted, res.Outcome)
	assert.Equal(t, 1, res.Attempt)

	dec := fx.rec.decision(t, routed.DecisionID)
	assert.Equal(t, models.OutcomeRouted, dec.Outcome)
	require.NotNil(t, dec.FinalizedAt)
	require.Len(t, dec.Attempts, 1)
	assert.Equal(t, models.AttemptSucceeded, dec.Attempts[0].Outcome)
	assert.Equal(t, int64(120), dec.Attempts[0].LatencyMS)

	assert.Contains(t, fx.health.successes, uint(101))
	assert.False(t, fx.failover.Tracking(routed.DecisionID))
}

func TestReportOutcomeFailoverAdvancesTrail(t *testing.T) {
	fx := newRouterFixture(t, poolDirective(7), routerPool(7, 3),
		claimedSelection(101, "stripe"), claimedSelection(102, "adyen"))

	routed, err := fx.svc.RouteTransaction(context.Background(), 1, routeTx(75))
	require.NoError(t, err)

	res, err := fx.svc.ReportOutcome(context.Background(), routed.DecisionID, failover.Report{AccountID: 101, FailureCode: "gateway_timeout", LatencyMS: 2500})
	require.NoError(t, err)
	assert.False(t, res.Final)
	assert.Equal(t, models.FailureRetryable, res.FailureClass)
	require.NotNil(t, res.NextAccount)
	assert.Equal(t, uint(102), res.NextAccount.ID)
	assert.Equal(t, 2, res.NextAttempt)

	// Re-selection kept the strategy the decision started under.
	require.Len(t, fx.sel.calls, 2)
	assert.Equal(t, models.StrategyWeighted, fx.sel.calls[1].opts.Strategy)

	dec := fx.rec.decision(t, routed.DecisionID)
	assert.Nil(t, dec.FinalizedAt)
	require.Len(t, dec.Attempts, 2)
	assert.Equal(t, models.AttemptFailed, dec.Attempts[0].Outcome)
	assert.Equal(t, "gateway_timeout", dec.Attempts[0].FailureCode)
	assert.Equal(t, models.FailureRetryable, dec.Attempts[0].FailureClass)
	assert.Equal(t, models.AttemptPending, dec.Attempts[1].Outcome)
	assert.Equal(t, uint(102), dec.Attempts[1].AccountID)

	res, err = fx.svc.ReportOutcome(context.Background(), routed.DecisionID, failover.Report{AccountID: 102, Success: true, LatencyMS: 180})
	require.NoError(t, err)
	assert.True(t, res.Final)
	assert.Equal(t, models.OutcomeRouted, res.Outcome)
	assert.Equal(t, 2, res.Attempt)

	dec = fx.rec.decision(t, routed.DecisionID)
	assert.Equal(t, models.OutcomeRouted, dec.Outcome)
	assert.Equal(t, models.AttemptSucceeded, dec.Attempts[1].Outcome)
}

func TestReportOutcomeExhausted(t *testing.T) {
	fx := newRouterFixture(t, poolDirective(7), routerPool(7, 1), claimedSelection(101, "stripe"))

	routed, err := fx.svc.RouteTransaction(context.Background(), 1, routeTx(75))
	require.NoError(t, err)

	_, err = fx.svc.ReportOutcome(context.Background(), routed.DecisionID, failover.Report{AccountID: 101, FailureCode: "network_error"})
	require.ErrorIs(t, err, ErrExhausted)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
	assert.Equal(t, "network_error", exhausted.LastFailureCode)

	dec := fx.rec.decision(t, routed.DecisionID)
	assert.Equal(t, models.OutcomeExhausted, dec.Outcome)
	assert.Equal(t, models.AttemptFailed, dec.Attempts[0].Outcome)
}

func TestReportOutcomeDeclined(t *testing.T) {
	fx := newRouterFixture(t, poolDirective(7), routerPool(7, 3), claimedSelection(101, "stripe"))

	routed, err := fx.svc.RouteTransaction(context.Background(), 1, routeTx(75))
	require.NoError(t, err)

	res, err := fx.svc.ReportOutcome(context.Background(), routed.DecisionID, failover.Report{AccountID: 101, FailureCode: "insufficient_funds"})
	require.NoError(t, err)
	assert.True(t, res.Final)
	assert.Equal(t, models.OutcomeDeclined, res.Outcome)
	assert.Equal(t, models.FailureTerminal, res.FailureClass)

	dec := fx.rec.decision(t, routed.DecisionID)
	assert.Equal(t, models.OutcomeDeclined, dec.Outcome)
	assert.Equal(t, "insufficient_funds", dec.Attempts[0].FailureCode)
}

func TestReportOutcomeDeadlineMidFailover(t *testing.T) {
	fx := newRouterFixture(t, poolDirective(7), routerPool(7, 3),
		claimedSelection(101, "stripe"), claimedSelection(102, "adyen"))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(200*time.Millisecond))
	defer cancel()
	routed, err := fx.svc.RouteTransaction(ctx, 1, routeTx(75))
	require.NoError(t, err)

	time.Sleep(250 * time.Millisecond)

	_, err = fx.svc.ReportOutcome(context.Background(), routed.DecisionID, failover.Report{AccountID: 101, FailureCode: "network_error"})
	require.ErrorIs(t, err, ErrTimeout)

	dec := fx.rec.decision(t, routed.DecisionID)
	assert.Equal(t, models.OutcomeTimeout, dec.Outcome)
	assert.NotNil(t, dec.FinalizedAt)
}

func TestReportOutcomeUnknownDecision(t *testing.T) {
	fx := newRouterFixture(t, poolDirective(7), routerPool(7, 3))

	_, err := fx.svc.ReportOutcome(context.Background(), "no-such-decision", failover.Report{AccountID: 101, Success: true})
	assert.ErrorIs(t, err, failover.ErrUnknownDecision)
}

func TestReportOutcomeReselectFailureClosesTrail(t *testing.T) {
	fx := newRouterFixture(t, poolDirective(7), routerPool(7, 3), claimedSelection(101, "stripe"))

	routed, err := fx.svc.RouteTransaction(context.Background(), 1, routeTx(75))
	require.NoError(t, err)
	fx.sel.err = assert.AnError

	_, err = fx.svc.ReportOutcome(context.Background(), routed.DecisionID, failover.Report{AccountID: 101, FailureCode: "network_error"})
	require.ErrorIs(t, err, assert.AnError)

	dec := fx.rec.decision(t, routed.DecisionID)
	assert.Equal(t, models.OutcomeExhausted, dec.Outcome)
	assert.Equal(t, models.AttemptFailed, dec.Attempts[0].Outcome)
	assert.Equal(t, models.FailureRetryable, dec.Attempts[0].FailureClass)
}

func TestSimulateClaimsNothing(t *testing.T) {
	directive := poolDirective(7)
	directive.Strategy = models.StrategyCapacity
	sel := claimedSelection(101, "stripe")
	sel.Strategy = models.StrategyCapacity
	fx := newRouterFixture(t, directive, routerPool(7, 3), sel)

	res, err := fx.svc.Simulate(context.Background(), 1, routeTx(75))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRouted, res.Outcome)
	assert.Equal(t, uint(101), res.Account.ID)
	assert.Equal(t, models.StrategyCapacity, res.Strategy)
	require.NotNil(t, res.Rule)
	assert.Equal(t, "eu-cards", res.Rule.Name)

	require.Len(t, fx.sel.calls, 1)
	assert.True(t, fx.sel.calls[0].opts.Simulate)
	assert.Equal(t, models.StrategyCapacity, fx.sel.calls[0].opts.Strategy)

	// No decision, no tracking, nothing to report against.
	assert.Empty(t, fx.rec.decisions)
}

func TestSimulateBlockedAndNoEligible(t *testing.T) {
	blocked := &rules.Directive{Blocked: true, BlockReason: "embargo"}
	fx := newRouterFixture(t, blocked, nil)

	res, err := fx.svc.Simulate(context.Background(), 1, routeTx(75))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeBlocked, res.Outcome)
	assert.Equal(t, "embargo", res.BlockReason)
	assert.Empty(t, fx.sel.calls)

	// Same pool, nothing selectable.
	fx = newRouterFixture(t, poolDirective(7), routerPool(7, 3))
	res, err = fx.svc.Simulate(context.Background(), 1, routeTx(75))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoEligible, res.Outcome)
	assert.Nil(t, res.Account)
	assert.Empty(t, fx.rec.decisions)
}
