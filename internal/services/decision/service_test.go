package decision

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"cascade/internal/models"
	"cascade/internal/repositories"
)

type fakeDecisionRepo struct {
	mu        sync.Mutex
	decisions map[string]*models.RoutingDecision
	attempts  map[string][]models.DecisionAttempt
	err       error
}

func newFakeDecisionRepo() *fakeDecisionRepo {
	return &fakeDecisionRepo{
		decisions: make(map[string]*models.RoutingDecision),
		attempts:  make(map[string][]models.DecisionAttempt),
	}
}

func (r *fakeDecisionRepo) Create(dec *models.RoutingDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	clone := *dec
	clone.Attempts = nil
	r.decisions[dec.ID] = &clone
	return nil
}

func (r *fakeDecisionRepo) AppendAttempt(att *models.DecisionAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	dec, ok := r.decisions[att.DecisionID]
	if !ok || dec.FinalizedAt != nil {
		return repositories.ErrDecisionImmutable
	}
	dec.AttemptCount = att.Seq
	r.attempts[att.DecisionID] = append(r.attempts[att.DecisionID], *att)
	return nil
}

func (r *fakeDecisionRepo) ResolveAttempt(decisionID string, seq int, outcome, failureCode, failureClass string, latencyMS int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	atts := r.attempts[decisionID]
	for i := range atts {
		if atts[i].Seq == seq && atts[i].Outcome == models.AttemptPending {
			atts[i].Outcome = outcome
			atts[i].FailureCode = failureCode
			atts[i].FailureClass = failureClass
			atts[i].LatencyMS = latencyMS
			return nil
		}
	}
	return repositories.ErrDecisionImmutable
}

func (r *fakeDecisionRepo) Finalize(dec *models.RoutingDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	stored, ok := r.decisions[dec.ID]
	if !ok || stored.FinalizedAt != nil {
		return repositories.ErrDecisionImmutable
	}
	now := time.Now().UTC()
	stored.Outcome = dec.Outcome
	stored.BlockReason = dec.BlockReason
	stored.AttemptCount = dec.AttemptCount
	stored.EvalMicros = dec.EvalMicros
	stored.TotalMillis = dec.TotalMillis
	stored.FinalizedAt = &now
	dec.FinalizedAt = &now
	return nil
}

func (r *fakeDecisionRepo) GetByID(id string) (*models.RoutingDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	dec, ok := r.decisions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *dec
	clone.Attempts = append([]models.DecisionAttempt(nil), r.attempts[id]...)
	sort.Slice(clone.Attempts, func(i, j int) bool { return clone.Attempts[i].Seq < clone.Attempts[j].Seq })
	return &clone, nil
}

func (r *fakeDecisionRepo) GetByTransactionRef(merchantID uint, ref string) (*models.RoutingDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var latest *models.RoutingDecision
	for _, dec := range r.decisions {
		if dec.MerchantID != merchantID || dec.TransactionRef != ref {
			continue
		}
		if latest == nil || dec.CreatedAt.After(latest.CreatedAt) {
			latest = dec
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *latest
	clone.Attempts = append([]models.DecisionAttempt(nil), r.attempts[clone.ID]...)
	return &clone, nil
}

func (r *fakeDecisionRepo) ListByMerchant(merchantID uint, limit, offset int) ([]models.RoutingDecision, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, 0, r.err
	}
	var out []models.RoutingDecision
	for _, dec := range r.decisions {
		if dec.MerchantID == merchantID {
			out = append(out, *dec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

type fakeDecisionCache struct {
	mu      sync.Mutex
	entries map[string]*models.RoutingDecision
	err     error
}

func newFakeDecisionCache() *fakeDecisionCache {
	return &fakeDecisionCache{entries: make(map[string]*models.RoutingDecision)}
}

func (c *fakeDecisionCache) CacheDecision(_ context.Context, dec *models.RoutingDecision) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	clone := *dec
	c.entries[c.GenerateKey("decision", "id", dec.ID)] = &clone
	if dec.TransactionRef != "" {
		c.entries[c.DecisionRefKey(dec.MerchantID, dec.TransactionRef)] = &clone
	}
	return nil
}

func (c *fakeDecisionCache) GetDecision(_ context.Context, key string) (*models.RoutingDecision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	dec, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	clone := *dec
	return &clone, nil
}

func (c *fakeDecisionCache) GenerateKey(entityType, keyType string, value interface{}) string {
	return fmt.Sprintf("%s:%s:%v", entityType, keyType, value)
}

func (c *fakeDecisionCache) DecisionRefKey(merchantID uint, ref string) string {
	return fmt.Sprintf("decision:ref:%d:%s", merchantID, ref)
}

type recorderFixture struct {
	svc   Service
	raw   *service
	repo  *fakeDecisionRepo
	cache *fakeDecisionCache
}

func newRecorderFixture(t *testing.T) *recorderFixture {
	t.Helper()

	repo := newFakeDecisionRepo()
	cache := newFakeDecisionCache()
	svc := NewService(repo, cache, zerolog.Nop(), nil)
	return &recorderFixture{svc: svc, raw: svc.(*service), repo: repo, cache: cache}
}

func sampleDecision(id string) *models.RoutingDecision {
	poolID := uint(7)
	return &models.RoutingDecision{
		ID:             id,
		MerchantID:     1,
		TransactionRef: "txn-" + id,
		Amount:         120,
		Currency:       "USD",
		PoolID:         &poolID,
		Strategy:       models.StrategyWeighted,
	}
}

func sampleAccount(id uint) *models.MerchantAccount {
	return &models.MerchantAccount{ID: id, MerchantID: 1, Provider: "stripe"}
}

func TestBeginThenGetServesActiveDecision(t *testing.T) {
	fx := newRecorderFixture(t)
	ctx := context.Background()

	fx.svc.Begin(ctx, sampleDecision("d-1"))

	got, err := fx.svc.Get(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePending, got.Outcome)
	assert.False(t, got.Final())

	// Callers get a copy, not a window into the live trace.
	got.Outcome = "mangled"
	again, err := fx.svc.Get(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePending, again.Outcome)

	fx.repo.mu.Lock()
	_, persisted := fx.repo.decisions["d-1"]
	fx.repo.mu.Unlock()
	assert.True(t, persisted)
}

func TestFullLifecycle(t *testing.T) {
	fx := newRecorderFixture(t)
	ctx := context.Background()

	fx.svc.Begin(ctx, sampleDecision("d-2"))
	require.NoError(t, fx.svc.AppendAttempt(ctx, "d-2", 1, sampleAccount(101)))
	require.NoError(t, fx.svc.ResolveAttempt(ctx, "d-2", 1, models.AttemptFailed, "network_error", models.FailureRetryable, 900))
	require.NoError(t, fx.svc.AppendAttempt(ctx, "d-2", 2, sampleAccount(102)))
	require.NoError(t, fx.svc.ResolveAttempt(ctx, "d-2", 2, models.AttemptSucceeded, "", "", 120))
	require.NoError(t, fx.svc.Finalize(ctx, "d-2", models.OutcomeRouted))

	got, err := fx.svc.Get(ctx, "d-2")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRouted, got.Outcome)
	assert.True(t, got.Final())
	assert.Equal(t, 2, got.AttemptCount)
	require.Len(t, got.Attempts, 2)
	assert.Equal(t, models.AttemptFailed, got.Attempts[0].Outcome)
	assert.Equal(t, models.FailureRetryable, got.Attempts[0].FailureClass)
	assert.Equal(t, models.AttemptSucceeded, got.Attempts[1].Outcome)

	// Finalized means finalized.
	assert.ErrorIs(t, fx.svc.Finalize(ctx, "d-2", models.OutcomeDeclined), ErrDecisionFinal)
	assert.ErrorIs(t, fx.svc.AppendAttempt(ctx, "d-2", 3, sampleAccount(103)), ErrDecisionFinal)
	assert.ErrorIs(t, fx.svc.ResolveAttempt(ctx, "d-2", 1, models.AttemptFailed, "x", models.FailureTerminal, 0), ErrDecisionFinal)
}

func TestRecorderSurvivesStorageOutage(t *testing.T) {
	repo := newFakeDecisionRepo()
	repo.err = assert.AnError
	svc := NewService(repo, nil, zerolog.Nop(), nil)
	ctx := context.Background()

	svc.Begin(ctx, sampleDecision("d-3"))
	require.NoError(t, svc.AppendAttempt(ctx, "d-3", 1, sampleAccount(101)))
	require.NoError(t, svc.ResolveAttempt(ctx, "d-3", 1, models.AttemptSucceeded, "", "", 80))

	// The trace is still fully readable from memory.
	got, err := svc.Get(ctx, "d-3")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePending, got.Outcome)
	require.Len(t, got.Attempts, 1)
	assert.Equal(t, models.AttemptSucceeded, got.Attempts[0].Outcome)

	require.NoError(t, svc.Finalize(ctx, "d-3", models.OutcomeRouted))

	// Finalization dropped the memory copy; with storage still down the
	// decision is gone, which the finalize log line accounts for.
	_, err = svc.Get(ctx, "d-3")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestFinalizeStampsDuration(t *testing.T) {
	fx := newRecorderFixture(t)
	ctx := context.Background()

	start := time.Date(2025, 6, 18, 14, 30, 0, 0, time.UTC)
	fx.raw.now = func() time.Time { return start }
	fx.svc.Begin(ctx, sampleDecision("d-4"))

	fx.raw.now = func() time.Time { return start.Add(250 * time.Millisecond) }
	require.NoError(t, fx.svc.Finalize(ctx, "d-4", models.OutcomeNoEligible))

	got, err := fx.svc.Get(ctx, "d-4")
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.TotalMillis)
	assert.True(t, got.Final())
}

func TestAbandonClosesPendingAttempts(t *testing.T) {
	fx := newRecorderFixture(t)
	ctx := context.Background()

	fx.svc.Begin(ctx, sampleDecision("d-5"))
	require.NoError(t, fx.svc.AppendAttempt(ctx, "d-5", 1, sampleAccount(101)))

	require.NoError(t, fx.svc.Abandon(ctx, "d-5"))

	got, err := fx.svc.Get(ctx, "d-5")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeTimeout, got.Outcome)
	assert.True(t, got.Final())
	require.Len(t, got.Attempts, 1)
	assert.Equal(t, models.AttemptAbandoned, got.Attempts[0].Outcome)

	assert.ErrorIs(t, fx.svc.Abandon(ctx, "d-5"), ErrDecisionFinal)
}

func TestGetFallsBackToCacheThenStorage(t *testing.T) {
	fx := newRecorderFixture(t)
	ctx := context.Background()

	dec := sampleDecision("d-6")
	dec.CreatedAt = time.Now().UTC()
	require.NoError(t, fx.repo.Create(dec))

	// First read comes from storage and populates the cache.
	got, err := fx.svc.Get(ctx, "d-6")
	require.NoError(t, err)
	assert.Equal(t, "d-6", got.ID)

	fx.cache.mu.Lock()
	_, cached := fx.cache.entries["decision:id:d-6"]
	fx.cache.mu.Unlock()
	assert.True(t, cached)

	// With storage down, the cache still answers.
	fx.repo.err = assert.AnError
	got, err = fx.svc.Get(ctx, "d-6")
	require.NoError(t, err)
	assert.Equal(t, "d-6", got.ID)
}

func TestGetByRefScopedByMerchant(t *testing.T) {
	fx := newRecorderFixture(t)
	ctx := context.Background()

	first := sampleDecision("d-7")
	first.TransactionRef = "order-42"
	first.CreatedAt = time.Now().UTC()
	second := sampleDecision("d-8")
	second.MerchantID = 2
	second.TransactionRef = "order-42"
	second.CreatedAt = time.Now().UTC()
	require.NoError(t, fx.repo.Create(first))
	require.NoError(t, fx.repo.Create(second))

	got, err := fx.svc.GetByRef(ctx, 1, "order-42")
	require.NoError(t, err)
	assert.Equal(t, "d-7", got.ID)

	got, err = fx.svc.GetByRef(ctx, 2, "order-42")
	require.NoError(t, err)
	assert.Equal(t, "d-8", got.ID)

	// Both are now cached; the keys must not collide.
	got, err = fx.svc.GetByRef(ctx, 1, "order-42")
	require.NoError(t, err)
	assert.Equal(t, "d-7", got.ID)
}

func TestGetUnknownDecision(t *testing.T) {
	fx := newRecorderFixture(t)

	_, err := fx.svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrDecisionNotFound)

	_, err = fx.svc.GetByRef(context.Background(), 1, "nope")
	assert.ErrorIs(t, err, ErrDecisionNotFound)
}

func TestListPagesNewestFirst(t *testing.T) {
	fx := newRecorderFixture(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 18, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"d-9", "d-10", "d-11"} {
		dec := sampleDecision(id)
		dec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, fx.repo.Create(dec))
	}

	page, total, err := fx.svc.List(ctx, 1, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 2)
	assert.Equal(t, "d-11", page[0].ID)
	assert.Equal(t, "d-10", page[1].ID)

	page, _, err = fx.svc.List(ctx, 1, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "d-9", page[0].ID)
}
