package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cascade/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealthFlusher struct {
	mu    sync.Mutex
	calls map[uint]models.AccountHealth
}

func (f *fakeHealthFlusher) FlushHealth(id uint, h models.AccountHealth) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[uint]models.AccountHealth)
	}
	f.calls[id] = h
	return nil
}

type fakeProber struct {
	mu     sync.Mutex
	result map[uint]error
	probed []uint
}

func (p *fakeProber) Probe(_ context.Context, accountID uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, accountID)
	return p.result[accountID]
}

func newTestTracker(t *testing.T, prober Prober) (*service, *fakeHealthFlusher) {
	t.Helper()
	flusher := &fakeHealthFlusher{}
	svc := NewService(flusher, prober, Config{}, zerolog.Nop(), nil).(*service)
	base := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	return svc, flusher
}

func TestSuccessRateWeighsSoftDeclinesLess(t *testing.T) {
	svc, _ := newTestTracker(t, nil)

	svc.RecordSuccess(1, 100)
	svc.RecordFailure(1, models.FailureSoft, 100)

	svc.RecordSuccess(2, 100)
	svc.RecordFailure(2, models.FailureTerminal, 100)

	soft, ok := svc.Snapshot(1)
	require.True(t, ok)
	hard, ok := svc.Snapshot(2)
	require.True(t, ok)

	// 1/(1+0.5) vs 1/(1+1).
	assert.InDelta(t, 0.6667, soft.SuccessRate, 0.001)
	assert.InDelta(t, 0.5, hard.SuccessRate, 0.001)
	assert.Greater(t, soft.SuccessRate, hard.SuccessRate)
}

func TestLatencyEWMA(t *testing.T) {
	svc, _ := newTestTracker(t, nil)

	svc.RecordSuccess(1, 100)
	stats, _ := svc.Snapshot(1)
	assert.Equal(t, 100.0, stats.AvgLatencyMS)

	svc.RecordSuccess(1, 200)
	stats, _ = svc.Snapshot(1)
	// 0.2*200 + 0.8*100
	assert.InDelta(t, 120.0, stats.AvgLatencyMS, 0.001)
}

func TestScorePenalizesLatency(t *testing.T) {
	svc, _ := newTestTracker(t, nil)

	svc.RecordSuccess(1, 40)
	svc.RecordSuccess(2, 4000)

	fast, _ := svc.Snapshot(1)
	slow, _ := svc.Snapshot(2)
	assert.Greater(t, fast.Score, slow.Score)
	assert.GreaterOrEqual(t, slow.Score, 100.0-latencyPenaltyCap)
}

func TestMarkDegradedExcludesUntilCooldown(t *testing.T) {
	svc, _ := newTestTracker(t, nil)
	base := svc.now()

	assert.True(t, svc.Eligible(1))
	svc.MarkDegraded(1, 5*time.Minute)
	assert.False(t, svc.Eligible(1))

	// Shorter re-degradation must not shrink the exclusion.
	svc.MarkDegraded(1, time.Minute)
	svc.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.False(t, svc.Eligible(1))

	svc.now = func() time.Time { return base.Add(6 * time.Minute) }
	assert.True(t, svc.Eligible(1))
}

func TestRecoverClearsDegradation(t *testing.T) {
	svc, _ := newTestTracker(t, nil)

	svc.MarkDegraded(1, time.Hour)
	assert.False(t, svc.Eligible(1))

	svc.Recover(1)
	assert.True(t, svc.Eligible(1))

	// Unknown accounts are a no-op.
	svc.Recover(99)
	assert.True(t, svc.Eligible(99))
}

func TestSustainedFailuresAutoDegrade(t *testing.T) {
	svc, _ := newTestTracker(t, nil)

	for i := 0; i < DefaultMinSamples; i++ {
		svc.RecordFailure(7, models.FailureRetryable, 50)
	}

	assert.False(t, svc.Eligible(7))
	stats, _ := svc.Snapshot(7)
	assert.True(t, stats.Degraded)
}

func TestFewSamplesNeverAutoDegrade(t *testing.T) {
	svc, _ := newTestTracker(t, nil)

	for i := 0; i < int(DefaultMinSamples)-1; i++ {
		svc.RecordFailure(7, models.FailureRetryable, 50)
	}

	assert.True(t, svc.Eligible(7))
}

func TestProbeRecoversDegradedAccount(t *testing.T) {
	prober := &fakeProber{result: map[uint]error{
		1: nil,
		2: errors.New("still down"),
	}}
	svc, _ := newTestTracker(t, prober)

	svc.MarkDegraded(1, time.Hour)
	svc.MarkDegraded(2, time.Hour)

	svc.probeDegraded(context.Background())

	assert.True(t, svc.Eligible(1))
	assert.False(t, svc.Eligible(2))
}

func TestProbeSkipsHealthyAccounts(t *testing.T) {
	prober := &fakeProber{result: map[uint]error{}}
	svc, _ := newTestTracker(t, prober)

	svc.RecordSuccess(3, 50)
	svc.probeDegraded(context.Background())

	prober.mu.Lock()
	defer prober.mu.Unlock()
	assert.Empty(t, prober.probed)
}

func TestFlushWritesHealthView(t *testing.T) {
	svc, flusher := newTestTracker(t, nil)

	svc.RecordSuccess(1, 100)
	svc.RecordFailure(1, models.FailureTerminal, 300)
	svc.Flush(context.Background())

	flusher.mu.Lock()
	view, ok := flusher.calls[1]
	flusher.mu.Unlock()
	require.True(t, ok)
	assert.InDelta(t, 0.5, view.SuccessRate, 0.001)
	assert.Greater(t, view.AvgLatencyMS, 0.0)
}
