package ledger

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

type fakeFlusher struct {
	mu    sync.Mutex
	calls map[uint]models.AccountUsage
	fail  bool
}

func newFakeFlusher() *fakeFlusher {
	return &fakeFlusher{calls: make(map[uint]models.AccountUsage)}
}

func (f *fakeFlusher) FlushUsage(id uint, usage models.AccountUsage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("db down")
	}
	f.calls[id] = usage
	return nil
}

func (f *fakeFlusher) flushed(id uint) (models.AccountUsage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.calls[id]
	return u, ok
}

func newTestService(t *testing.T, at time.Time) (*service, *fakeFlusher) {
	t.Helper()
	flusher := newFakeFlusher()
	svc := NewService(flusher, Config{}, zerolog.Nop(), nil).(*service)
	svc.now = func() time.Time { return at }
	return svc, flusher
}

func limitedAccount(id uint) *models.MerchantAccount {
	return &models.MerchantAccount{
		ID:                 id,
		DailyTxnLimit:      3,
		DailyVolumeLimit:   1000,
		MonthlyTxnLimit:    10,
		MonthlyVolumeLimit: 5000,
	}
}

func TestReserveCountsEveryWindow(t *testing.T) {
	// Wednesday mid-month.
	at := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, at)

	res, err := svc.Reserve(limitedAccount(1), 250)
	require.NoError(t, err)
	res.Commit()

	usage, ok := svc.Usage(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), usage.DailyTxnUsed)
	assert.Equal(t, int64(1), usage.WeeklyTxnUsed)
	assert.Equal(t, int64(1), usage.MonthlyTxnUsed)
	assert.Equal(t, int64(1), usage.YearlyTxnUsed)
	assert.Equal(t, 250.0, usage.DailyVolumeUsed)
	assert.Equal(t, 250.0, usage.YearlyVolumeUsed)
}

func TestReserveEnforcesLimits(t *testing.T) {
	tests := []struct {
		name       string
		account    *models.MerchantAccount
		amounts    []float64
		wantWindow Window
		wantKind   string
	}{
		{
			name:       "daily count ceiling",
			account:    &models.MerchantAccount{ID: 1, DailyTxnLimit: 2},
			amounts:    []float64{10, 10, 10},
			wantWindow: WindowDaily,
			wantKind:   "count",
		},
		{
			name:       "daily volume ceiling",
			account:    &models.MerchantAccount{ID: 2, DailyVolumeLimit: 100},
			amounts:    []float64{60, 30, 20},
			wantWindow: WindowDaily,
			wantKind:   "volume",
		},
		{
			name:       "monthly volume ceiling trips before daily",
			account:    &models.MerchantAccount{ID: 3, DailyVolumeLimit: 1000, MonthlyVolumeLimit: 150},
			amounts:    []float64{100, 100},
			wantWindow: WindowMonthly,
			wantKind:   "volume",
		},
	}

	at := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, at)

			var err error
			for _, amount := range tt.amounts {
				var res *Reservation
				res, err = svc.Reserve(tt.account, amount)
				if err == nil {
					res.Commit()
				}
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrLimitExceeded)
			var limitErr *LimitError
			require.ErrorAs(t, err, &limitErr)
			assert.Equal(t, tt.wantWindow, limitErr.Window)
			assert.Equal(t, tt.wantKind, limitErr.Kind)
		})
	}
}

func TestReserveUnlimitedAccount(t *testing.T) {
	at := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, at)
	acc := &models.MerchantAccount{ID: 9}

	for i := 0; i < 50; i++ {
		res, err := svc.Reserve(acc, 10000)
		require.NoError(t, err)
		res.Commit()
	}
}

func TestConcurrentReservesNeverOversubscribe(t *testing.T) {
	at := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, at)
	acc := &models.MerchantAccount{ID: 1, DailyTxnLimit: 25}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Reserve(acc, 1)
			if err == nil {
				res.Commit()
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, succeeded)
	usage, _ := svc.Usage(1)
	assert.Equal(t, int64(25), usage.DailyTxnUsed)
}

func TestReleaseRestoresExactlyOnce(t *testing.T) {
	at := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, at)
	acc := limitedAccount(1)

	res, err := svc.Reserve(acc, 100)
	require.NoError(t, err)

	res.Release()
	res.Release() // second release is a no-op

	usage, _ := svc.Usage(1)
	assert.Equal(t, int64(0), usage.DailyTxnUsed)
	assert.Equal(t, 0.0, usage.DailyVolumeUsed)
}

func TestCommitBlocksLaterRelease(t *testing.T) {
	at := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, at)
	acc := limitedAccount(1)

	res, err := svc.Reserve(acc, 100)
	require.NoError(t, err)
	res.Commit()
	res.Release()

	usage, _ := svc.Usage(1)
	assert.Equal(t, int64(1), usage.DailyTxnUsed)
	assert.Equal(t, 100.0, usage.DailyVolumeUsed)
}

func TestPeekDoesNotConsume(t *testing.T) {
	at := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, at)
	acc := &models.MerchantAccount{ID: 1, DailyTxnLimit: 1}

	require.NoError(t, svc.Peek(acc, 50))
	require.NoError(t, svc.Peek(acc, 50))

	res, err := svc.Reserve(acc, 50)
	require.NoError(t, err)
	res.Commit()

	assert.Error(t, svc.Peek(acc, 50))
}

func TestDailyRolloverKeepsLongerWindows(t *testing.T) {
	// Wednesday; the next day stays inside the same week, month and year.
	day1 := time.Date(2025, 6, 18, 23, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, day1)
	acc := limitedAccount(1)

	res, err := svc.Reserve(acc, 100)
	require.NoError(t, err)
	res.Commit()

	day2 := time.Date(2025, 6, 19, 1, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return day2 }

	usage, _ := svc.Usage(1)
	assert.Equal(t, int64(0), usage.DailyTxnUsed)
	assert.Equal(t, int64(1), usage.WeeklyTxnUsed)
	assert.Equal(t, int64(1), usage.MonthlyTxnUsed)
	assert.Equal(t, int64(1), usage.YearlyTxnUsed)
}

func TestWeeklyWindowResetsOnMonday(t *testing.T) {
	sunday := time.Date(2025, 6, 22, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t, sunday)
	acc := limitedAccount(1)

	res, err := svc.Reserve(acc, 100)
	require.NoError(t, err)
	res.Commit()

	monday := time.Date(2025, 6, 23, 0, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return monday }

	usage, _ := svc.Usage(1)
	assert.Equal(t, int64(0), usage.WeeklyTxnUsed)
	assert.Equal(t, int64(1), usage.MonthlyTxnUsed)
}

func TestSeedAdoptsFreshCountersOnly(t *testing.T) {
	at := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)
	today := time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC)
	lastMonday := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)

	acc := limitedAccount(1)
	acc.DailyTxnUsed = 2
	acc.DailyVolumeUsed = 500
	acc.LastDailyReset = today
	acc.WeeklyTxnUsed = 7
	acc.LastWeeklyReset = lastMonday
	// Monthly stamp predates this month, so its counters are stale.
	acc.MonthlyTxnUsed = 9
	acc.LastMonthlyReset = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	svc, _ := newTestService(t, at)
	require.NoError(t, svc.Peek(acc, 1)) // first touch seeds the entry
	usage, ok := svc.Usage(1)
	require.True(t, ok)

	assert.Equal(t, int64(2), usage.DailyTxnUsed)
	assert.Equal(t, 500.0, usage.DailyVolumeUsed)
	assert.Equal(t, int64(7), usage.WeeklyTxnUsed)
	assert.Equal(t, int64(0), usage.MonthlyTxnUsed)
}

func TestFlushWritesDirtyEntriesOnce(t *testing.T) {
	at := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)
	svc, flusher := newTestService(t, at)
	acc := limitedAccount(1)

	res, err := svc.Reserve(acc, 100)
	require.NoError(t, err)
	res.Commit()

	svc.Flush(context.Background())
	usage, ok := flusher.flushed(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), usage.DailyTxnUsed)

	// Nothing dirty; a second flush must not rewrite.
	flusher.mu.Lock()
	delete(flusher.calls, 1)
	flusher.mu.Unlock()
	svc.Flush(context.Background())
	_, ok = flusher.flushed(1)
	assert.False(t, ok)
}

func TestFlushFailureKeepsEntryDirty(t *testing.T) {
	at := time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)
	svc, flusher := newTestService(t, at)
	acc := limitedAccount(1)

	res, err := svc.Reserve(acc, 100)
	require.NoError(t, err)
	res.Commit()

	flusher.mu.Lock()
	flusher.fail = true
	flusher.mu.Unlock()
	svc.Flush(context.Background())

	flusher.mu.Lock()
	flusher.fail = false
	flusher.mu.Unlock()
	svc.Flush(context.Background())

	usage, ok := flusher.flushed(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), usage.DailyTxnUsed)
}
