// Package ledger tracks per-account usage against daily, weekly, monthly
// and yearly limits. Counters live in memory and are checked and claimed
// atomically per account; account rows receive a write-behind copy.
package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cascade/internal/models"

	"github.com/rs/zerolog"
)

type service struct {
	mu      sync.RWMutex
	entries map[uint]*entry

	flusher UsageFlusher
	config  Config
	logger  zerolog.Logger
	metrics MetricsCollector

	now func() time.Time
}

// NewService creates a new usage ledger.
func NewService(flusher UsageFlusher, config Config, logger zerolog.Logger, metrics MetricsCollector) Service {
	if flusher == nil {
		panic("usage flusher is required")
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = DefaultFlushInterval
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}

	return &service{
		entries: make(map[uint]*entry),
		flusher: flusher,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Reservation is the handle for one claimed slot. Commit keeps the usage,
// Release gives it back; both are idempotent and mutually exclusive.
type Reservation struct {
	svc       *service
	accountID uint
	amount    float64
	state     atomic.Int32
}

// Commit finalizes the reservation so the usage counts.
func (r *Reservation) Commit() {
	if r == nil || r.svc == nil {
		return
	}
	r.state.CompareAndSwap(reservationPending, reservationCommitted)
}

// Release returns the reserved headroom. Safe to call more than once; only
// the first call restores anything.
func (r *Reservation) Release() {
	if r == nil || r.svc == nil {
		return
	}
	if r.state.CompareAndSwap(reservationPending, reservationReleased) {
		r.svc.release(r.accountID, r.amount)
	}
}

type entry struct {
	mu      sync.Mutex
	windows [4]windowUsage
	dirty   bool
}

func (s *service) Reserve(account *models.MerchantAccount, amount float64) (*Reservation, error) {
	e := s.entryFor(account)
	now := s.now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollover(now)
	if w, kind, ok := e.headroom(account, amount); !ok {
		s.metrics.RecordReservation("rejected")
		return nil, &LimitError{AccountID: account.ID, Window: w, Kind: kind}
	}

	for i := range e.windows {
		e.windows[i].count++
		e.windows[i].volume += amount
	}
	e.dirty = true
	s.metrics.RecordReservation("reserved")

	return &Reservation{svc: s, accountID: account.ID, amount: amount}, nil
}

func (s *service) Peek(account *models.MerchantAccount, amount float64) error {
	e := s.entryFor(account)
	now := s.now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rollover(now)
	if w, kind, ok := e.headroom(account, amount); !ok {
		return &LimitError{AccountID: account.ID, Window: w, Kind: kind}
	}
	return nil
}

func (s *service) release(accountID uint, amount float64) {
	s.mu.RLock()
	e := s.entries[accountID]
	s.mu.RUnlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Windows that rolled over since the reservation are already zero;
	// clamp instead of going negative.
	for i := range e.windows {
		if e.windows[i].count > 0 {
			e.windows[i].count--
		}
		if e.windows[i].volume > amount {
			e.windows[i].volume -= amount
		} else {
			e.windows[i].volume = 0
		}
	}
	e.dirty = true
	s.metrics.RecordReservation("released")
}

func (s *service) Usage(accountID uint) (models.AccountUsage, bool) {
	s.mu.RLock()
	e := s.entries[accountID]
	s.mu.RUnlock()
	if e == nil {
		return models.AccountUsage{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollover(s.now().UTC())
	return e.snapshot(), true
}

// entryFor returns the live entry for an account, seeding a new one from
// the account row's persisted counters on first touch.
func (s *service) entryFor(account *models.MerchantAccount) *entry {
	s.mu.RLock()
	e, ok := s.entries[account.ID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[account.ID]; ok {
		return e
	}
	e = seedEntry(account, s.now().UTC())
	s.entries[account.ID] = e
	return e
}

// seedEntry adopts persisted counters whose reset stamp still falls inside
// the current period; anything older starts the window fresh.
func seedEntry(account *models.MerchantAccount, now time.Time) *entry {
	u := account.Usage()
	seeded := [4]struct {
		count   int64
		volume  float64
		lastRst time.Time
	}{
		{u.DailyTxnUsed, u.DailyVolumeUsed, u.LastDailyReset},
		{u.WeeklyTxnUsed, u.WeeklyVolumeUsed, u.LastWeeklyReset},
		{u.MonthlyTxnUsed, u.MonthlyVolumeUsed, u.LastMonthlyReset},
		{u.YearlyTxnUsed, u.YearlyVolumeUsed, u.LastYearlyReset},
	}

	e := &entry{}
	for i, w := range allWindows {
		boundary := windowStart(w, now)
		e.windows[i].resetAt = boundary
		if !seeded[i].lastRst.Before(boundary) {
			e.windows[i].count = seeded[i].count
			e.windows[i].volume = seeded[i].volume
		}
	}
	return e
}

// rollover zeroes any window whose period has ended. Callers hold e.mu, so
// readers never observe a partially reset window.
func (e *entry) rollover(now time.Time) {
	for i, w := range allWindows {
		boundary := windowStart(w, now)
		if e.windows[i].resetAt.Before(boundary) {
			e.windows[i].count = 0
			e.windows[i].volume = 0
			e.windows[i].resetAt = boundary
			e.dirty = true
		}
	}
}

// headroom reports whether one more transaction of the given volume fits in
// every window, and if not which ceiling it hit.
func (e *entry) headroom(account *models.MerchantAccount, amount float64) (Window, string, bool) {
	limits := limitsOf(account)
	for i, w := range allWindows {
		l, u := limits[i], e.windows[i]
		if l.maxCount > 0 && u.count+1 > l.maxCount {
			return w, "count", false
		}
		if l.maxVolume > 0 && u.volume+amount > l.maxVolume {
			return w, "volume", false
		}
	}
	return "", "", true
}

func (e *entry) snapshot() models.AccountUsage {
	return models.AccountUsage{
		DailyTxnUsed:      e.windows[0].count,
		DailyVolumeUsed:   e.windows[0].volume,
		WeeklyTxnUsed:     e.windows[1].count,
		WeeklyVolumeUsed:  e.windows[1].volume,
		MonthlyTxnUsed:    e.windows[2].count,
		MonthlyVolumeUsed: e.windows[2].volume,
		YearlyTxnUsed:     e.windows[3].count,
		YearlyVolumeUsed:  e.windows[3].volume,
		LastDailyReset:    e.windows[0].resetAt,
		LastWeeklyReset:   e.windows[1].resetAt,
		LastMonthlyReset:  e.windows[2].resetAt,
		LastYearlyReset:   e.windows[3].resetAt,
	}
}

// windowStart returns the UTC start of the period containing now. Weeks
// start on Monday.
func windowStart(w Window, now time.Time) time.Time {
	now = now.UTC()
	switch w {
	case WindowDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case WindowWeekly:
		back := (int(now.Weekday()) + 6) % 7
		monday := now.AddDate(0, 0, -back)
		return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
	case WindowMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
}

func (s *service) Run(ctx context.Context) {
	flush := time.NewTicker(s.config.FlushInterval)
	sweep := time.NewTicker(s.config.SweepInterval)
	defer flush.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush(context.Background())
			return
		case <-flush.C:
			s.Flush(ctx)
		case <-sweep.C:
			s.sweep()
		}
	}
}

func (s *service) sweep() {
	now := s.now().UTC()
	for _, e := range s.snapshotEntries() {
		e.e.mu.Lock()
		e.e.rollover(now)
		e.e.mu.Unlock()
	}
}

func (s *service) Flush(ctx context.Context) {
	for _, it := range s.snapshotEntries() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		it.e.mu.Lock()
		if !it.e.dirty {
			it.e.mu.Unlock()
			continue
		}
		usage := it.e.snapshot()
		it.e.dirty = false
		it.e.mu.Unlock()

		if err := s.flusher.FlushUsage(it.id, usage); err != nil {
			s.logger.Warn().Err(err).Uint("account_id", it.id).Msg("usage flush failed")
			s.metrics.RecordError("ledger", "flush")
			it.e.mu.Lock()
			it.e.dirty = true
			it.e.mu.Unlock()
		}
	}
}

type keyedEntry struct {
	id uint
	e  *entry
}

func (s *service) snapshotEntries() []keyedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]keyedEntry, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, keyedEntry{id: id, e: e})
	}
	return out
}
