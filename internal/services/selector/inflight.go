package selector

import (
	"sync"
	"sync/atomic"
)

// loadRegistry tracks per-account in-flight transaction counts for the
// least_load strategy. Counts are process-local; they describe work this
// instance has claimed and not yet settled.
type loadRegistry struct {
	counters sync.Map // account ID -> *atomic.Int64
}

func (r *loadRegistry) counterFor(accountID uint) *atomic.Int64 {
	if v, ok := r.counters.Load(accountID); ok {
		return v.(*atomic.Int64)
	}
	v, _ := r.counters.LoadOrStore(accountID, &atomic.Int64{})
	return v.(*atomic.Int64)
}

func (r *loadRegistry) acquire(accountID uint) *LoadToken {
	c := r.counterFor(accountID)
	c.Add(1)
	return &LoadToken{counter: c}
}

func (r *loadRegistry) count(accountID uint) int64 {
	if v, ok := r.counters.Load(accountID); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// LoadToken undoes one in-flight increment. Release is idempotent; every
// terminal path can call it without risking a double decrement, and a nil
// token (simulation) is a no-op.
type LoadToken struct {
	counter  *atomic.Int64
	released atomic.Bool
}

func (t *LoadToken) Release() {
	if t == nil {
		return
	}
	if t.released.CompareAndSwap(false, true) {
		t.counter.Add(-1)
	}
}
