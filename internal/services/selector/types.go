package selector

import (
	"time"

	"cascade/internal/models"
	"cascade/internal/services/health"
	"cascade/internal/services/ledger"
)

// Config holds tuning for the selector.
type Config struct {
	// SnapshotTTL bounds how stale a pool snapshot may grow without an
	// explicit invalidation.
	SnapshotTTL time.Duration
	// MinSuccessSamples is the observation floor below which the
	// highest_success strategy scores an account as pool average instead
	// of by its own rate.
	MinSuccessSamples int64
}

// Options modifies a single selection call.
type Options struct {
	// Simulate selects without claiming: no ledger reservation, no
	// in-flight token, no cursor advance.
	Simulate bool

	// Strategy overrides the pool's configured strategy for this call
	// when non-empty. A routing rule can pin a strategy this way.
	Strategy string
}

// Selection is one claimed account. Reservation and Load are nil under
// Options.Simulate; both must otherwise be settled by the caller at the
// attempt's terminal outcome.
type Selection struct {
	Account     *models.MerchantAccount
	PoolID      uint
	Strategy    string
	Reservation *ledger.Reservation
	Load        *LoadToken
}

// Abandon returns everything the selection claimed. Safe to call on a
// simulated or already settled selection.
func (s *Selection) Abandon() {
	if s == nil {
		return
	}
	s.Reservation.Release()
	s.Load.Release()
}

// Ledger is the usage-ledger surface selection consumes.
type Ledger interface {
	Peek(account *models.MerchantAccount, amount float64) error
	Reserve(account *models.MerchantAccount, amount float64) (*ledger.Reservation, error)
	Usage(accountID uint) (models.AccountUsage, bool)
}

// Health is the tracker surface selection consumes.
type Health interface {
	Eligible(accountID uint) bool
	Snapshot(accountID uint) (health.Stats, bool)
}

// MetricsCollector defines the metrics the selector emits.
type MetricsCollector interface {
	RecordSelection(strategy, result string)
	RecordSnapshotReload(kind string)
	RecordError(component, kind string)
}

// poolSnapshot is one pool's definition plus its member account rows,
// immutable once built.
type poolSnapshot struct {
	builtAt time.Time
	pool    *models.AccountPool
	members []memberAccount
}

// memberAccount pairs a membership with its account row, in the pool's
// priority order.
type memberAccount struct {
	membership models.PoolMembership
	account    *models.MerchantAccount
}

// candidate is one account still in the running during a selection call.
type candidate struct {
	account    *models.MerchantAccount
	membership models.PoolMembership
}
