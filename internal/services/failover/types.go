package failover

import (
	"context"
	"sync"
	"time"

	"cascade/internal/models"
	"cascade/internal/services/selector"
)

// Config holds tuning for the failover controller.
type Config struct {
	// StateTTL bounds how long a decision may sit between routing and its
	// final outcome report before the controller abandons it.
	StateTTL time.Duration
	// SweepInterval is how often expired decisions are collected.
	SweepInterval time.Duration
	// DefaultExclusion is the degradation cooldown applied when the
	// decision has no pool to take one from.
	DefaultExclusion time.Duration
	// OnAbandon, when set, is called with the decision ID after the sweep
	// drops an expired decision, so the caller can close out its record.
	OnAbandon func(decisionID string)
}

// Report is one provider attempt outcome as reported by the processing
// collaborator.
type Report struct {
	AccountID   uint
	Success     bool
	FailureCode string
	LatencyMS   int64
}

// Resolution is the controller's verdict on a reported outcome.
type Resolution struct {
	// Final is false while the controller holds a fresh selection for
	// another attempt.
	Final bool
	// Outcome is the decision's final outcome, set when Final.
	Outcome string
	// FailureClass classifies the reported failure, empty on success.
	FailureClass string
	// Attempt is the sequence number of the attempt just resolved.
	Attempt int
	// Next carries the claimed selection for the following attempt when
	// Final is false; NextAttempt is its sequence number.
	Next        *selector.Selection
	NextAttempt int
}

// Selector is the account-selection surface the controller consumes.
type Selector interface {
	Select(ctx context.Context, poolID uint, txc *models.TransactionContext, excluded map[uint]struct{}, opts selector.Options) (*selector.Selection, error)
}

// Health is the tracker surface the controller consumes.
type Health interface {
	RecordSuccess(accountID uint, latencyMS int64)
	RecordFailure(accountID uint, class string, latencyMS int64)
	MarkDegraded(accountID uint, cooldown time.Duration)
}

// state is one in-flight decision's failover bookkeeping. A pinned decision
// carries no pool and never re-selects.
type state struct {
	mu sync.Mutex

	decisionID string
	poolID     uint
	pinned     bool
	strategy   string
	txc        *models.TransactionContext

	failover    bool
	maxAttempts int
	cooldown    time.Duration
	deadline    time.Time

	attempt  int
	excluded map[uint]struct{}
	softUsed bool
	current  *selector.Selection
	begunAt  time.Time
	done     bool
}
