package rules

import (
	"context"
	"time"

	"cascade/internal/models"
	"cascade/internal/repositories/cache"
)

// Config holds limits applied to rule definitions at write time.
type Config struct {
	MaxConditionDepth int
	MaxConditionNodes int
	MaxActions        int
}

// Directive is the outcome of evaluating one transaction against a
// merchant's rules. Exactly one of Blocked, AccountID or PoolID describes
// the routing target; the adjustment fields accumulate from the matched
// rule's action list.
type Directive struct {
	PoolID      uint
	AccountID   uint
	Blocked     bool
	BlockReason string

	// Strategy overrides the pool's configured selection strategy when
	// non-empty. Only a route_to_pool action sets it.
	Strategy string

	SurchargePct  float64
	SurchargeCap  float64
	DiscountPct   float64
	StepUpLevel   string
	FlagForReview bool
	Annotations   map[string]string

	// Rule is nil when the default pool supplied the target.
	Rule           *MatchedRule
	AppliedActions models.ActionList
	EvalTime       time.Duration
}

// HasTarget reports whether the directive names somewhere to route.
func (d *Directive) HasTarget() bool {
	return d.Blocked || d.AccountID != 0 || d.PoolID != 0
}

// MatchedRule identifies the exact rule version that produced a directive.
type MatchedRule struct {
	ID       uint
	Version  int
	Name     string
	Priority int
}

// InvalidationPublisher broadcasts snapshot invalidations to other
// instances. The local snapshot is always dropped synchronously first.
type InvalidationPublisher interface {
	Publish(ctx context.Context, inv cache.Invalidation) error
}

// MetricsCollector defines the metrics the rule engine emits.
type MetricsCollector interface {
	RecordEvaluation(result string, duration time.Duration)
	RecordSnapshotReload(kind string)
	RecordError(component, kind string)
}

// merchantSnapshot is one merchant's compiled, immutable rule set. Rules are
// already sorted by priority; scheduling is checked per evaluation because
// it depends on the clock.
type merchantSnapshot struct {
	builtAt time.Time
	rules   []*compiledRule
}

type compiledRule struct {
	id       uint
	version  int
	name     string
	priority int
	schedule models.Schedule
	match    evalFunc
	actions  models.ActionList
}

// evalFunc tests one compiled condition node against a transaction.
type evalFunc func(txc *models.TransactionContext, now time.Time) (bool, error)
