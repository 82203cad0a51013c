package router

import (
	"context"
	"time"

	"cascade/internal/models"
	"cascade/internal/services/failover"
	"cascade/internal/services/rules"
	"cascade/internal/services/selector"
)

// Config holds routing orchestration tuning.
type Config struct {
	// DefaultDeadline is applied when the caller's context has no
	// deadline.
	DefaultDeadline time.Duration
}

// RoutingResult is the answer to a routing request: the account to charge
// first plus every adjustment the matched rule imposed on the charge.
type RoutingResult struct {
	DecisionID string                  `json:"decision_id"`
	Account    *models.MerchantAccount `json:"account"`
	PoolID     uint                    `json:"pool_id,omitempty"`
	Strategy   string                  `json:"strategy,omitempty"`
	Attempt    int                     `json:"attempt"`

	AppliedActions models.ActionList `json:"applied_actions,omitempty"`
	SurchargePct   float64           `json:"surcharge_pct,omitempty"`
	SurchargeCap   float64           `json:"surcharge_cap,omitempty"`
	DiscountPct    float64           `json:"discount_pct,omitempty"`
	StepUpLevel    string            `json:"step_up_level,omitempty"`
	FlagForReview  bool              `json:"flag_for_review,omitempty"`
	Annotations    map[string]string `json:"annotations,omitempty"`
}

// OutcomeResolution is the engine's reply to an outcome report. When Final
// is false the collaborator should retry against NextAccount.
type OutcomeResolution struct {
	DecisionID   string `json:"decision_id"`
	Final        bool   `json:"final"`
	Outcome      string `json:"outcome,omitempty"`
	FailureClass string `json:"failure_class,omitempty"`
	Attempt      int    `json:"attempt"`

	NextAccount *models.MerchantAccount `json:"next_account,omitempty"`
	NextAttempt int                     `json:"next_attempt,omitempty"`
}

// SimulationResult mirrors RoutingResult for the dry-run path. Nothing is
// claimed or recorded; Outcome tells how a live request would have ended.
type SimulationResult struct {
	Outcome     string                  `json:"outcome"`
	BlockReason string                  `json:"block_reason,omitempty"`
	Account     *models.MerchantAccount `json:"account,omitempty"`
	PoolID      uint                    `json:"pool_id,omitempty"`
	Strategy    string                  `json:"strategy,omitempty"`

	Rule           *rules.MatchedRule `json:"rule,omitempty"`
	AppliedActions models.ActionList  `json:"applied_actions,omitempty"`
	EvalMicros     int64              `json:"eval_micros"`
}

// RuleEngine is the evaluation surface the router consumes.
type RuleEngine interface {
	Evaluate(ctx context.Context, merchant *models.Merchant, txc *models.TransactionContext, now time.Time) (*rules.Directive, error)
}

// Selector is the account-selection surface the router consumes.
type Selector interface {
	Select(ctx context.Context, poolID uint, txc *models.TransactionContext, excluded map[uint]struct{}, opts selector.Options) (*selector.Selection, error)
	SelectAccount(ctx context.Context, accountID uint, txc *models.TransactionContext, opts selector.Options) (*selector.Selection, error)
	Pool(poolID uint) (*models.AccountPool, error)
}

// Failover is the retry-controller surface the router consumes.
type Failover interface {
	Begin(decisionID string, pool *models.AccountPool, txc *models.TransactionContext, sel *selector.Selection, deadline time.Time)
	HandleOutcome(ctx context.Context, decisionID string, report failover.Report) (*failover.Resolution, error)
}

// Recorder is the audit surface the router consumes.
type Recorder interface {
	Begin(ctx context.Context, dec *models.RoutingDecision)
	AppendAttempt(ctx context.Context, decisionID string, seq int, account *models.MerchantAccount) error
	ResolveAttempt(ctx context.Context, decisionID string, seq int, outcome, failureCode, failureClass string, latencyMS int64) error
	Finalize(ctx context.Context, decisionID, outcome string) error
	Get(ctx context.Context, id string) (*models.RoutingDecision, error)
}
