package models

import "time"

// Decision outcomes.
const (
	OutcomePending    = "pending"
	OutcomeRouted     = "routed"
	OutcomeBlocked    = "blocked"
	OutcomeDeclined   = "declined"
	OutcomeExhausted  = "exhausted"
	OutcomeNoEligible = "no_eligible_account"
	OutcomeTimeout    = "timeout"
)

// Attempt outcomes.
const (
	AttemptPending   = "pending"
	AttemptSucceeded = "succeeded"
	AttemptFailed    = "failed"
	AttemptAbandoned = "abandoned"
)

// Failure classes assigned when an attempt fails.
const (
	FailureRetryable = "retryable"
	FailureTerminal  = "terminal"
	FailureSoft      = "soft"
)

// RoutingDecision is the audit record of one routing request. Once finalized
// it is immutable; late outcome reports are rejected, and operator-driven
// corrections reference the original through CorrectionOf.
type RoutingDecision struct {
	ID             string `gorm:"primarykey;type:uuid"`
	MerchantID     uint   `gorm:"index;not null"`
	TransactionRef string `gorm:"index"`
	Amount         float64
	Currency       string

	RuleID      *uint
	RuleVersion *int
	PoolID      *uint
	Strategy    string

	Outcome        string     `gorm:"index;default:'pending'"`
	BlockReason    string
	AppliedActions ActionList `gorm:"type:jsonb"`
	Annotations    JSON       `gorm:"type:jsonb"`

	AttemptCount int
	EvalMicros   int64
	TotalMillis  int64

	CorrectionOf *string `gorm:"type:uuid"`
	FinalizedAt  *time.Time

	Attempts []DecisionAttempt `gorm:"foreignKey:DecisionID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Final reports whether the decision has reached a terminal outcome.
func (d *RoutingDecision) Final() bool {
	return d.FinalizedAt != nil
}

// DecisionAttempt is one account attempt within a decision, appended in
// order and never rewritten once its outcome is set.
type DecisionAttempt struct {
	ID           uint   `gorm:"primarykey"`
	DecisionID   string `gorm:"type:uuid;index;not null"`
	Seq          int    `gorm:"not null"`
	AccountID    uint   `gorm:"not null"`
	Provider     string
	Outcome      string `gorm:"default:'pending'"`
	FailureCode  string
	FailureClass string
	LatencyMS    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
