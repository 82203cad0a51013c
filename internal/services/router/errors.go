package router

import (
	"errors"
	"fmt"
)

// Service errors
var (
	ErrRuleBlocked        = errors.New("transaction blocked by rule")
	ErrExhausted          = errors.New("routing attempts exhausted")
	ErrTimeout            = errors.New("routing deadline exceeded")
	ErrMerchantNotFound   = errors.New("merchant not found")
	ErrMerchantInactive   = errors.New("merchant is not active")
	ErrInvalidTransaction = errors.New("invalid transaction context")
)

// BlockedError is the rule-block outcome. Reason is operator-authored and
// safe to pass along; DecisionID references the recorded decision. It
// matches ErrRuleBlocked under errors.Is.
type BlockedError struct {
	DecisionID string
	Reason     string
}

func (e *BlockedError) Error() string {
	if e.Reason == "" {
		return "transaction blocked by rule"
	}
	return fmt.Sprintf("transaction blocked by rule: %s", e.Reason)
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrRuleBlocked
}

// ExhaustedError reports a decision that consumed its attempt budget or its
// pool without a successful attempt. It matches ErrExhausted under
// errors.Is.
type ExhaustedError struct {
	DecisionID      string
	Attempts        int
	LastFailureCode string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("routing exhausted after %d attempts (last failure %q)", e.Attempts, e.LastFailureCode)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}
