package rules

import (
	"errors"
	"fmt"
)

// Service errors
var (
	ErrInvalidRule  = errors.New("invalid rule definition")
	ErrRuleNotFound = errors.New("rule not found")
)

// ValidationError names the part of a rule definition that failed write-time
// validation. It matches ErrInvalidRule under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule definition: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRule
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
