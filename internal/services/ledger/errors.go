package ledger

import (
	"errors"
	"fmt"
)

// Service errors
var (
	ErrLimitExceeded = errors.New("usage limit exceeded")
)

// LimitError reports which window and which ceiling a reservation hit. It
// matches ErrLimitExceeded under errors.Is.
type LimitError struct {
	AccountID uint
	Window    Window
	Kind      string // "count" or "volume"
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("account %d: %s %s limit exceeded", e.AccountID, e.Window, e.Kind)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrLimitExceeded
}
