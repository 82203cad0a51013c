package ledger

import (
	"context"

	"cascade/internal/models"
)

// Service is the usage ledger. It is the authoritative view of per-account
// consumption; the counters on the account rows are a write-behind copy.
type Service interface {
	// Reserve atomically checks every window of the account and claims one
	// transaction of the given volume. The returned reservation must be
	// committed on success or released on failure.
	Reserve(account *models.MerchantAccount, amount float64) (*Reservation, error)

	// Peek reports whether a reservation of the given volume would succeed,
	// without claiming anything.
	Peek(account *models.MerchantAccount, amount float64) error

	// Usage returns the live counters for an account, if the ledger has
	// seen it.
	Usage(accountID uint) (models.AccountUsage, bool)

	// Run drives window resets and write-behind flushing until ctx is done.
	Run(ctx context.Context)

	// Flush writes all dirty counters back to the account rows.
	Flush(ctx context.Context)
}
