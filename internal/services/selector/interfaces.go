package selector

import (
	"context"

	"cascade/internal/models"
)

// Service is the account selector.
type Service interface {
	// Select picks one account from the pool for the transaction,
	// excluding the given account IDs. The returned selection carries a
	// committed-to ledger reservation and an in-flight token unless
	// opts.Simulate is set. Returns ErrNoEligibleAccount when filtering
	// leaves no candidate.
	Select(ctx context.Context, poolID uint, txc *models.TransactionContext, excluded map[uint]struct{}, opts Options) (*Selection, error)

	// SelectAccount claims one specific account, bypassing pool
	// membership and restriction filters. Status, health and ledger
	// limits still apply.
	SelectAccount(ctx context.Context, accountID uint, txc *models.TransactionContext, opts Options) (*Selection, error)

	// Pool returns the pool definition from the snapshot cache.
	Pool(poolID uint) (*models.AccountPool, error)

	// InFlight reports the number of transactions currently claimed
	// against the account.
	InFlight(accountID uint) int64

	// InvalidatePool drops one pool's snapshot.
	InvalidatePool(poolID uint)

	// InvalidateMerchant drops every snapshot belonging to the merchant.
	// Used when account rows change, since those are embedded in the
	// snapshots.
	InvalidateMerchant(merchantID uint)
}
