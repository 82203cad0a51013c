package rules

import (
	"context"
	"time"

	"cascade/internal/models"
)

// Service is the rule engine.
type Service interface {
	// Evaluate runs the merchant's rules against a transaction and returns
	// the routing directive. It never returns rule-definition errors; a
	// condition that cannot be evaluated counts as false.
	Evaluate(ctx context.Context, merchant *models.Merchant, txc *models.TransactionContext, now time.Time) (*Directive, error)

	// Write operations validate, persist a version snapshot and invalidate
	// the merchant's compiled snapshot before returning.
	Create(ctx context.Context, rule *models.RoutingRule) error
	Update(ctx context.Context, rule *models.RoutingRule) error
	Delete(ctx context.Context, merchantID, ruleID uint) error

	Get(merchantID, ruleID uint) (*models.RoutingRule, error)
	List(merchantID uint) ([]models.RoutingRule, error)
	ListVersions(merchantID, ruleID uint) ([]models.RuleVersion, error)

	// Invalidate drops the merchant's compiled snapshot. Used by the
	// cross-instance invalidation listener.
	Invalidate(merchantID uint)
}
