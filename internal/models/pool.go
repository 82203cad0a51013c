package models

import "time"

// Selection strategies.
const (
	StrategyWeighted       = "weighted"
	StrategyRoundRobin     = "round_robin"
	StrategyCapacity       = "capacity"
	StrategyLowestCost     = "lowest_cost"
	StrategyLeastLoad      = "least_load"
	StrategyHighestSuccess = "highest_success"
)

// ValidStrategy reports whether s names a known selection strategy.
func ValidStrategy(s string) bool {
	switch s {
	case StrategyWeighted, StrategyRoundRobin, StrategyCapacity,
		StrategyLowestCost, StrategyLeastLoad, StrategyHighestSuccess:
		return true
	}
	return false
}

// Pool statuses.
const (
	PoolStatusActive   = "active"
	PoolStatusDisabled = "disabled"
)

// AccountPool is an ordered group of merchant accounts that a transaction can
// be routed to. The strategy decides which member takes a given transaction;
// MaxAttempts bounds failover within one routing decision.
type AccountPool struct {
	ID               uint   `gorm:"primarykey"`
	MerchantID       uint   `gorm:"index;not null"`
	Name             string `gorm:"not null"`
	Strategy         string `gorm:"default:'weighted'"`
	Status           string `gorm:"default:'active'"`
	FailoverEnabled  bool   `gorm:"default:true"`
	MaxAttempts      int    `gorm:"default:3"`
	ExclusionSeconds int    `gorm:"default:300"`

	Memberships []PoolMembership `gorm:"foreignKey:PoolID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PoolMembership attaches an account to a pool with a weight used by the
// weighted strategy and a priority used to break ties.
type PoolMembership struct {
	ID        uint `gorm:"primarykey"`
	PoolID    uint `gorm:"not null;uniqueIndex:idx_pool_account"`
	AccountID uint `gorm:"not null;uniqueIndex:idx_pool_account"`
	Weight    int  `gorm:"default:1"`
	Priority  int  `gorm:"default:0"`
	Enabled   bool `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
