package models

import (
	"time"

	"gorm.io/gorm"
)

// Operator roles.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Operator statuses.
const (
	OperatorStatusActive    = "active"
	OperatorStatusSuspended = "suspended"
)

// Operator is a human user of the admin surface.
type Operator struct {
	gorm.Model
	Email               string `gorm:"uniqueIndex;not null"`
	Password            string `gorm:"not null" json:"-"`
	Name                string `gorm:"not null"`
	Role                string `gorm:"default:'viewer'"`
	Status              string `gorm:"default:'active'"`
	LastLoginAt         time.Time
	LastLoginIP         string
	FailedLoginAttempts int `gorm:"default:0"`
	TokenVersion        int `gorm:"default:1"`
}

// ServiceKey authenticates machine callers of the routing surface. Only a
// bcrypt hash of the secret is stored; the prefix is the lookup handle.
type ServiceKey struct {
	gorm.Model
	MerchantID uint   `gorm:"index;not null"`
	Label      string
	Prefix     string `gorm:"uniqueIndex;not null"`
	KeyHash    string `gorm:"not null"`
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// Revoked reports whether the key has been withdrawn.
func (k *ServiceKey) Revoked() bool {
	return k.RevokedAt != nil
}
