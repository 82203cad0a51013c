package models

import "time"

// Merchant statuses.
const (
	MerchantStatusActive    = "active"
	MerchantStatusSuspended = "suspended"
	MerchantStatusClosed    = "closed"
)

// Merchant is a platform customer whose transactions the engine routes.
// DefaultPoolID is the fallback target when no routing rule matches.
type Merchant struct {
	ID            uint   `gorm:"primarykey"`
	Name          string `gorm:"not null"`
	Status        string `gorm:"default:'active'"`
	DefaultPoolID *uint  `gorm:"default:null"`
	Metadata      JSON   `gorm:"type:jsonb"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
