package models

import (
	"time"

	"github.com/lib/pq"
)

// Merchant account statuses.
const (
	AccountStatusActive    = "active"
	AccountStatusInactive  = "inactive"
	AccountStatusSuspended = "suspended"
	AccountStatusPending   = "pending"
	AccountStatusClosed    = "closed"
)

// MerchantAccount is a configured connection to an upstream payment provider.
// Provider credentials are referenced through an opaque vault handle and are
// never stored or logged by the engine.
type MerchantAccount struct {
	ID            uint   `gorm:"primarykey"`
	MerchantID    uint   `gorm:"index;not null"`
	Provider      string `gorm:"not null"`
	Label         string
	CredentialRef string `gorm:"not null"`
	Status        string `gorm:"default:'pending'"`

	// Limits per rolling window. Zero means unlimited.
	DailyTxnLimit      int64
	DailyVolumeLimit   float64
	WeeklyTxnLimit     int64
	WeeklyVolumeLimit  float64
	MonthlyTxnLimit    int64
	MonthlyVolumeLimit float64
	YearlyTxnLimit     int64
	YearlyVolumeLimit  float64

	// Usage counters flushed from the in-memory ledger.
	DailyTxnUsed      int64
	DailyVolumeUsed   float64
	WeeklyTxnUsed     int64
	WeeklyVolumeUsed  float64
	MonthlyTxnUsed    int64
	MonthlyVolumeUsed float64
	YearlyTxnUsed     int64
	YearlyVolumeUsed  float64
	LastDailyReset    time.Time
	LastWeeklyReset   time.Time
	LastMonthlyReset  time.Time
	LastYearlyReset   time.Time

	// Cost model: effective fee = amount*FeePercent/100 + FeeFixed,
	// with per-brand percent overrides in BrandFees.
	FeePercent float64
	FeeFixed   float64
	BrandFees  JSON `gorm:"type:jsonb"`

	// Routing restrictions. An empty list imposes no constraint.
	AllowedCountries  pq.StringArray `gorm:"type:text[]"`
	BlockedCountries  pq.StringArray `gorm:"type:text[]"`
	AllowedCurrencies pq.StringArray `gorm:"type:text[]"`
	AllowedCardBrands pq.StringArray `gorm:"type:text[]"`
	BlockedCategories pq.StringArray `gorm:"type:text[]"`

	// Health view flushed from the in-memory tracker.
	SuccessRate  float64
	AvgLatencyMS float64
	HealthScore  float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountUsage is the ledger's view of one account's counters, used when
// flushing to and loading from the account row.
type AccountUsage struct {
	DailyTxnUsed      int64
	DailyVolumeUsed   float64
	WeeklyTxnUsed     int64
	WeeklyVolumeUsed  float64
	MonthlyTxnUsed    int64
	MonthlyVolumeUsed float64
	YearlyTxnUsed     int64
	YearlyVolumeUsed  float64
	LastDailyReset    time.Time
	LastWeeklyReset   time.Time
	LastMonthlyReset  time.Time
	LastYearlyReset   time.Time
}

// Usage extracts the persisted counters.
func (a *MerchantAccount) Usage() AccountUsage {
	return AccountUsage{
		DailyTxnUsed:      a.DailyTxnUsed,
		DailyVolumeUsed:   a.DailyVolumeUsed,
		WeeklyTxnUsed:     a.WeeklyTxnUsed,
		WeeklyVolumeUsed:  a.WeeklyVolumeUsed,
		MonthlyTxnUsed:    a.MonthlyTxnUsed,
		MonthlyVolumeUsed: a.MonthlyVolumeUsed,
		YearlyTxnUsed:     a.YearlyTxnUsed,
		YearlyVolumeUsed:  a.YearlyVolumeUsed,
		LastDailyReset:    a.LastDailyReset,
		LastWeeklyReset:   a.LastWeeklyReset,
		LastMonthlyReset:  a.LastMonthlyReset,
		LastYearlyReset:   a.LastYearlyReset,
	}
}

// AccountHealth is the tracker's view of one account, used when flushing to
// the account row and serving admin reads.
type AccountHealth struct {
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	HealthScore  float64 `json:"health_score"`
}
