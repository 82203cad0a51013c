package ledger

import (
	"time"

	"cascade/internal/models"
)

// Window identifies one usage window.
type Window string

const (
	WindowDaily   Window = "daily"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
	WindowYearly  Window = "yearly"
)

var allWindows = [4]Window{WindowDaily, WindowWeekly, WindowMonthly, WindowYearly}

// Config holds configuration for the ledger's background work.
type Config struct {
	// FlushInterval is how often dirty counters are written back to the
	// account rows.
	FlushInterval time.Duration
	// SweepInterval is how often idle entries are rolled over so flushed
	// rows show zeroed windows without waiting for traffic.
	SweepInterval time.Duration
}

// UsageFlusher persists one account's counters.
type UsageFlusher interface {
	FlushUsage(id uint, usage models.AccountUsage) error
}

// MetricsCollector defines the metrics the ledger emits.
type MetricsCollector interface {
	RecordReservation(result string)
	RecordError(component, kind string)
}

// windowLimit is the ceiling for one window; zero fields mean unlimited.
type windowLimit struct {
	maxCount  int64
	maxVolume float64
}

func limitsOf(acc *models.MerchantAccount) [4]windowLimit {
	return [4]windowLimit{
		{acc.DailyTxnLimit, acc.DailyVolumeLimit},
		{acc.WeeklyTxnLimit, acc.WeeklyVolumeLimit},
		{acc.MonthlyTxnLimit, acc.MonthlyVolumeLimit},
		{acc.YearlyTxnLimit, acc.YearlyVolumeLimit},
	}
}

// windowUsage is one window's live counters. resetAt is the start of the
// period the counters cover.
type windowUsage struct {
	count   int64
	volume  float64
	resetAt time.Time
}
