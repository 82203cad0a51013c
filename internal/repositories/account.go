package repositories

import (
	"cascade/internal/models"

	"gorm.io/gorm"
)

type AccountRepository interface {
	GetByID(id uint) (*models.MerchantAccount, error)
	ListByMerchant(merchantID uint) ([]models.MerchantAccount, error)
	ListByIDs(ids []uint) ([]models.MerchantAccount, error)
	ListAll() ([]models.MerchantAccount, error)
	Create(account *models.MerchantAccount) error
	Update(account *models.MerchantAccount) error
	UpdateStatus(id uint, status string) error
	FlushUsage(id uint, usage models.AccountUsage) error
	FlushHealth(id uint, health models.AccountHealth) error
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) GetByID(id uint) (*models.MerchantAccount, error) {
	var account models.MerchantAccount
	if err := r.db.First(&account, id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) ListByMerchant(merchantID uint) ([]models.MerchantAccount, error) {
	var accounts []models.MerchantAccount
	err := r.db.Where("merchant_id = ?", merchantID).Order("id").Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) ListByIDs(ids []uint) ([]models.MerchantAccount, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var accounts []models.MerchantAccount
	err := r.db.Where("id IN ?", ids).Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) ListAll() ([]models.MerchantAccount, error) {
	var accounts []models.MerchantAccount
	err := r.db.Order("id").Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) Create(account *models.MerchantAccount) error {
	return r.db.Create(account).Error
}

func (r *accountRepository) Update(account *models.MerchantAccount) error {
	return r.db.Save(account).Error
}

func (r *accountRepository) UpdateStatus(id uint, status string) error {
	return r.db.Model(&models.MerchantAccount{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// FlushUsage writes the ledger's counters back to the account row. A map is
// used so zeroed counters survive the update.
func (r *accountRepository) FlushUsage(id uint, usage models.AccountUsage) error {
	return r.db.Model(&models.MerchantAccount{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"daily_txn_used":      usage.DailyTxnUsed,
			"daily_volume_used":   usage.DailyVolumeUsed,
			"weekly_txn_used":     usage.WeeklyTxnUsed,
			"weekly_volume_used":  usage.WeeklyVolumeUsed,
			"monthly_txn_used":    usage.MonthlyTxnUsed,
			"monthly_volume_used": usage.MonthlyVolumeUsed,
			"yearly_txn_used":     usage.YearlyTxnUsed,
			"yearly_volume_used":  usage.YearlyVolumeUsed,
			"last_daily_reset":    usage.LastDailyReset,
			"last_weekly_reset":   usage.LastWeeklyReset,
			"last_monthly_reset":  usage.LastMonthlyReset,
			"last_yearly_reset":   usage.LastYearlyReset,
		}).Error
}

func (r *accountRepository) FlushHealth(id uint, health models.AccountHealth) error {
	return r.db.Model(&models.MerchantAccount{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"success_rate":   health.SuccessRate,
			"avg_latency_ms": health.AvgLatencyMS,
			"health_score":   health.HealthScore,
		}).Error
}
