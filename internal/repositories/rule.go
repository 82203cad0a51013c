package repositories

import (
	"cascade/internal/models"

	"gorm.io/gorm"
)

type RuleRepository interface {
	GetByID(id uint) (*models.RoutingRule, error)
	ListByMerchant(merchantID uint) ([]models.RoutingRule, error)
	ListActiveByMerchant(merchantID uint) ([]models.RoutingRule, error)
	Create(rule *models.RoutingRule) error
	Update(rule *models.RoutingRule) error
	Delete(id uint) error
	GetVersion(ruleID uint, version int) (*models.RuleVersion, error)
	ListVersions(ruleID uint) ([]models.RuleVersion, error)
}

type ruleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) GetByID(id uint) (*models.RoutingRule, error) {
	var rule models.RoutingRule
	if err := r.db.First(&rule, id).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepository) ListByMerchant(merchantID uint) ([]models.RoutingRule, error) {
	var rules []models.RoutingRule
	err := r.db.Where("merchant_id = ?", merchantID).
		Order("priority, id").
		Find(&rules).Error
	return rules, err
}

func (r *ruleRepository) ListActiveByMerchant(merchantID uint) ([]models.RoutingRule, error) {
	var rules []models.RoutingRule
	err := r.db.Where("merchant_id = ? AND active = ?", merchantID, true).
		Order("priority, id").
		Find(&rules).Error
	return rules, err
}

// Create inserts the rule at version 1 together with its first version
// snapshot.
func (r *ruleRepository) Create(rule *models.RoutingRule) error {
	rule.Version = 1
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rule).Error; err != nil {
			return err
		}
		return tx.Create(snapshotOf(rule)).Error
	})
}

// Update bumps the rule's version and records a snapshot of the new
// definition in the same transaction, so every version a decision can
// reference exists as a row.
func (r *ruleRepository) Update(rule *models.RoutingRule) error {
	rule.Version++
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(rule).Error; err != nil {
			return err
		}
		return tx.Create(snapshotOf(rule)).Error
	})
}

func (r *ruleRepository) Delete(id uint) error {
	// Version snapshots stay; historical decisions reference them.
	return r.db.Delete(&models.RoutingRule{}, id).Error
}

func (r *ruleRepository) GetVersion(ruleID uint, version int) (*models.RuleVersion, error) {
	var snapshot models.RuleVersion
	err := r.db.Where("rule_id = ? AND version = ?", ruleID, version).
		First(&snapshot).Error
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *ruleRepository) ListVersions(ruleID uint) ([]models.RuleVersion, error) {
	var snapshots []models.RuleVersion
	err := r.db.Where("rule_id = ?", ruleID).
		Order("version desc").
		Find(&snapshots).Error
	return snapshots, err
}

func snapshotOf(rule *models.RoutingRule) *models.RuleVersion {
	return &models.RuleVersion{
		RuleID:     rule.ID,
		Version:    rule.Version,
		Name:       rule.Name,
		Priority:   rule.Priority,
		Active:     rule.Active,
		Conditions: rule.Conditions,
		Actions:    rule.Actions,
		Schedule:   rule.Schedule,
	}
}
