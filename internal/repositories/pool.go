package repositories

import (
	"cascade/internal/models"

	"gorm.io/gorm"
)

type PoolRepository interface {
	GetByID(id uint) (*models.AccountPool, error)
	ListByMerchant(merchantID uint) ([]models.AccountPool, error)
	Create(pool *models.AccountPool) error
	Update(pool *models.AccountPool) error
	Delete(id uint) error
	AddMember(member *models.PoolMembership) error
	UpdateMember(member *models.PoolMembership) error
	RemoveMember(poolID, accountID uint) error
	GetMember(poolID, accountID uint) (*models.PoolMembership, error)
}

type poolRepository struct {
	db *gorm.DB
}

func NewPoolRepository(db *gorm.DB) PoolRepository {
	return &poolRepository{db: db}
}

func (r *poolRepository) GetByID(id uint) (*models.AccountPool, error) {
	var pool models.AccountPool
	err := r.db.Preload("Memberships", func(db *gorm.DB) *gorm.DB {
		return db.Order("priority, id")
	}).First(&pool, id).Error
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (r *poolRepository) ListByMerchant(merchantID uint) ([]models.AccountPool, error) {
	var pools []models.AccountPool
	err := r.db.Preload("Memberships").
		Where("merchant_id = ?", merchantID).
		Order("id").
		Find(&pools).Error
	return pools, err
}

func (r *poolRepository) Create(pool *models.AccountPool) error {
	return r.db.Create(pool).Error
}

func (r *poolRepository) Update(pool *models.AccountPool) error {
	return r.db.Omit("Memberships").Save(pool).Error
}

func (r *poolRepository) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("pool_id = ?", id).Delete(&models.PoolMembership{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.AccountPool{}, id).Error
	})
}

func (r *poolRepository) AddMember(member *models.PoolMembership) error {
	return r.db.Create(member).Error
}

func (r *poolRepository) UpdateMember(member *models.PoolMembership) error {
	return r.db.Save(member).Error
}

func (r *poolRepository) RemoveMember(poolID, accountID uint) error {
	return r.db.Where("pool_id = ? AND account_id = ?", poolID, accountID).
		Delete(&models.PoolMembership{}).Error
}

func (r *poolRepository) GetMember(poolID, accountID uint) (*models.PoolMembership, error) {
	var member models.PoolMembership
	err := r.db.Where("pool_id = ? AND account_id = ?", poolID, accountID).
		First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}
