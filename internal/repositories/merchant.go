package repositories

import (
	"cascade/internal/models"

	"gorm.io/gorm"
)

type MerchantRepository interface {
	GetByID(id uint) (*models.Merchant, error)
	List(limit, offset int) ([]models.Merchant, int64, error)
	Create(merchant *models.Merchant) error
	Update(merchant *models.Merchant) error
}

type merchantRepository struct {
	db *gorm.DB
}

func NewMerchantRepository(db *gorm.DB) MerchantRepository {
	return &merchantRepository{db: db}
}

func (r *merchantRepository) GetByID(id uint) (*models.Merchant, error) {
	var merchant models.Merchant
	if err := r.db.First(&merchant, id).Error; err != nil {
		return nil, err
	}
	return &merchant, nil
}

func (r *merchantRepository) List(limit, offset int) ([]models.Merchant, int64, error) {
	var merchants []models.Merchant
	var total int64
	if err := r.db.Model(&models.Merchant{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.Order("id").Limit(limit).Offset(offset).Find(&merchants).Error
	return merchants, total, err
}

func (r *merchantRepository) Create(merchant *models.Merchant) error {
	return r.db.Create(merchant).Error
}

func (r *merchantRepository) Update(merchant *models.Merchant) error {
	return r.db.Save(merchant).Error
}
