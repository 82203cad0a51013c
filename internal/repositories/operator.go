package repositories

import (
	"time"

	"cascade/internal/models"

	"gorm.io/gorm"
)

type OperatorRepository interface {
	GetByID(id uint) (*models.Operator, error)
	GetByEmail(email string) (*models.Operator, error)
	Create(operator *models.Operator) error
	Update(operator *models.Operator) error
	RecordLogin(id uint, ip string) error
	RecordFailedLogin(id uint) error
	IncrementTokenVersion(id uint) error
}

type operatorRepository struct {
	db *gorm.DB
}

func NewOperatorRepository(db *gorm.DB) OperatorRepository {
	return &operatorRepository{db: db}
}

func (r *operatorRepository) GetByID(id uint) (*models.Operator, error) {
	var operator models.Operator
	if err := r.db.First(&operator, id).Error; err != nil {
		return nil, err
	}
	return &operator, nil
}

func (r *operatorRepository) GetByEmail(email string) (*models.Operator, error) {
	var operator models.Operator
	if err := r.db.Where("email = ?", email).First(&operator).Error; err != nil {
		return nil, err
	}
	return &operator, nil
}

func (r *operatorRepository) Create(operator *models.Operator) error {
	return r.db.Create(operator).Error
}

func (r *operatorRepository) Update(operator *models.Operator) error {
	return r.db.Save(operator).Error
}

func (r *operatorRepository) RecordLogin(id uint, ip string) error {
	return r.db.Model(&models.Operator{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_login_at":         time.Now().UTC(),
			"last_login_ip":         ip,
			"failed_login_attempts": 0,
		}).Error
}

func (r *operatorRepository) RecordFailedLogin(id uint) error {
	return r.db.Model(&models.Operator{}).
		Where("id = ?", id).
		UpdateColumn("failed_login_attempts", gorm.Expr("failed_login_attempts + 1")).Error
}

func (r *operatorRepository) IncrementTokenVersion(id uint) error {
	return r.db.Model(&models.Operator{}).
		Where("id = ?", id).
		UpdateColumn("token_version", gorm.Expr("token_version + 1")).Error
}

type ServiceKeyRepository interface {
	GetByPrefix(prefix string) (*models.ServiceKey, error)
	Create(key *models.ServiceKey) error
	Touch(id uint) error
	Revoke(id uint) error
}

type serviceKeyRepository struct {
	db *gorm.DB
}

func NewServiceKeyRepository(db *gorm.DB) ServiceKeyRepository {
	return &serviceKeyRepository{db: db}
}

func (r *serviceKeyRepository) GetByPrefix(prefix string) (*models.ServiceKey, error) {
	var key models.ServiceKey
	if err := r.db.Where("prefix = ?", prefix).First(&key).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *serviceKeyRepository) Create(key *models.ServiceKey) error {
	return r.db.Create(key).Error
}

func (r *serviceKeyRepository) Touch(id uint) error {
	return r.db.Model(&models.ServiceKey{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now().UTC()).Error
}

func (r *serviceKeyRepository) Revoke(id uint) error {
	res := r.db.Model(&models.ServiceKey{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
