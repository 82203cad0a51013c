package repositories

import (
	"errors"
	"time"

	"cascade/internal/models"

	"gorm.io/gorm"
)

// ErrDecisionImmutable is returned when a write targets a decision that has
// already been finalized.
var ErrDecisionImmutable = errors.New("decision already finalized")

type DecisionRepository interface {
	Create(decision *models.RoutingDecision) error
	AppendAttempt(attempt *models.DecisionAttempt) error
	ResolveAttempt(decisionID string, seq int, outcome, failureCode, failureClass string, latencyMS int64) error
	Finalize(decision *models.RoutingDecision) error
	GetByID(id string) (*models.RoutingDecision, error)
	GetByTransactionRef(merchantID uint, ref string) (*models.RoutingDecision, error)
	ListByMerchant(merchantID uint, limit, offset int) ([]models.RoutingDecision, int64, error)
}

type decisionRepository struct {
	db *gorm.DB
}

func NewDecisionRepository(db *gorm.DB) DecisionRepository {
	return &decisionRepository{db: db}
}

func (r *decisionRepository) Create(decision *models.RoutingDecision) error {
	return r.db.Create(decision).Error
}

func (r *decisionRepository) AppendAttempt(attempt *models.DecisionAttempt) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.RoutingDecision{}).
			Where("id = ? AND finalized_at IS NULL", attempt.DecisionID).
			Update("attempt_count", attempt.Seq)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrDecisionImmutable
		}
		return tx.Create(attempt).Error
	})
}

// ResolveAttempt sets the attempt's outcome. Attempts are write-once: an
// already resolved attempt (or a missing one) rejects the update.
func (r *decisionRepository) ResolveAttempt(decisionID string, seq int, outcome, failureCode, failureClass string, latencyMS int64) error {
	result := r.db.Model(&models.DecisionAttempt{}).
		Where("decision_id = ? AND seq = ? AND outcome = ?", decisionID, seq, models.AttemptPending).
		Updates(map[string]interface{}{
			"outcome":       outcome,
			"failure_code":  failureCode,
			"failure_class": failureClass,
			"latency_ms":    latencyMS,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDecisionImmutable
	}
	return nil
}

// Finalize stamps the terminal outcome. The guard on finalized_at makes the
// decision row immutable after the first finalization.
func (r *decisionRepository) Finalize(decision *models.RoutingDecision) error {
	now := time.Now().UTC()
	result := r.db.Model(&models.RoutingDecision{}).
		Where("id = ? AND finalized_at IS NULL", decision.ID).
		Updates(map[string]interface{}{
			"outcome":         decision.Outcome,
			"block_reason":    decision.BlockReason,
			"applied_actions": decision.AppliedActions,
			"annotations":     decision.Annotations,
			"attempt_count":   decision.AttemptCount,
			"eval_micros":     decision.EvalMicros,
			"total_millis":    decision.TotalMillis,
			"finalized_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDecisionImmutable
	}
	decision.FinalizedAt = &now
	return nil
}

func (r *decisionRepository) GetByID(id string) (*models.RoutingDecision, error) {
	var decision models.RoutingDecision
	err := r.db.Preload("Attempts", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq")
	}).First(&decision, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

func (r *decisionRepository) GetByTransactionRef(merchantID uint, ref string) (*models.RoutingDecision, error) {
	var decision models.RoutingDecision
	err := r.db.Preload("Attempts", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq")
	}).Where("merchant_id = ? AND transaction_ref = ?", merchantID, ref).
		Order("created_at desc").
		First(&decision).Error
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

func (r *decisionRepository) ListByMerchant(merchantID uint, limit, offset int) ([]models.RoutingDecision, int64, error) {
	var decisions []models.RoutingDecision
	var total int64
	base := r.db.Model(&models.RoutingDecision{}).Where("merchant_id = ?", merchantID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := base.Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&decisions).Error
	return decisions, total, err
}
