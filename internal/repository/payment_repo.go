package repository

import (
	"time"

	"zemi/internal/domain"
	"zemi/internal/models"

	"gorm.io/gorm"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(p *models.Payment) error {
	return r.db.Create(p).Error
}

// GetByCheckoutRequestID returns the most recent payment attempt for a
// provider correlation reference. Retried pushes can share one; the latest
// attempt is the one callbacks refer to.
func (r *PaymentRepository) GetByCheckoutRequestID(checkoutID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.Where("checkout_request_id = ?", checkoutID).
		Order("created_at DESC").First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) ListByOrder(ref string) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("order_reference = ?", ref).Order("created_at ASC").Find(&payments).Error
	return payments, err
}

// ListStalePending returns pending payments created before the cutoff,
// oldest first, for reconciliation.
func (r *PaymentRepository) ListStalePending(cutoff time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.
		Where("status = ? AND created_at < ?", domain.PaymentPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// UpdateReconcileAttempts persists the attempt counter, guarded on the
// payment still being pending so a concurrent completion is never clobbered.
func (r *PaymentRepository) UpdateReconcileAttempts(id uint, attempts int) error {
	return r.db.Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, domain.PaymentPending).
		Update("reconcile_attempts", attempts).Error
}

// FailPending moves a pending payment to failed with a reason and final
// attempt count. Returns whether the row was still pending.
func (r *PaymentRepository) FailPending(id uint, attempts int, reason string) (bool, error) {
	res := r.db.Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, domain.PaymentPending).
		Updates(map[string]any{
			"status":             domain.PaymentFailed,
			"failure_reason":     reason,
			"reconcile_attempts": attempts,
		})
	return res.RowsAffected > 0, res.Error
}
