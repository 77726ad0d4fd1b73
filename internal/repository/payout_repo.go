package repository

import (
	"time"

	"zemi/internal/domain"
	"zemi/internal/models"

	"gorm.io/gorm"
)

type PayoutRepository struct {
	db *gorm.DB
}

func NewPayoutRepository(db *gorm.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

func (r *PayoutRepository) GetByOrderReference(ref string) (*models.Payout, error) {
	var p models.Payout
	err := r.db.Where("order_reference = ?", ref).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PayoutRepository) GetByProviderOrderID(id string) (*models.Payout, error) {
	var p models.Payout
	err := r.db.Where("provider_order_id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkProcessing moves a payout from pending to processing and records the
// provider correlation id. The guarded WHERE makes concurrent release calls
// lose cleanly; zero rows affected means someone else already released it.
func (r *PayoutRepository) MarkProcessing(ref, providerOrderID string) (bool, error) {
	res := r.db.Model(&models.Payout{}).
		Where("order_reference = ? AND status = ?", ref, domain.PayoutPending).
		Updates(map[string]any{
			"status":            domain.PayoutProcessing,
			"provider_order_id": providerOrderID,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkCompleted finalizes a processing payout with the provider receipt.
func (r *PayoutRepository) MarkCompleted(providerOrderID, transactionID string, completedAt time.Time) (bool, error) {
	res := r.db.Model(&models.Payout{}).
		Where("provider_order_id = ? AND status = ?", providerOrderID, domain.PayoutProcessing).
		Updates(map[string]any{
			"status":         domain.PayoutCompleted,
			"transaction_id": transactionID,
			"completed_at":   completedAt,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkFailed records a provider-reported payout failure.
func (r *PayoutRepository) MarkFailed(providerOrderID, reason string) (bool, error) {
	res := r.db.Model(&models.Payout{}).
		Where("provider_order_id = ? AND status = ?", providerOrderID, domain.PayoutProcessing).
		Updates(map[string]any{
			"status":         domain.PayoutFailed,
			"failure_reason": reason,
		})
	return res.RowsAffected > 0, res.Error
}
