package service

import (
	"context"
	"time"

	"zemi/config"
	"zemi/internal/domain"
	"zemi/internal/models"

	"gorm.io/gorm"
)

// AbuseGuard gates attacker-facing transitions. All checks are queries over
// persisted rows (orders, delivery attempts), never in-memory counters, so
// they hold across restarts and replicas.
type AbuseGuard struct {
	db  *gorm.DB
	cfg config.EscrowConfig
}

func NewAbuseGuard(db *gorm.DB, cfg config.EscrowConfig) *AbuseGuard {
	return &AbuseGuard{db: db, cfg: cfg}
}

// CheckCreate enforces the per-buyer velocity and daily cumulative-amount
// limits before an order is persisted.
func (g *AbuseGuard) CheckCreate(ctx context.Context, buyerDigest string, amountCents int64, now time.Time) error {
	var count int64
	err := g.db.WithContext(ctx).Model(&models.Order{}).
		Where("buyer_phone_hash = ? AND created_at > ?", buyerDigest, now.Add(-g.cfg.VelocityWindow)).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count >= int64(g.cfg.VelocityLimit) {
		return domain.NewError(domain.KindRateLimited, "too many orders; try again later")
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var total int64
	err = g.db.WithContext(ctx).Model(&models.Order{}).
		Where("buyer_phone_hash = ? AND created_at >= ?", buyerDigest, dayStart).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&total).Error
	if err != nil {
		return err
	}
	if total+amountCents > g.cfg.DailyAmountCapCents {
		return domain.NewError(domain.KindRateLimited, "daily order amount limit exceeded")
	}
	return nil
}

// RegisterFailedAttempt records a failed delivery confirmation and, when the
// rolling-window threshold is reached, locks the order. Runs inside the
// caller's transaction. Returns whether the order is now locked.
func (g *AbuseGuard) RegisterFailedAttempt(tx *gorm.DB, order *models.Order, now time.Time) (bool, error) {
	attempt := &models.DeliveryAttempt{OrderReference: order.OrderReference, Success: false}
	if err := tx.Create(attempt).Error; err != nil {
		return false, err
	}
	var failed int64
	err := tx.Model(&models.DeliveryAttempt{}).
		Where("order_reference = ? AND success = ? AND created_at > ?",
			order.OrderReference, false, now.Add(-g.cfg.AttemptWindow)).
		Count(&failed).Error
	if err != nil {
		return false, err
	}
	if failed < int64(g.cfg.MaxDeliveryAttempts) {
		return false, nil
	}
	until := now.Add(g.cfg.LockDuration)
	err = tx.Model(&models.Order{}).
		Where("order_reference = ?", order.OrderReference).
		Update("locked_until", until).Error
	if err != nil {
		return false, err
	}
	return true, nil
}
