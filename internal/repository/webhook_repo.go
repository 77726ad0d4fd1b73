package repository

import (
	"zemi/internal/models"

	"gorm.io/gorm"
)

type WebhookLogRepository struct {
	db *gorm.DB
}

func NewWebhookLogRepository(db *gorm.DB) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

func (r *WebhookLogRepository) Create(l *models.WebhookLog) error {
	return r.db.Create(l).Error
}

func (r *WebhookLogRepository) Update(l *models.WebhookLog) error {
	return r.db.Save(l).Error
}

func (r *WebhookLogRepository) List(webhookType string, limit int) ([]models.WebhookLog, error) {
	q := r.db.Order("created_at DESC").Limit(limit)
	if webhookType != "" {
		q = q.Where("webhook_type = ?", webhookType)
	}
	var logs []models.WebhookLog
	err := q.Find(&logs).Error
	return logs, err
}
