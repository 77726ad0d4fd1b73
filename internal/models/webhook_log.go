package models

import "time"

// WebhookLog is the append-only record of every inbound callback. The row is
// written before any state mutation and only its processing outcome is filled
// in afterwards; payloads are retained as dispute evidence.
type WebhookLog struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	WebhookType     string `gorm:"size:50;not null;index" json:"webhook_type"`
	Payload         string `gorm:"type:text;not null" json:"payload"`
	Headers         string `gorm:"type:text" json:"headers,omitempty"`
	OrderReference  string `gorm:"size:20;index" json:"order_reference,omitempty"`
	TransactionID   string `gorm:"size:255;index" json:"transaction_id,omitempty"`
	Processed       bool   `gorm:"not null;default:false" json:"processed"`
	Outcome         string `gorm:"size:30" json:"outcome,omitempty"`
	ProcessingError string `gorm:"type:text" json:"processing_error,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (WebhookLog) TableName() string {
	return "webhook_logs"
}
