package models

import "time"

// DeliveryAttempt records one delivery-code verification attempt. Lockout is
// computed by counting failed rows in a window, not by a mutable counter, so
// it survives restarts and scales horizontally.
type DeliveryAttempt struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	OrderReference string `gorm:"size:20;index:idx_attempts_order_created;not null" json:"order_reference"`
	Success        bool   `gorm:"not null" json:"success"`

	CreatedAt time.Time `gorm:"index:idx_attempts_order_created" json:"created_at"`
}

func (DeliveryAttempt) TableName() string {
	return "delivery_attempts"
}
