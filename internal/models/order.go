package models

import "time"

// Order is one escrow transaction. Rows are never deleted; terminal statuses
// keep the full history for audit and disputes.
type Order struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	OrderReference   string `gorm:"size:20;uniqueIndex;not null" json:"order_reference"`
	BuyerPhoneHash   string `gorm:"size:64;index;not null" json:"-"`
	BuyerPhoneLast4  string `gorm:"size:4;not null" json:"buyer_phone_last4"`
	AmountCents      int64  `gorm:"not null" json:"amount_cents"`
	Description      string `gorm:"type:text;not null" json:"description"`
	DeliveryCodeHash string `gorm:"size:255;not null" json:"-"`
	Status           string `gorm:"size:20;not null;index:idx_orders_status_created" json:"status"`

	// Set by the abuse guard after repeated failed delivery confirmations.
	LockedUntil *time.Time `json:"locked_until,omitempty"`

	CreatedAt   time.Time  `gorm:"index:idx_orders_status_created" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// Locked reports whether the order is under a delivery-attempt lock at t.
func (o *Order) Locked(t time.Time) bool {
	return o.LockedUntil != nil && o.LockedUntil.After(t)
}
