package models

import "time"

// Payout is the release of escrowed funds to the seller. Exactly one may
// exist per order, created atomically with the order's completed transition.
// Seller identity is its own set of fields even though the current flow
// copies them from the buyer; the schema must not change when real seller
// onboarding lands.
type Payout struct {
	ID               uint    `gorm:"primaryKey" json:"id"`
	OrderReference   string  `gorm:"size:20;uniqueIndex;not null" json:"order_reference"`
	PaymentID        uint    `gorm:"not null" json:"payment_id"`
	AmountCents      int64   `gorm:"not null" json:"amount_cents"`
	SellerPhoneHash  string  `gorm:"size:64;not null" json:"-"`
	SellerPhoneLast4 string  `gorm:"size:4;not null" json:"seller_phone_last4"`
	ProviderOrderID  string  `gorm:"size:64;index" json:"provider_order_id,omitempty"`
	TransactionID    *string `gorm:"size:255;uniqueIndex" json:"transaction_id,omitempty"`
	Status           string  `gorm:"size:20;not null;index" json:"status"`
	FailureReason    string  `gorm:"size:255" json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (Payout) TableName() string {
	return "payouts"
}
