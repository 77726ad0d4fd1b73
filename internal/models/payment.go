package models

import (
	"encoding/json"
	"time"
)

// STKMetadata is the provider detail kept per M-Pesa payment attempt. It is a
// fixed shape (stored as JSON text) rather than an open key-value bag so the
// reconciler can rely on the fields existing.
type STKMetadata struct {
	MerchantRequestID string `json:"merchant_request_id,omitempty"`
	ResultCode        int    `json:"result_code,omitempty"`
	ResultDesc        string `json:"result_desc,omitempty"`
	Source            string `json:"source,omitempty"` // webhook, reconcile, direct
}

// Payment is one attempt to pay an order. TransactionID is the provider
// receipt and is globally unique once set; CheckoutRequestID is the
// correlation reference known before the transaction completes.
type Payment struct {
	ID                uint    `gorm:"primaryKey" json:"id"`
	OrderReference    string  `gorm:"size:20;index;not null" json:"order_reference"`
	Method            string  `gorm:"size:20;not null" json:"method"`
	AmountCents       int64   `gorm:"not null" json:"amount_cents"`
	TransactionID     *string `gorm:"size:255;uniqueIndex" json:"transaction_id,omitempty"`
	CheckoutRequestID string  `gorm:"size:255;index" json:"checkout_request_id,omitempty"`
	PayerPhoneHash    string  `gorm:"size:64" json:"-"`
	PayerPhoneLast4   string  `gorm:"size:4" json:"payer_phone_last4,omitempty"`
	Status            string  `gorm:"size:20;not null;index:idx_payments_status_created" json:"status"`
	FailureReason     string  `gorm:"size:255" json:"failure_reason,omitempty"`
	Metadata          string  `gorm:"type:text" json:"-"`

	// Number of reconciliation cycles that queried the provider without a
	// definitive answer. Persisted so restarts lose nothing.
	ReconcileAttempts int `gorm:"not null;default:0" json:"reconcile_attempts"`

	CreatedAt   time.Time  `gorm:"index:idx_payments_status_created" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) SetMetadata(m STKMetadata) {
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	p.Metadata = string(b)
}

func (p *Payment) GetMetadata() STKMetadata {
	var m STKMetadata
	if p.Metadata != "" {
		_ = json.Unmarshal([]byte(p.Metadata), &m)
	}
	return m
}
