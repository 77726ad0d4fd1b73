package domain

// Order lifecycle statuses.
const (
	OrderAwaitingPayment = "awaiting_payment"
	OrderPaid            = "paid"
	OrderCompleted       = "completed"
	OrderCancelled       = "cancelled"
	OrderRefunded        = "refunded"
)

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

// Payout statuses.
const (
	PayoutPending    = "pending"
	PayoutProcessing = "processing"
	PayoutCompleted  = "completed"
	PayoutFailed     = "failed"
)

// Payment methods.
const (
	MethodMpesa = "mpesa"
	MethodCard  = "card"
)

// Webhook types recorded in the audit log.
const (
	WebhookMpesaSTK  = "mpesa_stk"
	WebhookMpesaB2C  = "mpesa_b2c"
	WebhookPayment   = "payment"
	WebhookReconcile = "reconcile"
)

// Ingest outcomes recorded back onto the audit row.
const (
	OutcomeApplied         = "applied"
	OutcomeReplay          = "replay"
	OutcomePaymentFailed   = "payment_failed"
	OutcomeRejected        = "rejected"
)

const RoleAdmin = "ADMIN"

var orderTransitions = map[string][]string{
	OrderAwaitingPayment: {OrderPaid, OrderCancelled},
	OrderPaid:            {OrderCompleted, OrderRefunded},
	OrderCompleted:       {},
	OrderCancelled:       {},
	OrderRefunded:        {},
}

// CanTransition reports whether an order may move from one status to another.
// Terminal states have no outgoing edges.
func CanTransition(from, to string) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
