package payment

import "context"

// Status query outcomes. Unreachable is not an outcome; the provider returns
// an error and the caller decides how to retry.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPending = "pending"
)

type STKPushRequest struct {
	PhoneNumber      string // 254XXXXXXXXX
	Amount           int64  // whole KES
	AccountReference string // order reference
	TransactionDesc  string
	CallbackURL      string
}

type STKPushResponse struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
}

// StatusResult is the provider's answer to a status query, mapped to the
// three outcomes the reconciler understands.
type StatusResult struct {
	Outcome       string
	ResultCode    string
	ResultDesc    string
	ReceiptNumber string // rarely present; callers must tolerate empty
	Amount        int64  // cents; zero when the provider omits it
}

// B2CRequest initiates a business-to-customer payout.
type B2CRequest struct {
	Amount      int64 // whole KES
	PhoneNumber string
	Remarks     string
	Occasion    string
	OrderID     string // our payout correlation id
	ResultURL   string
	TimeoutURL  string
}

type B2CResponse struct {
	ConversationID           string
	OriginatorConversationID string
	ResponseCode             string
	ResponseDescription      string
}

// Provider is the payment rail the escrow core talks to. Implementations own
// their timeouts; callers never hold a database transaction across these.
type Provider interface {
	InitiateSTKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResult, error)
	InitiateB2C(ctx context.Context, req B2CRequest) (*B2CResponse, error)
}
