package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"zemi/internal/domain"
	"zemi/internal/models"
	"zemi/internal/service"
	"zemi/pkg/money"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// directPaymentNotification is the generic gateway format for non-Daraja
// rails (card processors, aggregators). Amount is a decimal string.
type directPaymentNotification struct {
	OrderReference string `json:"order_reference"`
	TransactionID  string `json:"transaction_id"`
	Amount         string `json:"amount"`
	Status         string `json:"status"` // success, failed, cancelled
	PayerPhone     string `json:"payer_phone"`
	Method         string `json:"method"`
	FailureReason  string `json:"failure_reason"`
}

type PaymentWebhookHandler struct {
	intake *service.IntakeService
	log    *zap.Logger
}

func NewPaymentWebhookHandler(intake *service.IntakeService, log *zap.Logger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{intake: intake, log: log.Named("payment_webhook")}
}

func (h *PaymentWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, domain.ValidationErr("invalid body"))
		return
	}
	var payload directPaymentNotification
	if err := json.Unmarshal(body, &payload); err != nil {
		respondError(c, domain.ValidationErr("invalid json"))
		return
	}

	ev := service.PaymentEvent{
		Type:           domain.WebhookPayment,
		OrderReference: payload.OrderReference,
		TransactionID:  payload.TransactionID,
		PayerPhone:     payload.PayerPhone,
		Method:         payload.Method,
		FailureReason:  payload.FailureReason,
		RawPayload:     string(body),
		RawHeaders:     headerJSON(c),
		Metadata:       models.STKMetadata{Source: "direct"},
	}
	switch payload.Status {
	case "success":
		ev.Outcome = service.EventSuccess
	case "cancelled":
		ev.Outcome = service.EventCancelled
	case "failed":
		ev.Outcome = service.EventFailed
	default:
		respondError(c, domain.ValidationErr("unknown status %q", payload.Status))
		return
	}
	if payload.Amount != "" {
		cents, err := money.ParseCents(payload.Amount)
		if err != nil {
			respondError(c, domain.ValidationErr("%s", err.Error()))
			return
		}
		ev.AmountCents = cents
	}

	outcome, err := h.intake.Ingest(c.Request.Context(), ev)
	if err != nil {
		// Unlike Daraja, this rail expects synchronous rejection. The audit
		// row still records the delivery and the branch taken.
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"outcome": outcome})
}
