package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"zemi/internal/domain"
	"zemi/internal/models"
	"zemi/internal/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// b2cResult is the Daraja B2C result envelope posted to the ResultURL.
type b2cResult struct {
	Result b2cResultBody `json:"Result"`
}

type b2cResultBody struct {
	ResultType               int    `json:"ResultType"`
	ResultCode               int    `json:"ResultCode"`
	ResultDesc               string `json:"ResultDesc"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ConversationID           string `json:"ConversationID"`
	TransactionID            string `json:"TransactionID"`
}

type PayoutWebhookHandler struct {
	payoutRepo  *repository.PayoutRepository
	webhookRepo *repository.WebhookLogRepository
	log         *zap.Logger
}

func NewPayoutWebhookHandler(payoutRepo *repository.PayoutRepository, webhookRepo *repository.WebhookLogRepository, log *zap.Logger) *PayoutWebhookHandler {
	return &PayoutWebhookHandler{payoutRepo: payoutRepo, webhookRepo: webhookRepo, log: log.Named("payout_webhook")}
}

// Handle processes the B2C result callback. Same contract as payment intake:
// the audit row is written before any state change, and delivery is acked
// even when the result cannot be applied.
func (h *PayoutWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "invalid body"})
		return
	}
	var payload b2cResult
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "invalid json"})
		return
	}
	res := payload.Result

	audit := &models.WebhookLog{
		WebhookType:   domain.WebhookMpesaB2C,
		Payload:       string(body),
		Headers:       headerJSON(c),
		TransactionID: res.TransactionID,
	}
	if err := h.webhookRepo.Create(audit); err != nil {
		h.log.Error("payout audit write failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ResultCode": 1, "ResultDesc": "temporarily unavailable"})
		return
	}

	outcome, applyErr := h.apply(&res)
	audit.Processed = true
	audit.Outcome = outcome
	if applyErr != nil {
		audit.ProcessingError = applyErr.Error()
	}
	if payout, err := h.payoutRepo.GetByProviderOrderID(res.ConversationID); err == nil {
		audit.OrderReference = payout.OrderReference
	}
	if err := h.webhookRepo.Update(audit); err != nil {
		h.log.Error("payout audit update failed", zap.Uint("webhook_log_id", audit.ID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}

func (h *PayoutWebhookHandler) apply(res *b2cResultBody) (string, error) {
	if res.ConversationID == "" {
		return domain.OutcomeRejected, domain.ValidationErr("result carries no conversation id")
	}
	if res.ResultCode == 0 {
		moved, err := h.payoutRepo.MarkCompleted(res.ConversationID, res.TransactionID, time.Now())
		if err != nil {
			return domain.OutcomeRejected, err
		}
		if !moved {
			// Already final; providers redeliver results too.
			return domain.OutcomeReplay, nil
		}
		h.log.Info("payout completed",
			zap.String("conversation_id", res.ConversationID),
			zap.String("transaction_id", res.TransactionID))
		return domain.OutcomeApplied, nil
	}
	moved, err := h.payoutRepo.MarkFailed(res.ConversationID, res.ResultDesc)
	if err != nil {
		return domain.OutcomeRejected, err
	}
	if !moved {
		return domain.OutcomeReplay, nil
	}
	h.log.Warn("payout failed",
		zap.String("conversation_id", res.ConversationID),
		zap.Int("result_code", res.ResultCode),
		zap.String("result_desc", res.ResultDesc))
	return domain.OutcomeApplied, nil
}
