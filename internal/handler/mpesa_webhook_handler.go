package handler

import (
	"encoding/json"
	"io"
	"math"
	"net/http"

	"zemi/internal/domain"
	"zemi/internal/models"
	"zemi/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// darajaCallback is the Safaricom STK push result envelope.
type darajaCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type MpesaWebhookHandler struct {
	intake *service.IntakeService
	log    *zap.Logger
}

func NewMpesaWebhookHandler(intake *service.IntakeService, log *zap.Logger) *MpesaWebhookHandler {
	return &MpesaWebhookHandler{intake: intake, log: log.Named("mpesa_webhook")}
}

// Handle processes the Daraja STK push callback. Safaricom retries on
// anything but a 200 acknowledgement, so processing failures other than a
// lost audit write are still acked; the outcome lives in the webhook log.
func (h *MpesaWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "invalid body"})
		return
	}
	var payload darajaCallback
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Warn("unparseable mpesa callback", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"ResultCode": 1, "ResultDesc": "invalid json"})
		return
	}
	cb := payload.Body.StkCallback

	ev := service.PaymentEvent{
		Type:              domain.WebhookMpesaSTK,
		CheckoutRequestID: cb.CheckoutRequestID,
		Method:            domain.MethodMpesa,
		RawPayload:        string(body),
		RawHeaders:        headerJSON(c),
		Metadata: models.STKMetadata{
			MerchantRequestID: cb.MerchantRequestID,
			ResultCode:        cb.ResultCode,
			ResultDesc:        cb.ResultDesc,
			Source:            "webhook",
		},
	}
	if cb.ResultCode == 0 {
		ev.Outcome = service.EventSuccess
		for _, item := range cb.CallbackMetadata.Item {
			switch item.Name {
			case "Amount":
				var v float64
				if json.Unmarshal(item.Value, &v) == nil {
					ev.AmountCents = int64(math.Round(v * 100))
				}
			case "MpesaReceiptNumber":
				var s string
				if json.Unmarshal(item.Value, &s) == nil {
					ev.TransactionID = s
				}
			case "PhoneNumber":
				// Arrives as a bare number, occasionally as a string.
				var n json.Number
				if json.Unmarshal(item.Value, &n) == nil {
					ev.PayerPhone = n.String()
				} else {
					var s string
					if json.Unmarshal(item.Value, &s) == nil {
						ev.PayerPhone = s
					}
				}
			}
		}
	} else if cb.ResultCode == 1032 {
		ev.Outcome = service.EventCancelled
		ev.FailureReason = cb.ResultDesc
	} else {
		ev.Outcome = service.EventFailed
		ev.FailureReason = cb.ResultDesc
	}

	outcome, err := h.intake.Ingest(c.Request.Context(), ev)
	if err != nil && outcome == "" {
		// Audit write failed; refuse the ack so the provider redelivers.
		c.JSON(http.StatusInternalServerError, gin.H{"ResultCode": 1, "ResultDesc": "temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}

func headerJSON(c *gin.Context) string {
	h := map[string]string{}
	for k := range c.Request.Header {
		h[k] = c.GetHeader(k)
	}
	b, err := json.Marshal(h)
	if err != nil {
		return ""
	}
	return string(b)
}
