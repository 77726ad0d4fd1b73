package handler

import (
	"net/http"

	"zemi/internal/domain"
	"zemi/internal/models"
	"zemi/internal/repository"
	"zemi/internal/secrets"
	"zemi/pkg/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type MpesaHandler struct {
	orderRepo   *repository.OrderRepository
	paymentRepo *repository.PaymentRepository
	provider    payment.Provider
	hasher      *secrets.Hasher
	log         *zap.Logger
}

func NewMpesaHandler(orderRepo *repository.OrderRepository, paymentRepo *repository.PaymentRepository, provider payment.Provider, hasher *secrets.Hasher, log *zap.Logger) *MpesaHandler {
	return &MpesaHandler{
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		provider:    provider,
		hasher:      hasher,
		log:         log.Named("mpesa"),
	}
}

// Initiate sends an STK push for an awaiting_payment order and records the
// pending payment attempt keyed by the checkout request id. The caller
// supplies the phone to push to; only digests are stored.
func (h *MpesaHandler) Initiate(c *gin.Context) {
	var req struct {
		OrderReference string `json:"order_reference" binding:"required"`
		Phone          string `json:"phone" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domain.ValidationErr("%s", err.Error()))
		return
	}
	phone := secrets.NormalizePhone(req.Phone)
	if phone == "" {
		respondError(c, domain.ValidationErr("invalid phone number"))
		return
	}
	order, err := h.orderRepo.GetByReference(req.OrderReference)
	if err != nil {
		respondError(c, domain.NotFoundErr("order %s not found", req.OrderReference))
		return
	}
	if order.Status != domain.OrderAwaitingPayment {
		respondError(c, domain.InvalidTransitionErr("order %s is %s", order.OrderReference, order.Status))
		return
	}
	if order.AmountCents%100 != 0 {
		// Daraja STK only accepts whole shillings.
		respondError(c, domain.ValidationErr("order amount is not a whole number of shillings"))
		return
	}

	resp, err := h.provider.InitiateSTKPush(c.Request.Context(), payment.STKPushRequest{
		PhoneNumber:      phone,
		Amount:           order.AmountCents / 100,
		AccountReference: order.OrderReference,
		TransactionDesc:  "Escrow payment",
	})
	if err != nil {
		h.log.Error("stk push failed",
			zap.String("order_reference", order.OrderReference),
			zap.Error(err))
		respondError(c, domain.NewError(domain.KindProviderUnavailable, "payment provider unavailable"))
		return
	}

	pay := &models.Payment{
		OrderReference:    order.OrderReference,
		Method:            domain.MethodMpesa,
		AmountCents:       order.AmountCents,
		CheckoutRequestID: resp.CheckoutRequestID,
		PayerPhoneHash:    h.hasher.PhoneDigest(phone),
		PayerPhoneLast4:   secrets.LastFour(phone),
		Status:            domain.PaymentPending,
	}
	pay.SetMetadata(models.STKMetadata{
		MerchantRequestID: resp.MerchantRequestID,
		Source:            "stk",
	})
	if err := h.paymentRepo.Create(pay); err != nil {
		// The push already went out; the callback or the reconciler will
		// still find the order via the account reference.
		h.log.Error("pending payment write failed",
			zap.String("order_reference", order.OrderReference),
			zap.String("checkout_request_id", resp.CheckoutRequestID),
			zap.Error(err))
		respondError(c, err)
		return
	}
	respondData(c, http.StatusAccepted, gin.H{
		"order_reference":     order.OrderReference,
		"checkout_request_id": resp.CheckoutRequestID,
		"customer_message":    resp.CustomerMessage,
	})
}
