package handler

import (
	"net/http"

	"zemi/internal/domain"
	"zemi/internal/repository"
	"zemi/internal/secrets"
	"zemi/pkg/money"
	"zemi/pkg/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PayoutHandler struct {
	payoutRepo *repository.PayoutRepository
	provider   payment.Provider
	hasher     *secrets.Hasher
	log        *zap.Logger
}

func NewPayoutHandler(payoutRepo *repository.PayoutRepository, provider payment.Provider, hasher *secrets.Hasher, log *zap.Logger) *PayoutHandler {
	return &PayoutHandler{payoutRepo: payoutRepo, provider: provider, hasher: hasher, log: log.Named("payout")}
}

// Release sends a pending payout over B2C. Stored seller identity is only a
// digest, so the operator supplies the destination phone; it must digest to
// the value captured at delivery confirmation.
func (h *PayoutHandler) Release(c *gin.Context) {
	ref := c.Param("reference")
	var req struct {
		Phone string `json:"phone" binding:"required"`
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
	payout, err := h.payoutRepo.GetByOrderReference(ref)
	if err != nil {
		respondError(c, domain.NotFoundErr("no payout for order %s", ref))
		return
	}
	if payout.Status != domain.PayoutPending {
		respondError(c, domain.InvalidTransitionErr("payout for %s is %s", ref, payout.Status))
		return
	}
	if h.hasher.PhoneDigest(phone) != payout.SellerPhoneHash {
		respondError(c, domain.ValidationErr("phone does not match the payout recipient"))
		return
	}
	if payout.AmountCents%100 != 0 {
		respondError(c, domain.ValidationErr("payout amount is not a whole number of shillings"))
		return
	}

	resp, err := h.provider.InitiateB2C(c.Request.Context(), payment.B2CRequest{
		Amount:      payout.AmountCents / 100,
		PhoneNumber: phone,
		Remarks:     "Escrow release",
		OrderID:     ref,
	})
	if err != nil {
		h.log.Error("b2c initiation failed", zap.String("order_reference", ref), zap.Error(err))
		respondError(c, domain.NewError(domain.KindProviderUnavailable, "payout provider unavailable"))
		return
	}
	moved, err := h.payoutRepo.MarkProcessing(ref, resp.ConversationID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !moved {
		// Raced with another release; the money instruction already out wins.
		respondError(c, domain.InvalidTransitionErr("payout for %s already released", ref))
		return
	}
	h.log.Info("payout released",
		zap.String("order_reference", ref),
		zap.String("conversation_id", resp.ConversationID),
		zap.Int64("amount_cents", payout.AmountCents))
	respondData(c, http.StatusAccepted, gin.H{
		"order_reference": ref,
		"status":          domain.PayoutProcessing,
		"amount":          money.FormatCents(payout.AmountCents),
		"conversation_id": resp.ConversationID,
	})
}
