package handler

import (
	"net/http"

	"zemi/internal/domain"
	"zemi/internal/models"
	"zemi/internal/repository"
	"zemi/internal/service"
	"zemi/pkg/money"

	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	escrow      *service.EscrowService
	orderRepo   *repository.OrderRepository
	paymentRepo *repository.PaymentRepository
	payoutRepo  *repository.PayoutRepository
}

func NewOrderHandler(escrow *service.EscrowService, orderRepo *repository.OrderRepository, paymentRepo *repository.PaymentRepository, payoutRepo *repository.PayoutRepository) *OrderHandler {
	return &OrderHandler{escrow: escrow, orderRepo: orderRepo, paymentRepo: paymentRepo, payoutRepo: payoutRepo}
}

type orderView struct {
	OrderReference  string  `json:"order_reference"`
	BuyerPhoneLast4 string  `json:"buyer_phone_last4"`
	Amount          string  `json:"amount"`
	Description     string  `json:"description"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
	PaidAt          *string `json:"paid_at,omitempty"`
	CompletedAt     *string `json:"completed_at,omitempty"`
}

func toOrderView(o *models.Order) orderView {
	v := orderView{
		OrderReference:  o.OrderReference,
		BuyerPhoneLast4: o.BuyerPhoneLast4,
		Amount:          money.FormatCents(o.AmountCents),
		Description:     o.Description,
		Status:          o.Status,
		CreatedAt:       o.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if o.PaidAt != nil {
		s := o.PaidAt.UTC().Format("2006-01-02T15:04:05Z")
		v.PaidAt = &s
	}
	if o.CompletedAt != nil {
		s := o.CompletedAt.UTC().Format("2006-01-02T15:04:05Z")
		v.CompletedAt = &s
	}
	return v
}

// Create opens a new escrow order. The delivery code is returned here and
// never again; it is not recoverable from storage.
func (h *OrderHandler) Create(c *gin.Context) {
	var req struct {
		BuyerPhone  string `json:"buyer_phone" binding:"required"`
		Amount      string `json:"amount" binding:"required"`
		Description string `json:"description" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domain.ValidationErr("%s", err.Error()))
		return
	}
	amountCents, err := money.ParseCents(req.Amount)
	if err != nil {
		respondError(c, domain.ValidationErr("%s", err.Error()))
		return
	}
	order, code, err := h.escrow.CreateOrder(c.Request.Context(), req.BuyerPhone, amountCents, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, gin.H{
		"order":         toOrderView(order),
		"delivery_code": code,
	})
}

// Get returns the order with its payment history and payout, if any.
func (h *OrderHandler) Get(c *gin.Context) {
	ref := c.Param("reference")
	order, err := h.orderRepo.GetByReference(ref)
	if err != nil {
		respondError(c, domain.NotFoundErr("order %s not found", ref))
		return
	}
	payments, err := h.paymentRepo.ListByOrder(ref)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{
		"order":    toOrderView(order),
		"payments": payments,
	}
	if payout, err := h.payoutRepo.GetByOrderReference(ref); err == nil {
		resp["payout"] = payout
	}
	respondData(c, http.StatusOK, resp)
}

// ConfirmDelivery completes a paid order when the buyer's code matches.
func (h *OrderHandler) ConfirmDelivery(c *gin.Context) {
	ref := c.Param("reference")
	var req struct {
		DeliveryCode string `json:"delivery_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domain.ValidationErr("%s", err.Error()))
		return
	}
	payout, err := h.escrow.ConfirmDelivery(c.Request.Context(), ref, req.DeliveryCode)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"order_reference": ref,
		"status":          domain.OrderCompleted,
		"payout": gin.H{
			"id":     payout.ID,
			"amount": money.FormatCents(payout.AmountCents),
			"status": payout.Status,
		},
	})
}
