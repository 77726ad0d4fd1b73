package handler

import (
	"net/http"
	"strconv"

	"zemi/config"
	"zemi/internal/auth"
	"zemi/internal/domain"
	"zemi/internal/repository"
	"zemi/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type AdminHandler struct {
	cfg         *config.Config
	escrow      *service.EscrowService
	orderRepo   *repository.OrderRepository
	webhookRepo *repository.WebhookLogRepository
	log         *zap.Logger
}

func NewAdminHandler(cfg *config.Config, escrow *service.EscrowService, orderRepo *repository.OrderRepository, webhookRepo *repository.WebhookLogRepository, log *zap.Logger) *AdminHandler {
	return &AdminHandler{cfg: cfg, escrow: escrow, orderRepo: orderRepo, webhookRepo: webhookRepo, log: log.Named("admin")}
}

// Login authenticates the configured operator and issues a token.
func (h *AdminHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domain.ValidationErr("%s", err.Error()))
		return
	}
	if h.cfg.Admin.PasswordHash == "" {
		respondError(c, domain.NewError(domain.KindInternal, "admin access not configured"))
		return
	}
	if req.Email != h.cfg.Admin.Email ||
		bcrypt.CompareHashAndPassword([]byte(h.cfg.Admin.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   gin.H{"kind": "unauthorized", "message": "invalid credentials"},
		})
		return
	}
	token, err := auth.GenerateToken(&h.cfg.JWT, req.Email, domain.RoleAdmin)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"token": token})
}

// Cancel voids an order that has not been paid.
func (h *AdminHandler) Cancel(c *gin.Context) {
	ref := c.Param("reference")
	if err := h.escrow.Cancel(c.Request.Context(), ref); err != nil {
		respondError(c, err)
		return
	}
	h.log.Info("order cancelled", zap.String("order_reference", ref))
	respondData(c, http.StatusOK, gin.H{"order_reference": ref, "status": domain.OrderCancelled})
}

// Refund returns a paid order's funds. Blocked once the payout has left
// pending.
func (h *AdminHandler) Refund(c *gin.Context) {
	ref := c.Param("reference")
	if err := h.escrow.Refund(c.Request.Context(), ref); err != nil {
		respondError(c, err)
		return
	}
	h.log.Info("order refunded", zap.String("order_reference", ref))
	respondData(c, http.StatusOK, gin.H{"order_reference": ref, "status": domain.OrderRefunded})
}

// ListOrders returns recent orders for the operator dashboard.
func (h *AdminHandler) ListOrders(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	orders, err := h.orderRepo.ListRecent(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, toOrderView(&orders[i]))
	}
	respondData(c, http.StatusOK, gin.H{"orders": views})
}

// ListWebhooks exposes the audit log, filterable by webhook type.
func (h *AdminHandler) ListWebhooks(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	logs, err := h.webhookRepo.List(c.Query("type"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"webhooks": logs})
}

func intQuery(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
