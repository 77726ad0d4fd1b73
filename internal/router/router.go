package router

import (
	"time"

	"zemi/config"
	"zemi/internal/handler"
	"zemi/internal/middleware"
	"zemi/internal/repository"
	"zemi/internal/secrets"
	"zemi/internal/service"
	"zemi/pkg/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Setup wires repositories, services and handlers onto a gin engine. The
// reconciler is returned alongside so main can run it on its own goroutine.
func Setup(cfg *config.Config, db *gorm.DB, provider payment.Provider, log *zap.Logger) (*gin.Engine, *service.ReconcileService) {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 60*time.Second)))

	// Repositories
	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	payoutRepo := repository.NewPayoutRepository(db)
	webhookRepo := repository.NewWebhookLogRepository(db)

	// Services
	hasher := secrets.NewHasher(cfg.Secrets.PhonePepper)
	guard := service.NewAbuseGuard(db, cfg.Escrow)
	escrowSvc := service.NewEscrowService(db, cfg.Escrow, hasher, guard, log)
	intakeSvc := service.NewIntakeService(db, paymentRepo, escrowSvc, log)
	reconcileSvc := service.NewReconcileService(paymentRepo, intakeSvc, provider, cfg.Escrow, log)

	// Handlers
	orderHandler := handler.NewOrderHandler(escrowSvc, orderRepo, paymentRepo, payoutRepo)
	mpesaHandler := handler.NewMpesaHandler(orderRepo, paymentRepo, provider, hasher, log)
	mpesaWebhookHandler := handler.NewMpesaWebhookHandler(intakeSvc, log)
	paymentWebhookHandler := handler.NewPaymentWebhookHandler(intakeSvc, log)
	payoutHandler := handler.NewPayoutHandler(payoutRepo, provider, hasher, log)
	payoutWebhookHandler := handler.NewPayoutWebhookHandler(payoutRepo, webhookRepo, log)
	adminHandler := handler.NewAdminHandler(cfg, escrowSvc, orderRepo, webhookRepo, log)

	authMw := middleware.AuthRequired(&cfg.JWT)

	api := r.Group("/api/v1")
	{
		api.POST("/orders", orderHandler.Create)
		api.GET("/orders/:reference", orderHandler.Get)
		api.POST("/orders/:reference/confirm-delivery", orderHandler.ConfirmDelivery)

		api.POST("/payments/mpesa/initiate", mpesaHandler.Initiate)

		api.POST("/webhooks/mpesa", mpesaWebhookHandler.Handle)
		api.POST("/webhooks/payment", paymentWebhookHandler.Handle)
		api.POST("/webhooks/payout", payoutWebhookHandler.Handle)

		admin := api.Group("/admin")
		{
			admin.POST("/login", adminHandler.Login)

			protected := admin.Group("")
			protected.Use(authMw, middleware.AdminRequired())
			{
				protected.GET("/orders", adminHandler.ListOrders)
				protected.POST("/orders/:reference/cancel", adminHandler.Cancel)
				protected.POST("/orders/:reference/refund", adminHandler.Refund)
				protected.POST("/payouts/:reference/release", payoutHandler.Release)
				protected.GET("/webhooks", adminHandler.ListWebhooks)
			}
		}
	}

	return r, reconcileSvc
}
