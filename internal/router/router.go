// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/internal/chain"
	"github.com/farmlink/farmlink-backend/internal/config"
	"github.com/farmlink/farmlink-backend/internal/events"
	"github.com/farmlink/farmlink-backend/internal/handlers"
	"github.com/farmlink/farmlink-backend/internal/middleware"
	"github.com/farmlink/farmlink-backend/internal/services"
	"github.com/farmlink/farmlink-backend/internal/utils"
)

func Initialize(db *gorm.DB, cfg *config.Config, ledger chain.Ledger) *gin.Engine {
	// Initialize services
	publisher := events.NewLogPublisher()
	archiveService, err := services.NewArchiveService(cfg)
	if err != nil {
		logrus.WithError(err).Warn("Payload archival disabled")
		archiveService = nil
	}

	authService := services.NewAuthService(db, cfg)
	orderService := services.NewOrderService(db, cfg, ledger, publisher)
	paymentProvider := services.NewStripeProvider(cfg)
	paymentService := services.NewPaymentService(db, cfg, paymentProvider, ledger, orderService, archiveService, publisher)
	deliveryService := services.NewDeliveryService(db, cfg, ledger, orderService, publisher)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	orderHandler := handlers.NewOrderHandler(orderService, authService)
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	deliveryHandler := handlers.NewDeliveryHandler(deliveryService, authService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS())
	r.Use(middleware.GeneralRateLimit())
	r.Use(middleware.AuditLogMiddleware(db))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit())
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.GET("/me", middleware.AuthRequired(), authHandler.GetProfile)
		}

		// Order fulfillment routes
		orders := v1.Group("/orders")
		orders.Use(middleware.AuthRequired())
		{
			orders.GET("", orderHandler.ListOrders)
			orders.GET("/:id", orderHandler.GetOrder)
			orders.PATCH("/:id/status", orderHandler.TransitionOrder)
			orders.POST("/:id/payment", paymentHandler.InitiatePayment)
			orders.POST("/:id/delivery/proof", deliveryHandler.GenerateProof)
			orders.POST("/:id/delivery/confirm", middleware.ConfirmRateLimit(), deliveryHandler.ConfirmDelivery)
		}

		// Provider webhooks carry their own reference; no bearer token
		v1.POST("/payments/webhook", paymentHandler.Webhook)
	}

	return r
}
