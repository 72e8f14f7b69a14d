// internal/handlers/payment_test.go
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/farmlink/farmlink-backend/internal/chain"
	"github.com/farmlink/farmlink-backend/internal/config"
	"github.com/farmlink/farmlink-backend/internal/events"
	"github.com/farmlink/farmlink-backend/internal/models"
	"github.com/farmlink/farmlink-backend/internal/services"
)

type handlerFixture struct {
	db       *gorm.DB
	router   *gin.Engine
	farmer   *models.User
	buyer    *models.User
	order    *models.Order
	payments *services.PaymentService
	delivery *services.DeliveryService
}

// setupHandlerTest wires real services over an in-memory database behind a
// minimal router. Authentication is replaced by a stub that injects the
// given user into the request context.
func setupHandlerTest(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Product{}, &models.Order{},
		&models.Transaction{}, &models.DeliveryProof{}, &models.AuditLog{},
	))

	cfg := &config.Config{
		Environment: "test",
		JWT:         config.JWTConfig{SecretKey: "test-secret", AccessTokenTTL: 24},
		Payment:     config.PaymentConfig{Provider: "mock", Currency: "KES", TimeoutSeconds: 5},
	}

	farmer := &models.User{Username: "farmer", Email: "farmer@test", UserType: models.UserTypeFarmer, Status: models.UserStatusActive}
	require.NoError(t, farmer.SetPassword("Password1"))
	require.NoError(t, db.Create(farmer).Error)

	buyer := &models.User{Username: "buyer", Email: "buyer@test", UserType: models.UserTypeBuyer, Status: models.UserStatusActive}
	require.NoError(t, buyer.SetPassword("Password1"))
	require.NoError(t, db.Create(buyer).Error)

	product := &models.Product{FarmerID: farmer.ID, Name: "Maize", Category: "grains", Price: 100, Quantity: 20, Status: models.ProductStatusAvailable}
	require.NoError(t, db.Create(product).Error)

	order := &models.Order{BuyerID: buyer.ID, FarmerID: farmer.ID, ProductID: product.ID, Quantity: 3, TotalPrice: 300, Status: models.OrderStatusConfirmed}
	require.NoError(t, db.Create(order).Error)

	ledger := chain.NewMemoryLedger()
	publisher := events.NewLogPublisher()
	orderService := services.NewOrderService(db, cfg, ledger, publisher)
	paymentService := services.NewPaymentService(db, cfg, stubProvider{}, ledger, orderService, nil, publisher)
	deliveryService := services.NewDeliveryService(db, cfg, ledger, orderService, publisher)
	authService := services.NewAuthService(db, cfg)

	paymentHandler := NewPaymentHandler(paymentService)
	deliveryHandler := NewDeliveryHandler(deliveryService, authService)

	asUser := func(user *models.User) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Set("user_id", user.ID.String())
			c.Set("user_type", string(user.UserType))
			c.Next()
		}
	}

	router := gin.New()
	router.POST("/v1/payments/webhook", paymentHandler.Webhook)
	router.POST("/v1/orders/:id/payment", asUser(buyer), paymentHandler.InitiatePayment)
	router.POST("/v1/orders/:id/delivery/proof", asUser(farmer), deliveryHandler.GenerateProof)
	router.POST("/v1/orders/:id/delivery/confirm", asUser(buyer), deliveryHandler.ConfirmDelivery)

	return &handlerFixture{
		db:       db,
		router:   router,
		farmer:   farmer,
		buyer:    buyer,
		order:    order,
		payments: paymentService,
		delivery: deliveryService,
	}
}

type stubProvider struct{}

func (stubProvider) Name() string { return "mock" }

func (stubProvider) Collect(ctx context.Context, order *models.Order) (string, error) {
	return "ref-" + order.ID.String()[:8], nil
}

func (f *handlerFixture) postJSON(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestWebhookNormalizesFieldAliases(t *testing.T) {
	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{name: "canonical fields", body: map[string]interface{}{"reference": "", "status": "SUCCESS"}},
		{name: "transaction_id and state", body: map[string]interface{}{"transaction_id": "", "state": "payment_succeeded"}},
		{name: "payment_id and result", body: map[string]interface{}{"payment_id": "", "result": "COMPLETED"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := setupHandlerTest(t)
			transaction, err := fx.payments.Initiate(context.Background(), fx.order.ID)
			require.NoError(t, err)

			for key, value := range tc.body {
				if value == "" {
					tc.body[key] = transaction.ProviderRef
				}
			}

			w := fx.postJSON(t, "/v1/payments/webhook", tc.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var stored models.Transaction
			require.NoError(t, fx.db.First(&stored, "id = ?", transaction.ID).Error)
			assert.Equal(t, models.TransactionStatusCompleted, stored.Status)
		})
	}
}

func TestWebhookMissingReferenceRejected(t *testing.T) {
	fx := setupHandlerTest(t)

	w := fx.postJSON(t, "/v1/payments/webhook", map[string]interface{}{"status": "SUCCESS"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookUnknownReferenceAcknowledged(t *testing.T) {
	fx := setupHandlerTest(t)

	// Unknown references are acknowledged with 200 so the provider stops
	// retrying; the event is kept in the audit log instead.
	w := fx.postJSON(t, "/v1/payments/webhook", map[string]interface{}{"reference": "ghost", "status": "SUCCESS"})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data struct {
			Applied bool `json:"applied"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Data.Applied)
}

func TestInitiatePaymentRequiresConfirmedOrder(t *testing.T) {
	fx := setupHandlerTest(t)
	require.NoError(t, fx.db.Model(fx.order).Update("status", models.OrderStatusPending).Error)

	w := fx.postJSON(t, "/v1/orders/"+fx.order.ID.String()+"/payment", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestConfirmDeliveryDoesNotLeakProofExistence(t *testing.T) {
	fx := setupHandlerTest(t)
	require.NoError(t, fx.db.Model(fx.order).Update("status", models.OrderStatusInTransit).Error)

	// No proof generated yet: same response as a wrong code.
	missing := fx.postJSON(t, "/v1/orders/"+fx.order.ID.String()+"/delivery/confirm",
		map[string]interface{}{"secret": "123456"})

	_, err := fx.delivery.Generate(context.Background(), fx.order.ID, fx.farmer, "")
	require.NoError(t, err)

	wrong := fx.postJSON(t, "/v1/orders/"+fx.order.ID.String()+"/delivery/confirm",
		map[string]interface{}{"secret": "000000"})

	assert.Equal(t, http.StatusBadRequest, missing.Code)
	assert.Equal(t, missing.Code, wrong.Code)
	assert.JSONEq(t, missing.Body.String(), wrong.Body.String())
}

func TestGenerateProofReturnsPlaintextOnce(t *testing.T) {
	fx := setupHandlerTest(t)
	require.NoError(t, fx.db.Model(fx.order).Update("status", models.OrderStatusInTransit).Error)

	w := fx.postJSON(t, "/v1/orders/"+fx.order.ID.String()+"/delivery/proof",
		map[string]interface{}{"gps_location": "-1.29,36.82"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body struct {
		Data struct {
			Code    string `json:"code"`
			QRToken string `json:"qr_token"`
			Proof   struct {
				CodeHash  string `json:"code_hash"`
				TokenHash string `json:"token_hash"`
			} `json:"proof"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Data.Code)
	assert.NotEmpty(t, body.Data.QRToken)

	// Digests never cross the wire.
	assert.Empty(t, body.Data.Proof.CodeHash)
	assert.Empty(t, body.Data.Proof.TokenHash)

	confirm := fx.postJSON(t, "/v1/orders/"+fx.order.ID.String()+"/delivery/confirm",
		map[string]interface{}{"secret": body.Data.Code})
	require.Equal(t, http.StatusOK, confirm.Code, confirm.Body.String())
}
