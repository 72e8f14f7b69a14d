// internal/services/service_test.go
package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/farmlink/farmlink-backend/internal/chain"
	"github.com/farmlink/farmlink-backend/internal/config"
	"github.com/farmlink/farmlink-backend/internal/events"
	"github.com/farmlink/farmlink-backend/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// In-memory SQLite gives every pooled connection its own database;
	// pin the pool to one connection so all queries see the same schema.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Product{},
		&models.Order{},
		&models.Transaction{},
		&models.DeliveryProof{},
		&models.AuditLog{},
	))

	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		JWT: config.JWTConfig{
			SecretKey:      "test-secret",
			AccessTokenTTL: 24,
		},
		Payment: config.PaymentConfig{
			Provider:       "mock",
			Currency:       "KES",
			TimeoutSeconds: 5,
		},
		Chain: config.ChainConfig{
			Backend: "memory",
		},
	}
}

// eventRecorder captures published domain events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) byKind(kind events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []events.Event
	for _, event := range r.events {
		if event.Kind == kind {
			matched = append(matched, event)
		}
	}
	return matched
}

// mockProvider is a scriptable payment provider.
type mockProvider struct {
	name        string
	collectFunc func(ctx context.Context, order *models.Order) (string, error)
}

func (p *mockProvider) Name() string {
	if p.name != "" {
		return p.name
	}
	return "mock"
}

func (p *mockProvider) Collect(ctx context.Context, order *models.Order) (string, error) {
	if p.collectFunc != nil {
		return p.collectFunc(ctx, order)
	}
	return "ref-" + order.ID.String()[:8], nil
}

// failLedger simulates an unreachable attestation backend.
type failLedger struct{}

func (failLedger) Append(ctx context.Context, fact chain.Fact) (*chain.Attestation, error) {
	return nil, chain.ErrUnavailable
}

func (failLedger) Verify(ctx context.Context, factHash string) (*chain.Verification, error) {
	return nil, chain.ErrUnavailable
}

type fixtures struct {
	farmer  *models.User
	buyer   *models.User
	product *models.Product
	order   *models.Order
}

func createFixtures(t *testing.T, db *gorm.DB, status models.OrderStatus) *fixtures {
	t.Helper()

	farmer := &models.User{
		Username: "farmer-" + uuid.NewString()[:8],
		Email:    uuid.NewString() + "@farm.test",
		UserType: models.UserTypeFarmer,
		Status:   models.UserStatusActive,
	}
	require.NoError(t, farmer.SetPassword("Password1"))
	require.NoError(t, db.Create(farmer).Error)

	buyer := &models.User{
		Username: "buyer-" + uuid.NewString()[:8],
		Email:    uuid.NewString() + "@buyer.test",
		UserType: models.UserTypeBuyer,
		Status:   models.UserStatusActive,
	}
	require.NoError(t, buyer.SetPassword("Password1"))
	require.NoError(t, db.Create(buyer).Error)

	product := &models.Product{
		FarmerID: farmer.ID,
		Name:     "Maize",
		Category: "grains",
		Price:    100,
		Quantity: 20,
		Status:   models.ProductStatusAvailable,
	}
	require.NoError(t, db.Create(product).Error)

	order := &models.Order{
		BuyerID:    buyer.ID,
		FarmerID:   farmer.ID,
		ProductID:  product.ID,
		Quantity:   5,
		TotalPrice: 500,
		Status:     status,
	}
	require.NoError(t, db.Create(order).Error)

	return &fixtures{
		farmer:  farmer,
		buyer:   buyer,
		product: product,
		order:   order,
	}
}
