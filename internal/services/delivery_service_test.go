// internal/services/delivery_service_test.go
package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/internal/chain"
	"github.com/farmlink/farmlink-backend/internal/models"
	"github.com/farmlink/farmlink-backend/internal/utils"
)

func newDeliveryService(t *testing.T, db *gorm.DB, ledger chain.Ledger) (*DeliveryService, *eventRecorder) {
	t.Helper()

	cfg := testConfig()
	recorder := &eventRecorder{}
	orders := NewOrderService(db, cfg, ledger, recorder)
	delivery := NewDeliveryService(db, cfg, ledger, orders, recorder)
	return delivery, recorder
}

func TestGenerateRequiresOrderInTransit(t *testing.T) {
	db := setupTestDB(t)
	fx := createFixtures(t, db, models.OrderStatusConfirmed)
	delivery, _ := newDeliveryService(t, db, chain.NewMemoryLedger())

	_, err := delivery.Generate(context.Background(), fx.order.ID, fx.farmer, "")

	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.OrderStatusConfirmed, invalid.From)
}

func TestGenerateReturnsSecretsAndStoresOnlyDigests(t *testing.T) {
	db := setupTestDB(t)
	fx := createFixtures(t, db, models.OrderStatusInTransit)
	delivery, _ := newDeliveryService(t, db, chain.NewMemoryLedger())

	generated, err := delivery.Generate(context.Background(), fx.order.ID, fx.farmer, "-1.2921,36.8219")
	require.NoError(t, err)

	assert.Len(t, generated.Code, deliveryCodeDigits)
	assert.NotEmpty(t, generated.QRToken)
	assert.NotEqual(t, generated.Code, generated.QRToken)

	var stored models.DeliveryProof
	require.NoError(t, db.First(&stored, "order_id = ?", fx.order.ID).Error)
	assert.Equal(t, utils.HashString(generated.Code), stored.CodeHash)
	assert.Equal(t, utils.HashString(generated.QRToken), stored.TokenHash)
	assert.False(t, stored.IsConfirmed())
}

func TestGenerateRejectsForeignFarmer(t *testing.T) {
	db := setupTestDB(t)
	fx := createFixtures(t, db, models.OrderStatusInTransit)
	other := createFixtures(t, db, models.OrderStatusPending)
	delivery, _ := newDeliveryService(t, db, chain.NewMemoryLedger())

	_, err := delivery.Generate(context.Background(), fx.order.ID, other.farmer, "")
	require.ErrorIs(t, err, ErrUnauthorizedActor)
}

func TestGenerateReplacesUnconfirmedProof(t *testing.T) {
	db := setupTestDB(t)
	fx := createFixtures(t, db, models.OrderStatusInTransit)
	delivery, _ := newDeliveryService(t, db, chain.NewMemoryLedger())

	first, err := delivery.Generate(context.Background(), fx.order.ID, fx.farmer, "")
	require.NoError(t, err)
	second, err := delivery.Generate(context.Background(), fx.order.ID, fx.farmer, "")
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.DeliveryProof{}).Where("order_id = ?", fx.order.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// The first code is dead after regeneration.
	_, err = delivery.Confirm(context.Background(), fx.order.ID, first.Code, fx.buyer, "")
	require.ErrorIs(t, err, ErrInvalidCode)

	result, err := delivery.Confirm(context.Background(), fx.order.ID, second.Code, fx.buyer, "")
	require.NoError(t, err)
	assert.False(t, result.AlreadyConfirmed)
}

func TestGenerateRejectedAfterConfirmation(t *testing.T) {
	db := setupTestDB(t)
	fx := createFixtures(t, db, models.OrderStatusInTransit)
	delivery, _ := newDeliveryService(t, db, chain.NewMemoryLedger())

	generated, err := delivery.Generate(context.Background(), fx.order.ID, fx.farmer, "")
	require.NoError(t, err)
	_, err = delivery.Confirm(context.Background(), fx.order.ID, generated.Code, fx.buyer, "")
	require.NoError(t, err)

	_, err = delivery.Generate(context.Background(), fx.order.ID, fx.farmer, "")
	require.ErrorIs(t, err, ErrProofAlreadyConfirmed)
}

func TestConfirmWithCode(t *testing.T) {
	db := setupTestDB(t)
	fx := createFixtures(t, db, models.OrderStatusInTransit)
	ledger := chain.NewMemoryLedger()
	delivery, recorder := newDeliveryService(t, db, ledger)

	generated, err := delivery.Generate(context.Background(), fx.order.ID, fx.farmer, "")
	require.NoError(t, err)

	result, err := delivery.Confirm(context.Background(), fx.order.ID, generated.Code, fx.buyer, "-1.3,36.9")
	require.NoError(t, err)

	assert.False(t, result.AlreadyConfirmed)
	assert.Equal(t, models.OrderStatusDelivered, result.OrderStatus)

	var proof models.DeliveryProof
	require.NoError(t, db.First(&proof, "order_id = ?", fx.order.ID).Error)
	assert.True(t, proof.IsConfirmed())
	require.NotNil(t, proof.ConfirmedBy)
	assert.Equal(t, fx.buyer.ID, *proof.ConfirmedBy)
	assert.Equal(t, "-1.3,36.9", proof.GPSLocation)
	assert.NotEmpty(t, proof.ChainTxHash)

	require.Len(t, recorder.byKind("delivery_confirmed"), 1)
}

func TestConfirmWithQRToken(t *testing.T) {
	db := setupTestDB(t)
	fx := createFixtures(t, db, models.OrderStatusInTransit)
	delivery, _ := newDeliveryService(t, db, chain.NewMemoryLedger())

	generated, err := delivery.Generate(context.Background(), fx.order.ID, fx.farmer, "")
	require.NoError(t, err)

	result, err := delivery.Confirm(context.Background(), fx.order.ID, generated.QRToken, fx.buyer, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, result.OrderStatus)
}

func TestConfirmRetryIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	fx := createFixtures(t, db, models.OrderStatusInTransit)
	ledger := chain.NewMemoryLedger()
	delivery, _ := newDeliveryService(t, db, ledger)

	generated, err := delivery.Generate(context.Background(), fx.order.ID, fx.farmer, "")
	require.NoError(t, err)

	first, err := delivery.Confirm(context.Background(), fx.order.ID, generated.Code, fx.buyer, "")
	require.NoError(t, err)
	blocks := ledger.Length()

	// Duplicate delivery of the same confirmation, even with a bogus
	// secret, acknowledges without re-verifying or re-attesting.
	second, err := delivery.Confirm(context.Background(), fx.order.ID, "000000", fx.buyer, "")
	require.NoError(t, err)

	assert.True(t, second.AlreadyConfirmed)
	assert.Equal(t, first.ConfirmedAt.Unix(), second.ConfirmedAt.Unix())
	assert.Equal(t, blocks, ledger.Length())
}

func TestConfirmInvalidCodeMutatesNothing(t *testing.T) {
	db := setupTestDB(t)
	fx := createFixtures(t, db, models.OrderStatusInTransit)
	delivery, recorder := newDeliveryService(t, db, chain.NewMemoryLedger())

	generated, err := delivery.Generate(context.Background(), fx.order.ID, fx.farmer, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = delivery.Confirm(context.Background(), fx.order.ID, "wrong-secret", fx.buyer, "")
		require.ErrorIs(t, err, ErrInvalidCode)
	}

	var order models.Order
	require.NoError(t, db.First(&order, "id = ?", fx.order.ID).Error)
	assert.Equal(t, models.OrderStatusInTransit, order.Status)

	var proof models.DeliveryProof
	require.NoError(t, db.First(&proof, "order_id = ?", fx.order.ID).Error)
	assert.False(t, proof.IsConfirmed())
	assert.Empty(t, recorder.byKind("delivery_confirmed"))

	// The real code still works after failed attempts.
	result, err := delivery.Confirm(context.Background(), fx.order.ID, generated.Code, fx.buyer, "")
	require.NoError(t, err)
	assert.False(t, result.AlreadyConfirmed)
}

func TestConfirmWithoutProof(t *testing.T) {
	db := setupTestDB(t)
	fx := createFixtures(t, db, models.OrderStatusInTransit)
	delivery, _ := newDeliveryService(t, db, chain.NewMemoryLedger())

	_, err := delivery.Confirm(context.Background(), fx.order.ID, "123456", fx.buyer, "")
	require.ErrorIs(t, err, ErrProofNotFound)
}

func TestConfirmSurvivesChainFailure(t *testing.T) {
	db := setupTestDB(t)
	fx := createFixtures(t, db, models.OrderStatusInTransit)
	delivery, _ := newDeliveryService(t, db, failLedger{})

	generated, err := delivery.Generate(context.Background(), fx.order.ID, fx.farmer, "")
	require.NoError(t, err)

	result, err := delivery.Confirm(context.Background(), fx.order.ID, generated.Code, fx.buyer, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, result.OrderStatus)

	var proof models.DeliveryProof
	require.NoError(t, db.First(&proof, "order_id = ?", fx.order.ID).Error)
	assert.True(t, proof.IsConfirmed())
	assert.Empty(t, proof.ChainTxHash)
}
