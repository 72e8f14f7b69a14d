// internal/services/order_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/internal/chain"
	"github.com/farmlink/farmlink-backend/internal/config"
	"github.com/farmlink/farmlink-backend/internal/database"
	"github.com/farmlink/farmlink-backend/internal/events"
	"github.com/farmlink/farmlink-backend/internal/models"
	"github.com/farmlink/farmlink-backend/internal/utils"
)

// orderTransitions is the allowed-transition table. Delivered and cancelled
// are terminal.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:   {models.OrderStatusConfirmed, models.OrderStatusCancelled},
	models.OrderStatusConfirmed: {models.OrderStatusInTransit, models.OrderStatusCancelled},
	models.OrderStatusInTransit: {models.OrderStatusDelivered},
	models.OrderStatusDelivered: {},
	models.OrderStatusCancelled: {},
}

// OrderService is the single authority for order status and the inventory
// side effects of status change.
type OrderService struct {
	db        *gorm.DB
	config    *config.Config
	ledger    chain.Ledger
	publisher events.Publisher
}

func NewOrderService(db *gorm.DB, cfg *config.Config, ledger chain.Ledger, publisher events.Publisher) *OrderService {
	return &OrderService{
		db:        db,
		config:    cfg,
		ledger:    ledger,
		publisher: publisher,
	}
}

// Transition moves an order to targetStatus per the transition table. A nil
// actor means the system itself (auto-fulfillment, delivery confirmation);
// otherwise the actor must be the order's farmer or an admin. Transitioning
// to the current status is an idempotent no-op.
func (s *OrderService) Transition(ctx context.Context, orderID uuid.UUID, targetStatus models.OrderStatus, actor *models.User, reason string) (*models.Order, error) {
	var order models.Order
	var fromStatus models.OrderStatus
	noop := false

	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		// Row lock serializes concurrent transitions on the same order.
		if err := database.LockForUpdate(tx).
			First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		if actor != nil && !actor.IsAdmin() && actor.ID != order.FarmerID {
			return ErrUnauthorizedActor
		}

		fromStatus = order.Status

		if targetStatus == fromStatus {
			noop = true
			return nil
		}

		if !transitionAllowed(fromStatus, targetStatus) {
			return &InvalidTransitionError{From: fromStatus, To: targetStatus}
		}

		order.Status = targetStatus
		if err := tx.Save(&order).Error; err != nil {
			return err
		}

		if targetStatus == models.OrderStatusCancelled {
			// Composite cancellation: restore inventory and fail the payment
			// record in the same transaction as the status change.
			return s.applyCancellation(tx, &order)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if noop {
		return &order, nil
	}

	s.publisher.Publish(events.Event{
		OrderID:   order.ID,
		Kind:      events.KindOrderStatusChanged,
		From:      string(fromStatus),
		To:        string(targetStatus),
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})

	if targetStatus == models.OrderStatusConfirmed {
		s.attestConfirmation(ctx, &order)
	}

	return &order, nil
}

// GetOrder loads a single order with its payment and proof records.
func (s *OrderService) GetOrder(orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := s.db.Preload("Transaction").Preload("Proof").
		First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListOrders returns the orders visible to the actor: buyers see their
// purchases, farmers their sales, admins everything.
func (s *OrderService) ListOrders(actor *models.User, params utils.PaginationParams) ([]models.Order, int64, error) {
	query := s.db.Model(&models.Order{})

	switch {
	case actor.IsAdmin():
		// no scoping
	case actor.IsFarmer():
		query = query.Where("farmer_id = ?", actor.ID)
	default:
		query = query.Where("buyer_id = ?", actor.ID)
	}

	if params.Status != "" {
		query = query.Where("status = ?", models.OrderStatus(params.Status))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	allowedSortFields := []string{"created_at", "updated_at", "status", "total_price"}
	query = utils.ApplySort(query, params, allowedSortFields)
	query = utils.ApplyPagination(query, params)

	var orders []models.Order
	if err := query.Preload("Transaction").Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch orders: %w", err)
	}

	return orders, total, nil
}

func transitionAllowed(from, to models.OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// applyCancellation restores the reserved product quantity, marks the product
// available again and fails any non-failed transaction. Runs inside the
// caller's transaction so a reader never sees a cancelled order with stale
// inventory.
func (s *OrderService) applyCancellation(tx *gorm.DB, order *models.Order) error {
	var product models.Product
	if err := database.LockForUpdate(tx).
		First(&product, "id = ?", order.ProductID).Error; err != nil {
		return err
	}

	product.Quantity += order.Quantity
	if product.Status == models.ProductStatusSoldOut || product.Status == models.ProductStatusReserved {
		product.Status = models.ProductStatusAvailable
	}
	if err := tx.Save(&product).Error; err != nil {
		return err
	}

	var transaction models.Transaction
	err := tx.First(&transaction, "order_id = ?", order.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if transaction.Status != models.TransactionStatusFailed {
		now := time.Now().UTC()
		transaction.Status = models.TransactionStatusFailed
		transaction.FailedReason = "order cancelled"
		transaction.ProcessedAt = &now
		if err := tx.Save(&transaction).Error; err != nil {
			return err
		}
	}

	return nil
}

// attestConfirmation records the confirmed order on the attestation chain.
// It never blocks the status change: a chain failure degrades to a failed
// transaction record and a log line.
func (s *OrderService) attestConfirmation(ctx context.Context, order *models.Order) {
	fact := chain.Fact{
		Type: "order_confirmed",
		Payload: map[string]interface{}{
			"order_id":    order.ID.String(),
			"buyer_id":    order.BuyerID.String(),
			"farmer_id":   order.FarmerID.String(),
			"product_id":  order.ProductID.String(),
			"quantity":    order.Quantity,
			"total_price": order.TotalPrice,
		},
	}

	attestation, err := s.ledger.Append(ctx, fact)
	if err != nil {
		logrus.WithError(err).WithField("order_id", order.ID).
			Warn("Order confirmation attestation failed")
		s.degradeTransaction(order.ID, "attestation unavailable")
		return
	}

	logrus.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"tx_hash":      attestation.TxHash,
		"block_number": attestation.BlockNumber,
	}).Info("Order confirmation attested")
}

func (s *OrderService) degradeTransaction(orderID uuid.UUID, reason string) {
	var transaction models.Transaction
	err := s.db.First(&transaction, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return
	}
	if err != nil {
		logrus.WithError(err).WithField("order_id", orderID).Error("Failed to load transaction for degrade")
		return
	}

	if transaction.IsTerminal() {
		return
	}

	transaction.Status = models.TransactionStatusFailed
	transaction.FailedReason = reason
	if err := s.db.Save(&transaction).Error; err != nil {
		logrus.WithError(err).WithField("order_id", orderID).Error("Failed to degrade transaction")
	}
}
