// internal/services/payment_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/farmlink/farmlink-backend/internal/chain"
	"github.com/farmlink/farmlink-backend/internal/config"
	"github.com/farmlink/farmlink-backend/internal/database"
	"github.com/farmlink/farmlink-backend/internal/events"
	"github.com/farmlink/farmlink-backend/internal/models"
)

// PaymentProvider starts a collection with the external payment provider and
// returns its reference for the payment, when synchronously available. The
// final outcome arrives later through the provider's webhook.
type PaymentProvider interface {
	Name() string
	Collect(ctx context.Context, order *models.Order) (providerRef string, err error)
}

// PaymentService owns the order's Transaction record and reconciles it
// against the provider's at-least-once, possibly out-of-order webhooks.
type PaymentService struct {
	db        *gorm.DB
	config    *config.Config
	provider  PaymentProvider
	ledger    chain.Ledger
	orders    *OrderService
	archive   *ArchiveService
	publisher events.Publisher
}

func NewPaymentService(db *gorm.DB, cfg *config.Config, provider PaymentProvider, ledger chain.Ledger, orders *OrderService, archive *ArchiveService, publisher events.Publisher) *PaymentService {
	return &PaymentService{
		db:        db,
		config:    cfg,
		provider:  provider,
		ledger:    ledger,
		orders:    orders,
		archive:   archive,
		publisher: publisher,
	}
}

// Initiate starts payment collection for a confirmed order. The Transaction
// is upserted in pending state first; a provider failure leaves it pending so
// the caller can retry initiation.
func (s *PaymentService) Initiate(ctx context.Context, orderID uuid.UUID) (*models.Transaction, error) {
	var order models.Order
	if err := s.db.First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if order.Status != models.OrderStatusConfirmed {
		return nil, &InvalidTransitionError{From: order.Status, To: models.OrderStatusConfirmed}
	}

	var transaction models.Transaction
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		err := database.LockForUpdate(tx).First(&transaction, "order_id = ?", order.ID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// A settled payment is immutable; only pending and failed
		// transactions may be re-initiated.
		if transaction.Status == models.TransactionStatusCompleted {
			return ErrPaymentAlreadyCompleted
		}

		transaction.OrderID = order.ID
		transaction.Amount = order.TotalPrice
		transaction.Currency = s.config.Payment.Currency
		transaction.Provider = s.provider.Name()
		transaction.Status = models.TransactionStatusPending
		transaction.FailedReason = ""
		transaction.ProcessedAt = nil

		return tx.Save(&transaction).Error
	})
	if err != nil {
		return nil, err
	}

	collectCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.Payment.TimeoutSeconds)*time.Second)
	defer cancel()

	providerRef, err := s.provider.Collect(collectCtx, &order)
	if err != nil {
		logrus.WithError(err).WithField("order_id", order.ID).Warn("Payment collection failed")
		return &transaction, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	// Scoped update: a webhook for an earlier reference may have settled the
	// transaction between the upsert commit and here, and only reconcile may
	// flip the status. Write nothing but the new reference.
	transaction.ProviderRef = providerRef
	if err := s.db.Model(&models.Transaction{}).Where("id = ?", transaction.ID).
		Update("provider_ref", providerRef).Error; err != nil {
		return nil, fmt.Errorf("failed to store provider reference: %w", err)
	}

	return &transaction, nil
}

// ReconcileResult reports what a webhook delivery did.
type ReconcileResult struct {
	Applied bool                     `json:"applied"`
	Status  models.TransactionStatus `json:"status,omitempty"`
}

// Reconcile applies a provider status callback to the transaction identified
// by providerRef. Unknown references are a logged no-op: the webhook may
// outrun the local commit, or belong to another instance. Terminal states
// are sticky in both directions; only pending transactions move. Status
// write, attestation and auto-fulfillment are independent steps: a failure in
// a later step never rolls back an earlier one.
func (s *PaymentService) Reconcile(ctx context.Context, providerRef, rawStatus string, rawPayload models.JSONB) (*ReconcileResult, error) {
	mapped := mapProviderStatus(rawStatus)

	var transaction models.Transaction
	applied := false

	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		err := database.LockForUpdate(tx).
			First(&transaction, "provider = ? AND provider_ref = ?", s.provider.Name(), providerRef).Error
		if err != nil {
			return err
		}

		if transaction.IsTerminal() {
			if mapped != transaction.Status {
				logrus.WithFields(logrus.Fields{
					"provider_ref": providerRef,
					"current":      transaction.Status,
					"reported":     rawStatus,
				}).Warn("Late webhook reports different terminal status; first terminal state is sticky")
			}
			return nil
		}

		if mapped == models.TransactionStatusPending {
			// Nothing to apply yet; keep the payload for audit.
			transaction.RawPayload = rawPayload
			return tx.Save(&transaction).Error
		}

		now := time.Now().UTC()
		transaction.Status = mapped
		transaction.ProcessedAt = &now
		transaction.RawPayload = rawPayload
		if mapped == models.TransactionStatusFailed {
			transaction.FailedReason = rawStatus
		}
		applied = true
		return tx.Save(&transaction).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.auditUnknownReference(providerRef, rawStatus)
		return &ReconcileResult{Applied: false}, nil
	}
	if err != nil {
		return nil, err
	}

	if !applied {
		return &ReconcileResult{Applied: false, Status: transaction.Status}, nil
	}

	s.archivePayload(ctx, &transaction)

	switch transaction.Status {
	case models.TransactionStatusCompleted:
		s.publisher.Publish(events.Event{
			OrderID:   transaction.OrderID,
			Kind:      events.KindPaymentCompleted,
			To:        string(transaction.Status),
			Detail:    map[string]interface{}{"amount": transaction.Amount, "provider_ref": providerRef},
			Timestamp: time.Now().UTC(),
		})
		s.attestPurchase(ctx, &transaction)
		s.autoFulfill(ctx, &transaction)
	case models.TransactionStatusFailed:
		s.publisher.Publish(events.Event{
			OrderID:   transaction.OrderID,
			Kind:      events.KindPaymentFailed,
			To:        string(transaction.Status),
			Reason:    rawStatus,
			Timestamp: time.Now().UTC(),
		})
	}

	return &ReconcileResult{Applied: true, Status: transaction.Status}, nil
}

// mapProviderStatus normalizes the provider's stringly-typed status into the
// three-valued internal status by keyword matching.
func mapProviderStatus(rawStatus string) models.TransactionStatus {
	status := strings.ToLower(rawStatus)

	for _, keyword := range []string{"success", "succeed", "complet", "paid", "settled"} {
		if strings.Contains(status, keyword) {
			return models.TransactionStatusCompleted
		}
	}

	for _, keyword := range []string{"fail", "reject", "declin", "cancel", "error", "expired"} {
		if strings.Contains(status, keyword) {
			return models.TransactionStatusFailed
		}
	}

	return models.TransactionStatusPending
}

func (s *PaymentService) auditUnknownReference(providerRef, rawStatus string) {
	logrus.WithFields(logrus.Fields{
		"provider":     s.provider.Name(),
		"provider_ref": providerRef,
		"raw_status":   rawStatus,
	}).Info("Webhook for unknown provider reference ignored")

	audit := &models.AuditLog{
		Action:       "payment.webhook.unknown_reference",
		ResourceType: "transaction",
		NewValues:    models.JSONB{"provider_ref": providerRef, "raw_status": rawStatus},
	}
	if err := s.db.Create(audit).Error; err != nil {
		logrus.WithError(err).Error("Failed to write webhook audit log")
	}
}

// attestPurchase appends a purchase fact to the chain once per transaction.
// The stored attestation hash guards against double-attestation on retried
// webhooks.
func (s *PaymentService) attestPurchase(ctx context.Context, transaction *models.Transaction) {
	if transaction.ChainTxHash != "" {
		return
	}

	fact := chain.Fact{
		Type: "purchase",
		Payload: map[string]interface{}{
			"order_id":     transaction.OrderID.String(),
			"amount":       transaction.Amount,
			"currency":     transaction.Currency,
			"provider":     transaction.Provider,
			"provider_ref": transaction.ProviderRef,
		},
	}

	attestation, err := s.ledger.Append(ctx, fact)
	if err != nil {
		logrus.WithError(err).WithField("order_id", transaction.OrderID).
			Warn("Purchase attestation failed")
		return
	}

	block := attestation.BlockNumber
	transaction.ChainTxHash = attestation.TxHash
	transaction.ChainBlock = &block
	if err := s.db.Model(transaction).
		Updates(map[string]interface{}{"chain_tx_hash": attestation.TxHash, "chain_block": block}).Error; err != nil {
		logrus.WithError(err).WithField("order_id", transaction.OrderID).
			Error("Failed to backfill attestation hash")
	}
}

// autoFulfill advances a confirmed order to in-transit after a completed
// payment when the policy allows it. The farmer-level override wins over the
// global default when set.
func (s *PaymentService) autoFulfill(ctx context.Context, transaction *models.Transaction) {
	var order models.Order
	if err := s.db.Preload("Farmer").First(&order, "id = ?", transaction.OrderID).Error; err != nil {
		logrus.WithError(err).WithField("order_id", transaction.OrderID).Error("Auto-fulfillment: order load failed")
		return
	}

	if order.Status != models.OrderStatusConfirmed {
		return
	}

	if !s.config.Fulfillment.AutoFulfillGlobal && !order.Farmer.AutoFulfill {
		return
	}

	if _, err := s.orders.Transition(ctx, order.ID, models.OrderStatusInTransit, nil, "auto-fulfillment after payment"); err != nil {
		logrus.WithError(err).WithField("order_id", order.ID).Warn("Auto-fulfillment failed")
	}
}

func (s *PaymentService) archivePayload(ctx context.Context, transaction *models.Transaction) {
	if s.archive == nil || transaction.RawPayload == nil {
		return
	}
	if err := s.archive.ArchivePayload(ctx, transaction.ID, transaction.RawPayload); err != nil {
		logrus.WithError(err).WithField("transaction_id", transaction.ID).
			Warn("Webhook payload archival failed")
	}
}
