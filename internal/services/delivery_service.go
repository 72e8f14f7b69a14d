// internal/services/delivery_service.go
package services

import (
	"context"
	"errors"
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

const deliveryCodeDigits = 6

// DeliveryService runs the proof-of-delivery handshake: a single-use secret
// issued to the farmer and relayed to the buyer over SMS (short code) or QR
// (long token). Only digests are ever persisted.
type DeliveryService struct {
	db        *gorm.DB
	config    *config.Config
	ledger    chain.Ledger
	orders    *OrderService
	publisher events.Publisher
}

func NewDeliveryService(db *gorm.DB, cfg *config.Config, ledger chain.Ledger, orders *OrderService, publisher events.Publisher) *DeliveryService {
	return &DeliveryService{
		db:        db,
		config:    cfg,
		ledger:    ledger,
		orders:    orders,
		publisher: publisher,
	}
}

// GeneratedProof carries the plaintext secrets back to the caller. They are
// returned exactly once and cannot be recovered later.
type GeneratedProof struct {
	Code    string               `json:"code"`
	QRToken string               `json:"qr_token"`
	Proof   models.DeliveryProof `json:"proof"`
}

// Generate issues a fresh code/token pair for an order in transit. A prior
// unconfirmed proof is replaced, not accumulated; a confirmed proof is final.
func (s *DeliveryService) Generate(ctx context.Context, orderID uuid.UUID, actor *models.User, gps string) (*GeneratedProof, error) {
	var order models.Order
	if err := s.db.First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	if actor != nil && !actor.IsAdmin() && actor.ID != order.FarmerID {
		return nil, ErrUnauthorizedActor
	}

	// Delivered orders are allowed for re-issuing in support scenarios.
	if order.Status != models.OrderStatusInTransit && order.Status != models.OrderStatusDelivered {
		return nil, &InvalidTransitionError{From: order.Status, To: models.OrderStatusDelivered}
	}

	code, err := utils.GenerateNumericCode(deliveryCodeDigits)
	if err != nil {
		return nil, err
	}
	token, err := utils.GenerateProofToken()
	if err != nil {
		return nil, err
	}

	var proof models.DeliveryProof
	err = database.WithTransaction(s.db, func(tx *gorm.DB) error {
		err := database.LockForUpdate(tx).First(&proof, "order_id = ?", order.ID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if proof.IsConfirmed() {
			return ErrProofAlreadyConfirmed
		}

		proof.OrderID = order.ID
		proof.CodeHash = utils.HashString(code)
		proof.TokenHash = utils.HashString(token)
		proof.GeneratedBy = actorID(actor)
		proof.GPSLocation = gps
		proof.ChainTxHash = ""

		return tx.Save(&proof).Error
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"proof_id": proof.ID,
	}).Info("Delivery proof generated")

	return &GeneratedProof{
		Code:    code,
		QRToken: token,
		Proof:   proof,
	}, nil
}

// ConfirmResult reports the outcome of a confirmation claim.
type ConfirmResult struct {
	AlreadyConfirmed bool               `json:"already_confirmed"`
	ConfirmedAt      time.Time          `json:"confirmed_at"`
	OrderStatus      models.OrderStatus `json:"order_status"`
}

// Confirm verifies a submitted secret against the stored code and token
// digests; either match suffices. Retries of an already confirmed proof
// succeed without re-verifying the secret, since duplicate deliveries are
// expected from SMS and QR channels. A mismatch mutates nothing.
func (s *DeliveryService) Confirm(ctx context.Context, orderID uuid.UUID, submittedSecret string, actor *models.User, gps string) (*ConfirmResult, error) {
	var proof models.DeliveryProof
	var confirmedNow bool

	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		err := database.LockForUpdate(tx).First(&proof, "order_id = ?", orderID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProofNotFound
		}
		if err != nil {
			return err
		}

		if proof.IsConfirmed() {
			return nil
		}

		digest := utils.HashString(submittedSecret)
		if digest != proof.CodeHash && digest != proof.TokenHash {
			return ErrInvalidCode
		}

		now := time.Now().UTC()
		proof.ConfirmedAt = &now
		if actor != nil {
			id := actor.ID
			proof.ConfirmedBy = &id
		}
		if gps != "" {
			proof.GPSLocation = gps
		}
		confirmedNow = true

		return tx.Save(&proof).Error
	})
	if err != nil {
		return nil, err
	}

	if !confirmedNow {
		order, err := s.orders.GetOrder(orderID)
		if err != nil {
			return nil, err
		}
		return &ConfirmResult{
			AlreadyConfirmed: true,
			ConfirmedAt:      *proof.ConfirmedAt,
			OrderStatus:      order.Status,
		}, nil
	}

	order, err := s.orders.Transition(ctx, orderID, models.OrderStatusDelivered, nil, "delivery confirmed")
	if err != nil {
		logrus.WithError(err).WithField("order_id", orderID).
			Warn("Order transition after delivery confirmation failed")
		order, err = s.orders.GetOrder(orderID)
		if err != nil {
			return nil, err
		}
	}

	s.publisher.Publish(events.Event{
		OrderID:   orderID,
		Kind:      events.KindDeliveryConfirmed,
		To:        string(models.OrderStatusDelivered),
		Detail:    map[string]interface{}{"gps": proof.GPSLocation},
		Timestamp: time.Now().UTC(),
	})

	s.attestDelivery(ctx, &proof)

	return &ConfirmResult{
		AlreadyConfirmed: false,
		ConfirmedAt:      *proof.ConfirmedAt,
		OrderStatus:      order.Status,
	}, nil
}

// attestDelivery records the confirmation on the chain. Best effort: a chain
// failure is logged and does not affect the confirmed state.
func (s *DeliveryService) attestDelivery(ctx context.Context, proof *models.DeliveryProof) {
	fact := chain.Fact{
		Type: "delivery_confirmed",
		Payload: map[string]interface{}{
			"order_id":     proof.OrderID.String(),
			"proof_id":     proof.ID.String(),
			"confirmed_at": proof.ConfirmedAt.Unix(),
			"gps":          proof.GPSLocation,
		},
	}

	attestation, err := s.ledger.Append(ctx, fact)
	if err != nil {
		logrus.WithError(err).WithField("order_id", proof.OrderID).
			Warn("Delivery attestation failed")
		return
	}

	if err := s.db.Model(proof).Update("chain_tx_hash", attestation.TxHash).Error; err != nil {
		logrus.WithError(err).WithField("order_id", proof.OrderID).
			Error("Failed to store delivery attestation hash")
	}
}

func actorID(actor *models.User) uuid.UUID {
	if actor == nil {
		return uuid.Nil
	}
	return actor.ID
}
