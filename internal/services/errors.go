// internal/services/errors.go
package services

import (
	"errors"
	"fmt"

	"github.com/farmlink/farmlink-backend/internal/models"
)

var (
	// ErrOrderNotFound is returned when an operation references an unknown order.
	ErrOrderNotFound = errors.New("order not found")

	// ErrUnauthorizedActor is returned when the acting user is neither the
	// order's farmer nor an admin for a farmer-driven operation.
	ErrUnauthorizedActor = errors.New("actor is not authorized for this order")

	// ErrProviderUnavailable is returned when the payment provider call
	// fails; the transaction stays pending and initiation can be retried.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrPaymentAlreadyCompleted is returned when initiating payment for an
	// order whose transaction already settled; completed transactions are
	// immutable except for attestation backfill.
	ErrPaymentAlreadyCompleted = errors.New("payment already completed")

	// ErrProofNotFound is returned when confirming delivery for an order
	// with no issued proof.
	ErrProofNotFound = errors.New("delivery proof not found")

	// ErrInvalidCode is returned on a secret mismatch. The message is
	// deliberately generic: it never reveals whether the order exists or
	// which digest failed.
	ErrInvalidCode = errors.New("invalid code")

	// ErrProofAlreadyConfirmed is returned when re-generating a proof for an
	// already confirmed delivery; confirmation is terminal.
	ErrProofAlreadyConfirmed = errors.New("delivery already confirmed")
)

// InvalidTransitionError reports a status change not present in the order
// transition table, carrying both statuses so the caller can render a
// meaningful message.
type InvalidTransitionError struct {
	From models.OrderStatus
	To   models.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition from %s to %s", e.From, e.To)
}
