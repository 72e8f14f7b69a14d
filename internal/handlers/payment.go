// internal/handlers/payment.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/farmlink/farmlink-backend/internal/models"
	"github.com/farmlink/farmlink-backend/internal/services"
	"github.com/farmlink/farmlink-backend/internal/utils"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

// POST /orders/:id/payment
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid order ID", nil)
		return
	}

	transaction, err := h.paymentService.Initiate(c.Request.Context(), orderID)
	if err != nil {
		var transitionErr *services.InvalidTransitionError
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			utils.NotFoundResponse(c, "Order")
		case errors.Is(err, services.ErrPaymentAlreadyCompleted):
			utils.ConflictResponse(c, "Payment already completed")
		case errors.Is(err, services.ErrProviderUnavailable):
			// Transaction stays pending; the client may retry initiation.
			utils.ErrorResponse(c, http.StatusBadGateway, "PROVIDER_UNAVAILABLE", "Payment provider unavailable, try again", nil)
		case errors.As(err, &transitionErr):
			utils.ConflictResponse(c, "Order must be confirmed before payment")
		default:
			utils.InternalErrorResponse(c, err.Error())
		}
		return
	}

	utils.CreatedResponse(c, transaction)
}

// webhookPayload is the provider-shaped callback body. Providers disagree on
// field names, so several aliases are accepted and normalized into the small
// internal shape the reconciler works with.
type webhookPayload struct {
	Reference     string `json:"reference"`
	TransactionID string `json:"transaction_id"`
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	State         string `json:"state"`
	Result        string `json:"result"`
}

func (p *webhookPayload) providerReference() string {
	for _, ref := range []string{p.Reference, p.TransactionID, p.PaymentID} {
		if ref != "" {
			return ref
		}
	}
	return ""
}

func (p *webhookPayload) rawStatus() string {
	for _, status := range []string{p.Status, p.State, p.Result} {
		if status != "" {
			return status
		}
	}
	return ""
}

// POST /payments/webhook
func (h *PaymentHandler) Webhook(c *gin.Context) {
	var raw models.JSONB
	if err := c.ShouldBindJSON(&raw); err != nil {
		utils.BadRequestResponse(c, "Invalid webhook body", nil)
		return
	}

	payload := webhookFromJSONB(raw)
	if payload.providerReference() == "" {
		utils.BadRequestResponse(c, "Missing provider reference", nil)
		return
	}

	result, err := h.paymentService.Reconcile(c.Request.Context(), payload.providerReference(), payload.rawStatus(), raw)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	utils.SuccessResponse(c, result)
}

func webhookFromJSONB(raw models.JSONB) *webhookPayload {
	payload := &webhookPayload{}
	assign := func(key string, dst *string) {
		if value, ok := raw[key].(string); ok {
			*dst = value
		}
	}
	assign("reference", &payload.Reference)
	assign("transaction_id", &payload.TransactionID)
	assign("payment_id", &payload.PaymentID)
	assign("status", &payload.Status)
	assign("state", &payload.State)
	assign("result", &payload.Result)
	return payload
}
