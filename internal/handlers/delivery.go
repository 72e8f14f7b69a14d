// internal/handlers/delivery.go
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/farmlink/farmlink-backend/internal/models"
	"github.com/farmlink/farmlink-backend/internal/services"
	"github.com/farmlink/farmlink-backend/internal/utils"
)

type DeliveryHandler struct {
	deliveryService *services.DeliveryService
	authService     *services.AuthService
}

func NewDeliveryHandler(deliveryService *services.DeliveryService, authService *services.AuthService) *DeliveryHandler {
	return &DeliveryHandler{
		deliveryService: deliveryService,
		authService:     authService,
	}
}

type GenerateProofRequest struct {
	GPSLocation string `json:"gps_location,omitempty"`
}

type ConfirmProofRequest struct {
	Secret      string `json:"secret" validate:"required"`
	GPSLocation string `json:"gps_location,omitempty"`
}

// POST /orders/:id/delivery/proof
func (h *DeliveryHandler) GenerateProof(c *gin.Context) {
	actor, ok := h.loadActor(c)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid order ID", nil)
		return
	}

	var req GenerateProofRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	generated, err := h.deliveryService.Generate(c.Request.Context(), orderID, actor, req.GPSLocation)
	if err != nil {
		var transitionErr *services.InvalidTransitionError
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			utils.NotFoundResponse(c, "Order")
		case errors.Is(err, services.ErrUnauthorizedActor):
			utils.ForbiddenResponse(c, "")
		case errors.Is(err, services.ErrProofAlreadyConfirmed):
			utils.ConflictResponse(c, "Delivery already confirmed")
		case errors.As(err, &transitionErr):
			utils.ConflictResponse(c, "Order is not out for delivery")
		default:
			utils.InternalErrorResponse(c, err.Error())
		}
		return
	}

	// Plaintext code and token are returned exactly once.
	utils.CreatedResponse(c, generated)
}

// POST /orders/:id/delivery/confirm
func (h *DeliveryHandler) ConfirmDelivery(c *gin.Context) {
	actor, ok := h.loadActor(c)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid order ID", nil)
		return
	}

	var req ConfirmProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.BadRequestResponse(c, "Validation failed", validationErrors)
		return
	}

	result, err := h.deliveryService.Confirm(c.Request.Context(), orderID, req.Secret, actor, req.GPSLocation)
	if err != nil {
		// Proof-not-found and code mismatch render identically so the
		// endpoint leaks nothing about which orders exist.
		if errors.Is(err, services.ErrProofNotFound) || errors.Is(err, services.ErrInvalidCode) {
			utils.BadRequestResponse(c, "Invalid code", nil)
			return
		}
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	utils.SuccessResponse(c, result)
}

func (h *DeliveryHandler) loadActor(c *gin.Context) (*models.User, bool) {
	userIDStr, exists := utils.GetUserIDFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return nil, false
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid user ID", nil)
		return nil, false
	}

	actor, err := h.authService.GetUserByID(userID)
	if err != nil {
		utils.UnauthorizedResponse(c, "")
		return nil, false
	}

	return actor, true
}
