// internal/handlers/order.go
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

type OrderHandler struct {
	orderService *services.OrderService
	authService  *services.AuthService
}

func NewOrderHandler(orderService *services.OrderService, authService *services.AuthService) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		authService:  authService,
	}
}

type TransitionRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason,omitempty"`
}

// GET /orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	actor, ok := h.loadActor(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	orders, total, err := h.orderService.ListOrders(actor, params)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	utils.PaginatedResponse(c, utils.CreatePaginationResult(orders, total, params))
}

// GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid order ID", nil)
		return
	}

	order, err := h.orderService.GetOrder(orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			utils.NotFoundResponse(c, "Order")
			return
		}
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	utils.SuccessResponse(c, order)
}

// PATCH /orders/:id/status
func (h *OrderHandler) TransitionOrder(c *gin.Context) {
	actor, ok := h.loadActor(c)
	if !ok {
		return
	}

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid order ID", nil)
		return
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.BadRequestResponse(c, "Validation failed", validationErrors)
		return
	}

	order, err := h.orderService.Transition(c.Request.Context(), orderID, models.OrderStatus(req.Status), actor, req.Reason)
	if err != nil {
		respondOrderError(c, err)
		return
	}

	utils.SuccessResponse(c, order)
}

func (h *OrderHandler) loadActor(c *gin.Context) (*models.User, bool) {
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

func respondOrderError(c *gin.Context, err error) {
	var transitionErr *services.InvalidTransitionError
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		utils.NotFoundResponse(c, "Order")
	case errors.Is(err, services.ErrUnauthorizedActor):
		utils.ForbiddenResponse(c, "")
	case errors.As(err, &transitionErr):
		utils.ErrorResponse(c, http.StatusConflict, "INVALID_TRANSITION", transitionErr.Error(), gin.H{
			"current_status":   transitionErr.From,
			"requested_status": transitionErr.To,
		})
	default:
		utils.InternalErrorResponse(c, err.Error())
	}
}
