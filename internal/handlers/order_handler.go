package handlers

import (
	"log/slog"

	"dukaan/internal/middleware"
	"dukaan/internal/models"
	"dukaan/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	service  *services.OrderService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(service *services.OrderService, validate *validator.Validate, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validate,
		logger:   logger,
	}
}

// RegisterRoutes registers the order routes. They expect AuthRequired upstream.
func (h *OrderHandler) RegisterRoutes(router fiber.Router) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Get("/", h.HandleListOrders)
	orderRoutes.Get("/:ref", h.HandleGetOrder)
	orderRoutes.Post("/", middleware.RequireRoles(models.RoleCustomer), h.HandleCreateOrder)
	orderRoutes.Post("/:id/transitions", h.HandleTransition)
}

// orderView adds the pickup code for the partner who must present it.
type orderView struct {
	*models.Order
	PickupOTP string `json:"pickupOtp,omitempty"`
}

func viewFor(p models.Principal, o *models.Order) orderView {
	v := orderView{Order: o}
	if o.Status == models.StatusDriverAssigned && o.AssignedTo(p.ID) {
		v.PickupOTP = o.PickupOTP.Value
	}
	return v
}

// HandleListOrders lists the caller's orders. Query: filter=mine|store|pending|active, store_id, limit.
func (h *OrderHandler) HandleListOrders(c *fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	orders, err := h.service.ListOrders(c.UserContext(), p, services.ListFilter{
		Scope:   services.ListScope(c.Query("filter")),
		StoreID: c.Query("store_id"),
		Limit:   c.QueryInt("limit", 100),
	})
	if err != nil {
		return respondError(c, h.logger, "Could not retrieve orders", err)
	}
	return c.JSON(orders)
}

// HandleGetOrder retrieves a single order by ID or slug.
func (h *OrderHandler) HandleGetOrder(c *fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	order, err := h.service.GetOrder(c.UserContext(), p, c.Params("ref"))
	if err != nil {
		return respondError(c, h.logger, "Could not retrieve order", err)
	}
	return c.JSON(viewFor(p, order))
}

// HandleCreateOrder places an order for the calling customer.
func (h *OrderHandler) HandleCreateOrder(c *fiber.Ctx) error {
	var req services.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}

	order, err := h.service.CreateOrder(c.UserContext(), middleware.CurrentPrincipal(c), req)
	if err != nil {
		return respondError(c, h.logger, "Could not create order", err)
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

// HandleTransition applies {"type": ..., "otp": ..., "reason": ...} to an order.
func (h *OrderHandler) HandleTransition(c *fiber.Ctx) error {
	req, err := services.DecodeTransition(c.Body(), h.validate)
	if err != nil {
		return respondError(c, h.logger, "Invalid transition", err)
	}
	return h.transition(c, c.Params("id"), req)
}

func (h *OrderHandler) transition(c *fiber.Ctx, orderID string, req services.TransitionRequest) error {
	p := middleware.CurrentPrincipal(c)
	order, err := h.service.Transition(c.UserContext(), p, orderID, req)
	if err != nil {
		return respondError(c, h.logger, "Order transition failed", err)
	}
	return c.JSON(viewFor(p, order))
}
