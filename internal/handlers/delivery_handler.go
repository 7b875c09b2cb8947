package handlers

import (
	"log/slog"

	"dukaan/internal/middleware"
	"dukaan/internal/models"
	"dukaan/internal/services"

	"github.com/gofiber/fiber/v2"
)

// DeliveryHandler serves the delivery partner app.
type DeliveryHandler struct {
	orders     *services.OrderService
	assignment *services.AssignmentService
	logger     *slog.Logger
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(orders *services.OrderService, assignment *services.AssignmentService, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{
		orders:     orders,
		assignment: assignment,
		logger:     logger,
	}
}

// RegisterRoutes registers the delivery routes. They expect AuthRequired upstream.
func (h *DeliveryHandler) RegisterRoutes(router fiber.Router) {
	deliveryRoutes := router.Group("/delivery", middleware.RequireRoles(models.RoleDelivery))
	deliveryRoutes.Get("/me", h.HandleProfile)
	deliveryRoutes.Patch("/availability", h.HandleAvailability)
	deliveryRoutes.Get("/orders/available", h.HandleAvailable)
	deliveryRoutes.Post("/orders/:id/claim", h.HandleClaim)
	deliveryRoutes.Post("/orders/:id/deliver", h.HandleDeliver)
	deliveryRoutes.Post("/orders/:id/ignore", h.HandleIgnore)
	deliveryRoutes.Post("/orders/:id/pickup-code", h.HandleRefreshPickupCode)
}

// HandleProfile returns the partner's profile and the order they hold.
func (h *DeliveryHandler) HandleProfile(c *fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	partner, current, err := h.assignment.Profile(c.UserContext(), p)
	if err != nil {
		return respondError(c, h.logger, "Could not load delivery profile", err)
	}
	body := fiber.Map{"partner": partner}
	if current != nil {
		body["currentOrder"] = viewFor(p, current)
	}
	return c.JSON(body)
}

// HandleAvailability toggles whether the partner is taking orders.
func (h *DeliveryHandler) HandleAvailability(c *fiber.Ctx) error {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if req.Active == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Field 'active' is required",
		})
	}
	partner, err := h.assignment.SetAvailability(c.UserContext(), middleware.CurrentPrincipal(c), *req.Active)
	if err != nil {
		return respondError(c, h.logger, "Could not update availability", err)
	}
	return c.JSON(partner)
}

// HandleAvailable lists orders the partner could claim now.
func (h *DeliveryHandler) HandleAvailable(c *fiber.Ctx) error {
	orders, err := h.assignment.ListAvailable(c.UserContext(), middleware.CurrentPrincipal(c))
	if err != nil {
		return respondError(c, h.logger, "Could not list available orders", err)
	}
	return c.JSON(orders)
}

// HandleClaim takes an available order.
func (h *DeliveryHandler) HandleClaim(c *fiber.Ctx) error {
	return h.transition(c, services.ClaimRequest{})
}

// HandleDeliver completes the partner's current order.
func (h *DeliveryHandler) HandleDeliver(c *fiber.Ctx) error {
	return h.transition(c, services.DeliverRequest{})
}

// HandleIgnore passes on an available order.
func (h *DeliveryHandler) HandleIgnore(c *fiber.Ctx) error {
	if err := h.assignment.Ignore(c.UserContext(), middleware.CurrentPrincipal(c), c.Params("id")); err != nil {
		return respondError(c, h.logger, "Could not ignore order", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleRefreshPickupCode issues a new pickup code for a held order.
func (h *DeliveryHandler) HandleRefreshPickupCode(c *fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	order, err := h.assignment.RefreshPickupCode(c.UserContext(), p, c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, "Could not refresh pickup code", err)
	}
	return c.JSON(viewFor(p, order))
}

func (h *DeliveryHandler) transition(c *fiber.Ctx, req services.TransitionRequest) error {
	p := middleware.CurrentPrincipal(c)
	order, err := h.orders.Transition(c.UserContext(), p, c.Params("id"), req)
	if err != nil {
		return respondError(c, h.logger, "Order transition failed", err)
	}
	return c.JSON(viewFor(p, order))
}
