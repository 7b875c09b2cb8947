package handlers

import (
	"log/slog"

	"dukaan/internal/middleware"
	"dukaan/internal/models"
	"dukaan/internal/services"

	"github.com/gofiber/fiber/v2"
)

// AdminHandler exposes approval and maintenance endpoints.
type AdminHandler struct {
	catalog    *services.CatalogService
	assignment *services.AssignmentService
	logger     *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(catalog *services.CatalogService, assignment *services.AssignmentService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		catalog:    catalog,
		assignment: assignment,
		logger:     logger,
	}
}

// RegisterRoutes registers the admin routes. They expect AuthRequired upstream.
func (h *AdminHandler) RegisterRoutes(router fiber.Router) {
	adminRoutes := router.Group("/admin", middleware.RequireRoles(models.RoleAdmin))
	adminRoutes.Patch("/partners/:id/approval", h.HandlePartnerApproval)
	adminRoutes.Patch("/stores/:id/approval", h.HandleStoreApproval)
	adminRoutes.Post("/reconcile", h.HandleReconcile)
}

type approvalRequest struct {
	Approved *bool `json:"approved"`
}

func missingApproval(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Field 'approved' is required",
	})
}

// HandlePartnerApproval approves or suspends a delivery partner.
func (h *AdminHandler) HandlePartnerApproval(c *fiber.Ctx) error {
	var req approvalRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if req.Approved == nil {
		return missingApproval(c)
	}
	partner, err := h.assignment.SetPartnerApproval(c.UserContext(), middleware.CurrentPrincipal(c), c.Params("id"), *req.Approved)
	if err != nil {
		return respondError(c, h.logger, "Could not update partner approval", err)
	}
	return c.JSON(partner)
}

// HandleStoreApproval approves or suspends a store.
func (h *AdminHandler) HandleStoreApproval(c *fiber.Ctx) error {
	var req approvalRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if req.Approved == nil {
		return missingApproval(c)
	}
	store, err := h.catalog.SetStoreApproval(c.UserContext(), middleware.CurrentPrincipal(c), c.Params("id"), *req.Approved)
	if err != nil {
		return respondError(c, h.logger, "Could not update store approval", err)
	}
	return c.JSON(store)
}

// HandleReconcile releases stale partner assignments.
func (h *AdminHandler) HandleReconcile(c *fiber.Ctx) error {
	released, err := h.assignment.Reconcile(c.UserContext(), middleware.CurrentPrincipal(c))
	if err != nil {
		return respondError(c, h.logger, "Reconcile failed", err)
	}
	return c.JSON(fiber.Map{
		"released": released,
	})
}
