package handlers

import (
	"log/slog"

	"dukaan/internal/middleware"
	"dukaan/internal/models"
	"dukaan/internal/services"

	"github.com/gofiber/fiber/v2"
)

// CatalogHandler handles stores, products and the customer address book.
type CatalogHandler struct {
	service *services.CatalogService
	logger  *slog.Logger
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(service *services.CatalogService, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the catalog routes. They expect AuthRequired upstream.
func (h *CatalogHandler) RegisterRoutes(router fiber.Router) {
	ownerOnly := middleware.RequireRoles(models.RoleStoreOwner)

	storeRoutes := router.Group("/stores")
	storeRoutes.Get("/", h.HandleListStores)
	storeRoutes.Post("/", ownerOnly, h.HandleCreateStore)
	storeRoutes.Get("/:id/products", h.HandleListProducts)
	storeRoutes.Post("/:id/products", ownerOnly, h.HandleAddProduct)

	productRoutes := router.Group("/products")
	productRoutes.Patch("/:id/price", ownerOnly, h.HandleUpdatePrice)
	productRoutes.Delete("/:id", ownerOnly, h.HandleDeleteProduct)

	router.Post("/addresses", middleware.RequireRoles(models.RoleCustomer), h.HandleAddAddress)
}

// HandleListStores lists the caller's own stores, or the approved stores for shoppers.
func (h *CatalogHandler) HandleListStores(c *fiber.Ctx) error {
	stores, err := h.service.ListStores(c.UserContext(), middleware.CurrentPrincipal(c))
	if err != nil {
		return respondError(c, h.logger, "Could not retrieve stores", err)
	}
	return c.JSON(stores)
}

// HandleCreateStore opens a store pending admin approval.
func (h *CatalogHandler) HandleCreateStore(c *fiber.Ctx) error {
	var store models.Store
	if err := c.BodyParser(&store); err != nil {
		return badRequest(c, err)
	}
	if err := h.service.CreateStore(c.UserContext(), middleware.CurrentPrincipal(c), &store); err != nil {
		return respondError(c, h.logger, "Could not create store", err)
	}
	return c.Status(fiber.StatusCreated).JSON(store)
}

// HandleListProducts retrieves a store's catalog.
func (h *CatalogHandler) HandleListProducts(c *fiber.Ctx) error {
	products, err := h.service.ListProducts(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, "Could not retrieve products", err)
	}
	return c.JSON(products)
}

// HandleAddProduct adds a product to one of the caller's stores.
func (h *CatalogHandler) HandleAddProduct(c *fiber.Ctx) error {
	var product models.Product
	if err := c.BodyParser(&product); err != nil {
		return badRequest(c, err)
	}
	if err := h.service.AddProduct(c.UserContext(), middleware.CurrentPrincipal(c), c.Params("id"), &product); err != nil {
		return respondError(c, h.logger, "Could not create product", err)
	}
	return c.Status(fiber.StatusCreated).JSON(product)
}

// HandleUpdatePrice changes the price of a product. Placed orders are unaffected.
func (h *CatalogHandler) HandleUpdatePrice(c *fiber.Ctx) error {
	var req struct {
		Price float64 `json:"price"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	product, err := h.service.UpdatePrice(c.UserContext(), middleware.CurrentPrincipal(c), c.Params("id"), req.Price)
	if err != nil {
		return respondError(c, h.logger, "Could not update price", err)
	}
	return c.JSON(product)
}

// HandleDeleteProduct removes a product from the catalog.
func (h *CatalogHandler) HandleDeleteProduct(c *fiber.Ctx) error {
	if err := h.service.DeleteProduct(c.UserContext(), middleware.CurrentPrincipal(c), c.Params("id")); err != nil {
		return respondError(c, h.logger, "Could not delete product", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleAddAddress saves an address to the caller's address book.
func (h *CatalogHandler) HandleAddAddress(c *fiber.Ctx) error {
	var address models.Address
	if err := c.BodyParser(&address); err != nil {
		return badRequest(c, err)
	}
	if err := h.service.AddAddress(c.UserContext(), middleware.CurrentPrincipal(c), &address); err != nil {
		return respondError(c, h.logger, "Could not save address", err)
	}
	return c.Status(fiber.StatusCreated).JSON(address)
}
