// Package server assembles repositories, services and handlers into a Fiber app.
package server

import (
	"context"
	"log/slog"
	"time"

	"dukaan/internal/config"
	"dukaan/internal/events"
	"dukaan/internal/handlers"
	"dukaan/internal/metrics"
	"dukaan/internal/middleware"
	"dukaan/internal/repositories"
	"dukaan/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"
)

// Server is the wired application.
type Server struct {
	App        *fiber.App
	Auth       *services.AuthService
	Orders     *services.OrderService
	Assignment *services.AssignmentService
	Catalog    *services.CatalogService
}

// New wires every component over db. Events go to sink after each committed transition.
func New(cfg *config.Config, db *gorm.DB, sink events.Sink, m *metrics.Metrics, log *slog.Logger) *Server {
	validate := validator.New()

	// --- Initialize Repositories ---
	userRepo := repositories.NewGORMUserRepository(db)
	partnerRepo := repositories.NewGORMPartnerRepository(db)
	storeRepo := repositories.NewGORMStoreRepository(db)
	productRepo := repositories.NewGORMProductRepository(db)
	addressRepo := repositories.NewGORMAddressRepository(db)
	orderRepo := repositories.NewGORMOrderRepository(db)

	// --- Initialize Services ---
	opts := services.Options{
		PickupOTPRequired: cfg.PickupOTPRequired,
		PickupOTPTTL:      cfg.PickupOTPTTL,
	}
	authService := services.NewAuthService(userRepo, partnerRepo, cfg.JWTSecret, cfg.TokenTTL, log)
	catalogService := services.NewCatalogService(storeRepo, productRepo, addressRepo, validate)
	assignmentService := services.NewAssignmentService(orderRepo, partnerRepo, opts, log)
	orderService := services.NewOrderService(orderRepo, catalogService, services.NewGuard(storeRepo), assignmentService, sink, m, validate, opts, log)

	// --- Initialize Fiber App ---
	app := fiber.New(fiber.Config{
		AppName:      "dukaan",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	// --- Middleware ---
	app.Use(logger.New()) // Request logger
	app.Use(m.Middleware())

	// --- Health Check Endpoint ---
	app.Get("/health", func(c *fiber.Ctx) error {
		code, health, dbStatus := fiber.StatusOK, "healthy", "connected"
		if err := ping(c.UserContext(), db); err != nil {
			code, health, dbStatus = fiber.StatusServiceUnavailable, "degraded", "unreachable"
		}
		return c.Status(code).JSON(fiber.Map{
			"status":   health,
			"time":     time.Now().Format(time.RFC3339),
			"database": dbStatus,
			"broker":   cfg.EventBroker,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	// --- API Routes ---
	apiV1 := app.Group("/api/v1")

	// Authentication routes (public)
	handlers.NewAuthHandler(authService, validate, log).RegisterRoutes(apiV1)

	// Protected routes (require JWT authentication)
	protected := apiV1.Group("", middleware.AuthRequired(authService, log))
	handlers.NewOrderHandler(orderService, validate, log).RegisterRoutes(protected)
	handlers.NewDeliveryHandler(orderService, assignmentService, log).RegisterRoutes(protected)
	handlers.NewCatalogHandler(catalogService, log).RegisterRoutes(protected)
	handlers.NewAdminHandler(catalogService, assignmentService, log).RegisterRoutes(protected)

	return &Server{
		App:        app,
		Auth:       authService,
		Orders:     orderService,
		Assignment: assignmentService,
		Catalog:    catalogService,
	}
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
