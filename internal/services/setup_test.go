package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"dukaan/internal/database"
	"dukaan/internal/events"
	"dukaan/internal/metrics"
	"dukaan/internal/models"
	"dukaan/internal/repositories"
	"dukaan/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingSink struct{}

func (failingSink) Publish(context.Context, events.OrderTransitioned) error {
	return errors.New("broker unreachable")
}

// ledgerEnv wires the services over an in-memory sqlite database with one
// approved store selling "Widget" at 50.00.
type ledgerEnv struct {
	db         *gorm.DB
	ledger     *services.OrderService
	assignment *services.AssignmentService
	catalog    *services.CatalogService
	partners   repositories.PartnerRepository
	stores     repositories.StoreRepository
	recorder   *events.Recorder
	metrics    *metrics.Metrics
	clock      *fakeClock

	admin    models.Principal
	owner    models.Principal
	customer models.Principal
	store    *models.Store
	widget   *models.Product
	address  *models.Address
}

type envOption func(*envConfig)

type envConfig struct {
	pickupOTP bool
	sink      events.Sink
}

func withPickupOTP() envOption { return func(c *envConfig) { c.pickupOTP = true } }

func withSink(s events.Sink) envOption { return func(c *envConfig) { c.sink = s } }

func newLedgerEnv(t *testing.T, opts ...envOption) *ledgerEnv {
	t.Helper()
	cfg := envConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	db, err := database.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	validate := validator.New()
	clock := &fakeClock{now: time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)}
	recorder := &events.Recorder{}
	var sink events.Sink = recorder
	if cfg.sink != nil {
		sink = cfg.sink
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, reg)

	orderRepo := repositories.NewGORMOrderRepository(db)
	partnerRepo := repositories.NewGORMPartnerRepository(db)
	storeRepo := repositories.NewGORMStoreRepository(db)
	productRepo := repositories.NewGORMProductRepository(db)
	addressRepo := repositories.NewGORMAddressRepository(db)

	ledgerOpts := services.Options{
		PickupOTPRequired: cfg.pickupOTP,
		PickupOTPTTL:      10 * time.Minute,
		Now:               clock.Now,
	}
	catalog := services.NewCatalogService(storeRepo, productRepo, addressRepo, validate)
	assignment := services.NewAssignmentService(orderRepo, partnerRepo, ledgerOpts, discardLogger)
	ledger := services.NewOrderService(orderRepo, catalog, services.NewGuard(storeRepo), assignment, sink, m, validate, ledgerOpts, discardLogger)

	env := &ledgerEnv{
		db:         db,
		ledger:     ledger,
		assignment: assignment,
		catalog:    catalog,
		partners:   partnerRepo,
		stores:     storeRepo,
		recorder:   recorder,
		metrics:    m,
		clock:      clock,
		admin:      models.Principal{ID: uuid.NewString(), Role: models.RoleAdmin, Approved: true, Active: true},
		owner:      models.Principal{ID: uuid.NewString(), Role: models.RoleStoreOwner, Approved: true, Active: true},
		customer:   models.Principal{ID: uuid.NewString(), Role: models.RoleCustomer, Approved: true, Active: true},
	}

	ctx := context.Background()
	env.store = env.newStore(t, env.owner)
	env.widget = &models.Product{Name: "Widget", Price: 50, Stock: 100}
	require.NoError(t, catalog.AddProduct(ctx, env.owner, env.store.ID, env.widget))
	env.address = &models.Address{AddressSnapshot: models.AddressSnapshot{
		Line1:      "12 MG Road",
		City:       "Pune",
		PostalCode: "411001",
		Phone:      "9876543210",
	}}
	require.NoError(t, catalog.AddAddress(ctx, env.customer, env.address))
	return env
}

func (e *ledgerEnv) newStore(t *testing.T, owner models.Principal) *models.Store {
	t.Helper()
	ctx := context.Background()
	store := &models.Store{Name: "Corner Shop"}
	require.NoError(t, e.catalog.CreateStore(ctx, owner, store))
	_, err := e.catalog.SetStoreApproval(ctx, e.admin, store.ID, true)
	require.NoError(t, err)
	return store
}

func (e *ledgerEnv) newPartner(t *testing.T) models.Principal {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, e.partners.Create(context.Background(), &models.DeliveryPartner{ID: id, IsApproved: true, IsActive: true}))
	return models.Principal{ID: id, Role: models.RoleDelivery, Approved: true, Active: true}
}

func (e *ledgerEnv) placeOrder(t *testing.T, quantity int) *models.Order {
	t.Helper()
	e.clock.Advance(time.Second)
	order, err := e.ledger.CreateOrder(context.Background(), e.customer, services.CreateOrderRequest{
		StoreID:       e.store.ID,
		AddressID:     e.address.ID,
		Items:         []services.CartLine{{ProductID: e.widget.ID, Quantity: quantity}},
		PaymentMethod: models.PaymentCOD,
	})
	require.NoError(t, err)
	return order
}

func (e *ledgerEnv) acceptedOrder(t *testing.T) *models.Order {
	t.Helper()
	order := e.placeOrder(t, 1)
	accepted, err := e.ledger.Transition(context.Background(), e.owner, order.ID, services.AcceptRequest{})
	require.NoError(t, err)
	return accepted
}
