package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"dukaan/internal/apperr"
	"dukaan/internal/events"
	"dukaan/internal/metrics"
	"dukaan/internal/models"
	"dukaan/internal/otp"
	"dukaan/internal/repositories"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// slugAttempts bounds how many consecutive milliseconds CreateOrder tries
// before giving up on a free slug.
const slugAttempts = 5

// CreateOrderRequest is the checkout payload.
type CreateOrderRequest struct {
	StoreID       string               `json:"storeId" validate:"required"`
	AddressID     string               `json:"addressId" validate:"required"`
	Items         []CartLine           `json:"items" validate:"required,min=1,max=50,dive"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod" validate:"required,oneof=UPI COD"`
}

// ListScope selects which orders ListOrders returns.
type ListScope string

const (
	ScopeMine    ListScope = "mine"
	ScopeStore   ListScope = "store"
	ScopePending ListScope = "pending"
	ScopeActive  ListScope = "active"
)

// ListFilter is the query accepted by ListOrders.
type ListFilter struct {
	Scope   ListScope
	StoreID string
	Limit   int
}

// sourceStatus is the only status each transition may start from. CLAIM and
// DELIVER are handled by the assignment coordinator but follow the same table.
var sourceStatus = map[TransitionKind]models.OrderStatus{
	TransitionAccept:       models.StatusPending,
	TransitionCancel:       models.StatusPending,
	TransitionClaim:        models.StatusProcessing,
	TransitionVerifyPickup: models.StatusDriverAssigned,
	TransitionDeliver:      models.StatusOutForDelivery,
}

// OrderService is the order ledger: it owns order creation and every status change.
type OrderService struct {
	orders     repositories.OrderRepository
	catalog    *CatalogService
	guard      *Guard
	assignment *AssignmentService
	sink       events.Sink
	metrics    *metrics.Metrics
	validate   *validator.Validate
	opts       Options
	logger     *slog.Logger
}

// NewOrderService creates a new OrderService.
func NewOrderService(
	orders repositories.OrderRepository,
	catalog *CatalogService,
	guard *Guard,
	assignment *AssignmentService,
	sink events.Sink,
	m *metrics.Metrics,
	validate *validator.Validate,
	opts Options,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders:     orders,
		catalog:    catalog,
		guard:      guard,
		assignment: assignment,
		sink:       sink,
		metrics:    m,
		validate:   validate,
		opts:       opts,
		logger:     logger,
	}
}

// CreateOrder places a PENDING order for customer with the catalog prices of this moment.
func (s *OrderService) CreateOrder(ctx context.Context, customer models.Principal, req CreateOrderRequest) (*models.Order, error) {
	if !customer.Is(models.RoleCustomer) {
		return nil, apperr.New(apperr.KindForbidden, "only customers can place orders")
	}
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}

	address, err := s.catalog.customerAddress(ctx, customer.ID, req.AddressID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.New(apperr.KindValidation, "address %s is not in your address book", req.AddressID)
		}
		return nil, err
	}
	items, total, err := s.catalog.snapshotItems(ctx, req.StoreID, req.Items)
	if err != nil {
		return nil, err
	}

	now := s.opts.now()
	order := &models.Order{
		ID:              uuid.New().String(),
		CustomerID:      customer.ID,
		StoreID:         req.StoreID,
		Items:           items,
		TotalAmount:     total,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   models.PaymentPending,
		Status:          models.StatusPending,
		TimestampsLog:   models.TimestampsLog{CreatedAt: now},
		DeliveryAddress: address.AddressSnapshot,
		UpdatedAt:       now,
	}

	for attempt := 0; attempt < slugAttempts; attempt++ {
		order.Slug = NewSlug(items[0].Name, now.Add(time.Duration(attempt)*time.Millisecond))
		err = s.orders.Create(ctx, order)
		if err == nil || !errors.Is(err, apperr.ErrConflict) {
			break
		}
	}
	s.metrics.ObserveTransition("CREATE", err)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "order created", "order_id", order.ID, "slug", order.Slug, "store_id", order.StoreID, "total", order.TotalAmount)
	s.publish(ctx, customer, "CREATE", "", order)
	return order, nil
}

// ListOrders returns the orders visible to p under filter, newest first.
func (s *OrderService) ListOrders(ctx context.Context, p models.Principal, filter ListFilter) ([]models.Order, error) {
	q := repositories.OrderFilter{Limit: filter.Limit}

	switch p.Role {
	case models.RoleAdmin:
		if filter.StoreID != "" {
			q.StoreIDs = []string{filter.StoreID}
		}
	case models.RoleCustomer:
		if filter.Scope == ScopeStore {
			return nil, apperr.New(apperr.KindForbidden, "customers have no store orders")
		}
		q.CustomerID = p.ID
	case models.RoleStoreOwner:
		storeIDs, err := s.ownerStoreIDs(ctx, p, filter.StoreID)
		if err != nil {
			return nil, err
		}
		q.StoreIDs = storeIDs
	case models.RoleDelivery:
		if filter.Scope == ScopeStore {
			return nil, apperr.New(apperr.KindForbidden, "delivery partners have no store orders")
		}
		q.DeliveryPartnerID = p.ID
	default:
		return nil, apperr.New(apperr.KindForbidden, "unknown role %q", p.Role)
	}

	switch filter.Scope {
	case "", ScopeMine, ScopeStore:
	case ScopePending:
		q.Statuses = []models.OrderStatus{models.StatusPending}
	case ScopeActive:
		q.Statuses = []models.OrderStatus{
			models.StatusPending,
			models.StatusProcessing,
			models.StatusDriverAssigned,
			models.StatusOutForDelivery,
		}
	default:
		return nil, apperr.New(apperr.KindValidation, "unknown filter %q", filter.Scope)
	}

	return s.orders.List(ctx, q)
}

func (s *OrderService) ownerStoreIDs(ctx context.Context, p models.Principal, storeID string) ([]string, error) {
	stores, err := s.catalog.ListStores(ctx, p)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(stores))
	for _, st := range stores {
		if storeID == "" || st.ID == storeID {
			ids = append(ids, st.ID)
		}
	}
	if storeID != "" && len(ids) == 0 {
		return nil, apperr.New(apperr.KindForbidden, "store %s belongs to another owner", storeID)
	}
	return ids, nil
}

// GetOrder looks an order up by ID or slug. Orders p may not see are reported missing.
func (s *OrderService) GetOrder(ctx context.Context, p models.Principal, ref string) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, ref)
	if errors.Is(err, apperr.ErrNotFound) {
		order, err = s.orders.GetBySlug(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	visible, err := s.guard.CanView(ctx, p, order)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, apperr.New(apperr.KindNotFound, "order %s not found", ref)
	}
	return order, nil
}

// Transition applies req to the order on behalf of p. It is the single entry
// point for status changes: the guard runs first, then one conditional write,
// then the event is published.
func (s *OrderService) Transition(ctx context.Context, p models.Principal, orderID string, req TransitionRequest) (*models.Order, error) {
	kind := req.Kind()
	order, err := s.transition(ctx, p, orderID, req)
	s.metrics.ObserveTransition(string(kind), err)
	if err != nil {
		s.logger.InfoContext(ctx, "order transition rejected",
			"order_id", orderID, "transition", kind, "actor_id", p.ID, "kind", apperr.KindOf(err), "error", err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "order transitioned",
		"order_id", order.ID, "transition", kind, "status", order.Status, "actor_id", p.ID)
	s.publish(ctx, p, string(kind), sourceStatus[kind], order)
	return order, nil
}

func (s *OrderService) transition(ctx context.Context, p models.Principal, orderID string, req TransitionRequest) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(ctx, p, req.Kind(), order); err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, apperr.New(apperr.KindInvalidStateTransition, "order %s is already %s", order.ID, order.Status)
	}

	now := s.opts.now()
	switch r := req.(type) {
	case AcceptRequest:
		return s.orders.Transition(ctx, order.ID, models.StatusPending, repositories.StatusChange{
			To: models.StatusProcessing,
			At: now,
		})
	case CancelRequest:
		return s.orders.Transition(ctx, order.ID, models.StatusPending, repositories.StatusChange{
			To:           models.StatusCancelled,
			At:           now,
			CancelReason: r.Reason,
		})
	case VerifyPickupRequest:
		return s.verifyPickup(ctx, order, r.OTP, now)
	case ClaimRequest:
		return s.assignment.claim(ctx, p, order.ID)
	case DeliverRequest:
		return s.assignment.complete(ctx, p, order.ID)
	}
	return nil, apperr.New(apperr.KindValidation, "unsupported transition %s", req.Kind())
}

func (s *OrderService) verifyPickup(ctx context.Context, order *models.Order, code string, now time.Time) (*models.Order, error) {
	if order.Status != models.StatusDriverAssigned {
		return nil, apperr.New(apperr.KindInvalidStateTransition, "order %s is %s, expected %s", order.ID, order.Status, models.StatusDriverAssigned)
	}
	if err := order.PickupOTP.Consume(code, now); err != nil {
		switch {
		case errors.Is(err, otp.ErrExpired):
			return nil, apperr.Wrap(apperr.KindValidation, err, "pickup code for order %s has expired", order.ID)
		default:
			return nil, apperr.Wrap(apperr.KindValidation, err, "pickup code for order %s is not valid", order.ID)
		}
	}
	// The stored code is cleared in the same write, so it can only be used once.
	return s.orders.Transition(ctx, order.ID, models.StatusDriverAssigned, repositories.StatusChange{
		To:              models.StatusOutForDelivery,
		At:              now,
		ExpectPickupOTP: code,
		ClearPickupOTP:  true,
	})
}

// publish hands the committed change to the sink. The write already happened,
// so a failure is logged and counted but not returned.
func (s *OrderService) publish(ctx context.Context, actor models.Principal, transition string, from models.OrderStatus, order *models.Order) {
	event := events.OrderTransitioned{
		OrderID:        order.ID,
		Slug:           order.Slug,
		StoreID:        order.StoreID,
		CustomerID:     order.CustomerID,
		PreviousStatus: from,
		NewStatus:      order.Status,
		Transition:     transition,
		ActorID:        actor.ID,
		OccurredAt:     order.UpdatedAt,
	}
	if order.DeliveryPartnerID != nil {
		event.DeliveryPartnerID = *order.DeliveryPartnerID
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.opts.now()
	}
	if err := s.sink.Publish(ctx, event); err != nil {
		s.metrics.ObservePublishFailure()
		s.logger.ErrorContext(ctx, "failed to publish order event",
			"order_id", order.ID, "routing_key", event.RoutingKey(), "error", err)
	}
}

// NewSlug builds the human-readable order reference from the first item's
// name and the creation time, e.g. "masala-chai-lx2k9f3a".
func NewSlug(name string, at time.Time) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	base := strings.TrimRight(b.String(), "-")
	if base == "" {
		base = "order"
	}
	if len(base) > 120 {
		base = strings.TrimRight(base[:120], "-")
	}
	return base + "-" + strconv.FormatInt(at.UnixMilli(), 36)
}
