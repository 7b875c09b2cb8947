package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"dukaan/internal/apperr"
	"dukaan/internal/models"

	"github.com/google/uuid"
)

// memoryLedger is the state shared by the in-memory order and partner
// repositories. One mutex covers both maps, so cross-record updates are atomic.
type memoryLedger struct {
	mu       sync.RWMutex
	orders   map[string]models.Order
	partners map[string]models.DeliveryPartner
}

// MockOrderRepository is an in-memory implementation of OrderRepository.
type MockOrderRepository struct {
	*memoryLedger
}

// MockPartnerRepository is an in-memory implementation of PartnerRepository.
type MockPartnerRepository struct {
	*memoryLedger
}

// NewMockRepositories creates in-memory order and partner repositories backed by the same state.
func NewMockRepositories() (*MockOrderRepository, *MockPartnerRepository) {
	state := &memoryLedger{
		orders:   make(map[string]models.Order),
		partners: make(map[string]models.DeliveryPartner),
	}
	return &MockOrderRepository{state}, &MockPartnerRepository{state}
}

// Create adds a new order.
func (r *MockOrderRepository) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	for _, o := range r.orders {
		if o.Slug == order.Slug {
			return apperr.New(apperr.KindConflict, "order slug %s already exists", order.Slug)
		}
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = time.Now()
	}
	r.orders[order.ID] = copyOrder(*order)
	return nil
}

// GetByID returns an order by its ID.
func (r *MockOrderRepository) GetByID(_ context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(id)
}

// GetBySlug returns an order by its slug.
func (r *MockOrderRepository) GetBySlug(_ context.Context, slug string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if o.Slug == slug {
			out := copyOrder(o)
			return &out, nil
		}
	}
	return nil, apperr.New(apperr.KindNotFound, "order %s not found", slug)
}

// List returns orders matching filter, newest first.
func (r *MockOrderRepository) List(_ context.Context, filter OrderFilter) ([]models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orderList := make([]models.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if matchesFilter(&o, filter) {
			orderList = append(orderList, copyOrder(o))
		}
	}
	sort.Slice(orderList, func(i, j int) bool {
		return orderList[i].TimestampsLog.CreatedAt.After(orderList[j].TimestampsLog.CreatedAt)
	})
	if filter.Limit > 0 && len(orderList) > filter.Limit {
		orderList = orderList[:filter.Limit]
	}
	return orderList, nil
}

// Transition applies change only while the order is still in status from.
func (r *MockOrderRepository) Transition(_ context.Context, id string, from models.OrderStatus, change StatusChange) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "order %s not found", id)
	}
	if o.Status != from || (change.ExpectPickupOTP != "" && o.PickupOTP.Value != change.ExpectPickupOTP) {
		return nil, transitionMiss(&o, from)
	}
	applyChange(&o, change)
	r.orders[id] = o
	out := copyOrder(o)
	return &out, nil
}

// Claim assigns the order to the partner and points the partner at the order.
func (r *MockOrderRepository) Claim(_ context.Context, orderID, partnerID string, change StatusChange) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.partners[partnerID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "delivery partner %s not found", partnerID)
	}
	if !p.IsApproved || !p.IsActive {
		return nil, apperr.New(apperr.KindForbidden, "delivery partner %s is not available for orders", partnerID)
	}
	if p.Busy() {
		return nil, apperr.New(apperr.KindPartnerBusy, "delivery partner %s already has an active order", partnerID)
	}
	o, ok := r.orders[orderID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "order %s not found", orderID)
	}
	if !o.Claimable() {
		return nil, claimMiss(&o)
	}

	id := orderID
	p.CurrentOrderID = &id
	p.Stats.Accepted++
	p.UpdatedAt = change.At
	pid := partnerID
	o.DeliveryPartnerID = &pid
	applyChange(&o, change)

	r.partners[partnerID] = p
	r.orders[orderID] = o
	out := copyOrder(o)
	return &out, nil
}

// CompleteDelivery marks the order delivered and releases the partner.
func (r *MockOrderRepository) CompleteDelivery(_ context.Context, orderID, partnerID string, at time.Time) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "order %s not found", orderID)
	}
	if o.Status != models.StatusOutForDelivery || !o.AssignedTo(partnerID) {
		return nil, deliveryMiss(&o, partnerID)
	}
	applyChange(&o, StatusChange{To: models.StatusDelivered, At: at})
	r.orders[orderID] = o

	if p, ok := r.partners[partnerID]; ok {
		p.Stats.Delivered++
		if p.CurrentOrderID != nil && *p.CurrentOrderID == orderID {
			p.CurrentOrderID = nil
		}
		p.UpdatedAt = at
		r.partners[partnerID] = p
	}
	out := copyOrder(o)
	return &out, nil
}

func (r *memoryLedger) get(id string) (*models.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "order %s not found", id)
	}
	out := copyOrder(o)
	return &out, nil
}

// copyOrder detaches the items slice so callers cannot mutate stored state.
func copyOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderItem(nil), o.Items...)
	return o
}
