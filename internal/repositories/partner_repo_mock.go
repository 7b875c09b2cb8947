package repositories

import (
	"context"
	"sort"
	"time"

	"dukaan/internal/apperr"
	"dukaan/internal/models"
)

// Create adds a delivery partner profile.
func (r *MockPartnerRepository) Create(_ context.Context, partner *models.DeliveryPartner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.partners[partner.ID]; ok {
		return apperr.New(apperr.KindConflict, "delivery partner %s already exists", partner.ID)
	}
	r.partners[partner.ID] = *partner
	return nil
}

// GetByID returns a delivery partner by ID.
func (r *MockPartnerRepository) GetByID(_ context.Context, id string) (*models.DeliveryPartner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.partners[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "delivery partner %s not found", id)
	}
	return &p, nil
}

// SetApproval records an admin's approval decision.
func (r *MockPartnerRepository) SetApproval(_ context.Context, id string, approved bool) (*models.DeliveryPartner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.partners[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "delivery partner %s not found", id)
	}
	p.IsApproved = approved
	p.UpdatedAt = time.Now()
	r.partners[id] = p
	return &p, nil
}

// SetActive toggles availability. Going off duty is refused while an order is held.
func (r *MockPartnerRepository) SetActive(_ context.Context, id string, active bool) (*models.DeliveryPartner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.partners[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "delivery partner %s not found", id)
	}
	if !active && p.Busy() {
		return nil, apperr.New(apperr.KindInvalidStateTransition, "delivery partner %s holds order %s", id, *p.CurrentOrderID)
	}
	p.IsActive = active
	p.UpdatedAt = time.Now()
	r.partners[id] = p
	return &p, nil
}

// IncrementIgnored bumps the ignored counter.
func (r *MockPartnerRepository) IncrementIgnored(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.partners[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "delivery partner %s not found", id)
	}
	p.Stats.Ignored++
	r.partners[id] = p
	return nil
}

// ListHolding returns partners that currently point at an order.
func (r *MockPartnerRepository) ListHolding(_ context.Context) ([]models.DeliveryPartner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.DeliveryPartner
	for _, p := range r.partners {
		if p.Busy() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReleaseOrder clears CurrentOrderID if it still points at orderID.
func (r *MockPartnerRepository) ReleaseOrder(_ context.Context, partnerID, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.partners[partnerID]
	if !ok || p.CurrentOrderID == nil || *p.CurrentOrderID != orderID {
		return false, nil
	}
	p.CurrentOrderID = nil
	r.partners[partnerID] = p
	return true, nil
}
