package services

import (
	"context"
	"errors"

	"dukaan/internal/apperr"
	"dukaan/internal/models"
	"dukaan/internal/repositories"
)

// Guard decides whether a principal may see or act on an order.
type Guard struct {
	stores repositories.StoreRepository
}

// NewGuard creates a Guard that resolves store ownership through stores.
func NewGuard(stores repositories.StoreRepository) *Guard {
	return &Guard{stores: stores}
}

// CanView reports whether the order is visible to p.
//
// Delivery partners see orders assigned to them and orders they could claim.
func (g *Guard) CanView(ctx context.Context, p models.Principal, o *models.Order) (bool, error) {
	switch p.Role {
	case models.RoleAdmin:
		return true, nil
	case models.RoleCustomer:
		return o.CustomerID == p.ID, nil
	case models.RoleStoreOwner:
		return g.ownsStore(ctx, p, o.StoreID)
	case models.RoleDelivery:
		return o.AssignedTo(p.ID) || o.Claimable(), nil
	}
	return false, nil
}

// Authorize checks that p may request kind on o. Orders p has no business
// knowing about yield NotFound; known orders p may not touch yield Forbidden.
func (g *Guard) Authorize(ctx context.Context, p models.Principal, kind TransitionKind, o *models.Order) error {
	switch p.Role {
	case models.RoleAdmin:
		switch kind {
		case TransitionAccept, TransitionCancel, TransitionVerifyPickup:
			return nil
		}
		return apperr.New(apperr.KindForbidden, "admins cannot %s orders", kind)

	case models.RoleStoreOwner:
		owns, err := g.ownsStore(ctx, p, o.StoreID)
		if err != nil {
			return err
		}
		if !owns {
			return apperr.New(apperr.KindForbidden, "order %s does not belong to your store", o.ID)
		}
		switch kind {
		case TransitionAccept, TransitionCancel, TransitionVerifyPickup:
			return nil
		}
		return apperr.New(apperr.KindForbidden, "store owners cannot %s orders", kind)

	case models.RoleDelivery:
		// Orders enter the delivery side once a store accepts them.
		if !o.AssignedTo(p.ID) && o.TimestampsLog.AcceptedAt == nil {
			return apperr.New(apperr.KindNotFound, "order %s not found", o.ID)
		}
		switch kind {
		case TransitionClaim:
			if !p.Approved {
				return apperr.New(apperr.KindForbidden, "delivery partner %s is not approved", p.ID)
			}
			return nil
		case TransitionDeliver:
			if !o.AssignedTo(p.ID) {
				return apperr.New(apperr.KindForbidden, "order %s is not assigned to you", o.ID)
			}
			return nil
		}
		return apperr.New(apperr.KindForbidden, "delivery partners cannot %s orders", kind)

	case models.RoleCustomer:
		if o.CustomerID != p.ID {
			return apperr.New(apperr.KindNotFound, "order %s not found", o.ID)
		}
		return apperr.New(apperr.KindForbidden, "customers cannot change order status")
	}
	return apperr.New(apperr.KindForbidden, "unknown role %q", p.Role)
}

func (g *Guard) ownsStore(ctx context.Context, p models.Principal, storeID string) (bool, error) {
	store, err := g.stores.GetByID(ctx, storeID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return store.OwnedBy(p.ID), nil
}
