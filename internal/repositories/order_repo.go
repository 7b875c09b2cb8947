package repositories

import (
	"context"
	"time"

	"dukaan/internal/apperr"
	"dukaan/internal/models"
	"dukaan/internal/otp"
)

// OrderFilter narrows List. Zero fields do not filter.
type OrderFilter struct {
	CustomerID        string
	StoreIDs          []string
	DeliveryPartnerID string
	Statuses          []models.OrderStatus
	Unassigned        bool
	Limit             int
}

// StatusChange describes one guarded status update. The timestamp stamped is
// chosen by To; fields it does not touch are left alone.
type StatusChange struct {
	To              models.OrderStatus
	At              time.Time
	PickupOTP       *otp.Code // issued on claim in the pickup-verified flow
	ExpectPickupOTP string    // compare-and-swap on the stored pickup code
	ClearPickupOTP  bool
	CancelReason    string
}

// OrderRepository defines the interface for order data access.
//
// Every mutating method is a single conditional update: it only applies when
// the stored order still matches the expected state, and it either applies
// completely (including the delivery partner row for Claim and
// CompleteDelivery) or not at all.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetBySlug(ctx context.Context, slug string) (*models.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	Transition(ctx context.Context, id string, from models.OrderStatus, change StatusChange) (*models.Order, error)
	Claim(ctx context.Context, orderID, partnerID string, change StatusChange) (*models.Order, error)
	CompleteDelivery(ctx context.Context, orderID, partnerID string, at time.Time) (*models.Order, error)
}

// applyChange mutates o in memory the same way the SQL implementations do.
func applyChange(o *models.Order, change StatusChange) {
	o.Status = change.To
	o.UpdatedAt = change.At
	at := change.At
	switch change.To {
	case models.StatusProcessing:
		o.TimestampsLog.AcceptedAt = &at
	case models.StatusCancelled:
		o.TimestampsLog.CancelledAt = &at
		o.CancelReason = change.CancelReason
	case models.StatusOutForDelivery:
		o.TimestampsLog.OutForDeliveryAt = &at
	case models.StatusDelivered:
		o.TimestampsLog.DeliveredAt = &at
	}
	if change.PickupOTP != nil {
		o.PickupOTP = *change.PickupOTP
	}
	if change.ClearPickupOTP {
		o.PickupOTP = otp.Code{}
	}
}

// stampColumn is the timestamps log column written when entering status.
func stampColumn(status models.OrderStatus) string {
	switch status {
	case models.StatusProcessing:
		return "ts_accepted_at"
	case models.StatusCancelled:
		return "ts_cancelled_at"
	case models.StatusOutForDelivery:
		return "ts_out_for_delivery_at"
	case models.StatusDelivered:
		return "ts_delivered_at"
	}
	return ""
}

func matchesFilter(o *models.Order, f OrderFilter) bool {
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if f.DeliveryPartnerID != "" && !o.AssignedTo(f.DeliveryPartnerID) {
		return false
	}
	if f.Unassigned && o.DeliveryPartnerID != nil {
		return false
	}
	if f.StoreIDs != nil && !containsString(f.StoreIDs, o.StoreID) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if o.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// transitionMiss explains why a conditional update on o matched no row.
func transitionMiss(o *models.Order, from models.OrderStatus) error {
	if o.Status != from {
		return apperr.New(apperr.KindInvalidStateTransition, "order %s is %s, expected %s", o.ID, o.Status, from)
	}
	return apperr.New(apperr.KindValidation, "pickup code for order %s does not match", o.ID)
}

func claimMiss(o *models.Order) error {
	if o.DeliveryPartnerID != nil {
		return apperr.New(apperr.KindAlreadyClaimed, "order %s was already claimed", o.ID)
	}
	return apperr.New(apperr.KindInvalidStateTransition, "order %s is %s, expected %s", o.ID, o.Status, models.StatusProcessing)
}

func deliveryMiss(o *models.Order, partnerID string) error {
	if !o.AssignedTo(partnerID) {
		return apperr.New(apperr.KindForbidden, "order %s is not assigned to delivery partner %s", o.ID, partnerID)
	}
	return apperr.New(apperr.KindInvalidStateTransition, "order %s is %s, expected %s", o.ID, o.Status, models.StatusOutForDelivery)
}
