package repositories

import (
	"context"
	"errors"
	"time"

	"dukaan/internal/apperr"
	"dukaan/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMOrderRepository is a GORM implementation of OrderRepository.
type GORMOrderRepository struct {
	db *gorm.DB
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
func NewGORMOrderRepository(db *gorm.DB) *GORMOrderRepository {
	return &GORMOrderRepository{
		db: db,
	}
}

// Create inserts a new order. A slug collision is reported as KindConflict.
func (r *GORMOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Wrap(apperr.KindConflict, err, "order slug %s already exists", order.Slug)
		}
		return apperr.Storage(err, "failed to create order")
	}
	return nil
}

// GetByID retrieves a single order by its ID.
func (r *GORMOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	return findOrder(r.db.WithContext(ctx), "id = ?", id)
}

// GetBySlug retrieves a single order by its slug.
func (r *GORMOrderRepository) GetBySlug(ctx context.Context, slug string) (*models.Order, error) {
	return findOrder(r.db.WithContext(ctx), "slug = ?", slug)
}

// List returns orders matching filter, newest first.
func (r *GORMOrderRepository) List(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	q := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.CustomerID != "" {
		q = q.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.StoreIDs != nil {
		q = q.Where("store_id IN ?", filter.StoreIDs)
	}
	if filter.DeliveryPartnerID != "" {
		q = q.Where("delivery_partner_id = ?", filter.DeliveryPartnerID)
	}
	if filter.Unassigned {
		q = q.Where("delivery_partner_id IS NULL")
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var orders []models.Order
	if err := q.Order("ts_created_at DESC").Find(&orders).Error; err != nil {
		return nil, apperr.Storage(err, "failed to list orders")
	}
	return orders, nil
}

// Transition applies change only while the order is still in status from.
func (r *GORMOrderRepository) Transition(ctx context.Context, id string, from models.OrderStatus, change StatusChange) (*models.Order, error) {
	var out *models.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Order{}).Where("id = ? AND status = ?", id, from)
		if change.ExpectPickupOTP != "" {
			q = q.Where("pickup_otp_value = ?", change.ExpectPickupOTP)
		}
		res := q.Updates(changeColumns(change))
		if res.Error != nil {
			return apperr.Storage(res.Error, "failed to update order %s", id)
		}
		if res.RowsAffected == 0 {
			return explainMiss(tx, id, from)
		}
		o, err := findOrder(tx, "id = ?", id)
		out = o
		return err
	})
	return out, err
}

// Claim assigns the order to the partner and points the partner at the order
// in one transaction. The partner row is updated first so that a partner
// racing itself across two orders loses on current_order_id, and the order
// row is updated with a compare on delivery_partner_id so that two partners
// racing for one order cannot both win.
func (r *GORMOrderRepository) Claim(ctx context.Context, orderID, partnerID string, change StatusChange) (*models.Order, error) {
	var out *models.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var partner models.DeliveryPartner
		if err := tx.First(&partner, "id = ?", partnerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.KindNotFound, "delivery partner %s not found", partnerID)
			}
			return apperr.Storage(err, "failed to load delivery partner %s", partnerID)
		}
		if !partner.IsApproved || !partner.IsActive {
			return apperr.New(apperr.KindForbidden, "delivery partner %s is not available for orders", partnerID)
		}

		res := tx.Model(&models.DeliveryPartner{}).
			Where("id = ? AND current_order_id IS NULL AND is_active = ?", partnerID, true).
			Updates(map[string]any{
				"current_order_id": orderID,
				"stats_accepted":   gorm.Expr("stats_accepted + 1"),
				"updated_at":       change.At,
			})
		if res.Error != nil {
			return apperr.Storage(res.Error, "failed to update delivery partner %s", partnerID)
		}
		if res.RowsAffected == 0 {
			return apperr.New(apperr.KindPartnerBusy, "delivery partner %s already has an active order", partnerID)
		}

		cols := changeColumns(change)
		cols["delivery_partner_id"] = partnerID
		res = tx.Model(&models.Order{}).
			Where("id = ? AND status = ? AND delivery_partner_id IS NULL", orderID, models.StatusProcessing).
			Updates(cols)
		if res.Error != nil {
			return apperr.Storage(res.Error, "failed to claim order %s", orderID)
		}
		if res.RowsAffected == 0 {
			o, err := findOrder(tx, "id = ?", orderID)
			if err != nil {
				return err
			}
			return claimMiss(o)
		}

		o, err := findOrder(tx, "id = ?", orderID)
		out = o
		return err
	})
	return out, err
}

// CompleteDelivery marks the order delivered and releases the partner in one transaction.
func (r *GORMOrderRepository) CompleteDelivery(ctx context.Context, orderID, partnerID string, at time.Time) (*models.Order, error) {
	var out *models.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ? AND delivery_partner_id = ?", orderID, models.StatusOutForDelivery, partnerID).
			Updates(changeColumns(StatusChange{To: models.StatusDelivered, At: at}))
		if res.Error != nil {
			return apperr.Storage(res.Error, "failed to deliver order %s", orderID)
		}
		if res.RowsAffected == 0 {
			o, err := findOrder(tx, "id = ?", orderID)
			if err != nil {
				return err
			}
			return deliveryMiss(o, partnerID)
		}

		if err := tx.Model(&models.DeliveryPartner{}).
			Where("id = ?", partnerID).
			Updates(map[string]any{
				"stats_delivered": gorm.Expr("stats_delivered + 1"),
				"updated_at":      at,
			}).Error; err != nil {
			return apperr.Storage(err, "failed to update delivery partner %s", partnerID)
		}
		if err := tx.Model(&models.DeliveryPartner{}).
			Where("id = ? AND current_order_id = ?", partnerID, orderID).
			Update("current_order_id", nil).Error; err != nil {
			return apperr.Storage(err, "failed to release delivery partner %s", partnerID)
		}

		o, err := findOrder(tx, "id = ?", orderID)
		out = o
		return err
	})
	return out, err
}

func findOrder(db *gorm.DB, query string, arg string) (*models.Order, error) {
	var order models.Order
	if err := db.First(&order, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "order %s not found", arg)
		}
		return nil, apperr.Storage(err, "failed to get order %s", arg)
	}
	return &order, nil
}

func changeColumns(change StatusChange) map[string]any {
	cols := map[string]any{
		"status":     string(change.To),
		"updated_at": change.At,
	}
	if col := stampColumn(change.To); col != "" {
		cols[col] = change.At
	}
	if change.To == models.StatusCancelled {
		cols["cancel_reason"] = change.CancelReason
	}
	if change.PickupOTP != nil {
		cols["pickup_otp_value"] = change.PickupOTP.Value
		cols["pickup_otp_expires_at"] = change.PickupOTP.ExpiresAt
		cols["pickup_otp_consumed_at"] = nil
	}
	if change.ClearPickupOTP {
		cols["pickup_otp_value"] = ""
		cols["pickup_otp_expires_at"] = nil
		cols["pickup_otp_consumed_at"] = nil
	}
	return cols
}

func explainMiss(db *gorm.DB, id string, from models.OrderStatus) error {
	o, err := findOrder(db, "id = ?", id)
	if err != nil {
		return err
	}
	return transitionMiss(o, from)
}
