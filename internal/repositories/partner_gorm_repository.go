package repositories

import (
	"context"
	"errors"
	"time"

	"dukaan/internal/apperr"
	"dukaan/internal/models"

	"gorm.io/gorm"
)

// GORMPartnerRepository is a GORM implementation of PartnerRepository.
type GORMPartnerRepository struct {
	db *gorm.DB
}

// NewGORMPartnerRepository creates a new instance of GORMPartnerRepository.
func NewGORMPartnerRepository(db *gorm.DB) *GORMPartnerRepository {
	return &GORMPartnerRepository{db: db}
}

// Create inserts a delivery partner profile.
func (r *GORMPartnerRepository) Create(ctx context.Context, partner *models.DeliveryPartner) error {
	if err := r.db.WithContext(ctx).Create(partner).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Wrap(apperr.KindConflict, err, "delivery partner %s already exists", partner.ID)
		}
		return apperr.Storage(err, "failed to create delivery partner")
	}
	return nil
}

// GetByID retrieves a delivery partner by ID.
func (r *GORMPartnerRepository) GetByID(ctx context.Context, id string) (*models.DeliveryPartner, error) {
	return findPartner(r.db.WithContext(ctx), id)
}

// SetApproval records an admin's approval decision.
func (r *GORMPartnerRepository) SetApproval(ctx context.Context, id string, approved bool) (*models.DeliveryPartner, error) {
	res := r.db.WithContext(ctx).Model(&models.DeliveryPartner{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_approved": approved, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, apperr.Storage(res.Error, "failed to update approval for delivery partner %s", id)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.New(apperr.KindNotFound, "delivery partner %s not found", id)
	}
	return findPartner(r.db.WithContext(ctx), id)
}

// SetActive toggles availability. Going off duty is refused while an order is held.
func (r *GORMPartnerRepository) SetActive(ctx context.Context, id string, active bool) (*models.DeliveryPartner, error) {
	q := r.db.WithContext(ctx).Model(&models.DeliveryPartner{}).Where("id = ?", id)
	if !active {
		q = q.Where("current_order_id IS NULL")
	}
	res := q.Updates(map[string]any{"is_active": active, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, apperr.Storage(res.Error, "failed to update availability for delivery partner %s", id)
	}
	if res.RowsAffected == 0 {
		p, err := findPartner(r.db.WithContext(ctx), id)
		if err != nil {
			return nil, err
		}
		if p.Busy() {
			return nil, apperr.New(apperr.KindInvalidStateTransition, "delivery partner %s holds order %s", id, *p.CurrentOrderID)
		}
		return p, nil
	}
	return findPartner(r.db.WithContext(ctx), id)
}

// IncrementIgnored bumps the ignored counter.
func (r *GORMPartnerRepository) IncrementIgnored(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&models.DeliveryPartner{}).
		Where("id = ?", id).
		Update("stats_ignored", gorm.Expr("stats_ignored + 1"))
	if res.Error != nil {
		return apperr.Storage(res.Error, "failed to update delivery partner %s", id)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "delivery partner %s not found", id)
	}
	return nil
}

// ListHolding returns partners that currently point at an order.
func (r *GORMPartnerRepository) ListHolding(ctx context.Context) ([]models.DeliveryPartner, error) {
	var partners []models.DeliveryPartner
	if err := r.db.WithContext(ctx).Where("current_order_id IS NOT NULL").Find(&partners).Error; err != nil {
		return nil, apperr.Storage(err, "failed to list delivery partners")
	}
	return partners, nil
}

// ReleaseOrder clears current_order_id if it still points at orderID.
func (r *GORMPartnerRepository) ReleaseOrder(ctx context.Context, partnerID, orderID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DeliveryPartner{}).
		Where("id = ? AND current_order_id = ?", partnerID, orderID).
		Update("current_order_id", nil)
	if res.Error != nil {
		return false, apperr.Storage(res.Error, "failed to release delivery partner %s", partnerID)
	}
	return res.RowsAffected > 0, nil
}

func findPartner(db *gorm.DB, id string) (*models.DeliveryPartner, error) {
	var partner models.DeliveryPartner
	if err := db.First(&partner, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "delivery partner %s not found", id)
		}
		return nil, apperr.Storage(err, "failed to get delivery partner %s", id)
	}
	return &partner, nil
}
