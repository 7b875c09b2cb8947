package repositories

import (
	"context"
	"errors"

	"dukaan/internal/apperr"
	"dukaan/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMStoreRepository is a GORM implementation of StoreRepository.
type GORMStoreRepository struct {
	db *gorm.DB
}

// NewGORMStoreRepository creates a new instance of GORMStoreRepository.
func NewGORMStoreRepository(db *gorm.DB) *GORMStoreRepository {
	return &GORMStoreRepository{db: db}
}

func (r *GORMStoreRepository) Create(ctx context.Context, store *models.Store) error {
	if store.ID == "" {
		store.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(store).Error; err != nil {
		return apperr.Storage(err, "failed to create store")
	}
	return nil
}

func (r *GORMStoreRepository) GetByID(ctx context.Context, id string) (*models.Store, error) {
	var store models.Store
	if err := r.db.WithContext(ctx).First(&store, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "store %s not found", id)
		}
		return nil, apperr.Storage(err, "failed to get store %s", id)
	}
	return &store, nil
}

func (r *GORMStoreRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Store, error) {
	stores := []models.Store{}
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Find(&stores).Error; err != nil {
		return nil, apperr.Storage(err, "failed to list stores for owner %s", ownerID)
	}
	return stores, nil
}

func (r *GORMStoreRepository) ListApproved(ctx context.Context) ([]models.Store, error) {
	stores := []models.Store{}
	if err := r.db.WithContext(ctx).Where("is_approved = ?", true).Order("name").Find(&stores).Error; err != nil {
		return nil, apperr.Storage(err, "failed to list approved stores")
	}
	return stores, nil
}

func (r *GORMStoreRepository) SetApproval(ctx context.Context, id string, approved bool) (*models.Store, error) {
	res := r.db.WithContext(ctx).Model(&models.Store{}).Where("id = ?", id).Update("is_approved", approved)
	if res.Error != nil {
		return nil, apperr.Storage(res.Error, "failed to update approval for store %s", id)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.New(apperr.KindNotFound, "store %s not found", id)
	}
	return r.GetByID(ctx, id)
}

// GORMAddressRepository is a GORM implementation of AddressRepository.
type GORMAddressRepository struct {
	db *gorm.DB
}

// NewGORMAddressRepository creates a new instance of GORMAddressRepository.
func NewGORMAddressRepository(db *gorm.DB) *GORMAddressRepository {
	return &GORMAddressRepository{db: db}
}

func (r *GORMAddressRepository) Create(ctx context.Context, address *models.Address) error {
	if address.ID == "" {
		address.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(address).Error; err != nil {
		return apperr.Storage(err, "failed to create address")
	}
	return nil
}

func (r *GORMAddressRepository) GetByID(ctx context.Context, id string) (*models.Address, error) {
	var address models.Address
	if err := r.db.WithContext(ctx).First(&address, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "address %s not found", id)
		}
		return nil, apperr.Storage(err, "failed to get address %s", id)
	}
	return &address, nil
}
