package repositories

import (
	"context"
	"errors"

	"dukaan/internal/apperr"
	"dukaan/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GORMProductRepository is a GORM implementation of ProductRepository.
type GORMProductRepository struct {
	db *gorm.DB
}

// NewGORMProductRepository creates a new instance of GORMProductRepository.
func NewGORMProductRepository(db *gorm.DB) *GORMProductRepository {
	return &GORMProductRepository{
		db: db,
	}
}

// GetByID retrieves a single product by its ID from the database.
func (r *GORMProductRepository) GetByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "product with ID %s not found", id)
		}
		return nil, apperr.Storage(err, "failed to get product by ID %s", id)
	}
	return &product, nil
}

// ListByStore retrieves the catalog of one store.
func (r *GORMProductRepository) ListByStore(ctx context.Context, storeID string) ([]models.Product, error) {
	var products []models.Product
	if err := r.db.WithContext(ctx).Where("store_id = ?", storeID).Order("name").Find(&products).Error; err != nil {
		return nil, apperr.Storage(err, "failed to list products for store %s", storeID)
	}
	return products, nil
}

// Create creates a new product in the database.
func (r *GORMProductRepository) Create(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(product).Error; err != nil {
		return apperr.Storage(err, "failed to create product")
	}
	return nil
}

// Update updates an existing product in the database.
func (r *GORMProductRepository) Update(ctx context.Context, product *models.Product) error {
	res := r.db.WithContext(ctx).Save(product) // Save will update all fields, including zero values
	if res.Error != nil {
		return apperr.Storage(res.Error, "failed to update product")
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "product with ID %s not found for update", product.ID)
	}
	return nil
}

// Delete deletes a product by its ID from the database.
func (r *GORMProductRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&models.Product{}, "id = ?", id)
	if res.Error != nil {
		return apperr.Storage(res.Error, "failed to delete product")
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "product with ID %s not found for deletion", id)
	}
	return nil
}
