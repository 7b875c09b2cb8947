package repositories

import (
	"context"

	"dukaan/internal/models"
)

// ProductRepository defines the interface for catalog data access.
type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*models.Product, error)
	ListByStore(ctx context.Context, storeID string) ([]models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	Update(ctx context.Context, product *models.Product) error
	Delete(ctx context.Context, id string) error
}
