package repositories

import (
	"context"

	"dukaan/internal/models"
)

// StoreRepository defines the interface for store data access.
type StoreRepository interface {
	Create(ctx context.Context, store *models.Store) error
	GetByID(ctx context.Context, id string) (*models.Store, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Store, error)
	ListApproved(ctx context.Context) ([]models.Store, error)
	SetApproval(ctx context.Context, id string, approved bool) (*models.Store, error)
}

// AddressRepository defines the interface for the customer address book.
type AddressRepository interface {
	Create(ctx context.Context, address *models.Address) error
	GetByID(ctx context.Context, id string) (*models.Address, error)
}
