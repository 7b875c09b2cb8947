package repositories

import (
	"context"

	"dukaan/internal/models"
)

// PartnerRepository defines the interface for delivery partner data access.
// Assignment fields are only written through OrderRepository.Claim and
// CompleteDelivery, or released by ReleaseOrder.
type PartnerRepository interface {
	Create(ctx context.Context, partner *models.DeliveryPartner) error
	GetByID(ctx context.Context, id string) (*models.DeliveryPartner, error)
	SetApproval(ctx context.Context, id string, approved bool) (*models.DeliveryPartner, error)
	SetActive(ctx context.Context, id string, active bool) (*models.DeliveryPartner, error)
	IncrementIgnored(ctx context.Context, id string) error
	ListHolding(ctx context.Context) ([]models.DeliveryPartner, error)
	ReleaseOrder(ctx context.Context, partnerID, orderID string) (bool, error)
}
