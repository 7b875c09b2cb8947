package services

import (
	"context"
	"errors"
	"time"

	"dukaan/internal/apperr"
	"dukaan/internal/models"
	"dukaan/internal/repositories"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartLine is one requested product and quantity at checkout.
type CartLine struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=100"`
}

// CatalogService handles stores, their products and customer addresses.
type CatalogService struct {
	stores    repositories.StoreRepository
	products  repositories.ProductRepository
	addresses repositories.AddressRepository
	validate  *validator.Validate
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(stores repositories.StoreRepository, products repositories.ProductRepository, addresses repositories.AddressRepository, validate *validator.Validate) *CatalogService {
	return &CatalogService{
		stores:    stores,
		products:  products,
		addresses: addresses,
		validate:  validate,
	}
}

// CreateStore registers a store for owner. New stores wait for admin approval.
func (s *CatalogService) CreateStore(ctx context.Context, owner models.Principal, store *models.Store) error {
	if !owner.Is(models.RoleStoreOwner) {
		return apperr.New(apperr.KindForbidden, "only store owners can open stores")
	}
	if err := validateStruct(s.validate, store); err != nil {
		return err
	}
	store.ID = uuid.New().String()
	store.OwnerID = owner.ID
	store.IsApproved = false
	store.CreatedAt = time.Now()
	return s.stores.Create(ctx, store)
}

// ListStores returns the stores p may browse. Store owners and admins get
// the stores they own; everyone else gets the approved stores.
func (s *CatalogService) ListStores(ctx context.Context, p models.Principal) ([]models.Store, error) {
	switch p.Role {
	case models.RoleStoreOwner, models.RoleAdmin:
		return s.stores.ListByOwner(ctx, p.ID)
	}
	return s.stores.ListApproved(ctx)
}

// SetStoreApproval records an admin decision on a store.
func (s *CatalogService) SetStoreApproval(ctx context.Context, admin models.Principal, storeID string, approved bool) (*models.Store, error) {
	if !admin.Is(models.RoleAdmin) {
		return nil, apperr.New(apperr.KindForbidden, "only admins can approve stores")
	}
	return s.stores.SetApproval(ctx, storeID, approved)
}

// AddProduct adds a product to a store the principal owns.
func (s *CatalogService) AddProduct(ctx context.Context, owner models.Principal, storeID string, product *models.Product) error {
	if _, err := s.ownedStore(ctx, owner, storeID); err != nil {
		return err
	}
	if err := validateStruct(s.validate, product); err != nil {
		return err
	}
	now := time.Now()
	product.ID = uuid.New().String()
	product.StoreID = storeID
	product.CreatedAt = now
	product.UpdatedAt = now
	return s.products.Create(ctx, product)
}

// ListProducts returns the catalog of a store.
func (s *CatalogService) ListProducts(ctx context.Context, storeID string) ([]models.Product, error) {
	if _, err := s.stores.GetByID(ctx, storeID); err != nil {
		return nil, err
	}
	return s.products.ListByStore(ctx, storeID)
}

// UpdatePrice changes a product's price. Orders already placed keep the price they were created with.
func (s *CatalogService) UpdatePrice(ctx context.Context, owner models.Principal, productID string, price float64) (*models.Product, error) {
	if price <= 0 {
		return nil, apperr.New(apperr.KindValidation, "price must be positive")
	}
	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedStore(ctx, owner, product.StoreID); err != nil {
		return nil, err
	}
	product.Price = decimal.NewFromFloat(price).Round(2).InexactFloat64()
	product.UpdatedAt = time.Now()
	if err := s.products.Update(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

// DeleteProduct removes a product from its store's catalog.
func (s *CatalogService) DeleteProduct(ctx context.Context, owner models.Principal, productID string) error {
	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return err
	}
	if _, err := s.ownedStore(ctx, owner, product.StoreID); err != nil {
		return err
	}
	return s.products.Delete(ctx, productID)
}

// AddAddress saves an address in the customer's address book.
func (s *CatalogService) AddAddress(ctx context.Context, customer models.Principal, address *models.Address) error {
	if !customer.Is(models.RoleCustomer) {
		return apperr.New(apperr.KindForbidden, "only customers keep an address book")
	}
	if err := validateStruct(s.validate, address); err != nil {
		return err
	}
	address.ID = uuid.New().String()
	address.CustomerID = customer.ID
	address.CreatedAt = time.Now()
	return s.addresses.Create(ctx, address)
}

// customerAddress loads an address the customer owns. Other customers' addresses are reported missing.
func (s *CatalogService) customerAddress(ctx context.Context, customerID, addressID string) (*models.Address, error) {
	address, err := s.addresses.GetByID(ctx, addressID)
	if err != nil {
		return nil, err
	}
	if address.CustomerID != customerID {
		return nil, apperr.New(apperr.KindNotFound, "address %s not found", addressID)
	}
	return address, nil
}

// snapshotItems prices the cart against the current catalog of storeID.
// The returned items carry the unit price at this moment.
func (s *CatalogService) snapshotItems(ctx context.Context, storeID string, lines []CartLine) ([]models.OrderItem, float64, error) {
	store, err := s.stores.GetByID(ctx, storeID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, 0, apperr.New(apperr.KindValidation, "store %s does not exist", storeID)
		}
		return nil, 0, err
	}
	if !store.IsApproved {
		return nil, 0, apperr.New(apperr.KindValidation, "store %s is not accepting orders", storeID)
	}

	total := decimal.Zero
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		product, err := s.products.GetByID(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, 0, apperr.New(apperr.KindValidation, "product %s does not exist", line.ProductID)
			}
			return nil, 0, err
		}
		if product.StoreID != storeID {
			return nil, 0, apperr.New(apperr.KindValidation, "product %s is not sold by store %s", product.ID, storeID)
		}
		if product.Stock < line.Quantity {
			return nil, 0, apperr.New(apperr.KindValidation, "insufficient stock for product %s. Available: %d, Requested: %d", product.Name, product.Stock, line.Quantity)
		}

		unitPrice := decimal.NewFromFloat(product.Price).Round(2)
		total = total.Add(unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		items = append(items, models.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  line.Quantity,
			UnitPrice: unitPrice.InexactFloat64(),
		})
	}
	return items, total.Round(2).InexactFloat64(), nil
}

func (s *CatalogService) ownedStore(ctx context.Context, owner models.Principal, storeID string) (*models.Store, error) {
	if !owner.Is(models.RoleStoreOwner) {
		return nil, apperr.New(apperr.KindForbidden, "only store owners manage catalogs")
	}
	store, err := s.stores.GetByID(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if !store.OwnedBy(owner.ID) {
		return nil, apperr.New(apperr.KindForbidden, "store %s belongs to another owner", storeID)
	}
	return store, nil
}
