package models

import "time"

// Store is owned by exactly one store owner and groups the products orders are placed against.
type Store struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OwnerID    string    `json:"ownerId" gorm:"index;type:varchar(36)"`
	Name       string    `json:"name" gorm:"type:varchar(100)" validate:"required,min=3,max=100"`
	IsApproved bool      `json:"isApproved"`
	CreatedAt  time.Time `json:"createdAt"`
}

// OwnedBy reports whether userID owns the store.
func (s *Store) OwnedBy(userID string) bool {
	return s != nil && s.OwnerID == userID
}

// Product represents a product in a store's catalog.
type Product struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)" validate:"omitempty,uuid"`
	StoreID     string    `json:"storeId" gorm:"index;type:varchar(36)"`
	Name        string    `json:"name" validate:"required,min=3,max=100"`
	Description string    `json:"description" validate:"omitempty,max=500"`
	Price       float64   `json:"price" validate:"required,gt=0"`
	Stock       int       `json:"stock" validate:"gte=0"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
