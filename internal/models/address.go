package models

import "time"

// AddressSnapshot is the part of an address copied onto an order at checkout.
type AddressSnapshot struct {
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"omitempty,max=200"`
	City       string `json:"city" validate:"required,max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Phone      string `json:"phone" validate:"required,min=6,max=20"`
}

// Address is an entry in a customer's address book.
type Address struct {
	ID              string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CustomerID      string    `json:"customerId" gorm:"index;type:varchar(36)"`
	AddressSnapshot `gorm:"embedded"`
	CreatedAt       time.Time `json:"createdAt"`
}
