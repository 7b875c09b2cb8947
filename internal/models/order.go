package models

import (
	"fmt"
	"strings"
	"time"

	"dukaan/internal/otp"
)

// OrderStatus is the lifecycle state of an order. The string values are persisted.
type OrderStatus string

const (
	StatusPending        OrderStatus = "PENDING"
	StatusProcessing     OrderStatus = "PROCESSING"
	StatusDriverAssigned OrderStatus = "DRIVER_ASSIGNED"
	StatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	StatusDelivered      OrderStatus = "DELIVERED"
	StatusCancelled      OrderStatus = "CANCELLED"
)

// ParseOrderStatus accepts the persisted values plus the legacy ACCEPTED alias of PROCESSING.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch v := OrderStatus(strings.ToUpper(strings.TrimSpace(s))); v {
	case StatusPending, StatusProcessing, StatusDriverAssigned, StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return v, nil
	case "ACCEPTED":
		return StatusProcessing, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// Terminal reports whether no further transition is legal.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// PaymentMethod is fixed at checkout.
type PaymentMethod string

const (
	PaymentUPI PaymentMethod = "UPI"
	PaymentCOD PaymentMethod = "COD"
)

// PaymentStatus is owned by the payment collaborator; the order ledger never changes it.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

// OrderItem is a line frozen at order time.
type OrderItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"` // Price at the time of order
}

// TimestampsLog records when each transition happened. Every field is written at most once.
type TimestampsLog struct {
	CreatedAt        time.Time  `json:"createdAt"`
	AcceptedAt       *time.Time `json:"acceptedAt,omitempty"`
	CancelledAt      *time.Time `json:"cancelledAt,omitempty"`
	OutForDeliveryAt *time.Time `json:"outForDeliveryAt,omitempty"`
	DeliveredAt      *time.Time `json:"deliveredAt,omitempty"`
}

// Order is the aggregate driven by the order ledger.
type Order struct {
	ID                string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Slug              string          `json:"slug" gorm:"uniqueIndex;type:varchar(160)"`
	CustomerID        string          `json:"customerId" gorm:"index;type:varchar(36)"`
	StoreID           string          `json:"storeId" gorm:"index;type:varchar(36)"`
	Items             []OrderItem     `json:"items" gorm:"serializer:json"`
	TotalAmount       float64         `json:"totalAmount"`
	PaymentMethod     PaymentMethod   `json:"paymentMethod" gorm:"type:varchar(8)"`
	PaymentStatus     PaymentStatus   `json:"paymentStatus" gorm:"type:varchar(8)"`
	Status            OrderStatus     `json:"status" gorm:"index;type:varchar(20)"`
	DeliveryPartnerID *string         `json:"deliveryPartnerId" gorm:"index;type:varchar(36)"`
	PickupOTP         otp.Code        `json:"-" gorm:"embedded;embeddedPrefix:pickup_otp_"`
	TimestampsLog     TimestampsLog   `json:"timestampsLog" gorm:"embedded;embeddedPrefix:ts_"`
	DeliveryAddress   AddressSnapshot `json:"deliveryAddress" gorm:"embedded;embeddedPrefix:delivery_"`
	CancelReason      string          `json:"cancelReason,omitempty" gorm:"type:varchar(200)"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// AssignedTo reports whether partnerID holds the order.
func (o *Order) AssignedTo(partnerID string) bool {
	return o.DeliveryPartnerID != nil && *o.DeliveryPartnerID == partnerID
}

// Claimable reports whether a delivery partner may still pick the order up.
func (o *Order) Claimable() bool {
	return o.Status == StatusProcessing && o.DeliveryPartnerID == nil
}
