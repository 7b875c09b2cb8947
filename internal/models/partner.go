package models

import "time"

// PartnerStats are the counters kept per delivery partner.
type PartnerStats struct {
	Accepted  int     `json:"accepted"`
	Delivered int     `json:"delivered"`
	Ignored   int     `json:"ignored"`
	Rating    float64 `json:"rating"`
}

// DeliveryPartner is the delivery-side profile of a user with the delivery role.
// CurrentOrderID is non-nil exactly while the partner holds an order that is
// DRIVER_ASSIGNED or OUT_FOR_DELIVERY.
type DeliveryPartner struct {
	ID             string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	IsApproved     bool         `json:"isApproved"`
	IsActive       bool         `json:"isActive"`
	CurrentOrderID *string      `json:"currentOrderId" gorm:"index;type:varchar(36)"`
	Stats          PartnerStats `json:"stats" gorm:"embedded;embeddedPrefix:stats_"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Busy reports whether the partner already holds an order.
func (p *DeliveryPartner) Busy() bool {
	return p.CurrentOrderID != nil
}
