// Package events carries committed order transitions to the notification side.
package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"dukaan/internal/models"
)

// OrderTransitioned is emitted once per committed order transition. Creation
// is reported with an empty PreviousStatus.
type OrderTransitioned struct {
	OrderID           string             `json:"orderId"`
	Slug              string             `json:"slug"`
	StoreID           string             `json:"storeId"`
	CustomerID        string             `json:"customerId"`
	DeliveryPartnerID string             `json:"deliveryPartnerId,omitempty"`
	PreviousStatus    models.OrderStatus `json:"previousStatus,omitempty"`
	NewStatus         models.OrderStatus `json:"newStatus"`
	Transition        string             `json:"transition"`
	ActorID           string             `json:"actorId"`
	OccurredAt        time.Time          `json:"occurredAt"`
}

// RoutingKey is the topic key the event is published under, e.g. order.out_for_delivery.
func (e OrderTransitioned) RoutingKey() string {
	return "order." + strings.ToLower(string(e.NewStatus))
}

// Sink receives committed transitions.
type Sink interface {
	Publish(ctx context.Context, event OrderTransitioned) error
}

// Publisher is a broker client that can ship a JSON payload.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey, key string, payload any) error
}

// BrokerSink adapts a broker Publisher to Sink, keyed by order ID so that all
// events of one order stay ordered on partitioned brokers.
type BrokerSink struct {
	pub Publisher
}

// NewBrokerSink wraps pub.
func NewBrokerSink(pub Publisher) *BrokerSink {
	return &BrokerSink{pub: pub}
}

func (s *BrokerSink) Publish(ctx context.Context, event OrderTransitioned) error {
	return s.pub.PublishJSON(ctx, event.RoutingKey(), event.OrderID, event)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, OrderTransitioned) error { return nil }

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []OrderTransitioned
}

func (r *Recorder) Publish(_ context.Context, event OrderTransitioned) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []OrderTransitioned {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OrderTransitioned(nil), r.events...)
}
