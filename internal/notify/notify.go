// Package notify turns committed order events into per-audience notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"dukaan/internal/events"
	"dukaan/internal/models"
)

// Audience is who a notification is addressed to.
type Audience string

const (
	AudienceCustomer Audience = "customer"
	AudienceStore    Audience = "store"
	AudiencePartner  Audience = "partner"
	// AudienceDispatch is the pool of on-duty delivery partners.
	AudienceDispatch Audience = "dispatch"
)

// Notification is one message for one recipient.
type Notification struct {
	Audience    Audience
	RecipientID string
	OrderID     string
	Text        string
}

// Deliverer pushes a notification to its recipient (websocket, push, SMS).
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogDeliverer writes notifications to the log.
type LogDeliverer struct {
	Logger *slog.Logger
}

func (d LogDeliverer) Deliver(ctx context.Context, n Notification) error {
	d.Logger.InfoContext(ctx, "notification",
		"audience", n.Audience, "recipient", n.RecipientID, "order_id", n.OrderID, "text", n.Text)
	return nil
}

// Fanout lists the notifications a transition produces.
func Fanout(e events.OrderTransitioned) []Notification {
	ref := e.Slug
	if ref == "" {
		ref = e.OrderID
	}
	customer := func(text string) Notification {
		return Notification{Audience: AudienceCustomer, RecipientID: e.CustomerID, OrderID: e.OrderID, Text: text}
	}
	store := func(text string) Notification {
		return Notification{Audience: AudienceStore, RecipientID: e.StoreID, OrderID: e.OrderID, Text: text}
	}
	partner := func(text string) Notification {
		return Notification{Audience: AudiencePartner, RecipientID: e.DeliveryPartnerID, OrderID: e.OrderID, Text: text}
	}

	switch e.NewStatus {
	case models.StatusPending:
		return []Notification{
			customer(fmt.Sprintf("Order %s placed", ref)),
			store(fmt.Sprintf("New order %s is waiting for you", ref)),
		}
	case models.StatusProcessing:
		return []Notification{
			customer(fmt.Sprintf("Order %s accepted by the store", ref)),
			{Audience: AudienceDispatch, OrderID: e.OrderID, Text: fmt.Sprintf("Order %s is ready to be claimed", ref)},
		}
	case models.StatusCancelled:
		return []Notification{customer(fmt.Sprintf("Order %s was cancelled", ref))}
	case models.StatusDriverAssigned:
		return []Notification{
			customer(fmt.Sprintf("A delivery partner is heading to the store for order %s", ref)),
			store(fmt.Sprintf("Order %s claimed, verify the partner's pickup code at handoff", ref)),
		}
	case models.StatusOutForDelivery:
		out := []Notification{customer(fmt.Sprintf("Order %s is out for delivery", ref))}
		if e.PreviousStatus == models.StatusProcessing {
			out = append(out, store(fmt.Sprintf("Order %s claimed, hand it to the delivery partner", ref)))
		}
		return out
	case models.StatusDelivered:
		return []Notification{
			customer(fmt.Sprintf("Order %s delivered", ref)),
			store(fmt.Sprintf("Order %s delivered", ref)),
			partner(fmt.Sprintf("Order %s completed, you are free for the next one", ref)),
		}
	}
	return nil
}

// Notifier consumes serialized events. Broker delivery is at least once, so
// a repeat of an already handled transition is dropped.
type Notifier struct {
	deliverer Deliverer
	logger    *slog.Logger

	mu      sync.Mutex
	seen    map[string]struct{}
	order   []string // ring of remembered keys, oldest at next
	next    int
	maxSeen int
}

// NewNotifier creates a Notifier that remembers up to maxSeen handled events.
// Past that the oldest is forgotten first.
func NewNotifier(deliverer Deliverer, maxSeen int, logger *slog.Logger) *Notifier {
	if maxSeen < 1 {
		maxSeen = 1
	}
	return &Notifier{
		deliverer: deliverer,
		logger:    logger,
		seen:      make(map[string]struct{}),
		maxSeen:   maxSeen,
	}
}

// Handle decodes one event body and delivers its notifications.
func (n *Notifier) Handle(ctx context.Context, body []byte) error {
	var e events.OrderTransitioned
	if err := json.Unmarshal(body, &e); err != nil {
		// A malformed body will not get better on redelivery.
		n.logger.WarnContext(ctx, "dropping malformed order event", "error", err)
		return nil
	}
	if e.OrderID == "" || e.NewStatus == "" {
		n.logger.WarnContext(ctx, "dropping incomplete order event", "order_id", e.OrderID)
		return nil
	}

	key := e.OrderID + "/" + string(e.NewStatus)
	if n.handled(key) {
		n.logger.DebugContext(ctx, "duplicate order event", "key", key)
		return nil
	}

	for _, msg := range Fanout(e) {
		if err := n.deliverer.Deliver(ctx, msg); err != nil {
			return fmt.Errorf("failed to deliver %s notification for order %s: %w", msg.Audience, e.OrderID, err)
		}
	}
	n.remember(key)
	return nil
}

func (n *Notifier) handled(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.seen[key]
	return ok
}

func (n *Notifier) remember(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.seen[key]; ok {
		return
	}
	if len(n.order) < n.maxSeen {
		n.order = append(n.order, key)
	} else {
		delete(n.seen, n.order[n.next])
		n.order[n.next] = key
		n.next = (n.next + 1) % n.maxSeen
	}
	n.seen[key] = struct{}{}
}
