package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dukaan/internal/apperr"
	"dukaan/internal/models"
	"dukaan/internal/otp"
	"dukaan/internal/repositories"
)

// Options tune the order state machine.
type Options struct {
	// PickupOTPRequired selects the pickup-verified flow: a claim moves the
	// order to DRIVER_ASSIGNED and the store confirms the handoff with the
	// partner's code. Without it a claim goes straight to OUT_FOR_DELIVERY.
	PickupOTPRequired bool
	PickupOTPTTL      time.Duration
	Now               func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

// AssignmentService pairs processing orders with delivery partners and keeps
// each partner to one active order.
type AssignmentService struct {
	orders   repositories.OrderRepository
	partners repositories.PartnerRepository
	opts     Options
	logger   *slog.Logger
}

// NewAssignmentService creates a new AssignmentService.
func NewAssignmentService(orders repositories.OrderRepository, partners repositories.PartnerRepository, opts Options, logger *slog.Logger) *AssignmentService {
	return &AssignmentService{
		orders:   orders,
		partners: partners,
		opts:     opts,
		logger:   logger,
	}
}

// ListAvailable returns the orders the partner could claim right now.
func (s *AssignmentService) ListAvailable(ctx context.Context, p models.Principal) ([]models.Order, error) {
	partner, err := s.dutyPartner(ctx, p)
	if err != nil {
		return nil, err
	}
	if partner.Busy() {
		return nil, apperr.New(apperr.KindPartnerBusy, "finish order %s before taking another", *partner.CurrentOrderID)
	}
	return s.orders.List(ctx, repositories.OrderFilter{
		Statuses:   []models.OrderStatus{models.StatusProcessing},
		Unassigned: true,
	})
}

// claim assigns orderID to the partner. The repository enforces the race:
// exactly one concurrent claimer wins, the rest see AlreadyClaimed.
func (s *AssignmentService) claim(ctx context.Context, p models.Principal, orderID string) (*models.Order, error) {
	now := s.opts.now()
	change := repositories.StatusChange{To: models.StatusOutForDelivery, At: now}
	if s.opts.PickupOTPRequired {
		code, err := otp.Generate(s.opts.PickupOTPTTL, now)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, err, "failed to issue pickup code")
		}
		change = repositories.StatusChange{To: models.StatusDriverAssigned, At: now, PickupOTP: &code}
	}
	return s.orders.Claim(ctx, orderID, p.ID, change)
}

// complete marks orderID delivered by the assigned partner and frees them.
func (s *AssignmentService) complete(ctx context.Context, p models.Principal, orderID string) (*models.Order, error) {
	return s.orders.CompleteDelivery(ctx, orderID, p.ID, s.opts.now())
}

// Ignore records that the partner passed on an available order.
func (s *AssignmentService) Ignore(ctx context.Context, p models.Principal, orderID string) error {
	partner, err := s.dutyPartner(ctx, p)
	if err != nil {
		return err
	}
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.Claimable() {
		if order.DeliveryPartnerID == nil && order.TimestampsLog.AcceptedAt == nil {
			return apperr.New(apperr.KindNotFound, "order %s not found", orderID)
		}
		return apperr.New(apperr.KindInvalidStateTransition, "order %s is no longer available", orderID)
	}
	return s.partners.IncrementIgnored(ctx, partner.ID)
}

// RefreshPickupCode replaces an expired or lost pickup code on an order the
// partner holds. The previous code stops working.
func (s *AssignmentService) RefreshPickupCode(ctx context.Context, p models.Principal, orderID string) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.AssignedTo(p.ID) {
		return nil, apperr.New(apperr.KindNotFound, "order %s not found", orderID)
	}
	if order.Status != models.StatusDriverAssigned {
		return nil, apperr.New(apperr.KindInvalidStateTransition, "order %s is %s, no pickup pending", orderID, order.Status)
	}

	now := s.opts.now()
	code, err := otp.Generate(s.opts.PickupOTPTTL, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "failed to issue pickup code")
	}
	return s.orders.Transition(ctx, orderID, models.StatusDriverAssigned, repositories.StatusChange{
		To:              models.StatusDriverAssigned,
		At:              now,
		PickupOTP:       &code,
		ExpectPickupOTP: order.PickupOTP.Value,
	})
}

// SetAvailability puts the partner on or off duty.
func (s *AssignmentService) SetAvailability(ctx context.Context, p models.Principal, active bool) (*models.DeliveryPartner, error) {
	if !p.Is(models.RoleDelivery) {
		return nil, apperr.New(apperr.KindForbidden, "only delivery partners have availability")
	}
	partner, err := s.partners.SetActive(ctx, p.ID, active)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "delivery partner availability changed", "partner_id", p.ID, "active", active)
	return partner, nil
}

// Profile returns the partner record and the order it currently holds, if any.
func (s *AssignmentService) Profile(ctx context.Context, p models.Principal) (*models.DeliveryPartner, *models.Order, error) {
	if !p.Is(models.RoleDelivery) {
		return nil, nil, apperr.New(apperr.KindForbidden, "only delivery partners have a delivery profile")
	}
	partner, err := s.partners.GetByID(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	if !partner.Busy() {
		return partner, nil, nil
	}
	order, err := s.orders.GetByID(ctx, *partner.CurrentOrderID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return partner, nil, nil
		}
		return nil, nil, err
	}
	return partner, order, nil
}

// SetPartnerApproval records an admin decision on a delivery partner.
func (s *AssignmentService) SetPartnerApproval(ctx context.Context, admin models.Principal, partnerID string, approved bool) (*models.DeliveryPartner, error) {
	if !admin.Is(models.RoleAdmin) {
		return nil, apperr.New(apperr.KindForbidden, "only admins can approve delivery partners")
	}
	return s.partners.SetApproval(ctx, partnerID, approved)
}

// Reconcile releases partners whose current order no longer belongs to them
// or has left the delivery pipeline. It is safe to run repeatedly.
func (s *AssignmentService) Reconcile(ctx context.Context, admin models.Principal) (int, error) {
	if !admin.Is(models.RoleAdmin) {
		return 0, apperr.New(apperr.KindForbidden, "only admins can reconcile assignments")
	}
	holding, err := s.partners.ListHolding(ctx)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, partner := range holding {
		orderID := *partner.CurrentOrderID
		order, err := s.orders.GetByID(ctx, orderID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return released, err
		}
		if order != nil && order.AssignedTo(partner.ID) && !order.Status.Terminal() {
			continue
		}
		ok, err := s.partners.ReleaseOrder(ctx, partner.ID, orderID)
		if err != nil {
			return released, err
		}
		if ok {
			released++
			s.logger.WarnContext(ctx, "released stale partner assignment", "partner_id", partner.ID, "order_id", orderID)
		}
	}
	return released, nil
}

// dutyPartner loads the partner behind p and checks it may take orders.
func (s *AssignmentService) dutyPartner(ctx context.Context, p models.Principal) (*models.DeliveryPartner, error) {
	if !p.Is(models.RoleDelivery) {
		return nil, apperr.New(apperr.KindForbidden, "only delivery partners take orders")
	}
	partner, err := s.partners.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !partner.IsApproved {
		return nil, apperr.New(apperr.KindForbidden, "delivery partner %s is not approved", p.ID)
	}
	if !partner.IsActive {
		return nil, apperr.New(apperr.KindForbidden, "delivery partner %s is off duty", p.ID)
	}
	return partner, nil
}
