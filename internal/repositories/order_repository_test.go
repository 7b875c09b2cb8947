package repositories_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"dukaan/internal/apperr"
	"dukaan/internal/database"
	"dukaan/internal/models"
	"dukaan/internal/otp"
	"dukaan/internal/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type repoFactory func(t *testing.T) (repositories.OrderRepository, repositories.PartnerRepository)

func memoryRepos(t *testing.T) (repositories.OrderRepository, repositories.PartnerRepository) {
	orders, partners := repositories.NewMockRepositories()
	return orders, partners
}

func gormRepos(db *gorm.DB) repoFactory {
	return func(t *testing.T) (repositories.OrderRepository, repositories.PartnerRepository) {
		return repositories.NewGORMOrderRepository(db), repositories.NewGORMPartnerRepository(db)
	}
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestMemoryRepositories(t *testing.T) {
	runRepositoryContract(t, memoryRepos)
}

func TestSQLiteRepositories(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) (repositories.OrderRepository, repositories.PartnerRepository) {
		return gormRepos(openSQLite(t))(t)
	})
}

var base = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

func pendingOrder(slug string, created time.Time) *models.Order {
	return &models.Order{
		Slug:          slug,
		CustomerID:    "customer-1",
		StoreID:       "store-1",
		Items:         []models.OrderItem{{ProductID: "p1", Name: "Widget", Quantity: 2, UnitPrice: 50}},
		TotalAmount:   100,
		PaymentMethod: models.PaymentCOD,
		PaymentStatus: models.PaymentPending,
		Status:        models.StatusPending,
		TimestampsLog: models.TimestampsLog{CreatedAt: created},
		DeliveryAddress: models.AddressSnapshot{
			Line1: "12 MG Road", City: "Pune", PostalCode: "411001", Phone: "9876543210",
		},
		UpdatedAt: created,
	}
}

func seedProcessing(t *testing.T, orders repositories.OrderRepository, slug string) *models.Order {
	t.Helper()
	ctx := context.Background()
	o := pendingOrder(slug, base)
	require.NoError(t, orders.Create(ctx, o))
	accepted, err := orders.Transition(ctx, o.ID, models.StatusPending, repositories.StatusChange{To: models.StatusProcessing, At: base.Add(time.Minute)})
	require.NoError(t, err)
	return accepted
}

func seedPartner(t *testing.T, partners repositories.PartnerRepository, id string, approved, active bool) {
	t.Helper()
	require.NoError(t, partners.Create(context.Background(), &models.DeliveryPartner{
		ID:         id,
		IsApproved: approved,
		IsActive:   active,
	}))
}

func runRepositoryContract(t *testing.T, newRepos repoFactory) {
	ctx := context.Background()

	t.Run("CreateAndFind", func(t *testing.T) {
		orders, _ := newRepos(t)
		o := pendingOrder("widget-a", base)
		require.NoError(t, orders.Create(ctx, o))
		require.NotEmpty(t, o.ID)

		byID, err := orders.GetByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, "widget-a", byID.Slug)
		assert.Equal(t, models.StatusPending, byID.Status)
		require.Len(t, byID.Items, 1)
		assert.Equal(t, 50.0, byID.Items[0].UnitPrice)
		assert.Equal(t, "Pune", byID.DeliveryAddress.City)

		bySlug, err := orders.GetBySlug(ctx, "widget-a")
		require.NoError(t, err)
		assert.Equal(t, o.ID, bySlug.ID)

		_, err = orders.GetByID(ctx, "missing")
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("DuplicateSlug", func(t *testing.T) {
		orders, _ := newRepos(t)
		require.NoError(t, orders.Create(ctx, pendingOrder("widget-dup", base)))
		err := orders.Create(ctx, pendingOrder("widget-dup", base))
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	})

	t.Run("TransitionIsConditional", func(t *testing.T) {
		orders, _ := newRepos(t)
		o := pendingOrder("widget-t", base)
		require.NoError(t, orders.Create(ctx, o))

		at := base.Add(time.Minute)
		accepted, err := orders.Transition(ctx, o.ID, models.StatusPending, repositories.StatusChange{To: models.StatusProcessing, At: at})
		require.NoError(t, err)
		assert.Equal(t, models.StatusProcessing, accepted.Status)
		require.NotNil(t, accepted.TimestampsLog.AcceptedAt)
		assert.True(t, at.Equal(*accepted.TimestampsLog.AcceptedAt))
		assert.Nil(t, accepted.TimestampsLog.CancelledAt)

		_, err = orders.Transition(ctx, o.ID, models.StatusPending, repositories.StatusChange{To: models.StatusCancelled, At: at})
		assert.Equal(t, apperr.KindInvalidStateTransition, apperr.KindOf(err))

		stored, err := orders.GetByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusProcessing, stored.Status)
		assert.Nil(t, stored.TimestampsLog.CancelledAt)

		_, err = orders.Transition(ctx, "missing", models.StatusPending, repositories.StatusChange{To: models.StatusProcessing, At: at})
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("CancelRecordsReason", func(t *testing.T) {
		orders, _ := newRepos(t)
		o := pendingOrder("widget-c", base)
		require.NoError(t, orders.Create(ctx, o))
		cancelled, err := orders.Transition(ctx, o.ID, models.StatusPending, repositories.StatusChange{
			To: models.StatusCancelled, At: base.Add(time.Minute), CancelReason: "out of stock",
		})
		require.NoError(t, err)
		assert.Equal(t, "out of stock", cancelled.CancelReason)
		assert.NotNil(t, cancelled.TimestampsLog.CancelledAt)
	})

	t.Run("ClaimAssignsBothSides", func(t *testing.T) {
		orders, partners := newRepos(t)
		o := seedProcessing(t, orders, "widget-claim")
		seedPartner(t, partners, "rider-1", true, true)

		code, err := otp.Generate(10*time.Minute, base)
		require.NoError(t, err)
		claimed, err := orders.Claim(ctx, o.ID, "rider-1", repositories.StatusChange{
			To: models.StatusDriverAssigned, At: base.Add(2 * time.Minute), PickupOTP: &code,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusDriverAssigned, claimed.Status)
		assert.True(t, claimed.AssignedTo("rider-1"))
		assert.Equal(t, code.Value, claimed.PickupOTP.Value)

		p, err := partners.GetByID(ctx, "rider-1")
		require.NoError(t, err)
		require.NotNil(t, p.CurrentOrderID)
		assert.Equal(t, o.ID, *p.CurrentOrderID)
		assert.Equal(t, 1, p.Stats.Accepted)

		// Pickup code is compared on the way out.
		_, err = orders.Transition(ctx, o.ID, models.StatusDriverAssigned, repositories.StatusChange{
			To: models.StatusOutForDelivery, At: base.Add(3 * time.Minute), ExpectPickupOTP: "not-it", ClearPickupOTP: true,
		})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

		out, err := orders.Transition(ctx, o.ID, models.StatusDriverAssigned, repositories.StatusChange{
			To: models.StatusOutForDelivery, At: base.Add(3 * time.Minute), ExpectPickupOTP: code.Value, ClearPickupOTP: true,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusOutForDelivery, out.Status)
		assert.False(t, out.PickupOTP.Issued())
		assert.NotNil(t, out.TimestampsLog.OutForDeliveryAt)
	})

	t.Run("ClaimRejections", func(t *testing.T) {
		orders, partners := newRepos(t)
		first := seedProcessing(t, orders, "widget-r1")
		second := seedProcessing(t, orders, "widget-r2")
		seedPartner(t, partners, "rider-1", true, true)
		seedPartner(t, partners, "rider-2", true, true)
		seedPartner(t, partners, "rider-off", true, false)
		seedPartner(t, partners, "rider-new", false, true)
		change := repositories.StatusChange{To: models.StatusOutForDelivery, At: base.Add(2 * time.Minute)}

		_, err := orders.Claim(ctx, first.ID, "rider-off", change)
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
		_, err = orders.Claim(ctx, first.ID, "rider-new", change)
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
		_, err = orders.Claim(ctx, first.ID, "nobody", change)
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

		_, err = orders.Claim(ctx, first.ID, "rider-1", change)
		require.NoError(t, err)

		_, err = orders.Claim(ctx, second.ID, "rider-1", change)
		assert.Equal(t, apperr.KindPartnerBusy, apperr.KindOf(err))

		_, err = orders.Claim(ctx, first.ID, "rider-2", change)
		assert.Equal(t, apperr.KindAlreadyClaimed, apperr.KindOf(err))

		// A failed claim leaves the partner free.
		p, err := partners.GetByID(ctx, "rider-2")
		require.NoError(t, err)
		assert.Nil(t, p.CurrentOrderID)
		assert.Equal(t, 0, p.Stats.Accepted)

		pending := pendingOrder("widget-r3", base)
		require.NoError(t, orders.Create(ctx, pending))
		_, err = orders.Claim(ctx, pending.ID, "rider-2", change)
		assert.Equal(t, apperr.KindInvalidStateTransition, apperr.KindOf(err))
	})

	t.Run("ConcurrentClaimsHaveOneWinner", func(t *testing.T) {
		orders, partners := newRepos(t)
		o := seedProcessing(t, orders, "widget-race")
		const riders = 8
		for i := 0; i < riders; i++ {
			seedPartner(t, partners, fmt.Sprintf("rider-%d", i), true, true)
		}

		var wg sync.WaitGroup
		errs := make([]error, riders)
		for i := 0; i < riders; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = orders.Claim(ctx, o.ID, fmt.Sprintf("rider-%d", i), repositories.StatusChange{
					To: models.StatusOutForDelivery, At: base.Add(2 * time.Minute),
				})
			}(i)
		}
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
				continue
			}
			assert.Equal(t, apperr.KindAlreadyClaimed, apperr.KindOf(err))
		}
		assert.Equal(t, 1, winners)

		holding, err := partners.ListHolding(ctx)
		require.NoError(t, err)
		require.Len(t, holding, 1)
		stored, err := orders.GetByID(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, stored.AssignedTo(holding[0].ID))
	})

	t.Run("CompleteDelivery", func(t *testing.T) {
		orders, partners := newRepos(t)
		o := seedProcessing(t, orders, "widget-d")
		seedPartner(t, partners, "rider-1", true, true)
		seedPartner(t, partners, "rider-2", true, true)
		_, err := orders.Claim(ctx, o.ID, "rider-1", repositories.StatusChange{To: models.StatusOutForDelivery, At: base.Add(2 * time.Minute)})
		require.NoError(t, err)

		_, err = orders.CompleteDelivery(ctx, o.ID, "rider-2", base.Add(time.Hour))
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

		delivered, err := orders.CompleteDelivery(ctx, o.ID, "rider-1", base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, models.StatusDelivered, delivered.Status)
		assert.NotNil(t, delivered.TimestampsLog.DeliveredAt)

		_, err = orders.CompleteDelivery(ctx, o.ID, "rider-1", base.Add(2*time.Hour))
		assert.Equal(t, apperr.KindInvalidStateTransition, apperr.KindOf(err))

		p, err := partners.GetByID(ctx, "rider-1")
		require.NoError(t, err)
		assert.Nil(t, p.CurrentOrderID)
		assert.Equal(t, 1, p.Stats.Delivered)
	})

	t.Run("ListFilters", func(t *testing.T) {
		orders, partners := newRepos(t)
		older := pendingOrder("widget-old", base)
		require.NoError(t, orders.Create(ctx, older))
		newer := pendingOrder("widget-new", base.Add(time.Hour))
		newer.StoreID = "store-2"
		newer.CustomerID = "customer-2"
		require.NoError(t, orders.Create(ctx, newer))
		claimable := seedProcessing(t, orders, "widget-open")
		seedPartner(t, partners, "rider-1", true, true)

		all, err := orders.List(ctx, repositories.OrderFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, newer.ID, all[0].ID)

		mine, err := orders.List(ctx, repositories.OrderFilter{CustomerID: "customer-2"})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, newer.ID, mine[0].ID)

		store, err := orders.List(ctx, repositories.OrderFilter{StoreIDs: []string{"store-1"}})
		require.NoError(t, err)
		assert.Len(t, store, 2)

		none, err := orders.List(ctx, repositories.OrderFilter{StoreIDs: []string{}})
		require.NoError(t, err)
		assert.Empty(t, none)

		open, err := orders.List(ctx, repositories.OrderFilter{
			Statuses:   []models.OrderStatus{models.StatusProcessing},
			Unassigned: true,
		})
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, claimable.ID, open[0].ID)

		_, err = orders.Claim(ctx, claimable.ID, "rider-1", repositories.StatusChange{To: models.StatusOutForDelivery, At: base.Add(2 * time.Hour)})
		require.NoError(t, err)
		held, err := orders.List(ctx, repositories.OrderFilter{DeliveryPartnerID: "rider-1"})
		require.NoError(t, err)
		assert.Len(t, held, 1)

		limited, err := orders.List(ctx, repositories.OrderFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("PartnerAvailabilityAndRelease", func(t *testing.T) {
		orders, partners := newRepos(t)
		o := seedProcessing(t, orders, "widget-p")
		seedPartner(t, partners, "rider-1", false, false)

		p, err := partners.SetApproval(ctx, "rider-1", true)
		require.NoError(t, err)
		assert.True(t, p.IsApproved)
		p, err = partners.SetActive(ctx, "rider-1", true)
		require.NoError(t, err)
		assert.True(t, p.IsActive)

		_, err = orders.Claim(ctx, o.ID, "rider-1", repositories.StatusChange{To: models.StatusOutForDelivery, At: base.Add(2 * time.Minute)})
		require.NoError(t, err)

		_, err = partners.SetActive(ctx, "rider-1", false)
		assert.Equal(t, apperr.KindInvalidStateTransition, apperr.KindOf(err))

		require.NoError(t, partners.IncrementIgnored(ctx, "rider-1"))
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(partners.IncrementIgnored(ctx, "nobody")))

		released, err := partners.ReleaseOrder(ctx, "rider-1", "some-other-order")
		require.NoError(t, err)
		assert.False(t, released)
		released, err = partners.ReleaseOrder(ctx, "rider-1", o.ID)
		require.NoError(t, err)
		assert.True(t, released)

		p, err = partners.GetByID(ctx, "rider-1")
		require.NoError(t, err)
		assert.Nil(t, p.CurrentOrderID)
		assert.Equal(t, 1, p.Stats.Ignored)
	})
}
