// Package storetest holds behaviour checks shared by every delivery.Backend
// implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/model"
)

// Factory returns a fresh, empty backend for one sub-test.
type Factory func(t *testing.T) delivery.Backend

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// NewDelivery returns a pending delivery whose pickup sits at lat/lng.
func NewDelivery(id string, lat, lng float64, createdOffset time.Duration) *model.Delivery {
	created := base.Add(createdOffset)
	pickup := model.NewLocation(lat, lng, "pickup "+id)
	return &model.Delivery{
		ID:                  id,
		OrderID:             "order-" + id,
		StoreID:             "store-1",
		CustomerID:          "customer-" + id,
		Status:              model.StatusPendingAssignment,
		PickupLocation:      pickup,
		DestinationLocation: model.NewLocation(lat+0.01, lng+0.01, "destination "+id),
		TrackingHistory: []model.TrackingEntry{{
			Status: model.StatusPendingAssignment, Actor: "store-1", Timestamp: created,
		}},
		DeliveryCost: 5,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

// Run executes the suite against backends built by f.
func Run(t *testing.T, f Factory) {
	t.Run("CreateGet", func(t *testing.T) { testCreateGet(t, f(t)) })
	t.Run("OrderUnique", func(t *testing.T) { testOrderUnique(t, f(t)) })
	t.Run("UpdateAbort", func(t *testing.T) { testUpdateAbort(t, f(t)) })
	t.Run("UpdateSerialized", func(t *testing.T) { testUpdateSerialized(t, f(t)) })
	t.Run("ListFilters", func(t *testing.T) { testListFilters(t, f(t)) })
	t.Run("NearPickup", func(t *testing.T) { testNearPickup(t, f(t)) })
	t.Run("Drivers", func(t *testing.T) { testDrivers(t, f(t)) })
	t.Run("InsertDriver", func(t *testing.T) { testInsertDriver(t, f(t)) })
}

func testCreateGet(t *testing.T, s delivery.Backend) {
	ctx := context.Background()
	d := NewDelivery("d1", 48.85, 2.35, 0)
	require.NoError(t, s.Create(ctx, d))

	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "order-d1", got.OrderID)
	assert.Equal(t, model.StatusPendingAssignment, got.Status)
	assert.InDelta(t, 48.85, got.PickupLocation.Lat(), 1e-9)
	assert.Len(t, got.TrackingHistory, 1)

	got.Status = model.StatusCancelled
	again, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingAssignment, again.Status, "returned record must not alias storage")

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, delivery.ErrNotFound), "got %v", err)
}

func testOrderUnique(t *testing.T, s delivery.Backend) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewDelivery("d1", 48.85, 2.35, 0)))
	dup := NewDelivery("d2", 48.85, 2.35, 0)
	dup.OrderID = "order-d1"
	err := s.Create(ctx, dup)
	assert.True(t, errors.Is(err, delivery.ErrConflict), "got %v", err)
}

func testUpdateAbort(t *testing.T, s delivery.Backend) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewDelivery("d1", 48.85, 2.35, 0)))

	boom := errors.New("boom")
	_, err := s.Update(ctx, "d1", func(d *model.Delivery) error {
		d.Status = model.StatusCancelled
		d.TrackingHistory = append(d.TrackingHistory, model.TrackingEntry{Status: model.StatusCancelled})
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingAssignment, got.Status)
	assert.Len(t, got.TrackingHistory, 1)

	_, err = s.Update(ctx, "missing", func(*model.Delivery) error { return nil })
	assert.True(t, errors.Is(err, delivery.ErrNotFound), "got %v", err)
}

func testUpdateSerialized(t *testing.T, s delivery.Backend) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewDelivery("d1", 48.85, 2.35, 0)))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Update(ctx, "d1", func(d *model.Delivery) error {
				d.TrackingHistory = append(d.TrackingHistory, model.TrackingEntry{
					Status: d.Status, Note: fmt.Sprintf("n%d", i), Timestamp: base,
				})
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, got.TrackingHistory, n+1, "every concurrent append must survive")
}

func testListFilters(t *testing.T, s delivery.Backend) {
	ctx := context.Background()
	a := NewDelivery("a", 48.85, 2.35, 2*time.Minute)
	b := NewDelivery("b", 48.86, 2.36, time.Minute)
	c := NewDelivery("c", 48.87, 2.37, 3*time.Minute)
	c.Status = model.StatusDelivered
	c.DriverID = "drv-1"
	c.UpdatedAt = base.Add(time.Hour)
	for _, d := range []*model.Delivery{a, b, c} {
		require.NoError(t, s.Create(ctx, d))
	}

	pending, err := s.List(ctx, delivery.Query{Statuses: []model.Status{model.StatusPendingAssignment}})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].ID, "oldest first")
	assert.Equal(t, "a", pending[1].ID)

	byDriver, err := s.List(ctx, delivery.Query{DriverID: "drv-1"})
	require.NoError(t, err)
	require.Len(t, byDriver, 1)
	assert.Equal(t, "c", byDriver[0].ID)

	recent, err := s.List(ctx, delivery.Query{UpdatedSince: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, recent, 1)

	limited, err := s.List(ctx, delivery.Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testNearPickup(t *testing.T, s delivery.Backend) {
	ctx := context.Background()
	// ~1.1 km and ~4.4 km north of the query point, and one in Lyon.
	near := NewDelivery("near", 48.86, 2.35, 0)
	mid := NewDelivery("mid", 48.89, 2.35, 0)
	far := NewDelivery("far", 45.76, 4.84, 0)
	taken := NewDelivery("taken", 48.855, 2.35, 0)
	taken.Status = model.StatusDriverAssigned
	taken.DriverID = "drv"
	for _, d := range []*model.Delivery{mid, far, near, taken} {
		require.NoError(t, s.Create(ctx, d))
	}
	p := model.NewLocation(48.85, 2.35, "")

	got, err := s.NearPickup(ctx, p, 5, model.StatusPendingAssignment)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)

	got, err = s.NearPickup(ctx, p, 2, model.StatusPendingAssignment)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].ID)
}

func testDrivers(t *testing.T, s delivery.Backend) {
	ctx := context.Background()
	at := func(lat, lng float64) *model.CurrentLocation {
		return &model.CurrentLocation{Location: model.NewLocation(lat, lng, ""), LastUpdated: base}
	}
	require.NoError(t, s.UpsertDriver(ctx, &model.Driver{ID: "close", Status: model.DriverAvailable, Location: at(48.851, 2.35)}))
	require.NoError(t, s.UpsertDriver(ctx, &model.Driver{ID: "further", Status: model.DriverAvailable, Location: at(48.87, 2.35)}))
	require.NoError(t, s.UpsertDriver(ctx, &model.Driver{ID: "busy", Status: model.DriverBusy, Location: at(48.85, 2.35)}))
	require.NoError(t, s.UpsertDriver(ctx, &model.Driver{ID: "nowhere", Status: model.DriverAvailable}))

	got, err := s.NearbyDrivers(ctx, model.NewLocation(48.85, 2.35, ""), 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "close", got[0].Driver.ID)
	assert.Equal(t, "further", got[1].Driver.ID)
	assert.Less(t, got[0].DistanceKm, got[1].DistanceKm)

	updated, err := s.UpdateDriver(ctx, "close", func(d *model.Driver) error {
		if !d.IsAvailable() {
			return delivery.ErrDriverUnavailable
		}
		d.Status = model.DriverBusy
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.DriverBusy, updated.Status)

	_, err = s.UpdateDriver(ctx, "close", func(d *model.Driver) error {
		if !d.IsAvailable() {
			return delivery.ErrDriverUnavailable
		}
		return nil
	})
	assert.ErrorIs(t, err, delivery.ErrDriverUnavailable)

	_, err = s.GetDriver(ctx, "ghost")
	assert.True(t, errors.Is(err, delivery.ErrNotFound), "got %v", err)
}

func testInsertDriver(t *testing.T, s delivery.Backend) {
	ctx := context.Background()
	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		written int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.InsertDriver(ctx, &model.Driver{ID: "drv", Status: model.DriverOffline, UpdatedAt: base.Add(time.Duration(i) * time.Second)})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				written++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, written)

	_, err := s.UpdateDriver(ctx, "drv", func(d *model.Driver) error {
		d.Status = model.DriverAvailable
		return nil
	})
	require.NoError(t, err)
	ok, err := s.InsertDriver(ctx, &model.Driver{ID: "drv", Status: model.DriverOffline})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetDriver(ctx, "drv")
	require.NoError(t, err)
	assert.Equal(t, model.DriverAvailable, got.Status, "insert never overwrites")

	_, err = s.InsertDriver(ctx, &model.Driver{})
	assert.ErrorIs(t, err, delivery.ErrValidation)
}
