package tracking_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/lastmile/auth"
	"github.com/kilianp07/lastmile/core/channel"
	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/tracking"
	"github.com/kilianp07/lastmile/infra/logger"
	"github.com/kilianp07/lastmile/infra/store/memory"
	"github.com/kilianp07/lastmile/internal/eventbus"
)

var (
	ops    = delivery.Actor{ID: "ops", Dispatcher: true}
	driver = auth.Identity{ID: "drv-1", Roles: []channel.Role{channel.RoleDriver}}
)

type fixture struct {
	svc      *delivery.Service
	bus      *eventbus.ChannelBus
	gw       *tracking.Gateway
	customer channel.Subscription
	store    channel.Subscription
	driver   channel.Subscription
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	svc, err := delivery.NewService(st, st, logger.NopLogger{}, nil)
	require.NoError(t, err)
	bus := eventbus.New()
	t.Cleanup(func() { _ = bus.Close() })
	gw, err := tracking.NewGateway(svc, bus, logger.NopLogger{})
	require.NoError(t, err)
	f := &fixture{svc: svc, bus: bus, gw: gw}
	f.customer, err = bus.Subscribe(channel.Customer("cust-1"))
	require.NoError(t, err)
	f.store, err = bus.Subscribe(channel.Store("store-1"))
	require.NoError(t, err)
	f.driver, err = bus.Subscribe(channel.Driver("drv-1"))
	require.NoError(t, err)
	return f
}

// assigned creates a delivery already bound to drv-1.
func (f *fixture) assigned(t *testing.T) *model.Delivery {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.SetDriverAvailability(ctx, "drv-1", true)
	require.NoError(t, err)
	d, err := f.svc.Create(ctx, delivery.NewDelivery{
		OrderID:             "ord-1",
		StoreID:             "store-1",
		CustomerID:          "cust-1",
		PickupLocation:      model.NewLocation(48.857, 2.353, ""),
		DestinationLocation: model.NewLocation(48.866, 2.333, ""),
		DeliveryCost:        7,
	}, ops)
	require.NoError(t, err)
	tr, err := f.svc.AssignDriver(ctx, d.ID, "drv-1", ops)
	require.NoError(t, err)
	return tr.Delivery
}

func event(t *testing.T, name string, payload any) channel.Event {
	t.Helper()
	ev, err := channel.NewEvent(name, payload)
	require.NoError(t, err)
	return ev
}

func next(t *testing.T, sub channel.Subscription) channel.Message {
	t.Helper()
	select {
	case m := <-sub.C():
		return m
	case <-time.After(time.Second):
		t.Fatalf("no message on %v", sub.Channels())
		return channel.Message{}
	}
}

func empty(t *testing.T, sub channel.Subscription) {
	t.Helper()
	select {
	case m := <-sub.C():
		t.Fatalf("unexpected message %+v on %v", m, sub.Channels())
	default:
	}
}

func TestStatusUpdatePickedUp(t *testing.T) {
	f := setup(t)
	d := f.assigned(t)
	ctx := context.Background()

	reply := f.gw.Handle(ctx, driver, event(t, channel.EventStatusUpdate, channel.StatusUpdate{
		DeliveryID: d.ID, Status: model.StatusPickedUp, Note: "got it",
	}))
	require.Nil(t, reply)

	got, err := f.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.PickupTime)
	assert.Len(t, got.TrackingHistory, len(d.TrackingHistory)+1)

	for _, sub := range []channel.Subscription{f.customer, f.store} {
		m := next(t, sub)
		assert.Equal(t, channel.EventDeliveryStatusUpdate, m.Event.Name)
		var p channel.DeliveryStatusUpdate
		require.NoError(t, m.Event.Decode(&p))
		assert.Equal(t, model.StatusPickedUp, p.Status)
		assert.Equal(t, "got it", p.Note)
		empty(t, sub)
	}
	empty(t, f.driver)
}

func TestStatusUpdateDeliveredReleasesDriver(t *testing.T) {
	f := setup(t)
	d := f.assigned(t)
	ctx := context.Background()
	for _, s := range []model.Status{model.StatusPickedUp, model.StatusInTransit, model.StatusArrivedAtDestination, model.StatusDelivered} {
		require.Nil(t, f.gw.Handle(ctx, driver, event(t, channel.EventStatusUpdate, channel.StatusUpdate{DeliveryID: d.ID, Status: s})))
	}
	got, err := f.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.DeliveryTime)
	drv, err := f.svc.GetDriver(ctx, "drv-1")
	require.NoError(t, err)
	assert.Equal(t, model.DriverAvailable, drv.Status)
	empty(t, f.driver)
}

func TestStatusUpdateErrors(t *testing.T) {
	f := setup(t)
	d := f.assigned(t)
	ctx := context.Background()
	stranger := auth.Identity{ID: "drv-2", Roles: []channel.Role{channel.RoleDriver}}

	cases := []struct {
		name string
		id   auth.Identity
		ev   channel.Event
	}{
		{"not assigned", stranger, event(t, channel.EventStatusUpdate, channel.StatusUpdate{DeliveryID: d.ID, Status: model.StatusPickedUp})},
		{"backwards", driver, event(t, channel.EventStatusUpdate, channel.StatusUpdate{DeliveryID: d.ID, Status: model.StatusPendingAssignment})},
		{"assignment", driver, event(t, channel.EventStatusUpdate, channel.StatusUpdate{DeliveryID: d.ID, Status: model.StatusDriverAssigned})},
		{"missing", driver, event(t, channel.EventStatusUpdate, channel.StatusUpdate{DeliveryID: "nope", Status: model.StatusPickedUp})},
		{"garbage", driver, channel.Event{Name: channel.EventStatusUpdate, Data: json.RawMessage(`[1]`)}},
		{"unknown", driver, channel.Event{Name: "teleport"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			reply := f.gw.Handle(ctx, c.id, c.ev)
			require.NotNil(t, reply)
			assert.Equal(t, channel.EventError, reply.Name)
			var p channel.ErrorPayload
			require.NoError(t, reply.Decode(&p))
			assert.Equal(t, c.ev.Name, p.Event)
			assert.NotEmpty(t, p.Message)
		})
	}
	empty(t, f.customer)
	empty(t, f.store)
	got, err := f.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDriverAssigned, got.Status)
}

func TestLocationUpdate(t *testing.T) {
	f := setup(t)
	d := f.assigned(t)
	ctx := context.Background()
	loc := model.NewLocation(48.86, 2.35, "")

	require.Nil(t, f.gw.Handle(ctx, driver, event(t, channel.EventLocationUpdate, channel.LocationUpdate{DeliveryID: d.ID, Location: loc})))
	for _, sub := range []channel.Subscription{f.customer, f.store} {
		m := next(t, sub)
		assert.Equal(t, channel.EventDeliveryLocationUpdate, m.Event.Name)
		var p channel.DeliveryLocationUpdate
		require.NoError(t, m.Event.Decode(&p))
		assert.Equal(t, d.ID, p.DeliveryID)
		assert.InDelta(t, 48.86, p.Location.Lat(), 1e-9)
	}
	got, err := f.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, got.TrackingHistory, len(d.TrackingHistory), "location never appends history")
	drv, err := f.svc.GetDriver(ctx, "drv-1")
	require.NoError(t, err)
	require.NotNil(t, drv.Location)
	assert.InDelta(t, 2.35, drv.Location.Lng(), 1e-9)

	reply := f.gw.Handle(ctx, driver, event(t, channel.EventLocationUpdate, channel.LocationUpdate{
		DeliveryID: d.ID, Location: model.Location{Coordinates: []float64{200, 0}},
	}))
	require.NotNil(t, reply)
	empty(t, f.customer)
}

func TestLocationUpdateWithoutDelivery(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.Nil(t, f.gw.Handle(ctx, driver, event(t, channel.EventLocationUpdate, channel.LocationUpdate{Location: model.NewLocation(1, 2, "")})))
	drv, err := f.svc.GetDriver(ctx, "drv-1")
	require.NoError(t, err)
	require.NotNil(t, drv.Location)

	customer := auth.Identity{ID: "cust-1", Roles: []channel.Role{channel.RoleCustomer}}
	assert.NotNil(t, f.gw.Handle(ctx, customer, event(t, channel.EventLocationUpdate, channel.LocationUpdate{Location: model.NewLocation(1, 2, "")})))
}

func TestAvailabilityUpdate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.Nil(t, f.gw.Handle(ctx, driver, event(t, channel.EventAvailabilityUpdate, channel.AvailabilityUpdate{IsAvailable: true})))
	drv, err := f.svc.GetDriver(ctx, "drv-1")
	require.NoError(t, err)
	assert.Equal(t, model.DriverAvailable, drv.Status)

	require.Nil(t, f.gw.Handle(ctx, driver, event(t, channel.EventAvailabilityUpdate, channel.AvailabilityUpdate{IsAvailable: false})))
	drv, err = f.svc.GetDriver(ctx, "drv-1")
	require.NoError(t, err)
	assert.Equal(t, model.DriverOffline, drv.Status)

	store := auth.Identity{ID: "store-1", Roles: []channel.Role{channel.RoleStore}}
	reply := f.gw.Handle(ctx, store, event(t, channel.EventAvailabilityUpdate, channel.AvailabilityUpdate{IsAvailable: true}))
	require.NotNil(t, reply)
}

func TestNotifierAssignedTargetsDriverOnly(t *testing.T) {
	f := setup(t)
	d := f.assigned(t)
	n, err := tracking.NewNotifier(f.bus)
	require.NoError(t, err)
	require.NoError(t, n.NotifyAssigned(context.Background(), d))

	m := next(t, f.driver)
	assert.Equal(t, channel.EventNewDeliveryAssigned, m.Event.Name)
	var p channel.NewDeliveryAssigned
	require.NoError(t, m.Event.Decode(&p))
	assert.Equal(t, d.ID, p.DeliveryID)
	assert.Equal(t, "cust-1", p.CustomerID)
	empty(t, f.customer)
	empty(t, f.store)

	d.DriverID = ""
	assert.Error(t, n.NotifyAssigned(context.Background(), d))
}
