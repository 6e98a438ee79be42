package tracking

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/lastmile/auth"
	"github.com/kilianp07/lastmile/core/channel"
	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/logger"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/monitoring"
)

// Deliveries is the part of the mutation API used by the gateway.
type Deliveries interface {
	UpdateStatus(ctx context.Context, id string, u delivery.StatusUpdate, actor delivery.Actor) (delivery.Transition, error)
	UpdateCurrentLocation(ctx context.Context, id string, loc model.Location, actor delivery.Actor) (*model.Delivery, error)
	UpdateDriverLocation(ctx context.Context, id string, loc model.Location) (*model.Driver, error)
	SetDriverAvailability(ctx context.Context, id string, available bool) (*model.Driver, error)
}

// Gateway handles events received on a connection.
type Gateway struct {
	svc Deliveries
	reg channel.Registry
	log logger.Logger
}

// NewGateway wires a Gateway.
func NewGateway(svc Deliveries, reg channel.Registry, log logger.Logger) (*Gateway, error) {
	if svc == nil || reg == nil || log == nil {
		return nil, fmt.Errorf("tracking: nil parameter svc=%v reg=%v log=%v", svc != nil, reg != nil, log != nil)
	}
	return &Gateway{svc: svc, reg: reg, log: log}, nil
}

// Handle processes one inbound event for id. It returns nil on success and
// an error event addressed to the sender otherwise. Failures never affect
// other connections.
func (g *Gateway) Handle(ctx context.Context, id auth.Identity, ev channel.Event) *channel.Event {
	var err error
	switch ev.Name {
	case channel.EventLocationUpdate:
		err = g.locationUpdate(ctx, id, ev)
	case channel.EventStatusUpdate:
		err = g.statusUpdate(ctx, id, ev)
	case channel.EventAvailabilityUpdate:
		err = g.availabilityUpdate(ctx, id, ev)
	default:
		err = fmt.Errorf("%w: unknown event %q", delivery.ErrValidation, ev.Name)
	}
	if err == nil {
		return nil
	}
	return g.reply(id, ev.Name, err)
}

func (g *Gateway) reply(id auth.Identity, name string, err error) *channel.Event {
	msg := err.Error()
	if !clientError(err) {
		g.log.Errorw("event failed", err, map[string]any{"event": name, "identity": id.ID})
		monitoring.CaptureException(err, map[string]string{"module": "tracking", "event": name})
		msg = "internal error"
	} else {
		g.log.Debugw("event rejected", map[string]any{"event": name, "identity": id.ID, "error": msg})
	}
	out, _ := channel.NewEvent(channel.EventError, channel.ErrorPayload{Message: msg, Event: name})
	return &out
}

func clientError(err error) bool {
	for _, target := range []error{
		delivery.ErrValidation, delivery.ErrUnauthorized, delivery.ErrNotFound,
		delivery.ErrInvalidTransition, delivery.ErrConflict, delivery.ErrDriverUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func decode(ev channel.Event, v any) error {
	if err := ev.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", delivery.ErrValidation, err)
	}
	return nil
}

func (g *Gateway) locationUpdate(ctx context.Context, id auth.Identity, ev channel.Event) error {
	var in channel.LocationUpdate
	if err := decode(ev, &in); err != nil {
		return err
	}
	if err := in.Location.Validate(); err != nil {
		return fmt.Errorf("%w: %v", delivery.ErrValidation, err)
	}
	if in.DeliveryID == "" {
		if !id.HasRole(channel.RoleDriver) {
			return fmt.Errorf("%w: location updates without a delivery require the driver role", delivery.ErrUnauthorized)
		}
		_, err := g.svc.UpdateDriverLocation(ctx, id.ID, in.Location)
		return err
	}
	d, err := g.svc.UpdateCurrentLocation(ctx, in.DeliveryID, in.Location, id.Actor())
	if err != nil {
		return err
	}
	if d.DriverID == id.ID {
		if _, err := g.svc.UpdateDriverLocation(ctx, id.ID, in.Location); err != nil {
			g.log.Warnf("driver %s location: %v", id.ID, err)
		}
	}
	out, err := channel.NewEvent(channel.EventDeliveryLocationUpdate, channel.DeliveryLocationUpdate{
		DeliveryID: d.ID,
		Location:   *d.CurrentLocation,
	})
	if err != nil {
		return err
	}
	g.publish(ctx, d, out, partyChannels(d))
	return nil
}

func (g *Gateway) statusUpdate(ctx context.Context, id auth.Identity, ev channel.Event) error {
	var in channel.StatusUpdate
	if err := decode(ev, &in); err != nil {
		return err
	}
	if in.DeliveryID == "" {
		return fmt.Errorf("%w: deliveryId is required", delivery.ErrValidation)
	}
	// driver_assigned is reached through AssignDriver only.
	if in.Status == model.StatusDriverAssigned {
		return fmt.Errorf("%w: %s is set by assignment", delivery.ErrInvalidTransition, in.Status)
	}
	t, err := g.svc.UpdateStatus(ctx, in.DeliveryID, delivery.StatusUpdate{
		Status:                in.Status,
		Location:              in.Location,
		Note:                  in.Note,
		EstimatedDeliveryTime: in.EstimatedDeliveryTime,
	}, id.Actor())
	if err != nil {
		return err
	}
	if !t.Applied {
		return nil
	}
	g.publish(ctx, t.Delivery, StatusEvent(t.Delivery), partyChannels(t.Delivery))
	return nil
}

func (g *Gateway) availabilityUpdate(ctx context.Context, id auth.Identity, ev channel.Event) error {
	if !id.HasRole(channel.RoleDriver) {
		return fmt.Errorf("%w: availability requires the driver role", delivery.ErrUnauthorized)
	}
	var in channel.AvailabilityUpdate
	if err := decode(ev, &in); err != nil {
		return err
	}
	_, err := g.svc.SetDriverAvailability(ctx, id.ID, in.IsAvailable)
	return err
}

// publish delivers out best effort. The persisted record stays the source of
// truth when a push is lost.
func (g *Gateway) publish(ctx context.Context, d *model.Delivery, out channel.Event, to []channel.Name) {
	if len(to) == 0 {
		return
	}
	if err := g.reg.Publish(ctx, out, to...); err != nil {
		g.log.Errorw("publish", err, map[string]any{"delivery_id": d.ID, "event": out.Name})
		monitoring.CaptureDelivery(err, "publish "+out.Name, d.ID)
	}
}

// StatusEvent builds the delivery_status_update pushed for the last
// transition of d.
func StatusEvent(d *model.Delivery) channel.Event {
	p := channel.DeliveryStatusUpdate{
		DeliveryID:            d.ID,
		Status:                d.Status,
		EstimatedDeliveryTime: d.EstimatedDeliveryTime,
		Timestamp:             d.UpdatedAt,
	}
	if n := len(d.TrackingHistory); n > 0 {
		last := d.TrackingHistory[n-1]
		p.Location, p.Note, p.Timestamp = last.Location, last.Note, last.Timestamp
	}
	ev, _ := channel.NewEvent(channel.EventDeliveryStatusUpdate, p)
	return ev
}

// partyChannels returns the customer and store channels of d.
func partyChannels(d *model.Delivery) []channel.Name {
	var out []channel.Name
	if d.CustomerID != "" {
		out = append(out, channel.Customer(d.CustomerID))
	}
	if d.StoreID != "" {
		out = append(out, channel.Store(d.StoreID))
	}
	return out
}
