package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kilianp07/lastmile/core/channel"
	coremetrics "github.com/kilianp07/lastmile/core/metrics"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/infra/logger"
)

// SimulatedDriver is a driver device: it reports its position, waits for
// assignments and drives each one to completion.
type SimulatedDriver struct {
	// ID labels logs and metrics. The server knows the driver by its token.
	ID       string
	Token    string
	URL      string
	Start    model.Location
	StepKm   float64
	Interval time.Duration
	// FailRate is the probability that a delivery ends in failed_delivery.
	FailRate float64
	// Deliveries stops the driver after that many completed deliveries.
	// Zero runs until the context is done.
	Deliveries int
	Metrics    coremetrics.Sink
	Dialer     *websocket.Dialer
	Log        logger.Logger

	pos       model.Location
	conn      *websocket.Conn
	completed int
}

// Completed returns the number of deliveries driven to a terminal status.
func (d *SimulatedDriver) Completed() int { return d.completed }

// Run connects and drives until ctx is done, the server goes away or the
// delivery quota is reached.
func (d *SimulatedDriver) Run(ctx context.Context) error {
	if d.Log == nil {
		d.Log = logger.NopLogger{}
	}
	if d.Metrics == nil {
		d.Metrics = coremetrics.NopSink{}
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+d.Token)
	conn, resp, err := dialer.DialContext(ctx, d.URL, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	d.conn = conn
	defer conn.Close()
	d.pos = d.Start

	assigned := make(chan channel.NewDeliveryAssigned, 8)
	gone := make(chan error, 1)
	go d.read(assigned, gone)

	if err := d.send(channel.EventLocationUpdate, channel.LocationUpdate{Location: d.pos}); err != nil {
		return err
	}
	if err := d.send(channel.EventAvailabilityUpdate, channel.AvailabilityUpdate{IsAvailable: true}); err != nil {
		return err
	}

	idle := time.NewTicker(d.Interval * 10)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			d.goodbye()
			return nil
		case err := <-gone:
			return err
		case a := <-assigned:
			if err := d.deliver(ctx, a); err != nil {
				if ctx.Err() != nil {
					d.goodbye()
					return nil
				}
				return err
			}
			if d.Deliveries > 0 && d.completed >= d.Deliveries {
				d.goodbye()
				return nil
			}
		case <-idle.C:
			if err := d.send(channel.EventLocationUpdate, channel.LocationUpdate{Location: d.pos}); err != nil {
				return err
			}
		}
	}
}

// read is the only reader of the connection.
func (d *SimulatedDriver) read(assigned chan<- channel.NewDeliveryAssigned, gone chan<- error) {
	for {
		var ev channel.Event
		if err := d.conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			gone <- err
			return
		}
		switch ev.Name {
		case channel.EventNewDeliveryAssigned:
			var a channel.NewDeliveryAssigned
			if err := ev.Decode(&a); err != nil {
				d.Log.Warnf("%v", err)
				continue
			}
			d.Log.Infow("assigned", map[string]any{"delivery_id": a.DeliveryID})
			assigned <- a
		case channel.EventError:
			var p channel.ErrorPayload
			_ = ev.Decode(&p)
			d.Log.Warnf("server rejected %s: %s", p.Event, p.Message)
		default:
			d.Log.Debugf("ignoring %s", ev.Name)
		}
	}
}

func (d *SimulatedDriver) deliver(ctx context.Context, a channel.NewDeliveryAssigned) error {
	if err := d.drive(ctx, a.DeliveryID, a.Pickup); err != nil {
		return err
	}
	for _, st := range []model.Status{model.StatusPickedUp, model.StatusInTransit} {
		if err := d.status(a.DeliveryID, st, ""); err != nil {
			return err
		}
	}
	if err := d.drive(ctx, a.DeliveryID, a.Destination); err != nil {
		return err
	}
	if err := d.status(a.DeliveryID, model.StatusArrivedAtDestination, ""); err != nil {
		return err
	}
	final, note := model.StatusDelivered, "handed over"
	if d.FailRate > 0 && fleetRng.Float64() < d.FailRate {
		final, note = model.StatusFailedDelivery, "customer not reachable"
	}
	if err := d.status(a.DeliveryID, final, note); err != nil {
		return err
	}
	d.completed++
	return nil
}

func (d *SimulatedDriver) drive(ctx context.Context, deliveryID string, to model.Location) error {
	for _, p := range Route(d.pos, to, d.StepKm) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.Interval):
		}
		now := time.Now().UTC()
		p.RecordedAt = &now
		if err := d.send(channel.EventLocationUpdate, channel.LocationUpdate{DeliveryID: deliveryID, Location: p}); err != nil {
			return err
		}
		d.pos = p
		if rec, ok := d.Metrics.(coremetrics.LocationRecorder); ok {
			if err := rec.RecordLocation(coremetrics.LocationEvent{
				DeliveryID: deliveryID, DriverID: d.ID, Lat: p.Lat(), Lng: p.Lng(), Time: now,
			}); err != nil {
				d.Log.Warnf("record location: %v", err)
			}
		}
	}
	return nil
}

func (d *SimulatedDriver) status(deliveryID string, st model.Status, note string) error {
	loc := d.pos
	return d.send(channel.EventStatusUpdate, channel.StatusUpdate{
		DeliveryID: deliveryID, Status: st, Location: &loc, Note: note,
	})
}

func (d *SimulatedDriver) send(name string, payload any) error {
	ev, err := channel.NewEvent(name, payload)
	if err != nil {
		return err
	}
	if err := d.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	if err := d.conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	return nil
}

func (d *SimulatedDriver) goodbye() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := d.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		d.Log.Debugf("close: %v", err)
	}
}
