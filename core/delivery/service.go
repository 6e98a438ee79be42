package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/lastmile/core/logger"
	"github.com/kilianp07/lastmile/core/metrics"
	"github.com/kilianp07/lastmile/core/model"
)

// NewDelivery describes a delivery to create for an order.
type NewDelivery struct {
	OrderID               string         `json:"orderId"`
	StoreID               string         `json:"storeId"`
	CustomerID            string         `json:"customerId"`
	PickupLocation        model.Location `json:"pickupLocation"`
	DestinationLocation   model.Location `json:"destinationLocation"`
	EstimatedDeliveryTime *time.Time     `json:"estimatedDeliveryTime,omitempty"`
	DeliveryCost          float64        `json:"deliveryCost"`
	Priority              int            `json:"priority"`
	DeliveryDistanceKm    float64        `json:"deliveryDistanceKm,omitempty"`
	DeliveryDurationMin   float64        `json:"deliveryDurationMin,omitempty"`
	Note                  string         `json:"note,omitempty"`
}

func (n NewDelivery) validate() error {
	var problems []string
	if strings.TrimSpace(n.OrderID) == "" {
		problems = append(problems, "orderId is required")
	}
	if err := n.PickupLocation.Validate(); err != nil {
		problems = append(problems, "pickupLocation: "+err.Error())
	}
	if err := n.DestinationLocation.Validate(); err != nil {
		problems = append(problems, "destinationLocation: "+err.Error())
	}
	if n.DeliveryCost < 0 {
		problems = append(problems, "deliveryCost must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// Service is the mutation API over the delivery and driver stores. Every
// write goes through a single atomic store update.
type Service struct {
	store   Store
	drivers DriverStore
	log     logger.Logger
	sink    metrics.Sink

	mu    sync.RWMutex
	now   func() time.Time
	newID func() string
}

// NewService wires a Service. A nil sink records nothing.
func NewService(store Store, drivers DriverStore, log logger.Logger, sink metrics.Sink) (*Service, error) {
	if store == nil || drivers == nil || log == nil {
		return nil, fmt.Errorf("delivery: nil parameter store=%v drivers=%v log=%v", store != nil, drivers != nil, log != nil)
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Service{
		store:   store,
		drivers: drivers,
		log:     log,
		sink:    sink,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}, nil
}

// SetClock replaces the time source used for server timestamps.
func (s *Service) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Service) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// Create stores a new delivery in pending_assignment with one history entry
// recording the creation.
func (s *Service) Create(ctx context.Context, n NewDelivery, actor Actor) (*model.Delivery, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	now := s.clock()
	pickup := n.PickupLocation.Clone()
	note := n.Note
	if note == "" {
		note = "delivery created"
	}
	d := &model.Delivery{
		ID:                  s.newID(),
		OrderID:             n.OrderID,
		StoreID:             n.StoreID,
		CustomerID:          n.CustomerID,
		Status:              model.StatusPendingAssignment,
		PickupLocation:      pickup,
		DestinationLocation: n.DestinationLocation.Clone(),
		DeliveryCost:        n.DeliveryCost,
		Priority:            n.Priority,
		DeliveryDistanceKm:  n.DeliveryDistanceKm,
		DeliveryDurationMin: n.DeliveryDurationMin,
		TrackingHistory: []model.TrackingEntry{{
			Status:    model.StatusPendingAssignment,
			Location:  &pickup,
			Note:      note,
			Actor:     actor.ID,
			Timestamp: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if n.EstimatedDeliveryTime != nil {
		eta := *n.EstimatedDeliveryTime
		d.EstimatedDeliveryTime = &eta
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create delivery for order %s: %w", n.OrderID, err)
	}
	s.log.Infow("delivery created", map[string]any{"delivery_id": d.ID, "order_id": d.OrderID, "store_id": d.StoreID})
	return d, nil
}

// Get returns the delivery with the given id.
func (s *Service) Get(ctx context.Context, id string) (*model.Delivery, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get delivery %s: %w", id, err)
	}
	return d, nil
}

// History returns the full tracking history of a delivery.
func (s *Service) History(ctx context.Context, id string) ([]model.TrackingEntry, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.TrackingHistory, nil
}

// List returns deliveries matching q.
func (s *Service) List(ctx context.Context, q Query) ([]*model.Delivery, error) {
	return s.store.List(ctx, q)
}

// Pending returns every delivery waiting for a driver, oldest first.
func (s *Service) Pending(ctx context.Context) ([]*model.Delivery, error) {
	return s.store.List(ctx, Query{Statuses: []model.Status{model.StatusPendingAssignment}})
}

// NearbyPending returns pending deliveries whose pickup lies within radiusKm
// of p, nearest first.
func (s *Service) NearbyPending(ctx context.Context, p model.Location, radiusKm float64) ([]*model.Delivery, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if radiusKm <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive", ErrValidation)
	}
	return s.store.NearPickup(ctx, p, radiusKm, model.StatusPendingAssignment)
}

// UpdateStatus moves a delivery to u.Status. Repeating the current status is
// a no-op apart from the optional location and estimate. Terminal statuses
// release the assigned driver.
func (s *Service) UpdateStatus(ctx context.Context, id string, u StatusUpdate, actor Actor) (Transition, error) {
	if err := u.validate(); err != nil {
		return Transition{}, err
	}
	now := s.clock()
	var (
		from    model.Status
		applied bool
	)
	d, err := s.store.Update(ctx, id, func(d *model.Delivery) error {
		if err := authorize(d, actor, u.Status); err != nil {
			return err
		}
		from = d.Status
		ok, err := applyStatus(d, u, actor, now)
		applied = ok
		return err
	})
	if err != nil {
		return Transition{}, fmt.Errorf("update status of delivery %s: %w", id, err)
	}
	t := Transition{Delivery: d, From: from, Applied: applied}
	if !applied {
		return t, nil
	}
	s.recordTransition(t, actor, now)
	s.log.Infow("delivery status updated", map[string]any{
		"delivery_id": d.ID, "from": string(from), "to": string(d.Status), "actor": actor.ID,
	})
	if d.Status.Terminal() && d.DriverID != "" {
		if err := s.ReleaseDriver(ctx, d.DriverID, d.ID); err != nil {
			s.log.Errorw("release driver", err, map[string]any{"delivery_id": d.ID, "driver_id": d.DriverID})
		}
	}
	return t, nil
}

// UpdateCurrentLocation overwrites the live position of an active delivery.
// It never appends to the tracking history.
func (s *Service) UpdateCurrentLocation(ctx context.Context, id string, loc model.Location, actor Actor) (*model.Delivery, error) {
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	now := s.clock()
	d, err := s.store.Update(ctx, id, func(d *model.Delivery) error {
		if err := authorize(d, actor, ""); err != nil {
			return err
		}
		if d.Status.Terminal() {
			return fmt.Errorf("%w: delivery is %s", ErrConflict, d.Status)
		}
		setCurrentLocation(d, loc, now)
		d.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update location of delivery %s: %w", id, err)
	}
	if rec, ok := s.sink.(metrics.LocationRecorder); ok {
		if err := rec.RecordLocation(metrics.LocationEvent{
			DeliveryID: d.ID, DriverID: d.DriverID, Lat: loc.Lat(), Lng: loc.Lng(), Time: now,
		}); err != nil {
			s.log.Warnf("record location: %v", err)
		}
	}
	return d, nil
}

// AssignOption customises AssignDriver.
type AssignOption func(*assignOptions)

type assignOptions struct {
	note        string
	waitedTicks int
	distanceKm  float64
}

// WithNote sets the tracking history note of the assignment.
func WithNote(note string) AssignOption { return func(o *assignOptions) { o.note = note } }

// WithWaitedTicks records how many scheduler ticks the delivery waited.
func WithWaitedTicks(n int) AssignOption { return func(o *assignOptions) { o.waitedTicks = n } }

// WithDistance records the driver to pickup distance found by the caller.
func WithDistance(km float64) AssignOption { return func(o *assignOptions) { o.distanceKm = km } }

// AssignDriver claims driverID and binds it to a pending delivery through the
// driver_assigned transition. The claim is released if the delivery update
// fails.
func (s *Service) AssignDriver(ctx context.Context, id, driverID string, actor Actor, opts ...AssignOption) (Transition, error) {
	if strings.TrimSpace(driverID) == "" {
		return Transition{}, fmt.Errorf("%w: driverId is required", ErrValidation)
	}
	if !actor.Dispatcher {
		return Transition{}, fmt.Errorf("%w: only dispatchers assign drivers", ErrUnauthorized)
	}
	o := assignOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.note == "" {
		o.note = "assigned to driver " + driverID
	}

	drv, err := s.claimDriver(ctx, driverID, id)
	if err != nil {
		return Transition{}, fmt.Errorf("assign delivery %s: %w", id, err)
	}
	busy, err := s.HasActiveDelivery(ctx, driverID)
	if err == nil && busy {
		err = fmt.Errorf("%w: driver %s already holds an active delivery", ErrDriverUnavailable, driverID)
	}
	if err != nil {
		s.releaseClaim(ctx, driverID, id)
		return Transition{}, fmt.Errorf("assign delivery %s: %w", id, err)
	}

	now := s.clock()
	var from model.Status
	d, err := s.store.Update(ctx, id, func(d *model.Delivery) error {
		if d.Status != model.StatusPendingAssignment || d.DriverID != "" {
			return fmt.Errorf("%w: delivery is %s", ErrInvalidTransition, d.Status)
		}
		from = d.Status
		d.DriverID = driverID
		_, err := applyStatus(d, StatusUpdate{Status: model.StatusDriverAssigned, Note: o.note}, actor, now)
		return err
	})
	if err != nil {
		s.releaseClaim(ctx, driverID, id)
		return Transition{}, fmt.Errorf("assign delivery %s: %w", id, err)
	}

	t := Transition{Delivery: d, From: from, Applied: true}
	s.recordTransition(t, actor, now)
	if o.distanceKm == 0 && drv.Location != nil {
		o.distanceKm = model.DistanceKm(drv.Location.Location, d.PickupLocation)
	}
	if rec, ok := s.sink.(metrics.AssignmentRecorder); ok {
		if err := rec.RecordAssignment(metrics.AssignmentEvent{
			DeliveryID:  d.ID,
			DriverID:    driverID,
			DistanceKm:  o.distanceKm,
			Automatic:   actor.ID == SystemActorID,
			WaitedTicks: o.waitedTicks,
			Time:        now,
		}); err != nil {
			s.log.Warnf("record assignment: %v", err)
		}
	}
	s.log.Infow("driver assigned", map[string]any{"delivery_id": d.ID, "driver_id": driverID, "actor": actor.ID})
	return t, nil
}

// claimDriver marks the driver busy on behalf of deliveryID. The claim
// survives availability changes until ReleaseDriver clears it.
func (s *Service) claimDriver(ctx context.Context, id, deliveryID string) (*model.Driver, error) {
	now := s.clock()
	return s.drivers.UpdateDriver(ctx, id, func(d *model.Driver) error {
		if d.ActiveDeliveryID != "" {
			return fmt.Errorf("%w: driver %s is claimed by delivery %s", ErrDriverUnavailable, d.ID, d.ActiveDeliveryID)
		}
		if !d.IsAvailable() {
			return fmt.Errorf("%w: driver %s is %s", ErrDriverUnavailable, d.ID, d.Status)
		}
		d.Status = model.DriverBusy
		d.ActiveDeliveryID = deliveryID
		d.UpdatedAt = now
		return nil
	})
}

func (s *Service) releaseClaim(ctx context.Context, id, deliveryID string) {
	if err := s.ReleaseDriver(ctx, id, deliveryID); err != nil {
		s.log.Errorw("release driver claim", err, map[string]any{"driver_id": id, "delivery_id": deliveryID})
	}
}

// ReleaseDriver drops the claim deliveryID holds on the driver and makes a
// busy driver available again. Offline drivers stay offline. A claim held by
// another delivery is left untouched.
func (s *Service) ReleaseDriver(ctx context.Context, id, deliveryID string) error {
	now := s.clock()
	_, err := s.drivers.UpdateDriver(ctx, id, func(d *model.Driver) error {
		if d.ActiveDeliveryID != "" && d.ActiveDeliveryID != deliveryID {
			return nil
		}
		d.ActiveDeliveryID = ""
		if d.Status == model.DriverBusy {
			d.Status = model.DriverAvailable
		}
		d.UpdatedAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("release driver %s: %w", id, err)
	}
	return nil
}

// HasActiveDelivery reports whether the driver is referenced by any
// non-terminal delivery.
func (s *Service) HasActiveDelivery(ctx context.Context, driverID string) (bool, error) {
	ds, err := s.store.List(ctx, Query{DriverID: driverID, Statuses: activeStatuses(), Limit: 1})
	if err != nil {
		return false, err
	}
	return len(ds) > 0, nil
}

func activeStatuses() []model.Status {
	var out []model.Status
	for _, st := range model.Statuses() {
		if !st.Terminal() {
			out = append(out, st)
		}
	}
	return out
}

// GetDriver returns the driver record.
func (s *Service) GetDriver(ctx context.Context, id string) (*model.Driver, error) {
	d, err := s.drivers.GetDriver(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get driver %s: %w", id, err)
	}
	return d, nil
}

// SetDriverStatus sets the driver state, creating the record on first use.
// A claimed driver asking to be available stays busy until its delivery
// ends.
func (s *Service) SetDriverStatus(ctx context.Context, id string, status model.DriverStatus) (*model.Driver, error) {
	if _, err := model.ParseDriverStatus(string(status)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	now := s.clock()
	return s.upsertDriver(ctx, id, now, func(d *model.Driver) {
		if status == model.DriverAvailable && d.ActiveDeliveryID != "" {
			d.Status = model.DriverBusy
			return
		}
		d.Status = status
	})
}

// SetDriverAvailability maps an availability flag onto the driver state.
// It never touches deliveries in progress.
func (s *Service) SetDriverAvailability(ctx context.Context, id string, available bool) (*model.Driver, error) {
	st := model.DriverOffline
	if available {
		st = model.DriverAvailable
	}
	return s.SetDriverStatus(ctx, id, st)
}

// UpdateDriverLocation records the driver's own position.
func (s *Service) UpdateDriverLocation(ctx context.Context, id string, loc model.Location) (*model.Driver, error) {
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	now := s.clock()
	return s.upsertDriver(ctx, id, now, func(d *model.Driver) {
		last := now
		if d.Location != nil && d.Location.LastUpdated.After(last) {
			last = d.Location.LastUpdated
		}
		if loc.RecordedAt != nil && loc.RecordedAt.After(last) {
			last = *loc.RecordedAt
		}
		d.Location = &model.CurrentLocation{Location: loc.Clone(), LastUpdated: last}
	})
}

// NearbyDrivers returns available drivers around p, nearest first.
func (s *Service) NearbyDrivers(ctx context.Context, p model.Location, radiusKm float64) ([]model.DriverDistance, error) {
	return s.drivers.NearbyDrivers(ctx, p, radiusKm)
}

func (s *Service) upsertDriver(ctx context.Context, id string, now time.Time, edit func(*model.Driver)) (*model.Driver, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: driver id is required", ErrValidation)
	}
	update := func() (*model.Driver, error) {
		return s.drivers.UpdateDriver(ctx, id, func(d *model.Driver) error {
			edit(d)
			d.UpdatedAt = now
			return nil
		})
	}
	d, err := update()
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("update driver %s: %w", id, err)
	}
	// First sighting: concurrent writers race on the insert, then every one
	// of them applies its edit through the locked update.
	if _, err := s.drivers.InsertDriver(ctx, &model.Driver{ID: id, Status: model.DriverOffline, UpdatedAt: now}); err != nil {
		return nil, fmt.Errorf("create driver %s: %w", id, err)
	}
	d, err = update()
	if err != nil {
		return nil, fmt.Errorf("update driver %s: %w", id, err)
	}
	return d, nil
}

func (s *Service) recordTransition(t Transition, actor Actor, now time.Time) {
	d := t.Delivery
	if err := s.sink.RecordTransition(metrics.TransitionEvent{
		DeliveryID: d.ID,
		DriverID:   d.DriverID,
		StoreID:    d.StoreID,
		From:       t.From,
		To:         d.Status,
		Actor:      actor.ID,
		Time:       now,
	}); err != nil {
		s.log.Warnf("record transition: %v", err)
	}
}
