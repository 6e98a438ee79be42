package delivery

import (
	"fmt"
	"time"

	"github.com/kilianp07/lastmile/core/model"
)

// SystemActorID identifies mutations performed by the scheduler.
const SystemActorID = "system"

// Actor identifies who performs a mutation. Dispatchers may act on any
// delivery; everyone else must be the assigned driver.
type Actor struct {
	ID         string
	Dispatcher bool
}

// SystemActor is the actor used for automatic assignment.
var SystemActor = Actor{ID: SystemActorID, Dispatcher: true}

// StatusUpdate is a requested transition.
type StatusUpdate struct {
	Status                model.Status
	Location              *model.Location
	Note                  string
	EstimatedDeliveryTime *time.Time
}

func (u StatusUpdate) validate() error {
	if !u.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, u.Status)
	}
	if u.Location != nil {
		if err := u.Location.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return nil
}

// Transition reports the outcome of a status update.
type Transition struct {
	Delivery *model.Delivery
	From     model.Status
	// Applied is false when the update repeated the current status.
	Applied bool
}

func authorize(d *model.Delivery, actor Actor, target model.Status) error {
	if actor.Dispatcher {
		return nil
	}
	if d.DriverID != "" && d.DriverID == actor.ID {
		return nil
	}
	// The store and the customer may call off their own delivery.
	if target == model.StatusCancelled && actor.ID != "" && (actor.ID == d.StoreID || actor.ID == d.CustomerID) {
		return nil
	}
	return fmt.Errorf("%w: %s is not the assigned driver of delivery %s", ErrUnauthorized, actor.ID, d.ID)
}

// applyStatus performs the in-record part of a status update. It is shared by
// UpdateStatus and AssignDriver so both record transitions identically.
func applyStatus(d *model.Delivery, u StatusUpdate, actor Actor, now time.Time) (bool, error) {
	if d.Status == u.Status {
		// A closed record is frozen: repeats are acknowledged but change
		// nothing.
		if !d.Status.Terminal() {
			applyExtras(d, u, now)
		}
		return false, nil
	}
	if !d.Status.CanTransitionTo(u.Status) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, u.Status)
	}
	if u.Status == model.StatusDriverAssigned && d.DriverID == "" {
		return false, fmt.Errorf("%w: %s requires a driver", ErrValidation, u.Status)
	}

	entry := model.TrackingEntry{Status: u.Status, Note: u.Note, Actor: actor.ID, Timestamp: now}
	if u.Location != nil {
		l := u.Location.Clone()
		entry.Location = &l
	}
	d.TrackingHistory = append(d.TrackingHistory, entry)
	d.Status = u.Status

	switch u.Status {
	case model.StatusPickedUp:
		d.PickupTime = stampOnce(d.PickupTime, now)
	case model.StatusDelivered:
		d.DeliveryTime = stampOnce(d.DeliveryTime, now)
	case model.StatusCancelled:
		d.CancellationTime = stampOnce(d.CancellationTime, now)
	}
	applyExtras(d, u, now)
	return true, nil
}

func applyExtras(d *model.Delivery, u StatusUpdate, now time.Time) {
	if u.Location != nil {
		setCurrentLocation(d, *u.Location, now)
	}
	if u.EstimatedDeliveryTime != nil {
		eta := *u.EstimatedDeliveryTime
		d.EstimatedDeliveryTime = &eta
	}
	d.UpdatedAt = now
}

func stampOnce(cur *time.Time, now time.Time) *time.Time {
	if cur != nil {
		return cur
	}
	t := now
	return &t
}

// setCurrentLocation overwrites the position. lastUpdated never decreases.
func setCurrentLocation(d *model.Delivery, loc model.Location, now time.Time) {
	last := now
	if d.CurrentLocation != nil && d.CurrentLocation.LastUpdated.After(last) {
		last = d.CurrentLocation.LastUpdated
	}
	if loc.RecordedAt != nil && loc.RecordedAt.After(last) {
		last = *loc.RecordedAt
	}
	d.CurrentLocation = &model.CurrentLocation{Location: loc.Clone(), LastUpdated: last}
}
