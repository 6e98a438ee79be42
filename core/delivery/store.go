package delivery

import (
	"context"
	"time"

	"github.com/kilianp07/lastmile/core/model"
)

// MutateFunc edits a delivery in place inside an atomic read-modify-write.
// Returning an error aborts the write and leaves the record untouched.
type MutateFunc func(d *model.Delivery) error

// DriverMutateFunc is the driver record counterpart of MutateFunc.
type DriverMutateFunc func(d *model.Driver) error

// Query filters deliveries. Zero values match everything.
type Query struct {
	Statuses []model.Status
	DriverID string
	StoreID  string
	// UpdatedSince keeps records updated at or after the given instant.
	UpdatedSince time.Time
	Limit        int
}

// Matches reports whether d satisfies q. Backends that cannot express a
// filter natively use it to post-filter rows.
func (q Query) Matches(d *model.Delivery) bool {
	if len(q.Statuses) > 0 {
		ok := false
		for _, s := range q.Statuses {
			if d.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if q.DriverID != "" && d.DriverID != q.DriverID {
		return false
	}
	if q.StoreID != "" && d.StoreID != q.StoreID {
		return false
	}
	if !q.UpdatedSince.IsZero() && d.UpdatedAt.Before(q.UpdatedSince) {
		return false
	}
	return true
}

// Store persists deliveries. Implementations must apply Update atomically
// per record: concurrent updates on the same id are serialized and each
// MutateFunc observes the result of the previous one.
type Store interface {
	Create(ctx context.Context, d *model.Delivery) error
	Get(ctx context.Context, id string) (*model.Delivery, error)
	Update(ctx context.Context, id string, fn MutateFunc) (*model.Delivery, error)
	// List returns matching deliveries ordered by creation time, oldest first.
	List(ctx context.Context, q Query) ([]*model.Delivery, error)
	// NearPickup returns deliveries in one of statuses whose pickup point is
	// within radiusKm of p, nearest first.
	NearPickup(ctx context.Context, p model.Location, radiusKm float64, statuses ...model.Status) ([]*model.Delivery, error)
	Close() error
}

// DriverStore persists the dispatch view of drivers.
type DriverStore interface {
	UpsertDriver(ctx context.Context, d *model.Driver) error
	// InsertDriver stores d unless a driver with the same id exists and
	// reports whether d was written.
	InsertDriver(ctx context.Context, d *model.Driver) (bool, error)
	GetDriver(ctx context.Context, id string) (*model.Driver, error)
	UpdateDriver(ctx context.Context, id string, fn DriverMutateFunc) (*model.Driver, error)
	// NearbyDrivers returns available drivers with a known location within
	// radiusKm of p, nearest first.
	NearbyDrivers(ctx context.Context, p model.Location, radiusKm float64) ([]model.DriverDistance, error)
}

// Backend bundles both stores; every shipped implementation provides both.
type Backend interface {
	Store
	DriverStore
}
