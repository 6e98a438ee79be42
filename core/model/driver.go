package model

import (
	"fmt"
	"time"
)

// DriverStatus describes whether a driver can take new work.
type DriverStatus string

const (
	DriverAvailable DriverStatus = "available"
	DriverBusy      DriverStatus = "busy"
	DriverOffline   DriverStatus = "offline"
)

// ParseDriverStatus converts s into a DriverStatus.
func ParseDriverStatus(s string) (DriverStatus, error) {
	switch DriverStatus(s) {
	case DriverAvailable, DriverBusy, DriverOffline:
		return DriverStatus(s), nil
	default:
		return "", fmt.Errorf("unknown driver status %q", s)
	}
}

// Driver is the dispatch view of a courier.
//
// ActiveDeliveryID is set while the driver is claimed by an assignment and
// cleared when that delivery reaches a terminal status. A claimed driver is
// never reported available.
type Driver struct {
	ID               string           `json:"id"`
	Status           DriverStatus     `json:"status"`
	ActiveDeliveryID string           `json:"activeDeliveryId,omitempty"`
	Location         *CurrentLocation `json:"location,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// IsAvailable reports whether the driver may receive an assignment.
func (d *Driver) IsAvailable() bool {
	return d.Status == DriverAvailable && d.ActiveDeliveryID == ""
}

// Clone returns a deep copy of d.
func (d *Driver) Clone() *Driver {
	if d == nil {
		return nil
	}
	c := *d
	if d.Location != nil {
		l := *d.Location
		l.Location = d.Location.Location.Clone()
		c.Location = &l
	}
	return &c
}

// DriverDistance pairs a driver with its distance to a query point.
type DriverDistance struct {
	Driver     *Driver
	DistanceKm float64
}
