package model

import "time"

// TrackingEntry is one line of a delivery's audit trail.
type TrackingEntry struct {
	Status    Status    `json:"status"`
	Location  *Location `json:"location,omitempty"`
	Note      string    `json:"note,omitempty"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// Delivery tracks the fulfillment of a single order.
type Delivery struct {
	ID         string `json:"id"`
	OrderID    string `json:"orderId"`
	DriverID   string `json:"driverId,omitempty"`
	StoreID    string `json:"storeId,omitempty"`
	CustomerID string `json:"customerId,omitempty"`

	Status              Status           `json:"status"`
	PickupLocation      Location         `json:"pickupLocation"`
	DestinationLocation Location         `json:"destinationLocation"`
	CurrentLocation     *CurrentLocation `json:"currentLocation,omitempty"`

	EstimatedDeliveryTime *time.Time      `json:"estimatedDeliveryTime,omitempty"`
	TrackingHistory       []TrackingEntry `json:"trackingHistory"`

	PickupTime       *time.Time `json:"pickupTime,omitempty"`
	DeliveryTime     *time.Time `json:"deliveryTime,omitempty"`
	CancellationTime *time.Time `json:"cancellationTime,omitempty"`

	DeliveryCost        float64 `json:"deliveryCost"`
	Priority            int     `json:"priority"`
	DeliveryDistanceKm  float64 `json:"deliveryDistanceKm,omitempty"`
	DeliveryDurationMin float64 `json:"deliveryDurationMin,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Active reports whether the delivery has not reached a terminal state.
func (d *Delivery) Active() bool { return !d.Status.Terminal() }

// InvolvesParty reports whether id is the driver, store or customer of d.
func (d *Delivery) InvolvesParty(id string) bool {
	return id != "" && (id == d.DriverID || id == d.StoreID || id == d.CustomerID)
}

// TerminalAt returns the time the delivery reached its terminal state, or
// nil while it is still active.
func (d *Delivery) TerminalAt() *time.Time {
	switch d.Status {
	case StatusDelivered:
		if d.DeliveryTime != nil {
			return d.DeliveryTime
		}
	case StatusCancelled:
		if d.CancellationTime != nil {
			return d.CancellationTime
		}
	case StatusFailedDelivery:
	default:
		return nil
	}
	for i := len(d.TrackingHistory) - 1; i >= 0; i-- {
		if d.TrackingHistory[i].Status == d.Status {
			ts := d.TrackingHistory[i].Timestamp
			return &ts
		}
	}
	ts := d.UpdatedAt
	return &ts
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (d *Delivery) Clone() *Delivery {
	if d == nil {
		return nil
	}
	c := *d
	c.PickupLocation = d.PickupLocation.Clone()
	c.DestinationLocation = d.DestinationLocation.Clone()
	if d.CurrentLocation != nil {
		cl := *d.CurrentLocation
		cl.Location = d.CurrentLocation.Location.Clone()
		c.CurrentLocation = &cl
	}
	c.EstimatedDeliveryTime = cloneTime(d.EstimatedDeliveryTime)
	c.PickupTime = cloneTime(d.PickupTime)
	c.DeliveryTime = cloneTime(d.DeliveryTime)
	c.CancellationTime = cloneTime(d.CancellationTime)
	c.TrackingHistory = make([]TrackingEntry, len(d.TrackingHistory))
	for i, e := range d.TrackingHistory {
		if e.Location != nil {
			l := e.Location.Clone()
			e.Location = &l
		}
		c.TrackingHistory[i] = e
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
