package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/lastmile/core/model"
)

// Event names. The first three flow from drivers to the system.
const (
	EventLocationUpdate         = "location_update"
	EventStatusUpdate           = "status_update"
	EventAvailabilityUpdate     = "availability_update"
	EventDeliveryLocationUpdate = "delivery_location_update"
	EventDeliveryStatusUpdate   = "delivery_status_update"
	EventNewDeliveryAssigned    = "new_delivery_assigned"
	EventError                  = "error"
)

// Event is the wire envelope {"event": name, "data": payload}.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes payload into an envelope.
func NewEvent(name string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return Event{Name: name, Data: b}, nil
}

// ErrorEvent builds an error event carrying msg.
func ErrorEvent(msg string) Event {
	ev, _ := NewEvent(EventError, ErrorPayload{Message: msg})
	return ev
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: missing data", e.Name)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Name, err)
	}
	return nil
}

// LocationUpdate is sent by a driver while moving.
type LocationUpdate struct {
	DeliveryID string         `json:"deliveryId"`
	Location   model.Location `json:"location"`
}

// StatusUpdate is sent by a driver to advance a delivery.
type StatusUpdate struct {
	DeliveryID            string          `json:"deliveryId"`
	Status                model.Status    `json:"status"`
	Location              *model.Location `json:"location,omitempty"`
	Note                  string          `json:"note,omitempty"`
	EstimatedDeliveryTime *time.Time      `json:"estimatedDeliveryTime,omitempty"`
}

// AvailabilityUpdate toggles whether the driver takes new work.
type AvailabilityUpdate struct {
	IsAvailable bool `json:"isAvailable"`
}

// DeliveryLocationUpdate is pushed to the customer and the store.
type DeliveryLocationUpdate struct {
	DeliveryID string                `json:"deliveryId"`
	Location   model.CurrentLocation `json:"location"`
}

// DeliveryStatusUpdate is pushed to the customer and the store.
type DeliveryStatusUpdate struct {
	DeliveryID            string          `json:"deliveryId"`
	Status                model.Status    `json:"status"`
	Location              *model.Location `json:"location,omitempty"`
	Note                  string          `json:"note,omitempty"`
	EstimatedDeliveryTime *time.Time      `json:"estimatedDeliveryTime,omitempty"`
	Timestamp             time.Time       `json:"timestamp"`
}

// NewDeliveryAssigned is pushed to the assigned driver only.
type NewDeliveryAssigned struct {
	DeliveryID  string         `json:"deliveryId"`
	Pickup      model.Location `json:"pickup"`
	Destination model.Location `json:"destination"`
	CustomerID  string         `json:"customerId"`
	StoreID     string         `json:"storeId,omitempty"`
}

// ErrorPayload reports a failed inbound event to its sender.
type ErrorPayload struct {
	Message string `json:"message"`
	// Event names the inbound event that failed, when known.
	Event string `json:"event,omitempty"`
}
