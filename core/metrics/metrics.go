package metrics

import (
	"time"

	"github.com/kilianp07/lastmile/core/model"
)

// TransitionEvent is an applied delivery status change.
type TransitionEvent struct {
	DeliveryID string
	DriverID   string
	StoreID    string
	From       model.Status
	To         model.Status
	Actor      string
	Time       time.Time
}

// Sink records delivery events for observability purposes.
type Sink interface {
	RecordTransition(ev TransitionEvent) error
}

// LocationEvent is a position report for a delivery in progress.
type LocationEvent struct {
	DeliveryID string
	DriverID   string
	Lat        float64
	Lng        float64
	Time       time.Time
}

// LocationRecorder records location updates.
type LocationRecorder interface {
	RecordLocation(ev LocationEvent) error
}

// AssignmentEvent is a driver assignment produced by the scheduler or a
// dispatcher.
type AssignmentEvent struct {
	DeliveryID string
	DriverID   string
	DistanceKm float64
	// Automatic is true when the scheduler made the assignment.
	Automatic bool
	// WaitedTicks is the number of ticks the delivery stayed unassigned.
	WaitedTicks int
	Time        time.Time
}

// AssignmentRecorder records assignments.
type AssignmentRecorder interface {
	RecordAssignment(ev AssignmentEvent) error
}

// TickEvent summarises one scheduler tick.
type TickEvent struct {
	Scanned    int
	Assigned   int
	Unassigned int
	Boosted    int
	Errors     int
	Duration   time.Duration
	Time       time.Time
}

// TickRecorder records scheduler ticks.
type TickRecorder interface {
	RecordTick(ev TickEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordTransition(TransitionEvent) error { return nil }
func (NopSink) RecordLocation(LocationEvent) error     { return nil }
func (NopSink) RecordAssignment(AssignmentEvent) error { return nil }
func (NopSink) RecordTick(TickEvent) error             { return nil }
