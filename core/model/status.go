package model

import "fmt"

// Status is the lifecycle state of a delivery.
type Status string

const (
	StatusPendingAssignment    Status = "pending_assignment"
	StatusDriverAssigned       Status = "driver_assigned"
	StatusPickedUp             Status = "picked_up"
	StatusInTransit            Status = "in_transit"
	StatusArrivedAtDestination Status = "arrived_at_destination"
	StatusDelivered            Status = "delivered"
	StatusFailedDelivery       Status = "failed_delivery"
	StatusCancelled            Status = "cancelled"
)

// transitions lists, for every state, the states it may move to. Terminal
// states map to an empty set.
var transitions = map[Status][]Status{
	StatusPendingAssignment:    {StatusDriverAssigned, StatusFailedDelivery, StatusCancelled},
	StatusDriverAssigned:       {StatusPickedUp, StatusFailedDelivery, StatusCancelled},
	StatusPickedUp:             {StatusInTransit, StatusFailedDelivery, StatusCancelled},
	StatusInTransit:            {StatusArrivedAtDestination, StatusFailedDelivery, StatusCancelled},
	StatusArrivedAtDestination: {StatusDelivered, StatusFailedDelivery, StatusCancelled},
	StatusDelivered:            {},
	StatusFailedDelivery:       {},
	StatusCancelled:            {},
}

// Statuses returns every known status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusPendingAssignment,
		StatusDriverAssigned,
		StatusPickedUp,
		StatusInTransit,
		StatusArrivedAtDestination,
		StatusDelivered,
		StatusFailedDelivery,
		StatusCancelled,
	}
}

// ParseStatus converts s into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown delivery status %q", s)
	}
	return st, nil
}

// Valid reports whether s is a member of the status enum.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether the graph allows moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Next returns a copy of the states reachable from s.
func (s Status) Next() []Status {
	return append([]Status(nil), transitions[s]...)
}

func (s Status) String() string { return string(s) }
