// Package channel defines the real-time fan-out contract: identity scoped
// channel names, the JSON event envelope exchanged with connected clients and
// the registry interface implemented by the in-process and MQTT backends.
package channel

import (
	"context"
	"errors"
	"strings"
)

// Name identifies a publish/subscribe destination such as driver_42.
type Name string

// Role is a declared role of an authenticated identity.
type Role string

const (
	RoleDriver     Role = "driver"
	RoleCustomer   Role = "customer"
	RoleStore      Role = "store"
	RoleDispatcher Role = "dispatcher"
)

// For returns the channel of identity id under role. Dispatchers have no
// channel of their own.
func For(role Role, id string) (Name, bool) {
	switch role {
	case RoleDriver, RoleCustomer, RoleStore:
		if id == "" {
			return "", false
		}
		return Name(string(role) + "_" + id), true
	default:
		return "", false
	}
}

// Driver returns the channel of a driver.
func Driver(id string) Name { return Name("driver_" + id) }

// Customer returns the channel of a customer.
func Customer(id string) Name { return Name("customer_" + id) }

// Store returns the channel of a store.
func Store(id string) Name { return Name("store_" + id) }

// Parse splits a channel name into role and identity.
func Parse(n Name) (Role, string, bool) {
	role, id, ok := strings.Cut(string(n), "_")
	if !ok || id == "" {
		return "", "", false
	}
	switch Role(role) {
	case RoleDriver, RoleCustomer, RoleStore:
		return Role(role), id, true
	default:
		return "", "", false
	}
}

// ErrClosed is returned by a registry after Close.
var ErrClosed = errors.New("channel registry closed")

// Message is an event received on one of a subscription's channels.
type Message struct {
	Channel Name
	Event   Event
}

// Subscription receives events published to any of its channels.
type Subscription interface {
	// C is closed once the subscription ends.
	C() <-chan Message
	Channels() []Name
	// Unsubscribe is idempotent.
	Unsubscribe()
}

// Registry maps channels to live subscribers. Publish never blocks on a slow
// subscriber: events that do not fit its buffer are dropped.
type Registry interface {
	Subscribe(channels ...Name) (Subscription, error)
	Publish(ctx context.Context, ev Event, channels ...Name) error
	Close() error
}
