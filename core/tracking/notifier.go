package tracking

import (
	"context"
	"fmt"

	"github.com/kilianp07/lastmile/core/channel"
	"github.com/kilianp07/lastmile/core/model"
)

// Notifier pushes system-originated events.
type Notifier struct {
	reg channel.Registry
}

// NewNotifier returns a Notifier publishing on reg.
func NewNotifier(reg channel.Registry) (*Notifier, error) {
	if reg == nil {
		return nil, fmt.Errorf("tracking: nil registry")
	}
	return &Notifier{reg: reg}, nil
}

// NotifyAssigned sends new_delivery_assigned to the assigned driver only.
func (n *Notifier) NotifyAssigned(ctx context.Context, d *model.Delivery) error {
	if d.DriverID == "" {
		return fmt.Errorf("tracking: delivery %s has no driver", d.ID)
	}
	ev, err := channel.NewEvent(channel.EventNewDeliveryAssigned, channel.NewDeliveryAssigned{
		DeliveryID:  d.ID,
		Pickup:      d.PickupLocation,
		Destination: d.DestinationLocation,
		CustomerID:  d.CustomerID,
		StoreID:     d.StoreID,
	})
	if err != nil {
		return err
	}
	return n.reg.Publish(ctx, ev, channel.Driver(d.DriverID))
}

// NotifyStatus sends delivery_status_update for d to its customer and store.
func (n *Notifier) NotifyStatus(ctx context.Context, d *model.Delivery) error {
	to := partyChannels(d)
	if len(to) == 0 {
		return nil
	}
	return n.reg.Publish(ctx, StatusEvent(d), to...)
}
