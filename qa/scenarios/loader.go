// Package scenarios describes dispatch situations in YAML: drivers,
// deliveries, driver moves between scheduler ticks and the expected
// outcome. The same files seed a running service.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/scheduler"
)

type Point struct {
	Lat     float64 `yaml:"lat"`
	Lng     float64 `yaml:"lng"`
	Address string  `yaml:"address,omitempty"`
}

func (p Point) ToModel() model.Location { return model.NewLocation(p.Lat, p.Lng, p.Address) }

type DriverDef struct {
	ID string `yaml:"id"`
	// Status defaults to available.
	Status   string `yaml:"status,omitempty"`
	Location *Point `yaml:"location,omitempty"`
}

type DeliveryDef struct {
	OrderID     string  `yaml:"order_id"`
	StoreID     string  `yaml:"store_id"`
	CustomerID  string  `yaml:"customer_id"`
	Pickup      Point   `yaml:"pickup"`
	Destination Point   `yaml:"destination"`
	Cost        float64 `yaml:"cost"`
	Priority    int     `yaml:"priority"`
	// CreatedOffsetSeconds shifts the creation time to order the queue.
	CreatedOffsetSeconds int `yaml:"created_offset_seconds,omitempty"`
}

func (d DeliveryDef) ToModel() delivery.NewDelivery {
	return delivery.NewDelivery{
		OrderID:             d.OrderID,
		StoreID:             d.StoreID,
		CustomerID:          d.CustomerID,
		PickupLocation:      d.Pickup.ToModel(),
		DestinationLocation: d.Destination.ToModel(),
		DeliveryCost:        d.Cost,
		Priority:            d.Priority,
	}
}

// Move changes a driver before the given tick (1-based).
type Move struct {
	BeforeTick int    `yaml:"before_tick"`
	Driver     string `yaml:"driver"`
	Status     string `yaml:"status,omitempty"`
	Location   *Point `yaml:"location,omitempty"`
}

type Expected struct {
	Assigned int `yaml:"assigned"`
	Pending  int `yaml:"pending"`
	// Assignments maps an order to the driver it must end up with.
	Assignments map[string]string `yaml:"assignments,omitempty"`
	// AssignedAtTick maps an order to the tick that assigned it.
	AssignedAtTick map[string]int `yaml:"assigned_at_tick,omitempty"`
}

type Scenario struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Assignment  scheduler.Config `yaml:"assignment"`
	Drivers     []DriverDef      `yaml:"drivers"`
	Deliveries  []DeliveryDef    `yaml:"deliveries"`
	Moves       []Move           `yaml:"moves,omitempty"`
	Ticks       int              `yaml:"ticks"`
	Expected    Expected         `yaml:"expected"`
}

// Load reads and checks a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if sc.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	sc.Assignment.SetDefaults()
	if err := sc.Assignment.Validate(); err != nil {
		return err
	}
	drivers := map[string]bool{}
	for _, d := range sc.Drivers {
		if d.ID == "" {
			return fmt.Errorf("driver without id")
		}
		if d.Status != "" {
			if _, err := model.ParseDriverStatus(d.Status); err != nil {
				return err
			}
		}
		drivers[d.ID] = true
	}
	for _, m := range sc.Moves {
		if !drivers[m.Driver] {
			return fmt.Errorf("move of unknown driver %q", m.Driver)
		}
		if m.BeforeTick < 1 || m.BeforeTick > sc.Ticks {
			return fmt.Errorf("move of %s before tick %d outside 1..%d", m.Driver, m.BeforeTick, sc.Ticks)
		}
	}
	return nil
}

func offset(d DeliveryDef) time.Duration {
	return time.Duration(d.CreatedOffsetSeconds) * time.Second
}
