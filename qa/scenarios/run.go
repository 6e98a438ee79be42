package scenarios

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/kilianp07/lastmile/core/channel"
	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/scheduler"
	"github.com/kilianp07/lastmile/core/tracking"
	"github.com/kilianp07/lastmile/infra/logger"
	"github.com/kilianp07/lastmile/infra/store/memory"
	"github.com/kilianp07/lastmile/internal/eventbus"
)

// SeedActor creates scenario deliveries.
var SeedActor = delivery.Actor{ID: "seed", Dispatcher: true}

// Seeder is the part of the mutation API a scenario needs.
type Seeder interface {
	Create(ctx context.Context, n delivery.NewDelivery, actor delivery.Actor) (*model.Delivery, error)
	SetDriverStatus(ctx context.Context, id string, status model.DriverStatus) (*model.Driver, error)
	UpdateDriverLocation(ctx context.Context, id string, loc model.Location) (*model.Driver, error)
}

// SeedDriver creates or updates one driver.
func SeedDriver(ctx context.Context, s Seeder, d DriverDef) error {
	st := model.DriverAvailable
	if d.Status != "" {
		st = model.DriverStatus(d.Status)
	}
	if _, err := s.SetDriverStatus(ctx, d.ID, st); err != nil {
		return fmt.Errorf("driver %s: %w", d.ID, err)
	}
	if d.Location != nil {
		if _, err := s.UpdateDriverLocation(ctx, d.ID, d.Location.ToModel()); err != nil {
			return fmt.Errorf("driver %s: %w", d.ID, err)
		}
	}
	return nil
}

// Apply seeds the drivers and deliveries of sc, oldest delivery first, and
// returns the created deliveries by order id.
func Apply(ctx context.Context, s Seeder, sc *Scenario) (map[string]*model.Delivery, error) {
	for _, d := range sc.Drivers {
		if err := SeedDriver(ctx, s, d); err != nil {
			return nil, err
		}
	}
	defs := append([]DeliveryDef(nil), sc.Deliveries...)
	sort.SliceStable(defs, func(i, j int) bool { return offset(defs[i]) < offset(defs[j]) })
	out := make(map[string]*model.Delivery, len(defs))
	for _, def := range defs {
		d, err := s.Create(ctx, def.ToModel(), SeedActor)
		if err != nil {
			return nil, err
		}
		out[def.OrderID] = d
	}
	return out, nil
}

// RunScenario plays sc against an in-memory store and checks the expected
// outcome.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	svc, err := delivery.NewService(st, st, logger.NopLogger{}, nil)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	base := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	now := base
	svc.SetClock(func() time.Time { return now })

	bus := eventbus.New()
	defer func() { _ = bus.Close() }()
	notifier, err := tracking.NewNotifier(bus)
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	sched, err := scheduler.New(sc.Assignment, svc, notifier, logger.NopLogger{}, nil)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}

	driverChannels := make([]channel.Name, 0, len(sc.Drivers))
	for _, d := range sc.Drivers {
		if err := SeedDriver(ctx, svc, d); err != nil {
			t.Fatalf("seed: %v", err)
		}
		driverChannels = append(driverChannels, channel.Driver(d.ID))
	}
	sub, err := bus.Subscribe(driverChannels...)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	byOrder := map[string]string{}
	for _, def := range sc.Deliveries {
		now = base.Add(offset(def))
		d, err := svc.Create(ctx, def.ToModel(), SeedActor)
		if err != nil {
			t.Fatalf("create %s: %v", def.OrderID, err)
		}
		byOrder[def.OrderID] = d.ID
	}

	assignedAt := map[string]int{}
	for tick := 1; tick <= sc.Ticks; tick++ {
		now = base.Add(time.Hour + time.Duration(tick)*time.Minute)
		for _, m := range sc.Moves {
			if m.BeforeTick != tick {
				continue
			}
			if err := SeedDriver(ctx, svc, DriverDef{ID: m.Driver, Status: m.Status, Location: m.Location}); err != nil {
				t.Fatalf("move: %v", err)
			}
		}
		if _, err := sched.Tick(ctx); err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		for order, id := range byOrder {
			if _, done := assignedAt[order]; done {
				continue
			}
			d, err := svc.Get(ctx, id)
			if err != nil {
				t.Fatalf("get %s: %v", order, err)
			}
			if d.DriverID != "" {
				assignedAt[order] = tick
			}
		}
	}

	assigned, pending := 0, 0
	for order, id := range byOrder {
		d, err := svc.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", order, err)
		}
		switch {
		case d.DriverID != "":
			assigned++
		case d.Status == model.StatusPendingAssignment:
			pending++
		}
		if want, ok := sc.Expected.Assignments[order]; ok && d.DriverID != want {
			t.Errorf("scenario %s: order %s went to %q, want %q", sc.Name, order, d.DriverID, want)
		}
		if want, ok := sc.Expected.AssignedAtTick[order]; ok && assignedAt[order] != want {
			t.Errorf("scenario %s: order %s assigned at tick %d, want %d", sc.Name, order, assignedAt[order], want)
		}
	}
	if assigned != sc.Expected.Assigned {
		t.Errorf("scenario %s expected %d assigned, got %d", sc.Name, sc.Expected.Assigned, assigned)
	}
	if pending != sc.Expected.Pending {
		t.Errorf("scenario %s expected %d pending, got %d", sc.Name, sc.Expected.Pending, pending)
	}

	notified := 0
	for {
		select {
		case m := <-sub.C():
			if m.Event.Name == channel.EventNewDeliveryAssigned {
				notified++
			}
			continue
		default:
		}
		break
	}
	if notified != assigned {
		t.Errorf("scenario %s: %d assignment notifications for %d assignments", sc.Name, notified, assigned)
	}
}
