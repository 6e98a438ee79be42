package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/logger"
	"github.com/kilianp07/lastmile/core/metrics"
	"github.com/kilianp07/lastmile/core/model"
	"github.com/kilianp07/lastmile/core/monitoring"
)

// Deliveries is the part of the mutation API the scheduler drives.
type Deliveries interface {
	Pending(ctx context.Context) ([]*model.Delivery, error)
	NearbyDrivers(ctx context.Context, p model.Location, radiusKm float64) ([]model.DriverDistance, error)
	HasActiveDelivery(ctx context.Context, driverID string) (bool, error)
	AssignDriver(ctx context.Context, id, driverID string, actor delivery.Actor, opts ...delivery.AssignOption) (delivery.Transition, error)
}

// Notifier is told about every assignment.
type Notifier interface {
	NotifyAssigned(ctx context.Context, d *model.Delivery) error
}

// Scheduler assigns pending deliveries on a fixed interval.
type Scheduler struct {
	cfg    Config
	svc    Deliveries
	notify Notifier
	log    logger.Logger
	sink   metrics.Sink

	// mu serializes ticks and guards misses.
	mu     sync.Mutex
	misses map[string]int
}

// New validates cfg and returns a Scheduler. A nil sink records nothing.
func New(cfg Config, svc Deliveries, notify Notifier, log logger.Logger, sink metrics.Sink) (*Scheduler, error) {
	if svc == nil || notify == nil || log == nil {
		return nil, fmt.Errorf("scheduler: nil parameter svc=%v notify=%v log=%v", svc != nil, notify != nil, log != nil)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Scheduler{cfg: cfg, svc: svc, notify: notify, log: log, sink: sink, misses: map[string]int{}}, nil
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if s.cfg.Disabled {
		s.log.Infof("auto-assignment disabled")
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()
	s.log.Infof("auto-assignment every %s", s.cfg.Interval())
	for {
		select {
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.log.Errorw("assignment tick", err, nil)
				monitoring.CaptureException(err, map[string]string{"module": "scheduler"})
			}
		case <-ctx.Done():
			return
		}
	}
}

// candidate is a pending delivery with its starvation state for the tick.
type candidate struct {
	d        *model.Delivery
	misses   int
	boosted  bool
	radiusKm float64
}

// Tick runs one assignment pass. Only a failure to list pending deliveries
// is returned; per-delivery failures are logged and retried next tick.
func (s *Scheduler) Tick(ctx context.Context) (metrics.TickEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := time.Now()
	ev := metrics.TickEvent{Time: started.UTC()}

	pending, err := s.svc.Pending(ctx)
	if err != nil {
		return ev, fmt.Errorf("list pending deliveries: %w", err)
	}
	queue := s.plan(pending)
	ev.Scanned = len(queue)

	taken := map[string]bool{}
	for _, c := range queue {
		if ctx.Err() != nil {
			break
		}
		if c.boosted {
			ev.Boosted++
		}
		assigned, err := s.assign(ctx, c, taken)
		switch {
		case err != nil:
			ev.Errors++
			s.misses[c.d.ID] = c.misses + 1
			s.log.Errorw("auto-assign", err, map[string]any{"delivery_id": c.d.ID})
			monitoring.CaptureDelivery(err, "auto-assign", c.d.ID)
		case assigned != "":
			ev.Assigned++
			taken[assigned] = true
			delete(s.misses, c.d.ID)
		default:
			ev.Unassigned++
			s.misses[c.d.ID] = c.misses + 1
		}
	}
	ev.Duration = time.Since(started)
	if rec, ok := s.sink.(metrics.TickRecorder); ok {
		if err := rec.RecordTick(ev); err != nil {
			s.log.Warnf("record tick: %v", err)
		}
	}
	s.log.Debugw("assignment tick", map[string]any{
		"scanned": ev.Scanned, "assigned": ev.Assigned, "unassigned": ev.Unassigned,
		"boosted": ev.Boosted, "errors": ev.Errors,
	})
	return ev, nil
}

// plan orders pending deliveries: boosted first, then priority descending,
// then oldest first. Counters of deliveries no longer pending are dropped.
func (s *Scheduler) plan(pending []*model.Delivery) []candidate {
	seen := make(map[string]bool, len(pending))
	queue := make([]candidate, 0, len(pending))
	for _, d := range pending {
		if d.Status != model.StatusPendingAssignment || d.DriverID != "" {
			continue
		}
		seen[d.ID] = true
		n := s.misses[d.ID]
		queue = append(queue, candidate{
			d:        d,
			misses:   n,
			boosted:  n >= s.cfg.StarvationTicks,
			radiusKm: s.radius(n),
		})
	}
	for id := range s.misses {
		if !seen[id] {
			delete(s.misses, id)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if a.boosted != b.boosted {
			return a.boosted
		}
		if a.d.Priority != b.d.Priority {
			return a.d.Priority > b.d.Priority
		}
		if !a.d.CreatedAt.Equal(b.d.CreatedAt) {
			return a.d.CreatedAt.Before(b.d.CreatedAt)
		}
		return a.d.ID < b.d.ID
	})
	return queue
}

// radius returns the search radius after misses consecutive misses.
func (s *Scheduler) radius(misses int) float64 {
	if misses < s.cfg.StarvationTicks {
		return s.cfg.RadiusKm
	}
	r := s.cfg.RadiusKm * math.Pow(s.cfg.RadiusGrowth, float64(misses-s.cfg.StarvationTicks))
	return math.Min(r, s.cfg.MaxRadiusKm)
}

// assign tries the nearest eligible drivers in turn and returns the driver
// that got the delivery, or "" when none was found.
func (s *Scheduler) assign(ctx context.Context, c candidate, taken map[string]bool) (string, error) {
	drivers, err := s.svc.NearbyDrivers(ctx, c.d.PickupLocation, c.radiusKm)
	if err != nil {
		return "", fmt.Errorf("nearby drivers: %w", err)
	}
	for _, dd := range drivers {
		id := dd.Driver.ID
		if taken[id] {
			continue
		}
		active, err := s.svc.HasActiveDelivery(ctx, id)
		if err != nil {
			return "", fmt.Errorf("driver %s: %w", id, err)
		}
		if active {
			continue
		}
		t, err := s.svc.AssignDriver(ctx, c.d.ID, id, delivery.SystemActor,
			delivery.WithNote("auto-assigned to driver "+id),
			delivery.WithWaitedTicks(c.misses),
			delivery.WithDistance(dd.DistanceKm),
		)
		switch {
		case errors.Is(err, delivery.ErrDriverUnavailable):
			continue
		case errors.Is(err, delivery.ErrInvalidTransition), errors.Is(err, delivery.ErrNotFound):
			// Taken or removed concurrently; nothing left to do here.
			return "", nil
		case err != nil:
			return "", fmt.Errorf("assign to %s: %w", id, err)
		}
		s.log.Infow("auto-assigned", map[string]any{
			"delivery_id": c.d.ID, "driver_id": id, "distance_km": dd.DistanceKm,
			"waited_ticks": c.misses, "boosted": c.boosted,
		})
		if err := s.notify.NotifyAssigned(ctx, t.Delivery); err != nil {
			s.log.Errorw("notify assignment", err, map[string]any{"delivery_id": c.d.ID, "driver_id": id})
			monitoring.CaptureDelivery(err, "notify assignment", c.d.ID)
		}
		return id, nil
	}
	return "", nil
}

// Misses returns the consecutive missed ticks of a delivery.
func (s *Scheduler) Misses(deliveryID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.misses[deliveryID]
}
