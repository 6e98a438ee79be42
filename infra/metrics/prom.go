package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/lastmile/core/metrics"
)

// PromSink records delivery events in Prometheus metrics.
type PromSink struct {
	transitions *prometheus.CounterVec
	assignments *prometheus.CounterVec
	distance    prometheus.Histogram
	waited      prometheus.Histogram
	locations   prometheus.Counter
	pending     prometheus.Gauge
	tickLatency prometheus.Histogram
	tickErrors  prometheus.Counter
}

var (
	_ coremetrics.LocationRecorder   = (*PromSink)(nil)
	_ coremetrics.AssignmentRecorder = (*PromSink)(nil)
	_ coremetrics.TickRecorder       = (*PromSink)(nil)
)

// NewPromSink registers delivery metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by an earlier sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_transitions_total",
			Help: "Applied delivery status transitions",
		}, []string{"from", "to"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_assignments_total",
			Help: "Driver assignments by origin",
		}, []string{"automatic"}),
		distance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "delivery_assignment_distance_km",
			Help:    "Distance between the assigned driver and the pickup point",
			Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 20},
		}),
		waited: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "delivery_assignment_waited_ticks",
			Help:    "Scheduler ticks a delivery stayed unassigned",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		}),
		locations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delivery_location_updates_total",
			Help: "Live location updates of deliveries in progress",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assignment_pending_deliveries",
			Help: "Deliveries left unassigned by the last scheduler tick",
		}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assignment_tick_duration_seconds",
			Help:    "Duration of a scheduler tick",
			Buckets: prometheus.DefBuckets,
		}),
		tickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assignment_tick_errors_total",
			Help: "Per-delivery failures during scheduler ticks",
		}),
	}
	var err error
	if s.transitions, err = Register(reg, s.transitions); err != nil {
		return nil, err
	}
	if s.assignments, err = Register(reg, s.assignments); err != nil {
		return nil, err
	}
	if s.distance, err = Register(reg, s.distance); err != nil {
		return nil, err
	}
	if s.waited, err = Register(reg, s.waited); err != nil {
		return nil, err
	}
	if s.locations, err = Register(reg, s.locations); err != nil {
		return nil, err
	}
	if s.pending, err = Register(reg, s.pending); err != nil {
		return nil, err
	}
	if s.tickLatency, err = Register(reg, s.tickLatency); err != nil {
		return nil, err
	}
	if s.tickErrors, err = Register(reg, s.tickErrors); err != nil {
		return nil, err
	}
	return s, nil
}

// Register adds c to reg or returns the collector registered before it.
func Register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordTransition counts the transition by its endpoints.
func (s *PromSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	s.transitions.WithLabelValues(string(ev.From), string(ev.To)).Inc()
	return nil
}

// RecordLocation counts location updates.
func (s *PromSink) RecordLocation(coremetrics.LocationEvent) error {
	s.locations.Inc()
	return nil
}

// RecordAssignment counts the assignment and observes its distance and wait.
func (s *PromSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	s.assignments.WithLabelValues(strconv.FormatBool(ev.Automatic)).Inc()
	s.distance.Observe(ev.DistanceKm)
	if ev.Automatic {
		s.waited.Observe(float64(ev.WaitedTicks))
	}
	return nil
}

// RecordTick sets the pending gauge and observes the tick duration.
func (s *PromSink) RecordTick(ev coremetrics.TickEvent) error {
	s.pending.Set(float64(ev.Unassigned + ev.Errors))
	s.tickLatency.Observe(ev.Duration.Seconds())
	s.tickErrors.Add(float64(ev.Errors))
	return nil
}
