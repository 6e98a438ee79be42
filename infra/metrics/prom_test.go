package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/lastmile/core/factory"
	coremetrics "github.com/kilianp07/lastmile/core/metrics"
	"github.com/kilianp07/lastmile/core/model"
)

func TestPromSinkRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = s.RecordTransition(coremetrics.TransitionEvent{From: model.StatusPickedUp, To: model.StatusInTransit})
	_ = s.RecordTransition(coremetrics.TransitionEvent{From: model.StatusPickedUp, To: model.StatusInTransit})
	_ = s.RecordAssignment(coremetrics.AssignmentEvent{DistanceKm: 2, Automatic: true, WaitedTicks: 1})
	_ = s.RecordLocation(coremetrics.LocationEvent{})
	_ = s.RecordTick(coremetrics.TickEvent{Unassigned: 2, Errors: 1, Duration: time.Millisecond})

	if v := testutil.ToFloat64(s.transitions.WithLabelValues("picked_up", "in_transit")); v != 2 {
		t.Fatalf("transitions = %v", v)
	}
	if v := testutil.ToFloat64(s.assignments.WithLabelValues("true")); v != 1 {
		t.Fatalf("assignments = %v", v)
	}
	if v := testutil.ToFloat64(s.pending); v != 3 {
		t.Fatalf("pending = %v", v)
	}
	if v := testutil.ToFloat64(s.locations); v != 1 {
		t.Fatalf("locations = %v", v)
	}
	if v := testutil.ToFloat64(s.tickErrors); v != 1 {
		t.Fatalf("tick errors = %v", v)
	}
}

func TestPromSinkReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	_ = a.RecordLocation(coremetrics.LocationEvent{})
	if v := testutil.ToFloat64(b.locations); v != 1 {
		t.Fatalf("expected shared collector, got %v", v)
	}
}

func TestFactoryPrometheus(t *testing.T) {
	s, err := coremetrics.NewSink([]factory.ModuleConfig{{Type: "prometheus"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := s.(*PromSink); !ok {
		t.Fatalf("expected PromSink, got %T", s)
	}
}
