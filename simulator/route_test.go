package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/kilianp07/lastmile/core/model"
)

func TestRouteSpacing(t *testing.T) {
	from := model.NewLocation(48.8566, 2.3522, "")
	to := model.NewLocation(48.8738, 2.2950, "Etoile")
	pts := Route(from, to, 0.5)
	total := model.DistanceKm(from, to)
	if len(pts) < int(total/0.5) {
		t.Fatalf("expected at least %d points, got %d", int(total/0.5), len(pts))
	}
	prev := from
	for i, p := range pts {
		if err := p.Validate(); err != nil {
			t.Fatalf("point %d: %v", i, err)
		}
		if step := model.DistanceKm(prev, p); step > 0.5+1e-6 {
			t.Fatalf("step %d is %.3f km", i, step)
		}
		prev = p
	}
	last := pts[len(pts)-1]
	if model.DistanceKm(last, to) > 1e-9 || last.Address != "Etoile" {
		t.Fatalf("route does not end at destination: %+v", last)
	}
}

func TestRouteSamePoint(t *testing.T) {
	p := model.NewLocation(1, 1, "")
	if pts := Route(p, p, 0.1); len(pts) != 1 {
		t.Fatalf("expected one point, got %d", len(pts))
	}
}

func TestScatterWithinSpread(t *testing.T) {
	fleetRng = rand.New(rand.NewSource(1))
	center := model.NewLocation(48.8566, 2.3522, "")
	for i, p := range Scatter(center, 3, 200) {
		if d := model.DistanceKm(center, p); d > 3.01 {
			t.Fatalf("point %d is %.2f km away", i, d)
		}
	}
}

func TestFleetTokens(t *testing.T) {
	toks := FleetTokens("drv-", 3)
	if len(toks) != 3 || toks[0] != "drv-0001" || toks[2] != "drv-0003" {
		t.Fatalf("unexpected tokens %v", toks)
	}
}

func TestConfigValidate(t *testing.T) {
	ok := Config{URL: "ws://localhost:8080/ws", Tokens: []string{"a"}, SpeedKmh: 20, Interval: time.Second}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if step := ok.StepKm(); step < 0.0055 || step > 0.0056 {
		t.Fatalf("unexpected step %.5f", step)
	}
	bad := []Config{
		{URL: "http://localhost", Tokens: []string{"a"}, SpeedKmh: 20, Interval: time.Second},
		{URL: "ws://localhost", SpeedKmh: 20, Interval: time.Second},
		{URL: "ws://localhost", Tokens: []string{"a"}, Interval: time.Second},
		{URL: "ws://localhost", Tokens: []string{"a"}, SpeedKmh: 20, Interval: time.Second, FailRate: 2},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("config %d accepted", i)
		}
	}
	if got := splitTokens(" a, ,b "); len(got) != 2 || got[1] != "b" {
		t.Fatalf("split tokens: %v", got)
	}
}
