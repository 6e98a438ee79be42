package main

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/kilianp07/lastmile/core/model"
)

var fleetRng = rand.New(rand.NewSource(time.Now().UnixNano()))

// Route returns the points from `from` (excluded) to `to` (included) spaced
// at most stepKm apart along a straight line in degrees, which is close
// enough to the great circle at city scale.
func Route(from, to model.Location, stepKm float64) []model.Location {
	dist := model.DistanceKm(from, to)
	n := 1
	if stepKm > 0 && dist > stepKm {
		n = int(math.Ceil(dist / stepKm))
	}
	out := make([]model.Location, 0, n)
	for i := 1; i <= n; i++ {
		f := float64(i) / float64(n)
		lat := from.Lat() + (to.Lat()-from.Lat())*f
		lng := from.Lng() + (to.Lng()-from.Lng())*f
		out = append(out, model.NewLocation(lat, lng, ""))
	}
	out[n-1].Address = to.Address
	return out
}

// Scatter places n starting points uniformly within spreadKm of center.
func Scatter(center model.Location, spreadKm float64, n int) []model.Location {
	out := make([]model.Location, n)
	for i := range out {
		// sqrt keeps the density uniform over the disc.
		r := spreadKm * math.Sqrt(fleetRng.Float64())
		theta := 2 * math.Pi * fleetRng.Float64()
		dLat := r * math.Cos(theta) / 111.195
		dLng := r * math.Sin(theta) / (111.195 * math.Cos(center.Lat()*math.Pi/180))
		out[i] = model.NewLocation(center.Lat()+dLat, center.Lng()+dLng, "")
	}
	return out
}

// FleetTokens returns size credentials prefix0001..prefixNNNN.
func FleetTokens(prefix string, size int) []string {
	out := make([]string, size)
	for i := range out {
		out[i] = fmt.Sprintf("%s%04d", prefix, i+1)
	}
	return out
}
