// Package scheduler implements periodic auto-assignment of pending
// deliveries to nearby available drivers.
//
// Each tick scans deliveries in pending_assignment, nearest available driver
// first. Deliveries that keep missing a driver are boosted: after
// StarvationTicks consecutive misses they are scanned ahead of the others
// and their search radius grows by RadiusGrowth per further miss, up to
// MaxRadiusKm. Miss counters live in memory and reset on restart.
package scheduler
