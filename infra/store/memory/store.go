// Package memory keeps deliveries and drivers in process memory. It backs
// tests, the seed command and single-instance deployments that accept losing
// state on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/model"
)

// Store implements delivery.Backend. Records are cloned on the way in and
// out so callers never alias stored state.
type Store struct {
	mu         sync.RWMutex
	deliveries map[string]*model.Delivery
	byOrder    map[string]string
	drivers    map[string]*model.Driver

	// seq preserves creation order for records sharing a CreatedAt.
	seq    map[string]uint64
	next   uint64
	closed bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		deliveries: map[string]*model.Delivery{},
		byOrder:    map[string]string{},
		drivers:    map[string]*model.Driver{},
		seq:        map[string]uint64{},
	}
}

var _ delivery.Backend = (*Store)(nil)

func (s *Store) checkOpen() error {
	if s.closed {
		return fmt.Errorf("memory store closed")
	}
	return nil
}

func (s *Store) Create(_ context.Context, d *model.Delivery) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("%w: delivery id is required", delivery.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.deliveries[d.ID]; ok {
		return fmt.Errorf("%w: delivery %s exists", delivery.ErrConflict, d.ID)
	}
	if d.OrderID != "" {
		if other, ok := s.byOrder[d.OrderID]; ok {
			return fmt.Errorf("%w: order %s already has delivery %s", delivery.ErrConflict, d.OrderID, other)
		}
		s.byOrder[d.OrderID] = d.ID
	}
	s.deliveries[d.ID] = d.Clone()
	s.next++
	s.seq[d.ID] = s.next
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*model.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	d, ok := s.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("%w: delivery %s", delivery.ErrNotFound, id)
	}
	return d.Clone(), nil
}

// Update runs fn on a copy under the store lock and commits it only when fn
// succeeds.
func (s *Store) Update(_ context.Context, id string, fn delivery.MutateFunc) (*model.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	cur, ok := s.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("%w: delivery %s", delivery.ErrNotFound, id)
	}
	work := cur.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	work.ID = cur.ID
	work.OrderID = cur.OrderID
	s.deliveries[id] = work
	return work.Clone(), nil
}

func (s *Store) List(_ context.Context, q delivery.Query) ([]*model.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*model.Delivery, 0)
	for _, d := range s.deliveries {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	s.sortByCreation(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	for i, d := range out {
		out[i] = d.Clone()
	}
	return out, nil
}

func (s *Store) sortByCreation(ds []*model.Delivery) {
	sort.Slice(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return s.seq[a.ID] < s.seq[b.ID]
	})
}

func (s *Store) NearPickup(_ context.Context, p model.Location, radiusKm float64, statuses ...model.Status) ([]*model.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	box := model.BoundsAround(p, radiusKm)
	q := delivery.Query{Statuses: statuses}
	type hit struct {
		d    *model.Delivery
		dist float64
	}
	var hits []hit
	for _, d := range s.deliveries {
		if !q.Matches(d) || !box.Contains(d.PickupLocation) {
			continue
		}
		if dist := model.DistanceKm(p, d.PickupLocation); dist <= radiusKm {
			hits = append(hits, hit{d: d, dist: dist})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return s.seq[hits[i].d.ID] < s.seq[hits[j].d.ID]
	})
	out := make([]*model.Delivery, len(hits))
	for i, h := range hits {
		out[i] = h.d.Clone()
	}
	return out, nil
}

func (s *Store) UpsertDriver(_ context.Context, d *model.Driver) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("%w: driver id is required", delivery.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.drivers[d.ID] = d.Clone()
	return nil
}

func (s *Store) InsertDriver(_ context.Context, d *model.Driver) (bool, error) {
	if d == nil || d.ID == "" {
		return false, fmt.Errorf("%w: driver id is required", delivery.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if _, ok := s.drivers[d.ID]; ok {
		return false, nil
	}
	s.drivers[d.ID] = d.Clone()
	return true, nil
}

func (s *Store) GetDriver(_ context.Context, id string) (*model.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	d, ok := s.drivers[id]
	if !ok {
		return nil, fmt.Errorf("%w: driver %s", delivery.ErrNotFound, id)
	}
	return d.Clone(), nil
}

func (s *Store) UpdateDriver(_ context.Context, id string, fn delivery.DriverMutateFunc) (*model.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	cur, ok := s.drivers[id]
	if !ok {
		return nil, fmt.Errorf("%w: driver %s", delivery.ErrNotFound, id)
	}
	work := cur.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	work.ID = cur.ID
	s.drivers[id] = work
	return work.Clone(), nil
}

func (s *Store) NearbyDrivers(_ context.Context, p model.Location, radiusKm float64) ([]model.DriverDistance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	box := model.BoundsAround(p, radiusKm)
	var out []model.DriverDistance
	for _, d := range s.drivers {
		if !d.IsAvailable() || d.Location == nil || !box.Contains(d.Location.Location) {
			continue
		}
		if dist := model.DistanceKm(p, d.Location.Location); dist <= radiusKm {
			out = append(out, model.DriverDistance{Driver: d.Clone(), DistanceKm: dist})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Driver.ID < out[j].Driver.ID
	})
	return out, nil
}

// Close rejects further calls.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
