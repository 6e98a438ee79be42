package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/model"
)

func driverColumns(d *model.Driver) (lat, lng sql.NullFloat64) {
	if d.Location != nil {
		lat = sql.NullFloat64{Float64: d.Location.Lat(), Valid: true}
		lng = sql.NullFloat64{Float64: d.Location.Lng(), Valid: true}
	}
	return lat, lng
}

func (s *Store) UpsertDriver(ctx context.Context, d *model.Driver) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("%w: driver id is required", delivery.ErrValidation)
	}
	doc, err := json.Marshal(d)
	if err != nil {
		return err
	}
	lat, lng := driverColumns(d)
	_, err = s.db.ExecContext(ctx, s.d.bind(`INSERT INTO drivers (id, status, lat, lng, doc)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET status = excluded.status, lat = excluded.lat, lng = excluded.lng, doc = excluded.doc`),
		d.ID, string(d.Status), lat, lng, string(doc))
	return err
}

func (s *Store) InsertDriver(ctx context.Context, d *model.Driver) (bool, error) {
	if d == nil || d.ID == "" {
		return false, fmt.Errorf("%w: driver id is required", delivery.ErrValidation)
	}
	doc, err := json.Marshal(d)
	if err != nil {
		return false, err
	}
	lat, lng := driverColumns(d)
	res, err := s.db.ExecContext(ctx, s.d.bind(`INSERT INTO drivers (id, status, lat, lng, doc)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (id) DO NOTHING`),
		d.ID, string(d.Status), lat, lng, string(doc))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) GetDriver(ctx context.Context, id string) (*model.Driver, error) {
	row := s.db.QueryRowContext(ctx, s.d.bind(`SELECT doc FROM drivers WHERE id = ?`), id)
	d, err := scanDriver(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: driver %s", delivery.ErrNotFound, id)
	}
	return d, err
}

func (s *Store) UpdateDriver(ctx context.Context, id string, fn delivery.DriverMutateFunc) (*model.Driver, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, s.d.bind(`SELECT doc FROM drivers WHERE id = ?`+s.d.forUpdate), id)
	d, err := scanDriver(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: driver %s", delivery.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	d.ID = id
	doc, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	lat, lng := driverColumns(d)
	if _, err := tx.ExecContext(ctx, s.d.bind(`UPDATE drivers SET status = ?, lat = ?, lng = ?, doc = ? WHERE id = ?`),
		string(d.Status), lat, lng, string(doc), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) NearbyDrivers(ctx context.Context, p model.Location, radiusKm float64) ([]model.DriverDistance, error) {
	box := model.BoundsAround(p, radiusKm)
	rows, err := s.db.QueryContext(ctx, s.d.bind(`SELECT doc FROM drivers
        WHERE status = ? AND lat IS NOT NULL AND lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`),
		string(model.DriverAvailable), box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.DriverDistance
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		if d.Location == nil {
			continue
		}
		if km := model.DistanceKm(p, d.Location.Location); km <= radiusKm {
			out = append(out, model.DriverDistance{Driver: d, DistanceKm: km})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Driver.ID < out[j].Driver.ID
	})
	return out, nil
}

func scanDriver(r scanner) (*model.Driver, error) {
	var data []byte
	if err := r.Scan(&data); err != nil {
		return nil, err
	}
	var d model.Driver
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal driver: %w", err)
	}
	return &d, nil
}
