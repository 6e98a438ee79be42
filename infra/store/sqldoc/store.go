// Package sqldoc stores deliveries and drivers as JSON documents in a SQL
// database. A handful of columns are extracted next to the document so that
// status, driver and pickup bounding-box filters run in the database; exact
// distances are computed on the decoded records.
package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/model"
)

// Store implements delivery.Backend on database/sql.
type Store struct {
	db *sql.DB
	d  dialect
}

var _ delivery.Backend = (*Store)(nil)

// OpenSQLite opens or creates the database at path. The pool is limited to a
// single connection so read-modify-write transactions are serialized.
func OpenSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqldoc: empty sqlite path")
	}
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return open(db, sqliteDialect)
}

// OpenPostgres connects through the pgx stdlib driver. Updates lock the row
// with SELECT ... FOR UPDATE.
func OpenPostgres(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqldoc: empty postgres dsn")
	}
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, err
	}
	return open(db, postgresDialect)
}

func open(db *sql.DB, d dialect) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if cerr := db.Close(); cerr != nil {
				return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
			}
			return nil, fmt.Errorf("%s schema: %w", d.name, err)
		}
	}
	return &Store{db: db, d: d}, nil
}

// Dialect returns the backend name, "sqlite" or "postgres".
func (s *Store) Dialect() string { return s.d.name }

func (s *Store) Create(ctx context.Context, d *model.Delivery) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("%w: delivery id is required", delivery.ErrValidation)
	}
	doc, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.d.bind(`INSERT INTO deliveries
        (id, order_id, status, driver_id, store_id, pickup_lat, pickup_lng, created_at, updated_at, doc)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, d.OrderID, string(d.Status), d.DriverID, d.StoreID,
		d.PickupLocation.Lat(), d.PickupLocation.Lng(),
		d.CreatedAt.UnixNano(), d.UpdatedAt.UnixNano(), string(doc))
	if s.d.unique(err) {
		return fmt.Errorf("%w: delivery %s or order %s exists", delivery.ErrConflict, d.ID, d.OrderID)
	}
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*model.Delivery, error) {
	row := s.db.QueryRowContext(ctx, s.d.bind(`SELECT doc FROM deliveries WHERE id = ?`), id)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: delivery %s", delivery.ErrNotFound, id)
	}
	return d, err
}

// Update reads, mutates and writes back the document in one transaction.
func (s *Store) Update(ctx context.Context, id string, fn delivery.MutateFunc) (*model.Delivery, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, s.d.bind(`SELECT doc FROM deliveries WHERE id = ?`+s.d.forUpdate), id)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: delivery %s", delivery.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	orderID := d.OrderID
	if err := fn(d); err != nil {
		return nil, err
	}
	d.ID, d.OrderID = id, orderID
	doc, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, s.d.bind(`UPDATE deliveries
        SET status = ?, driver_id = ?, store_id = ?, updated_at = ?, doc = ?
        WHERE id = ?`),
		string(d.Status), d.DriverID, d.StoreID, d.UpdatedAt.UnixNano(), string(doc), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) List(ctx context.Context, q delivery.Query) ([]*model.Delivery, error) {
	where, args := s.filters(q)
	query := `SELECT doc FROM deliveries WHERE 1=1` + where + ` ORDER BY created_at, seq`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}
	return s.queryDeliveries(ctx, query, args...)
}

func (s *Store) filters(q delivery.Query) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	if len(q.Statuses) > 0 {
		b.WriteString(` AND status IN (`)
		for i, st := range q.Statuses {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, string(st))
		}
		b.WriteString(")")
	}
	if q.DriverID != "" {
		b.WriteString(` AND driver_id = ?`)
		args = append(args, q.DriverID)
	}
	if q.StoreID != "" {
		b.WriteString(` AND store_id = ?`)
		args = append(args, q.StoreID)
	}
	if !q.UpdatedSince.IsZero() {
		b.WriteString(` AND updated_at >= ?`)
		args = append(args, q.UpdatedSince.UnixNano())
	}
	return b.String(), args
}

func (s *Store) NearPickup(ctx context.Context, p model.Location, radiusKm float64, statuses ...model.Status) ([]*model.Delivery, error) {
	box := model.BoundsAround(p, radiusKm)
	where, args := s.filters(delivery.Query{Statuses: statuses})
	query := `SELECT doc FROM deliveries WHERE pickup_lat BETWEEN ? AND ? AND pickup_lng BETWEEN ? AND ?` +
		where + ` ORDER BY created_at, seq`
	args = append([]any{box.MinLat, box.MaxLat, box.MinLng, box.MaxLng}, args...)
	candidates, err := s.queryDeliveries(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	dist := make(map[string]float64, len(candidates))
	out := candidates[:0]
	for _, d := range candidates {
		km := model.DistanceKm(p, d.PickupLocation)
		if km <= radiusKm {
			dist[d.ID] = km
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return dist[out[i].ID] < dist[out[j].ID] })
	return out, nil
}

func (s *Store) queryDeliveries(ctx context.Context, query string, args ...any) ([]*model.Delivery, error) {
	rows, err := s.db.QueryContext(ctx, s.d.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	res := make([]*model.Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDelivery(r scanner) (*model.Delivery, error) {
	var data []byte
	if err := r.Scan(&data); err != nil {
		return nil, err
	}
	var d model.Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal delivery: %w", err)
	}
	return &d, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
