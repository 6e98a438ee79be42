package sqldoc

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// dialect captures the few places where SQLite and Postgres differ.
type dialect struct {
	name      string
	driver    string
	forUpdate string
	schema    []string
	// numbered placeholders ($1, $2...) instead of ?.
	numbered bool
	unique   func(error) bool
}

var sqliteDialect = dialect{
	name:   "sqlite",
	driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS deliveries (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        order_id TEXT NOT NULL UNIQUE,
        status TEXT NOT NULL,
        driver_id TEXT NOT NULL DEFAULT '',
        store_id TEXT NOT NULL DEFAULT '',
        pickup_lat REAL NOT NULL,
        pickup_lng REAL NOT NULL,
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL,
        doc TEXT NOT NULL
    );`,
		`CREATE INDEX IF NOT EXISTS deliveries_status_idx ON deliveries (status, created_at);`,
		`CREATE INDEX IF NOT EXISTS deliveries_driver_idx ON deliveries (driver_id);`,
		`CREATE INDEX IF NOT EXISTS deliveries_pickup_idx ON deliveries (pickup_lat, pickup_lng);`,
		`CREATE TABLE IF NOT EXISTS drivers (
        id TEXT PRIMARY KEY,
        status TEXT NOT NULL,
        lat REAL,
        lng REAL,
        doc TEXT NOT NULL
    );`,
	},
	unique: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

var postgresDialect = dialect{
	name:      "postgres",
	driver:    "pgx",
	forUpdate: " FOR UPDATE",
	numbered:  true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS deliveries (
        seq BIGSERIAL PRIMARY KEY,
        id TEXT NOT NULL UNIQUE,
        order_id TEXT NOT NULL UNIQUE,
        status TEXT NOT NULL,
        driver_id TEXT NOT NULL DEFAULT '',
        store_id TEXT NOT NULL DEFAULT '',
        pickup_lat DOUBLE PRECISION NOT NULL,
        pickup_lng DOUBLE PRECISION NOT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        doc JSONB NOT NULL
    );`,
		`CREATE INDEX IF NOT EXISTS deliveries_status_idx ON deliveries (status, created_at);`,
		`CREATE INDEX IF NOT EXISTS deliveries_driver_idx ON deliveries (driver_id);`,
		`CREATE INDEX IF NOT EXISTS deliveries_pickup_idx ON deliveries (pickup_lat, pickup_lng);`,
		`CREATE TABLE IF NOT EXISTS drivers (
        id TEXT PRIMARY KEY,
        status TEXT NOT NULL,
        lat DOUBLE PRECISION,
        lng DOUBLE PRECISION,
        doc JSONB NOT NULL
    );`,
	},
	unique: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	},
}

// bind rewrites ? placeholders for dialects that number them.
func (d dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
