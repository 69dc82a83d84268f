// Package catalog is the relational store of courses, articles, users,
// third-party identity bindings, and purchase orders. It speaks plain
// database/sql over either postgres or sqlite, selected by the
// configured URL scheme.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by point lookups with no matching row.
var ErrNotFound = errors.New("not found")

// Config configures the catalog database connection.
type Config struct {
	URL          string        `long:"url" env:"URL" default:"file:pulse.db?cache=shared" description:"Database URL (postgres://... or a sqlite file URL)"`
	MaxOpenConns int           `long:"maxOpenConns" env:"MAX_OPEN_CONNS" default:"20" description:"Maximum open database connections"`
	OpTimeout    time.Duration `long:"opTimeout" env:"OP_TIMEOUT" default:"5s" description:"Timeout applied to individual queries"`
}

// driverFor maps a URL to its database/sql driver name.
func driverFor(url string) string {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return "postgres"
	}
	return "sqlite3"
}

// Store is the catalog over a live *sql.DB.
type Store struct {
	db        *sql.DB
	driver    string
	opTimeout time.Duration
}

// Open connects the catalog Store. The connection is verified lazily;
// call Ping for an eager startup check.
func Open(cfg Config) (*Store, error) {
	var driver = driverFor(cfg.URL)

	var db, err = sql.Open(driver, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	return &Store{db: db, driver: driver, opTimeout: cfg.OpTimeout}, nil
}

// NewStore wraps an existing database handle (used by tests).
func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver, opTimeout: 5 * time.Second}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// rebind rewrites ?-style placeholders into the $N form postgres
// expects. Queries throughout this package are written with ?.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	var n int
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// insertReturningID runs an INSERT and yields the generated row id,
// papering over the postgres/sqlite split.
func (s *Store) insertReturningID(ctx context.Context, query string, args ...interface{}) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if s.driver == "postgres" {
		var id int64
		var err = s.db.QueryRowContext(ctx, s.rebind(query)+" RETURNING id", args...).Scan(&id)
		return id, err
	}

	var res, err = s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// placeholders renders a (?, ?, ...) list of n terms.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
