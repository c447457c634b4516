// Package store provides SQL-backed persistence for recontrole: the local
// incident cache, the monitor baseline, the notification history ledger,
// named locks and the monitor cycle audit trail.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax for the underlying driver.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Store provides access to the recontrole database.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New creates a SQLite-backed Store at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode so readers are not blocked by the monitor's writes
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db, dialect: DialectSQLite}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Open creates a Store for the named driver ("sqlite" or "postgres").
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "", "sqlite":
		return New(dsn)
	case "postgres":
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		db.SetMaxOpenConns(4)
		db.SetConnMaxIdleTime(5 * time.Minute)

		s := &Store{db: db, dialect: DialectPostgres}
		if err := s.Migrate(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewWithDB wraps an existing connection without running migrations.
func NewWithDB(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs idempotent schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		photo TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL DEFAULT 0,
		cached_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS monitor_baseline (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		photo TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL DEFAULT 0,
		cached_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notification_history (
		id TEXT PRIMARY KEY,
		incident_id TEXT NOT NULL,
		old_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		notified_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS locks (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL UNIQUE,
		holder_id TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS monitor_cycles (
		id TEXT PRIMARY KEY,
		started_at BIGINT NOT NULL,
		ended_at BIGINT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		fetched INTEGER NOT NULL DEFAULT 0,
		transitions INTEGER NOT NULL DEFAULT 0,
		notified INTEGER NOT NULL DEFAULT 0,
		suppressed INTEGER NOT NULL DEFAULT 0,
		snapshot_hash TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_incidents_location ON incidents(location);
	CREATE INDEX IF NOT EXISTS idx_history_incident ON notification_history(incident_id, notified_at);
	CREATE INDEX IF NOT EXISTS idx_history_notified_at ON notification_history(notified_at);
	CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON monitor_cycles(started_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// rebind rewrites ? placeholders for drivers that use numbered parameters.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Handle lazily opens a Store exactly once and hands the same instance to
// every caller.
type Handle struct {
	driver string
	dsn    string

	once  sync.Once
	store *Store
	err   error
}

// NewHandle creates a Handle for the given driver and DSN.
func NewHandle(driver, dsn string) *Handle {
	return &Handle{driver: driver, dsn: dsn}
}

// Get opens the store on first use and returns the shared instance.
func (h *Handle) Get() (*Store, error) {
	h.once.Do(func() {
		h.store, h.err = Open(h.driver, h.dsn)
	})
	return h.store, h.err
}

// Close closes the store if it was opened. A failed open leaves nothing to
// close.
func (h *Handle) Close() error {
	if h.store == nil {
		return nil
	}
	return h.store.Close()
}
