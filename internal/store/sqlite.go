// ABOUTME: SQLite store handle: opening, pragmas, transactions and time encoding
// ABOUTME: Pending migrations are applied before the handle is returned to callers

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // pure Go, default
	DriverCGO     = "sqlite3" // mattn/go-sqlite3, requires cgo
)

// RetentionPeriod is the fixed delay between a soft delete and purge eligibility.
const RetentionPeriod = 7 * 24 * time.Hour

// timeLayout is how every timestamp is persisted.
const timeLayout = time.RFC3339

// SQLiteStore is the single store handle. It is created once at startup and
// passed to every component that needs it.
type SQLiteStore struct {
	db         *sql.DB
	logger     *slog.Logger
	now        func() time.Time
	hostname   func() (string, error)
	migrations []Migration
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the parent logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SQLiteStore) {
		if logger != nil {
			s.logger = logger.With("component", "store")
		}
	}
}

// WithClock injects the wall-clock source. Selection logic is a pure function
// of store state and this clock.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHostname overrides how the current system is identified.
func WithHostname(fn func() (string, error)) Option {
	return func(s *SQLiteStore) {
		if fn != nil {
			s.hostname = fn
		}
	}
}

// WithMigrations replaces the built-in migration registry.
func WithMigrations(steps []Migration) Option {
	return func(s *SQLiteStore) {
		s.migrations = steps
	}
}

// NewSQLiteStore opens the store at path with the default pure-Go driver and
// brings the schema up to date.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	return Open(context.Background(), DriverModernc, path, opts...)
}

// Open creates a store at the given path using driver. Parent directories are
// created if needed. Any migration failure is returned as a MigrationError and
// the handle is closed: the caller must not start serving.
func Open(ctx context.Context, driver, path string, opts ...Option) (*SQLiteStore, error) {
	s, err := openStore(driver, path, opts...)
	if err != nil {
		return nil, err
	}

	migrator, err := s.Migrator()
	if err != nil {
		s.db.Close()
		return nil, err
	}
	if _, err := migrator.Run(ctx); err != nil {
		s.db.Close()
		return nil, err
	}

	s.logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// OpenForMaintenance opens the store without applying migrations so an
// operator can inspect or roll back the schema.
func OpenForMaintenance(driver, path string, opts ...Option) (*SQLiteStore, error) {
	return openStore(driver, path, opts...)
}

// openStore opens the database without touching the schema.
func openStore(driver, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		logger:     slog.Default().With("component", "store"),
		now:        time.Now,
		hostname:   os.Hostname,
		migrations: BuiltinMigrations(),
	}
	for _, opt := range opts {
		opt(s)
	}

	switch driver {
	case DriverModernc, DriverCGO:
	case "":
		driver = DriverModernc
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: every write transaction is exclusive.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s.db = db
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Migrator returns a runner over the store's migration registry.
func (s *SQLiteStore) Migrator() (*Migrator, error) {
	return NewMigrator(s.db, s.migrations, s.logger, s.now)
}

// clock returns the current time truncated to the persisted precision.
func (s *SQLiteStore) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error. fn must not touch s.db directly.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("beginning transaction", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageError("committing transaction", err)
	}
	return nil
}

// queryer is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts RFC3339 and the SQLite CURRENT_TIMESTAMP format.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullInt64 returns nil for zero ids
func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
