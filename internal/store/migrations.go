// ABOUTME: Versioned migration registry and runner with a persisted schema version
// ABOUTME: Each step's up procedure and its version record commit in one transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// StepFunc applies or reverts one schema step inside the runner's transaction.
type StepFunc func(ctx context.Context, tx *sql.Tx) error

// Migration is one registered schema step.
type Migration struct {
	Version int
	Name    string
	Up      StepFunc
	Down    StepFunc // administrative rollback only, never run automatically
}

// AppliedMigration is a row of the schema version record.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

// MigrationStatus describes where a store sits relative to the registry.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Applied        []AppliedMigration
	Pending        []Migration
}

// UpToDate reports whether no steps are pending.
func (m MigrationStatus) UpToDate() bool {
	return len(m.Pending) == 0
}

const schemaVersionTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)
`

// ValidateRegistry checks that versions start at 1 and ascend by exactly one.
func ValidateRegistry(steps []Migration) error {
	for i, m := range steps {
		want := i + 1
		if m.Up == nil {
			return migrationError("migration %d (%s) has no up procedure", nil, m.Version, m.Name)
		}
		if m.Name == "" {
			return migrationError("migration %d has no name", nil, m.Version)
		}
		if i > 0 && m.Version == steps[i-1].Version {
			return migrationError("duplicate migration version %d", nil, m.Version)
		}
		if m.Version != want {
			return migrationError("migration registry has a gap: expected version %d, found %d (%s)", nil, want, m.Version, m.Name)
		}
	}
	return nil
}

// Migrator applies registered steps to a database.
type Migrator struct {
	db     *sql.DB
	steps  []Migration
	logger *slog.Logger
	now    func() time.Time
}

// NewMigrator validates the registry before anything runs.
func NewMigrator(db *sql.DB, steps []Migration, logger *slog.Logger, now func() time.Time) (*Migrator, error) {
	if err := ValidateRegistry(steps); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Migrator{
		db:     db,
		steps:  steps,
		logger: logger.With("component", "migrator"),
		now:    now,
	}, nil
}

// Latest returns the highest registered version.
func (m *Migrator) Latest() int {
	if len(m.steps) == 0 {
		return 0
	}
	return m.steps[len(m.steps)-1].Version
}

// CurrentVersion reads the persisted schema version, 0 for a fresh store.
// It never writes.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`,
	).Scan(&n)
	if err != nil {
		return 0, migrationError("checking schema version table", err)
	}
	if n == 0 {
		return 0, nil
	}
	return currentVersion(ctx, m.db)
}

func currentVersion(ctx context.Context, q queryer) (int, error) {
	var version int
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, migrationError("reading schema version", err)
	}
	return version, nil
}

// Pending returns steps newer than version, ascending.
func (m *Migrator) pending(version int) []Migration {
	var out []Migration
	for _, step := range m.steps {
		if step.Version > version {
			out = append(out, step)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// Run applies every pending step in ascending order. A failing step aborts
// the run and leaves the store at the last fully applied version.
// It returns the versions applied by this call.
func (m *Migrator) Run(ctx context.Context) ([]int, error) {
	if _, err := m.db.ExecContext(ctx, schemaVersionTable); err != nil {
		return nil, migrationError("creating schema version table", err)
	}
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	if current > m.Latest() {
		return nil, migrationError("store schema version %d is newer than the latest known version %d", nil, current, m.Latest())
	}

	pending := m.pending(current)
	if len(pending) == 0 {
		m.logger.Debug("schema up to date", "version", current)
		return nil, nil
	}

	var applied []int
	for _, step := range pending {
		if err := m.apply(ctx, step.Version, step.Name, step.Up, true); err != nil {
			return applied, migrationError("applying migration %d (%s)", err, step.Version, step.Name)
		}
		applied = append(applied, step.Version)
		m.logger.Info("applied migration", "version", step.Version, "name", step.Name)
	}
	return applied, nil
}

// Rollback reverts applied steps newest first until the schema version equals
// target. It is only ever invoked by an operator.
func (m *Migrator) Rollback(ctx context.Context, target int) ([]int, error) {
	if target < 0 {
		return nil, validationError("rollback target must be non-negative, got %d", target)
	}
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	if target >= current {
		return nil, nil
	}

	var reverted []int
	for i := len(m.steps) - 1; i >= 0; i-- {
		step := m.steps[i]
		if step.Version > current || step.Version <= target {
			continue
		}
		if step.Down == nil {
			return reverted, migrationError("migration %d (%s) has no down procedure", nil, step.Version, step.Name)
		}
		if err := m.apply(ctx, step.Version, step.Name, step.Down, false); err != nil {
			return reverted, migrationError("reverting migration %d (%s)", err, step.Version, step.Name)
		}
		reverted = append(reverted, step.Version)
		m.logger.Info("reverted migration", "version", step.Version, "name", step.Name)
	}
	return reverted, nil
}

// apply runs fn and records (or removes) the version row in one transaction.
//
// Steps run on a pinned connection with foreign key enforcement suspended and
// legacy ALTER TABLE semantics, so table rebuilds can rename tables without
// rewriting references held by other tables. Integrity is verified with
// foreign_key_check before commit.
func (m *Migrator) apply(ctx context.Context, version int, name string, fn StepFunc, up bool) (err error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys=OFF"); err != nil {
		return fmt.Errorf("suspending foreign keys: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA legacy_alter_table=ON"); err != nil {
		return fmt.Errorf("enabling legacy alter table: %w", err)
	}
	defer func() {
		if _, rerr := conn.ExecContext(context.Background(), "PRAGMA legacy_alter_table=OFF"); rerr != nil && err == nil {
			err = fmt.Errorf("restoring alter table mode: %w", rerr)
		}
		if _, rerr := conn.ExecContext(context.Background(), "PRAGMA foreign_keys=ON"); rerr != nil && err == nil {
			err = fmt.Errorf("restoring foreign keys: %w", rerr)
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if up {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			version, name, formatTime(m.now()))
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, version)
	}
	if err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}

	if err := checkForeignKeys(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

func checkForeignKeys(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("checking foreign keys: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		var table string
		var rowid sql.NullInt64
		var parent string
		var fkid int
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("scanning foreign key violation: %w", err)
		}
		return fmt.Errorf("foreign key violation in %s (rowid %d) referencing %s", table, rowid.Int64, parent)
	}
	return rows.Err()
}

// Status reports applied and pending steps.
func (m *Migrator) Status(ctx context.Context) (*MigrationStatus, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{
		CurrentVersion: current,
		LatestVersion:  m.Latest(),
		Applied:        []AppliedMigration{},
	}
	if current == 0 {
		status.Pending = m.pending(0)
		return status, nil
	}

	rows, err := m.db.QueryContext(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, migrationError("listing applied migrations", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a AppliedMigration
		var appliedAt string
		if err := rows.Scan(&a.Version, &a.Name, &appliedAt); err != nil {
			return nil, migrationError("scanning applied migration", err)
		}
		if a.AppliedAt, err = parseTime(appliedAt); err != nil {
			return nil, migrationError("parsing applied_at", err)
		}
		status.Applied = append(status.Applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, migrationError("iterating applied migrations", err)
	}

	status.Pending = m.pending(current)
	return status, nil
}

// MigrationStatus reports the schema version of an open store.
func (s *SQLiteStore) MigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	m, err := s.Migrator()
	if err != nil {
		return nil, err
	}
	return m.Status(ctx)
}

// RunPendingMigrations applies any steps registered after the store was opened.
func (s *SQLiteStore) RunPendingMigrations(ctx context.Context) ([]int, error) {
	m, err := s.Migrator()
	if err != nil {
		return nil, err
	}
	return m.Run(ctx)
}
