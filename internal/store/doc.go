// Package store provides persistent storage for project context using SQLite.
//
// # Architecture
//
// SQLiteStore is the single store handle. It is opened once at startup,
// passed to every component that needs it, and closed on shutdown. It
// implements ContextStore, the interface the tool layer depends on.
//
// Components, leaves first:
//
//   - Migrator: versioned schema steps recorded in schema_migrations
//   - Audit log: append-only update_history rows
//   - Lifecycle manager: soft delete with guards and a declarative cascade graph
//   - Deletion queue: purge eligibility, deleted_at plus RetentionPeriod
//   - Sweep: age-threshold bulk soft delete with a dry-run preview
//
// # Data Models
//
//   - Project: named container, status active, paused, completed or archived
//   - ContextEntry: keyed record, scoped to a project or standalone
//   - RoleHandoff: work passed between roles on a project
//   - QueueEntry: one per soft-deleted project or context
//   - AuditEntry: entity, action and a JSON changes payload
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode and a single connection, so every
// write transaction is exclusive:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Two drivers are registered: "sqlite" (modernc.org/sqlite, pure Go, the
// default) and "sqlite3" (mattn/go-sqlite3, cgo).
//
// # Migrations
//
// Open applies every pending step before returning. Each step and its
// version row commit together. A failing step leaves the store at the last
// applied version and Open returns an error with code MIGRATION_ERROR.
// Steps that remove columns rebuild the table (create replacement, copy
// rows, swap names, drop original). Down steps run only through
// Migrator.Rollback.
//
// # Error Handling
//
// Failures are *Error values carrying an ErrorCode. They match the
// sentinels with errors.Is:
//
//   - ErrValidation, ErrNotFound, ErrAlreadyDeleted, ErrPreconditionFailed: recoverable
//   - ErrMigration, ErrStorage: fatal during startup
//
// # Testing
//
// Tests open a temp-file store with NewSQLiteStore and inject a clock with
// WithClock so age and retention arithmetic is deterministic.
package store
