// ABOUTME: Append-only audit log over update_history for lifecycle transitions
// ABOUTME: Entries are written inside the transaction of the change they describe

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditCreate     AuditAction = "create"
	AuditUpdate     AuditAction = "update"
	AuditDelete     AuditAction = "delete"
	AuditCleanup    AuditAction = "cleanup"
	AuditSwitchRole AuditAction = "switch_role"
	AuditClearRole  AuditAction = "clear_role"
	AuditHardDelete AuditAction = "hard_delete"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         int64
	EntityType EntityType
	EntityID   int64
	Action     AuditAction
	Changes    map[string]any // structured payload, stored as JSON
	RoleID     string
	Timestamp  time.Time
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since      *time.Time
	EntityType *EntityType
	EntityID   *int64
	Action     *AuditAction
	Limit      int // max results (default 100, max 1000)
}

// appendAudit writes e using q, normally the caller's transaction, so the
// entry commits or rolls back with the change it records.
func appendAudit(ctx context.Context, q queryer, e *AuditEntry) error {
	var changes *string
	if e.Changes != nil {
		data, err := json.Marshal(e.Changes)
		if err != nil {
			return fmt.Errorf("marshaling audit changes: %w", err)
		}
		str := string(data)
		changes = &str
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO update_history (entity_type, entity_id, action, changes, role_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		string(e.EntityType),
		e.EntityID,
		string(e.Action),
		changes,
		nullString(e.RoleID),
		formatTime(e.Timestamp),
	)
	if err != nil {
		return storageError("inserting audit entry", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return storageError("reading audit entry id", err)
	}
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var entityType, action, ts string
	var changes, roleID sql.NullString

	if err := scanner.Scan(&e.ID, &entityType, &e.EntityID, &action, &changes, &roleID, &ts); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.EntityType = EntityType(entityType)
	e.Action = AuditAction(action)
	e.RoleID = roleID.String

	var err error
	if e.Timestamp, err = parseTime(ts); err != nil {
		return e, err
	}
	if changes.Valid && changes.String != "" {
		if err := json.Unmarshal([]byte(changes.String), &e.Changes); err != nil {
			return e, fmt.Errorf("unmarshaling changes: %w", err)
		}
	}
	return e, nil
}

const auditLogQuery = `
	SELECT id, entity_type, entity_id, action, changes, role_id, timestamp
	FROM update_history
	WHERE (? IS NULL OR datetime(timestamp) >= datetime(?))
	  AND (? IS NULL OR entity_type = ?)
	  AND (? IS NULL OR entity_id = ?)
	  AND (? IS NULL OR action = ?)
	ORDER BY datetime(timestamp) DESC, id DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter, newest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var since, entityType, action *string
	if f.Since != nil {
		v := formatTime(*f.Since)
		since = &v
	}
	if f.EntityType != nil {
		v := string(*f.EntityType)
		entityType = &v
	}
	if f.Action != nil {
		v := string(*f.Action)
		action = &v
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		since, since,
		entityType, entityType,
		f.EntityID, f.EntityID,
		action, action,
		normalizeAuditLimit(f.Limit),
	)
	if err != nil {
		return nil, storageError("querying audit log", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, storageError("reading audit log", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating audit entries", err)
	}
	return entries, nil
}
