// ABOUTME: Deletion queue: one purge-eligibility record per soft-deleted entity
// ABOUTME: Hard deletes happen only when an operator runs PurgeDue

package store

import (
	"context"
	"database/sql"
	"time"
)

// QueueEntry is a row of deletion_queue.
type QueueEntry struct {
	ID                  int64
	EntityType          EntityType
	EntityID            int64
	DeletedAt           time.Time
	DeletedBy           *int64
	ScheduledHardDelete time.Time
	HardDeleted         bool
}

// QueueFilter narrows ListDeletionQueue.
type QueueFilter struct {
	EntityType    *EntityType
	IncludePurged bool
	Limit         int // default 100, max 1000
}

// PurgeResult summarizes a PurgeDue run.
type PurgeResult struct {
	Purged          []QueueEntry
	ProjectsPurged  int
	ContextsPurged  int
	HandoffsPurged  int
	AssignmentsGone int
}

// scheduledHardDelete is when an entity deleted at deletedAt may be purged.
func scheduledHardDelete(deletedAt time.Time) time.Time {
	return deletedAt.Add(RetentionPeriod)
}

// enqueue creates or replaces the queue entry for an entity. It must run on
// the transaction that soft-deleted the entity.
func enqueue(ctx context.Context, tx *sql.Tx, entityType EntityType, entityID int64, deletedAt time.Time, actor int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deletion_queue (entity_type, entity_id, deleted_at, deleted_by, scheduled_hard_delete, hard_deleted)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			deleted_at = excluded.deleted_at,
			deleted_by = excluded.deleted_by,
			scheduled_hard_delete = excluded.scheduled_hard_delete,
			hard_deleted = 0
	`, string(entityType), entityID, formatTime(deletedAt), nullInt64(actor), formatTime(scheduledHardDelete(deletedAt)))
	if err != nil {
		return storageError("enqueueing "+string(entityType), err)
	}
	return nil
}

const queueColumns = `id, entity_type, entity_id, deleted_at, deleted_by, scheduled_hard_delete, hard_deleted`

func scanQueueEntry(scanner interface{ Scan(dest ...any) error }) (QueueEntry, error) {
	var e QueueEntry
	var entityType, deletedAt, scheduled string
	var deletedBy sql.NullInt64
	if err := scanner.Scan(&e.ID, &entityType, &e.EntityID, &deletedAt, &deletedBy, &scheduled, &e.HardDeleted); err != nil {
		return e, err
	}
	e.EntityType = EntityType(entityType)
	if deletedBy.Valid {
		e.DeletedBy = &deletedBy.Int64
	}
	var err error
	if e.DeletedAt, err = parseTime(deletedAt); err != nil {
		return e, err
	}
	if e.ScheduledHardDelete, err = parseTime(scheduled); err != nil {
		return e, err
	}
	return e, nil
}

func collectQueue(rows *sql.Rows) ([]QueueEntry, error) {
	defer func() { _ = rows.Close() }()
	entries := []QueueEntry{}
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, storageError("scanning queue entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating deletion queue", err)
	}
	return entries, nil
}

// ListDeletionQueue returns queue entries ordered by purge eligibility.
func (s *SQLiteStore) ListDeletionQueue(ctx context.Context, f QueueFilter) ([]QueueEntry, error) {
	var entityType *string
	if f.EntityType != nil {
		v := string(*f.EntityType)
		entityType = &v
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM deletion_queue
		WHERE (? IS NULL OR entity_type = ?)
		  AND (? OR hard_deleted = 0)
		ORDER BY datetime(scheduled_hard_delete), id
		LIMIT ?
	`, entityType, entityType, f.IncludePurged, normalizeAuditLimit(f.Limit))
	if err != nil {
		return nil, storageError("listing deletion queue", err)
	}
	return collectQueue(rows)
}

// DuePurges returns entries whose retention window has elapsed.
func (s *SQLiteStore) DuePurges(ctx context.Context) ([]QueueEntry, error) {
	return duePurges(ctx, s.db, s.clock())
}

func duePurges(ctx context.Context, q queryer, now time.Time) ([]QueueEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM deletion_queue
		WHERE hard_deleted = 0 AND datetime(scheduled_hard_delete) <= datetime(?)
		ORDER BY datetime(scheduled_hard_delete), id
	`, formatTime(now))
	if err != nil {
		return nil, storageError("selecting due purges", err)
	}
	return collectQueue(rows)
}

// PurgeDue physically removes every entity whose retention window has
// elapsed and flips its queue entry to hard_deleted. Purging a project also
// removes its contexts, handoffs and role rows. Everything happens in one
// transaction with a single hard_delete audit entry.
func (s *SQLiteStore) PurgeDue(ctx context.Context, actor int64) (*PurgeResult, error) {
	now := s.clock()
	result := &PurgeResult{Purged: []QueueEntry{}}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		due, err := duePurges(ctx, tx, now)
		if err != nil {
			return err
		}

		for _, e := range due {
			// An earlier project purge in this run may have covered e already.
			var purged bool
			if err := tx.QueryRowContext(ctx, `SELECT hard_deleted FROM deletion_queue WHERE id = ?`, e.ID).Scan(&purged); err != nil {
				return storageError("rechecking queue entry", err)
			}
			if purged {
				continue
			}

			switch e.EntityType {
			case EntityContext:
				n, err := execCount(ctx, tx, `DELETE FROM context_entries WHERE id = ? AND deleted_at IS NOT NULL`, e.EntityID)
				if err != nil {
					return storageError("purging context", err)
				}
				result.ContextsPurged += n
			case EntityProject:
				if err := s.purgeProject(ctx, tx, e.EntityID, result); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, `UPDATE deletion_queue SET hard_deleted = 1 WHERE id = ?`, e.ID); err != nil {
				return storageError("marking queue entry purged", err)
			}
			e.HardDeleted = true
			result.Purged = append(result.Purged, e)
		}

		if len(result.Purged) == 0 {
			return nil
		}
		return appendAudit(ctx, tx, &AuditEntry{
			EntityType: EntitySystem,
			EntityID:   actor,
			Action:     AuditHardDelete,
			Changes: map[string]any{
				"projects_purged": result.ProjectsPurged,
				"contexts_purged": result.ContextsPurged,
				"handoffs_purged": result.HandoffsPurged,
				"entries":         len(result.Purged),
			},
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("purged expired entities",
		"entries", len(result.Purged),
		"projects", result.ProjectsPurged,
		"contexts", result.ContextsPurged,
	)
	return result, nil
}

func (s *SQLiteStore) purgeProject(ctx context.Context, tx *sql.Tx, projectID int64, result *PurgeResult) error {
	// Contexts purged with their project no longer need their own entry.
	if _, err := tx.ExecContext(ctx, `
		UPDATE deletion_queue SET hard_deleted = 1
		WHERE entity_type = 'context'
		  AND entity_id IN (SELECT id FROM context_entries WHERE project_id = ?)
	`, projectID); err != nil {
		return storageError("marking project contexts purged", err)
	}

	n, err := execCount(ctx, tx, `DELETE FROM context_entries WHERE project_id = ?`, projectID)
	if err != nil {
		return storageError("purging project contexts", err)
	}
	result.ContextsPurged += n

	if n, err = execCount(ctx, tx, `DELETE FROM role_handoffs WHERE project_id = ?`, projectID); err != nil {
		return storageError("purging handoffs", err)
	}
	result.HandoffsPurged += n

	for _, stmt := range []string{
		`DELETE FROM active_roles WHERE project_id = ?`,
		`DELETE FROM project_roles WHERE project_id = ?`,
	} {
		if n, err = execCount(ctx, tx, stmt, projectID); err != nil {
			return storageError("purging role assignments", err)
		}
		result.AssignmentsGone += n
	}

	if n, err = execCount(ctx, tx, `DELETE FROM projects WHERE id = ? AND deleted_at IS NOT NULL`, projectID); err != nil {
		return storageError("purging project", err)
	}
	result.ProjectsPurged += n
	return nil
}

func execCount(ctx context.Context, tx *sql.Tx, query string, args ...any) (int, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
