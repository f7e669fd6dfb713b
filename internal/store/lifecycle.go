// ABOUTME: Soft-delete lifecycle: guards, declarative cascade graph, queue and audit
// ABOUTME: Every delete runs in one transaction; a second delete of the same row fails

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CascadeAction is what happens to a child when its parent is deleted.
type CascadeAction string

const (
	CascadeSoftDelete CascadeAction = "soft_delete"
	CascadeDeactivate CascadeAction = "deactivate"
)

// CascadeEdge links a parent type to one kind of dependent row.
type CascadeEdge struct {
	Child  EntityType
	Action CascadeAction
}

// entityTable describes where an entity type lives.
type entityTable struct {
	table  string
	parent string // column referencing the parent in the cascade graph
	queued bool   // soft deletes get a deletion_queue entry
	active string // flag cleared by CascadeDeactivate
}

var entityTables = map[EntityType]entityTable{
	EntityProject:        {table: "projects", queued: true},
	EntityContext:        {table: "context_entries", parent: "project_id", queued: true},
	EntityHandoff:        {table: "role_handoffs", parent: "project_id"},
	EntityRoleAssignment: {table: "project_roles", parent: "project_id", active: "is_active"},
}

// cascadeGraph maps a parent type to its dependents. Adding a dependent type
// is a new edge plus an entityTables row.
var cascadeGraph = map[EntityType][]CascadeEdge{
	EntityProject: {
		{Child: EntityContext, Action: CascadeSoftDelete},
		{Child: EntityHandoff, Action: CascadeSoftDelete},
		{Child: EntityRoleAssignment, Action: CascadeDeactivate},
	},
}

// deleteGuards run inside the delete transaction after the liveness check.
var deleteGuards = map[EntityType]func(ctx context.Context, q queryer, id int64) error{
	EntityProject: guardNoActiveRole,
}

func guardNoActiveRole(ctx context.Context, q queryer, projectID int64) error {
	n, err := activeRoleCount(ctx, q, projectID)
	if err != nil {
		return err
	}
	if n > 0 {
		return preconditionError("project has %d active role assignment(s); clear them before deleting", n)
	}
	return nil
}

// CascadeCounts tallies the rows touched by one cascade walk, per child type.
type CascadeCounts map[EntityType]int

func (c CascadeCounts) add(other CascadeCounts) {
	for k, v := range other {
		c[k] += v
	}
}

// DeleteResult confirms a successful soft delete.
type DeleteResult struct {
	EntityType          EntityType
	EntityID            int64
	Name                string // project name or context key
	DeletedAt           time.Time
	DeletedBy           int64
	ScheduledHardDelete time.Time
	ContextsDeleted     int
	HandoffsDeleted     int
	RolesDeactivated    int
}

// SoftDeleteProject deletes a live project and cascades to its dependents.
// confirm must be true.
func (s *SQLiteStore) SoftDeleteProject(ctx context.Context, name string, actor int64, confirm bool) (*DeleteResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("project name is required")
	}
	if !confirm {
		return nil, validationError("deleting project %q requires confirm=true", name)
	}

	now := s.clock()
	var result *DeleteResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := getProjectByName(ctx, tx, name)
		if err != nil {
			return err
		}
		counts, err := softDeleteTx(ctx, tx, EntityProject, p.ID, actor, now)
		if err != nil {
			return fmt.Errorf("deleting project %q: %w", name, err)
		}

		result = newDeleteResult(EntityProject, p.ID, name, actor, now, counts)
		return appendAudit(ctx, tx, &AuditEntry{
			EntityType: EntityProject,
			EntityID:   p.ID,
			Action:     AuditDelete,
			Changes: map[string]any{
				"project_name":      name,
				"contexts_deleted":  result.ContextsDeleted,
				"handoffs_deleted":  result.HandoffsDeleted,
				"roles_deactivated": result.RolesDeactivated,
				"deleted_by":        actor,
			},
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("soft-deleted project",
		"name", name,
		"id", result.EntityID,
		"contexts", result.ContextsDeleted,
		"handoffs", result.HandoffsDeleted,
		"roles", result.RolesDeactivated,
	)
	return result, nil
}

// SoftDeleteContext deletes the context entry for key, optionally scoped to a
// project.
func (s *SQLiteStore) SoftDeleteContext(ctx context.Context, key, projectName string, actor int64) (*DeleteResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, validationError("context key is required")
	}

	now := s.clock()
	var result *DeleteResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		entry, err := resolveContext(ctx, tx, key, projectName)
		if err != nil {
			return err
		}
		counts, err := softDeleteTx(ctx, tx, EntityContext, entry.ID, actor, now)
		if err != nil {
			return fmt.Errorf("deleting context %q: %w", key, err)
		}

		result = newDeleteResult(EntityContext, entry.ID, key, actor, now, counts)
		return appendAudit(ctx, tx, &AuditEntry{
			EntityType: EntityContext,
			EntityID:   entry.ID,
			Action:     AuditDelete,
			Changes: map[string]any{
				"key":        key,
				"type":       entry.Type,
				"project":    projectName,
				"deleted_by": actor,
			},
			RoleID:    entry.RoleID,
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("soft-deleted context", "key", key, "project", projectName, "id", result.EntityID)
	return result, nil
}

func newDeleteResult(et EntityType, id int64, name string, actor int64, at time.Time, counts CascadeCounts) *DeleteResult {
	return &DeleteResult{
		EntityType:          et,
		EntityID:            id,
		Name:                name,
		DeletedAt:           at,
		DeletedBy:           actor,
		ScheduledHardDelete: scheduledHardDelete(at),
		ContextsDeleted:     counts[EntityContext],
		HandoffsDeleted:     counts[EntityHandoff],
		RolesDeactivated:    counts[EntityRoleAssignment],
	}
}

// softDeleteTx marks one live entity deleted, walks the cascade graph and
// queues every queued type it touched. The caller owns the transaction and
// the audit entry.
func softDeleteTx(ctx context.Context, tx *sql.Tx, et EntityType, id, actor int64, at time.Time) (CascadeCounts, error) {
	meta, ok := entityTables[et]
	if !ok {
		return nil, validationError("entity type %q cannot be deleted", et)
	}

	var deletedAt sql.NullString
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT deleted_at FROM %s WHERE id = ?`, meta.table), id).Scan(&deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("%s %d not found", et, id)
	}
	if err != nil {
		return nil, storageError("reading "+string(et), err)
	}
	if deletedAt.Valid {
		return nil, alreadyDeletedError("%s %d was already deleted at %s", et, id, deletedAt.String)
	}

	if guard := deleteGuards[et]; guard != nil {
		if err := guard(ctx, tx, id); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET deleted_at = ?, deleted_by = ? WHERE id = ? AND deleted_at IS NULL`, meta.table),
		formatTime(at), nullInt64(actor), id); err != nil {
		return nil, storageError("marking "+string(et)+" deleted", err)
	}

	counts, err := cascade(ctx, tx, et, id, actor, at)
	if err != nil {
		return nil, err
	}

	if meta.queued {
		if err := enqueue(ctx, tx, et, id, at, actor); err != nil {
			return nil, err
		}
	}
	return counts, nil
}

// cascade applies every edge out of parentType to the children of parentID.
// Children already deleted keep their original deleted_at.
func cascade(ctx context.Context, tx *sql.Tx, parentType EntityType, parentID, actor int64, at time.Time) (CascadeCounts, error) {
	counts := CascadeCounts{}
	for _, edge := range cascadeGraph[parentType] {
		meta, ok := entityTables[edge.Child]
		if !ok {
			return nil, fmt.Errorf("cascade edge %s -> %s has no table", parentType, edge.Child)
		}

		switch edge.Action {
		case CascadeDeactivate:
			n, err := execCount(ctx, tx,
				fmt.Sprintf(`UPDATE %s SET %s = 0 WHERE %s = ? AND %s = 1`, meta.table, meta.active, meta.parent, meta.active),
				parentID)
			if err != nil {
				return nil, storageError("deactivating "+string(edge.Child), err)
			}
			counts[edge.Child] += n

		case CascadeSoftDelete:
			ids, err := liveChildIDs(ctx, tx, meta, parentID)
			if err != nil {
				return nil, err
			}
			for _, childID := range ids {
				if _, err := tx.ExecContext(ctx,
					fmt.Sprintf(`UPDATE %s SET deleted_at = ?, deleted_by = ? WHERE id = ?`, meta.table),
					formatTime(at), nullInt64(actor), childID); err != nil {
					return nil, storageError("cascading to "+string(edge.Child), err)
				}
				if meta.queued {
					if err := enqueue(ctx, tx, edge.Child, childID, at, actor); err != nil {
						return nil, err
					}
				}
				nested, err := cascade(ctx, tx, edge.Child, childID, actor, at)
				if err != nil {
					return nil, err
				}
				counts.add(nested)
			}
			counts[edge.Child] += len(ids)

		default:
			return nil, fmt.Errorf("unknown cascade action %q", edge.Action)
		}
	}
	return counts, nil
}

func liveChildIDs(ctx context.Context, tx *sql.Tx, meta entityTable, parentID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE %s = ? AND deleted_at IS NULL ORDER BY id`, meta.table, meta.parent),
		parentID)
	if err != nil {
		return nil, storageError("selecting dependents in "+meta.table, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageError("scanning dependent id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating dependents", err)
	}
	return ids, nil
}
