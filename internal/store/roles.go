// ABOUTME: Role catalogue and per-system role assignment on projects
// ABOUTME: An active assignment blocks deletion of the project it references

package store

import (
	"context"
	"database/sql"
	"errors"
)

// ListRoles returns built-in roles first, then custom ones, by id.
func (s *SQLiteStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, is_custom FROM roles ORDER BY is_custom, id
	`)
	if err != nil {
		return nil, storageError("listing roles", err)
	}
	defer func() { _ = rows.Close() }()

	roles := []Role{}
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.IsCustom); err != nil {
			return nil, storageError("scanning role", err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating roles", err)
	}
	return roles, nil
}

func requireRole(ctx context.Context, q queryer, roleID string) error {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM roles WHERE id = ?`, roleID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError("role %q not found", roleID)
	}
	if err != nil {
		return storageError("looking up role", err)
	}
	return nil
}

// activeRoleCount counts assignments on a project from any system.
func activeRoleCount(ctx context.Context, q queryer, projectID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM active_roles WHERE project_id = ?`, projectID).Scan(&n)
	if err != nil {
		return 0, storageError("counting active roles", err)
	}
	return n, nil
}

// ActiveRole returns the role actor has on projectName, or "" when none is set.
func (s *SQLiteStore) ActiveRole(ctx context.Context, projectName string, actor int64) (string, error) {
	p, err := getProjectByName(ctx, s.db, projectName)
	if err != nil {
		return "", err
	}
	var roleID string
	err = s.db.QueryRowContext(ctx, `
		SELECT role_id FROM active_roles WHERE project_id = ? AND system_id = ?
	`, p.ID, actor).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storageError("reading active role", err)
	}
	return roleID, nil
}

// SwitchRole makes roleID the actor's active role on a live project.
func (s *SQLiteStore) SwitchRole(ctx context.Context, projectName, roleID string, actor int64) error {
	if roleID == "" {
		return validationError("role id is required")
	}

	now := s.clock()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := liveProject(ctx, tx, projectName)
		if err != nil {
			return err
		}
		if err := requireRole(ctx, tx, roleID); err != nil {
			return err
		}

		var previous sql.NullString
		err = tx.QueryRowContext(ctx, `
			SELECT role_id FROM active_roles WHERE project_id = ? AND system_id = ?
		`, p.ID, actor).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return storageError("reading active role", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO project_roles (project_id, role_id, is_active, created_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT (project_id, role_id) DO UPDATE SET is_active = 1
		`, p.ID, roleID, formatTime(now)); err != nil {
			return storageError("enabling project role", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO active_roles (project_id, system_id, role_id, activated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (project_id, system_id) DO UPDATE SET role_id = excluded.role_id, activated_at = excluded.activated_at
		`, p.ID, actor, roleID, formatTime(now)); err != nil {
			return storageError("setting active role", err)
		}

		return appendAudit(ctx, tx, &AuditEntry{
			EntityType: EntityProject,
			EntityID:   p.ID,
			Action:     AuditSwitchRole,
			Changes: map[string]any{
				"from_role": previous.String,
				"to_role":   roleID,
				"system_id": actor,
			},
			RoleID:    roleID,
			Timestamp: now,
		})
	})
}

// ClearRole removes the actor's assignment on a project. Clearing when no
// role is set is a no-op.
func (s *SQLiteStore) ClearRole(ctx context.Context, projectName string, actor int64) error {
	now := s.clock()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := getProjectByName(ctx, tx, projectName)
		if err != nil {
			return err
		}

		var roleID string
		err = tx.QueryRowContext(ctx, `
			DELETE FROM active_roles WHERE project_id = ? AND system_id = ? RETURNING role_id
		`, p.ID, actor).Scan(&roleID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return storageError("clearing active role", err)
		}

		return appendAudit(ctx, tx, &AuditEntry{
			EntityType: EntityProject,
			EntityID:   p.ID,
			Action:     AuditClearRole,
			Changes:    map[string]any{"from_role": roleID, "system_id": actor},
			RoleID:     roleID,
			Timestamp:  now,
		})
	})
}
