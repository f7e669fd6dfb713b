// ABOUTME: Project, context entry and handoff persistence used by the tool layer
// ABOUTME: Writes refuse soft-deleted targets; reads can see deleted rows for reporting

package store

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"
)

// ProjectFilter narrows ListProjects.
type ProjectFilter struct {
	Status         string // empty matches any status
	IncludeDeleted bool
}

const projectColumns = `
	p.id, p.name, p.description, p.status, p.repository_url, p.tags,
	p.created_at, p.updated_at, p.deleted_at, p.deleted_by,
	(SELECT COUNT(*) FROM context_entries c WHERE c.project_id = p.id AND c.deleted_at IS NULL)
`

func scanProject(scanner interface{ Scan(dest ...any) error }) (*Project, error) {
	var p Project
	var description, repoURL, deletedAt sql.NullString
	var deletedBy sql.NullInt64
	var tags, createdAt, updatedAt string

	if err := scanner.Scan(&p.ID, &p.Name, &description, &p.Status, &repoURL, &tags,
		&createdAt, &updatedAt, &deletedAt, &deletedBy, &p.ContextCount); err != nil {
		return nil, err
	}
	p.Description = description.String
	p.RepositoryURL = repoURL.String
	p.Tags = decodeTags(tags)
	if deletedBy.Valid {
		p.DeletedBy = &deletedBy.Int64
	}

	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if p.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func getProjectByName(ctx context.Context, q queryer, name string) (*Project, error) {
	row := q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.name = ?`, name)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("project %q not found", name)
	}
	if err != nil {
		return nil, storageError("reading project", err)
	}
	return p, nil
}

// liveProject resolves name to a project that has not been deleted.
func liveProject(ctx context.Context, q queryer, name string) (*Project, error) {
	p, err := getProjectByName(ctx, q, name)
	if err != nil {
		return nil, err
	}
	if !p.Live() {
		return nil, alreadyDeletedError("project %q was deleted at %s", name, formatTime(*p.DeletedAt))
	}
	return p, nil
}

// GetProject returns the project with the given name, deleted or not.
func (s *SQLiteStore) GetProject(ctx context.Context, name string) (*Project, error) {
	return getProjectByName(ctx, s.db, name)
}

// StoreProject creates the project or updates its description, status,
// repository and tags. A soft-deleted project cannot be stored again.
func (s *SQLiteStore) StoreProject(ctx context.Context, p *Project) (*Project, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, validationError("project name is required")
	}
	if p.Status == "" {
		p.Status = ProjectActive
	}
	switch p.Status {
	case ProjectActive, ProjectPaused, ProjectCompleted, ProjectArchived:
	default:
		return nil, validationError("invalid project status %q", p.Status)
	}

	now := s.clock()
	var stored *Project
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getProjectByName(ctx, tx, p.Name)
		action := AuditUpdate
		switch {
		case errors.Is(err, ErrNotFound):
			action = AuditCreate
			_, err = tx.ExecContext(ctx, `
				INSERT INTO projects (name, description, status, repository_url, tags, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, p.Name, nullString(p.Description), p.Status, nullString(p.RepositoryURL), encodeTags(p.Tags),
				formatTime(now), formatTime(now))
		case err != nil:
			return err
		case !existing.Live():
			return alreadyDeletedError("project %q was deleted at %s", p.Name, formatTime(*existing.DeletedAt))
		default:
			_, err = tx.ExecContext(ctx, `
				UPDATE projects
				SET description = ?, status = ?, repository_url = ?, tags = ?, updated_at = ?
				WHERE id = ?
			`, nullString(p.Description), p.Status, nullString(p.RepositoryURL), encodeTags(p.Tags),
				formatTime(now), existing.ID)
		}
		if err != nil {
			return storageError("storing project", err)
		}

		if stored, err = getProjectByName(ctx, tx, p.Name); err != nil {
			return err
		}
		return appendAudit(ctx, tx, &AuditEntry{
			EntityType: EntityProject,
			EntityID:   stored.ID,
			Action:     action,
			Changes:    map[string]any{"name": stored.Name, "status": stored.Status},
			Timestamp:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("stored project", "name", stored.Name, "id", stored.ID)
	return stored, nil
}

// ListProjects returns projects ordered by name.
func (s *SQLiteStore) ListProjects(ctx context.Context, f ProjectFilter) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects p
		WHERE (? = '' OR p.status = ?)
		  AND (? OR p.deleted_at IS NULL)
		ORDER BY p.name
	`, f.Status, f.Status, f.IncludeDeleted)
	if err != nil {
		return nil, storageError("listing projects", err)
	}
	defer func() { _ = rows.Close() }()

	projects := []Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, storageError("scanning project", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating projects", err)
	}
	return projects, nil
}

const contextColumns = `
	id, project_id, system_id, role_id, type, key, value, is_system_specific, tags,
	created_at, updated_at, deleted_at, deleted_by
`

func scanContext(scanner interface{ Scan(dest ...any) error }) (*ContextEntry, error) {
	var e ContextEntry
	var projectID, systemID, deletedBy sql.NullInt64
	var roleID, deletedAt sql.NullString
	var tags, createdAt, updatedAt string

	if err := scanner.Scan(&e.ID, &projectID, &systemID, &roleID, &e.Type, &e.Key, &e.Value,
		&e.IsSystemSpecific, &tags, &createdAt, &updatedAt, &deletedAt, &deletedBy); err != nil {
		return nil, err
	}
	if projectID.Valid {
		e.ProjectID = &projectID.Int64
	}
	if systemID.Valid {
		e.SystemID = &systemID.Int64
	}
	if deletedBy.Valid {
		e.DeletedBy = &deletedBy.Int64
	}
	e.RoleID = roleID.String
	e.Tags = decodeTags(tags)

	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if e.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// findContexts returns every entry with key, live ones first, newest first.
// A nil projectID matches entries in any project.
func findContexts(ctx context.Context, q queryer, key string, projectID *int64) ([]ContextEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+contextColumns+`
		FROM context_entries
		WHERE key = ? AND (? IS NULL OR project_id = ?)
		ORDER BY deleted_at IS NULL DESC, id DESC
	`, key, projectID, projectID)
	if err != nil {
		return nil, storageError("looking up context", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []ContextEntry
	for rows.Next() {
		e, err := scanContext(rows)
		if err != nil {
			return nil, storageError("scanning context", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating contexts", err)
	}
	return entries, nil
}

// resolveContext picks the entry a key refers to. A live match wins over
// deleted ones; more than one live match is ambiguous.
func resolveContext(ctx context.Context, q queryer, key, projectName string) (*ContextEntry, error) {
	var projectID *int64
	if projectName != "" {
		p, err := getProjectByName(ctx, q, projectName)
		if err != nil {
			return nil, err
		}
		projectID = &p.ID
	}

	entries, err := findContexts(ctx, q, key, projectID)
	if err != nil {
		return nil, err
	}
	scope := "any project"
	if projectName != "" {
		scope = "project " + projectName
	}
	if len(entries) == 0 {
		return nil, notFoundError("context %q not found in %s", key, scope)
	}

	live := 0
	for _, e := range entries {
		if e.DeletedAt == nil {
			live++
		}
	}
	if live > 1 {
		return nil, validationError("context key %q matches %d entries in %s; specify a project", key, live, scope)
	}
	return &entries[0], nil
}

// GetContext returns the entry for key, preferring a live row.
func (s *SQLiteStore) GetContext(ctx context.Context, key, projectName string) (*ContextEntry, error) {
	if strings.TrimSpace(key) == "" {
		return nil, validationError("context key is required")
	}
	return resolveContext(ctx, s.db, key, projectName)
}

// StoreContext writes an entry under projectName (standalone when empty).
// An existing live entry with the same key and scope is updated in place.
func (s *SQLiteStore) StoreContext(ctx context.Context, projectName string, e *ContextEntry) (*ContextEntry, error) {
	e.Key = strings.TrimSpace(e.Key)
	if e.Key == "" {
		return nil, validationError("context key is required")
	}
	if e.Type == "" {
		e.Type = "note"
	}
	if !slices.Contains(ContextTypes, e.Type) {
		return nil, validationError("invalid context type %q", e.Type)
	}

	now := s.clock()
	var stored *ContextEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var projectID *int64
		if projectName != "" {
			p, err := liveProject(ctx, tx, projectName)
			if err != nil {
				return err
			}
			projectID = &p.ID
		}

		var existingID int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM context_entries
			WHERE key = ? AND deleted_at IS NULL
			  AND ((? IS NULL AND project_id IS NULL) OR project_id = ?)
			ORDER BY id DESC LIMIT 1
		`, e.Key, projectID, projectID).Scan(&existingID)

		action := AuditUpdate
		var id int64
		switch {
		case errors.Is(err, sql.ErrNoRows):
			action = AuditCreate
			res, err := tx.ExecContext(ctx, `
				INSERT INTO context_entries
					(project_id, system_id, role_id, type, key, value, is_system_specific, tags, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, projectID, e.SystemID, nullString(e.RoleID), e.Type, e.Key, e.Value, e.IsSystemSpecific,
				encodeTags(e.Tags), formatTime(now), formatTime(now))
			if err != nil {
				return storageError("inserting context", err)
			}
			if id, err = res.LastInsertId(); err != nil {
				return storageError("reading context id", err)
			}
		case err != nil:
			return storageError("looking up context", err)
		default:
			id = existingID
			if _, err := tx.ExecContext(ctx, `
				UPDATE context_entries
				SET type = ?, value = ?, role_id = ?, is_system_specific = ?, tags = ?, updated_at = ?
				WHERE id = ?
			`, e.Type, e.Value, nullString(e.RoleID), e.IsSystemSpecific, encodeTags(e.Tags),
				formatTime(now), id); err != nil {
				return storageError("updating context", err)
			}
		}

		row := tx.QueryRowContext(ctx, `SELECT `+contextColumns+` FROM context_entries WHERE id = ?`, id)
		if stored, err = scanContext(row); err != nil {
			return storageError("reading context", err)
		}
		return appendAudit(ctx, tx, &AuditEntry{
			EntityType: EntityContext,
			EntityID:   id,
			Action:     action,
			Changes:    map[string]any{"key": e.Key, "type": e.Type, "project": projectName},
			RoleID:     e.RoleID,
			Timestamp:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// CreateHandoff records a handoff between two roles on a live project.
func (s *SQLiteStore) CreateHandoff(ctx context.Context, projectName string, h *RoleHandoff) (*RoleHandoff, error) {
	if h.FromRoleID == "" || h.ToRoleID == "" {
		return nil, validationError("handoff requires from and to roles")
	}
	if strings.TrimSpace(h.Summary) == "" {
		return nil, validationError("handoff summary is required")
	}

	now := s.clock()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := liveProject(ctx, tx, projectName)
		if err != nil {
			return err
		}
		for _, roleID := range []string{h.FromRoleID, h.ToRoleID} {
			if err := requireRole(ctx, tx, roleID); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO role_handoffs (project_id, from_role_id, to_role_id, system_id, summary, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, p.ID, h.FromRoleID, h.ToRoleID, h.SystemID, h.Summary, formatTime(now), formatTime(now))
		if err != nil {
			return storageError("inserting handoff", err)
		}
		if h.ID, err = res.LastInsertId(); err != nil {
			return storageError("reading handoff id", err)
		}
		h.ProjectID = p.ID
		h.CreatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// GetHandoff returns a handoff by id, deleted or not.
func (s *SQLiteStore) GetHandoff(ctx context.Context, id int64) (*RoleHandoff, error) {
	var h RoleHandoff
	var systemID, deletedBy sql.NullInt64
	var createdAt string
	var deletedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, from_role_id, to_role_id, system_id, summary, created_at, deleted_at, deleted_by
		FROM role_handoffs WHERE id = ?
	`, id).Scan(&h.ID, &h.ProjectID, &h.FromRoleID, &h.ToRoleID, &systemID, &h.Summary, &createdAt, &deletedAt, &deletedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("handoff %d not found", id)
	}
	if err != nil {
		return nil, storageError("reading handoff", err)
	}
	if systemID.Valid {
		h.SystemID = &systemID.Int64
	}
	if deletedBy.Valid {
		h.DeletedBy = &deletedBy.Int64
	}
	if h.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, storageError("reading handoff", err)
	}
	if h.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, storageError("reading handoff", err)
	}
	return &h, nil
}
