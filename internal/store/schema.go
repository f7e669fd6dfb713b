// ABOUTME: Built-in migration registry for the context store schema (v1-v5)
// ABOUTME: Column removal uses the rebuild strategy: create, copy, swap names, drop original

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// BuiltinMigrations returns the registry applied at startup, ascending.
func BuiltinMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "initial-schema", Up: upInitialSchema, Down: downInitialSchema},
		{Version: 2, Name: "add-roles", Up: upAddRoles, Down: downAddRoles},
		{Version: 3, Name: "add-custom-roles", Up: upAddCustomRoles, Down: downAddCustomRoles},
		{Version: 4, Name: "update-history-changes", Up: upUpdateHistoryChanges, Down: downUpdateHistoryChanges},
		{Version: 5, Name: "add-soft-delete", Up: upAddSoftDelete, Down: downAddSoftDelete},
	}
}

// tableShape is one version of a table's layout. ddl has a single %s for the
// table name so the same shape can be created under a temporary name.
type tableShape struct {
	ddl     string
	columns []string
	indexes []string
}

func (t tableShape) create(name string) string {
	return fmt.Sprintf(t.ddl, name)
}

var projectsV1 = tableShape{
	ddl: `CREATE TABLE %s (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		name              TEXT NOT NULL UNIQUE,
		description       TEXT,
		status            TEXT NOT NULL DEFAULT 'active',
		repository_url    TEXT,
		primary_system_id INTEGER REFERENCES systems(id),
		tags              TEXT NOT NULL DEFAULT '[]',
		metadata          TEXT NOT NULL DEFAULT '{}',
		created_at        TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at        TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,

		CHECK (status IN ('active', 'paused', 'completed', 'archived'))
	)`,
	columns: []string{"id", "name", "description", "status", "repository_url", "primary_system_id",
		"tags", "metadata", "created_at", "updated_at"},
	indexes: []string{
		`CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status)`,
	},
}

const contextTypesCheck = `CHECK (type IN ('decision', 'code', 'standard', 'status', 'todo', 'note', 'config', 'issue', 'reference'))`

var contextEntriesV1 = tableShape{
	ddl: `CREATE TABLE %s (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id         INTEGER REFERENCES projects(id),
		system_id          INTEGER REFERENCES systems(id),
		type               TEXT NOT NULL,
		key                TEXT NOT NULL,
		value              TEXT NOT NULL,
		is_system_specific INTEGER NOT NULL DEFAULT 0,
		tags               TEXT NOT NULL DEFAULT '[]',
		metadata           TEXT NOT NULL DEFAULT '{}',
		created_at         TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at         TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,

		` + contextTypesCheck + `
	)`,
	columns: []string{"id", "project_id", "system_id", "type", "key", "value", "is_system_specific",
		"tags", "metadata", "created_at", "updated_at"},
	indexes: []string{
		`CREATE INDEX IF NOT EXISTS idx_context_entries_project ON context_entries(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_context_entries_key ON context_entries(key)`,
	},
}

var contextEntriesV2 = tableShape{
	ddl: `CREATE TABLE %s (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id         INTEGER REFERENCES projects(id),
		system_id          INTEGER REFERENCES systems(id),
		type               TEXT NOT NULL,
		key                TEXT NOT NULL,
		value              TEXT NOT NULL,
		is_system_specific INTEGER NOT NULL DEFAULT 0,
		tags               TEXT NOT NULL DEFAULT '[]',
		metadata           TEXT NOT NULL DEFAULT '{}',
		created_at         TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at         TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		role_id            TEXT REFERENCES roles(id),

		` + contextTypesCheck + `
	)`,
	columns: append(append([]string{}, contextEntriesV1.columns...), "role_id"),
	indexes: append(append([]string{}, contextEntriesV1.indexes...),
		`CREATE INDEX IF NOT EXISTS idx_context_entries_role ON context_entries(role_id)`,
		`CREATE INDEX IF NOT EXISTS idx_context_entries_role_type ON context_entries(project_id, role_id, type)`,
	),
}

var updateHistoryV1 = tableShape{
	ddl: `CREATE TABLE %s (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id   INTEGER NOT NULL,
		action      TEXT NOT NULL,
		details     TEXT,
		timestamp   TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,

		CHECK (entity_type IN ('project', 'context', 'system'))
	)`,
	columns: []string{"id", "entity_type", "entity_id", "action", "details", "timestamp"},
	indexes: []string{
		`CREATE INDEX IF NOT EXISTS idx_update_history_timestamp ON update_history(timestamp)`,
	},
}

var updateHistoryV2 = tableShape{
	ddl: `CREATE TABLE %s (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id   INTEGER NOT NULL,
		action      TEXT NOT NULL,
		details     TEXT,
		timestamp   TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		role_id     TEXT,

		CHECK (entity_type IN ('project', 'context', 'system'))
	)`,
	columns: append(append([]string{}, updateHistoryV1.columns...), "role_id"),
	indexes: updateHistoryV1.indexes,
}

// updateHistoryV4 replaces the free-form details column with a structured
// changes payload.
var updateHistoryV4 = tableShape{
	ddl: `CREATE TABLE %s (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id   INTEGER NOT NULL,
		action      TEXT NOT NULL,
		changes     TEXT,
		role_id     TEXT,
		timestamp   TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,

		CHECK (entity_type IN ('project', 'context', 'system'))
	)`,
	columns: []string{"id", "entity_type", "entity_id", "action", "changes", "role_id", "timestamp"},
	indexes: []string{
		`CREATE INDEX IF NOT EXISTS idx_update_history_timestamp ON update_history(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_update_history_entity ON update_history(entity_type, entity_id)`,
	},
}

var rolesV2 = tableShape{
	ddl: `CREATE TABLE %s (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	columns: []string{"id", "name", "description", "created_at"},
}

var roleHandoffsV2 = tableShape{
	ddl: `CREATE TABLE %s (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id   INTEGER NOT NULL REFERENCES projects(id),
		from_role_id TEXT NOT NULL REFERENCES roles(id),
		to_role_id   TEXT NOT NULL REFERENCES roles(id),
		system_id    INTEGER REFERENCES systems(id),
		summary      TEXT NOT NULL,
		created_at   TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at   TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	columns: []string{"id", "project_id", "from_role_id", "to_role_id", "system_id", "summary",
		"created_at", "updated_at"},
	indexes: []string{
		`CREATE INDEX IF NOT EXISTS idx_role_handoffs_project ON role_handoffs(project_id)`,
	},
}

// DefaultRoles are seeded by the add-roles migration.
var DefaultRoles = []Role{
	{ID: "architect", Name: "Architect", Description: "System design, architecture decisions, and technical standards"},
	{ID: "developer", Name: "Developer", Description: "Implementation details, code patterns, and debugging"},
	{ID: "devops", Name: "DevOps Engineer", Description: "Infrastructure, deployment, and operations"},
	{ID: "qa", Name: "QA Engineer", Description: "Testing strategies, test cases, and quality metrics"},
	{ID: "product", Name: "Product Manager", Description: "Requirements, user stories, and product decisions"},
}

// RoleTemplate is a starting point for a custom role.
type RoleTemplate struct {
	ID           string
	Name         string
	Description  string
	FocusAreas   []string
	ContextTypes []string
}

// DefaultRoleTemplates are seeded by the add-custom-roles migration.
var DefaultRoleTemplates = []RoleTemplate{
	{ID: "security-engineer", Name: "Security Engineer", Description: "Threat models, audits, and security controls",
		FocusAreas: []string{"threat-modeling", "compliance"}, ContextTypes: []string{"decision", "issue", "standard"}},
	{ID: "data-engineer", Name: "Data Engineer", Description: "Pipelines, schemas, and data quality",
		FocusAreas: []string{"pipelines", "schemas"}, ContextTypes: []string{"config", "code", "decision"}},
	{ID: "tech-lead", Name: "Tech Lead", Description: "Team direction, reviews, and delivery tradeoffs",
		FocusAreas: []string{"planning", "reviews"}, ContextTypes: []string{"decision", "status", "todo"}},
	{ID: "technical-writer", Name: "Technical Writer", Description: "Documentation, guides, and references",
		FocusAreas: []string{"docs", "onboarding"}, ContextTypes: []string{"reference", "note"}},
	{ID: "ux-designer", Name: "UX Designer", Description: "User flows, research, and interface decisions",
		FocusAreas: []string{"research", "interaction"}, ContextTypes: []string{"decision", "note", "reference"}},
}

func execAll(ctx context.Context, tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing %q: %w", truncate(strings.TrimSpace(stmt), 60), err)
		}
	}
	return nil
}

// truncate shortens a string for error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// rebuildTable reshapes table to shape: create the replacement, copy rows,
// swap names, drop the original, then recreate indexes. sourceExprs are
// selected from the original for each target column (nil copies by name).
// This is how a step removes or renames columns.
func rebuildTable(ctx context.Context, tx *sql.Tx, table string, shape tableShape, sourceExprs []string) error {
	if sourceExprs == nil {
		sourceExprs = shape.columns
	}
	if len(sourceExprs) != len(shape.columns) {
		return fmt.Errorf("rebuilding %s: %d source expressions for %d columns", table, len(sourceExprs), len(shape.columns))
	}

	replacement := table + "_new"
	original := table + "_old"

	stmts := []string{
		shape.create(replacement),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			replacement, strings.Join(shape.columns, ", "), strings.Join(sourceExprs, ", "), table),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", table, original),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", replacement, table),
		fmt.Sprintf("DROP TABLE %s", original),
	}
	stmts = append(stmts, shape.indexes...)

	if err := execAll(ctx, tx, stmts...); err != nil {
		return fmt.Errorf("rebuilding %s: %w", table, err)
	}
	return nil
}

func upInitialSchema(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE systems (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL,
			hostname   TEXT NOT NULL UNIQUE,
			platform   TEXT NOT NULL,
			is_current INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_seen  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		projectsV1.create("projects"),
		contextEntriesV1.create("context_entries"),
		updateHistoryV1.create("update_history"),
	}
	stmts = append(stmts, projectsV1.indexes...)
	stmts = append(stmts, contextEntriesV1.indexes...)
	stmts = append(stmts, updateHistoryV1.indexes...)
	return execAll(ctx, tx, stmts...)
}

func downInitialSchema(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx,
		`DROP TABLE IF EXISTS update_history`,
		`DROP TABLE IF EXISTS context_entries`,
		`DROP TABLE IF EXISTS projects`,
		`DROP TABLE IF EXISTS systems`,
	)
}

func upAddRoles(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		rolesV2.create("roles"),
		`CREATE TABLE project_roles (
			project_id INTEGER NOT NULL REFERENCES projects(id),
			role_id    TEXT NOT NULL REFERENCES roles(id),
			is_active  INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,

			PRIMARY KEY (project_id, role_id)
		)`,
		`CREATE TABLE active_roles (
			project_id   INTEGER NOT NULL REFERENCES projects(id),
			system_id    INTEGER NOT NULL REFERENCES systems(id),
			role_id      TEXT NOT NULL REFERENCES roles(id),
			activated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,

			PRIMARY KEY (project_id, system_id)
		)`,
		roleHandoffsV2.create("role_handoffs"),
		`ALTER TABLE context_entries ADD COLUMN role_id TEXT REFERENCES roles(id)`,
		`ALTER TABLE update_history ADD COLUMN role_id TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_active_roles_project ON active_roles(project_id)`,
	}
	stmts = append(stmts, roleHandoffsV2.indexes...)
	stmts = append(stmts, contextEntriesV2.indexes...)
	if err := execAll(ctx, tx, stmts...); err != nil {
		return err
	}

	for _, r := range DefaultRoles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO roles (id, name, description) VALUES (?, ?, ?)`,
			r.ID, r.Name, r.Description); err != nil {
			return fmt.Errorf("seeding role %s: %w", r.ID, err)
		}
	}
	return nil
}

func downAddRoles(ctx context.Context, tx *sql.Tx) error {
	if err := execAll(ctx, tx,
		`DROP TABLE IF EXISTS role_handoffs`,
		`DROP TABLE IF EXISTS active_roles`,
		`DROP TABLE IF EXISTS project_roles`,
		`DROP INDEX IF EXISTS idx_context_entries_role`,
		`DROP INDEX IF EXISTS idx_context_entries_role_type`,
	); err != nil {
		return err
	}
	if err := rebuildTable(ctx, tx, "context_entries", contextEntriesV1, nil); err != nil {
		return err
	}
	if err := rebuildTable(ctx, tx, "update_history", updateHistoryV1, nil); err != nil {
		return err
	}
	return execAll(ctx, tx, `DROP TABLE IF EXISTS roles`)
}

func upAddCustomRoles(ctx context.Context, tx *sql.Tx) error {
	if err := execAll(ctx, tx,
		`ALTER TABLE roles ADD COLUMN is_custom INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE roles ADD COLUMN created_by INTEGER REFERENCES systems(id)`,
		`CREATE TABLE role_templates (
			id                    TEXT PRIMARY KEY,
			name                  TEXT NOT NULL,
			description           TEXT NOT NULL DEFAULT '',
			focus_areas           TEXT NOT NULL DEFAULT '[]',
			default_context_types TEXT NOT NULL DEFAULT '[]',
			created_at            TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	); err != nil {
		return err
	}

	for _, tpl := range DefaultRoleTemplates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO role_templates (id, name, description, focus_areas, default_context_types)
			VALUES (?, ?, ?, ?, ?)
		`, tpl.ID, tpl.Name, tpl.Description, mustJSON(tpl.FocusAreas), mustJSON(tpl.ContextTypes)); err != nil {
			return fmt.Errorf("seeding role template %s: %w", tpl.ID, err)
		}
	}
	return nil
}

func downAddCustomRoles(ctx context.Context, tx *sql.Tx) error {
	if err := execAll(ctx, tx, `DROP TABLE IF EXISTS role_templates`); err != nil {
		return err
	}
	return rebuildTable(ctx, tx, "roles", rolesV2, nil)
}

func upUpdateHistoryChanges(ctx context.Context, tx *sql.Tx) error {
	return rebuildTable(ctx, tx, "update_history", updateHistoryV4,
		[]string{"id", "entity_type", "entity_id", "action", "details", "role_id", "timestamp"})
}

func downUpdateHistoryChanges(ctx context.Context, tx *sql.Tx) error {
	return rebuildTable(ctx, tx, "update_history", updateHistoryV2,
		[]string{"id", "entity_type", "entity_id", "action", "changes", "timestamp", "role_id"})
}

func upAddSoftDelete(ctx context.Context, tx *sql.Tx) error {
	var stmts []string
	for _, table := range []string{"projects", "context_entries", "role_handoffs"} {
		stmts = append(stmts,
			fmt.Sprintf(`ALTER TABLE %s ADD COLUMN deleted_at TEXT DEFAULT NULL`, table),
			fmt.Sprintf(`ALTER TABLE %s ADD COLUMN deleted_by INTEGER REFERENCES systems(id) DEFAULT NULL`, table),
			fmt.Sprintf(`CREATE INDEX idx_%s_deleted ON %s(deleted_at)`, table, table),
		)
	}
	stmts = append(stmts,
		`CREATE TABLE deletion_queue (
			id                    INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_type           TEXT NOT NULL,
			entity_id             INTEGER NOT NULL,
			deleted_at            TEXT NOT NULL,
			deleted_by            INTEGER REFERENCES systems(id),
			scheduled_hard_delete TEXT NOT NULL,
			hard_deleted          INTEGER NOT NULL DEFAULT 0,

			UNIQUE (entity_type, entity_id),
			CHECK (entity_type IN ('project', 'context'))
		)`,
		`CREATE INDEX idx_deletion_queue_scheduled ON deletion_queue(scheduled_hard_delete) WHERE hard_deleted = 0`,
	)
	return execAll(ctx, tx, stmts...)
}

func downAddSoftDelete(ctx context.Context, tx *sql.Tx) error {
	if err := execAll(ctx, tx, `DROP TABLE IF EXISTS deletion_queue`); err != nil {
		return err
	}
	if err := rebuildTable(ctx, tx, "projects", projectsV1, nil); err != nil {
		return err
	}
	if err := rebuildTable(ctx, tx, "context_entries", contextEntriesV2, nil); err != nil {
		return err
	}
	return rebuildTable(ctx, tx, "role_handoffs", roleHandoffsV2, nil)
}
