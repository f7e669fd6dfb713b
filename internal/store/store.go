// ABOUTME: Store interface and data types for the context store
// ABOUTME: Defines projects, context entries, handoffs and the ContextStore interface

package store

import (
	"context"
	"encoding/json"
	"time"
)

// EntityType names a kind of row the lifecycle manager and audit log know about.
type EntityType string

const (
	EntityProject        EntityType = "project"
	EntityContext        EntityType = "context"
	EntityHandoff        EntityType = "handoff"
	EntityRoleAssignment EntityType = "role_assignment"
	EntitySystem         EntityType = "system"
)

// Project status values. Active projects are never swept.
const (
	ProjectActive    = "active"
	ProjectPaused    = "paused"
	ProjectCompleted = "completed"
	ProjectArchived  = "archived"
)

// ContextTypes lists the accepted context entry types.
var ContextTypes = []string{"decision", "code", "standard", "status", "todo", "note", "config", "issue", "reference"}

// Project is a named container for context entries.
type Project struct {
	ID            int64
	Name          string
	Description   string
	Status        string // active, paused, completed, archived
	RepositoryURL string
	Tags          []string
	ContextCount  int // live context entries, filled by listings
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
	DeletedBy     *int64
}

// Live reports whether the project has not been soft-deleted.
func (p *Project) Live() bool { return p.DeletedAt == nil }

// ContextEntry is a single keyed record, optionally scoped to a project.
type ContextEntry struct {
	ID               int64
	ProjectID        *int64 // nil for standalone entries
	SystemID         *int64
	RoleID           string
	Type             string
	Key              string
	Value            string
	IsSystemSpecific bool
	Tags             []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
	DeletedBy        *int64
}

// RoleHandoff records work passed from one role to another within a project.
type RoleHandoff struct {
	ID         int64
	ProjectID  int64
	FromRoleID string
	ToRoleID   string
	SystemID   *int64
	Summary    string
	CreatedAt  time.Time
	DeletedAt  *time.Time
	DeletedBy  *int64
}

// Role is a perspective an assistant can take on a project.
type Role struct {
	ID          string
	Name        string
	Description string
	IsCustom    bool
}

// ContextStore is everything the tool layer needs from the store.
type ContextStore interface {
	CurrentSystemID(ctx context.Context) (int64, error)

	StoreProject(ctx context.Context, p *Project) (*Project, error)
	GetProject(ctx context.Context, name string) (*Project, error)
	ListProjects(ctx context.Context, f ProjectFilter) ([]Project, error)
	StoreContext(ctx context.Context, projectName string, e *ContextEntry) (*ContextEntry, error)
	GetContext(ctx context.Context, key, projectName string) (*ContextEntry, error)
	CreateHandoff(ctx context.Context, projectName string, h *RoleHandoff) (*RoleHandoff, error)

	ListRoles(ctx context.Context) ([]Role, error)
	ActiveRole(ctx context.Context, projectName string, actor int64) (string, error)
	SwitchRole(ctx context.Context, projectName, roleID string, actor int64) error
	ClearRole(ctx context.Context, projectName string, actor int64) error

	SoftDeleteProject(ctx context.Context, name string, actor int64, confirm bool) (*DeleteResult, error)
	SoftDeleteContext(ctx context.Context, key, projectName string, actor int64) (*DeleteResult, error)
	Sweep(ctx context.Context, olderThan Age, dryRun bool, actor int64) (*SweepReport, error)

	ListDeletionQueue(ctx context.Context, f QueueFilter) ([]QueueEntry, error)
	DuePurges(ctx context.Context) ([]QueueEntry, error)
	PurgeDue(ctx context.Context, actor int64) (*PurgeResult, error)

	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
	MigrationStatus(ctx context.Context) (*MigrationStatus, error)

	Close() error
}

var _ ContextStore = (*SQLiteStore)(nil)

// mustJSON encodes values that cannot fail to marshal (string slices, plain maps).
func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func decodeTags(raw string) []string {
	var tags []string
	if raw == "" {
		return []string{}
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}

func encodeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	return mustJSON(tags)
}
