// ABOUTME: Tool definitions and handlers for projects, context, roles and deletion
// ABOUTME: Each handler resolves the calling system as actor and renders a text report

package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/coven-context/internal/store"
)

type tool struct {
	def         mcp.Tool
	handle      handlerFunc
	destructive func(arguments) bool // nil for tools that never delete
}

func always(arguments) bool { return true }

func (s *Server) tools() []tool {
	return []tool{
		{def: storeProjectTool, handle: s.storeProject},
		{def: storeContextTool, handle: s.storeContext},
		{def: listProjectsTool, handle: s.listProjects},
		{def: switchRoleTool, handle: s.switchRole},
		{def: createHandoffTool, handle: s.createHandoff},
		{def: deleteProjectTool, handle: s.deleteProject, destructive: always},
		{def: deleteContextTool, handle: s.deleteContext, destructive: always},
		{def: cleanupTool, handle: s.cleanup, destructive: func(a arguments) bool {
			dryRun, err := a.boolean("dry_run", true)
			return err == nil && !dryRun
		}},
		{def: migrationStatusTool, handle: s.migrationStatus},
		{def: deletionQueueTool, handle: s.deletionQueue},
		{def: recentUpdatesTool, handle: s.recentUpdates},
	}
}

var storeProjectTool = mcp.NewTool("store_project",
	mcp.WithDescription("Create or update a project. Stored projects hold context entries, role assignments and handoffs."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Unique project name")),
	mcp.WithString("description", mcp.Description("What the project is about")),
	mcp.WithString("status", mcp.Description("Project status"),
		mcp.Enum(store.ProjectActive, store.ProjectPaused, store.ProjectCompleted, store.ProjectArchived)),
	mcp.WithString("repository_url", mcp.Description("Source repository")),
	mcp.WithArray("tags", mcp.Description("Free-form tags"), mcp.Items(map[string]any{"type": "string"})),
)

func (s *Server) storeProject(ctx context.Context, args arguments) (string, error) {
	p := &store.Project{}
	var err error
	if p.Name, err = args.requireStr("name"); err != nil {
		return "", err
	}
	if p.Description, err = args.str("description"); err != nil {
		return "", err
	}
	if p.Status, err = args.str("status"); err != nil {
		return "", err
	}
	if p.RepositoryURL, err = args.str("repository_url"); err != nil {
		return "", err
	}
	if p.Tags, err = args.strings("tags"); err != nil {
		return "", err
	}

	stored, err := s.store.StoreProject(ctx, p)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Project '%s' stored [%s], %s.\n", stored.Name, stored.Status, plural(stored.ContextCount, "context")), nil
}

var storeContextTool = mcp.NewTool("store_context",
	mcp.WithDescription("Store a keyed context entry, standalone or under a project. An existing entry with the same key and project is updated."),
	mcp.WithString("key", mcp.Required(), mcp.Description("Entry key")),
	mcp.WithString("value", mcp.Required(), mcp.Description("Entry content")),
	mcp.WithString("type", mcp.Description("Entry type"), mcp.Enum(store.ContextTypes...)),
	mcp.WithString("project", mcp.Description("Project name; omit for a standalone entry")),
	mcp.WithBoolean("is_system_specific", mcp.Description("Only meaningful on this machine"), mcp.DefaultBool(false)),
	mcp.WithArray("tags", mcp.Description("Free-form tags"), mcp.Items(map[string]any{"type": "string"})),
)

func (s *Server) storeContext(ctx context.Context, args arguments) (string, error) {
	e := &store.ContextEntry{}
	var err error
	if e.Key, err = args.requireStr("key"); err != nil {
		return "", err
	}
	if e.Value, err = args.requireStr("value"); err != nil {
		return "", err
	}
	if e.Type, err = args.str("type"); err != nil {
		return "", err
	}
	if e.IsSystemSpecific, err = args.boolean("is_system_specific", false); err != nil {
		return "", err
	}
	if e.Tags, err = args.strings("tags"); err != nil {
		return "", err
	}
	project, err := args.str("project")
	if err != nil {
		return "", err
	}

	actor, err := s.store.CurrentSystemID(ctx)
	if err != nil {
		return "", err
	}
	e.SystemID = &actor
	if project != "" {
		if e.RoleID, err = s.store.ActiveRole(ctx, project, actor); err != nil {
			return "", err
		}
	}

	stored, err := s.store.StoreContext(ctx, project, e)
	if err != nil {
		return "", err
	}
	scope := "standalone"
	if project != "" {
		scope = "in project '" + project + "'"
	}
	return fmt.Sprintf("Context '%s' (%s) stored %s.\n", stored.Key, stored.Type, scope), nil
}

var listProjectsTool = mcp.NewTool("list_projects",
	mcp.WithDescription("List projects with their live context counts."),
	mcp.WithString("status", mcp.Description("Only projects with this status"),
		mcp.Enum(store.ProjectActive, store.ProjectPaused, store.ProjectCompleted, store.ProjectArchived)),
	mcp.WithBoolean("include_deleted", mcp.Description("Include soft-deleted projects"), mcp.DefaultBool(false)),
	mcp.WithReadOnlyHintAnnotation(true),
)

func (s *Server) listProjects(ctx context.Context, args arguments) (string, error) {
	var f store.ProjectFilter
	var err error
	if f.Status, err = args.str("status"); err != nil {
		return "", err
	}
	if f.IncludeDeleted, err = args.boolean("include_deleted", false); err != nil {
		return "", err
	}
	projects, err := s.store.ListProjects(ctx, f)
	if err != nil {
		return "", err
	}
	return RenderProjects(projects), nil
}

var switchRoleTool = mcp.NewTool("switch_role",
	mcp.WithDescription("Set this system's active role on a project, or clear it with role \"none\". A project with an active role cannot be deleted."),
	mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
	mcp.WithString("role", mcp.Required(), mcp.Description("Role id such as architect or developer, or none")),
)

func (s *Server) switchRole(ctx context.Context, args arguments) (string, error) {
	project, err := args.requireStr("project")
	if err != nil {
		return "", err
	}
	role, err := args.requireStr("role")
	if err != nil {
		return "", err
	}
	actor, err := s.store.CurrentSystemID(ctx)
	if err != nil {
		return "", err
	}

	if role == "none" {
		if err := s.store.ClearRole(ctx, project, actor); err != nil {
			return "", err
		}
		return fmt.Sprintf("Cleared active role on project '%s'.\n", project), nil
	}

	previous, err := s.store.ActiveRole(ctx, project, actor)
	if err != nil {
		return "", err
	}
	if err := s.store.SwitchRole(ctx, project, role, actor); err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Switched to role '%s' on project '%s'.\n", role, project)
	if previous != "" && previous != role {
		msg += fmt.Sprintf("Consider creating a handoff from %s to %s to capture important context.\n", previous, role)
	}
	return msg, nil
}

var createHandoffTool = mcp.NewTool("create_handoff",
	mcp.WithDescription("Record work handed from one role to another on a project."),
	mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
	mcp.WithString("from_role", mcp.Required(), mcp.Description("Role handing off")),
	mcp.WithString("to_role", mcp.Required(), mcp.Description("Role receiving")),
	mcp.WithString("summary", mcp.Required(), mcp.Description("What is being handed over")),
)

func (s *Server) createHandoff(ctx context.Context, args arguments) (string, error) {
	h := &store.RoleHandoff{}
	project, err := args.requireStr("project")
	if err != nil {
		return "", err
	}
	if h.FromRoleID, err = args.requireStr("from_role"); err != nil {
		return "", err
	}
	if h.ToRoleID, err = args.requireStr("to_role"); err != nil {
		return "", err
	}
	if h.Summary, err = args.requireStr("summary"); err != nil {
		return "", err
	}
	actor, err := s.store.CurrentSystemID(ctx)
	if err != nil {
		return "", err
	}
	h.SystemID = &actor

	stored, err := s.store.CreateHandoff(ctx, project, h)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Handoff #%d from %s to %s recorded on project '%s'.\n", stored.ID, stored.FromRoleID, stored.ToRoleID, project), nil
}

var deleteProjectTool = mcp.NewTool("delete_project",
	mcp.WithDescription("Soft-delete a project with its contexts and handoffs and deactivate its role assignments. Requires confirm: true. Recoverable for 7 days."),
	mcp.WithString("project_name", mcp.Required(), mcp.Description("The name of the project to delete")),
	mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true to confirm deletion")),
	mcp.WithDestructiveHintAnnotation(true),
)

func (s *Server) deleteProject(ctx context.Context, args arguments) (string, error) {
	name, err := args.requireStr("project_name")
	if err != nil {
		return "", err
	}
	confirm, err := args.boolean("confirm", false)
	if err != nil {
		return "", err
	}
	actor, err := s.store.CurrentSystemID(ctx)
	if err != nil {
		return "", err
	}
	res, err := s.store.SoftDeleteProject(ctx, name, actor, confirm)
	if err != nil {
		return "", err
	}
	return RenderProjectDeleted(res), nil
}

var deleteContextTool = mcp.NewTool("delete_context",
	mcp.WithDescription("Soft-delete a context entry by key, optionally scoped to a project. Recoverable for 7 days."),
	mcp.WithString("context_key", mcp.Required(), mcp.Description("Key of the entry to delete")),
	mcp.WithString("project_name", mcp.Description("Project the entry belongs to; required when the key is ambiguous")),
	mcp.WithDestructiveHintAnnotation(true),
)

func (s *Server) deleteContext(ctx context.Context, args arguments) (string, error) {
	key, err := args.requireStr("context_key")
	if err != nil {
		return "", err
	}
	project, err := args.str("project_name")
	if err != nil {
		return "", err
	}
	actor, err := s.store.CurrentSystemID(ctx)
	if err != nil {
		return "", err
	}
	res, err := s.store.SoftDeleteContext(ctx, key, project, actor)
	if err != nil {
		return "", err
	}
	return RenderContextDeleted(res, project), nil
}

var cleanupTool = mcp.NewTool("cleanup_old_data",
	mcp.WithDescription("Soft-delete projects that are not active and standalone contexts not updated within the given period. Dry run by default."),
	mcp.WithString("older_than", mcp.Required(), mcp.Description(`Time period such as "30 days", "6 months" or "1 year"`)),
	mcp.WithBoolean("dry_run", mcp.Description("Only show what would be deleted"), mcp.DefaultBool(true)),
)

func (s *Server) cleanup(ctx context.Context, args arguments) (string, error) {
	raw, err := args.requireStr("older_than")
	if err != nil {
		return "", err
	}
	age, err := store.ParseAge(raw)
	if err != nil {
		return "", err
	}
	dryRun, err := args.boolean("dry_run", true)
	if err != nil {
		return "", err
	}
	// A preview never touches the store, not even to register the host.
	var actor int64
	if !dryRun {
		if actor, err = s.store.CurrentSystemID(ctx); err != nil {
			return "", err
		}
	}
	report, err := s.store.Sweep(ctx, age, dryRun, actor)
	if err != nil {
		return "", err
	}
	return RenderSweep(report), nil
}

var migrationStatusTool = mcp.NewTool("migration_status",
	mcp.WithDescription("Show the schema version, applied steps and pending steps."),
	mcp.WithReadOnlyHintAnnotation(true),
)

func (s *Server) migrationStatus(ctx context.Context, _ arguments) (string, error) {
	st, err := s.store.MigrationStatus(ctx)
	if err != nil {
		return "", err
	}
	return RenderMigrationStatus(st), nil
}

var deletionQueueTool = mcp.NewTool("list_deletion_queue",
	mcp.WithDescription("List soft-deleted entities awaiting permanent removal and when each becomes eligible."),
	mcp.WithString("entity_type", mcp.Description("Only this entity type"), mcp.Enum(string(store.EntityProject), string(store.EntityContext))),
	mcp.WithBoolean("include_purged", mcp.Description("Include entries already removed"), mcp.DefaultBool(false)),
	mcp.WithNumber("limit", mcp.Description("Maximum entries (default 100, max 1000)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

func (s *Server) deletionQueue(ctx context.Context, args arguments) (string, error) {
	var f store.QueueFilter
	et, err := args.str("entity_type")
	if err != nil {
		return "", err
	}
	if et != "" {
		t := store.EntityType(et)
		f.EntityType = &t
	}
	if f.IncludePurged, err = args.boolean("include_purged", false); err != nil {
		return "", err
	}
	if f.Limit, err = args.integer("limit", 0); err != nil {
		return "", err
	}
	entries, err := s.store.ListDeletionQueue(ctx, f)
	if err != nil {
		return "", err
	}
	return RenderQueue(entries, s.now()), nil
}

// maxLookbackHours is about a century.
const maxLookbackHours = 100 * 365 * 24

var recentUpdatesTool = mcp.NewTool("get_recent_updates",
	mcp.WithDescription("Show audit log entries, newest first."),
	mcp.WithNumber("hours", mcp.Description("Look back this many hours (default 24, 0 for all)")),
	mcp.WithString("entity_type", mcp.Description("Only this entity type")),
	mcp.WithString("action", mcp.Description("Only this action, e.g. delete or cleanup")),
	mcp.WithNumber("limit", mcp.Description("Maximum entries (default 100, max 1000)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

func (s *Server) recentUpdates(ctx context.Context, args arguments) (string, error) {
	var f store.AuditFilter
	hours, err := args.integer("hours", 24)
	if err != nil {
		return "", err
	}
	if hours > maxLookbackHours {
		return "", invalid("argument \"hours\" must be at most %d", maxLookbackHours)
	}
	if hours > 0 {
		since := s.now().UTC().Add(-time.Duration(hours) * time.Hour)
		f.Since = &since
	}
	et, err := args.str("entity_type")
	if err != nil {
		return "", err
	}
	if et != "" {
		t := store.EntityType(strings.ToLower(et))
		f.EntityType = &t
	}
	action, err := args.str("action")
	if err != nil {
		return "", err
	}
	if action != "" {
		a := store.AuditAction(strings.ToLower(action))
		f.Action = &a
	}
	if f.Limit, err = args.integer("limit", 0); err != nil {
		return "", err
	}
	entries, err := s.store.ListAuditLog(ctx, f)
	if err != nil {
		return "", err
	}
	return RenderAudit(entries), nil
}
