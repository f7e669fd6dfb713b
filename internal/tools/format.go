// ABOUTME: Plain-text rendering of store results for tool responses
// ABOUTME: Reports are deterministic given their input so they can be golden-tested

package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2389/coven-context/internal/store"
)

const softDeleteNotice = "This is a soft delete. Data will be permanently removed after 7 days."

func date(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// FormatError renders a tool failure as "[CODE] message".
func FormatError(err error) string {
	msg := err.Error()
	var se *store.Error
	if errors.As(err, &se) {
		msg = se.Message
	}
	return fmt.Sprintf("[%s] %s", store.CodeOf(err), msg)
}

// RenderSweep renders a dry-run preview or the summary of a destructive sweep.
func RenderSweep(r *store.SweepReport) string {
	var b strings.Builder

	if r.DryRun {
		b.WriteString("Cleanup Report (Dry Run)\n\n")
		fmt.Fprintf(&b, "Would delete data older than %s (last updated before %s):\n\n", r.OlderThan, date(r.Cutoff))

		if len(r.Projects) == 0 && len(r.Contexts) == 0 {
			b.WriteString("No data found matching criteria.\n")
			return b.String()
		}

		if len(r.Projects) > 0 {
			fmt.Fprintf(&b, "Projects (%d):\n", len(r.Projects))
			for _, p := range r.Projects {
				fmt.Fprintf(&b, "  - %s (%s, last updated: %s)\n", p.Name, plural(p.ContextCount, "context"), date(p.UpdatedAt))
			}
			b.WriteString("\n")
		}
		if len(r.Contexts) > 0 {
			fmt.Fprintf(&b, "Standalone Contexts (%d):\n", len(r.Contexts))
			for _, c := range r.Contexts {
				fmt.Fprintf(&b, "  - %s (%s, last updated: %s)\n", c.Key, c.Type, date(c.UpdatedAt))
			}
			b.WriteString("\n")
		}
		b.WriteString("To perform actual deletion, run again with dry_run: false\n")
		return b.String()
	}

	b.WriteString("Cleanup Complete\n\n")
	if r.Deleted() == 0 {
		fmt.Fprintf(&b, "No data older than %s found.\n", r.OlderThan)
		return b.String()
	}
	b.WriteString("Deleted:\n")
	fmt.Fprintf(&b, "- Projects: %d\n", r.ProjectsDeleted)
	fmt.Fprintf(&b, "- Standalone contexts: %d\n", r.ContextsDeleted)
	fmt.Fprintf(&b, "- Project contexts: %d\n", r.CascadedContexts)
	fmt.Fprintf(&b, "- Handoffs: %d\n", r.HandoffsDeleted)
	fmt.Fprintf(&b, "- Role assignments deactivated: %d\n", r.RolesDeactivated)
	fmt.Fprintf(&b, "\nSweep: %s\n%s\n", r.SweepID, softDeleteNotice)
	return b.String()
}

// RenderProjectDeleted summarizes a project soft delete and its cascade.
func RenderProjectDeleted(r *store.DeleteResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project '%s' deleted\n\n", r.Name)
	b.WriteString("Deletion Summary:\n")
	fmt.Fprintf(&b, "- Contexts deleted: %d\n", r.ContextsDeleted)
	fmt.Fprintf(&b, "- Role assignments deactivated: %d\n", r.RolesDeactivated)
	fmt.Fprintf(&b, "- Handoffs deleted: %d\n\n", r.HandoffsDeleted)
	fmt.Fprintf(&b, "Permanent removal scheduled for %s.\n%s\n", stamp(r.ScheduledHardDelete), softDeleteNotice)
	return b.String()
}

// RenderContextDeleted confirms a context soft delete.
func RenderContextDeleted(r *store.DeleteResult, projectName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Context entry '%s' deleted", r.Name)
	if projectName != "" {
		fmt.Fprintf(&b, " from project '%s'", projectName)
	}
	fmt.Fprintf(&b, "\n\nPermanent removal scheduled for %s.\n%s\n", stamp(r.ScheduledHardDelete), softDeleteNotice)
	return b.String()
}

// RenderProjects lists projects one per line.
func RenderProjects(projects []store.Project) string {
	if len(projects) == 0 {
		return "No projects found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Projects (%d):\n", len(projects))
	for _, p := range projects {
		fmt.Fprintf(&b, "  - %s [%s] %s, updated %s", p.Name, p.Status, plural(p.ContextCount, "context"), date(p.UpdatedAt))
		if p.DeletedAt != nil {
			fmt.Fprintf(&b, " (deleted %s)", date(*p.DeletedAt))
		}
		b.WriteString("\n")
		if p.Description != "" {
			fmt.Fprintf(&b, "    %s\n", p.Description)
		}
	}
	return b.String()
}

// RenderMigrationStatus shows the schema version record and pending steps.
func RenderMigrationStatus(st *store.MigrationStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Schema version %d of %d", st.CurrentVersion, st.LatestVersion)
	if st.UpToDate() {
		b.WriteString(" (up to date)")
	}
	b.WriteString("\n")

	if len(st.Applied) > 0 {
		b.WriteString("\nApplied:\n")
		for _, m := range st.Applied {
			fmt.Fprintf(&b, "  %3d  %-24s %s\n", m.Version, m.Name, stamp(m.AppliedAt))
		}
	}
	if len(st.Pending) > 0 {
		b.WriteString("\nPending:\n")
		for _, m := range st.Pending {
			fmt.Fprintf(&b, "  %3d  %s\n", m.Version, m.Name)
		}
	}
	return b.String()
}

// RenderQueue lists deletion queue entries and whether each is due at now.
func RenderQueue(entries []store.QueueEntry, now time.Time) string {
	if len(entries) == 0 {
		return "Deletion queue is empty.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Deletion queue (%d):\n", len(entries))
	for _, e := range entries {
		state := "pending"
		switch {
		case e.HardDeleted:
			state = "purged"
		case !now.Before(e.ScheduledHardDelete):
			state = "due"
		}
		fmt.Fprintf(&b, "  - %s #%d deleted %s, purge after %s [%s]\n",
			e.EntityType, e.EntityID, stamp(e.DeletedAt), stamp(e.ScheduledHardDelete), state)
	}
	return b.String()
}

// RenderPurge summarizes an operator-triggered hard delete.
func RenderPurge(r *store.PurgeResult) string {
	if len(r.Purged) == 0 {
		return "Nothing is due for permanent removal.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Permanently removed (%d queue entries):\n", len(r.Purged))
	fmt.Fprintf(&b, "- Projects: %d\n", r.ProjectsPurged)
	fmt.Fprintf(&b, "- Contexts: %d\n", r.ContextsPurged)
	fmt.Fprintf(&b, "- Handoffs: %d\n", r.HandoffsPurged)
	fmt.Fprintf(&b, "- Role assignments: %d\n", r.AssignmentsGone)
	return b.String()
}

// RenderAudit lists audit entries newest first with their JSON payload.
func RenderAudit(entries []store.AuditEntry) string {
	if len(entries) == 0 {
		return "No updates found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recent updates (%d):\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "  %s  %-11s %s #%d", stamp(e.Timestamp), e.Action, e.EntityType, e.EntityID)
		if e.RoleID != "" {
			fmt.Fprintf(&b, " as %s", e.RoleID)
		}
		b.WriteString("\n")
		if len(e.Changes) > 0 {
			// Map keys marshal sorted.
			data, err := json.Marshal(e.Changes)
			if err == nil {
				fmt.Fprintf(&b, "      %s\n", data)
			}
		}
	}
	return b.String()
}
