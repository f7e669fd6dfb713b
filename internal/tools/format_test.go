// ABOUTME: Golden-file tests for tool report rendering
// ABOUTME: Fixtures live in testdata/golden; regenerate with go test -update

package tools

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-context/internal/store"
)

func at(month time.Month, day, hour, minute int) time.Time {
	return time.Date(2025, month, day, hour, minute, 0, 0, time.UTC)
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
}

func TestRenderSweep_DryRun(t *testing.T) {
	g := newGoldie(t)

	report := &store.SweepReport{
		OlderThan:     store.Age{Amount: 30, Unit: store.AgeDay},
		ThresholdDays: 30,
		Cutoff:        at(time.May, 2, 12, 0),
		DryRun:        true,
		Projects: []store.SweepProject{
			{ID: 1, Name: "demo", Status: "paused", ContextCount: 2, UpdatedAt: at(time.April, 1, 9, 0)},
			{ID: 2, Name: "legacy", Status: "archived", ContextCount: 1, UpdatedAt: at(time.April, 20, 17, 45)},
		},
		Contexts: []store.SweepContext{
			{ID: 7, Key: "scratch", Type: "note", UpdatedAt: at(time.April, 15, 8, 0)},
		},
	}

	g.Assert(t, "sweep_dry_run", []byte(RenderSweep(report)))
}

func TestRenderSweep_DryRunEmpty(t *testing.T) {
	g := newGoldie(t)

	report := &store.SweepReport{
		OlderThan: store.Age{Amount: 1, Unit: store.AgeYear},
		Cutoff:    time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC),
		DryRun:    true,
	}

	g.Assert(t, "sweep_dry_run_empty", []byte(RenderSweep(report)))
}

func TestRenderSweep_Complete(t *testing.T) {
	g := newGoldie(t)

	report := &store.SweepReport{
		SweepID:          "0b6f3c1e-5d1f-4c3e-9a4b-2f1e8d7c6b5a",
		OlderThan:        store.Age{Amount: 6, Unit: store.AgeMonth},
		ProjectsDeleted:  2,
		ContextsDeleted:  1,
		CascadedContexts: 3,
		HandoffsDeleted:  1,
	}

	g.Assert(t, "sweep_complete", []byte(RenderSweep(report)))
}

func TestRenderSweep_CompleteNothingDeleted(t *testing.T) {
	report := &store.SweepReport{OlderThan: store.Age{Amount: 6, Unit: store.AgeMonth}}
	assert.Equal(t, "Cleanup Complete\n\nNo data older than 6 months found.\n", RenderSweep(report))
}

func TestRenderProjectDeleted(t *testing.T) {
	g := newGoldie(t)

	res := &store.DeleteResult{
		EntityType:          store.EntityProject,
		EntityID:            3,
		Name:                "demo",
		DeletedAt:           at(time.June, 1, 12, 0),
		DeletedBy:           1,
		ScheduledHardDelete: at(time.June, 8, 12, 0),
		ContextsDeleted:     2,
		HandoffsDeleted:     1,
		RolesDeactivated:    1,
	}

	g.Assert(t, "project_deleted", []byte(RenderProjectDeleted(res)))
}

func TestRenderContextDeleted(t *testing.T) {
	g := newGoldie(t)

	res := &store.DeleteResult{
		EntityType:          store.EntityContext,
		EntityID:            9,
		Name:                "notes",
		DeletedAt:           at(time.June, 1, 12, 0),
		ScheduledHardDelete: at(time.June, 8, 12, 0),
	}

	g.Assert(t, "context_deleted", []byte(RenderContextDeleted(res, "demo")))
}

func TestRenderProjects(t *testing.T) {
	g := newGoldie(t)

	deleted := at(time.June, 2, 10, 0)
	projects := []store.Project{
		{ID: 1, Name: "demo", Description: "Context store", Status: "active", ContextCount: 2, UpdatedAt: at(time.June, 1, 12, 0)},
		{ID: 2, Name: "old", Status: "archived", UpdatedAt: at(time.May, 1, 12, 0), DeletedAt: &deleted},
	}

	g.Assert(t, "projects", []byte(RenderProjects(projects)))
	assert.Equal(t, "No projects found.\n", RenderProjects(nil))
}

func TestRenderMigrationStatus(t *testing.T) {
	g := newGoldie(t)

	applied := at(time.June, 1, 12, 0)
	st := &store.MigrationStatus{
		CurrentVersion: 3,
		LatestVersion:  5,
		Applied: []store.AppliedMigration{
			{Version: 1, Name: "initial-schema", AppliedAt: applied},
			{Version: 2, Name: "add-roles", AppliedAt: applied},
			{Version: 3, Name: "add-custom-roles", AppliedAt: applied},
		},
		Pending: []store.Migration{
			{Version: 4, Name: "update-history-changes"},
			{Version: 5, Name: "add-soft-delete"},
		},
	}

	g.Assert(t, "migration_status", []byte(RenderMigrationStatus(st)))
}

func TestRenderQueue(t *testing.T) {
	g := newGoldie(t)

	entries := []store.QueueEntry{
		{ID: 3, EntityType: store.EntityContext, EntityID: 2, DeletedAt: at(time.May, 20, 10, 0), ScheduledHardDelete: at(time.May, 27, 10, 0), HardDeleted: true},
		{ID: 1, EntityType: store.EntityProject, EntityID: 1, DeletedAt: at(time.June, 1, 12, 0), ScheduledHardDelete: at(time.June, 8, 12, 0)},
		{ID: 2, EntityType: store.EntityContext, EntityID: 4, DeletedAt: at(time.June, 3, 8, 30), ScheduledHardDelete: at(time.June, 10, 8, 30)},
	}

	g.Assert(t, "queue", []byte(RenderQueue(entries, at(time.June, 8, 12, 0))))
	assert.Equal(t, "Deletion queue is empty.\n", RenderQueue(nil, time.Now()))
}

func TestRenderPurge(t *testing.T) {
	g := newGoldie(t)

	res := &store.PurgeResult{
		Purged:          make([]store.QueueEntry, 3),
		ProjectsPurged:  1,
		ContextsPurged:  2,
		HandoffsPurged:  1,
		AssignmentsGone: 1,
	}

	g.Assert(t, "purge", []byte(RenderPurge(res)))
	assert.Equal(t, "Nothing is due for permanent removal.\n", RenderPurge(&store.PurgeResult{}))
}

func TestRenderAudit(t *testing.T) {
	g := newGoldie(t)

	entries := []store.AuditEntry{
		{ID: 3, EntityType: store.EntitySystem, EntityID: 1, Action: store.AuditCleanup, Timestamp: at(time.June, 1, 12, 5),
			Changes: map[string]any{"sweep_id": "abc", "projects_deleted": 2}},
		{ID: 2, EntityType: store.EntityProject, EntityID: 3, Action: store.AuditDelete, Timestamp: at(time.June, 1, 12, 0),
			Changes: map[string]any{"project_name": "demo", "contexts_deleted": 2}},
		{ID: 1, EntityType: store.EntityProject, EntityID: 3, Action: store.AuditSwitchRole, RoleID: "developer", Timestamp: at(time.June, 1, 11, 30)},
	}

	g.Assert(t, "audit", []byte(RenderAudit(entries)))
}

func TestFormatError(t *testing.T) {
	err := store.NewError(store.CodeNotFound, "project %q not found", "demo")
	assert.Equal(t, `[NOT_FOUND] project "demo" not found`, FormatError(err))
	assert.Equal(t, `[NOT_FOUND] project "demo" not found`, FormatError(fmt.Errorf("deleting: %w", err)))
	assert.Equal(t, "[STORAGE_ERROR] disk I/O error", FormatError(errors.New("disk I/O error")))
}
