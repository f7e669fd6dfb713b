// ABOUTME: Tests for the deletion queue and operator-triggered purge
// ABOUTME: Covers the retention boundary, listing filters and physical removal

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuePurges_RetentionBoundary(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	actor := actorFor(t, s)

	seedContext(t, s, clock, "", "notes", 0)
	_, err := s.SoftDeleteContext(ctx, "notes", "", actor)
	require.NoError(t, err)

	clock.Advance(RetentionPeriod - time.Second)
	due, err := s.DuePurges(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)

	clock.Advance(time.Second)
	due, err = s.DuePurges(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, EntityContext, due[0].EntityType)
}

func TestListDeletionQueue(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	actor := actorFor(t, s)

	seedProject(t, s, clock, "demo", ProjectPaused, 0)
	seedContext(t, s, clock, "demo", "notes", 0)
	seedContext(t, s, clock, "", "loose", 0)

	_, err := s.SoftDeleteContext(ctx, "loose", "", actor)
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = s.SoftDeleteProject(ctx, "demo", actor, true)
	require.NoError(t, err)

	entries, err := s.ListDeletionQueue(ctx, QueueFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Oldest eligibility first.
	assert.Equal(t, EntityContext, entries[0].EntityType)
	assert.True(t, entries[0].ScheduledHardDelete.Equal(testEpoch.Add(RetentionPeriod)))

	project := EntityProject
	entries, err = s.ListDeletionQueue(ctx, QueueFilter{EntityType: &project})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].DeletedAt.Equal(testEpoch.Add(time.Hour)))

	entries, err = s.ListDeletionQueue(ctx, QueueFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPurgeDue_RemovesExpiredRows(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	actor := actorFor(t, s)

	seedProject(t, s, clock, "demo", ProjectPaused, 0)
	seedContext(t, s, clock, "demo", "notes", 0)
	seedContext(t, s, clock, "demo", "plan", 0)
	_, err := s.CreateHandoff(ctx, "demo", &RoleHandoff{FromRoleID: "architect", ToRoleID: "developer", Summary: "done"})
	require.NoError(t, err)
	require.NoError(t, s.SwitchRole(ctx, "demo", "architect", actor))
	require.NoError(t, s.ClearRole(ctx, "demo", actor))

	_, err = s.SoftDeleteProject(ctx, "demo", actor, true)
	require.NoError(t, err)

	// A later delete that is not yet due.
	clock.Advance(days(3))
	seedContext(t, s, clock, "", "loose", 0)
	_, err = s.SoftDeleteContext(ctx, "loose", "", actor)
	require.NoError(t, err)

	// Nothing is due yet.
	result, err := s.PurgeDue(ctx, actor)
	require.NoError(t, err)
	assert.Empty(t, result.Purged)

	clock.Advance(days(5))
	result, err = s.PurgeDue(ctx, actor)
	require.NoError(t, err)

	assert.Len(t, result.Purged, 3)
	assert.Equal(t, 1, result.ProjectsPurged)
	assert.Equal(t, 2, result.ContextsPurged)
	assert.Equal(t, 1, result.HandoffsPurged)
	assert.Equal(t, 1, result.AssignmentsGone)

	_, err = s.GetProject(ctx, "demo")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, countRows(t, s, `SELECT COUNT(*) FROM role_handoffs`))
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM context_entries`))

	pending, err := s.ListDeletionQueue(ctx, QueueFilter{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, EntityContext, pending[0].EntityType)

	all, err := s.ListDeletionQueue(ctx, QueueFilter{IncludePurged: true})
	require.NoError(t, err)
	require.Len(t, all, 4)
	purged := 0
	for _, e := range all {
		if e.HardDeleted {
			purged++
		}
	}
	assert.Equal(t, 3, purged)

	action := AuditHardDelete
	entries, err := s.ListAuditLog(ctx, AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 1, entries[0].Changes["projects_purged"])
	assert.EqualValues(t, 3, entries[0].Changes["entries"])
}

func TestPurgeDue_NothingDueWritesNoAudit(t *testing.T) {
	s, _ := setupTestStore(t)
	actor := actorFor(t, s)
	before := stateHash(t, s)

	result, err := s.PurgeDue(context.Background(), actor)
	require.NoError(t, err)
	assert.Empty(t, result.Purged)
	assert.Equal(t, before, stateHash(t, s))
}

func TestPurgeDue_FailureRollsBackEverything(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	actor := actorFor(t, s)

	seedProject(t, s, clock, "demo", ProjectPaused, 0)
	seedContext(t, s, clock, "demo", "notes", 0)
	_, err := s.SoftDeleteProject(ctx, "demo", actor, true)
	require.NoError(t, err)
	clock.Advance(days(8))

	_, err = s.db.Exec(`
		CREATE TRIGGER reject_purge_audit BEFORE INSERT ON update_history
		WHEN NEW.action = 'hard_delete'
		BEGIN SELECT RAISE(ABORT, 'audit unavailable'); END
	`)
	require.NoError(t, err)
	before := stateHash(t, s)

	_, err = s.PurgeDue(ctx, actor)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, before, stateHash(t, s))

	due, err := s.DuePurges(ctx)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}
