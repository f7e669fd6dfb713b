// ABOUTME: Tests for soft delete of projects and context entries
// ABOUTME: Covers cascade synchrony, queue scheduling, guards, idempotence and atomicity

package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queueEntryFor(t *testing.T, s *SQLiteStore, et EntityType, id int64) QueueEntry {
	t.Helper()
	row := s.db.QueryRow(`SELECT `+queueColumns+` FROM deletion_queue WHERE entity_type = ? AND entity_id = ?`, string(et), id)
	e, err := scanQueueEntry(row)
	require.NoError(t, err)
	return e
}

func TestSoftDeleteProject_Cascades(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	actor := actorFor(t, s)

	p := seedProject(t, s, clock, "demo", ProjectPaused, days(3))
	c1 := seedContext(t, s, clock, "demo", "notes", days(2))
	c2 := seedContext(t, s, clock, "demo", "plan", days(2))
	early := seedContext(t, s, clock, "demo", "scratch", days(2))
	other := seedContext(t, s, clock, "", "standalone", days(2))

	// One child deleted a day before the project.
	clock.Advance(-days(1))
	earlyResult, err := s.SoftDeleteContext(ctx, "scratch", "demo", actor)
	require.NoError(t, err)
	clock.Advance(days(1))

	h, err := s.CreateHandoff(ctx, "demo", &RoleHandoff{FromRoleID: "architect", ToRoleID: "developer", Summary: "api drafted"})
	require.NoError(t, err)

	// Leaves project_roles active with no active_roles row.
	require.NoError(t, s.SwitchRole(ctx, "demo", "architect", actor))
	require.NoError(t, s.ClearRole(ctx, "demo", actor))

	result, err := s.SoftDeleteProject(ctx, "demo", actor, true)
	require.NoError(t, err)

	now := clock.Now()
	assert.Equal(t, EntityProject, result.EntityType)
	assert.Equal(t, p.ID, result.EntityID)
	assert.True(t, result.DeletedAt.Equal(now))
	assert.True(t, result.ScheduledHardDelete.Equal(now.Add(RetentionPeriod)))
	assert.Equal(t, 2, result.ContextsDeleted)
	assert.Equal(t, 1, result.HandoffsDeleted)
	assert.Equal(t, 1, result.RolesDeactivated)

	got, err := s.GetProject(ctx, "demo")
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
	assert.True(t, got.DeletedAt.Equal(now))
	assert.Equal(t, actor, *got.DeletedBy)

	for _, id := range []int64{c1.ID, c2.ID} {
		var deletedAt string
		require.NoError(t, s.db.QueryRow(`SELECT deleted_at FROM context_entries WHERE id = ?`, id).Scan(&deletedAt))
		assert.Equal(t, formatTime(now), deletedAt)

		q := queueEntryFor(t, s, EntityContext, id)
		assert.True(t, q.ScheduledHardDelete.Equal(now.Add(RetentionPeriod)))
		assert.False(t, q.HardDeleted)
	}

	// Already-deleted child keeps its original timestamp and queue entry.
	var earlyDeletedAt string
	require.NoError(t, s.db.QueryRow(`SELECT deleted_at FROM context_entries WHERE id = ?`, early.ID).Scan(&earlyDeletedAt))
	assert.Equal(t, formatTime(earlyResult.DeletedAt), earlyDeletedAt)
	q := queueEntryFor(t, s, EntityContext, early.ID)
	assert.True(t, q.ScheduledHardDelete.Equal(earlyResult.DeletedAt.Add(RetentionPeriod)))

	// Contexts outside the project are untouched.
	standalone, err := s.GetContext(ctx, "standalone", "")
	require.NoError(t, err)
	assert.Equal(t, other.ID, standalone.ID)
	assert.Nil(t, standalone.DeletedAt)

	handoff, err := s.GetHandoff(ctx, h.ID)
	require.NoError(t, err)
	require.NotNil(t, handoff.DeletedAt)
	assert.True(t, handoff.DeletedAt.Equal(now))
	assert.Equal(t, 0, countRows(t, s, `SELECT COUNT(*) FROM deletion_queue WHERE entity_type = 'handoff'`))

	assert.Equal(t, 0, countRows(t, s, `SELECT COUNT(*) FROM project_roles WHERE project_id = ? AND is_active = 1`, p.ID))

	pq := queueEntryFor(t, s, EntityProject, p.ID)
	assert.True(t, pq.DeletedAt.Equal(now))
	assert.True(t, pq.ScheduledHardDelete.Equal(now.Add(RetentionPeriod)))
	assert.Equal(t, actor, *pq.DeletedBy)
	assert.Equal(t, 1, countRows(t, s, `SELECT COUNT(*) FROM deletion_queue WHERE entity_type = 'project'`))

	action := AuditDelete
	entity := EntityProject
	entries, err := s.ListAuditLog(ctx, AuditFilter{Action: &action, EntityType: &entity})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, p.ID, entries[0].EntityID)
	assert.Equal(t, "demo", entries[0].Changes["project_name"])
	assert.EqualValues(t, 2, entries[0].Changes["contexts_deleted"])
	assert.EqualValues(t, 1, entries[0].Changes["handoffs_deleted"])
	assert.EqualValues(t, 1, entries[0].Changes["roles_deactivated"])
}

func TestSoftDeleteProject_SecondCallIsAlreadyDeleted(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	actor := actorFor(t, s)

	seedProject(t, s, clock, "demo", ProjectPaused, days(1))
	seedContext(t, s, clock, "demo", "notes", days(1))

	_, err := s.SoftDeleteProject(ctx, "demo", actor, true)
	require.NoError(t, err)
	after := stateHash(t, s)

	clock.Advance(days(1))
	_, err = s.SoftDeleteProject(ctx, "demo", actor, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
	assert.Equal(t, CodeAlreadyDeleted, CodeOf(err))
	assert.True(t, Recoverable(err))
	assert.Equal(t, after, stateHash(t, s))
}

func TestSoftDeleteProject_NotFound(t *testing.T) {
	s, _ := setupTestStore(t)
	actor := actorFor(t, s)

	_, err := s.SoftDeleteProject(context.Background(), "missing", actor, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSoftDeleteProject_RequiresConfirm(t *testing.T) {
	s, clock := setupTestStore(t)
	actor := actorFor(t, s)
	seedProject(t, s, clock, "demo", ProjectPaused, 0)
	before := stateHash(t, s)

	_, err := s.SoftDeleteProject(context.Background(), "demo", actor, false)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, before, stateHash(t, s))
}

func TestSoftDeleteProject_ActiveRoleFromAnySystemBlocks(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	actor := actorFor(t, s)
	otherHost := addSystem(t, s, "other-host")

	seedProject(t, s, clock, "demo", ProjectPaused, 0)
	require.NoError(t, s.SwitchRole(ctx, "demo", "qa", otherHost))
	before := stateHash(t, s)

	_, err := s.SoftDeleteProject(ctx, "demo", actor, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Equal(t, before, stateHash(t, s))

	require.NoError(t, s.ClearRole(ctx, "demo", otherHost))
	_, err = s.SoftDeleteProject(ctx, "demo", actor, true)
	require.NoError(t, err)
}

func TestSoftDeleteProject_FailureRollsBackEverything(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	actor := actorFor(t, s)

	seedProject(t, s, clock, "demo", ProjectPaused, 0)
	seedContext(t, s, clock, "demo", "notes", 0)

	// Fail the queue upsert for the project after the cascade has run.
	_, err := s.db.Exec(`
		CREATE TRIGGER reject_project_queue BEFORE INSERT ON deletion_queue
		WHEN NEW.entity_type = 'project'
		BEGIN SELECT RAISE(ABORT, 'queue unavailable'); END
	`)
	require.NoError(t, err)
	before := stateHash(t, s)

	_, err = s.SoftDeleteProject(ctx, "demo", actor, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
	assert.False(t, Recoverable(err))
	assert.Equal(t, before, stateHash(t, s))

	p, err := s.GetProject(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, p.Live())
}

func TestSoftDeleteProject_ConcurrentCallersGetOneSuccess(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	actor := actorFor(t, s)
	seedProject(t, s, clock, "demo", ProjectPaused, 0)
	seedContext(t, s, clock, "demo", "notes", 0)

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.SoftDeleteProject(ctx, "demo", actor, true)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyDeleted)
	}
	assert.Equal(t, 1, succeeded)

	action := AuditDelete
	entries, err := s.ListAuditLog(ctx, AuditFilter{Action: &action})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 2, countRows(t, s, `SELECT COUNT(*) FROM deletion_queue`))
}

func TestSoftDeleteContext_TwiceUnderProject(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	actor := actorFor(t, s)

	seedProject(t, s, clock, "demo", ProjectPaused, days(1))
	entry := seedContext(t, s, clock, "demo", "notes", days(1))

	result, err := s.SoftDeleteContext(ctx, "notes", "demo", actor)
	require.NoError(t, err)
	assert.Equal(t, EntityContext, result.EntityType)
	assert.Equal(t, entry.ID, result.EntityID)
	assert.Equal(t, "notes", result.Name)
	assert.True(t, result.ScheduledHardDelete.Equal(result.DeletedAt.Add(RetentionPeriod)))

	q := queueEntryFor(t, s, EntityContext, entry.ID)
	assert.True(t, q.DeletedAt.Equal(result.DeletedAt))
	assert.True(t, q.ScheduledHardDelete.Equal(result.DeletedAt.Add(RetentionPeriod)))
	after := stateHash(t, s)

	_, err = s.SoftDeleteContext(ctx, "notes", "demo", actor)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
	assert.Equal(t, after, stateHash(t, s))

	// The project itself is untouched.
	p, err := s.GetProject(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, p.Live())
}

func TestSoftDeleteContext_NotFound(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	actor := actorFor(t, s)
	seedProject(t, s, clock, "demo", ProjectActive, 0)

	_, err := s.SoftDeleteContext(ctx, "missing", "demo", actor)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.SoftDeleteContext(ctx, "notes", "no-such-project", actor)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.SoftDeleteContext(ctx, "  ", "", actor)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSoftDeleteContext_AmbiguousKey(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	actor := actorFor(t, s)
	seedProject(t, s, clock, "alpha", ProjectActive, 0)
	seedProject(t, s, clock, "beta", ProjectActive, 0)
	seedContext(t, s, clock, "alpha", "notes", 0)
	seedContext(t, s, clock, "beta", "notes", 0)

	_, err := s.SoftDeleteContext(ctx, "notes", "", actor)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.SoftDeleteContext(ctx, "notes", "beta", actor)
	require.NoError(t, err)

	// Only alpha's entry is live now, so the unscoped key resolves.
	result, err := s.SoftDeleteContext(ctx, "notes", "", actor)
	require.NoError(t, err)
	alpha, err := s.GetContext(ctx, "notes", "alpha")
	require.NoError(t, err)
	assert.Equal(t, alpha.ID, result.EntityID)
}

func TestSoftDeleteContext_PrefersLiveRow(t *testing.T) {
	s, clock := setupTestStore(t)
	ctx := context.Background()
	actor := actorFor(t, s)

	seedContext(t, s, clock, "", "notes", days(1))
	first, err := s.SoftDeleteContext(ctx, "notes", "", actor)
	require.NoError(t, err)

	second := seedContext(t, s, clock, "", "notes", 0)
	assert.NotEqual(t, first.EntityID, second.ID)

	got, err := s.GetContext(ctx, "notes", "")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	result, err := s.SoftDeleteContext(ctx, "notes", "", actor)
	require.NoError(t, err)
	assert.Equal(t, second.ID, result.EntityID)

	_, err = s.SoftDeleteContext(ctx, "notes", "", actor)
	assert.ErrorIs(t, err, ErrAlreadyDeleted)
}

func TestCascadeGraph_EveryEdgeHasATable(t *testing.T) {
	for parent, edges := range cascadeGraph {
		_, ok := entityTables[parent]
		assert.True(t, ok, "parent %s", parent)
		for _, edge := range edges {
			meta, ok := entityTables[edge.Child]
			require.True(t, ok, "child %s", edge.Child)
			assert.NotEmpty(t, meta.parent, "child %s needs a parent column", edge.Child)
			if edge.Action == CascadeDeactivate {
				assert.NotEmpty(t, meta.active, "child %s needs an active flag", edge.Child)
			}
		}
	}
}
