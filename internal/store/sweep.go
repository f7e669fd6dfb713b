// ABOUTME: Age-threshold cleanup sweep with a read-only dry-run preview
// ABOUTME: The destructive pass re-selects candidates and soft-deletes them in one transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AgeUnit is the unit of a sweep threshold.
type AgeUnit string

const (
	AgeDay   AgeUnit = "day"
	AgeMonth AgeUnit = "month"
	AgeYear  AgeUnit = "year"
)

// Days per unit. Months and years are fixed approximations, not calendar math.
var unitDays = map[AgeUnit]int{
	AgeDay:   1,
	AgeMonth: 30,
	AgeYear:  365,
}

// maxAgeDays bounds a sweep threshold to roughly a century.
const maxAgeDays = 100 * 365

// Age is a sweep threshold such as "30 days" or "1 year".
type Age struct {
	Amount int
	Unit   AgeUnit
}

var agePattern = regexp.MustCompile(`^(\d+)\s+(days?|months?|years?)$`)

// ParseAge parses "<n> day(s)|month(s)|year(s)".
func ParseAge(s string) (Age, error) {
	m := agePattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return Age{}, validationError("invalid age %q: expected \"<number> days|months|years\"", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return Age{}, validationError("invalid age amount %q", m[1])
	}
	age := Age{Amount: n, Unit: AgeUnit(strings.TrimSuffix(m[2], "s"))}
	if err := age.Validate(); err != nil {
		return Age{}, err
	}
	return age, nil
}

// Validate checks the amount and unit.
func (a Age) Validate() error {
	if a.Amount < 0 {
		return validationError("age amount must be non-negative, got %d", a.Amount)
	}
	per, ok := unitDays[a.Unit]
	if !ok {
		return validationError("invalid age unit %q", a.Unit)
	}
	if a.Amount > maxAgeDays/per {
		return validationError("age %s exceeds the maximum of %d days", a, maxAgeDays)
	}
	return nil
}

// Days resolves the threshold to a day count.
func (a Age) Days() int {
	return a.Amount * unitDays[a.Unit]
}

func (a Age) String() string {
	if a.Amount == 1 {
		return fmt.Sprintf("1 %s", a.Unit)
	}
	return fmt.Sprintf("%d %ss", a.Amount, a.Unit)
}

// SweepProject is a project selected by a sweep.
type SweepProject struct {
	ID           int64
	Name         string
	Status       string
	UpdatedAt    time.Time
	ContextCount int
}

// SweepContext is a standalone context entry selected by a sweep.
type SweepContext struct {
	ID        int64
	Key       string
	Type      string
	UpdatedAt time.Time
}

// SweepReport is the result of a sweep, dry run or not.
type SweepReport struct {
	SweepID       string // empty for dry runs
	OlderThan     Age
	ThresholdDays int
	Cutoff        time.Time
	DryRun        bool
	Actor         int64
	Projects      []SweepProject
	Contexts      []SweepContext

	// Filled by the destructive pass.
	ProjectsDeleted  int
	ContextsDeleted  int // standalone contexts
	CascadedContexts int // contexts deleted with their project
	HandoffsDeleted  int
	RolesDeactivated int
}

// Deleted reports whether the sweep changed anything.
func (r *SweepReport) Deleted() int {
	return r.ProjectsDeleted + r.ContextsDeleted
}

// Sweep soft-deletes projects that are not active and standalone contexts
// that were last updated before now minus olderThan. Projects with an active
// role assignment are skipped. With dryRun the store is only read.
func (s *SQLiteStore) Sweep(ctx context.Context, olderThan Age, dryRun bool, actor int64) (*SweepReport, error) {
	if err := olderThan.Validate(); err != nil {
		return nil, err
	}

	now := s.clock()
	days := olderThan.Days()
	report := &SweepReport{
		OlderThan:     olderThan,
		ThresholdDays: days,
		Cutoff:        now.AddDate(0, 0, -days),
		DryRun:        dryRun,
		Actor:         actor,
	}

	if dryRun {
		if err := selectSweepCandidates(ctx, s.db, report); err != nil {
			return nil, err
		}
		s.logger.Info("sweep preview",
			"older_than", olderThan.String(),
			"projects", len(report.Projects),
			"contexts", len(report.Contexts),
		)
		return report, nil
	}

	report.SweepID = uuid.New().String()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := selectSweepCandidates(ctx, tx, report); err != nil {
			return err
		}

		for _, p := range report.Projects {
			counts, err := softDeleteTx(ctx, tx, EntityProject, p.ID, actor, now)
			if err != nil {
				return fmt.Errorf("sweeping project %q: %w", p.Name, err)
			}
			report.ProjectsDeleted++
			report.CascadedContexts += counts[EntityContext]
			report.HandoffsDeleted += counts[EntityHandoff]
			report.RolesDeactivated += counts[EntityRoleAssignment]
			s.logger.Debug("swept project", "name", p.Name, "id", p.ID)
		}
		for _, c := range report.Contexts {
			if _, err := softDeleteTx(ctx, tx, EntityContext, c.ID, actor, now); err != nil {
				return fmt.Errorf("sweeping context %q: %w", c.Key, err)
			}
			report.ContextsDeleted++
			s.logger.Debug("swept context", "key", c.Key, "id", c.ID)
		}

		if report.Deleted() == 0 {
			return nil
		}
		return appendAudit(ctx, tx, &AuditEntry{
			EntityType: EntitySystem,
			EntityID:   actor,
			Action:     AuditCleanup,
			Changes: map[string]any{
				"sweep_id":          report.SweepID,
				"older_than":        olderThan.String(),
				"threshold_days":    days,
				"projects_deleted":  report.ProjectsDeleted,
				"contexts_deleted":  report.ContextsDeleted,
				"cascaded_contexts": report.CascadedContexts,
				"handoffs_deleted":  report.HandoffsDeleted,
				"roles_deactivated": report.RolesDeactivated,
				"deleted_by":        actor,
			},
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("sweep complete",
		"sweep_id", report.SweepID,
		"older_than", olderThan.String(),
		"projects", report.ProjectsDeleted,
		"contexts", report.ContextsDeleted,
		"cascaded_contexts", report.CascadedContexts,
	)
	return report, nil
}

// selectSweepCandidates fills report.Projects and report.Contexts, oldest first.
func selectSweepCandidates(ctx context.Context, q queryer, report *SweepReport) error {
	cutoff := formatTime(report.Cutoff)

	rows, err := q.QueryContext(ctx, `
		SELECT p.id, p.name, p.status, p.updated_at,
			(SELECT COUNT(*) FROM context_entries c WHERE c.project_id = p.id AND c.deleted_at IS NULL)
		FROM projects p
		WHERE p.deleted_at IS NULL
		  AND p.status != 'active'
		  AND datetime(p.updated_at) < datetime(?)
		  AND NOT EXISTS (SELECT 1 FROM active_roles ar WHERE ar.project_id = p.id)
		ORDER BY datetime(p.updated_at), p.id
	`, cutoff)
	if err != nil {
		return storageError("selecting sweep projects", err)
	}
	report.Projects = []SweepProject{}
	for rows.Next() {
		var p SweepProject
		var updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &updatedAt, &p.ContextCount); err != nil {
			_ = rows.Close()
			return storageError("scanning sweep project", err)
		}
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			_ = rows.Close()
			return storageError("scanning sweep project", err)
		}
		report.Projects = append(report.Projects, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return storageError("iterating sweep projects", err)
	}
	_ = rows.Close()

	rows, err = q.QueryContext(ctx, `
		SELECT id, key, type, updated_at
		FROM context_entries
		WHERE deleted_at IS NULL
		  AND project_id IS NULL
		  AND datetime(updated_at) < datetime(?)
		ORDER BY datetime(updated_at), id
	`, cutoff)
	if err != nil {
		return storageError("selecting sweep contexts", err)
	}
	defer func() { _ = rows.Close() }()

	report.Contexts = []SweepContext{}
	for rows.Next() {
		var c SweepContext
		var updatedAt string
		if err := rows.Scan(&c.ID, &c.Key, &c.Type, &updatedAt); err != nil {
			return storageError("scanning sweep context", err)
		}
		if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return storageError("scanning sweep context", err)
		}
		report.Contexts = append(report.Contexts, c)
	}
	if err := rows.Err(); err != nil {
		return storageError("iterating sweep contexts", err)
	}
	return nil
}
