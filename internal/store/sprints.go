package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrActiveSprintExists is returned when starting a sprint while another
// sprint of the same project is ACTIVE.
var ErrActiveSprintExists = fmt.Errorf("another sprint is already active: %w", ErrConflict)

const sprintColumns = `id, project_id, name, goal, status, start_date, end_date, created_at, updated_at`

// Statuses a task may hold and still stay attached to a closed sprint.
const finishedTaskStatuses = `('DONE', 'DEPLOYED', 'CANCELLED')`

func scanSprint(row rowScanner) (Sprint, error) {
	var sprint Sprint
	err := row.Scan(&sprint.ID, &sprint.ProjectID, &sprint.Name, &sprint.Goal, &sprint.Status,
		&sprint.StartDate, &sprint.EndDate, &sprint.CreatedAt, &sprint.UpdatedAt)
	return sprint, err
}

func (s *PostgresStore) InsertSprint(ctx context.Context, sprint Sprint) (Sprint, error) {
	created, err := scanSprint(s.db.QueryRowContext(ctx, `
		INSERT INTO sprints (id, project_id, name, goal, status, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+sprintColumns,
		sprint.ID, sprint.ProjectID, sprint.Name, sprint.Goal, sprint.Status, sprint.StartDate, sprint.EndDate))
	if err != nil {
		return Sprint{}, fmt.Errorf("insert sprint: %w", translate(err))
	}
	return created, nil
}

func (s *PostgresStore) GetSprint(ctx context.Context, sprintID string) (Sprint, error) {
	sprint, err := scanSprint(s.db.QueryRowContext(ctx, `SELECT `+sprintColumns+` FROM sprints WHERE id=$1`, sprintID))
	if err != nil {
		return Sprint{}, fmt.Errorf("get sprint: %w", translate(err))
	}
	return sprint, nil
}

func (s *PostgresStore) GetActiveSprint(ctx context.Context, projectID string) (Sprint, error) {
	sprint, err := scanSprint(s.db.QueryRowContext(ctx, `
		SELECT `+sprintColumns+` FROM sprints WHERE project_id=$1 AND status='ACTIVE'
	`, projectID))
	if err != nil {
		return Sprint{}, fmt.Errorf("get active sprint: %w", translate(err))
	}
	return sprint, nil
}

func (s *PostgresStore) ListSprints(ctx context.Context, projectID string) ([]Sprint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sprintColumns+` FROM sprints WHERE project_id=$1 ORDER BY start_date
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sprints: %w", err)
	}
	defer rows.Close()

	sprints := make([]Sprint, 0)
	for rows.Next() {
		sprint, err := scanSprint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sprint: %w", err)
		}
		sprints = append(sprints, sprint)
	}
	return sprints, rows.Err()
}

// CountOverlappingSprints counts PLANNED or ACTIVE sprints of the project whose
// window intersects [start, end), ignoring excludeID.
func (s *PostgresStore) CountOverlappingSprints(ctx context.Context, projectID string, start, end time.Time, excludeID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sprints
		WHERE project_id=$1
		  AND status IN ('PLANNED', 'ACTIVE')
		  AND start_date < $3 AND end_date > $2
		  AND id <> $4
	`, projectID, start, end, excludeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count overlapping sprints: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateSprintDetails(ctx context.Context, sprint Sprint) (Sprint, error) {
	updated, err := scanSprint(s.db.QueryRowContext(ctx, `
		UPDATE sprints SET name=$2, goal=$3, start_date=$4, end_date=$5, updated_at=NOW()
		WHERE id=$1
		RETURNING `+sprintColumns,
		sprint.ID, sprint.Name, sprint.Goal, sprint.StartDate, sprint.EndDate))
	if err != nil {
		return Sprint{}, fmt.Errorf("update sprint: %w", translate(err))
	}
	return updated, nil
}

// StartSprint moves a PLANNED sprint to ACTIVE. The project row is locked for
// the duration so two concurrent starts in one project serialize, and the
// partial unique index on active sprints backs the check up.
func (s *PostgresStore) StartSprint(ctx context.Context, sprintID string) (Sprint, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Sprint{}, fmt.Errorf("begin start sprint tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var projectID, status string
	err = tx.QueryRowContext(ctx, `SELECT project_id, status FROM sprints WHERE id=$1`, sprintID).Scan(&projectID, &status)
	if err != nil {
		return Sprint{}, fmt.Errorf("load sprint: %w", translate(err))
	}
	if _, err := tx.ExecContext(ctx, `SELECT id FROM projects WHERE id=$1 FOR UPDATE`, projectID); err != nil {
		return Sprint{}, fmt.Errorf("lock project: %w", err)
	}

	var activeID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM sprints WHERE project_id=$1 AND status='ACTIVE' AND id<>$2
	`, projectID, sprintID).Scan(&activeID)
	switch {
	case err == nil:
		return Sprint{}, ErrActiveSprintExists
	case !errors.Is(err, sql.ErrNoRows):
		return Sprint{}, fmt.Errorf("check active sprint: %w", err)
	}

	started, err := scanSprint(tx.QueryRowContext(ctx, `
		UPDATE sprints SET status='ACTIVE', updated_at=NOW()
		WHERE id=$1 AND status='PLANNED'
		RETURNING `+sprintColumns, sprintID))
	if errors.Is(err, sql.ErrNoRows) {
		return Sprint{}, fmt.Errorf("start sprint: %w", ErrStaleState)
	}
	if err != nil {
		if errors.Is(translate(err), ErrConflict) {
			return Sprint{}, ErrActiveSprintExists
		}
		return Sprint{}, fmt.Errorf("start sprint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Sprint{}, fmt.Errorf("commit start sprint: %w", err)
	}
	return started, nil
}

// CloseSprint moves a sprint from one status to a closing status and, in the
// same transaction, sends every unfinished task back to the backlog.
func (s *PostgresStore) CloseSprint(ctx context.Context, sprintID, from, to string) (SprintRollover, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SprintRollover{}, fmt.Errorf("begin close sprint tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	closed, err := scanSprint(tx.QueryRowContext(ctx, `
		UPDATE sprints SET status=$3, updated_at=NOW()
		WHERE id=$1 AND status=$2
		RETURNING `+sprintColumns, sprintID, from, to))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetSprint(ctx, sprintID); getErr != nil {
			return SprintRollover{}, getErr
		}
		return SprintRollover{}, fmt.Errorf("close sprint: %w", ErrStaleState)
	}
	if err != nil {
		return SprintRollover{}, fmt.Errorf("close sprint: %w", err)
	}

	moved, err := rollOverTasks(ctx, tx, sprintID, false)
	if err != nil {
		return SprintRollover{}, err
	}

	if err := tx.Commit(); err != nil {
		return SprintRollover{}, fmt.Errorf("commit close sprint: %w", err)
	}
	return SprintRollover{Sprint: closed, Moved: moved}, nil
}

// DeleteSprint detaches every task of the sprint, resets unfinished ones to
// BACKLOG and removes the sprint. The returned Moved slice holds every
// detached task.
func (s *PostgresStore) DeleteSprint(ctx context.Context, sprintID string) (SprintRollover, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SprintRollover{}, fmt.Errorf("begin delete sprint tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sprint, err := scanSprint(tx.QueryRowContext(ctx, `SELECT `+sprintColumns+` FROM sprints WHERE id=$1 FOR UPDATE`, sprintID))
	if err != nil {
		return SprintRollover{}, fmt.Errorf("load sprint: %w", translate(err))
	}

	moved, err := rollOverTasks(ctx, tx, sprintID, true)
	if err != nil {
		return SprintRollover{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sprints WHERE id=$1`, sprintID); err != nil {
		return SprintRollover{}, fmt.Errorf("delete sprint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return SprintRollover{}, fmt.Errorf("commit delete sprint: %w", err)
	}
	return SprintRollover{Sprint: sprint, Moved: moved}, nil
}

// rollOverTasks detaches unfinished tasks from the sprint and resets them to
// BACKLOG. With detachAll, finished tasks are detached too but keep their
// status.
func rollOverTasks(ctx context.Context, tx *sql.Tx, sprintID string, detachAll bool) ([]Task, error) {
	filter := ` AND status NOT IN ` + finishedTaskStatuses
	if detachAll {
		filter = ``
	}
	moved, err := queryTasks(ctx, tx, `
		SELECT `+taskColumns+` FROM tasks WHERE sprint_id=$1`+filter+` ORDER BY id FOR UPDATE
	`, sprintID)
	if err != nil {
		return nil, fmt.Errorf("load sprint tasks: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET sprint_id=NULL, status='BACKLOG', completion_date=NULL, updated_at=NOW()
		WHERE sprint_id=$1 AND status NOT IN `+finishedTaskStatuses, sprintID); err != nil {
		return nil, fmt.Errorf("roll over sprint tasks: %w", err)
	}
	if detachAll {
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET sprint_id=NULL, updated_at=NOW() WHERE sprint_id=$1`, sprintID); err != nil {
			return nil, fmt.Errorf("detach sprint tasks: %w", err)
		}
	}
	return moved, nil
}
