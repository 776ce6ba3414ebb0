package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const taskColumns = `id, project_id, sprint_id, parent_task_id, assigned_to, created_by, title, description,
	status, priority, story_points, due_date, completion_date, created_at, updated_at`

func scanTask(row rowScanner) (Task, error) {
	var (
		task                                    Task
		projectID, sprintID, parentID, assignee sql.NullString
		dueDate, completionDate                 sql.NullTime
	)
	err := row.Scan(&task.ID, &projectID, &sprintID, &parentID, &assignee, &task.CreatedBy, &task.Title, &task.Description,
		&task.Status, &task.Priority, &task.StoryPoints, &dueDate, &completionDate, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	task.ProjectID = projectID.String
	task.SprintID = sprintID.String
	task.ParentID = parentID.String
	task.AssignedTo = assignee.String
	task.DueDate = timePtr(dueDate)
	task.CompletionDate = timePtr(completionDate)
	return task, nil
}

func queryTasks(ctx context.Context, q querier, query string, args ...any) ([]Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) (Task, error) {
	created, err := scanTask(s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, project_id, sprint_id, parent_task_id, assigned_to, created_by, title, description,
			status, priority, story_points, due_date, completion_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+taskColumns,
		task.ID, nullable(task.ProjectID), nullable(task.SprintID), nullable(task.ParentID), nullable(task.AssignedTo),
		task.CreatedBy, task.Title, task.Description, task.Status, task.Priority, task.StoryPoints,
		nullableTime(task.DueDate), nullableTime(task.CompletionDate)))
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", translate(err))
	}
	return created, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID))
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", translate(err))
	}
	return task, nil
}

// UpdateTask writes every mutable column, guarded by the status the caller
// read. A concurrent status change makes it fail with ErrStaleState.
func (s *PostgresStore) UpdateTask(ctx context.Context, task Task, expectedStatus string) (Task, error) {
	updated, err := scanTask(s.db.QueryRowContext(ctx, `
		UPDATE tasks SET
			sprint_id=$3, parent_task_id=$4, assigned_to=$5, title=$6, description=$7,
			status=$8, priority=$9, story_points=$10, due_date=$11, completion_date=$12, updated_at=NOW()
		WHERE id=$1 AND status=$2
		RETURNING `+taskColumns,
		task.ID, expectedStatus,
		nullable(task.SprintID), nullable(task.ParentID), nullable(task.AssignedTo), task.Title, task.Description,
		task.Status, task.Priority, task.StoryPoints, nullableTime(task.DueDate), nullableTime(task.CompletionDate)))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetTask(ctx, task.ID); getErr != nil {
			return Task{}, getErr
		}
		return Task{}, fmt.Errorf("update task: %w", ErrStaleState)
	}
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", translate(err))
	}
	return updated, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireAffected(result, "delete task")
}

// ListTasksForUser returns tasks assigned to or created by the user.
func (s *PostgresStore) ListTasksForUser(ctx context.Context, userID string) ([]Task, error) {
	tasks, err := queryTasks(ctx, s.db, `
		SELECT `+taskColumns+` FROM tasks
		WHERE assigned_to=$1 OR created_by=$1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user tasks: %w", err)
	}
	return tasks, nil
}

func (s *PostgresStore) ListTasksForProject(ctx context.Context, projectID string) ([]Task, error) {
	tasks, err := queryTasks(ctx, s.db, `
		SELECT `+taskColumns+` FROM tasks WHERE project_id=$1 ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project tasks: %w", err)
	}
	return tasks, nil
}

func (s *PostgresStore) ListTasksForSprint(ctx context.Context, sprintID string) ([]Task, error) {
	tasks, err := queryTasks(ctx, s.db, `
		SELECT `+taskColumns+` FROM tasks WHERE sprint_id=$1 ORDER BY created_at
	`, sprintID)
	if err != nil {
		return nil, fmt.Errorf("list sprint tasks: %w", err)
	}
	return tasks, nil
}

func (s *PostgresStore) ListSubtasks(ctx context.Context, parentID string) ([]Task, error) {
	tasks, err := queryTasks(ctx, s.db, `
		SELECT `+taskColumns+` FROM tasks WHERE parent_task_id=$1 ORDER BY created_at
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	return tasks, nil
}
