package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskflow/internal/rbac"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, role, active)
		VALUES ($1, LOWER($2), $3, $4, $5, $6)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.Role, user.Active)
	if err != nil {
		return fmt.Errorf("insert user: %w", translate(err))
	}
	return nil
}

const userColumns = `id, email, display_name, password_hash, role, active, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.Active, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", translate(err))
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=LOWER($1)`, email))
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", translate(err))
	}
	return user, nil
}

const projectColumns = `id, name, description, status, owner_id, created_at, updated_at`

func scanProject(row rowScanner) (Project, error) {
	var project Project
	err := row.Scan(&project.ID, &project.Name, &project.Description, &project.Status, &project.OwnerID, &project.CreatedAt, &project.UpdatedAt)
	return project, err
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, status, owner_id)
		VALUES ($1, $2, $3, $4, $5)
	`, project.ID, project.Name, project.Description, project.Status, project.OwnerID)
	if err != nil {
		return fmt.Errorf("insert project: %w", translate(err))
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	project, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, projectID))
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", translate(err))
	}
	return project, nil
}

func (s *PostgresStore) queryProjects(ctx context.Context, query string, args ...any) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// ListProjectsForUser returns projects the user owns or belongs to.
func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	projects, err := s.queryProjects(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE owner_id = $1
		   OR id IN (SELECT project_id FROM project_members WHERE user_id = $1)
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user projects: %w", err)
	}
	return projects, nil
}

func (s *PostgresStore) ListRecentProjects(ctx context.Context, limit int) ([]Project, error) {
	projects, err := s.queryProjects(ctx, `
		SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent projects: %w", err)
	}
	return projects, nil
}

func (s *PostgresStore) UpdateProjectDetails(ctx context.Context, projectID, name, description string) (Project, error) {
	project, err := scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects SET name=$2, description=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING `+projectColumns, projectID, name, description))
	if err != nil {
		return Project{}, fmt.Errorf("update project: %w", translate(err))
	}
	return project, nil
}

// UpdateProjectStatus writes to only if the stored status still equals from.
func (s *PostgresStore) UpdateProjectStatus(ctx context.Context, projectID, from, to string) (Project, error) {
	project, err := scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects SET status=$3, updated_at=NOW()
		WHERE id=$1 AND status=$2
		RETURNING `+projectColumns, projectID, from, to))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetProject(ctx, projectID); getErr != nil {
			return Project{}, getErr
		}
		return Project{}, fmt.Errorf("update project status: %w", ErrStaleState)
	}
	if err != nil {
		return Project{}, fmt.Errorf("update project status: %w", err)
	}
	return project, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireAffected(result, "delete project")
}

func requireAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ProjectOwner(ctx context.Context, projectID string) (string, error) {
	var ownerID string
	if err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM projects WHERE id=$1`, projectID).Scan(&ownerID); err != nil {
		return "", fmt.Errorf("project owner: %w", translate(err))
	}
	return ownerID, nil
}

func (s *PostgresStore) MembershipCapabilities(ctx context.Context, projectID, userID string) (rbac.MemberCapabilities, error) {
	member, err := s.GetMember(ctx, projectID, userID)
	if errors.Is(err, ErrNotFound) {
		return rbac.MemberCapabilities{}, rbac.ErrNoMembership
	}
	if err != nil {
		return rbac.MemberCapabilities{}, err
	}
	return member.Capabilities, nil
}

// ProjectTeam returns the owner followed by every member.
func (s *PostgresStore) ProjectTeam(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id FROM projects WHERE id=$1
		UNION
		SELECT user_id FROM project_members WHERE project_id=$1
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("project team: %w", err)
	}
	defer rows.Close()

	var team []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan project team: %w", err)
		}
		team = append(team, userID)
	}
	return team, rows.Err()
}

const memberColumns = `project_id, user_id, role, can_create_tasks, can_edit_tasks, can_delete_tasks, can_manage_sprints, can_manage_members, joined_at`

func scanMember(row rowScanner) (ProjectMember, error) {
	var member ProjectMember
	caps := &member.Capabilities
	err := row.Scan(&member.ProjectID, &member.UserID, &member.Role,
		&caps.CreateTasks, &caps.EditTasks, &caps.DeleteTasks, &caps.ManageSprints, &caps.ManageMembers,
		&member.JoinedAt)
	return member, err
}

func (s *PostgresStore) AddMember(ctx context.Context, member ProjectMember) (ProjectMember, error) {
	caps := member.Capabilities
	created, err := scanMember(s.db.QueryRowContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role, can_create_tasks, can_edit_tasks, can_delete_tasks, can_manage_sprints, can_manage_members)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+memberColumns,
		member.ProjectID, member.UserID, member.Role,
		caps.CreateTasks, caps.EditTasks, caps.DeleteTasks, caps.ManageSprints, caps.ManageMembers))
	if err != nil {
		return ProjectMember{}, fmt.Errorf("add member: %w", translate(err))
	}
	return created, nil
}

func (s *PostgresStore) UpdateMember(ctx context.Context, member ProjectMember) (ProjectMember, error) {
	caps := member.Capabilities
	updated, err := scanMember(s.db.QueryRowContext(ctx, `
		UPDATE project_members
		SET role=$3, can_create_tasks=$4, can_edit_tasks=$5, can_delete_tasks=$6, can_manage_sprints=$7, can_manage_members=$8
		WHERE project_id=$1 AND user_id=$2
		RETURNING `+memberColumns,
		member.ProjectID, member.UserID, member.Role,
		caps.CreateTasks, caps.EditTasks, caps.DeleteTasks, caps.ManageSprints, caps.ManageMembers))
	if err != nil {
		return ProjectMember{}, fmt.Errorf("update member: %w", translate(err))
	}
	return updated, nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, projectID, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=$1 AND user_id=$2`, projectID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return requireAffected(result, "remove member")
}

func (s *PostgresStore) GetMember(ctx context.Context, projectID, userID string) (ProjectMember, error) {
	member, err := scanMember(s.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+` FROM project_members WHERE project_id=$1 AND user_id=$2
	`, projectID, userID))
	if err != nil {
		return ProjectMember{}, fmt.Errorf("get member: %w", translate(err))
	}
	return member, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, projectID string) ([]ProjectMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memberColumns+` FROM project_members WHERE project_id=$1 ORDER BY joined_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]ProjectMember, 0)
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}
