package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"taskflow/internal/cache"
	"taskflow/internal/notify"
	"taskflow/internal/rbac"
	"taskflow/internal/store"
	"taskflow/internal/workflow"
)

const recentProjectsLimit = 10

type ProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type MemberInput struct {
	UserID       string                   `json:"userId"`
	Role         string                   `json:"role"`
	Capabilities *rbac.MemberCapabilities `json:"capabilities"`
}

type ProjectMetrics struct {
	ProjectID       string         `json:"projectId"`
	TotalTasks      int            `json:"totalTasks"`
	CompletedTasks  int            `json:"completedTasks"`
	OverdueTasks    int            `json:"overdueTasks"`
	CompletionRate  float64        `json:"completionRate"`
	ByStatus        map[string]int `json:"byStatus"`
	ByPriority      map[string]int `json:"byPriority"`
	TotalPoints     int            `json:"totalPoints"`
	CompletedPoints int            `json:"completedPoints"`
}

func (s *Service) CreateProject(ctx context.Context, session Session, input ProjectInput) (store.Project, error) {
	if !session.Active {
		return store.Project{}, forbidden()
	}
	name, err := requireText("name", input.Name, 200)
	if err != nil {
		return store.Project{}, err
	}

	project := store.Project{
		ID:          s.newID(),
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Status:      string(workflow.ProjectPlanning),
		OwnerID:     session.UserID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return store.Project{}, err
	}
	ctx = afterCommit(ctx)
	created, err := s.store.GetProject(ctx, project.ID)
	if err != nil {
		return store.Project{}, err
	}

	s.cache.Invalidate(ctx, s.keys.ForProject(created.ID, session.UserID))
	s.logger.InfoContext(ctx, "project created", "project_id", created.ID, "user_id", session.UserID)
	return created, nil
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (store.Project, error) {
	project, err := cache.Fetch(ctx, s.cache, s.keys.Project(projectID), s.cfg.ListTTL, func(ctx context.Context) (store.Project, error) {
		return s.loadProject(ctx, projectID)
	})
	if err != nil {
		return store.Project{}, err
	}
	if err := s.authorizeProject(ctx, session, projectID, rbac.CapViewProject); err != nil {
		return store.Project{}, err
	}
	return project, nil
}

// ListProjects returns the projects the user owns or is a member of.
func (s *Service) ListProjects(ctx context.Context, session Session) ([]store.Project, error) {
	return cache.Fetch(ctx, s.cache, s.keys.UserProjects(session.UserID), s.cfg.ListTTL, func(ctx context.Context) ([]store.Project, error) {
		return s.store.ListProjectsForUser(ctx, session.UserID)
	})
}

// RecentProjects filters the shared recent list down to what the caller may
// view.
func (s *Service) RecentProjects(ctx context.Context, session Session) ([]store.Project, error) {
	recent, err := cache.Fetch(ctx, s.cache, s.keys.RecentProjects(), s.cfg.RecentTTL, func(ctx context.Context) ([]store.Project, error) {
		return s.store.ListRecentProjects(ctx, recentProjectsLimit)
	})
	if err != nil {
		return nil, err
	}
	visible := make([]store.Project, 0, len(recent))
	for _, project := range recent {
		if s.access.Can(ctx, session.subject(), project.ID, rbac.CapViewProject) {
			visible = append(visible, project)
		}
	}
	return visible, nil
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID string, input ProjectInput) (store.Project, error) {
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if err := s.authorizeProject(ctx, session, projectID, rbac.CapEditProject); err != nil {
		return store.Project{}, err
	}
	name, err := requireText("name", input.Name, 200)
	if err != nil {
		return store.Project{}, err
	}

	updated, err := s.store.UpdateProjectDetails(ctx, project.ID, name, strings.TrimSpace(input.Description))
	if err != nil {
		return store.Project{}, err
	}
	s.afterProjectChange(afterCommit(ctx), session, updated, fmt.Sprintf("%s updated project '%s'", session.UserName, updated.Name))
	return updated, nil
}

func (s *Service) TransitionProject(ctx context.Context, session Session, projectID, status string) (store.Project, error) {
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if err := s.authorizeProject(ctx, session, projectID, rbac.CapEditProject); err != nil {
		return store.Project{}, err
	}
	to, err := workflow.ParseProjectStatus(status)
	if err != nil {
		return store.Project{}, validation(err.Error())
	}
	from := workflow.ProjectStatus(project.Status)
	if err := workflow.TransitionProject(from, to); err != nil {
		return store.Project{}, err
	}

	updated, err := s.store.UpdateProjectStatus(ctx, project.ID, string(from), string(to))
	if err != nil {
		return store.Project{}, err
	}
	s.afterProjectChange(afterCommit(ctx), session, updated, fmt.Sprintf("%s moved project '%s' from %s to %s", session.UserName, updated.Name, from, to))
	return updated, nil
}

func (s *Service) afterProjectChange(ctx context.Context, session Session, project store.Project, message string) {
	team := s.projectTeam(ctx, project.ID)
	s.cache.Invalidate(ctx, s.keys.ForProject(project.ID, team...))
	s.notifier.NotifyAll(ctx, team, session.UserID, notify.Message{
		Type:          notify.TypeProjectUpdated,
		Title:         "Project updated",
		Message:       message,
		ProjectID:     project.ID,
		RelatedUserID: session.UserID,
	})
	s.notifier.Broadcast(ctx, team, notify.EventProjectUpdated, project)
}

// DeleteProject removes the project with its sprints, tasks and memberships.
func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.authorizeProject(ctx, session, projectID, rbac.CapDeleteProject); err != nil {
		return err
	}

	team := s.projectTeam(ctx, project.ID)
	sprints, err := s.store.ListSprints(ctx, project.ID)
	if err != nil {
		return err
	}
	tasks, err := s.store.ListTasksForProject(ctx, project.ID)
	if err != nil {
		return err
	}
	objectKeys := s.attachmentKeys(ctx, tasks)

	if err := s.store.DeleteProject(ctx, project.ID); err != nil {
		return err
	}
	ctx = afterCommit(ctx)

	sprintIDs := make([]string, 0, len(sprints))
	for _, sprint := range sprints {
		sprintIDs = append(sprintIDs, sprint.ID)
	}
	taskIDs := make([]string, 0, len(tasks))
	users := append([]string{}, team...)
	for _, task := range tasks {
		taskIDs = append(taskIDs, task.ID)
		users = append(users, task.CreatedBy, task.AssignedTo)
	}
	s.cache.Invalidate(ctx, s.keys.ForProjectDeleted(project.ID, notify.Recipients("", users...), sprintIDs, taskIDs))
	for _, taskID := range taskIDs {
		s.unindexTask(taskID)
	}
	s.removeObjects(ctx, objectKeys)
	s.notifier.Broadcast(ctx, team, notify.EventProjectDeleted, map[string]any{"id": project.ID})
	s.logger.InfoContext(ctx, "project deleted", "project_id", project.ID, "user_id", session.UserID, "tasks", len(taskIDs))
	return nil
}

func (s *Service) ProjectMetrics(ctx context.Context, session Session, projectID string) (ProjectMetrics, error) {
	if _, err := s.loadProject(ctx, projectID); err != nil {
		return ProjectMetrics{}, err
	}
	if err := s.authorizeProject(ctx, session, projectID, rbac.CapViewProject); err != nil {
		return ProjectMetrics{}, err
	}
	return cache.Fetch(ctx, s.cache, s.keys.ProjectMetrics(projectID), s.cfg.ListTTL, func(ctx context.Context) (ProjectMetrics, error) {
		tasks, err := s.store.ListTasksForProject(ctx, projectID)
		if err != nil {
			return ProjectMetrics{}, err
		}
		return computeMetrics(projectID, tasks, s.now()), nil
	})
}

func computeMetrics(projectID string, tasks []store.Task, now time.Time) ProjectMetrics {
	metrics := ProjectMetrics{
		ProjectID:  projectID,
		TotalTasks: len(tasks),
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
	}
	for _, task := range tasks {
		metrics.ByStatus[task.Status]++
		metrics.ByPriority[task.Priority]++
		metrics.TotalPoints += task.StoryPoints
		if completed(task) {
			metrics.CompletedTasks++
			metrics.CompletedPoints += task.StoryPoints
		}
		if overdue(task, now) {
			metrics.OverdueTasks++
		}
	}
	metrics.CompletionRate = percent(metrics.CompletedTasks, metrics.TotalTasks)
	return metrics
}

// completed counts DEPLOYED as done: a deployed task went through DONE.
func completed(task store.Task) bool {
	status := workflow.TaskStatus(task.Status)
	return status == workflow.TaskDone || status == workflow.TaskDeployed
}

func overdue(task store.Task, now time.Time) bool {
	return task.DueDate != nil && task.DueDate.Before(now) && !workflow.TaskStatus(task.Status).Finished()
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)*1000/float64(total)) / 10
}

func (s *Service) ListMembers(ctx context.Context, session Session, projectID string) ([]store.ProjectMember, error) {
	if _, err := s.loadProject(ctx, projectID); err != nil {
		return nil, err
	}
	if err := s.authorizeProject(ctx, session, projectID, rbac.CapViewProject); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, s.keys.ProjectMembers(projectID), s.cfg.ListTTL, func(ctx context.Context) ([]store.ProjectMember, error) {
		return s.store.ListMembers(ctx, projectID)
	})
}

func (s *Service) AddMember(ctx context.Context, session Session, projectID string, input MemberInput) (store.ProjectMember, error) {
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return store.ProjectMember{}, err
	}
	if err := s.authorizeProject(ctx, session, projectID, rbac.CapManageMembers); err != nil {
		return store.ProjectMember{}, err
	}
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return store.ProjectMember{}, validation("userId is required")
	}
	if userID == project.OwnerID {
		return store.ProjectMember{}, validation("the project owner is already part of the project")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.ProjectMember{}, validation("user does not exist")
	}
	if err != nil {
		return store.ProjectMember{}, err
	}

	caps := rbac.DefaultMemberCapabilities()
	if input.Capabilities != nil {
		caps = *input.Capabilities
	}
	member, err := s.store.AddMember(ctx, store.ProjectMember{
		ProjectID:    project.ID,
		UserID:       user.ID,
		Role:         memberRole(input.Role),
		Capabilities: caps,
	})
	if errors.Is(err, store.ErrConflict) {
		return store.ProjectMember{}, conflict("user is already a member of this project")
	}
	if err != nil {
		return store.ProjectMember{}, err
	}

	ctx = afterCommit(ctx)
	s.cache.Invalidate(ctx, s.keys.ForMembership(project.ID, user.ID))
	s.notifier.NotifyAll(ctx, []string{user.ID}, session.UserID, notify.Message{
		Type:          notify.TypeProjectUpdated,
		Title:         "Added to project",
		Message:       fmt.Sprintf("%s added you to project '%s'", session.UserName, project.Name),
		ProjectID:     project.ID,
		RelatedUserID: session.UserID,
	})
	return member, nil
}

func (s *Service) UpdateMember(ctx context.Context, session Session, projectID, userID string, input MemberInput) (store.ProjectMember, error) {
	if _, err := s.loadProject(ctx, projectID); err != nil {
		return store.ProjectMember{}, err
	}
	if err := s.authorizeProject(ctx, session, projectID, rbac.CapManageMembers); err != nil {
		return store.ProjectMember{}, err
	}
	member, err := s.store.GetMember(ctx, projectID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.ProjectMember{}, notFound("Member")
	}
	if err != nil {
		return store.ProjectMember{}, err
	}

	if strings.TrimSpace(input.Role) != "" {
		member.Role = memberRole(input.Role)
	}
	if input.Capabilities != nil {
		member.Capabilities = *input.Capabilities
	}
	updated, err := s.store.UpdateMember(ctx, member)
	if err != nil {
		return store.ProjectMember{}, err
	}
	s.cache.Invalidate(afterCommit(ctx), s.keys.ForMembership(projectID, userID))
	return updated, nil
}

// RemoveMember lets members with manage_members remove anyone and every
// member leave on their own.
func (s *Service) RemoveMember(ctx context.Context, session Session, projectID, userID string) error {
	if _, err := s.loadProject(ctx, projectID); err != nil {
		return err
	}
	if userID != session.UserID {
		if err := s.authorizeProject(ctx, session, projectID, rbac.CapManageMembers); err != nil {
			return err
		}
	}
	if err := s.store.RemoveMember(ctx, projectID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Member")
		}
		return err
	}
	keys := s.keys.ForMembership(projectID, userID)
	keys.Add(s.keys.UserTasks(userID), s.keys.UserWorkload(userID))
	s.cache.Invalidate(afterCommit(ctx), keys)
	return nil
}

func memberRole(role string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(role))
	if trimmed == "" {
		return "MEMBER"
	}
	return trimmed
}
