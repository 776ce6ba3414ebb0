package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskflow/internal/cache"
	"taskflow/internal/notify"
	"taskflow/internal/rbac"
	"taskflow/internal/store"
	"taskflow/internal/workflow"
)

type SprintInput struct {
	Name      string    `json:"name"`
	Goal      string    `json:"goal"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// SprintView is a sprint together with its tasks.
type SprintView struct {
	store.Sprint
	Tasks []store.Task `json:"tasks"`
}

type Burndown struct {
	SprintID        string  `json:"sprintId"`
	TotalPoints     int     `json:"totalPoints"`
	CompletedPoints int     `json:"completedPoints"`
	RemainingPoints int     `json:"remainingPoints"`
	TotalTasks      int     `json:"totalTasks"`
	CompletedTasks  int     `json:"completedTasks"`
	CompletionRate  float64 `json:"completionRate"`
	DaysRemaining   int     `json:"daysRemaining"`
}

func (s *Service) CreateSprint(ctx context.Context, session Session, projectID string, input SprintInput) (store.Sprint, error) {
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return store.Sprint{}, err
	}
	if err := s.authorizeProject(ctx, session, projectID, rbac.CapManageSprints); err != nil {
		return store.Sprint{}, err
	}
	if workflow.ProjectStatus(project.Status).Terminal() {
		return store.Sprint{}, validation(fmt.Sprintf("project is %s and cannot get new sprints", project.Status))
	}
	sprint := store.Sprint{ID: s.newID(), ProjectID: project.ID, Status: string(workflow.SprintPlanned)}
	if err := s.applySprintInput(ctx, &sprint, input); err != nil {
		return store.Sprint{}, err
	}

	created, err := s.store.InsertSprint(ctx, sprint)
	if err != nil {
		return store.Sprint{}, err
	}
	ctx = afterCommit(ctx)
	s.cache.Invalidate(ctx, s.keys.ForSprint(cache.SprintChange{SprintID: created.ID, ProjectID: created.ProjectID}))
	return created, nil
}

func (s *Service) applySprintInput(ctx context.Context, sprint *store.Sprint, input SprintInput) error {
	name, err := requireText("name", input.Name, 200)
	if err != nil {
		return err
	}
	if input.StartDate.IsZero() || input.EndDate.IsZero() {
		return validation("startDate and endDate are required")
	}
	if !input.StartDate.Before(input.EndDate) {
		return validation("startDate must be before endDate")
	}
	overlapping, err := s.store.CountOverlappingSprints(ctx, sprint.ProjectID, input.StartDate, input.EndDate, sprint.ID)
	if err != nil {
		return err
	}
	if overlapping > 0 {
		return validation("sprint dates overlap another planned or active sprint")
	}
	sprint.Name = name
	sprint.Goal = strings.TrimSpace(input.Goal)
	sprint.StartDate = input.StartDate.UTC()
	sprint.EndDate = input.EndDate.UTC()
	return nil
}

func (s *Service) GetSprint(ctx context.Context, session Session, sprintID string) (SprintView, error) {
	sprint, err := cache.Fetch(ctx, s.cache, s.keys.Sprint(sprintID), s.cfg.ListTTL, func(ctx context.Context) (store.Sprint, error) {
		return s.loadSprint(ctx, sprintID)
	})
	if err != nil {
		return SprintView{}, err
	}
	if err := s.authorizeProject(ctx, session, sprint.ProjectID, rbac.CapViewProject); err != nil {
		return SprintView{}, err
	}
	tasks, err := s.sprintTasks(ctx, sprintID)
	if err != nil {
		return SprintView{}, err
	}
	return SprintView{Sprint: sprint, Tasks: tasks}, nil
}

func (s *Service) sprintTasks(ctx context.Context, sprintID string) ([]store.Task, error) {
	return cache.Fetch(ctx, s.cache, s.keys.SprintTasks(sprintID), s.cfg.ListTTL, func(ctx context.Context) ([]store.Task, error) {
		return s.store.ListTasksForSprint(ctx, sprintID)
	})
}

func (s *Service) ListSprints(ctx context.Context, session Session, projectID string) ([]store.Sprint, error) {
	if _, err := s.loadProject(ctx, projectID); err != nil {
		return nil, err
	}
	if err := s.authorizeProject(ctx, session, projectID, rbac.CapViewProject); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, s.keys.ProjectSprints(projectID), s.cfg.ListTTL, func(ctx context.Context) ([]store.Sprint, error) {
		return s.store.ListSprints(ctx, projectID)
	})
}

func (s *Service) ActiveSprint(ctx context.Context, session Session, projectID string) (store.Sprint, error) {
	if _, err := s.loadProject(ctx, projectID); err != nil {
		return store.Sprint{}, err
	}
	if err := s.authorizeProject(ctx, session, projectID, rbac.CapViewProject); err != nil {
		return store.Sprint{}, err
	}
	sprint, err := cache.Fetch(ctx, s.cache, s.keys.ProjectActiveSprint(projectID), s.cfg.ListTTL, func(ctx context.Context) (store.Sprint, error) {
		return s.store.GetActiveSprint(ctx, projectID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.Sprint{}, notFound("Active sprint")
	}
	return sprint, err
}

func (s *Service) UpdateSprint(ctx context.Context, session Session, sprintID string, input SprintInput) (store.Sprint, error) {
	sprint, err := s.loadSprint(ctx, sprintID)
	if err != nil {
		return store.Sprint{}, err
	}
	if err := s.authorizeProject(ctx, session, sprint.ProjectID, rbac.CapManageSprints); err != nil {
		return store.Sprint{}, err
	}
	if !workflow.SprintStatus(sprint.Status).AllowsTaskChanges() {
		return store.Sprint{}, validation(fmt.Sprintf("sprint is %s and can no longer be edited", sprint.Status))
	}
	if err := s.applySprintInput(ctx, &sprint, input); err != nil {
		return store.Sprint{}, err
	}

	updated, err := s.store.UpdateSprintDetails(ctx, sprint)
	if err != nil {
		return store.Sprint{}, err
	}
	ctx = afterCommit(ctx)
	s.cache.Invalidate(ctx, s.keys.ForSprint(cache.SprintChange{SprintID: updated.ID, ProjectID: updated.ProjectID}))
	return updated, nil
}

// StartSprint fails with a conflict while another sprint of the project is
// ACTIVE.
func (s *Service) StartSprint(ctx context.Context, session Session, sprintID string) (store.Sprint, error) {
	sprint, err := s.loadSprint(ctx, sprintID)
	if err != nil {
		return store.Sprint{}, err
	}
	if err := s.authorizeProject(ctx, session, sprint.ProjectID, rbac.CapManageSprints); err != nil {
		return store.Sprint{}, err
	}
	if err := workflow.TransitionSprint(workflow.SprintStatus(sprint.Status), workflow.SprintActive); err != nil {
		return store.Sprint{}, err
	}

	started, err := s.store.StartSprint(ctx, sprint.ID)
	if errors.Is(err, store.ErrActiveSprintExists) {
		return store.Sprint{}, conflict("another sprint is already active in this project")
	}
	if err != nil {
		return store.Sprint{}, err
	}

	ctx = afterCommit(ctx)
	s.cache.Invalidate(ctx, s.keys.ForSprint(cache.SprintChange{SprintID: started.ID, ProjectID: started.ProjectID}))
	team := s.projectTeam(ctx, started.ProjectID)
	s.notifier.NotifyAll(ctx, team, session.UserID, notify.Message{
		Type:          notify.TypeSprintStarted,
		Title:         "Sprint started",
		Message:       fmt.Sprintf("%s started sprint '%s'", session.UserName, started.Name),
		ProjectID:     started.ProjectID,
		SprintID:      started.ID,
		RelatedUserID: session.UserID,
	})
	s.notifier.Broadcast(ctx, team, notify.EventSprintStarted, started)
	return started, nil
}

func (s *Service) CompleteSprint(ctx context.Context, session Session, sprintID string) (store.SprintRollover, error) {
	return s.closeSprint(ctx, session, sprintID, workflow.SprintCompleted)
}

func (s *Service) CancelSprint(ctx context.Context, session Session, sprintID string) (store.SprintRollover, error) {
	return s.closeSprint(ctx, session, sprintID, workflow.SprintCancelled)
}

// closeSprint moves the sprint to a closing status; unfinished tasks go back
// to the backlog in the same transaction.
func (s *Service) closeSprint(ctx context.Context, session Session, sprintID string, to workflow.SprintStatus) (store.SprintRollover, error) {
	sprint, err := s.loadSprint(ctx, sprintID)
	if err != nil {
		return store.SprintRollover{}, err
	}
	if err := s.authorizeProject(ctx, session, sprint.ProjectID, rbac.CapManageSprints); err != nil {
		return store.SprintRollover{}, err
	}
	from := workflow.SprintStatus(sprint.Status)
	if err := workflow.TransitionSprint(from, to); err != nil {
		return store.SprintRollover{}, err
	}

	result, err := s.store.CloseSprint(ctx, sprint.ID, string(from), string(to))
	if err != nil {
		return store.SprintRollover{}, err
	}
	ctx = afterCommit(ctx)
	s.afterRollover(ctx, session, result)

	team := s.projectTeam(ctx, sprint.ProjectID)
	event := notify.EventSprintCancelled
	if to == workflow.SprintCompleted {
		event = notify.EventSprintCompleted
		s.notifier.NotifyAll(ctx, team, session.UserID, notify.Message{
			Type:          notify.TypeSprintCompleted,
			Title:         "Sprint completed",
			Message:       fmt.Sprintf("%s completed sprint '%s'; %d unfinished tasks moved to the backlog", session.UserName, result.Sprint.Name, len(result.Moved)),
			ProjectID:     sprint.ProjectID,
			SprintID:      sprint.ID,
			RelatedUserID: session.UserID,
		})
	}
	s.notifier.Broadcast(ctx, team, event, result.Sprint)
	s.logger.InfoContext(ctx, "sprint closed", "sprint_id", sprint.ID, "status", string(to), "moved_tasks", len(result.Moved))
	return result, nil
}

// afterRollover invalidates, reindexes and reports the tasks a sprint change
// sent back to the backlog. Moved holds the values from before the move.
func (s *Service) afterRollover(ctx context.Context, session Session, result store.SprintRollover) {
	change := cache.SprintChange{SprintID: result.Sprint.ID, ProjectID: result.Sprint.ProjectID}
	moved := make([]store.Task, 0, len(result.Moved))
	for _, task := range result.Moved {
		change.TaskIDs = append(change.TaskIDs, task.ID)
		change.UserIDs = append(change.UserIDs, task.CreatedBy, task.AssignedTo)
		change.ParentIDs = append(change.ParentIDs, task.ParentID)

		after := task
		after.SprintID = ""
		if next, ok := workflow.RolloverStatus(workflow.TaskStatus(task.Status)); ok {
			after.Status = string(next)
			after.CompletionDate = nil
		}
		moved = append(moved, after)
	}
	s.cache.Invalidate(ctx, s.keys.ForSprint(change))
	for i, after := range moved {
		s.notifyStatusChange(ctx, session, result.Moved[i], after)
		s.indexTask(after)
	}
}

// DeleteSprint detaches its tasks instead of deleting them.
func (s *Service) DeleteSprint(ctx context.Context, session Session, sprintID string) error {
	sprint, err := s.loadSprint(ctx, sprintID)
	if err != nil {
		return err
	}
	if err := s.authorizeProject(ctx, session, sprint.ProjectID, rbac.CapManageSprints); err != nil {
		return err
	}
	result, err := s.store.DeleteSprint(ctx, sprint.ID)
	if err != nil {
		return err
	}
	s.afterRollover(afterCommit(ctx), session, result)
	return nil
}

// AddTaskToSprint moves a task of the same project into the sprint. Backlog
// tasks become TODO.
func (s *Service) AddTaskToSprint(ctx context.Context, session Session, sprintID, taskID string) (store.Task, error) {
	sprint, err := s.loadSprint(ctx, sprintID)
	if err != nil {
		return store.Task{}, err
	}
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorizeProject(ctx, session, sprint.ProjectID, rbac.CapEditTasks); err != nil {
		return store.Task{}, err
	}
	if task.ProjectID != sprint.ProjectID {
		return store.Task{}, validation("task must belong to the same project as the sprint")
	}
	if !workflow.SprintStatus(sprint.Status).AllowsTaskChanges() {
		return store.Task{}, validation(fmt.Sprintf("sprint is %s and no longer accepts tasks", sprint.Status))
	}
	if task.SprintID == sprint.ID {
		return task, nil
	}

	before := task
	task.SprintID = sprint.ID
	if workflow.TaskStatus(task.Status) == workflow.TaskBacklog {
		task.Status = string(workflow.TaskTodo)
	}
	return s.commitTaskMove(ctx, session, before, task)
}

// RemoveTaskFromSprint sends the task back to the backlog. Finished tasks
// keep their status. Like a rollover, this reset bypasses the manual
// transition table.
func (s *Service) RemoveTaskFromSprint(ctx context.Context, session Session, sprintID, taskID string) (store.Task, error) {
	sprint, err := s.loadSprint(ctx, sprintID)
	if err != nil {
		return store.Task{}, err
	}
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorizeProject(ctx, session, sprint.ProjectID, rbac.CapEditTasks); err != nil {
		return store.Task{}, err
	}
	if task.SprintID != sprint.ID {
		return store.Task{}, validation("task is not part of this sprint")
	}
	if !workflow.SprintStatus(sprint.Status).AllowsTaskChanges() {
		return store.Task{}, validation(fmt.Sprintf("sprint is %s and its tasks can no longer change", sprint.Status))
	}

	before := task
	task.SprintID = ""
	if next, ok := workflow.RolloverStatus(workflow.TaskStatus(task.Status)); ok {
		task.Status = string(next)
		task.CompletionDate = nil
	}
	return s.commitTaskMove(ctx, session, before, task)
}

func (s *Service) commitTaskMove(ctx context.Context, session Session, before, task store.Task) (store.Task, error) {
	updated, err := s.store.UpdateTask(ctx, task, before.Status)
	if err != nil {
		return store.Task{}, err
	}
	ctx = afterCommit(ctx)
	s.cache.Invalidate(ctx, s.keys.ForTask(taskChange(before, updated)))
	s.notifyStatusChange(ctx, session, before, updated)
	s.announceTask(ctx, notify.EventTaskUpdated, updated)
	s.indexTask(updated)
	return updated, nil
}

func (s *Service) Burndown(ctx context.Context, session Session, sprintID string) (Burndown, error) {
	view, err := s.GetSprint(ctx, session, sprintID)
	if err != nil {
		return Burndown{}, err
	}
	return computeBurndown(view.Sprint, view.Tasks, s.now()), nil
}

func computeBurndown(sprint store.Sprint, tasks []store.Task, now time.Time) Burndown {
	burndown := Burndown{SprintID: sprint.ID, TotalTasks: len(tasks)}
	for _, task := range tasks {
		burndown.TotalPoints += task.StoryPoints
		if completed(task) {
			burndown.CompletedTasks++
			burndown.CompletedPoints += task.StoryPoints
		}
	}
	burndown.RemainingPoints = burndown.TotalPoints - burndown.CompletedPoints
	burndown.CompletionRate = percent(burndown.CompletedTasks, burndown.TotalTasks)
	if workflow.SprintStatus(sprint.Status) == workflow.SprintActive && now.Before(sprint.EndDate) {
		burndown.DaysRemaining = int(sprint.EndDate.Sub(now).Hours() / 24)
	}
	return burndown
}
