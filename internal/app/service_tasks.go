package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"taskflow/internal/cache"
	"taskflow/internal/notify"
	"taskflow/internal/rbac"
	"taskflow/internal/search"
	"taskflow/internal/store"
	"taskflow/internal/workflow"
)

type TaskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ProjectID   string     `json:"projectId"`
	SprintID    string     `json:"sprintId"`
	ParentID    string     `json:"parentId"`
	AssignedTo  string     `json:"assignedTo"`
	Priority    string     `json:"priority"`
	StoryPoints int        `json:"storyPoints"`
	DueDate     *time.Time `json:"dueDate"`
}

// TaskPatch updates only the fields that are set.
type TaskPatch struct {
	Title        *string    `json:"title"`
	Description  *string    `json:"description"`
	Priority     *string    `json:"priority"`
	StoryPoints  *int       `json:"storyPoints"`
	DueDate      *time.Time `json:"dueDate"`
	ClearDueDate bool       `json:"clearDueDate"`
}

type SearchInput struct {
	Text     string
	Status   string
	Priority string
	Limit    int
	Offset   int
}

type Workload struct {
	UserID        string         `json:"userId"`
	OpenTasks     int            `json:"openTasks"`
	OpenPoints    int            `json:"openPoints"`
	OverdueTasks  int            `json:"overdueTasks"`
	ByStatus      map[string]int `json:"byStatus"`
	ByPriority    map[string]int `json:"byPriority"`
	CompletedWeek int            `json:"completedLastWeek"`
}

const maxStoryPoints = 100

func taskChange(before, after store.Task) cache.TaskChange {
	return cache.TaskChange{
		TaskID:     after.ID,
		CreatorID:  after.CreatedBy,
		AssigneeID: []string{before.AssignedTo, after.AssignedTo},
		ProjectID:  []string{before.ProjectID, after.ProjectID},
		SprintID:   []string{before.SprintID, after.SprintID},
		ParentID:   []string{before.ParentID, after.ParentID},
	}
}

func (s *Service) CreateTask(ctx context.Context, session Session, input TaskInput) (store.Task, error) {
	if !session.Active {
		return store.Task{}, forbidden()
	}
	task := store.Task{
		ID:        s.newID(),
		ProjectID: strings.TrimSpace(input.ProjectID),
		CreatedBy: session.UserID,
		Status:    string(workflow.TaskBacklog),
	}

	if task.ProjectID != "" {
		project, err := s.loadProject(ctx, task.ProjectID)
		if err != nil {
			return store.Task{}, err
		}
		if err := s.authorizeProject(ctx, session, project.ID, rbac.CapCreateTasks); err != nil {
			return store.Task{}, err
		}
		if !workflow.ProjectStatus(project.Status).AllowsNewTasks() {
			return store.Task{}, validation(fmt.Sprintf("project is %s and does not accept new tasks", project.Status))
		}
	}

	title, err := requireText("title", input.Title, 300)
	if err != nil {
		return store.Task{}, err
	}
	task.Title = title
	task.Description = strings.TrimSpace(input.Description)
	priority, err := workflow.ParsePriority(input.Priority)
	if err != nil {
		return store.Task{}, validation(err.Error())
	}
	task.Priority = string(priority)
	if err := validateStoryPoints(input.StoryPoints); err != nil {
		return store.Task{}, err
	}
	task.StoryPoints = input.StoryPoints
	task.DueDate = utcPtr(input.DueDate)

	if sprintID := strings.TrimSpace(input.SprintID); sprintID != "" {
		sprint, err := s.store.GetSprint(ctx, sprintID)
		if errors.Is(err, store.ErrNotFound) {
			return store.Task{}, validation("sprint does not exist")
		}
		if err != nil {
			return store.Task{}, err
		}
		if task.ProjectID == "" || sprint.ProjectID != task.ProjectID {
			return store.Task{}, validation("sprint must belong to the task's project")
		}
		if !workflow.SprintStatus(sprint.Status).AllowsTaskChanges() {
			return store.Task{}, validation(fmt.Sprintf("sprint is %s and no longer accepts tasks", sprint.Status))
		}
		task.SprintID = sprint.ID
		task.Status = string(workflow.TaskTodo)
	}
	if parentID := strings.TrimSpace(input.ParentID); parentID != "" {
		parent, err := s.store.GetTask(ctx, parentID)
		if errors.Is(err, store.ErrNotFound) {
			return store.Task{}, validation("parent task does not exist")
		}
		if err != nil {
			return store.Task{}, err
		}
		if err := checkParentScope(task, parent); err != nil {
			return store.Task{}, err
		}
		task.ParentID = parent.ID
	}
	if assignee := strings.TrimSpace(input.AssignedTo); assignee != "" {
		if err := s.validateAssignee(ctx, task, assignee); err != nil {
			return store.Task{}, err
		}
		task.AssignedTo = assignee
	}

	created, err := s.store.InsertTask(ctx, task)
	if err != nil {
		return store.Task{}, err
	}

	ctx = afterCommit(ctx)
	s.cache.Invalidate(ctx, s.keys.ForTask(taskChange(created, created)))
	if created.AssignedTo != "" {
		s.notifyAssigned(ctx, session, created)
	}
	s.announceTask(ctx, notify.EventTaskCreated, created)
	s.indexTask(created)
	return created, nil
}

func validateStoryPoints(points int) error {
	if points < 0 || points > maxStoryPoints {
		return validation(fmt.Sprintf("storyPoints must be between 0 and %d", maxStoryPoints))
	}
	return nil
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

// validateAssignee accepts the owner or a member for project tasks and any
// active user for personal tasks.
func (s *Service) validateAssignee(ctx context.Context, task store.Task, userID string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return validation("assignee does not exist")
	}
	if err != nil {
		return err
	}
	if !user.Active {
		return validation("assignee account is disabled")
	}
	if task.ProjectID == "" {
		return nil
	}
	team, err := s.store.ProjectTeam(ctx, task.ProjectID)
	if err != nil {
		return err
	}
	if !slices.Contains(team, userID) {
		return validation("assignee is not a member of the project")
	}
	return nil
}

func (s *Service) GetTask(ctx context.Context, session Session, taskID string) (store.Task, error) {
	task, err := cache.Fetch(ctx, s.cache, s.keys.Task(taskID), s.cfg.ListTTL, func(ctx context.Context) (store.Task, error) {
		return s.loadTask(ctx, taskID)
	})
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorizeTask(ctx, session, task, rbac.CapViewProject); err != nil {
		return store.Task{}, err
	}
	return task, nil
}

// ListMyTasks returns tasks the user created or is assigned to.
func (s *Service) ListMyTasks(ctx context.Context, session Session) ([]store.Task, error) {
	return cache.Fetch(ctx, s.cache, s.keys.UserTasks(session.UserID), s.cfg.ListTTL, func(ctx context.Context) ([]store.Task, error) {
		return s.store.ListTasksForUser(ctx, session.UserID)
	})
}

func (s *Service) ListProjectTasks(ctx context.Context, session Session, projectID string) ([]store.Task, error) {
	if _, err := s.loadProject(ctx, projectID); err != nil {
		return nil, err
	}
	if err := s.authorizeProject(ctx, session, projectID, rbac.CapViewProject); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, s.keys.ProjectTasks(projectID), s.cfg.ListTTL, func(ctx context.Context) ([]store.Task, error) {
		return s.store.ListTasksForProject(ctx, projectID)
	})
}

func (s *Service) UpdateTask(ctx context.Context, session Session, taskID string, patch TaskPatch) (store.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorizeTask(ctx, session, task, rbac.CapEditTasks); err != nil {
		return store.Task{}, err
	}

	before := task
	if patch.Title != nil {
		if task.Title, err = requireText("title", *patch.Title, 300); err != nil {
			return store.Task{}, err
		}
	}
	if patch.Description != nil {
		task.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Priority != nil {
		priority, err := workflow.ParsePriority(*patch.Priority)
		if err != nil {
			return store.Task{}, validation(err.Error())
		}
		task.Priority = string(priority)
	}
	if patch.StoryPoints != nil {
		if err := validateStoryPoints(*patch.StoryPoints); err != nil {
			return store.Task{}, err
		}
		task.StoryPoints = *patch.StoryPoints
	}
	if patch.ClearDueDate {
		task.DueDate = nil
	} else if patch.DueDate != nil {
		task.DueDate = utcPtr(patch.DueDate)
	}

	updated, err := s.store.UpdateTask(ctx, task, before.Status)
	if err != nil {
		return store.Task{}, err
	}
	ctx = afterCommit(ctx)
	s.cache.Invalidate(ctx, s.keys.ForTask(taskChange(before, updated)))
	s.notifier.NotifyAll(ctx, []string{updated.AssignedTo, updated.CreatedBy}, session.UserID, notify.Message{
		Type:          notify.TypeTaskUpdated,
		Title:         "Task updated",
		Message:       fmt.Sprintf("%s updated task '%s'", session.UserName, updated.Title),
		TaskID:        updated.ID,
		ProjectID:     updated.ProjectID,
		RelatedUserID: session.UserID,
	})
	s.announceTask(ctx, notify.EventTaskUpdated, updated)
	s.indexTask(updated)
	return updated, nil
}

// AssignTask sets or, with an empty assignee, clears the assignee.
func (s *Service) AssignTask(ctx context.Context, session Session, taskID, assigneeID string) (store.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorizeTask(ctx, session, task, rbac.CapEditTasks); err != nil {
		return store.Task{}, err
	}
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == task.AssignedTo {
		return task, nil
	}
	if assigneeID != "" {
		if err := s.validateAssignee(ctx, task, assigneeID); err != nil {
			return store.Task{}, err
		}
	}

	before := task
	task.AssignedTo = assigneeID
	updated, err := s.store.UpdateTask(ctx, task, before.Status)
	if err != nil {
		return store.Task{}, err
	}
	ctx = afterCommit(ctx)
	s.cache.Invalidate(ctx, s.keys.ForTask(taskChange(before, updated)))
	if updated.AssignedTo != "" {
		s.notifyAssigned(ctx, session, updated)
	}
	s.announceTask(ctx, notify.EventTaskUpdated, updated)
	s.indexTask(updated)
	return updated, nil
}

func (s *Service) notifyAssigned(ctx context.Context, session Session, task store.Task) {
	s.notifier.NotifyAll(ctx, []string{task.AssignedTo}, session.UserID, notify.Message{
		Type:          notify.TypeTaskAssigned,
		Title:         "Task assigned",
		Message:       fmt.Sprintf("%s assigned you '%s'", session.UserName, task.Title),
		TaskID:        task.ID,
		ProjectID:     task.ProjectID,
		SprintID:      task.SprintID,
		RelatedUserID: session.UserID,
	})
}

// TransitionTask applies one step of the task status machine. The write is
// guarded by the status read here, so a concurrent change is a conflict.
func (s *Service) TransitionTask(ctx context.Context, session Session, taskID, status string) (store.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorizeTask(ctx, session, task, rbac.CapEditTasks); err != nil {
		return store.Task{}, err
	}
	to, err := parseTaskStatus(status)
	if err != nil {
		return store.Task{}, err
	}
	from := workflow.TaskStatus(task.Status)
	completion, err := workflow.TransitionTask(from, to, task.CompletionDate, s.now())
	if err != nil {
		return store.Task{}, err
	}

	before := task
	task.Status = string(to)
	task.CompletionDate = completion
	updated, err := s.store.UpdateTask(ctx, task, string(from))
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

// notifyStatusChange tells the assignee and the creator, other than the
// actor, that the task entered a new status. Manual transitions, sprint
// moves and rollovers all report through here.
func (s *Service) notifyStatusChange(ctx context.Context, session Session, before, after store.Task) {
	from, to := workflow.TaskStatus(before.Status), workflow.TaskStatus(after.Status)
	if from == to {
		return
	}
	msg := notify.Message{
		Type:          notify.TypeTaskStatusChanged,
		Title:         "Task status changed",
		Message:       fmt.Sprintf("%s moved '%s' from %s to %s", session.UserName, after.Title, from, to),
		TaskID:        after.ID,
		ProjectID:     after.ProjectID,
		SprintID:      after.SprintID,
		RelatedUserID: session.UserID,
	}
	if to == workflow.TaskDone {
		msg.Type = notify.TypeTaskCompleted
		msg.Title = "Task completed"
		msg.Message = fmt.Sprintf("%s completed '%s'", session.UserName, after.Title)
	}
	s.notifier.NotifyAll(ctx, []string{after.AssignedTo, after.CreatedBy}, session.UserID, msg)
}

// SetParent attaches the task under parentID, or detaches it when parentID
// is empty. The result must stay a forest within one project.
func (s *Service) SetParent(ctx context.Context, session Session, taskID, parentID string) (store.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorizeTask(ctx, session, task, rbac.CapEditTasks); err != nil {
		return store.Task{}, err
	}
	parentID = strings.TrimSpace(parentID)
	if parentID == task.ParentID {
		return task, nil
	}
	if parentID != "" {
		parent, err := s.store.GetTask(ctx, parentID)
		if errors.Is(err, store.ErrNotFound) {
			return store.Task{}, validation("parent task does not exist")
		}
		if err != nil {
			return store.Task{}, err
		}
		if err := checkParentScope(task, parent); err != nil {
			return store.Task{}, err
		}
		lineage, err := s.ancestry(ctx, task, parent)
		if err != nil {
			return store.Task{}, err
		}
		if err := workflow.BuildTree(lineage).CheckParent(task.ID, parent.ID); err != nil {
			return store.Task{}, validation(err.Error())
		}
	}

	before := task
	task.ParentID = parentID
	updated, err := s.store.UpdateTask(ctx, task, before.Status)
	if err != nil {
		return store.Task{}, err
	}
	ctx = afterCommit(ctx)
	s.cache.Invalidate(ctx, s.keys.ForTask(taskChange(before, updated)))
	s.announceTask(ctx, notify.EventTaskUpdated, updated)
	return updated, nil
}

func checkParentScope(task, parent store.Task) error {
	if parent.ProjectID != task.ProjectID {
		return validation("parent task must belong to the same project")
	}
	if task.ProjectID == "" && parent.CreatedBy != task.CreatedBy {
		return validation("parent task must be one of your personal tasks")
	}
	return nil
}

// ancestry walks up from parent and returns task, parent and the ancestors
// of parent as tree nodes. The walk stops at a root, at a missing ancestor or
// on reaching task, so it costs one read per level.
func (s *Service) ancestry(ctx context.Context, task, parent store.Task) ([]workflow.TreeNode, error) {
	nodes := []workflow.TreeNode{{ID: task.ID, ParentID: task.ParentID}}
	seen := map[string]bool{task.ID: true}
	current := parent
	for !seen[current.ID] {
		seen[current.ID] = true
		nodes = append(nodes, workflow.TreeNode{ID: current.ID, ParentID: current.ParentID})
		if current.ParentID == "" || seen[current.ParentID] {
			break
		}
		next, err := s.store.GetTask(ctx, current.ParentID)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		current = next
	}
	return nodes, nil
}

func (s *Service) Subtasks(ctx context.Context, session Session, taskID string) ([]store.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeTask(ctx, session, task, rbac.CapViewProject); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, s.keys.TaskSubtasks(taskID), s.cfg.ListTTL, func(ctx context.Context) ([]store.Task, error) {
		return s.store.ListSubtasks(ctx, taskID)
	})
}

// DeleteTask removes the task; its subtasks are detached, not deleted.
func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.authorizeTask(ctx, session, task, rbac.CapDeleteTasks); err != nil {
		return err
	}
	children, err := s.store.ListSubtasks(ctx, task.ID)
	if err != nil {
		return err
	}
	objectKeys := s.attachmentKeys(ctx, []store.Task{task})
	audience := s.taskAudience(ctx, task)

	if err := s.store.DeleteTask(ctx, task.ID); err != nil {
		return err
	}

	ctx = afterCommit(ctx)
	change := taskChange(task, task)
	change.Deleted = true
	keys := s.keys.ForTask(change)
	for _, child := range children {
		keys.Add(s.keys.Task(child.ID))
		for _, userID := range []string{child.CreatedBy, child.AssignedTo} {
			if userID != "" {
				keys.Add(s.keys.UserTasks(userID), s.keys.UserWorkload(userID))
			}
		}
	}
	s.cache.Invalidate(ctx, keys)
	s.unindexTask(task.ID)
	s.removeObjects(ctx, objectKeys)
	s.notifier.Broadcast(ctx, audience, notify.EventTaskDeleted, map[string]any{"id": task.ID, "projectId": task.ProjectID})
	s.logger.InfoContext(ctx, "task deleted", "task_id", task.ID, "user_id", session.UserID)
	return nil
}

// SearchTasks searches the tasks the caller can see: those of their projects
// plus their own.
func (s *Service) SearchTasks(ctx context.Context, session Session, input SearchInput) (search.Response, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return search.Response{}, validation("q is required")
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	projects, err := s.ListProjects(ctx, session)
	if err != nil {
		return search.Response{}, err
	}
	projectIDs := make([]string, 0, len(projects))
	for _, project := range projects {
		projectIDs = append(projectIDs, project.ID)
	}
	return s.search.Search(ctx, search.Query{
		Text:       text,
		UserID:     session.UserID,
		ProjectIDs: projectIDs,
		Status:     strings.ToUpper(strings.TrimSpace(input.Status)),
		Priority:   strings.ToUpper(strings.TrimSpace(input.Priority)),
		Limit:      input.Limit,
		Offset:     input.Offset,
	}), nil
}

// Workload summarises the open tasks assigned to the caller.
func (s *Service) Workload(ctx context.Context, session Session) (Workload, error) {
	return cache.Fetch(ctx, s.cache, s.keys.UserWorkload(session.UserID), s.cfg.CountTTL, func(ctx context.Context) (Workload, error) {
		tasks, err := s.store.ListTasksForUser(ctx, session.UserID)
		if err != nil {
			return Workload{}, err
		}
		return computeWorkload(session.UserID, tasks, s.now()), nil
	})
}

func computeWorkload(userID string, tasks []store.Task, now time.Time) Workload {
	workload := Workload{UserID: userID, ByStatus: make(map[string]int), ByPriority: make(map[string]int)}
	weekAgo := now.Add(-7 * 24 * time.Hour)
	for _, task := range tasks {
		if task.AssignedTo != userID {
			continue
		}
		if task.CompletionDate != nil && task.CompletionDate.After(weekAgo) {
			workload.CompletedWeek++
		}
		if workflow.TaskStatus(task.Status).Finished() {
			continue
		}
		workload.OpenTasks++
		workload.OpenPoints += task.StoryPoints
		workload.ByStatus[task.Status]++
		workload.ByPriority[task.Priority]++
		if overdue(task, now) {
			workload.OverdueTasks++
		}
	}
	return workload
}
