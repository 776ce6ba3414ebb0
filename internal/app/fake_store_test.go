package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"taskflow/internal/rbac"
	"taskflow/internal/store"
	"taskflow/internal/workflow"
)

// fakeStore keeps everything in maps and mirrors the PostgresStore contract
// closely enough for orchestration tests. The xxxFn hooks override single
// methods to inject failures.
type fakeStore struct {
	mu            sync.Mutex
	users         map[string]store.User
	projects      map[string]store.Project
	members       map[string]map[string]store.ProjectMember
	sprints       map[string]store.Sprint
	tasks         map[string]store.Task
	comments      map[string]store.Comment
	attachments   map[string]store.Attachment
	notifications map[string]store.Notification
	seq           int

	pingFn               func(context.Context) error
	updateTaskFn         func(context.Context, store.Task, string) (store.Task, error)
	listProjectTasksFn   func(context.Context, string) ([]store.Task, error)
	deleteTaskFn         func(context.Context, string) error
	insertNotificationFn func(context.Context, store.Notification) (store.Notification, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[string]store.User),
		projects:      make(map[string]store.Project),
		members:       make(map[string]map[string]store.ProjectMember),
		sprints:       make(map[string]store.Sprint),
		tasks:         make(map[string]store.Task),
		comments:      make(map[string]store.Comment),
		attachments:   make(map[string]store.Attachment),
		notifications: make(map[string]store.Notification),
	}
}

func (f *fakeStore) stamp() time.Time {
	f.seq++
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(f.seq) * time.Second)
}

func notFoundErr(op string) error {
	return fmt.Errorf("%s: %w", op, store.ErrNotFound)
}

// seed helpers used by tests; they bypass validation.

func (f *fakeStore) addUser(id, role string) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := store.User{ID: id, Email: id + "@example.com", DisplayName: id, Role: role, Active: true, CreatedAt: f.stamp()}
	f.users[id] = user
	return user
}

func (f *fakeStore) addProject(id, ownerID, status string) store.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	project := store.Project{ID: id, Name: "Project " + id, Status: status, OwnerID: ownerID, CreatedAt: f.stamp()}
	f.projects[id] = project
	return project
}

func (f *fakeStore) addMember(projectID, userID string, caps rbac.MemberCapabilities) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[projectID] == nil {
		f.members[projectID] = make(map[string]store.ProjectMember)
	}
	f.members[projectID][userID] = store.ProjectMember{ProjectID: projectID, UserID: userID, Role: "MEMBER", Capabilities: caps, JoinedAt: f.stamp()}
}

func (f *fakeStore) addSprint(id, projectID, status string) store.Sprint {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	sprint := store.Sprint{ID: id, ProjectID: projectID, Name: "Sprint " + id, Status: status, StartDate: start, EndDate: start.AddDate(0, 0, 14)}
	f.sprints[id] = sprint
	return sprint
}

func (f *fakeStore) addTask(task store.Task) store.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task.Priority == "" {
		task.Priority = string(workflow.PriorityMedium)
	}
	task.CreatedAt = f.stamp()
	f.tasks[task.ID] = task
	return task
}

func (f *fakeStore) task(id string) store.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id]
}

func (f *fakeStore) sprint(id string) store.Sprint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sprints[id]
}

func (f *fakeStore) notificationsFor(userID string) []store.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Notification
	for _, item := range f.notifications {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeStore) notificationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notifications)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return fmt.Errorf("create user: %w", store.ErrConflict)
		}
	}
	user.CreatedAt = f.stamp()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, notFoundErr("get user")
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, notFoundErr("get user by email")
}

func (f *fakeStore) InsertProject(_ context.Context, project store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	project.CreatedAt = f.stamp()
	project.UpdatedAt = project.CreatedAt
	f.projects[project.ID] = project
	return nil
}

func (f *fakeStore) GetProject(_ context.Context, projectID string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, notFoundErr("get project")
	}
	return project, nil
}

func (f *fakeStore) ListProjectsForUser(_ context.Context, userID string) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Project, 0)
	for _, project := range f.projects {
		_, member := f.members[project.ID][userID]
		if project.OwnerID == userID || member {
			out = append(out, project)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListRecentProjects(_ context.Context, limit int) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Project, 0, len(f.projects))
	for _, project := range f.projects {
		out = append(out, project)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) UpdateProjectDetails(_ context.Context, projectID, name, description string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, notFoundErr("update project")
	}
	project.Name, project.Description, project.UpdatedAt = name, description, f.stamp()
	f.projects[projectID] = project
	return project, nil
}

func (f *fakeStore) UpdateProjectStatus(_ context.Context, projectID, from, to string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, notFoundErr("update project status")
	}
	if project.Status != from {
		return store.Project{}, fmt.Errorf("update project status: %w", store.ErrStaleState)
	}
	project.Status, project.UpdatedAt = to, f.stamp()
	f.projects[projectID] = project
	return project, nil
}

func (f *fakeStore) DeleteProject(_ context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[projectID]; !ok {
		return notFoundErr("delete project")
	}
	delete(f.projects, projectID)
	delete(f.members, projectID)
	for id, sprint := range f.sprints {
		if sprint.ProjectID == projectID {
			delete(f.sprints, id)
		}
	}
	for id, task := range f.tasks {
		if task.ProjectID == projectID {
			f.deleteTaskLocked(id)
		}
	}
	return nil
}

func (f *fakeStore) ProjectOwner(_ context.Context, projectID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return "", notFoundErr("project owner")
	}
	return project.OwnerID, nil
}

func (f *fakeStore) MembershipCapabilities(_ context.Context, projectID, userID string) (rbac.MemberCapabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[projectID][userID]
	if !ok {
		return rbac.MemberCapabilities{}, rbac.ErrNoMembership
	}
	return member.Capabilities, nil
}

func (f *fakeStore) ProjectTeam(_ context.Context, projectID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return nil, nil
	}
	team := []string{project.OwnerID}
	ids := make([]string, 0, len(f.members[projectID]))
	for userID := range f.members[projectID] {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return append(team, ids...), nil
}

func (f *fakeStore) AddMember(_ context.Context, member store.ProjectMember) (store.ProjectMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.members[member.ProjectID][member.UserID]; exists {
		return store.ProjectMember{}, fmt.Errorf("add member: %w", store.ErrConflict)
	}
	if f.members[member.ProjectID] == nil {
		f.members[member.ProjectID] = make(map[string]store.ProjectMember)
	}
	member.JoinedAt = f.stamp()
	f.members[member.ProjectID][member.UserID] = member
	return member, nil
}

func (f *fakeStore) UpdateMember(_ context.Context, member store.ProjectMember) (store.ProjectMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.members[member.ProjectID][member.UserID]
	if !ok {
		return store.ProjectMember{}, notFoundErr("update member")
	}
	existing.Role, existing.Capabilities = member.Role, member.Capabilities
	f.members[member.ProjectID][member.UserID] = existing
	return existing, nil
}

func (f *fakeStore) RemoveMember(_ context.Context, projectID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.members[projectID][userID]; !ok {
		return notFoundErr("remove member")
	}
	delete(f.members[projectID], userID)
	return nil
}

func (f *fakeStore) GetMember(_ context.Context, projectID, userID string) (store.ProjectMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[projectID][userID]
	if !ok {
		return store.ProjectMember{}, notFoundErr("get member")
	}
	return member, nil
}

func (f *fakeStore) ListMembers(_ context.Context, projectID string) ([]store.ProjectMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.ProjectMember, 0)
	for _, member := range f.members[projectID] {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *fakeStore) InsertSprint(_ context.Context, sprint store.Sprint) (store.Sprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sprint.CreatedAt = f.stamp()
	f.sprints[sprint.ID] = sprint
	return sprint, nil
}

func (f *fakeStore) GetSprint(_ context.Context, sprintID string) (store.Sprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sprint, ok := f.sprints[sprintID]
	if !ok {
		return store.Sprint{}, notFoundErr("get sprint")
	}
	return sprint, nil
}

func (f *fakeStore) GetActiveSprint(_ context.Context, projectID string) (store.Sprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sprint := range f.sprints {
		if sprint.ProjectID == projectID && sprint.Status == string(workflow.SprintActive) {
			return sprint, nil
		}
	}
	return store.Sprint{}, notFoundErr("get active sprint")
}

func (f *fakeStore) ListSprints(_ context.Context, projectID string) ([]store.Sprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Sprint, 0)
	for _, sprint := range f.sprints {
		if sprint.ProjectID == projectID {
			out = append(out, sprint)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) CountOverlappingSprints(_ context.Context, projectID string, start, end time.Time, excludeID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, sprint := range f.sprints {
		open := sprint.Status == string(workflow.SprintPlanned) || sprint.Status == string(workflow.SprintActive)
		if sprint.ProjectID == projectID && open && sprint.ID != excludeID &&
			sprint.StartDate.Before(end) && sprint.EndDate.After(start) {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) UpdateSprintDetails(_ context.Context, sprint store.Sprint) (store.Sprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sprints[sprint.ID]; !ok {
		return store.Sprint{}, notFoundErr("update sprint")
	}
	f.sprints[sprint.ID] = sprint
	return sprint, nil
}

func (f *fakeStore) StartSprint(_ context.Context, sprintID string) (store.Sprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sprint, ok := f.sprints[sprintID]
	if !ok {
		return store.Sprint{}, notFoundErr("start sprint")
	}
	for _, other := range f.sprints {
		if other.ProjectID == sprint.ProjectID && other.ID != sprintID && other.Status == string(workflow.SprintActive) {
			return store.Sprint{}, store.ErrActiveSprintExists
		}
	}
	if sprint.Status != string(workflow.SprintPlanned) {
		return store.Sprint{}, fmt.Errorf("start sprint: %w", store.ErrStaleState)
	}
	sprint.Status = string(workflow.SprintActive)
	f.sprints[sprintID] = sprint
	return sprint, nil
}

func (f *fakeStore) CloseSprint(_ context.Context, sprintID, from, to string) (store.SprintRollover, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sprint, ok := f.sprints[sprintID]
	if !ok {
		return store.SprintRollover{}, notFoundErr("close sprint")
	}
	if sprint.Status != from {
		return store.SprintRollover{}, fmt.Errorf("close sprint: %w", store.ErrStaleState)
	}
	sprint.Status = to
	f.sprints[sprintID] = sprint
	return store.SprintRollover{Sprint: sprint, Moved: f.rollOverLocked(sprintID, false)}, nil
}

func (f *fakeStore) DeleteSprint(_ context.Context, sprintID string) (store.SprintRollover, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sprint, ok := f.sprints[sprintID]
	if !ok {
		return store.SprintRollover{}, notFoundErr("delete sprint")
	}
	moved := f.rollOverLocked(sprintID, true)
	delete(f.sprints, sprintID)
	return store.SprintRollover{Sprint: sprint, Moved: moved}, nil
}

func (f *fakeStore) rollOverLocked(sprintID string, detachAll bool) []store.Task {
	var moved []store.Task
	ids := make([]string, 0)
	for id := range f.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		task := f.tasks[id]
		if task.SprintID != sprintID {
			continue
		}
		next, unfinished := workflow.RolloverStatus(workflow.TaskStatus(task.Status))
		if !unfinished && !detachAll {
			continue
		}
		moved = append(moved, task)
		task.SprintID = ""
		if unfinished {
			task.Status = string(next)
			task.CompletionDate = nil
		}
		f.tasks[id] = task
	}
	return moved
}

func (f *fakeStore) InsertTask(_ context.Context, task store.Task) (store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task.CreatedAt = f.stamp()
	task.UpdatedAt = task.CreatedAt
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeStore) GetTask(_ context.Context, taskID string) (store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return store.Task{}, notFoundErr("get task")
	}
	return task, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, task store.Task, expectedStatus string) (store.Task, error) {
	if f.updateTaskFn != nil {
		return f.updateTaskFn(ctx, task, expectedStatus)
	}
	return f.commitTask(task, expectedStatus)
}

// commitTask is the default UpdateTask body, reusable from hooks.
func (f *fakeStore) commitTask(task store.Task, expectedStatus string) (store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.tasks[task.ID]
	if !ok {
		return store.Task{}, notFoundErr("update task")
	}
	if current.Status != expectedStatus {
		return store.Task{}, fmt.Errorf("update task: %w", store.ErrStaleState)
	}
	task.CreatedAt = current.CreatedAt
	task.UpdatedAt = f.stamp()
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, taskID string) error {
	if f.deleteTaskFn != nil {
		return f.deleteTaskFn(ctx, taskID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[taskID]; !ok {
		return notFoundErr("delete task")
	}
	f.deleteTaskLocked(taskID)
	return nil
}

func (f *fakeStore) deleteTaskLocked(taskID string) {
	delete(f.tasks, taskID)
	for id, task := range f.tasks {
		if task.ParentID == taskID {
			task.ParentID = ""
			f.tasks[id] = task
		}
	}
	for id, comment := range f.comments {
		if comment.TaskID == taskID {
			delete(f.comments, id)
		}
	}
	for id, item := range f.attachments {
		if item.TaskID == taskID {
			delete(f.attachments, id)
		}
	}
}

func (f *fakeStore) filterTasks(keep func(store.Task) bool) []store.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Task, 0)
	for _, task := range f.tasks {
		if keep(task) {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeStore) ListTasksForUser(_ context.Context, userID string) ([]store.Task, error) {
	return f.filterTasks(func(t store.Task) bool { return t.AssignedTo == userID || t.CreatedBy == userID }), nil
}

func (f *fakeStore) ListTasksForProject(ctx context.Context, projectID string) ([]store.Task, error) {
	if f.listProjectTasksFn != nil {
		return f.listProjectTasksFn(ctx, projectID)
	}
	return f.filterTasks(func(t store.Task) bool { return t.ProjectID == projectID }), nil
}

func (f *fakeStore) ListTasksForSprint(_ context.Context, sprintID string) ([]store.Task, error) {
	return f.filterTasks(func(t store.Task) bool { return t.SprintID == sprintID }), nil
}

func (f *fakeStore) ListSubtasks(_ context.Context, parentID string) ([]store.Task, error) {
	return f.filterTasks(func(t store.Task) bool { return t.ParentID == parentID }), nil
}

func (f *fakeStore) InsertComment(_ context.Context, comment store.Comment) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment.CreatedAt = f.stamp()
	comment.UpdatedAt = comment.CreatedAt
	f.comments[comment.ID] = comment
	return comment, nil
}

func (f *fakeStore) GetComment(_ context.Context, commentID string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment, ok := f.comments[commentID]
	if !ok {
		return store.Comment{}, notFoundErr("get comment")
	}
	return comment, nil
}

func (f *fakeStore) UpdateComment(_ context.Context, commentID, body string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment, ok := f.comments[commentID]
	if !ok {
		return store.Comment{}, notFoundErr("update comment")
	}
	comment.Body, comment.UpdatedAt = body, f.stamp()
	f.comments[commentID] = comment
	return comment, nil
}

func (f *fakeStore) DeleteComment(_ context.Context, commentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.comments[commentID]; !ok {
		return notFoundErr("delete comment")
	}
	delete(f.comments, commentID)
	return nil
}

func (f *fakeStore) ListComments(_ context.Context, taskID string) ([]store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Comment, 0)
	for _, comment := range f.comments {
		if comment.TaskID == taskID {
			out = append(out, comment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) InsertAttachment(_ context.Context, item store.Attachment) (store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.CreatedAt = f.stamp()
	f.attachments[item.ID] = item
	return item, nil
}

func (f *fakeStore) GetAttachment(_ context.Context, attachmentID string) (store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.attachments[attachmentID]
	if !ok {
		return store.Attachment{}, notFoundErr("get attachment")
	}
	return item, nil
}

func (f *fakeStore) DeleteAttachment(_ context.Context, attachmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.attachments[attachmentID]; !ok {
		return notFoundErr("delete attachment")
	}
	delete(f.attachments, attachmentID)
	return nil
}

func (f *fakeStore) ListAttachments(_ context.Context, taskID string) ([]store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Attachment, 0)
	for _, item := range f.attachments {
		if item.TaskID == taskID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) InsertNotification(ctx context.Context, item store.Notification) (store.Notification, error) {
	if f.insertNotificationFn != nil {
		return f.insertNotificationFn(ctx, item)
	}
	if err := ctx.Err(); err != nil {
		return store.Notification{}, fmt.Errorf("insert notification: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	item.CreatedAt = f.stamp()
	f.notifications[item.ID] = item
	return item, nil
}

func (f *fakeStore) ListNotifications(_ context.Context, userID string, limit, offset int, unreadOnly bool) ([]store.Notification, int, error) {
	all := f.notificationsFor(userID)
	filtered := make([]store.Notification, 0, len(all))
	for _, item := range all {
		if !unreadOnly || !item.Read {
			filtered = append(filtered, item)
		}
	}
	total := len(filtered)
	if offset >= total {
		return []store.Notification{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func (f *fakeStore) CountUnreadNotifications(_ context.Context, userID string) (int, error) {
	count := 0
	for _, item := range f.notificationsFor(userID) {
		if !item.Read {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) CountUnreadByType(_ context.Context, userID string) (map[string]int, error) {
	counts := make(map[string]int)
	for _, item := range f.notificationsFor(userID) {
		if !item.Read {
			counts[item.Type]++
		}
	}
	return counts, nil
}

func (f *fakeStore) SetNotificationRead(_ context.Context, userID, notificationID string, read bool) (store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.notifications[notificationID]
	if !ok || item.UserID != userID {
		return store.Notification{}, notFoundErr("set notification read")
	}
	item.Read = read
	if read {
		if item.ReadAt == nil {
			now := time.Now()
			item.ReadAt = &now
		}
	} else {
		item.ReadAt = nil
	}
	f.notifications[notificationID] = item
	return item, nil
}

func (f *fakeStore) MarkAllNotificationsRead(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	now := time.Now()
	for id, item := range f.notifications {
		if item.UserID == userID && !item.Read {
			item.Read = true
			item.ReadAt = &now
			f.notifications[id] = item
			count++
		}
	}
	return count, nil
}
