package cache

import "fmt"

// Keys builds every cache key in use. All keys share one prefix so several
// deployments can use the same Redis database.
type Keys struct {
	prefix string
}

func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = "taskflow"
	}
	return Keys{prefix: prefix}
}

func (k Keys) key(format string, args ...any) string {
	return k.prefix + ":" + fmt.Sprintf(format, args...)
}

func (k Keys) UserTasks(userID string) string    { return k.key("user:%s:tasks", userID) }
func (k Keys) UserProjects(userID string) string { return k.key("user:%s:projects", userID) }
func (k Keys) UserWorkload(userID string) string { return k.key("user:%s:workload", userID) }

func (k Keys) UserUnreadCount(userID string) string {
	return k.key("user:%s:notifications:unread", userID)
}

func (k Keys) UserNotificationSummary(userID string) string {
	return k.key("user:%s:notifications:summary", userID)
}

// UserNotificationPage is one page of the notification list.
func (k Keys) UserNotificationPage(userID string, page, perPage int, unreadOnly bool) string {
	return k.key("user:%s:notifications:list:%d:%d:%t", userID, page, perPage, unreadOnly)
}

func (k Keys) UserNotificationPages(userID string) string {
	return k.key("user:%s:notifications:list:*", userID)
}

func (k Keys) Project(projectID string) string      { return k.key("project:%s", projectID) }
func (k Keys) ProjectTasks(projectID string) string { return k.key("project:%s:tasks", projectID) }
func (k Keys) ProjectMembers(projectID string) string {
	return k.key("project:%s:members", projectID)
}
func (k Keys) ProjectSprints(projectID string) string {
	return k.key("project:%s:sprints", projectID)
}
func (k Keys) ProjectActiveSprint(projectID string) string {
	return k.key("project:%s:active_sprint", projectID)
}
func (k Keys) ProjectMetrics(projectID string) string {
	return k.key("project:%s:metrics", projectID)
}

func (k Keys) Sprint(sprintID string) string      { return k.key("sprint:%s", sprintID) }
func (k Keys) SprintTasks(sprintID string) string { return k.key("sprint:%s:tasks", sprintID) }

func (k Keys) Task(taskID string) string            { return k.key("task:%s", taskID) }
func (k Keys) TaskComments(taskID string) string    { return k.key("task:%s:comments", taskID) }
func (k Keys) TaskAttachments(taskID string) string { return k.key("task:%s:attachments", taskID) }
func (k Keys) TaskSubtasks(taskID string) string    { return k.key("task:%s:subtasks", taskID) }

func (k Keys) RecentProjects() string { return k.key("projects:recent") }
