package cache

// TaskChange lists everything a task mutation touched, before and after. Old
// and new values both go in so that a reassignment or sprint move clears the
// entries on both sides.
type TaskChange struct {
	TaskID     string
	CreatorID  string
	AssigneeID []string
	ProjectID  []string
	SprintID   []string
	ParentID   []string
	Deleted    bool
}

// ForTask returns the keys made stale by a task mutation.
func (k Keys) ForTask(change TaskChange) KeySet {
	set := NewKeySet(k.Task(change.TaskID))
	users := append([]string{change.CreatorID}, change.AssigneeID...)
	for _, userID := range users {
		if userID == "" {
			continue
		}
		set.Add(k.UserTasks(userID), k.UserWorkload(userID))
	}
	for _, projectID := range change.ProjectID {
		if projectID == "" {
			continue
		}
		set.Add(k.ProjectTasks(projectID), k.ProjectMetrics(projectID))
	}
	for _, sprintID := range change.SprintID {
		if sprintID == "" {
			continue
		}
		set.Add(k.SprintTasks(sprintID), k.Sprint(sprintID))
	}
	for _, parentID := range change.ParentID {
		if parentID == "" {
			continue
		}
		set.Add(k.TaskSubtasks(parentID))
	}
	if change.Deleted {
		set.Add(k.TaskComments(change.TaskID), k.TaskAttachments(change.TaskID), k.TaskSubtasks(change.TaskID))
	}
	return set
}

// ForProject covers detail, listing and metrics of a project plus the project
// lists of every user who can see it.
func (k Keys) ForProject(projectID string, userIDs ...string) KeySet {
	set := NewKeySet(k.Project(projectID), k.ProjectMetrics(projectID), k.RecentProjects())
	for _, userID := range userIDs {
		if userID != "" {
			set.Add(k.UserProjects(userID))
		}
	}
	return set
}

// ForProjectDeleted also drops every sprint and task entry the cascade removed.
func (k Keys) ForProjectDeleted(projectID string, userIDs, sprintIDs, taskIDs []string) KeySet {
	set := k.ForProject(projectID, userIDs...)
	set.Add(k.ProjectTasks(projectID), k.ProjectMembers(projectID), k.ProjectSprints(projectID), k.ProjectActiveSprint(projectID))
	for _, userID := range userIDs {
		if userID != "" {
			set.Add(k.UserTasks(userID), k.UserWorkload(userID))
		}
	}
	for _, sprintID := range sprintIDs {
		set.Add(k.Sprint(sprintID), k.SprintTasks(sprintID))
	}
	for _, taskID := range taskIDs {
		set.Add(k.Task(taskID), k.TaskComments(taskID), k.TaskAttachments(taskID), k.TaskSubtasks(taskID))
	}
	return set
}

// SprintChange describes a sprint mutation and the tasks it moved.
type SprintChange struct {
	SprintID  string
	ProjectID string
	TaskIDs   []string
	UserIDs   []string
	// ParentIDs are the parents of moved subtasks.
	ParentIDs []string
}

func (k Keys) ForSprint(change SprintChange) KeySet {
	set := NewKeySet(
		k.Sprint(change.SprintID),
		k.SprintTasks(change.SprintID),
		k.ProjectSprints(change.ProjectID),
		k.ProjectActiveSprint(change.ProjectID),
	)
	if len(change.TaskIDs) > 0 {
		set.Add(k.ProjectTasks(change.ProjectID), k.ProjectMetrics(change.ProjectID))
	}
	for _, taskID := range change.TaskIDs {
		set.Add(k.Task(taskID))
	}
	for _, userID := range change.UserIDs {
		if userID != "" {
			set.Add(k.UserTasks(userID), k.UserWorkload(userID))
		}
	}
	for _, parentID := range change.ParentIDs {
		if parentID != "" {
			set.Add(k.TaskSubtasks(parentID))
		}
	}
	return set
}

func (k Keys) ForMembership(projectID, userID string) KeySet {
	return NewKeySet(k.ProjectMembers(projectID), k.Project(projectID), k.UserProjects(userID))
}

// ForNotifications clears every cached notification view of one user.
func (k Keys) ForNotifications(userID string) KeySet {
	set := NewKeySet(k.UserUnreadCount(userID), k.UserNotificationSummary(userID))
	set.AddPattern(k.UserNotificationPages(userID))
	return set
}

func (k Keys) ForComments(taskID string) KeySet {
	return NewKeySet(k.TaskComments(taskID), k.Task(taskID))
}

func (k Keys) ForAttachments(taskID string) KeySet {
	return NewKeySet(k.TaskAttachments(taskID), k.Task(taskID))
}
