// Package notify records notifications and pushes them to connected clients.
//
// Delivery has two phases. The durable phase inserts the notification row and
// must succeed; it is retried a few times before the error is returned. The
// push phase is queued after the row exists and may fail silently: a client
// that reconnects reads the row back through the Inbox.
package notify

import (
	"context"
	"strings"

	"taskflow/internal/store"
)

const (
	TypeTaskAssigned      = "TASK_ASSIGNED"
	TypeTaskUpdated       = "TASK_UPDATED"
	TypeTaskStatusChanged = "TASK_STATUS_CHANGED"
	TypeTaskCompleted     = "TASK_COMPLETED"
	TypeTaskOverdue       = "TASK_OVERDUE"
	TypeTaskDueSoon       = "TASK_DUE_SOON"
	TypeTaskComment       = "TASK_COMMENT"
	TypeCommentAdded      = "COMMENT_ADDED"
	TypeProjectUpdated    = "PROJECT_UPDATED"
	TypeSprintStarted     = "SPRINT_STARTED"
	TypeSprintCompleted   = "SPRINT_COMPLETED"
	TypeMention           = "MENTION"
)

var knownTypes = map[string]struct{}{
	TypeTaskAssigned: {}, TypeTaskUpdated: {}, TypeTaskStatusChanged: {}, TypeTaskCompleted: {},
	TypeTaskOverdue: {}, TypeTaskDueSoon: {}, TypeTaskComment: {}, TypeCommentAdded: {},
	TypeProjectUpdated: {}, TypeSprintStarted: {}, TypeSprintCompleted: {}, TypeMention: {},
}

func ValidType(kind string) bool {
	_, ok := knownTypes[kind]
	return ok
}

// Event names pushed over the real-time channel.
const (
	EventNewNotification = "new_notification"
	EventTaskCreated     = "task_created"
	EventTaskUpdated     = "task_updated"
	EventTaskDeleted     = "task_deleted"
	EventProjectUpdated  = "project_updated"
	EventProjectDeleted  = "project_deleted"
	EventSprintStarted   = "sprint_started"
	EventSprintCompleted = "sprint_completed"
	EventSprintCancelled = "sprint_cancelled"
	EventCommentAdded    = "comment_added"
)

// Message is the content of a notification before it has a recipient.
type Message struct {
	Type          string
	Title         string
	Message       string
	TaskID        string
	ProjectID     string
	SprintID      string
	RelatedUserID string
}

func (m Message) record(id, recipient string) store.Notification {
	return store.Notification{
		ID:            id,
		UserID:        recipient,
		Type:          m.Type,
		Title:         m.Title,
		Message:       m.Message,
		TaskID:        m.TaskID,
		ProjectID:     m.ProjectID,
		SprintID:      m.SprintID,
		RelatedUserID: m.RelatedUserID,
	}
}

// Pusher delivers one event to every live connection of a user. A user
// without connections is not an error.
type Pusher interface {
	Push(ctx context.Context, userID, event string, payload any) error
}

// Recipients returns ids in first-seen order without duplicates, blanks or
// the actor.
func Recipients(actorID string, ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == actorID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Discard drops every push.
type Discard struct{}

func (Discard) Push(context.Context, string, string, any) error { return nil }
