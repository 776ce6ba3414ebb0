package store

import (
	"time"

	"taskflow/internal/rbac"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type ProjectMember struct {
	ProjectID    string                  `json:"projectId"`
	UserID       string                  `json:"userId"`
	Role         string                  `json:"role"`
	Capabilities rbac.MemberCapabilities `json:"capabilities"`
	JoinedAt     time.Time               `json:"joinedAt"`
}

type Sprint struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	Goal      string    `json:"goal"`
	Status    string    `json:"status"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Task uses empty strings for absent references.
type Task struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"projectId,omitempty"`
	SprintID       string     `json:"sprintId,omitempty"`
	ParentID       string     `json:"parentId,omitempty"`
	AssignedTo     string     `json:"assignedTo,omitempty"`
	CreatedBy      string     `json:"createdBy"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority"`
	StoryPoints    int        `json:"storyPoints"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	CompletionDate *time.Time `json:"completionDate,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Attachment struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"taskId"`
	UploaderID  string    `json:"uploaderId"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	ObjectKey   string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Notification struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Type          string     `json:"type"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	TaskID        string     `json:"taskId,omitempty"`
	ProjectID     string     `json:"projectId,omitempty"`
	SprintID      string     `json:"sprintId,omitempty"`
	RelatedUserID string     `json:"relatedUserId,omitempty"`
	Read          bool       `json:"read"`
	ReadAt        *time.Time `json:"readAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// SprintRollover is the result of closing or deleting a sprint: the sprint as
// stored afterwards and the tasks that were sent back to the backlog, with
// their values from before the move.
type SprintRollover struct {
	Sprint Sprint `json:"sprint"`
	Moved  []Task `json:"moved"`
}
