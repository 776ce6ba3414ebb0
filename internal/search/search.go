// Package search finds tasks by text. Meilisearch serves queries while it is
// healthy; PostgreSQL full-text search takes over otherwise.
package search

import (
	"context"
	"time"

	"taskflow/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	ProjectID  string `json:"projectId,omitempty"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	AssignedTo string `json:"assignedTo,omitempty"`
}

// Query describes a search request. Hits are limited to tasks of
// ProjectIDs plus tasks created by or assigned to UserID.
type Query struct {
	Text       string
	UserID     string
	ProjectIDs []string
	Status     string
	Priority   string
	Limit      int
	Offset     int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	if q.Limit > 100 {
		return 100
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	AssignedTo  string `json:"assignedTo"`
	CreatedBy   string `json:"createdBy"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func RecordFromTask(task store.Task) TaskRecord {
	return TaskRecord{
		ID:          task.ID,
		ProjectID:   task.ProjectID,
		Title:       task.Title,
		Description: task.Description,
		Status:      task.Status,
		Priority:    task.Priority,
		AssignedTo:  task.AssignedTo,
		CreatedBy:   task.CreatedBy,
		UpdatedAt:   task.UpdatedAt.UTC().Truncate(time.Second).Unix(),
	}
}
