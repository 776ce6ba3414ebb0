// Package workflow holds the fixed status machines for tasks, sprints and
// projects. Every status change in the system is validated here before it is
// written.
package workflow

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskBacklog    TaskStatus = "BACKLOG"
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskInReview   TaskStatus = "IN_REVIEW"
	TaskTesting    TaskStatus = "TESTING"
	TaskBlocked    TaskStatus = "BLOCKED"
	TaskDone       TaskStatus = "DONE"
	TaskDeployed   TaskStatus = "DEPLOYED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// CANCELLED is reachable from every status that is not yet completed. A DONE
// task only moves on to DEPLOYED.
var taskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskBacklog:    {TaskTodo: true, TaskCancelled: true},
	TaskTodo:       {TaskInProgress: true, TaskCancelled: true},
	TaskInProgress: {TaskInReview: true, TaskBlocked: true, TaskCancelled: true},
	TaskInReview:   {TaskTesting: true, TaskInProgress: true, TaskCancelled: true},
	TaskTesting:    {TaskDone: true, TaskInProgress: true, TaskCancelled: true},
	TaskBlocked:    {TaskInProgress: true, TaskCancelled: true},
	TaskDone:       {TaskDeployed: true},
	TaskDeployed:   {},
	TaskCancelled:  {},
}

func (s TaskStatus) Valid() bool {
	_, ok := taskTransitions[s]
	return ok
}

func (s TaskStatus) Terminal() bool {
	return s == TaskDeployed || s == TaskCancelled
}

// Finished reports whether a task in this status stays put when its sprint
// closes.
func (s TaskStatus) Finished() bool {
	return s == TaskDone || s == TaskDeployed || s == TaskCancelled
}

func (s TaskStatus) CanTransition(to TaskStatus) bool {
	return taskTransitions[s][to]
}

// Next returns the legal targets from s in a stable order.
func (s TaskStatus) Next() []TaskStatus {
	next := make([]TaskStatus, 0, len(taskTransitions[s]))
	for to := range taskTransitions[s] {
		next = append(next, to)
	}
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	return next
}

// TransitionTask validates from -> to and returns the completion date the task
// must carry afterwards.
func TransitionTask(from, to TaskStatus, completedAt *time.Time, now time.Time) (*time.Time, error) {
	if !from.CanTransition(to) {
		return completedAt, &TransitionError{Entity: "task", From: string(from), To: string(to)}
	}
	return CompletionDate(to, completedAt, now), nil
}

// CompletionDate keeps completion_date set exactly while the task is DONE.
func CompletionDate(status TaskStatus, current *time.Time, now time.Time) *time.Time {
	if status != TaskDone {
		return nil
	}
	if current != nil {
		return current
	}
	stamp := now.UTC()
	return &stamp
}

func ParseTaskStatus(value string) (TaskStatus, error) {
	status := TaskStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown task status %q", value)
	}
	return status, nil
}

type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// Weight orders priorities from most to least urgent.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// ParsePriority defaults an empty value to MEDIUM.
func ParsePriority(value string) (Priority, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" {
		return PriorityMedium, nil
	}
	priority := Priority(trimmed)
	if priority.Weight() == 0 {
		return "", fmt.Errorf("unknown priority %q", value)
	}
	return priority, nil
}
