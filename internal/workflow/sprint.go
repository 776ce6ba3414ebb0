package workflow

import (
	"fmt"
	"sort"
	"strings"
)

type SprintStatus string

const (
	SprintPlanned   SprintStatus = "PLANNED"
	SprintActive    SprintStatus = "ACTIVE"
	SprintCompleted SprintStatus = "COMPLETED"
	SprintCancelled SprintStatus = "CANCELLED"
)

var sprintTransitions = map[SprintStatus]map[SprintStatus]bool{
	SprintPlanned:   {SprintActive: true, SprintCancelled: true},
	SprintActive:    {SprintCompleted: true, SprintCancelled: true},
	SprintCompleted: {},
	SprintCancelled: {},
}

func (s SprintStatus) Valid() bool {
	_, ok := sprintTransitions[s]
	return ok
}

func (s SprintStatus) CanTransition(to SprintStatus) bool {
	return sprintTransitions[s][to]
}

func (s SprintStatus) Next() []SprintStatus {
	next := make([]SprintStatus, 0, len(sprintTransitions[s]))
	for to := range sprintTransitions[s] {
		next = append(next, to)
	}
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	return next
}

// AllowsTaskChanges reports whether tasks may still be added to or removed
// from a sprint in this status.
func (s SprintStatus) AllowsTaskChanges() bool {
	return s == SprintPlanned || s == SprintActive
}

// ClosesSprint reports whether entering s rolls unfinished tasks back to the
// backlog.
func (s SprintStatus) ClosesSprint() bool {
	return s == SprintCompleted || s == SprintCancelled
}

func TransitionSprint(from, to SprintStatus) error {
	if !from.CanTransition(to) {
		return &TransitionError{Entity: "sprint", From: string(from), To: string(to)}
	}
	return nil
}

// RolloverStatus is the status an unfinished task takes when it leaves a
// sprint. ok is false for tasks that stay as they are.
func RolloverStatus(current TaskStatus) (next TaskStatus, ok bool) {
	if current.Finished() {
		return current, false
	}
	return TaskBacklog, true
}

func ParseSprintStatus(value string) (SprintStatus, error) {
	status := SprintStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown sprint status %q", value)
	}
	return status, nil
}
