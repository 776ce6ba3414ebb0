package workflow

import (
	"fmt"
	"sort"
	"strings"
)

type ProjectStatus string

const (
	ProjectPlanning  ProjectStatus = "PLANNING"
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectOnHold    ProjectStatus = "ON_HOLD"
	ProjectCompleted ProjectStatus = "COMPLETED"
	ProjectCancelled ProjectStatus = "CANCELLED"
)

var projectTransitions = map[ProjectStatus]map[ProjectStatus]bool{
	ProjectPlanning:  {ProjectActive: true, ProjectCancelled: true},
	ProjectActive:    {ProjectOnHold: true, ProjectCompleted: true, ProjectCancelled: true},
	ProjectOnHold:    {ProjectActive: true},
	ProjectCompleted: {},
	ProjectCancelled: {},
}

func (s ProjectStatus) Valid() bool {
	_, ok := projectTransitions[s]
	return ok
}

func (s ProjectStatus) Terminal() bool {
	return s == ProjectCompleted || s == ProjectCancelled
}

func (s ProjectStatus) CanTransition(to ProjectStatus) bool {
	return projectTransitions[s][to]
}

func (s ProjectStatus) Next() []ProjectStatus {
	next := make([]ProjectStatus, 0, len(projectTransitions[s]))
	for to := range projectTransitions[s] {
		next = append(next, to)
	}
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	return next
}

// AllowsNewTasks is false for on-hold and closed projects.
func (s ProjectStatus) AllowsNewTasks() bool {
	return s == ProjectPlanning || s == ProjectActive
}

func TransitionProject(from, to ProjectStatus) error {
	if !from.CanTransition(to) {
		return &TransitionError{Entity: "project", From: string(from), To: string(to)}
	}
	return nil
}

func ParseProjectStatus(value string) (ProjectStatus, error) {
	status := ProjectStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown project status %q", value)
	}
	return status, nil
}
