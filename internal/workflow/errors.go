package workflow

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError describes a rejected status change for one entity kind.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// AllowedTargets lists the statuses the entity could have moved to instead.
func (e *TransitionError) AllowedTargets() []string {
	switch e.Entity {
	case "task":
		return statusStrings(TaskStatus(e.From).Next())
	case "sprint":
		return statusStrings(SprintStatus(e.From).Next())
	case "project":
		return statusStrings(ProjectStatus(e.From).Next())
	default:
		return nil
	}
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}
