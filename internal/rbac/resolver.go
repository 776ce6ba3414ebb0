package rbac

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNoMembership is returned by a FactSource when the user is not a member.
var ErrNoMembership = errors.New("no project membership")

// FactSource reads the current owner and membership rows. It is always
// queried live so that removed memberships lose their rights immediately.
type FactSource interface {
	ProjectOwner(ctx context.Context, projectID string) (string, error)
	MembershipCapabilities(ctx context.Context, projectID, userID string) (MemberCapabilities, error)
}

type Resolver struct {
	facts  FactSource
	logger *slog.Logger
}

func NewResolver(facts FactSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{facts: facts, logger: logger}
}

// Can evaluates Authorize against freshly loaded facts. A lookup failure of
// any kind denies.
func (r *Resolver) Can(ctx context.Context, subject Subject, projectID string, c Capability) bool {
	if projectID == "" {
		return false
	}
	if AdminEquivalent(c) && subject.Active && subject.Role.Level() >= AdminThreshold {
		return true
	}

	ownerID, err := r.facts.ProjectOwner(ctx, projectID)
	if err != nil {
		r.logger.WarnContext(ctx, "permission lookup failed", "project_id", projectID, "user_id", subject.UserID, "err", err)
		return false
	}
	facts := ProjectFacts{OwnerID: ownerID}
	if ownerID != subject.UserID {
		membership, err := r.facts.MembershipCapabilities(ctx, projectID, subject.UserID)
		switch {
		case err == nil:
			facts.Membership = &membership
		case errors.Is(err, ErrNoMembership):
		default:
			r.logger.WarnContext(ctx, "membership lookup failed", "project_id", projectID, "user_id", subject.UserID, "err", err)
			return false
		}
	}
	return Authorize(subject, facts, c)
}
