package rbac

import "strings"

type Role string
type Capability string

const (
	RoleAdmin           Role = "ADMIN"
	RoleProjectManager  Role = "PROJECT_MANAGER"
	RoleTeamLead        Role = "TEAM_LEAD"
	RoleProductOwner    Role = "PRODUCT_OWNER"
	RoleSeniorDeveloper Role = "SENIOR_DEVELOPER"
	RoleDevOps          Role = "DEVOPS_ENGINEER"
	RoleBusinessAnalyst Role = "BUSINESS_ANALYST"
	RoleScrumMaster     Role = "SCRUM_MASTER"
	RoleDeveloper       Role = "DEVELOPER"
	RoleQA              Role = "QA_ENGINEER"
	RoleDesigner        Role = "UI_UX_DESIGNER"
)

const (
	CapViewProject   Capability = "view_project"
	CapEditProject   Capability = "edit_project"
	CapDeleteProject Capability = "delete_project"
	CapCreateTasks   Capability = "create_tasks"
	CapEditTasks     Capability = "edit_tasks"
	CapDeleteTasks   Capability = "delete_tasks"
	CapManageSprints Capability = "manage_sprints"
	CapManageMembers Capability = "manage_members"
)

// AdminThreshold is the lowest hierarchy level that may exercise
// admin-equivalent capabilities on any project.
const AdminThreshold = 9

var hierarchy = map[Role]int{
	RoleAdmin:           10,
	RoleProjectManager:  9,
	RoleTeamLead:        8,
	RoleProductOwner:    8,
	RoleSeniorDeveloper: 7,
	RoleDevOps:          7,
	RoleBusinessAnalyst: 7,
	RoleScrumMaster:     7,
	RoleDeveloper:       6,
	RoleQA:              6,
	RoleDesigner:        6,
}

func (r Role) Level() int {
	return hierarchy[r]
}

func (r Role) Valid() bool {
	_, ok := hierarchy[r]
	return ok
}

// Normalize maps unknown or empty role names to DEVELOPER.
func Normalize(role string) Role {
	candidate := Role(strings.ToUpper(strings.TrimSpace(role)))
	if candidate.Valid() {
		return candidate
	}
	return RoleDeveloper
}

// AdminEquivalent reports whether a sufficiently senior role may exercise c on
// projects it neither owns nor belongs to.
func AdminEquivalent(c Capability) bool {
	return c == CapViewProject || c == CapEditProject || c == CapDeleteProject
}

// MemberCapabilities is the capability set stored on a project membership.
type MemberCapabilities struct {
	CreateTasks   bool `json:"canCreateTasks"`
	EditTasks     bool `json:"canEditTasks"`
	DeleteTasks   bool `json:"canDeleteTasks"`
	ManageSprints bool `json:"canManageSprints"`
	ManageMembers bool `json:"canManageMembers"`
}

// DefaultMemberCapabilities is what a newly added member gets unless the
// caller says otherwise.
func DefaultMemberCapabilities() MemberCapabilities {
	return MemberCapabilities{CreateTasks: true, EditTasks: true}
}

func (m MemberCapabilities) Has(c Capability) bool {
	switch c {
	case CapViewProject:
		return true
	case CapCreateTasks:
		return m.CreateTasks
	case CapEditTasks:
		return m.EditTasks
	case CapDeleteTasks:
		return m.DeleteTasks
	case CapManageSprints:
		return m.ManageSprints
	case CapManageMembers:
		return m.ManageMembers
	default:
		return false
	}
}

// Subject is the acting user as the resolver sees it.
type Subject struct {
	UserID string
	Role   Role
	Active bool
}

// ProjectFacts is the current ownership and membership state relevant to one
// subject on one project.
type ProjectFacts struct {
	OwnerID    string
	Membership *MemberCapabilities
}

// Authorize applies the ordered rules: senior role on admin-equivalent
// capabilities, then ownership, then membership capabilities. Anything else is
// denied.
func Authorize(subject Subject, facts ProjectFacts, c Capability) bool {
	if subject.UserID == "" || !subject.Active {
		return false
	}
	if AdminEquivalent(c) && subject.Role.Level() >= AdminThreshold {
		return true
	}
	if facts.OwnerID != "" && facts.OwnerID == subject.UserID {
		return true
	}
	if facts.Membership != nil && facts.Membership.Has(c) {
		return true
	}
	return false
}

// TaskFacts describes a task that has no project. Such tasks are guarded by
// ownership only.
type TaskFacts struct {
	CreatedBy  string
	AssignedTo string
}

// AuthorizePersonalTask grants the creator everything and the assignee view,
// edit and transition rights.
func AuthorizePersonalTask(subject Subject, facts TaskFacts, c Capability) bool {
	if subject.UserID == "" || !subject.Active {
		return false
	}
	if facts.CreatedBy == subject.UserID {
		return true
	}
	if facts.AssignedTo != "" && facts.AssignedTo == subject.UserID {
		return c == CapViewProject || c == CapEditTasks
	}
	return false
}
