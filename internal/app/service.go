package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/attachments"
	"taskflow/internal/auth"
	"taskflow/internal/authpw"
	"taskflow/internal/cache"
	"taskflow/internal/config"
	"taskflow/internal/notify"
	"taskflow/internal/rbac"
	"taskflow/internal/search"
	"taskflow/internal/store"
	"taskflow/internal/workflow"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	Active    bool
	JTI       string
	ExpiresAt time.Time
}

func (s Session) subject() rbac.Subject {
	return rbac.Subject{UserID: s.UserID, Role: rbac.Normalize(s.Role), Active: s.Active}
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)

	InsertProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	ListProjectsForUser(context.Context, string) ([]store.Project, error)
	ListRecentProjects(context.Context, int) ([]store.Project, error)
	UpdateProjectDetails(context.Context, string, string, string) (store.Project, error)
	UpdateProjectStatus(context.Context, string, string, string) (store.Project, error)
	DeleteProject(context.Context, string) error
	ProjectOwner(context.Context, string) (string, error)
	MembershipCapabilities(context.Context, string, string) (rbac.MemberCapabilities, error)
	ProjectTeam(context.Context, string) ([]string, error)
	AddMember(context.Context, store.ProjectMember) (store.ProjectMember, error)
	UpdateMember(context.Context, store.ProjectMember) (store.ProjectMember, error)
	RemoveMember(context.Context, string, string) error
	GetMember(context.Context, string, string) (store.ProjectMember, error)
	ListMembers(context.Context, string) ([]store.ProjectMember, error)

	InsertSprint(context.Context, store.Sprint) (store.Sprint, error)
	GetSprint(context.Context, string) (store.Sprint, error)
	GetActiveSprint(context.Context, string) (store.Sprint, error)
	ListSprints(context.Context, string) ([]store.Sprint, error)
	CountOverlappingSprints(context.Context, string, time.Time, time.Time, string) (int, error)
	UpdateSprintDetails(context.Context, store.Sprint) (store.Sprint, error)
	StartSprint(context.Context, string) (store.Sprint, error)
	CloseSprint(context.Context, string, string, string) (store.SprintRollover, error)
	DeleteSprint(context.Context, string) (store.SprintRollover, error)

	InsertTask(context.Context, store.Task) (store.Task, error)
	GetTask(context.Context, string) (store.Task, error)
	UpdateTask(context.Context, store.Task, string) (store.Task, error)
	DeleteTask(context.Context, string) error
	ListTasksForUser(context.Context, string) ([]store.Task, error)
	ListTasksForProject(context.Context, string) ([]store.Task, error)
	ListTasksForSprint(context.Context, string) ([]store.Task, error)
	ListSubtasks(context.Context, string) ([]store.Task, error)

	InsertComment(context.Context, store.Comment) (store.Comment, error)
	GetComment(context.Context, string) (store.Comment, error)
	UpdateComment(context.Context, string, string) (store.Comment, error)
	DeleteComment(context.Context, string) error
	ListComments(context.Context, string) ([]store.Comment, error)
	InsertAttachment(context.Context, store.Attachment) (store.Attachment, error)
	GetAttachment(context.Context, string) (store.Attachment, error)
	DeleteAttachment(context.Context, string) error
	ListAttachments(context.Context, string) ([]store.Attachment, error)

	notify.Writer
	notify.Reader

	Ping(ctx context.Context) error
}

type taskSearch interface {
	Search(context.Context, search.Query) search.Response
	IndexTask(store.Task)
	DeleteTask(string)
}

type tokenRevoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Options carries the optional collaborators. Nil fields fall back to
// pass-through implementations.
type Options struct {
	Cache   cache.Cache
	Pusher  notify.Pusher
	Search  *search.Service
	Objects attachments.ObjectStore
	// Revocations is nil when Redis is not configured; logout is then a no-op.
	Revocations tokenRevoker
	Logger      *slog.Logger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	cache    cache.Cache
	keys     cache.Keys
	access   *rbac.Resolver
	notifier *notify.Dispatcher
	inbox    *notify.Inbox
	search   taskSearch
	objects  attachments.ObjectStore
	revoked  tokenRevoker
	passwd   *authpw.Service
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func New(cfg config.Config, data *store.PostgresStore, opts Options) *Service {
	return newService(cfg, data, opts)
}

func newService(cfg config.Config, data dataStore, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := opts.Cache
	if c == nil {
		c = cache.Noop{}
	}
	objects := opts.Objects
	if objects == nil {
		objects = attachments.Disabled{}
	}
	keys := cache.NewKeys(cfg.CachePrefix)

	s := &Service{
		cfg:     cfg,
		store:   data,
		cache:   c,
		keys:    keys,
		access:  rbac.NewResolver(data, logger),
		objects: objects,
		revoked: opts.Revocations,
		passwd:  authpw.NewService(data),
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	s.notifier = notify.NewDispatcher(data, c, keys, opts.Pusher, logger, notify.Options{
		Workers:   cfg.PushWorkers,
		QueueSize: cfg.PushQueueSize,
	})
	s.inbox = notify.NewInbox(data, c, keys, cfg.ListTTL, cfg.CountTTL)
	if opts.Search != nil {
		s.search = opts.Search
	}
	return s
}

// Start runs the notification push workers until ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.notifier.Start(ctx)
}

// Wait blocks until the push workers have stopped.
func (s *Service) Wait() {
	s.notifier.Wait()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.passwd.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, DisplayName: displayName})
	if err != nil {
		return Session{}, err
	}
	s.logger.InfoContext(ctx, "user signed up", "user_id", user.ID)
	return s.issueSession(user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwd.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	token, claims, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Role, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		Active:    user.Active,
		JTI:       claims.ID,
		ExpiresAt: claims.Expiry(),
	}, nil
}

// SessionFromToken validates the token, checks revocation and reloads the
// user so that role changes and deactivation apply to live tokens.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	if s.revoked != nil {
		revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Session{}, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return Session{}, auth.ErrInvalidToken
		}
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if !user.Active {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		Active:    user.Active,
		JTI:       claims.ID,
		ExpiresAt: claims.Expiry(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if s.revoked == nil || session.JTI == "" {
		return nil
	}
	return s.revoked.Revoke(ctx, session.JTI, session.ExpiresAt)
}

func (s *Service) authorizeProject(ctx context.Context, session Session, projectID string, c rbac.Capability) error {
	if !s.access.Can(ctx, session.subject(), projectID, c) {
		s.logger.InfoContext(ctx, "permission denied", "user_id", session.UserID, "project_id", projectID, "capability", string(c))
		return forbidden()
	}
	return nil
}

// authorizeTask checks c against the task's project, or against ownership
// for personal tasks.
func (s *Service) authorizeTask(ctx context.Context, session Session, task store.Task, c rbac.Capability) error {
	if task.ProjectID != "" {
		return s.authorizeProject(ctx, session, task.ProjectID, c)
	}
	facts := rbac.TaskFacts{CreatedBy: task.CreatedBy, AssignedTo: task.AssignedTo}
	if !rbac.AuthorizePersonalTask(session.subject(), facts, c) {
		s.logger.InfoContext(ctx, "permission denied", "user_id", session.UserID, "task_id", task.ID, "capability", string(c))
		return forbidden()
	}
	return nil
}

func (s *Service) loadProject(ctx context.Context, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Project{}, notFound("Project")
	}
	return project, err
}

func (s *Service) loadSprint(ctx context.Context, sprintID string) (store.Sprint, error) {
	sprint, err := s.store.GetSprint(ctx, sprintID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Sprint{}, notFound("Sprint")
	}
	return sprint, err
}

func (s *Service) loadTask(ctx context.Context, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Task{}, notFound("Task")
	}
	return task, err
}

// afterCommit detaches the follow-up work of a committed write (cache
// invalidation, notifications, object cleanup) from the caller's
// cancellation. Values such as the request id are kept.
func afterCommit(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// projectTeam is best effort: a failed lookup only narrows who hears about a
// change that is already committed.
func (s *Service) projectTeam(ctx context.Context, projectID string) []string {
	if projectID == "" {
		return nil
	}
	team, err := s.store.ProjectTeam(ctx, projectID)
	if err != nil {
		s.logger.WarnContext(ctx, "project team lookup failed", "project_id", projectID, "err", err)
		return nil
	}
	return team
}

// taskAudience is everyone who should see live updates of a task.
func (s *Service) taskAudience(ctx context.Context, task store.Task) []string {
	return notify.Recipients("", append(s.projectTeam(ctx, task.ProjectID), task.CreatedBy, task.AssignedTo)...)
}

func (s *Service) announceTask(ctx context.Context, event string, task store.Task) {
	s.notifier.Broadcast(ctx, s.taskAudience(ctx, task), event, task)
}

func (s *Service) indexTask(task store.Task) {
	if s.search != nil {
		s.search.IndexTask(task)
	}
}

func (s *Service) unindexTask(taskID string) {
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
}

func requireText(field, value string, max int) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", validation(field + " is required")
	}
	if len(trimmed) > max {
		return "", validation(fmt.Sprintf("%s must be at most %d characters", field, max))
	}
	return trimmed, nil
}

func parseTaskStatus(value string) (workflow.TaskStatus, error) {
	status, err := workflow.ParseTaskStatus(value)
	if err != nil {
		return "", validation(err.Error())
	}
	return status, nil
}
