// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"taskflow/internal/rbac"
	"taskflow/internal/store"
)

var (
	ErrInvalidInput       = errors.New("invalid sign-up input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
)

const minPasswordLength = 8

// Service provides email/password authentication
type Service struct {
	store UserStore
	cost  int
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

func NewService(users UserStore) *Service {
	return &Service{store: users, cost: bcrypt.DefaultCost}
}

type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUp creates an active DEVELOPER account. Other roles are granted by an
// administrator.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.DisplayName)
	if email == "" || req.Password == "" || name == "" {
		return store.User{}, fmt.Errorf("%w: email, password, and display name are required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return store.User{}, fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	if len(req.Password) < minPasswordLength {
		return store.User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	_, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return store.User{}, ErrEmailTaken
	case !errors.Is(err, store.ErrNotFound):
		return store.User{}, fmt.Errorf("look up email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  name,
		PasswordHash: string(hash),
		Role:         string(rbac.RoleDeveloper),
		Active:       true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn checks the password. Unknown emails and wrong passwords return the
// same error.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("look up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if !user.Active {
		return store.User{}, ErrAccountDisabled
	}
	return user, nil
}
