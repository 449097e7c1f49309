// Package service holds the flows that span the API client and the session
// store.
package service

import (
	"context"
	"strings"

	"forumclient/internal/models"
	"forumclient/internal/observability"
	"forumclient/internal/session"
)

// AuthAPI is the part of the API client used for authentication.
type AuthAPI interface {
	Login(ctx context.Context, in models.LoginRequest) (*models.LoginResponse, error)
	Register(ctx context.Context, in models.RegisterRequest) (*models.RegisterResponse, error)
}

// SessionStore is the part of session.Store the auth flows mutate.
type SessionStore interface {
	SignIn(ctx context.Context, token string, user *models.UserProfile) error
	SignOut(ctx context.Context) error
	Snapshot() session.Session
}

const minPasswordLen = 6

type AuthService struct {
	api   AuthAPI
	store SessionStore
}

func NewAuthService(api AuthAPI, store SessionStore) *AuthService {
	return &AuthService{api: api, store: store}
}

// Login checks credentials with the backend and signs in. The session is
// only updated after the token and profile are persisted.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (session.Session, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return s.store.Snapshot(), models.NewValidationError("Username or email and password are required")
	}

	observability.LogAsyncOperationStart(ctx, "auth.login", nil)
	resp, err := s.api.Login(ctx, models.LoginRequest{Identifier: identifier, Password: password})
	if err != nil {
		observability.LogAsyncOperationError(ctx, "auth.login", err, nil)
		return s.store.Snapshot(), err
	}

	user := resp.User
	if err := s.store.SignIn(ctx, resp.Token, &user); err != nil {
		observability.LogAsyncOperationError(ctx, "auth.login", err, map[string]interface{}{"user_id": user.ID})
		return s.store.Snapshot(), err
	}
	observability.LogAsyncOperationEnd(ctx, "auth.login", map[string]interface{}{"user_id": user.ID})
	return s.store.Snapshot(), nil
}

// RegisterInput is the account to create.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register creates an account. The caller signs in separately.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.RegisterResponse, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, models.NewValidationError("Username, email and password are required")
	}
	if len(in.Password) < minPasswordLen {
		return nil, models.NewValidationError("Password must be at least 6 characters")
	}

	observability.LogAsyncOperationStart(ctx, "auth.register", map[string]interface{}{"username": in.Username})
	resp, err := s.api.Register(ctx, models.RegisterRequest{
		Username: in.Username,
		Email:    in.Email,
		Password: in.Password,
	})
	if err != nil {
		observability.LogAsyncOperationError(ctx, "auth.register", err, map[string]interface{}{"username": in.Username})
		return nil, err
	}
	observability.LogAsyncOperationEnd(ctx, "auth.register", map[string]interface{}{"username": in.Username})
	return resp, nil
}

// Logout signs out. Memory is cleared even when storage fails.
func (s *AuthService) Logout(ctx context.Context) error {
	return s.store.SignOut(ctx)
}
