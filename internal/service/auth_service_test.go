package service

import (
	"context"
	"errors"
	"testing"

	"forumclient/internal/api"
	"forumclient/internal/models"
	"forumclient/internal/session"
	"forumclient/internal/storage"
	"forumclient/internal/testutil/fakeapi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// authAPIStub is a stub for AuthAPI.
type authAPIStub struct {
	loginFn    func(context.Context, models.LoginRequest) (*models.LoginResponse, error)
	registerFn func(context.Context, models.RegisterRequest) (*models.RegisterResponse, error)
}

func (s *authAPIStub) Login(ctx context.Context, in models.LoginRequest) (*models.LoginResponse, error) {
	return s.loginFn(ctx, in)
}
func (s *authAPIStub) Register(ctx context.Context, in models.RegisterRequest) (*models.RegisterResponse, error) {
	return s.registerFn(ctx, in)
}

func noCallAPI(t *testing.T) *authAPIStub {
	return &authAPIStub{
		loginFn: func(context.Context, models.LoginRequest) (*models.LoginResponse, error) {
			t.Fatal("login must not be called")
			return nil, nil
		},
		registerFn: func(context.Context, models.RegisterRequest) (*models.RegisterResponse, error) {
			t.Fatal("register must not be called")
			return nil, nil
		},
	}
}

func assertValidationError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeValidation), "expected validation error, got %v", err)
}

func TestAuthService_Login_Alice(t *testing.T) {
	var sent models.LoginRequest
	stub := &authAPIStub{
		loginFn: func(_ context.Context, in models.LoginRequest) (*models.LoginResponse, error) {
			sent = in
			return &models.LoginResponse{Token: "t1", User: models.UserProfile{ID: 7, Username: "alice"}}, nil
		},
	}
	store := session.NewStore(storage.NewMemoryStorage())
	svc := NewAuthService(stub, store)

	sess, err := svc.Login(context.Background(), "alice", "secret1")

	require.NoError(t, err)
	assert.Equal(t, models.LoginRequest{Identifier: "alice", Password: "secret1"}, sent)
	assert.Equal(t, "t1", sess.Token)
	require.NotNil(t, sess.User)
	assert.Equal(t, uint(7), sess.User.ID)
	assert.Equal(t, "alice", sess.User.Username)
	assert.False(t, sess.Loading)
	assert.Equal(t, session.Authenticated, sess.State)
}

func TestAuthService_Login_Validation(t *testing.T) {
	t.Parallel()
	svc := NewAuthService(noCallAPI(t), session.NewStore(storage.NewMemoryStorage()))
	ctx := context.Background()

	t.Run("missing identifier", func(t *testing.T) {
		_, err := svc.Login(ctx, "   ", "secret1")
		assertValidationError(t, err)
	})
	t.Run("missing password", func(t *testing.T) {
		_, err := svc.Login(ctx, "alice", "")
		assertValidationError(t, err)
	})
}

func TestAuthService_Login_PropagatesFailure(t *testing.T) {
	stub := &authAPIStub{
		loginFn: func(context.Context, models.LoginRequest) (*models.LoginResponse, error) {
			return nil, models.NewInvalidCredentialsError()
		},
	}
	store := session.NewStore(storage.NewMemoryStorage())
	svc := NewAuthService(stub, store)

	sess, err := svc.Login(context.Background(), "alice", "wrong")

	assert.True(t, models.IsCode(err, models.CodeInvalidCredentials))
	assert.False(t, sess.Authenticated())
}

type failingStorage struct{ *storage.MemoryStorage }

func (failingStorage) Set(context.Context, string, string) error {
	return models.NewStorageError("write", errors.New("read-only"))
}

func TestAuthService_Login_PersistenceFailure(t *testing.T) {
	stub := &authAPIStub{
		loginFn: func(context.Context, models.LoginRequest) (*models.LoginResponse, error) {
			return &models.LoginResponse{Token: "t1", User: models.UserProfile{ID: 7, Username: "alice"}}, nil
		},
	}
	svc := NewAuthService(stub, session.NewStore(failingStorage{storage.NewMemoryStorage()}))

	sess, err := svc.Login(context.Background(), "alice", "secret1")

	assert.True(t, models.IsCode(err, models.CodeStorage))
	assert.False(t, sess.Authenticated())
	assert.Empty(t, sess.Token)
}

func TestAuthService_Register_Validation(t *testing.T) {
	t.Parallel()
	svc := NewAuthService(noCallAPI(t), session.NewStore(storage.NewMemoryStorage()))
	ctx := context.Background()

	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"missing username", RegisterInput{Email: "a@example.com", Password: "secret1"}},
		{"missing email", RegisterInput{Username: "alice", Password: "secret1"}},
		{"missing password", RegisterInput{Username: "alice", Email: "a@example.com"}},
		{"short password", RegisterInput{Username: "alice", Email: "a@example.com", Password: "12345"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.in)
			assertValidationError(t, err)
		})
	}
}

func TestAuthService_Register_DoesNotSignIn(t *testing.T) {
	stub := &authAPIStub{
		registerFn: func(_ context.Context, in models.RegisterRequest) (*models.RegisterResponse, error) {
			assert.Equal(t, "alice", in.Username)
			return &models.RegisterResponse{Message: "ok"}, nil
		},
	}
	store := session.NewStore(storage.NewMemoryStorage())
	svc := NewAuthService(stub, store)

	_, err := svc.Register(context.Background(), RegisterInput{Username: " alice ", Email: "a@example.com", Password: "secret1"})

	require.NoError(t, err)
	assert.False(t, store.Snapshot().Authenticated())
}

func TestAuthService_AgainstBackend(t *testing.T) {
	srv := fakeapi.New(t)
	store := session.NewStore(storage.NewMemoryStorage())
	client := api.NewClient(srv.URL, api.WithTokenSource(store))
	svc := NewAuthService(client, store)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Username: "carol", Email: "carol@example.com", Password: "secret1"})
	require.NoError(t, err)

	sess, err := svc.Login(ctx, "carol@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "carol", sess.User.Username)
	assert.NotEmpty(t, store.Token())

	require.NoError(t, svc.Logout(ctx))
	assert.Equal(t, session.Unauthenticated, store.Snapshot().State)
}
