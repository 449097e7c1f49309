// Package session owns the authentication state of the client: who is
// signed in, with which token, and how that survives restarts.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"forumclient/internal/models"
	"forumclient/internal/observability"
	"forumclient/internal/storage"

	"github.com/golang-jwt/jwt/v5"
)

// State is the lifecycle position of the session.
type State int

const (
	Uninitialized State = iota
	Loading
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Session is an immutable view of the store. Token and User are either both
// set or both empty.
type Session struct {
	Token   string
	User    *models.UserProfile
	State   State
	Loading bool
}

// Authenticated reports whether a user is signed in.
func (s Session) Authenticated() bool {
	return s.State == Authenticated && s.Token != "" && s.User != nil
}

// Listener is called with the new session after every state change.
type Listener func(Session)

// Store is the single source of truth for the session. Mutations are
// serialized; readers never wait on storage.
type Store struct {
	storage storage.Storage
	now     func() time.Time

	// opMu serializes Restore, SignIn, SignOut and UpdateProfile.
	opMu sync.Mutex

	mu        sync.RWMutex
	current   Session
	listeners map[int]Listener
	nextID    int
}

// NewStore creates an Uninitialized store backed by st.
func NewStore(st storage.Storage) *Store {
	return &Store{
		storage:   st,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
}

// Snapshot returns the current session.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySession(s.current)
}

// Token returns the bearer token, or "" when signed out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Token
}

// CurrentUserID returns the id of the signed-in user.
func (s *Store) CurrentUserID() (uint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current.User == nil {
		return 0, false
	}
	return s.current.User.ID, true
}

// Subscribe registers fn for state changes. Listeners run synchronously
// while the mutation that caused them is still held, so they must not call
// back into SignIn, SignOut, UpdateProfile or Restore.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Restore loads the persisted session. It never fails: anything short of a
// complete, parseable, unexpired session leaves the store Unauthenticated
// with storage cleared.
func (s *Store) Restore(ctx context.Context) Session {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	observability.LogAsyncOperationStart(ctx, "session.restore", nil)
	s.apply(ctx, Session{State: Loading, Loading: true})

	token, user, err := s.load(ctx)
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "discarding persisted session",
			slog.String("reason", err.Error()),
		)
		s.clearStorage(ctx)
		s.apply(ctx, Session{State: Unauthenticated})
		observability.LogAsyncOperationEnd(ctx, "session.restore", map[string]interface{}{"state": Unauthenticated.String()})
		return s.Snapshot()
	}
	if token == "" {
		s.apply(ctx, Session{State: Unauthenticated})
		observability.LogAsyncOperationEnd(ctx, "session.restore", map[string]interface{}{"state": Unauthenticated.String()})
		return s.Snapshot()
	}

	s.apply(ctx, Session{Token: token, User: user, State: Authenticated})
	observability.LogAsyncOperationEnd(ctx, "session.restore", map[string]interface{}{
		"state":   Authenticated.String(),
		"user_id": user.ID,
	})
	return s.Snapshot()
}

var (
	errMissingUser = errors.New("token stored without user")
	errOrphanUser  = errors.New("user stored without token")
	errBadUser     = errors.New("stored user is incomplete")
	errExpired     = errors.New("stored token has expired")
)

// load reads and validates the persisted pair. An empty token with a nil
// error means nothing was stored.
func (s *Store) load(ctx context.Context) (string, *models.UserProfile, error) {
	token, hasToken, err := s.storage.Get(ctx, storage.TokenKey)
	if err != nil {
		return "", nil, err
	}
	raw, hasUser, err := s.storage.Get(ctx, storage.UserKey)
	if err != nil {
		return "", nil, err
	}

	switch {
	case !hasToken && !hasUser:
		return "", nil, nil
	case !hasUser:
		return "", nil, errMissingUser
	case !hasToken || token == "":
		return "", nil, errOrphanUser
	}

	var user models.UserProfile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return "", nil, err
	}
	if user.ID == 0 {
		return "", nil, errBadUser
	}
	if tokenExpired(token, s.now()) {
		return "", nil, errExpired
	}
	return token, &user, nil
}

// tokenExpired reports whether token is a JWT whose exp claim has passed.
// Opaque tokens never expire client-side.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(now)
}

// SignIn persists token and user, then marks the store Authenticated. If
// either write fails the previous session stays in effect, both in memory
// and in storage. When the previous token cannot be written back the store
// signs out instead of keeping a session storage no longer holds.
func (s *Store) SignIn(ctx context.Context, token string, user *models.UserProfile) error {
	if token == "" || user == nil || user.ID == 0 {
		return models.NewValidationError("Sign in requires a token and a user")
	}
	data, err := json.Marshal(user)
	if err != nil {
		return models.NewStorageError("encode", err)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	prev := s.Snapshot()
	if err := s.storage.Set(ctx, storage.TokenKey, token); err != nil {
		observability.LogAsyncOperationError(ctx, "session.sign_in", err, nil)
		return err
	}
	if err := s.storage.Set(ctx, storage.UserKey, string(data)); err != nil {
		s.rollbackToken(ctx, prev)
		observability.LogAsyncOperationError(ctx, "session.sign_in", err, nil)
		return err
	}

	u := *user
	s.apply(ctx, Session{Token: token, User: &u, State: Authenticated})
	observability.GlobalLogger.InfoContext(ctx, "signed in", slog.Any("user_id", u.ID))
	return nil
}

// SignOut clears storage and memory. Memory is always cleared; the returned
// error joins any storage failures.
func (s *Store) SignOut(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	err := errors.Join(
		s.storage.Remove(ctx, storage.TokenKey),
		s.storage.Remove(ctx, storage.UserKey),
	)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "session.sign_out", err, nil)
	}
	s.apply(ctx, Session{State: Unauthenticated})
	return err
}

// SignOutOnAuthFailure signs out when err says the server rejected the
// session, and reports whether it did.
func (s *Store) SignOutOnAuthFailure(ctx context.Context, err error) bool {
	if !models.IsAuthFailure(err) {
		return false
	}
	if !s.Snapshot().Authenticated() {
		return false
	}
	observability.GlobalLogger.WarnContext(ctx, "server rejected session, signing out")
	if signOutErr := s.SignOut(ctx); signOutErr != nil {
		observability.GlobalLogger.WarnContext(ctx, "forced sign out left stored credentials",
			slog.String("error", signOutErr.Error()),
		)
	}
	return true
}

// UpdateProfile merges patch into the signed-in user and persists it.
func (s *Store) UpdateProfile(ctx context.Context, patch models.ProfilePatch) (models.UserProfile, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	cur := s.Snapshot()
	if !cur.Authenticated() {
		return models.UserProfile{}, models.NewUnauthorizedError("You need to be signed in")
	}
	merged := patch.Apply(*cur.User)
	if patch.Empty() {
		return merged, nil
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return models.UserProfile{}, models.NewStorageError("encode", err)
	}
	if err := s.storage.Set(ctx, storage.UserKey, string(data)); err != nil {
		observability.LogAsyncOperationError(ctx, "session.update_profile", err, nil)
		return models.UserProfile{}, err
	}

	s.apply(ctx, Session{Token: cur.Token, User: &merged, State: Authenticated})
	return merged, nil
}

// rollbackToken undoes the token write of a failed SignIn. Callers hold opMu.
func (s *Store) rollbackToken(ctx context.Context, prev Session) {
	if !prev.Authenticated() {
		if err := s.storage.Remove(ctx, storage.TokenKey); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "could not roll back token write",
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if err := s.storage.Set(ctx, storage.TokenKey, prev.Token); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "could not restore previous token, signing out",
			slog.String("error", err.Error()),
		)
		s.clearStorage(ctx)
		s.apply(ctx, Session{State: Unauthenticated})
	}
}

func (s *Store) clearStorage(ctx context.Context) {
	if err := errors.Join(
		s.storage.Remove(ctx, storage.TokenKey),
		s.storage.Remove(ctx, storage.UserKey),
	); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "could not clear persisted session",
			slog.String("error", err.Error()),
		)
	}
}

// apply replaces the session and notifies listeners. Callers hold opMu.
func (s *Store) apply(ctx context.Context, next Session) {
	s.mu.Lock()
	prev := s.current.State
	s.current = next
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	if prev != next.State {
		observability.SessionTransitions.WithLabelValues(prev.String(), next.State.String()).Inc()
		observability.GlobalLogger.DebugContext(ctx, "session transition",
			slog.String("from", prev.String()),
			slog.String("to", next.State.String()),
		)
	}

	snap := copySession(next)
	for _, fn := range listeners {
		fn(snap)
	}
}

func copySession(s Session) Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}
