package viewstate

import (
	"context"
	"sync"
	"testing"

	"forumclient/internal/api"
	"forumclient/internal/featureflags"
	"forumclient/internal/models"
	"forumclient/internal/session"
	"forumclient/internal/storage"
	"forumclient/internal/testutil/fakeapi"

	"github.com/stretchr/testify/require"
)

// sessionStub is a stub for Session.
type sessionStub struct {
	mu        sync.Mutex
	userID    uint
	signedOut bool
}

func (s *sessionStub) CurrentUserID() (uint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signedOut || s.userID == 0 {
		return 0, false
	}
	return s.userID, true
}

func (s *sessionStub) SignOutOnAuthFailure(_ context.Context, err error) bool {
	if !models.IsAuthFailure(err) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedOut = true
	return true
}

// apiStub is a stub for FeedAPI and DetailAPI. Nil functions panic.
type apiStub struct {
	listPostsFn      func(context.Context, api.ListPostsParams) ([]models.Post, error)
	userLikesFn      func(context.Context, uint) ([]models.UserLike, error)
	userFavoritesFn  func(context.Context, uint) ([]models.UserFavorite, error)
	createPostFn     func(context.Context, models.CreatePostRequest) (*models.Post, error)
	uploadFn         func(context.Context, string, string, []byte) (string, error)
	toggleLikeFn     func(context.Context, uint) (*models.LikeResult, error)
	toggleFavoriteFn func(context.Context, uint) (*models.FavoriteResult, error)
	deletePostFn     func(context.Context, uint) error
	getPostFn        func(context.Context, uint) (*models.Post, error)
	listCommentsFn   func(context.Context, uint) ([]models.Comment, error)
	createCommentFn  func(context.Context, uint, string) (*models.CreateCommentResponse, error)
	updateCommentFn  func(context.Context, uint, string) (*models.Comment, error)
	deleteCommentFn  func(context.Context, uint) error
}

func (s *apiStub) ListPosts(ctx context.Context, p api.ListPostsParams) ([]models.Post, error) {
	return s.listPostsFn(ctx, p)
}
func (s *apiStub) UserLikes(ctx context.Context, id uint) ([]models.UserLike, error) {
	return s.userLikesFn(ctx, id)
}
func (s *apiStub) UserFavorites(ctx context.Context, id uint) ([]models.UserFavorite, error) {
	return s.userFavoritesFn(ctx, id)
}
func (s *apiStub) CreatePost(ctx context.Context, in models.CreatePostRequest) (*models.Post, error) {
	return s.createPostFn(ctx, in)
}
func (s *apiStub) UploadPostImage(ctx context.Context, name, ct string, data []byte) (string, error) {
	return s.uploadFn(ctx, name, ct, data)
}
func (s *apiStub) ToggleLike(ctx context.Context, id uint) (*models.LikeResult, error) {
	return s.toggleLikeFn(ctx, id)
}
func (s *apiStub) ToggleFavorite(ctx context.Context, id uint) (*models.FavoriteResult, error) {
	return s.toggleFavoriteFn(ctx, id)
}
func (s *apiStub) DeletePost(ctx context.Context, id uint) error {
	return s.deletePostFn(ctx, id)
}
func (s *apiStub) GetPost(ctx context.Context, id uint) (*models.Post, error) {
	return s.getPostFn(ctx, id)
}
func (s *apiStub) ListComments(ctx context.Context, id uint) ([]models.Comment, error) {
	return s.listCommentsFn(ctx, id)
}
func (s *apiStub) CreateComment(ctx context.Context, id uint, content string) (*models.CreateCommentResponse, error) {
	return s.createCommentFn(ctx, id, content)
}
func (s *apiStub) UpdateComment(ctx context.Context, id uint, content string) (*models.Comment, error) {
	return s.updateCommentFn(ctx, id, content)
}
func (s *apiStub) DeleteComment(ctx context.Context, id uint) error {
	return s.deleteCommentFn(ctx, id)
}

func noSets() *apiStub {
	return &apiStub{
		userLikesFn:     func(context.Context, uint) ([]models.UserLike, error) { return nil, nil },
		userFavoritesFn: func(context.Context, uint) ([]models.UserFavorite, error) { return nil, nil },
	}
}

func postsWithIDs(ids ...uint) []models.Post {
	out := make([]models.Post, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Post{ID: id, Title: "post", UserID: 1})
	}
	return out
}

func feedIDs(snap FeedSnapshot) []uint {
	out := make([]uint, 0, len(snap.Posts))
	for _, p := range snap.Posts {
		out = append(out, p.ID)
	}
	return out
}

// env is a fake backend with a signed-in client.
type env struct {
	srv    *fakeapi.Server
	store  *session.Store
	client *api.Client
	table  *Table
	flags  *featureflags.Flags
	alice  models.UserProfile
	bob    models.UserProfile
}

func newEnv(t *testing.T, opts ...fakeapi.Options) *env {
	t.Helper()
	srv := fakeapi.New(t, opts...)
	alice := srv.AddUser("alice", "alice@example.com", "secret1")
	bob := srv.AddUser("bob", "bob@example.com", "secret2")

	store := session.NewStore(storage.NewMemoryStorage())
	require.NoError(t, store.SignIn(context.Background(), srv.Token(alice.ID), &alice))

	return &env{
		srv:    srv,
		store:  store,
		client: api.NewClient(srv.URL, api.WithTokenSource(store)),
		table:  NewTable(),
		flags:  featureflags.Parse(""),
		alice:  alice,
		bob:    bob,
	}
}

func (e *env) feed(opts ...FeedOption) *Feed {
	return NewFeed(e.client, e.table, e.store, e.flags, opts...)
}

func (e *env) detail(postID uint) *Detail {
	return NewDetail(e.client, e.table, e.store, e.flags, postID)
}
