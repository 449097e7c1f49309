package viewstate

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"forumclient/internal/api"
	"forumclient/internal/featureflags"
	"forumclient/internal/media"
	"forumclient/internal/models"
	"forumclient/internal/session"
	"forumclient/internal/testutil/fakeapi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_Pagination(t *testing.T) {
	e := newEnv(t)
	e.srv.SeedPosts(e.alice.ID, 12)
	f := e.feed()
	ctx := context.Background()

	require.NoError(t, f.Load(ctx, 1, true))
	snap := f.Snapshot()
	assert.Len(t, snap.Posts, 10)
	assert.Equal(t, 1, snap.Page)
	assert.True(t, snap.HasMore)
	assert.False(t, snap.Loading)

	require.NoError(t, f.LoadMore(ctx))
	snap = f.Snapshot()
	assert.Len(t, snap.Posts, 12)
	assert.Equal(t, 2, snap.Page)

	require.NoError(t, f.LoadMore(ctx))
	snap = f.Snapshot()
	assert.False(t, snap.HasMore)
	assert.Len(t, snap.Posts, 12, "an empty page leaves the list unchanged")
	assert.Equal(t, 2, snap.Page)

	before := len(e.srv.RequestsTo("GET /posts"))
	require.NoError(t, f.LoadMore(ctx))
	assert.Len(t, e.srv.RequestsTo("GET /posts"), before, "no request once the end is reached")
}

func TestFeed_ResetReplacesList(t *testing.T) {
	stub := noSets()
	page := postsWithIDs(1, 2, 3)
	stub.listPostsFn = func(context.Context, api.ListPostsParams) ([]models.Post, error) { return page, nil }
	f := NewFeed(stub, NewTable(), &sessionStub{userID: 1}, featureflags.Parse(""))
	ctx := context.Background()

	require.NoError(t, f.Load(ctx, 1, true))
	page = postsWithIDs(7, 8)
	require.NoError(t, f.Load(ctx, 1, true))

	assert.Equal(t, []uint{7, 8}, feedIDs(f.Snapshot()))
}

func TestFeed_EmptyResetPageKeepsList(t *testing.T) {
	stub := noSets()
	page := postsWithIDs(1, 2)
	stub.listPostsFn = func(context.Context, api.ListPostsParams) ([]models.Post, error) { return page, nil }
	f := NewFeed(stub, NewTable(), &sessionStub{userID: 1}, featureflags.Parse(""))
	ctx := context.Background()

	require.NoError(t, f.Load(ctx, 1, true))
	page = nil
	require.NoError(t, f.Load(ctx, 1, true))

	snap := f.Snapshot()
	assert.Equal(t, []uint{1, 2}, feedIDs(snap))
	assert.False(t, snap.HasMore)
}

func TestFeed_AppendSkipsDuplicates(t *testing.T) {
	stub := noSets()
	pages := map[int][]models.Post{1: postsWithIDs(5, 4, 3), 2: postsWithIDs(3, 2, 1)}
	stub.listPostsFn = func(_ context.Context, p api.ListPostsParams) ([]models.Post, error) {
		return pages[p.Page], nil
	}
	f := NewFeed(stub, NewTable(), &sessionStub{userID: 1}, featureflags.Parse(""))
	ctx := context.Background()

	require.NoError(t, f.Load(ctx, 1, true))
	require.NoError(t, f.LoadMore(ctx))

	assert.Equal(t, []uint{5, 4, 3, 2, 1}, feedIDs(f.Snapshot()))
}

func TestFeed_FailedFetchKeepsList(t *testing.T) {
	e := newEnv(t)
	e.srv.SeedPosts(e.alice.ID, 3)
	f := e.feed()
	ctx := context.Background()
	require.NoError(t, f.Load(ctx, 1, true))

	e.srv.Fail("GET /posts", fakeapi.Fault{Status: http.StatusInternalServerError, Message: "boom"})
	err := f.Refresh(ctx)

	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeServer))
	snap := f.Snapshot()
	assert.Len(t, snap.Posts, 3)
	assert.False(t, snap.Refreshing)
	assert.False(t, snap.Loading)
}

func TestFeed_RefreshIgnoredWhileInFlight(t *testing.T) {
	e := newEnv(t)
	e.srv.SeedPosts(e.alice.ID, 2)
	f := e.feed()
	ctx := context.Background()

	release := e.srv.Block("GET /posts")
	done := make(chan error, 1)
	go func() { done <- f.Refresh(ctx) }()
	require.Eventually(t, func() bool { return len(e.srv.RequestsTo("GET /posts")) == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, f.Snapshot().Refreshing)
	assert.ErrorIs(t, f.Refresh(ctx), ErrFetchInFlight)
	assert.ErrorIs(t, f.LoadMore(ctx), ErrFetchInFlight)

	release()
	require.NoError(t, <-done)
	assert.Len(t, e.srv.RequestsTo("GET /posts"), 1)
	assert.Len(t, f.Snapshot().Posts, 2)
	assert.False(t, f.Snapshot().Refreshing)
}

func TestFeed_SearchDiscardsStaleResponse(t *testing.T) {
	stub := noSets()
	oldRelease := make(chan struct{})
	oldStarted := make(chan struct{})
	stub.listPostsFn = func(_ context.Context, p api.ListPostsParams) ([]models.Post, error) {
		switch p.Query {
		case "old":
			close(oldStarted)
			<-oldRelease
			return postsWithIDs(1, 2), nil
		default:
			return postsWithIDs(9), nil
		}
	}
	f := NewFeed(stub, NewTable(), &sessionStub{userID: 1}, featureflags.Parse(""))
	ctx := context.Background()

	oldDone := make(chan error, 1)
	go func() { oldDone <- f.Search(ctx, "old") }()
	<-oldStarted

	require.NoError(t, f.Search(ctx, "new"))
	close(oldRelease)
	assert.ErrorIs(t, <-oldDone, ErrSuperseded)

	snap := f.Snapshot()
	assert.Equal(t, "new", snap.Query)
	assert.Equal(t, []uint{9}, feedIDs(snap))
	assert.Equal(t, 1, snap.Page)
	assert.True(t, snap.HasMore)
}

func TestFeed_SearchSendsQuery(t *testing.T) {
	e := newEnv(t)
	e.srv.AddPost(e.alice.ID, "golang tips", "x")
	e.srv.AddPost(e.alice.ID, "cooking", "y")
	f := e.feed()

	require.NoError(t, f.Search(context.Background(), "  golang "))

	snap := f.Snapshot()
	require.Len(t, snap.Posts, 1)
	assert.Equal(t, "golang tips", snap.Posts[0].Title)
	reqs := e.srv.RequestsTo("GET /posts")
	assert.Contains(t, reqs[len(reqs)-1].Path, "q=golang")
	assert.Contains(t, reqs[len(reqs)-1].Path, "limit=10")
}

func TestFeed_JoinsUserSets(t *testing.T) {
	e := newEnv(t)
	liked := e.srv.AddPost(e.bob.ID, "liked", "x")
	plain := e.srv.AddPost(e.bob.ID, "plain", "y")
	e.srv.SetLiked(e.alice.ID, liked.ID)
	f := e.feed()

	require.NoError(t, f.Load(context.Background(), 1, true))

	snap := f.Snapshot()
	require.Len(t, snap.Posts, 2)
	assert.Equal(t, plain.ID, snap.Posts[0].ID)
	assert.False(t, snap.Posts[0].Liked)
	assert.True(t, snap.Posts[1].Liked)
	assert.Equal(t, 1, snap.Posts[1].LikesCount)
	assert.False(t, snap.Posts[1].CanModify)
}

func TestFeed_UserSetFailureDegrades(t *testing.T) {
	e := newEnv(t)
	p := e.srv.AddPost(e.bob.ID, "liked", "x")
	e.srv.SetLiked(e.alice.ID, p.ID)
	e.srv.Fail("GET /users/:id/likes", fakeapi.Fault{Status: http.StatusInternalServerError})
	f := e.feed()

	require.NoError(t, f.Load(context.Background(), 1, true))

	snap := f.Snapshot()
	require.Len(t, snap.Posts, 1)
	assert.False(t, snap.Posts[0].Liked)
	assert.Equal(t, session.Authenticated, e.store.Snapshot().State)
}

func TestFeed_RejectedSessionSignsOut(t *testing.T) {
	e := newEnv(t)
	e.srv.AddPost(e.bob.ID, "p", "x")
	e.srv.RevokeTokens()
	f := e.feed()

	require.NoError(t, f.Load(context.Background(), 1, true))

	assert.Len(t, f.Snapshot().Posts, 1)
	assert.Equal(t, session.Unauthenticated, e.store.Snapshot().State)
}

func TestFeed_ToggleLikeConfirmsWithServer(t *testing.T) {
	e := newEnv(t)
	p := e.srv.AddPost(e.bob.ID, "p", "x")
	f := e.feed()
	ctx := context.Background()
	require.NoError(t, f.Load(ctx, 1, true))

	// Someone else likes the post after the feed loaded.
	e.srv.SetLiked(e.bob.ID, p.ID)
	require.NoError(t, f.ToggleLike(ctx, p.ID))

	snap := f.Snapshot()
	assert.True(t, snap.Posts[0].Liked)
	assert.Equal(t, 2, snap.Posts[0].LikesCount)
	assert.True(t, e.srv.IsLiked(e.alice.ID, p.ID))

	require.NoError(t, f.ToggleFavorite(ctx, p.ID))
	assert.True(t, f.Snapshot().Posts[0].Favorited)
}

func TestFeed_ToggleSequenceWithoutEcho(t *testing.T) {
	e := newEnv(t, fakeapi.Options{})
	p := e.srv.AddPost(e.bob.ID, "p", "x")
	e.srv.SetLiked(e.bob.ID, p.ID)
	f := e.feed()
	ctx := context.Background()
	require.NoError(t, f.Load(ctx, 1, true))

	for n := 1; n <= 5; n++ {
		require.NoError(t, f.ToggleLike(ctx, p.ID))
		snap := f.Snapshot()
		assert.Equal(t, 1+n%2, snap.Posts[0].LikesCount)
		assert.Equal(t, n%2 == 1, snap.Posts[0].Liked)
	}
}

func toggleStub(likeErr error) *apiStub {
	stub := noSets()
	stub.listPostsFn = func(context.Context, api.ListPostsParams) ([]models.Post, error) {
		return []models.Post{{ID: 1, UserID: 2, LikesCount: 3}}, nil
	}
	stub.toggleLikeFn = func(context.Context, uint) (*models.LikeResult, error) { return nil, likeErr }
	stub.toggleFavoriteFn = func(context.Context, uint) (*models.FavoriteResult, error) { return nil, likeErr }
	return stub
}

func TestFeed_FailedToggleRollsBack(t *testing.T) {
	stub := toggleStub(models.NewNetworkError(errors.New("offline")))
	f := NewFeed(stub, NewTable(), &sessionStub{userID: 1}, featureflags.Parse(""))
	ctx := context.Background()
	require.NoError(t, f.Load(ctx, 1, true))

	err := f.ToggleLike(ctx, 1)
	require.Error(t, err)
	assert.True(t, models.IsCode(err, models.CodeNetwork))
	require.Error(t, f.ToggleFavorite(ctx, 1))

	p := f.Snapshot().Posts[0]
	assert.False(t, p.Liked)
	assert.Equal(t, 3, p.LikesCount)
	assert.False(t, p.Favorited)
	assert.False(t, p.Liking)
}

func TestFeed_FailedToggleKeptWhenRollbackOff(t *testing.T) {
	stub := toggleStub(models.NewServerError(http.StatusInternalServerError, ""))
	f := NewFeed(stub, NewTable(), &sessionStub{userID: 1}, featureflags.Parse("optimistic_rollback=off"))
	ctx := context.Background()
	require.NoError(t, f.Load(ctx, 1, true))

	require.Error(t, f.ToggleLike(ctx, 1))

	p := f.Snapshot().Posts[0]
	assert.True(t, p.Liked)
	assert.Equal(t, 4, p.LikesCount)
}

func TestFeed_ToggleAuthFailureSignsOut(t *testing.T) {
	stub := toggleStub(models.NewServerError(http.StatusUnauthorized, ""))
	sess := &sessionStub{userID: 1}
	f := NewFeed(stub, NewTable(), sess, featureflags.Parse(""))
	ctx := context.Background()
	require.NoError(t, f.Load(ctx, 1, true))

	err := f.ToggleLike(ctx, 1)

	assert.True(t, models.IsAuthFailure(err))
	_, ok := sess.CurrentUserID()
	assert.False(t, ok)
}

func TestFeed_SecondToggleWhilePendingRefused(t *testing.T) {
	stub := toggleStub(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	stub.toggleLikeFn = func(context.Context, uint) (*models.LikeResult, error) {
		close(started)
		<-release
		return nil, nil
	}
	f := NewFeed(stub, NewTable(), &sessionStub{userID: 1}, featureflags.Parse(""))
	ctx := context.Background()
	require.NoError(t, f.Load(ctx, 1, true))

	done := make(chan error, 1)
	go func() { done <- f.ToggleLike(ctx, 1) }()
	<-started

	p := f.Snapshot().Posts[0]
	assert.True(t, p.Liking)
	assert.True(t, p.Liked, "optimistic state is visible while the request is in flight")
	assert.Equal(t, 4, p.LikesCount)
	assert.ErrorIs(t, f.ToggleLike(ctx, 1), ErrActionInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, f.Snapshot().Posts[0].Liking)
}

func TestFeed_ToggleRequiresSignIn(t *testing.T) {
	stub := toggleStub(nil)
	f := NewFeed(stub, NewTable(), &sessionStub{}, featureflags.Parse(""))
	ctx := context.Background()
	require.NoError(t, f.Load(ctx, 1, true))

	assert.True(t, models.IsAuthFailure(f.ToggleLike(ctx, 1)))
	assert.False(t, f.Snapshot().Posts[0].Liked)
}

func TestFeed_CreatePostScenario(t *testing.T) {
	e := newEnv(t)
	e.srv.SeedPosts(e.bob.ID, 2)
	f := e.feed()
	ctx := context.Background()
	require.NoError(t, f.Load(ctx, 1, true))

	f.SetDraft(Draft{Title: "Hello", Content: "World"})
	created, err := f.SubmitDraft(ctx)

	require.NoError(t, err)
	require.NotNil(t, created)
	reqs := e.srv.RequestsTo("POST /posts")
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"title":"Hello","content":"World","image_url":null}`, reqs[0].Body)

	snap := f.Snapshot()
	require.Len(t, snap.Posts, 3)
	assert.Equal(t, "Hello", snap.Posts[0].Title)
	assert.True(t, snap.Posts[0].CanModify)
	assert.Equal(t, Draft{}, snap.Draft)
	assert.False(t, snap.Submitting)
}

func TestFeed_CreatePostWithoutEchoRefreshes(t *testing.T) {
	e := newEnv(t, fakeapi.Options{})
	e.srv.SeedPosts(e.bob.ID, 1)
	f := e.feed()
	ctx := context.Background()
	require.NoError(t, f.Load(ctx, 1, true))

	f.SetDraft(Draft{Title: "Hello", Content: "World"})
	created, err := f.SubmitDraft(ctx)

	require.NoError(t, err)
	assert.Nil(t, created)
	snap := f.Snapshot()
	require.Len(t, snap.Posts, 2)
	assert.Equal(t, "Hello", snap.Posts[0].Title)
	assert.Equal(t, Draft{}, snap.Draft)
}

func TestFeed_SubmitDraftValidation(t *testing.T) {
	e := newEnv(t)
	f := e.feed()
	ctx := context.Background()

	f.SetDraft(Draft{Title: "  ", Content: "World"})
	_, err := f.SubmitDraft(ctx)

	assert.True(t, models.IsCode(err, models.CodeValidation))
	assert.Empty(t, e.srv.RequestsTo("POST /posts"))
	assert.Equal(t, "World", f.Snapshot().Draft.Content, "draft is kept on failure")
}

func TestFeed_SubmitDraftCreateFailureKeepsDraft(t *testing.T) {
	e := newEnv(t)
	e.srv.Fail("POST /posts", fakeapi.Fault{Status: http.StatusBadRequest, Message: "nope"})
	f := e.feed()

	f.SetDraft(Draft{Title: "Hello", Content: "World"})
	_, err := f.SubmitDraft(context.Background())

	require.Error(t, err)
	assert.Equal(t, "nope", err.Error())
	assert.Equal(t, "Hello", f.Snapshot().Draft.Title)
}

func writePNG(t *testing.T, dir string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48))))
	path := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestFeed_SubmitDraftWithImage(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	writePNG(t, dir)
	f := e.feed(WithPreparer(media.NewPreparer(32, media.FormatJPEG)))
	ctx := context.Background()

	f.SetDraft(Draft{Title: "Hello", Content: "World"})
	require.NoError(t, f.AttachImage(ctx, &media.FilePicker{Root: dir, Selected: "photo.png"}))
	created, err := f.SubmitDraft(ctx)

	require.NoError(t, err)
	require.NotNil(t, created)
	require.Len(t, e.srv.RequestsTo("POST /upload/post-image"), 1)
	assert.Contains(t, created.ImageURL, e.srv.Root+"/uploads/posts/post_")
	assert.Contains(t, created.ImageURL, ".jpg")

	stored, ok := e.srv.Post(created.ID)
	require.True(t, ok)
	assert.Equal(t, created.ImageURL, stored.ImageURL)
}

func TestFeed_UploadFailureAbortsCreate(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	writePNG(t, dir)
	e.srv.Fail("POST /upload/post-image", fakeapi.Fault{Status: http.StatusInternalServerError})
	f := e.feed()
	ctx := context.Background()

	f.SetDraft(Draft{Title: "Hello", Content: "World"})
	require.NoError(t, f.AttachImage(ctx, &media.FilePicker{Root: dir, Selected: "photo.png"}))
	_, err := f.SubmitDraft(ctx)

	require.Error(t, err)
	assert.Empty(t, e.srv.RequestsTo("POST /posts"))
}

func TestFeed_PermissionDeniedStillPosts(t *testing.T) {
	e := newEnv(t)
	f := e.feed()
	ctx := context.Background()

	f.SetDraft(Draft{Title: "Hello", Content: "World"})
	err := f.AttachImage(ctx, &media.FilePicker{Root: filepath.Join(t.TempDir(), "missing"), Selected: "x.png"})
	require.ErrorIs(t, err, media.ErrPermissionDenied)

	created, err := f.SubmitDraft(ctx)
	require.NoError(t, err)
	assert.Empty(t, created.ImageURL)
}

func TestFeed_DeletePost(t *testing.T) {
	e := newEnv(t)
	mine := e.srv.AddPost(e.alice.ID, "mine", "x")
	theirs := e.srv.AddPost(e.bob.ID, "theirs", "y")
	f := e.feed()
	ctx := context.Background()
	require.NoError(t, f.Load(ctx, 1, true))

	err := f.DeletePost(ctx, theirs.ID)
	assert.True(t, models.IsCode(err, models.CodeForbidden))
	assert.Empty(t, e.srv.RequestsTo("DELETE /posts/:id"))

	e.srv.Fail("DELETE /posts/:id", fakeapi.Fault{Status: http.StatusInternalServerError, Times: 1})
	require.Error(t, f.DeletePost(ctx, mine.ID))
	assert.Len(t, f.Snapshot().Posts, 2, "failed delete leaves the list untouched")

	require.NoError(t, f.DeletePost(ctx, mine.ID))
	assert.Equal(t, []uint{theirs.ID}, feedIDs(f.Snapshot()))
	_, ok := e.srv.Post(mine.ID)
	assert.False(t, ok)
}

func TestFeed_ClosedIgnoresLateResponse(t *testing.T) {
	stub := noSets()
	started := make(chan struct{})
	release := make(chan struct{})
	stub.listPostsFn = func(context.Context, api.ListPostsParams) ([]models.Post, error) {
		close(started)
		<-release
		return postsWithIDs(1), nil
	}
	f := NewFeed(stub, NewTable(), &sessionStub{userID: 1}, featureflags.Parse(""))

	done := make(chan error, 1)
	go func() { done <- f.Load(context.Background(), 1, true) }()
	<-started
	f.Close()
	close(release)

	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Empty(t, f.Snapshot().Posts)
	assert.ErrorIs(t, f.Refresh(context.Background()), ErrClosed)
}
