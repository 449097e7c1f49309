package viewstate

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"forumclient/internal/api"
	"forumclient/internal/featureflags"
	"forumclient/internal/media"
	"forumclient/internal/models"
	"forumclient/internal/observability"
)

// DefaultPageSize is the number of posts requested per page.
const DefaultPageSize = 10

// FeedAPI is the part of the API client the feed uses.
type FeedAPI interface {
	PostAPI
	ListPosts(ctx context.Context, p api.ListPostsParams) ([]models.Post, error)
	UserLikes(ctx context.Context, userID uint) ([]models.UserLike, error)
	UserFavorites(ctx context.Context, userID uint) ([]models.UserFavorite, error)
	CreatePost(ctx context.Context, in models.CreatePostRequest) (*models.Post, error)
	UploadPostImage(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// PostView is a post as rendered, with its in-flight state.
type PostView struct {
	models.Post
	Liking     bool
	Favoriting bool
	Deleting   bool
	CanModify  bool
}

// Draft is the compose form of a new post. ImagePath is a local file.
type Draft struct {
	Title     string
	Content   string
	ImagePath string
}

// FeedSnapshot is a copy of the feed state.
type FeedSnapshot struct {
	Posts      []PostView
	Query      string
	Page       int
	HasMore    bool
	Loading    bool
	Refreshing bool
	Submitting bool
	Draft      Draft
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithPageSize overrides DefaultPageSize.
func WithPageSize(n int) FeedOption {
	return func(f *Feed) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

// WithPreparer sets how draft images are prepared for upload.
func WithPreparer(p *media.Preparer) FeedOption {
	return func(f *Feed) { f.preparer = p }
}

// Feed is the searchable, paginated post list.
type Feed struct {
	actions
	feedAPI  FeedAPI
	pageSize int
	preparer *media.Preparer

	mu         sync.Mutex
	ids        []uint
	query      string
	page       int
	hasMore    bool
	generation uint64
	inFlight   bool
	loading    bool
	refreshing bool
	submitting bool
	draft      Draft
}

// NewFeed creates an empty feed over table.
func NewFeed(client FeedAPI, table *Table, sess Session, flags *featureflags.Flags, opts ...FeedOption) *Feed {
	f := &Feed{
		actions:  actions{api: client, table: table, sess: sess, flags: flags},
		feedAPI:  client,
		pageSize: DefaultPageSize,
		hasMore:  true,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.preparer == nil {
		f.preparer = media.NewPreparer(media.DefaultMaxEdge, media.FormatJPEG)
	}
	return f
}

// Close tears the feed down. In-flight requests finish but no longer
// change its state.
func (f *Feed) Close() {
	f.closed.Store(true)
}

// Snapshot returns the current feed.
func (f *Feed) Snapshot() FeedSnapshot {
	f.mu.Lock()
	snap := FeedSnapshot{
		Query:      f.query,
		Page:       f.page,
		HasMore:    f.hasMore,
		Loading:    f.loading,
		Refreshing: f.refreshing,
		Submitting: f.submitting,
		Draft:      f.draft,
	}
	ids := append([]uint(nil), f.ids...)
	f.mu.Unlock()

	posts := f.table.Posts(ids)
	snap.Posts = make([]PostView, 0, len(posts))
	for _, p := range posts {
		snap.Posts = append(snap.Posts, f.view(p))
	}
	return snap
}

func (a *actions) view(p models.Post) PostView {
	return PostView{
		Post:       p,
		Liking:     a.table.Busy(ActionLike, p.ID),
		Favoriting: a.table.Busy(ActionFavorite, p.ID),
		Deleting:   a.table.Busy(ActionDelete, p.ID),
		CanModify:  a.CanModify(p.UserID),
	}
}

// Load fetches page. reset replaces the list with the page; otherwise the
// page is appended. An empty page ends pagination and leaves the list as
// it was.
func (f *Feed) Load(ctx context.Context, page int, reset bool) error {
	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		return ErrFetchInFlight
	}
	gen := f.startLocked(reset, false)
	f.mu.Unlock()
	return f.fetch(ctx, gen, page, reset)
}

// Refresh reloads page 1. It is ignored while a fetch is in flight.
func (f *Feed) Refresh(ctx context.Context) error {
	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		return ErrFetchInFlight
	}
	f.hasMore = true
	gen := f.startLocked(true, true)
	f.mu.Unlock()
	return f.fetch(ctx, gen, 1, true)
}

// LoadMore appends the next page. It does nothing once the last page was
// reached.
func (f *Feed) LoadMore(ctx context.Context) error {
	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		return ErrFetchInFlight
	}
	if !f.hasMore {
		f.mu.Unlock()
		return nil
	}
	next := f.page + 1
	gen := f.startLocked(false, false)
	f.mu.Unlock()
	return f.fetch(ctx, gen, next, false)
}

// Search switches the term and loads its first page. Responses still in
// flight for the previous term are discarded when they arrive.
func (f *Feed) Search(ctx context.Context, term string) error {
	term = strings.TrimSpace(term)
	f.mu.Lock()
	f.generation++
	if term != f.query {
		f.ids = nil
	}
	f.query = term
	f.page = 0
	f.hasMore = true
	gen := f.startLocked(true, false)
	f.mu.Unlock()
	return f.fetch(ctx, gen, 1, true)
}

// startLocked marks a fetch in flight for the current generation.
func (f *Feed) startLocked(reset, refreshing bool) uint64 {
	f.inFlight = true
	f.loading = reset
	f.refreshing = refreshing
	return f.generation
}

func (f *Feed) current(gen uint64) bool {
	return f.open() && f.generation == gen
}

func (f *Feed) fetch(ctx context.Context, gen uint64, page int, reset bool) error {
	defer func() {
		f.mu.Lock()
		if f.generation == gen {
			f.inFlight = false
			f.loading = false
			f.refreshing = false
		}
		f.mu.Unlock()
	}()

	if !f.open() {
		return ErrClosed
	}

	f.mu.Lock()
	query := f.query
	f.mu.Unlock()

	fields := map[string]interface{}{"page": page, "query": query, "reset": reset}
	observability.LogAsyncOperationStart(ctx, "feed.fetch", fields)

	posts, err := f.feedAPI.ListPosts(ctx, api.ListPostsParams{Query: query, Page: page, Limit: f.pageSize})
	if err != nil {
		f.handleErr(ctx, "feed.fetch", err)
		return err
	}

	f.mu.Lock()
	stale := !f.current(gen)
	f.mu.Unlock()
	if stale {
		return f.discard(ctx, query)
	}

	if len(posts) == 0 {
		f.mu.Lock()
		if f.current(gen) {
			f.hasMore = false
		}
		f.mu.Unlock()
		observability.LogAsyncOperationEnd(ctx, "feed.fetch", fields)
		return nil
	}

	likes, favorites := f.userSets(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.current(gen) {
		return f.discard(ctx, query)
	}

	f.table.UpsertPosts(posts...)
	f.table.ReplaceUserSets(likes, favorites)

	if reset {
		f.ids = f.ids[:0]
	}
	seen := make(map[uint]bool, len(f.ids)+len(posts))
	for _, id := range f.ids {
		seen[id] = true
	}
	for _, p := range posts {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		f.ids = append(f.ids, p.ID)
	}
	f.page = page

	fields["count"] = len(posts)
	observability.LogAsyncOperationEnd(ctx, "feed.fetch", fields)
	return nil
}

func (f *Feed) discard(ctx context.Context, query string) error {
	if !f.open() {
		return ErrClosed
	}
	observability.GlobalLogger.DebugContext(ctx, "discarding superseded feed page",
		slog.String("query", query),
	)
	return ErrSuperseded
}

// userSets fetches the signed-in user's likes and favorites. Failures
// degrade to empty sets.
func (f *Feed) userSets(ctx context.Context) ([]models.UserLike, []models.UserFavorite) {
	uid, ok := f.sess.CurrentUserID()
	if !ok {
		return nil, nil
	}
	likes, err := f.feedAPI.UserLikes(ctx, uid)
	if err != nil {
		f.warnSets(ctx, err)
		return nil, nil
	}
	favorites, err := f.feedAPI.UserFavorites(ctx, uid)
	if err != nil {
		f.warnSets(ctx, err)
		return nil, nil
	}
	return likes, favorites
}

func (f *Feed) warnSets(ctx context.Context, err error) {
	observability.GlobalLogger.WarnContext(ctx, "could not load likes or favorites",
		slog.String("error", err.Error()),
	)
	f.handleErr(ctx, "feed.user_sets", err)
}

// SetDraft replaces the compose form.
func (f *Feed) SetDraft(d Draft) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draft = d
}

// AttachImage picks an image for the draft. A denied permission leaves the
// draft without an image and returns media.ErrPermissionDenied.
func (f *Feed) AttachImage(ctx context.Context, p media.Picker) error {
	path, err := media.PickImage(ctx, p)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draft.ImagePath = path
	return nil
}

// SubmitDraft creates a post from the draft. The optional image is
// uploaded first; an upload failure aborts. On success the draft is
// cleared and the post appears at the top of the feed, either from the
// server's echo or through a reload of page 1.
func (f *Feed) SubmitDraft(ctx context.Context) (*models.Post, error) {
	if !f.open() {
		return nil, ErrClosed
	}
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return nil, ErrActionInProgress
	}
	d := f.draft
	title, content := strings.TrimSpace(d.Title), strings.TrimSpace(d.Content)
	if title == "" || content == "" {
		f.mu.Unlock()
		return nil, models.NewValidationError("Post title and content cannot be empty")
	}
	uid, ok := f.sess.CurrentUserID()
	if !ok {
		f.mu.Unlock()
		return nil, models.NewUnauthorizedError("You need to be signed in to create a post")
	}
	f.submitting = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.submitting = false
		f.mu.Unlock()
	}()

	observability.LogAsyncOperationStart(ctx, "post.create", nil)

	var imageURL *string
	if d.ImagePath != "" {
		up, err := f.preparer.PrepareFile(d.ImagePath, uid)
		if err != nil {
			observability.LogAsyncOperationError(ctx, "post.create", err, nil)
			return nil, err
		}
		url, err := f.feedAPI.UploadPostImage(ctx, up.Filename, up.ContentType, up.Data)
		if err != nil {
			f.handleErr(ctx, "post.upload_image", err)
			return nil, err
		}
		imageURL = &url
	}

	created, err := f.feedAPI.CreatePost(ctx, models.CreatePostRequest{
		Title:    d.Title,
		Content:  d.Content,
		ImageURL: imageURL,
	})
	if err != nil {
		f.handleErr(ctx, "post.create", err)
		return nil, err
	}

	f.mu.Lock()
	if f.draft == d {
		f.draft = Draft{}
	}
	f.mu.Unlock()

	if !f.open() {
		return created, nil
	}

	if created != nil {
		f.table.UpsertPosts(*created)
		f.mu.Lock()
		f.ids = prependUnique(f.ids, created.ID)
		f.mu.Unlock()
		observability.LogAsyncOperationEnd(ctx, "post.create", map[string]interface{}{"post_id": created.ID})
		return created, nil
	}

	observability.LogAsyncOperationEnd(ctx, "post.create", map[string]interface{}{"echoed": false})
	return nil, f.reload(ctx)
}

// reload fetches page 1 unconditionally, superseding any fetch in flight.
func (f *Feed) reload(ctx context.Context) error {
	f.mu.Lock()
	f.generation++
	f.hasMore = true
	gen := f.startLocked(true, true)
	f.mu.Unlock()
	return f.fetch(ctx, gen, 1, true)
}

func prependUnique(ids []uint, id uint) []uint {
	out := make([]uint, 0, len(ids)+1)
	out = append(out, id)
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
