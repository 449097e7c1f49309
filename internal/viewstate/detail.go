package viewstate

import (
	"context"
	"strings"
	"sync"

	"forumclient/internal/featureflags"
	"forumclient/internal/models"
	"forumclient/internal/observability"
)

// DetailAPI is the part of the API client the post detail uses.
type DetailAPI interface {
	PostAPI
	GetPost(ctx context.Context, id uint) (*models.Post, error)
	ListComments(ctx context.Context, postID uint) ([]models.Comment, error)
	CreateComment(ctx context.Context, postID uint, content string) (*models.CreateCommentResponse, error)
	UpdateComment(ctx context.Context, id uint, content string) (*models.Comment, error)
	DeleteComment(ctx context.Context, id uint) error
	UserLikes(ctx context.Context, userID uint) ([]models.UserLike, error)
	UserFavorites(ctx context.Context, userID uint) ([]models.UserFavorite, error)
}

// CommentView is a comment as rendered.
type CommentView struct {
	models.Comment
	Saving    bool
	Deleting  bool
	CanModify bool
}

// DetailSnapshot is a copy of one post with its comments. Post is nil until
// loaded and after the post is deleted.
type DetailSnapshot struct {
	Post       *PostView
	Comments   []CommentView
	Loading    bool
	Submitting bool
}

type commentBusy uint8

const (
	commentSaving commentBusy = iota + 1
	commentDeleting
)

// Detail is the controller of one post and its comments. It shares the
// table with the feed, so changes show up in both.
type Detail struct {
	actions
	detailAPI DetailAPI
	postID    uint

	mu         sync.Mutex
	loading    bool
	submitting bool
	busy       map[uint]commentBusy
}

func NewDetail(client DetailAPI, table *Table, sess Session, flags *featureflags.Flags, postID uint) *Detail {
	return &Detail{
		actions:   actions{api: client, table: table, sess: sess, flags: flags},
		detailAPI: client,
		postID:    postID,
		busy:      make(map[uint]commentBusy),
	}
}

// Close tears the detail down. In-flight requests still settle the shared
// table (confirm, roll back, remove) when their entity is there, but no
// longer reload or touch the detail's own state.
func (d *Detail) Close() {
	d.closed.Store(true)
}

// PostID is the post this detail shows.
func (d *Detail) PostID() uint { return d.postID }

func (d *Detail) Snapshot() DetailSnapshot {
	d.mu.Lock()
	snap := DetailSnapshot{Loading: d.loading, Submitting: d.submitting}
	busy := make(map[uint]commentBusy, len(d.busy))
	for k, v := range d.busy {
		busy[k] = v
	}
	d.mu.Unlock()

	if p, ok := d.table.Post(d.postID); ok {
		v := d.view(p)
		snap.Post = &v
	}
	for _, c := range d.table.Comments(d.postID) {
		snap.Comments = append(snap.Comments, CommentView{
			Comment:   c,
			Saving:    busy[c.ID] == commentSaving,
			Deleting:  busy[c.ID] == commentDeleting,
			CanModify: d.CanModify(c.UserID),
		})
	}
	return snap
}

// Load fetches the post, then its comments.
func (d *Detail) Load(ctx context.Context) error {
	if !d.open() {
		return ErrClosed
	}
	d.mu.Lock()
	d.loading = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.loading = false
		d.mu.Unlock()
	}()

	fields := map[string]interface{}{"post_id": d.postID}
	observability.LogAsyncOperationStart(ctx, "detail.load", fields)

	post, err := d.detailAPI.GetPost(ctx, d.postID)
	if err != nil {
		if models.IsCode(err, models.CodeNotFound) {
			d.table.RemovePost(d.postID)
		}
		d.handleErr(ctx, "detail.load", err)
		return err
	}
	comments, err := d.detailAPI.ListComments(ctx, d.postID)
	if err != nil {
		d.handleErr(ctx, "detail.load", err)
		return err
	}

	var (
		likes     []models.UserLike
		favorites []models.UserFavorite
		setsOK    bool
	)
	if uid, ok := d.sess.CurrentUserID(); ok {
		likes, err = d.detailAPI.UserLikes(ctx, uid)
		if err == nil {
			favorites, err = d.detailAPI.UserFavorites(ctx, uid)
		}
		if err != nil {
			d.handleErr(ctx, "detail.user_sets", err)
		} else {
			setsOK = true
		}
	}

	if !d.open() {
		return ErrClosed
	}
	d.table.UpsertPosts(*post)
	d.table.SetComments(d.postID, comments)
	if setsOK {
		d.table.ReplaceUserSets(likes, favorites)
	}

	fields["comments"] = len(comments)
	observability.LogAsyncOperationEnd(ctx, "detail.load", fields)
	return nil
}

// CreateComment posts a comment. The confirmed comment is shown at the
// top; without an echo the detail is reloaded.
func (d *Detail) CreateComment(ctx context.Context, content string) error {
	if !d.open() {
		return ErrClosed
	}
	if strings.TrimSpace(content) == "" {
		return models.NewValidationError("Comment cannot be empty")
	}
	if _, ok := d.sess.CurrentUserID(); !ok {
		return models.NewUnauthorizedError("You need to be signed in to comment")
	}

	d.mu.Lock()
	if d.submitting {
		d.mu.Unlock()
		return ErrActionInProgress
	}
	d.submitting = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.submitting = false
		d.mu.Unlock()
	}()

	fields := map[string]interface{}{"post_id": d.postID}
	observability.LogAsyncOperationStart(ctx, "comment.create", fields)
	resp, err := d.detailAPI.CreateComment(ctx, d.postID, content)
	if err != nil {
		d.handleErr(ctx, "comment.create", err)
		return err
	}
	observability.LogAsyncOperationEnd(ctx, "comment.create", fields)

	if resp != nil && resp.Comment != nil && d.table.HasPost(d.postID) {
		c := *resp.Comment
		if c.PostID == 0 {
			c.PostID = d.postID
		}
		d.table.prependComment(c)
		return nil
	}
	if !d.open() {
		return nil
	}
	return d.Load(ctx)
}

// EditComment replaces the content of a comment the user owns. Unchanged
// content is accepted without a request.
func (d *Detail) EditComment(ctx context.Context, commentID uint, content string) error {
	if !d.open() {
		return ErrClosed
	}
	c, ok := d.table.Comment(commentID)
	if !ok {
		return models.NewNotFoundError("Comment", commentID)
	}
	if !d.CanModify(c.UserID) {
		return models.NewForbiddenError("You can only edit your own comments")
	}
	if strings.TrimSpace(content) == "" {
		return models.NewValidationError("Comment cannot be empty")
	}
	if content == c.Content {
		return nil
	}
	if err := d.beginComment(commentID, commentSaving); err != nil {
		return err
	}
	defer d.endComment(commentID)

	fields := map[string]interface{}{"comment_id": commentID}
	observability.LogAsyncOperationStart(ctx, "comment.update", fields)
	updated, err := d.detailAPI.UpdateComment(ctx, commentID, content)
	if err != nil {
		d.handleErr(ctx, "comment.update", err)
		return err
	}
	observability.LogAsyncOperationEnd(ctx, "comment.update", fields)

	next := c
	next.Content = content
	if updated != nil {
		next = *updated
		if next.PostID == 0 {
			next.PostID = c.PostID
		}
	}
	d.table.replaceComment(next)
	return nil
}

// DeleteComment deletes a comment the user owns, then drops it locally and
// decrements the post's comment count.
func (d *Detail) DeleteComment(ctx context.Context, commentID uint) error {
	if !d.open() {
		return ErrClosed
	}
	c, ok := d.table.Comment(commentID)
	if !ok {
		return models.NewNotFoundError("Comment", commentID)
	}
	if !d.CanModify(c.UserID) {
		return models.NewForbiddenError("You can only delete your own comments")
	}
	if err := d.beginComment(commentID, commentDeleting); err != nil {
		return err
	}
	defer d.endComment(commentID)

	fields := map[string]interface{}{"comment_id": commentID}
	observability.LogAsyncOperationStart(ctx, "comment.delete", fields)
	if err := d.detailAPI.DeleteComment(ctx, commentID); err != nil {
		d.handleErr(ctx, "comment.delete", err)
		return err
	}
	observability.LogAsyncOperationEnd(ctx, "comment.delete", fields)

	d.table.removeComment(commentID)
	return nil
}

// CanModifyComment reports whether the user may edit or delete commentID.
func (d *Detail) CanModifyComment(commentID uint) bool {
	c, ok := d.table.Comment(commentID)
	return ok && d.CanModify(c.UserID)
}

func (d *Detail) beginComment(id uint, b commentBusy) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy[id] != 0 {
		return ErrActionInProgress
	}
	d.busy[id] = b
	return nil
}

func (d *Detail) endComment(id uint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.busy, id)
}
