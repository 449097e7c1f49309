package viewstate

import (
	"context"
	"log/slog"
	"sync/atomic"

	"forumclient/internal/featureflags"
	"forumclient/internal/models"
	"forumclient/internal/observability"
)

// PostAPI is the part of the API client that mutates a single post.
type PostAPI interface {
	ToggleLike(ctx context.Context, postID uint) (*models.LikeResult, error)
	ToggleFavorite(ctx context.Context, postID uint) (*models.FavoriteResult, error)
	DeletePost(ctx context.Context, postID uint) error
}

// Session is what controllers need from the session store.
type Session interface {
	CurrentUserID() (uint, bool)
	SignOutOnAuthFailure(ctx context.Context, err error) bool
}

// actions implements the optimistic contract on top of a Table. Feed and
// Detail embed it.
type actions struct {
	api    PostAPI
	table  *Table
	sess   Session
	flags  *featureflags.Flags
	closed atomic.Bool
}

func (a *actions) userID() uint {
	id, _ := a.sess.CurrentUserID()
	return id
}

func (a *actions) open() bool { return !a.closed.Load() }

// CanModify reports whether the signed-in user authored the entity.
func (a *actions) CanModify(authorID uint) bool {
	id, ok := a.sess.CurrentUserID()
	return ok && id != 0 && id == authorID
}

// handleErr forces sign out on a rejected session when enabled.
func (a *actions) handleErr(ctx context.Context, op string, err error) {
	observability.LogAsyncOperationError(ctx, op, err, nil)
	if a.flags.Enabled(featureflags.ForcedSignOut, a.userID()) {
		if a.sess.SignOutOnAuthFailure(ctx, err) {
			a.table.ClearUserSets()
		}
	}
}

// ToggleLike applies the like flip locally, then confirms it with the
// server. On failure the flip is undone unless rollback is disabled.
func (a *actions) ToggleLike(ctx context.Context, postID uint) error {
	return a.toggle(ctx, ActionLike, postID, func(ctx context.Context) error {
		res, err := a.api.ToggleLike(ctx, postID)
		if err == nil {
			a.table.confirmLike(postID, res)
		}
		return err
	})
}

// ToggleFavorite is ToggleLike for favorites.
func (a *actions) ToggleFavorite(ctx context.Context, postID uint) error {
	return a.toggle(ctx, ActionFavorite, postID, func(ctx context.Context) error {
		res, err := a.api.ToggleFavorite(ctx, postID)
		if err == nil {
			a.table.confirmFavorite(postID, res)
		}
		return err
	})
}

func (a *actions) toggle(ctx context.Context, action Action, postID uint, call func(context.Context) error) error {
	if !a.open() {
		return ErrClosed
	}
	if _, ok := a.sess.CurrentUserID(); !ok {
		return models.NewUnauthorizedError("You need to be signed in")
	}
	if err := a.table.begin(action, postID); err != nil {
		return err
	}
	defer a.table.end(action, postID)

	undo, ok := a.table.applyToggle(action, postID)
	if !ok {
		return ErrUnknownPost
	}

	op := "post." + string(action)
	fields := map[string]interface{}{"post_id": postID}
	observability.LogAsyncOperationStart(ctx, op, fields)

	err := call(ctx)
	if err == nil {
		observability.LogAsyncOperationEnd(ctx, op, fields)
		return nil
	}

	// The table is shared with other views, so the undo applies even after
	// Close.
	if a.flags.Enabled(featureflags.OptimisticRollback, a.userID()) {
		a.table.undoToggle(action, postID, undo)
		observability.OptimisticRollbacks.WithLabelValues(string(action)).Inc()
		observability.GlobalLogger.InfoContext(ctx, "rolled back optimistic toggle",
			slog.String("action", string(action)),
			slog.Any("post_id", postID),
		)
	}
	a.handleErr(ctx, op, err)
	return err
}

// DeletePost deletes a post the user owns. The post leaves the table only
// after the server confirms.
func (a *actions) DeletePost(ctx context.Context, postID uint) error {
	if !a.open() {
		return ErrClosed
	}
	p, ok := a.table.Post(postID)
	if !ok {
		return ErrUnknownPost
	}
	if !a.CanModify(p.UserID) {
		return models.NewForbiddenError("You can only delete your own posts")
	}
	if err := a.table.begin(ActionDelete, postID); err != nil {
		return err
	}
	defer a.table.end(ActionDelete, postID)

	fields := map[string]interface{}{"post_id": postID}
	observability.LogAsyncOperationStart(ctx, "post.delete", fields)
	if err := a.api.DeletePost(ctx, postID); err != nil {
		a.handleErr(ctx, "post.delete", err)
		return err
	}
	a.table.RemovePost(postID)
	observability.LogAsyncOperationEnd(ctx, "post.delete", fields)
	return nil
}
