// Package viewstate holds the client-side copy of server data that the
// presentation layer renders: a normalized entity table shared by the feed
// and post detail controllers, plus the optimistic mutation rules applied to
// it.
package viewstate

import (
	"errors"
	"sync"

	"forumclient/internal/models"
)

var (
	// ErrActionInProgress refuses a toggle while the same toggle on the same
	// post is still waiting for the server.
	ErrActionInProgress = errors.New("viewstate: action already in progress")
	// ErrFetchInFlight refuses a refresh or next-page load while a page of
	// the same search is being fetched.
	ErrFetchInFlight = errors.New("viewstate: fetch already in flight")
	// ErrSuperseded is returned when a response arrived for a search that
	// has since been replaced; the response was discarded.
	ErrSuperseded = errors.New("viewstate: response superseded by a newer search")
	// ErrClosed is returned by a controller after Close.
	ErrClosed = errors.New("viewstate: controller closed")
	// ErrUnknownPost means the post is not in the table.
	ErrUnknownPost = errors.New("viewstate: unknown post")
)

// Action names a per-post operation that can be in flight.
type Action string

const (
	ActionLike     Action = "like"
	ActionFavorite Action = "favorite"
	ActionDelete   Action = "delete"
)

type actionKey struct {
	action Action
	postID uint
}

// toggleUndo records what an optimistic toggle changed so it can be undone.
type toggleUndo struct {
	prevFlag bool
	delta    int
}

// Table is the normalized store of posts and comments keyed by id. Liked
// and favorited flags live in per-user sets and are joined when a post is
// read.
type Table struct {
	mu        sync.RWMutex
	posts     map[uint]models.Post
	comments  map[uint]models.Comment
	byPost    map[uint][]uint
	liked     map[uint]bool
	favorited map[uint]bool
	pending   map[actionKey]bool
}

func NewTable() *Table {
	return &Table{
		posts:     make(map[uint]models.Post),
		comments:  make(map[uint]models.Comment),
		byPost:    make(map[uint][]uint),
		liked:     make(map[uint]bool),
		favorited: make(map[uint]bool),
		pending:   make(map[actionKey]bool),
	}
}

// UpsertPosts stores the server copies of posts.
func (t *Table) UpsertPosts(posts ...models.Post) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range posts {
		p.Liked, p.Favorited = false, false
		t.posts[p.ID] = p
	}
}

// Post returns a post with its liked and favorited flags joined.
func (t *Table) Post(id uint) (models.Post, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.postLocked(id)
}

func (t *Table) postLocked(id uint) (models.Post, bool) {
	p, ok := t.posts[id]
	if !ok {
		return models.Post{}, false
	}
	p.Liked = t.liked[id]
	p.Favorited = t.favorited[id]
	return p, true
}

// Posts returns the posts for ids in order, skipping ids no longer present.
func (t *Table) Posts(ids []uint) []models.Post {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := t.postLocked(id); ok {
			out = append(out, p)
		}
	}
	return out
}

// HasPost reports whether id is in the table.
func (t *Table) HasPost(id uint) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.posts[id]
	return ok
}

// RemovePost drops a post and its comments.
func (t *Table) RemovePost(id uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.posts, id)
	for _, cid := range t.byPost[id] {
		delete(t.comments, cid)
	}
	delete(t.byPost, id)
}

// ReplaceUserSets installs the signed-in user's liked and favorited post ids.
// Posts with a toggle in flight keep their optimistic flag.
func (t *Table) ReplaceUserSets(likes []models.UserLike, favorites []models.UserFavorite) {
	liked := make(map[uint]bool, len(likes))
	for _, l := range likes {
		liked[l.PostID] = true
	}
	favorited := make(map[uint]bool, len(favorites))
	for _, f := range favorites {
		favorited[f.PostID] = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.pending {
		switch key.action {
		case ActionLike:
			setBool(liked, key.postID, t.liked[key.postID])
		case ActionFavorite:
			setBool(favorited, key.postID, t.favorited[key.postID])
		}
	}
	t.liked = liked
	t.favorited = favorited
}

// ClearUserSets forgets the per-user flags, e.g. after sign out.
func (t *Table) ClearUserSets() {
	t.ReplaceUserSets(nil, nil)
}

// Busy reports whether action is in flight for postID.
func (t *Table) Busy(action Action, postID uint) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pending[actionKey{action, postID}]
}

// begin marks action in flight. It fails when it already is.
func (t *Table) begin(action Action, postID uint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.posts[postID]; !ok {
		return ErrUnknownPost
	}
	key := actionKey{action, postID}
	if t.pending[key] {
		return ErrActionInProgress
	}
	t.pending[key] = true
	return nil
}

func (t *Table) end(action Action, postID uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, actionKey{action, postID})
}

// applyToggle flips the flag of action on postID and adjusts the like
// counter, clamped at zero. It returns what to undo.
func (t *Table) applyToggle(action Action, postID uint) (toggleUndo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.posts[postID]
	if !ok {
		return toggleUndo{}, false
	}

	switch action {
	case ActionLike:
		prev := t.liked[postID]
		setBool(t.liked, postID, !prev)
		delta := 1
		if prev {
			delta = -1
		}
		before := p.LikesCount
		p.LikesCount = clampCount(p.LikesCount + delta)
		t.posts[postID] = p
		return toggleUndo{prevFlag: prev, delta: p.LikesCount - before}, true
	case ActionFavorite:
		prev := t.favorited[postID]
		setBool(t.favorited, postID, !prev)
		return toggleUndo{prevFlag: prev}, true
	}
	return toggleUndo{}, false
}

// undoToggle reverts an applyToggle.
func (t *Table) undoToggle(action Action, postID uint, u toggleUndo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.posts[postID]
	if !ok {
		return
	}
	switch action {
	case ActionLike:
		setBool(t.liked, postID, u.prevFlag)
		p.LikesCount = clampCount(p.LikesCount - u.delta)
		t.posts[postID] = p
	case ActionFavorite:
		setBool(t.favorited, postID, u.prevFlag)
	}
}

// confirmLike replaces optimistic like state with the server's values.
func (t *Table) confirmLike(postID uint, r *models.LikeResult) {
	if r == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.posts[postID]
	if !ok {
		return
	}
	if r.Liked != nil {
		setBool(t.liked, postID, *r.Liked)
	}
	if r.LikesCount != nil {
		p.LikesCount = clampCount(*r.LikesCount)
		t.posts[postID] = p
	}
}

func (t *Table) confirmFavorite(postID uint, r *models.FavoriteResult) {
	if r == nil || r.Favorited == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.posts[postID]; ok {
		setBool(t.favorited, postID, *r.Favorited)
	}
}

// SetComments replaces the comments of postID, keeping the given order.
func (t *Table) SetComments(postID uint, comments []models.Comment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cid := range t.byPost[postID] {
		delete(t.comments, cid)
	}
	ids := make([]uint, 0, len(comments))
	seen := make(map[uint]bool, len(comments))
	for _, c := range comments {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		t.comments[c.ID] = c
		ids = append(ids, c.ID)
	}
	t.byPost[postID] = ids
}

// Comments returns the comments of postID in display order.
func (t *Table) Comments(postID uint) []models.Comment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.byPost[postID]
	out := make([]models.Comment, 0, len(ids))
	for _, id := range ids {
		if c, ok := t.comments[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Comment returns one comment.
func (t *Table) Comment(id uint) (models.Comment, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.comments[id]
	return c, ok
}

// prependComment inserts a confirmed comment at the top of its post and
// bumps the post's comment counter.
func (t *Table) prependComment(c models.Comment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.comments[c.ID]; exists {
		t.comments[c.ID] = c
		return
	}
	t.comments[c.ID] = c
	t.byPost[c.PostID] = append([]uint{c.ID}, t.byPost[c.PostID]...)
	if p, ok := t.posts[c.PostID]; ok {
		p.CommentsCount = clampCount(p.CommentsCount + 1)
		t.posts[c.PostID] = p
	}
}

// replaceComment updates a comment in place. It is a no-op for unknown ids.
func (t *Table) replaceComment(c models.Comment) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.comments[c.ID]; !ok {
		return false
	}
	t.comments[c.ID] = c
	return true
}

// removeComment drops a comment and decrements its post's counter, clamped
// at zero.
func (t *Table) removeComment(id uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.comments[id]
	if !ok {
		return false
	}
	delete(t.comments, id)
	ids := t.byPost[c.PostID]
	for i, cid := range ids {
		if cid == id {
			t.byPost[c.PostID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if p, ok := t.posts[c.PostID]; ok {
		p.CommentsCount = clampCount(p.CommentsCount - 1)
		t.posts[c.PostID] = p
	}
	return true
}

func clampCount(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func setBool(m map[uint]bool, id uint, v bool) {
	if v {
		m[id] = true
	} else {
		delete(m, id)
	}
}
