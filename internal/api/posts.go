package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"forumclient/internal/models"
)

// ListPostsParams selects one page of the feed. Page is 1-based.
type ListPostsParams struct {
	Query string
	Page  int
	Limit int
}

// ListPosts fetches one page of posts matching Query.
func (c *Client) ListPosts(ctx context.Context, p ListPostsParams) ([]models.Post, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	q := url.Values{}
	q.Set("q", p.Query)
	q.Set("page", strconv.Itoa(p.Page))
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	r := request{method: http.MethodGet, endpoint: "GET /posts", path: "/posts?" + q.Encode()}

	var posts []models.Post
	if err := c.doJSON(ctx, r, &posts); err != nil {
		return nil, err
	}
	for i := range posts {
		c.assets.normalizePost(&posts[i])
	}
	return posts, nil
}

// GetPost fetches a single post.
func (c *Client) GetPost(ctx context.Context, id uint) (*models.Post, error) {
	r := request{method: http.MethodGet, endpoint: "GET /posts/:id", path: fmt.Sprintf("/posts/%d", id)}
	var post models.Post
	if err := c.doJSON(ctx, r, &post); err != nil {
		return nil, err
	}
	c.assets.normalizePost(&post)
	return &post, nil
}

// CreatePost creates a post and returns the echoed entity, or nil when the
// backend answers without one.
func (c *Client) CreatePost(ctx context.Context, in models.CreatePostRequest) (*models.Post, error) {
	r, err := jsonRequest(http.MethodPost, "POST /posts", "/posts", in, true)
	if err != nil {
		return nil, err
	}
	data, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Post *models.Post `json:"post"`
	}
	if decodeOptional(data, &wrapped) && wrapped.Post != nil && wrapped.Post.ID != 0 {
		c.assets.normalizePost(wrapped.Post)
		return wrapped.Post, nil
	}
	var direct models.Post
	if decodeOptional(data, &direct) && direct.ID != 0 {
		c.assets.normalizePost(&direct)
		return &direct, nil
	}
	return nil, nil
}

// DeletePost deletes a post owned by the signed-in user.
func (c *Client) DeletePost(ctx context.Context, id uint) error {
	r := request{method: http.MethodDelete, endpoint: "DELETE /posts/:id", path: fmt.Sprintf("/posts/%d", id), auth: true}
	_, err := c.do(ctx, r)
	return err
}

// ToggleLike flips the like of the signed-in user on a post.
func (c *Client) ToggleLike(ctx context.Context, id uint) (*models.LikeResult, error) {
	r := request{method: http.MethodPost, endpoint: "POST /posts/:id/like", path: fmt.Sprintf("/posts/%d/like", id), auth: true}
	data, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	var out models.LikeResult
	decodeOptional(data, &out)
	return &out, nil
}

// ToggleFavorite flips the favorite of the signed-in user on a post.
func (c *Client) ToggleFavorite(ctx context.Context, id uint) (*models.FavoriteResult, error) {
	r := request{method: http.MethodPost, endpoint: "POST /posts/:id/favorite", path: fmt.Sprintf("/posts/%d/favorite", id), auth: true}
	data, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	var out models.FavoriteResult
	decodeOptional(data, &out)
	return &out, nil
}

// UserLikes lists the posts a user liked.
func (c *Client) UserLikes(ctx context.Context, userID uint) ([]models.UserLike, error) {
	r := request{method: http.MethodGet, endpoint: "GET /users/:id/likes", path: fmt.Sprintf("/users/%d/likes", userID), auth: true}
	var out []models.UserLike
	if err := c.doJSON(ctx, r, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UserFavorites lists the posts a user favorited.
func (c *Client) UserFavorites(ctx context.Context, userID uint) ([]models.UserFavorite, error) {
	r := request{method: http.MethodGet, endpoint: "GET /users/:id/favorites", path: fmt.Sprintf("/users/%d/favorites", userID), auth: true}
	var out []models.UserFavorite
	if err := c.doJSON(ctx, r, &out); err != nil {
		return nil, err
	}
	return out, nil
}
