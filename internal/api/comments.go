package api

import (
	"context"
	"fmt"
	"net/http"

	"forumclient/internal/models"
)

// ListComments fetches the comments of a post.
func (c *Client) ListComments(ctx context.Context, postID uint) ([]models.Comment, error) {
	r := request{method: http.MethodGet, endpoint: "GET /comments/:postId", path: fmt.Sprintf("/comments/%d", postID)}
	var out []models.Comment
	if err := c.doJSON(ctx, r, &out); err != nil {
		return nil, err
	}
	for i := range out {
		c.assets.normalizeComment(&out[i])
	}
	return out, nil
}

// CreateComment adds a comment. The response Comment is nil when the
// backend does not echo it.
func (c *Client) CreateComment(ctx context.Context, postID uint, content string) (*models.CreateCommentResponse, error) {
	r, err := jsonRequest(http.MethodPost, "POST /comments/:postId", fmt.Sprintf("/comments/%d", postID),
		models.CommentRequest{Content: content}, true)
	if err != nil {
		return nil, err
	}
	data, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	var out models.CreateCommentResponse
	decodeOptional(data, &out)
	if out.Comment != nil {
		if out.Comment.ID == 0 {
			out.Comment = nil
		} else {
			c.assets.normalizeComment(out.Comment)
		}
	}
	return &out, nil
}

// UpdateComment edits a comment. It returns the echoed comment or nil.
func (c *Client) UpdateComment(ctx context.Context, id uint, content string) (*models.Comment, error) {
	r, err := jsonRequest(http.MethodPut, "PUT /comments/:id", fmt.Sprintf("/comments/%d", id),
		models.CommentRequest{Content: content}, true)
	if err != nil {
		return nil, err
	}
	data, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Comment *models.Comment `json:"comment"`
	}
	if decodeOptional(data, &wrapped) && wrapped.Comment != nil && wrapped.Comment.ID != 0 {
		c.assets.normalizeComment(wrapped.Comment)
		return wrapped.Comment, nil
	}
	return nil, nil
}

// DeleteComment deletes a comment owned by the signed-in user.
func (c *Client) DeleteComment(ctx context.Context, id uint) error {
	r := request{method: http.MethodDelete, endpoint: "DELETE /comments/:id", path: fmt.Sprintf("/comments/%d", id), auth: true}
	_, err := c.do(ctx, r)
	return err
}
