package models

import "time"

// Comment represents a comment on a post.
type Comment struct {
	ID                uint      `json:"id"`
	PostID            uint      `json:"post_id"`
	UserID            uint      `json:"user_id"`
	Username          string    `json:"username,omitempty"`
	ProfilePictureURL string    `json:"profile_picture_url,omitempty"`
	Content           string    `json:"content"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CommentRequest is the body of POST /comments/:postId and PUT /comments/:id.
type CommentRequest struct {
	Content string `json:"content"`
}

// CreateCommentResponse is the body of POST /comments/:postId. Comment is
// nil when the backend does not echo the created entity.
type CreateCommentResponse struct {
	Message string   `json:"message,omitempty"`
	Comment *Comment `json:"comment,omitempty"`
}
