package models

import "time"

// Post represents a forum post.
type Post struct {
	ID                uint      `json:"id"`
	Title             string    `json:"title"`
	Content           string    `json:"content"`
	ImageURL          string    `json:"image_url,omitempty"`
	UserID            uint      `json:"user_id"`
	Username          string    `json:"username,omitempty"`
	ProfilePictureURL string    `json:"profile_picture_url,omitempty"`
	LikesCount        int       `json:"likes_count"`
	CommentsCount     int       `json:"comments_count"`
	CreatedAt         time.Time `json:"created_at"`

	// Liked and Favorited are joined client-side from the per-user sets,
	// never read from the post payload.
	Liked     bool `json:"-"`
	Favorited bool `json:"-"`
}

// CreatePostRequest is the body of POST /posts. ImageURL is sent as null
// when the post has no image.
type CreatePostRequest struct {
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	ImageURL *string `json:"image_url"`
}

// UserLike is one entry of GET /users/:id/likes.
type UserLike struct {
	PostID uint `json:"post_id"`
}

// UserFavorite is one entry of GET /users/:id/favorites.
type UserFavorite struct {
	PostID uint `json:"post_id"`
}

// LikeResult is the optional body of POST /posts/:id/like. Fields are nil
// when the backend does not echo them.
type LikeResult struct {
	Liked      *bool `json:"liked,omitempty"`
	LikesCount *int  `json:"likes_count,omitempty"`
}

// FavoriteResult is the optional body of POST /posts/:id/favorite.
type FavoriteResult struct {
	Favorited *bool `json:"favorited,omitempty"`
}

// UploadResult is the body of POST /upload/post-image.
type UploadResult struct {
	ImageURL string `json:"imageUrl"`
}
