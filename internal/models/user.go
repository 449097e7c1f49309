// Package models contains the forum entities as seen by the client and the
// error taxonomy shared by every package.
package models

// UserProfile is the signed-in user as returned by the login endpoint.
type UserProfile struct {
	ID                uint   `json:"id"`
	Username          string `json:"username"`
	Email             string `json:"email,omitempty"`
	Bio               string `json:"bio,omitempty"`
	ProfilePictureURL string `json:"profile_picture_url,omitempty"`
}

// ProfilePatch is a partial update of a UserProfile. Nil fields are retained.
type ProfilePatch struct {
	Username          *string `json:"username,omitempty"`
	Email             *string `json:"email,omitempty"`
	Bio               *string `json:"bio,omitempty"`
	ProfilePictureURL *string `json:"profile_picture_url,omitempty"`
}

// Apply returns a copy of p with the non-nil patch fields overwritten.
// The ID is never patched.
func (patch ProfilePatch) Apply(p UserProfile) UserProfile {
	if patch.Username != nil {
		p.Username = *patch.Username
	}
	if patch.Email != nil {
		p.Email = *patch.Email
	}
	if patch.Bio != nil {
		p.Bio = *patch.Bio
	}
	if patch.ProfilePictureURL != nil {
		p.ProfilePictureURL = *patch.ProfilePictureURL
	}
	return p
}

// Empty reports whether the patch changes nothing.
func (patch ProfilePatch) Empty() bool {
	return patch.Username == nil && patch.Email == nil && patch.Bio == nil && patch.ProfilePictureURL == nil
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// LoginResponse is the body returned by POST /auth/login.
type LoginResponse struct {
	Token string      `json:"token"`
	User  UserProfile `json:"user"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse is the body returned by POST /auth/register.
type RegisterResponse struct {
	Message string       `json:"message"`
	User    *UserProfile `json:"user,omitempty"`
}
