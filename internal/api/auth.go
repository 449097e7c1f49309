package api

import (
	"context"
	"errors"
	"net/http"

	"forumclient/internal/models"
)

// Login exchanges credentials for a token. A 401 is reported as
// INVALID_CREDENTIALS rather than a session failure.
func (c *Client) Login(ctx context.Context, in models.LoginRequest) (*models.LoginResponse, error) {
	r, err := jsonRequest(http.MethodPost, "POST /auth/login", "/auth/login", in, false)
	if err != nil {
		return nil, err
	}
	var out models.LoginResponse
	if err := c.doJSON(ctx, r, &out); err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) && appErr.Status == http.StatusUnauthorized {
			return nil, models.NewInvalidCredentialsError()
		}
		return nil, err
	}
	if out.Token == "" || out.User.ID == 0 {
		return nil, &models.AppError{Code: models.CodeServer, Message: "Login response is missing token or user"}
	}
	c.assets.normalizeUser(&out.User)
	return &out, nil
}

// Register creates an account. It does not sign in.
func (c *Client) Register(ctx context.Context, in models.RegisterRequest) (*models.RegisterResponse, error) {
	r, err := jsonRequest(http.MethodPost, "POST /auth/register", "/auth/register", in, false)
	if err != nil {
		return nil, err
	}
	data, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	var out models.RegisterResponse
	decodeOptional(data, &out)
	if out.User != nil {
		c.assets.normalizeUser(out.User)
	}
	return &out, nil
}
