package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"forumclient/internal/models"
)

// UploadFieldName is the multipart field the backend reads the image from.
const UploadFieldName = "postImage"

// UploadPostImage sends an image and returns its absolute URL.
func (c *Client) UploadPostImage(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, UploadFieldName, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}

	r := request{
		method:      http.MethodPost,
		endpoint:    "POST /upload/post-image",
		path:        "/upload/post-image",
		body:        &buf,
		contentType: w.FormDataContentType(),
		auth:        true,
	}
	var out models.UploadResult
	if err := c.doJSON(ctx, r, &out); err != nil {
		return "", err
	}
	resolved, err := c.assets.Resolve(out.ImageURL)
	if err != nil {
		return "", err
	}
	if resolved == "" {
		return "", &models.AppError{Code: models.CodeServer, Message: "Upload response is missing imageUrl"}
	}
	return resolved, nil
}
