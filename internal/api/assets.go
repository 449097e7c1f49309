package api

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"forumclient/internal/models"
	"forumclient/internal/observability"
)

// uploadsPrefix is the only relative path family the backend serves.
const uploadsPrefix = "/uploads/"

// AssetResolver turns image URLs from API payloads into absolute URLs.
type AssetResolver struct {
	base string
}

// NewAssetResolver resolves relative paths against base, the server root
// without the /api suffix.
func NewAssetResolver(base string) *AssetResolver {
	return &AssetResolver{base: strings.TrimRight(base, "/")}
}

// Resolve returns the absolute form of raw. Blank input resolves to "" with
// no error. Anything that is neither a well formed http(s) URL nor an
// /uploads/ path is an INVALID_ASSET error.
func (r *AssetResolver) Resolve(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if !isAbsoluteHTTP(raw) {
			return "", models.NewInvalidAssetError(raw)
		}
		return raw, nil
	}

	if strings.HasPrefix(raw, uploadsPrefix) {
		full := r.base + raw
		if !isAbsoluteHTTP(full) {
			return "", models.NewInvalidAssetError(raw)
		}
		return full, nil
	}

	return "", models.NewInvalidAssetError(raw)
}

// Normalize is Resolve for rendering paths: an unusable URL degrades to ""
// so callers show a placeholder.
func (r *AssetResolver) Normalize(raw string) string {
	resolved, err := r.Resolve(raw)
	if err != nil {
		observability.GlobalLogger.WarnContext(context.Background(), "dropping unrecognized asset url",
			slog.String("url", raw),
		)
		return ""
	}
	return resolved
}

func (r *AssetResolver) normalizePost(p *models.Post) {
	p.ImageURL = r.Normalize(p.ImageURL)
	p.ProfilePictureURL = r.Normalize(p.ProfilePictureURL)
}

func (r *AssetResolver) normalizeComment(c *models.Comment) {
	c.ProfilePictureURL = r.Normalize(c.ProfilePictureURL)
}

func (r *AssetResolver) normalizeUser(u *models.UserProfile) {
	u.ProfilePictureURL = r.Normalize(u.ProfilePictureURL)
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
