// Package api is the client for the forum REST backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"forumclient/internal/models"
	"forumclient/internal/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// DefaultTimeout bounds every request when no http.Client is supplied.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a rejected response is read for its message.
const maxErrorBody = 64 << 10

// TokenSource supplies the bearer token of the current session.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// Client issues requests against the backend. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	assets  *AssetResolver
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithTokenSource attaches the session token to authenticated requests.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithAssetBaseURL sets the host relative asset paths are resolved against.
func WithAssetBaseURL(base string) Option {
	return func(c *Client) { c.assets = NewAssetResolver(base) }
}

// NewClient creates a client for the API rooted at baseURL, e.g.
// "https://forum.example.com/api".
func NewClient(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
		assets:  NewAssetResolver(strings.TrimSuffix(baseURL, "/api")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Assets returns the resolver used for image URLs.
func (c *Client) Assets() *AssetResolver { return c.assets }

// request describes one API call. endpoint is the route template used as
// the metrics label.
type request struct {
	method      string
	endpoint    string
	path        string
	body        io.Reader
	contentType string
	auth        bool
}

func jsonRequest(method, endpoint, path string, payload any, auth bool) (request, error) {
	r := request{method: method, endpoint: endpoint, path: path, auth: auth}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return r, fmt.Errorf("encode %s body: %w", endpoint, err)
		}
		r.body = bytes.NewReader(data)
		r.contentType = "application/json"
	}
	return r, nil
}

// do sends r and returns the raw success body. Failures are *models.AppError
// except for context cancellation, which is returned as the context error.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	token := ""
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	if r.auth && token == "" {
		return nil, models.NewUnauthorizedError("You need to be signed in")
	}

	ctx, correlationID := observability.EnsureCorrelationID(ctx)
	requestID := uuid.NewString()
	span, ctx := observability.StartAPISpan(ctx, r.method, r.endpoint)
	defer span.End()
	span.AddAttributes(
		attribute.String("request.id", requestID),
		attribute.String("correlation.id", correlationID),
	)

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("build %s request: %w", r.endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("X-Correlation-ID", correlationID)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	observability.InjectHeaders(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.APIRequestDuration.WithLabelValues(r.endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.APIRequests.WithLabelValues(r.endpoint, "network_error").Inc()
		span.SetError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		observability.GlobalLogger.WarnContext(ctx, "api request failed",
			slog.String("endpoint", r.endpoint),
			slog.String("error", err.Error()),
		)
		return nil, models.NewNetworkError(err)
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	observability.APIRequests.WithLabelValues(r.endpoint, status).Inc()
	span.AddAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var body models.ErrorResponse
		_ = json.Unmarshal(raw, &body)
		appErr := models.NewServerError(resp.StatusCode, body.Text())
		span.SetError(appErr)
		observability.GlobalLogger.WarnContext(ctx, "api request rejected",
			slog.String("endpoint", r.endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("message", appErr.Message),
		)
		return nil, appErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		span.SetError(err)
		return nil, models.NewNetworkError(err)
	}
	observability.GlobalLogger.DebugContext(ctx, "api request completed",
		slog.String("endpoint", r.endpoint),
		slog.Int("status", resp.StatusCode),
	)
	return data, nil
}

// doJSON sends r and decodes a required JSON body into out.
func (c *Client) doJSON(ctx context.Context, r request, out any) error {
	data, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &models.AppError{
			Code:    models.CodeServer,
			Message: fmt.Sprintf("Malformed response from %s", r.endpoint),
			Err:     err,
		}
	}
	return nil
}

// decodeOptional decodes data into out when it holds a JSON object and
// reports whether it did. Empty or non-object bodies are not an error.
func decodeOptional(data []byte, out any) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// IsCanceled reports whether err came from a canceled or expired context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
