package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestLogger_AddsContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "production", "debug")

	ctx := WithUserID(WithCorrelationID(context.Background(), "req-1"), 7)
	logger.InfoContext(ctx, "hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "req-1", line["correlation_id"])
	assert.Equal(t, float64(7), line["user_id"])
}

func TestEnsureCorrelationID(t *testing.T) {
	ctx, id := EnsureCorrelationID(context.Background())
	require.NotEmpty(t, id)

	same, again := EnsureCorrelationID(ctx)
	assert.Equal(t, id, again)
	assert.Equal(t, ctx, same)
}

func TestInitTracing_DisabledNoopSpan(t *testing.T) {
	shutdown, err := InitTracing(TracingConfig{ServiceName: "forumclient-test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	span, _ := NewSpan(context.Background(), "noop")
	span.SetError(assert.AnError)
	span.End()
}
