package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"forumclient/internal/observability"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	prevProvider, prevTracer := otel.GetTracerProvider(), observability.Tracer
	prevPropagator := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
		observability.Tracer = prevTracer
	})

	sr := tracetest.NewSpanRecorder()
	observability.UseTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)), "test")
	return sr
}

func spanSystems(spans []sdktrace.ReadOnlySpan) []string {
	var out []string
	for _, span := range spans {
		for _, kv := range span.Attributes() {
			if kv.Key == "db.system" {
				out = append(out, kv.Value.AsString())
			}
		}
	}
	return out
}

func TestFileStorage_Spans(t *testing.T) {
	sr := recordSpans(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	s := NewFileStorage(path)

	require.NoError(t, s.Set(ctx, TokenKey, "t1"))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, _, err := s.Get(ctx, TokenKey)
	require.Error(t, err)

	ended := sr.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "storage.set", ended[0].Name())
	assert.Equal(t, trace.SpanKindInternal, ended[0].SpanKind())
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Equal(t, "storage.get", ended[1].Name())
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, []string{"file", "file"}, spanSystems(ended))
}

func TestRedisStorage_Spans(t *testing.T) {
	sr := recordSpans(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := NewRedisStorage(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "forumctl:")
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, UserKey, "{}"))
	_, ok, err := s.Get(ctx, TokenKey)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.Remove(ctx, UserKey))

	ended := sr.Ended()
	require.Len(t, ended, 3)
	for _, span := range ended {
		assert.Equal(t, trace.SpanKindClient, span.SpanKind())
		assert.Equal(t, codes.Unset, span.Status().Code, "a missing key is not a failure")
	}
	assert.Equal(t, []string{"redis", "redis", "redis"}, spanSystems(ended))
}
