package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"forumclient/internal/models"
	"forumclient/internal/observability"

	"github.com/redis/go-redis/v9"
)

type metricsHook struct{}

func (h metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			observability.StorageErrors.WithLabelValues("redis", cmd.Name()).Inc()
		}
		return err
	}
}

func (h metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			observability.StorageErrors.WithLabelValues("redis", "pipeline").Inc()
		}
		return err
	}
}

// RedisStorage stores keys in Redis under a prefix, so several profiles can
// share one instance.
type RedisStorage struct {
	client *redis.Client
	prefix string
	log    *observability.StorageLogger
}

// OpenRedis connects to addr, which is either host:port or a redis:// URL,
// and fails when the server does not answer a ping.
func OpenRedis(ctx context.Context, addr, prefix string) (*RedisStorage, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL %q: %w", addr, err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)
	client.AddHook(metricsHook{})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis unreachable at %s: %w", opts.Addr, err)
	}
	return NewRedisStorage(client, prefix), nil
}

// NewRedisStorage wraps an existing client.
func NewRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	return &RedisStorage{client: client, prefix: prefix, log: observability.NewStorageLogger("redis")}
}

func (s *RedisStorage) key(k string) string { return s.prefix + k }

func (s *RedisStorage) Get(ctx context.Context, key string) (_ string, _ bool, err error) {
	span, ctx := observability.StartStorageSpan(ctx, "redis", "get", key)
	defer func() { span.Finish(err) }()

	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		s.log.LogError(ctx, err, "get")
		return "", false, models.NewStorageError("read", err)
	}
	return v, true, nil
}

// Set stores without expiry; the session lives until sign-out.
func (s *RedisStorage) Set(ctx context.Context, key, value string) (err error) {
	span, ctx := observability.StartStorageSpan(ctx, "redis", "set", key)
	defer func() { span.Finish(err) }()

	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		s.log.LogError(ctx, err, "set")
		return models.NewStorageError("write", err)
	}
	s.log.LogWrite(ctx, key)
	return nil
}

func (s *RedisStorage) Remove(ctx context.Context, key string) (err error) {
	span, ctx := observability.StartStorageSpan(ctx, "redis", "remove", key)
	defer func() { span.Finish(err) }()

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		s.log.LogError(ctx, err, "remove")
		return models.NewStorageError("remove", err)
	}
	s.log.LogRemove(ctx, key)
	return nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}
