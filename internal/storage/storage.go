// Package storage provides the durable key-value persistence used for the
// session. Every backend survives process restarts except Memory.
package storage

import (
	"context"
	"fmt"
	"time"

	"forumclient/internal/config"
)

// Keys under which the session is persisted.
const (
	TokenKey = "userToken"
	UserKey  = "userData"
)

// Storage is a string key-value store.
//
// Get reports ok=false without an error for a missing key. Remove of a
// missing key succeeds. Errors are *models.AppError with CodeStorage.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Open builds the backend selected by cfg.StorageDriver.
func Open(ctx context.Context, cfg *config.Config) (Storage, error) {
	switch cfg.StorageDriver {
	case config.StorageFile:
		return NewFileStorage(cfg.StoragePath), nil
	case config.StorageSQLite:
		dsn := cfg.StorageDSN
		if dsn == "" {
			dsn = cfg.StoragePath
		}
		return OpenGorm(config.StorageSQLite, dsn)
	case config.StoragePostgres:
		return OpenGorm(config.StoragePostgres, cfg.StorageDSN)
	case config.StorageRedis:
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return OpenRedis(pingCtx, cfg.RedisURL, cfg.RedisKeyPrefix)
	case config.StorageMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
