package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"forumclient/internal/models"
	"forumclient/internal/observability"
)

// FileStorage persists all keys in a single JSON document. Writes replace the
// file atomically through a temp file and rename.
type FileStorage struct {
	path string
	mu   sync.Mutex
	log  *observability.StorageLogger
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path, log: observability.NewStorageLogger("file")}
}

// Path returns the backing file location.
func (f *FileStorage) Path() string { return f.path }

func (f *FileStorage) Get(ctx context.Context, key string) (_ string, _ bool, err error) {
	span, ctx := observability.StartStorageSpan(ctx, "file", "get", key)
	defer func() { span.Finish(err) }()

	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		f.log.LogError(ctx, err, "get")
		return "", false, models.NewStorageError("read", err)
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileStorage) Set(ctx context.Context, key, value string) (err error) {
	span, ctx := observability.StartStorageSpan(ctx, "file", "set", key)
	defer func() { span.Finish(err) }()

	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		// Overwrite an unreadable document rather than failing every write.
		values = make(map[string]string)
	}
	values[key] = value
	if err := f.save(values); err != nil {
		f.log.LogError(ctx, err, "set")
		return models.NewStorageError("write", err)
	}
	f.log.LogWrite(ctx, key)
	return nil
}

func (f *FileStorage) Remove(ctx context.Context, key string) (err error) {
	span, ctx := observability.StartStorageSpan(ctx, "file", "remove", key)
	defer func() { span.Finish(err) }()

	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		values = make(map[string]string)
	} else if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	if err := f.save(values); err != nil {
		f.log.LogError(ctx, err, "remove")
		return models.NewStorageError("remove", err)
	}
	f.log.LogRemove(ctx, key)
	return nil
}

func (f *FileStorage) Close() error { return nil }

func (f *FileStorage) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}
	values := make(map[string]string)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return values, nil
}

func (f *FileStorage) save(values map[string]string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
