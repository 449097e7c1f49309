// Package media picks images for post creation and prepares them for upload.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPermissionDenied means the user did not grant access to images.
	// Post creation continues without an image.
	ErrPermissionDenied = errors.New("media: permission denied")
	// ErrNoSelection means the picker was dismissed without choosing.
	ErrNoSelection = errors.New("media: no image selected")
)

// Picker is the gallery boundary: access must be granted before picking.
type Picker interface {
	RequestPermission(ctx context.Context) (bool, error)
	Pick(ctx context.Context) (string, error)
}

// FilePicker picks a file under Root. Permission is granted when Root is a
// readable directory.
type FilePicker struct {
	Root string
	// Selected is the chosen file, absolute or relative to Root.
	Selected string
}

// RequestPermission reports whether Root can be listed.
func (p *FilePicker) RequestPermission(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := os.Open(p.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return false, nil
		}
		return false, err
	}
	defer dir.Close()
	info, err := dir.Stat()
	if err != nil || !info.IsDir() {
		return false, nil
	}
	if _, err := dir.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return false, nil
	}
	return true, nil
}

// Pick returns the absolute path of Selected. Files outside Root are refused.
func (p *FilePicker) Pick(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(p.Selected) == "" {
		return "", ErrNoSelection
	}
	root, err := filepath.Abs(p.Root)
	if err != nil {
		return "", err
	}
	path := p.Selected
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrPermissionDenied, path, root)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("media: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("media: %s is a directory", path)
	}
	return path, nil
}

// PickImage asks for permission, then picks. A refusal is ErrPermissionDenied.
func PickImage(ctx context.Context, p Picker) (string, error) {
	granted, err := p.RequestPermission(ctx)
	if err != nil {
		return "", err
	}
	if !granted {
		return "", ErrPermissionDenied
	}
	return p.Pick(ctx)
}
