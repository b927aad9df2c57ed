// Package storage persists execution artifacts. Keys are slash separated
// relative paths such as "executions/report/<key>/summary.xlsx".
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned by Open for unknown keys.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidKey is returned for empty, absolute or escaping keys.
	ErrInvalidKey = errors.New("invalid artifact key")
)

// Store is an artifact backend.
type Store interface {
	// Put stores the content of r under key and returns the stored key.
	Put(ctx context.Context, key string, r io.Reader, size int64) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Type selects a backend.
type Type string

const (
	TypeFS Type = "fs"
	TypeS3 Type = "s3"
)

// Options configures New.
type Options struct {
	Type Type
	// Dir is the FileStore root.
	Dir string
	S3  S3Config
}

// New returns the backend selected by opts.Type.
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Type {
	case TypeFS, "":
		return NewFileStore(opts.Dir)
	case TypeS3:
		return NewS3Store(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", opts.Type)
	}
}

// CleanKey normalizes key and rejects keys that would escape the store.
func CleanKey(key string) (string, error) {
	k := strings.ReplaceAll(key, "\\", "/")
	if k == "" || strings.HasPrefix(k, "/") || strings.ContainsRune(k, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(k, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	k = path.Clean(k)
	if k == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return k, nil
}
