package session

import (
	"context"
	"errors"
	"strings"
)

// Separator delimits the segments of a store path.
const Separator = "."

var (
	ErrInvalidPath = errors.New("invalid session path")
	ErrConflict    = errors.New("session update conflict")
)

// Store is a hierarchical key-value store scoped to one session.
// Paths address nested values, e.g. "_cart.item1.quantity".
type Store interface {
	// Get returns the value at path, or def when any segment is missing.
	Get(ctx context.Context, path string, def any) (any, error)

	// Put writes value at path, creating intermediate objects as needed.
	Put(ctx context.Context, path string, value any) error

	// Forget removes the value at path. It reports whether anything was removed;
	// a missing path is not an error.
	Forget(ctx context.Context, path string) (bool, error)
}

// Backend hands out stores for individual sessions.
type Backend interface {
	Session(id string) Store
	Close() error
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, Separator)
}

// Split breaks a path into its segments. Empty paths and empty segments
// are rejected.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}
	segments := strings.Split(path, Separator)
	for _, s := range segments {
		if s == "" {
			return nil, ErrInvalidPath
		}
	}
	return segments, nil
}
