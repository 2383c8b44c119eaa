// Package storage defines the interface and implementations for Galleria's
// asset content store: the byte layer behind every registry record.
package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// ErrNotFound is returned by Read when no regular file exists at the path.
var ErrNotFound = errors.New("asset file not found")

// ErrRootNotFound is yielded by Walk when the store root does not exist.
var ErrRootNotFound = errors.New("store root not found")

// WriteError wraps any failure to persist bytes at Path.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing %q: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// WalkError reports a directory (or listing page) that could not be read
// during Walk. Traversal continues past it.
type WalkError struct {
	Dir string
	Err error
}

func (e *WalkError) Error() string {
	return fmt.Sprintf("reading directory %q: %v", e.Dir, e.Err)
}

func (e *WalkError) Unwrap() error { return e.Err }

// Backend stores asset bytes addressed by store-relative, forward-slash
// paths. All methods must be safe for concurrent use.
type Backend interface {
	// EnsureRoot idempotently creates the root and collection directories.
	EnsureRoot(ctx context.Context) error

	// Write persists data at rel atomically, creating parent directories.
	// Failures are returned as *WriteError.
	Write(ctx context.Context, rel string, data []byte) error

	// Read returns the bytes at rel, or ErrNotFound if rel is not a regular file.
	Read(ctx context.Context, rel string) ([]byte, error)

	// Delete removes the file at rel. A missing file is not an error.
	Delete(ctx context.Context, rel string) error

	// Exists reports whether a regular file exists at rel.
	Exists(ctx context.Context, rel string) (bool, error)

	// Walk lazily yields the relative path of every regular file in the store.
	// Order is unspecified. The sequence may be ranged over more than once;
	// each range starts a fresh traversal.
	Walk(ctx context.Context) iter.Seq2[string, error]

	// HealthCheck verifies that the backend is operational.
	HealthCheck(ctx context.Context) error
}
