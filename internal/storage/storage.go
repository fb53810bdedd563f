package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned when reading a path that does not exist.
var ErrNotFound = errors.New("file not found")

// WriteError reports a backend that rejected a write.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("storage write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// PutOptions is the capability bag passed through to the backend on writes.
type PutOptions struct {
	Visibility  string `json:"visibility,omitempty"` // "public" or "private", backend-dependent
	ContentType string `json:"content_type,omitempty"`
}

// URLOptions tunes how a temporary URL serves its response. Backends that
// cannot honor an option ignore it.
type URLOptions struct {
	ContentType        string `json:"content_type,omitempty"`
	ContentDisposition string `json:"content_disposition,omitempty"`
}

// Storage is the uniform interface over a byte-storage backend.
// Operations are I/O only; none are transactional with the database.
type Storage interface {
	// Put writes src under dir/filename (dir may be empty) and returns
	// the backend-relative path actually used.
	Put(ctx context.Context, src io.Reader, dir, filename string, opts PutOptions) (string, error)

	// Get returns the file content, or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	// Exists reports whether a file exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the file at path. Returns true if something was
	// removed; a missing path is false, not an error.
	Delete(ctx context.Context, path string) (bool, error)

	// URL returns the permanent public URL for the file.
	URL(path string) string

	// TemporaryURL returns a time-limited URL for the file. Backends
	// without native expiring URLs fall back to a locally signed URL,
	// or to the permanent URL as a last resort.
	TemporaryURL(ctx context.Context, path string, expiry time.Duration, opts URLOptions) (string, error)
}
