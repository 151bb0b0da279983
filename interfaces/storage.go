// Package interfaces defines the Store capability shared by all storage
// backends and the error kinds they report.
package interfaces

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Value is a structured datum stored under a string key.
// Anything encoding/json can represent is accepted.
type Value = any

var (
	// ErrConfiguration is returned when a backend is missing required setup,
	// such as an empty service credential.
	ErrConfiguration = errors.New("storage configuration error")

	// ErrUnknownBackend is matched by UnknownBackendError.
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrIO is returned when the local filesystem cannot be read or written.
	ErrIO = errors.New("storage i/o failure")

	// ErrNetwork is returned when a remote service is unreachable, times out
	// or answers with an error status.
	ErrNetwork = errors.New("storage network failure")

	// ErrInvalidPath is returned for blob paths that are empty, absolute or
	// escape the namespace.
	ErrInvalidPath = errors.New("invalid blob path")
)

// UnknownBackendError reports a backend name that matches no registered constructor.
type UnknownBackendError struct {
	Requested string
	Known     []string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown storage backend %q (registered: %s)", e.Requested, strings.Join(e.Known, ", "))
}

// Is makes errors.Is(err, ErrUnknownBackend) hold.
func (e *UnknownBackendError) Is(target error) bool {
	return target == ErrUnknownBackend
}

// Store holds blobs addressed by path and values addressed by key within one
// namespace. The two spaces are disjoint.
//
// Absence is never an error: LoadBlob and GetValue report it through the found
// result, Contains* return false and Delete* are no-ops.
//
// Implementations do not synchronize. Concurrent use of one Store, or of two
// Stores bound to the same namespace, is the caller's responsibility.
type Store interface {
	// SaveBlob creates or replaces the blob at path.
	SaveBlob(ctx context.Context, path string, data []byte) error

	// LoadBlob returns the blob at path. found is false if there is none.
	LoadBlob(ctx context.Context, path string) (data []byte, found bool, err error)

	// ContainsBlob reports whether LoadBlob would find a blob at path.
	ContainsBlob(ctx context.Context, path string) (bool, error)

	// ListBlobs returns every stored blob path in no particular order.
	ListBlobs(ctx context.Context) ([]string, error)

	// DeleteBlob removes the blob at path if present.
	DeleteBlob(ctx context.Context, path string) error

	// SetValue upserts value under key.
	SetValue(ctx context.Context, key string, value Value) error

	// GetValue returns the value under key. found is false if there is none.
	GetValue(ctx context.Context, key string) (value Value, found bool, err error)

	// ContainsValue reports whether key has a value.
	ContainsValue(ctx context.Context, key string) (bool, error)

	// DeleteValue removes key if present.
	DeleteValue(ctx context.Context, key string) error

	// Namespace returns the database name the store is bound to.
	Namespace() string

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this store.
	LocationURI() string

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool
}

// CleanBlobPath normalizes a slash-separated blob path and rejects paths that
// are empty, absolute or leave the namespace.
func CleanBlobPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q leaves the namespace", ErrInvalidPath, p)
	}
	return cleaned, nil
}
