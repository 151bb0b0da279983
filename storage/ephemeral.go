package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/ruteri/principality/interfaces"
)

// EphemeralStore implements interfaces.Store with two process-local maps.
// Nothing is persisted; the contents die with the store.
// Not safe for concurrent use.
type EphemeralStore struct {
	namespace string
	blobs     map[string][]byte
	values    map[string]interfaces.Value
}

// NewEphemeralStore creates an empty in-memory store for namespace.
func NewEphemeralStore(namespace string) *EphemeralStore {
	return &EphemeralStore{
		namespace: namespace,
		blobs:     make(map[string][]byte),
		values:    make(map[string]interfaces.Value),
	}
}

// SaveBlob stores a copy of data at path.
func (s *EphemeralStore) SaveBlob(_ context.Context, path string, data []byte) error {
	key, err := interfaces.CleanBlobPath(path)
	if err != nil {
		return err
	}
	s.blobs[key] = cloneBytes(data)
	return nil
}

// LoadBlob returns a copy of the blob at path.
func (s *EphemeralStore) LoadBlob(_ context.Context, path string) ([]byte, bool, error) {
	key, err := interfaces.CleanBlobPath(path)
	if err != nil {
		return nil, false, err
	}
	data, ok := s.blobs[key]
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(data), true, nil
}

// ContainsBlob reports whether a blob is stored at path.
func (s *EphemeralStore) ContainsBlob(_ context.Context, path string) (bool, error) {
	key, err := interfaces.CleanBlobPath(path)
	if err != nil {
		return false, err
	}
	_, ok := s.blobs[key]
	return ok, nil
}

// ListBlobs returns all stored blob paths in sorted order.
func (s *EphemeralStore) ListBlobs(_ context.Context) ([]string, error) {
	paths := make([]string, 0, len(s.blobs))
	for p := range s.blobs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// DeleteBlob removes the blob at path. Deleting a missing blob is a no-op.
func (s *EphemeralStore) DeleteBlob(_ context.Context, path string) error {
	key, err := interfaces.CleanBlobPath(path)
	if err != nil {
		return err
	}
	delete(s.blobs, key)
	return nil
}

// SetValue stores the JSON form of value, as the durable stores do. Values
// that cannot be encoded as JSON are rejected and leave the store unchanged.
func (s *EphemeralStore) SetValue(_ context.Context, key string, value interfaces.Value) error {
	normalized, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("value for key %q: %w", key, err)
	}
	s.values[key] = normalized
	return nil
}

// GetValue returns a copy of the value stored under key.
func (s *EphemeralStore) GetValue(_ context.Context, key string) (interfaces.Value, bool, error) {
	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	out, err := normalizeValue(v)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// ContainsValue reports whether key has a value.
func (s *EphemeralStore) ContainsValue(_ context.Context, key string) (bool, error) {
	_, ok := s.values[key]
	return ok, nil
}

// DeleteValue removes key. Deleting a missing key is a no-op.
func (s *EphemeralStore) DeleteValue(_ context.Context, key string) error {
	delete(s.values, key)
	return nil
}

// Namespace returns the database name the store was created for.
func (s *EphemeralStore) Namespace() string {
	return s.namespace
}

// Name returns a unique identifier for this store.
func (s *EphemeralStore) Name() string {
	return fmt.Sprintf("temp-%s", s.namespace)
}

// LocationURI returns the URI that identifies this store.
func (s *EphemeralStore) LocationURI() string {
	return fmt.Sprintf("temp://%s", s.namespace)
}

// Available always reports true.
func (s *EphemeralStore) Available(context.Context) bool {
	return true
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
