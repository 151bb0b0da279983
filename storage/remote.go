package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/principality/interfaces"
)

// DefaultRemoteTimeout bounds a remote call when no timeout is configured.
const DefaultRemoteTimeout = 30 * time.Second

// Envelope is the record shape returned by a RecordResource.
// The stored value sits under "value".
type Envelope map[string]any

const (
	envelopeKeyField   = "key"
	envelopeValueField = "value"
)

// NewEnvelope wraps value for storage under key.
func NewEnvelope(key string, value interfaces.Value) Envelope {
	return Envelope{envelopeKeyField: key, envelopeValueField: value}
}

// Value unwraps the stored value.
func (e Envelope) Value() interfaces.Value {
	return e[envelopeValueField]
}

// BlobResource is the blob side ("drive") of a remote service, scoped to one namespace.
type BlobResource interface {
	Put(ctx context.Context, name string, data []byte) error
	// Get returns found=false when name denotes no blob.
	Get(ctx context.Context, name string) (data []byte, found bool, err error)
	// Delete succeeds when name denotes no blob.
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// BlobStatter is implemented by blob resources with an existence check
// cheaper than listing.
type BlobStatter interface {
	Stat(ctx context.Context, name string) (bool, error)
}

// Pinger is implemented by resources with a dedicated health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RecordResource is the key/value side ("base") of a remote service, scoped to one namespace.
type RecordResource interface {
	Put(ctx context.Context, key string, record Envelope) error
	// Get returns found=false when key has no record.
	Get(ctx context.Context, key string) (record Envelope, found bool, err error)
	// Delete succeeds when key has no record.
	Delete(ctx context.Context, key string) error
}

// RemoteOptions tune a RemoteStore.
type RemoteOptions struct {
	// Service names the remote service, e.g. "vault".
	Service string
	// LocationURI identifies the remote location, credentials redacted.
	LocationURI string
	// Timeout bounds every call. Zero means DefaultRemoteTimeout.
	Timeout time.Duration
	Log     *slog.Logger
}

// RemoteStore implements interfaces.Store on top of a remote service exposing
// a blob resource and a record resource. Every call is bounded by a timeout;
// failures, including expiry, surface as interfaces.ErrNetwork. Nothing is
// retried and nothing is cached locally.
//
// Not safe for concurrent use.
type RemoteStore struct {
	namespace   string
	service     string
	blobs       BlobResource
	records     RecordResource
	timeout     time.Duration
	log         *slog.Logger
	locationURI string
}

// NewRemoteStore binds namespace to the given resources.
func NewRemoteStore(namespace string, blobs BlobResource, records RecordResource, opts RemoteOptions) (*RemoteStore, error) {
	if blobs == nil || records == nil {
		return nil, fmt.Errorf("%w: remote store needs both a blob and a record resource", interfaces.ErrConfiguration)
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	service := opts.Service
	if service == "" {
		service = "remote"
	}
	uri := opts.LocationURI
	if uri == "" {
		uri = fmt.Sprintf("%s://%s", service, namespace)
	}

	return &RemoteStore{
		namespace:   namespace,
		service:     service,
		blobs:       blobs,
		records:     records,
		timeout:     timeout,
		log:         log.With(slog.String("store", service), slog.String("namespace", namespace)),
		locationURI: uri,
	}, nil
}

// SaveBlob uploads data to the blob resource under the cleaned path.
func (s *RemoteStore) SaveBlob(ctx context.Context, path string, data []byte) error {
	name, err := interfaces.CleanBlobPath(path)
	if err != nil {
		return err
	}
	return s.call(ctx, "SaveBlob", name, func(ctx context.Context) error {
		return s.blobs.Put(ctx, name, data)
	})
}

// LoadBlob distinguishes a missing blob (found=false) from an empty one
// (found=true, len(data)==0).
func (s *RemoteStore) LoadBlob(ctx context.Context, path string) ([]byte, bool, error) {
	name, err := interfaces.CleanBlobPath(path)
	if err != nil {
		return nil, false, err
	}
	var (
		data  []byte
		found bool
	)
	err = s.call(ctx, "LoadBlob", name, func(ctx context.Context) error {
		var err error
		data, found, err = s.blobs.Get(ctx, name)
		return err
	})
	if err != nil || !found {
		return nil, false, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, true, nil
}

// ContainsBlob uses the resource's Stat when available, list membership otherwise.
func (s *RemoteStore) ContainsBlob(ctx context.Context, path string) (bool, error) {
	name, err := interfaces.CleanBlobPath(path)
	if err != nil {
		return false, err
	}

	var found bool
	if statter, ok := s.blobs.(BlobStatter); ok {
		err = s.call(ctx, "ContainsBlob", name, func(ctx context.Context) error {
			var err error
			found, err = statter.Stat(ctx, name)
			return err
		})
		return found, err
	}

	names, err := s.ListBlobs(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// ListBlobs returns every blob path the blob resource holds for the namespace.
func (s *RemoteStore) ListBlobs(ctx context.Context) ([]string, error) {
	var names []string
	err := s.call(ctx, "ListBlobs", "", func(ctx context.Context) error {
		var err error
		names, err = s.blobs.List(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// DeleteBlob removes the blob at path. Deleting a missing blob succeeds.
func (s *RemoteStore) DeleteBlob(ctx context.Context, path string) error {
	name, err := interfaces.CleanBlobPath(path)
	if err != nil {
		return err
	}
	return s.call(ctx, "DeleteBlob", name, func(ctx context.Context) error {
		return s.blobs.Delete(ctx, name)
	})
}

// SetValue wraps the JSON form of value in an Envelope and writes it to the
// record resource. Values that cannot be encoded fail before any call is made.
func (s *RemoteStore) SetValue(ctx context.Context, key string, value interfaces.Value) error {
	normalized, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("value for key %q: %w", key, err)
	}
	return s.call(ctx, "SetValue", key, func(ctx context.Context) error {
		return s.records.Put(ctx, key, NewEnvelope(key, normalized))
	})
}

// GetValue unwraps the record envelope. A missing record is reported as
// found=false, never as an error.
func (s *RemoteStore) GetValue(ctx context.Context, key string) (interfaces.Value, bool, error) {
	var (
		record Envelope
		found  bool
	)
	err := s.call(ctx, "GetValue", key, func(ctx context.Context) error {
		var err error
		record, found, err = s.records.Get(ctx, key)
		return err
	})
	if err != nil || !found {
		return nil, false, err
	}
	return record.Value(), true, nil
}

// ContainsValue fetches the record for key and reports whether it exists.
func (s *RemoteStore) ContainsValue(ctx context.Context, key string) (bool, error) {
	_, found, err := s.GetValue(ctx, key)
	return found, err
}

// DeleteValue removes the record for key. Deleting a missing key succeeds.
func (s *RemoteStore) DeleteValue(ctx context.Context, key string) error {
	return s.call(ctx, "DeleteValue", key, func(ctx context.Context) error {
		return s.records.Delete(ctx, key)
	})
}

// Namespace returns the database name the store is bound to.
func (s *RemoteStore) Namespace() string {
	return s.namespace
}

// Name returns a unique identifier for this store.
func (s *RemoteStore) Name() string {
	return fmt.Sprintf("%s-%s", s.service, s.namespace)
}

// LocationURI returns the URI that identifies this store.
func (s *RemoteStore) LocationURI() string {
	return s.locationURI
}

// Available pings the service, or lists the blob resource when it has no
// health endpoint.
func (s *RemoteStore) Available(ctx context.Context) bool {
	var err error
	if pinger, ok := s.blobs.(Pinger); ok {
		err = s.call(ctx, "Ping", "", pinger.Ping)
	} else {
		_, err = s.ListBlobs(ctx)
	}
	if err != nil {
		s.log.Warn("Remote store unavailable", "err", err)
		return false
	}
	return true
}

// encodeName maps a blob path or value key to a single path segment that is
// safe for services which treat "/" or "%" specially.
func encodeName(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

func decodeName(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("undecodable remote name %q: %w", encoded, err)
	}
	return string(raw), nil
}

// call runs fn under the store timeout and maps every failure to ErrNetwork.
func (s *RemoteStore) call(ctx context.Context, op, target string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		s.log.Debug("Remote call succeeded",
			slog.String("op", op),
			slog.String("target", target),
			slog.Duration("duration", time.Since(start)))
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %s %s timed out after %s: %v", interfaces.ErrNetwork, op, target, s.timeout, err)
	} else if !errors.Is(err, interfaces.ErrNetwork) {
		err = fmt.Errorf("%w: %s %s: %v", interfaces.ErrNetwork, op, target, err)
	}

	s.log.Error("Remote call failed",
		slog.String("op", op),
		slog.String("target", target),
		"err", err,
		slog.Duration("duration", time.Since(start)))
	return err
}
