package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/ruteri/principality/interfaces"
)

// tempMarker tags in-flight files written by writeFileAtomic.
const tempMarker = ".tmp-"

// LocalStore implements interfaces.Store on the local file system.
//
// Blobs are files under <baseDir>/<namespace>/. Values live in a single JSON
// document, <baseDir>/<namespace>.json, which is read once at construction
// and rewritten in full on every mutation. Reads never touch the document
// after construction; each write costs the size of the whole value space.
// Every write is staged in baseDir and renamed into place, so the namespace
// directory only ever holds complete blobs.
//
// Blob paths map onto the directory tree: a path cannot name a blob while
// other blobs live beneath it, and a blob cannot be stored beneath another
// blob. Such saves fail with interfaces.ErrInvalidPath.
//
// Not safe for concurrent use, including by several processes sharing baseDir.
type LocalStore struct {
	namespace   string
	baseDir     string
	dir         string
	file        string
	values      map[string]interfaces.Value
	log         *slog.Logger
	locationURI string
}

// NewLocalStore opens the namespace under baseDir, creating the directories and
// an empty value document if they do not exist. A value document that is not
// a JSON object is logged and replaced by an empty mapping in memory.
func NewLocalStore(baseDir, namespace string, log *slog.Logger) (*LocalStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if baseDir == "" {
		return nil, fmt.Errorf("%w: empty database directory", interfaces.ErrConfiguration)
	}
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}

	dir := filepath.Join(baseDir, namespace)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create namespace directory: %v", interfaces.ErrIO, err)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}

	s := &LocalStore{
		namespace:   namespace,
		baseDir:     baseDir,
		dir:         dir,
		file:        filepath.Join(baseDir, namespace+".json"),
		log:         log.With(slog.String("store", "local"), slog.String("namespace", namespace)),
		locationURI: fmt.Sprintf("file://%s", filepath.ToSlash(absDir)),
	}

	if err := s.loadValues(); err != nil {
		return nil, err
	}
	return s, nil
}

// SaveBlob writes data to the file at path, replacing it atomically.
func (s *LocalStore) SaveBlob(_ context.Context, path string, data []byte) error {
	filePath, err := s.getFilePath(path)
	if err != nil {
		return err
	}

	// Check the path against blobs already in the tree
	if err := s.checkPathConflict(filePath, path); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %v", interfaces.ErrIO, err)
	}
	if err := writeFileAtomic(filePath, s.baseDir, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write blob %s: %v", interfaces.ErrIO, path, err)
	}

	s.log.Debug("Stored blob in file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))
	return nil
}

// LoadBlob reads the whole file at path.
func (s *LocalStore) LoadBlob(_ context.Context, path string) ([]byte, bool, error) {
	filePath, err := s.getFilePath(path)
	if err != nil {
		return nil, false, err
	}

	isFile, err := regularFileExists(filePath)
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to stat blob %s: %v", interfaces.ErrIO, path, err)
	}
	if !isFile {
		return nil, false, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: failed to read blob %s: %v", interfaces.ErrIO, path, err)
	}
	if data == nil {
		data = []byte{}
	}

	s.log.Debug("Fetched blob from file",
		slog.String("path", filePath),
		slog.Int("size", len(data)))
	return data, true, nil
}

// ContainsBlob reports whether a regular file exists at path. Directories are
// never blobs.
func (s *LocalStore) ContainsBlob(_ context.Context, path string) (bool, error) {
	filePath, err := s.getFilePath(path)
	if err != nil {
		return false, err
	}
	isFile, err := regularFileExists(filePath)
	if err != nil {
		return false, fmt.Errorf("%w: failed to stat blob %s: %v", interfaces.ErrIO, path, err)
	}
	return isFile, nil
}

// ListBlobs returns the slash-separated paths of all files under the namespace directory.
func (s *LocalStore) ListBlobs(_ context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == s.dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list blobs: %v", interfaces.ErrIO, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// DeleteBlob removes the file at path and any directories it leaves empty.
func (s *LocalStore) DeleteBlob(_ context.Context, path string) error {
	filePath, err := s.getFilePath(path)
	if err != nil {
		return err
	}

	// Check if file exists
	isFile, err := regularFileExists(filePath)
	if err != nil {
		return fmt.Errorf("%w: failed to stat blob %s: %v", interfaces.ErrIO, path, err)
	}
	if !isFile {
		return nil
	}

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: failed to delete blob %s: %v", interfaces.ErrIO, path, err)
	}
	s.pruneEmptyParents(filepath.Dir(filePath))

	s.log.Debug("Deleted blob file", slog.String("path", filePath))
	return nil
}

// SetValue stores the JSON form of value and rewrites the value document.
func (s *LocalStore) SetValue(_ context.Context, key string, value interfaces.Value) error {
	normalized, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("value for key %q: %w", key, err)
	}

	previous, existed := s.values[key]
	s.values[key] = normalized
	if err := s.persistValues(); err != nil {
		if existed {
			s.values[key] = previous
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

// GetValue returns a copy of the value stored under key from the in-memory
// mapping.
func (s *LocalStore) GetValue(_ context.Context, key string) (interfaces.Value, bool, error) {
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
func (s *LocalStore) ContainsValue(_ context.Context, key string) (bool, error) {
	_, ok := s.values[key]
	return ok, nil
}

// DeleteValue removes key and rewrites the document. A missing key leaves the
// document untouched.
func (s *LocalStore) DeleteValue(_ context.Context, key string) error {
	previous, ok := s.values[key]
	if !ok {
		return nil
	}
	delete(s.values, key)
	if err := s.persistValues(); err != nil {
		s.values[key] = previous
		return err
	}
	return nil
}

// Namespace returns the database name the store is bound to.
func (s *LocalStore) Namespace() string {
	return s.namespace
}

// Name returns a unique identifier for this store.
func (s *LocalStore) Name() string {
	return fmt.Sprintf("local-%s", s.namespace)
}

// LocationURI returns the URI that identifies this store.
func (s *LocalStore) LocationURI() string {
	return s.locationURI
}

// Available checks that the namespace directory still exists.
func (s *LocalStore) Available(_ context.Context) bool {
	info, err := os.Stat(s.dir)
	if err != nil {
		s.log.Debug("Local store unavailable", "err", err)
		return false
	}
	return info.IsDir()
}

// loadValues reads the value document, creating it as {} when missing.
func (s *LocalStore) loadValues() error {
	data, err := os.ReadFile(s.file)
	if errors.Is(err, fs.ErrNotExist) {
		s.values = make(map[string]interfaces.Value)
		if err := writeFileAtomic(s.file, s.baseDir, []byte("{}"), 0644); err != nil {
			return fmt.Errorf("%w: failed to initialize value document: %v", interfaces.ErrIO, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: failed to read value document: %v", interfaces.ErrIO, err)
	}

	var values map[string]interfaces.Value
	if err := json.Unmarshal(data, &values); err != nil {
		s.log.Warn("Value document is not a JSON object, starting with an empty value store",
			slog.String("path", s.file),
			"err", err)
		values = nil
	}
	if values == nil {
		values = make(map[string]interfaces.Value)
	}
	s.values = values

	s.log.Debug("Loaded value document",
		slog.String("path", s.file),
		slog.Int("keys", len(values)))
	return nil
}

// persistValues rewrites the whole value document in compact form.
func (s *LocalStore) persistValues() error {
	data, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("failed to encode value document: %w", err)
	}
	if err := writeFileAtomic(s.file, s.baseDir, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write value document: %v", interfaces.ErrIO, err)
	}

	s.log.Debug("Rewrote value document",
		slog.String("path", s.file),
		slog.Int("keys", len(s.values)),
		slog.Int("size", len(data)))
	return nil
}

// getFilePath maps a blob path to a file inside the namespace directory.
func (s *LocalStore) getFilePath(path string) (string, error) {
	clean, err := interfaces.CleanBlobPath(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), nil
}

// checkPathConflict rejects a save whose target is a directory of other blobs,
// or whose parent chain runs through an existing blob.
func (s *LocalStore) checkPathConflict(filePath, path string) error {
	info, err := os.Stat(filePath)
	if err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s holds other blobs", interfaces.ErrInvalidPath, path)
	}

	for dir := filepath.Dir(filePath); dir != s.dir && strings.HasPrefix(dir, s.dir); dir = filepath.Dir(dir) {
		info, err := os.Stat(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
				continue
			}
			return fmt.Errorf("%w: failed to stat %s: %v", interfaces.ErrIO, dir, err)
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(s.dir, dir)
			return fmt.Errorf("%w: %s lies beneath blob %s", interfaces.ErrInvalidPath, path, filepath.ToSlash(rel))
		}
	}
	return nil
}

func (s *LocalStore) pruneEmptyParents(dir string) {
	for dir != s.dir && strings.HasPrefix(dir, s.dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// validateNamespace rejects names that are not a single path segment, and
// names ending in .json, which would collide with another namespace's value
// document.
func validateNamespace(namespace string) error {
	if namespace == "" || namespace == "." || namespace == ".." ||
		strings.ContainsAny(namespace, `/\`) ||
		strings.HasSuffix(strings.ToLower(namespace), ".json") {
		return fmt.Errorf("%w: invalid namespace %q", interfaces.ErrConfiguration, namespace)
	}
	return nil
}

// regularFileExists reports whether p is a regular file. Missing files and
// paths running through a file are reported as absent rather than failing.
func regularFileExists(p string) (bool, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// writeFileAtomic writes data to a temporary file in stagingDir and renames it
// onto path. stagingDir must be on the same file system as path.
func writeFileAtomic(path, stagingDir string, data []byte, perm os.FileMode) (err error) {
	if stagingDir == "" {
		stagingDir = filepath.Dir(path)
	}

	tmp, err := os.CreateTemp(stagingDir, "."+filepath.Base(path)+tempMarker+"*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// normalizeValue returns value as it reads back after a JSON round trip.
func normalizeValue(value interfaces.Value) (interfaces.Value, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("not JSON-representable: %w", err)
	}
	var out interfaces.Value
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
