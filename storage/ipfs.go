package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/principality/config"
	"github.com/ruteri/principality/interfaces"
)

// ipfsMFS addresses one directory of the node's mutable file system:
//
//	/<namespace>/<kind>/<encoded name>
type ipfsMFS struct {
	shell *shell.Shell
	dir   string
	log   *slog.Logger
}

func (m *ipfsMFS) path(name string) string {
	return m.dir + "/" + encodeName(name)
}

func (m *ipfsMFS) write(ctx context.Context, name string, data []byte) error {
	p := m.path(name)
	err := m.shell.FilesWrite(ctx, p, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Truncate(true),
		shell.FilesWrite.Parents(true))
	if err != nil {
		return fmt.Errorf("failed to write %s to IPFS: %w", p, err)
	}
	m.log.Debug("Stored file in IPFS", slog.String("path", p), slog.Int("size", len(data)))
	return nil
}

func (m *ipfsMFS) read(ctx context.Context, name string) ([]byte, bool, error) {
	p := m.path(name)
	reader, err := m.shell.FilesRead(ctx, p)
	if err != nil {
		if isIPFSNotExist(err) {
			m.log.Debug("File not found in IPFS", slog.String("path", p))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s from IPFS: %w", p, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read data from IPFS: %w", err)
	}
	return data, true, nil
}

func (m *ipfsMFS) stat(ctx context.Context, name string) (bool, error) {
	_, err := m.shell.FilesStat(ctx, m.path(name))
	if err != nil {
		if isIPFSNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s in IPFS: %w", m.path(name), err)
	}
	return true, nil
}

func (m *ipfsMFS) remove(ctx context.Context, name string) error {
	p := m.path(name)
	if err := m.shell.FilesRm(ctx, p, true); err != nil && !isIPFSNotExist(err) {
		return fmt.Errorf("failed to remove %s from IPFS: %w", p, err)
	}
	m.log.Debug("Removed file from IPFS", slog.String("path", p))
	return nil
}

func (m *ipfsMFS) list(ctx context.Context) ([]string, error) {
	entries, err := m.shell.FilesLs(ctx, m.dir)
	if err != nil {
		if isIPFSNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list %s in IPFS: %w", m.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name, err := decodeName(entry.Name)
		if err != nil {
			m.log.Warn("Skipping foreign IPFS entry", slog.String("name", entry.Name), "err", err)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func isIPFSNotExist(err error) bool {
	return strings.Contains(err.Error(), "file does not exist")
}

// IPFSDrive stores blobs as MFS files under /<namespace>/blobs.
type IPFSDrive struct {
	mfs *ipfsMFS
}

// Put writes data to the blob file, creating parent directories as needed.
func (d *IPFSDrive) Put(ctx context.Context, name string, data []byte) error {
	return d.mfs.write(ctx, name, data)
}

// Get reads the blob file. A missing file is reported as found=false.
func (d *IPFSDrive) Get(ctx context.Context, name string) ([]byte, bool, error) {
	return d.mfs.read(ctx, name)
}

// Stat reports whether the blob file exists.
func (d *IPFSDrive) Stat(ctx context.Context, name string) (bool, error) {
	return d.mfs.stat(ctx, name)
}

// Delete removes the blob file; removing a missing file succeeds.
func (d *IPFSDrive) Delete(ctx context.Context, name string) error {
	return d.mfs.remove(ctx, name)
}

// List returns the decoded names of all blob files in the namespace.
func (d *IPFSDrive) List(ctx context.Context) ([]string, error) {
	return d.mfs.list(ctx)
}

// Ping stats the MFS root, which every running node has.
func (d *IPFSDrive) Ping(ctx context.Context) error {
	if _, err := d.mfs.shell.FilesStat(ctx, "/"); err != nil {
		return fmt.Errorf("IPFS node unavailable: %w", err)
	}
	return nil
}

// IPFSBase stores value envelopes as JSON files under /<namespace>/values.
type IPFSBase struct {
	mfs *ipfsMFS
}

// Put writes the envelope as a JSON file.
func (b *IPFSBase) Put(ctx context.Context, key string, record Envelope) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return b.mfs.write(ctx, key, data)
}

// Get reads and decodes the envelope for key.
func (b *IPFSBase) Get(ctx context.Context, key string) (Envelope, bool, error) {
	data, found, err := b.mfs.read(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	var record Envelope
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false, fmt.Errorf("malformed record at %s: %w", b.mfs.path(key), err)
	}
	return record, true, nil
}

// Delete removes the record file for key.
func (b *IPFSBase) Delete(ctx context.Context, key string) error {
	return b.mfs.remove(ctx, key)
}

// basicAuthTransport authenticates every API request, as hosted IPFS
// providers require.
type basicAuthTransport struct {
	username string
	password string
	next     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	return t.next.RoundTrip(req)
}

// NewIPFSResources creates the blob and record resources of namespace on the
// IPFS node at address. token has the form PROJECT_ID:SECRET.
//
// timeout bounds every HTTP request to the node, including the version check
// the client issues on its own before some commands. Zero means
// DefaultRemoteTimeout.
func NewIPFSResources(address, token, namespace string, timeout time.Duration, log *slog.Logger) (*IPFSDrive, *IPFSBase, error) {
	username, password, ok := strings.Cut(strings.TrimSpace(token), ":")
	if !ok || username == "" || password == "" {
		return nil, nil, fmt.Errorf("%w: database.ipfs_token must have the form PROJECT_ID:SECRET", interfaces.ErrConfiguration)
	}
	if address == "" {
		return nil, nil, fmt.Errorf("%w: database.ipfs_address must be set to use IPFS storage", interfaces.ErrConfiguration)
	}
	if err := validateNamespace(namespace); err != nil {
		return nil, nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}

	// The shell runs some requests without the caller's context, so the
	// client enforces the timeout itself.
	client := &http.Client{
		Timeout: timeout,
		Transport: &basicAuthTransport{
			username: username,
			password: password,
			next:     http.DefaultTransport,
		},
	}
	sh := shell.NewShellWithClient(address, client)

	log = log.With(slog.String("ipfs", address))
	root := "/" + namespace
	return &IPFSDrive{mfs: &ipfsMFS{shell: sh, dir: root + "/blobs", log: log}},
		&IPFSBase{mfs: &ipfsMFS{shell: sh, dir: root + "/values", log: log}},
		nil
}

// NewIPFSStore creates a RemoteStore backed by an IPFS node from database options.
func NewIPFSStore(cfg config.DatabaseConfig, namespace string, log *slog.Logger) (*RemoteStore, error) {
	drive, base, err := NewIPFSResources(cfg.IPFSAddress, cfg.Token("ipfs"), namespace, cfg.RemoteTimeout, log)
	if err != nil {
		return nil, err
	}

	host := strings.TrimPrefix(strings.TrimPrefix(cfg.IPFSAddress, "https://"), "http://")
	return NewRemoteStore(namespace, drive, base, RemoteOptions{
		Service:     "ipfs",
		LocationURI: fmt.Sprintf("ipfs://%s/%s", host, namespace),
		Timeout:     cfg.RemoteTimeout,
		Log:         log,
	})
}
