package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/ruteri/principality/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memDrive is an in-memory BlobResource. A non-nil err fails every call;
// block makes every call wait for its context.
type memDrive struct {
	blobs map[string][]byte
	err   error
	block bool
}

func newMemDrive() *memDrive {
	return &memDrive{blobs: make(map[string][]byte)}
}

func (d *memDrive) fail(ctx context.Context) error {
	if d.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return d.err
}

func (d *memDrive) Put(ctx context.Context, name string, data []byte) error {
	if err := d.fail(ctx); err != nil {
		return err
	}
	d.blobs[name] = cloneBytes(data)
	return nil
}

func (d *memDrive) Get(ctx context.Context, name string) ([]byte, bool, error) {
	if err := d.fail(ctx); err != nil {
		return nil, false, err
	}
	data, ok := d.blobs[name]
	return data, ok, nil
}

func (d *memDrive) Delete(ctx context.Context, name string) error {
	if err := d.fail(ctx); err != nil {
		return err
	}
	delete(d.blobs, name)
	return nil
}

func (d *memDrive) List(ctx context.Context) ([]string, error) {
	if err := d.fail(ctx); err != nil {
		return nil, err
	}
	var names []string
	for name := range d.blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// memBase is an in-memory RecordResource that keeps records as written.
type memBase struct {
	records map[string]Envelope
	err     error
}

func newMemBase() *memBase {
	return &memBase{records: make(map[string]Envelope)}
}

func (b *memBase) Put(_ context.Context, key string, record Envelope) error {
	if b.err != nil {
		return b.err
	}
	b.records[key] = record
	return nil
}

func (b *memBase) Get(_ context.Context, key string) (Envelope, bool, error) {
	if b.err != nil {
		return nil, false, b.err
	}
	record, ok := b.records[key]
	return record, ok, nil
}

func (b *memBase) Delete(_ context.Context, key string) error {
	if b.err != nil {
		return b.err
	}
	delete(b.records, key)
	return nil
}

func newTestRemoteStore(t *testing.T, drive BlobResource, base RecordResource, timeout time.Duration) *RemoteStore {
	t.Helper()
	s, err := NewRemoteStore("plugins", drive, base, RemoteOptions{
		Service: "mem",
		Timeout: timeout,
		Log:     testLogger(),
	})
	require.NoError(t, err)
	return s
}

func TestRemoteStoreContract(t *testing.T) {
	runStoreContract(t, flatBlobs, func(t *testing.T) interfaces.Store {
		return newTestRemoteStore(t, newMemDrive(), newMemBase(), time.Second)
	})
}

func TestNewRemoteStore_RequiresResources(t *testing.T) {
	_, err := NewRemoteStore("plugins", nil, newMemBase(), RemoteOptions{})
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)

	_, err = NewRemoteStore("plugins", newMemDrive(), nil, RemoteOptions{})
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)

	s, err := NewRemoteStore("plugins", newMemDrive(), newMemBase(), RemoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "remote-plugins", s.Name())
	assert.Equal(t, "remote://plugins", s.LocationURI())
	assert.Equal(t, DefaultRemoteTimeout, s.timeout)
}

func TestRemoteStore_Envelope(t *testing.T) {
	ctx := context.Background()
	base := newMemBase()
	s := newTestRemoteStore(t, newMemDrive(), base, time.Second)

	require.NoError(t, s.SetValue(ctx, "music", map[string]any{"version": 2}))

	record := base.records["music"]
	require.NotNil(t, record)
	assert.Equal(t, "music", record["key"])
	assert.Equal(t, map[string]any{"version": float64(2)}, record["value"])

	v, found, err := s.GetValue(ctx, "music")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"version": float64(2)}, v)
}

func TestRemoteStore_UnencodableValue(t *testing.T) {
	base := newMemBase()
	s := newTestRemoteStore(t, newMemDrive(), base, time.Second)

	err := s.SetValue(context.Background(), "bad", func() {})
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrNetwork)
	assert.Empty(t, base.records)
}

func TestRemoteStore_ErrorsAreNetworkErrors(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("connection refused")
	drive := newMemDrive()
	drive.err = cause
	base := newMemBase()
	base.err = cause
	s := newTestRemoteStore(t, drive, base, time.Second)

	checks := map[string]error{}
	checks["SaveBlob"] = s.SaveBlob(ctx, "a.bin", []byte("x"))
	_, _, checks["LoadBlob"] = s.LoadBlob(ctx, "a.bin")
	_, checks["ContainsBlob"] = s.ContainsBlob(ctx, "a.bin")
	_, checks["ListBlobs"] = s.ListBlobs(ctx)
	checks["DeleteBlob"] = s.DeleteBlob(ctx, "a.bin")
	checks["SetValue"] = s.SetValue(ctx, "k", "v")
	_, _, checks["GetValue"] = s.GetValue(ctx, "k")
	_, checks["ContainsValue"] = s.ContainsValue(ctx, "k")
	checks["DeleteValue"] = s.DeleteValue(ctx, "k")

	for op, err := range checks {
		require.Error(t, err, op)
		assert.ErrorIs(t, err, interfaces.ErrNetwork, op)
		assert.Contains(t, err.Error(), "connection refused", op)
	}

	assert.False(t, s.Available(ctx))
}

func TestRemoteStore_Timeout(t *testing.T) {
	drive := newMemDrive()
	drive.block = true
	s := newTestRemoteStore(t, drive, newMemBase(), 20*time.Millisecond)

	start := time.Now()
	_, _, err := s.LoadBlob(context.Background(), "a.bin")
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrNetwork)
	assert.True(t, strings.Contains(err.Error(), "timed out"), err.Error())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRemoteStore_ContainsBlobWithoutStat(t *testing.T) {
	ctx := context.Background()
	drive := newMemDrive()
	drive.blobs["cogs/main.py"] = []byte("x")
	s := newTestRemoteStore(t, drive, newMemBase(), time.Second)

	contains, err := s.ContainsBlob(ctx, "cogs/main.py")
	require.NoError(t, err)
	assert.True(t, contains)

	contains, err = s.ContainsBlob(ctx, "cogs")
	require.NoError(t, err)
	assert.False(t, contains)
}

func TestRemoteStore_CleansPaths(t *testing.T) {
	ctx := context.Background()
	drive := newMemDrive()
	s := newTestRemoteStore(t, drive, newMemBase(), time.Second)

	require.NoError(t, s.SaveBlob(ctx, `cogs\./music//main.py`, []byte("x")))
	_, ok := drive.blobs["cogs/music/main.py"]
	assert.True(t, ok)
}

func TestEncodeName(t *testing.T) {
	for _, name := range []string{"a.bin", "cogs/music/main.py", "with space%/and?query", ""} {
		encoded := encodeName(name)
		assert.NotContains(t, encoded, "/")
		decoded, err := decodeName(encoded)
		require.NoError(t, err)
		assert.Equal(t, name, decoded)
	}

	_, err := decodeName("not base64!")
	assert.Error(t, err)
}
