package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/principality/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// blobLayout says how a store treats a path that names a blob and is also a
// prefix of other blob paths.
type blobLayout int

const (
	// flatBlobs stores "cogs" and "cogs/a.py" side by side.
	flatBlobs blobLayout = iota
	// treeBlobs maps paths onto a directory tree and rejects the conflicting
	// save with ErrInvalidPath.
	treeBlobs
)

// runStoreContract exercises the behavior every Store must share.
// newStore must return an empty store bound to the "plugins" namespace.
func runStoreContract(t *testing.T, layout blobLayout, newStore func(t *testing.T) interfaces.Store) {
	ctx := context.Background()

	t.Run("blob round trip", func(t *testing.T) {
		s := newStore(t)
		blobs := map[string][]byte{
			"a.bin":              {0x01, 0x02},
			"cogs/music/main.py": []byte("print('hi')"),
			"binary.dat":         {0x00, 0xff, 0x00, 0x80},
		}
		for p, data := range blobs {
			require.NoError(t, s.SaveBlob(ctx, p, data))
		}
		for p, want := range blobs {
			got, found, err := s.LoadBlob(ctx, p)
			require.NoError(t, err)
			assert.True(t, found, p)
			assert.Equal(t, want, got, p)
		}
	})

	t.Run("empty blob is found", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveBlob(ctx, "empty", []byte{}))

		got, found, err := s.LoadBlob(ctx, "empty")
		require.NoError(t, err)
		assert.True(t, found)
		assert.NotNil(t, got)
		assert.Empty(t, got)

		contains, err := s.ContainsBlob(ctx, "empty")
		require.NoError(t, err)
		assert.True(t, contains)
	})

	t.Run("absent blob", func(t *testing.T) {
		s := newStore(t)
		got, found, err := s.LoadBlob(ctx, "never/written.bin")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, got)

		contains, err := s.ContainsBlob(ctx, "never/written.bin")
		require.NoError(t, err)
		assert.False(t, contains)
	})

	t.Run("overwrite blob", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveBlob(ctx, "a.bin", []byte("first, longer content")))
		require.NoError(t, s.SaveBlob(ctx, "a.bin", []byte("second")))

		got, found, err := s.LoadBlob(ctx, "a.bin")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("second"), got)
	})

	t.Run("delete absent blob leaves listing unchanged", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveBlob(ctx, "keep.bin", []byte("x")))
		before, err := s.ListBlobs(ctx)
		require.NoError(t, err)

		require.NoError(t, s.DeleteBlob(ctx, "missing.bin"))

		after, err := s.ListBlobs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, before, after)
	})

	t.Run("save contains list delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveBlob(ctx, "a.bin", []byte{0x01, 0x02}))

		contains, err := s.ContainsBlob(ctx, "a.bin")
		require.NoError(t, err)
		assert.True(t, contains)

		paths, err := s.ListBlobs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.bin"}, paths)

		require.NoError(t, s.DeleteBlob(ctx, "a.bin"))

		paths, err = s.ListBlobs(ctx)
		require.NoError(t, err)
		assert.Empty(t, paths)
	})

	t.Run("list nested blobs", func(t *testing.T) {
		s := newStore(t)
		for _, p := range []string{"b.txt", "cogs/music/main.py", "cogs/util.py"} {
			require.NoError(t, s.SaveBlob(ctx, p, []byte(p)))
		}
		paths, err := s.ListBlobs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"b.txt", "cogs/music/main.py", "cogs/util.py"}, paths)
	})

	t.Run("invalid paths", func(t *testing.T) {
		s := newStore(t)
		for _, p := range []string{"", "/abs.bin", "../escape.bin"} {
			err := s.SaveBlob(ctx, p, []byte("x"))
			assert.ErrorIs(t, err, interfaces.ErrInvalidPath, p)

			_, _, err = s.LoadBlob(ctx, p)
			assert.ErrorIs(t, err, interfaces.ErrInvalidPath, p)
		}
	})

	t.Run("blob beneath blob", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveBlob(ctx, "cogs", []byte("file")))
		err := s.SaveBlob(ctx, "cogs/a.py", []byte("nested"))

		paths, listErr := s.ListBlobs(ctx)
		require.NoError(t, listErr)
		switch layout {
		case flatBlobs:
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"cogs", "cogs/a.py"}, paths)
		case treeBlobs:
			assert.ErrorIs(t, err, interfaces.ErrInvalidPath)
			assert.Equal(t, []string{"cogs"}, paths)
		}

		data, found, err := s.LoadBlob(ctx, "cogs")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("file"), data)
	})

	t.Run("blob over blob prefix", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveBlob(ctx, "lib/a.py", []byte("nested")))
		err := s.SaveBlob(ctx, "lib", []byte("file"))

		paths, listErr := s.ListBlobs(ctx)
		require.NoError(t, listErr)
		switch layout {
		case flatBlobs:
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"lib", "lib/a.py"}, paths)
		case treeBlobs:
			assert.ErrorIs(t, err, interfaces.ErrInvalidPath)
			assert.Equal(t, []string{"lib/a.py"}, paths)
		}
	})

	t.Run("dotted names are listed", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveBlob(ctx, ".cfg.tmp-1", []byte("x")))

		contains, err := s.ContainsBlob(ctx, ".cfg.tmp-1")
		require.NoError(t, err)
		assert.True(t, contains)

		paths, err := s.ListBlobs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{".cfg.tmp-1"}, paths)
	})

	t.Run("value round trip and overwrite", func(t *testing.T) {
		s := newStore(t)
		values := map[string]interfaces.Value{
			"ver":     "1.0",
			"enabled": true,
			"count":   float64(3),
			"nothing": nil,
			"list":    []any{"a", float64(1)},
			"nested":  map[string]any{"installed": true, "deps": []any{"requests"}},
		}
		for k, v := range values {
			require.NoError(t, s.SetValue(ctx, k, v))
		}
		for k, want := range values {
			got, found, err := s.GetValue(ctx, k)
			require.NoError(t, err)
			assert.True(t, found, k)
			assert.Equal(t, want, got, k)
		}

		require.NoError(t, s.SetValue(ctx, "ver", "2.0"))
		got, found, err := s.GetValue(ctx, "ver")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "2.0", got)
	})

	t.Run("values come back in JSON form", func(t *testing.T) {
		s := newStore(t)
		type manifest struct {
			Name    string `json:"name"`
			Version int    `json:"version"`
		}
		require.NoError(t, s.SetValue(ctx, "count", 3))
		require.NoError(t, s.SetValue(ctx, "m", manifest{Name: "music", Version: 2}))

		got, found, err := s.GetValue(ctx, "count")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, float64(3), got)

		got, found, err = s.GetValue(ctx, "m")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, map[string]any{"name": "music", "version": float64(2)}, got)
	})

	t.Run("value is copied on set", func(t *testing.T) {
		s := newStore(t)
		v := map[string]any{"n": 1}
		require.NoError(t, s.SetValue(ctx, "k", v))
		v["n"] = 99

		got, found, err := s.GetValue(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, map[string]any{"n": float64(1)}, got)
	})

	t.Run("unencodable value is rejected", func(t *testing.T) {
		s := newStore(t)
		require.Error(t, s.SetValue(ctx, "c", make(chan int)))

		contains, err := s.ContainsValue(ctx, "c")
		require.NoError(t, err)
		assert.False(t, contains)
	})

	t.Run("absent value", func(t *testing.T) {
		s := newStore(t)
		got, found, err := s.GetValue(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, got)

		contains, err := s.ContainsValue(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, contains)

		require.NoError(t, s.DeleteValue(ctx, "missing"))
	})

	t.Run("delete value", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SetValue(ctx, "ver", "1.0"))

		contains, err := s.ContainsValue(ctx, "ver")
		require.NoError(t, err)
		assert.True(t, contains)

		require.NoError(t, s.DeleteValue(ctx, "ver"))

		_, found, err := s.GetValue(ctx, "ver")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("blobs and values are separate", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveBlob(ctx, "shared", []byte("blob")))
		require.NoError(t, s.SetValue(ctx, "shared", "value"))

		data, found, err := s.LoadBlob(ctx, "shared")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("blob"), data)

		v, found, err := s.GetValue(ctx, "shared")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "value", v)
	})

	t.Run("identity", func(t *testing.T) {
		s := newStore(t)
		assert.Equal(t, "plugins", s.Namespace())
		assert.Contains(t, s.Name(), "plugins")
		assert.NotEmpty(t, s.LocationURI())
		assert.True(t, s.Available(ctx))
	})
}
