package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/shmmap/internal/fs"
)

type streamingStore interface {
	Store
	Creator
}

func testStore(t *testing.T, store streamingStore) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		data := []byte("hello world, this is a test blob")
		require.NoError(t, store.Put(ctx, "snap-001.bin", data))

		got, err := store.Get(ctx, "snap-001.bin")
		require.NoError(t, err)
		assert.Equal(t, data, got)

		// Overwrite
		require.NoError(t, store.Put(ctx, "snap-001.bin", []byte("v2")))
		got, err = store.Get(ctx, "snap-001.bin")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("empty blob", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "empty", nil))
		got, err := store.Get(ctx, "empty")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("create", func(t *testing.T) {
		w, err := store.Create(ctx, "streamed/part")
		require.NoError(t, err)
		_, err = w.Write([]byte("abc"))
		require.NoError(t, err)
		_, err = w.Write([]byte("def"))
		require.NoError(t, err)

		_, err = store.Get(ctx, "streamed/part")
		assert.ErrorIs(t, err, ErrNotFound, "blob visible before close")

		require.NoError(t, w.Close())
		got, err := store.Get(ctx, "streamed/part")
		require.NoError(t, err)
		assert.Equal(t, []byte("abcdef"), got)

		_, err = w.Write([]byte("x"))
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("abort", func(t *testing.T) {
		w, err := store.Create(ctx, "aborted")
		require.NoError(t, err)
		_, err = w.Write([]byte("abc"))
		require.NoError(t, err)
		require.NoError(t, w.Abort())
		require.NoError(t, w.Close())

		_, err = store.Get(ctx, "aborted")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list and delete", func(t *testing.T) {
		for _, name := range []string{"list/b", "list/a", "other"} {
			require.NoError(t, store.Put(ctx, name, []byte(name)))
		}

		names, err := store.List(ctx, "list/")
		require.NoError(t, err)
		assert.Equal(t, []string{"list/a", "list/b"}, names)

		require.NoError(t, store.Delete(ctx, "list/a"))
		require.NoError(t, store.Delete(ctx, "list/a"))

		names, err = store.List(ctx, "list/")
		require.NoError(t, err)
		assert.Equal(t, []string{"list/b"}, names)
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, store.Put(cctx, "x", nil), context.Canceled)
		_, err := store.Get(cctx, "x")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalStore(t *testing.T) {
	testStore(t, NewLocalStore(t.TempDir()))
}

func TestLocalStore_Layout(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a/b.bin", []byte("x")))
	_, err := os.Stat(filepath.Join(dir, "a", "b.bin"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files left behind")

	assert.Error(t, store.Put(ctx, "../escape", nil))
	_, err = store.Get(ctx, "")
	assert.Error(t, err)
}

func TestLocalStore_MissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_Faults(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		fault fs.Fault
	}{
		{"write", fs.Fault{FailAfterBytes: 3}},
		{"sync", fs.Fault{FailAfterBytes: -1, FailOnSync: true}},
		{"close", fs.Fault{FailAfterBytes: -1, FailOnClose: true}},
		{"rename", fs.Fault{FailAfterBytes: -1, FailOnRename: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			ffs := fs.NewFaultyFS(nil)
			store := newLocalStoreFS(dir, ffs)

			require.NoError(t, store.Put(ctx, "snap.bin", []byte("old")))

			ffs.AddRule("snap.bin", tt.fault)
			err := store.Put(ctx, "snap.bin", []byte("new contents"))
			assert.ErrorIs(t, err, fs.ErrInjected)

			// The previous version survives and nothing is left behind.
			ffs.Reset()
			got, err := store.Get(ctx, "snap.bin")
			require.NoError(t, err)
			assert.Equal(t, []byte("old"), got)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}
}

func TestLocalStore_Abort(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)
	ctx := context.Background()

	w, err := store.Create(ctx, "partial.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("more"))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = store.Get(ctx, "partial.bin")
	assert.ErrorIs(t, err, ErrNotFound)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}
