package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory": NewMemoryStore(),
		"local":  NewLocalStore(t.TempDir()),
	}
}

func TestStorePutOpenRoundtrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			payload := []byte("manifest contents")

			require.NoError(t, store.Put(ctx, "dir/blob", payload))

			b, err := store.Open(ctx, "dir/blob")
			require.NoError(t, err)
			defer b.Close()

			assert.Equal(t, int64(len(payload)), b.Size())

			got := make([]byte, len(payload))
			_, err = b.ReadAt(got, 0)
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			// Partial read from an offset.
			part := make([]byte, 8)
			_, err = b.ReadAt(part, 9)
			require.NoError(t, err)
			assert.Equal(t, []byte("contents"), part)
		})
	}
}

func TestStoreOpenMissing(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Open(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = ReadAll(context.Background(), store, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreCreateVisibleOnClose(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			w, err := store.Create(ctx, "staged")
			require.NoError(t, err)
			_, err = w.Write([]byte("part one "))
			require.NoError(t, err)
			require.NoError(t, w.Sync())
			_, err = w.Write([]byte("part two"))
			require.NoError(t, err)

			// Not visible until the writer commits.
			_, err = store.Open(ctx, "staged")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, w.Close())

			got, err := ReadAll(ctx, store, "staged")
			require.NoError(t, err)
			assert.Equal(t, []byte("part one part two"), got)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Put(ctx, "gone", []byte("x")))
			require.NoError(t, store.Delete(ctx, "gone"))
			_, err := store.Open(ctx, "gone")
			assert.ErrorIs(t, err, ErrNotFound)

			// Missing blobs delete cleanly.
			assert.NoError(t, store.Delete(ctx, "never-existed"))
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, blob := range []string{"checkpoints/b/manifest.json", "checkpoints/a/chunks.bin", "CURRENT"} {
				require.NoError(t, store.Put(ctx, blob, []byte(blob)))
			}

			names, err := store.List(ctx, "checkpoints/")
			require.NoError(t, err)
			assert.Equal(t, []string{"checkpoints/a/chunks.bin", "checkpoints/b/manifest.json"}, names)

			names, err = store.List(ctx, "nothing/")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestStoreOverwrite(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Put(ctx, "CURRENT", []byte("checkpoints/1/manifest.json")))
			require.NoError(t, store.Put(ctx, "CURRENT", []byte("checkpoints/2/manifest.json")))

			got, err := ReadAll(ctx, store, "CURRENT")
			require.NoError(t, err)
			assert.Equal(t, []byte("checkpoints/2/manifest.json"), got)
		})
	}
}

func TestOpenHandleUnaffectedByLaterPut(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "blob", []byte("before")))
	b, err := store.Open(ctx, "blob")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, store.Put(ctx, "blob", []byte("after!")))

	got := make([]byte, 6)
	_, err = b.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), got)
}

func TestReadAtPastEnd(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Put(ctx, "short", []byte("abc")))

			b, err := store.Open(ctx, "short")
			require.NoError(t, err)
			defer b.Close()

			buf := make([]byte, 8)
			n, err := b.ReadAt(buf, 0)
			assert.Equal(t, 3, n)
			assert.ErrorIs(t, err, io.EOF)

			_, err = b.ReadAt(buf, 10)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}
