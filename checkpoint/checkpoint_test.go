package checkpoint

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/replaybuf/blobstore"
	"github.com/hupe1980/replaybuf/chunkstore"
	"github.com/hupe1980/replaybuf/codec"
	"github.com/hupe1980/replaybuf/schema"
	"github.com/hupe1980/replaybuf/testutil"
)

func testState(t *testing.T) State {
	t.Helper()
	rng := testutil.NewRNG(42)

	chunks := rng.Episode(100, 1, 3, 5, 64)
	insertedAt := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	item := testutil.Item(1, "train", 2.5, chunks...)
	item.TimesSampled = 3
	item.InsertedAt = insertedAt

	return State{
		StateID: schema.NewStateID(),
		Tables: []TableState{
			{
				Name:            "train",
				MaxSize:         1000,
				MaxTimesSampled: 5,
				Sampler:         schema.PrioritizedWithExponent(0.8),
				Remover:         schema.FifoOptions(),
				Limiter: LimiterState{
					SamplesPerInsert: 4.0,
					MinDiff:          -10,
					MaxDiff:          10,
					MinSizeToSample:  2,
					Inserts:          7,
					Samples:          3,
					Deletes:          1,
				},
				Items: []schema.PrioritizedItem{item},
			},
			{
				Name:    "eval",
				MaxSize: 10,
				Sampler: schema.UniformOptions(),
				Remover: schema.LifoOptions(),
				Limiter: LimiterState{
					SamplesPerInsert: 1.0,
					MinDiff:          -1e18,
					MaxDiff:          1e18,
					MinSizeToSample:  1,
				},
			},
		},
		Chunks: chunks,
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	cp := New(store)

	state := testState(t)
	id, err := cp.Save(ctx, state)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, "-"+state.StateID.String()))

	// The commit pointer names the manifest inside the checkpoint dir.
	current, err := blobstore.ReadAll(ctx, store, CurrentName)
	require.NoError(t, err)
	assert.Equal(t, "checkpoints/"+id+"/manifest.json", string(current))

	got, err := cp.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.StateID, got.StateID)
	assert.Equal(t, state.Chunks, got.Chunks)
	require.Len(t, got.Tables, 2)
	assert.Equal(t, state.Tables[0], got.Tables[0])
	assert.Equal(t, state.Tables[1].Name, got.Tables[1].Name)
	assert.Equal(t, state.Tables[1].Limiter, got.Tables[1].Limiter)
}

func TestSaveOptionsRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	cp := New(store,
		WithCodec(codec.JSON{}),
		WithCompression(chunkstore.CompressionLZ4),
		WithConcurrency(2),
		WithByteRate(8<<20),
	)

	state := testState(t)
	_, err := cp.Save(ctx, state)
	require.NoError(t, err)

	got, err := cp.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.Chunks, got.Chunks)
	assert.Equal(t, state.Tables[0].Items, got.Tables[0].Items)
}

func TestCurrentPointsToLatest(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	cp := New(store)

	first := testState(t)
	_, err := cp.Save(ctx, first)
	require.NoError(t, err)

	second := testState(t)
	second.StateID = schema.NewStateID()
	_, err = cp.Save(ctx, second)
	require.NoError(t, err)

	got, err := cp.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.StateID, got.StateID)
}

func TestLoadWithoutCheckpoint(t *testing.T) {
	cp := New(blobstore.NewMemoryStore())
	_, err := cp.Load(context.Background())
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestLoadRejectsUnknownCodec(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	manifest := Manifest{Version: FormatVersion, Codec: "msgpack-v9"}
	require.NoError(t, store.Put(ctx, "checkpoints/x/manifest.json", codec.MustMarshal(nil, manifest)))
	require.NoError(t, store.Put(ctx, CurrentName, []byte("checkpoints/x/manifest.json")))

	_, err := New(store).Load(ctx)
	assert.ErrorContains(t, err, "unknown checkpoint codec")
}

func TestLoadRejectsVersionMismatch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	manifest := Manifest{Version: FormatVersion + 1, Codec: "json"}
	require.NoError(t, store.Put(ctx, "checkpoints/x/manifest.json", codec.MustMarshal(nil, manifest)))
	require.NoError(t, store.Put(ctx, CurrentName, []byte("checkpoints/x/manifest.json")))

	_, err := New(store).Load(ctx)
	assert.ErrorContains(t, err, "unsupported checkpoint version")
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	cp := New(store)

	state := testState(t)
	firstID, err := cp.Save(ctx, state)
	require.NoError(t, err)
	secondID, err := cp.Save(ctx, state)
	require.NoError(t, err)

	ids, err := cp.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{firstID, secondID}, ids)

	require.NoError(t, cp.Delete(ctx, firstID))

	ids, err = cp.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{secondID}, ids)

	// The latest checkpoint still loads: CURRENT was not touched.
	got, err := cp.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.StateID, got.StateID)

	// All blobs of the deleted checkpoint are gone.
	names, err := store.List(ctx, "checkpoints/"+firstID+"/")
	require.NoError(t, err)
	assert.Empty(t, names)
}
