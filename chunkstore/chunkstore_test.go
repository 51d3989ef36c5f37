package chunkstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/replaybuf/testutil"
)

func TestPutGet(t *testing.T) {
	rng := testutil.NewRNG(42)
	s := New()

	data := rng.Chunk(1, 100, 0, 5, 64)
	c, err := s.Put(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Key())
	assert.Equal(t, uint64(100), c.EpisodeID())
	assert.Equal(t, int32(5), c.NumSteps())

	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, data, got.Data())

	_, err = s.Get(2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutIdempotentAndConflict(t *testing.T) {
	rng := testutil.NewRNG(42)
	s := New()

	data := rng.Chunk(1, 100, 0, 5, 64)
	first, err := s.Put(data)
	require.NoError(t, err)

	// Same payload again returns the stored chunk.
	again, err := s.Put(data)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, s.Len())

	// A different payload under the same key is rejected.
	conflicting := rng.Chunk(1, 100, 0, 5, 64)
	_, err = s.Put(conflicting)
	assert.ErrorIs(t, err, ErrChunkConflict)
}

func TestPutRejectsInvalidRange(t *testing.T) {
	rng := testutil.NewRNG(42)
	s := New()

	bad := rng.Chunk(1, 100, 0, 5, 8)
	bad.SequenceRange.End = bad.SequenceRange.Start - 1
	_, err := s.Put(bad)
	assert.Error(t, err)
}

func TestRefcountLifecycle(t *testing.T) {
	rng := testutil.NewRNG(7)
	s := New()

	_, err := s.Put(rng.Chunk(1, 100, 0, 5, 8))
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Refs(1))

	require.NoError(t, s.AddRef(1))
	require.NoError(t, s.AddRef(1))
	assert.Equal(t, int64(2), s.Refs(1))

	require.NoError(t, s.Release(1))
	assert.Equal(t, int64(1), s.Refs(1))
	assert.Equal(t, 1, s.Len())

	// The final release evicts the chunk.
	require.NoError(t, s.Release(1))
	assert.Equal(t, 0, s.Len())
	_, err = s.Get(1)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.AddRef(2), ErrNotFound)
	assert.ErrorIs(t, s.Release(2), ErrNotFound)
}

func TestReleaseUnreferencedPanics(t *testing.T) {
	rng := testutil.NewRNG(7)
	s := New()

	_, err := s.Put(rng.Chunk(1, 100, 0, 5, 8))
	require.NoError(t, err)

	assert.Panics(t, func() { _ = s.Release(1) })
}

func TestUnrefKeepsChunkStaged(t *testing.T) {
	rng := testutil.NewRNG(7)
	s := New()

	_, err := s.Put(rng.Chunk(1, 100, 0, 5, 8))
	require.NoError(t, err)
	require.NoError(t, s.AddRef(1))

	// Unlike Release, dropping the last ref via Unref leaves the chunk
	// staged in the store.
	require.NoError(t, s.Unref(1))
	assert.Equal(t, int64(0), s.Refs(1))
	assert.Equal(t, 1, s.Len())

	assert.ErrorIs(t, s.Unref(2), ErrNotFound)
	assert.Panics(t, func() { _ = s.Unref(1) })
}

func TestEvictIfUnreferenced(t *testing.T) {
	rng := testutil.NewRNG(7)
	s := New()

	_, err := s.Put(rng.Chunk(1, 100, 0, 5, 8))
	require.NoError(t, err)
	_, err = s.Put(rng.Chunk(2, 100, 5, 5, 8))
	require.NoError(t, err)
	require.NoError(t, s.AddRef(2))

	// Unreferenced staged chunk goes away, referenced one stays.
	s.EvictIfUnreferenced(1)
	s.EvictIfUnreferenced(2)
	assert.Equal(t, 1, s.Len())
	assert.ElementsMatch(t, []uint64{2}, s.Keys())
}
