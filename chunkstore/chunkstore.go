// Package chunkstore owns the immutable chunk payloads referenced by
// table items.
//
// Chunks are reference-counted: a chunk enters the store with zero
// references, gains one per live item that cites it, and is evicted
// exactly when its count returns to zero. Payloads are immutable and may
// be read without synchronization once stored.
package chunkstore

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/replaybuf/schema"
)

// ErrNotFound is returned when a chunk key is not present in the store.
var ErrNotFound = errors.New("chunk not found")

// ErrChunkConflict is returned by Put when a different payload is already
// stored under the same key.
var ErrChunkConflict = errors.New("conflicting chunk already stored under key")

// Chunk is an immutable stored chunk. The wrapped data must not be
// mutated after Put.
type Chunk struct {
	data schema.ChunkData
}

// NewChunk wraps chunk data. Validation of the sequence range happens at
// Put time.
func NewChunk(data schema.ChunkData) *Chunk {
	return &Chunk{data: data}
}

// Key returns the chunk key.
func (c *Chunk) Key() uint64 { return c.data.ChunkKey }

// Data returns the wire representation of the chunk.
func (c *Chunk) Data() schema.ChunkData { return c.data }

// EpisodeID returns the episode this chunk belongs to.
func (c *Chunk) EpisodeID() uint64 { return c.data.SequenceRange.EpisodeID }

// NumSteps returns the number of timesteps the chunk covers.
func (c *Chunk) NumSteps() int32 { return c.data.SequenceRange.NumSteps() }

type entry struct {
	chunk *Chunk
	refs  int64
}

// ChunkStore is a refcounted arena of chunks keyed by chunk id.
//
// The store carries its own mutex so that multiple tables can safely
// share one store; chunk payloads themselves never need it.
type ChunkStore struct {
	mu      sync.Mutex
	entries map[uint64]*entry
}

// New creates an empty ChunkStore.
func New() *ChunkStore {
	return &ChunkStore{entries: make(map[uint64]*entry)}
}

// Put stores a chunk under its key with zero references. Storing the
// identical payload twice is a no-op and returns the already-stored
// chunk; a differing payload under the same key fails with
// ErrChunkConflict.
func (s *ChunkStore) Put(data schema.ChunkData) (*Chunk, error) {
	if err := data.SequenceRange.Validate(); err != nil {
		return nil, fmt.Errorf("chunk %d: %w", data.ChunkKey, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[data.ChunkKey]; ok {
		if !sameChunk(e.chunk.data, data) {
			return nil, fmt.Errorf("chunk %d: %w", data.ChunkKey, ErrChunkConflict)
		}
		return e.chunk, nil
	}

	c := NewChunk(data)
	s.entries[data.ChunkKey] = &entry{chunk: c}
	return c, nil
}

// Get returns the chunk stored under key.
func (s *ChunkStore) Get(key uint64) (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("chunk %d: %w", key, ErrNotFound)
	}
	return e.chunk, nil
}

// AddRef increments the reference count of key.
func (s *ChunkStore) AddRef(key uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("chunk %d: %w", key, ErrNotFound)
	}
	e.refs++
	return nil
}

// Release decrements the reference count of key and evicts the chunk
// when the count transitions to zero.
func (s *ChunkStore) Release(key uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("chunk %d: %w", key, ErrNotFound)
	}
	if e.refs <= 0 {
		// Releasing an unreferenced chunk is a bookkeeping bug in the
		// caller; the store cannot recover a sensible count from here.
		panic(fmt.Sprintf("chunkstore: release of unreferenced chunk %d", key))
	}
	e.refs--
	if e.refs == 0 {
		delete(s.entries, key)
	}
	return nil
}

// Unref undoes an AddRef without evicting at zero, so a chunk that was
// staged before a failed insert stays staged afterwards. Removal of
// unreferenced chunks stays with Release and EvictIfUnreferenced.
func (s *ChunkStore) Unref(key uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("chunk %d: %w", key, ErrNotFound)
	}
	if e.refs <= 0 {
		panic(fmt.Sprintf("chunkstore: unref of unreferenced chunk %d", key))
	}
	e.refs--
	return nil
}

// Refs returns the current reference count of key, or 0 if absent.
func (s *ChunkStore) Refs(key uint64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		return e.refs
	}
	return 0
}

// EvictIfUnreferenced removes key if it is present with zero references.
// Used to clean up chunks that were staged but never cited by an item.
func (s *ChunkStore) EvictIfUnreferenced(key uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && e.refs == 0 {
		delete(s.entries, key)
	}
}

// Len returns the number of stored chunks.
func (s *ChunkStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns the keys of all stored chunks, in no particular order.
func (s *ChunkStore) Keys() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]uint64, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

func sameChunk(a, b schema.ChunkData) bool {
	return a.ChunkKey == b.ChunkKey &&
		a.SequenceRange == b.SequenceRange &&
		a.DeltaEncoded == b.DeltaEncoded &&
		bytes.Equal(a.Data, b.Data)
}
