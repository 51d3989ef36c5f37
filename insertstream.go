package replaybuf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/replaybuf/chunkstore"
	"github.com/hupe1980/replaybuf/schema"
)

// InsertStream stages chunks ahead of the items that reference them, the
// way a producer writes experience: chunks first, then a prioritized
// item citing them, then an explicit keep-list naming the staged chunks
// the next items will still need.
//
// Chunks staged but never cited by an item are evicted when the stream
// closes. An InsertStream is not safe for concurrent use by multiple
// goroutines; each producer opens its own.
type InsertStream struct {
	srv *Server

	mu     sync.Mutex
	staged map[uint64]*chunkstore.Chunk
	closed bool
}

// NewInsertStream opens a producer stream against the server.
func (s *Server) NewInsertStream() *InsertStream {
	return &InsertStream{
		srv:    s,
		staged: make(map[uint64]*chunkstore.Chunk),
	}
}

// AddChunk stages a chunk for upcoming items. Staging the identical
// chunk twice is a no-op; a conflicting payload under a staged key
// fails.
func (st *InsertStream) AddChunk(data schema.ChunkData) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return ErrStreamClosed
	}

	c, err := st.srv.chunks.Put(data)
	if err != nil {
		return translateError(err)
	}
	st.staged[c.Key()] = c
	return nil
}

// InsertItem registers item with the table named by item.Table. Every
// chunk key the item cites must be staged on this stream. After the
// insert, staged chunks whose keys are not in keepChunkKeys are
// released from the stage; unreferenced ones leave the store.
//
// The call may block on the table's rate limiter; ctx aborts the wait.
func (st *InsertStream) InsertItem(ctx context.Context, item schema.PrioritizedItem, keepChunkKeys []uint64) error {
	start := time.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return ErrStreamClosed
	}

	t, err := st.srv.Table(item.Table)
	if err != nil {
		st.srv.metrics.RecordInsert(time.Since(start), err)
		return err
	}

	chunks := make([]*chunkstore.Chunk, 0, len(item.ChunkKeys))
	for _, key := range item.ChunkKeys {
		c, ok := st.staged[key]
		if !ok {
			err := fmt.Errorf("%w: item %d references chunk %d that is not staged on this stream",
				ErrInvalidArgument, item.Key, key)
			st.srv.metrics.RecordInsert(time.Since(start), err)
			return err
		}
		chunks = append(chunks, c)
	}

	err = translateError(t.Insert(ctx, item, chunks))
	st.srv.metrics.RecordInsert(time.Since(start), err)
	st.srv.logger.LogInsert(ctx, item.Table, item.Key, err)
	if err != nil {
		return err
	}

	st.trimStaged(keepChunkKeys)
	return nil
}

// Keep trims the stage to the given chunk keys without inserting an
// item. Dropped chunks that no item references leave the store.
func (st *InsertStream) Keep(chunkKeys []uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return
	}
	st.trimStaged(chunkKeys)
}

// StagedKeys returns the currently staged chunk keys, in no particular
// order.
func (st *InsertStream) StagedKeys() []uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()

	keys := make([]uint64, 0, len(st.staged))
	for key := range st.staged {
		keys = append(keys, key)
	}
	return keys
}

// Close releases all staged chunks. Chunks no live item references are
// evicted from the store. Close is idempotent.
func (st *InsertStream) Close() {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return
	}
	st.closed = true
	st.trimStaged(nil)
}

func (st *InsertStream) trimStaged(keep []uint64) {
	keepSet := make(map[uint64]bool, len(keep))
	for _, key := range keep {
		keepSet[key] = true
	}
	for key := range st.staged {
		if keepSet[key] {
			continue
		}
		delete(st.staged, key)
		st.srv.chunks.EvictIfUnreferenced(key)
	}
}
