// Package table implements the concurrency-controlled, prioritized,
// rate-limited item collection at the core of the replay store.
//
// A table is a monitor: one exclusive lock serializes Insert, Sample,
// Update, Delete and Reset. Rate limiter waits release the lock while
// suspended and reacquire it atomically on wake, so sample probabilities
// are always computed against a fully consistent snapshot.
package table

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/replaybuf/chunkstore"
	"github.com/hupe1980/replaybuf/extension"
	"github.com/hupe1980/replaybuf/ratelimiter"
	"github.com/hupe1980/replaybuf/schema"
	"github.com/hupe1980/replaybuf/selector"
)

var (
	// ErrNotFound is returned for operations on unknown item keys.
	ErrNotFound = errors.New("item not found")
	// ErrInvalidArgument is returned for malformed items or signature
	// mismatches.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrResourceExhausted is returned when an insert cannot make room
	// under max_size because the remover has nothing left to offer.
	ErrResourceExhausted = errors.New("table is full and no item can be evicted")
	// ErrZeroWeightSum is returned when sampling from a prioritized
	// distribution whose live weight sum is zero.
	ErrZeroWeightSum = selector.ErrZeroWeightSum
)

// SignatureValidator checks a chunk payload against the table's optional
// shape/dtype contract. It is called before an insert is staged and a
// non-nil error rejects the insert with ErrInvalidArgument.
type SignatureValidator func(chunk schema.ChunkData) error

// Config describes a table.
type Config struct {
	Name            string
	Sampler         selector.Selector
	Remover         selector.Selector
	MaxSize         int64
	MaxTimesSampled int32
	RateLimiter     *ratelimiter.RateLimiter
	Extensions      []extension.TableExtension
	ChunkStore      *chunkstore.ChunkStore

	// Signature is a human-readable description of the payload contract,
	// reported through TableInfo. SignatureValidator enforces it.
	Signature          string
	SignatureValidator SignatureValidator
}

// Item is a live table entry: the prioritized item plus the chunks it
// pins.
type Item struct {
	item   schema.PrioritizedItem
	chunks []*chunkstore.Chunk
}

// Item returns a copy of the wire representation.
func (i *Item) Item() schema.PrioritizedItem {
	cp := i.item
	cp.ChunkKeys = append([]uint64(nil), i.item.ChunkKeys...)
	return cp
}

// Chunks returns the chunks the item references, in chunk-key order.
func (i *Item) Chunks() []*chunkstore.Chunk { return i.chunks }

// SampledItem is the snapshot returned by Sample: the wire-level sample
// info plus the chunk payloads the item references.
type SampledItem struct {
	schema.SampleInfo
	Chunks []schema.ChunkData
}

// Table orchestrates the chunk store, the sampler/remover selectors, the
// rate limiter and the extension chain behind one exclusive lock.
type Table struct {
	name            string
	sampler         selector.Selector
	remover         selector.Selector
	maxSize         int64
	maxTimesSampled int32
	limiter         *ratelimiter.RateLimiter
	extensions      []extension.TableExtension
	store           *chunkstore.ChunkStore
	signature       string
	validator       SignatureValidator

	mu          sync.Mutex
	lock        *extension.TableLock
	items       map[uint64]*Item
	episodeRefs map[uint64]int64
}

// New creates a table, binding the rate limiter and all extensions to it.
func New(cfg Config) (*Table, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: table name must not be empty", ErrInvalidArgument)
	}
	if cfg.Sampler == nil || cfg.Remover == nil {
		return nil, fmt.Errorf("%w: sampler and remover are required", ErrInvalidArgument)
	}
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("%w: max_size must be positive, got %d", ErrInvalidArgument, cfg.MaxSize)
	}
	if cfg.RateLimiter == nil {
		return nil, fmt.Errorf("%w: rate limiter is required", ErrInvalidArgument)
	}
	if cfg.ChunkStore == nil {
		cfg.ChunkStore = chunkstore.New()
	}

	t := &Table{
		name:            cfg.Name,
		sampler:         cfg.Sampler,
		remover:         cfg.Remover,
		maxSize:         cfg.MaxSize,
		maxTimesSampled: cfg.MaxTimesSampled,
		limiter:         cfg.RateLimiter,
		extensions:      cfg.Extensions,
		store:           cfg.ChunkStore,
		signature:       cfg.Signature,
		validator:       cfg.SignatureValidator,
		items:           make(map[uint64]*Item),
		episodeRefs:     make(map[uint64]int64),
	}
	t.lock = extension.NewTableLock(&t.mu)

	if err := t.limiter.Register(&t.mu, t.name); err != nil {
		return nil, err
	}
	for i, ext := range t.extensions {
		if err := ext.Register(t.name); err != nil {
			for _, bound := range t.extensions[:i] {
				bound.Unregister(t.name)
			}
			return nil, err
		}
	}
	return t, nil
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Size returns the number of live items.
func (t *Table) Size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.items))
}

// NumEpisodes returns the number of distinct episodes referenced by live
// items.
func (t *Table) NumEpisodes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.episodeRefs))
}

// Get returns a copy of the item stored under key.
func (t *Table) Get(key uint64) (schema.PrioritizedItem, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	it, ok := t.items[key]
	if !ok {
		return schema.PrioritizedItem{}, false
	}
	return it.Item(), true
}

// Copy returns snapshots of up to count items (all items when count is
// 0), in no particular order.
func (t *Table) Copy(count int) []schema.PrioritizedItem {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.items)
	if count > 0 && count < n {
		n = count
	}
	out := make([]schema.PrioritizedItem, 0, n)
	for _, it := range t.items {
		if count > 0 && len(out) >= count {
			break
		}
		out = append(out, it.Item())
	}
	return out
}

// CanInsert reports whether n inserts could proceed without waiting.
func (t *Table) CanInsert(n int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limiter.CanInsert(n)
}

// CanSample reports whether n samples could proceed without waiting.
func (t *Table) CanSample(n int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limiter.CanSample(n)
}

// Insert adds an item referencing the given chunks. If the key already
// exists the call degrades to a priority update. The call may suspend on
// the rate limiter; ctx aborts the wait without side effects.
func (t *Table) Insert(ctx context.Context, item schema.PrioritizedItem, chunks []*chunkstore.Chunk) error {
	if err := t.validateItem(item, chunks); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.items[item.Key]; ok {
		return t.updateLocked(item.Key, item.Priority)
	}

	// Wait for the insert to be staged. The lock is released while
	// waiting; on return it is held again and the operation may have
	// turned into an update.
	if err := t.limiter.AwaitCanInsert(ctx); err != nil {
		return err
	}
	if _, ok := t.items[item.Key]; ok {
		// Hand the staged slot to the next waiting inserter.
		t.limiter.MaybeSignal()
		return t.updateLocked(item.Key, item.Priority)
	}

	// Pin the incoming chunks before making room: an eviction victim
	// sharing a chunk with this item must not drop it from the store.
	for i, c := range chunks {
		if err := t.store.AddRef(c.Key()); err != nil {
			t.unrefChunks(chunks[:i])
			return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}

	// Make room so the limiter only counts inserts that fit.
	for int64(len(t.items)) >= t.maxSize {
		victim, err := t.remover.Sample()
		if err != nil {
			t.unrefChunks(chunks)
			return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
		}
		if err := t.deleteLocked(victim.Key); err != nil {
			t.unrefChunks(chunks)
			return err
		}
	}

	item.TimesSampled = 0
	// The insertion timestamp is taken under the lock so it matches the
	// order seen by the sampler and remover.
	item.InsertedAt = time.Now().UTC()

	if err := t.sampler.Insert(item.Key, item.Priority); err != nil {
		t.unrefChunks(chunks)
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err := t.remover.Insert(item.Key, item.Priority); err != nil {
		// Keep sampler and remover in sync.
		if derr := t.sampler.Delete(item.Key); derr != nil {
			panic(fmt.Sprintf("table %s: selector state corrupted: %v", t.name, derr))
		}
		t.unrefChunks(chunks)
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	it := &Item{item: item, chunks: chunks}
	t.items[item.Key] = it

	for _, c := range chunks {
		t.episodeRefs[c.EpisodeID()]++
	}

	t.fireOnInsert(&it.item)

	t.limiter.Insert()
	return nil
}

// Sample returns one item according to the sampler's distribution. The
// call may suspend on the rate limiter; ctx aborts the wait without side
// effects. When max_times_sampled is configured and reached, the sampled
// item is deleted before the call returns.
func (t *Table) Sample(ctx context.Context) (SampledItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.limiter.AwaitCanSample(ctx); err != nil {
		return SampledItem{}, err
	}

	picked, err := t.sampler.Sample()
	if err != nil {
		return SampledItem{}, err
	}
	t.limiter.FinalizeSample()

	it, ok := t.items[picked.Key]
	if !ok {
		panic(fmt.Sprintf("table %s: sampler returned unknown key %d", t.name, picked.Key))
	}
	it.item.TimesSampled++

	sampled := SampledItem{
		SampleInfo: schema.SampleInfo{
			Item:        it.Item(),
			Probability: picked.Probability,
			TableSize:   int64(len(t.items)),
		},
		Chunks: make([]schema.ChunkData, 0, len(it.chunks)),
	}
	for _, c := range it.chunks {
		sampled.Chunks = append(sampled.Chunks, c.Data())
	}

	t.fireOnSample(&it.item)

	if t.maxTimesSampled > 0 && it.item.TimesSampled >= t.maxTimesSampled {
		if err := t.deleteLocked(picked.Key); err != nil {
			return SampledItem{}, err
		}
	}
	return sampled, nil
}

// Update changes the priority of key in both the sampler and the
// remover.
func (t *Table) Update(key uint64, priority float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updateLocked(key, priority)
}

// Delete removes key from the table and releases its chunk references.
func (t *Table) Delete(key uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deleteLocked(key)
}

// MutatePriorities applies deletions first, then priority updates.
// Unknown keys are skipped: producers routinely race their mutations
// against eviction and max-times-sampled deletion.
func (t *Table) MutatePriorities(updates []schema.KeyWithPriority, deletes []uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, key := range deletes {
		if err := t.deleteLocked(key); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	for _, u := range updates {
		if err := t.updateLocked(u.Key, u.Priority); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// Reset clears all items, selectors and rate limiter counters.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sampler.Clear()
	t.remover.Clear()

	for _, it := range t.items {
		for _, c := range it.chunks {
			if err := t.store.Release(c.Key()); err != nil {
				panic(fmt.Sprintf("table %s: chunk refcount corrupted: %v", t.name, err))
			}
		}
	}
	t.items = make(map[uint64]*Item)
	t.episodeRefs = make(map[uint64]int64)

	t.limiter.Reset()

	t.fireOnReset()
}

// Info returns the aggregate view of the table.
func (t *Table) Info() schema.TableInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	return schema.TableInfo{
		Name:            t.name,
		SamplerOptions:  t.sampler.Options(),
		RemoverOptions:  t.remover.Options(),
		MaxSize:         t.maxSize,
		MaxTimesSampled: t.maxTimesSampled,
		RateLimiterInfo: t.limiter.Info(),
		Signature:       t.signature,
		CurrentSize:     int64(len(t.items)),
		NumEpisodes:     int64(len(t.episodeRefs)),
	}
}

// Close cancels all current and future rate limiter waits. Items remain
// readable through Get/Copy.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limiter.Cancel()
}

func (t *Table) validateItem(item schema.PrioritizedItem, chunks []*chunkstore.Chunk) error {
	if item.Table != "" && item.Table != t.name {
		return fmt.Errorf("%w: item %d addresses table %q, not %q",
			ErrInvalidArgument, item.Key, item.Table, t.name)
	}
	if len(item.ChunkKeys) == 0 || len(item.ChunkKeys) != len(chunks) {
		return fmt.Errorf("%w: item %d references %d chunk keys but %d chunks were provided",
			ErrInvalidArgument, item.Key, len(item.ChunkKeys), len(chunks))
	}

	var total int64
	for i, c := range chunks {
		if c.Key() != item.ChunkKeys[i] {
			return fmt.Errorf("%w: item %d chunk order mismatch at position %d",
				ErrInvalidArgument, item.Key, i)
		}
		total += int64(c.NumSteps())
	}

	r := item.SequenceRange
	if r.Offset < 0 || r.Length < 1 {
		return fmt.Errorf("%w: item %d has malformed slice range {offset=%d, length=%d}",
			ErrInvalidArgument, item.Key, r.Offset, r.Length)
	}
	if int64(r.Offset)+int64(r.Length) > total {
		return fmt.Errorf("%w: item %d slice range [%d, %d) exceeds combined chunk length %d",
			ErrInvalidArgument, item.Key, r.Offset, int64(r.Offset)+int64(r.Length), total)
	}

	if t.validator != nil {
		for _, c := range chunks {
			if err := t.validator(c.Data()); err != nil {
				return fmt.Errorf("%w: chunk %d does not match table signature: %w",
					ErrInvalidArgument, c.Key(), err)
			}
		}
	}
	return nil
}

// unrefChunks rolls back the refs pinned for a failed insert. Chunks
// whose count returns to zero stay staged in the store.
func (t *Table) unrefChunks(chunks []*chunkstore.Chunk) {
	for _, c := range chunks {
		if err := t.store.Unref(c.Key()); err != nil {
			panic(fmt.Sprintf("table %s: chunk refcount corrupted: %v", t.name, err))
		}
	}
}

func (t *Table) updateLocked(key uint64, priority float64) error {
	it, ok := t.items[key]
	if !ok {
		return fmt.Errorf("update %d: %w", key, ErrNotFound)
	}

	old := it.item.Priority
	if err := t.sampler.Update(key, priority); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err := t.remover.Update(key, priority); err != nil {
		if rerr := t.sampler.Update(key, old); rerr != nil {
			panic(fmt.Sprintf("table %s: selector state corrupted: %v", t.name, rerr))
		}
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	it.item.Priority = priority

	t.fireOnUpdate(&it.item)
	return nil
}

func (t *Table) deleteLocked(key uint64) error {
	it, ok := t.items[key]
	if !ok {
		return fmt.Errorf("delete %d: %w", key, ErrNotFound)
	}

	if err := t.sampler.Delete(key); err != nil {
		panic(fmt.Sprintf("table %s: selector state corrupted: %v", t.name, err))
	}
	if err := t.remover.Delete(key); err != nil {
		panic(fmt.Sprintf("table %s: selector state corrupted: %v", t.name, err))
	}
	delete(t.items, key)
	t.limiter.Delete()

	for _, c := range it.chunks {
		ep := c.EpisodeID()
		refs, ok := t.episodeRefs[ep]
		if !ok {
			panic(fmt.Sprintf("table %s: episode refcount corrupted for episode %d", t.name, ep))
		}
		if refs--; refs == 0 {
			delete(t.episodeRefs, ep)
		} else {
			t.episodeRefs[ep] = refs
		}
		if err := t.store.Release(c.Key()); err != nil {
			panic(fmt.Sprintf("table %s: chunk refcount corrupted: %v", t.name, err))
		}
	}

	t.fireOnDelete(&it.item)
	return nil
}

func (t *Table) fireOnInsert(item *schema.PrioritizedItem) {
	for _, ext := range t.extensions {
		ext.OnInsert(t.lock, item)
		t.assertLockHeld()
	}
}

func (t *Table) fireOnDelete(item *schema.PrioritizedItem) {
	for _, ext := range t.extensions {
		ext.OnDelete(t.lock, item)
		t.assertLockHeld()
	}
}

func (t *Table) fireOnUpdate(item *schema.PrioritizedItem) {
	for _, ext := range t.extensions {
		ext.OnUpdate(t.lock, item)
		t.assertLockHeld()
	}
}

func (t *Table) fireOnSample(item *schema.PrioritizedItem) {
	for _, ext := range t.extensions {
		ext.OnSample(t.lock, item)
		t.assertLockHeld()
	}
}

func (t *Table) fireOnReset() {
	for _, ext := range t.extensions {
		ext.OnReset(t.lock)
		t.assertLockHeld()
	}
}

func (t *Table) assertLockHeld() {
	if !t.lock.Held() {
		panic(fmt.Sprintf("table %s: extension returned with the table lock released", t.name))
	}
}
