package table

import (
	"fmt"
	"sort"

	"github.com/hupe1980/replaybuf/chunkstore"
	"github.com/hupe1980/replaybuf/schema"
)

// CheckpointData is the portable state of a table: its live items in
// insertion order plus the rate limiter counters. Selector contents are
// not stored, they are rebuilt by re-inserting the items on restore.
type CheckpointData struct {
	Items   []schema.PrioritizedItem `json:"items"`
	Inserts int64                    `json:"inserts"`
	Samples int64                    `json:"samples"`
	Deletes int64                    `json:"deletes"`
}

// CheckpointData snapshots the table. Items are ordered by insertion
// time so a restore replays them in their original order.
func (t *Table) CheckpointData() CheckpointData {
	t.mu.Lock()
	defer t.mu.Unlock()

	data := CheckpointData{
		Items: make([]schema.PrioritizedItem, 0, len(t.items)),
	}
	for _, it := range t.items {
		data.Items = append(data.Items, it.Item())
	}
	sort.Slice(data.Items, func(i, j int) bool {
		return data.Items[i].InsertedAt.Before(data.Items[j].InsertedAt)
	})
	data.Inserts, data.Samples, data.Deletes = t.limiter.Counters()
	return data
}

// InsertCheckpointItem restores one item, preserving its recorded
// TimesSampled and InsertedAt and bypassing the rate limiter. It must
// only be used while rebuilding a table from a checkpoint, before the
// table serves traffic.
func (t *Table) InsertCheckpointItem(item schema.PrioritizedItem, chunks []*chunkstore.Chunk) error {
	if err := t.validateItem(item, chunks); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.items[item.Key]; ok {
		return fmt.Errorf("%w: restored item %d already present", ErrInvalidArgument, item.Key)
	}
	if int64(len(t.items)) >= t.maxSize {
		return fmt.Errorf("%w: restored item %d exceeds max_size %d",
			ErrResourceExhausted, item.Key, t.maxSize)
	}

	if err := t.sampler.Insert(item.Key, item.Priority); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err := t.remover.Insert(item.Key, item.Priority); err != nil {
		if derr := t.sampler.Delete(item.Key); derr != nil {
			panic(fmt.Sprintf("table %s: selector state corrupted: %v", t.name, derr))
		}
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	it := &Item{item: item, chunks: chunks}
	t.items[item.Key] = it

	for _, c := range chunks {
		if err := t.store.AddRef(c.Key()); err != nil {
			panic(fmt.Sprintf("table %s: chunk refcount corrupted: %v", t.name, err))
		}
		t.episodeRefs[c.EpisodeID()]++
	}

	t.fireOnInsert(&it.item)
	return nil
}

// RestoreLimiter overwrites the rate limiter counters with checkpointed
// values. It must only be used while rebuilding a table from a
// checkpoint.
func (t *Table) RestoreLimiter(inserts, samples, deletes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limiter.RestoreCounters(inserts, samples, deletes)
}
