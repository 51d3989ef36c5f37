package extension

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/replaybuf/schema"
)

// Coverage records every item key that has ever been sampled, so readers
// can measure how much of the table a learner has actually visited.
//
// Keys are kept in a compressed 64-bit bitmap; Reset clears it.
type Coverage struct {
	Base

	mu      sync.Mutex
	sampled *roaring64.Bitmap
}

// NewCoverage creates an empty coverage tracker.
func NewCoverage() *Coverage {
	return &Coverage{sampled: roaring64.New()}
}

// OnSample implements TableExtension.
func (c *Coverage) OnSample(_ *TableLock, item *schema.PrioritizedItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sampled.Add(item.Key)
}

// OnReset implements TableExtension.
func (c *Coverage) OnReset(*TableLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sampled.Clear()
}

// NumSampled returns the number of distinct keys sampled since the last
// reset.
func (c *Coverage) NumSampled() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampled.GetCardinality()
}

// Contains reports whether key has been sampled since the last reset.
func (c *Coverage) Contains(key uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampled.Contains(key)
}

// SampledKeys returns a snapshot of all sampled keys in ascending order.
func (c *Coverage) SampledKeys() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampled.ToArray()
}
