package extension

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/replaybuf/schema"
)

func TestBaseRegisterOnce(t *testing.T) {
	var b Base

	require.NoError(t, b.Register("alpha"))
	assert.Equal(t, "alpha", b.BoundTable())

	err := b.Register("beta")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	b.Unregister("alpha")
	assert.Equal(t, "", b.BoundTable())

	// Free again after unregistering.
	require.NoError(t, b.Register("beta"))
	assert.Equal(t, "beta", b.BoundTable())
}

func TestBaseUnregisterMismatchPanics(t *testing.T) {
	var b Base
	require.NoError(t, b.Register("alpha"))

	assert.Panics(t, func() { b.Unregister("beta") })
}

func TestBaseUnregisterUnboundPanics(t *testing.T) {
	var b Base
	assert.Panics(t, func() { b.Unregister("alpha") })
}

func TestTableLockUnlockRelock(t *testing.T) {
	mu := &sync.Mutex{}
	mu.Lock()
	lk := NewTableLock(mu)
	assert.True(t, lk.Held())

	lk.Unlock()
	assert.False(t, lk.Held())

	lk.Relock()
	assert.True(t, lk.Held())
	mu.Unlock()
}

func TestTableLockMisusePanics(t *testing.T) {
	mu := &sync.Mutex{}
	mu.Lock()
	lk := NewTableLock(mu)

	assert.Panics(t, func() { lk.Relock() })
	lk.Unlock()
	assert.Panics(t, func() { lk.Unlock() })
	lk.Relock()
	mu.Unlock()
}

func TestCoverageTracksSampledKeys(t *testing.T) {
	c := NewCoverage()
	require.NoError(t, c.Register("alpha"))

	item := &schema.PrioritizedItem{Key: 7}
	c.OnSample(nil, item)
	c.OnSample(nil, item)
	c.OnSample(nil, &schema.PrioritizedItem{Key: 9})

	assert.Equal(t, uint64(2), c.NumSampled())
	assert.True(t, c.Contains(7))
	assert.True(t, c.Contains(9))
	assert.False(t, c.Contains(8))
	assert.Equal(t, []uint64{7, 9}, c.SampledKeys())

	// Inserts and deletes do not count as coverage.
	c.OnInsert(nil, &schema.PrioritizedItem{Key: 1})
	c.OnDelete(nil, &schema.PrioritizedItem{Key: 2})
	assert.Equal(t, uint64(2), c.NumSampled())

	c.OnReset(nil)
	assert.Equal(t, uint64(0), c.NumSampled())
	assert.Empty(t, c.SampledKeys())
}
