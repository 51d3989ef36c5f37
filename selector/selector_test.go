package selector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/replaybuf/schema"
)

func TestNewDispatch(t *testing.T) {
	tests := []struct {
		name string
		opts schema.KeyDistributionOptions
	}{
		{name: "fifo", opts: schema.FifoOptions()},
		{name: "lifo", opts: schema.LifoOptions()},
		{name: "uniform", opts: schema.UniformOptions()},
		{name: "prioritized", opts: schema.PrioritizedWithExponent(0.8)},
		{name: "heap", opts: schema.HeapWithMin(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.opts, s.Options())
		})
	}

	_, err := New(schema.KeyDistributionOptions{})
	assert.Error(t, err)
}

func TestFifoOrder(t *testing.T) {
	s := NewFifo()
	for key := uint64(1); key <= 3; key++ {
		require.NoError(t, s.Insert(key, 1.0))
	}

	got, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Key)
	assert.Equal(t, 1.0, got.Probability)

	// Sampling does not remove.
	got, err = s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Key)

	require.NoError(t, s.Delete(1))
	got, err = s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Key)
}

func TestLifoOrder(t *testing.T) {
	s := NewLifo()
	for key := uint64(1); key <= 3; key++ {
		require.NoError(t, s.Insert(key, 1.0))
	}

	got, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Key)

	require.NoError(t, s.Delete(3))
	got, err = s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Key)
}

func TestQueueErrors(t *testing.T) {
	s := NewFifo()

	_, err := s.Sample()
	assert.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, s.Insert(1, 1.0))
	assert.ErrorIs(t, s.Insert(1, 1.0), ErrDuplicateKey)
	assert.ErrorIs(t, s.Delete(2), ErrKeyNotFound)
	assert.ErrorIs(t, s.Update(2, 1.0), ErrKeyNotFound)
}

func TestUniformCoversAllKeys(t *testing.T) {
	s := NewUniformSeeded(42)
	for key := uint64(0); key < 4; key++ {
		require.NoError(t, s.Insert(key, 1.0))
	}

	seen := make(map[uint64]int)
	for range 4000 {
		got, err := s.Sample()
		require.NoError(t, err)
		assert.Equal(t, 0.25, got.Probability)
		seen[got.Key]++
	}
	for key := uint64(0); key < 4; key++ {
		assert.Greater(t, seen[key], 700, "key %d undersampled", key)
	}
}

func TestUniformSwapDelete(t *testing.T) {
	s := NewUniformSeeded(1)
	for key := uint64(0); key < 10; key++ {
		require.NoError(t, s.Insert(key, 1.0))
	}
	// Delete from the middle; the remaining set must stay sampleable.
	require.NoError(t, s.Delete(4))
	require.NoError(t, s.Delete(0))
	require.NoError(t, s.Delete(9))
	assert.Equal(t, 7, s.Size())

	for range 100 {
		got, err := s.Sample()
		require.NoError(t, err)
		assert.NotContains(t, []uint64{0, 4, 9}, got.Key)
	}
}

func TestPrioritizedDistribution(t *testing.T) {
	s, err := NewPrioritizedSeeded(1.0, 42)
	require.NoError(t, err)

	require.NoError(t, s.Insert(1, 3.0))
	require.NoError(t, s.Insert(2, 1.0))

	const draws = 10000
	counts := make(map[uint64]int)
	for range draws {
		got, err := s.Sample()
		require.NoError(t, err)
		counts[got.Key]++
		switch got.Key {
		case 1:
			assert.InDelta(t, 0.75, got.Probability, 1e-9)
		case 2:
			assert.InDelta(t, 0.25, got.Probability, 1e-9)
		}
	}

	ratio := float64(counts[1]) / draws
	assert.InDelta(t, 0.75, ratio, 0.03)
}

func TestPrioritizedExponentZeroIsUniform(t *testing.T) {
	s, err := NewPrioritizedSeeded(0, 7)
	require.NoError(t, err)

	require.NoError(t, s.Insert(1, 100.0))
	require.NoError(t, s.Insert(2, 0.001))

	got, err := s.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.Probability, 1e-9)
}

func TestPrioritizedZeroWeightSum(t *testing.T) {
	s, err := NewPrioritizedSeeded(1.0, 3)
	require.NoError(t, err)

	require.NoError(t, s.Insert(1, 0))
	require.NoError(t, s.Insert(2, 0))

	_, err = s.Sample()
	assert.ErrorIs(t, err, ErrZeroWeightSum)

	// Raising one priority makes the selector usable again and the
	// non-zero key is the only possible outcome.
	require.NoError(t, s.Update(2, 5.0))
	got, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Key)
	assert.InDelta(t, 1.0, got.Probability, 1e-9)
}

func TestPrioritizedRejectsBadInput(t *testing.T) {
	_, err := NewPrioritized(-1)
	assert.Error(t, err)

	s, err := NewPrioritizedSeeded(1.0, 1)
	require.NoError(t, err)
	assert.Error(t, s.Insert(1, -0.5))
}

func TestPrioritizedDeleteKeepsWeights(t *testing.T) {
	s, err := NewPrioritizedSeeded(1.0, 11)
	require.NoError(t, err)

	for key := uint64(1); key <= 50; key++ {
		require.NoError(t, s.Insert(key, float64(key)))
	}
	// Remove every even key, then confirm only odd keys come back.
	for key := uint64(2); key <= 50; key += 2 {
		require.NoError(t, s.Delete(key))
	}
	for range 200 {
		got, err := s.Sample()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), got.Key%2)
	}
}

func TestPrioritizedChurnBoundsState(t *testing.T) {
	s, err := NewPrioritizedSeeded(1.0, 5)
	require.NoError(t, err)
	p := s.(*prioritizedSelector)

	for round := 0; round < 50; round++ {
		for key := uint64(1); key <= 20; key++ {
			require.NoError(t, s.Insert(key, float64(key)))
		}
		for key := uint64(1); key <= 20; key++ {
			require.NoError(t, s.Delete(key))
		}
	}
	// The tree shrinks with deletes instead of growing once per insert
	// ever made.
	assert.Equal(t, 0, s.Size())
	assert.Empty(t, p.tree)

	require.NoError(t, s.Insert(1, 3.0))
	require.NoError(t, s.Insert(2, 1.0))
	assert.Len(t, p.tree, 2)

	hits := 0
	const n = 2000
	for range n {
		got, err := s.Sample()
		require.NoError(t, err)
		switch got.Key {
		case 1:
			assert.InDelta(t, 0.75, got.Probability, 1e-9)
			hits++
		case 2:
			assert.InDelta(t, 0.25, got.Probability, 1e-9)
		default:
			t.Fatalf("unexpected key %d", got.Key)
		}
	}
	assert.InDelta(t, 0.75, float64(hits)/n, 0.03)
}

func TestHeapMaxOrder(t *testing.T) {
	s := NewHeap(false)
	require.NoError(t, s.Insert(1, 5.0))
	require.NoError(t, s.Insert(2, 9.0))
	require.NoError(t, s.Insert(3, 7.0))

	got, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Key)

	require.NoError(t, s.Delete(2))
	got, err = s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Key)

	require.NoError(t, s.Update(1, 100.0))
	got, err = s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Key)
}

func TestHeapMinOrderAndTies(t *testing.T) {
	s := NewHeap(true)
	require.NoError(t, s.Insert(10, 1.0))
	require.NoError(t, s.Insert(11, 1.0))
	require.NoError(t, s.Insert(12, 0.5))

	got, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), got.Key)

	// Equal priorities resolve to the oldest insertion.
	require.NoError(t, s.Delete(12))
	got, err = s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Key)
}

func TestClearResets(t *testing.T) {
	selectors := []Selector{NewFifo(), NewLifo(), NewUniformSeeded(1), NewHeap(false)}
	p, err := NewPrioritizedSeeded(1.0, 1)
	require.NoError(t, err)
	selectors = append(selectors, p)

	for _, s := range selectors {
		require.NoError(t, s.Insert(1, 1.0))
		require.NoError(t, s.Insert(2, 2.0))
		s.Clear()
		assert.Equal(t, 0, s.Size())
		_, err := s.Sample()
		assert.True(t, errors.Is(err, ErrEmpty))

		// A cleared selector accepts the old keys again.
		require.NoError(t, s.Insert(1, 1.0))
		assert.Equal(t, 1, s.Size())
	}
}
