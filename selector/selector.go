// Package selector implements the pluggable key distributions used by a
// table in its sampler and remover roles.
//
// All implementations assume external synchronization: the owning table
// serializes every call under its lock, so selectors carry no locking of
// their own.
package selector

import (
	"errors"
	"fmt"

	"github.com/hupe1980/replaybuf/schema"
)

var (
	// ErrEmpty is returned when sampling from a selector with no live keys.
	ErrEmpty = errors.New("selector is empty")
	// ErrZeroWeightSum is returned by the prioritized selector when the
	// total sampling weight is zero.
	ErrZeroWeightSum = errors.New("sum of priority weights is zero")
	// ErrDuplicateKey is returned when inserting a key that is already live.
	ErrDuplicateKey = errors.New("key already inserted")
	// ErrKeyNotFound is returned by Delete/Update for unknown keys.
	ErrKeyNotFound = errors.New("key not found")
)

// KeyWithProbability is a sampled key together with the probability of it
// having been selected given the current state.
type KeyWithProbability struct {
	Key         uint64
	Probability float64
}

// Selector chooses keys for sampling or removal.
type Selector interface {
	// Insert adds key with the given priority.
	Insert(key uint64, priority float64) error
	// Delete removes key.
	Delete(key uint64) error
	// Update changes the priority of key.
	Update(key uint64, priority float64) error
	// Sample returns a key according to the distribution, without
	// removing it.
	Sample() (KeyWithProbability, error)
	// Size returns the number of live keys.
	Size() int
	// Clear removes all keys.
	Clear()
	// Options describes the distribution for TableInfo and checkpoints.
	Options() schema.KeyDistributionOptions
}

// New constructs the selector described by opts.
func New(opts schema.KeyDistributionOptions) (Selector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	switch {
	case opts.Fifo:
		return NewFifo(), nil
	case opts.Lifo:
		return NewLifo(), nil
	case opts.Uniform:
		return NewUniform(), nil
	case opts.Prioritized != nil:
		return NewPrioritized(opts.Prioritized.PriorityExponent)
	case opts.Heap != nil:
		return NewHeap(opts.Heap.MinHeap), nil
	default:
		return nil, fmt.Errorf("unsupported key distribution options: %+v", opts)
	}
}
