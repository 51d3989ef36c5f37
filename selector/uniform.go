package selector

import (
	"fmt"
	"math/rand"

	"github.com/hupe1980/replaybuf/schema"
)

// uniformSelector samples uniformly among live keys. Inserts append to a
// dense slice; deletes swap the victim with the last element so both are
// O(1).
type uniformSelector struct {
	keys    []uint64
	indices map[uint64]int
	rng     *rand.Rand
}

// NewUniform creates a uniform random selector.
func NewUniform() Selector {
	return &uniformSelector{
		indices: make(map[uint64]int),
		rng:     rand.New(rand.NewSource(rand.Int63())),
	}
}

// NewUniformSeeded creates a uniform selector with a fixed seed, for
// reproducible tests.
func NewUniformSeeded(seed int64) Selector {
	return &uniformSelector{
		indices: make(map[uint64]int),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (u *uniformSelector) Insert(key uint64, _ float64) error {
	if _, ok := u.indices[key]; ok {
		return fmt.Errorf("insert %d: %w", key, ErrDuplicateKey)
	}
	u.indices[key] = len(u.keys)
	u.keys = append(u.keys, key)
	return nil
}

func (u *uniformSelector) Delete(key uint64) error {
	i, ok := u.indices[key]
	if !ok {
		return fmt.Errorf("delete %d: %w", key, ErrKeyNotFound)
	}
	last := len(u.keys) - 1
	moved := u.keys[last]
	u.keys[i] = moved
	u.indices[moved] = i
	u.keys = u.keys[:last]
	delete(u.indices, key)
	return nil
}

func (u *uniformSelector) Update(key uint64, _ float64) error {
	if _, ok := u.indices[key]; !ok {
		return fmt.Errorf("update %d: %w", key, ErrKeyNotFound)
	}
	return nil
}

func (u *uniformSelector) Sample() (KeyWithProbability, error) {
	if len(u.keys) == 0 {
		return KeyWithProbability{}, ErrEmpty
	}
	i := u.rng.Intn(len(u.keys))
	return KeyWithProbability{
		Key:         u.keys[i],
		Probability: 1.0 / float64(len(u.keys)),
	}, nil
}

func (u *uniformSelector) Size() int { return len(u.keys) }

func (u *uniformSelector) Clear() {
	u.keys = u.keys[:0]
	u.indices = make(map[uint64]int)
}

func (u *uniformSelector) Options() schema.KeyDistributionOptions {
	return schema.UniformOptions()
}
