package selector

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/hupe1980/replaybuf/schema"
)

// prioritizedSelector samples key k with probability
// priority(k)^e / sum over live keys of priority^e.
//
// Weights live in a Fenwick tree over a dense key slice, giving O(log n)
// insert, delete, update and weighted sampling. The tree always has one
// slot per live key.
type prioritizedSelector struct {
	exponent float64
	keys     []uint64
	weights  []float64
	tree     []float64 // 1-based Fenwick tree over weights
	indices  map[uint64]int
	rng      *rand.Rand
}

// NewPrioritized creates a priority-weighted selector.
func NewPrioritized(exponent float64) (Selector, error) {
	return newPrioritized(exponent, rand.Int63())
}

// NewPrioritizedSeeded creates a priority-weighted selector with a fixed
// seed, for reproducible tests.
func NewPrioritizedSeeded(exponent float64, seed int64) (Selector, error) {
	return newPrioritized(exponent, seed)
}

func newPrioritized(exponent float64, seed int64) (Selector, error) {
	if exponent < 0 || math.IsNaN(exponent) || math.IsInf(exponent, 0) {
		return nil, fmt.Errorf("priority exponent must be a finite non-negative number, got %v", exponent)
	}
	return &prioritizedSelector{
		exponent: exponent,
		indices:  make(map[uint64]int),
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

func (p *prioritizedSelector) weight(priority float64) (float64, error) {
	if priority < 0 || math.IsNaN(priority) {
		return 0, fmt.Errorf("priority must be a non-negative number, got %v", priority)
	}
	return math.Pow(priority, p.exponent), nil
}

func (p *prioritizedSelector) Insert(key uint64, priority float64) error {
	if _, ok := p.indices[key]; ok {
		return fmt.Errorf("insert %d: %w", key, ErrDuplicateKey)
	}
	w, err := p.weight(priority)
	if err != nil {
		return err
	}

	p.indices[key] = len(p.keys)
	p.keys = append(p.keys, key)
	p.weights = append(p.weights, w)
	p.treeGrow()
	p.treeAdd(len(p.keys)-1, w)
	return nil
}

func (p *prioritizedSelector) Delete(key uint64) error {
	i, ok := p.indices[key]
	if !ok {
		return fmt.Errorf("delete %d: %w", key, ErrKeyNotFound)
	}
	last := len(p.keys) - 1
	if i != last {
		moved := p.keys[last]
		p.treeAdd(i, p.weights[last]-p.weights[i])
		p.keys[i] = moved
		p.weights[i] = p.weights[last]
		p.indices[moved] = i
	}
	p.treeAdd(last, -p.weights[last])
	// Drop the trailing tree slot with the element it covered; a later
	// insert rebuilds it via treeGrow. This keeps the tree's length at
	// the live size under insert/delete churn.
	p.tree = p.tree[:last]
	p.keys = p.keys[:last]
	p.weights = p.weights[:last]
	delete(p.indices, key)
	return nil
}

func (p *prioritizedSelector) Update(key uint64, priority float64) error {
	i, ok := p.indices[key]
	if !ok {
		return fmt.Errorf("update %d: %w", key, ErrKeyNotFound)
	}
	w, err := p.weight(priority)
	if err != nil {
		return err
	}
	p.treeAdd(i, w-p.weights[i])
	p.weights[i] = w
	return nil
}

func (p *prioritizedSelector) Sample() (KeyWithProbability, error) {
	n := len(p.keys)
	if n == 0 {
		return KeyWithProbability{}, ErrEmpty
	}
	total := p.treePrefix(n)
	if total <= 0 {
		return KeyWithProbability{}, ErrZeroWeightSum
	}

	target := p.rng.Float64() * total
	i := p.treeFind(target)
	if i >= n {
		i = n - 1
	}
	return KeyWithProbability{
		Key:         p.keys[i],
		Probability: p.weights[i] / total,
	}, nil
}

func (p *prioritizedSelector) Size() int { return len(p.keys) }

func (p *prioritizedSelector) Clear() {
	p.keys = p.keys[:0]
	p.weights = p.weights[:0]
	p.tree = p.tree[:0]
	p.indices = make(map[uint64]int)
}

func (p *prioritizedSelector) Options() schema.KeyDistributionOptions {
	return schema.PrioritizedWithExponent(p.exponent)
}

// treeGrow extends the tree to cover one more element. Extending by one
// slot keeps all existing prefix sums valid because tree[i] only covers
// positions <= i.
func (p *prioritizedSelector) treeGrow() {
	idx := len(p.tree) + 1
	p.tree = append(p.tree, 0)
	// Fold in the trailing range this new node is responsible for.
	lsb := idx & (-idx)
	for step := 1; step < lsb; step <<= 1 {
		p.tree[idx-1] += p.tree[idx-step-1]
	}
}

// treeAdd adds delta to the weight at 0-based position i.
func (p *prioritizedSelector) treeAdd(i int, delta float64) {
	for idx := i + 1; idx <= len(p.tree); idx += idx & (-idx) {
		p.tree[idx-1] += delta
	}
}

// treePrefix returns the sum of weights for positions [0, n).
func (p *prioritizedSelector) treePrefix(n int) float64 {
	var sum float64
	for idx := n; idx > 0; idx -= idx & (-idx) {
		sum += p.tree[idx-1]
	}
	return sum
}

// treeFind returns the smallest 0-based position whose prefix sum
// exceeds target.
func (p *prioritizedSelector) treeFind(target float64) int {
	pos := 0
	mask := 1
	for mask<<1 <= len(p.tree) {
		mask <<= 1
	}
	for ; mask > 0; mask >>= 1 {
		next := pos + mask
		if next <= len(p.tree) && p.tree[next-1] <= target {
			target -= p.tree[next-1]
			pos = next
		}
	}
	return pos
}
