package selector

import (
	"container/list"
	"fmt"

	"github.com/hupe1980/replaybuf/schema"
)

// queueSelector backs both the Fifo and Lifo selectors: an insertion
// ordered list with O(1) keyed removal. Priorities are accepted but
// ignored.
type queueSelector struct {
	order    *list.List
	elements map[uint64]*list.Element
	newest   bool // sample from the back (lifo) instead of the front (fifo)
}

// NewFifo creates a selector returning the oldest live key.
func NewFifo() Selector {
	return &queueSelector{
		order:    list.New(),
		elements: make(map[uint64]*list.Element),
	}
}

// NewLifo creates a selector returning the most recently inserted key.
func NewLifo() Selector {
	return &queueSelector{
		order:    list.New(),
		elements: make(map[uint64]*list.Element),
		newest:   true,
	}
}

func (q *queueSelector) Insert(key uint64, _ float64) error {
	if _, ok := q.elements[key]; ok {
		return fmt.Errorf("insert %d: %w", key, ErrDuplicateKey)
	}
	q.elements[key] = q.order.PushBack(key)
	return nil
}

func (q *queueSelector) Delete(key uint64) error {
	e, ok := q.elements[key]
	if !ok {
		return fmt.Errorf("delete %d: %w", key, ErrKeyNotFound)
	}
	q.order.Remove(e)
	delete(q.elements, key)
	return nil
}

func (q *queueSelector) Update(key uint64, _ float64) error {
	if _, ok := q.elements[key]; !ok {
		return fmt.Errorf("update %d: %w", key, ErrKeyNotFound)
	}
	return nil
}

func (q *queueSelector) Sample() (KeyWithProbability, error) {
	var e *list.Element
	if q.newest {
		e = q.order.Back()
	} else {
		e = q.order.Front()
	}
	if e == nil {
		return KeyWithProbability{}, ErrEmpty
	}
	return KeyWithProbability{Key: e.Value.(uint64), Probability: 1.0}, nil
}

func (q *queueSelector) Size() int { return q.order.Len() }

func (q *queueSelector) Clear() {
	q.order.Init()
	q.elements = make(map[uint64]*list.Element)
}

func (q *queueSelector) Options() schema.KeyDistributionOptions {
	if q.newest {
		return schema.LifoOptions()
	}
	return schema.FifoOptions()
}
