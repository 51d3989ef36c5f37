package selector

import (
	"container/heap"
	"fmt"

	"github.com/hupe1980/replaybuf/schema"
)

// Compile time check to ensure priorityHeap satisfies the heap interface.
var _ heap.Interface = (*priorityHeap)(nil)

// heapItem is an entry in the heap selector.
type heapItem struct {
	Key      uint64
	Priority float64
	Seq      uint64 // insertion order, breaks priority ties (oldest wins)
	Index    int    // maintained by the heap.Interface methods
}

// priorityHeap implements heap.Interface over heapItems.
type priorityHeap struct {
	Min   bool // true pops the lowest priority first
	Items []*heapItem
}

func (h *priorityHeap) Len() int { return len(h.Items) }

func (h *priorityHeap) Less(i, j int) bool {
	a, b := h.Items[i], h.Items[j]
	if a.Priority != b.Priority {
		if h.Min {
			return a.Priority < b.Priority
		}
		return a.Priority > b.Priority
	}
	return a.Seq < b.Seq
}

func (h *priorityHeap) Swap(i, j int) {
	h.Items[i], h.Items[j] = h.Items[j], h.Items[i]
	h.Items[i].Index, h.Items[j].Index = i, j
}

func (h *priorityHeap) Push(x any) {
	item, _ := x.(*heapItem)
	item.Index = len(h.Items)
	h.Items = append(h.Items, item)
}

func (h *priorityHeap) Pop() any {
	old := h.Items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // Avoid memory leak
	item.Index = -1
	h.Items = old[:n-1]
	return item
}

// heapSelector returns the extreme-priority key, ties broken by age.
type heapSelector struct {
	heap    priorityHeap
	entries map[uint64]*heapItem
	nextSeq uint64
}

// NewHeap creates a strict priority-ordered selector. With minHeap true
// the lowest priority is sampled first, otherwise the highest.
func NewHeap(minHeap bool) Selector {
	return &heapSelector{
		heap:    priorityHeap{Min: minHeap},
		entries: make(map[uint64]*heapItem),
	}
}

func (s *heapSelector) Insert(key uint64, priority float64) error {
	if _, ok := s.entries[key]; ok {
		return fmt.Errorf("insert %d: %w", key, ErrDuplicateKey)
	}
	item := &heapItem{Key: key, Priority: priority, Seq: s.nextSeq}
	s.nextSeq++
	s.entries[key] = item
	heap.Push(&s.heap, item)
	return nil
}

func (s *heapSelector) Delete(key uint64) error {
	item, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("delete %d: %w", key, ErrKeyNotFound)
	}
	heap.Remove(&s.heap, item.Index)
	delete(s.entries, key)
	return nil
}

func (s *heapSelector) Update(key uint64, priority float64) error {
	item, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("update %d: %w", key, ErrKeyNotFound)
	}
	item.Priority = priority
	heap.Fix(&s.heap, item.Index)
	return nil
}

func (s *heapSelector) Sample() (KeyWithProbability, error) {
	if len(s.heap.Items) == 0 {
		return KeyWithProbability{}, ErrEmpty
	}
	return KeyWithProbability{Key: s.heap.Items[0].Key, Probability: 1.0}, nil
}

func (s *heapSelector) Size() int { return len(s.heap.Items) }

func (s *heapSelector) Clear() {
	s.heap.Items = nil
	s.entries = make(map[uint64]*heapItem)
	s.nextSeq = 0
}

func (s *heapSelector) Options() schema.KeyDistributionOptions {
	return schema.HeapWithMin(s.heap.Min)
}
