package schema

import "fmt"

// PrioritizedOptions configures the prioritized key distribution.
type PrioritizedOptions struct {
	PriorityExponent float64 `json:"priority_exponent"`
}

// HeapOptions configures the heap key distribution.
type HeapOptions struct {
	MinHeap bool `json:"min_heap"`
}

// KeyDistributionOptions selects exactly one key distribution variant.
// IsDeterministic communicates whether repeated sampling of unchanged
// state yields the same key.
type KeyDistributionOptions struct {
	Fifo            bool                `json:"fifo,omitempty"`
	Uniform         bool                `json:"uniform,omitempty"`
	Prioritized     *PrioritizedOptions `json:"prioritized,omitempty"`
	Heap            *HeapOptions        `json:"heap,omitempty"`
	Lifo            bool                `json:"lifo,omitempty"`
	IsDeterministic bool                `json:"is_deterministic"`
}

// Validate checks that exactly one variant is selected.
func (o KeyDistributionOptions) Validate() error {
	n := 0
	if o.Fifo {
		n++
	}
	if o.Uniform {
		n++
	}
	if o.Prioritized != nil {
		n++
	}
	if o.Heap != nil {
		n++
	}
	if o.Lifo {
		n++
	}
	if n != 1 {
		return fmt.Errorf("key distribution options must select exactly one variant, got %d", n)
	}
	return nil
}

// FifoOptions returns options for an insertion-order (oldest first) distribution.
func FifoOptions() KeyDistributionOptions {
	return KeyDistributionOptions{Fifo: true, IsDeterministic: true}
}

// LifoOptions returns options for a newest-first distribution.
func LifoOptions() KeyDistributionOptions {
	return KeyDistributionOptions{Lifo: true, IsDeterministic: true}
}

// UniformOptions returns options for a uniform random distribution.
func UniformOptions() KeyDistributionOptions {
	return KeyDistributionOptions{Uniform: true}
}

// PrioritizedWithExponent returns options for a priority-weighted distribution.
func PrioritizedWithExponent(exponent float64) KeyDistributionOptions {
	return KeyDistributionOptions{
		Prioritized: &PrioritizedOptions{PriorityExponent: exponent},
	}
}

// HeapWithMin returns options for a strict priority-ordered distribution.
// Ties are broken by insertion order, so sampling is effectively
// deterministic.
func HeapWithMin(minHeap bool) KeyDistributionOptions {
	return KeyDistributionOptions{
		Heap:            &HeapOptions{MinHeap: minHeap},
		IsDeterministic: true,
	}
}
