// Package testutil provides deterministic randomness and fixture
// builders for tests.
package testutil

import (
	"math"
	"math/rand"
	"sync"

	"github.com/hupe1980/replaybuf/schema"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// FillBytes fills dst with pseudo-random bytes.
// Locks only once per call (preferred over calling Uint64 in a loop).
func (r *RNG) FillBytes(dst []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = byte(r.rand.Intn(256))
	}
}

// Bytes returns n pseudo-random bytes.
func (r *RNG) Bytes(n int) []byte {
	b := make([]byte, n)
	r.FillBytes(b)
	return b
}

// Zipf returns a Zipfian-distributed value in [0, n).
// P(k) ∝ 1/k^s where s is the skew parameter; s=1.0 gives standard
// Zipf. Useful for generating skewed priority distributions.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}
	return n - 1
}

// Chunk builds a chunk covering steps [start, start+steps-1] of an
// episode with a random payload.
func (r *RNG) Chunk(key, episodeID uint64, start, steps int32, payloadLen int) schema.ChunkData {
	return schema.ChunkData{
		ChunkKey: key,
		SequenceRange: schema.SequenceRange{
			EpisodeID: episodeID,
			Start:     start,
			End:       start + steps - 1,
		},
		Data: r.Bytes(payloadLen),
	}
}

// Episode builds numChunks adjacent chunks of stepsPerChunk steps each,
// keyed sequentially from firstKey.
func (r *RNG) Episode(firstKey, episodeID uint64, numChunks int, stepsPerChunk int32, payloadLen int) []schema.ChunkData {
	chunks := make([]schema.ChunkData, 0, numChunks)
	for i := range numChunks {
		start := int32(i) * stepsPerChunk
		chunks = append(chunks, r.Chunk(firstKey+uint64(i), episodeID, start, stepsPerChunk, payloadLen))
	}
	return chunks
}

// Item builds a prioritized item spanning all steps of the given chunks.
func Item(key uint64, tableName string, priority float64, chunks ...schema.ChunkData) schema.PrioritizedItem {
	var keys []uint64
	var total int32
	for _, c := range chunks {
		keys = append(keys, c.ChunkKey)
		total += c.SequenceRange.NumSteps()
	}
	return schema.PrioritizedItem{
		Key:           key,
		Table:         tableName,
		ChunkKeys:     keys,
		SequenceRange: schema.SliceRange{Offset: 0, Length: total},
		Priority:      priority,
	}
}
