package schema

import (
	"fmt"
	"time"
)

// SequenceRange describes which timesteps of an episode a chunk covers.
// End is inclusive; End >= Start must hold.
type SequenceRange struct {
	EpisodeID uint64 `json:"episode_id"`
	Start     int32  `json:"start"`
	End       int32  `json:"end"`
}

// Validate checks the range invariant.
func (r SequenceRange) Validate() error {
	if r.End < r.Start {
		return fmt.Errorf("sequence range end (%d) < start (%d)", r.End, r.Start)
	}
	return nil
}

// NumSteps returns the number of timesteps the range covers.
func (r SequenceRange) NumSteps() int32 {
	return r.End - r.Start + 1
}

// IsAdjacent reports whether b directly continues r within the same episode.
func (r SequenceRange) IsAdjacent(b SequenceRange) bool {
	return r.EpisodeID == b.EpisodeID && r.End+1 == b.Start
}

// SliceRange selects a sub-span of the concatenated chunks an item references.
type SliceRange struct {
	Offset int32 `json:"offset"`
	Length int32 `json:"length"`
}

// ChunkData is the unit of stored sequence payload. The payload bytes are
// opaque to the core; DeltaEncoded records whether delta-encoding was
// applied by the producer before compression.
type ChunkData struct {
	ChunkKey      uint64        `json:"chunk_key"`
	SequenceRange SequenceRange `json:"sequence_range"`
	Data          []byte        `json:"data"`
	DeltaEncoded  bool          `json:"delta_encoded"`
}

// PrioritizedItem is a prioritized reference into one or more chunks, the
// unit of sampling and removal.
type PrioritizedItem struct {
	Key           uint64     `json:"key"`
	Table         string     `json:"table"`
	ChunkKeys     []uint64   `json:"chunk_keys"`
	SequenceRange SliceRange `json:"sequence_range"`
	Priority      float64    `json:"priority"`
	TimesSampled  int32      `json:"times_sampled"`
	InsertedAt    time.Time  `json:"inserted_at"`
}

// KeyWithPriority is a priority update for a single item.
type KeyWithPriority struct {
	Key      uint64  `json:"key"`
	Priority float64 `json:"priority"`
}

// SampleInfo is the snapshot returned for a sampled item.
type SampleInfo struct {
	Item        PrioritizedItem `json:"item"`
	Probability float64         `json:"probability"`
	TableSize   int64           `json:"table_size"`
}

// RateLimiterCallStats aggregates statistics for one call kind
// (insert or sample).
type RateLimiterCallStats struct {
	Pending           int64         `json:"pending"`
	Completed         int64         `json:"completed"`
	Limited           int64         `json:"limited"`
	CompletedWaitTime time.Duration `json:"completed_wait_time"`
	PendingWaitTime   time.Duration `json:"pending_wait_time"`
}

// RateLimiterInfo describes a rate limiter's configuration and live stats.
type RateLimiterInfo struct {
	SamplesPerInsert float64              `json:"samples_per_insert"`
	MinDiff          float64              `json:"min_diff"`
	MaxDiff          float64              `json:"max_diff"`
	MinSizeToSample  int64                `json:"min_size_to_sample"`
	InsertStats      RateLimiterCallStats `json:"insert_stats"`
	SampleStats      RateLimiterCallStats `json:"sample_stats"`
}

// TableInfo is the aggregate, derived view of a table. It is recomputed
// from live state and never independently mutated.
type TableInfo struct {
	Name            string                 `json:"name"`
	SamplerOptions  KeyDistributionOptions `json:"sampler_options"`
	RemoverOptions  KeyDistributionOptions `json:"remover_options"`
	MaxSize         int64                  `json:"max_size"`
	MaxTimesSampled int32                  `json:"max_times_sampled"`
	RateLimiterInfo RateLimiterInfo        `json:"rate_limiter_info"`
	Signature       string                 `json:"signature,omitempty"`
	CurrentSize     int64                  `json:"current_size"`
	NumEpisodes     int64                  `json:"num_episodes"`
}
