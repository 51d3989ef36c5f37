// Package ratelimiter enforces a numeric balance between insert and
// sample throughput on a table.
//
// The limiter is a monitor: it binds to the owning table's mutex at
// registration time and its Await methods condition-wait on that mutex,
// releasing it while suspended and reacquiring it atomically on wake.
// Every method below must be called with the table lock held.
package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/replaybuf/schema"
)

var (
	// ErrCancelled is returned when a wait is interrupted by Cancel or by
	// the caller's context. Counters are left unchanged.
	ErrCancelled = errors.New("rate limiter wait cancelled")
	// ErrAlreadyRegistered is returned when registering a limiter that is
	// already bound to a table.
	ErrAlreadyRegistered = errors.New("rate limiter already registered to a table")
)

// RateLimiter tracks monotonic insert/sample counts and blocks callers
// whose operation would move the cursor
// insertCount*samplesPerInsert - sampleCount outside [minDiff, maxDiff].
type RateLimiter struct {
	samplesPerInsert float64
	minDiff          float64
	maxDiff          float64
	minSizeToSample  int64

	// Bound at Register time. All state below is guarded by mu.
	mu        *sync.Mutex
	tableName string
	canInsert *sync.Cond
	canSample *sync.Cond

	inserts   int64
	samples   int64
	deletes   int64
	cancelled bool

	insertStats callStats
	sampleStats callStats
}

// callStats tracks per-call-kind statistics. Pending entries remember
// their start time so cumulative pending wait can be reported live.
type callStats struct {
	completed     int64
	limited       int64
	completedWait time.Duration
	pending       map[uint64]time.Time
	nextPendingID uint64
}

func (s *callStats) addPending(start time.Time) uint64 {
	if s.pending == nil {
		s.pending = make(map[uint64]time.Time)
	}
	id := s.nextPendingID
	s.nextPendingID++
	s.pending[id] = start
	return id
}

func (s *callStats) removePending(id uint64) {
	delete(s.pending, id)
}

// reset zeroes the accumulated statistics. Pending entries stay: their
// waiters are still suspended and will remove themselves on wake.
func (s *callStats) reset() {
	s.completed = 0
	s.limited = 0
	s.completedWait = 0
}

func (s *callStats) info(now time.Time) schema.RateLimiterCallStats {
	var pendingWait time.Duration
	for _, start := range s.pending {
		pendingWait += now.Sub(start)
	}
	return schema.RateLimiterCallStats{
		Pending:           int64(len(s.pending)),
		Completed:         s.completed,
		Limited:           s.limited,
		CompletedWaitTime: s.completedWait,
		PendingWaitTime:   pendingWait,
	}
}

// New creates an unbound RateLimiter.
func New(samplesPerInsert float64, minSizeToSample int64, minDiff, maxDiff float64) (*RateLimiter, error) {
	if samplesPerInsert <= 0 {
		return nil, fmt.Errorf("samples_per_insert must be positive, got %v", samplesPerInsert)
	}
	if minDiff > maxDiff {
		return nil, fmt.Errorf("min_diff (%v) must not exceed max_diff (%v)", minDiff, maxDiff)
	}
	if minSizeToSample < 1 {
		return nil, fmt.Errorf("min_size_to_sample must be at least 1, got %d", minSizeToSample)
	}
	return &RateLimiter{
		samplesPerInsert: samplesPerInsert,
		minDiff:          minDiff,
		maxDiff:          maxDiff,
		minSizeToSample:  minSizeToSample,
	}, nil
}

// Register binds the limiter to a table's mutex. A limiter serves exactly
// one table; a second registration fails with ErrAlreadyRegistered.
func (r *RateLimiter) Register(mu *sync.Mutex, tableName string) error {
	if r.mu != nil {
		return fmt.Errorf("%w: bound to %q, cannot serve %q",
			ErrAlreadyRegistered, r.tableName, tableName)
	}
	r.mu = mu
	r.tableName = tableName
	r.canInsert = sync.NewCond(mu)
	r.canSample = sync.NewCond(mu)
	return nil
}

// size is the limiter's view of the table size.
func (r *RateLimiter) size() int64 {
	return r.inserts - r.deletes
}

func (r *RateLimiter) canInsertLocked(n int64) bool {
	diff := (float64(r.inserts)+float64(n))*r.samplesPerInsert - float64(r.samples)
	return diff <= r.maxDiff
}

func (r *RateLimiter) canSampleLocked(n int64) bool {
	if r.size() < r.minSizeToSample {
		return false
	}
	// A sample that would land exactly on minDiff still blocks: the slot
	// at the lower bound is reserved for the offsetting insert.
	diff := float64(r.inserts)*r.samplesPerInsert - float64(r.samples+n)
	return diff > r.minDiff
}

// CanInsert reports whether n inserts could proceed without waiting.
func (r *RateLimiter) CanInsert(n int64) bool { return r.canInsertLocked(n) }

// CanSample reports whether n samples could proceed without waiting.
func (r *RateLimiter) CanSample(n int64) bool { return r.canSampleLocked(n) }

// AwaitCanInsert blocks until one insert may be staged, the context is
// done, or the limiter is cancelled. The table lock is released while
// suspended. On error no counter is modified.
func (r *RateLimiter) AwaitCanInsert(ctx context.Context) error {
	return r.await(ctx, &r.insertStats, r.canInsert, func() bool {
		return r.canInsertLocked(1)
	})
}

// AwaitCanSample blocks until one sample may proceed, the context is
// done, or the limiter is cancelled. The table lock is released while
// suspended. The caller commits the sample with FinalizeSample once the
// sampled item is resolved, without releasing the lock in between.
func (r *RateLimiter) AwaitCanSample(ctx context.Context) error {
	return r.await(ctx, &r.sampleStats, r.canSample, func() bool {
		return r.canSampleLocked(1)
	})
}

// FinalizeSample commits a granted sample: the sample counter moves and
// insert waiters are woken.
func (r *RateLimiter) FinalizeSample() {
	r.samples++
	r.canInsert.Broadcast()
}

func (r *RateLimiter) await(ctx context.Context, stats *callStats, cond *sync.Cond, ready func() bool) error {
	if r.mu == nil {
		panic("ratelimiter: await before Register")
	}
	if r.cancelled {
		return ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if ready() {
		stats.completed++
		return nil
	}

	start := time.Now()
	id := stats.addPending(start)

	// Wake this waiter when the context fires; Broadcast is safe without
	// holding the mutex.
	stop := context.AfterFunc(ctx, cond.Broadcast)
	defer stop()

	for !ready() {
		if r.cancelled {
			stats.removePending(id)
			return ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			stats.removePending(id)
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		cond.Wait()
	}

	stats.removePending(id)
	stats.completed++
	stats.limited++
	stats.completedWait += time.Since(start)
	return nil
}

// Insert finalizes a staged insert: it bumps the insert counter (which
// also grows the limiter's view of the table size) and wakes sample
// waiters.
func (r *RateLimiter) Insert() {
	r.inserts++
	r.canSample.Broadcast()
}

// Delete records an item deletion, shrinking the limiter's view of the
// table size.
func (r *RateLimiter) Delete() {
	r.deletes++
}

// MaybeSignal rechecks both conditions and wakes waiters that may now
// proceed. Used when a staged insert turned into an update while waiting,
// so the staged slot is handed to the next inserter.
func (r *RateLimiter) MaybeSignal() {
	if r.canInsertLocked(1) {
		r.canInsert.Broadcast()
	}
	if r.canSampleLocked(1) {
		r.canSample.Broadcast()
	}
}

// Reset zeroes all counters and call statistics and wakes all waiters so
// they re-evaluate against the fresh state.
func (r *RateLimiter) Reset() {
	r.inserts = 0
	r.samples = 0
	r.deletes = 0
	r.insertStats.reset()
	r.sampleStats.reset()
	r.canInsert.Broadcast()
	r.canSample.Broadcast()
}

// Cancel aborts all current and future waits with ErrCancelled.
func (r *RateLimiter) Cancel() {
	r.cancelled = true
	if r.canInsert != nil {
		r.canInsert.Broadcast()
		r.canSample.Broadcast()
	}
}

// Counters returns the monotonic insert/sample/delete counts, for
// checkpoints.
func (r *RateLimiter) Counters() (inserts, samples, deletes int64) {
	return r.inserts, r.samples, r.deletes
}

// RestoreCounters overwrites the counters when loading a checkpoint.
func (r *RateLimiter) RestoreCounters(inserts, samples, deletes int64) {
	r.inserts = inserts
	r.samples = samples
	r.deletes = deletes
}

// Info returns the limiter configuration and live call statistics.
func (r *RateLimiter) Info() schema.RateLimiterInfo {
	now := time.Now()
	return schema.RateLimiterInfo{
		SamplesPerInsert: r.samplesPerInsert,
		MinDiff:          r.minDiff,
		MaxDiff:          r.maxDiff,
		MinSizeToSample:  r.minSizeToSample,
		InsertStats:      r.insertStats.info(now),
		SampleStats:      r.sampleStats.info(now),
	}
}
