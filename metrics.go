package replaybuf

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    insertCounter   prometheus.Counter
//	    sampleHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordInsert(duration time.Duration, err error) {
//	    p.insertCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordInsert is called after each item insert.
	// duration includes any rate limiter wait, err is nil if successful.
	RecordInsert(duration time.Duration, err error)

	// RecordSample is called after each sample batch.
	// requested is the batch size asked for, returned the number
	// delivered, duration includes any rate limiter wait.
	RecordSample(requested, returned int, duration time.Duration, err error)

	// RecordMutate is called after each priority mutation batch.
	RecordMutate(updates, deletes int, duration time.Duration, err error)

	// RecordReset is called after each table reset.
	RecordReset(duration time.Duration)

	// RecordCheckpoint is called after each checkpoint save.
	RecordCheckpoint(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, error)            {}
func (NoopMetricsCollector) RecordSample(int, int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordMutate(int, int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordReset(time.Duration)                    {}
func (NoopMetricsCollector) RecordCheckpoint(time.Duration, error)        {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	SampleCount      atomic.Int64
	SampleErrors     atomic.Int64
	SampleItems      atomic.Int64
	SampleTotalNanos atomic.Int64
	MutateCount      atomic.Int64
	MutateErrors     atomic.Int64
	MutateUpdates    atomic.Int64
	MutateDeletes    atomic.Int64
	ResetCount       atomic.Int64
	CheckpointCount  atomic.Int64
	CheckpointErrors atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordSample implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSample(requested, returned int, duration time.Duration, err error) {
	b.SampleCount.Add(1)
	b.SampleItems.Add(int64(returned))
	b.SampleTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SampleErrors.Add(1)
	}
}

// RecordMutate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMutate(updates, deletes int, duration time.Duration, err error) {
	b.MutateCount.Add(1)
	b.MutateUpdates.Add(int64(updates))
	b.MutateDeletes.Add(int64(deletes))
	if err != nil {
		b.MutateErrors.Add(1)
	}
}

// RecordReset implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReset(time.Duration) {
	b.ResetCount.Add(1)
}

// RecordCheckpoint implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCheckpoint(duration time.Duration, err error) {
	b.CheckpointCount.Add(1)
	if err != nil {
		b.CheckpointErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:      b.InsertCount.Load(),
		InsertErrors:     b.InsertErrors.Load(),
		InsertAvgNanos:   avg(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		SampleCount:      b.SampleCount.Load(),
		SampleErrors:     b.SampleErrors.Load(),
		SampleItems:      b.SampleItems.Load(),
		SampleAvgNanos:   avg(b.SampleTotalNanos.Load(), b.SampleCount.Load()),
		MutateCount:      b.MutateCount.Load(),
		MutateErrors:     b.MutateErrors.Load(),
		MutateUpdates:    b.MutateUpdates.Load(),
		MutateDeletes:    b.MutateDeletes.Load(),
		ResetCount:       b.ResetCount.Load(),
		CheckpointCount:  b.CheckpointCount.Load(),
		CheckpointErrors: b.CheckpointErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount      int64
	InsertErrors     int64
	InsertAvgNanos   int64
	SampleCount      int64
	SampleErrors     int64
	SampleItems      int64
	SampleAvgNanos   int64
	MutateCount      int64
	MutateErrors     int64
	MutateUpdates    int64
	MutateDeletes    int64
	ResetCount       int64
	CheckpointCount  int64
	CheckpointErrors int64
}
