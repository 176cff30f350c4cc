package shmmap

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Only lifecycle and snapshot operations are reported. Map reads and writes
// are too hot to pay for a collector call.
type MetricsCollector interface {
	// RecordMapCreate is called after each standalone map creation.
	RecordMapCreate(duration time.Duration, err error)

	// RecordPMapCreate is called after each pmap creation.
	// numContexts is the number of per-context maps requested.
	RecordPMapCreate(numContexts int, duration time.Duration, err error)

	// RecordDelete is called after a map or pmap has been released.
	RecordDelete(duration time.Duration, err error)

	// RecordSnapshot is called after each snapshot write.
	// size is the encoded size in bytes (0 on failure).
	RecordSnapshot(size int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordMapCreate(time.Duration, error)       {}
func (NoopMetricsCollector) RecordPMapCreate(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)          {}
func (NoopMetricsCollector) RecordSnapshot(int, time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	MapCreateCount     atomic.Int64
	MapCreateErrors    atomic.Int64
	PMapCreateCount    atomic.Int64
	PMapCreateErrors   atomic.Int64
	PMapContexts       atomic.Int64
	DeleteCount        atomic.Int64
	DeleteErrors       atomic.Int64
	SnapshotCount      atomic.Int64
	SnapshotErrors     atomic.Int64
	SnapshotBytes      atomic.Int64
	SnapshotTotalNanos atomic.Int64
}

// RecordMapCreate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMapCreate(duration time.Duration, err error) {
	b.MapCreateCount.Add(1)
	if err != nil {
		b.MapCreateErrors.Add(1)
	}
}

// RecordPMapCreate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPMapCreate(numContexts int, duration time.Duration, err error) {
	b.PMapCreateCount.Add(1)
	if err != nil {
		b.PMapCreateErrors.Add(1)
		return
	}
	b.PMapContexts.Add(int64(numContexts))
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(size int, duration time.Duration, err error) {
	b.SnapshotCount.Add(1)
	b.SnapshotTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SnapshotErrors.Add(1)
		return
	}
	b.SnapshotBytes.Add(int64(size))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		MapCreateCount:   b.MapCreateCount.Load(),
		MapCreateErrors:  b.MapCreateErrors.Load(),
		PMapCreateCount:  b.PMapCreateCount.Load(),
		PMapCreateErrors: b.PMapCreateErrors.Load(),
		PMapContexts:     b.PMapContexts.Load(),
		DeleteCount:      b.DeleteCount.Load(),
		DeleteErrors:     b.DeleteErrors.Load(),
		SnapshotCount:    b.SnapshotCount.Load(),
		SnapshotErrors:   b.SnapshotErrors.Load(),
		SnapshotBytes:    b.SnapshotBytes.Load(),
		SnapshotAvgNanos: b.getAvgSnapshotNanos(),
	}
}

func (b *BasicMetricsCollector) getAvgSnapshotNanos() int64 {
	count := b.SnapshotCount.Load()
	if count == 0 {
		return 0
	}
	return b.SnapshotTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	MapCreateCount   int64
	MapCreateErrors  int64
	PMapCreateCount  int64
	PMapCreateErrors int64
	PMapContexts     int64
	DeleteCount      int64
	DeleteErrors     int64
	SnapshotCount    int64
	SnapshotErrors   int64
	SnapshotBytes    int64
	SnapshotAvgNanos int64
}
