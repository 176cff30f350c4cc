package shmmap

import (
	"log/slog"

	"github.com/hupe1980/shmmap/blobstore"
	"github.com/hupe1980/shmmap/internal/arena"
	"github.com/hupe1980/shmmap/snapshot"
)

type options struct {
	numContexts      int
	arenaSize        int
	memoryLimit      int64
	heap             bool
	metricsCollector MetricsCollector
	logger           *Logger
	snapshotStore    blobstore.Store
	snapshotCodec    snapshot.Codec
	snapshotIOLimit  int64
	snapshotWorkers  int64
}

// Option configures a Runtime.
type Option func(*options)

// WithNumContexts fixes the number of per-context maps every PMap gets.
// If n <= 0, the number of possible CPUs is used.
func WithNumContexts(n int) Option {
	return func(o *options) {
		o.numContexts = n
	}
}

// WithInitialArenaSize sets the initial region size in bytes.
// The region grows on demand; this only avoids early relocations.
func WithInitialArenaSize(size int) Option {
	return func(o *options) {
		o.arenaSize = size
	}
}

// WithMemoryLimit caps the bytes the arena region may occupy.
// Allocations that would grow the region past the limit fail. An initial
// arena size above the limit is lowered to fit it.
// If limit <= 0, the region is unbounded.
func WithMemoryLimit(limit int64) Option {
	return func(o *options) {
		o.memoryLimit = limit
	}
}

// WithHeapArena backs the arena with heap memory instead of an anonymous
// mapping. Useful on platforms without mmap and in tests.
func WithHeapArena() Option {
	return func(o *options) {
		o.heap = true
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &shmmap.BasicMetricsCollector{}
//	rt, _ := shmmap.New(shmmap.WithMetricsCollector(metrics))
//	// ... use rt ...
//	stats := metrics.GetStats()
//	fmt.Printf("pmaps: %d, snapshots: %d\n", stats.PMapCreateCount, stats.SnapshotCount)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := shmmap.NewJSONLogger(slog.LevelInfo)
//	rt, _ := shmmap.New(shmmap.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithSnapshotStore sets the blob store Snapshot and LoadSnapshot use.
//
// Example with S3 and a DynamoDB commit pointer:
//
//	store, _ := s3.NewWithCommits(ctx, "my-bucket", "snapshots", s3.WithPrefix("maps/"))
//	rt, _ := shmmap.New(shmmap.WithSnapshotStore(store))
func WithSnapshotStore(store blobstore.Store) Option {
	return func(o *options) {
		o.snapshotStore = store
	}
}

// WithSnapshotCompression selects the section codec for snapshot writes.
// Reads detect the codec from the blob. Default is snapshot.CodecZstd.
func WithSnapshotCompression(c snapshot.Codec) Option {
	return func(o *options) {
		o.snapshotCodec = c
	}
}

// WithSnapshotIOLimit throttles snapshot transfers to bytesPerSec.
// If bytesPerSec <= 0, transfers are unthrottled.
func WithSnapshotIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.snapshotIOLimit = bytesPerSec
	}
}

// WithSnapshotWorkers bounds the number of sections encoded or decoded at
// once across all concurrent snapshot operations. Default is 1.
func WithSnapshotWorkers(n int64) Option {
	return func(o *options) {
		o.snapshotWorkers = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		arenaSize:        arena.DefaultSize,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		snapshotCodec:    snapshot.CodecZstd,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
