package shmmap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/shmmap/blobstore"
	"github.com/hupe1980/shmmap/internal/arena"
	"github.com/hupe1980/shmmap/internal/cpu"
	"github.com/hupe1980/shmmap/internal/resource"
	"github.com/hupe1980/shmmap/maps"
	"github.com/hupe1980/shmmap/snapshot"
)

// Committer is implemented by snapshot stores that publish the most recent
// snapshot through a versioned pointer (see s3.DDBCommitStore).
type Committer interface {
	Commit(ctx context.Context, name string) (uint64, error)
	Latest(ctx context.Context) (uint64, string, error)
}

// Runtime owns one arena and every map carved out of it.
//
// Runtime is safe for concurrent use. The maps it hands out follow the
// concurrency rules of package maps.
type Runtime struct {
	arena       *arena.Arena
	resources   *resource.Controller
	numContexts int

	metrics       MetricsCollector
	logger        *Logger
	store         blobstore.Store
	snapshotCodec snapshot.Codec

	closeOnce sync.Once
	closeErr  error
}

// New creates a Runtime with its own arena.
func New(optFns ...Option) (*Runtime, error) {
	opts := applyOptions(optFns)

	n := opts.numContexts
	if n <= 0 {
		n = cpu.NumPossible()
	}

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:   opts.memoryLimit,
		MaxSnapshotWorkers: opts.snapshotWorkers,
		IOLimitBytesPerSec: opts.snapshotIOLimit,
	})

	arenaOpts := []arena.Option{arena.WithMemoryAcquirer(rc)}
	if opts.memoryLimit > 0 {
		arenaOpts = append(arenaOpts, arena.WithMaxSize(int(opts.memoryLimit)))
	}
	if opts.heap {
		arenaOpts = append(arenaOpts, arena.WithHeap())
	}

	size := opts.arenaSize
	if opts.memoryLimit > 0 && int64(size) > opts.memoryLimit {
		// Start at the largest whole-page region the limit allows.
		size = int(opts.memoryLimit) &^ (arena.PageSize - 1)
	}

	a, err := arena.New(size, arenaOpts...)
	if err != nil {
		return nil, fmt.Errorf("shmmap: failed to create arena: %w", err)
	}

	return &Runtime{
		arena:         a,
		resources:     rc,
		numContexts:   n,
		metrics:       opts.metricsCollector,
		logger:        opts.logger,
		store:         opts.snapshotStore,
		snapshotCodec: opts.snapshotCodec,
	}, nil
}

// NumContexts returns the number of per-context maps each PMap gets.
func (rt *Runtime) NumContexts() int {
	return rt.numContexts
}

// ArenaStats returns the current arena statistics.
func (rt *Runtime) ArenaStats() arena.Stats {
	return rt.arena.Stats()
}

// MemoryUsage returns the bytes the arena region currently occupies.
func (rt *Runtime) MemoryUsage() int64 {
	return rt.resources.MemoryUsage()
}

// Allocator exposes the arena for building maps directly with package maps.
func (rt *Runtime) Allocator() maps.Allocator {
	return rt.arena
}

// NewMap creates a standalone map.
func (rt *Runtime) NewMap(maxEntries int, wrap bool, nodeSize int, opts ...maps.Option) (*maps.Map, error) {
	start := time.Now()
	m, err := maps.New(rt.arena, maxEntries, wrap, nodeSize, 0, opts...)
	rt.metrics.RecordMapCreate(time.Since(start), err)
	rt.logger.LogMapCreate(context.Background(), maxEntries, nodeSize, wrap, err)
	return m, err
}

// NewPMap creates a PMap with one map per context plus the aggregate.
func (rt *Runtime) NewPMap(maxEntries int, wrap bool, nodeSize int, opts ...maps.Option) (*maps.PMap, error) {
	start := time.Now()
	p, err := maps.NewPMap(rt.arena, maxEntries, wrap, nodeSize, rt.numContexts, opts...)
	rt.metrics.RecordPMapCreate(rt.numContexts, time.Since(start), err)
	rt.logger.LogPMapCreate(context.Background(), maxEntries, nodeSize, rt.numContexts, err)
	return p, err
}

// NewStatPMap creates a PMap whose values are stat accumulators.
// Use stat.Add on per-context values and AggregateStats to fold them.
func (rt *Runtime) NewStatPMap(maxEntries int, wrap bool, keySize int, bitShift int, ops uint32, opts ...maps.Option) (*maps.PMap, error) {
	opts = append([]maps.Option{maps.WithBitShift(bitShift), maps.WithStatOps(ops)}, opts...)
	return rt.NewPMap(maxEntries, wrap, keySize+statSize, opts...)
}

// DelMap releases a standalone map.
func (rt *Runtime) DelMap(m *maps.Map) error {
	if m == nil {
		return nil
	}
	start := time.Now()
	err := m.Del()
	rt.metrics.RecordDelete(time.Since(start), err)
	rt.logger.LogDelete(context.Background(), "map", err)
	return err
}

// DelPMap releases a PMap and every map inside it.
func (rt *Runtime) DelPMap(p *maps.PMap) error {
	if p == nil {
		return nil
	}
	start := time.Now()
	err := p.Del()
	rt.metrics.RecordDelete(time.Since(start), err)
	rt.logger.LogDelete(context.Background(), "pmap", err)
	return err
}

func (rt *Runtime) snapshotOptions() []snapshot.Option {
	return []snapshot.Option{
		snapshot.WithCodec(rt.snapshotCodec),
		snapshot.WithResources(rt.resources),
	}
}

// Snapshot captures src (a *maps.Map or *maps.PMap) and writes it to the
// configured store under name. Stores implementing Committer get name
// published as the latest snapshot.
func (rt *Runtime) Snapshot(ctx context.Context, name string, src any) error {
	start := time.Now()
	size, err := rt.snapshot(ctx, name, src)
	rt.metrics.RecordSnapshot(size, time.Since(start), err)
	rt.logger.LogSnapshot(ctx, name, size, err)
	return err
}

func (rt *Runtime) snapshot(ctx context.Context, name string, src any) (int, error) {
	if rt.store == nil {
		return 0, ErrNoSnapshotStore
	}

	var (
		d   *snapshot.Dump
		err error
	)
	switch s := src.(type) {
	case *maps.Map:
		d, err = snapshot.Capture(s)
	case *maps.PMap:
		d, err = snapshot.CapturePMap(s)
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedSource, src)
	}
	if err != nil {
		return 0, err
	}

	size, err := snapshot.Write(ctx, rt.store, name, d, rt.snapshotOptions()...)
	if err != nil {
		return 0, err
	}

	if c, ok := rt.store.(Committer); ok {
		if _, err := c.Commit(ctx, name); err != nil {
			return 0, fmt.Errorf("shmmap: commit %s: %w", name, err)
		}
	}
	return size, nil
}

// LoadSnapshot reads the snapshot stored under name. An empty name loads the
// latest committed snapshot of a Committer store.
func (rt *Runtime) LoadSnapshot(ctx context.Context, name string) (*snapshot.Dump, error) {
	d, err := rt.loadSnapshot(ctx, name)
	n := 0
	if d != nil {
		n = d.Len()
	}
	rt.logger.LogRestore(ctx, name, n, err)
	return d, err
}

func (rt *Runtime) loadSnapshot(ctx context.Context, name string) (*snapshot.Dump, error) {
	if rt.store == nil {
		return nil, ErrNoSnapshotStore
	}
	if name == "" {
		c, ok := rt.store.(Committer)
		if !ok {
			return nil, fmt.Errorf("%w: empty snapshot name", ErrInvalidArgument)
		}
		_, latest, err := c.Latest(ctx)
		if err != nil {
			return nil, err
		}
		name = latest
	}
	return snapshot.Read(ctx, rt.store, name, rt.snapshotOptions()...)
}

// RestoreMap builds a new standalone map in this runtime's arena from d.
func (rt *Runtime) RestoreMap(d *snapshot.Dump, opts ...maps.Option) (*maps.Map, error) {
	return d.Restore(rt.arena, opts...)
}

// RestorePMap builds a new PMap in this runtime's arena from d. The PMap
// keeps the context count recorded in d.
func (rt *Runtime) RestorePMap(d *snapshot.Dump, opts ...maps.Option) (*maps.PMap, error) {
	return d.RestorePMap(rt.arena, opts...)
}

// Close releases the arena. Every map handle becomes stale.
// Close is idempotent.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	rt.closeOnce.Do(func() {
		rt.closeErr = rt.arena.Close()
	})
	if rt.closeErr != nil && !errors.Is(rt.closeErr, arena.ErrClosed) {
		return rt.closeErr
	}
	return nil
}
