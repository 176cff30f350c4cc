package maps

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/shmmap/internal/arena"
)

var errInjected = errors.New("injected failure")

// countingAllocator wraps a real arena, counts calls and can be told to
// fail allocations.
type countingAllocator struct {
	*arena.Arena
	allocs    atomic.Int64
	frees     atomic.Int64
	failAlloc atomic.Bool
}

func (c *countingAllocator) AllocZeroed(size int) (arena.Ref, error) {
	c.allocs.Add(1)
	if c.failAlloc.Load() {
		return arena.Ref{}, errInjected
	}
	return c.Arena.AllocZeroed(size)
}

func (c *countingAllocator) Free(ref arena.Ref) error {
	c.frees.Add(1)
	return c.Arena.Free(ref)
}

func newTestAllocator(t *testing.T) *countingAllocator {
	t.Helper()
	a, err := arena.New(4096)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return &countingAllocator{Arena: a}
}

// failInitAt makes the n-th map initialization (0-based) fail for the
// duration of the test.
func failInitAt(t *testing.T, n int) {
	t.Helper()
	calls := 0
	mapInit = func(v arena.View, off arena.Offset, maxEntries int, wrap bool, nodeSize int) error {
		defer func() { calls++ }()
		if calls == n {
			return errInjected
		}
		return initMap(v, off, maxEntries, wrap, nodeSize)
	}
	t.Cleanup(func() { mapInit = initMap })
}

type recordingCleanup struct {
	keys []string
}

func (r *recordingCleanup) Cleanup(key, _ []byte) {
	r.keys = append(r.keys, string(key))
}
