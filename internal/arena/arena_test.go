package arena

import (
	"errors"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArena(t *testing.T, size int, opts ...Option) *Arena {
	t.Helper()
	a, err := New(size, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArena_New(t *testing.T) {
	t.Run("default size", func(t *testing.T) {
		a := newTestArena(t, 0)
		assert.Equal(t, uint64(DefaultSize), a.Stats().BytesReserved)
	})

	t.Run("rounded to pages", func(t *testing.T) {
		a := newTestArena(t, 100)
		assert.Equal(t, uint64(4096), a.Stats().BytesReserved)
	})

	t.Run("heap backed", func(t *testing.T) {
		a := newTestArena(t, 4096, WithHeap())
		ref, err := a.AllocZeroed(64)
		require.NoError(t, err)
		assert.False(t, ref.IsNull())
	})

	t.Run("initial size over max", func(t *testing.T) {
		_, err := New(1<<20, WithMaxSize(4096))
		assert.ErrorIs(t, err, ErrAllocationFailed)
	})
}

func TestArena_AllocZeroed(t *testing.T) {
	t.Run("zeroed and aligned", func(t *testing.T) {
		a := newTestArena(t, 4096)

		sizes := []int{1, 3, 5, 7, 9, 15, 17, 100}
		for _, size := range sizes {
			ref, err := a.AllocZeroed(size)
			require.NoError(t, err)
			assert.NotEqual(t, Null, ref.Offset)
			assert.Zero(t, ref.Offset%Alignment, "size=%d offset=%d", size, ref.Offset)

			v, err := a.Acquire()
			require.NoError(t, err)
			for i, b := range v.Bytes(ref.Offset, size) {
				assert.Zero(t, b, "byte %d of size=%d", i, size)
			}
			v.Release()
		}
	})

	t.Run("invalid size", func(t *testing.T) {
		a := newTestArena(t, 4096)
		_, err := a.AllocZeroed(0)
		assert.ErrorIs(t, err, ErrAllocationFailed)
		_, err = a.AllocZeroed(-8)
		assert.ErrorIs(t, err, ErrAllocationFailed)
	})

	t.Run("distinct generations", func(t *testing.T) {
		a := newTestArena(t, 4096)
		r1, err := a.AllocZeroed(8)
		require.NoError(t, err)
		r2, err := a.AllocZeroed(8)
		require.NoError(t, err)
		assert.NotEqual(t, r1.Gen, r2.Gen)
		assert.NotEqual(t, r1.Offset, r2.Offset)
	})
}

func TestArena_Growth(t *testing.T) {
	a := newTestArena(t, 4096)

	first, err := a.AllocZeroed(64)
	require.NoError(t, err)

	v, err := a.Acquire()
	require.NoError(t, err)
	copy(v.Bytes(first.Offset, 5), "hello")
	oldBase := v.Base()
	v.Release()

	// Forces the region to double at least once.
	big, err := a.AllocZeroed(8192)
	require.NoError(t, err)

	stats := a.Stats()
	assert.GreaterOrEqual(t, stats.Growths, uint64(1))
	assert.GreaterOrEqual(t, stats.BytesReserved, uint64(8192))

	v, err = a.Acquire()
	require.NoError(t, err)
	defer v.Release()

	assert.NotEqual(t, oldBase, v.Base(), "growth should move the region")
	assert.Equal(t, "hello", string(v.Bytes(first.Offset, 5)))
	assert.NoError(t, v.Check(first))
	assert.NoError(t, v.Check(big))
}

func TestArena_MaxSize(t *testing.T) {
	a := newTestArena(t, 4096, WithMaxSize(8192))

	_, err := a.AllocZeroed(6000)
	require.NoError(t, err)

	_, err = a.AllocZeroed(6000)
	assert.ErrorIs(t, err, ErrAllocationFailed)
}

type countingAcquirer struct {
	limit int64
	used  int64
}

var errLimit = errors.New("limit")

func (c *countingAcquirer) AcquireMemory(n int64) error {
	if c.limit > 0 && c.used+n > c.limit {
		return errLimit
	}
	c.used += n
	return nil
}

func (c *countingAcquirer) ReleaseMemory(n int64) {
	c.used -= n
}

func TestArena_MemoryAcquirer(t *testing.T) {
	acq := &countingAcquirer{limit: 8192}
	a, err := New(4096, WithMemoryAcquirer(acq))
	require.NoError(t, err)
	assert.Equal(t, int64(4096), acq.used)

	_, err = a.AllocZeroed(5000)
	require.NoError(t, err)
	assert.Equal(t, int64(8192), acq.used)

	_, err = a.AllocZeroed(5000)
	assert.ErrorIs(t, err, ErrAllocationFailed)
	assert.ErrorIs(t, err, errLimit)
	assert.Equal(t, int64(8192), acq.used)

	require.NoError(t, a.Close())
	assert.Equal(t, int64(0), acq.used)
}

func TestArena_Free(t *testing.T) {
	t.Run("reuse freed block", func(t *testing.T) {
		a := newTestArena(t, 4096)

		r1, err := a.AllocZeroed(64)
		require.NoError(t, err)
		_, err = a.AllocZeroed(64) // keeps r1 off the tail
		require.NoError(t, err)

		v, err := a.Acquire()
		require.NoError(t, err)
		copy(v.Bytes(r1.Offset, 4), "dirt")
		v.Release()

		require.NoError(t, a.Free(r1))
		assert.Equal(t, uint64(64), a.Stats().BytesFree)

		r3, err := a.AllocZeroed(40)
		require.NoError(t, err)
		assert.Equal(t, r1.Offset, r3.Offset)
		assert.NotEqual(t, r1.Gen, r3.Gen)
		assert.Equal(t, uint64(0), a.Stats().BytesFree)

		v, err = a.Acquire()
		require.NoError(t, err)
		assert.Equal(t, make([]byte, 4), v.Bytes(r3.Offset, 4))
		assert.ErrorIs(t, v.Check(r1), ErrStaleRef)
		v.Release()
	})

	t.Run("double free", func(t *testing.T) {
		a := newTestArena(t, 4096)
		r1, err := a.AllocZeroed(64)
		require.NoError(t, err)
		_, err = a.AllocZeroed(64)
		require.NoError(t, err)

		require.NoError(t, a.Free(r1))
		assert.ErrorIs(t, a.Free(r1), ErrDoubleFree)
	})

	t.Run("tail trim", func(t *testing.T) {
		a := newTestArena(t, 4096)
		r1, err := a.AllocZeroed(64)
		require.NoError(t, err)
		r2, err := a.AllocZeroed(64)
		require.NoError(t, err)

		require.NoError(t, a.Free(r1))
		require.NoError(t, a.Free(r2))

		stats := a.Stats()
		assert.Equal(t, uint64(0), stats.BytesFree)
		assert.Equal(t, uint64(0), stats.LiveBlocks)
		assert.Equal(t, uint64(2), stats.TotalFrees)

		// The whole prefix is reusable by bump allocation again.
		r3, err := a.AllocZeroed(64)
		require.NoError(t, err)
		assert.Equal(t, r1.Offset, r3.Offset)

		_, err = a.Size(r2)
		assert.ErrorIs(t, err, ErrStaleRef)
	})

	t.Run("released tail pages", func(t *testing.T) {
		a := newTestArena(t, 1<<16)
		r, err := a.AllocZeroed(32 << 10)
		require.NoError(t, err)

		v, err := a.Acquire()
		require.NoError(t, err)
		b := v.Bytes(r.Offset, 32<<10)
		for i := range b {
			b[i] = 0xAB
		}
		v.Release()

		require.NoError(t, a.Free(r))

		r2, err := a.AllocZeroed(32 << 10)
		require.NoError(t, err)
		v, err = a.Acquire()
		require.NoError(t, err)
		defer v.Release()
		assert.Equal(t, make([]byte, 32<<10), v.Bytes(r2.Offset, 32<<10))
	})

	t.Run("stale refs", func(t *testing.T) {
		a := newTestArena(t, 4096)
		assert.ErrorIs(t, a.Free(Ref{}), ErrStaleRef)
		assert.ErrorIs(t, a.Free(Ref{Gen: 1, Offset: 3}), ErrStaleRef)
		assert.ErrorIs(t, a.Free(Ref{Gen: 1, Offset: 1 << 30}), ErrStaleRef)

		r, err := a.AllocZeroed(8)
		require.NoError(t, err)
		assert.ErrorIs(t, a.Free(Ref{Gen: r.Gen + 1, Offset: r.Offset}), ErrStaleRef)
	})
}

func TestArena_Relocate(t *testing.T) {
	a := newTestArena(t, 4096)

	ref, err := a.AllocZeroed(16)
	require.NoError(t, err)

	v, err := a.Acquire()
	require.NoError(t, err)
	*(*uint64)(v.Resolve(ref.Offset)) = 0xfeedface
	oldBase := v.Base()
	v.Release()

	require.NoError(t, a.Relocate())
	assert.Equal(t, uint64(1), a.Stats().Relocations)

	v, err = a.Acquire()
	require.NoError(t, err)
	defer v.Release()

	p := v.Resolve(ref.Offset)
	assert.NotEqual(t, oldBase, v.Base())
	assert.Equal(t, uint64(0xfeedface), *(*uint64)(p))
	assert.Equal(t, ref.Offset, v.Store(p))
}

func TestView_Store(t *testing.T) {
	a := newTestArena(t, 4096)
	ref, err := a.AllocZeroed(32)
	require.NoError(t, err)

	v, err := a.Acquire()
	require.NoError(t, err)
	defer v.Release()

	p := v.Resolve(ref.Offset)
	assert.Equal(t, ref.Offset, v.Store(p))
	assert.Equal(t, ref.Offset+8, v.Store(unsafe.Add(p, 8)))

	var x uint64
	assert.Equal(t, Null, v.Store(unsafe.Pointer(&x)))

	assert.Panics(t, func() { v.Resolve(Null) })
	assert.Panics(t, func() { v.Bytes(ref.Offset, 1<<20) })
}

func TestArena_Close(t *testing.T) {
	a, err := New(4096)
	require.NoError(t, err)
	ref, err := a.AllocZeroed(8)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err = a.AllocZeroed(8)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.Free(ref), ErrClosed)
	_, err = a.Acquire()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.Relocate(), ErrClosed)
	assert.Equal(t, uint64(0), a.Stats().BytesReserved)
}

func TestArena_Concurrent(t *testing.T) {
	a := newTestArena(t, 4096)

	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	refs := make([][]Ref, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ref, err := a.AllocZeroed(24)
				if !assert.NoError(t, err) {
					return
				}
				v, err := a.Acquire()
				if !assert.NoError(t, err) {
					return
				}
				*(*uint64)(v.Resolve(ref.Offset)) = uint64(w<<16 | i)
				v.Release()
				refs[w] = append(refs[w], ref)
			}
		}(w)
	}
	wg.Wait()

	v, err := a.Acquire()
	require.NoError(t, err)
	defer v.Release()

	for w := range refs {
		require.Len(t, refs[w], perWorker)
		for i, ref := range refs[w] {
			assert.Equal(t, uint64(w<<16|i), *(*uint64)(v.Resolve(ref.Offset)))
		}
	}
	assert.Equal(t, uint64(workers*perWorker), a.Stats().LiveBlocks)
}

func TestArena_String(t *testing.T) {
	a := newTestArena(t, 4096)
	_, err := a.AllocZeroed(1024)
	require.NoError(t, err)
	assert.Contains(t, a.String(), "blocks: 1")
	assert.Greater(t, a.Usage(), 0.0)
}

func BenchmarkArena_AllocFree(b *testing.B) {
	a, err := New(DefaultSize)
	require.NoError(b, err)
	defer a.Close()

	b.ReportAllocs()
	for b.Loop() {
		ref, err := a.AllocZeroed(256)
		if err != nil {
			b.Fatal(err)
		}
		if err := a.Free(ref); err != nil {
			b.Fatal(err)
		}
	}
}
