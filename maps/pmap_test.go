package maps

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/shmmap/internal/arena"
)

func TestNewPMap(t *testing.T) {
	t.Run("shape", func(t *testing.T) {
		alloc := newTestAllocator(t)
		p, err := NewPMap(alloc, 4, true, 16, 3, WithBitShift(6), WithStatOps(0x5))
		require.NoError(t, err)

		assert.Equal(t, int64(1), alloc.allocs.Load())
		assert.Equal(t, 3, p.NumContexts())
		assert.Equal(t, 6, p.BitShift())
		assert.Equal(t, uint32(0x5), p.StatOps())

		size, err := PMapSize(4, 16, 3)
		require.NoError(t, err)
		got, err := alloc.Size(p.Block())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, size)

		seen := map[uint64]bool{}
		for i := range 3 {
			m, err := p.GetMap(i)
			require.NoError(t, err)
			assert.Equal(t, 4, m.Cap())
			assert.True(t, m.Wrap())
			seen[uint64(m.Offset())] = true
		}
		agg, err := p.GetAgg()
		require.NoError(t, err)
		assert.Equal(t, 4, agg.Cap())
		seen[uint64(agg.Offset())] = true
		assert.Len(t, seen, 4)
	})

	t.Run("allocation failure", func(t *testing.T) {
		alloc := newTestAllocator(t)
		alloc.failAlloc.Store(true)

		p, err := NewPMap(alloc, 4, true, 16, 2)
		require.ErrorIs(t, err, ErrAllocationFailure)
		assert.Nil(t, p)
		assert.Zero(t, alloc.frees.Load())
	})

	t.Run("invalid contexts", func(t *testing.T) {
		alloc := newTestAllocator(t)
		_, err := NewPMap(alloc, 4, true, 16, 0)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Zero(t, alloc.allocs.Load())
	})
}

func TestNewPMap_Unwind(t *testing.T) {
	// 0 and 1 are per-context maps, 2 is the aggregate.
	for _, failAt := range []int{0, 1, 2} {
		t.Run(fmt.Sprintf("fail at %d", failAt), func(t *testing.T) {
			alloc := newTestAllocator(t)
			failInitAt(t, failAt)

			p, err := NewPMap(alloc, 4, true, 16, 2)
			require.ErrorIs(t, err, ErrAllocationFailure)
			assert.ErrorIs(t, err, errInjected)
			assert.Nil(t, p)
			assert.Equal(t, int64(1), alloc.frees.Load())
			assert.Zero(t, alloc.Stats().LiveBlocks)
		})
	}
}

func TestPMap_Del(t *testing.T) {
	alloc := newTestAllocator(t)
	cleanup := &recordingCleanup{}
	p, err := NewPMap(alloc, 4, false, 16, 4, WithCleanup(cleanup))
	require.NoError(t, err)

	for i := range 4 {
		m, err := p.GetMap(i)
		require.NoError(t, err)
		require.NoError(t, m.Set(fmt.Appendf(nil, "cpu%d", i), nil))
	}
	agg, err := p.GetAgg()
	require.NoError(t, err)
	require.NoError(t, agg.Set([]byte("agg"), nil))

	require.NoError(t, p.Del())

	assert.Equal(t, int64(1), alloc.frees.Load())
	assert.ElementsMatch(t, []string{"cpu0", "cpu1", "cpu2", "cpu3", "agg"}, cleanup.keys)
	assert.Zero(t, alloc.Stats().LiveBlocks)
}

func TestPMap_UseAfterDel(t *testing.T) {
	alloc := newTestAllocator(t)
	p, err := NewPMap(alloc, 4, false, 16, 2)
	require.NoError(t, err)

	m, err := p.GetMap(1)
	require.NoError(t, err)
	agg, err := p.GetAgg()
	require.NoError(t, err)

	require.NoError(t, p.Del())

	_, err = p.GetMap(0)
	assert.ErrorIs(t, err, ErrStaleHandle)
	_, err = p.GetAgg()
	assert.ErrorIs(t, err, ErrStaleHandle)
	assert.ErrorIs(t, p.Del(), ErrStaleHandle)
	assert.ErrorIs(t, m.Set([]byte("k"), nil), ErrStaleHandle)
	_, _, err = agg.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrStaleHandle)

	// A new allocation in the same place does not revive the old handles.
	q, err := NewPMap(alloc, 4, false, 16, 2)
	require.NoError(t, err)
	assert.Equal(t, p.Block().Offset, q.Block().Offset)
	_, err = p.GetMap(0)
	assert.ErrorIs(t, err, ErrStaleHandle)
	assert.ErrorIs(t, m.Set([]byte("k"), nil), ErrStaleHandle)
}

func TestPMap_Fold(t *testing.T) {
	alloc := newTestAllocator(t)
	p, err := NewPMap(alloc, 4, false, 16, 2)
	require.NoError(t, err)

	m0, err := p.GetMap(0)
	require.NoError(t, err)
	for _, idx := range []int{2, 7, 1 << 20, -1} {
		m, err := p.GetMap(idx)
		require.NoError(t, err)
		assert.True(t, m.Equal(m0), "idx=%d", idx)
	}

	m1, err := p.GetMap(1)
	require.NoError(t, err)
	assert.False(t, m1.Equal(m0))

	// SetMap folds the same way.
	require.NoError(t, p.SetMap(m1, 9))
	m, err := p.GetMap(0)
	require.NoError(t, err)
	assert.True(t, m.Equal(m1))
}

func TestPMap_SetAgg(t *testing.T) {
	alloc := newTestAllocator(t)
	p, err := NewPMap(alloc, 4, false, 16, 2)
	require.NoError(t, err)

	standalone, err := New(alloc, 4, false, 16, 0)
	require.NoError(t, err)
	require.NoError(t, p.SetAgg(standalone))

	agg, err := p.GetAgg()
	require.NoError(t, err)
	assert.Equal(t, standalone.Offset(), agg.Offset())

	m1, err := p.GetMap(1)
	require.NoError(t, err)
	require.NoError(t, m1.Set([]byte("k"), []byte{1}))
	_, err = p.Aggregate(func(dst, src []byte) { copy(dst, src) })
	require.NoError(t, err)
	got, ok, err := standalone.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1}, got)

	// Aggregating into a per-context map would wipe that context first.
	assert.ErrorIs(t, p.SetAgg(m1), ErrInvalidArgument)
	got, ok, err = m1.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1}, got)

	assert.ErrorIs(t, p.SetAgg(nil), ErrInvalidArgument)
	assert.ErrorIs(t, p.SetMap(nil, 0), ErrInvalidArgument)
	assert.ErrorIs(t, p.SetMap(agg, 0), ErrInvalidArgument)

	// Del leaves maps that live outside the PMap block alone.
	require.NoError(t, p.Del())
	assert.Equal(t, 1, standalone.Len())
	require.NoError(t, standalone.Del())
	assert.Zero(t, alloc.Stats().LiveBlocks)
}

func TestPMap_SetMapRejectsForeignMaps(t *testing.T) {
	alloc := newTestAllocator(t)
	p, err := NewPMap(alloc, 4, false, 16, 2)
	require.NoError(t, err)
	m0, err := p.GetMap(0)
	require.NoError(t, err)

	t.Run("other arena", func(t *testing.T) {
		other := newTestAllocator(t)
		// Pad the other arena so offsets differ from this one.
		_, err := other.AllocZeroed(64 << 10)
		require.NoError(t, err)
		foreign, err := New(other, 4, false, 16, 0)
		require.NoError(t, err)

		assert.ErrorIs(t, p.SetMap(foreign, 0), ErrInvalidArgument)
		assert.ErrorIs(t, p.SetAgg(foreign), ErrInvalidArgument)

		m, err := p.GetMap(0)
		require.NoError(t, err)
		assert.True(t, m.Equal(m0))
		require.NoError(t, m.Set([]byte("k"), []byte("v")))
		assert.Zero(t, foreign.Len())
	})

	t.Run("same offset in other arena", func(t *testing.T) {
		other := newTestAllocator(t)
		twin, err := NewPMap(other, 4, false, 16, 2)
		require.NoError(t, err)
		tm0, err := twin.GetMap(0)
		require.NoError(t, err)
		require.Equal(t, m0.Offset(), tm0.Offset())

		assert.ErrorIs(t, p.SetMap(tm0, 1), ErrInvalidArgument)
	})

	t.Run("deleted map", func(t *testing.T) {
		dead, err := New(alloc, 4, false, 16, 0)
		require.NoError(t, err)
		require.NoError(t, dead.Del())

		assert.ErrorIs(t, p.SetMap(dead, 0), ErrStaleHandle)
		assert.ErrorIs(t, p.SetAgg(dead), ErrStaleHandle)
	})
}

func TestMap_OutOfRangeOffset(t *testing.T) {
	alloc := newTestAllocator(t)
	m, err := New(alloc, 4, false, 16, 0)
	require.NoError(t, err)

	bad := &Map{alloc: alloc, block: m.Block(), off: arena.Offset(1 << 30)}
	assert.ErrorIs(t, bad.Set([]byte("k"), nil), ErrCorrupt)
	_, _, err = bad.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrCorrupt)

	// The failed calls released their pin, so writers still get through.
	require.NoError(t, alloc.Relocate())
	require.NoError(t, m.Set([]byte("k"), []byte("v")))
}

func TestPMap_Relocation(t *testing.T) {
	alloc := newTestAllocator(t)
	p, err := NewPMap(alloc, 4, false, 16, 2)
	require.NoError(t, err)

	m1, err := p.GetMap(1)
	require.NoError(t, err)
	require.NoError(t, m1.Set([]byte("k"), []byte("v")))

	v, err := alloc.Acquire()
	require.NoError(t, err)
	oldBase := v.Base()
	v.Release()

	require.NoError(t, alloc.Relocate())

	m, err := p.GetMap(1)
	require.NoError(t, err)
	agg, err := p.GetAgg()
	require.NoError(t, err)

	got, ok, err := m.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	v, err = alloc.Acquire()
	require.NoError(t, err)
	defer v.Release()
	assert.NotEqual(t, oldBase, v.Base())

	blockStart := uintptr(v.Resolve(p.Block().Offset))
	size, err := PMapSize(4, 16, 2)
	require.NoError(t, err)
	for _, h := range []*Map{m, agg} {
		addr := uintptr(v.Resolve(h.Offset()))
		assert.GreaterOrEqual(t, addr, blockStart)
		assert.Less(t, addr, blockStart+uintptr(size))
	}
}

func TestPMap_EndToEnd(t *testing.T) {
	alloc := newTestAllocator(t)
	p, err := NewPMap(alloc, 4, true, 16, 2)
	require.NoError(t, err)

	m0, err := p.GetMap(0)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		require.NoError(t, m0.Set(fmt.Appendf(nil, "e%d", i), fmt.Appendf(nil, "value-%d", i)))
	}

	assert.Equal(t, 4, m0.Len())
	var got []string
	require.NoError(t, m0.Range(func(key, value []byte) bool {
		got = append(got, string(key)+":"+string(value))
		return true
	}))
	assert.Equal(t, []string{"e2:value-2", "e3:value-3", "e4:value-4", "e5:value-5"}, got)

	m7, err := p.GetMap(7)
	require.NoError(t, err)
	assert.True(t, m7.Equal(m0))
	assert.Equal(t, 4, m7.Len())

	require.NoError(t, p.Del())
	assert.Equal(t, int64(1), alloc.frees.Load())
}

func TestPMap_Aggregate(t *testing.T) {
	alloc := newTestAllocator(t)
	p, err := NewPMap(alloc, 8, false, 16, 3)
	require.NoError(t, err)

	add := func(n uint64) func([]byte) {
		return func(v []byte) {
			binary.LittleEndian.PutUint64(v, binary.LittleEndian.Uint64(v)+n)
		}
	}
	for i := range 3 {
		m, err := p.GetMap(i)
		require.NoError(t, err)
		require.NoError(t, m.Update([]byte("shared"), 8, add(uint64(i+1))))
		require.NoError(t, m.Update(fmt.Appendf(nil, "only%d", i), 8, add(10)))
	}

	sum := func(dst, src []byte) {
		binary.LittleEndian.PutUint64(dst, binary.LittleEndian.Uint64(dst)+binary.LittleEndian.Uint64(src))
	}

	// Running it twice must not double count.
	for range 2 {
		agg, err := p.Aggregate(sum)
		require.NoError(t, err)
		assert.Equal(t, 4, agg.Len())

		v, ok, err := agg.Get([]byte("shared"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(6), binary.LittleEndian.Uint64(v))

		v, ok, err = agg.Get([]byte("only2"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(10), binary.LittleEndian.Uint64(v))
	}

	n, err := p.Len()
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	_, err = p.Aggregate(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, p.Clear())
	n, err = p.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	agg, err := p.GetAgg()
	require.NoError(t, err)
	assert.Zero(t, agg.Len())
}

func TestPMap_MapDelRejected(t *testing.T) {
	alloc := newTestAllocator(t)
	p, err := NewPMap(alloc, 4, false, 16, 1)
	require.NoError(t, err)

	m, err := p.GetMap(0)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Del(), ErrInvalidArgument)
	assert.Zero(t, alloc.frees.Load())
}
