package maps

import (
	"fmt"

	"github.com/hupe1980/shmmap/internal/arena"
	"github.com/hupe1980/shmmap/internal/hash"
)

// Allocator is the arena contract Maps and PMaps are built on.
// *arena.Arena satisfies it.
type Allocator interface {
	AllocZeroed(size int) (arena.Ref, error)
	Free(ref arena.Ref) error
	Acquire() (arena.View, error)
}

// Map is a handle to a fixed-capacity hash map stored in an arena.
// The handle holds offsets only; it stays valid across region moves.
type Map struct {
	alloc   Allocator
	block   arena.Ref    // block the map lives in (its own or its PMap's)
	off     arena.Offset // map header
	owned   bool         // standalone map: Del frees block
	cleanup ValueCleanup
}

// New creates a standalone Map with room for maxEntries entries of at most
// nodeSize bytes (key plus value) each. With wrap set, inserting into a full
// map evicts its oldest entry. The cpu argument is accepted for symmetry with
// NewPMap and currently unused.
func New(alloc Allocator, maxEntries int, wrap bool, nodeSize int, _ int, opts ...Option) (*Map, error) {
	o := applyOptions(opts)

	size, err := MapSize(maxEntries, nodeSize)
	if err != nil {
		return nil, err
	}

	ref, err := alloc.AllocZeroed(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailure, err)
	}

	m := &Map{
		alloc:   alloc,
		block:   ref,
		off:     ref.Offset,
		owned:   true,
		cleanup: o.cleanup,
	}

	v, err := alloc.Acquire()
	if err != nil {
		_ = alloc.Free(ref)
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailure, err)
	}
	err = mapInit(v, m.off, maxEntries, wrap, nodeSize)
	v.Release()
	if err != nil {
		_ = m.Del()
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailure, err)
	}
	return m, nil
}

// mapInit is swapped in tests to exercise the construction unwind paths.
var mapInit = initMap

// pin resolves the map against a pinned view. The caller must release v.
func (m *Map) pin() (arena.View, table, error) {
	if m == nil {
		return arena.View{}, table{}, fmt.Errorf("%w: nil map", ErrInvalidArgument)
	}
	v, err := m.alloc.Acquire()
	if err != nil {
		return arena.View{}, table{}, fmt.Errorf("%w: %w", ErrStaleHandle, err)
	}
	if err := v.Check(m.block); err != nil {
		v.Release()
		return arena.View{}, table{}, fmt.Errorf("%w: %w", ErrStaleHandle, err)
	}
	t, err := bind(v, m.off)
	if err != nil {
		v.Release()
		return arena.View{}, table{}, err
	}
	return v, t, nil
}

// Del releases a standalone Map: every entry is handed to the cleanup hook,
// then the block goes back to the arena. Maps embedded in a PMap are
// released by PMap.Del instead.
func (m *Map) Del() error {
	if m == nil {
		return fmt.Errorf("%w: nil map", ErrInvalidArgument)
	}
	if !m.owned {
		return fmt.Errorf("%w: map belongs to a pmap", ErrInvalidArgument)
	}

	v, err := m.alloc.Acquire()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStaleHandle, err)
	}
	if err := v.Check(m.block); err != nil {
		v.Release()
		return fmt.Errorf("%w: %w", ErrStaleHandle, err)
	}
	// A block whose init failed carries no magic and has no entries.
	if t, err := bind(v, m.off); err == nil {
		t.clearEntries(m.cleanup)
	}
	v.Release()

	return m.alloc.Free(m.block)
}

// Offset returns the arena offset of the map header.
func (m *Map) Offset() arena.Offset {
	return m.off
}

// Block returns the arena block the map lives in.
func (m *Map) Block() arena.Ref {
	return m.block
}

// Equal reports whether both handles name the same map.
func (m *Map) Equal(o *Map) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.alloc == o.alloc && m.off == o.off && m.block == o.block
}

// Set stores value under key, replacing any existing value. The insertion
// order of an existing key is unchanged.
func (m *Map) Set(key, value []byte) error {
	v, t, err := m.pin()
	if err != nil {
		return err
	}
	defer v.Release()

	h := hash.Key(key)
	ref := t.find(key, h)
	if ref == 0 {
		if ref, err = t.insert(key, h, len(value), m.cleanup); err != nil {
			return err
		}
	} else if err := t.resize(ref, len(value)); err != nil {
		return err
	}
	copy(t.value(ref), value)
	return nil
}

// Get returns a copy of the value stored under key.
func (m *Map) Get(key []byte) ([]byte, bool, error) {
	v, t, err := m.pin()
	if err != nil {
		return nil, false, err
	}
	defer v.Release()

	ref := t.find(key, hash.Key(key))
	if ref == 0 {
		return nil, false, nil
	}
	return append([]byte(nil), t.value(ref)...), true, nil
}

// Update calls fn with the size-byte value stored under key so it can be
// modified in place. A missing key is inserted with a zeroed value; an
// existing value of a different length is resized first. The slice is only
// valid during fn.
func (m *Map) Update(key []byte, size int, fn func(value []byte)) error {
	if size < 0 || fn == nil {
		return fmt.Errorf("%w: update size %d", ErrInvalidArgument, size)
	}

	v, t, err := m.pin()
	if err != nil {
		return err
	}
	defer v.Release()

	h := hash.Key(key)
	ref := t.find(key, h)
	if ref == 0 {
		if ref, err = t.insert(key, h, size, m.cleanup); err != nil {
			return err
		}
	} else if err := t.resize(ref, size); err != nil {
		return err
	}
	fn(t.value(ref))
	return nil
}

// Delete removes key. It reports whether the key was present.
func (m *Map) Delete(key []byte) (bool, error) {
	v, t, err := m.pin()
	if err != nil {
		return false, err
	}
	defer v.Release()

	ref := t.find(key, hash.Key(key))
	if ref == 0 {
		return false, nil
	}
	t.remove(ref, m.cleanup)
	return true, nil
}

// Range calls fn for every entry, oldest first, until fn returns false.
// The slices point into the arena and are only valid during fn; fn must not
// call back into the arena's allocator.
func (m *Map) Range(fn func(key, value []byte) bool) error {
	v, t, err := m.pin()
	if err != nil {
		return err
	}
	defer v.Release()

	t.each(func(ref uint32) bool {
		return fn(t.key(ref), t.value(ref))
	})
	return nil
}

// Keys returns copies of all keys, oldest first.
func (m *Map) Keys() ([][]byte, error) {
	var keys [][]byte
	err := m.Range(func(key, _ []byte) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})
	return keys, err
}

// Clear removes every entry.
func (m *Map) Clear() error {
	v, t, err := m.pin()
	if err != nil {
		return err
	}
	defer v.Release()

	t.clearEntries(m.cleanup)
	return nil
}

// Info is a point-in-time view of a map's occupancy.
type Info struct {
	Len      int  // occupied nodes
	Free     int  // nodes in the pool
	Cap      int  // maxnum
	Buckets  int  // hash table size
	NodeSize int  // payload bytes per node
	Wrap     bool // evicts oldest when full
}

// Info returns the map's occupancy counters.
func (m *Map) Info() (Info, error) {
	v, t, err := m.pin()
	if err != nil {
		return Info{}, err
	}
	defer v.Release()

	return Info{
		Len:      int(t.hdr.count),
		Free:     int(t.hdr.poolLen),
		Cap:      int(t.hdr.maxnum),
		Buckets:  int(t.hdr.hashMask) + 1,
		NodeSize: int(t.hdr.nodeSize),
		Wrap:     t.wrap(),
	}, nil
}

// Len returns the number of entries, or 0 for a stale handle.
func (m *Map) Len() int {
	info, err := m.Info()
	if err != nil {
		return 0
	}
	return info.Len
}

// Cap returns the map's capacity, or 0 for a stale handle.
func (m *Map) Cap() int {
	info, err := m.Info()
	if err != nil {
		return 0
	}
	return info.Cap
}

// Free returns the number of unused nodes, or 0 for a stale handle.
func (m *Map) Free() int {
	info, err := m.Info()
	if err != nil {
		return 0
	}
	return info.Free
}

// Wrap reports whether the map evicts its oldest entry when full.
func (m *Map) Wrap() bool {
	info, err := m.Info()
	return err == nil && info.Wrap
}
