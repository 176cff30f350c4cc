package maps

import (
	"fmt"
	"slices"
	"unsafe"

	"github.com/hupe1980/shmmap/internal/arena"
	"github.com/hupe1980/shmmap/internal/cpu"
)

// MergeFunc folds the value src into dst during aggregation. dst is zeroed
// the first time a key is seen.
type MergeFunc func(dst, src []byte)

// PMap is a set of per-context Maps plus one aggregate Map, all stored in a
// single arena block. The number of contexts is fixed at creation; context
// indices outside [0, NumContexts) fold to 0.
type PMap struct {
	alloc   Allocator
	block   arena.Ref
	cleanup ValueCleanup
}

// NewPMap creates a PMap with numContexts per-context maps and one aggregate
// map, each shaped like a standalone Map of maxEntries entries. Everything
// comes from a single allocation; on failure nothing stays allocated.
func NewPMap(alloc Allocator, maxEntries int, wrap bool, nodeSize int, numContexts int, opts ...Option) (*PMap, error) {
	o := applyOptions(opts)

	mapSize, err := MapSize(maxEntries, nodeSize)
	if err != nil {
		return nil, err
	}
	total, err := PMapSize(maxEntries, nodeSize, numContexts)
	if err != nil {
		return nil, err
	}

	ref, err := alloc.AllocZeroed(total)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailure, err)
	}

	p := &PMap{alloc: alloc, block: ref, cleanup: o.cleanup}
	if err := p.build(o, maxEntries, wrap, nodeSize, numContexts, mapSize); err != nil {
		_ = alloc.Free(ref)
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailure, err)
	}
	return p, nil
}

// build writes the header and lays out every map of a freshly zeroed block.
// On failure the maps built so far are torn down; the caller frees the block.
func (p *PMap) build(o options, maxEntries int, wrap bool, nodeSize, numContexts, mapSize int) error {
	v, err := p.alloc.Acquire()
	if err != nil {
		return err
	}
	defer v.Release()

	hdr := (*pmapHeader)(v.Resolve(p.block.Offset))
	*hdr = pmapHeader{
		magic:       pmapMagic,
		numContexts: uint32(numContexts),
		bitShift:    o.bitShift,
		statOps:     o.statOps,
		mapSize:     uint64(mapSize),
	}
	// numContexts is known now, so the slot array can be resolved.
	_, slots := p.header(v)
	// Unbuilt slots stay empty so a partial PMap can still be torn down.
	clear(slots)

	base := p.block.Offset + arena.Offset(pmapHeaderLen(numContexts))
	for i := 0; i <= numContexts; i++ {
		off := base + arena.Offset(i*mapSize)
		if err := mapInit(v, off, maxEntries, wrap, nodeSize); err != nil {
			p.teardown(v, hdr, slots)
			return err
		}
		if i < numContexts {
			slots[i] = uint64(off)
		} else {
			hdr.oagg = uint64(off)
		}
	}
	return nil
}

// header resolves the PMap header and its slot array inside v.
func (p *PMap) header(v arena.View) (*pmapHeader, []uint64) {
	hdr := (*pmapHeader)(v.Resolve(p.block.Offset))
	slots := unsafe.Slice((*uint64)(unsafe.Add(unsafe.Pointer(hdr), pmapHeaderSize)), hdr.numContexts) //nolint:gosec // inside the pmap block
	return hdr, slots
}

// pin validates the handle and resolves the header against a pinned view.
// The caller must release v.
func (p *PMap) pin() (arena.View, *pmapHeader, []uint64, error) {
	if p == nil {
		return arena.View{}, nil, nil, fmt.Errorf("%w: nil pmap", ErrInvalidArgument)
	}
	v, err := p.alloc.Acquire()
	if err != nil {
		return arena.View{}, nil, nil, fmt.Errorf("%w: %w", ErrStaleHandle, err)
	}
	if err := v.Check(p.block); err != nil {
		v.Release()
		return arena.View{}, nil, nil, fmt.Errorf("%w: %w", ErrStaleHandle, err)
	}
	hdr, slots := p.header(v)
	if hdr.magic != pmapMagic {
		v.Release()
		return arena.View{}, nil, nil, fmt.Errorf("%w: pmap at offset %d", ErrCorrupt, p.block.Offset)
	}
	return v, hdr, slots, nil
}

// Del tears down the entries of every per-context map and the aggregate,
// then frees the whole block with one arena call.
func (p *PMap) Del() error {
	v, hdr, slots, err := p.pin()
	if err != nil {
		return err
	}
	p.teardown(v, hdr, slots)
	v.Release()

	return p.alloc.Free(p.block)
}

// teardown clears the entries of every map that lives inside the PMap block.
// Maps installed with SetMap or SetAgg from outside the block are left alone.
func (p *PMap) teardown(v arena.View, hdr *pmapHeader, slots []uint64) {
	offs := append(append(make([]uint64, 0, len(slots)+1), slots...), hdr.oagg)
	for _, off := range offs {
		if off == 0 || !p.owns(hdr, arena.Offset(off)) {
			continue
		}
		if t, err := bind(v, arena.Offset(off)); err == nil {
			t.clearEntries(p.cleanup)
		}
	}
}

// owns reports whether off lies inside the PMap block.
func (p *PMap) owns(hdr *pmapHeader, off arena.Offset) bool {
	n := uint64(hdr.numContexts)
	size := uint64(pmapHeaderLen(int(n))) + (n+1)*hdr.mapSize
	return off > p.block.Offset && uint64(off-p.block.Offset) < size
}

// attach validates that m is a live map of the same arena and returns its
// header offset.
func (p *PMap) attach(v arena.View, m *Map) (arena.Offset, error) {
	if m == nil {
		return 0, fmt.Errorf("%w: nil map", ErrInvalidArgument)
	}
	if m.alloc != p.alloc {
		return 0, fmt.Errorf("%w: map belongs to another arena", ErrInvalidArgument)
	}
	if err := v.Check(m.block); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStaleHandle, err)
	}
	if _, err := bind(v, m.off); err != nil {
		return 0, err
	}
	return m.off, nil
}

func (p *PMap) sub(off uint64) *Map {
	return &Map{
		alloc:   p.alloc,
		block:   p.block,
		off:     arena.Offset(off),
		cleanup: p.cleanup,
	}
}

// GetMap returns the map of context idx. Indices outside [0, NumContexts)
// return the map of context 0.
func (p *PMap) GetMap(idx int) (*Map, error) {
	v, _, slots, err := p.pin()
	if err != nil {
		return nil, err
	}
	defer v.Release()

	return p.sub(slots[cpu.Fold(idx, len(slots))]), nil
}

// SetMap points context idx at m, folding idx like GetMap. m must be a live
// map of the same arena and must not be the aggregate. A map from outside
// this PMap's block must outlive the PMap; the PMap never frees or clears it.
func (p *PMap) SetMap(m *Map, idx int) error {
	v, hdr, slots, err := p.pin()
	if err != nil {
		return err
	}
	defer v.Release()

	off, err := p.attach(v, m)
	if err != nil {
		return err
	}
	if uint64(off) == hdr.oagg {
		return fmt.Errorf("%w: map is the aggregate", ErrInvalidArgument)
	}
	slots[cpu.Fold(idx, len(slots))] = uint64(off)
	return nil
}

// GetAgg returns the aggregate map.
func (p *PMap) GetAgg() (*Map, error) {
	v, hdr, _, err := p.pin()
	if err != nil {
		return nil, err
	}
	defer v.Release()

	return p.sub(hdr.oagg), nil
}

// SetAgg replaces the aggregate map. The same rules as SetMap apply, and m
// must not be one of the per-context maps: Aggregate clears the aggregate
// before folding into it.
func (p *PMap) SetAgg(m *Map) error {
	v, hdr, slots, err := p.pin()
	if err != nil {
		return err
	}
	defer v.Release()

	off, err := p.attach(v, m)
	if err != nil {
		return err
	}
	if slices.Contains(slots, uint64(off)) {
		return fmt.Errorf("%w: map is a per-context map", ErrInvalidArgument)
	}
	hdr.oagg = uint64(off)
	return nil
}

// NumContexts returns the number of per-context maps, or 0 for a stale handle.
func (p *PMap) NumContexts() int {
	v, hdr, _, err := p.pin()
	if err != nil {
		return 0
	}
	defer v.Release()
	return int(hdr.numContexts)
}

// BitShift returns the fixed-point scale recorded at creation.
func (p *PMap) BitShift() int {
	v, hdr, _, err := p.pin()
	if err != nil {
		return 0
	}
	defer v.Release()
	return int(hdr.bitShift)
}

// StatOps returns the statistical operator mask recorded at creation.
func (p *PMap) StatOps() uint32 {
	v, hdr, _, err := p.pin()
	if err != nil {
		return 0
	}
	defer v.Release()
	return hdr.statOps
}

// Block returns the arena block backing the PMap.
func (p *PMap) Block() arena.Ref {
	return p.block
}

// Aggregate clears the aggregate map and folds every per-context map into it
// with merge. Per-context maps are left untouched. Callers serialize
// Aggregate against other writers of the aggregate map.
func (p *PMap) Aggregate(merge MergeFunc) (*Map, error) {
	if merge == nil {
		return nil, fmt.Errorf("%w: nil merge", ErrInvalidArgument)
	}
	v, hdr, slots, err := p.pin()
	if err != nil {
		return nil, err
	}
	defer v.Release()

	agg, err := bind(v, arena.Offset(hdr.oagg))
	if err != nil {
		return nil, err
	}
	agg.clearEntries(p.cleanup)

	for _, off := range slots {
		t, err := bind(v, arena.Offset(off))
		if err != nil {
			return nil, err
		}
		var ferr error
		t.each(func(ref uint32) bool {
			key, val := t.key(ref), t.value(ref)
			h := t.node(ref).hash
			dst := agg.find(key, h)
			if dst == 0 {
				if dst, ferr = agg.insert(key, h, len(val), p.cleanup); ferr != nil {
					return false
				}
			} else if int(agg.node(dst).valLen) < len(val) {
				if ferr = agg.resize(dst, len(val)); ferr != nil {
					return false
				}
			}
			merge(agg.value(dst), val)
			return true
		})
		if ferr != nil {
			return nil, fmt.Errorf("maps: aggregate: %w", ferr)
		}
	}
	return p.sub(hdr.oagg), nil
}

// Clear empties every per-context map and the aggregate.
func (p *PMap) Clear() error {
	v, hdr, slots, err := p.pin()
	if err != nil {
		return err
	}
	defer v.Release()

	for _, off := range append(append([]uint64(nil), slots...), hdr.oagg) {
		t, err := bind(v, arena.Offset(off))
		if err != nil {
			return err
		}
		t.clearEntries(p.cleanup)
	}
	return nil
}

// Len returns the total number of entries across the per-context maps.
func (p *PMap) Len() (int, error) {
	v, _, slots, err := p.pin()
	if err != nil {
		return 0, err
	}
	defer v.Release()

	n := 0
	for _, off := range slots {
		t, err := bind(v, arena.Offset(off))
		if err != nil {
			return 0, err
		}
		n += int(t.hdr.count)
	}
	return n, nil
}
