package maps

import (
	"bytes"
	"fmt"
	"unsafe"

	"github.com/hupe1980/shmmap/internal/arena"
	"github.com/hupe1980/shmmap/internal/hash"
)

// table is a Map resolved against a pinned view. It must not outlive the
// view it was built from.
type table struct {
	hdr     *mapHeader
	buckets []uint32
	pool    []uint32
	nodes   []byte
}

// bind resolves the map header at off. The header must already be initialized.
func bind(v arena.View, off arena.Offset) (table, error) {
	if off == arena.Null || uint64(off)+uint64(mapHeaderSize) > uint64(v.Len()) {
		return table{}, fmt.Errorf("%w: offset %d outside region", ErrCorrupt, off)
	}
	hdr := (*mapHeader)(v.Resolve(off))
	if hdr.magic != mapMagic {
		return table{}, fmt.Errorf("%w: offset %d", ErrCorrupt, off)
	}
	l, err := newLayout(int(hdr.maxnum), int(hdr.nodeSize))
	if err != nil {
		return table{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if uint64(off)+uint64(l.size) > uint64(v.Len()) {
		return table{}, fmt.Errorf("%w: map at offset %d overruns region", ErrCorrupt, off)
	}
	return carve(v, off, hdr, l), nil
}

func carve(v arena.View, off arena.Offset, hdr *mapHeader, l layout) table {
	base := v.Resolve(off)
	return table{
		hdr:     hdr,
		buckets: unsafe.Slice((*uint32)(unsafe.Add(base, l.bucketsOff)), l.buckets), //nolint:gosec // inside the map block
		pool:    unsafe.Slice((*uint32)(unsafe.Add(base, l.poolOff)), l.maxEntries),  //nolint:gosec // inside the map block
		nodes:   v.Bytes(off+arena.Offset(l.nodesOff), l.stride*l.maxEntries),
	}
}

// initMap lays out an empty map at off. The memory is expected to be zeroed
// but every field is written anyway. It performs no allocation.
func initMap(v arena.View, off arena.Offset, maxEntries int, wrap bool, nodeSize int) error {
	l, err := newLayout(maxEntries, nodeSize)
	if err != nil {
		return err
	}

	hdr := (*mapHeader)(v.Resolve(off))
	*hdr = mapHeader{
		magic:    mapMagic,
		maxnum:   uint32(maxEntries),
		hashMask: uint32(l.buckets - 1),
		nodeSize: uint32(nodeSize),
		stride:   uint32(l.stride),
	}
	if wrap {
		hdr.flags |= flagWrap
	}

	carve(v, off, hdr, l).reset()
	return nil
}

// reset empties the pool and lists without touching payloads.
func (t table) reset() {
	clear(t.buckets)
	n := len(t.pool)
	for i := 0; i < n; i++ {
		// Lowest index on top so nodes fill front to back.
		t.pool[i] = uint32(n - i)
		t.node(uint32(i + 1)).hnext = 0
	}
	t.hdr.poolLen = uint32(n)
	t.hdr.count = 0
	t.hdr.oldest = 0
	t.hdr.newest = 0
}

func (t table) node(ref uint32) *nodeHeader {
	off := int(ref-1) * int(t.hdr.stride)
	return (*nodeHeader)(unsafe.Pointer(&t.nodes[off])) //nolint:gosec // ref is bounds checked by the slice index
}

func (t table) payload(ref uint32) []byte {
	off := int(ref-1)*int(t.hdr.stride) + nodeHeaderSize
	end := off + int(t.hdr.nodeSize)
	return t.nodes[off:end:end]
}

func (t table) key(ref uint32) []byte {
	n := t.node(ref)
	return t.payload(ref)[:n.keyLen]
}

func (t table) value(ref uint32) []byte {
	n := t.node(ref)
	p := t.payload(ref)
	return p[n.keyLen : int(n.keyLen)+int(n.valLen)]
}

func (t table) wrap() bool {
	return t.hdr.flags&flagWrap != 0
}

func (t table) find(key []byte, h uint64) uint32 {
	for ref := t.buckets[hash.Bucket(h, t.hdr.hashMask)]; ref != 0; ref = t.node(ref).hnext {
		n := t.node(ref)
		if n.hash == h && bytes.Equal(t.key(ref), key) {
			return ref
		}
	}
	return 0
}

// acquireNode pops a node from the pool, evicting the oldest entry of a
// wrapping map when the pool is empty.
func (t table) acquireNode(cleanup ValueCleanup) (uint32, error) {
	if t.hdr.poolLen == 0 {
		if !t.wrap() || t.hdr.oldest == 0 {
			return 0, ErrMapFull
		}
		t.remove(t.hdr.oldest, cleanup)
	}
	t.hdr.poolLen--
	return t.pool[t.hdr.poolLen], nil
}

// insert links a new node for key with a zeroed value of valLen bytes.
func (t table) insert(key []byte, h uint64, valLen int, cleanup ValueCleanup) (uint32, error) {
	if len(key)+valLen > int(t.hdr.nodeSize) {
		return 0, fmt.Errorf("%w: key %d + value %d > %d", ErrEntryTooLarge, len(key), valLen, t.hdr.nodeSize)
	}

	ref, err := t.acquireNode(cleanup)
	if err != nil {
		return 0, err
	}

	n := t.node(ref)
	p := t.payload(ref)
	copy(p, key)
	clear(p[len(key):])
	n.hash = h
	n.keyLen = uint16(len(key))
	n.valLen = uint16(valLen)

	b := hash.Bucket(h, t.hdr.hashMask)
	n.hnext = t.buckets[b]
	t.buckets[b] = ref

	n.lnext = 0
	n.lprev = t.hdr.newest
	if t.hdr.newest != 0 {
		t.node(t.hdr.newest).lnext = ref
	} else {
		t.hdr.oldest = ref
	}
	t.hdr.newest = ref
	t.hdr.count++
	return ref, nil
}

// resize changes the value length of an occupied node, zeroing any bytes
// that become part of the value.
func (t table) resize(ref uint32, valLen int) error {
	n := t.node(ref)
	if int(n.keyLen)+valLen > int(t.hdr.nodeSize) {
		return fmt.Errorf("%w: key %d + value %d > %d", ErrEntryTooLarge, n.keyLen, valLen, t.hdr.nodeSize)
	}
	if valLen > int(n.valLen) {
		p := t.payload(ref)
		clear(p[int(n.keyLen)+int(n.valLen) : int(n.keyLen)+valLen])
	}
	n.valLen = uint16(valLen)
	return nil
}

// remove unlinks an occupied node and returns it to the pool.
func (t table) remove(ref uint32, cleanup ValueCleanup) {
	n := t.node(ref)

	if cleanup != nil {
		cleanup.Cleanup(t.key(ref), t.value(ref))
	}

	b := hash.Bucket(n.hash, t.hdr.hashMask)
	if t.buckets[b] == ref {
		t.buckets[b] = n.hnext
	} else {
		for prev := t.buckets[b]; prev != 0; prev = t.node(prev).hnext {
			if pn := t.node(prev); pn.hnext == ref {
				pn.hnext = n.hnext
				break
			}
		}
	}

	if n.lprev != 0 {
		t.node(n.lprev).lnext = n.lnext
	} else {
		t.hdr.oldest = n.lnext
	}
	if n.lnext != 0 {
		t.node(n.lnext).lprev = n.lprev
	} else {
		t.hdr.newest = n.lprev
	}

	n.hnext, n.lprev, n.lnext = 0, 0, 0
	t.pool[t.hdr.poolLen] = ref
	t.hdr.poolLen++
	t.hdr.count--
}

// each walks occupied nodes oldest first. fn must not remove nodes other
// than the one it is given.
func (t table) each(fn func(ref uint32) bool) {
	for ref := t.hdr.oldest; ref != 0; {
		next := t.node(ref).lnext
		if !fn(ref) {
			return
		}
		ref = next
	}
}

// clearEntries releases every occupied node. Used by Clear and teardown.
func (t table) clearEntries(cleanup ValueCleanup) {
	if cleanup != nil {
		t.each(func(ref uint32) bool {
			cleanup.Cleanup(t.key(ref), t.value(ref))
			return true
		})
	}
	t.reset()
}
