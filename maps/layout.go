package maps

import (
	"fmt"
	"math"
	"math/bits"
	"unsafe"

	"github.com/hupe1980/shmmap/internal/conv"
	"github.com/hupe1980/shmmap/internal/mem"
)

const (
	mapMagic  uint32 = 0x4d415031 // "MAP1"
	pmapMagic uint32 = 0x504d4131 // "PMA1"

	flagWrap uint32 = 1 << 0

	// MaxNodeSize is the largest payload a node can carry (key plus value).
	MaxNodeSize = math.MaxUint16
	// MaxEntries bounds the capacity of a single Map.
	MaxEntries = 1 << 30

	offsetSize = int(unsafe.Sizeof(uint64(0)))
	indexSize  = int(unsafe.Sizeof(uint32(0)))
)

var (
	mapHeaderSize  = int(unsafe.Sizeof(mapHeader{}))
	nodeHeaderSize = int(unsafe.Sizeof(nodeHeader{}))
	pmapHeaderSize = int(unsafe.Sizeof(pmapHeader{}))
)

// mapHeader starts every Map. Node references are index+1; zero means none.
type mapHeader struct {
	magic    uint32
	flags    uint32
	maxnum   uint32
	hashMask uint32
	nodeSize uint32
	stride   uint32 // nodeHeader plus aligned payload
	count    uint32 // occupied nodes
	poolLen  uint32 // free indices on the pool stack
	oldest   uint32 // head of the insertion-order list
	newest   uint32 // tail of the insertion-order list
}

type nodeHeader struct {
	hnext  uint32 // next node in the hash chain
	lprev  uint32 // insertion-order list
	lnext  uint32
	keyLen uint16
	valLen uint16
	hash   uint64
}

// pmapHeader starts every PMap and is followed by numContexts offsets.
type pmapHeader struct {
	magic       uint32
	numContexts uint32
	bitShift    int32
	statOps     uint32
	mapSize     uint64
	oagg        uint64
}

// HashTableSize returns the bucket count for a map of maxEntries entries:
// the next power of two at or above twice the capacity.
func HashTableSize(maxEntries int) int {
	n := max(2*maxEntries, 2)
	return 1 << bits.Len(uint(n-1))
}

// layout describes where each part of a Map lives relative to its header.
type layout struct {
	maxEntries int
	buckets    int
	nodeSize   int
	stride     int
	bucketsOff int
	poolOff    int
	nodesOff   int
	size       int
}

func newLayout(maxEntries, nodeSize int) (layout, error) {
	if maxEntries <= 0 || maxEntries > MaxEntries {
		return layout{}, fmt.Errorf("%w: max entries %d", ErrInvalidArgument, maxEntries)
	}
	if nodeSize <= 0 || nodeSize > MaxNodeSize {
		return layout{}, fmt.Errorf("%w: node size %d", ErrInvalidArgument, nodeSize)
	}

	l := layout{
		maxEntries: maxEntries,
		buckets:    HashTableSize(maxEntries),
		nodeSize:   nodeSize,
		stride:     nodeHeaderSize + mem.AlignUp(nodeSize, 8),
		bucketsOff: mapHeaderSize,
	}
	l.poolOff = l.bucketsOff + l.buckets*indexSize
	l.nodesOff = mem.AlignUp(l.poolOff+maxEntries*indexSize, 8)

	nodes, err := conv.MulInt(l.stride, maxEntries)
	if err != nil {
		return layout{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if l.size, err = conv.AddInt(l.nodesOff, nodes); err != nil {
		return layout{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return l, nil
}

// MapSize returns the number of bytes one Map of the given shape occupies.
func MapSize(maxEntries, nodeSize int) (int, error) {
	l, err := newLayout(maxEntries, nodeSize)
	if err != nil {
		return 0, err
	}
	return l.size, nil
}

// PMapSize returns the number of bytes of the single block backing a PMap
// with numContexts per-context maps plus the aggregate.
func PMapSize(maxEntries, nodeSize, numContexts int) (int, error) {
	if numContexts <= 0 || uint64(numContexts) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: contexts %d", ErrInvalidArgument, numContexts)
	}
	mapSize, err := MapSize(maxEntries, nodeSize)
	if err != nil {
		return 0, err
	}
	maps, err := conv.MulInt(mapSize, numContexts+1)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	total, err := conv.AddInt(pmapHeaderLen(numContexts), maps)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return total, nil
}

func pmapHeaderLen(numContexts int) int {
	return pmapHeaderSize + numContexts*offsetSize
}
