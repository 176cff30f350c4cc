package arena

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/shmmap/internal/conv"
	"github.com/hupe1980/shmmap/internal/mem"
	"github.com/hupe1980/shmmap/internal/mmap"
)

// MemoryAcquirer is an interface for acquiring memory.
type MemoryAcquirer interface {
	AcquireMemory(amount int64) error
	ReleaseMemory(amount int64)
}

var (
	// ErrAllocationFailed is returned when a block cannot be allocated.
	ErrAllocationFailed = errors.New("arena: allocation failed")
	// ErrStaleRef is returned when a Ref does not name a live block.
	ErrStaleRef = errors.New("arena: stale reference")
	// ErrDoubleFree is returned when a block is freed twice.
	ErrDoubleFree = errors.New("arena: double free")
	// ErrClosed is returned when the arena has been closed.
	ErrClosed = errors.New("arena: closed")
)

const (
	// DefaultSize is the default initial region size (1 MiB).
	DefaultSize = 1 << 20
	// Alignment is the alignment of every block payload.
	Alignment = 8
	// HeaderSize is the per-block bookkeeping overhead.
	HeaderSize = int(unsafe.Sizeof(blockHeader{}))

	// PageSize is the granularity of the region size.
	PageSize = 4096

	stateFree uint32 = 1
	stateLive uint32 = 2
)

// Offset is a byte distance from the region base. The zero Offset is null.
type Offset uint64

// Null is the offset that never names a block.
const Null Offset = 0

// Ref names an allocated block. Gen detects reuse of the same offset.
type Ref struct {
	Gen    uint32
	Offset Offset
}

// IsNull reports whether r names no block.
func (r Ref) IsNull() bool {
	return r.Offset == Null
}

type blockHeader struct {
	size  uint64 // payload bytes, aligned
	gen   uint32
	state uint32
}

// Stats tracks arena memory usage metrics.
type Stats struct {
	BytesReserved uint64 // Current: region size
	BytesUsed     uint64 // Current: payload bytes of live blocks
	BytesFree     uint64 // Current: payload bytes parked in the free set
	LiveBlocks    uint64 // Current: live block count
	TotalAllocs   uint64 // Historical: total allocations
	TotalFrees    uint64 // Historical: total frees
	Growths       uint64 // Historical: region growths
	Relocations   uint64 // Historical: region moves (growths included)
}

type atomicStats struct {
	BytesReserved atomic.Uint64
	BytesUsed     atomic.Uint64
	BytesFree     atomic.Uint64
	LiveBlocks    atomic.Uint64
	TotalAllocs   atomic.Uint64
	TotalFrees    atomic.Uint64
	Growths       atomic.Uint64
	Relocations   atomic.Uint64
}

type region struct {
	data    []byte
	mapping *mmap.Mapping // nil for heap-backed regions
}

func (r region) close() {
	if r.mapping != nil {
		_ = r.mapping.Close()
	}
}

// Arena is a relocatable block allocator.
type Arena struct {
	// mu is held for writing by anything that changes the region or the
	// block headers (alloc, free, growth, relocation, close) and for
	// reading by every View.
	mu      sync.RWMutex
	region  region
	top     int
	free    *roaring64.Bitmap // header offsets of free blocks
	nextGen uint32
	closed  bool

	maxSize  int
	heap     bool
	acquirer MemoryAcquirer
	stats    atomicStats
}

// Option is a configuration option for Arena.
type Option func(*Arena)

// WithMemoryAcquirer sets the memory acquirer for the arena.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(a *Arena) {
		a.acquirer = acquirer
	}
}

// WithMaxSize caps the region size. Allocations that would grow the region
// beyond it fail with ErrAllocationFailed.
func WithMaxSize(size int) Option {
	return func(a *Arena) {
		a.maxSize = size
	}
}

// WithHeap backs the region with an aligned heap buffer instead of an
// anonymous mapping.
func WithHeap() Option {
	return func(a *Arena) {
		a.heap = true
	}
}

// New creates a new Arena with the given initial region size.
func New(size int, opts ...Option) (*Arena, error) {
	if size <= 0 {
		size = DefaultSize
	}
	size = mem.AlignUp(size, PageSize)

	a := &Arena{
		free:    roaring64.New(),
		nextGen: 1,
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.maxSize > 0 && size > a.maxSize {
		return nil, fmt.Errorf("%w: initial size %d exceeds max %d", ErrAllocationFailed, size, a.maxSize)
	}

	if err := a.acquire(size); err != nil {
		return nil, err
	}

	r, err := a.mapRegion(size)
	if err != nil {
		a.release(size)
		return nil, err
	}

	a.region = r
	// Reserve offset 0 as null
	a.top = Alignment
	a.stats.BytesReserved.Store(uint64(size))

	return a, nil
}

func (a *Arena) acquire(size int) error {
	if a.acquirer == nil {
		return nil
	}
	if err := a.acquirer.AcquireMemory(int64(size)); err != nil {
		return fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	return nil
}

func (a *Arena) release(size int) {
	if a.acquirer != nil {
		a.acquirer.ReleaseMemory(int64(size))
	}
}

func (a *Arena) mapRegion(size int) (region, error) {
	if a.heap {
		return region{data: mem.AllocAligned(size)}, nil
	}
	m, err := mmap.MapAnon(size)
	if err != nil {
		return region{}, fmt.Errorf("%w: map %d bytes: %w", ErrAllocationFailed, size, err)
	}
	// Hash lookups touch nodes in no particular order.
	_ = m.Advise(mmap.AdviceRandom)
	return region{data: m.Bytes(), mapping: m}, nil
}

func (a *Arena) header(off int) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(&a.region.data[off])) //nolint:gosec // off is a header offset inside the region
}

// AllocZeroed allocates a zeroed block of at least size bytes.
func (a *Arena) AllocZeroed(size int) (Ref, error) {
	if size <= 0 {
		return Ref{}, fmt.Errorf("%w: invalid size %d", ErrAllocationFailed, size)
	}
	need := mem.AlignUp(size, Alignment)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Ref{}, ErrClosed
	}

	if hdrOff, ok := a.takeFree(need); ok {
		return a.activate(hdrOff), nil
	}

	total, err := conv.AddInt(a.top, HeaderSize, need)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	if total > len(a.region.data) {
		if err := a.growLocked(total); err != nil {
			return Ref{}, err
		}
	}

	hdrOff := a.top
	h := a.header(hdrOff)
	h.size = uint64(need)
	a.top = total

	return a.activate(hdrOff), nil
}

// takeFree finds the first free block that fits need without wasting more
// than half of it.
func (a *Arena) takeFree(need int) (int, bool) {
	it := a.free.Iterator()
	for it.HasNext() {
		off := it.Next()
		h := a.header(int(off))
		if h.size >= uint64(need) && h.size <= 2*uint64(need) {
			a.free.Remove(off)
			a.stats.BytesFree.Add(^(h.size - 1))
			return int(off), true
		}
	}
	return 0, false
}

func (a *Arena) activate(hdrOff int) Ref {
	h := a.header(hdrOff)
	payload := hdrOff + HeaderSize
	clear(a.region.data[payload : payload+int(h.size)])

	h.gen = a.nextGen
	h.state = stateLive
	a.nextGen++
	if a.nextGen == 0 {
		a.nextGen = 1
	}

	a.stats.BytesUsed.Add(h.size)
	a.stats.LiveBlocks.Add(1)
	a.stats.TotalAllocs.Add(1)

	return Ref{Gen: h.gen, Offset: Offset(payload)}
}

func (a *Arena) growLocked(need int) error {
	oldSize := len(a.region.data)
	newSize := oldSize * 2
	for newSize < need {
		newSize *= 2
	}
	newSize = mem.AlignUp(newSize, PageSize)

	if a.maxSize > 0 && newSize > a.maxSize {
		if need > a.maxSize {
			return fmt.Errorf("%w: need %d bytes, max region size %d", ErrAllocationFailed, need, a.maxSize)
		}
		newSize = a.maxSize
	}

	if err := a.acquire(newSize - oldSize); err != nil {
		return err
	}

	if err := a.moveLocked(newSize); err != nil {
		a.release(newSize - oldSize)
		return err
	}

	a.stats.Growths.Add(1)
	a.stats.BytesReserved.Store(uint64(newSize))
	return nil
}

// moveLocked copies the used prefix into a fresh region of size bytes.
func (a *Arena) moveLocked(size int) error {
	r, err := a.mapRegion(size)
	if err != nil {
		return err
	}
	copy(r.data, a.region.data[:a.top])

	old := a.region
	a.region = r
	old.close()

	a.stats.Relocations.Add(1)
	return nil
}

// Relocate moves the region to a new base address without growing it.
// Offsets stay valid; addresses resolved before the call do not.
func (a *Arena) Relocate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	return a.moveLocked(len(a.region.data))
}

// validate returns the header offset of the live block named by ref.
func (a *Arena) validate(ref Ref) (int, error) {
	if ref.IsNull() || ref.Offset%Alignment != 0 {
		return 0, fmt.Errorf("%w: offset %d", ErrStaleRef, ref.Offset)
	}
	payload, err := conv.Uint64ToInt(uint64(ref.Offset))
	if err != nil || payload < Alignment+HeaderSize || payload >= a.top {
		return 0, fmt.Errorf("%w: offset %d outside used region", ErrStaleRef, ref.Offset)
	}
	hdrOff := payload - HeaderSize
	h := a.header(hdrOff)
	if h.gen != ref.Gen {
		return 0, fmt.Errorf("%w: offset %d generation %d, block generation %d", ErrStaleRef, ref.Offset, ref.Gen, h.gen)
	}
	switch h.state {
	case stateLive:
		return hdrOff, nil
	case stateFree:
		return 0, fmt.Errorf("%w: offset %d", ErrDoubleFree, ref.Offset)
	default:
		return 0, fmt.Errorf("%w: offset %d", ErrStaleRef, ref.Offset)
	}
}

// Free returns a block to the arena.
func (a *Arena) Free(ref Ref) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	hdrOff, err := a.validate(ref)
	if err != nil {
		return err
	}

	h := a.header(hdrOff)
	h.state = stateFree
	a.stats.BytesUsed.Add(^(h.size - 1))
	a.stats.LiveBlocks.Add(^uint64(0))
	a.stats.TotalFrees.Add(1)

	if oldTop := a.top; hdrOff+HeaderSize+int(h.size) == oldTop {
		a.top = hdrOff
		a.trimTail()
		a.releaseTail(oldTop)
		return nil
	}

	a.free.Add(uint64(hdrOff))
	a.stats.BytesFree.Add(h.size)
	return nil
}

// trimTail pops free blocks that end at the bump pointer.
// releaseTail gives the pages between top and oldTop back to the kernel.
// activate clears every block, so their contents do not matter.
func (a *Arena) releaseTail(oldTop int) {
	if a.region.mapping == nil || oldTop <= a.top {
		return
	}
	_ = a.region.mapping.AdviseRange(a.top, oldTop-a.top, mmap.AdviceDontNeed)
}

func (a *Arena) trimTail() {
	for !a.free.IsEmpty() {
		last := a.free.Maximum()
		h := a.header(int(last))
		if int(last)+HeaderSize+int(h.size) != a.top {
			return
		}
		a.free.Remove(last)
		a.stats.BytesFree.Add(^(h.size - 1))
		a.top = int(last)
	}
}

// Size returns the payload size of the live block named by ref.
func (a *Arena) Size(ref Ref) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, ErrClosed
	}
	hdrOff, err := a.validate(ref)
	if err != nil {
		return 0, err
	}
	return int(a.header(hdrOff).size), nil
}

// Acquire pins the current region and returns a View over it.
// The View must be released before the caller allocates or frees.
func (a *Arena) Acquire() (View, error) {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return View{}, ErrClosed
	}
	return View{a: a, base: a.region.data[:a.top:a.top]}, nil
}

// Stats returns the current arena statistics.
func (a *Arena) Stats() Stats {
	return Stats{
		BytesReserved: a.stats.BytesReserved.Load(),
		BytesUsed:     a.stats.BytesUsed.Load(),
		BytesFree:     a.stats.BytesFree.Load(),
		LiveBlocks:    a.stats.LiveBlocks.Load(),
		TotalAllocs:   a.stats.TotalAllocs.Load(),
		TotalFrees:    a.stats.TotalFrees.Load(),
		Growths:       a.stats.Growths.Load(),
		Relocations:   a.stats.Relocations.Load(),
	}
}

// Close unmaps the region. Every outstanding Ref becomes invalid and every
// later call fails with ErrClosed. Close is idempotent.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	size := len(a.region.data)
	a.region.close()
	a.region = region{}
	a.free.Clear()
	a.top = 0
	a.release(size)

	a.stats.BytesReserved.Store(0)
	a.stats.BytesUsed.Store(0)
	a.stats.BytesFree.Store(0)
	a.stats.LiveBlocks.Store(0)
	return nil
}

// Usage returns the share of the region held by live blocks, in percent.
func (a *Arena) Usage() float64 {
	stats := a.Stats()
	if stats.BytesReserved == 0 {
		return 0
	}
	return float64(stats.BytesUsed) / float64(stats.BytesReserved) * 100
}

func (a *Arena) String() string {
	stats := a.Stats()
	return fmt.Sprintf(
		"Arena{reserved: %.2f MB, used: %.2f MB, free: %.2f KB, blocks: %d, usage: %.1f%%, relocations: %d}",
		float64(stats.BytesReserved)/(1024*1024),
		float64(stats.BytesUsed)/(1024*1024),
		float64(stats.BytesFree)/1024,
		stats.LiveBlocks,
		a.Usage(),
		stats.Relocations,
	)
}
