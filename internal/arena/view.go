package arena

import (
	"fmt"
	"unsafe"
)

// View is a pinned window onto the region. Addresses obtained from a View
// are valid until Release; Offsets are valid until the block is freed.
type View struct {
	a    *Arena
	base []byte
}

// Release unpins the region. It must be called exactly once per Acquire.
func (v View) Release() {
	v.a.mu.RUnlock()
}

// Base returns the current base address of the region.
func (v View) Base() uintptr {
	if len(v.base) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&v.base[0])) //nolint:gosec // address is only compared, never dereferenced
}

// Len returns the number of bytes addressable through the View.
func (v View) Len() int {
	return len(v.base)
}

// Resolve turns an offset into an address inside the pinned region.
// It panics on offsets outside the used region: callers validate Refs first.
func (v View) Resolve(off Offset) unsafe.Pointer {
	if off == Null || uint64(off) >= uint64(len(v.base)) {
		panic(fmt.Sprintf("arena: offset %d outside region of %d bytes", off, len(v.base)))
	}
	return unsafe.Add(unsafe.Pointer(&v.base[0]), int(off)) //nolint:gosec // bounds checked above
}

// Bytes returns n bytes starting at off.
func (v View) Bytes(off Offset, n int) []byte {
	end := uint64(off) + uint64(n)
	if off == Null || n < 0 || end > uint64(len(v.base)) {
		panic(fmt.Sprintf("arena: range [%d, %d) outside region of %d bytes", off, end, len(v.base)))
	}
	return v.base[off:end:end]
}

// Store is the inverse of Resolve: it turns an address inside the pinned
// region back into an offset. It returns Null for foreign addresses.
func (v View) Store(p unsafe.Pointer) Offset {
	addr := uintptr(p)
	base := v.Base()
	if base == 0 || addr <= base || addr >= base+uintptr(len(v.base)) {
		return Null
	}
	return Offset(addr - base)
}

// Check reports whether ref names a live block.
func (v View) Check(ref Ref) error {
	_, err := v.a.validate(ref)
	return err
}
