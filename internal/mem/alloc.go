package mem

import (
	"unsafe"
)

// Alignment is the byte alignment of buffers returned by AllocAligned (one cache line).
const Alignment = 64

// AllocAligned allocates a zeroed byte slice of the given size with 64-byte alignment.
// The returned slice is guaranteed to start at a memory address divisible by 64.
//
// Note: This function allocates slightly more memory than requested to ensure alignment.
// The underlying array is kept alive by the returned slice.
func AllocAligned(size int) []byte {
	if size <= 0 {
		return nil
	}

	buf := make([]byte, size+Alignment)

	addr := uintptr(unsafe.Pointer(&buf[0])) //nolint:gosec // unsafe is required for memory alignment
	offset := (Alignment - (addr & (Alignment - 1))) & (Alignment - 1)

	return buf[offset : offset+uintptr(size) : offset+uintptr(size)]
}

// AlignUp rounds n up to the next multiple of align. align must be a power of two.
func AlignUp(n, align int) int {
	mask := align - 1
	return (n + mask) &^ mask
}

// IsAligned reports whether p is a multiple of align. align must be a power of two.
func IsAligned(p uintptr, align uintptr) bool {
	return p&(align-1) == 0
}
