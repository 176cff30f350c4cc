package mmap

import (
	"os"
	"sync/atomic"

	"github.com/hupe1980/shmmap/internal/mem"
)

var pageSize = os.Getpagesize()

// Mapping is an anonymous memory mapping.
// It owns the underlying byte slice and is responsible for unmapping it.
type Mapping struct {
	data   []byte
	size   int
	closed atomic.Bool
	// unmap is the platform-specific function to unmap the memory.
	unmap func([]byte) error
}

// MapAnon creates a zero-filled read-write mapping of size bytes.
func MapAnon(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	data, unmapFunc, err := osMapAnon(size)
	if err != nil {
		return nil, err
	}

	return &Mapping{
		data:  data,
		size:  size,
		unmap: unmapFunc,
	}, nil
}

// Close unmaps the memory. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil // Already closed
	}
	if m.unmap != nil && m.data != nil {
		return m.unmap(m.data)
	}
	return nil
}

// Bytes returns the underlying byte slice.
// Warning: The slice is valid only until Close() is called.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes.
func (m *Mapping) Size() int {
	return m.size
}

// Closed reports whether Close has been called.
func (m *Mapping) Closed() bool {
	return m.closed.Load()
}

// Advise applies a paging hint to the whole mapping.
func (m *Mapping) Advise(a Advice) error {
	return m.AdviseRange(0, m.size, a)
}

// AdviseRange applies a paging hint to n bytes starting at off. The range
// is shrunk to whole pages; a range inside one page is a no-op.
func (m *Mapping) AdviseRange(off, n int, a Advice) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.data == nil || off < 0 || n <= 0 || off+n > m.size {
		return nil
	}
	start := mem.AlignUp(off, pageSize)
	end := (off + n) &^ (pageSize - 1)
	if start >= end {
		return nil
	}
	return osAdvise(m.data[start:end], a)
}
