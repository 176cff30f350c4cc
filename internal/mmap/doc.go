// Package mmap provides anonymous read-write memory mappings.
//
// # Overview
//
// Mappings live outside the Go heap, so the garbage collector never scans
// or moves them. The arena uses one mapping as its backing region and
// replaces it with a larger one when it grows.
//
// # Usage
//
//	m, err := mmap.MapAnon(1 << 20)
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes()
//	m.Advise(mmap.AdviceRandom)
//	m.AdviseRange(off, n, mmap.AdviceDontNeed) // give back unused pages
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with MAP_ANON|MAP_PRIVATE, madvise(2) hints
//   - Windows: VirtualAlloc (advice is a no-op)
//
// # Thread Safety
//
// Close is idempotent and protected by an atomic flag. Callers must make
// sure nobody touches the slice returned by Bytes after Close returns.
package mmap
