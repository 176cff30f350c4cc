// Package arena provides a growable, relocatable memory region with a block
// allocator on top.
//
// The region lives off-heap (an anonymous mapping) and is replaced by a
// larger one when it runs out of space. Growth copies the used prefix into
// the new mapping and unmaps the old one, so the base address moves.
// Everything stored inside the region therefore refers to other blocks by
// Offset (distance from the base), never by address.
//
// # Features
//
//   - Zeroed, 8-byte aligned blocks with a 16-byte header
//   - Generation-stamped Refs: a Ref to a freed or reused block is rejected
//   - Freed blocks kept in an ordered roaring64 set and reused first-fit
//   - Optional MemoryAcquirer to cap region growth
//
// # Pinning
//
// Offsets are resolved through a View obtained from Acquire. While any View
// is held the region cannot move; growth, Relocate and Close wait for all
// Views to be released. Never allocate or free while holding a View from
// the same goroutine.
package arena
