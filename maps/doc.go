// Package maps implements fixed-capacity hash maps and per-CPU map sets
// (PMaps) that live entirely inside an arena region.
//
// # Layout
//
// A Map is one arena block:
//
//	┌────────────┬──────────────────┬────────────────┬──────────────────────┐
//	│ mapHeader  │ buckets [mask+1] │ pool [maxnum]  │ nodes [maxnum]       │
//	│            │ uint32 node+1    │ free indices   │ nodeHeader + payload │
//	└────────────┴──────────────────┴────────────────┴──────────────────────┘
//
// Nodes are linked by index (hash chains and the insertion-order list), so
// nothing inside a Map depends on where the region currently sits.
//
// A PMap is one arena block holding a header, one Offset per context and
// numContexts+1 Maps (the last one is the aggregate). It is allocated in a
// single request: a region that grows between two requests would move
// the first sub-map before its offset was recorded.
//
// # Concurrency
//
// Maps have no internal locking. Each context writes only its own Map;
// the aggregate Map is written by Aggregate, which the caller serializes.
// Every operation pins the region for its duration, so concurrent growth
// of the arena never invalidates an address in use.
//
// # Capacity
//
// Insertion never allocates. When every node is in use a wrapping Map
// evicts its oldest entry; a non-wrapping Map returns ErrMapFull.
package maps
