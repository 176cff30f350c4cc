// Package mem provides memory allocation utilities.
//
// # Aligned Allocation
//
// Provides cache-line aligned heap buffers for regions that must not
// contain Go pointers, and alignment arithmetic shared by the arena and
// the map layouts.
package mem
