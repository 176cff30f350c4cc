// Package cpu answers how many execution contexts the runtime must provide
// per-CPU storage for, and enumerates them.
//
// The count is the kernel's possible-CPU count (including offline and
// hot-pluggable CPUs), not the online count, so a map sized from it never
// sees an index it did not anticipate unless the caller overrides it.
package cpu
