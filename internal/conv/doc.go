// Package conv provides safe integer conversion and size arithmetic utilities.
//
// These functions perform bounds checking to prevent integer overflow/underflow
// when converting between signed/unsigned and different bit-width integer types,
// and when multiplying out allocation sizes from caller-supplied counts.
//
// Use cases:
//   - Validating untrusted counts read back from snapshot headers
//   - Computing arena block sizes (entries x node size x contexts)
//
// For conversions that are provably safe by domain constraints (e.g., loop
// indices, bounded counters), use direct type casts instead to avoid overhead.
package conv
