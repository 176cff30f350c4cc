// Package hash provides the hash functions used by maps and snapshots.
//
//   - Key: 64-bit xxHash of a map key, reduced to a bucket with the table mask.
//   - CRC32C: Castagnoli checksum framing each snapshot section.
package hash
