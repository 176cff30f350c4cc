package hash

import "github.com/cespare/xxhash/v2"

// Key returns the 64-bit hash of a map key.
func Key(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// Bucket reduces a key hash to a bucket index. mask is the bucket count minus one.
func Bucket(h uint64, mask uint32) uint32 {
	// Fold the high half in so masks smaller than 32 bits still see every bit.
	return uint32(h^(h>>32)) & mask
}
