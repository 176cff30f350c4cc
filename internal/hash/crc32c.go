package hash

import (
	"hash"
	"hash/crc32"
)

// castagnoli is computed once; crc32 picks the SSE4.2/ARM CRC path when available.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// NewCRC32C returns a streaming CRC32-Castagnoli hash.Hash32.
func NewCRC32C() hash.Hash32 {
	return crc32.New(castagnoli)
}
