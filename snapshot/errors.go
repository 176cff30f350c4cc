package snapshot

import "errors"

var (
	// ErrCorrupt is returned when a snapshot cannot be parsed.
	ErrCorrupt = errors.New("snapshot: corrupt")
	// ErrChecksum is returned when a section fails its CRC32C check.
	ErrChecksum = errors.New("snapshot: checksum mismatch")
	// ErrUnsupportedVersion is returned for snapshots written by a newer format.
	ErrUnsupportedVersion = errors.New("snapshot: unsupported version")
	// ErrUnknownCodec is returned for an unknown compression codec.
	ErrUnknownCodec = errors.New("snapshot: unknown codec")
	// ErrKindMismatch is returned when restoring a dump into the wrong kind of map.
	ErrKindMismatch = errors.New("snapshot: kind mismatch")
)
