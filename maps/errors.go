package maps

import "errors"

var (
	// ErrAllocationFailure is returned when the arena cannot provide the block
	// for a Map or PMap.
	ErrAllocationFailure = errors.New("maps: allocation failure")
	// ErrMapFull is returned when inserting into a full, non-wrapping Map.
	ErrMapFull = errors.New("maps: map full")
	// ErrEntryTooLarge is returned when key and value do not fit in one node.
	ErrEntryTooLarge = errors.New("maps: entry exceeds node size")
	// ErrInvalidArgument is returned for invalid sizes, counts and handles.
	ErrInvalidArgument = errors.New("maps: invalid argument")
	// ErrStaleHandle is returned when a handle is used after its block was freed.
	ErrStaleHandle = errors.New("maps: stale handle")
	// ErrCorrupt is returned when a map header does not carry the expected magic.
	ErrCorrupt = errors.New("maps: corrupt map header")
)
