package shmmap

import (
	"errors"

	"github.com/hupe1980/shmmap/blobstore"
	"github.com/hupe1980/shmmap/internal/arena"
	"github.com/hupe1980/shmmap/internal/resource"
	"github.com/hupe1980/shmmap/maps"
	"github.com/hupe1980/shmmap/snapshot"
)

var (
	// ErrAllocationFailure is returned when a map or pmap cannot be carved
	// out of the arena. The arena's cause is wrapped.
	ErrAllocationFailure = maps.ErrAllocationFailure
	// ErrMapFull is returned when inserting into a full, non-wrapping map.
	ErrMapFull = maps.ErrMapFull
	// ErrEntryTooLarge is returned when key plus value exceed the node size.
	ErrEntryTooLarge = maps.ErrEntryTooLarge
	// ErrInvalidArgument is returned for invalid shapes and arguments.
	ErrInvalidArgument = maps.ErrInvalidArgument
	// ErrStaleHandle is returned when a handle outlived its map.
	ErrStaleHandle = maps.ErrStaleHandle
	// ErrMemoryLimitExceeded is the arena cause when WithMemoryLimit is hit.
	ErrMemoryLimitExceeded = resource.ErrMemoryLimitExceeded
	// ErrClosed is returned by every operation after Close.
	ErrClosed = arena.ErrClosed
	// ErrNotFound is returned when a snapshot does not exist.
	ErrNotFound = blobstore.ErrNotFound
	// ErrCorrupt is returned when a snapshot fails validation.
	ErrCorrupt = snapshot.ErrCorrupt
	// ErrChecksum is returned when a snapshot section fails its checksum.
	ErrChecksum = snapshot.ErrChecksum

	// ErrNoSnapshotStore is returned by Snapshot and LoadSnapshot when no
	// store was configured.
	ErrNoSnapshotStore = errors.New("shmmap: no snapshot store configured")
	// ErrUnsupportedSource is returned by Snapshot for sources other than
	// *maps.Map and *maps.PMap.
	ErrUnsupportedSource = errors.New("shmmap: unsupported snapshot source")
)
