package mmap

import "errors"

// Advice is a paging hint for a mapping.
type Advice int

const (
	// AdviceNormal resets any earlier hint.
	AdviceNormal Advice = iota
	// AdviceRandom disables read-ahead; arena regions are probed by hash.
	AdviceRandom
	// AdviceSequential favors read-ahead, e.g. while a region is copied.
	AdviceSequential
	// AdviceDontNeed lets the kernel drop the pages. Anonymous pages read
	// back as zeros.
	AdviceDontNeed
)

var (
	// ErrClosed is returned when attempting to access a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned when the requested mapping size is not positive.
	ErrInvalidSize = errors.New("mmap: invalid size")
)
