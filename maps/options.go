package maps

// ValueCleanup releases resources a value refers to outside the arena.
// It is called exactly once for every entry that leaves a Map: on Delete,
// on wrap eviction, on Clear and on Del. The slices point into the arena
// and are only valid for the duration of the call.
type ValueCleanup interface {
	Cleanup(key, value []byte)
}

// CleanupFunc adapts a function to ValueCleanup.
type CleanupFunc func(key, value []byte)

// Cleanup implements ValueCleanup.
func (f CleanupFunc) Cleanup(key, value []byte) {
	f(key, value)
}

type options struct {
	cleanup  ValueCleanup
	bitShift int32
	statOps  uint32
}

// Option configures Map and PMap creation.
type Option func(*options)

// WithCleanup sets the per-entry teardown hook.
func WithCleanup(c ValueCleanup) Option {
	return func(o *options) {
		o.cleanup = c
	}
}

// WithBitShift records the fixed-point scale used by statistical values.
// It is stored in the PMap header and otherwise opaque to the allocator.
func WithBitShift(shift int) Option {
	return func(o *options) {
		o.bitShift = int32(shift)
	}
}

// WithStatOps records which statistical operators a PMap's values track.
// It is stored in the PMap header and otherwise opaque to the allocator.
func WithStatOps(ops uint32) Option {
	return func(o *options) {
		o.statOps = ops
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
