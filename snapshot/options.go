package snapshot

import (
	"runtime"

	"github.com/hupe1980/shmmap/internal/resource"
)

type options struct {
	codec     Codec
	workers   int
	resources *resource.Controller
}

// Option configures snapshot encoding and IO.
type Option func(*options)

// WithCodec sets the section compression codec. Default: CodecZstd.
func WithCodec(c Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithWorkers bounds how many sections are encoded or decoded at once.
// Default: GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithResources throttles snapshot work through a resource controller:
// its worker slots bound section encoding and its IO limiter paces writes
// and reads.
func WithResources(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

func applyOptions(opts []Option) options {
	o := options{
		codec:   CodecZstd,
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
