// Package resource implements the Controller for arena memory limits and
// snapshot governance.
//
// The Controller manages three resource types:
//
//   - Memory: Track and limit arena region bytes (non-blocking, fail-fast)
//   - Concurrency: Limit concurrent snapshot section encoders
//   - IO: Rate-limit snapshot uploads so exporting never starves the host
//
// # Memory Management
//
// Arena growth runs inside map/pmap creation, which must never block, so
// AcquireMemory returns ErrMemoryLimitExceeded immediately instead of
// waiting:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 64 << 20,
//	})
//
//	if err := rc.AcquireMemory(1 << 20); err != nil {
//	    // surfaced to the caller as an allocation failure
//	}
//	defer rc.ReleaseMemory(1 << 20)
//
// # IO Rate Limiting
//
// Token bucket limiter wrapped around snapshot writers:
//
//	w := resource.NewRateLimitedWriter(ctx, dst, rc)
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
// This allows optional resource limiting without nil checks everywhere.
package resource
