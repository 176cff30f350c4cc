package resource

import (
	"context"
	"io"
)

// RateLimitedWriter wraps an io.Writer with rate limiting.
type RateLimitedWriter struct {
	ctx context.Context
	w   io.Writer
	rc  *Controller
}

// NewRateLimitedWriter creates a new RateLimitedWriter.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, rc *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{
		ctx: ctx,
		w:   w,
		rc:  rc,
	}
}

// Write passes p on in chunks of at most one IO burst, waiting for the
// limiter before each chunk.
func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	chunk := w.rc.IOBurst()
	if chunk <= 0 {
		chunk = len(p)
	}
	written := 0
	for written < len(p) {
		n := min(chunk, len(p)-written)
		if err := w.rc.AcquireIO(w.ctx, n); err != nil {
			return written, err
		}
		m, err := w.w.Write(p[written : written+n])
		written += m
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
