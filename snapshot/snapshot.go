// Package snapshot exports the live entries of a Map or PMap as a
// compressed, checksummed blob and reads such blobs back.
//
// A snapshot detaches the data from the arena: it survives the runtime and
// can be restored into fresh maps with Dump.Restore or Dump.RestorePMap.
package snapshot

import (
	"context"
	"fmt"

	"github.com/hupe1980/shmmap/blobstore"
	"github.com/hupe1980/shmmap/internal/resource"
)

// Write encodes d and stores it under name. It returns the encoded size.
// Stores that support streaming receive the blob in IO-burst sized chunks,
// each written once the limiter allows it; others are charged for the whole
// blob before a single Put.
func Write(ctx context.Context, store blobstore.Store, name string, d *Dump, opts ...Option) (int, error) {
	data, err := Encode(ctx, d, opts...)
	if err != nil {
		return 0, err
	}
	o := applyOptions(opts)

	if c, ok := store.(blobstore.Creator); ok && o.resources != nil {
		w, err := c.Create(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("snapshot: create %s: %w", name, err)
		}
		if _, err := resource.NewRateLimitedWriter(ctx, w, o.resources).Write(data); err != nil {
			_ = w.Abort()
			return 0, fmt.Errorf("snapshot: write %s: %w", name, err)
		}
		if err := w.Close(); err != nil {
			return 0, fmt.Errorf("snapshot: write %s: %w", name, err)
		}
		return len(data), nil
	}

	if err := o.resources.AcquireIO(ctx, len(data)); err != nil {
		return 0, err
	}
	if err := store.Put(ctx, name, data); err != nil {
		return 0, fmt.Errorf("snapshot: write %s: %w", name, err)
	}
	return len(data), nil
}

// Read loads and decodes the snapshot stored under name.
func Read(ctx context.Context, store blobstore.Store, name string, opts ...Option) (*Dump, error) {
	o := applyOptions(opts)

	data, err := store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", name, err)
	}
	if err := o.resources.AcquireIO(ctx, len(data)); err != nil {
		return nil, err
	}
	return Decode(ctx, data, opts...)
}
