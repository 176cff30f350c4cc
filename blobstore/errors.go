package blobstore

import "errors"

// ErrClosed is returned when writing to a blob that was closed or aborted.
var ErrClosed = errors.New("blobstore: blob closed")
