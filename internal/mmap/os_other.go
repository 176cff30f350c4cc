//go:build !unix && !windows

package mmap

import "github.com/hupe1980/shmmap/internal/mem"

// Platforms without mmap fall back to an aligned heap buffer. It holds no Go
// pointers, so the collector never looks inside it.
func osMapAnon(size int) ([]byte, func([]byte) error, error) {
	return mem.AllocAligned(size), func([]byte) error { return nil }, nil
}

func osAdvise([]byte, Advice) error {
	return nil
}
