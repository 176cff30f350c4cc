//go:build unix

package mmap

import (
	"golang.org/x/sys/unix"
)

func osMapAnon(size int) ([]byte, func([]byte) error, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return data, unix.Munmap, nil
}

var madvise = map[Advice]int{
	AdviceNormal:     unix.MADV_NORMAL,
	AdviceRandom:     unix.MADV_RANDOM,
	AdviceSequential: unix.MADV_SEQUENTIAL,
	AdviceDontNeed:   unix.MADV_DONTNEED,
}

func osAdvise(data []byte, a Advice) error {
	if len(data) == 0 {
		return nil
	}

	advice, ok := madvise[a]
	if !ok {
		advice = unix.MADV_NORMAL
	}

	// madvise wants page-aligned ranges; hints are advisory so EINVAL is ignored.
	if err := unix.Madvise(data, advice); err != nil && err != unix.EINVAL {
		return err
	}
	return nil
}
