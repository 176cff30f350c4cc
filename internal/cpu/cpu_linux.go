//go:build linux

package cpu

import (
	"log/slog"
	"runtime"

	"github.com/cilium/ebpf"
)

func numPossible() (n int) {
	defer func() {
		if r := recover(); r != nil {
			n = runtime.NumCPU()
			slog.Error("unable to read possible CPUs, using online count",
				"error", r,
				"cpus", n,
			)
		}
	}()
	return ebpf.MustPossibleCPU()
}
