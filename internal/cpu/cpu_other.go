//go:build !linux

package cpu

import "runtime"

func numPossible() int {
	return runtime.NumCPU()
}
