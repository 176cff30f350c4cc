package cpu

import (
	"sync"
)

// NumPossible returns the number of possible CPUs. The value is computed
// once and cached for the lifetime of the process.
var NumPossible = sync.OnceValue(numPossible)

// ForEachPossible calls fn for every context index in [0, n).
// Iteration stops early when fn returns false.
func ForEachPossible(n int, fn func(idx int) bool) {
	for i := 0; i < n; i++ {
		if !fn(i) {
			return
		}
	}
}

// Fold maps a context index onto [0, n). Indices outside the range fold to 0.
func Fold(idx, n int) int {
	if idx < 0 || idx >= n {
		return 0
	}
	return idx
}
