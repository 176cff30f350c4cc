// Package stat implements the fixed-size statistical value stored in
// aggregate maps: count, sum, min, max and a fixed-point running variance.
//
// Values are encoded little endian into Size bytes so they can live inside
// map nodes. Merge combines two partial values and is the MergeFunc used to
// fold per-context maps into the aggregate.
package stat

import (
	"encoding/binary"
	"math"
	"strings"
)

// Ops is a bitmask of the statistical operators a value is queried for.
type Ops uint32

const (
	OpCount Ops = 1 << iota
	OpSum
	OpMin
	OpMax
	OpAvg
	OpVariance

	OpAll = OpCount | OpSum | OpMin | OpMax | OpAvg | OpVariance
)

var opNames = []string{"count", "sum", "min", "max", "avg", "variance"}

// Has reports whether every operator in o is set.
func (ops Ops) Has(o Ops) bool {
	return ops&o == o
}

func (ops Ops) String() string {
	if ops == 0 {
		return "none"
	}
	var parts []string
	for i, name := range opNames {
		if ops&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Size is the encoded size of a Stat.
const Size = 6 * 8

const (
	offCount = 8 * iota
	offSum
	offMin
	offMax
	offAvg
	offM2
)

// Stat is a decoded statistical value. Avg and M2 are scaled by 2^bitShift.
type Stat struct {
	Count int64
	Sum   int64
	Min   int64
	Max   int64
	avgS  int64
	m2    int64
}

func get(buf []byte, off int) int64 {
	return int64(binary.LittleEndian.Uint64(buf[off:]))
}

func put(buf []byte, off int, v int64) {
	binary.LittleEndian.PutUint64(buf[off:], uint64(v))
}

// Decode reads a Stat from buf. buf must hold at least Size bytes.
func Decode(buf []byte) Stat {
	_ = buf[Size-1]
	return Stat{
		Count: get(buf, offCount),
		Sum:   get(buf, offSum),
		Min:   get(buf, offMin),
		Max:   get(buf, offMax),
		avgS:  get(buf, offAvg),
		m2:    get(buf, offM2),
	}
}

// Encode writes s into buf. buf must hold at least Size bytes.
func (s Stat) Encode(buf []byte) {
	_ = buf[Size-1]
	put(buf, offCount, s.Count)
	put(buf, offSum, s.Sum)
	put(buf, offMin, s.Min)
	put(buf, offMax, s.Max)
	put(buf, offAvg, s.avgS)
	put(buf, offM2, s.m2)
}

// Add records v into the value in buf. A zeroed buffer is an empty value.
func Add(buf []byte, v int64, bitShift int) {
	s := Decode(buf)
	s.add(v, bitShift)
	s.Encode(buf)
}

func (s *Stat) add(v int64, bitShift int) {
	if s.Count == 0 {
		s.Min, s.Max = v, v
	} else {
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
	}
	s.Count++
	s.Sum += v

	scaled := v << bitShift
	delta := scaled - s.avgS
	s.avgS += delta / s.Count
	s.m2 += delta * (scaled - s.avgS)
}

// Merge folds the value in src into dst. Both must hold at least Size bytes.
func Merge(dst, src []byte) {
	d, s := Decode(dst), Decode(src)
	d.merge(s)
	d.Encode(dst)
}

func (s *Stat) merge(o Stat) {
	switch {
	case o.Count == 0:
		return
	case s.Count == 0:
		*s = o
		return
	}

	n := s.Count + o.Count
	delta := o.avgS - s.avgS
	s.avgS += delta * o.Count / n
	s.m2 += o.m2 + delta*delta*s.Count/n*o.Count
	s.Count = n
	s.Sum += o.Sum
	s.Min = min(s.Min, o.Min)
	s.Max = max(s.Max, o.Max)
}

// Avg returns the integer mean, or 0 for an empty value.
func (s Stat) Avg() int64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / s.Count
}

// Variance returns the sample variance, unscaled by bitShift. It is -1 when
// fewer than two values were recorded.
func (s Stat) Variance(bitShift int) int64 {
	if s.Count < 2 {
		return -1
	}
	return (s.m2 / (s.Count - 1)) >> (2 * bitShift)
}

// Empty reports whether no value was recorded.
func (s Stat) Empty() bool {
	return s.Count == 0
}

// Value returns the result of a single operator. Unknown or combined
// operators return math.MinInt64.
func (s Stat) Value(op Ops, bitShift int) int64 {
	switch op {
	case OpCount:
		return s.Count
	case OpSum:
		return s.Sum
	case OpMin:
		return s.Min
	case OpMax:
		return s.Max
	case OpAvg:
		return s.Avg()
	case OpVariance:
		return s.Variance(bitShift)
	default:
		return math.MinInt64
	}
}
