package shmmap

import (
	"github.com/hupe1980/shmmap/maps"
	"github.com/hupe1980/shmmap/stat"
)

const statSize = stat.Size

// RecordStat adds v to the stat value stored under key in m, creating it
// on first use. m is usually the current context's map of a stat PMap.
func RecordStat(m *maps.Map, key []byte, v int64, bitShift int) error {
	return m.Update(key, statSize, func(buf []byte) {
		stat.Add(buf, v, bitShift)
	})
}

// LookupStat decodes the stat value stored under key in m.
func LookupStat(m *maps.Map, key []byte) (stat.Stat, bool, error) {
	buf, ok, err := m.Get(key)
	if err != nil || !ok {
		return stat.Stat{}, ok, err
	}
	if len(buf) < statSize {
		return stat.Stat{}, false, ErrInvalidArgument
	}
	return stat.Decode(buf), true, nil
}

// AggregateStats folds every context of a stat PMap into its aggregate map.
func AggregateStats(p *maps.PMap) (*maps.Map, error) {
	return p.Aggregate(stat.Merge)
}
