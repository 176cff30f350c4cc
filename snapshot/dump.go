package snapshot

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/hupe1980/shmmap/maps"
)

// Kind says what a Dump was captured from.
type Kind uint8

const (
	// KindMap is a standalone Map: one section.
	KindMap Kind = 1
	// KindPMap is a PMap: one section per context plus the aggregate.
	KindPMap Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindMap:
		return "map"
	case KindPMap:
		return "pmap"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// AggregateContext is the Context of the section holding a PMap's aggregate map.
const AggregateContext = -1

// Entry is one key/value pair.
type Entry struct {
	Key   []byte
	Value []byte
}

// Section holds the entries of one map, oldest first.
type Section struct {
	Context int
	Entries []Entry
}

// Dump is a detached copy of a Map or PMap: its shape and live entries.
type Dump struct {
	Kind        Kind
	MaxEntries  int
	NodeSize    int
	Wrap        bool
	NumContexts int
	BitShift    int
	StatOps     uint32
	Sections    []Section
}

// Len returns the number of entries across all sections.
func (d *Dump) Len() int {
	n := 0
	for _, s := range d.Sections {
		n += len(s.Entries)
	}
	return n
}

// Section returns the section of context ctx, if present.
func (d *Dump) Section(ctx int) (Section, bool) {
	for _, s := range d.Sections {
		if s.Context == ctx {
			return s, true
		}
	}
	return Section{}, false
}

func captureEntries(m *maps.Map) ([]Entry, error) {
	var entries []Entry
	err := m.Range(func(key, value []byte) bool {
		entries = append(entries, Entry{Key: bytes.Clone(key), Value: bytes.Clone(value)})
		return true
	})
	return entries, err
}

// Capture copies a standalone Map.
func Capture(m *maps.Map) (*Dump, error) {
	info, err := m.Info()
	if err != nil {
		return nil, err
	}
	entries, err := captureEntries(m)
	if err != nil {
		return nil, err
	}
	return &Dump{
		Kind:        KindMap,
		MaxEntries:  info.Cap,
		NodeSize:    info.NodeSize,
		Wrap:        info.Wrap,
		NumContexts: 1,
		Sections:    []Section{{Context: 0, Entries: entries}},
	}, nil
}

// CapturePMap copies every per-context map and the aggregate of p.
// Writers should be quiescent; each map is copied under its own pin.
func CapturePMap(p *maps.PMap) (*Dump, error) {
	n := p.NumContexts()
	if n == 0 {
		return nil, fmt.Errorf("snapshot: capture: %w", maps.ErrStaleHandle)
	}

	d := &Dump{
		Kind:        KindPMap,
		NumContexts: n,
		BitShift:    p.BitShift(),
		StatOps:     p.StatOps(),
		Sections:    make([]Section, 0, n+1),
	}

	for i := 0; i <= n; i++ {
		ctx := i
		var (
			m   *maps.Map
			err error
		)
		if i == n {
			ctx = AggregateContext
			m, err = p.GetAgg()
		} else {
			m, err = p.GetMap(i)
		}
		if err != nil {
			return nil, err
		}
		if i == 0 {
			info, err := m.Info()
			if err != nil {
				return nil, err
			}
			d.MaxEntries, d.NodeSize, d.Wrap = info.Cap, info.NodeSize, info.Wrap
		}
		entries, err := captureEntries(m)
		if err != nil {
			return nil, err
		}
		d.Sections = append(d.Sections, Section{Context: ctx, Entries: entries})
	}
	return d, nil
}

func fill(m *maps.Map, entries []Entry) error {
	for _, e := range entries {
		if err := m.Set(e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// Restore builds a new standalone Map from a KindMap dump.
func (d *Dump) Restore(alloc maps.Allocator, opts ...maps.Option) (*maps.Map, error) {
	if d.Kind != KindMap {
		return nil, fmt.Errorf("%w: %s dump restored as map", ErrKindMismatch, d.Kind)
	}
	m, err := maps.New(alloc, d.MaxEntries, d.Wrap, d.NodeSize, 0, opts...)
	if err != nil {
		return nil, err
	}
	for _, s := range d.Sections {
		if err := fill(m, s.Entries); err != nil {
			return nil, errors.Join(err, m.Del())
		}
	}
	return m, nil
}

// RestorePMap builds a new PMap from a KindPMap dump. Sections of contexts
// beyond the dump's context count fold to context 0 like any other access.
func (d *Dump) RestorePMap(alloc maps.Allocator, opts ...maps.Option) (*maps.PMap, error) {
	if d.Kind != KindPMap {
		return nil, fmt.Errorf("%w: %s dump restored as pmap", ErrKindMismatch, d.Kind)
	}
	opts = append([]maps.Option{maps.WithBitShift(d.BitShift), maps.WithStatOps(d.StatOps)}, opts...)
	p, err := maps.NewPMap(alloc, d.MaxEntries, d.Wrap, d.NodeSize, d.NumContexts, opts...)
	if err != nil {
		return nil, err
	}

	for _, s := range d.Sections {
		var m *maps.Map
		if s.Context == AggregateContext {
			m, err = p.GetAgg()
		} else {
			m, err = p.GetMap(s.Context)
		}
		if err == nil {
			err = fill(m, s.Entries)
		}
		if err != nil {
			return nil, errors.Join(err, p.Del())
		}
	}
	return p, nil
}
