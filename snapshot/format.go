package snapshot

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/shmmap/internal/conv"
	"github.com/hupe1980/shmmap/internal/hash"
)

// File layout, little endian:
//
//	header  magic[4] version u8 codec u8 kind u8 flags u8
//	        maxEntries u32 nodeSize u32 numContexts u32
//	        bitShift i32 statOps u32 sections u32
//	section rawLen u32 storedLen u32 crc32c u32 data[storedLen]
//
// storedLen 0 means data is rawLen uncompressed bytes. The checksum covers
// the uncompressed payload:
//
//	payload context i32 count u32 { keyLen u16 valLen u16 key val }*
const (
	magic         = "SHMS"
	formatVersion = 1
	headerSize    = 32
	frameSize     = 12

	flagWrap = 1 << 0
)

type frame struct {
	raw    []byte // uncompressed payload
	stored []byte // compressed payload, nil when stored raw
	crc    uint32
}

func encodeSection(s Section) ([]byte, error) {
	size := 8
	for _, e := range s.Entries {
		if len(e.Key) > math.MaxUint16 || len(e.Value) > math.MaxUint16 {
			return nil, fmt.Errorf("snapshot: entry of %d+%d bytes too large", len(e.Key), len(e.Value))
		}
		size += 4 + len(e.Key) + len(e.Value)
	}
	count, err := conv.IntToUint32(len(s.Entries))
	if err != nil {
		return nil, err
	}
	if s.Context < math.MinInt32 || s.Context > math.MaxInt32 {
		return nil, fmt.Errorf("snapshot: context %d out of range", s.Context)
	}

	buf := make([]byte, 8, size)
	binary.LittleEndian.PutUint32(buf[0:], uint32(int32(s.Context)))
	binary.LittleEndian.PutUint32(buf[4:], count)
	for _, e := range s.Entries {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Key)))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Value)))
		buf = append(buf, e.Key...)
		buf = append(buf, e.Value...)
	}
	return buf, nil
}

func decodeSection(p []byte) (Section, error) {
	if len(p) < 8 {
		return Section{}, fmt.Errorf("%w: section of %d bytes", ErrCorrupt, len(p))
	}
	s := Section{Context: int(int32(binary.LittleEndian.Uint32(p[0:])))}
	count := binary.LittleEndian.Uint32(p[4:])
	p = p[8:]

	// Each entry takes at least 4 bytes.
	if uint64(count)*4 > uint64(len(p)) {
		return Section{}, fmt.Errorf("%w: %d entries in %d bytes", ErrCorrupt, count, len(p))
	}
	s.Entries = make([]Entry, 0, count)
	for range count {
		if len(p) < 4 {
			return Section{}, fmt.Errorf("%w: truncated entry", ErrCorrupt)
		}
		kl := int(binary.LittleEndian.Uint16(p[0:]))
		vl := int(binary.LittleEndian.Uint16(p[2:]))
		p = p[4:]
		if len(p) < kl+vl {
			return Section{}, fmt.Errorf("%w: truncated entry", ErrCorrupt)
		}
		s.Entries = append(s.Entries, Entry{
			Key:   p[:kl:kl],
			Value: p[kl : kl+vl : kl+vl],
		})
		p = p[kl+vl:]
	}
	if len(p) != 0 {
		return Section{}, fmt.Errorf("%w: %d trailing bytes in section", ErrCorrupt, len(p))
	}
	return s, nil
}

func encodeHeader(d *Dump, c Codec, sections int) ([]byte, error) {
	fields := []int{d.MaxEntries, d.NodeSize, d.NumContexts, sections}
	vals := make([]uint32, len(fields))
	for i, f := range fields {
		v, err := conv.IntToUint32(f)
		if err != nil {
			return nil, fmt.Errorf("snapshot: header field %d: %w", i, err)
		}
		vals[i] = v
	}
	if d.BitShift < math.MinInt32 || d.BitShift > math.MaxInt32 {
		return nil, fmt.Errorf("snapshot: bit shift %d out of range", d.BitShift)
	}

	h := make([]byte, headerSize)
	copy(h, magic)
	h[4] = formatVersion
	h[5] = byte(c)
	h[6] = byte(d.Kind)
	if d.Wrap {
		h[7] |= flagWrap
	}
	binary.LittleEndian.PutUint32(h[8:], vals[0])
	binary.LittleEndian.PutUint32(h[12:], vals[1])
	binary.LittleEndian.PutUint32(h[16:], vals[2])
	binary.LittleEndian.PutUint32(h[20:], uint32(int32(d.BitShift)))
	binary.LittleEndian.PutUint32(h[24:], d.StatOps)
	binary.LittleEndian.PutUint32(h[28:], vals[3])
	return h, nil
}

// Encode serializes d. Sections are encoded and compressed concurrently.
func Encode(ctx context.Context, d *Dump, opts ...Option) ([]byte, error) {
	o := applyOptions(opts)
	if !o.codec.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, o.codec)
	}

	header, err := encodeHeader(d, o.codec, len(d.Sections))
	if err != nil {
		return nil, err
	}

	frames := make([]frame, len(d.Sections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, s := range d.Sections {
		g.Go(func() error {
			if err := o.resources.AcquireWorker(gctx); err != nil {
				return err
			}
			defer o.resources.ReleaseWorker()

			raw, err := encodeSection(s)
			if err != nil {
				return err
			}
			stored, err := compress(raw, o.codec)
			if err != nil {
				return err
			}
			frames[i] = frame{raw: raw, stored: stored, crc: hash.CRC32C(raw)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	size := len(header)
	for _, f := range frames {
		size += frameSize + len(f.payload())
	}
	out := make([]byte, 0, size)
	out = append(out, header...)
	for _, f := range frames {
		rawLen, err := conv.IntToUint32(len(f.raw))
		if err != nil {
			return nil, err
		}
		out = binary.LittleEndian.AppendUint32(out, rawLen)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(f.stored)))
		out = binary.LittleEndian.AppendUint32(out, f.crc)
		out = append(out, f.payload()...)
	}
	return out, nil
}

func (f frame) payload() []byte {
	if f.stored != nil {
		return f.stored
	}
	return f.raw
}

// Decode parses a snapshot produced by Encode. Checksums are verified;
// sections are decompressed concurrently. Entries of uncompressed sections
// alias data.
func Decode(ctx context.Context, data []byte, opts ...Option) (*Dump, error) {
	o := applyOptions(opts)

	if len(data) < headerSize || string(data[:4]) != magic {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	if data[4] != formatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[4])
	}
	codec := Codec(data[5])
	if !codec.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, codec)
	}

	d := &Dump{
		Kind:        Kind(data[6]),
		Wrap:        data[7]&flagWrap != 0,
		MaxEntries:  int(binary.LittleEndian.Uint32(data[8:])),
		NodeSize:    int(binary.LittleEndian.Uint32(data[12:])),
		NumContexts: int(binary.LittleEndian.Uint32(data[16:])),
		BitShift:    int(int32(binary.LittleEndian.Uint32(data[20:]))),
		StatOps:     binary.LittleEndian.Uint32(data[24:]),
	}
	if d.Kind != KindMap && d.Kind != KindPMap {
		return nil, fmt.Errorf("%w: kind %d", ErrCorrupt, d.Kind)
	}
	count := binary.LittleEndian.Uint32(data[28:])
	rest := data[headerSize:]
	if uint64(count)*frameSize > uint64(len(rest)) {
		return nil, fmt.Errorf("%w: %d sections in %d bytes", ErrCorrupt, count, len(rest))
	}

	type rawFrame struct {
		rawLen int
		stored bool
		crc    uint32
		data   []byte
	}
	raws := make([]rawFrame, count)
	for i := range raws {
		if len(rest) < frameSize {
			return nil, fmt.Errorf("%w: truncated section %d", ErrCorrupt, i)
		}
		rawLen := binary.LittleEndian.Uint32(rest[0:])
		storedLen := binary.LittleEndian.Uint32(rest[4:])
		crc := binary.LittleEndian.Uint32(rest[8:])
		n := rawLen
		if storedLen != 0 {
			n = storedLen
		}
		rest = rest[frameSize:]
		if uint64(n) > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: truncated section %d", ErrCorrupt, i)
		}
		raws[i] = rawFrame{
			rawLen: int(rawLen),
			stored: storedLen != 0,
			crc:    crc,
			data:   rest[:n],
		}
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(rest))
	}

	d.Sections = make([]Section, count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, f := range raws {
		g.Go(func() error {
			if err := o.resources.AcquireWorker(gctx); err != nil {
				return err
			}
			defer o.resources.ReleaseWorker()

			payload := f.data
			if f.stored {
				var err error
				if payload, err = decompress(f.data, f.rawLen, codec); err != nil {
					return fmt.Errorf("section %d: %w", i, err)
				}
			}
			if got := hash.CRC32C(payload); got != f.crc {
				return fmt.Errorf("%w: section %d crc %08x, want %08x", ErrChecksum, i, got, f.crc)
			}
			s, err := decodeSection(payload)
			if err != nil {
				return fmt.Errorf("section %d: %w", i, err)
			}
			d.Sections[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}
