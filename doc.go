// Package shmmap provides fixed-capacity hash maps that live inside a
// single relocatable memory arena, and per-CPU map sets (PMaps) that
// aggregate their per-context contents on demand.
//
// # Quick Start
//
//	rt, _ := shmmap.New()
//	defer rt.Close()
//
//	counts, _ := rt.NewPMap(1024, false, 64)
//	m, _ := counts.GetMap(cpuID) // out-of-range ids fold to context 0
//	_ = m.Update([]byte("read"), 8, func(v []byte) {
//	    binary.LittleEndian.PutUint64(v, binary.LittleEndian.Uint64(v)+1)
//	})
//
//	agg, _ := counts.Aggregate(func(dst, src []byte) {
//	    binary.LittleEndian.PutUint64(dst, binary.LittleEndian.Uint64(dst)+binary.LittleEndian.Uint64(src))
//	})
//
// # Arena
//
// Every map of a Runtime is carved from one arena region. The region may
// move when it grows; map handles hold offsets, never addresses, so they
// survive every move. A PMap is one arena block and is released with one
// Del.
//
// # Statistics
//
// Stat PMaps store stat accumulators (count, sum, min, max, average,
// variance) as values:
//
//	p, _ := rt.NewStatPMap(256, false, 32, 8, uint32(stat.OpAll))
//	m, _ := p.GetMap(cpuID)
//	_ = shmmap.RecordStat(m, []byte("latency"), 120, p.BitShift())
//	agg, _ := shmmap.AggregateStats(p)
//	s, _, _ := shmmap.LookupStat(agg, []byte("latency"))
//
// # Snapshots
//
// Snapshot copies a Map or PMap into a compressed, checksummed blob in a
// blobstore.Store (local, memory, S3 or MinIO):
//
//	store := blobstore.NewLocalStore("./snapshots")
//	rt, _ := shmmap.New(shmmap.WithSnapshotStore(store))
//	_ = rt.Snapshot(ctx, "counts-001", counts)
//	d, _ := rt.LoadSnapshot(ctx, "counts-001")
//	restored, _ := rt.RestorePMap(d)
package shmmap
