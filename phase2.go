package diskplot

import (
	"context"

	"github.com/tamirms/diskplot/internal/bitfield"
	"github.com/tamirms/diskplot/internal/bits"
	"github.com/tamirms/diskplot/internal/disk"
	"github.com/tamirms/diskplot/internal/pos"
	"github.com/tamirms/diskplot/internal/sort"
)

// Phase 2, back-propagation: walk tables 7 down to 2 and drop every entry
// no surviving entry of the table above references. Each table takes two
// sequential passes:
//
//   - pass A marks the previous table's bitfield at pos and pos+offset of
//     every live entry;
//   - pass B rewrites live entries as sortKey | rank(pos) | remapped
//     offset into a sort manager keyed by pos, ready for the phase-3 join.
//
// Only two bitfields are alive at any time. Table 1 has no references to
// remap and is not rewritten; it is exposed through a FilteredDisk over its
// bitfield instead.

// phase2Results hands the compacted tables to phase 3.
type phase2Results struct {
	newSizes [8]uint64
	// tables[2..7]: rewritten entries sorted by pos into the table below
	tables [8]*sort.Manager
	// table1: phase-1 entries with dead ones filtered out
	table1 *disk.FilteredDisk
}

// close unwinds whatever has been built so far.
func (p *phase2Results) close() {
	for _, sm := range p.tables {
		if sm != nil {
			sm.Close()
		}
	}
	if p.table1 != nil {
		p.table1.FreeMemory()
	}
}

func (r *plotRun) runPhase2(ctx context.Context, tableSizes [8]uint64) (*phase2Results, error) {
	k := uint32(r.k)
	res := &phase2Results{}
	var curBF *bitfield.Bitfield // filter for the table being scanned; nil for table 7

	for t := uint8(7); t >= 2; t-- {
		if err := ctx.Err(); err != nil {
			res.close()
			return nil, err
		}
		entrySize := uint64(pos.MaxEntrySize(r.k, t, true))
		count := tableSizes[t]

		var posOff, offOff, offBits uint32
		if t == 7 {
			posOff, offOff, offBits = k, 2*k, k-1
		} else {
			posOff, offOff, offBits = k+pos.ExtraBits, k+pos.ExtraBits+k, pos.OffsetSize
		}

		// Pass A: mark survivors of the table below.
		nextBF := bitfield.New(tableSizes[t-1])
		scan := disk.NewBuffered(r.tableFiles[t], count*entrySize)
		for i := uint64(0); i < count; i++ {
			raw, err := scan.Read(i*entrySize, entrySize)
			if err != nil {
				res.close()
				return nil, err
			}
			if curBF != nil && !curBF.Get(i) {
				continue
			}
			p := bits.SliceUint64Full(raw, posOff, k)
			o := bits.SliceUint64Full(raw, offOff, offBits)
			nextBF.Set(p)
			nextBF.Set(p + o)
		}
		nextBF.BuildIndex()

		// Pass B: rewrite live entries with remapped references, keyed by
		// the remapped pos.
		var newEntrySize uint16
		var keyBits uint32
		if t == 7 {
			newEntrySize = uint16(pos.MaxEntrySize(r.k, 7, true))
			keyBits = k // the f7 value doubles as the sort key
		} else {
			newEntrySize = uint16(pos.KeyPosOffsetSize(r.k))
			keyBits = k
		}
		sm, err := r.newSortManager(newEntrySize, sortName("p2", t), k, sort.StrategyQuicksort)
		if err != nil {
			res.close()
			return nil, err
		}
		rewrite := disk.NewBuffered(r.tableFiles[t], count*entrySize)
		var w bits.Writer
		sortKey := uint64(0)
		for i := uint64(0); i < count; i++ {
			raw, err := rewrite.Read(i*entrySize, entrySize)
			if err != nil {
				sm.Close()
				res.close()
				return nil, err
			}
			if curBF != nil && !curBF.Get(i) {
				continue
			}
			p := bits.SliceUint64Full(raw, posOff, k)
			o := bits.SliceUint64Full(raw, offOff, offBits)
			newPos := nextBF.Rank(p)
			newOff := nextBF.Rank(p+o) - newPos

			key := sortKey
			if t == 7 {
				key = bits.SliceUint64Full(raw, 0, k)
			}
			w.Reset()
			w.AppendUint64(key, keyBits)
			w.AppendUint64(newPos, k)
			if t == 7 {
				w.AppendUint64(newOff, k-1)
			} else {
				w.AppendUint64(newOff, pos.OffsetSize)
			}
			if err := sm.Add(w.PadToBytes(int(newEntrySize))); err != nil {
				sm.Close()
				res.close()
				return nil, err
			}
			sortKey++
		}
		if err := sm.FlushCache(); err != nil {
			sm.Close()
			res.close()
			return nil, err
		}
		res.tables[t] = sm
		res.newSizes[t] = sortKey

		if curBF != nil {
			curBF.FreeMemory()
		}
		curBF = nextBF
		r.cfg.progress(2, int(8-t), 7)
	}

	// Table 1 keeps its phase-1 bytes; the bitfield view compacts it.
	entrySize1 := uint64(pos.MaxEntrySize(r.k, 1, true))
	res.newSizes[1] = curBF.Count()
	res.table1 = disk.NewFiltered(
		disk.NewBuffered(r.tableFiles[1], tableSizes[1]*entrySize1), curBF, entrySize1)
	r.cfg.progress(2, 7, 7)
	return res, nil
}
