package diskplot

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/fse"

	"github.com/tamirms/diskplot/internal/bits"
	"github.com/tamirms/diskplot/internal/disk"
	"github.com/tamirms/diskplot/internal/pos"
	"github.com/tamirms/diskplot/internal/sort"
)

// Phase 3, compression: convert each table's (pos, offset) back-references
// into line points over the actual values of the table below, re-sort by
// line point, and write fixed-size parks into the final file. The index of
// each entry in the line-point stream becomes its address in the table
// above, carried forward through a sort keyed on the old sort key.

// ringCap is the look-back window over left-table values during the join.
// Matches only pair entries from adjacent y buckets, so references reach
// back a few hundred entries; the cap is generous headroom, not a tuning
// knob.
const ringCap = 8192

// leftSource streams a table's values in compacted index order.
type leftSource interface {
	next() (uint64, error)
	close() error
}

// filteredLeft reads table-1 x values through the phase-2 FilteredDisk.
type filteredLeft struct {
	fd        *disk.FilteredDisk
	entrySize uint64
	k         uint32
	idx       uint64
}

func (f *filteredLeft) next() (uint64, error) {
	raw, err := f.fd.Read(f.idx*f.entrySize, f.entrySize)
	if err != nil {
		return 0, err
	}
	f.idx++
	return bits.SliceUint64Full(raw, f.k+pos.ExtraBits, f.k), nil
}

func (f *filteredLeft) close() error { return f.fd.FreeMemory() }

// managerLeft reads (sortKey | index) entries from the previous iteration's
// index manager; sorted by sortKey, the index column is the value stream.
type managerLeft struct {
	sm        *sort.Manager
	entrySize uint64
	k         uint32
	idx       uint64
}

func (m *managerLeft) next() (uint64, error) {
	raw, err := m.sm.ReadEntry(m.idx * m.entrySize)
	if err != nil {
		return 0, err
	}
	m.idx++
	return bits.SliceUint64Full(raw, m.k, m.k+1), nil
}

func (m *managerLeft) close() error { return m.sm.Close() }

// phase3Results carries the table-7 stream and the file pointers into
// phase 4.
type phase3Results struct {
	table7SM     *sort.Manager // f7(k) | index(k+1), sorted by f7
	finalEntries uint64
}

func (r *plotRun) runPhase3(ctx context.Context, res2 *phase2Results) (*phase3Results, error) {
	k := uint32(r.k)
	var left leftSource = &filteredLeft{
		fd:        res2.table1,
		entrySize: uint64(pos.MaxEntrySize(r.k, 1, true)),
		k:         k,
	}
	res2.table1 = nil

	lpEntrySize := uint64(pos.LinePointEntrySize(r.k))
	idxEntrySize := uint64(pos.IndexEntrySize(r.k))
	scratch := &fse.Scratch{}
	var ring [ringCap]uint64

	var table7SM *sort.Manager
	for t := uint8(1); t <= 6; t++ {
		if err := ctx.Err(); err != nil {
			left.close()
			return nil, err
		}
		right := res2.tables[t+1]
		res2.tables[t+1] = nil
		rCount := res2.newSizes[t+1]
		rEntrySize := uint64(right.EntrySize())
		offBits := uint32(pos.OffsetSize)
		if t+1 == 7 {
			offBits = k - 1
		}

		// Join pass: resolve each right entry's pair of left values and
		// emit (linePoint | sortKey) into the line-point sort.
		lpSM, err := r.newSortManager(uint16(lpEntrySize), sortName("p3.lp", t+1), 0, sort.StrategyQuicksort)
		if err != nil {
			left.close()
			right.Close()
			return nil, err
		}
		var filled uint64
		var w bits.Writer
		for i := uint64(0); i < rCount; i++ {
			position := i * rEntrySize
			if right.CloseToNewBucket(position) {
				// Nothing borrowed survives past this point (the join
				// copies values into the ring), so the transition is just
				// an explicit advance; it also releases the bucket's file
				// before the boundary read.
				if err := right.TriggerNewBucket(position); err != nil {
					return nil, r.phase3Fail(err, left, right, lpSM)
				}
			}
			raw, err := right.ReadEntry(position)
			if err != nil {
				return nil, r.phase3Fail(err, left, right, lpSM)
			}
			key := bits.SliceUint64Full(raw, 0, k)
			p := bits.SliceUint64Full(raw, k, k)
			o := bits.SliceUint64Full(raw, 2*k, offBits)
			if o >= ringCap-1 {
				// cannot happen for window-local matches
				return nil, r.phase3Fail(fmt.Errorf("back-reference spread %d outruns join window", o), left, right, lpSM)
			}
			for filled <= p+o {
				v, err := left.next()
				if err != nil {
					return nil, r.phase3Fail(err, left, right, lpSM)
				}
				ring[filled%ringCap] = v
				filled++
			}
			lp := pos.SquareToLinePoint(ring[p%ringCap], ring[(p+o)%ringCap])
			w.Reset()
			w.AppendU128(lp, 2*k+2)
			w.AppendUint64(key, k)
			if err := lpSM.Add(w.PadToBytes(int(lpEntrySize))); err != nil {
				return nil, r.phase3Fail(err, left, right, lpSM)
			}
		}
		if err := left.close(); err != nil {
			right.Close()
			lpSM.Close()
			return nil, err
		}
		if err := right.Close(); err != nil {
			lpSM.Close()
			return nil, err
		}
		if err := lpSM.FlushCache(); err != nil {
			lpSM.Close()
			return nil, err
		}

		// Park pass: write table t's parks in line-point order and record
		// each entry's park-stream index for the next iteration.
		idxStrategy := sort.StrategyQuicksort
		if t == 6 {
			idxStrategy = sort.StrategyQuicksortLast // keyed by f7, uniform
		}
		idxSM, err := r.newSortManager(uint16(idxEntrySize), sortName("p3.idx", t+1), 0, idxStrategy)
		if err != nil {
			lpSM.Close()
			return nil, err
		}

		parkSize := uint64(pos.ParkSize(r.k, t))
		tableStart := r.pointers[t-1]
		parkBuf := make([]byte, parkSize)
		lps := make([]bits.U128, 0, pos.EntriesPerPark)
		parkIdx := uint64(0)
		flushPark := func() error {
			if len(lps) == 0 {
				return nil
			}
			clear(parkBuf)
			if err := encodePark(parkBuf, r.k, t, lps, scratch); err != nil {
				return err
			}
			r.writer.WriteAt(tableStart+parkIdx*parkSize, parkBuf)
			parkIdx++
			lps = lps[:0]
			return nil
		}
		for j := uint64(0); j < rCount; j++ {
			raw, err := lpSM.ReadEntry(j * lpEntrySize)
			if err != nil {
				return nil, r.phase3Fail(err, nil, lpSM, idxSM)
			}
			lp := bits.SliceU128(raw, 0, 2*k+2)
			key := bits.SliceUint64Full(raw, 2*k+2, k)
			lps = append(lps, lp)
			if len(lps) == pos.EntriesPerPark {
				if err := flushPark(); err != nil {
					return nil, r.phase3Fail(err, nil, lpSM, idxSM)
				}
			}
			w.Reset()
			w.AppendUint64(key, k)
			w.AppendUint64(j, k+1)
			if err := idxSM.Add(w.PadToBytes(int(idxEntrySize))); err != nil {
				return nil, r.phase3Fail(err, nil, lpSM, idxSM)
			}
		}
		if err := flushPark(); err != nil {
			return nil, r.phase3Fail(err, nil, lpSM, idxSM)
		}
		if err := lpSM.Close(); err != nil {
			idxSM.Close()
			return nil, err
		}
		if err := idxSM.FlushCache(); err != nil {
			idxSM.Close()
			return nil, err
		}
		r.pointers[t] = tableStart + parkIdx*parkSize

		if t == 6 {
			table7SM = idxSM
		} else {
			left = &managerLeft{sm: idxSM, entrySize: idxEntrySize, k: k}
		}
		r.cfg.progress(3, int(t), 6)
	}

	return &phase3Results{
		table7SM:     table7SM,
		finalEntries: res2.newSizes[7],
	}, nil
}

// phase3Fail closes whatever the failing path still holds.
func (r *plotRun) phase3Fail(err error, left leftSource, closers ...interface{ Close() error }) error {
	if left != nil {
		left.close()
	}
	for _, c := range closers {
		if c != nil {
			c.Close()
		}
	}
	return err
}
