package diskplot

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/fse"

	diskerrors "github.com/tamirms/diskplot/errors"
	"github.com/tamirms/diskplot/internal/bits"
	"github.com/tamirms/diskplot/internal/pos"
)

// Phase 4, checkpoint tables: stream table 7 in f7 order, writing the
// packed park-stream positions as the final table 7, a C1 checkpoint every
// Checkpoint1Interval f7 values, a C2 checkpoint every Checkpoint2Interval
// C1 values, and C3 parks holding the encoded f7 deltas between
// consecutive C1 checkpoints. f7 is dense, so the deltas are mostly 0 and 1;
// each C3 park holds them entropy-coded in pos.C3Size(k) bytes, a budget of
// pos.C3BitsPerEntry bits per delta.
//
// Returns the final file size.
func (r *plotRun) runPhase4(ctx context.Context, res3 *phase3Results) (uint64, error) {
	k := uint32(r.k)
	n := res3.finalEntries
	sm := res3.table7SM
	defer sm.Close()

	entrySize := uint64(sm.EntrySize())
	t7EntrySize := uint64(pos.Table7EntrySize(r.k))
	checkpointSize := uint64(pos.CheckpointSize(r.k))
	c3Size := uint64(pos.C3Size(r.k))

	numC1 := (n + pos.Checkpoint1Interval - 1) / pos.Checkpoint1Interval
	numC2 := (numC1 + pos.Checkpoint2Interval - 1) / pos.Checkpoint2Interval

	// Region layout is fully determined up front: table 7, then C1 and C2
	// (each with a terminating zero entry), then the C3 parks.
	table7Start := r.pointers[6]
	r.pointers[7] = table7Start + n*t7EntrySize
	r.pointers[8] = r.pointers[7] + (numC1+1)*checkpointSize
	r.pointers[9] = r.pointers[8] + (numC2+1)*checkpointSize
	finalSize := r.pointers[9] + numC1*c3Size

	c1 := make([]uint64, 0, numC1)
	deltas := make([]byte, 0, pos.Checkpoint1Interval)
	c3Buf := make([]byte, c3Size)
	scratch := &fse.Scratch{}
	var w bits.Writer

	progressEvery := n/maxPhase4ProgressUpdates + 1
	var prevF7 uint64
	c3Idx := uint64(0)

	flushC3 := func() error {
		if len(deltas) == 0 {
			return nil
		}
		clear(c3Buf)
		payload, mode := packDeltas(deltas, scratch)
		if uint64(len(payload))+2 > c3Size || len(payload) >= 1<<14 {
			return fmt.Errorf("%w: %d encoded C3 bytes, %d reserved",
				diskerrors.ErrParkOverflow, len(payload), c3Size-2)
		}
		binary.BigEndian.PutUint16(c3Buf, uint16(len(payload))|mode)
		copy(c3Buf[2:], payload)
		r.writer.WriteAt(r.pointers[9]+c3Idx*c3Size, c3Buf)
		c3Idx++
		deltas = deltas[:0]
		return nil
	}

	for i := uint64(0); i < n; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		raw, err := sm.ReadEntry(i * entrySize)
		if err != nil {
			return 0, err
		}
		f7 := bits.SliceUint64Full(raw, 0, k)
		idx := bits.SliceUint64Full(raw, k, k+1)

		w.Reset()
		w.AppendUint64(idx, uint32(t7EntrySize)*8)
		r.writer.WriteAt(table7Start+i*t7EntrySize, w.PadToBytes(int(t7EntrySize)))

		if i%pos.Checkpoint1Interval == 0 {
			if err := flushC3(); err != nil {
				return 0, err
			}
			c1 = append(c1, f7)
			prevF7 = f7
		} else {
			d := f7 - prevF7
			if d > 0xff {
				return 0, fmt.Errorf("%w: f7 delta %d", diskerrors.ErrParkOverflow, d)
			}
			deltas = append(deltas, byte(d))
			prevF7 = f7
		}
		if i > 0 && i%progressEvery == 0 {
			r.cfg.progress(4, int(i/progressEvery), maxPhase4ProgressUpdates)
		}
	}
	if err := flushC3(); err != nil {
		return 0, err
	}

	// C1 table, terminated by a zero entry.
	writeCheckpoint := func(start uint64, i uint64, v uint64) {
		w.Reset()
		w.AppendUint64(v, uint32(checkpointSize)*8)
		r.writer.WriteAt(start+i*checkpointSize, w.PadToBytes(int(checkpointSize)))
	}
	for i, v := range c1 {
		writeCheckpoint(r.pointers[7], uint64(i), v)
	}
	writeCheckpoint(r.pointers[7], numC1, 0)

	// C2 table: every Checkpoint2Interval-th C1 value, zero-terminated.
	c2Count := uint64(0)
	for i := uint64(0); i < uint64(len(c1)); i += pos.Checkpoint2Interval {
		writeCheckpoint(r.pointers[8], c2Count, c1[i])
		c2Count++
	}
	writeCheckpoint(r.pointers[8], c2Count, 0)

	r.cfg.progress(4, maxPhase4ProgressUpdates, maxPhase4ProgressUpdates)
	return finalSize, nil
}
