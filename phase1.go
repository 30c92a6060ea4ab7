package diskplot

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tamirms/diskplot/internal/bits"
	"github.com/tamirms/diskplot/internal/disk"
	"github.com/tamirms/diskplot/internal/pos"
	"github.com/tamirms/diskplot/internal/sort"
)

// Phase 1, forward propagation: evaluate F1 over the whole x range, then
// for each adjacent table pair stream the left table in y order, find the
// matches within the sliding two-bucket window, and emit right-table
// entries through the next sort manager. Each left table is written to its
// temporary file as it streams past, with pos equal to its y-order index.

// windowEntry is one left-table entry retained for matching.
type windowEntry struct {
	y    uint64
	pos  uint64
	meta pos.Meta
}

func (r *plotRun) runPhase1(ctx context.Context) ([8]uint64, error) {
	var tableSizes [8]uint64
	k := uint64(r.k)
	maxTableEntries := uint64(1) << k

	entrySize1 := uint16(pos.MaxEntrySize(r.k, 1, true))
	smLeft, err := r.newSortManager(entrySize1, "p1.t1", 0, sort.StrategyQuicksortLast)
	if err != nil {
		return tableSizes, err
	}
	defer func() {
		if smLeft != nil {
			smLeft.Close()
		}
	}()

	if err := r.computeF1(ctx, smLeft); err != nil {
		return tableSizes, err
	}
	if err := smLeft.FlushCache(); err != nil {
		return tableSizes, err
	}
	tableSizes[1] = min(smLeft.Count(), maxTableEntries)
	r.cfg.progress(1, 1, 7)

	for t := uint8(1); t <= 6; t++ {
		leftEntrySize := uint64(pos.MaxEntrySize(r.k, t, true))
		leftCount := min(smLeft.Count(), maxTableEntries)
		yBits := uint32(k) + pos.ExtraBits
		metaBits := uint32(k) * pos.VectorLens[t+1]
		metaOff := yBits
		if t > 1 {
			metaOff = yBits + uint32(k) + pos.OffsetSize
		}
		offsetBits := uint32(pos.OffsetSize)
		rightYBits := yBits
		if t+1 == 7 {
			offsetBits = uint32(k) - 1
			rightYBits = uint32(k)
		}

		fx := pos.NewFx(r.k, t+1)
		rightEntrySize := uint16(pos.MaxEntrySize(r.k, t+1, true))
		smRight, err := r.newSortManager(rightEntrySize, sortName("p1", t+1), 0, sort.StrategyQuicksortLast)
		if err != nil {
			return tableSizes, err
		}

		tableDisk := disk.NewBuffered(r.tableFiles[t], 0)

		matcher := pos.NewMatcher()
		var prevBucket, curBucket []windowEntry
		curBucketID := uint64(0)
		haveCur := false
		var leftY []uint64

		emitMatches := func(prev, cur []windowEntry, prevID uint64) error {
			if len(prev) == 0 || len(cur) == 0 {
				return nil
			}
			leftY = leftY[:0]
			for _, e := range prev {
				leftY = append(leftY, e.y)
			}
			rightY := make([]uint64, len(cur))
			for i, e := range cur {
				rightY[i] = e.y
			}
			var matchErr error
			var w bits.Writer
			matcher.Match(prevID, leftY, rightY, func(li, ri int) {
				if matchErr != nil {
					return
				}
				l, rr := prev[li], cur[ri]
				offset := rr.pos - l.pos
				if offset >= uint64(1)<<offsetBits {
					// Unrepresentable back-reference; the proof it would
					// contribute to is abandoned.
					return
				}
				newY, newMeta := fx.Calculate(l.y, l.meta, rr.meta)
				w.Reset()
				w.AppendUint64(newY, rightYBits)
				w.AppendUint64(l.pos, uint32(k))
				w.AppendUint64(offset, offsetBits)
				newMeta.AppendTo(&w)
				matchErr = smRight.Add(w.PadToBytes(int(rightEntrySize)))
			})
			return matchErr
		}

		for p := uint64(0); p < leftCount; p++ {
			if p%uint64(r.cfg.stripeSize) == 0 {
				if err := ctx.Err(); err != nil {
					smRight.Close()
					return tableSizes, err
				}
			}
			raw, err := smLeft.ReadEntry(p * leftEntrySize)
			if err != nil {
				smRight.Close()
				return tableSizes, err
			}
			if err := tableDisk.Write(p*leftEntrySize, raw[:leftEntrySize]); err != nil {
				smRight.Close()
				return tableSizes, err
			}
			y := bits.SliceUint64Full(raw, 0, yBits)
			e := windowEntry{y: y, pos: p}
			if metaBits > 0 {
				e.meta = pos.SliceMeta(raw, metaOff, metaBits)
			}
			b := y / pos.BC
			if !haveCur {
				curBucketID, haveCur = b, true
			} else if b != curBucketID {
				if err := emitMatches(prevBucket, curBucket, curBucketID-1); err != nil {
					smRight.Close()
					return tableSizes, err
				}
				if b == curBucketID+1 {
					prevBucket = append(prevBucket[:0], curBucket...)
				} else {
					prevBucket = prevBucket[:0]
				}
				curBucket = curBucket[:0]
				curBucketID = b
			}
			curBucket = append(curBucket, e)
		}
		if err := emitMatches(prevBucket, curBucket, curBucketID-1); err != nil {
			smRight.Close()
			return tableSizes, err
		}

		if err := tableDisk.FreeMemory(); err != nil {
			smRight.Close()
			return tableSizes, err
		}
		if err := smLeft.Close(); err != nil {
			smRight.Close()
			return tableSizes, err
		}
		if err := smRight.FlushCache(); err != nil {
			smRight.Close()
			return tableSizes, err
		}
		tableSizes[t+1] = min(smRight.Count(), maxTableEntries)
		smLeft = smRight
		r.cfg.progress(1, int(t)+1, 7)
	}

	// Drain table 7 to its temporary file; it is already keyed by f7.
	entrySize7 := uint64(pos.MaxEntrySize(r.k, 7, true))
	table7Disk := disk.NewBuffered(r.tableFiles[7], 0)
	for p := uint64(0); p < tableSizes[7]; p++ {
		raw, err := smLeft.ReadEntry(p * entrySize7)
		if err != nil {
			return tableSizes, err
		}
		if err := table7Disk.Write(p*entrySize7, raw[:entrySize7]); err != nil {
			return tableSizes, err
		}
	}
	if err := table7Disk.FreeMemory(); err != nil {
		return tableSizes, err
	}
	if err := smLeft.Close(); err != nil {
		return tableSizes, err
	}
	smLeft = nil
	return tableSizes, nil
}

// computeF1 evaluates f1 over all 2^k x values with a fixed worker pool.
// Workers pack stripe-sized slabs locally and feed the sort manager under a
// coarse lock, so manager state only changes at stripe barriers.
func (r *plotRun) computeF1(ctx context.Context, sm *sort.Manager) error {
	k := uint64(r.k)
	total := uint64(1) << k
	stripe := r.cfg.stripeSize
	entrySize := int(pos.MaxEntrySize(r.k, 1, true))
	numStripes := (total + stripe - 1) / stripe

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < r.cfg.numThreads; w++ {
		worker := uint64(w)
		g.Go(func() error {
			f1 := pos.NewF1(r.k, r.id)
			slab := make([]byte, 0, int(stripe)*entrySize)
			var pw bits.Writer
			for s := worker; s < numStripes; s += uint64(r.cfg.numThreads) {
				if err := ctx.Err(); err != nil {
					return err
				}
				begin := s * stripe
				end := min(begin+stripe, total)
				slab = slab[:0]
				for x := begin; x < end; x++ {
					pw.Reset()
					pw.AppendUint64(f1.F(x), uint32(k)+pos.ExtraBits)
					pw.AppendUint64(x, uint32(k))
					slab = append(slab, pw.PadToBytes(entrySize)...)
				}
				mu.Lock()
				for off := 0; off < len(slab); off += entrySize {
					if err := sm.Add(slab[off : off+entrySize]); err != nil {
						mu.Unlock()
						return err
					}
				}
				mu.Unlock()
			}
			return nil
		})
	}
	return g.Wait()
}
