package disk

import (
	diskerrors "github.com/tamirms/diskplot/errors"
	"github.com/tamirms/diskplot/internal/bitfield"
)

// FilteredDisk is a read-only, entry-granular view of a BufferedDisk in
// which entries whose filter bit is 0 do not exist. Logical offset L maps
// to the physical offset of the (L/entrySize)-th surviving entry.
//
// The cursor only moves forward; a regressing read is a pipeline bug.
type FilteredDisk struct {
	filter     *bitfield.Bitfield
	underlying *BufferedDisk
	entrySize  uint64

	// lastIdx always rests on a set bit, with lastPhysical == lastIdx *
	// entrySize and lastLogical the compacted offset of that entry.
	lastPhysical uint64
	lastLogical  uint64
	lastIdx      uint64
}

// NewFiltered builds the compacted view. The filter must contain at least
// one set bit.
func NewFiltered(underlying *BufferedDisk, filter *bitfield.Bitfield, entrySize uint64) *FilteredDisk {
	d := &FilteredDisk{
		filter:     filter,
		underlying: underlying,
		entrySize:  entrySize,
	}
	for d.lastIdx < filter.Size() && !filter.Get(d.lastIdx) {
		d.lastPhysical += entrySize
		d.lastIdx++
	}
	return d
}

// Read returns the surviving entry at logical offset begin, which must be
// entry-aligned and not precede the previous read.
func (d *FilteredDisk) Read(begin, length uint64) ([]byte, error) {
	if begin%d.entrySize != 0 {
		return nil, diskerrors.ErrEntryMisaligned
	}
	if begin < d.lastLogical {
		return nil, diskerrors.ErrConsumerRegressed
	}
	if begin > d.lastLogical {
		// lastIdx rests on a survivor, so advancing always takes at least
		// one step on every counter.
		d.lastLogical += d.entrySize
		d.lastPhysical += d.entrySize
		d.lastIdx++
		for begin > d.lastLogical {
			if d.filter.Get(d.lastIdx) {
				d.lastLogical += d.entrySize
			}
			d.lastPhysical += d.entrySize
			d.lastIdx++
		}
		for !d.filter.Get(d.lastIdx) {
			d.lastPhysical += d.entrySize
			d.lastIdx++
		}
	}
	return d.underlying.Read(d.lastPhysical, length)
}

// Write always fails: the view is read-only.
func (d *FilteredDisk) Write(uint64, []byte) error {
	return diskerrors.ErrReadOnlyDisk
}

// Truncate resizes the underlying disk; truncating to zero also drops the
// filter.
func (d *FilteredDisk) Truncate(newSize uint64) error {
	if err := d.underlying.Truncate(newSize); err != nil {
		return err
	}
	if newSize == 0 {
		d.filter.FreeMemory()
	}
	return nil
}

// Name returns the underlying file path.
func (d *FilteredDisk) Name() string { return d.underlying.Name() }

// FreeMemory releases the filter and the underlying buffers.
func (d *FilteredDisk) FreeMemory() error {
	d.filter.FreeMemory()
	return d.underlying.FreeMemory()
}
