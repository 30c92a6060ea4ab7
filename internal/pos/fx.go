package pos

import (
	"lukechampine.com/blake3"

	"github.com/tamirms/diskplot/internal/bits"
)

// Meta is a table entry's collated metadata: an MSB-first bit string of up
// to 4k bits (k <= 50, so 256 bits suffice).
type Meta struct {
	NumBits uint32
	Data    [32 + bits.TailPadding]byte
}

// SliceMeta extracts numBits of metadata starting at startBit of a packed
// entry. The buffer must carry the slicing tail.
func SliceMeta(buf []byte, startBit, numBits uint32) Meta {
	m := Meta{NumBits: numBits}
	remaining := numBits
	off := startBit
	var tmp bits.Writer
	for remaining > 0 {
		take := remaining
		if take > 64 {
			take = 64
		}
		tmp.AppendUint64(bits.SliceUint64Full(buf, off, take), take)
		off += take
		remaining -= take
	}
	copy(m.Data[:], tmp.Bytes())
	return m
}

// MetaFrom64 builds a numBits-wide metadata value from an integer.
func MetaFrom64(v uint64, numBits uint32) Meta {
	var w bits.Writer
	w.AppendUint64(v, numBits)
	m := Meta{NumBits: numBits}
	copy(m.Data[:], w.Bytes())
	return m
}

// AppendTo packs the metadata into a bit writer.
func (m Meta) AppendTo(w *bits.Writer) {
	remaining := m.NumBits
	off := uint32(0)
	for remaining > 0 {
		take := remaining
		if take > 64 {
			take = 64
		}
		w.AppendUint64(bits.SliceUint64Full(m.Data[:], off, take), take)
		off += take
		remaining -= take
	}
}

// concatMeta joins two metadata strings.
func concatMeta(a, b Meta) Meta {
	var w bits.Writer
	a.AppendTo(&w)
	b.AppendTo(&w)
	m := Meta{NumBits: a.NumBits + b.NumBits}
	copy(m.Data[:], w.Bytes())
	return m
}

// Fx computes the mixing function producing table-t entries (t in 2..7)
// from a matched pair of table-(t-1) entries.
type Fx struct {
	k     uint32
	table uint32 // output table index
}

// NewFx returns the calculator for output table t.
func NewFx(k, t uint8) *Fx {
	return &Fx{k: uint32(k), table: uint32(t)}
}

// YBits is the width of this table's y output: k+ExtraBits for tables 2-6,
// k for table 7 (f7 needs no match entropy beyond itself).
func (f *Fx) YBits() uint32 {
	if f.table == 7 {
		return f.k
	}
	return f.k + ExtraBits
}

// MetaBits is the metadata width carried by the produced entries.
func (f *Fx) MetaBits() uint32 {
	return f.k * VectorLens[f.table+1]
}

// Calculate mixes the left entry's y with both collated metadata values:
// the BLAKE3 hash of y ‖ metaL ‖ metaR yields the new y in its leading bits
// and, for tables 4 and up, the new metadata in the bits that follow.
// Tables 2 and 3 collate by concatenation instead.
func (f *Fx) Calculate(y uint64, metaL, metaR Meta) (uint64, Meta) {
	var w bits.Writer
	w.AppendUint64(y, f.k+ExtraBits)
	metaL.AppendTo(&w)
	metaR.AppendTo(&w)
	sum := blake3.Sum256(w.Bytes())

	var padded [32 + bits.TailPadding]byte
	copy(padded[:], sum[:])
	newY := bits.SliceUint64Full(padded[:], 0, f.YBits())

	var meta Meta
	if f.MetaBits() > 0 {
		if f.table < 4 {
			meta = concatMeta(metaL, metaR)
		} else {
			meta = SliceMeta(padded[:], f.k+ExtraBits, f.MetaBits())
		}
	}
	return newY, meta
}
