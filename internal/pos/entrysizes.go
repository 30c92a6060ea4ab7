package pos

import "github.com/tamirms/diskplot/internal/bits"

// Entry layouts, in bits, MSB-first, zero-padded per entry to a byte
// boundary.
//
// Phase-1 producer entries:
//
//	table 1:    y(k+6) | x(k)
//	tables 2-6: y(k+6) | pos(k) | offset(10) | metadata(k*VectorLens[t+1])
//	table 7:    f7(k)  | pos(k) | offset(k-1)
//
// Phase-2 rewrite entries (tables 2-6; table 7 keeps its phase-1 layout
// with remapped pos/offset):
//
//	sortKey(k) | pos(k) | offset(10)
//
// Phase-3 line-point entries:
//
//	linePoint(2k+2) | sortKey(k)

// MaxEntrySize returns the largest entry size in bytes table t will carry
// during (phase1=true) or after (phase1=false) forward propagation. Tables
// sized with phase1=false can be rewritten over themselves.
func MaxEntrySize(k, t uint8, phase1 bool) uint32 {
	kk := uint32(k)
	switch t {
	case 1:
		if phase1 {
			return bits.ByteAlign(kk+ExtraBits+kk) / 8
		}
		return bits.ByteAlign(kk) / 8
	case 7:
		return bits.ByteAlign(3*kk-1) / 8
	default:
		if phase1 {
			return bits.ByteAlign(kk+ExtraBits+kk+OffsetSize+kk*VectorLens[t+1]) / 8
		}
		a := 2*kk + OffsetSize
		if b := 3*kk - 1; b > a {
			a = b
		}
		return bits.ByteAlign(a) / 8
	}
}

// KeyPosOffsetSize is the phase-2 rewrite entry size for tables 2-6.
func KeyPosOffsetSize(k uint8) uint32 {
	return bits.Cdiv(2*uint32(k)+OffsetSize, 8)
}

// LinePointEntrySize is the phase-3 sort entry: a line point over two
// (k+1)-bit indexes plus the k-bit sort key.
func LinePointEntrySize(k uint8) uint32 {
	return bits.ByteAlign(3*uint32(k)+2) / 8
}

// IndexEntrySize is the phase-3 index-map entry: sortKey(k) | index(k+1).
func IndexEntrySize(k uint8) uint32 {
	return bits.ByteAlign(2*uint32(k)+1) / 8
}

// LinePointSizeBits is the bit width of a park's first stored line point
// for table t: table-1 values are k bits wide, later tables pair (k+1)-bit
// indexes.
func LinePointSizeBits(k, t uint8) uint32 {
	if t == 1 {
		return 2 * uint32(k)
	}
	return 2*uint32(k) + 2
}

// StubBits is the number of low delta bits stored verbatim per park entry.
// Index-valued tables carry two extra stub bits: their line points are two
// bits wider, and so are the average gaps between them.
func StubBits(k, t uint8) uint32 {
	if t == 1 {
		return uint32(k) - StubMinusBits
	}
	return uint32(k) - StubMinusBits + 2
}

// StubsSize is the byte size of a park's stub section.
func StubsSize(k, t uint8) uint32 {
	return bits.ByteAlign((EntriesPerPark-1)*StubBits(k, t)) / 8
}

// MaxDeltasSize reserves space for a park's variable-encoded deltas.
func MaxDeltasSize(k, t uint8) uint32 {
	if t == 1 {
		avgBits := float64(EntriesPerPark-1) * MaxAverageDeltaTable1
		return bits.ByteAlign(uint32(avgBits)) / 8
	}
	avgBits := float64(EntriesPerPark-1) * MaxAverageDelta
	return bits.ByteAlign(uint32(avgBits)) / 8
}

// ParkSize is the fixed byte size of one park of table t: first line point,
// stubs, a 2-byte little-endian deltas length, and the delta payload
// region.
func ParkSize(k, t uint8) uint32 {
	return bits.ByteAlign(LinePointSizeBits(k, t))/8 + StubsSize(k, t) + 2 + MaxDeltasSize(k, t)
}

// C3Size is the fixed byte size of one C3 checkpoint park: a 2-byte
// big-endian length followed by the encoded f7 deltas.
func C3Size(k uint8) uint32 {
	if k < 20 {
		return bits.ByteAlign(8*Checkpoint1Interval)/8 + 2
	}
	return bits.ByteAlign(uint32(C3BitsPerEntry*Checkpoint1Interval))/8 + 2
}

// CheckpointSize is the byte width of one C1 or C2 checkpoint value.
func CheckpointSize(k uint8) uint32 {
	return bits.ByteAlign(uint32(k)) / 8
}

// Table7EntrySize is the byte width of one final table-7 position.
func Table7EntrySize(k uint8) uint32 {
	return bits.ByteAlign(uint32(k)+1) / 8
}
