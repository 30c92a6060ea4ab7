// Package pos holds the proof-of-space math the pipeline is built around:
// the ChaCha8-keyed F1 function, the BLAKE3-based Fx family and its
// matching relation, the bijective line-point pairing, and the per-table
// entry and park size tables.
package pos

// Plot format constants. These are part of the on-disk format; changing any
// of them produces incompatible plots.
const (
	// IDLen is the plot id length in bytes.
	IDLen = 32

	// FormatDescription is written into the plot header.
	FormatDescription = "v1.0"

	// MinPlotSize and MaxPlotSize bound the plot size exponent k.
	MinPlotSize = 18
	MaxPlotSize = 50

	// ExtraBits is the number of x bits appended to f1 outputs; it keeps
	// enough collision entropy through seven rounds of matching.
	ExtraBits = 6

	// ExtraBitsPow = 2^ExtraBits, the number of match targets per entry.
	ExtraBitsPow = 1 << ExtraBits

	// B, C and BC parameterize the matching relation. Entries group into
	// buckets of BC adjacent y values; matches exist only between adjacent
	// buckets.
	B  = 119
	C  = 127
	BC = B * C

	// OffsetSize is the width in bits of the pos offset field for tables
	// 2-6.
	OffsetSize = 10

	// F1BlockSizeBits is the ChaCha8 keystream block size.
	F1BlockSizeBits = 512

	// EntriesPerPark is the number of line points grouped into one park.
	EntriesPerPark = 2048

	// StubMinusBits: stubs store (k - StubMinusBits) low delta bits for
	// table 1 values; wider-valued tables add the index headroom (see
	// StubBits).
	StubMinusBits = 3

	// MaxAverageDeltaTable1 and MaxAverageDelta budget the encoded bits per
	// delta when reserving park space.
	MaxAverageDeltaTable1 = 5.6
	MaxAverageDelta       = 4.4

	// Checkpoint1Interval is the number of f7 entries per C1 checkpoint;
	// Checkpoint2Interval the number of C1 entries per C2 checkpoint.
	Checkpoint1Interval = 10000
	Checkpoint2Interval = 10000

	// C3BitsPerEntry budgets the encoded f7 delta width in C3 parks.
	C3BitsPerEntry = 2.4

	// MemSortProportion is the fraction of sort memory the average bucket
	// may occupy, leaving headroom for the uniform sort's 2x expansion.
	MemSortProportion = 0.75

	// MinBuckets and MaxBuckets bound the bucket count (powers of two).
	MinBuckets = 16
	MaxBuckets = 128
)

// VectorLens[t] is the number of k-bit values collated into one side of the
// f_t input; equivalently, table t carries k*VectorLens[t+1] metadata bits.
// Indexes 0 and 1 are unused; slot 8 keeps the table-7 metadata lookup
// (which is empty) branch-free.
var VectorLens = [9]uint32{0, 0, 1, 2, 4, 4, 3, 2, 0}
