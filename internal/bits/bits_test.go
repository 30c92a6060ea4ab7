package bits

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"
	"testing"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

func TestByteAlign(t *testing.T) {
	cases := []struct{ in, want uint32 }{
		{0, 0}, {1, 8}, {7, 8}, {8, 8}, {9, 16}, {53, 56}, {64, 64},
	}
	for _, c := range cases {
		if got := ByteAlign(c.in); got != c.want {
			t.Errorf("ByteAlign(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

// TestWriterSliceRoundTrip packs random fields with the Writer and reads
// them back with SliceUint64Full at their bit offsets.
func TestWriterSliceRoundTrip(t *testing.T) {
	rng := newTestRNG(t)
	const iterations = 2000

	for i := 0; i < iterations; i++ {
		numFields := 1 + int(rng.Uint32N(8))
		widths := make([]uint32, numFields)
		values := make([]uint64, numFields)
		var w Writer
		for f := 0; f < numFields; f++ {
			widths[f] = 1 + rng.Uint32N(64)
			values[f] = rng.Uint64()
			if widths[f] < 64 {
				values[f] &= (1 << widths[f]) - 1
			}
			w.AppendUint64(values[f], widths[f])
		}
		buf := append(w.Bytes(), make([]byte, TailPadding+1)...)
		var off uint32
		for f := 0; f < numFields; f++ {
			got := SliceUint64Full(buf, off, widths[f])
			if got != values[f] {
				t.Fatalf("iter %d field %d: slice(%d, %d) = %#x, want %#x",
					i, f, off, widths[f], got, values[f])
			}
			off += widths[f]
		}
	}
}

func TestSliceU128RoundTrip(t *testing.T) {
	rng := newTestRNG(t)
	for i := 0; i < 1000; i++ {
		width := 65 + rng.Uint32N(38) // 65..102 bits
		v := U128{Hi: rng.Uint64() >> (128 - width), Lo: rng.Uint64()}
		pad := rng.Uint32N(13)
		var w Writer
		w.AppendUint64(rng.Uint64(), pad)
		w.AppendU128(v, width)
		buf := append(w.Bytes(), make([]byte, TailPadding+1)...)
		got := SliceU128(buf, pad, width)
		if got != v {
			t.Fatalf("iter %d: got %+v, want %+v (pad %d width %d)", i, got, v, pad, width)
		}
	}
}

func TestMemCmpBits(t *testing.T) {
	left := []byte{0xff, 0x01, 0x02}
	right := []byte{0x00, 0x01, 0x02}
	// Differ only in the first byte; masked off from bit 8 on.
	if got := MemCmpBits(left, right, 3, 8); got != 0 {
		t.Errorf("MemCmpBits from bit 8 = %d, want 0", got)
	}
	if got := MemCmpBits(left, right, 3, 0); got <= 0 {
		t.Errorf("MemCmpBits from bit 0 = %d, want > 0", got)
	}
	// Mask keeps the low 4 bits of byte 0.
	a := []byte{0x1f, 0x00}
	b := []byte{0x2e, 0x00}
	if got := MemCmpBits(a, b, 2, 4); got <= 0 {
		t.Errorf("MemCmpBits(0x1f, 0x2e, from bit 4) = %d, want > 0", got)
	}
}

func TestRoundSize(t *testing.T) {
	cases := []struct{ in, want uint64 }{
		{1, 52}, {2, 54}, {3, 58}, {100, 306}, {1000, 2098},
	}
	for _, c := range cases {
		if got := RoundSize(c.in); got != c.want {
			t.Errorf("RoundSize(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestRoundPow2(t *testing.T) {
	cases := []struct{ in, want uint64 }{
		{0, 0}, {1, 1}, {2, 2}, {3, 2}, {64, 64}, {65, 64}, {127, 64}, {128, 128},
	}
	for _, c := range cases {
		if got := RoundPow2(c.in); got != c.want {
			t.Errorf("RoundPow2(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestU128Arithmetic(t *testing.T) {
	rng := newTestRNG(t)
	for i := 0; i < 10000; i++ {
		a, b := rng.Uint64(), rng.Uint64()
		p := Mul64(a, b)
		// add/sub inverse, shifts that never inflate, and Mul64 by 2 against Lsh(1)
		if p.Add64(1).Sub(U128{Lo: 1}) != p {
			t.Fatalf("add/sub inverse broken at %#x * %#x", a, b)
		}
		if p.Rsh(3).Lsh(3).Cmp(p) > 0 {
			t.Fatalf("shift inflates value at %#x * %#x", a, b)
		}
		if Mul64(a, 2) != (U128{Lo: a}).Lsh(1) {
			t.Fatalf("Mul64(%#x, 2) != Lsh(1)", a)
		}
	}
}
