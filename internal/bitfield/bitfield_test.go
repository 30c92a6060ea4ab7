package bitfield

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"
	"testing"
)

const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	return rand.New(rand.NewPCG(
		testSeed1^binary.LittleEndian.Uint64(sum[:8]),
		testSeed2^binary.LittleEndian.Uint64(sum[8:])))
}

func TestSetGet(t *testing.T) {
	b := New(1000)
	b.Set(0)
	b.Set(63)
	b.Set(64)
	b.Set(999)
	for _, i := range []uint64{0, 63, 64, 999} {
		if !b.Get(i) {
			t.Errorf("bit %d not set", i)
		}
	}
	for _, i := range []uint64{1, 62, 65, 998} {
		if b.Get(i) {
			t.Errorf("bit %d unexpectedly set", i)
		}
	}
	if got := b.Count(); got != 4 {
		t.Errorf("Count() = %d, want 4", got)
	}
}

// TestRankAgainstNaive cross-checks the indexed Rank against a running
// count over sizes that straddle the index block boundary.
func TestRankAgainstNaive(t *testing.T) {
	rng := newTestRNG(t)
	for _, size := range []uint64{1, 64, 100, blockBits - 1, blockBits, blockBits + 1, 3*blockBits + 17} {
		b := New(size)
		set := make([]bool, size)
		for i := uint64(0); i < size; i++ {
			if rng.Uint32N(3) == 0 {
				b.Set(i)
				set[i] = true
			}
		}
		b.BuildIndex()
		var naive uint64
		for i := uint64(0); i < size; i++ {
			if got := b.Rank(i); got != naive {
				t.Fatalf("size %d: Rank(%d) = %d, want %d", size, i, got, naive)
			}
			if set[i] {
				naive++
			}
		}
		if got := b.Count(); got != naive {
			t.Fatalf("size %d: Count() = %d, want %d", size, got, naive)
		}
	}
}

// TestRankIsCompactedIndex pins the survivor-renumbering contract: a set
// bit's rank is its index in the compacted table.
func TestRankIsCompactedIndex(t *testing.T) {
	b := New(10)
	for _, i := range []uint64{1, 3, 5, 7, 9} {
		b.Set(i)
	}
	b.BuildIndex()
	for want, i := range []uint64{1, 3, 5, 7, 9} {
		if got := b.Rank(i); got != uint64(want) {
			t.Errorf("Rank(%d) = %d, want %d", i, got, want)
		}
	}
}
