package sort

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tamirms/diskplot/internal/bits"
	"github.com/tamirms/diskplot/internal/disk"
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

func TestQuickSortSortsRecords(t *testing.T) {
	rng := newTestRNG(t)
	const entryLen = 12
	const numEntries = 5000
	memory := make([]byte, numEntries*entryLen+bits.TailPadding)
	for i := range memory[:numEntries*entryLen] {
		memory[i] = byte(rng.Uint32())
	}
	QuickSort(memory, entryLen, numEntries, 5)
	for i := 1; i < numEntries; i++ {
		prev := memory[(i-1)*entryLen : i*entryLen]
		cur := memory[i*entryLen : (i+1)*entryLen]
		if bits.MemCmpBits(prev, cur, entryLen, 5) > 0 {
			t.Fatalf("entries %d and %d out of order", i-1, i)
		}
	}
}

// TestUniformSortMatchesQuickSort sorts the same records with both kernels
// and requires identical output (random keys are distinct with overwhelming
// probability, so tie order cannot differ).
func TestUniformSortMatchesQuickSort(t *testing.T) {
	rng := newTestRNG(t)
	const entryLen = 16
	const numEntries = 20000

	data := make([]byte, numEntries*entryLen)
	for i := range data {
		data[i] = byte(rng.Uint32())
	}
	fd, err := disk.NewFileDisk(filepath.Join(t.TempDir(), "bucket.tmp"), zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("NewFileDisk: %v", err)
	}
	defer fd.Remove()
	if err := fd.Write(0, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	uniMem := make([]byte, bits.RoundSize(numEntries)*entryLen+bits.TailPadding)
	if err := UniformSort(fd, 0, uniMem, entryLen, numEntries, 0); err != nil {
		t.Fatalf("UniformSort: %v", err)
	}

	quickMem := make([]byte, numEntries*entryLen+bits.TailPadding)
	copy(quickMem, data)
	QuickSort(quickMem, entryLen, numEntries, 0)

	for i := 0; i < numEntries*entryLen; i++ {
		if uniMem[i] != quickMem[i] {
			t.Fatalf("kernels disagree at byte %d", i)
		}
	}
}

func newTestManager(t *testing.T, entrySize uint16, beginBits uint32, strategy Strategy) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(8<<20, 128, 7, entrySize, dir, "test", beginBits, 0, strategy, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, dir
}

// TestManagerMillionEntries is the sort-manager scenario: one million
// random 16-byte entries routed on the top 7 bits come back in
// non-decreasing order, and the bucket files hold exactly 16,000,000 bytes
// before consumption starts.
func TestManagerMillionEntries(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping million-entry sort in short mode")
	}
	rng := newTestRNG(t)
	const entrySize = 16
	const numEntries = 1_000_000

	m, dir := newTestManager(t, entrySize, 0, StrategyUniform)
	entry := make([]byte, entrySize)
	for i := 0; i < numEntries; i++ {
		for j := range entry {
			entry[j] = byte(rng.Uint32())
		}
		if err := m.Add(entry); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	if err := m.FlushCache(); err != nil {
		t.Fatalf("FlushCache: %v", err)
	}

	var onDisk int64
	for i := 0; i < 128; i++ {
		st, err := os.Stat(filepath.Join(dir, fmt.Sprintf("test.sort_bucket_%03d.tmp", i)))
		if err != nil {
			t.Fatalf("bucket %d: %v", i, err)
		}
		onDisk += st.Size()
	}
	if onDisk != numEntries*entrySize {
		t.Fatalf("bucket files hold %d bytes, want %d", onDisk, numEntries*entrySize)
	}

	prev := make([]byte, entrySize)
	for i := uint64(0); i < numEntries; i++ {
		view, err := m.Read(i*entrySize, entrySize)
		if err != nil {
			t.Fatalf("Read entry %d: %v", i, err)
		}
		if i > 0 && bits.MemCmpBits(prev, view, entrySize, 0) > 0 {
			t.Fatalf("entry %d out of order", i)
		}
		copy(prev, view)
	}
}

// TestManagerRoutingExactness verifies that every entry lands in exactly
// the bucket named by its routing bits, byte for byte.
func TestManagerRoutingExactness(t *testing.T) {
	rng := newTestRNG(t)
	const entrySize = 8
	const numEntries = 4096
	const beginBits = 4

	m, dir := newTestManager(t, entrySize, beginBits, StrategyQuicksort)
	byBucket := make(map[uint64][][]byte)
	padded := make([]byte, entrySize+bits.TailPadding)
	for i := 0; i < numEntries; i++ {
		entry := make([]byte, entrySize)
		for j := range entry {
			entry[j] = byte(rng.Uint32())
		}
		if err := m.Add(entry); err != nil {
			t.Fatalf("Add: %v", err)
		}
		copy(padded, entry)
		b := bits.SliceUint64(padded, beginBits, 7)
		byBucket[b] = append(byBucket[b], entry)
	}
	if err := m.FlushCache(); err != nil {
		t.Fatalf("FlushCache: %v", err)
	}

	for b := uint64(0); b < 128; b++ {
		path := filepath.Join(dir, fmt.Sprintf("test.sort_bucket_%03d.tmp", b))
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("bucket %d: %v", b, err)
		}
		want := byBucket[b]
		if len(content) != len(want)*entrySize {
			t.Fatalf("bucket %d holds %d bytes, want %d entries", b, len(content), len(want))
		}
		// producer spills preserve arrival order within a bucket
		for i, e := range want {
			got := content[i*entrySize : (i+1)*entrySize]
			for j := range e {
				if got[j] != e[j] {
					t.Fatalf("bucket %d entry %d differs", b, i)
				}
			}
		}
	}
}

// TestManagerBucketTransitions drives a consumer the way phase 3 does:
// before each read, an explicit TriggerNewBucket whenever the cursor is
// CloseToNewBucket. The stream must equal a plain sequential drain of the
// same entries, entries just behind a transition must stay readable from
// the look-back tail, and the final bucket must never report a pending
// transition.
func TestManagerBucketTransitions(t *testing.T) {
	const entrySize = 8
	const numEntries = 50000
	dir := t.TempDir()

	newFilled := func(name string) *Manager {
		m, err := NewManager(8<<20, 16, 4, entrySize, dir, name, 0, 64, StrategyQuicksort, zerolog.Nop(), nil)
		if err != nil {
			t.Fatalf("NewManager: %v", err)
		}
		t.Cleanup(func() { m.Close() })
		r := rand.New(rand.NewPCG(testSeed1, testSeed2))
		entry := make([]byte, entrySize)
		for i := 0; i < numEntries; i++ {
			for j := range entry {
				entry[j] = byte(r.Uint32())
			}
			if err := m.Add(entry); err != nil {
				t.Fatalf("Add: %v", err)
			}
		}
		if err := m.FlushCache(); err != nil {
			t.Fatalf("FlushCache: %v", err)
		}
		return m
	}

	plain := newFilled("plain")
	triggered := newFilled("triggered")

	if !triggered.CloseToNewBucket(0) {
		t.Fatal("expected a pending transition before the first read")
	}

	var transitions int
	prevTail := make([]byte, entrySize)
	havePrev := false
	for i := uint64(0); i < numEntries; i++ {
		position := i * entrySize
		if triggered.CloseToNewBucket(position) {
			if err := triggered.TriggerNewBucket(position); err != nil {
				t.Fatalf("TriggerNewBucket at %d: %v", position, err)
			}
			transitions++
			if havePrev {
				// the entry just consumed must still be served from the
				// look-back tail after the advance
				view, err := triggered.ReadEntry(position - entrySize)
				if err != nil {
					t.Fatalf("tail read at %d: %v", position-entrySize, err)
				}
				if !equalEntries(view[:entrySize], prevTail) {
					t.Fatalf("tail entry changed across transition at %d", position)
				}
			}
		}
		want, err := plain.ReadEntry(position)
		if err != nil {
			t.Fatalf("plain read: %v", err)
		}
		got, err := triggered.ReadEntry(position)
		if err != nil {
			t.Fatalf("triggered read: %v", err)
		}
		if !equalEntries(got[:entrySize], want[:entrySize]) {
			t.Fatalf("streams diverge at entry %d", i)
		}
		copy(prevTail, got[:entrySize])
		havePrev = true
	}
	if transitions < 16 {
		t.Fatalf("only %d transitions for 16 buckets", transitions)
	}
	if triggered.CloseToNewBucket((numEntries - 1) * entrySize) {
		t.Fatal("final bucket must not report a pending transition")
	}
}

func equalEntries(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestManagerConsumerRegression pins the forward-only contract.
func TestManagerConsumerRegression(t *testing.T) {
	rng := newTestRNG(t)
	const entrySize = 8
	m, _ := newTestManager(t, entrySize, 0, StrategyQuicksort)
	entry := make([]byte, entrySize)
	for i := 0; i < 10000; i++ {
		for j := range entry {
			entry[j] = byte(rng.Uint32())
		}
		if err := m.Add(entry); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := m.FlushCache(); err != nil {
		t.Fatalf("FlushCache: %v", err)
	}
	// drain fully, then regress far behind the retained tail
	for i := uint64(0); i < 10000; i++ {
		if _, err := m.Read(i*entrySize, entrySize); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if _, err := m.Read(0, entrySize); err == nil {
		t.Fatal("expected error reading behind the look-back tail")
	}
}
