package sort

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	diskerrors "github.com/tamirms/diskplot/errors"
	"github.com/tamirms/diskplot/internal/bits"
	"github.com/tamirms/diskplot/internal/disk"
)

// Strategy selects the in-memory kernel used on each bucket.
type Strategy uint8

const (
	// StrategyUniform uses hash placement on every bucket.
	StrategyUniform Strategy = iota
	// StrategyQuicksort uses quicksort on every bucket. The right choice
	// when the key space is not a power of two, which skews the leading
	// bits.
	StrategyQuicksort
	// StrategyQuicksortLast uses hash placement except on the final bucket,
	// whose top sort-key bits alias and break the uniformity assumption.
	StrategyQuicksortLast
)

// maxEntrySize bounds a single record; the widest phase-1 entry at k=50 is
// 40 bytes.
const maxEntrySize = 64

// bucketCacheSize is the per-bucket producer quota: large enough that bucket
// file appends are sequential multi-block writes, small enough that many
// producing managers can coexist within the I/O buffer budget.
const bucketCacheSize = 64 * 1024

// Manager is the bucketed on-disk sorter. Producers route entries into
// per-bucket spill files via Add; after FlushCache the manager becomes a
// forward-only sorted stream read through Read, sorting one bucket at a
// time into its scratch buffer and releasing bucket files as the cursor
// passes them.
type Manager struct {
	memorySize uint64
	memory     []byte
	entrySize  int
	beginBits  uint32
	logBuckets uint32
	numBuckets uint32
	strategy   Strategy
	log        zerolog.Logger
	name       string

	buckets []managerBucket

	// producer state: a write cache carved into per-bucket quota slices,
	// spilled to the bucket files as slices fill. Separate from the sort
	// scratch so managers that are still producing do not hold sort-sized
	// allocations.
	producerCache []byte
	quota         uint64
	cacheUsed     []uint64
	totalBytes    uint64
	flushed       bool
	entryScratch  [maxEntrySize + bits.TailPadding]byte

	// consumer state
	prevBucketBuf      []byte
	prevBucketBufSize  uint64
	prevBucketPosStart uint64
	finalPosStart      uint64
	finalPosEnd        uint64
	nextBucketToSort   uint32
}

type managerBucket struct {
	file         *disk.FileDisk
	writePointer uint64
}

// NewManager creates a sorter over numBuckets (a power of two) bucket
// files in tmpDir, routing on the logBuckets bits of each entry starting at
// beginBits and sorting by all bits from beginBits onward. memorySize is
// the sort scratch budget; the scratch itself is allocated when the
// consumer side starts, so the largest bucket must fit it then.
//
// prevBucketEntries controls the look-back window kept after a bucket
// transition; zero keeps a small default tail.
func NewManager(
	memorySize uint64,
	numBuckets uint32,
	logBuckets uint32,
	entrySize uint16,
	tmpDir string,
	name string,
	beginBits uint32,
	prevBucketEntries uint64,
	strategy Strategy,
	log zerolog.Logger,
	obs disk.Observer,
) (*Manager, error) {
	if entrySize == 0 || entrySize > maxEntrySize {
		return nil, fmt.Errorf("sort: unsupported entry size %d", entrySize)
	}
	cacheSize := uint64(numBuckets) * bucketCacheSize
	if cacheSize > memorySize {
		cacheSize = memorySize
	}
	quota := cacheSize / uint64(numBuckets) / uint64(entrySize) * uint64(entrySize)
	if quota < uint64(entrySize) {
		return nil, fmt.Errorf("%w: %d bytes across %d buckets leaves no room for %d-byte entries",
			diskerrors.ErrInsufficientMemory, memorySize, numBuckets, entrySize)
	}
	if prevBucketEntries == 0 {
		prevBucketEntries = 16
	}
	m := &Manager{
		memorySize:        memorySize,
		producerCache:     make([]byte, uint64(numBuckets)*quota),
		entrySize:         int(entrySize),
		beginBits:         beginBits,
		logBuckets:        logBuckets,
		numBuckets:        numBuckets,
		strategy:          strategy,
		log:               log,
		name:              name,
		quota:             quota,
		cacheUsed:         make([]uint64, numBuckets),
		buckets:           make([]managerBucket, numBuckets),
		prevBucketBufSize: prevBucketEntries * uint64(entrySize),
	}
	for i := range m.buckets {
		path := filepath.Join(tmpDir, fmt.Sprintf("%s.sort_bucket_%03d.tmp", name, i))
		fd, err := disk.NewFileDisk(path, log, obs)
		if err != nil {
			m.removeBucketFiles()
			return nil, err
		}
		m.buckets[i].file = fd
	}
	return m, nil
}

// EntrySize returns the fixed record size in bytes.
func (m *Manager) EntrySize() int { return m.entrySize }

// Count returns the number of entries added so far.
func (m *Manager) Count() uint64 { return m.totalBytes / uint64(m.entrySize) }

// Name identifies the manager in diagnostics.
func (m *Manager) Name() string { return m.name }

// Add routes one entry (exactly EntrySize bytes) to its bucket. The bucket
// quota slice spills to the bucket file when full.
func (m *Manager) Add(entry []byte) error {
	if m.flushed {
		return fmt.Errorf("sort %s: add after flush", m.name)
	}
	if len(entry) != m.entrySize {
		return fmt.Errorf("sort %s: entry size %d, want %d", m.name, len(entry), m.entrySize)
	}
	// The entry may not carry the slicing tail; stage it through a padded
	// scratch before extracting the bucket bits.
	copy(m.entryScratch[:], entry)
	b := bits.SliceUint64(m.entryScratch[:], m.beginBits, m.logBuckets)

	if m.cacheUsed[b]+uint64(m.entrySize) > m.quota {
		if err := m.spillBucket(uint32(b)); err != nil {
			return err
		}
	}
	base := b*m.quota + m.cacheUsed[b]
	copy(m.producerCache[base:], entry)
	m.cacheUsed[b] += uint64(m.entrySize)
	m.totalBytes += uint64(m.entrySize)
	return nil
}

func (m *Manager) spillBucket(b uint32) error {
	used := m.cacheUsed[b]
	if used == 0 {
		return nil
	}
	bk := &m.buckets[b]
	base := uint64(b) * m.quota
	if err := bk.file.Write(bk.writePointer, m.producerCache[base:base+used]); err != nil {
		return err
	}
	bk.writePointer += used
	m.cacheUsed[b] = 0
	return nil
}

// FlushCache spills every bucket's quota slice and switches the manager to
// the consumer phase. After this call the scratch buffer belongs to the
// bucket sorter and Add must not be called again.
func (m *Manager) FlushCache() error {
	for b := uint32(0); b < m.numBuckets; b++ {
		if err := m.spillBucket(b); err != nil {
			return err
		}
	}
	m.flushed = true
	m.producerCache = nil
	m.cacheUsed = nil
	m.finalPosStart = 0
	m.finalPosEnd = 0
	m.nextBucketToSort = 0
	return nil
}

// Read returns a view of length bytes at the sorted stream offset begin.
// begin must be entry-aligned and never regress behind the retained
// look-back tail; advancing past the current bucket sorts the next one.
func (m *Manager) Read(begin, length uint64) ([]byte, error) {
	if !m.flushed {
		return nil, fmt.Errorf("sort %s: read before flush", m.name)
	}
	for m.nextBucketToSort == 0 || begin >= m.finalPosEnd {
		if m.nextBucketToSort >= m.numBuckets {
			return nil, fmt.Errorf("%w: offset %d in %s", diskerrors.ErrSortBoundExceeded, begin, m.name)
		}
		if err := m.sortBucket(); err != nil {
			return nil, err
		}
	}
	if begin >= m.finalPosStart {
		off := begin - m.finalPosStart
		return m.memory[off : off+length+bits.TailPadding], nil
	}
	if begin >= m.prevBucketPosStart {
		off := begin - m.prevBucketPosStart
		return m.prevBucketBuf[off : off+length+bits.TailPadding], nil
	}
	return nil, fmt.Errorf("%w: offset %d behind tail %d in %s",
		diskerrors.ErrConsumerRegressed, begin, m.prevBucketPosStart, m.name)
}

// ReadEntry returns the entry at the given sorted byte position.
func (m *Manager) ReadEntry(position uint64) ([]byte, error) {
	return m.Read(position, uint64(m.entrySize))
}

// CloseToNewBucket reports whether reading at position is about to cross
// into the next bucket: position falls within the look-back margin of the
// current bucket's end, so advancing will recycle memory a caller may
// still point into. Always false once the final bucket is in memory.
func (m *Manager) CloseToNewBucket(position uint64) bool {
	if m.nextBucketToSort >= m.numBuckets {
		// no bucket left to transition into
		return false
	}
	if position < m.finalPosStart {
		// still reading the retained tail of the previous bucket
		return false
	}
	if position > m.finalPosEnd {
		return true
	}
	return position+m.prevBucketBufSize/2 >= m.finalPosEnd
}

// TriggerNewBucket sorts the next bucket into memory ahead of the read that
// crosses into it, keeping the current bucket's tail in the look-back buffer.
// position must lie within the current bucket's range, as it does when
// CloseToNewBucket reports true; a position past the range returns
// ErrSortBoundExceeded and one before it ErrConsumerRegressed.
func (m *Manager) TriggerNewBucket(position uint64) error {
	if position > m.finalPosEnd {
		return fmt.Errorf("%w: trigger at %d past %d", diskerrors.ErrSortBoundExceeded, position, m.finalPosEnd)
	}
	if position < m.finalPosStart {
		return diskerrors.ErrConsumerRegressed
	}
	return m.sortBucket()
}

func (m *Manager) sortBucket() error {
	if m.nextBucketToSort >= m.numBuckets {
		return diskerrors.ErrSortBoundExceeded
	}
	if m.memory == nil {
		// The sort scratch is allocated only once the consumer side starts,
		// so managers that are still filling stay cheap.
		m.memory = make([]byte, m.memorySize+bits.TailPadding)
	}
	if m.nextBucketToSort > 0 {
		// Preserve the tail of the bucket currently in memory for the
		// bounded look-back window.
		curBytes := m.finalPosEnd - m.finalPosStart
		keep := m.prevBucketBufSize
		if keep > curBytes {
			keep = curBytes
		}
		if m.prevBucketBuf == nil {
			m.prevBucketBuf = make([]byte, m.prevBucketBufSize+bits.TailPadding)
		}
		copy(m.prevBucketBuf, m.memory[curBytes-keep:curBytes])
		m.prevBucketPosStart = m.finalPosEnd - keep
	}

	b := &m.buckets[m.nextBucketToSort]
	entries := b.writePointer / uint64(m.entrySize)
	sortBits := m.beginBits + m.logBuckets

	if entries > 0 {
		useQuick := m.strategy == StrategyQuicksort ||
			(m.strategy == StrategyQuicksortLast && m.nextBucketToSort == m.numBuckets-1)
		if !useQuick {
			if bits.RoundSize(entries)*uint64(m.entrySize) > m.memorySize {
				return fmt.Errorf("%w: bucket %d of %s holds %d entries",
					diskerrors.ErrBucketTooLarge, m.nextBucketToSort, m.name, entries)
			}
			err := UniformSort(b.file, 0, m.memory, m.entrySize, entries, sortBits)
			if errors.Is(err, diskerrors.ErrNonUniformData) {
				m.log.Warn().Str("sort", m.name).Uint32("bucket", m.nextBucketToSort).
					Msg("bucket failed uniformity assumption, falling back to quicksort")
				useQuick = true
			} else if err != nil {
				return err
			}
		}
		if useQuick {
			if b.writePointer > m.memorySize {
				return fmt.Errorf("%w: bucket %d of %s holds %d entries",
					diskerrors.ErrBucketTooLarge, m.nextBucketToSort, m.name, entries)
			}
			b.file.AdviseSequential()
			if err := b.file.Read(0, m.memory[:b.writePointer]); err != nil {
				return err
			}
			QuickSort(m.memory, m.entrySize, entries, sortBits)
		}
	}

	m.finalPosStart = m.finalPosEnd
	m.finalPosEnd += b.writePointer
	m.nextBucketToSort++

	// The bucket's data now lives in memory; release its file.
	if err := b.file.Remove(); err != nil {
		return err
	}
	return nil
}

// Close removes any remaining bucket files and drops the scratch buffer.
func (m *Manager) Close() error {
	err := m.removeBucketFiles()
	m.FreeMemory()
	return err
}

func (m *Manager) removeBucketFiles() error {
	var first error
	for i := range m.buckets {
		if m.buckets[i].file == nil {
			continue
		}
		if err := m.buckets[i].file.Remove(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FreeMemory releases the scratch, producer and look-back buffers.
func (m *Manager) FreeMemory() {
	m.memory = nil
	m.prevBucketBuf = nil
	m.producerCache = nil
	m.cacheUsed = nil
}
