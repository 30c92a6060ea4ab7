package sort

import (
	"github.com/bits-and-blooms/bitset"

	diskerrors "github.com/tamirms/diskplot/errors"
	"github.com/tamirms/diskplot/internal/bits"
	"github.com/tamirms/diskplot/internal/disk"
)

// uniformReadChunk is the streaming read granularity when loading a bucket
// from its file.
const uniformReadChunk = 256 * 1024

// extractNum reads takeBits starting at beginBits of an entryLen-byte
// record, clamping the take when it would run past the record. The buffer
// must carry the usual slicing tail.
func extractNum(entry []byte, entryLen int, beginBits, takeBits uint32) uint64 {
	if (beginBits+takeBits)/8 > uint32(entryLen)-1 {
		takeBits = uint32(entryLen)*8 - beginBits
	}
	return bits.SliceUint64(entry, beginBits, takeBits)
}

// UniformSort sorts numEntries records of entryLen bytes from inputDisk
// (starting at inputBegin) into memory, which must hold at least
// RoundSize(numEntries)*entryLen+TailPadding bytes.
//
// Since the bits above bitsBegin are approximately uniformly distributed
// within a bucket, each record hashes near its final rank: records are
// placed by their leading sort-key bits with ordered linear probing, then
// compacted to the front. Expected O(n) at roughly 2x memory.
//
// Returns ErrNonUniformData when a probe chain exceeds its threshold, which
// means the uniformity assumption does not hold for this data; the caller
// falls back to quicksort.
func UniformSort(inputDisk *disk.FileDisk, inputBegin uint64, memory []byte, entryLen int, numEntries uint64, bitsBegin uint32) error {
	slots := bits.RoundSize(numEntries)
	var slotBits uint32
	for uint64(1)<<slotBits < slots-50 {
		slotBits++
	}
	// A chain longer than this means the keys are not uniform enough for
	// hash placement to stay linear.
	maxProbe := 2*isqrt(slots) + 64

	occupied := bitset.New(uint(slots))

	chunk := make([]byte, uniformReadChunk/entryLen*entryLen+bits.TailPadding)
	chunkEntries := uint64(uniformReadChunk / entryLen)
	var swapA, swapB [maxEntrySize]byte

	inputDisk.AdviseSequential()

	var read uint64
	for read < numEntries {
		batch := numEntries - read
		if batch > chunkEntries {
			batch = chunkEntries
		}
		if err := inputDisk.Read(inputBegin+read*uint64(entryLen), chunk[:batch*uint64(entryLen)]); err != nil {
			return err
		}
		for i := uint64(0); i < batch; i++ {
			entry := chunk[i*uint64(entryLen) : (i+1)*uint64(entryLen)+bits.TailPadding]
			pos := extractNum(entry, entryLen, bitsBegin, slotBits)
			// Ordered insertion: swap the larger record forward so every
			// probe chain stays sorted.
			probe := uint64(0)
			cur, spare := swapA[:entryLen], swapB[:entryLen]
			copy(cur, entry[:entryLen])
			for occupied.Test(uint(pos)) {
				slot := memory[pos*uint64(entryLen) : (pos+1)*uint64(entryLen)]
				if bits.MemCmpBits(slot, cur, entryLen, bitsBegin) > 0 {
					copy(spare, slot)
					copy(slot, cur)
					cur, spare = spare, cur
				}
				pos++
				probe++
				if probe > maxProbe || pos+1 >= slots {
					return diskerrors.ErrNonUniformData
				}
			}
			copy(memory[pos*uint64(entryLen):(pos+1)*uint64(entryLen)], cur)
			occupied.Set(uint(pos))
		}
		read += batch
	}

	// Compact occupied slots to the front. Slot order equals sorted order
	// because the slot index is the key's leading bits.
	var out uint64
	for pos, ok := occupied.NextSet(0); ok; pos, ok = occupied.NextSet(pos + 1) {
		if uint64(pos) != out {
			copy(memory[out*uint64(entryLen):(out+1)*uint64(entryLen)],
				memory[uint64(pos)*uint64(entryLen):(uint64(pos)+1)*uint64(entryLen)])
		}
		out++
	}
	return nil
}

func isqrt(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}
