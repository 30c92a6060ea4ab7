// Package bitfield implements the dense survivor filter used by
// back-propagation: a fixed-length bit array with O(1) rank queries over a
// per-block prefix index.
package bitfield

import "math/bits"

// blockBits is the granularity of the rank index. Each index slot holds the
// number of set bits strictly before its block.
const blockBits = 4096

const wordsPerBlock = blockBits / 64

// Bitfield is a fixed-size dense bit array. Set and Get may be used at any
// time; Rank requires BuildIndex to have been called after the last Set.
type Bitfield struct {
	words []uint64
	size  uint64
	index []uint64
}

// New returns an all-zero bitfield of the given length in bits.
func New(size uint64) *Bitfield {
	return &Bitfield{
		words: make([]uint64, (size+63)/64),
		size:  size,
	}
}

// Size returns the length of the bitfield in bits.
func (b *Bitfield) Size() uint64 { return b.size }

// Set marks bit i.
func (b *Bitfield) Set(i uint64) {
	b.words[i/64] |= 1 << (i % 64)
}

// Get reports whether bit i is set.
func (b *Bitfield) Get(i uint64) bool {
	return b.words[i/64]&(1<<(i%64)) != 0
}

// Count returns the total number of set bits.
func (b *Bitfield) Count() uint64 {
	var n uint64
	for _, w := range b.words {
		n += uint64(bits.OnesCount64(w))
	}
	return n
}

// BuildIndex precomputes the per-block prefix counts consumed by Rank. It
// must be called again if bits are set afterwards.
func (b *Bitfield) BuildIndex() {
	numBlocks := (len(b.words) + wordsPerBlock - 1) / wordsPerBlock
	b.index = make([]uint64, numBlocks+1)
	var total uint64
	for blk := 0; blk < numBlocks; blk++ {
		b.index[blk] = total
		end := (blk + 1) * wordsPerBlock
		if end > len(b.words) {
			end = len(b.words)
		}
		for _, w := range b.words[blk*wordsPerBlock : end] {
			total += uint64(bits.OnesCount64(w))
		}
	}
	b.index[numBlocks] = total
}

// Rank returns the number of set bits strictly below position i. For a
// survivor at position i this is its compacted index. BuildIndex must have
// been called since the last Set.
func (b *Bitfield) Rank(i uint64) uint64 {
	n := b.index[i/blockBits]
	word := i / 64
	for w := (i / blockBits) * wordsPerBlock; w < word; w++ {
		n += uint64(bits.OnesCount64(b.words[w]))
	}
	if rem := i % 64; rem != 0 {
		n += uint64(bits.OnesCount64(b.words[word] & ((1 << rem) - 1)))
	}
	return n
}

// FreeMemory drops the backing storage. The bitfield must not be used
// afterwards; this exists so phase drivers can release multi-hundred-MiB
// filters the moment they go dead.
func (b *Bitfield) FreeMemory() {
	b.words = nil
	b.index = nil
	b.size = 0
}
