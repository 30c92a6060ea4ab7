// Package sort implements the bucketed external-memory sort engine: an
// in-place quicksort and an expected-O(n) uniform ("hash placement") sort
// over fixed-size bit-packed records, and the Manager that streams entries
// through bucket files and exposes the sorted result as a forward-only
// disk-shaped cursor.
package sort

import (
	"github.com/tamirms/diskplot/internal/bits"
)

// quickSortThreshold is the partition size below which insertion sort takes
// over.
const quickSortThreshold = 32

// QuickSort sorts numEntries records of entryLen bytes in memory, comparing
// bit-wise from bitsBegin. Deterministic (middle-element pivot); not stable.
func QuickSort(memory []byte, entryLen int, numEntries uint64, bitsBegin uint32) {
	if numEntries < 2 {
		return
	}
	pivot := make([]byte, entryLen)
	tmp := make([]byte, entryLen)
	quickSortInner(memory, entryLen, bitsBegin, 0, int64(numEntries)-1, pivot, tmp)
}

func entryAt(memory []byte, entryLen int, i int64) []byte {
	return memory[i*int64(entryLen) : (i+1)*int64(entryLen)]
}

func swapEntries(memory []byte, entryLen int, i, j int64, tmp []byte) {
	a := entryAt(memory, entryLen, i)
	b := entryAt(memory, entryLen, j)
	copy(tmp, a)
	copy(a, b)
	copy(b, tmp)
}

func quickSortInner(memory []byte, entryLen int, bitsBegin uint32, lo, hi int64, pivot, tmp []byte) {
	for lo < hi {
		if hi-lo < quickSortThreshold {
			insertionSort(memory, entryLen, bitsBegin, lo, hi, tmp)
			return
		}
		// Middle-element pivot copied out so partitioning can move freely.
		mid := lo + (hi-lo)/2
		copy(pivot, entryAt(memory, entryLen, mid))

		i, j := lo-1, hi+1
		for {
			for {
				i++
				if bits.MemCmpBits(entryAt(memory, entryLen, i), pivot, entryLen, bitsBegin) >= 0 {
					break
				}
			}
			for {
				j--
				if bits.MemCmpBits(entryAt(memory, entryLen, j), pivot, entryLen, bitsBegin) <= 0 {
					break
				}
			}
			if i >= j {
				break
			}
			swapEntries(memory, entryLen, i, j, tmp)
		}
		// Recurse into the smaller half, loop on the larger.
		if j-lo < hi-j-1 {
			quickSortInner(memory, entryLen, bitsBegin, lo, j, pivot, tmp)
			lo = j + 1
		} else {
			quickSortInner(memory, entryLen, bitsBegin, j+1, hi, pivot, tmp)
			hi = j
		}
	}
}

func insertionSort(memory []byte, entryLen int, bitsBegin uint32, lo, hi int64, tmp []byte) {
	for i := lo + 1; i <= hi; i++ {
		for j := i; j > lo; j-- {
			if bits.MemCmpBits(entryAt(memory, entryLen, j-1), entryAt(memory, entryLen, j), entryLen, bitsBegin) <= 0 {
				break
			}
			swapEntries(memory, entryLen, j-1, j, tmp)
		}
	}
}
