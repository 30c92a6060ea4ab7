package pos

import (
	"github.com/tamirms/diskplot/internal/bits"
)

// F1 computes the table-1 function: k bits of ChaCha8 keystream addressed
// by x, extended with the top ExtraBits bits of x. The cipher is keyed with
// a 0x01 byte followed by the first 31 bytes of the plot id.
type F1 struct {
	k      uint32
	cipher *chacha8

	// single-block cache; F1 evaluation over a sorted x range is nearly
	// sequential in keystream blocks
	blockNo uint64
	haveBlk bool
	block   [128 + bits.TailPadding]byte
}

// NewF1 creates an F1 calculator for plot size k and a 32-byte plot id.
func NewF1(k uint8, id []byte) *F1 {
	key := make([]byte, 32)
	key[0] = 1
	copy(key[1:], id[:31])
	return &F1{k: uint32(k), cipher: newChaCha8(key)}
}

// F returns the (k+ExtraBits)-bit y value for x.
func (f *F1) F(x uint64) uint64 {
	bitOff := x * uint64(f.k)
	blockNo := bitOff / F1BlockSizeBits
	if !f.haveBlk || blockNo != f.blockNo {
		// Two consecutive blocks so a slice spanning a block boundary never
		// needs a second refill.
		f.cipher.keystream(blockNo, 2, f.block[:128])
		f.blockNo = blockNo
		f.haveBlk = true
	}
	inBlock := bitOff - blockNo*F1BlockSizeBits
	f1 := bits.SliceUint64Full(f.block[:], uint32(inBlock), f.k)
	return f1<<ExtraBits | x>>(f.k-ExtraBits)
}
