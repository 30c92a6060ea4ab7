package diskplot

import (
	"encoding/binary"

	"github.com/tamirms/diskplot/internal/pos"
)

// headerMagic opens every plot file.
const headerMagic = "Proof of Space Plot"

// numTablePointers is the number of 8-byte big-endian begin pointers in the
// header: tables 1-7 plus C1, C2 and C3.
const numTablePointers = 10

// headerSize returns the exact byte size of the header for a given memo:
//
//	Offset        Bytes  Content
//	0             19     "Proof of Space Plot"
//	19            32     plot id
//	51            1      k
//	52            2      format description length (big-endian)
//	54            L1     format description
//	54+L1         2      memo length (big-endian)
//	56+L1         L2     memo
//	56+L1+L2      80     ten 8-byte big-endian table begin pointers
func headerSize(memoLen int) uint64 {
	return uint64(len(headerMagic)) + pos.IDLen + 1 + 2 +
		uint64(len(pos.FormatDescription)) + 2 + uint64(memoLen) + numTablePointers*8
}

// writeHeader serialises the header into the plot writer, with the pointer
// slots zeroed; they are back-patched by writeTablePointers once the tables
// land.
func writeHeader(w *plotWriter, k uint8, id, memo []byte) uint64 {
	buf := make([]byte, headerSize(len(memo)))
	off := copy(buf, headerMagic)
	off += copy(buf[off:], id)
	buf[off] = k
	off++
	binary.BigEndian.PutUint16(buf[off:], uint16(len(pos.FormatDescription)))
	off += 2
	off += copy(buf[off:], pos.FormatDescription)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(memo)))
	off += 2
	off += copy(buf[off:], memo)
	// pointer slots stay zero
	w.WriteAt(0, buf)
	return uint64(len(buf))
}

// writeTablePointers back-patches the ten begin pointers at the end of the
// header.
func writeTablePointers(w *plotWriter, headerEnd uint64, pointers *[numTablePointers]uint64) {
	var buf [numTablePointers * 8]byte
	for i, p := range pointers {
		binary.BigEndian.PutUint64(buf[i*8:], p)
	}
	w.WriteAt(headerEnd-numTablePointers*8, buf[:])
}
