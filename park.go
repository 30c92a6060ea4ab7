package diskplot

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/fse"

	diskerrors "github.com/tamirms/diskplot/errors"
	"github.com/tamirms/diskplot/internal/bits"
	"github.com/tamirms/diskplot/internal/pos"
)

// Park layout (fixed pos.ParkSize(k, t) bytes per park, so the table is
// random-accessible by park index):
//
//	[first line point | padded to bytes]
//	[(EntriesPerPark-1) stubs of pos.StubBits(k,t) bits | padded to bytes]
//	[2-byte little-endian deltas length]
//	[delta payload | zero padding]
//
// Stubs hold the low bits of each successive line-point delta; the high
// bits go through the entropy coder. The top two bits of the length field
// select the payload form; the low 14 bits are the payload byte length.
const (
	deltasModeMask = 0xC000
	deltasModeFSE  = 0x0000 // tANS-coded high bytes
	deltasModeRaw  = 0x8000 // verbatim high bytes
	deltasModeRLE  = 0x4000 // single byte, repeated for every delta
)

// packDeltas entropy-codes the high delta bytes. The scratch is reused
// across parks. The returned payload may alias the scratch.
func packDeltas(deltas []byte, scratch *fse.Scratch) ([]byte, uint16) {
	if len(deltas) == 0 {
		return nil, deltasModeFSE
	}
	allSame := true
	for _, d := range deltas[1:] {
		if d != deltas[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return deltas[:1], deltasModeRLE
	}
	out, err := fse.Compress(deltas, scratch)
	if err != nil {
		// Incompressible (or RLE-shaped but not uniform): store verbatim.
		return deltas, deltasModeRaw
	}
	return out, deltasModeFSE
}

// unpackDeltas inverts packDeltas into exactly count bytes.
func unpackDeltas(payload []byte, mode uint16, count int, scratch *fse.Scratch) ([]byte, error) {
	if count == 0 {
		return nil, nil
	}
	switch mode {
	case deltasModeRLE:
		if len(payload) != 1 {
			return nil, fmt.Errorf("park: rle payload length %d", len(payload))
		}
		out := make([]byte, count)
		for i := range out {
			out[i] = payload[0]
		}
		return out, nil
	case deltasModeRaw:
		if len(payload) != count {
			return nil, fmt.Errorf("park: raw payload length %d, want %d", len(payload), count)
		}
		return append([]byte(nil), payload...), nil
	case deltasModeFSE:
		scratch.DecompressLimit = count
		out, err := fse.Decompress(payload, scratch)
		if err != nil {
			return nil, fmt.Errorf("park: decompress deltas: %w", err)
		}
		if len(out) != count {
			return nil, fmt.Errorf("park: decoded %d deltas, want %d", len(out), count)
		}
		return append([]byte(nil), out...), nil
	}
	return nil, fmt.Errorf("park: unknown deltas mode %#x", mode)
}

// encodePark serialises up to EntriesPerPark sorted line points into dst,
// which must be pos.ParkSize(k, t) zeroed bytes.
func encodePark(dst []byte, k, t uint8, lps []bits.U128, scratch *fse.Scratch) error {
	lpBytes := int(bits.ByteAlign(pos.LinePointSizeBits(k, t)) / 8)
	stubBits := pos.StubBits(k, t)
	stubsBytes := int(pos.StubsSize(k, t))
	maxDeltas := int(pos.MaxDeltasSize(k, t))

	var w bits.Writer
	w.AppendU128(lps[0], pos.LinePointSizeBits(k, t))
	copy(dst, w.PadToBytes(lpBytes))

	var stubs bits.Writer
	deltas := make([]byte, 0, pos.EntriesPerPark-1)
	prev := lps[0]
	for _, lp := range lps[1:] {
		delta := lp.Sub(prev)
		prev = lp
		stubs.AppendUint64(delta.Lo&(1<<stubBits-1), stubBits)
		high := delta.Rsh(stubBits)
		if high.Hi != 0 || high.Lo > 0xff {
			return fmt.Errorf("%w: delta high part %d bits", diskerrors.ErrParkOverflow, high.Len())
		}
		deltas = append(deltas, byte(high.Lo))
	}
	copy(dst[lpBytes:], stubs.PadToBytes(stubsBytes))

	payload, mode := packDeltas(deltas, scratch)
	if len(payload) > maxDeltas || len(payload) >= 1<<14 {
		return fmt.Errorf("%w: %d encoded delta bytes, %d reserved",
			diskerrors.ErrParkOverflow, len(payload), maxDeltas)
	}
	binary.LittleEndian.PutUint16(dst[lpBytes+stubsBytes:], uint16(len(payload))|mode)
	copy(dst[lpBytes+stubsBytes+2:], payload)
	return nil
}

// decodePark inverts encodePark, reconstructing numEntries line points.
func decodePark(src []byte, k, t uint8, numEntries int, scratch *fse.Scratch) ([]bits.U128, error) {
	lpSizeBits := pos.LinePointSizeBits(k, t)
	lpBytes := int(bits.ByteAlign(lpSizeBits) / 8)
	stubBits := pos.StubBits(k, t)
	stubsBytes := int(pos.StubsSize(k, t))

	lps := make([]bits.U128, 0, numEntries)
	lps = append(lps, bits.SliceU128(src, 0, lpSizeBits))

	sizeField := binary.LittleEndian.Uint16(src[lpBytes+stubsBytes:])
	payloadLen := int(sizeField &^ deltasModeMask)
	payload := src[lpBytes+stubsBytes+2 : lpBytes+stubsBytes+2+payloadLen]
	deltas, err := unpackDeltas(payload, sizeField&deltasModeMask, numEntries-1, scratch)
	if err != nil {
		return nil, err
	}

	stubs := src[lpBytes : lpBytes+stubsBytes+bits.TailPadding]
	cur := lps[0]
	for i := 0; i < numEntries-1; i++ {
		stub := bits.SliceUint64Full(stubs, uint32(i)*stubBits, stubBits)
		delta := bits.U128From64(uint64(deltas[i])).Lsh(stubBits).Add64(stub)
		cur = cur.Add(delta)
		lps = append(lps, cur)
	}
	return lps, nil
}
