package pos

import "encoding/binary"

// chacha8 is the 8-round ChaCha stream cipher used as the F1 keystream
// generator. Only the keystream is needed (there is no plaintext), and only
// the 8-round variant is compatible with the plot format, which is why this
// is implemented here rather than taken from x/crypto (20 rounds only).
type chacha8 struct {
	input [16]uint32
}

// "expand 32-byte k"
var chachaSigma = [4]uint32{0x61707865, 0x3320646e, 0x79622d32, 0x6b206574}

// newChaCha8 sets up the cipher with a 256-bit key and an all-zero nonce.
func newChaCha8(key []byte) *chacha8 {
	c := &chacha8{}
	c.input[0] = chachaSigma[0]
	c.input[1] = chachaSigma[1]
	c.input[2] = chachaSigma[2]
	c.input[3] = chachaSigma[3]
	for i := 0; i < 8; i++ {
		c.input[4+i] = binary.LittleEndian.Uint32(key[4*i:])
	}
	// input[12..13] is the 64-bit block counter, set per call; the nonce
	// words input[14..15] stay zero.
	return c
}

func rotl32(v uint32, n uint) uint32 { return v<<n | v>>(32-n) }

func quarterRound(s *[16]uint32, a, b, c, d int) {
	s[a] += s[b]
	s[d] = rotl32(s[d]^s[a], 16)
	s[c] += s[d]
	s[b] = rotl32(s[b]^s[c], 12)
	s[a] += s[b]
	s[d] = rotl32(s[d]^s[a], 8)
	s[c] += s[d]
	s[b] = rotl32(s[b]^s[c], 7)
}

// keystream writes numBlocks 64-byte keystream blocks starting at the given
// block counter into out.
func (c *chacha8) keystream(counter uint64, numBlocks int, out []byte) {
	for blk := 0; blk < numBlocks; blk++ {
		c.input[12] = uint32(counter)
		c.input[13] = uint32(counter >> 32)
		x := c.input
		for i := 0; i < 8; i += 2 {
			quarterRound(&x, 0, 4, 8, 12)
			quarterRound(&x, 1, 5, 9, 13)
			quarterRound(&x, 2, 6, 10, 14)
			quarterRound(&x, 3, 7, 11, 15)
			quarterRound(&x, 0, 5, 10, 15)
			quarterRound(&x, 1, 6, 11, 12)
			quarterRound(&x, 2, 7, 8, 13)
			quarterRound(&x, 3, 4, 9, 14)
		}
		for i := 0; i < 16; i++ {
			binary.LittleEndian.PutUint32(out[blk*64+4*i:], x[i]+c.input[i])
		}
		counter++
	}
}
