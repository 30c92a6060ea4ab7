package pos

import "github.com/tamirms/diskplot/internal/bits"

// SquareToLinePoint maps an unordered pair of values to a single integer:
// C(max,2) + min. The mapping is a bijection between unordered pairs of
// non-negative integers and non-negative integers, and sorting by line
// point clusters nearby pairs so their deltas compress well.
func SquareToLinePoint(x, y uint64) bits.U128 {
	if y > x {
		x, y = y, x
	}
	return bits.Mul64(x, x-1).Rsh(1).Add64(y)
}

// LinePointToSquare inverts SquareToLinePoint, returning the pair with
// x >= y. It binary-searches the largest x with C(x,2) <= lp; the remainder
// is y.
func LinePointToSquare(lp bits.U128) (uint64, uint64) {
	// C(x,2) <= lp < C(x+1,2)
	lo, hi := uint64(0), uint64(1)<<57
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if bits.Mul64(mid, mid-1).Rsh(1).Cmp(lp) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	y := lp.Sub(bits.Mul64(lo, lo-1).Rsh(1))
	return lo, y.Lo
}
