package pos

// The matching relation. A left entry with y value yL in bucket b = yL/BC
// matches a right entry with yR in bucket b+1 when, for some m < 64, the
// residues of yR mod BC land on the left entry's m-th target:
//
//	(yR % BC) / C == ((yL % BC) / C + m) % B
//	(yR % BC) % C == ((yL % BC) % C + (2m + b%2)^2) % C
//
// Each left entry therefore has exactly 64 target residues in the next
// bucket.

// matchTarget returns the yR%BC residue of left residue yLmod's m-th target
// for the given left-bucket parity.
func matchTarget(yLmod uint64, parity uint64, m uint64) uint64 {
	targetB := (yLmod/C + m) % B
	d := 2*m + parity
	targetC := (yLmod%C + d*d) % C
	return targetB*C + targetC
}

// Matcher finds matches between two adjacent y buckets. The right bucket is
// indexed by y%BC once, then each left entry probes its 64 targets.
type Matcher struct {
	rIndex map[uint64][]int
}

// NewMatcher returns a reusable matcher.
func NewMatcher() *Matcher {
	return &Matcher{rIndex: make(map[uint64][]int, 512)}
}

// Match invokes fn(li, ri) for every matching pair, left entries in input
// order, targets in m order. leftBucket is the bucket id of the left
// entries (their parity steers the match targets).
func (m *Matcher) Match(leftBucket uint64, leftY, rightY []uint64, fn func(li, ri int)) {
	if len(leftY) == 0 || len(rightY) == 0 {
		return
	}
	clear(m.rIndex)
	for ri, y := range rightY {
		res := y % BC
		m.rIndex[res] = append(m.rIndex[res], ri)
	}
	parity := leftBucket % 2
	for li, y := range leftY {
		res := y % BC
		for mi := uint64(0); mi < ExtraBitsPow; mi++ {
			for _, ri := range m.rIndex[matchTarget(res, parity, mi)] {
				fn(li, ri)
			}
		}
	}
}
