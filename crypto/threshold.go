package crypto

import (
	"math/big"

	"github.com/holiman/uint256"
)

// fixedPointBits is the number of fractional bits used to represent values
// in [0, 1) during the threshold computation below. 120 bits leaves enough
// headroom in a 256-bit word for one squaring without truncation before the
// result is shifted back down.
const fixedPointBits = 120

var fixedPointOne = new(uint256.Int).Lsh(uint256.NewInt(1), fixedPointBits)

// fixedMul multiplies two Q(120) fixed-point values, truncating back to 120
// fractional bits. Both operands and the result lie in [0, 1].
func fixedMul(a, b *uint256.Int) *uint256.Int {
	var wide uint256.Int
	wide.MulOverflow(a, b) // safe: a,b < 2^120 so product < 2^240, fits in 256 bits
	return wide.Rsh(&wide, fixedPointBits)
}

// fixedPow raises a Q(120) fixed-point base to an integer power via
// repeated squaring.
func fixedPow(base *uint256.Int, exp uint64) *uint256.Int {
	result := new(uint256.Int).Set(fixedPointOne)
	b := new(uint256.Int).Set(base)
	for exp > 0 {
		if exp&1 == 1 {
			result = fixedMul(result, b)
		}
		b = fixedMul(b, b)
		exp >>= 1
	}
	return result
}

// fixedRoot computes the q-th root of a Q(120) fixed-point value A in
// [0, 1) via Newton's method: y_{n+1} = ((q-1)*y_n + A / y_n^(q-1)) / q.
// Converges in a bounded number of iterations since 0 <= A < 1 implies a
// unique root in the same range.
func fixedRoot(a *uint256.Int, q uint64) *uint256.Int {
	if q <= 1 {
		return new(uint256.Int).Set(a)
	}
	if a.IsZero() {
		return new(uint256.Int)
	}
	// Initial guess: y0 = 1. Starting above the root, each Newton step
	// decreases y monotonically towards it, so y stays in [0, 1] and
	// y^(q-1) does not underflow to zero before the root is reached.
	y := new(uint256.Int).Set(fixedPointOne)
	qm1 := q - 1
	qBig := uint256.NewInt(q)

	for i := 0; i < 128; i++ {
		if y.IsZero() {
			y = new(uint256.Int).Set(a)
			break
		}
		yPow := fixedPow(y, qm1) // y^(q-1)
		if yPow.IsZero() {
			break
		}
		// a / yPow, computed in fixed point: (a << 120) / yPow
		num := new(uint256.Int).Lsh(a, fixedPointBits)
		div := new(uint256.Int).Div(num, yPow)

		term := new(uint256.Int).Mul(uint256.NewInt(qm1), y)
		sum := new(uint256.Int).Add(term, div)
		next := new(uint256.Int).Div(sum, qBig)

		if next.Eq(y) {
			y = next
			break
		}
		y = next
	}
	return y
}

// gcdU64 returns the greatest common divisor of a and b.
func gcdU64(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

// PrimaryThreshold computes the BABE primary-leadership threshold for one
// authority: floor(2^128 * (1 - (1-c)^(w_i/W))), where c = num/den is the
// epoch's leadership rate, w_i is the authority's weight, and W is the
// total weight of the authority set. Evaluated entirely in fixed-point
// rational arithmetic (repeated squaring for the integer power, Newton
// iteration for the fractional root) — never with floating point.
func PrimaryThreshold(num, den, weight, totalWeight uint64) *big.Int {
	if totalWeight == 0 || weight == 0 || den == 0 {
		return big.NewInt(0)
	}
	if weight > totalWeight {
		weight = totalWeight
	}

	g := gcdU64(weight, totalWeight)
	p := weight / g
	q := totalWeight / g

	// x = 1 - c = (den - num) / den, clamped to [0, 1].
	if num >= den {
		// c >= 1: threshold is the maximum 128-bit value (always leader).
		max := new(big.Int).Lsh(big.NewInt(1), 128)
		return max.Sub(max, big.NewInt(1))
	}
	xNum := den - num
	x := new(uint256.Int).Lsh(uint256.NewInt(xNum), fixedPointBits)
	x = x.Div(x, uint256.NewInt(den))

	xp := fixedPow(x, p)     // x^p, still Q(120)
	y := fixedRoot(xp, q)    // (x^p)^(1/q) = x^(p/q)

	oneMinusY := new(uint256.Int).Sub(fixedPointOne, y)
	// Rescale from Q(120) to Q(128): multiply by 2^(128-120).
	scaled := new(uint256.Int).Lsh(oneMinusY, 128-fixedPointBits)

	return scaled.ToBig()
}
