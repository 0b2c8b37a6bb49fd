/*
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package qvm

import "math/big"

// numericKindRank orders the numeric family so addNumeric/mulNumeric can decide the
// result width: purely integral operands accumulate as int64, anything touching double
// or decimal promotes to double.
func numericKindRank(k Kind) int {
	switch k {
	case KindInt32:
		return 0
	case KindInt64:
		return 1
	case KindDouble:
		return 2
	case KindDecimal:
		return 3
	}
	return -1
}

func widerNumericKind(a, b Kind) Kind {
	if numericKindRank(a) >= numericKindRank(b) {
		return a
	}
	return b
}

// addNumeric adds b into a (the running accumulator), treating a zero-value a (KindNull,
// the initial state of a fresh accumulator slot) as an additive identity of b's own kind.
// Integer accumulation saturates at the int64 bounds rather than wrapping.
func addNumeric(a, b Value) Value {
	if !isNumeric(b.kind) {
		return a
	}
	if a.kind == KindNull {
		return b
	}
	if !isNumeric(a.kind) {
		return b
	}
	result := widerNumericKind(a.kind, b.kind)
	if result == KindInt32 || result == KindInt64 {
		av, _ := asBigFloat(a)
		bv, _ := asBigFloat(b)
		ai, _ := av.Int64()
		bi, _ := bv.Int64()
		return Int64(saturatingAdd(ai, bi))
	}
	af, _ := asBigFloat(a)
	bf, _ := asBigFloat(b)
	sum := new(big.Float).Add(af, bf)
	f, _ := sum.Float64()
	return Double(f)
}

// saturatingAdd adds two int64 values, clamping to MaxInt64/MinInt64 instead of wrapping
// on overflow.
func saturatingAdd(a, b int64) int64 {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		if b > 0 {
			return maxInt64
		}
		return minInt64
	}
	return sum
}

const (
	maxInt64 = int64(1<<63 - 1)
	minInt64 = -maxInt64 - 1
)

// absNumeric returns the absolute value of a numeric Value, preserving its Kind for
// int32/int64/double; Decimal128 is widened to double (see DESIGN.md for why a full
// Decimal128 arithmetic library was not wired in).
func absNumeric(v Value) Value {
	switch v.kind {
	case KindInt32:
		if v.i32 < 0 {
			return Int32(-v.i32)
		}
		return v
	case KindInt64:
		if v.i64 < 0 {
			return Int64(-v.i64)
		}
		return v
	case KindDouble:
		if v.f64 < 0 {
			return Double(-v.f64)
		}
		return v
	case KindDecimal:
		f, _ := asBigFloat(v)
		f64, _ := f.Float64()
		if f64 < 0 {
			f64 = -f64
		}
		return Double(f64)
	}
	return v
}

// mulNumeric multiplies a by b, used by update.go's $mul.
func mulNumeric(a, b Value) Value {
	if !isNumeric(a.kind) || !isNumeric(b.kind) {
		return a
	}
	result := widerNumericKind(a.kind, b.kind)
	if result == KindInt32 || result == KindInt64 {
		av, _ := asBigFloat(a)
		bv, _ := asBigFloat(b)
		ai, _ := av.Int64()
		bi, _ := bv.Int64()
		return Int64(saturatingMul(ai, bi))
	}
	af, _ := asBigFloat(a)
	bf, _ := asBigFloat(b)
	prod := new(big.Float).Mul(af, bf)
	f, _ := prod.Float64()
	return Double(f)
}

func saturatingMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a == minInt64 || b == minInt64 {
		// |MinInt64| is not representable; any multiplier other than the zero handled
		// above saturates (and MinInt64 / -1 would fault the division check below).
		if (a > 0) == (b > 0) {
			return maxInt64
		}
		return minInt64
	}
	result := a * b
	if result/b != a {
		if (a > 0) == (b > 0) {
			return maxInt64
		}
		return minInt64
	}
	return result
}
