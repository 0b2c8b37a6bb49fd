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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddNumeric_identityOnNullAccumulator(t *testing.T) {
	got := addNumeric(Null(), Int32(5))
	assert.Equal(t, Equal, Compare(got, Int32(5)))
}

func TestAddNumeric_widensToDouble(t *testing.T) {
	got := addNumeric(Int32(2), Double(1.5))
	assert.Equal(t, KindDouble, got.kind)
	assert.Equal(t, Equal, Compare(got, Double(3.5)))
}

func TestAddNumeric_int32PlusInt32ProducesInt64(t *testing.T) {
	got := addNumeric(Int32(2), Int32(3))
	assert.Equal(t, KindInt64, got.kind)
	assert.Equal(t, Equal, Compare(got, Int64(5)))
}

func TestAddNumeric_saturatesAtMaxInt64(t *testing.T) {
	got := addNumeric(Int64(maxInt64), Int64(1))
	assert.Equal(t, Equal, Compare(got, Int64(maxInt64)))
}

func TestAddNumeric_saturatesAtMinInt64(t *testing.T) {
	got := addNumeric(Int64(minInt64), Int64(-1))
	assert.Equal(t, Equal, Compare(got, Int64(minInt64)))
}

func TestSaturatingMul_overflowClampsToMax(t *testing.T) {
	assert.Equal(t, maxInt64, saturatingMul(maxInt64, 2))
}

func TestSaturatingMul_signMismatchClampsToMin(t *testing.T) {
	assert.Equal(t, minInt64, saturatingMul(maxInt64, -2))
}

func TestSaturatingMul_minInt64TimesMinusOne(t *testing.T) {
	assert.Equal(t, maxInt64, saturatingMul(minInt64, -1))
}

func TestSaturatingMul_zero(t *testing.T) {
	assert.Equal(t, int64(0), saturatingMul(0, maxInt64))
}

func TestAbsNumeric_preservesKind(t *testing.T) {
	t.Run("ok - int32", func(t *testing.T) {
		got := absNumeric(Int32(-3))
		assert.Equal(t, KindInt32, got.kind)
		assert.Equal(t, Equal, Compare(got, Int32(3)))
	})

	t.Run("ok - int64", func(t *testing.T) {
		got := absNumeric(Int64(-3))
		assert.Equal(t, KindInt64, got.kind)
	})

	t.Run("ok - double", func(t *testing.T) {
		got := absNumeric(Double(-1.5))
		assert.Equal(t, KindDouble, got.kind)
		assert.Equal(t, Equal, Compare(got, Double(1.5)))
	})

	t.Run("ok - non-negative is returned unchanged", func(t *testing.T) {
		got := absNumeric(Int32(4))
		assert.Equal(t, Equal, Compare(got, Int32(4)))
	})
}

func TestMulNumeric(t *testing.T) {
	got := mulNumeric(Int32(3), Int32(4))
	assert.Equal(t, Equal, Compare(got, Int64(12)))
}

func TestWiderNumericKind(t *testing.T) {
	assert.Equal(t, KindDouble, widerNumericKind(KindInt32, KindDouble))
	assert.Equal(t, KindInt64, widerNumericKind(KindInt64, KindInt32))
}
