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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare_numericCrossType(t *testing.T) {
	t.Run("ok - int32 less than int64", func(t *testing.T) {
		assert.Equal(t, Less, Compare(Int32(1), Int64(2)))
	})

	t.Run("ok - int64 equals double", func(t *testing.T) {
		assert.Equal(t, Equal, Compare(Int64(3), Double(3.0)))
	})

	t.Run("ok - double greater than int32", func(t *testing.T) {
		assert.Equal(t, Greater, Compare(Double(3.5), Int32(3)))
	})
}

func TestCompare_typeOrder(t *testing.T) {
	t.Run("ok - null before numeric", func(t *testing.T) {
		assert.Equal(t, Less, Compare(Null(), Int32(0)))
	})

	t.Run("ok - numeric before string", func(t *testing.T) {
		assert.Equal(t, Less, Compare(Int32(100), String("a")))
	})

	t.Run("ok - string before document", func(t *testing.T) {
		doc := NewDocument()
		assert.Equal(t, Less, Compare(String("z"), doc.AsValue()))
	})

	t.Run("ok - document before array", func(t *testing.T) {
		doc := NewDocument()
		assert.Equal(t, Less, Compare(doc.AsValue(), Array()))
	})

	t.Run("ok - bool before datetime", func(t *testing.T) {
		assert.Equal(t, Less, Compare(Bool(true), DateTime(0)))
	})
}

func TestCompare_arrays(t *testing.T) {
	t.Run("ok - equal arrays", func(t *testing.T) {
		a := Array(Int32(1), String("x"))
		b := Array(Int32(1), String("x"))
		assert.Equal(t, Equal, Compare(a, b))
		assert.True(t, ValuesEqual(a, b))
	})

	t.Run("ok - shorter array is less when a common prefix matches", func(t *testing.T) {
		a := Array(Int32(1))
		b := Array(Int32(1), Int32(2))
		assert.Equal(t, Less, Compare(a, b))
	})

	t.Run("ok - different length arrays are not equal", func(t *testing.T) {
		a := Array(Int32(1))
		b := Array(Int32(1), Int32(2))
		assert.False(t, ValuesEqual(a, b))
	})
}

func TestCompare_regex(t *testing.T) {
	t.Run("ok - identical pattern and options compare equal", func(t *testing.T) {
		a := Regex("^a", "i")
		b := Regex("^a", "i")
		assert.Equal(t, Equal, Compare(a, b))
	})

	t.Run("ok - differing pattern is incomparable", func(t *testing.T) {
		a := Regex("^a", "")
		b := Regex("^b", "")
		assert.Equal(t, Incomparable, Compare(a, b))
	})
}

func TestCompare_nan(t *testing.T) {
	t.Run("ok - NaN incomparable to itself", func(t *testing.T) {
		nan := Double(math.NaN())
		assert.Equal(t, Incomparable, Compare(nan, nan))
	})

	t.Run("ok - NaN incomparable to a number", func(t *testing.T) {
		assert.Equal(t, Incomparable, Compare(Double(math.NaN()), Int32(1)))
	})

	t.Run("ok - NaN not equal to itself", func(t *testing.T) {
		nan := Double(math.NaN())
		assert.False(t, ValuesEqual(nan, nan))
	})
}

func TestValuesEqual_documents(t *testing.T) {
	a := NewDocument()
	a.Set("x", Int32(1))
	a.Set("y", String("hi"))

	b := NewDocument()
	b.Set("y", String("hi"))
	b.Set("x", Int32(1))

	t.Run("ok - same keys regardless of order", func(t *testing.T) {
		assert.True(t, ValuesEqual(a.AsValue(), b.AsValue()))
	})

	t.Run("ok - extra key breaks equality", func(t *testing.T) {
		c := a.Clone()
		c.Set("z", Bool(true))
		assert.False(t, ValuesEqual(a.AsValue(), c.AsValue()))
	})
}
