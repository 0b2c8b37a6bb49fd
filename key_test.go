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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeCanonical_numericOrderPreserved(t *testing.T) {
	values := []Value{Int32(-100), Int32(-1), Int32(0), Int32(1), Double(1.5), Int64(100)}
	for i := 1; i < len(values); i++ {
		prev := EncodeCanonical(values[i-1])
		cur := EncodeCanonical(values[i])
		assert.True(t, bytes.Compare(prev, cur) < 0, "expected %v to sort before %v", values[i-1], values[i])
	}
}

func TestEncodeCanonical_typeOrderPreserved(t *testing.T) {
	values := []Value{Null(), Int32(5), String("a"), NewDocument().AsValue(), Array(Int32(1))}
	for i := 1; i < len(values); i++ {
		prev := EncodeCanonical(values[i-1])
		cur := EncodeCanonical(values[i])
		assert.True(t, bytes.Compare(prev, cur) < 0, "expected kind order %d to sort before %d", i-1, i)
	}
}

func TestEncodeCanonical_stringOrder(t *testing.T) {
	assert.True(t, bytes.Compare(EncodeCanonical(String("apple")), EncodeCanonical(String("banana"))) < 0)
}

func TestEncodeCanonical_documentFieldOrderIndependent(t *testing.T) {
	a := NewDocument()
	a.Set("x", Int32(1))
	a.Set("y", Int32(2))

	b := NewDocument()
	b.Set("y", Int32(2))
	b.Set("x", Int32(1))

	assert.Equal(t, EncodeCanonical(a.AsValue()), EncodeCanonical(b.AsValue()))
}

func TestDocKey_distinguishesCollections(t *testing.T) {
	k1 := DocKey(1, Int32(5))
	k2 := DocKey(2, Int32(5))
	assert.NotEqual(t, k1, k2)
	assert.True(t, bytes.HasPrefix(k1, DocKeyPrefix(1)))
	assert.True(t, bytes.HasPrefix(k2, DocKeyPrefix(2)))
}

func TestIndexKey_roundTripsID(t *testing.T) {
	key := IndexKey(1, "by_name", String("ada"), Int32(42))
	got := decodeIndexKeyID(key)
	assert.Equal(t, Equal, Compare(got, Int32(42)))
}

func TestIndexKey_sharesValuePrefix(t *testing.T) {
	k1 := IndexKey(1, "by_name", String("ada"), Int32(1))
	k2 := IndexKey(1, "by_name", String("ada"), Int32(2))
	prefix := IndexValuePrefix(1, "by_name", String("ada"))
	assert.True(t, bytes.HasPrefix(k1, prefix))
	assert.True(t, bytes.HasPrefix(k2, prefix))
	assert.NotEqual(t, k1, k2)
}

func TestIndexKeyPrefix_selectsWholeIndexRegardlessOfValue(t *testing.T) {
	k := IndexKey(1, "by_name", String("ada"), Int32(1))
	assert.True(t, bytes.HasPrefix(k, IndexKeyPrefix(1, "by_name")))
}
