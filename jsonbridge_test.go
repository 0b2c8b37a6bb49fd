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
	"github.com/stretchr/testify/require"
)

func TestParseJSONDocument_rejectsNonObject(t *testing.T) {
	_, err := ParseJSONDocument([]byte(`[1,2,3]`))
	assert.Error(t, err)
}

func TestParseJSONDocument_scalarsAndNesting(t *testing.T) {
	doc, err := ParseJSONDocument([]byte(`{"name":"Ada","age":36,"pi":3.14,"active":true,"address":{"city":"London"},"tags":["a","b"],"nope":null}`))
	require.NoError(t, err)

	name, ok := doc.Get("name")
	require.True(t, ok)
	s, _ := name.AsString()
	assert.Equal(t, "Ada", s)

	age, ok := doc.Get("age")
	require.True(t, ok)
	assert.Equal(t, KindInt32, age.kind)
	assert.Equal(t, Equal, Compare(age, Int32(36)))

	pi, ok := doc.Get("pi")
	require.True(t, ok)
	assert.Equal(t, KindDouble, pi.kind)

	active, ok := doc.Get("active")
	require.True(t, ok)
	b, _ := active.AsBool()
	assert.True(t, b)

	addr, ok := doc.Get("address")
	require.True(t, ok)
	sub, ok := addr.AsDocument()
	require.True(t, ok)
	city, ok := sub.Get("city")
	require.True(t, ok)
	cs, _ := city.AsString()
	assert.Equal(t, "London", cs)

	tags, ok := doc.Get("tags")
	require.True(t, ok)
	arr, ok := tags.AsArray()
	require.True(t, ok)
	assert.Len(t, arr, 2)

	nope, ok := doc.Get("nope")
	require.True(t, ok)
	assert.True(t, nope.IsNull())
}

func TestJSONNumberToValue_widensLargeIntegersToInt64(t *testing.T) {
	doc, err := ParseJSONDocument([]byte(`{"big":5000000000}`))
	require.NoError(t, err)
	big, _ := doc.Get("big")
	assert.Equal(t, KindInt64, big.kind)
}

func TestParseJSONDocument_extendedJSONObjectID(t *testing.T) {
	doc, err := ParseJSONDocument([]byte(`{"_id":{"$oid":"507f1f77bcf86cd799439011"}}`))
	require.NoError(t, err)
	id, ok := doc.Get("_id")
	require.True(t, ok)
	assert.Equal(t, KindObjectID, id.kind)
}

func TestParseJSONDocument_extendedJSONDecimal(t *testing.T) {
	doc, err := ParseJSONDocument([]byte(`{"amount":{"$numberDecimal":"19.99"}}`))
	require.NoError(t, err)
	v, ok := doc.Get("amount")
	require.True(t, ok)
	assert.Equal(t, KindDecimal, v.kind)
}

func TestParseJSONDocument_extendedJSONDateEpochMillis(t *testing.T) {
	doc, err := ParseJSONDocument([]byte(`{"when":{"$date":1577836800000}}`))
	require.NoError(t, err)
	v, ok := doc.Get("when")
	require.True(t, ok)
	assert.Equal(t, KindDateTime, v.kind)
}

func TestParseJSONDocument_multiKeyObjectIsNotExtendedJSON(t *testing.T) {
	doc, err := ParseJSONDocument([]byte(`{"wrapper":{"$oid":"x","extra":1}}`))
	require.NoError(t, err)
	v, ok := doc.Get("wrapper")
	require.True(t, ok)
	assert.Equal(t, KindDocument, v.kind)
}
