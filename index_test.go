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

// TestUniqueIndex_arrayValuedCollision: with a unique index on "email",
// inserting {_id:1, email:"a"} then {_id:2, email:["a","b"]} must fail with
// ErrUniqueIndexViolation and leave the index untouched.
func TestUniqueIndex_arrayValuedCollision(t *testing.T) {
	c := testDB(t).Collection("users")
	require.NoError(t, c.EnsureIndex(NewIndex("by_email", "email", WithUnique())))

	_, err := c.Insert(mustDoc(t, `{"_id":1,"email":"a"}`))
	require.NoError(t, err)

	_, err = c.Insert(mustDoc(t, `{"_id":2,"email":["a","b"]}`))
	assert.ErrorIs(t, err, ErrUniqueIndexViolation)

	docs, err := c.Find(NewDocument())
	require.NoError(t, err)
	assert.Len(t, docs, 1, "the colliding document must not have been stored")

	byB, err := c.Find(filterField("email", String("b")))
	require.NoError(t, err)
	assert.Empty(t, byB, "no index entry for \"b\" should have been written")
}

func TestUniqueIndex_distinctValuesOK(t *testing.T) {
	c := testDB(t).Collection("users")
	require.NoError(t, c.EnsureIndex(NewIndex("by_email", "email", WithUnique())))

	_, err := c.Insert(mustDoc(t, `{"_id":1,"email":"a"}`))
	require.NoError(t, err)
	_, err = c.Insert(mustDoc(t, `{"_id":2,"email":"b"}`))
	require.NoError(t, err)

	docs, err := c.Find(NewDocument())
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

// TestUniqueIndex_distinctValuesDescendingOrderOK guards against Seek landing on the next
// key past a value-specific prefix and being mistaken for a same-value collision: "a" sorts
// before "z", so inserting "z" first and then "a" must not make the "a" insert spuriously
// collide with the pre-existing "z" entry.
func TestUniqueIndex_distinctValuesDescendingOrderOK(t *testing.T) {
	c := testDB(t).Collection("users")
	require.NoError(t, c.EnsureIndex(NewIndex("by_email", "email", WithUnique())))

	_, err := c.Insert(mustDoc(t, `{"_id":1,"email":"z"}`))
	require.NoError(t, err)
	_, err = c.Insert(mustDoc(t, `{"_id":2,"email":"a"}`))
	require.NoError(t, err)

	docs, err := c.Find(NewDocument())
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

// TestUniqueIndex_valuePrefixIsNotACollision guards the delimited-boundary check in
// insert: "a"'s canonical string encoding is a byte prefix of "ab"'s, so with "ab"
// already indexed an insert of "a" must seek past it rather than report a collision.
func TestUniqueIndex_valuePrefixIsNotACollision(t *testing.T) {
	c := testDB(t).Collection("users")
	require.NoError(t, c.EnsureIndex(NewIndex("by_email", "email", WithUnique())))

	_, err := c.Insert(mustDoc(t, `{"_id":1,"email":"ab"}`))
	require.NoError(t, err)
	_, err = c.Insert(mustDoc(t, `{"_id":2,"email":"a"}`))
	require.NoError(t, err)

	docs, err := c.Find(NewDocument())
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestIndex_entryValues_dedupWithinDocument(t *testing.T) {
	idx := NewIndex("by_tag", "tags")
	doc := mustDoc(t, `{"_id":1,"tags":["a","a","b"]}`)

	values := idx.entryValues(doc)
	assert.Len(t, values, 2)
}

func TestIndex_transformAndTokenizer(t *testing.T) {
	t.Run("ok - transform lower-cases before indexing", func(t *testing.T) {
		idx := NewIndex("by_name", "name", WithTransform(func(v Value) Value {
			s, ok := v.AsString()
			if !ok {
				return v
			}
			lower := ""
			for _, r := range s {
				if r >= 'A' && r <= 'Z' {
					r += 'a' - 'A'
				}
				lower += string(r)
			}
			return String(lower)
		}))
		doc := mustDoc(t, `{"_id":1,"name":"Ada"}`)
		values := idx.entryValues(doc)
		require.Len(t, values, 1)
		s, _ := values[0].AsString()
		assert.Equal(t, "ada", s)
	})

	t.Run("ok - tokenizer fans a scalar field into multiple entries", func(t *testing.T) {
		idx := NewIndex("by_words", "bio", WithTokenizer(func(s string) []string {
			var out []string
			word := ""
			for _, r := range s {
				if r == ' ' {
					if word != "" {
						out = append(out, word)
					}
					word = ""
					continue
				}
				word += string(r)
			}
			if word != "" {
				out = append(out, word)
			}
			return out
		}))
		doc := mustDoc(t, `{"_id":1,"bio":"space engineer"}`)
		values := idx.entryValues(doc)
		require.Len(t, values, 2)
	})
}
