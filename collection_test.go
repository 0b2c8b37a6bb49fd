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

// seedTagsCollection builds a small collection whose documents carry tag arrays.
func seedTagsCollection(t *testing.T) *Collection {
	t.Helper()
	c := testDB(t).Collection("things")
	docs := []string{
		`{"_id":1,"tags":["red","big","metal"]}`,
		`{"_id":2,"tags":["blue"]}`,
		`{"_id":3,"tags":["red","small"]}`,
	}
	for _, raw := range docs {
		_, err := c.Insert(mustDoc(t, raw))
		require.NoError(t, err)
	}
	return c
}

func filterField(path string, v Value) Document {
	d := NewDocument()
	d.Set(path, v)
	return d
}

func TestFind_scalarContainsArray(t *testing.T) {
	c := seedTagsCollection(t)

	docs, err := c.Find(filterField("tags", String("red")))
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{int32(1), int32(3)}, idsOf(t, docs))
}

func TestFind_all(t *testing.T) {
	c := seedTagsCollection(t)

	all := NewDocument()
	all.Set("$all", Array(String("red"), String("big")))
	docs, err := c.Find(filterField("tags", all.AsValue()))
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{int32(1)}, idsOf(t, docs))
}

func TestFind_arrayEquality(t *testing.T) {
	c := seedTagsCollection(t)

	t.Run("ok - exact array match", func(t *testing.T) {
		docs, err := c.Find(filterField("tags", Array(String("red"), String("big"), String("metal"))))
		require.NoError(t, err)
		assert.ElementsMatch(t, []interface{}{int32(1)}, idsOf(t, docs))
	})

	t.Run("ok - partial array is not an exact match", func(t *testing.T) {
		docs, err := c.Find(filterField("tags", Array(String("red"), String("big"))))
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func TestFind_positionalField(t *testing.T) {
	c := seedTagsCollection(t)

	docs, err := c.Find(filterField("tags.0", String("red")))
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{int32(1), int32(3)}, idsOf(t, docs))
}

// seedItemsCollection builds a collection whose documents carry arrays of price subdocuments.
func seedItemsCollection(t *testing.T) *Collection {
	t.Helper()
	c := testDB(t).Collection("orders")
	docs := []string{
		`{"_id":1,"items":[{"price":10},{"price":20}]}`,
		`{"_id":2,"items":[{"price":5},{"price":15}]}`,
		`{"_id":3,"items":[{"price":100}]}`,
	}
	for _, raw := range docs {
		_, err := c.Insert(mustDoc(t, raw))
		require.NoError(t, err)
	}
	return c
}

func TestFind_projectedFieldEquality(t *testing.T) {
	c := seedItemsCollection(t)

	docs, err := c.Find(filterField("items.price", Int32(10)))
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{int32(1)}, idsOf(t, docs))
}

func TestFind_projectedFieldComparison(t *testing.T) {
	c := seedItemsCollection(t)

	gt := NewDocument()
	gt.Set("$gt", Int32(15))
	docs, err := c.Find(filterField("items.price", gt.AsValue()))
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{int32(1), int32(3)}, idsOf(t, docs))
}

// seedAgesCollection builds a collection of scalar age fields.
func seedAgesCollection(t *testing.T) *Collection {
	t.Helper()
	c := testDB(t).Collection("people")
	docs := []string{
		`{"_id":1,"age":17}`,
		`{"_id":2,"age":18}`,
		`{"_id":3,"age":30}`,
	}
	for _, raw := range docs {
		_, err := c.Insert(mustDoc(t, raw))
		require.NoError(t, err)
	}
	return c
}

func TestFind_not(t *testing.T) {
	c := seedAgesCollection(t)

	notEq := NewDocument()
	inner := NewDocument()
	inner.Set("$eq", Int32(18))
	notEq.Set("$not", inner.AsValue())

	docs, err := c.Find(filterField("age", notEq.AsValue()))
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{int32(1), int32(3)}, idsOf(t, docs))
}

func TestFind_or(t *testing.T) {
	c := seedAgesCollection(t)

	filter := NewDocument()
	filter.Set("$or", Array(filterField("age", Int32(17)).AsValue(), filterField("age", Int32(30)).AsValue()))

	docs, err := c.Find(filter)
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{int32(1), int32(3)}, idsOf(t, docs))
}

func TestFind_boundary_sizeOnEmptyArray(t *testing.T) {
	c := testDB(t).Collection("sized")
	_, err := c.Insert(mustDoc(t, `{"_id":1,"tags":[]}`))
	require.NoError(t, err)

	t.Run("ok - size 0 matches empty array", func(t *testing.T) {
		size0 := NewDocument()
		size0.Set("$size", Int32(0))
		docs, err := c.Find(filterField("tags", size0.AsValue()))
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("miss - size 1 does not match empty array", func(t *testing.T) {
		size1 := NewDocument()
		size1.Set("$size", Int32(1))
		docs, err := c.Find(filterField("tags", size1.AsValue()))
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func TestFind_boundary_inNin(t *testing.T) {
	c := seedAgesCollection(t)

	t.Run("miss - $in with an empty array matches nothing", func(t *testing.T) {
		in := NewDocument()
		in.Set("$in", Array())
		docs, err := c.Find(filterField("age", in.AsValue()))
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("ok - $nin with an empty array matches every document", func(t *testing.T) {
		nin := NewDocument()
		nin.Set("$nin", Array())
		docs, err := c.Find(filterField("age", nin.AsValue()))
		require.NoError(t, err)
		assert.Len(t, docs, 3)
	})
}

func TestFind_pointLookup(t *testing.T) {
	c := seedAgesCollection(t)

	t.Run("ok - bare _id filter", func(t *testing.T) {
		docs, err := c.Find(filterField("_id", Int32(2)))
		require.NoError(t, err)
		require.Len(t, docs, 1)
		age, _ := docs[0].Get("age")
		assert.Equal(t, Equal, Compare(age, Int32(18)))
	})

	t.Run("ok - $eq _id filter", func(t *testing.T) {
		eq := NewDocument()
		eq.Set("$eq", Int32(2))
		docs, err := c.Find(filterField("_id", eq.AsValue()))
		require.NoError(t, err)
		require.Len(t, docs, 1)
	})

	t.Run("miss - _id not present", func(t *testing.T) {
		docs, err := c.Find(filterField("_id", Int32(999)))
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func TestFind_regexInvalidOptions(t *testing.T) {
	c := seedAgesCollection(t)

	re := Regex("^1", "pml")
	filter := NewDocument()
	opDoc := NewDocument()
	opDoc.Set("$regex", re)
	filter.Set("age", opDoc.AsValue())

	_, err := c.Find(filter)
	assert.ErrorIs(t, err, ErrInvalidRegexOptions)
}

func TestEnsureIndex_scan(t *testing.T) {
	db := testDB(t)
	c := db.Collection("indexed")
	require.NoError(t, c.EnsureIndex(NewIndex("by_tag", "tags")))

	docs := []string{
		`{"_id":1,"tags":["red","big"]}`,
		`{"_id":2,"tags":["blue"]}`,
		`{"_id":3,"tags":["red","small"]}`,
	}
	for _, raw := range docs {
		_, err := c.Insert(mustDoc(t, raw))
		require.NoError(t, err)
	}

	t.Run("ok - index scan dedups a multikey match", func(t *testing.T) {
		got, err := c.Find(filterField("tags", String("red")))
		require.NoError(t, err)
		assert.ElementsMatch(t, []interface{}{int32(1), int32(3)}, idsOf(t, got))
	})

	t.Run("ok - planner picks the index for an equality predicate", func(t *testing.T) {
		prog, err := c.planQuery(filterField("tags", String("red")))
		require.NoError(t, err)
		assert.Equal(t, OpOpenIndex, prog.Instructions[0].Op)
	})
}

func TestEnsureIndex_transformSeeksTransformedValue(t *testing.T) {
	db := testDB(t)
	c := db.Collection("named")
	lower := func(v Value) Value {
		s, ok := v.AsString()
		if !ok {
			return v
		}
		out := ""
		for _, r := range s {
			if r >= 'A' && r <= 'Z' {
				r += 'a' - 'A'
			}
			out += string(r)
		}
		return String(out)
	}
	require.NoError(t, c.EnsureIndex(NewIndex("by_name", "name", WithTransform(lower))))

	_, err := c.Insert(mustDoc(t, `{"_id":1,"name":"Ada"}`))
	require.NoError(t, err)

	// The entry lives under "ada"; the planner must seek the transformed literal or the
	// index scan starts past every entry this document produced.
	docs, err := c.Find(filterField("name", String("Ada")))
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{int32(1)}, idsOf(t, docs))
}

func TestEnsureIndex_tokenizedIndexFallsBackToFullScan(t *testing.T) {
	db := testDB(t)
	c := db.Collection("bios")
	require.NoError(t, c.EnsureIndex(NewIndex("by_words", "bio", WithTokenizer(func(s string) []string {
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
	}))))

	_, err := c.Insert(mustDoc(t, `{"_id":1,"bio":"space engineer"}`))
	require.NoError(t, err)

	prog, err := c.planQuery(filterField("bio", String("space engineer")))
	require.NoError(t, err)
	assert.Equal(t, OpOpenRead, prog.Instructions[0].Op)

	docs, err := c.Find(filterField("bio", String("space engineer")))
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{int32(1)}, idsOf(t, docs))
}

func TestFind_repeatRunsYieldSameSequence(t *testing.T) {
	c := seedTagsCollection(t)

	first, err := c.Find(filterField("tags", String("red")))
	require.NoError(t, err)
	second, err := c.Find(filterField("tags", String("red")))
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.True(t, ValuesEqual(first[i].AsValue(), second[i].AsValue()))
	}
}

func TestDelete_removesIndexEntries(t *testing.T) {
	db := testDB(t)
	c := db.Collection("indexed")
	require.NoError(t, c.EnsureIndex(NewIndex("by_tag", "tags")))

	_, err := c.Insert(mustDoc(t, `{"_id":1,"tags":["red","blue"]}`))
	require.NoError(t, err)
	require.NoError(t, c.Delete(Int32(1)))

	docs, err := c.Find(filterField("tags", String("red")))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestReplace_forbidsIdChange(t *testing.T) {
	c := testDB(t).Collection("things")
	_, err := c.Insert(mustDoc(t, `{"_id":1,"name":"a"}`))
	require.NoError(t, err)

	replacement := mustDoc(t, `{"_id":2,"name":"b"}`)
	err = c.Replace(Int32(1), replacement)
	assert.ErrorIs(t, err, ErrModifyIdForbidden)
}
