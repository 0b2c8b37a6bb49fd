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
	"math"
	"math/big"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindDouble
	KindDecimal
	KindString
	KindBinary
	KindObjectID
	KindDateTime
	KindTimestamp
	KindRegex
	KindArray
	KindDocument
)

// Value is a tagged union over the BSON-compatible variants the filter language and
// index codec operate on. The zero Value is KindNull.
type Value struct {
	kind Kind

	b    bool
	i32  int32
	i64  int64
	f64  float64
	dec  primitive.Decimal128
	str  string
	bin  primitive.Binary
	oid  primitive.ObjectID
	dt   primitive.DateTime
	ts   primitive.Timestamp
	re   primitive.Regex
	arr  []Value
	doc  *Document
}

func (v Value) Kind() Kind { return v.kind }

func Null() Value                    { return Value{kind: KindNull} }
func Bool(b bool) Value              { return Value{kind: KindBool, b: b} }
func Int32(i int32) Value            { return Value{kind: KindInt32, i32: i} }
func Int64(i int64) Value            { return Value{kind: KindInt64, i64: i} }
func Double(f float64) Value         { return Value{kind: KindDouble, f64: f} }
func Decimal(d primitive.Decimal128) Value { return Value{kind: KindDecimal, dec: d} }
func String(s string) Value          { return Value{kind: KindString, str: s} }
func Binary(b primitive.Binary) Value { return Value{kind: KindBinary, bin: b} }
func ObjectID(id primitive.ObjectID) Value { return Value{kind: KindObjectID, oid: id} }
func DateTime(dt primitive.DateTime) Value { return Value{kind: KindDateTime, dt: dt} }
func Timestamp(ts primitive.Timestamp) Value { return Value{kind: KindTimestamp, ts: ts} }
func Regex(pattern, options string) Value {
	return Value{kind: KindRegex, re: primitive.Regex{Pattern: pattern, Options: options}}
}
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }
func FromDocument(d Document) Value { return Value{kind: KindDocument, doc: &d} }

// AsBool, AsString, AsArray, AsDocument are convenience accessors used throughout the
// compiler and VM; they return the zero value and false when the Kind doesn't match.
func (v Value) AsBool() (bool, bool)           { return v.b, v.kind == KindBool }
func (v Value) AsString() (string, bool)       { return v.str, v.kind == KindString }
func (v Value) AsArray() ([]Value, bool)       { return v.arr, v.kind == KindArray }
func (v Value) AsDocument() (Document, bool) {
	if v.kind != KindDocument || v.doc == nil {
		return Document{}, false
	}
	return *v.doc, true
}
func (v Value) AsRegex() (primitive.Regex, bool) { return v.re, v.kind == KindRegex }

func (v Value) IsNull() bool  { return v.kind == KindNull }
func (v Value) IsArray() bool { return v.kind == KindArray }

func isNumeric(k Kind) bool {
	return k == KindInt32 || k == KindInt64 || k == KindDouble || k == KindDecimal
}

// asBigFloat converts any numeric Value to an arbitrary precision float for cross-type
// comparison and arithmetic. Decimal128 is converted through its canonical string form,
// which keeps the conversion exact for any value representable by the other numeric kinds.
func asBigFloat(v Value) (*big.Float, bool) {
	switch v.kind {
	case KindInt32:
		return new(big.Float).SetInt64(int64(v.i32)), true
	case KindInt64:
		return new(big.Float).SetInt64(v.i64), true
	case KindDouble:
		return new(big.Float).SetFloat64(v.f64), true
	case KindDecimal:
		f, _, err := big.ParseFloat(v.dec.String(), 10, 200, big.ToNearestEven)
		if err != nil {
			return nil, false
		}
		return f, true
	}
	return nil, false
}

func isNaN(v Value) bool {
	return v.kind == KindDouble && math.IsNaN(v.f64)
}

// Ordering is the result of Compare.
type Ordering int

const (
	Less Ordering = iota - 1
	Equal
	Greater
	Incomparable
)

// typeRank fixes the canonical cross-type order used by both the runtime comparator
// and the index key encoding: null < numeric < string < document < array < binary <
// object-id < bool < datetime < timestamp < regex.
func typeRank(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindInt32, KindInt64, KindDouble, KindDecimal:
		return 1
	case KindString:
		return 2
	case KindDocument:
		return 3
	case KindArray:
		return 4
	case KindBinary:
		return 5
	case KindObjectID:
		return 6
	case KindBool:
		return 7
	case KindDateTime:
		return 8
	case KindTimestamp:
		return 9
	case KindRegex:
		return 10
	}
	return 11
}

// Compare implements the canonical total order: Less/Equal/Greater across and within
// canonical types, or Incomparable for regex-vs-regex (except identical pattern
// literals) and for any comparison involving NaN.
func Compare(a, b Value) Ordering {
	if isNaN(a) || isNaN(b) {
		return Incomparable
	}

	ra, rb := typeRank(a.kind), typeRank(b.kind)
	if ra != rb {
		if ra < rb {
			return Less
		}
		return Greater
	}

	switch a.kind {
	case KindNull:
		return Equal
	case KindInt32, KindInt64, KindDouble, KindDecimal:
		fa, _ := asBigFloat(a)
		fb, _ := asBigFloat(b)
		switch fa.Cmp(fb) {
		case -1:
			return Less
		case 1:
			return Greater
		default:
			return Equal
		}
	case KindString:
		return compareOrdered(a.str < b.str, a.str == b.str)
	case KindDocument:
		return compareBytes(EncodeCanonical(a), EncodeCanonical(b))
	case KindArray:
		return compareArrays(a.arr, b.arr)
	case KindBinary:
		return compareBytes(a.bin.Data, b.bin.Data)
	case KindObjectID:
		return compareBytes(a.oid[:], b.oid[:])
	case KindBool:
		if a.b == b.b {
			return Equal
		}
		if !a.b {
			return Less
		}
		return Greater
	case KindDateTime:
		return compareOrdered(a.dt < b.dt, a.dt == b.dt)
	case KindTimestamp:
		if a.ts.T != b.ts.T {
			return compareOrdered(a.ts.T < b.ts.T, false)
		}
		return compareOrdered(a.ts.I < b.ts.I, a.ts.I == b.ts.I)
	case KindRegex:
		if a.re.Pattern == b.re.Pattern && a.re.Options == b.re.Options {
			return Equal
		}
		return Incomparable
	}
	return Incomparable
}

func compareOrdered(less, equal bool) Ordering {
	if equal {
		return Equal
	}
	if less {
		return Less
	}
	return Greater
}

func compareBytes(a, b []byte) Ordering {
	return compareOrdered(bytes.Compare(a, b) < 0, bytes.Equal(a, b))
}

func compareArrays(a, b []Value) Ordering {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		switch Compare(a[i], b[i]) {
		case Less:
			return Less
		case Greater:
			return Greater
		case Incomparable:
			return Incomparable
		}
	}
	return compareOrdered(len(a) < len(b), len(a) == len(b))
}

// ValuesEqual reports whether a and b are equal: same-length, elementwise-equal
// arrays; same key set with elementwise-equal values for documents; exact numeric
// equality across the numeric family; pattern-literal equality for regex.
func ValuesEqual(a, b Value) bool {
	if a.kind == KindArray && b.kind == KindArray {
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !ValuesEqual(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	}
	if a.kind == KindDocument && b.kind == KindDocument {
		da, _ := a.AsDocument()
		db, _ := b.AsDocument()
		if len(da.fields) != len(db.fields) {
			return false
		}
		for _, f := range da.fields {
			bv, ok := db.Get(f.Key)
			if !ok || !ValuesEqual(f.Value, bv) {
				return false
			}
		}
		return true
	}
	return Compare(a, b) == Equal
}
