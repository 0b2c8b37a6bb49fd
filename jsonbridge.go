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
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ParseJSONDocument builds a Document from a single JSON object, using gjson to walk the
// object's fields in source order without requiring a schema up front. BSON-flavored
// scalars (ObjectID, Decimal128, DateTime, Regex, Binary) have no JSON-native
// representation, so the usual MongoDB Extended JSON convention is honored for them: a
// single-key wrapper object such as {"$oid": "..."}; every other JSON value maps onto the
// obvious Value constructor. Returns an error wrapped at this boundary if raw isn't a
// JSON object.
func ParseJSONDocument(raw []byte) (Document, error) {
	result := gjson.ParseBytes(raw)
	if !result.IsObject() {
		return Document{}, errors.New("qvm: JSON document must be an object")
	}
	doc, err := jsonObjectToDocument(result)
	if err != nil {
		return Document{}, errors.Wrap(err, "qvm: parse JSON document")
	}
	return doc, nil
}

func jsonObjectToDocument(obj gjson.Result) (Document, error) {
	doc := NewDocument()
	var outerErr error
	obj.ForEach(func(key, val gjson.Result) bool {
		v, err := jsonValueToValue(val)
		if err != nil {
			outerErr = err
			return false
		}
		doc.Set(key.String(), v)
		return true
	})
	if outerErr != nil {
		return Document{}, outerErr
	}
	return doc, nil
}

func jsonValueToValue(r gjson.Result) (Value, error) {
	switch r.Type {
	case gjson.Null:
		return Null(), nil
	case gjson.False:
		return Bool(false), nil
	case gjson.True:
		return Bool(true), nil
	case gjson.String:
		return String(r.String()), nil
	case gjson.Number:
		return jsonNumberToValue(r), nil
	case gjson.JSON:
		if r.IsArray() {
			var vs []Value
			var err error
			r.ForEach(func(_, elem gjson.Result) bool {
				v, e := jsonValueToValue(elem)
				if e != nil {
					err = e
					return false
				}
				vs = append(vs, v)
				return true
			})
			if err != nil {
				return Value{}, err
			}
			return Array(vs...), nil
		}
		if ext, ok := extendedJSONValue(r); ok {
			return ext, nil
		}
		doc, err := jsonObjectToDocument(r)
		if err != nil {
			return Value{}, err
		}
		return doc.AsValue(), nil
	}
	return Null(), nil
}

// jsonNumberToValue picks int32/int64/double the way a JSON parser without a schema
// naturally would: an integral literal becomes the narrowest integer Kind that holds it
// exactly, anything with a fractional part or exponent becomes a double.
func jsonNumberToValue(r gjson.Result) Value {
	raw := r.Raw
	isInt := true
	for _, c := range raw {
		if c == '.' || c == 'e' || c == 'E' {
			isInt = false
			break
		}
	}
	if isInt {
		i := r.Int()
		if i >= -(1<<31) && i < (1<<31) {
			return Int32(int32(i))
		}
		return Int64(i)
	}
	return Double(r.Float())
}

// extendedJSONValue recognizes the single-key MongoDB Extended JSON wrappers this bridge
// accepts for variants JSON has no native type for. An object with more than one key, or
// a key it doesn't recognize, falls through to ordinary document parsing.
func extendedJSONValue(r gjson.Result) (Value, bool) {
	keys := 0
	var onlyKey string
	var onlyVal gjson.Result
	r.ForEach(func(k, v gjson.Result) bool {
		keys++
		onlyKey = k.String()
		onlyVal = v
		return keys <= 1
	})
	if keys != 1 {
		return Value{}, false
	}
	switch onlyKey {
	case "$oid":
		return parseObjectIDExtJSON(onlyVal.String())
	case "$date":
		return parseDateTimeExtJSON(onlyVal)
	case "$numberDecimal":
		return parseDecimalExtJSON(onlyVal.String())
	case "$regex":
		return Regex(onlyVal.String(), ""), true
	}
	return Value{}, false
}

func parseObjectIDExtJSON(s string) (Value, bool) {
	oid, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return Value{}, false
	}
	return ObjectID(oid), true
}

func parseDateTimeExtJSON(r gjson.Result) (Value, bool) {
	if r.Type == gjson.Number {
		return DateTime(primitive.DateTime(r.Int())), true
	}
	t, err := time.Parse(time.RFC3339, r.String())
	if err != nil {
		return Value{}, false
	}
	return DateTime(primitive.NewDateTimeFromTime(t)), true
}

func parseDecimalExtJSON(s string) (Value, bool) {
	d, err := primitive.ParseDecimal128(s)
	if err != nil {
		return Value{}, false
	}
	return Decimal(d), true
}
