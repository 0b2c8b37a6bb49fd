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

// field is one key/value pair of a Document, kept in insertion order.
type field struct {
	Key   string
	Value Value
}

// Document is an ordered mapping string -> Value. The identity attribute "_id" is
// required on every stored document; Collection enforces that on Insert.
type Document struct {
	fields []field
}

// NewDocument builds a Document from key/value pairs supplied in order.
func NewDocument() Document {
	return Document{}
}

// Set appends or overwrites a field, preserving first-seen order for new keys and the
// original position for keys that already exist.
func (d *Document) Set(key string, v Value) {
	for i := range d.fields {
		if d.fields[i].Key == key {
			d.fields[i].Value = v
			return
		}
	}
	d.fields = append(d.fields, field{Key: key, Value: v})
}

// Get looks up a top-level field by exact key.
func (d Document) Get(key string) (Value, bool) {
	for _, f := range d.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Unset removes a field by key, if present.
func (d *Document) Unset(key string) {
	for i := range d.fields {
		if d.fields[i].Key == key {
			d.fields = append(d.fields[:i], d.fields[i+1:]...)
			return
		}
	}
}

// Keys returns the field names in document order.
func (d Document) Keys() []string {
	keys := make([]string, len(d.fields))
	for i, f := range d.fields {
		keys[i] = f.Key
	}
	return keys
}

// Fields exposes the ordered key/value pairs for callers that need to iterate (the
// compiler's literal pool, canonical encoding, aggregation's $addFields/$unset).
func (d Document) Fields() []struct {
	Key   string
	Value Value
} {
	out := make([]struct {
		Key   string
		Value Value
	}, len(d.fields))
	for i, f := range d.fields {
		out[i] = struct {
			Key   string
			Value Value
		}{f.Key, f.Value}
	}
	return out
}

// Clone returns a shallow copy of the document's field list; safe to mutate with
// Set/Unset without affecting the original. Nested Values are not deep-copied.
func (d Document) Clone() Document {
	cp := make([]field, len(d.fields))
	copy(cp, d.fields)
	return Document{fields: cp}
}

// ID returns the value of the required "_id" field.
func (d Document) ID() (Value, bool) {
	return d.Get("_id")
}

// AsValue wraps the document as a Value of KindDocument, for use as a literal or as an
// element of an array.
func (d Document) AsValue() Value {
	return FromDocument(d)
}
