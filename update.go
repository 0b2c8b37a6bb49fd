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
	"fmt"
	"strings"
)

// ApplyUpdate computes the document that results from applying an update document (one
// or more of $set/$unset/$inc/$mul/$min/$max/$rename/$push/$pop, each mapping a dotted
// path to an argument) to doc. It never mutates doc; it returns the new value. _id may
// not be targeted by any operator, as either an operator's source path or (for $rename)
// its destination name - ErrModifyIdForbidden is returned immediately, before any
// operator runs.
func ApplyUpdate(doc Document, update Document) (Document, error) {
	out := doc.Clone()
	for _, f := range update.Fields() {
		op := f.Key
		argsDoc, ok := f.Value.AsDocument()
		if !ok {
			return Document{}, fmt.Errorf("%w: update operator %s requires a document", ErrInvalidField, op)
		}
		for _, arg := range argsDoc.Fields() {
			if touchesID(arg.Key) {
				return Document{}, ErrModifyIdForbidden
			}
			if op == "$rename" {
				if dest, ok := arg.Value.AsString(); ok && touchesID(dest) {
					return Document{}, ErrModifyIdForbidden
				}
			}
			var err error
			out, err = applyOperator(out, op, arg.Key, arg.Value)
			if err != nil {
				return Document{}, err
			}
		}
	}
	return out, nil
}

// touchesID reports whether a dotted update path lands on or under the identity field.
func touchesID(path string) bool {
	return path == "_id" || strings.HasPrefix(path, "_id.")
}

func applyOperator(doc Document, op, path string, arg Value) (Document, error) {
	switch op {
	case "$set":
		return setPath(doc, path, arg), nil
	case "$unset":
		return unsetPath(doc, path), nil
	case "$inc":
		cur, _ := Resolve(doc, path)
		return setPath(doc, path, addNumeric(zeroIfMissing(cur), arg)), nil
	case "$mul":
		cur, _ := Resolve(doc, path)
		return setPath(doc, path, mulNumeric(zeroIfMissingOne(cur), arg)), nil
	case "$min":
		cur, ok := Resolve(doc, path)
		if !ok || Compare(arg, cur) == Less {
			return setPath(doc, path, arg), nil
		}
		return doc, nil
	case "$max":
		cur, ok := Resolve(doc, path)
		if !ok || Compare(arg, cur) == Greater {
			return setPath(doc, path, arg), nil
		}
		return doc, nil
	case "$rename":
		newName, ok := arg.AsString()
		if !ok {
			return Document{}, fmt.Errorf("%w: $rename requires a string target", ErrInvalidField)
		}
		cur, ok := Resolve(doc, path)
		if !ok {
			return doc, nil
		}
		doc = unsetPath(doc, path)
		return setPath(doc, newName, cur), nil
	case "$push":
		cur, ok := Resolve(doc, path)
		var arr []Value
		if ok {
			arr, _ = cur.AsArray()
		}
		return setPath(doc, path, Array(append(append([]Value{}, arr...), arg)...)), nil
	case "$pop":
		cur, ok := Resolve(doc, path)
		if !ok || !cur.IsArray() {
			return doc, nil
		}
		arr, _ := cur.AsArray()
		if len(arr) == 0 {
			return doc, nil
		}
		n, _ := asBigFloat(arg)
		dir, _ := n.Float64()
		var next []Value
		if dir < 0 {
			next = arr[1:]
		} else {
			next = arr[:len(arr)-1]
		}
		return setPath(doc, path, Array(next...)), nil
	}
	return Document{}, fmt.Errorf("%w: %s", ErrUnknownOperator, op)
}

func zeroIfMissing(v Value) Value {
	if v.Kind() == KindNull {
		return Int64(0)
	}
	return v
}

func zeroIfMissingOne(v Value) Value {
	if v.Kind() == KindNull {
		return Int64(1)
	}
	return v
}

// setPath writes v at a (possibly dotted, non-numeric) path, creating intermediate
// subdocuments as needed. Positional array segments are not supported by update paths -
// $push/$pop operate on the whole array field instead.
func setPath(doc Document, path string, v Value) Document {
	segments := SplitPath(path)
	doc.Set(segments[0], setSegments(getOrEmptyDoc(doc, segments[0]), segments[1:], v))
	return doc
}

func setSegments(current Value, rest []string, v Value) Value {
	if len(rest) == 0 {
		return v
	}
	sub, ok := current.AsDocument()
	if !ok {
		sub = NewDocument()
	}
	sub.Set(rest[0], setSegments(getOrEmptyDoc(sub, rest[0]), rest[1:], v))
	return sub.AsValue()
}

func getOrEmptyDoc(doc Document, key string) Value {
	if v, ok := doc.Get(key); ok {
		return v
	}
	return NewDocument().AsValue()
}

// unsetPath removes the field at (possibly dotted) path.
func unsetPath(doc Document, path string) Document {
	segments := SplitPath(path)
	if len(segments) == 1 {
		doc.Unset(segments[0])
		return doc
	}
	top, ok := doc.Get(segments[0])
	if !ok {
		return doc
	}
	sub, ok := top.AsDocument()
	if !ok {
		return doc
	}
	sub = unsetPath(sub, joinRest(segments[1:]))
	doc.Set(segments[0], sub.AsValue())
	return doc
}

func joinRest(segments []string) string {
	out := segments[0]
	for _, s := range segments[1:] {
		out += "." + s
	}
	return out
}
