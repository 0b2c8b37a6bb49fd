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

import "strings"

// SplitPath splits a dotted key into its segments. A segment is either a field name or
// an unsigned decimal integer.
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}

// segmentIndex reports whether a segment denotes a non-negative array index, matching
// MongoDB dotted-path semantics: a numeric segment is always positional, never a
// projection key.
func segmentIndex(segment string) (int, bool) {
	if segment == "" {
		return 0, false
	}
	n := 0
	for _, r := range segment {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// FirstNumericSegment returns the index of the first numeric segment in path, or -1 if
// none. The filter compiler uses this to decide where a dotted path must split into a
// GetField followed by a GetArrayElement.
func FirstNumericSegment(segments []string) int {
	for i, s := range segments {
		if _, ok := segmentIndex(s); ok {
			return i
		}
	}
	return -1
}

// Resolve resolves a dotted path against a document: walk segments left to right, descending
// into subdocuments, indexing into arrays positionally on a numeric segment, and
// projecting through arrays of subdocuments on a non-numeric segment. It returns
// (value, true) on a match, or (Value{}, false) when the path doesn't resolve.
func Resolve(doc Document, path string) (Value, bool) {
	return resolveSegments(doc.AsValue(), SplitPath(path))
}

// ResolveSegments is the segment-list entry point used by the compiler when it has
// already split a path at its first numeric segment.
func ResolveSegments(v Value, segments []string) (Value, bool) {
	return resolveSegments(v, segments)
}

func resolveSegments(current Value, segments []string) (Value, bool) {
	if len(segments) == 0 {
		return current, true
	}

	s := segments[0]

	switch current.kind {
	case KindDocument:
		doc, _ := current.AsDocument()
		v, ok := doc.Get(s)
		if !ok {
			return Value{}, false
		}
		return resolveSegments(v, segments[1:])

	case KindArray:
		if idx, ok := segmentIndex(s); ok {
			if idx < 0 || idx >= len(current.arr) {
				return Value{}, false
			}
			return resolveSegments(current.arr[idx], segments[1:])
		}

		// Implicit projection: resolve the remaining path (starting at s, since the
		// array itself consumed no segment) against every subdocument element,
		// flattening the non-missing results into one leaf array.
		var leaves []Value
		for _, elem := range current.arr {
			if elem.kind != KindDocument {
				continue
			}
			v, ok := resolveSegments(elem, segments)
			if !ok {
				continue
			}
			if v.kind == KindArray {
				leaves = append(leaves, v.arr...)
			} else {
				leaves = append(leaves, v)
			}
		}
		if len(leaves) == 0 {
			return Value{}, false
		}
		return Array(leaves...), true

	default:
		// Scalars terminate traversal; any remaining segment means no match.
		return Value{}, false
	}
}

// ResolveArrayElement implements the VM's explicit GetArrayElement opcode: positional
// access against the current value, with no projection fallback.
func ResolveArrayElement(current Value, index int) (Value, bool) {
	if current.kind != KindArray || index < 0 || index >= len(current.arr) {
		return Value{}, false
	}
	return current.arr[index], true
}
