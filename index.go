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

import "bytes"

// IndexOption configures an Index at creation time, following the functional-options
// idiom used throughout this package for Store/Collection configuration.
type IndexOption func(*Index)

// WithUnique marks the index as enforcing uniqueness of its indexed value across
// documents. Per the Non-goals, uniqueness is not enforced when the indexed path
// resolves to more than one value for a single document (a multikey entry); Insert/
// Update return ErrUniqueIndexViolation only for genuine single-valued collisions.
func WithUnique() IndexOption {
	return func(i *Index) { i.unique = true }
}

// WithTransform installs a value transform applied to every resolved field value before
// it is encoded into an index entry - e.g. case-folding a string field so the index (and
// any query planned against it) is case-insensitive without changing the stored document.
func WithTransform(fn func(Value) Value) IndexOption {
	return func(i *Index) { i.transform = fn }
}

// WithTokenizer splits a resolved string field value into multiple index entries (one
// per token), turning a scalar field into a multikey index the way an array field
// naturally is. Used for simple prefix/substring search support layered on top of the
// core equality index without requiring a textual query language.
func WithTokenizer(fn func(string) []string) IndexOption {
	return func(i *Index) { i.tokenizer = fn }
}

// Index is a named secondary index over one dotted field path of a collection.
type Index struct {
	Name   string
	Path   string
	unique bool

	transform func(Value) Value
	tokenizer func(string) []string
}

// NewIndex builds an Index descriptor. It does not touch storage; Collection.EnsureIndex
// backfills existing documents and registers it.
func NewIndex(name, path string, opts ...IndexOption) *Index {
	idx := &Index{Name: name, Path: path}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// entryValues resolves path against doc and returns the distinct values that should each
// receive their own index entry: one per element for an array-valued resolution
// (multikey), or a single value otherwise. A tokenizer further fans a string value out
// into per-token entries. A transform, if set, is applied to every entry value.
func (idx *Index) entryValues(doc Document) []Value {
	resolved, ok := Resolve(doc, idx.Path)
	if !ok {
		return nil
	}

	var raw []Value
	if resolved.IsArray() {
		arr, _ := resolved.AsArray()
		raw = arr
	} else {
		raw = []Value{resolved}
	}

	var out []Value
	for _, v := range raw {
		if idx.tokenizer != nil {
			if s, ok := v.AsString(); ok {
				for _, tok := range idx.tokenizer(s) {
					out = append(out, idx.applyTransform(String(tok)))
				}
				continue
			}
		}
		out = append(out, idx.applyTransform(v))
	}
	return dedupValues(out)
}

func (idx *Index) applyTransform(v Value) Value {
	if idx.transform == nil {
		return v
	}
	return idx.transform(v)
}

// dedupValues removes values that would encode to the same canonical bytes, so a
// document whose array field repeats an element doesn't produce duplicate index entries.
// Query-time _id dedup in the VM handles the cross-element case separately.
func dedupValues(vs []Value) []Value {
	seen := make(map[string]bool, len(vs))
	out := vs[:0]
	for _, v := range vs {
		key := string(EncodeCanonical(v))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// insert writes every entry for doc, enforcing uniqueness per entry value against every
// other document's entries. A document whose path resolves to more than one value is not
// rejected merely for being multikey; each of its values is checked individually, and
// ErrUniqueIndexViolation is returned without writing any entry the moment one of them
// already belongs to a different _id.
func (idx *Index) insert(store Store, collectionID uint64, doc Document) error {
	values := idx.entryValues(doc)
	if len(values) == 0 {
		return nil
	}
	id, _ := doc.ID()

	if idx.unique {
		for _, v := range values {
			valuePrefix := IndexValuePrefix(collectionID, idx.Name, v)
			// The full entry key is valuePrefix + delimiter + id suffix; checking against
			// the delimited boundary keeps a value whose encoding is a proper prefix of
			// another's (e.g. "a" vs "ab") from registering as a collision.
			boundary := append(append(Key{}, valuePrefix...), keyDelimiter)
			existing := store.ScanIndex(collectionID, idx.Name, valuePrefix)
			found := existing.Seek(valuePrefix) && bytes.HasPrefix(existing.Key(), boundary)
			var existingID Value
			if found {
				existingID = existing.DocID()
			}
			existing.Close()
			if found && !ValuesEqual(existingID, id) {
				return ErrUniqueIndexViolation
			}
		}
	}

	for _, v := range values {
		if err := store.PutIndexEntry(IndexKey(collectionID, idx.Name, v, id)); err != nil {
			return err
		}
	}
	return nil
}

// remove deletes every entry insert would have written for doc, used on delete and as the
// first half of an update's index maintenance.
func (idx *Index) remove(store Store, collectionID uint64, doc Document) error {
	id, _ := doc.ID()
	for _, v := range idx.entryValues(doc) {
		if err := store.DeleteIndexEntry(IndexKey(collectionID, idx.Name, v, id)); err != nil {
			return err
		}
	}
	return nil
}

// matchesEquality reports whether a filter value on idx.Path is a plain equality test
// (bare literal, or {$eq: literal}) that CompileIndexScan can seek directly, and returns
// the literal to seek on.
func (idx *Index) matchesEquality(filter Document) (Value, bool) {
	v, ok := filter.Get(idx.Path)
	if !ok {
		return Value{}, false
	}
	if v.Kind() != KindDocument {
		return v, true
	}
	doc, _ := v.AsDocument()
	fields := doc.Fields()
	if len(fields) == 1 && fields[0].Key == "$eq" {
		return fields[0].Value, true
	}
	return Value{}, false
}
