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

// Store is the abstract ordered-KV contract the VM's cursor opcodes run against. The
// underlying engine (bbolt here, see storage_bbolt.go) and the BSON wire format used to
// persist a Document are both external concerns; Store only has to hand back decoded
// Documents and let the VM walk them in key order.
type Store interface {
	// GetDocument fetches a single document by primary key.
	GetDocument(collectionID uint64, id Value) (Document, bool, error)

	// PutDocument inserts or overwrites a document's primary record.
	PutDocument(collectionID uint64, id Value, doc Document) error

	// DeleteDocument removes a document's primary record.
	DeleteDocument(collectionID uint64, id Value) error

	// PutIndexEntry and DeleteIndexEntry maintain one secondary-index key. The caller
	// (Index, see index.go) is responsible for multikey expansion and dedup; Store just
	// stores or removes the byte key.
	PutIndexEntry(key Key) error
	DeleteIndexEntry(key Key) error

	// ScanDocuments opens a cursor over every primary record of a collection, in key
	// order (ascending canonical _id order, per DocKey's layout).
	ScanDocuments(collectionID uint64) DocCursor

	// ScanIndex opens a cursor over a secondary index's entries starting at seekKey,
	// bounded to keys sharing its collection+index-name prefix.
	ScanIndex(collectionID uint64, indexName string, seekKey Key) IndexCursor

	// Atomically runs fn; any error rolls back every Put/Delete fn performed through
	// this Store value.
	Atomically(fn func(Store) error) error
}

// DocCursor walks a collection's primary records.
type DocCursor interface {
	// Rewind positions the cursor at the first record. It returns false if the
	// collection has no records.
	Rewind() bool
	// Next advances to the following record, returning false once exhausted.
	Next() bool
	// Document returns the record at the cursor's current position.
	Document() Document
	Close() error
}

// IndexCursor walks a secondary index's entries in canonical-value order.
type IndexCursor interface {
	// Seek positions the cursor at prefix or the first key greater than it, returning
	// false if nothing in the index shares prefix's collection+index-name bound.
	Seek(prefix Key) bool
	// Next advances to the following entry, returning false once the entries sharing
	// the seeked prefix are exhausted.
	Next() bool
	// DocID returns the primary key id encoded in the entry at the cursor's current
	// position.
	DocID() Value
	// Key returns the raw byte key at the cursor's current position, so a caller that
	// seeked on a value-specific prefix (IndexValuePrefix) can tell an exact match from
	// Seek merely landing on the next key sharing only the broader index-name prefix.
	Key() Key
	Close() error
}
