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
	"encoding/binary"
	"math"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Key is the byte type used for both document and index keys in the underlying store.
type Key []byte

// keyDelimiter separates the components of a composite key (kind tag+collection, index
// name, canonical value, doc id). It is lower than every byte produced by
// EncodeCanonical's type tags, so component boundaries never corrupt the overall
// lexicographic order of the keys that matter for range scans: components compare
// left to right the same way their source values do.
const keyDelimiter = 0x00

// Kind tags, the first component of every composite key.
const (
	kindDoc   byte = 'D'
	kindIndex byte = 'I'
)

// composeKey joins key components with the delimiter.
func composeKey(parts ...[]byte) Key {
	return Key(bytes.Join(parts, []byte{keyDelimiter}))
}

func putUvarint(id uint64) []byte {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, id)
	return buf[:n]
}

// DocKey builds the primary key for a stored document: kind 'D', collection id, then
// the canonical encoding of its _id value.
func DocKey(collectionID uint64, id Value) Key {
	return composeKey([]byte{kindDoc}, putUvarint(collectionID), EncodeCanonical(id))
}

// DocKeyPrefix returns the seek prefix for every document of a collection.
func DocKeyPrefix(collectionID uint64) Key {
	return composeKey([]byte{kindDoc}, putUvarint(collectionID))
}

// IndexKeyPrefix returns the seek prefix that selects every entry of a named index,
// regardless of value.
func IndexKeyPrefix(collectionID uint64, indexName string) Key {
	return composeKey([]byte{kindIndex}, putUvarint(collectionID), []byte(indexName))
}

// IndexValuePrefix returns the seek prefix that selects every entry of a named index
// with exactly the given indexed value (before the disambiguating doc id suffix).
func IndexValuePrefix(collectionID uint64, indexName string, value Value) Key {
	return composeKey([]byte{kindIndex}, putUvarint(collectionID), []byte(indexName), EncodeCanonical(value))
}

// IndexKey builds a full multikey secondary-index entry: kind 'I', collection id, index
// name, canonical value encoding, then a BSON-encoded _id suffix with its own trailing
// length so it can be sliced off exactly. Distinct array elements of the same document
// produce distinct keys because the value component differs; the same element indexed
// twice for the same document produces the same key, which is what makes encode-time
// dedup work. The _id suffix is BSON rather than EncodeCanonical because, unlike the
// value component, it must be decoded back to an exact, type-preserving Value when a
// cursor walks the index (EncodeCanonical's numeric funneling through float64 is
// one-way); entries sharing a value then sort by raw BSON bytes rather than _id's own
// canonical order, a documented deviation for disambiguation only - the value component
// still carries the real ordering a scan relies on.
func IndexKey(collectionID uint64, indexName string, value Value, id Value) Key {
	suffix := encodeIDSuffix(id)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(suffix)))
	return composeKey([]byte{kindIndex}, putUvarint(collectionID), []byte(indexName), EncodeCanonical(value), append(suffix, lenBuf[:]...))
}

// encodeIDSuffix and decodeIDSuffix round-trip an _id Value through BSON so a secondary
// index cursor can recover the exact id (and its exact Kind) needed to re-key into the
// primary document store.
func encodeIDSuffix(id Value) []byte {
	raw, err := bson.Marshal(bson.D{{Key: "id", Value: valueToInterface(id)}})
	if err != nil {
		return nil
	}
	return raw
}

// decodeIndexKeyID reads the trailing 4-byte length trailer of a full index entry key
// and decodes the BSON suffix it delimits.
func decodeIndexKeyID(key Key) Value {
	if len(key) < 4 {
		return Null()
	}
	n := len(key)
	suffixLen := int(binary.BigEndian.Uint32(key[n-4:]))
	if suffixLen < 0 || suffixLen+4 > n {
		return Null()
	}
	suffix := key[n-4-suffixLen : n-4]
	var d bson.D
	if err := bson.Unmarshal(suffix, &d); err != nil || len(d) == 0 {
		return Null()
	}
	return interfaceToValue(d[0].Value)
}

// EncodeCanonical produces the sort-preserving byte encoding of a Value: a one-byte type
// tag reflecting the canonical cross-type order, followed by a payload whose lexicographic
// order matches the runtime comparator for that type.
func EncodeCanonical(v Value) []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, byte(typeRank(v.kind)))

	switch v.kind {
	case KindNull:
		// tag only
	case KindInt32, KindInt64, KindDouble, KindDecimal:
		f, _ := asBigFloat(v)
		f64, _ := f.Float64()
		buf = append(buf, sortableFloatBytes(f64)...)
	case KindString:
		buf = append(buf, []byte(v.str)...)
	case KindDocument:
		doc, _ := v.AsDocument()
		for _, f := range sortedFields(doc) {
			buf = append(buf, []byte(f.Key)...)
			buf = append(buf, 0x01)
			buf = append(buf, EncodeCanonical(f.Value)...)
		}
	case KindArray:
		for _, e := range v.arr {
			buf = append(buf, EncodeCanonical(e)...)
		}
	case KindBinary:
		buf = append(buf, v.bin.Data...)
	case KindObjectID:
		buf = append(buf, v.oid[:]...)
	case KindBool:
		if v.b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindDateTime:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(v.dt))
		buf = append(buf, tmp[:]...)
	case KindTimestamp:
		var tmp [8]byte
		binary.BigEndian.PutUint32(tmp[0:4], v.ts.T)
		binary.BigEndian.PutUint32(tmp[4:8], v.ts.I)
		buf = append(buf, tmp[:]...)
	case KindRegex:
		buf = append(buf, []byte(v.re.Pattern)...)
		buf = append(buf, 0x01)
		buf = append(buf, []byte(v.re.Options)...)
	}
	return buf
}

// sortableFloatBytes applies the standard order-preserving transform for IEEE-754
// doubles: flip the sign bit for non-negative numbers, invert every bit for negative
// numbers. Every numeric Value is funneled through float64 for a single canonical
// numeric ordering; see DESIGN.md for the precision tradeoff this implies for very
// large int64/Decimal128 values.
func sortableFloatBytes(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bits)
	return buf[:]
}

func sortedFields(doc Document) []field {
	out := make([]field, len(doc.fields))
	copy(out, doc.fields)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Key > out[j].Key; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// NewObjectID is a convenience wrapper so callers don't need to import the primitive
// package directly just to mint document identities.
func NewObjectID() primitive.ObjectID {
	return primitive.NewObjectID()
}
