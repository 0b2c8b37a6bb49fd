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
	"fmt"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// docsBucket and indexBucket separate primary records from secondary-index keys inside a
// single bbolt file.
var (
	docsBucket  = []byte("docs")
	indexBucket = []byte("index")
)

// BoltStore is the Store implementation backing an on-disk database: bbolt for ordered
// byte-range storage, BSON for document serialization. Documents decoded out of bbolt
// are handed to the VM already as Document/Value; BSON marshaling is entirely this
// adapter's concern.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (creating if necessary) a bbolt-backed Store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "qvm: open bbolt store")
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(docsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(indexBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "qvm: initialize bbolt buckets")
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) GetDocument(collectionID uint64, id Value) (Document, bool, error) {
	var doc Document
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(docsBucket).Get(DocKey(collectionID, id))
		if raw == nil {
			return nil
		}
		found = true
		var err error
		doc, err = decodeDocument(raw)
		return err
	})
	if err != nil {
		return Document{}, false, wrapStorage("get", err)
	}
	return doc, found, nil
}

func (s *BoltStore) PutDocument(collectionID uint64, id Value, doc Document) error {
	raw, err := encodeDocument(doc)
	if err != nil {
		return wrapStorage("put", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(docsBucket).Put(DocKey(collectionID, id), raw)
	})
	if err != nil {
		return wrapStorage("put", err)
	}
	return nil
}

func (s *BoltStore) DeleteDocument(collectionID uint64, id Value) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(docsBucket).Delete(DocKey(collectionID, id))
	})
	if err != nil {
		return wrapStorage("delete", err)
	}
	return nil
}

func (s *BoltStore) PutIndexEntry(key Key) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(indexBucket).Put(key, []byte{1})
	})
	if err != nil {
		return wrapStorage("index-put", err)
	}
	return nil
}

func (s *BoltStore) DeleteIndexEntry(key Key) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(indexBucket).Delete(key)
	})
	if err != nil {
		return wrapStorage("index-delete", err)
	}
	return nil
}

func (s *BoltStore) ScanDocuments(collectionID uint64) DocCursor {
	return &boltDocCursor{store: s, prefix: DocKeyPrefix(collectionID)}
}

func (s *BoltStore) ScanIndex(collectionID uint64, indexName string, seekKey Key) IndexCursor {
	return &boltIndexCursor{store: s, prefix: IndexKeyPrefix(collectionID, indexName), start: seekKey}
}

func (s *BoltStore) Atomically(fn func(Store) error) error {
	tx, err := s.db.Begin(true)
	if err != nil {
		return wrapStorage("begin", err)
	}
	txStore := &boltTxStore{tx: tx}
	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapStorage("commit", err)
	}
	return nil
}

// boltTxStore wraps a single open bbolt write transaction so Atomically's callback sees
// the same Store surface without re-opening transactions per call.
type boltTxStore struct {
	tx *bbolt.Tx
}

func (t *boltTxStore) GetDocument(collectionID uint64, id Value) (Document, bool, error) {
	raw := t.tx.Bucket(docsBucket).Get(DocKey(collectionID, id))
	if raw == nil {
		return Document{}, false, nil
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return Document{}, false, wrapStorage("get", err)
	}
	return doc, true, nil
}

func (t *boltTxStore) PutDocument(collectionID uint64, id Value, doc Document) error {
	raw, err := encodeDocument(doc)
	if err != nil {
		return wrapStorage("put", err)
	}
	if err := t.tx.Bucket(docsBucket).Put(DocKey(collectionID, id), raw); err != nil {
		return wrapStorage("put", err)
	}
	return nil
}

func (t *boltTxStore) DeleteDocument(collectionID uint64, id Value) error {
	if err := t.tx.Bucket(docsBucket).Delete(DocKey(collectionID, id)); err != nil {
		return wrapStorage("delete", err)
	}
	return nil
}

func (t *boltTxStore) PutIndexEntry(key Key) error {
	if err := t.tx.Bucket(indexBucket).Put(key, []byte{1}); err != nil {
		return wrapStorage("index-put", err)
	}
	return nil
}

func (t *boltTxStore) DeleteIndexEntry(key Key) error {
	if err := t.tx.Bucket(indexBucket).Delete(key); err != nil {
		return wrapStorage("index-delete", err)
	}
	return nil
}

func (t *boltTxStore) ScanDocuments(collectionID uint64) DocCursor {
	return &boltTxDocCursor{tx: t.tx, prefix: DocKeyPrefix(collectionID)}
}

func (t *boltTxStore) ScanIndex(collectionID uint64, indexName string, seekKey Key) IndexCursor {
	return &boltTxIndexCursor{tx: t.tx, prefix: IndexKeyPrefix(collectionID, indexName), start: seekKey}
}

func (t *boltTxStore) Atomically(fn func(Store) error) error {
	return fn(t)
}

// boltDocCursor and boltIndexCursor each open a fresh read-only bbolt transaction that
// stays open for the cursor's lifetime; Close releases it.
type boltDocCursor struct {
	store  *BoltStore
	prefix Key
	tx     *bbolt.Tx
	c      *bbolt.Cursor
	k, v   []byte
}

func (c *boltDocCursor) open() {
	c.tx, _ = c.store.db.Begin(false)
	c.c = c.tx.Bucket(docsBucket).Cursor()
}

func (c *boltDocCursor) Rewind() bool {
	c.open()
	c.k, c.v = c.c.Seek(c.prefix)
	return c.inBounds()
}

func (c *boltDocCursor) Next() bool {
	c.k, c.v = c.c.Next()
	return c.inBounds()
}

func (c *boltDocCursor) inBounds() bool {
	return c.k != nil && bytes.HasPrefix(c.k, c.prefix)
}

func (c *boltDocCursor) Document() Document {
	doc, _ := decodeDocument(c.v)
	return doc
}

func (c *boltDocCursor) Close() error {
	if c.tx != nil {
		return c.tx.Rollback()
	}
	return nil
}

type boltIndexCursor struct {
	store  *BoltStore
	prefix Key
	start  Key
	tx     *bbolt.Tx
	c      *bbolt.Cursor
	k      []byte
}

func (c *boltIndexCursor) Seek(seekKey Key) bool {
	c.tx, _ = c.store.db.Begin(false)
	c.c = c.tx.Bucket(indexBucket).Cursor()
	key := seekKey
	if key == nil {
		key = c.prefix
	}
	c.k, _ = c.c.Seek(key)
	return c.inBounds()
}

func (c *boltIndexCursor) Next() bool {
	c.k, _ = c.c.Next()
	return c.inBounds()
}

func (c *boltIndexCursor) inBounds() bool {
	return c.k != nil && bytes.HasPrefix(c.k, c.prefix)
}

func (c *boltIndexCursor) DocID() Value {
	return decodeIndexEntryDocID(c.k)
}

func (c *boltIndexCursor) Key() Key {
	return Key(c.k)
}

func (c *boltIndexCursor) Close() error {
	if c.tx != nil {
		return c.tx.Rollback()
	}
	return nil
}

// boltTxDocCursor/boltTxIndexCursor are the in-transaction equivalents used inside
// Atomically, where a second nested bbolt transaction isn't available.
type boltTxDocCursor struct {
	tx     *bbolt.Tx
	prefix Key
	c      *bbolt.Cursor
	k, v   []byte
}

func (c *boltTxDocCursor) Rewind() bool {
	c.c = c.tx.Bucket(docsBucket).Cursor()
	c.k, c.v = c.c.Seek(c.prefix)
	return c.k != nil && bytes.HasPrefix(c.k, c.prefix)
}

func (c *boltTxDocCursor) Next() bool {
	c.k, c.v = c.c.Next()
	return c.k != nil && bytes.HasPrefix(c.k, c.prefix)
}

func (c *boltTxDocCursor) Document() Document {
	doc, _ := decodeDocument(c.v)
	return doc
}

func (c *boltTxDocCursor) Close() error { return nil }

type boltTxIndexCursor struct {
	tx     *bbolt.Tx
	prefix Key
	start  Key
	c      *bbolt.Cursor
	k      []byte
}

func (c *boltTxIndexCursor) Seek(seekKey Key) bool {
	c.c = c.tx.Bucket(indexBucket).Cursor()
	key := seekKey
	if key == nil {
		key = c.prefix
	}
	c.k, _ = c.c.Seek(key)
	return c.k != nil && bytes.HasPrefix(c.k, c.prefix)
}

func (c *boltTxIndexCursor) Next() bool {
	c.k, _ = c.c.Next()
	return c.k != nil && bytes.HasPrefix(c.k, c.prefix)
}

func (c *boltTxIndexCursor) DocID() Value {
	return decodeIndexEntryDocID(c.k)
}

func (c *boltTxIndexCursor) Key() Key {
	return Key(c.k)
}

func (c *boltTxIndexCursor) Close() error { return nil }

// decodeIndexEntryDocID recovers the _id that IndexKey encoded into an index entry's
// trailing length-prefixed BSON suffix.
func decodeIndexEntryDocID(key Key) Value {
	return decodeIndexKeyID(key)
}

// encodeDocument/decodeDocument translate between Document and BSON bytes. Document field
// order is preserved via bson.D, and every Value variant maps onto a BSON-native Go type
// the driver already knows how to marshal, so no bespoke wire format is needed.
func encodeDocument(doc Document) ([]byte, error) {
	d := bson.D{}
	for _, f := range doc.Fields() {
		d = append(d, bson.E{Key: f.Key, Value: valueToInterface(f.Value)})
	}
	raw, err := bson.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "qvm: marshal document")
	}
	return raw, nil
}

func decodeDocument(raw []byte) (Document, error) {
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return Document{}, errors.Wrap(err, "qvm: unmarshal document")
	}
	doc := NewDocument()
	for _, e := range d {
		doc.Set(e.Key, interfaceToValue(e.Value))
	}
	return doc, nil
}

func valueToInterface(v Value) interface{} {
	switch v.Kind() {
	case KindNull:
		return nil
	case KindBool:
		b, _ := v.AsBool()
		return b
	case KindInt32:
		return v.i32
	case KindInt64:
		return v.i64
	case KindDouble:
		return v.f64
	case KindDecimal:
		return v.dec
	case KindString:
		s, _ := v.AsString()
		return s
	case KindBinary:
		return v.bin
	case KindObjectID:
		return v.oid
	case KindDateTime:
		return v.dt
	case KindTimestamp:
		return v.ts
	case KindRegex:
		re, _ := v.AsRegex()
		return re
	case KindArray:
		arr, _ := v.AsArray()
		out := bson.A{}
		for _, e := range arr {
			out = append(out, valueToInterface(e))
		}
		return out
	case KindDocument:
		doc, _ := v.AsDocument()
		d := bson.D{}
		for _, f := range doc.Fields() {
			d = append(d, bson.E{Key: f.Key, Value: valueToInterface(f.Value)})
		}
		return d
	}
	return nil
}

func interfaceToValue(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int32:
		return Int32(t)
	case int64:
		return Int64(t)
	case int:
		return Int64(int64(t))
	case float64:
		return Double(t)
	case primitive.Decimal128:
		return Decimal(t)
	case string:
		return String(t)
	case primitive.Binary:
		return Binary(t)
	case primitive.ObjectID:
		return ObjectID(t)
	case primitive.DateTime:
		return DateTime(t)
	case primitive.Timestamp:
		return Timestamp(t)
	case primitive.Regex:
		return Regex(t.Pattern, t.Options)
	case bson.A:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = interfaceToValue(e)
		}
		return Array(vs...)
	case bson.D:
		doc := NewDocument()
		for _, e := range t {
			doc.Set(e.Key, interfaceToValue(e.Value))
		}
		return doc.AsValue()
	case bson.M:
		doc := NewDocument()
		for k, e := range t {
			doc.Set(k, interfaceToValue(e))
		}
		return doc.AsValue()
	default:
		return String(fmt.Sprintf("%v", t))
	}
}
