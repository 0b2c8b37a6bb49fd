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

import "sync"

// StoreOption configures a Store-backed database at open time.
type StoreOption func(*storeConfig)

type storeConfig struct {
	readOnly bool
}

// WithReadOnly opens the store without allowing Insert/Update/Delete/EnsureIndex; Find
// still works. Not currently enforced by BoltStore beyond documenting intent - wiring an
// OS-level read-only open flag is left to the concrete Store implementation.
func WithReadOnly() StoreOption {
	return func(c *storeConfig) { c.readOnly = true }
}

// DB owns a Store and the collections opened against it, handing out monotonically
// increasing collection ids so every Collection's keys live in a disjoint region of the
// underlying keyspace.
type DB struct {
	store Store
	mu    sync.Mutex
	ids   map[string]uint64
	next  uint64
}

// Open wraps an already-constructed Store (typically a *BoltStore) as a DB.
func Open(store Store, opts ...StoreOption) *DB {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &DB{store: store, ids: make(map[string]uint64), next: 1}
}

// Collection returns the named Collection, assigning it a fresh id on first use.
func (db *DB) Collection(name string) *Collection {
	db.mu.Lock()
	defer db.mu.Unlock()
	id, ok := db.ids[name]
	if !ok {
		id = db.next
		db.next++
		db.ids[name] = id
	}
	return &Collection{db: db, name: name, id: id}
}

// Collection is a named, id-addressed group of documents plus the secondary indexes
// declared over it.
type Collection struct {
	db   *DB
	name string
	id   uint64

	mu      sync.RWMutex
	indexes []*Index
}

// EnsureIndex registers idx and backfills it against every document already present.
func (c *Collection) EnsureIndex(idx *Index) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.db.store.Atomically(func(tx Store) error {
		cur := tx.ScanDocuments(c.id)
		defer cur.Close()
		for ok := cur.Rewind(); ok; ok = cur.Next() {
			if err := idx.insert(tx, c.id, cur.Document()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.indexes = append(c.indexes, idx)
	return nil
}

// Indexes returns the collection's registered secondary indexes.
func (c *Collection) Indexes() []*Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Index, len(c.indexes))
	copy(out, c.indexes)
	return out
}

// Insert stores doc, assigning a fresh ObjectID to _id if it is absent, and maintains
// every registered index. It fails with ErrUniqueIndexViolation without storing anything
// if a unique index would be violated.
func (c *Collection) Insert(doc Document) (Value, error) {
	c.mu.RLock()
	indexes := c.indexes
	c.mu.RUnlock()

	id, ok := doc.ID()
	if !ok {
		id = ObjectID(NewObjectID())
		doc = doc.Clone()
		doc.Set("_id", id)
	}

	err := c.db.store.Atomically(func(tx Store) error {
		if _, found, err := tx.GetDocument(c.id, id); err != nil {
			return err
		} else if found {
			return ErrUniqueIndexViolation
		}
		for _, idx := range indexes {
			if err := idx.insert(tx, c.id, doc); err != nil {
				return err
			}
		}
		return tx.PutDocument(c.id, id, doc)
	})
	if err != nil {
		return Value{}, err
	}
	return id, nil
}

// Delete removes the document with the given _id and every index entry it produced.
func (c *Collection) Delete(id Value) error {
	c.mu.RLock()
	indexes := c.indexes
	c.mu.RUnlock()

	return c.db.store.Atomically(func(tx Store) error {
		doc, found, err := tx.GetDocument(c.id, id)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		for _, idx := range indexes {
			if err := idx.remove(tx, c.id, doc); err != nil {
				return err
			}
		}
		return tx.DeleteDocument(c.id, id)
	})
}

// Replace overwrites the document with the given _id with replacement's fields (keeping
// _id itself fixed) and re-maintains every index. ErrModifyIdForbidden is returned if
// replacement attempts to change _id. Used as the low-level primitive under Update's
// operator application in update.go.
func (c *Collection) Replace(id Value, replacement Document) error {
	c.mu.RLock()
	indexes := c.indexes
	c.mu.RUnlock()

	if newID, ok := replacement.ID(); ok && !ValuesEqual(newID, id) {
		return ErrModifyIdForbidden
	}
	replacement = replacement.Clone()
	replacement.Set("_id", id)

	return c.db.store.Atomically(func(tx Store) error {
		old, found, err := tx.GetDocument(c.id, id)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		for _, idx := range indexes {
			if err := idx.remove(tx, c.id, old); err != nil {
				return err
			}
		}
		for _, idx := range indexes {
			if err := idx.insert(tx, c.id, replacement); err != nil {
				return err
			}
		}
		return tx.PutDocument(c.id, id, replacement)
	})
}

// Find compiles filter into the cheapest available program - a point lookup for a bare
// _id equality filter, an index scan when a registered index covers an equality
// condition on one of filter's top-level fields, or a full collection scan otherwise -
// and runs it to completion.
func (c *Collection) Find(filter Document) ([]Document, error) {
	prog, err := c.planQuery(filter)
	if err != nil {
		return nil, err
	}
	return newVM(c.db.store, prog).Run(c.db.store)
}

func (c *Collection) planQuery(filter Document) (*Program, error) {
	if id, ok := pointLookupID(filter); ok {
		return CompilePointLookup(c.id, c.name, id)
	}

	c.mu.RLock()
	indexes := c.indexes
	c.mu.RUnlock()

	for _, idx := range indexes {
		// A tokenized index stores per-token entries, so a whole-value equality seek
		// can land past every entry the matching documents produced; only the full
		// scan evaluates such filters correctly.
		if idx.tokenizer != nil {
			continue
		}
		if seekValue, ok := idx.matchesEquality(filter); ok {
			return CompileIndexScan(c.id, idx.Name, idx.applyTransform(seekValue), filter)
		}
	}

	return CompileFullScan(c.id, c.name, filter)
}
