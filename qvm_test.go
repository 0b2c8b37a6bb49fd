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
	"os"
	"path/filepath"
	"testing"
)

// testDB opens a fresh bbolt-backed DB in a directory removed at test cleanup.
func testDB(t *testing.T) *DB {
	t.Helper()
	dir, err := os.MkdirTemp("", "qvm-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	store, err := OpenBoltStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return Open(store)
}

// mustDoc parses a JSON object into a Document, failing the test on a parse error.
func mustDoc(t *testing.T, raw string) Document {
	t.Helper()
	doc, err := ParseJSONDocument([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

// idsOf collects the "_id" field (as int64/string) of every document for set comparison
// in tests, since Document has no public equality beyond ValuesEqual.
func idsOf(t *testing.T, docs []Document) []interface{} {
	t.Helper()
	out := make([]interface{}, len(docs))
	for i, d := range docs {
		id, ok := d.ID()
		if !ok {
			t.Fatalf("document %d has no _id", i)
		}
		out[i] = valueToInterface(id)
	}
	return out
}
