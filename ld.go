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
	"encoding/json"

	"github.com/piprate/json-gold/ld"
	"github.com/pkg/errors"
)

// ParseJSONLDDocument ingests a JSON-LD document by expanding it against its own (or an
// externally supplied) context, then compacting back to a plain object with the context
// stripped, so downstream storage only ever deals with the same flat Document shape
// ParseJSONDocument produces - the filter/index/aggregation engine has no notion of IRIs
// or contexts. This is an optional ingestion path: callers that already have
// context-free JSON should use ParseJSONDocument directly.
func ParseJSONLDDocument(raw []byte) (Document, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Document{}, errors.Wrap(err, "qvm: unmarshal JSON-LD input")
	}

	proc := ld.NewJsonLdProcessor()
	opts := ld.NewJsonLdOptions("")

	expanded, err := proc.Expand(generic, opts)
	if err != nil {
		return Document{}, errors.Wrap(err, "qvm: expand JSON-LD document")
	}

	compacted, err := proc.Compact(expanded, map[string]interface{}{}, opts)
	if err != nil {
		return Document{}, errors.Wrap(err, "qvm: compact JSON-LD document")
	}
	delete(compacted, "@context")

	flat, err := json.Marshal(compacted)
	if err != nil {
		return Document{}, errors.Wrap(err, "qvm: re-marshal compacted JSON-LD document")
	}
	return ParseJSONDocument(flat)
}
