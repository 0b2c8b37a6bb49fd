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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONLDDocument_stripsContextAndKeepsValues(t *testing.T) {
	raw := []byte(`{
		"@context": {"name": "http://schema.org/name"},
		"name": "Ada"
	}`)

	doc, err := ParseJSONLDDocument(raw)
	require.NoError(t, err)

	_, hasContext := doc.Get("@context")
	assert.False(t, hasContext)

	name, ok := doc.Get("http://schema.org/name")
	require.True(t, ok)
	s, _ := name.AsString()
	assert.Equal(t, "Ada", s)
}

func TestParseJSONLDDocument_invalidJSON(t *testing.T) {
	_, err := ParseJSONLDDocument([]byte(`not json`))
	assert.Error(t, err)
}
