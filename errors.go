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

import "errors"

// Compile-time errors, returned synchronously from filter/pipeline compilation.
var (
	// ErrInvalidField is returned when a filter key does not resolve to a valid path or operator shape.
	ErrInvalidField = errors.New("invalid field in filter")
	// ErrUnknownOperator is returned when a filter or update document uses an operator name we don't recognize.
	ErrUnknownOperator = errors.New("unknown operator")
	// ErrTypeMismatch is returned at compile time when an operator is applied to a structurally wrong value,
	// e.g. $all with a non-array argument.
	ErrTypeMismatch = errors.New("operator applied to value of the wrong shape")
	// ErrModifyIdForbidden is returned when an update document touches the _id field.
	ErrModifyIdForbidden = errors.New("update must not modify _id")
	// ErrGroupMissingID is returned when a $group stage omits the required _id expression.
	ErrGroupMissingID = errors.New("$group requires _id")
	// ErrNoIndex is returned by IndexIterate when no index matches the query.
	ErrNoIndex = errors.New("no index found for query")
)

// Run-time errors, surfaced from the cursor's next-row call or from a write.
var (
	// ErrInvalidRegexOptions is returned lazily, on first execution of a Regex opcode, when the
	// pattern's option string contains an unrecognized flag.
	ErrInvalidRegexOptions = errors.New("invalid regex options")
	// ErrUniqueIndexViolation is returned when a write would add a second entry under a unique index.
	ErrUniqueIndexViolation = errors.New("unique index violation")
)

// StorageError wraps any error returned by the underlying key/value store so callers
// can distinguish storage failures from the query-engine's own error taxonomy.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage error during " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
