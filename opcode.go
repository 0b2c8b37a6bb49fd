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

// Opcode is the VM's fixed instruction inventory. The VM is a stack machine with two status
// registers (R0 last-predicate-result, R1 auxiliary) and a program counter.
type Opcode uint8

const (
	// Control
	OpHalt Opcode = iota
	OpGoto
	OpIfTrue
	OpIfFalse

	// Cursor
	OpOpenRead
	OpOpenIndex
	OpRewind
	OpNext
	OpSeekPrefix
	OpIndexNext
	OpClose

	// Document frame
	OpLoadDoc
	OpYield

	// Path
	OpGetField
	OpGetArrayElement

	// Literals
	OpPushValue

	// Stack
	OpPop
	OpPop2
	OpPopN
	OpDup

	// Predicates
	OpEqual
	OpEqualOrContains
	OpArrayEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpIn
	OpNotIn
	OpAll
	OpSize
	OpRegex

	// Logical modifier
	OpNegate
	// OpSetBool writes a literal 0/1 directly into R0, bypassing the stack. Used by the
	// $exists/$not compilation helpers where a GetField miss must produce a definite
	// false rather than abandon the document frame.
	OpSetBool

	// Aggregation helpers
	OpIncCounter
	OpStoreField
	OpDropField
	OpSortKey
	OpGroupKey
	OpAccumSum
	OpAccumAbs
)

// Instruction is one (opcode, immediate) record. Only the fields relevant to Op are
// populated; the rest are zero. Addr holds a resolved instruction-boundary target for
// every branching opcode (Goto/IfTrue/IfFalse/Rewind/Next/IndexNext and the miss target
// of GetField/GetArrayElement).
type Instruction struct {
	Op      Opcode
	Addr    int
	Name    string // field path, collection name, index name, StoreField/DropField/GroupKey/SortKey target
	Int       int   // array index, pool id, PopN count, IncCounter id, AccumSum delta, SortKey direction
	SeekKey   Key   // precomputed seek prefix for an index scan's OpSeekPrefix
	SeekValue Value // exact _id literal for a point lookup's OpSeekPrefix (avoids inverting a one-way canonical key)
}

// Program is the compiled output of the filter compiler or an aggregation stage: an
// ordered instruction list, an immutable pool of interned literal Values, and (since
// labels are resolved at link time) no separate symbol table - every Addr in
// Instructions already points at a valid instruction boundary.
type Program struct {
	Instructions []Instruction
	Pool         []Value
}

// Const returns the pooled literal at index i; used by the VM's OpPushValue.
func (p *Program) Const(i int) Value {
	return p.Pool[i]
}
