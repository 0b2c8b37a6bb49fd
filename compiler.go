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
	"fmt"
	"strings"
)

// label is an opaque assembler-time jump target. It never appears in a finished Program;
// every Instruction.Addr is a resolved instruction index.
type label int

// asm assembles a single Program, resolving forward and backward jumps as labels are
// placed. Every opcode that branches (control flow, GetField/GetArrayElement miss
// targets, cursor Rewind/Next/IndexNext) goes through emitJump so label patching stays
// in one place.
type asm struct {
	prog    Program
	resolved map[label]int
	pending  map[label][]int
	next     label
}

func newAsm() *asm {
	return &asm{
		resolved: make(map[label]int),
		pending:  make(map[label][]int),
	}
}

func (a *asm) newLabel() label {
	a.next++
	return a.next
}

// emit appends an instruction with no branch target and returns its index.
func (a *asm) emit(ins Instruction) int {
	a.prog.Instructions = append(a.prog.Instructions, ins)
	return len(a.prog.Instructions) - 1
}

// emitJump appends a branching instruction targeting l. If l is already placed, Addr is
// resolved immediately; otherwise the instruction index is queued for patching in
// placeLabel.
func (a *asm) emitJump(op Opcode, name string, intVal int, l label) int {
	idx := a.emit(Instruction{Op: op, Name: name, Int: intVal})
	if addr, ok := a.resolved[l]; ok {
		a.prog.Instructions[idx].Addr = addr
	} else {
		a.pending[l] = append(a.pending[l], idx)
	}
	return idx
}

// placeLabel marks the current end of the instruction stream as l's address and patches
// every instruction emitted so far that jumps to it.
func (a *asm) placeLabel(l label) {
	addr := len(a.prog.Instructions)
	a.resolved[l] = addr
	for _, idx := range a.pending[l] {
		a.prog.Instructions[idx].Addr = addr
	}
	delete(a.pending, l)
}

// pool interns a literal Value and returns its index.
func (a *asm) pool(v Value) int {
	a.prog.Pool = append(a.prog.Pool, v)
	return len(a.prog.Pool) - 1
}

func (a *asm) emitPushValue(v Value) {
	a.emit(Instruction{Op: OpPushValue, Int: a.pool(v)})
}

// finish validates every label was eventually placed and returns the assembled Program.
func (a *asm) finish() (*Program, error) {
	if len(a.pending) != 0 {
		return nil, fmt.Errorf("qvm: compiler left %d unresolved jump target(s)", len(a.pending))
	}
	return &a.prog, nil
}

// emitFieldAccess pushes the current document, then resolves path against it, leaving
// the resolved value on the stack. On a miss anywhere along the path (including array
// bounds misses), control jumps to missLabel and nothing is left on the stack.
func emitFieldAccess(a *asm, path string, missLabel label) {
	a.emit(Instruction{Op: OpLoadDoc})
	emitPathChain(a, SplitPath(path), missLabel)
}

// emitPathChain splits a dotted path at its numeric segments: everything before the first numeric
// segment is a single GetField, the numeric segment is a GetArrayElement, and the
// remainder recurses (it may itself contain another numeric segment). Each opcode pops
// whatever the previous step left on the stack and pushes its own result, so the chain
// composes without any opcode needing to know whether its input came from LoadDoc or a
// prior step.
func emitPathChain(a *asm, segments []string, missLabel label) {
	idx := FirstNumericSegment(segments)
	if idx < 0 {
		a.emitJump(OpGetField, strings.Join(segments, "."), 0, missLabel)
		return
	}

	prefix := segments[:idx]
	if len(prefix) > 0 {
		a.emitJump(OpGetField, strings.Join(prefix, "."), 0, missLabel)
	}

	n, _ := segmentIndex(segments[idx])
	a.emitJump(OpGetArrayElement, "", n, missLabel)

	if rest := segments[idx+1:]; len(rest) > 0 {
		emitPathChain(a, rest, missLabel)
	}
}

// isOperatorDocument reports whether every key of doc is a "$"-prefixed operator name;
// a mix of operator and plain keys is a malformed filter.
func isOperatorDocument(doc Document) (bool, bool) {
	fields := doc.Fields()
	if len(fields) == 0 {
		return false, true
	}
	ops := 0
	for _, f := range fields {
		if strings.HasPrefix(f.Key, "$") {
			ops++
		}
	}
	if ops == len(fields) {
		return true, true
	}
	if ops == 0 {
		return false, true
	}
	return false, false
}

// compileFilterBody emits the predicate body of filter into a, jumping to notFound the
// moment any condition fails. $and is compiled inline; $or allocates its own match label
// and per-branch fallthrough labels; every other key is a field predicate.
func compileFilterBody(a *asm, filter Document, notFound label) error {
	for _, f := range filter.Fields() {
		switch f.Key {
		case "$and":
			subs, ok := f.Value.AsArray()
			if !ok {
				return fmt.Errorf("%w: $and requires an array", ErrInvalidField)
			}
			for _, sub := range subs {
				subDoc, ok := sub.AsDocument()
				if !ok {
					return fmt.Errorf("%w: $and elements must be documents", ErrInvalidField)
				}
				if err := compileFilterBody(a, subDoc, notFound); err != nil {
					return err
				}
			}
		case "$or":
			subs, ok := f.Value.AsArray()
			if !ok {
				return fmt.Errorf("%w: $or requires an array", ErrInvalidField)
			}
			if err := compileOr(a, subs, notFound); err != nil {
				return err
			}
		default:
			if err := compileFieldPredicate(a, f.Key, f.Value, notFound); err != nil {
				return err
			}
		}
	}
	return nil
}

// compileOr compiles each branch against its own not-found label (the last branch reuses
// the caller's notFound directly, so an all-branches-failed exit needs no extra jump),
// and funnels any branch that succeeds to a shared match label placed after the last one.
func compileOr(a *asm, subs []Value, notFound label) error {
	matchLabel := a.newLabel()
	for i, sub := range subs {
		subDoc, ok := sub.AsDocument()
		if !ok {
			return fmt.Errorf("%w: $or elements must be documents", ErrInvalidField)
		}
		isLast := i == len(subs)-1
		branchMiss := notFound
		if !isLast {
			branchMiss = a.newLabel()
		}
		if err := compileFilterBody(a, subDoc, branchMiss); err != nil {
			return err
		}
		a.emitJump(OpGoto, "", 0, matchLabel)
		if !isLast {
			a.placeLabel(branchMiss)
		}
	}
	a.placeLabel(matchLabel)
	return nil
}

// compileFieldPredicate compiles the predicate(s) attached to one field key: either a
// single-operator-or-more document ({$gt: 5, $lt: 10}), or a bare literal tested for
// equality-or-array-containment.
func compileFieldPredicate(a *asm, path string, val Value, notFound label) error {
	if val.Kind() == KindDocument {
		doc, _ := val.AsDocument()
		if isOps, valid := isOperatorDocument(doc); isOps {
			return compileOperatorDocument(a, path, doc, notFound)
		} else if !valid {
			return fmt.Errorf("%w: mixed operator and literal keys for %q", ErrInvalidField, path)
		}
	}

	emitFieldAccess(a, path, notFound)
	a.emitPushValue(val)
	a.emit(Instruction{Op: OpEqualOrContains})
	a.emitJump(OpIfFalse, "", 0, notFound)
	return nil
}

// compileOperatorDocument compiles every operator attached to path, chaining each test
// through the same notFound label (so {age:{$gt:5,$lt:10}} is an implicit AND). $regex
// and a sibling $options are merged into one Regex literal before compiling.
func compileOperatorDocument(a *asm, path string, doc Document, notFound label) error {
	fields := doc.Fields()

	var regexOptions *string
	for _, f := range fields {
		if f.Key == "$options" {
			if s, ok := f.Value.AsString(); ok {
				regexOptions = &s
			}
		}
	}

	for _, f := range fields {
		switch f.Key {
		case "$options":
			// consumed alongside $regex below
			continue
		case "$not":
			innerDoc, ok := f.Value.AsDocument()
			if !ok {
				return fmt.Errorf("%w: $not requires an operator document", ErrInvalidField)
			}
			if err := emitNotOperator(a, path, innerDoc, notFound); err != nil {
				return err
			}
		case "$exists":
			requested, ok := f.Value.AsBool()
			if !ok {
				return fmt.Errorf("%w: $exists requires a boolean", ErrInvalidField)
			}
			emitExists(a, path, requested, notFound)
		case "$regex":
			arg := f.Value
			if pattern, ok := arg.AsString(); ok {
				opts := ""
				if regexOptions != nil {
					opts = *regexOptions
				}
				arg = Regex(pattern, opts)
			}
			if err := emitOperatorCompute(a, path, "$regex", arg, notFound); err != nil {
				return err
			}
			a.emitJump(OpIfFalse, "", 0, notFound)
		default:
			if err := emitOperatorCompute(a, path, f.Key, f.Value, notFound); err != nil {
				return err
			}
			a.emitJump(OpIfFalse, "", 0, notFound)
		}
	}
	return nil
}

// emitNotOperator compiles the inner operator(s) of a $not clause, leaving their combined
// result in R0, negates it, then jumps to notFound on failure. A field that doesn't
// resolve still computes a (negatable) R0 via the miss path used everywhere else in this
// compiler: it jumps straight to notFound, which for $not means "missing disagrees with
// $not" rather than "missing satisfies $not" - a deliberate, documented simplification
// (see DESIGN.md) rather than full MongoDB missing-field semantics.
func emitNotOperator(a *asm, path string, innerDoc Document, notFound label) error {
	for _, f := range innerDoc.Fields() {
		if err := emitOperatorCompute(a, path, f.Key, f.Value, notFound); err != nil {
			return err
		}
	}
	a.emit(Instruction{Op: OpNegate})
	a.emitJump(OpIfFalse, "", 0, notFound)
	return nil
}

// emitOperatorCompute emits the GetField/literal/predicate sequence for a single operator,
// leaving its boolean result in R0 without emitting the final IfFalse jump - callers
// decide whether to jump immediately (the common case) or to Negate first ($not).
func emitOperatorCompute(a *asm, path string, op string, arg Value, notFound label) error {
	switch op {
	case "$eq":
		emitFieldAccess(a, path, notFound)
		a.emitPushValue(arg)
		a.emit(Instruction{Op: OpEqualOrContains})
	case "$ne":
		emitFieldAccess(a, path, notFound)
		a.emitPushValue(arg)
		a.emit(Instruction{Op: OpEqualOrContains})
		a.emit(Instruction{Op: OpNegate})
	case "$gt":
		emitFieldAccess(a, path, notFound)
		a.emitPushValue(arg)
		a.emit(Instruction{Op: OpGreater})
	case "$gte":
		emitFieldAccess(a, path, notFound)
		a.emitPushValue(arg)
		a.emit(Instruction{Op: OpGreaterEqual})
	case "$lt":
		emitFieldAccess(a, path, notFound)
		a.emitPushValue(arg)
		a.emit(Instruction{Op: OpLess})
	case "$lte":
		emitFieldAccess(a, path, notFound)
		a.emitPushValue(arg)
		a.emit(Instruction{Op: OpLessEqual})
	case "$in":
		if !arg.IsArray() {
			return fmt.Errorf("%w: $in requires an array", ErrTypeMismatch)
		}
		emitFieldAccess(a, path, notFound)
		a.emitPushValue(arg)
		a.emit(Instruction{Op: OpIn})
	case "$nin":
		if !arg.IsArray() {
			return fmt.Errorf("%w: $nin requires an array", ErrTypeMismatch)
		}
		emitFieldAccess(a, path, notFound)
		a.emitPushValue(arg)
		a.emit(Instruction{Op: OpIn})
		a.emit(Instruction{Op: OpNegate})
	case "$all":
		if !arg.IsArray() {
			return fmt.Errorf("%w: $all requires an array", ErrTypeMismatch)
		}
		emitFieldAccess(a, path, notFound)
		a.emitPushValue(arg)
		a.emit(Instruction{Op: OpAll})
	case "$size":
		if !isNumeric(arg.Kind()) {
			return fmt.Errorf("%w: $size requires a number", ErrTypeMismatch)
		}
		emitFieldAccess(a, path, notFound)
		a.emitPushValue(arg)
		a.emit(Instruction{Op: OpSize})
	case "$regex":
		if _, ok := arg.AsRegex(); !ok {
			return fmt.Errorf("%w: $regex requires a pattern", ErrTypeMismatch)
		}
		emitFieldAccess(a, path, notFound)
		a.emitPushValue(arg)
		a.emit(Instruction{Op: OpRegex})
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOperator, op)
	}
	return nil
}

// emitExists compiles $exists: a field miss must NOT abandon the document frame (it is
// itself a valid, testable outcome), so it uses a local miss label that writes a literal
// false into R0 via OpSetBool instead of jumping straight to notFound.
func emitExists(a *asm, path string, requested bool, notFound label) {
	missLabel := a.newLabel()
	doneLabel := a.newLabel()

	emitFieldAccess(a, path, missLabel)
	a.emit(Instruction{Op: OpPop})
	a.emit(Instruction{Op: OpSetBool, Int: 1})
	a.emitJump(OpGoto, "", 0, doneLabel)

	a.placeLabel(missLabel)
	a.emit(Instruction{Op: OpSetBool, Int: 0})

	a.placeLabel(doneLabel)
	if !requested {
		a.emit(Instruction{Op: OpNegate})
	}
	a.emitJump(OpIfFalse, "", 0, notFound)
}

// CompileFullScan assembles a program that walks every document of a collection, yielding
// the ones matching filter: OpenRead, Rewind (skip to Halt if empty), the predicate body
// per document, Next looping back to the top while more documents remain.
func CompileFullScan(collectionID uint64, collectionName string, filter Document) (*Program, error) {
	a := newAsm()
	empty := a.newLabel()
	loopBody := a.newLabel()
	notFound := a.newLabel()

	a.emit(Instruction{Op: OpOpenRead, Name: collectionName, Int: int(collectionID)})
	a.emitJump(OpRewind, "", 0, empty)
	a.placeLabel(loopBody)

	if err := compileFilterBody(a, filter, notFound); err != nil {
		return nil, err
	}
	a.emit(Instruction{Op: OpLoadDoc})
	a.emit(Instruction{Op: OpYield})

	a.placeLabel(notFound)
	a.emitJump(OpNext, "", 0, loopBody)

	a.placeLabel(empty)
	a.emit(Instruction{Op: OpClose})
	a.emit(Instruction{Op: OpHalt})

	return a.finish()
}

// CompileIndexScan assembles a program equivalent to CompileFullScan but walking a named
// secondary index's entries via SeekPrefix/IndexNext instead of a full collection scan.
// The predicate body still runs against the full loaded document (index entries carry a
// doc id, not the projected value), so this only saves I/O when the index narrows the
// candidate set (an equality seek), not when it merely reorders a full walk.
func CompileIndexScan(collectionID uint64, indexName string, seekValue Value, filter Document) (*Program, error) {
	a := newAsm()
	empty := a.newLabel()
	loopBody := a.newLabel()
	notFound := a.newLabel()

	a.emit(Instruction{Op: OpOpenIndex, Name: indexName, Int: int(collectionID)})
	seekKey := IndexValuePrefix(collectionID, indexName, seekValue)
	a.emitJump(OpSeekPrefix, "", 0, empty)
	a.prog.Instructions[len(a.prog.Instructions)-1].SeekKey = seekKey
	a.placeLabel(loopBody)

	if err := compileFilterBody(a, filter, notFound); err != nil {
		return nil, err
	}
	a.emit(Instruction{Op: OpLoadDoc})
	a.emit(Instruction{Op: OpYield})

	a.placeLabel(notFound)
	a.emitJump(OpIndexNext, "", 0, loopBody)

	a.placeLabel(empty)
	a.emit(Instruction{Op: OpClose})
	a.emit(Instruction{Op: OpHalt})

	return a.finish()
}

// CompilePointLookup assembles the _id-only fast path: a single SeekPrefix
// on the primary key, no loop. It is used whenever the top-level filter is exactly {_id:
// <literal>} or {_id: {$eq: <literal>}}.
func CompilePointLookup(collectionID uint64, collectionName string, id Value) (*Program, error) {
	a := newAsm()
	miss := a.newLabel()

	a.emit(Instruction{Op: OpOpenRead, Name: collectionName, Int: int(collectionID)})
	idx := a.emitJump(OpSeekPrefix, "", 0, miss)
	a.prog.Instructions[idx].SeekKey = DocKey(collectionID, id)
	a.prog.Instructions[idx].SeekValue = id

	a.emit(Instruction{Op: OpLoadDoc})
	a.emit(Instruction{Op: OpYield})

	a.placeLabel(miss)
	a.emit(Instruction{Op: OpClose})
	a.emit(Instruction{Op: OpHalt})

	return a.finish()
}

// pointLookupID reports whether filter is exactly an _id equality filter, either as a
// bare literal ({_id: v}) or via $eq ({_id: {$eq: v}}), and if so returns v.
func pointLookupID(filter Document) (Value, bool) {
	fields := filter.Fields()
	if len(fields) != 1 || fields[0].Key != "_id" {
		return Value{}, false
	}
	val := fields[0].Value
	if val.Kind() != KindDocument {
		return val, true
	}
	doc, _ := val.AsDocument()
	docFields := doc.Fields()
	if len(docFields) == 1 && docFields[0].Key == "$eq" {
		return docFields[0].Value, true
	}
	return Value{}, false
}

// CompileFilter picks the cheapest program shape for filter over a collection that has no
// usable secondary index for it: a point lookup for a bare _id filter, a full scan
// otherwise. Collection.Find consults its index descriptors first and calls
// CompileIndexScan directly when one applies.
func CompileFilter(collectionID uint64, collectionName string, filter Document) (*Program, error) {
	if id, ok := pointLookupID(filter); ok {
		return CompilePointLookup(collectionID, collectionName, id)
	}
	return CompileFullScan(collectionID, collectionName, filter)
}
