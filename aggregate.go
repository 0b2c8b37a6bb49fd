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
	"sort"
	"strings"
)

// Aggregate runs pipeline (one document per stage, each holding exactly one of
// $match/$count/$skip/$limit/$sort/$group/$addFields/$unset) over every document of c
// and returns the final result set. Each stage that is expressible as a per-document
// bytecode program ($match, $addFields, $unset, $count, and $group's key/accumulator
// evaluation) compiles one and drives it through the shared VM; $skip/$limit/$sort
// inherently need the whole upstream result set at once and are applied directly since
// there is no useful bytecode form for a blocking, cross-row operation.
func Aggregate(c *Collection, pipeline []Document) ([]Document, error) {
	docs, err := c.Find(NewDocument())
	if err != nil {
		return nil, err
	}

	for _, stageDoc := range pipeline {
		fields := stageDoc.Fields()
		if len(fields) != 1 {
			return nil, fmt.Errorf("%w: a pipeline stage must have exactly one operator", ErrInvalidField)
		}
		stage := fields[0]

		switch stage.Key {
		case "$match":
			filterDoc, ok := stage.Value.AsDocument()
			if !ok {
				return nil, fmt.Errorf("%w: $match requires a document", ErrInvalidField)
			}
			docs, err = runMatchStage(docs, filterDoc)
		case "$count":
			fieldName, ok := stage.Value.AsString()
			if !ok {
				return nil, fmt.Errorf("%w: $count requires a field name", ErrInvalidField)
			}
			docs, err = runCountStage(docs, fieldName)
		case "$skip":
			docs, err = runSkipStage(docs, stage.Value)
		case "$limit":
			docs, err = runLimitStage(docs, stage.Value)
		case "$sort":
			sortDoc, ok := stage.Value.AsDocument()
			if !ok {
				return nil, fmt.Errorf("%w: $sort requires a document", ErrInvalidField)
			}
			docs, err = runSortStage(docs, sortDoc)
		case "$group":
			groupDoc, ok := stage.Value.AsDocument()
			if !ok {
				return nil, fmt.Errorf("%w: $group requires a document", ErrInvalidField)
			}
			docs, err = runGroupStage(docs, groupDoc)
		case "$addFields":
			fieldsDoc, ok := stage.Value.AsDocument()
			if !ok {
				return nil, fmt.Errorf("%w: $addFields requires a document", ErrInvalidField)
			}
			docs, err = runAddFieldsStage(docs, fieldsDoc)
		case "$unset":
			docs, err = runUnsetStage(docs, stage.Value)
		default:
			return nil, fmt.Errorf("%w: unknown pipeline stage %s", ErrUnknownOperator, stage.Key)
		}
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// compileMatchBody assembles a self-contained document-frame program: the same predicate
// body the query compiler emits for a full scan, wrapped to leave a definite pass/fail in
// R0 at Halt instead of jumping into cursor-advance opcodes the aggregation driver
// doesn't use.
func compileMatchBody(filter Document) (*Program, error) {
	a := newAsm()
	notFound := a.newLabel()
	done := a.newLabel()

	if err := compileFilterBody(a, filter, notFound); err != nil {
		return nil, err
	}
	a.emit(Instruction{Op: OpSetBool, Int: 1})
	a.emitJump(OpGoto, "", 0, done)

	a.placeLabel(notFound)
	a.emit(Instruction{Op: OpSetBool, Int: 0})

	a.placeLabel(done)
	a.emit(Instruction{Op: OpHalt})
	return a.finish()
}

func runMatchStage(docs []Document, filter Document) ([]Document, error) {
	prog, err := compileMatchBody(filter)
	if err != nil {
		return nil, err
	}
	m := newVM(nil, prog)
	var out []Document
	for _, doc := range docs {
		keep, err := m.RunOnDocument(prog, doc)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, doc)
		}
	}
	return out, nil
}

func runCountStage(docs []Document, fieldName string) ([]Document, error) {
	a := newAsm()
	a.emit(Instruction{Op: OpIncCounter, Name: fieldName})
	a.emit(Instruction{Op: OpHalt})
	prog, err := a.finish()
	if err != nil {
		return nil, err
	}

	m := newVM(nil, prog)
	for _, doc := range docs {
		if _, err := m.RunOnDocument(prog, doc); err != nil {
			return nil, err
		}
	}

	result := NewDocument()
	result.Set(fieldName, Int64(m.counters[fieldName]))
	return []Document{result}, nil
}

func runSkipStage(docs []Document, arg Value) ([]Document, error) {
	n, ok := intArg(arg)
	if !ok {
		return nil, fmt.Errorf("%w: $skip requires a number", ErrTypeMismatch)
	}
	if n < 0 {
		n = 0
	}
	if n >= len(docs) {
		return nil, nil
	}
	return docs[n:], nil
}

func runLimitStage(docs []Document, arg Value) ([]Document, error) {
	n, ok := intArg(arg)
	if !ok {
		return nil, fmt.Errorf("%w: $limit requires a number", ErrTypeMismatch)
	}
	if n < 0 {
		n = 0
	}
	if n > len(docs) {
		n = len(docs)
	}
	return docs[:n], nil
}

func intArg(v Value) (int, bool) {
	f, ok := asBigFloat(v)
	if !ok {
		return 0, false
	}
	n, _ := f.Float64()
	return int(n), true
}

// runSortStage orders docs by one or more fields, each mapped to +1/-1, comparing
// resolved path values with Compare; a field missing on a document sorts as Null (the
// lowest rank), and Incomparable comparisons (NaN, cross-regex) are treated as equal so
// sort.SliceStable's own stability decides their relative order.
func runSortStage(docs []Document, sortDoc Document) ([]Document, error) {
	type sortField struct {
		path string
		dir  int
	}
	var keys []sortField
	for _, f := range sortDoc.Fields() {
		n, ok := intArg(f.Value)
		if !ok || (n != 1 && n != -1) {
			return nil, fmt.Errorf("%w: $sort directions must be 1 or -1", ErrTypeMismatch)
		}
		keys = append(keys, sortField{path: f.Key, dir: n})
	}

	out := make([]Document, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range keys {
			vi, oki := Resolve(out[i], k.path)
			if !oki {
				vi = Null()
			}
			vj, okj := Resolve(out[j], k.path)
			if !okj {
				vj = Null()
			}
			switch Compare(vi, vj) {
			case Less:
				return k.dir == 1
			case Greater:
				return k.dir == -1
			default:
				continue
			}
		}
		return false
	})
	return out, nil
}

// runGroupStage buckets docs by the "_id" expression and applies every other field's
// accumulator ($sum or $abs) across each bucket, using the shared VM's per-group
// accumulator map (see vm.go's OpGroupKey/OpAccumSum).
func runGroupStage(docs []Document, groupDoc Document) ([]Document, error) {
	idExpr, ok := groupDoc.Get("_id")
	if !ok {
		return nil, ErrGroupMissingID
	}

	a := newAsm()
	emitExpr(a, idExpr)
	a.emit(Instruction{Op: OpGroupKey})

	type outputField struct {
		name string
		kind string // "sum" or "abs"
	}
	var outputs []outputField
	for _, f := range groupDoc.Fields() {
		if f.Key == "_id" {
			continue
		}
		accDoc, ok := f.Value.AsDocument()
		if !ok {
			return nil, fmt.Errorf("%w: $group field %q requires an accumulator document", ErrInvalidField, f.Key)
		}
		accFields := accDoc.Fields()
		if len(accFields) != 1 {
			return nil, fmt.Errorf("%w: $group field %q requires exactly one accumulator", ErrInvalidField, f.Key)
		}
		switch accFields[0].Key {
		case "$sum":
			emitExpr(a, accFields[0].Value)
			a.emit(Instruction{Op: OpAccumSum, Name: f.Key})
			outputs = append(outputs, outputField{name: f.Key, kind: "sum"})
		case "$abs":
			emitExpr(a, accFields[0].Value)
			a.emit(Instruction{Op: OpAccumAbs})
			a.emit(Instruction{Op: OpAccumSum, Name: f.Key})
			outputs = append(outputs, outputField{name: f.Key, kind: "abs"})
		default:
			return nil, fmt.Errorf("%w: unknown accumulator %s", ErrUnknownOperator, accFields[0].Key)
		}
	}
	a.emit(Instruction{Op: OpHalt})
	prog, err := a.finish()
	if err != nil {
		return nil, err
	}

	m := newVM(nil, prog)
	var order []string
	seenOrder := make(map[string]bool)
	for _, doc := range docs {
		if _, err := m.RunOnDocument(prog, doc); err != nil {
			return nil, err
		}
		if !seenOrder[m.curGroupKey] {
			seenOrder[m.curGroupKey] = true
			order = append(order, m.curGroupKey)
		}
	}

	var out []Document
	for _, key := range order {
		result := NewDocument()
		result.Set("_id", m.groupKeys[key])
		for _, f := range outputs {
			result.Set(f.name, m.accumulators[key+"\x00"+f.name])
		}
		out = append(out, result)
	}
	return out, nil
}

func runAddFieldsStage(docs []Document, fieldsDoc Document) ([]Document, error) {
	a := newAsm()
	for _, f := range fieldsDoc.Fields() {
		emitExpr(a, f.Value)
		a.emit(Instruction{Op: OpStoreField, Name: f.Key})
	}
	a.emit(Instruction{Op: OpHalt})
	prog, err := a.finish()
	if err != nil {
		return nil, err
	}

	m := newVM(nil, prog)
	out := make([]Document, len(docs))
	for i, doc := range docs {
		if _, err := m.RunOnDocument(prog, doc.Clone()); err != nil {
			return nil, err
		}
		out[i] = m.curDoc
	}
	return out, nil
}

// unsetNames normalizes a $unset stage argument to its list of field names: either a
// bare string (single field) or an array of strings.
func unsetNames(arg Value) ([]Value, bool) {
	if s, ok := arg.AsString(); ok {
		return []Value{String(s)}, true
	}
	return arg.AsArray()
}

func runUnsetStage(docs []Document, arg Value) ([]Document, error) {
	names, ok := unsetNames(arg)
	if !ok {
		return nil, fmt.Errorf("%w: $unset requires a string or an array of field names", ErrInvalidField)
	}

	a := newAsm()
	for _, n := range names {
		name, ok := n.AsString()
		if !ok {
			return nil, fmt.Errorf("%w: $unset entries must be strings", ErrInvalidField)
		}
		a.emit(Instruction{Op: OpDropField, Name: name})
	}
	a.emit(Instruction{Op: OpHalt})
	prog, err := a.finish()
	if err != nil {
		return nil, err
	}

	m := newVM(nil, prog)
	out := make([]Document, len(docs))
	for i, doc := range docs {
		if _, err := m.RunOnDocument(prog, doc.Clone()); err != nil {
			return nil, err
		}
		out[i] = m.curDoc
	}
	return out, nil
}

// emitExpr compiles a $group/$addFields expression, leaving exactly one Value on the
// stack: a "$path" string dereferences the current document (pushing Null rather than
// aborting when the path doesn't resolve, since an aggregation row is never dropped for
// a missing projected field), {$abs: expr} applies absNumeric to its inner expression,
// and anything else is a literal.
func emitExpr(a *asm, expr Value) {
	if s, ok := expr.AsString(); ok && strings.HasPrefix(s, "$") {
		missLabel := a.newLabel()
		doneLabel := a.newLabel()
		emitFieldAccess(a, s[1:], missLabel)
		a.emitJump(OpGoto, "", 0, doneLabel)
		a.placeLabel(missLabel)
		a.emitPushValue(Null())
		a.placeLabel(doneLabel)
		return
	}
	if doc, ok := expr.AsDocument(); ok {
		fields := doc.Fields()
		if len(fields) == 1 && fields[0].Key == "$abs" {
			emitExpr(a, fields[0].Value)
			a.emit(Instruction{Op: OpAccumAbs})
			return
		}
	}
	a.emitPushValue(expr)
}
