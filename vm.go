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
	"regexp"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// vm executes a single compiled Program. It is a stack machine over Values with two
// status registers (r0 the last predicate result, r1 an auxiliary slot reserved for
// future operators) and a program counter; see opcode.go for the instruction set.
//
// The same struct backs two callers: Run drives a full query Program that owns its own
// cursor (Collection.Find), while RunOnDocument replays a small per-row Program (no
// cursor opcodes) against one already-materialized document, carrying accumulator state
// across calls - this is how the aggregation pipeline's $count/$group/$sum/$abs stages
// reuse the same opcode dispatch instead of a second, parallel execution model.
type vm struct {
	store Store
	prog  *Program

	stack []Value
	r0    bool
	r1    Value
	pc    int

	collectionID uint64
	indexName    string
	curDoc       Document

	docCursor   DocCursor
	indexCursor IndexCursor
	seen        map[string]bool // canonical _id bytes already yielded, for multikey-index dedup

	results []Document

	counters     map[string]int64
	accumulators map[string]Value // "<groupKey>\x00<accumulatorName>" -> running value
	groupKeys    map[string]Value // group key string -> representative key Value, first doc wins
	curGroupKey  string

	regexCache map[string]*regexp.Regexp
}

func newVM(store Store, prog *Program) *vm {
	return &vm{
		store:        store,
		prog:         prog,
		seen:         make(map[string]bool),
		counters:     make(map[string]int64),
		accumulators: make(map[string]Value),
		groupKeys:    make(map[string]Value),
		regexCache:   make(map[string]*regexp.Regexp),
	}
}

// Run executes a full cursor-owning query Program (CompileFullScan, CompileIndexScan or
// CompilePointLookup output) to completion and returns every yielded document.
func (m *vm) Run(store Store) ([]Document, error) {
	m.store = store
	m.pc = 0
	if err := m.exec(); err != nil {
		return nil, err
	}
	return m.results, nil
}

// RunOnDocument replays a cursor-free row Program against doc: stack and pc reset, but
// accumulator/counter/group state carries over from any previous call on this vm, and
// curDoc is left set to doc for callers reading it back via LoadDoc semantics. It
// returns the final r0 value at Halt, which aggregate.go's $match-equivalent stages
// treat as a keep/drop decision.
func (m *vm) RunOnDocument(prog *Program, doc Document) (bool, error) {
	m.prog = prog
	m.curDoc = doc
	m.stack = m.stack[:0]
	m.pc = 0
	m.r0 = false
	if err := m.exec(); err != nil {
		return false, err
	}
	return m.r0, nil
}

func (m *vm) push(v Value) { m.stack = append(m.stack, v) }

func (m *vm) pop() Value {
	n := len(m.stack)
	v := m.stack[n-1]
	m.stack = m.stack[:n-1]
	return v
}

// pop2 pops the top two values and returns them as (first-popped, second-popped), i.e.
// (queryOperand, fieldOperand) for every binary predicate compiled by compiler.go, which
// always pushes the field-side value before the literal.
func (m *vm) pop2() (top, under Value) {
	top = m.pop()
	under = m.pop()
	return
}

func (m *vm) exec() error {
	for {
		if m.pc >= len(m.prog.Instructions) {
			return nil
		}
		ins := m.prog.Instructions[m.pc]
		jumped, err := m.step(ins)
		if err != nil {
			return err
		}
		if jumped {
			continue
		}
		if ins.Op == OpHalt {
			return nil
		}
		m.pc++
	}
}

// step executes one instruction. It returns jumped=true when it already repositioned pc
// (a taken branch, a successful Rewind/Next/SeekPrefix/IndexNext, or OpHalt handled by the
// caller), so exec knows not to increment pc again.
func (m *vm) step(ins Instruction) (bool, error) {
	switch ins.Op {
	case OpHalt:
		return true, nil

	case OpGoto:
		m.pc = ins.Addr
		return true, nil
	case OpIfTrue:
		if m.r0 {
			m.pc = ins.Addr
			return true, nil
		}
	case OpIfFalse:
		if !m.r0 {
			m.pc = ins.Addr
			return true, nil
		}

	case OpOpenRead:
		m.collectionID = uint64(ins.Int)
		m.indexName = ""
	case OpOpenIndex:
		m.collectionID = uint64(ins.Int)
		m.indexName = ins.Name

	case OpRewind:
		m.docCursor = m.store.ScanDocuments(m.collectionID)
		if m.docCursor.Rewind() {
			m.curDoc = m.docCursor.Document()
		} else {
			m.pc = ins.Addr
			return true, nil
		}
	case OpNext:
		if m.docCursor != nil && m.docCursor.Next() {
			m.curDoc = m.docCursor.Document()
			m.pc = ins.Addr
			return true, nil
		}

	case OpSeekPrefix:
		if m.indexName != "" {
			m.indexCursor = m.store.ScanIndex(m.collectionID, m.indexName, ins.SeekKey)
			ok, err := m.advanceIndexCursor(m.indexCursor.Seek(ins.SeekKey))
			if err != nil {
				return false, err
			}
			if !ok {
				m.pc = ins.Addr
				return true, nil
			}
			// Success falls through to the loop body placed right after this
			// instruction, mirroring Rewind's convention.
			break
		}
		doc, found, err := m.store.GetDocument(m.collectionID, ins.SeekValue)
		if err != nil {
			return false, wrapStorage("get", err)
		}
		if !found {
			m.pc = ins.Addr
			return true, nil
		}
		m.curDoc = doc
	case OpIndexNext:
		if m.indexCursor == nil {
			break
		}
		ok, err := m.advanceIndexCursor(m.indexCursor.Next())
		if err != nil {
			return false, err
		}
		if ok {
			m.pc = ins.Addr
			return true, nil
		}
	case OpClose:
		if m.docCursor != nil {
			m.docCursor.Close()
			m.docCursor = nil
		}
		if m.indexCursor != nil {
			m.indexCursor.Close()
			m.indexCursor = nil
		}

	case OpLoadDoc:
		m.push(m.curDoc.AsValue())
	case OpYield:
		v := m.pop()
		if doc, ok := v.AsDocument(); ok {
			m.results = append(m.results, doc)
		}

	case OpGetField:
		v := m.pop()
		resolved, ok := ResolveSegments(v, SplitPath(ins.Name))
		if !ok {
			m.pc = ins.Addr
			return true, nil
		}
		m.push(resolved)
	case OpGetArrayElement:
		v := m.pop()
		resolved, ok := ResolveArrayElement(v, ins.Int)
		if !ok {
			m.pc = ins.Addr
			return true, nil
		}
		m.push(resolved)

	case OpPushValue:
		m.push(m.prog.Const(ins.Int))

	case OpPop:
		m.pop()
	case OpPop2:
		m.pop()
		m.pop()
	case OpPopN:
		for i := 0; i < ins.Int; i++ {
			m.pop()
		}
	case OpDup:
		m.push(m.stack[len(m.stack)-1])

	case OpEqual:
		lit, field := m.pop2()
		m.r0 = ValuesEqual(field, lit)
	case OpEqualOrContains:
		lit, field := m.pop2()
		m.r0 = equalOrContains(field, lit)
	case OpArrayEqual:
		lit, field := m.pop2()
		m.r0 = field.IsArray() && lit.IsArray() && ValuesEqual(field, lit)
	case OpGreater:
		lit, field := m.pop2()
		m.r0 = matchesCompare(field, lit, func(o Ordering) bool { return o == Greater })
	case OpGreaterEqual:
		lit, field := m.pop2()
		m.r0 = matchesCompare(field, lit, func(o Ordering) bool { return o == Greater || o == Equal })
	case OpLess:
		lit, field := m.pop2()
		m.r0 = matchesCompare(field, lit, func(o Ordering) bool { return o == Less })
	case OpLessEqual:
		lit, field := m.pop2()
		m.r0 = matchesCompare(field, lit, func(o Ordering) bool { return o == Less || o == Equal })
	case OpIn:
		lit, field := m.pop2()
		m.r0 = inSet(field, lit)
	case OpNotIn:
		lit, field := m.pop2()
		m.r0 = !inSet(field, lit)
	case OpAll:
		lit, field := m.pop2()
		m.r0 = allContains(field, lit)
	case OpSize:
		lit, field := m.pop2()
		m.r0 = sizeMatches(field, lit)
	case OpRegex:
		lit, field := m.pop2()
		re, ok := lit.AsRegex()
		if !ok {
			m.r0 = false
			break
		}
		compiled, err := m.compileRegex(re)
		if err != nil {
			return false, err
		}
		s, ok := field.AsString()
		m.r0 = ok && compiled.MatchString(s)

	case OpNegate:
		m.r0 = !m.r0
	case OpSetBool:
		m.r0 = ins.Int != 0

	case OpIncCounter:
		m.counters[ins.Name]++
	case OpStoreField:
		v := m.pop()
		m.curDoc.Set(ins.Name, v)
	case OpDropField:
		m.curDoc.Unset(ins.Name)
	case OpGroupKey:
		v := m.pop()
		key := string(EncodeCanonical(v))
		if _, ok := m.groupKeys[key]; !ok {
			m.groupKeys[key] = v
		}
		m.curGroupKey = key
		m.r1 = v
	case OpSortKey:
		// Sort keys are read back by the aggregation driver via LoadDoc/GetField after
		// each row rather than accumulated here; see aggregate.go. No-op placeholder
		// keeps the opcode in the fixed inventory addressable by future stages that
		// need an in-VM sort comparison.
	case OpAccumSum:
		v := m.pop()
		accKey := m.curGroupKey + "\x00" + ins.Name
		m.accumulators[accKey] = addNumeric(m.accumulators[accKey], v)
	case OpAccumAbs:
		v := m.pop()
		m.push(absNumeric(v))

	default:
		return false, fmt.Errorf("qvm: unhandled opcode %d", ins.Op)
	}
	return false, nil
}

// advanceIndexCursor skips index entries whose document has been deleted (a stale
// secondary-index entry) and entries whose _id has already been yielded for this scan (a
// multikey field indexed more than once matched more than one array element of the same
// document). ok is true once it lands on a fresh, existing document, or false once the
// index range is exhausted.
func (m *vm) advanceIndexCursor(positioned bool) (bool, error) {
	for positioned {
		id := m.indexCursor.DocID()
		key := string(EncodeCanonical(id))
		if !m.seen[key] {
			doc, found, err := m.store.GetDocument(m.collectionID, id)
			if err != nil {
				return false, wrapStorage("get", err)
			}
			if found {
				m.seen[key] = true
				m.curDoc = doc
				return true, nil
			}
		}
		positioned = m.indexCursor.Next()
	}
	return false, nil
}

// compileRegex lazily compiles and caches a query regex, translating the supported
// MongoDB-style option letters (i, m, s) into Go's inline flag syntax. Any other option
// letter, or a pattern regexp.Compile rejects, surfaces as ErrInvalidRegexOptions - the
// one case where a predicate faults instead of producing false, exactly as it is only
// ever discovered the first time a cursor advances onto a candidate document.
func (m *vm) compileRegex(re primitive.Regex) (*regexp.Regexp, error) {
	cacheKey := re.Pattern + "\x00" + re.Options
	if c, ok := m.regexCache[cacheKey]; ok {
		return c, nil
	}
	flags := ""
	for _, c := range re.Options {
		switch c {
		case 'i', 'm', 's':
			flags += string(c)
		default:
			return nil, ErrInvalidRegexOptions
		}
	}
	pattern := re.Pattern
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, ErrInvalidRegexOptions
	}
	m.regexCache[cacheKey] = compiled
	return compiled, nil
}

// equalOrContains implements the EqualOrContains opcode: field equals lit outright, or field
// is an array holding an element equal to lit.
func equalOrContains(field, lit Value) bool {
	if ValuesEqual(field, lit) {
		return true
	}
	if field.IsArray() {
		arr, _ := field.AsArray()
		for _, e := range arr {
			if ValuesEqual(e, lit) {
				return true
			}
		}
	}
	return false
}

// matchesCompare implements the array-contains rule for ordering predicates: if field
// is an array, the predicate succeeds iff satisfies holds for at least one element against
// lit; otherwise it is a plain scalar comparison. Comparing the array as a whole against a
// scalar would instead fall through Compare's cross-type rank and never reflect the
// elements, which is why this does not just call satisfies(Compare(field, lit)) directly.
func matchesCompare(field, lit Value, satisfies func(Ordering) bool) bool {
	if field.IsArray() {
		arr, _ := field.AsArray()
		for _, e := range arr {
			if satisfies(Compare(e, lit)) {
				return true
			}
		}
		return false
	}
	return satisfies(Compare(field, lit))
}

// inSet implements $in/$nin: field (or one of its array elements) equals any element of
// the query array lit.
func inSet(field, lit Value) bool {
	arr, ok := lit.AsArray()
	if !ok {
		return false
	}
	for _, qe := range arr {
		if equalOrContains(field, qe) {
			return true
		}
	}
	return false
}

// allContains implements $all: field must be an array containing every element of lit.
func allContains(field, lit Value) bool {
	queryArr, ok := lit.AsArray()
	if !ok || !field.IsArray() {
		return false
	}
	fieldArr, _ := field.AsArray()
	for _, qe := range queryArr {
		found := false
		for _, fe := range fieldArr {
			if ValuesEqual(fe, qe) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// sizeMatches implements $size: field must be an array whose length equals lit.
func sizeMatches(field, lit Value) bool {
	if !field.IsArray() {
		return false
	}
	n, ok := asBigFloat(lit)
	if !ok {
		return false
	}
	want, _ := n.Float64()
	return float64(len(field.arr)) == want
}
