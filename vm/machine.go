package bci

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

/*
	The machine owns the bytecode blob and every value it allocates.

	Allocation contract (every constructor below):
		1. run a collection opportunity
		2. allocate a fresh value stamped with the machine's current colour
		3. link it at the head of the allocation list
		4. push it on the evaluation stack

	The push is what anchors a newly created value as a root: if a nested
	allocation collects before the outer constructor returns, the new value
	is already reachable through the stack. Deviating from this order is a
	collector bug.
*/

type Machine struct {
	block []byte
	ip    int32

	// GC bookkeeping: colour alternates across collections, root heads the
	// allocation list, size/capacity drive the collection trigger.
	colour   Colour
	size     int
	capacity int
	root     *Value

	// The frame currently executing.
	activation *Value

	sp    int32
	stack []*Value

	// Canonical instances, pinned as collector roots until destroyState.
	unitValue  *Value
	trueValue  *Value
	falseValue *Value

	settings Settings
	out      io.Writer
}

// machineFault is the panic payload for a process-fatal condition. The
// diagnostic has already been written to the machine's output when it is
// raised; the interpreter boundary recovers it into an error.
type machineFault struct {
	msg string
}

func (f *machineFault) Error() string {
	return f.msg
}

func (m *Machine) fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(m.out, msg)
	panic(&machineFault{msg: msg})
}

// NewMachine builds a machine over block with execution poised at offset 4.
// The canonical Bool/Unit instances and the outermost activation are
// allocated up front; the activation is left on the stack, as the top-level
// RET expects.
func NewMachine(block []byte, settings Settings, out io.Writer) *Machine {
	settings = settings.normalise()

	m := &Machine{
		block:    block,
		ip:       4,
		colour:   white,
		capacity: settings.InitialHeapSize,
		stack:    make([]*Value, settings.InitialStackSize),
		settings: settings,
		out:      out,
	}

	m.falseValue = m.newBool(false)
	m.pop()
	m.trueValue = m.newBool(true)
	m.pop()
	m.unitValue = m.newUnit()
	m.pop()

	m.activation = m.newActivation(nil, nil, -1)

	return m
}

// destroyState drops every root and collects twice, leaving no value
// attributable to the machine, then releases the blob.
func (m *Machine) destroyState() {
	m.stack = nil
	m.sp = 0
	m.activation = nil
	m.unitValue = nil
	m.trueValue = nil
	m.falseValue = nil

	m.forceGC()
	m.forceGC()

	m.block = nil
}

func (m *Machine) push(v *Value) {
	if int(m.sp) == len(m.stack) {
		grown := make([]*Value, len(m.stack)*2)
		copy(grown, m.stack)
		m.stack = grown
	}
	m.stack[m.sp] = v
	m.sp++
}

func (m *Machine) pop() *Value {
	if m.sp == 0 {
		m.fatalf("Run: pop: stack is empty")
	}
	m.sp--
	v := m.stack[m.sp]
	m.stack[m.sp] = nil
	return v
}

// popN discards the top n entries. The vacated slots are cleared so stale
// references above sp cannot keep values alive through a mark phase.
func (m *Machine) popN(n int32) {
	if m.sp < n {
		m.fatalf("Run: popN: stack is too small")
	}
	for i := m.sp - n; i < m.sp; i++ {
		m.stack[i] = nil
	}
	m.sp -= n
}

func (m *Machine) peek(offset int32) *Value {
	if m.sp <= offset {
		m.fatalf("Run: peek: stack is too small")
	}
	return m.stack[m.sp-1-offset]
}

func (m *Machine) attach(v *Value) {
	m.size++
	v.next = m.root
	m.root = v
}

func (m *Machine) newActivation(parent, clo *Value, nextIP int32) *Value {
	m.collect()

	if parent != nil && parent.Type() != VActivation {
		m.fatalf("Error: newActivation: parentActivation is not an activation: %s", m.toString(parent, StyleRaw))
	}
	if clo != nil && clo.Type() != VClosure {
		m.fatalf("Error: newActivation: closure is not a closure: %s", m.toString(clo, StyleRaw))
	}

	v := &Value{tag: byte(VActivation) | byte(m.colour)}
	v.a = activation{parent: parent, closure: clo, nextIP: nextIP}
	m.attach(v)
	m.push(v)
	return v
}

func (m *Machine) newBool(b bool) *Value {
	m.collect()

	v := &Value{tag: byte(VBool) | byte(m.colour), b: b}
	m.attach(v)
	m.push(v)
	return v
}

func (m *Machine) newBuiltin(builtin *Builtin) *Value {
	m.collect()

	v := &Value{tag: byte(VBuiltin) | byte(m.colour), bi: builtin}
	m.attach(v)
	m.push(v)
	return v
}

func (m *Machine) newBuiltinClosure(previous, argument *Value, fn BuiltinFn) *Value {
	m.collect()

	v := &Value{tag: byte(VBuiltinClosure) | byte(m.colour)}
	v.bc = builtinClosure{previous: previous, argument: argument, fn: fn}
	m.attach(v)
	m.push(v)
	return v
}

func (m *Machine) newClosure(previousActivation *Value, ip int32) *Value {
	m.collect()

	if previousActivation != nil && previousActivation.Type() != VActivation {
		m.fatalf("Error: newClosure: previousActivation is not an activation: %s", m.toString(previousActivation, StyleRaw))
	}

	v := &Value{tag: byte(VClosure) | byte(m.colour)}
	v.c = closure{previousActivation: previousActivation, ip: ip}
	m.attach(v)
	m.push(v)
	return v
}

// newData copies fields before attaching, so callers may pass a window of the
// evaluation stack directly.
func (m *Machine) newData(meta, id int32, fields []*Value) *Value {
	m.collect()

	v := &Value{tag: byte(VData) | byte(m.colour), meta: meta, id: id}
	v.items = make([]*Value, len(fields))
	copy(v.items, fields)
	m.attach(v)
	m.push(v)
	return v
}

func (m *Machine) newInt(i int32) *Value {
	m.collect()

	v := &Value{tag: byte(VInt) | byte(m.colour), i: i}
	m.attach(v)
	m.push(v)
	return v
}

// newStringReference takes ownership of s.
func (m *Machine) newStringReference(s []byte) *Value {
	m.collect()

	v := &Value{tag: byte(VString) | byte(m.colour), s: s}
	m.attach(v)
	m.push(v)
	return v
}

func (m *Machine) newString(s []byte) *Value {
	copied := make([]byte, len(s))
	copy(copied, s)
	return m.newStringReference(copied)
}

func (m *Machine) newTuple(items []*Value) *Value {
	m.collect()

	v := &Value{tag: byte(VTuple) | byte(m.colour)}
	v.items = make([]*Value, len(items))
	copy(v.items, items)
	m.attach(v)
	m.push(v)
	return v
}

func (m *Machine) newUnit() *Value {
	m.collect()

	v := &Value{tag: byte(VUnit) | byte(m.colour)}
	m.attach(v)
	m.push(v)
	return v
}

// Converts bytes -> int32, assuming the given bytes are at least a sequence
// of 4 and that they were encoded as little endian
func readIntAt(block []byte, offset int32) int32 {
	return int32(binary.LittleEndian.Uint32(block[offset:]))
}

// readStringAt returns the zero-terminated byte string starting at offset as
// a window into block, without the terminator and without copying.
func readStringAt(block []byte, offset int32) []byte {
	end := bytes.IndexByte(block[offset:], 0)
	if end < 0 {
		return block[offset:]
	}
	return block[offset : offset+int32(end)]
}

func (m *Machine) readIntFrom(offset int32) int32 {
	return readIntAt(m.block, offset)
}

func (m *Machine) readStringFrom(offset int32) []byte {
	return readStringAt(m.block, offset)
}

// readDataNamesFrom decodes a naming table: a length n followed by n+1
// zero-terminated strings. The result holds the type name at index 0 and the
// constructor names after it.
func (m *Machine) readDataNamesFrom(offset int32) []string {
	count := m.readIntFrom(offset) + 1
	offset += 4

	names := make([]string, count)
	for i := range names {
		s := m.readStringFrom(offset)
		names[i] = string(s)
		offset += int32(len(s)) + 1
	}
	return names
}
