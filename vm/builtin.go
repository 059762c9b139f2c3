package bci

import (
	"bytes"
	"fmt"
)

// BuiltinFn is a native function invoked by SWAP_CALL. It consumes peek(0)
// (the argument) and peek(1) (the builtin or builtin-closure being applied)
// and leaves its result on top of the stack.
type BuiltinFn func(m *Machine)

type Builtin struct {
	Name string
	fn   BuiltinFn
}

// Maps from name -> builtin, registered before execution starts.
var builtins = map[string]*Builtin{}

func registerBuiltin(name string, fn BuiltinFn) {
	builtins[name] = &Builtin{Name: name, fn: fn}
}

func init() {
	registerBuiltin("$$builtin-print", builtinPrint)
	registerBuiltin("$$builtin-println", builtinPrintln)
	registerBuiltin("$$builtin-print-literal", builtinPrintLiteral)
	registerBuiltin("$$builtin-string-compare", builtinStringCompare)
	registerBuiltin("$$builtin-string-concat", builtinStringConcat)
	registerBuiltin("$$builtin-string-equal", builtinStringEqual)
	registerBuiltin("$$builtin-string-length", builtinStringLength)
	registerBuiltin("$$builtin-string-substring", builtinStringSubstring)
	registerBuiltin("$$builtin-fatal-error", builtinFatalError)
}

// FindBuiltin returns the named builtin, or nil if it is not registered.
func FindBuiltin(name string) *Builtin {
	return builtins[name]
}

// continueWith applies one argument of a curried builtin: it builds the
// BuiltinClosure for the stage that consumes the next argument, then
// collapses the callee/argument slots so the closure ends up on top.
func (m *Machine) continueWith(fn BuiltinFn) {
	argument := m.peek(0)
	m.newBuiltinClosure(m.peek(1), argument, fn)

	m.stack[m.sp-3] = m.stack[m.sp-1]
	m.popN(2)
}

func (m *Machine) wantString(v *Value, name string) []byte {
	if v == nil || v.Type() != VString {
		m.fatalf("Run: %s: not a string", name)
	}
	return v.s
}

func (m *Machine) wantInt(v *Value, name string) int32 {
	if v == nil || v.Type() != VInt {
		m.fatalf("Run: %s: not an int", name)
	}
	return v.i
}

func builtinPrint(m *Machine) {
	v := m.pop()
	m.pop()
	fmt.Fprint(m.out, m.toString(v, StyleRaw))
	m.push(m.unitValue)
}

func builtinPrintLiteral(m *Machine) {
	v := m.pop()
	m.pop()
	fmt.Fprint(m.out, m.toString(v, StyleLiteral))
	m.push(m.unitValue)
}

func builtinPrintln(m *Machine) {
	m.pop()
	m.pop()
	fmt.Fprintln(m.out)
	m.push(m.unitValue)
}

func builtinFatalError(m *Machine) {
	m.fatalf("Fatal error: %s", m.toString(m.pop(), StyleRaw))
}

func builtinStringCompare(m *Machine) {
	m.continueWith(stringCompare1)
}

func stringCompare1(m *Machine) {
	v1 := m.pop()
	v2 := m.pop()

	a := m.wantString(v2.bc.argument, "$$builtin-string-compare")
	b := m.wantString(v1, "$$builtin-string-compare")
	m.newInt(int32(bytes.Compare(a, b)))
}

func builtinStringConcat(m *Machine) {
	m.continueWith(stringConcat1)
}

func stringConcat1(m *Machine) {
	v1 := m.pop()
	v2 := m.pop()

	a := m.wantString(v2.bc.argument, "$$builtin-string-concat")
	b := m.wantString(v1, "$$builtin-string-concat")

	s := make([]byte, 0, len(a)+len(b))
	s = append(s, a...)
	s = append(s, b...)
	m.newStringReference(s)
}

func builtinStringEqual(m *Machine) {
	m.continueWith(stringEqual1)
}

func stringEqual1(m *Machine) {
	v1 := m.pop()
	v2 := m.pop()

	a := m.wantString(v1, "$$builtin-string-equal")
	b := m.wantString(v2.bc.argument, "$$builtin-string-equal")
	if bytes.Equal(a, b) {
		m.push(m.trueValue)
	} else {
		m.push(m.falseValue)
	}
}

func builtinStringLength(m *Machine) {
	v := m.pop()
	m.pop()
	m.newInt(int32(len(m.wantString(v, "$$builtin-string-length"))))
}

func builtinStringSubstring(m *Machine) {
	m.continueWith(stringSubstring1)
}

func stringSubstring1(m *Machine) {
	m.continueWith(stringSubstring2)
}

// stringSubstring2 receives the full chain: the string two applications back,
// the start index one back, and the end index as the final argument. Both
// indices clamp to [0, len]; an empty range yields "".
func stringSubstring2(m *Machine) {
	v1 := m.pop()
	v2 := m.pop()

	end := m.wantInt(v1, "$$builtin-string-substring")
	start := m.wantInt(v2.bc.argument, "$$builtin-string-substring")
	s := m.wantString(v2.bc.previous.bc.argument, "$$builtin-string-substring")

	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}

	switch {
	case int(start) >= len(s), end <= start:
		m.newString(nil)
	default:
		if int(end) > len(s) {
			end = int32(len(s))
		}
		sub := make([]byte, end-start)
		copy(sub, s[start:end])
		m.newStringReference(sub)
	}
}
