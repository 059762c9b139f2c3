package bci

import (
	"strconv"
	"strings"
)

// ValueType occupies the low 4 bits of a value's tag byte; bit 4 is the
// collector's colour.
type ValueType byte

const (
	VActivation ValueType = iota
	VBool
	VBuiltin
	VBuiltinClosure
	VClosure
	VData
	VInt
	VString
	VTuple
	VUnit
)

type Colour byte

const (
	white Colour = 0x00
	black Colour = 0x10
)

const (
	typeMask   = 0x0f
	colourMask = 0x10
)

// activation is a call frame. parent is the dynamic caller, restored by RET;
// the lexical parent is reached through closure.previousActivation. state is
// nil until the frame executes ENTER.
type activation struct {
	parent  *Value
	closure *Value
	nextIP  int32
	state   []*Value
}

type closure struct {
	previousActivation *Value
	ip                 int32
}

// builtinClosure records a partially applied builtin: the chain of previously
// supplied arguments hangs off previous, and fn consumes the next one.
type builtinClosure struct {
	previous *Value
	argument *Value
	fn       BuiltinFn
}

// Value is a heap object: a tag byte, the allocation-list link, and the
// payload of whichever variant the tag names. Strings hold arbitrary bytes;
// the zero terminator exists only in the bytecode image.
type Value struct {
	tag  byte
	next *Value

	i     int32    // VInt
	b     bool     // VBool
	s     []byte   // VString
	bi    *Builtin // VBuiltin
	a     activation
	c     closure
	bc    builtinClosure
	meta  int32    // VData: offset of the naming table in the image
	id    int32    // VData: constructor index
	items []*Value // VData fields / VTuple components
}

func (v *Value) Type() ValueType {
	return ValueType(v.tag & typeMask)
}

func (v *Value) colour() Colour {
	return Colour(v.tag & colourMask)
}

func (v *Value) recolour(colour Colour) {
	v.tag = v.tag&typeMask | byte(colour)
}

// Rendering styles. Raw is the default; Literal quotes and escapes strings;
// Typed appends ": T" derived from the value's tag.
type ValueStyle int

const (
	StyleRaw ValueStyle = iota
	StyleLiteral
	StyleTyped
)

func activationDepth(v *Value) int {
	if v == nil || v.Type() != VActivation {
		return 0
	}
	return 1 + activationDepth(v.a.parent)
}

// toString renders a value in the given style. Data and type names come from
// the image's naming tables, so rendering needs the machine.
func (m *Machine) toString(v *Value, style ValueStyle) string {
	var sb strings.Builder
	m.appendValue(&sb, v, style)
	if style == StyleTyped {
		sb.WriteString(": ")
		m.appendType(&sb, v)
	}
	return sb.String()
}

func (m *Machine) appendBuiltinClosure(sb *strings.Builder, v *Value, style ValueStyle) {
	if v.bc.previous.Type() == VBuiltin {
		sb.WriteString(v.bc.previous.bi.Name)
	} else {
		m.appendBuiltinClosure(sb, v.bc.previous, style)
	}

	sb.WriteString(" ")
	m.appendValue(sb, v.bc.argument, style)
}

func (m *Machine) appendValue(sb *strings.Builder, v *Value, style ValueStyle) {
	if v == nil {
		sb.WriteString("-")
		return
	}

	switch v.Type() {
	case VActivation:
		sb.WriteString("<")
		m.appendValue(sb, v.a.parent, style)
		sb.WriteString(", ")
		m.appendValue(sb, v.a.closure, style)
		sb.WriteString(", ")
		if v.a.nextIP == -1 {
			sb.WriteString("-")
		} else {
			sb.WriteString(strconv.Itoa(int(v.a.nextIP)))
		}
		sb.WriteString(", ")

		if v.a.state == nil {
			sb.WriteString("-")
		} else {
			sb.WriteString("[")
			for i, slot := range v.a.state {
				if i > 0 {
					sb.WriteString(", ")
				}
				m.appendValue(sb, slot, style)
			}
			sb.WriteString("]")
		}
		sb.WriteString(">")
	case VBool:
		if v.b {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case VBuiltin:
		sb.WriteString(v.bi.Name)
	case VBuiltinClosure:
		sb.WriteString("<")
		m.appendBuiltinClosure(sb, v, style)
		sb.WriteString(">")
	case VClosure:
		if style == StyleRaw {
			sb.WriteString("c")
			sb.WriteString(strconv.Itoa(int(v.c.ip)))
			sb.WriteString("#")
			sb.WriteString(strconv.Itoa(activationDepth(v.c.previousActivation)))
		} else {
			sb.WriteString("function")
		}
	case VData:
		names := m.readDataNamesFrom(v.meta)

		sb.WriteString(names[v.id+1])
		for _, field := range v.items {
			sb.WriteString(" ")
			if field != nil && field.Type() == VData && len(field.items) > 0 {
				sb.WriteString("(")
				m.appendValue(sb, field, style)
				sb.WriteString(")")
			} else {
				m.appendValue(sb, field, style)
			}
		}
	case VInt:
		sb.WriteString(strconv.Itoa(int(v.i)))
	case VString:
		if style == StyleRaw {
			sb.Write(v.s)
		} else {
			sb.WriteString(quoteString(v.s))
		}
	case VTuple:
		sb.WriteString("(")
		for i, item := range v.items {
			if i > 0 {
				sb.WriteString(", ")
			}
			m.appendValue(sb, item, style)
		}
		sb.WriteString(")")
	case VUnit:
		sb.WriteString("()")
	default:
		sb.WriteString("Unknown value - ")
		sb.WriteString(strconv.Itoa(int(v.Type())))
		sb.WriteString(" (")
		sb.WriteString(strconv.Itoa(int(v.tag)))
		sb.WriteString(")")
	}
}

func (m *Machine) appendType(sb *strings.Builder, v *Value) {
	if v == nil {
		return
	}

	switch v.Type() {
	case VActivation:
		sb.WriteString("Activation")
	case VBool:
		sb.WriteString("Bool")
	case VBuiltin:
		sb.WriteString("Builtin")
	case VBuiltinClosure:
		sb.WriteString("BuiltinClosure")
	case VClosure:
		sb.WriteString("Closure")
	case VData:
		names := m.readDataNamesFrom(v.meta)
		sb.WriteString(names[0])
	case VInt:
		sb.WriteString("Int")
	case VString:
		sb.WriteString("String")
	case VTuple:
		sb.WriteString("(")
		for i, item := range v.items {
			if i > 0 {
				sb.WriteString(" * ")
			}
			m.appendType(sb, item)
		}
		sb.WriteString(")")
	case VUnit:
		sb.WriteString("Unit")
	default:
		sb.WriteString("Unknown value - ")
		sb.WriteString(strconv.Itoa(int(v.Type())))
		sb.WriteString(" (")
		sb.WriteString(strconv.Itoa(int(v.tag)))
		sb.WriteString(")")
	}
}

// quoteString renders s double-quoted with '"' and '\' escaped. Shared by the
// literal rendering style and the disassembler's string operands.
func quoteString(s []byte) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, c := range s {
		if c == '"' || c == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	sb.WriteByte('"')
	return sb.String()
}
