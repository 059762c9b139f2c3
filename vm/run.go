package bci

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

var errSegmentationFault = errors.New("segmentation fault")

// Execute runs the bytecode image in block to completion. Diagnostics,
// builtin output, the optional per-instruction trace and the final typed
// result all go to out. A non-nil error means a fatal condition; its
// diagnostic has already been written.
func Execute(block []byte, debug bool, settings Settings, out io.Writer) error {
	m := NewMachine(block, settings, out)
	return m.run(debug)
}

// Allows us to surface critical errors that came up during execution.
// Machine faults carry their own diagnostic; any other panic means a
// corrupted image walked the machine somewhere undecodable.
func (m *Machine) recoverFault(err *error) {
	r := recover()
	if r == nil {
		return
	}

	if fault, ok := r.(*machineFault); ok {
		*err = fault
		return
	}

	fmt.Fprintln(m.out, errSegmentationFault)
	*err = errSegmentationFault
}

// This is considered a tight loop: decode one opcode, dispatch, repeat.
// Operands are read inline through readInt/readString, which advance ip.
func (m *Machine) run(debug bool) (err error) {
	defer m.recoverFault(&err)

	for {
		if m.settings.ForceGC {
			m.forceGC()
		}

		if debug {
			m.logInstruction()
		}

		opcode := Opcode(m.block[m.ip])
		m.ip++

		switch opcode {
		case PushBuiltin:
			name := m.readString()
			builtin := FindBuiltin(string(name))
			if builtin == nil {
				m.fatalf("Run: PUSH_BUILTIN: unknown builtin: %s", name)
			}
			m.newBuiltin(builtin)
		case PushClosure:
			targetIP := m.readInt()
			m.newClosure(m.activation, targetIP)
		case PushData:
			meta := m.readInt()
			id := m.readInt()
			size := m.readInt()

			if size < 0 || m.sp < size {
				m.fatalf("Run: PUSH_DATA: stack is too small")
			}
			v := m.newData(meta, id, m.stack[m.sp-size:m.sp])

			m.popN(size + 1)
			m.push(v)
		case PushDataItem:
			offset := m.readInt()
			data := m.pop()
			if data.Type() != VData {
				m.fatalf("Run: PUSH_DATA_ITEM: not a data value")
			}
			if offset < 0 || int(offset) >= len(data.items) {
				m.fatalf("Run: PUSH_DATA_ITEM: offset out of range: %d", offset)
			}
			m.push(data.items[offset])
		case PushFalse:
			m.push(m.falseValue)
		case PushInt:
			m.newInt(m.readInt())
		case PushString:
			m.newString(m.readString())
		case PushTrue:
			m.push(m.trueValue)
		case PushTuple:
			size := m.readInt()

			if size < 0 || m.sp < size {
				m.fatalf("Run: PUSH_TUPLE: stack is too small")
			}
			v := m.newTuple(m.stack[m.sp-size : m.sp])

			m.popN(size + 1)
			m.push(v)
		case PushTupleItem:
			offset := m.readInt()
			tuple := m.pop()
			if tuple.Type() != VTuple {
				m.fatalf("Run: PUSH_TUPLE_ITEM: not a tuple value")
			}
			if offset < 0 || int(offset) >= len(tuple.items) {
				m.fatalf("Run: PUSH_TUPLE_ITEM: offset out of range: %d", offset)
			}
			m.push(tuple.items[offset])
		case PushUnit:
			m.push(m.unitValue)
		case PushVar:
			index := m.readInt()
			offset := m.readInt()

			a := m.activation
			for index > 0 {
				if a == nil || a.Type() != VActivation || a.a.closure == nil {
					m.fatalf("Run: PUSH_VAR: intermediate not an activation record: %d", index)
				}
				a = a.a.closure.c.previousActivation
				index--
			}
			if a == nil || a.Type() != VActivation {
				m.fatalf("Run: PUSH_VAR: not an activation record: %d", index)
			}
			if a.a.state == nil {
				m.fatalf("Run: PUSH_VAR: activation has no state")
			}
			if offset < 0 || int(offset) >= len(a.a.state) {
				m.fatalf("Run: PUSH_VAR: offset out of bounds: %d >= %d", offset, len(a.a.state))
			}
			m.push(a.a.state[offset])
		case Dup:
			m.push(m.peek(0))
		case Discard:
			m.pop()
		case Swap:
			a := m.pop()
			b := m.pop()
			m.push(a)
			m.push(b)
		case Add:
			b := m.pop()
			a := m.pop()
			if a.Type() != VInt || b.Type() != VInt {
				m.fatalf("Run: ADD: not an int")
			}
			m.newInt(a.i + b.i)
		case Sub:
			b := m.pop()
			a := m.pop()
			if a.Type() != VInt || b.Type() != VInt {
				m.fatalf("Run: SUB: not an int")
			}
			m.newInt(a.i - b.i)
		case Mul:
			b := m.pop()
			a := m.pop()
			if a.Type() != VInt || b.Type() != VInt {
				m.fatalf("Run: MUL: not an int")
			}
			m.newInt(a.i * b.i)
		case Div:
			b := m.pop()
			a := m.pop()
			if a.Type() != VInt || b.Type() != VInt {
				m.fatalf("Run: DIV: not an int")
			}
			if b.i == 0 {
				m.fatalf("Run: DIV: division by zero")
			}
			m.newInt(a.i / b.i)
		case Eq:
			b := m.pop()
			a := m.pop()
			if a.Type() != VInt || b.Type() != VInt {
				m.fatalf("Run: EQ: not an int")
			}
			if a.i == b.i {
				m.push(m.trueValue)
			} else {
				m.push(m.falseValue)
			}
		case Jmp:
			m.ip = m.readInt()
		case JmpData:
			size := m.readInt()
			v := m.pop()

			if v.Type() != VData {
				m.fatalf("Run: JMP_DATA: not a data")
			}
			if v.id < 0 || v.id >= size {
				m.fatalf("Run: JMP_DATA: id out of bounds: %d >= %d", v.id, size)
			}

			m.ip = m.readIntFrom(m.ip + 4*v.id)
		case JmpFalse:
			targetIP := m.readInt()
			v := m.pop()
			if v.Type() != VBool {
				m.fatalf("Run: JMP_FALSE: not a bool")
			}
			if !v.b {
				m.ip = targetIP
			}
		case JmpTrue:
			targetIP := m.readInt()
			v := m.pop()
			if v.Type() != VBool {
				m.fatalf("Run: JMP_TRUE: not a bool")
			}
			if v.b {
				m.ip = targetIP
			}
		case SwapCall:
			callee := m.peek(1)

			switch callee.Type() {
			case VClosure:
				// The constructor pushes the new frame; the collapse below
				// leaves exactly the argument on the stack for the callee.
				frame := m.newActivation(m.activation, callee, m.ip)
				m.ip = callee.c.ip
				m.activation = frame
				m.stack[m.sp-3] = m.stack[m.sp-2]
				m.popN(2)
			case VBuiltin:
				callee.bi.fn(m)
			case VBuiltinClosure:
				callee.bc.fn(m)
			default:
				m.fatalf("Run: SWAP_CALL: not a closure: %d: %s", callee.Type(), m.toString(callee, StyleRaw))
			}
		case Enter:
			size := m.readInt()

			if size < 0 {
				m.fatalf("Run: ENTER: negative state size: %d", size)
			}
			if m.activation.a.state != nil {
				m.fatalf("Run: ENTER: activation already has state")
			}
			m.activation.a.state = make([]*Value, size)
		case Ret:
			if m.activation.a.parent == nil {
				v := m.pop()

				if v.Type() != VUnit {
					fmt.Fprintf(m.out, "%s\n", m.toString(v, StyleTyped))
				}

				m.destroyState()
				return nil
			}
			m.ip = m.activation.a.nextIP
			m.activation = m.activation.a.parent
		case StoreVar:
			index := m.readInt()
			value := m.pop()

			if m.activation.a.state == nil {
				m.fatalf("Run: STORE_VAR: activation has no state")
			}
			if index < 0 || int(index) >= len(m.activation.a.state) {
				m.fatalf("Run: STORE_VAR: index out of bounds: %d", index)
			}

			m.activation.a.state[index] = value
		default:
			if instr := Find(opcode); instr != nil {
				m.fatalf("Run: ip=%d: Unknown opcode: %s (%d)", m.ip-1, instr.Name, instr.Opcode)
			}
			m.fatalf("Run: Invalid opcode: %d", opcode)
		}
	}
}

func (m *Machine) readInt() int32 {
	result := m.readIntFrom(m.ip)
	m.ip += 4
	return result
}

func (m *Machine) readString() []byte {
	result := m.readStringFrom(m.ip)
	m.ip += int32(len(result)) + 1
	return result
}

// logInstruction writes one trace line before the opcode at ip is decoded:
// the offset, the instruction with its operands, the whole stack rendered
// raw, and the current activation.
func (m *Machine) logInstruction() {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%d: ", m.ip)

	instr := Find(Opcode(m.block[m.ip]))
	if instr == nil {
		fmt.Fprintf(&sb, "Unknown opcode: %d", m.block[m.ip])
	} else {
		sb.WriteString(instr.Name)
		operands, _ := formatOperands(m.block, m.ip+1, instr.Params)
		for _, operand := range operands {
			sb.WriteString(" ")
			sb.WriteString(operand)
		}
	}

	sb.WriteString(": [")
	for i := int32(0); i < m.sp; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(m.toString(m.stack[i], StyleRaw))
	}
	sb.WriteString("] ")

	sb.WriteString(m.toString(m.activation, StyleRaw))
	sb.WriteString(" \n")

	io.WriteString(m.out, sb.String())
}
