package bci

import (
	"strconv"
)

/*
	Instruction catalogue for the abstract machine.

	Each instruction is one opcode byte followed by its operands, laid out
	inline in the code stream. Operand kinds:

		OpInt     4-byte little-endian signed integer
		OpLabel   4-byte little-endian offset into the code
		OpBuiltIn zero-terminated string naming a builtin
		OpString  zero-terminated string literal

	JMP_DATA is catalogued with arity 0 but is followed in the byte stream
	by a 4-byte table size and that many 4-byte labels; the interpreter and
	the disassembler decode the table themselves.
*/

type Opcode byte

const (
	PushBuiltin Opcode = iota
	PushClosure
	PushData
	PushDataItem
	PushFalse
	PushInt
	PushString
	PushTrue
	PushTuple
	PushTupleItem
	PushUnit
	PushVar
	Dup
	Discard
	Swap
	Add
	Sub
	Mul
	Div
	Eq
	Jmp
	JmpData
	JmpFalse
	JmpTrue
	SwapCall
	Enter
	Ret
	StoreVar

	opcodeCount
)

// The kind of a single inline operand.
type OpParameter byte

const (
	OpInt OpParameter = iota
	OpLabel
	OpBuiltIn
	OpString
)

type Instruction struct {
	Opcode Opcode
	Name   string
	Params []OpParameter
}

// Arity is the number of inline operands that follow the opcode byte.
func (i *Instruction) Arity() int {
	return len(i.Params)
}

var instructions = [opcodeCount]Instruction{
	PushBuiltin:   {PushBuiltin, "PUSH_BUILTIN", []OpParameter{OpBuiltIn}},
	PushClosure:   {PushClosure, "PUSH_CLOSURE", []OpParameter{OpLabel}},
	PushData:      {PushData, "PUSH_DATA", []OpParameter{OpLabel, OpInt, OpInt}},
	PushDataItem:  {PushDataItem, "PUSH_DATA_ITEM", []OpParameter{OpInt}},
	PushFalse:     {PushFalse, "PUSH_FALSE", nil},
	PushInt:       {PushInt, "PUSH_INT", []OpParameter{OpInt}},
	PushString:    {PushString, "PUSH_STRING", []OpParameter{OpString}},
	PushTrue:      {PushTrue, "PUSH_TRUE", nil},
	PushTuple:     {PushTuple, "PUSH_TUPLE", []OpParameter{OpInt}},
	PushTupleItem: {PushTupleItem, "PUSH_TUPLE_ITEM", []OpParameter{OpInt}},
	PushUnit:      {PushUnit, "PUSH_UNIT", nil},
	PushVar:       {PushVar, "PUSH_VAR", []OpParameter{OpInt, OpInt}},
	Dup:           {Dup, "DUP", nil},
	Discard:       {Discard, "DISCARD", nil},
	Swap:          {Swap, "SWAP", nil},
	Add:           {Add, "ADD", nil},
	Sub:           {Sub, "SUB", nil},
	Mul:           {Mul, "MUL", nil},
	Div:           {Div, "DIV", nil},
	Eq:            {Eq, "EQ", nil},
	Jmp:           {Jmp, "JMP", []OpParameter{OpLabel}},
	JmpData:       {JmpData, "JMP_DATA", nil},
	JmpFalse:      {JmpFalse, "JMP_FALSE", []OpParameter{OpLabel}},
	JmpTrue:       {JmpTrue, "JMP_TRUE", []OpParameter{OpLabel}},
	SwapCall:      {SwapCall, "SWAP_CALL", nil},
	Enter:         {Enter, "ENTER", []OpParameter{OpInt}},
	Ret:           {Ret, "RET", nil},
	StoreVar:      {StoreVar, "STORE_VAR", []OpParameter{OpInt}},
}

// Maps from name -> instruction (built from the catalogue)
var nameToInstr map[string]*Instruction

// This is called when package is first loaded (before main)
func init() {
	nameToInstr = make(map[string]*Instruction, len(instructions))
	for i := range instructions {
		nameToInstr[instructions[i].Name] = &instructions[i]
	}
}

// Find returns the catalogue entry for opcode, or nil if the opcode is not
// part of the instruction set.
func Find(opcode Opcode) *Instruction {
	if opcode >= opcodeCount {
		return nil
	}
	return &instructions[opcode]
}

// FindOnName returns the catalogue entry with the given display name.
func FindOnName(name string) *Instruction {
	return nameToInstr[name]
}

// Convert opcode to string for use with Print/Sprint
func (op Opcode) String() string {
	if instr := Find(op); instr != nil {
		return instr.Name
	}
	return "?unknown?"
}

// formatOperands decodes the operands starting at offset according to the
// parameter kinds and returns their printable forms together with the offset
// of the next opcode. String-kind operands are decoded as the variable-length
// zero-terminated strings they are rather than dumped as misread integers.
func formatOperands(block []byte, offset int32, params []OpParameter) ([]string, int32) {
	if len(params) == 0 {
		return nil, offset
	}

	rendered := make([]string, 0, len(params))
	for _, kind := range params {
		switch kind {
		case OpInt, OpLabel:
			rendered = append(rendered, strconv.Itoa(int(readIntAt(block, offset))))
			offset += 4
		case OpBuiltIn:
			s := readStringAt(block, offset)
			rendered = append(rendered, string(s))
			offset += int32(len(s)) + 1
		case OpString:
			s := readStringAt(block, offset)
			rendered = append(rendered, quoteString(s))
			offset += int32(len(s)) + 1
		}
	}
	return rendered, offset
}
