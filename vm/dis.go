package bci

import (
	"fmt"
	"io"
)

// Disassemble walks the code segment starting after the 4-byte header and
// prints one line per instruction: the offset, the name, and the decoded
// operands. String-kind operands print as strings and JMP_DATA's inline
// label table is decoded in full, so the walk stays aligned across them.
//
// Constant data interleaved with code (naming tables referenced by
// PUSH_DATA) is not told apart from instructions: its bytes are decoded as
// opcodes and operands until one is not an opcode, which is reported as an
// unknown opcode and stops the walk.
func Disassemble(block []byte, out io.Writer) error {
	offset := int32(4)
	for int(offset) < len(block) {
		fmt.Fprintf(out, "%6d: ", offset)

		opcode := Opcode(block[offset])
		offset++

		instr := Find(opcode)
		if instr == nil {
			fmt.Fprintf(out, "Unknown opcode: %d\n", opcode)
			return fmt.Errorf("unknown opcode %d at offset %d", opcode, offset-1)
		}

		fmt.Fprint(out, instr.Name)

		operands, next := formatOperands(block, offset, instr.Params)
		for _, operand := range operands {
			fmt.Fprintf(out, " %s", operand)
		}
		offset = next

		if opcode == JmpData {
			size := readIntAt(block, offset)
			offset += 4
			fmt.Fprintf(out, " %d", size)
			for i := int32(0); i < size; i++ {
				fmt.Fprintf(out, " %d", readIntAt(block, offset))
				offset += 4
			}
		}

		fmt.Fprintln(out)
	}
	return nil
}
