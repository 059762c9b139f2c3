package bci

import (
	"encoding/binary"
)

// imageBuilder assembles bytecode images the way the external compiler lays
// them out: a reserved 4-byte header, then code bytes, inline operands and
// constant data. Forward references are built with hole/patch.
type imageBuilder struct {
	buf []byte
}

func newImage() *imageBuilder {
	return &imageBuilder{buf: make([]byte, 4)}
}

func (b *imageBuilder) op(code Opcode) *imageBuilder {
	b.buf = append(b.buf, byte(code))
	return b
}

func (b *imageBuilder) i32(v int32) *imageBuilder {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(v))
	return b
}

func (b *imageBuilder) str(s string) *imageBuilder {
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
	return b
}

// here is the offset the next byte will land on, i.e. a label for it.
func (b *imageBuilder) here() int32 {
	return int32(len(b.buf))
}

// hole reserves a 4-byte operand to be patched later.
func (b *imageBuilder) hole() int {
	at := len(b.buf)
	b.i32(0)
	return at
}

func (b *imageBuilder) patch(at int, v int32) {
	binary.LittleEndian.PutUint32(b.buf[at:], uint32(v))
}

func (b *imageBuilder) bytes() []byte {
	return b.buf
}
