package bci

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runImage(t *testing.T, block []byte) (string, error) {
	t.Helper()

	var out bytes.Buffer
	err := Execute(block, false, DefaultSettings(), &out)
	return out.String(), err
}

func runImageOK(t *testing.T, block []byte) string {
	t.Helper()

	out, err := runImage(t, block)
	require.NoError(t, err)
	return out
}

func TestArithmeticUnprinted(t *testing.T) {
	// The top-level Unit result is not printed, and a leftover intermediate
	// below it does not fail the run.
	block := newImage().
		op(PushInt).i32(2).
		op(PushInt).i32(3).
		op(Add).
		op(PushUnit).
		op(Ret).
		bytes()

	require.Equal(t, "", runImageOK(t, block))
}

func TestArithmeticPrinted(t *testing.T) {
	block := newImage().
		op(PushInt).i32(2).
		op(PushInt).i32(3).
		op(Mul).
		op(Ret).
		bytes()

	require.Equal(t, "6: Int\n", runImageOK(t, block))
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		a, b int32
		code Opcode
		want string
	}{
		{"add", 2, 3, Add, "5: Int\n"},
		{"sub", 10, 4, Sub, "6: Int\n"},
		{"mul", -3, 5, Mul, "-15: Int\n"},
		{"div", 10, 2, Div, "5: Int\n"},
		{"div truncates", 7, 2, Div, "3: Int\n"},
		{"add wraps", 2147483647, 1, Add, "-2147483648: Int\n"},
		{"mul wraps", 2147483647, 2, Mul, "-2: Int\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := newImage().
				op(PushInt).i32(tt.a).
				op(PushInt).i32(tt.b).
				op(tt.code).
				op(Ret).
				bytes()

			require.Equal(t, tt.want, runImageOK(t, block))
		})
	}
}

func TestConditional(t *testing.T) {
	build := func(cond Opcode) []byte {
		b := newImage()
		b.op(cond)
		b.op(JmpFalse)
		holeL := b.hole()
		b.op(PushInt).i32(1)
		b.op(Jmp)
		holeE := b.hole()
		b.patch(holeL, b.here())
		b.op(PushInt).i32(2)
		b.patch(holeE, b.here())
		b.op(Ret)
		return b.bytes()
	}

	require.Equal(t, "1: Int\n", runImageOK(t, build(PushTrue)))
	require.Equal(t, "2: Int\n", runImageOK(t, build(PushFalse)))
}

func TestJmpTrue(t *testing.T) {
	b := newImage()
	b.op(PushTrue)
	b.op(JmpTrue)
	holeL := b.hole()
	b.op(PushInt).i32(1)
	b.op(Ret)
	b.patch(holeL, b.here())
	b.op(PushInt).i32(2)
	b.op(Ret)

	require.Equal(t, "2: Int\n", runImageOK(t, b.bytes()))
}

func TestEq(t *testing.T) {
	build := func(a, b int32) []byte {
		return newImage().
			op(PushInt).i32(a).
			op(PushInt).i32(b).
			op(Eq).
			op(Ret).
			bytes()
	}

	require.Equal(t, "true: Bool\n", runImageOK(t, build(3, 3)))
	require.Equal(t, "false: Bool\n", runImageOK(t, build(3, 4)))
}

func TestStackShuffling(t *testing.T) {
	swap := newImage().
		op(PushInt).i32(1).
		op(PushInt).i32(2).
		op(Swap).
		op(Ret).
		bytes()
	require.Equal(t, "1: Int\n", runImageOK(t, swap))

	discard := newImage().
		op(PushInt).i32(1).
		op(PushInt).i32(2).
		op(Discard).
		op(Ret).
		bytes()
	require.Equal(t, "1: Int\n", runImageOK(t, discard))

	dup := newImage().
		op(PushInt).i32(4).
		op(Dup).
		op(Mul).
		op(Ret).
		bytes()
	require.Equal(t, "16: Int\n", runImageOK(t, dup))
}

func TestTuple(t *testing.T) {
	block := newImage().
		op(PushInt).i32(1).
		op(PushString).str("x").
		op(PushTuple).i32(2).
		op(Ret).
		bytes()

	require.Equal(t, "(1, \"x\"): (Int * String)\n", runImageOK(t, block))
}

func TestTupleItem(t *testing.T) {
	block := newImage().
		op(PushInt).i32(5).
		op(PushInt).i32(6).
		op(PushTuple).i32(2).
		op(PushTupleItem).i32(1).
		op(Ret).
		bytes()

	require.Equal(t, "6: Int\n", runImageOK(t, block))
}

// maybeImage lays out code that builds Some 7, leaving the naming table for
// Maybe behind the final RET, out of the execution path.
func maybeImage(body func(b *imageBuilder, metaHoles []int)) []byte {
	b := newImage()
	var holes []int

	pushSome7 := func() {
		b.op(PushInt).i32(7)
		b.op(PushData)
		holes = append(holes, b.hole())
		b.i32(1) // constructor Some
		b.i32(1) // one field
	}

	pushSome7()
	body(b, holes)

	meta := b.here()
	b.i32(2).str("Maybe").str("None").str("Some")
	for _, hole := range holes {
		b.patch(hole, meta)
	}
	return b.bytes()
}

func TestDataRendering(t *testing.T) {
	block := maybeImage(func(b *imageBuilder, holes []int) {
		b.op(Ret)
	})

	require.Equal(t, "Some 7: Maybe\n", runImageOK(t, block))
}

func TestDataItem(t *testing.T) {
	block := maybeImage(func(b *imageBuilder, holes []int) {
		b.op(PushDataItem).i32(0)
		b.op(Ret)
	})

	require.Equal(t, "7: Int\n", runImageOK(t, block))
}

func TestDataDispatch(t *testing.T) {
	block := maybeImage(func(b *imageBuilder, holes []int) {
		b.op(Dup)
		b.op(JmpData)
		b.i32(2)
		hole0 := b.hole()
		hole1 := b.hole()

		b.patch(hole0, b.here()) // None branch
		b.op(Discard)
		b.op(PushInt).i32(-1)
		b.op(Ret)

		b.patch(hole1, b.here()) // Some branch: the data itself remains
		b.op(Ret)
	})

	require.Equal(t, "Some 7: Maybe\n", runImageOK(t, block))
}

func TestClosureCall(t *testing.T) {
	// let f = \x -> x * 2 in f 21
	b := newImage()
	b.op(Enter).i32(1)
	b.op(PushClosure)
	holeF := b.hole()
	b.op(StoreVar).i32(0)
	b.op(PushVar).i32(0).i32(0)
	b.op(PushInt).i32(21)
	b.op(SwapCall)
	b.op(Ret)

	b.patch(holeF, b.here())
	b.op(Enter).i32(1)
	b.op(StoreVar).i32(0)
	b.op(PushVar).i32(0).i32(0)
	b.op(PushInt).i32(2)
	b.op(Mul)
	b.op(Ret)

	require.Equal(t, "42: Int\n", runImageOK(t, b.bytes()))
}

func TestLexicalCapture(t *testing.T) {
	// let g = \x -> \y -> x + y in (g 1) 2
	b := newImage()
	b.op(Enter).i32(1)
	b.op(PushClosure)
	holeF := b.hole()
	b.op(StoreVar).i32(0)
	b.op(PushVar).i32(0).i32(0)
	b.op(PushInt).i32(1)
	b.op(SwapCall)
	b.op(PushInt).i32(2)
	b.op(SwapCall)
	b.op(Ret)

	b.patch(holeF, b.here()) // \x -> \y -> x + y
	b.op(Enter).i32(1)
	b.op(StoreVar).i32(0)
	b.op(PushClosure)
	holeH := b.hole()
	b.op(Ret)

	b.patch(holeH, b.here()) // \y -> x + y
	b.op(Enter).i32(1)
	b.op(StoreVar).i32(0)
	b.op(PushVar).i32(1).i32(0)
	b.op(PushVar).i32(0).i32(0)
	b.op(Add)
	b.op(Ret)

	require.Equal(t, "3: Int\n", runImageOK(t, b.bytes()))
}

func TestStringConcatCurried(t *testing.T) {
	block := newImage().
		op(PushBuiltin).str("$$builtin-string-concat").
		op(PushString).str("ab").
		op(SwapCall).
		op(PushString).str("cd").
		op(SwapCall).
		op(Ret).
		bytes()

	require.Equal(t, "\"abcd\": String\n", runImageOK(t, block))
}

func TestFatalConditions(t *testing.T) {
	divByZero := newImage().
		op(PushInt).i32(1).
		op(PushInt).i32(0).
		op(Div).op(Ret).bytes()

	addNonInt := newImage().
		op(PushTrue).
		op(PushInt).i32(1).
		op(Add).op(Ret).bytes()

	jmpFalseNonBool := newImage().
		op(PushInt).i32(1).
		op(JmpFalse).i32(4).
		op(Ret).bytes()

	callNonCallable := newImage().
		op(PushInt).i32(1).
		op(PushInt).i32(2).
		op(SwapCall).op(Ret).bytes()

	tupleItemRange := newImage().
		op(PushInt).i32(1).
		op(PushTuple).i32(1).
		op(PushTupleItem).i32(5).
		op(Ret).bytes()

	dataItemNonData := newImage().
		op(PushInt).i32(1).
		op(PushDataItem).i32(0).
		op(Ret).bytes()

	unknownOpcode := newImage().
		op(Opcode(99)).bytes()

	unknownBuiltin := newImage().
		op(PushBuiltin).str("$$builtin-nope").
		op(Ret).bytes()

	stackUnderflow := newImage().
		op(Discard).
		op(Discard).bytes()

	enterTwice := newImage().
		op(Enter).i32(1).
		op(Enter).i32(1).bytes()

	storeVarNoState := newImage().
		op(PushInt).i32(1).
		op(StoreVar).i32(0).bytes()

	storeVarRange := newImage().
		op(Enter).i32(1).
		op(PushInt).i32(1).
		op(StoreVar).i32(3).bytes()

	pushVarNoState := newImage().
		op(PushVar).i32(0).i32(0).bytes()

	pushVarRange := newImage().
		op(Enter).i32(1).
		op(PushVar).i32(0).i32(7).bytes()

	fatalError := newImage().
		op(PushBuiltin).str("$$builtin-fatal-error").
		op(PushString).str("boom").
		op(SwapCall).bytes()

	tests := []struct {
		name  string
		block []byte
		want  string
	}{
		{"div by zero", divByZero, "Run: DIV: division by zero"},
		{"add non-int", addNonInt, "Run: ADD: not an int"},
		{"jmp_false non-bool", jmpFalseNonBool, "Run: JMP_FALSE: not a bool"},
		{"call non-callable", callNonCallable, "Run: SWAP_CALL: not a closure: 6: 1"},
		{"tuple item out of range", tupleItemRange, "Run: PUSH_TUPLE_ITEM: offset out of range: 5"},
		{"data item non-data", dataItemNonData, "Run: PUSH_DATA_ITEM: not a data value"},
		{"unknown opcode", unknownOpcode, "Run: Invalid opcode: 99"},
		{"unknown builtin", unknownBuiltin, "Run: PUSH_BUILTIN: unknown builtin: $$builtin-nope"},
		{"stack underflow", stackUnderflow, "Run: pop: stack is empty"},
		{"enter twice", enterTwice, "Run: ENTER: activation already has state"},
		{"store_var without enter", storeVarNoState, "Run: STORE_VAR: activation has no state"},
		{"store_var out of bounds", storeVarRange, "Run: STORE_VAR: index out of bounds: 3"},
		{"push_var without enter", pushVarNoState, "Run: PUSH_VAR: activation has no state"},
		{"push_var out of bounds", pushVarRange, "Run: PUSH_VAR: offset out of bounds: 7 >= 1"},
		{"fatal-error builtin", fatalError, "Fatal error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runImage(t, tt.block)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
			assert.Equal(t, tt.want+"\n", out)
		})
	}
}

func TestJmpDataIDOutOfBounds(t *testing.T) {
	block := maybeImage(func(b *imageBuilder, holes []int) {
		b.op(JmpData)
		b.i32(1) // table smaller than the constructor index
		b.hole()
	})

	out, err := runImage(t, block)
	require.Error(t, err)
	assert.Equal(t, "Run: JMP_DATA: id out of bounds: 1 >= 1", err.Error())
	assert.Equal(t, "Run: JMP_DATA: id out of bounds: 1 >= 1\n", out)
}

func TestTrace(t *testing.T) {
	block := newImage().
		op(PushInt).i32(2).
		op(Ret).
		bytes()

	var out bytes.Buffer
	err := Execute(block, true, DefaultSettings(), &out)
	require.NoError(t, err)

	want := "4: PUSH_INT 2: [<-, -, -, ->] <-, -, -, -> \n" +
		"9: RET: [<-, -, -, ->, 2] <-, -, -, -> \n" +
		"2: Int\n"
	require.Equal(t, want, out.String())
}

func TestTraceStringOperand(t *testing.T) {
	block := newImage().
		op(PushString).str("hi").
		op(Discard).
		op(PushUnit).
		op(Ret).
		bytes()

	var out bytes.Buffer
	err := Execute(block, true, DefaultSettings(), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "4: PUSH_STRING \"hi\": ")
}

func TestRunningOffTheImage(t *testing.T) {
	// No RET: decoding walks off the end of the blob.
	block := newImage().op(PushUnit).bytes()

	out, err := runImage(t, block)
	require.Error(t, err)
	assert.Equal(t, "segmentation fault\n", out)
}

func TestForceGCMode(t *testing.T) {
	settings := DefaultSettings()
	settings.ForceGC = true

	block := newImage().
		op(PushInt).i32(2).
		op(PushInt).i32(3).
		op(Add).
		op(Ret).
		bytes()

	var out bytes.Buffer
	err := Execute(block, false, settings, &out)
	require.NoError(t, err)
	require.Equal(t, "5: Int\n", out.String())
}
