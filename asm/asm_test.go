package asm

import (
	"strings"
	"testing"

	"github.com/colorfulnotion/replay/interpreter"
	"github.com/colorfulnotion/replay/replayerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
; add two ints and keep the sum
LABEL 1
PUSH_I int32 5
PUSH_I int32 7
ADD int32
STORE_V 0
LABEL 2
CALL 3 0x10 push   ; renderer call
CALL 0 0xff80
LOAD_C uint8 'A'
POP 2
`

func TestAssembleDecodesBack(t *testing.T) {
	words, err := Assemble(sample)
	require.NoError(t, err)
	require.Len(t, words, 10)

	assert.Equal(t, Label(1), words[0])
	assert.Equal(t, PushI(interpreter.Int32, 5), words[1])
	assert.Equal(t, Add(interpreter.Int32), words[3])
	assert.Equal(t, Call(3, 0x10, true), words[6])

	inst, err := interpreter.Decode(words[6])
	require.NoError(t, err)
	assert.Equal(t, interpreter.Instruction{Code: interpreter.CALL, API: 3, FunctionID: 0x10, PushReturn: true}, inst)

	inst, err = interpreter.Decode(words[8])
	require.NoError(t, err)
	assert.Equal(t, uint32('A'), inst.Data)
}

func TestFormatRoundTrip(t *testing.T) {
	words, err := Assemble(sample)
	require.NoError(t, err)
	var text string
	for _, d := range Disassemble(words) {
		require.NoError(t, d.Err)
		text += d.Text + "\n"
	}
	again, err := Assemble(text)
	require.NoError(t, err)
	assert.Equal(t, words, again)
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	cases := []interpreter.Instruction{
		{Code: interpreter.PUSH_I, Type: interpreter.Int32, Data: interpreter.DataMask20 + 1},
		{Code: interpreter.LABEL, Data: interpreter.DataMask26 + 1},
		{Code: interpreter.CALL, API: interpreter.MaxAPIIndex + 1},
		{Code: interpreter.LOAD, Type: 14},
		{Code: 16},
	}
	for _, inst := range cases {
		_, err := Encode(inst)
		assert.ErrorIs(t, err, replayerrors.ErrDMalformedAssembly, "%+v", inst)
	}
}

func TestEncodeMatchesDecode(t *testing.T) {
	for c := interpreter.InstructionCode(0); c < interpreter.InstructionCodeCount; c++ {
		inst := interpreter.Instruction{Code: c}
		layout := interpreter.Layout(c)
		if layout.Has(interpreter.FieldType) {
			inst.Type = interpreter.Uint16
		}
		switch {
		case layout.Has(interpreter.FieldData20):
			inst.Data = 0xabcde
		case layout.Has(interpreter.FieldData26):
			inst.Data = 0x2abcdef
		}
		if c == interpreter.CALL {
			inst.API, inst.FunctionID, inst.PushReturn = 9, 0xbeef, true
		}
		w, err := Encode(inst)
		require.NoError(t, err)
		got, err := interpreter.Decode(w)
		require.NoError(t, err)
		assert.Equal(t, inst, got, c.String())
	}
}

func TestAssembleErrors(t *testing.T) {
	_, err := Assemble("PUSH_I int32")
	assert.ErrorIs(t, err, replayerrors.ErrDMalformedAssembly)
	assert.ErrorContains(t, err, "line 1")

	_, err = Assemble("\nJUMP 4")
	assert.ErrorContains(t, err, "line 2")

	_, err = AssembleLine("LOAD quad")
	assert.ErrorIs(t, err, replayerrors.ErrDMalformedAssembly)

	_, err = AssembleLine(".word")
	assert.ErrorIs(t, err, replayerrors.ErrDMalformedAssembly)
	_, err = AssembleLine(".word 0x100000000")
	assert.ErrorIs(t, err, replayerrors.ErrDMalformedAssembly)
}

func TestDisassemblyReassemblesRawWords(t *testing.T) {
	words := []uint32{Label(1), 0xffffffff, Store(), 0xfc000000}
	var sb strings.Builder
	for _, d := range Disassemble(words) {
		sb.WriteString(d.Text + "\n")
	}
	got, err := Assemble(sb.String())
	require.NoError(t, err)
	assert.Equal(t, words, got)

	w, err := AssembleLine(".word 0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), w)
}

func TestWords(t *testing.T) {
	words := []uint32{Label(3), Store(), 0xffffffff}
	got, err := DecodeWords(EncodeWords(words))
	require.NoError(t, err)
	assert.Equal(t, words, got)

	_, err = DecodeWords([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestTreeAndHistogram(t *testing.T) {
	words, err := Assemble(sample)
	require.NoError(t, err)
	words = append([]uint32{Store(), 0xffffffff}, words...)

	out := Tree(words).String()
	assert.Contains(t, out, "stream (12 instructions)")
	assert.Contains(t, out, "preamble")
	assert.Contains(t, out, "label 1 @2")
	assert.Contains(t, out, "label 2 @7")
	assert.Contains(t, out, "CALL 3 0x0010 push")
	assert.Contains(t, out, ".word 0xffffffff")

	h := CountInstructions(words)
	assert.Equal(t, 2, h[interpreter.PUSH_I])
	assert.Equal(t, 2, h[interpreter.CALL])
	assert.Equal(t, interpreter.CALL, h.Codes()[0])
	assert.Contains(t, DisassembleToString(words), "; 12 instructions")
}
