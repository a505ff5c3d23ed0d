// Package asm encodes replay opcodes and converts opcode streams to and from
// their text form. The encoder is the bit-for-bit inverse of
// interpreter.Decode.
package asm

import (
	"encoding/binary"
	"fmt"

	"github.com/colorfulnotion/replay/interpreter"
	"github.com/colorfulnotion/replay/replayerrors"
)

func code(c interpreter.InstructionCode) uint32 {
	return uint32(c) << interpreter.OpcodeBitShift
}

func typed(c interpreter.InstructionCode, t interpreter.BaseType, data uint32) uint32 {
	return code(c) | uint32(t)<<interpreter.TypeBitShift | data&interpreter.DataMask20
}

func data26(c interpreter.InstructionCode, data uint32) uint32 {
	return code(c) | data&interpreter.DataMask26
}

func PushI(t interpreter.BaseType, data uint32) uint32 { return typed(interpreter.PUSH_I, t, data) }
func LoadC(t interpreter.BaseType, off uint32) uint32  { return typed(interpreter.LOAD_C, t, off) }
func LoadV(t interpreter.BaseType, off uint32) uint32  { return typed(interpreter.LOAD_V, t, off) }
func Load(t interpreter.BaseType) uint32               { return typed(interpreter.LOAD, t, 0) }
func Add(t interpreter.BaseType) uint32                { return typed(interpreter.ADD, t, 0) }
func Pop(n uint32) uint32                              { return data26(interpreter.POP, n) }
func StoreV(off uint32) uint32                         { return data26(interpreter.STORE_V, off) }
func Clone(n uint32) uint32                            { return data26(interpreter.CLONE, n) }
func Extend(n uint32) uint32                           { return data26(interpreter.EXTEND, n) }
func Label(v uint32) uint32                            { return data26(interpreter.LABEL, v) }
func Store() uint32                                    { return code(interpreter.STORE) }
func Resource() uint32                                 { return code(interpreter.RESOURCE) }
func Post() uint32                                     { return code(interpreter.POST) }
func Copy() uint32                                     { return code(interpreter.COPY) }
func Strcpy() uint32                                   { return code(interpreter.STRCPY) }

func Call(api uint8, id uint16, pushReturn bool) uint32 {
	op := code(interpreter.CALL) | uint32(api)<<interpreter.APIBitShift&interpreter.APIIndexMask | uint32(id)
	if pushReturn {
		op |= interpreter.PushReturnMask
	}
	return op
}

// Encode packs inst, rejecting fields that do not fit their bit range.
func Encode(inst interpreter.Instruction) (uint32, error) {
	if inst.Code >= interpreter.InstructionCodeCount {
		return 0, fmt.Errorf("%w: instruction code %d", replayerrors.ErrDMalformedAssembly, inst.Code)
	}
	layout := interpreter.Layout(inst.Code)
	if layout.Has(interpreter.FieldType) && !inst.Type.Valid() {
		return 0, fmt.Errorf("%w: %s type %s", replayerrors.ErrDMalformedAssembly, inst.Code, inst.Type)
	}
	switch {
	case layout.Has(interpreter.FieldData20) && inst.Data > interpreter.DataMask20,
		layout.Has(interpreter.FieldData26) && inst.Data > interpreter.DataMask26:
		return 0, fmt.Errorf("%w: %s data 0x%x out of range", replayerrors.ErrDMalformedAssembly, inst.Code, inst.Data)
	}
	if layout.Has(interpreter.FieldAPI) && inst.API > interpreter.MaxAPIIndex {
		return 0, fmt.Errorf("%w: api %d out of range", replayerrors.ErrDMalformedAssembly, inst.API)
	}
	switch {
	case inst.Code == interpreter.CALL:
		return Call(inst.API, inst.FunctionID, inst.PushReturn), nil
	case layout.Has(interpreter.FieldData26):
		return data26(inst.Code, inst.Data), nil
	case layout.Has(interpreter.FieldType):
		return typed(inst.Code, inst.Type, inst.Data), nil
	}
	return code(inst.Code), nil
}

// EncodeWords serializes an opcode stream as little-endian 32-bit words.
func EncodeWords(words []uint32) []byte {
	out := make([]byte, 4*len(words))
	for k, w := range words {
		binary.LittleEndian.PutUint32(out[4*k:], w)
	}
	return out
}

// DecodeWords is the inverse of EncodeWords.
func DecodeWords(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("opcode stream of %d bytes is not word aligned", len(b))
	}
	words := make([]uint32, len(b)/4)
	for k := range words {
		words[k] = binary.LittleEndian.Uint32(b[4*k:])
	}
	return words, nil
}
