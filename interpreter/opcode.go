package interpreter

import (
	"fmt"

	"github.com/colorfulnotion/replay/replayerrors"
)

// InstructionCode is the instruction kind held in the 6 most significant bits
// of an opcode. The codes have to be consistent with the encoder side.
type InstructionCode uint8

const (
	CALL     InstructionCode = 0
	PUSH_I   InstructionCode = 1
	LOAD_C   InstructionCode = 2
	LOAD_V   InstructionCode = 3
	LOAD     InstructionCode = 4
	POP      InstructionCode = 5
	STORE_V  InstructionCode = 6
	STORE    InstructionCode = 7
	RESOURCE InstructionCode = 8
	POST     InstructionCode = 9
	COPY     InstructionCode = 10
	CLONE    InstructionCode = 11
	STRCPY   InstructionCode = 12
	EXTEND   InstructionCode = 13
	ADD      InstructionCode = 14
	LABEL    InstructionCode = 15

	InstructionCodeCount = 16
)

// Function ids for implementation specific functions and special debugging
// functions. 0xff81..0xffff is reserved for synthetic functions.
const (
	POST_FUNCTION_ID        uint16 = 0xff00
	RESOURCE_FUNCTION_ID    uint16 = 0xff01
	PRINT_STACK_FUNCTION_ID uint16 = 0xff80
)

// IsBuiltinFunctionID reports whether id resolves through the builtin table
// regardless of the api index of the call.
func IsBuiltinFunctionID(id uint16) bool {
	return id == POST_FUNCTION_ID || id == RESOURCE_FUNCTION_ID || id >= PRINT_STACK_FUNCTION_ID
}

const (
	TypeMask       uint32 = 0x03f00000
	FunctionIDMask uint32 = 0x0000ffff
	APIIndexMask   uint32 = 0x000f0000
	PushReturnMask uint32 = 0x01000000
	DataMask20     uint32 = 0x000fffff
	DataMask26     uint32 = 0x03ffffff
	OpcodeMask     uint32 = 0xfc000000

	APIBitShift    = 16
	TypeBitShift   = 20
	OpcodeBitShift = 26

	// MaxAPIIndex is the largest api index an opcode can carry.
	MaxAPIIndex = 15
)

var instructionNames = [InstructionCodeCount]string{
	"CALL", "PUSH_I", "LOAD_C", "LOAD_V", "LOAD", "POP", "STORE_V", "STORE",
	"RESOURCE", "POST", "COPY", "CLONE", "STRCPY", "EXTEND", "ADD", "LABEL",
}

func (c InstructionCode) String() string {
	if c < InstructionCodeCount {
		return instructionNames[c]
	}
	return fmt.Sprintf("OP(%d)", uint8(c))
}

// ParseInstructionCode is the inverse of InstructionCode.String.
func ParseInstructionCode(s string) (InstructionCode, bool) {
	for k, name := range instructionNames {
		if name == s {
			return InstructionCode(k), true
		}
	}
	return 0, false
}

// Field is one bit-field of an opcode below the instruction code.
type Field uint8

const (
	FieldType Field = 1 << iota
	FieldData20
	FieldData26
	FieldAPI
	FieldFunctionID
	FieldPushReturn
)

var fieldMasks = map[Field]uint32{
	FieldType:       TypeMask,
	FieldData20:     DataMask20,
	FieldData26:     DataMask26,
	FieldAPI:        APIIndexMask,
	FieldFunctionID: FunctionIDMask,
	FieldPushReturn: PushReturnMask,
}

// Mask returns the opcode bits covered by every field set in f.
func (f Field) Mask() uint32 {
	var m uint32
	for bit, mask := range fieldMasks {
		if f&bit != 0 {
			m |= mask
		}
	}
	return m
}

// Has reports whether f includes every field of g.
func (f Field) Has(g Field) bool { return f&g == g }

// layouts lists the fields each instruction reads; no other bit of the
// opcode is inspected for that instruction.
var layouts = [InstructionCodeCount]Field{
	CALL:     FieldPushReturn | FieldAPI | FieldFunctionID,
	PUSH_I:   FieldType | FieldData20,
	LOAD_C:   FieldType | FieldData20,
	LOAD_V:   FieldType | FieldData20,
	LOAD:     FieldType,
	POP:      FieldData26,
	STORE_V:  FieldData26,
	STORE:    0,
	RESOURCE: 0,
	POST:     0,
	COPY:     0,
	CLONE:    FieldData26,
	STRCPY:   0,
	EXTEND:   FieldData26,
	ADD:      FieldType,
	LABEL:    FieldData26,
}

// Layout returns the fields decoded for code.
func Layout(code InstructionCode) Field {
	if code >= InstructionCodeCount {
		return 0
	}
	return layouts[code]
}

func instructionCode(opcode uint32) (InstructionCode, error) {
	code := InstructionCode(opcode >> OpcodeBitShift)
	if code >= InstructionCodeCount {
		return 0, fmt.Errorf("%w: code %d in opcode 0x%08x", replayerrors.ErrDUnknownInstruction, uint8(code), opcode)
	}
	return code, nil
}

// extractType gets the type information out of an opcode. The type is always
// stored in the 7th to 12th MSB (both inclusive) of the opcode.
func extractType(opcode uint32) (BaseType, error) {
	t := BaseType((opcode & TypeMask) >> TypeBitShift)
	if !t.Valid() {
		return 0, fmt.Errorf("%w: tag %d in opcode 0x%08x", replayerrors.ErrDUnknownType, uint8(t), opcode)
	}
	return t, nil
}

func extract20bitData(opcode uint32) uint32 { return opcode & DataMask20 }

func extract26bitData(opcode uint32) uint32 { return opcode & DataMask26 }

// Instruction is a decoded opcode. Only the fields in Layout(Code) are set.
type Instruction struct {
	Code       InstructionCode
	Type       BaseType
	Data       uint32
	API        uint8
	FunctionID uint16
	PushReturn bool
}

// Decode decodes the instruction code first and then the fields its layout
// names.
func Decode(opcode uint32) (Instruction, error) {
	code, err := instructionCode(opcode)
	if err != nil {
		return Instruction{}, err
	}
	inst := Instruction{Code: code}
	layout := layouts[code]
	if layout.Has(FieldType) {
		if inst.Type, err = extractType(opcode); err != nil {
			return Instruction{}, err
		}
	}
	switch {
	case layout.Has(FieldData20):
		inst.Data = extract20bitData(opcode)
	case layout.Has(FieldData26):
		inst.Data = extract26bitData(opcode)
	}
	if layout.Has(FieldAPI) {
		inst.API = uint8((opcode & APIIndexMask) >> APIBitShift)
	}
	if layout.Has(FieldFunctionID) {
		inst.FunctionID = uint16(opcode & FunctionIDMask)
	}
	if layout.Has(FieldPushReturn) {
		inst.PushReturn = opcode&PushReturnMask != 0
	}
	return inst, nil
}

func (inst Instruction) String() string {
	layout := layouts[inst.Code]
	switch {
	case layout.Has(FieldFunctionID):
		return fmt.Sprintf("%s api=%d fn=0x%04x push=%t", inst.Code, inst.API, inst.FunctionID, inst.PushReturn)
	case layout.Has(FieldType | FieldData20):
		return fmt.Sprintf("%s %s %d", inst.Code, inst.Type, inst.Data)
	case layout.Has(FieldType):
		return fmt.Sprintf("%s %s", inst.Code, inst.Type)
	case layout.Has(FieldData26):
		return fmt.Sprintf("%s %d", inst.Code, inst.Data)
	}
	return inst.Code.String()
}
