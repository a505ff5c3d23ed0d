package interpreter

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/colorfulnotion/replay/memory"
)

// BaseType is the 6-bit operand type tag carried by typed opcodes.
type BaseType uint8

const (
	Bool BaseType = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float
	Double
	AbsolutePointer
	ConstantPointer
	VolatilePointer

	baseTypeCount

	// voidType marks the absence of a value; it is never decodable.
	voidType BaseType = 0xff
)

// PointerSize is the width of every pointer type on the replay target.
const PointerSize = 8

var baseTypeNames = [baseTypeCount]string{
	"bool", "int8", "int16", "int32", "int64",
	"uint8", "uint16", "uint32", "uint64",
	"float", "double", "absptr", "constptr", "volptr",
}

func (t BaseType) String() string {
	if t < baseTypeCount {
		return baseTypeNames[t]
	}
	if t == voidType {
		return "void"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseBaseType is the inverse of BaseType.String.
func ParseBaseType(s string) (BaseType, bool) {
	for k, name := range baseTypeNames {
		if name == s {
			return BaseType(k), true
		}
	}
	return 0, false
}

func (t BaseType) Valid() bool { return t < baseTypeCount }

func (t BaseType) IsPointer() bool {
	return t == AbsolutePointer || t == ConstantPointer || t == VolatilePointer
}

func (t BaseType) IsSigned() bool { return t >= Int8 && t <= Int64 }

func (t BaseType) IsInteger() bool { return t >= Int8 && t <= Uint64 }

func (t BaseType) IsFloat() bool { return t == Float || t == Double }

// Size returns the byte width of t. Pointer types are always PointerSize.
func (t BaseType) Size() uint64 {
	switch t {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float:
		return 4
	case Int64, Uint64, Double:
		return 8
	case AbsolutePointer, ConstantPointer, VolatilePointer:
		return PointerSize
	}
	return 0
}

func (t BaseType) mask() uint64 {
	if s := t.Size(); s > 0 && s < 8 {
		return 1<<(8*s) - 1
	}
	return math.MaxUint64
}

// Value is one typed stack entry. Bits holds the little-endian bit pattern of
// the value truncated to the width of Type.
type Value struct {
	Type BaseType
	Bits uint64
}

// NoValue is returned by functions that produce no result.
var NoValue = Value{Type: voidType}

func newValue(t BaseType, bits uint64) Value {
	if t == Bool && bits != 0 {
		bits = 1
	}
	return Value{Type: t, Bits: bits & t.mask()}
}

func BoolValue(b bool) Value {
	if b {
		return Value{Type: Bool, Bits: 1}
	}
	return Value{Type: Bool}
}

func Int32Value(v int32) Value     { return newValue(Int32, uint64(v)) }
func Int64Value(v int64) Value     { return newValue(Int64, uint64(v)) }
func Uint32Value(v uint32) Value   { return newValue(Uint32, uint64(v)) }
func Uint64Value(v uint64) Value   { return newValue(Uint64, v) }
func Float32Value(v float32) Value { return newValue(Float, uint64(math.Float32bits(v))) }
func Float64Value(v float64) Value { return newValue(Double, math.Float64bits(v)) }

func PointerValue(addr memory.Address) Value {
	return Value{Type: AbsolutePointer, Bits: uint64(addr)}
}

// ValueFromBytes decodes a little-endian value of type t from b. Pointer
// types decode to AbsolutePointer.
func ValueFromBytes(t BaseType, b []byte) Value {
	var buf [8]byte
	copy(buf[:], b)
	if t.IsPointer() {
		t = AbsolutePointer
	}
	return newValue(t, binary.LittleEndian.Uint64(buf[:]))
}

// Bytes is the little-endian encoding of v, Type.Size() bytes long.
func (v Value) Bytes() []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v.Bits)
	return buf[:v.Type.Size()]
}

func (v Value) IsVoid() bool { return v.Type == voidType }

func (v Value) Address() memory.Address { return memory.Address(v.Bits) }

func (v Value) Uint() uint64 { return v.Bits }

// Int sign-extends v from its declared width.
func (v Value) Int() int64 {
	shift := 64 - 8*v.Type.Size()
	if !v.Type.IsSigned() || shift == 0 {
		return int64(v.Bits)
	}
	return int64(v.Bits<<shift) >> shift
}

func (v Value) Float32() float32 { return math.Float32frombits(uint32(v.Bits)) }

func (v Value) Float64() float64 { return math.Float64frombits(v.Bits) }

func (v Value) String() string {
	switch {
	case v.IsVoid():
		return "void"
	case v.Type == Bool:
		return fmt.Sprintf("bool(%t)", v.Bits != 0)
	case v.Type.IsSigned():
		return fmt.Sprintf("%s(%d)", v.Type, v.Int())
	case v.Type == Float:
		return fmt.Sprintf("float(%g)", v.Float32())
	case v.Type == Double:
		return fmt.Sprintf("double(%g)", v.Float64())
	case v.Type.IsPointer():
		return fmt.Sprintf("%s(0x%x)", v.Type, v.Bits)
	}
	return fmt.Sprintf("%s(%d)", v.Type, v.Bits)
}
