package interpreter

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/colorfulnotion/replay/memory"
	"github.com/colorfulnotion/replay/replayerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConstants = []byte("hello\x00world\x00\x01\x00\x00\x00")

const (
	helloOffset = 0
	worldOffset = 6
	int1Offset  = 12
)

type posted struct {
	label uint32
	data  []byte
}

type recordingSink struct{ posts []posted }

func (s *recordingSink) Post(label uint32, data []byte) error {
	s.posts = append(s.posts, posted{label, data})
	return nil
}

type mapResources map[uint32][]byte

func (r mapResources) Resource(id uint32) ([]byte, error) {
	data, ok := r[id]
	if !ok {
		return nil, errors.New("no such resource")
	}
	return data, nil
}

type step struct {
	index int
	ok    bool
}

type stepRecorder struct{ steps []step }

func (r *stepRecorder) Step(index int, _ uint32, _ uint32, _ int, err error) {
	r.steps = append(r.steps, step{index, err == nil})
}

func newTestInterpreter(t *testing.T, callback ApiRequestCallback) (*Interpreter, *memory.Manager) {
	t.Helper()
	mm, err := memory.NewManager(memory.Config{
		ConstantBase:     memory.DefaultConstantBase,
		VolatileBase:     memory.DefaultVolatileBase,
		VolatileSize:     64,
		VolatileCapacity: 128,
	})
	require.NoError(t, err)
	require.NoError(t, mm.SetConstantMemory(testConstants))
	return New(mm, 16, callback), mm
}

func readVolatile(t *testing.T, mm *memory.Manager, offset uint32, n uint64) []byte {
	t.Helper()
	b, err := mm.Read(mm.VolatileToAbsolute(offset), n)
	require.NoError(t, err)
	return b
}

func requireFailure(t *testing.T, i *Interpreter, target error) int {
	t.Helper()
	index, err := i.LastFailure()
	require.Error(t, err)
	assert.ErrorIs(t, err, target)
	return index
}

func TestAddStoreV(t *testing.T) {
	i, mm := newTestInterpreter(t, nil)
	ok := i.Run([]uint32{
		typedOp(PUSH_I, Int32, 5),
		typedOp(PUSH_I, Int32, 7),
		typedOp(ADD, Int32, 0),
		dataOp(STORE_V, 0),
	})
	require.True(t, ok)
	assert.Zero(t, i.Stack().Len())
	assert.Equal(t, uint32(12), binary.LittleEndian.Uint32(readVolatile(t, mm, 0, 4)))
}

func TestPushPopInverse(t *testing.T) {
	i, _ := newTestInterpreter(t, nil)
	require.True(t, i.Run([]uint32{typedOp(PUSH_I, Uint8, 1)}))
	before := i.Stack().Len()
	require.True(t, i.Run([]uint32{
		typedOp(PUSH_I, Int64, 1),
		typedOp(PUSH_I, Int64, 2),
		typedOp(PUSH_I, Int64, 3),
		dataOp(POP, 3),
	}))
	assert.Equal(t, before, i.Stack().Len())
}

func TestPushIExtension(t *testing.T) {
	cases := []struct {
		name string
		t    BaseType
		data uint32
		want Value
	}{
		{"int8 sign", Int8, 0xfffff, newValue(Int8, 0xff)},
		{"int32 sign", Int32, 0x80000, Int32Value(-0x80000)},
		{"int64 positive", Int64, 0x7ffff, Int64Value(0x7ffff)},
		{"uint16 truncate", Uint16, 0x12345, newValue(Uint16, 0x2345)},
		{"uint32 zero", Uint32, 0xfffff, Uint32Value(0xfffff)},
		{"bool", Bool, 5, BoolValue(true)},
		{"float high bits", Float, 0x3f800, Float32Value(1)},
		{"double high bits", Double, 0x3ff00, Float64Value(1)},
		{"absptr", AbsolutePointer, 0x1234, PointerValue(0x1234)},
		{"constptr", ConstantPointer, 4, PointerValue(memory.DefaultConstantBase + 4)},
		{"volptr", VolatilePointer, 8, PointerValue(memory.DefaultVolatileBase + 8)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			i, _ := newTestInterpreter(t, nil)
			require.True(t, i.Run([]uint32{typedOp(PUSH_I, tc.t, tc.data)}))
			top, err := i.Stack().Top()
			require.NoError(t, err)
			assert.Equal(t, tc.want, top)
		})
	}
}

func TestStoreThenLoad(t *testing.T) {
	i, _ := newTestInterpreter(t, nil)
	require.True(t, i.Run([]uint32{
		typedOp(PUSH_I, VolatilePointer, 8),
		typedOp(PUSH_I, Int32, 0xfffd6), // -42
		bareOp(STORE),
		typedOp(PUSH_I, VolatilePointer, 8),
		typedOp(LOAD, Int32, 0),
	}))
	top, err := i.Stack().Top()
	require.NoError(t, err)
	assert.Equal(t, int64(-42), top.Int())
	assert.Equal(t, 1, i.Stack().Len())
}

func TestLoadUnobservedTerminatesRun(t *testing.T) {
	i, _ := newTestInterpreter(t, nil)
	rec := &stepRecorder{}
	i.SetTracer(rec)
	ok := i.Run([]uint32{
		typedOp(PUSH_I, AbsolutePointer, 0x1234),
		typedOp(LOAD, Int32, 0),
		dataOp(LABEL, 9),
	})
	require.False(t, ok)
	assert.Equal(t, 1, requireFailure(t, i, replayerrors.ErrAUnobservedAddress))
	assert.Zero(t, i.Stack().Len(), "address popped, nothing pushed")
	assert.Zero(t, i.Label(), "instructions after the failure do not execute")
	assert.Equal(t, []step{{0, true}, {1, false}}, rec.steps)
}

func TestLoadNullAddress(t *testing.T) {
	i, _ := newTestInterpreter(t, nil)
	require.False(t, i.Run([]uint32{typedOp(PUSH_I, AbsolutePointer, 0), typedOp(LOAD, Uint8, 0)}))
	requireFailure(t, i, replayerrors.ErrANullAddress)
}

func TestConstantIsReadOnly(t *testing.T) {
	i, _ := newTestInterpreter(t, nil)
	require.True(t, i.Run([]uint32{
		typedOp(PUSH_I, ConstantPointer, int1Offset),
		typedOp(LOAD, Int32, 0),
	}))
	top, _ := i.Stack().Top()
	assert.Equal(t, Int32Value(1), top)

	require.False(t, i.Run([]uint32{
		typedOp(PUSH_I, ConstantPointer, int1Offset),
		typedOp(PUSH_I, Int32, 3),
		bareOp(STORE),
	}))
	requireFailure(t, i, replayerrors.ErrAConstantWrite)
}

func TestUnobservedAddressGate(t *testing.T) {
	unobserved := typedOp(PUSH_I, AbsolutePointer, 0x1234)
	dst := typedOp(PUSH_I, VolatilePointer, 0)
	src := typedOp(PUSH_I, ConstantPointer, helloOffset)
	count := typedOp(PUSH_I, Uint32, 4)
	cases := map[string][]uint32{
		"store":         {unobserved, typedOp(PUSH_I, Int32, 1), bareOp(STORE)},
		"copy src":      {dst, unobserved, count, bareOp(COPY)},
		"copy dst":      {unobserved, src, count, bareOp(COPY)},
		"strcpy src":    {dst, unobserved, count, bareOp(STRCPY)},
		"strcpy dst":    {unobserved, src, count, bareOp(STRCPY)},
		"resource":      {unobserved, typedOp(PUSH_I, Uint32, 1), bareOp(RESOURCE)},
		"post":          {unobserved, count, bareOp(POST)},
		"post builtin":  {unobserved, count, callOp(0, POST_FUNCTION_ID, false)},
		"resource call": {unobserved, typedOp(PUSH_I, Uint32, 1), callOp(0, RESOURCE_FUNCTION_ID, false)},
	}
	for name, stream := range cases {
		t.Run(name, func(t *testing.T) {
			i, _ := newTestInterpreter(t, nil)
			i.SetPostSink(&recordingSink{})
			i.SetResourceProvider(mapResources{1: []byte("x")})
			require.False(t, i.Run(append(stream, dataOp(LABEL, 1))))
			requireFailure(t, i, replayerrors.ErrAUnobservedAddress)
			assert.Zero(t, i.Label())
		})
	}
}

func TestLoadCAndLoadV(t *testing.T) {
	i, _ := newTestInterpreter(t, nil)
	require.True(t, i.Run([]uint32{
		typedOp(LOAD_C, Uint8, helloOffset+1),
		typedOp(PUSH_I, Uint8, 'z'),
		dataOp(STORE_V, 3),
		typedOp(LOAD_V, Uint8, 3),
	}))
	assert.Equal(t, []Value{newValue(Uint8, 'e'), newValue(Uint8, 'z')}, i.Stack().Values())

	require.False(t, i.Run([]uint32{typedOp(LOAD_C, Int32, uint32(len(testConstants))-2)}))
	requireFailure(t, i, replayerrors.ErrANotConstant)

	require.False(t, i.Run([]uint32{typedOp(LOAD_V, Int64, 60)}))
	requireFailure(t, i, replayerrors.ErrANotVolatile)
}

func TestExtendReservesVolatile(t *testing.T) {
	i, mm := newTestInterpreter(t, nil)
	require.False(t, i.Run([]uint32{typedOp(PUSH_I, Uint32, 9), dataOp(STORE_V, 64)}))
	requireFailure(t, i, replayerrors.ErrANotVolatile)
	i.Stack().Reset()

	require.True(t, i.Run([]uint32{
		dataOp(EXTEND, 8),
		typedOp(PUSH_I, Uint32, 9),
		dataOp(STORE_V, 64),
		typedOp(LOAD_V, Uint32, 64),
	}))
	assert.Equal(t, uint32(72), mm.VolatileSize())
	top, _ := i.Stack().Top()
	assert.Equal(t, Uint32Value(9), top)

	require.False(t, i.Run([]uint32{dataOp(EXTEND, 1024)}))
	requireFailure(t, i, replayerrors.ErrAVolatileExhausted)
}

func TestCopyAndStrcpy(t *testing.T) {
	i, mm := newTestInterpreter(t, nil)
	require.True(t, i.Run([]uint32{
		typedOp(PUSH_I, VolatilePointer, 0),
		typedOp(PUSH_I, ConstantPointer, helloOffset),
		typedOp(PUSH_I, Uint32, 6),
		bareOp(COPY),
		typedOp(PUSH_I, VolatilePointer, 16),
		typedOp(PUSH_I, ConstantPointer, worldOffset),
		typedOp(PUSH_I, Uint32, 4),
		bareOp(STRCPY),
		typedOp(PUSH_I, VolatilePointer, 32),
		typedOp(PUSH_I, ConstantPointer, worldOffset),
		typedOp(PUSH_I, Uint32, 32),
		bareOp(STRCPY),
	}))
	assert.Equal(t, []byte("hello\x00"), readVolatile(t, mm, 0, 6))
	assert.Equal(t, []byte("wor\x00"), readVolatile(t, mm, 16, 4))
	assert.Equal(t, []byte("world\x00"), readVolatile(t, mm, 32, 6))
	assert.Zero(t, i.Stack().Len())

	require.False(t, i.Run([]uint32{
		typedOp(PUSH_I, VolatilePointer, 60),
		typedOp(PUSH_I, ConstantPointer, helloOffset),
		typedOp(PUSH_I, Uint32, 8),
		bareOp(COPY),
	}))
	requireFailure(t, i, replayerrors.ErrAOutOfRange)
}

func TestStrcpyZeroLengthWritesNothing(t *testing.T) {
	i, mm := newTestInterpreter(t, nil)
	require.True(t, i.Run([]uint32{
		typedOp(PUSH_I, VolatilePointer, 40),
		typedOp(PUSH_I, Uint8, 'x'),
		bareOp(STORE),
		typedOp(PUSH_I, VolatilePointer, 40),
		typedOp(PUSH_I, ConstantPointer, worldOffset),
		typedOp(PUSH_I, Uint32, 0),
		bareOp(STRCPY),
	}))
	assert.Equal(t, []byte("x"), readVolatile(t, mm, 40, 1))
	assert.Zero(t, i.Stack().Len())

	require.True(t, i.Run([]uint32{
		typedOp(PUSH_I, VolatilePointer, 40),
		typedOp(PUSH_I, ConstantPointer, worldOffset),
		typedOp(PUSH_I, Uint32, 1),
		bareOp(STRCPY),
	}))
	assert.Equal(t, []byte{0}, readVolatile(t, mm, 40, 1), "maxLen 1 writes only the terminator")
}

func TestResourceAndPost(t *testing.T) {
	i, mm := newTestInterpreter(t, nil)
	sink := &recordingSink{}
	i.SetPostSink(sink)
	i.SetResourceProvider(mapResources{7: []byte("abc")})
	require.True(t, i.Run([]uint32{
		dataOp(LABEL, 5),
		typedOp(PUSH_I, VolatilePointer, 16),
		typedOp(PUSH_I, Uint32, 7),
		bareOp(RESOURCE),
		typedOp(PUSH_I, VolatilePointer, 16),
		typedOp(PUSH_I, Uint32, 3),
		bareOp(POST),
		typedOp(PUSH_I, ConstantPointer, helloOffset),
		typedOp(PUSH_I, Uint32, 5),
		callOp(0, POST_FUNCTION_ID, false),
	}))
	assert.Equal(t, []byte("abc"), readVolatile(t, mm, 16, 3))
	assert.Equal(t, []posted{{5, []byte("abc")}, {5, []byte("hello")}}, sink.posts)

	require.False(t, i.Run([]uint32{
		typedOp(PUSH_I, VolatilePointer, 16),
		typedOp(PUSH_I, Uint32, 8),
		bareOp(RESOURCE),
	}))
	requireFailure(t, i, replayerrors.ErrNNativeCallFailed)
}

func TestPostWithoutSink(t *testing.T) {
	i, _ := newTestInterpreter(t, nil)
	require.False(t, i.Run([]uint32{
		typedOp(PUSH_I, ConstantPointer, helloOffset),
		typedOp(PUSH_I, Uint32, 1),
		bareOp(POST),
	}))
	requireFailure(t, i, replayerrors.ErrFMissingProvider)
}

func TestAdd(t *testing.T) {
	i, _ := newTestInterpreter(t, nil)
	require.True(t, i.Run([]uint32{
		typedOp(PUSH_I, VolatilePointer, 4),
		typedOp(PUSH_I, Int32, 0xffffc), // -4
		typedOp(ADD, AbsolutePointer, 0),
		typedOp(PUSH_I, Float, 0x3f800),
		typedOp(PUSH_I, Float, 0x3f800),
		typedOp(ADD, Float, 0),
		typedOp(PUSH_I, Uint8, 0xff),
		typedOp(PUSH_I, Uint8, 2),
		typedOp(ADD, Uint8, 0),
	}))
	assert.Equal(t, []Value{
		PointerValue(memory.DefaultVolatileBase),
		Float32Value(2),
		newValue(Uint8, 1),
	}, i.Stack().Values())

	require.False(t, i.Run([]uint32{
		typedOp(PUSH_I, Int32, 1),
		typedOp(PUSH_I, Uint32, 1),
		typedOp(ADD, Int32, 0),
	}))
	requireFailure(t, i, replayerrors.ErrSTypeMismatch)
}

func TestCloneAndOverflow(t *testing.T) {
	i, _ := newTestInterpreter(t, nil)
	require.True(t, i.Run([]uint32{
		typedOp(PUSH_I, Int32, 1),
		typedOp(PUSH_I, Int32, 2),
		dataOp(CLONE, 1),
	}))
	assert.Equal(t, []Value{Int32Value(1), Int32Value(2), Int32Value(1)}, i.Stack().Values())

	stream := make([]uint32, 14)
	for k := range stream {
		stream[k] = typedOp(PUSH_I, Int32, 0)
	}
	require.False(t, i.Run(stream))
	assert.Equal(t, 13, requireFailure(t, i, replayerrors.ErrSStackOverflow))
}

func TestUnknownInstruction(t *testing.T) {
	i, _ := newTestInterpreter(t, nil)
	require.False(t, i.Run([]uint32{0xffffffff}))
	requireFailure(t, i, replayerrors.ErrDUnknownInstruction)
}

func TestLabelSurvivesFailure(t *testing.T) {
	i, _ := newTestInterpreter(t, nil)
	require.False(t, i.Run([]uint32{dataOp(LABEL, DataMask26), dataOp(POP, 1)}))
	assert.Equal(t, DataMask26, i.Label())
	requireFailure(t, i, replayerrors.ErrSStackUnderflow)
}

func TestRegisterApi(t *testing.T) {
	calls := 0
	table := NewFunctionTable()
	i, _ := newTestInterpreter(t, func(i *Interpreter, api uint8) bool {
		calls++
		if api == 2 {
			i.SetRendererFunctions(api, table)
			return true
		}
		if api == 4 {
			// claims success without installing a table
			return true
		}
		i.SetRendererFunctions(api, table)
		return false
	})

	assert.True(t, i.RegisterApi(2))
	assert.True(t, i.RegisterApi(2))
	assert.Equal(t, 1, calls, "already registered api does not call back")

	assert.False(t, i.RegisterApi(3))
	assert.Equal(t, 2, calls)
	assert.False(t, i.hasRenderer(3), "declined registration leaves no table")

	assert.False(t, i.RegisterApi(4))
	assert.False(t, i.RegisterApi(MaxAPIIndex+1))
	assert.Equal(t, 3, calls)

	i.SetRendererFunctions(5, table)
	assert.True(t, i.RegisterApi(5))
	assert.Equal(t, 3, calls)
}

func TestRegisterApiWithoutCallback(t *testing.T) {
	i, _ := newTestInterpreter(t, nil)
	assert.False(t, i.RegisterApi(0))
}

func TestCallRenderer(t *testing.T) {
	calls := 0
	table := NewFunctionTable()
	table.Insert(7, Function{Name: "sub", Arity: 2, Call: func(_ uint32, args []Value) (Value, error) {
		return Int32Value(int32(args[0].Int() - args[1].Int())), nil
	}})
	i, _ := newTestInterpreter(t, func(i *Interpreter, api uint8) bool {
		calls++
		i.SetRendererFunctions(api, table)
		return true
	})
	require.True(t, i.Run([]uint32{
		typedOp(PUSH_I, Int32, 10),
		typedOp(PUSH_I, Int32, 3),
		callOp(1, 7, true),
	}))
	require.True(t, i.Run([]uint32{typedOp(PUSH_I, Int32, 1), callOp(1, 7, false)}))
	assert.Zero(t, i.Stack().Len())
	assert.Equal(t, 1, calls)

	require.True(t, i.Run([]uint32{typedOp(PUSH_I, Int32, 10), typedOp(PUSH_I, Int32, 3), callOp(1, 7, true)}))
	top, _ := i.Stack().Top()
	assert.Equal(t, Int32Value(7), top, "first pushed value is the first argument")

	require.False(t, i.Run([]uint32{callOp(1, 8, false)}))
	requireFailure(t, i, replayerrors.ErrFUnknownFunction)

	require.False(t, i.Run([]uint32{callOp(1, 7, false), callOp(1, 7, false)}))
	requireFailure(t, i, replayerrors.ErrSStackUnderflow)
}

func TestCallReturnContract(t *testing.T) {
	table := NewFunctionTable()
	table.Insert(1, Function{Name: "void", Call: func(uint32, []Value) (Value, error) { return NoValue, nil }})
	table.Insert(2, Function{Name: "fails", Call: func(uint32, []Value) (Value, error) { return NoValue, errors.New("device lost") }})
	i, _ := newTestInterpreter(t, nil)
	i.SetRendererFunctions(0, table)

	require.False(t, i.Run([]uint32{callOp(0, 1, true)}))
	requireFailure(t, i, replayerrors.ErrFNoReturnValue)

	require.False(t, i.Run([]uint32{callOp(0, 2, false)}))
	_, err := i.LastFailure()
	assert.ErrorIs(t, err, replayerrors.ErrNNativeCallFailed)
	assert.ErrorContains(t, err, "device lost")
}

func TestBuiltinIDsIgnoreRendererTable(t *testing.T) {
	var hits []string
	renderer := NewFunctionTable()
	renderer.Insert(0xff81, Function{Name: "renderer", Call: func(uint32, []Value) (Value, error) {
		hits = append(hits, "renderer")
		return NoValue, nil
	}})
	i, _ := newTestInterpreter(t, nil)
	i.SetRendererFunctions(3, renderer)
	i.RegisterBuiltin(0xff81, Function{Name: "synthetic", Call: func(uint32, []Value) (Value, error) {
		hits = append(hits, "builtin")
		return Uint32Value(1), nil
	}})

	require.True(t, i.Run([]uint32{callOp(3, 0xff81, true), callOp(3, PRINT_STACK_FUNCTION_ID, false)}))
	assert.Equal(t, []string{"builtin"}, hits)
	assert.Equal(t, 1, i.Stack().Len())

	require.False(t, i.Run([]uint32{callOp(3, 0xff90, false)}))
	requireFailure(t, i, replayerrors.ErrFUnknownFunction)
}

func TestRegisterBuiltinRejectsRendererIDs(t *testing.T) {
	i, _ := newTestInterpreter(t, nil)
	i.RegisterBuiltin(0x0010, Function{Name: "misplaced", Call: func(uint32, []Value) (Value, error) {
		return NoValue, nil
	}})
	_, ok := i.builtins.Lookup(0x0010)
	assert.False(t, ok)

	require.False(t, i.Run([]uint32{callOp(0, 0x0010, false)}))
	requireFailure(t, i, replayerrors.ErrFApiNotRegistered)
}

func TestDeclinedApiIsRequestedAgain(t *testing.T) {
	calls := 0
	i, _ := newTestInterpreter(t, func(*Interpreter, uint8) bool {
		calls++
		return false
	})
	require.False(t, i.Run([]uint32{callOp(3, 0x0001, false)}))
	requireFailure(t, i, replayerrors.ErrFApiNotRegistered)
	assert.Equal(t, 1, calls)

	require.False(t, i.Run([]uint32{callOp(3, 0x0001, false)}))
	requireFailure(t, i, replayerrors.ErrFApiNotRegistered)
	assert.Equal(t, 2, calls)
}

func TestCallUnregisteredApiFails(t *testing.T) {
	calls := 0
	i, _ := newTestInterpreter(t, func(*Interpreter, uint8) bool {
		calls++
		return false
	})
	rec := &stepRecorder{}
	i.SetTracer(rec)
	require.False(t, i.Run([]uint32{callOp(3, 1, false), dataOp(LABEL, 1)}))
	assert.Equal(t, 0, requireFailure(t, i, replayerrors.ErrFApiNotRegistered))
	assert.Equal(t, 1, calls)
	assert.Len(t, rec.steps, 1)
	assert.Zero(t, i.Label())
}

func TestRenderersOutOfRangeIgnored(t *testing.T) {
	i, _ := newTestInterpreter(t, nil)
	i.SetRendererFunctions(MaxAPIIndex+1, NewFunctionTable())
	assert.False(t, i.hasRenderer(MaxAPIIndex+1))
}
