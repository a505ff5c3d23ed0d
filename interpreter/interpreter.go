// Package interpreter implements a fixed size stack based virtual machine that
// interprets the instructions of a replay opcode stream.
//
// A run is an all-or-nothing batch without rollback: the first failing
// instruction terminates it, and side effects of instructions that already
// executed (memory writes, renderer calls into the driver) are not undone.
package interpreter

import (
	"fmt"

	"github.com/colorfulnotion/replay/log"
	"github.com/colorfulnotion/replay/memory"
	"github.com/colorfulnotion/replay/replayerrors"
)

// MemoryManager resolves and classifies the addresses the interpreter touches.
type MemoryManager interface {
	IsConstantAddressWithSize(addr memory.Address, size uint64) bool
	IsVolatileAddressWithSize(addr memory.Address, size uint64) bool
	IsConstantAddress(addr memory.Address) bool
	IsNotObservedAbsoluteAddress(addr memory.Address) bool

	ConstantToAbsolute(offset uint32) memory.Address
	VolatileToAbsolute(offset uint32) memory.Address
	ExtendVolatile(size uint32) error

	Read(addr memory.Address, size uint64) ([]byte, error)
	Write(addr memory.Address, data []byte) error
}

// ApiRequestCallback is called to register an api's renderer functions.
// Taking the interpreter and the api index, the callback is expected to
// install the table with SetRendererFunctions and return true if it did.
type ApiRequestCallback func(i *Interpreter, api uint8) bool

// ResourceProvider supplies resource bytes for RESOURCE.
type ResourceProvider interface {
	Resource(id uint32) ([]byte, error)
}

// PostSink receives the bytes handed back by POST.
type PostSink interface {
	Post(label uint32, data []byte) error
}

// Tracer observes every executed instruction. err is nil on success.
type Tracer interface {
	Step(index int, opcode uint32, label uint32, depth int, err error)
}

type Interpreter struct {
	memoryManager      MemoryManager
	builtins           *FunctionTable
	rendererFunctions  map[uint8]*FunctionTable
	apiRequestCallback ApiRequestCallback
	stack              *Stack

	// last reached label value
	label uint32

	resources ResourceProvider
	sink      PostSink
	tracer    Tracer

	lastErr   error
	lastIndex int
}

// New creates an interpreter using mm for resolving memory addresses, with a
// stack of at most stackDepth values.
func New(mm MemoryManager, stackDepth uint32, callback ApiRequestCallback) *Interpreter {
	i := &Interpreter{
		memoryManager:      mm,
		builtins:           NewFunctionTable(),
		rendererFunctions:  make(map[uint8]*FunctionTable),
		apiRequestCallback: callback,
		stack:              NewStack(stackDepth),
		lastIndex:          -1,
	}
	i.registerDefaultBuiltins()
	return i
}

// RegisterBuiltin adds fn to the builtin function table. It is a
// configuration step and must not be called while a run is in flight. Ids
// that CALL never resolves as builtins are ignored.
func (i *Interpreter) RegisterBuiltin(id uint16, fn Function) {
	if !IsBuiltinFunctionID(id) {
		log.Error(log.InterpreterMonitoring, "builtin with non builtin id ignored", "id", fmt.Sprintf("0x%04x", id), "fn", fn.Name)
		return
	}
	i.builtins.Insert(id, fn)
}

// SetRendererFunctions assigns table as the renderer functions of api.
func (i *Interpreter) SetRendererFunctions(api uint8, table *FunctionTable) {
	if api > MaxAPIIndex {
		log.Error(log.InterpreterMonitoring, "renderer functions for out of range api ignored", "api", api)
		return
	}
	i.rendererFunctions[api] = table
}

func (i *Interpreter) SetResourceProvider(p ResourceProvider) { i.resources = p }
func (i *Interpreter) SetPostSink(s PostSink)                 { i.sink = s }
func (i *Interpreter) SetTracer(t Tracer)                     { i.tracer = t }

func (i *Interpreter) hasRenderer(api uint8) bool {
	return i.rendererFunctions[api] != nil
}

// RegisterApi registers the renderer functions of api through the request
// callback if that has not already been done.
func (i *Interpreter) RegisterApi(api uint8) bool {
	if api > MaxAPIIndex {
		return false
	}
	if i.hasRenderer(api) {
		return true
	}
	if i.apiRequestCallback == nil {
		return false
	}
	if !i.apiRequestCallback(i, api) {
		delete(i.rendererFunctions, api)
		return false
	}
	return i.hasRenderer(api)
}

// Label returns the last reached label value.
func (i *Interpreter) Label() uint32 { return i.label }

// Stack exposes the operand stack. It persists across runs.
func (i *Interpreter) Stack() *Stack { return i.stack }

// LastFailure returns the index of the instruction that terminated the
// previous run and its error. index is -1 and err nil after a successful run.
func (i *Interpreter) LastFailure() (index int, err error) { return i.lastIndex, i.lastErr }

// Run interprets instructions in order and returns false on the first failing
// one. The stack, the registry and the label are not reset between runs.
func (i *Interpreter) Run(instructions []uint32) bool {
	i.lastErr, i.lastIndex = nil, -1
	for idx, opcode := range instructions {
		err := i.interpret(opcode)
		if i.tracer != nil {
			i.tracer.Step(idx, opcode, i.label, i.stack.Len(), err)
		}
		if err != nil {
			i.lastErr, i.lastIndex = err, idx
			log.Warn(log.InterpreterMonitoring, "replay failed", "index", idx,
				"opcode", fmt.Sprintf("0x%08x", opcode), "label", i.label,
				"kind", replayerrors.Category(err), "err", err)
			return false
		}
	}
	return true
}

// interpret executes one opcode.
func (i *Interpreter) interpret(opcode uint32) error {
	inst, err := Decode(opcode)
	if err != nil {
		return err
	}
	log.Trace(log.InterpreterMonitoring, "exec", "inst", inst.String(), "depth", i.stack.Len())
	switch inst.Code {
	case CALL:
		return i.call(inst)
	case PUSH_I:
		return i.pushI(inst)
	case LOAD_C:
		return i.loadC(inst)
	case LOAD_V:
		return i.loadV(inst)
	case LOAD:
		return i.load(inst)
	case POP:
		return i.stack.Discard(inst.Data)
	case STORE_V:
		return i.storeV(inst)
	case STORE:
		return i.store()
	case RESOURCE:
		return i.resource()
	case POST:
		return i.post()
	case COPY:
		return i.copy()
	case CLONE:
		return i.stack.Clone(inst.Data)
	case STRCPY:
		return i.strcpy()
	case EXTEND:
		return i.memoryManager.ExtendVolatile(inst.Data)
	case ADD:
		return i.add(inst)
	case LABEL:
		i.label = inst.Data
		return nil
	}
	return fmt.Errorf("%w: %s", replayerrors.ErrDUnknownInstruction, inst.Code)
}
