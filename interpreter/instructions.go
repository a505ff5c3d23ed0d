package interpreter

import (
	"fmt"

	"github.com/colorfulnotion/replay/log"
	"github.com/colorfulnotion/replay/memory"
	"github.com/colorfulnotion/replay/replayerrors"
)

// maxStringChunk bounds the preallocation of STRCPY.
const maxStringChunk = 256

func (i *Interpreter) registerDefaultBuiltins() {
	i.builtins.Insert(POST_FUNCTION_ID, Function{Name: "post", Arity: 2, Call: func(_ uint32, args []Value) (Value, error) {
		return NoValue, i.postValues(args[0], args[1])
	}})
	i.builtins.Insert(RESOURCE_FUNCTION_ID, Function{Name: "resource", Arity: 2, Call: func(_ uint32, args []Value) (Value, error) {
		return NoValue, i.resourceValues(args[0], args[1])
	}})
	i.builtins.Insert(PRINT_STACK_FUNCTION_ID, Function{Name: "print_stack", Call: func(label uint32, _ []Value) (Value, error) {
		log.Info(log.InterpreterMonitoring, "stack", "label", label, "depth", i.stack.Len(), "values", i.stack.String())
		return NoValue, nil
	}})
}

func (i *Interpreter) lookup(inst Instruction) (Function, error) {
	ref := tableFor(inst)
	table := i.builtins
	if ref.kind == rendererTable {
		if !i.RegisterApi(ref.api) {
			return Function{}, fmt.Errorf("%w: api %d", replayerrors.ErrFApiNotRegistered, ref.api)
		}
		table = i.rendererFunctions[ref.api]
	}
	fn, ok := table.Lookup(inst.FunctionID)
	if !ok {
		return Function{}, fmt.Errorf("%w: api %d fn 0x%04x", replayerrors.ErrFUnknownFunction, inst.API, inst.FunctionID)
	}
	return fn, nil
}

func (i *Interpreter) call(inst Instruction) error {
	fn, err := i.lookup(inst)
	if err != nil {
		return err
	}
	args, err := i.stack.popN(fn.Arity)
	if err != nil {
		return err
	}
	ret, err := fn.Call(i.label, args)
	if err != nil {
		log.Debug(log.InterpreterMonitoring, "call failed", "fn", fn.Name, "id", inst.FunctionID, "err", err)
		return fmt.Errorf("%w: %s (0x%04x): %w", replayerrors.ErrNNativeCallFailed, fn.Name, inst.FunctionID, err)
	}
	if !inst.PushReturn {
		return nil
	}
	if ret.IsVoid() {
		return fmt.Errorf("%w: %s", replayerrors.ErrFNoReturnValue, fn.Name)
	}
	return i.stack.Push(ret)
}

// immediate widens the 20 bit payload of PUSH_I to t. Signed integers are sign
// extended, floats receive the payload as their most significant bits and
// constant/volatile pointers are translated to absolute addresses.
func (i *Interpreter) immediate(t BaseType, data uint32) Value {
	switch {
	case t.IsSigned():
		return newValue(t, uint64(int64(int32(data<<12)>>12)))
	case t == Float:
		return newValue(t, uint64(data)<<12)
	case t == Double:
		return newValue(t, uint64(data)<<44)
	case t == ConstantPointer:
		return PointerValue(i.memoryManager.ConstantToAbsolute(data))
	case t == VolatilePointer:
		return PointerValue(i.memoryManager.VolatileToAbsolute(data))
	case t == AbsolutePointer:
		return PointerValue(memory.Address(data))
	}
	return newValue(t, uint64(data))
}

func (i *Interpreter) pushI(inst Instruction) error {
	return i.stack.Push(i.immediate(inst.Type, inst.Data))
}

func (i *Interpreter) loadC(inst Instruction) error {
	addr := i.memoryManager.ConstantToAbsolute(inst.Data)
	if !i.isConstantAddressForType(addr, inst.Type) {
		return fmt.Errorf("%w: %s at 0x%x", replayerrors.ErrANotConstant, inst.Type, addr)
	}
	v, err := i.readValue(addr, inst.Type)
	if err != nil {
		return err
	}
	return i.stack.Push(v)
}

func (i *Interpreter) loadV(inst Instruction) error {
	addr := i.memoryManager.VolatileToAbsolute(inst.Data)
	if !i.isVolatileAddressForType(addr, inst.Type) {
		return fmt.Errorf("%w: %s at 0x%x", replayerrors.ErrANotVolatile, inst.Type, addr)
	}
	v, err := i.readValue(addr, inst.Type)
	if err != nil {
		return err
	}
	return i.stack.Push(v)
}

func (i *Interpreter) load(inst Instruction) error {
	addr, err := i.stack.PopAddress()
	if err != nil {
		return err
	}
	if err := i.checkRead(LOAD, addr); err != nil {
		return err
	}
	v, err := i.readValue(addr, inst.Type)
	if err != nil {
		return err
	}
	return i.stack.Push(v)
}

func (i *Interpreter) storeV(inst Instruction) error {
	top, err := i.stack.Top()
	if err != nil {
		return err
	}
	addr := i.memoryManager.VolatileToAbsolute(inst.Data)
	if !i.isVolatileAddressForType(addr, top.Type) {
		return fmt.Errorf("%w: %s at 0x%x", replayerrors.ErrANotVolatile, top.Type, addr)
	}
	v, _ := i.stack.Pop()
	return i.memoryManager.Write(addr, v.Bytes())
}

func (i *Interpreter) store() error {
	v, err := i.stack.Pop()
	if err != nil {
		return err
	}
	addr, err := i.stack.PopAddress()
	if err != nil {
		return err
	}
	if err := i.checkWrite(STORE, addr); err != nil {
		return err
	}
	return i.memoryManager.Write(addr, v.Bytes())
}

func (i *Interpreter) resource() error {
	id, err := i.stack.Pop()
	if err != nil {
		return err
	}
	dst, err := i.stack.Pop()
	if err != nil {
		return err
	}
	return i.resourceValues(dst, id)
}

// resourceValues materializes resource id at dst. It backs both the RESOURCE
// instruction and the RESOURCE builtin.
func (i *Interpreter) resourceValues(dst, id Value) error {
	addr, err := asAddress(dst)
	if err != nil {
		return err
	}
	rid, err := asCount(id)
	if err != nil {
		return err
	}
	if err := i.checkWrite(RESOURCE, addr); err != nil {
		return err
	}
	if i.resources == nil {
		return fmt.Errorf("%w: resource %d", replayerrors.ErrFMissingProvider, rid)
	}
	data, err := i.resources.Resource(uint32(rid))
	if err != nil {
		return fmt.Errorf("%w: resource %d: %w", replayerrors.ErrNNativeCallFailed, rid, err)
	}
	return i.memoryManager.Write(addr, data)
}

func (i *Interpreter) post() error {
	count, err := i.stack.Pop()
	if err != nil {
		return err
	}
	src, err := i.stack.Pop()
	if err != nil {
		return err
	}
	return i.postValues(src, count)
}

// postValues hands count bytes at src to the post sink. It backs both the
// POST instruction and the POST builtin.
func (i *Interpreter) postValues(src, count Value) error {
	addr, err := asAddress(src)
	if err != nil {
		return err
	}
	n, err := asCount(count)
	if err != nil {
		return err
	}
	if err := i.checkRead(POST, addr); err != nil {
		return err
	}
	if i.sink == nil {
		return fmt.Errorf("%w: post of %d bytes", replayerrors.ErrFMissingProvider, n)
	}
	data, err := i.memoryManager.Read(addr, n)
	if err != nil {
		return err
	}
	if err := i.sink.Post(i.label, data); err != nil {
		return fmt.Errorf("%w: post: %w", replayerrors.ErrNNativeCallFailed, err)
	}
	return nil
}

func (i *Interpreter) popTransfer() (count uint64, src, dst memory.Address, err error) {
	if count, err = i.stack.PopCount(); err != nil {
		return
	}
	if src, err = i.stack.PopAddress(); err != nil {
		return
	}
	dst, err = i.stack.PopAddress()
	return
}

func (i *Interpreter) copy() error {
	count, src, dst, err := i.popTransfer()
	if err != nil {
		return err
	}
	if err := i.checkRead(COPY, src); err != nil {
		return err
	}
	if err := i.checkWrite(COPY, dst); err != nil {
		return err
	}
	data, err := i.memoryManager.Read(src, count)
	if err != nil {
		return err
	}
	return i.memoryManager.Write(dst, data)
}

// strcpy copies at most maxLen-1 bytes of a null terminated string and always
// terminates the destination when maxLen is non-zero.
func (i *Interpreter) strcpy() error {
	maxLen, src, dst, err := i.popTransfer()
	if err != nil {
		return err
	}
	if err := i.checkRead(STRCPY, src); err != nil {
		return err
	}
	if err := i.checkWrite(STRCPY, dst); err != nil {
		return err
	}
	if maxLen == 0 {
		return nil
	}
	buf := make([]byte, 0, min(maxLen, maxStringChunk))
	for uint64(len(buf)) < maxLen-1 {
		b, err := i.memoryManager.Read(src+memory.Address(len(buf)), 1)
		if err != nil {
			return err
		}
		if b[0] == 0 {
			break
		}
		buf = append(buf, b[0])
	}
	return i.memoryManager.Write(dst, append(buf, 0))
}

func (i *Interpreter) add(inst Instruction) error {
	b, err := i.stack.Pop()
	if err != nil {
		return err
	}
	a, err := i.stack.Pop()
	if err != nil {
		return err
	}
	t := inst.Type
	if t.IsPointer() {
		switch {
		case a.Type.IsPointer() && b.Type.IsInteger():
			return i.stack.Push(PointerValue(a.Address() + memory.Address(b.Int())))
		case b.Type.IsPointer() && a.Type.IsInteger():
			return i.stack.Push(PointerValue(b.Address() + memory.Address(a.Int())))
		}
		return fmt.Errorf("%w: ADD %s with %s + %s", replayerrors.ErrSTypeMismatch, t, a.Type, b.Type)
	}
	if a.Type != t || b.Type != t {
		return fmt.Errorf("%w: ADD %s with %s + %s", replayerrors.ErrSTypeMismatch, t, a.Type, b.Type)
	}
	switch {
	case t.IsInteger():
		return i.stack.Push(newValue(t, a.Bits+b.Bits))
	case t == Float:
		return i.stack.Push(Float32Value(a.Float32() + b.Float32()))
	case t == Double:
		return i.stack.Push(Float64Value(a.Float64() + b.Float64()))
	}
	return fmt.Errorf("%w: ADD %s", replayerrors.ErrSTypeMismatch, t)
}
