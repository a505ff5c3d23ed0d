package interpreter

import (
	"fmt"

	"github.com/colorfulnotion/replay/memory"
	"github.com/colorfulnotion/replay/replayerrors"
)

// isConstantAddressForType reports whether addr..addr+size(t) is constant memory.
func (i *Interpreter) isConstantAddressForType(addr memory.Address, t BaseType) bool {
	return i.memoryManager.IsConstantAddressWithSize(addr, t.Size())
}

// isVolatileAddressForType reports whether addr..addr+size(t) is volatile memory.
func (i *Interpreter) isVolatileAddressForType(addr memory.Address, t BaseType) bool {
	return i.memoryManager.IsVolatileAddressWithSize(addr, t.Size())
}

func (i *Interpreter) isReadAddress(addr memory.Address) bool {
	return addr != 0 && !i.memoryManager.IsNotObservedAbsoluteAddress(addr)
}

func (i *Interpreter) isWriteAddress(addr memory.Address) bool {
	return addr != 0 &&
		!i.memoryManager.IsNotObservedAbsoluteAddress(addr) &&
		!i.memoryManager.IsConstantAddress(addr)
}

func (i *Interpreter) checkRead(op InstructionCode, addr memory.Address) error {
	if i.isReadAddress(addr) {
		return nil
	}
	if addr == 0 {
		return fmt.Errorf("%w: %s", replayerrors.ErrANullAddress, op)
	}
	return fmt.Errorf("%w: %s from 0x%x", replayerrors.ErrAUnobservedAddress, op, addr)
}

func (i *Interpreter) checkWrite(op InstructionCode, addr memory.Address) error {
	if i.isWriteAddress(addr) {
		return nil
	}
	switch {
	case addr == 0:
		return fmt.Errorf("%w: %s", replayerrors.ErrANullAddress, op)
	case i.memoryManager.IsNotObservedAbsoluteAddress(addr):
		return fmt.Errorf("%w: %s to 0x%x", replayerrors.ErrAUnobservedAddress, op, addr)
	}
	return fmt.Errorf("%w: %s to 0x%x", replayerrors.ErrAConstantWrite, op, addr)
}

func (i *Interpreter) readValue(addr memory.Address, t BaseType) (Value, error) {
	b, err := i.memoryManager.Read(addr, t.Size())
	if err != nil {
		return Value{}, err
	}
	return ValueFromBytes(t, b), nil
}
