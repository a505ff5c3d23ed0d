package interpreter

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/replay/memory"
	"github.com/colorfulnotion/replay/replayerrors"
)

// Stack is the bounded LIFO operand store of the interpreter.
type Stack struct {
	values []Value
	depth  int
}

func NewStack(depth uint32) *Stack {
	return &Stack{values: make([]Value, 0, depth), depth: int(depth)}
}

func (s *Stack) Len() int   { return len(s.values) }
func (s *Stack) Depth() int { return s.depth }

// Reset drops every value. The capacity is kept.
func (s *Stack) Reset() { s.values = s.values[:0] }

func (s *Stack) Push(v Value) error {
	if len(s.values) >= s.depth {
		return fmt.Errorf("%w: depth %d", replayerrors.ErrSStackOverflow, s.depth)
	}
	s.values = append(s.values, v)
	return nil
}

func (s *Stack) Pop() (Value, error) {
	n := len(s.values)
	if n == 0 {
		return Value{}, replayerrors.ErrSStackUnderflow
	}
	v := s.values[n-1]
	s.values = s.values[:n-1]
	return v, nil
}

// Top returns the top value without popping it.
func (s *Stack) Top() (Value, error) {
	if len(s.values) == 0 {
		return Value{}, replayerrors.ErrSStackUnderflow
	}
	return s.values[len(s.values)-1], nil
}

// PopAddress pops a pointer-typed value.
func (s *Stack) PopAddress() (memory.Address, error) {
	v, err := s.Pop()
	if err != nil {
		return 0, err
	}
	return asAddress(v)
}

// PopCount pops an integer-typed value as an unsigned count.
func (s *Stack) PopCount() (uint64, error) {
	v, err := s.Pop()
	if err != nil {
		return 0, err
	}
	return asCount(v)
}

// Discard drops the top n values.
func (s *Stack) Discard(n uint32) error {
	if uint64(n) > uint64(len(s.values)) {
		return fmt.Errorf("%w: discard %d of %d", replayerrors.ErrSStackUnderflow, n, len(s.values))
	}
	s.values = s.values[:len(s.values)-int(n)]
	return nil
}

// Clone pushes a copy of the value n entries below the top (0 is the top).
func (s *Stack) Clone(n uint32) error {
	if uint64(n) >= uint64(len(s.values)) {
		return fmt.Errorf("%w: clone %d of %d", replayerrors.ErrSStackUnderflow, n, len(s.values))
	}
	return s.Push(s.values[len(s.values)-1-int(n)])
}

// popN pops n values, returning them in push order.
func (s *Stack) popN(n int) ([]Value, error) {
	if n > len(s.values) {
		return nil, fmt.Errorf("%w: need %d arguments, have %d", replayerrors.ErrSStackUnderflow, n, len(s.values))
	}
	args := make([]Value, n)
	copy(args, s.values[len(s.values)-n:])
	s.values = s.values[:len(s.values)-n]
	return args, nil
}

// Values returns a copy of the stack, bottom first.
func (s *Stack) Values() []Value {
	out := make([]Value, len(s.values))
	copy(out, s.values)
	return out
}

func (s *Stack) String() string {
	parts := make([]string, len(s.values))
	for k, v := range s.values {
		parts[k] = v.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func asAddress(v Value) (memory.Address, error) {
	if !v.Type.IsPointer() {
		return 0, fmt.Errorf("%w: want pointer, got %s", replayerrors.ErrSTypeMismatch, v.Type)
	}
	return v.Address(), nil
}

func asCount(v Value) (uint64, error) {
	if !v.Type.IsInteger() {
		return 0, fmt.Errorf("%w: want integer, got %s", replayerrors.ErrSTypeMismatch, v.Type)
	}
	if v.Type.IsSigned() && v.Int() < 0 {
		return 0, fmt.Errorf("%w: negative count %d", replayerrors.ErrSTypeMismatch, v.Int())
	}
	return v.Bits, nil
}
