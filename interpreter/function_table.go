package interpreter

import (
	"golang.org/x/exp/slices"
)

// Callable is the native body of a builtin or renderer function. args holds
// the popped arguments in push order. Functions without a result return
// NoValue.
type Callable func(label uint32, args []Value) (Value, error)

// Function is one entry of a FunctionTable.
type Function struct {
	Name  string
	Arity int
	Call  Callable
}

// FunctionTable maps function ids to functions. Renderer tables are owned by
// the host and must outlive every run that references them.
type FunctionTable struct {
	functions map[uint16]Function
}

func NewFunctionTable() *FunctionTable {
	return &FunctionTable{functions: make(map[uint16]Function)}
}

// Insert binds fn to id; an existing entry is overwritten.
func (t *FunctionTable) Insert(id uint16, fn Function) {
	t.functions[id] = fn
}

func (t *FunctionTable) Lookup(id uint16) (Function, bool) {
	fn, ok := t.functions[id]
	if !ok || fn.Call == nil {
		return Function{}, false
	}
	return fn, true
}

func (t *FunctionTable) Len() int { return len(t.functions) }

// IDs returns the bound ids in ascending order.
func (t *FunctionTable) IDs() []uint16 {
	ids := make([]uint16, 0, len(t.functions))
	for id := range t.functions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

type tableKind uint8

const (
	builtinTable tableKind = iota
	rendererTable
)

// tableRef says which table a CALL resolves through.
type tableRef struct {
	kind tableKind
	api  uint8
}

func tableFor(inst Instruction) tableRef {
	if IsBuiltinFunctionID(inst.FunctionID) {
		return tableRef{kind: builtinTable}
	}
	return tableRef{kind: rendererTable, api: inst.API}
}
