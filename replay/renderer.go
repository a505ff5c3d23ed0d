package replay

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/replay/interpreter"
	"github.com/colorfulnotion/replay/log"
)

// Call is one renderer invocation observed by a RecordingRenderer.
type Call struct {
	Label uint32
	API   uint8
	ID    uint16
	Name  string
	Args  []interpreter.Value
}

func (c Call) String() string {
	return fmt.Sprintf("[%d] api %d %s(%v)", c.Label, c.API, c.Name, c.Args)
}

// RecordingRenderer wraps renderer functions so every call is recorded before
// the underlying function runs.
type RecordingRenderer struct {
	mu    sync.Mutex
	calls []Call
}

func NewRecordingRenderer() *RecordingRenderer {
	return &RecordingRenderer{}
}

// Table builds the renderer table of api from fns. A function without a body
// only records its calls.
func (r *RecordingRenderer) Table(api uint8, fns map[uint16]interpreter.Function) *interpreter.FunctionTable {
	table := interpreter.NewFunctionTable()
	for id, fn := range fns {
		id, fn := id, fn
		inner := fn.Call
		fn.Call = func(label uint32, args []interpreter.Value) (interpreter.Value, error) {
			r.record(Call{Label: label, API: api, ID: id, Name: fn.Name, Args: append([]interpreter.Value(nil), args...)})
			if inner == nil {
				return interpreter.NoValue, nil
			}
			return inner(label, args)
		}
		table.Insert(id, fn)
	}
	return table
}

func (r *RecordingRenderer) record(c Call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
	log.Trace(log.ReplayMonitoring, "renderer call", "call", c.String())
}

func (r *RecordingRenderer) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Stub returns a renderer function of the given arity that returns a zero
// Uint64, so CALLs with push-return can be replayed without a driver.
func Stub(name string, arity int) interpreter.Function {
	return interpreter.Function{
		Name:  name,
		Arity: arity,
		Call: func(uint32, []interpreter.Value) (interpreter.Value, error) {
			return interpreter.Uint64Value(0), nil
		},
	}
}

// ParseStub parses "api:id:arity", e.g. "3:0x10:2".
func ParseStub(s string) (api uint8, id uint16, arity int, err error) {
	var a, i uint64
	var n int
	if _, err = fmt.Sscanf(s, "%v:%v:%d", &a, &i, &n); err != nil {
		return 0, 0, 0, fmt.Errorf("stub %q: want api:id:arity: %w", s, err)
	}
	if a > interpreter.MaxAPIIndex || i > 0xffff || n < 0 {
		return 0, 0, 0, fmt.Errorf("stub %q out of range", s)
	}
	return uint8(a), uint16(i), n, nil
}

// BufferSink keeps every posted payload.
type BufferSink struct {
	mu    sync.Mutex
	posts []Posted
}

type Posted struct {
	Label uint32
	Data  []byte
}

func (b *BufferSink) Post(label uint32, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.posts = append(b.posts, Posted{Label: label, Data: append([]byte(nil), data...)})
	return nil
}

func (b *BufferSink) Posts() []Posted {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Posted(nil), b.posts...)
}

// LogSink logs the size of every post.
type LogSink struct{}

func (LogSink) Post(label uint32, data []byte) error {
	log.Info(log.ReplayMonitoring, "post", "label", label, "bytes", len(data))
	return nil
}
