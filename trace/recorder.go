package trace

import (
	"sync"

	"github.com/colorfulnotion/replay/asm"
	"github.com/colorfulnotion/replay/interpreter"
	"github.com/colorfulnotion/replay/log"
)

// Recorder collects a Step for every instruction an interpreter executes and
// optionally streams them to a JSONLTraceWriter.
type Recorder struct {
	mu       sync.Mutex
	steps    []*Step
	writer   *JSONLTraceWriter
	posted   [][]byte
	keep     bool
	writeErr error
}

// NewRecorder returns a Recorder that keeps steps in memory. w may be nil.
func NewRecorder(w *JSONLTraceWriter) *Recorder {
	return &Recorder{writer: w, keep: true}
}

// NewStreamingRecorder returns a Recorder that only writes steps to w.
func NewStreamingRecorder(w *JSONLTraceWriter) *Recorder {
	return &Recorder{writer: w}
}

// Step implements interpreter.Tracer.
func (r *Recorder) Step(index int, opcode uint32, label uint32, depth int, err error) {
	step := NewStep(index, opcode, label, depth)
	if inst, derr := interpreter.Decode(opcode); derr == nil {
		step.OpcodeStr = asm.Format(inst)
	}
	step.SetError(err)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, data := range r.posted {
		step.SetPosted(data)
	}
	r.posted = r.posted[:0]
	if r.keep {
		r.steps = append(r.steps, step)
	}
	if r.writer != nil && r.writeErr == nil {
		if werr := r.writer.WriteStep(step); werr != nil {
			log.Warn(log.TraceMonitoring, "trace write failed", "index", index, "err", werr)
			r.writeErr = werr
		}
	}
}

// Steps returns the steps recorded so far.
func (r *Recorder) Steps() []*Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Err returns the first error the writer reported.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeErr
}

// WrapPostSink returns a sink that attaches every posted payload to the step
// of the instruction that posted it before forwarding to next. next may be nil.
func (r *Recorder) WrapPostSink(next interpreter.PostSink) interpreter.PostSink {
	return &recordingSink{r: r, next: next}
}

type recordingSink struct {
	r    *Recorder
	next interpreter.PostSink
}

func (s *recordingSink) Post(label uint32, data []byte) error {
	s.r.mu.Lock()
	s.r.posted = append(s.r.posted, data)
	s.r.mu.Unlock()
	if s.next == nil {
		return nil
	}
	return s.next.Post(label, data)
}
