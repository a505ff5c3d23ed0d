package trace

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// JSONLTraceWriter writes Step records as JSON Lines (one JSON object per line).
// It is safe for concurrent use by multiple goroutines.
type JSONLTraceWriter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	buf    *bufio.Writer
	closer io.Closer // only set when we own the underlying writer
	closed bool
}

// ErrTraceWriterClosed is returned when WriteStep is called after Close.
var ErrTraceWriterClosed = errors.New("jsonl trace writer is closed")

// NewJSONLTraceWriter creates a JSONLTraceWriter on w. Close flushes but does
// not close w.
func NewJSONLTraceWriter(w io.Writer) *JSONLTraceWriter {
	buf := bufio.NewWriterSize(w, 64*1024)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &JSONLTraceWriter{enc: enc, buf: buf}
}

// NewJSONLTraceWriterFile creates (or truncates) path and returns a writer
// that owns the file.
func NewJSONLTraceWriterFile(path string) (*JSONLTraceWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := NewJSONLTraceWriter(f)
	w.closer = f
	return w, nil
}

func (w *JSONLTraceWriter) WriteStep(step *Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrTraceWriterClosed
	}
	return w.enc.Encode(step)
}

// Flush forces buffered data to the underlying writer.
func (w *JSONLTraceWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrTraceWriterClosed
	}
	return w.buf.Flush()
}

// Close flushes any buffered data and closes the file if the writer owns it.
func (w *JSONLTraceWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.buf.Flush(); err != nil {
		if w.closer != nil {
			_ = w.closer.Close()
		}
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// ReadJSONL decodes every step of a JSON Lines trace. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]*Step, error) {
	var steps []*Step
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		step := new(Step)
		if err := json.Unmarshal(sc.Bytes(), step); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		steps = append(steps, step)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}

func ReadJSONLFile(path string) ([]*Step, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSONL(f)
}
