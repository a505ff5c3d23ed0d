// Package replay wires a capture, a memory manager and an interpreter into a
// runnable session. Renderer tables are bound lazily, the first time a CALL
// references their api.
package replay

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/replay/interpreter"
	"github.com/colorfulnotion/replay/log"
	"github.com/colorfulnotion/replay/memory"
	"github.com/colorfulnotion/replay/replayerrors"
	"github.com/colorfulnotion/replay/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/colorfulnotion/replay"

// Config holds the interpreter and address space parameters of a session.
// Zero bases select the memory package defaults.
type Config struct {
	StackDepth       uint32
	VolatileCapacity uint32
	ConstantBase     memory.Address
	VolatileBase     memory.Address
}

func DefaultConfig() Config {
	return Config{
		StackDepth:       1024,
		VolatileCapacity: memory.DefaultVolatileCapacity,
	}
}

// RendererSet maps an api index to the renderer functions the host offers
// for it.
type RendererSet map[uint8]*interpreter.FunctionTable

type Session struct {
	cfg       Config
	capture   *storage.Capture
	mm        *memory.Manager
	vm        *interpreter.Interpreter
	renderers RendererSet
	bound     []uint8
	tracer    oteltrace.Tracer
}

type Option func(*Session)

// WithResources replaces the capture's own resources as the RESOURCE source.
func WithResources(p interpreter.ResourceProvider) Option {
	return func(s *Session) { s.vm.SetResourceProvider(p) }
}

func WithPostSink(sink interpreter.PostSink) Option {
	return func(s *Session) { s.vm.SetPostSink(sink) }
}

// WithStepTracer installs a per-instruction tracer on the interpreter.
func WithStepTracer(t interpreter.Tracer) Option {
	return func(s *Session) { s.vm.SetTracer(t) }
}

func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(s *Session) { s.tracer = tp.Tracer(tracerName) }
}

// NewSession prepares c for replay. The constant segment is installed and the
// volatile segment reserves c.VolatileSize bytes.
func NewSession(cfg Config, c *storage.Capture, renderers RendererSet, opts ...Option) (*Session, error) {
	mcfg := memory.DefaultConfig(c.VolatileSize)
	if cfg.ConstantBase != 0 {
		mcfg.ConstantBase = cfg.ConstantBase
	}
	if cfg.VolatileBase != 0 {
		mcfg.VolatileBase = cfg.VolatileBase
	}
	if cfg.VolatileCapacity != 0 {
		mcfg.VolatileCapacity = cfg.VolatileCapacity
	}
	mm, err := memory.NewManager(mcfg)
	if err != nil {
		return nil, err
	}
	if err := mm.SetConstantMemory(c.Constants); err != nil {
		return nil, err
	}
	if cfg.StackDepth == 0 {
		cfg.StackDepth = DefaultConfig().StackDepth
	}

	s := &Session{
		cfg:       cfg,
		capture:   c,
		mm:        mm,
		renderers: renderers,
		tracer:    otel.Tracer(tracerName),
	}
	s.vm = interpreter.New(mm, cfg.StackDepth, s.requestApi)
	s.vm.SetResourceProvider(mapResources(c.Resources))
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// OpenSession loads capture id from store. Resources are read from the store
// on demand.
func OpenSession(cfg Config, store *storage.CaptureStore, id storage.CaptureID, renderers RendererSet, opts ...Option) (*Session, error) {
	c, err := store.GetCapture(id)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithResources(store.Resources(id))}, opts...)
	return NewSession(cfg, c, renderers, opts...)
}

func (s *Session) requestApi(i *interpreter.Interpreter, api uint8) bool {
	table, ok := s.renderers[api]
	if !ok || table == nil {
		log.Debug(log.ReplayMonitoring, "no renderer for api", "api", api)
		return false
	}
	i.SetRendererFunctions(api, table)
	s.bound = append(s.bound, api)
	log.Debug(log.ReplayMonitoring, "renderer bound", "api", api, "functions", table.Len())
	return true
}

func (s *Session) Interpreter() *interpreter.Interpreter { return s.vm }
func (s *Session) Memory() *memory.Manager               { return s.mm }

// Bound lists the apis whose renderer tables were requested, in binding order.
func (s *Session) Bound() []uint8 { return append([]uint8(nil), s.bound...) }

// Run replays the capture once. A failed run returns a *RunError.
func (s *Session) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, span := s.tracer.Start(ctx, "replay.run", oteltrace.WithAttributes(
		attribute.String("capture.name", s.capture.Name),
		attribute.Int("capture.instructions", len(s.capture.Instructions)),
		attribute.Int64("capture.volatile_size", int64(s.capture.VolatileSize)),
	))
	defer span.End()

	ok := s.vm.Run(s.capture.Instructions)
	span.SetAttributes(attribute.Int64("replay.label", int64(s.vm.Label())))
	if ok {
		span.SetStatus(codes.Ok, "")
		log.Debug(log.ReplayMonitoring, "replay done", "capture", s.capture.Name, "label", s.vm.Label())
		return nil
	}

	index, err := s.vm.LastFailure()
	rerr := &RunError{Index: index, Label: s.vm.Label(), Err: err}
	span.SetAttributes(
		attribute.Int("replay.failed_index", index),
		attribute.String("replay.error.code", replayerrors.GetErrorCode(err)),
		attribute.String("replay.error.kind", replayerrors.Category(err)),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, replayerrors.GetErrorName(err))
	return rerr
}

// RunError reports the instruction that terminated a run and the last label
// reached before it.
type RunError struct {
	Index int
	Label uint32
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("replay failed at instruction %d (label %d): %v", e.Index, e.Label, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

type mapResources map[uint32][]byte

func (m mapResources) Resource(id uint32) ([]byte, error) {
	data, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", replayerrors.ErrCResourceNotFound, id)
	}
	return data, nil
}
