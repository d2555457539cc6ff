// Package vectorize instruments Go functions so that their metadata and
// every call are recorded in the vector store.
//
// Instrument wraps a function: its descriptor (name, module, doc comment,
// source, descriptions, tags) is written once, and every call writes an
// execution record with timing, status and error detail. Trace wraps any
// Invoker in a span; spans started from a context that already carries a
// span join its trace, so nested calls share a trace ID.
//
// All writes go through an Enqueuer, normally the shared batch.Manager.
// Recording problems are logged and never reach the caller: a wrapped
// function returns exactly what the unwrapped function returns.
package vectorize

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/becomeliminal/vectorwave-go/batch"
	"github.com/becomeliminal/vectorwave-go/config"
	"github.com/becomeliminal/vectorwave-go/core"
)

// Enqueuer accepts objects for the store.
type Enqueuer interface {
	Enqueue(collection string, properties map[string]any, id string)
}

// Runtime carries what instrumented functions need: settings, the write
// sink, a logger and an OpenTelemetry tracer.
type Runtime struct {
	settings *config.Settings
	sink     Enqueuer
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(rt *Runtime) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

// WithTracer starts an OpenTelemetry span for every traced call.
func WithTracer(tracer trace.Tracer) Option {
	return func(rt *Runtime) {
		if tracer != nil {
			rt.tracer = tracer
		}
	}
}

// WithClock sets the wall clock used for record timestamps. Durations are
// always measured with the monotonic clock.
func WithClock(now func() time.Time) Option {
	return func(rt *Runtime) {
		if now != nil {
			rt.now = now
		}
	}
}

// NewRuntime creates a runtime writing to sink. A nil settings uses the
// process-wide settings; a nil sink uses the shared batch manager.
func NewRuntime(settings *config.Settings, sink Enqueuer, opts ...Option) *Runtime {
	if settings == nil {
		settings = config.Get()
	}
	if sink == nil {
		sink = sharedSink{}
	}
	rt := &Runtime{
		settings: settings,
		sink:     sink,
		logger:   zap.NewNop(),
		tracer:   noop.NewTracerProvider().Tracer("vectorwave"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger = rt.logger.Named("vectorize")
	return rt
}

var (
	defaultOnce    sync.Once
	defaultRuntime *Runtime
)

// Default returns the process-wide runtime: process-wide settings, the
// shared batch manager (connected on first write) and the global zap
// logger.
func Default() *Runtime {
	defaultOnce.Do(func() {
		defaultRuntime = NewRuntime(config.Get(), sharedSink{}, WithLogger(zap.L()))
	})
	return defaultRuntime
}

// Settings returns the runtime's settings.
func (rt *Runtime) Settings() *config.Settings {
	return rt.settings
}

// Flush flushes the sink when it supports flushing.
func (rt *Runtime) Flush(ctx context.Context) {
	if f, ok := rt.sink.(interface{ Flush(context.Context) }); ok {
		f.Flush(ctx)
	}
}

// enqueue hands an object to the sink. Panics in the sink are logged.
func (rt *Runtime) enqueue(collection string, props map[string]any, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("sink panicked: %v", r)
		}
	}()
	rt.sink.Enqueue(collection, props, id)
	return nil
}

func (rt *Runtime) writeExecution(rec core.ExecutionRecord, function string) {
	if err := rt.enqueue(rt.settings.ExecutionCollectionName, rec.Properties(), ""); err != nil {
		rt.logger.Error("Failed to log execution", zap.String("function", function), zap.Error(err))
	}
}

// baseExtra returns the global custom values merged with extra; extra wins.
func (rt *Runtime) baseExtra(extra ...map[string]any) map[string]any {
	out := make(map[string]any, len(rt.settings.GlobalCustomValues))
	for k, v := range rt.settings.GlobalCustomValues {
		out[k] = v
	}
	for _, m := range extra {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// sharedSink forwards to the shared batch manager, which is constructed
// on first use.
type sharedSink struct{}

func (sharedSink) Enqueue(collection string, properties map[string]any, id string) {
	batch.Shared(context.Background()).Enqueue(collection, properties, id)
}

func (sharedSink) Flush(ctx context.Context) {
	batch.Shared(ctx).Flush(ctx)
}
