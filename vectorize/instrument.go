package vectorize

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/becomeliminal/vectorwave-go/core"
)

type funcOptions struct {
	name   string
	module string
	doc    *string
	source *string
	tags   map[string]any
}

// FuncOption configures Instrument.
type FuncOption func(*funcOptions)

// Named overrides the function name derived from the symbol table.
func Named(name string) FuncOption {
	return func(o *funcOptions) {
		o.name = name
	}
}

// InModule overrides the module (package path) derived from the symbol
// table.
func InModule(module string) FuncOption {
	return func(o *funcOptions) {
		o.module = module
	}
}

// WithDoc sets the doc text instead of reading the doc comment.
func WithDoc(doc string) FuncOption {
	return func(o *funcOptions) {
		o.doc = &doc
	}
}

// WithSource sets the source text instead of reading the source file.
func WithSource(source string) FuncOption {
	return func(o *funcOptions) {
		o.source = &source
	}
}

// Tag attaches a custom property value to the descriptor and to every
// execution record. Keys that are not custom properties are dropped.
func Tag(key string, value any) FuncOption {
	return func(o *funcOptions) {
		if o.tags == nil {
			o.tags = make(map[string]any)
		}
		o.tags[key] = value
	}
}

// Tags attaches several custom property values.
func Tags(tags map[string]any) FuncOption {
	return func(o *funcOptions) {
		for k, v := range tags {
			Tag(k, v)(o)
		}
	}
}

// Function is an instrumented function.
type Function[A, R any] struct {
	rt         *Runtime
	fn         func(context.Context, A) (R, error)
	desc       core.FunctionDescriptor
	registered bool
}

// Instrument wraps fn. The descriptor is built and enqueued immediately;
// any problem doing so is logged and leaves a Function that still calls
// fn but writes no execution records. A nil rt uses Default().
func Instrument[A, R any](
	rt *Runtime,
	fn func(context.Context, A) (R, error),
	searchDescription, sequenceNarrative string,
	opts ...FuncOption,
) *Function[A, R] {
	if rt == nil {
		rt = Default()
	}
	o := &funcOptions{}
	for _, opt := range opts {
		opt(o)
	}

	f := &Function[A, R]{rt: rt, fn: fn}
	if err := f.register(o, searchDescription, sequenceNarrative); err != nil {
		rt.logger.Error("Failed to register function",
			zap.String("function", o.name), zap.Error(err))
		return f
	}
	f.registered = true
	return f
}

func (f *Function[A, R]) register(o *funcOptions, searchDescription, sequenceNarrative string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic while registering: %v", r)
		}
	}()

	if f.fn == nil {
		return errors.New("function is nil")
	}
	info, _ := lookupFunc(f.fn)
	name, module := info.name, info.module
	if o.name != "" {
		name = o.name
	}
	if o.module != "" {
		module = o.module
	}
	if name == "" {
		return errors.New("cannot determine function name")
	}

	var doc, source string
	if o.doc == nil || o.source == nil {
		var srcErr error
		doc, source, srcErr = sourceOf(info.file, info.line)
		if srcErr != nil {
			f.rt.logger.Debug("Source not available",
				zap.String("function", name), zap.Error(srcErr))
		}
	}
	if o.doc != nil {
		doc = *o.doc
	}
	if o.source != nil {
		source = *o.source
	}

	tags := validateTags(o.tags, f.rt.settings, f.rt.logger, name)
	f.desc = core.NewFunctionDescriptor(module, name, doc, source, searchDescription, sequenceNarrative, tags)

	if err := f.rt.enqueue(f.rt.settings.CollectionName, f.desc.Properties(), f.desc.ID); err != nil {
		return errors.Wrap(err, "enqueue descriptor")
	}
	f.rt.logger.Debug("Function registered",
		zap.String("function", name),
		zap.String("module", module),
		zap.String("function_uuid", f.desc.ID),
	)
	return nil
}

// Describe returns the function's descriptor. It is the zero value when
// registration failed.
func (f *Function[A, R]) Describe() core.FunctionDescriptor {
	return f.desc
}

// Invoke calls the function and records the call. The function's result
// and error are returned unchanged; a panic is recorded and re-raised with
// the same value.
func (f *Function[A, R]) Invoke(ctx context.Context, arg A) (result R, err error) {
	if !f.registered {
		f.rt.logger.Warn("Function is not registered, execution will not be logged",
			zap.String("function", f.desc.Name))
		return f.fn(ctx, arg)
	}
	ctx, byspan := takeSpanRecord(ctx, f.desc.ID)
	if byspan {
		return f.fn(ctx, arg)
	}

	start := time.Now()
	timestamp := f.rt.now().UTC()
	defer func() {
		r := recover()
		out := outcome{err: err}
		if r != nil {
			out = outcome{panicked: true, panicVal: r, stack: debug.Stack()}
		}
		f.record(ctx, timestamp, time.Since(start), out)
		if r != nil {
			panic(r)
		}
	}()

	return f.fn(ctx, arg)
}

// Func returns Invoke as a plain function value.
func (f *Function[A, R]) Func() func(context.Context, A) (R, error) {
	return f.Invoke
}

func (f *Function[A, R]) record(ctx context.Context, timestamp time.Time, elapsed time.Duration, out outcome) {
	defer func() {
		if r := recover(); r != nil {
			f.rt.logger.Error("Panic while logging execution",
				zap.String("function", f.desc.Name), zap.Any("panic", r))
		}
	}()

	rec := core.ExecutionRecord{
		FunctionID:   f.desc.ID,
		FunctionName: f.desc.Name,
		Timestamp:    timestamp,
		DurationMs:   float64(elapsed) / float64(time.Millisecond),
		Status:       core.StatusSuccess,
		Extra:        f.rt.baseExtra(f.desc.Tags),
	}
	if out.failed() {
		rec.Status = core.StatusError
		rec.ErrorMessage, rec.ErrorCode = out.detail()
		f.rt.logger.Debug("Function call failed",
			zap.String("function", f.desc.Name), zap.String("error_code", rec.ErrorCode))
	}
	if tc, ok := FromContext(ctx); ok {
		rec.TraceID = tc.TraceID
		rec.ParentSpanID = tc.SpanID
	}
	f.rt.writeExecution(rec, f.desc.Name)
}
