package vectorize

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/becomeliminal/vectorwave-go/core"
)

// Invoker is anything that can be called like an instrumented function.
type Invoker[A, R any] interface {
	Invoke(ctx context.Context, arg A) (R, error)
}

// InvokerFunc adapts a plain function to Invoker.
type InvokerFunc[A, R any] func(ctx context.Context, arg A) (R, error)

// Invoke calls f.
func (f InvokerFunc[A, R]) Invoke(ctx context.Context, arg A) (R, error) {
	return f(ctx, arg)
}

// Describer is implemented by invokers that wrap a registered function.
type Describer interface {
	Describe() core.FunctionDescriptor
}

// Span traces calls to an Invoker.
type Span[A, R any] struct {
	rt         *Runtime
	inner      Invoker[A, R]
	name       string
	desc       core.FunctionDescriptor
	attributes []string
}

// Trace wraps inner so that every call is recorded as a span. The listed
// attributes are read from the call's argument and stored on the record.
// A nil rt uses Default().
func Trace[A, R any](rt *Runtime, inner Invoker[A, R], attributes ...string) *Span[A, R] {
	if rt == nil {
		rt = Default()
	}
	s := &Span[A, R]{rt: rt, inner: inner, attributes: attributes}
	if d, ok := inner.(Describer); ok {
		s.desc = d.Describe()
		s.name = s.desc.Name
	}
	if s.name == "" {
		s.name = invokerName(inner)
	}
	return s
}

func invokerName(inner any) string {
	if info, ok := lookupFunc(inner); ok && info.name != "" {
		return info.name
	}
	return fmt.Sprintf("%T", inner)
}

// Describe returns the descriptor of the wrapped function, which is the
// zero value when inner is not a registered function.
func (s *Span[A, R]) Describe() core.FunctionDescriptor {
	return s.desc
}

// Invoke runs inner inside a new span. The span joins the trace carried by
// ctx, or starts a new trace when there is none. Each call writes one
// execution record: when inner is a registered Function, the span's record
// stands for the function's call and the function does not write its own.
func (s *Span[A, R]) Invoke(ctx context.Context, arg A) (result R, err error) {
	tc := TraceContext{SpanID: newSpanID()}
	var parentSpanID string
	if parent, ok := FromContext(ctx); ok {
		tc.TraceID = parent.TraceID
		parentSpanID = parent.SpanID
	} else {
		tc.TraceID = newTraceID()
	}

	attrs := s.captureAttributes(arg)
	innerCtx, _ := takeSpanRecord(ctx, "")
	innerCtx = ContextWithTrace(innerCtx, tc)
	if s.desc.ID != "" {
		innerCtx = withSpanRecord(innerCtx, s.desc.ID)
	}
	innerCtx, otelSpan := s.rt.tracer.Start(innerCtx, s.name,
		trace.WithAttributes(
			attribute.String("vectorwave.trace_id", tc.TraceID),
			attribute.String("vectorwave.span_id", tc.SpanID),
			attribute.String("vectorwave.function", s.name),
		))

	start := time.Now()
	timestamp := s.rt.now().UTC()
	defer func() {
		r := recover()
		out := outcome{err: err}
		if r != nil {
			out = outcome{panicked: true, panicVal: r, stack: debug.Stack()}
		}
		s.endOtel(otelSpan, out)
		s.record(tc, parentSpanID, timestamp, time.Since(start), attrs, out)
		if r != nil {
			panic(r)
		}
	}()

	return s.inner.Invoke(innerCtx, arg)
}

func (s *Span[A, R]) endOtel(span trace.Span, out outcome) {
	switch {
	case out.panicked:
		span.SetStatus(codes.Error, fmt.Sprint(out.panicVal))
	case out.err != nil:
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
	}
	span.End()
}

func (s *Span[A, R]) record(tc TraceContext, parentSpanID string, timestamp time.Time, elapsed time.Duration, attrs map[string]any, out outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.rt.logger.Error("Panic while logging span",
				zap.String("function", s.name), zap.Any("panic", r))
		}
	}()

	rec := core.ExecutionRecord{
		FunctionID:   s.desc.ID,
		FunctionName: s.name,
		Timestamp:    timestamp,
		DurationMs:   float64(elapsed) / float64(time.Millisecond),
		Status:       core.StatusSuccess,
		TraceID:      tc.TraceID,
		SpanID:       tc.SpanID,
		ParentSpanID: parentSpanID,
		Extra:        s.rt.baseExtra(s.desc.Tags, attrs),
	}
	if out.failed() {
		rec.Status = core.StatusError
		rec.ErrorMessage, rec.ErrorCode = out.detail()
	}
	s.rt.logger.Debug("Span finished",
		zap.String("function", s.name),
		zap.String("trace_id", tc.TraceID),
		zap.String("span_id", tc.SpanID),
		zap.String("status", string(rec.Status)),
	)
	s.rt.writeExecution(rec, s.name)
}

// captureAttributes reads the configured attributes from arg.
func (s *Span[A, R]) captureAttributes(arg A) map[string]any {
	if len(s.attributes) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.attributes))
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.rt.logger.Warn("Could not capture span attributes",
					zap.String("function", s.name), zap.Any("panic", r))
			}
		}()
		for _, name := range s.attributes {
			if v, ok := lookupAttribute(reflect.ValueOf(arg), name); ok {
				out[name] = v
			}
		}
	}()
	return out
}

// lookupAttribute finds name in a struct (by json tag, then field name) or
// a string-keyed map. Nil values are reported as absent.
func lookupAttribute(v reflect.Value, name string) (any, bool) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, false
	}

	var field reflect.Value
	switch v.Kind() {
	case reflect.Struct:
		field = structField(v, name)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		field = v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
	default:
		return nil, false
	}
	return attributeValue(field)
}

func structField(v reflect.Value, name string) reflect.Value {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag == name {
			return v.Field(i)
		}
	}
	if f, ok := t.FieldByName(name); ok && f.IsExported() {
		return v.FieldByIndex(f.Index)
	}
	return reflect.Value{}
}

func attributeValue(v reflect.Value) (any, bool) {
	if !v.IsValid() {
		return nil, false
	}
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	switch val := v.Interface().(type) {
	case time.Time:
		return core.FormatTimestamp(val), true
	case fmt.Stringer:
		return val.String(), true
	}
	switch v.Kind() {
	case reflect.Map, reflect.Slice:
		if v.IsNil() {
			return nil, false
		}
	}
	return v.Interface(), true
}
