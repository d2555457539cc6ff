package vectorize

import (
	"context"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// TraceContext identifies the active span.
type TraceContext struct {
	// TraceID is shared by every span started under the same root call.
	TraceID string
	// SpanID is unique per traced call. IDs are ULIDs and sort by start
	// time.
	SpanID string
}

type traceKey struct{}

// FromContext returns the active span, if any.
func FromContext(ctx context.Context) (TraceContext, bool) {
	tc, ok := ctx.Value(traceKey{}).(TraceContext)
	return tc, ok && tc.TraceID != ""
}

// ContextWithTrace returns a context carrying tc.
func ContextWithTrace(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceKey{}, tc)
}

type spanRecordKey struct{}

// withSpanRecord marks ctx so that the registered function with the given
// ID, when invoked directly with it, leaves recording to the enclosing span.
func withSpanRecord(ctx context.Context, functionID string) context.Context {
	return context.WithValue(ctx, spanRecordKey{}, functionID)
}

// takeSpanRecord reports whether the enclosing span records the call of
// functionID. The returned context no longer carries the mark, so calls
// made from inside the function record normally.
func takeSpanRecord(ctx context.Context, functionID string) (context.Context, bool) {
	id, ok := ctx.Value(spanRecordKey{}).(string)
	if !ok || id == "" {
		return ctx, false
	}
	return context.WithValue(ctx, spanRecordKey{}, ""), id == functionID
}

func newTraceID() string {
	return uuid.NewString()
}

func newSpanID() string {
	return ulid.Make().String()
}
