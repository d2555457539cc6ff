package core

import "time"

// Property names shared by the store schema, the instrumentation and the
// read side. They match the collection definitions created by
// database.Initialize.
const (
	PropFunctionName      = "function_name"
	PropModuleName        = "module_name"
	PropDocstring         = "docstring"
	PropSourceCode        = "source_code"
	PropSearchDescription = "search_description"
	PropSequenceNarrative = "sequence_narrative"

	PropFunctionUUID = "function_uuid"
	PropTimestampUTC = "timestamp_utc"
	PropDurationMs   = "duration_ms"
	PropStatus       = "status"
	PropErrorMessage = "error_message"
	PropErrorCode    = "error_code"
	PropTraceID      = "trace_id"
	PropSpanID       = "span_id"
	PropParentSpanID = "parent_span_id"
)

// TimestampLayout is the layout of timestamp_utc values. Values written in
// UTC with this layout sort lexicographically in chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
