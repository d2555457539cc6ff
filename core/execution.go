package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Status is the outcome of one function call.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// ExecutionRecord is the dynamic record written once per function call.
// Records produced inside a trace also carry the trace and span IDs.
type ExecutionRecord struct {
	FunctionID   string
	FunctionName string
	Timestamp    time.Time
	DurationMs   float64
	Status       Status
	ErrorMessage string
	// ErrorCode classifies failed calls: the error's Code() when it has
	// one, its type name otherwise.
	ErrorCode string

	TraceID      string
	SpanID       string
	ParentSpanID string

	// Extra holds global custom values, validated tags and captured span
	// attributes. Base fields win over Extra on key collisions.
	Extra map[string]any
}

// Properties returns the store representation of the record.
func (r ExecutionRecord) Properties() map[string]any {
	props := make(map[string]any, 8+len(r.Extra))
	for k, v := range r.Extra {
		props[k] = v
	}
	if r.FunctionID != "" {
		props[PropFunctionUUID] = r.FunctionID
	}
	if r.FunctionName != "" {
		props[PropFunctionName] = r.FunctionName
	}
	props[PropTimestampUTC] = FormatTimestamp(r.Timestamp)
	props[PropDurationMs] = r.DurationMs
	props[PropStatus] = string(r.Status)
	props[PropErrorMessage] = r.ErrorMessage
	if r.ErrorCode != "" {
		props[PropErrorCode] = r.ErrorCode
	}
	if r.TraceID != "" {
		props[PropTraceID] = r.TraceID
	}
	if r.SpanID != "" {
		props[PropSpanID] = r.SpanID
	}
	if r.ParentSpanID != "" {
		props[PropParentSpanID] = r.ParentSpanID
	}
	return props
}

// ExecutionRecordFromProperties rebuilds a record read back from the store.
// Values may arrive as strings (chromem metadata) or JSON numbers.
func ExecutionRecordFromProperties(props map[string]any) ExecutionRecord {
	r := ExecutionRecord{
		FunctionID:   stringProp(props, PropFunctionUUID),
		FunctionName: stringProp(props, PropFunctionName),
		DurationMs:   floatProp(props, PropDurationMs),
		Status:       Status(stringProp(props, PropStatus)),
		ErrorMessage: stringProp(props, PropErrorMessage),
		ErrorCode:    stringProp(props, PropErrorCode),
		TraceID:      stringProp(props, PropTraceID),
		SpanID:       stringProp(props, PropSpanID),
		ParentSpanID: stringProp(props, PropParentSpanID),
	}
	if ts := stringProp(props, PropTimestampUTC); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.Timestamp = t.UTC()
		}
	}
	for k, v := range props {
		switch k {
		case PropFunctionUUID, PropFunctionName, PropTimestampUTC, PropDurationMs,
			PropStatus, PropErrorMessage, PropErrorCode, PropTraceID, PropSpanID, PropParentSpanID:
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]any)
		}
		r.Extra[k] = v
	}
	return r
}

// Format renders the record as a short human-readable block, keeping the
// error detail within maxLength characters.
func (r ExecutionRecord) Format(maxLength int) string {
	var parts []string

	name := r.FunctionName
	if name == "" {
		name = r.FunctionID
	}
	parts = append(parts, fmt.Sprintf("[%s] %s  %.2f ms  %s",
		r.Status, name, r.DurationMs, FormatTimestamp(r.Timestamp)))

	if r.TraceID != "" {
		parts = append(parts, fmt.Sprintf("  Trace: %s  Span: %s", r.TraceID, r.SpanID))
	}
	if r.Status == StatusError && r.ErrorMessage != "" {
		if r.ErrorCode != "" {
			parts = append(parts, fmt.Sprintf("  Code: %s", r.ErrorCode))
		}
		parts = append(parts, fmt.Sprintf("  Error: %s", truncate(firstLine(r.ErrorMessage), maxLength)))
	}
	return strings.Join(parts, "\n")
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return "..."
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
