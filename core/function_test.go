package core_test

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/becomeliminal/vectorwave-go/core"
)

func TestFunctionID_MatchesUUID5(t *testing.T) {
	// uuid.uuid5(uuid.NAMESPACE_DNS, "billing.process_payment")
	assert.Equal(t, "b66a79dd-9c34-5403-82d3-06ee09c80ea7", core.FunctionID("billing", "process_payment"))

	id := core.FunctionID("billing", "process_payment")
	require.Len(t, id, 36)
	assert.Equal(t, byte('5'), id[14], "version nibble")
}

func TestFunctionID_Deterministic(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		module := rapid.StringMatching(`[a-z][a-z0-9_/.]{0,30}`).Draw(r, "module")
		name := rapid.StringMatching(`[A-Za-z_][A-Za-z0-9_]{0,20}`).Draw(r, "name")

		first := core.FunctionID(module, name)
		second := core.FunctionID(module, name)
		if first != second {
			r.Fatalf("FunctionID(%q, %q) not deterministic: %s != %s", module, name, first, second)
		}

		desc := core.NewFunctionDescriptor(module, name, "", "", "d", "n", nil)
		if desc.ID != first {
			r.Fatalf("descriptor ID %s != FunctionID %s", desc.ID, first)
		}
	})
}

func TestFunctionID_DistinctKeys(t *testing.T) {
	assert.NotEqual(t, core.FunctionID("a", "b"), core.FunctionID("a", "c"))
	assert.NotEqual(t, core.FunctionID("pkg", "Run"), core.FunctionID("other", "Run"))
}

func TestFunctionDescriptor_Properties(t *testing.T) {
	desc := core.NewFunctionDescriptor(
		"billing", "Pay", "Pay charges a user.", "func Pay() {}",
		"charge a user", "receipt sent after", map[string]any{"team": "billing"},
	)

	props := desc.Properties()
	assert.Equal(t, "Pay", props[core.PropFunctionName])
	assert.Equal(t, "billing", props[core.PropModuleName])
	assert.Equal(t, "Pay charges a user.", props[core.PropDocstring])
	assert.Equal(t, "func Pay() {}", props[core.PropSourceCode])
	assert.Equal(t, "charge a user", props[core.PropSearchDescription])
	assert.Equal(t, "receipt sent after", props[core.PropSequenceNarrative])
	assert.Equal(t, "billing", props["team"])

	back := core.FunctionDescriptorFromProperties("", props)
	assert.Equal(t, desc.ID, back.ID)
	assert.Equal(t, map[string]any{"team": "billing"}, back.Tags)
}

func TestExecutionRecord_Properties(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 5, time.UTC)
	rec := core.ExecutionRecord{
		FunctionID: "fid",
		Timestamp:  ts,
		DurationMs: 1.5,
		Status:     core.StatusSuccess,
		Extra:      map[string]any{"run_id": "r1", core.PropStatus: "overridden"},
	}

	props := rec.Properties()
	assert.Equal(t, "fid", props[core.PropFunctionUUID])
	assert.Equal(t, "SUCCESS", props[core.PropStatus], "base fields win over extras")
	assert.Equal(t, "", props[core.PropErrorMessage])
	assert.Equal(t, 1.5, props[core.PropDurationMs])
	assert.Equal(t, "r1", props["run_id"])
	assert.NotContains(t, props, core.PropTraceID)

	back := core.ExecutionRecordFromProperties(map[string]any{
		core.PropFunctionUUID: "fid",
		core.PropTimestampUTC: props[core.PropTimestampUTC],
		core.PropDurationMs:   "1.5",
		core.PropStatus:       "ERROR",
		"team":                "billing",
	})
	assert.Equal(t, ts, back.Timestamp)
	assert.Equal(t, 1.5, back.DurationMs)
	assert.Equal(t, core.StatusError, back.Status)
	assert.Equal(t, "billing", back.Extra["team"])
}

func TestFormatTimestamp_SortsChronologically(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := core.FormatTimestamp(base.Add(999 * time.Millisecond))
	later := core.FormatTimestamp(base.Add(time.Second))
	assert.Less(t, earlier, later)
}

func TestExecutionRecord_Format(t *testing.T) {
	rec := core.ExecutionRecord{
		FunctionName: "Pay",
		Status:       core.StatusError,
		ErrorMessage: "*errors.errorString: boom\nstack...",
		ErrorCode:    "INVALID_INPUT",
		TraceID:      "t1",
		SpanID:       "s1",
	}
	out := rec.Format(200)
	assert.Contains(t, out, "[ERROR] Pay")
	assert.Contains(t, out, "Trace: t1")
	assert.Contains(t, out, "Code: INVALID_INPUT")
	assert.Contains(t, out, "Error: *errors.errorString: boom")
	assert.NotContains(t, out, "stack...")
}

func TestExecutionRecord_FormatKeepsRunesWhole(t *testing.T) {
	rec := core.ExecutionRecord{
		FunctionName: "Pay",
		Status:       core.StatusError,
		ErrorMessage: "*core.ValidationError: montant invalide pour l'opération de paiement ééééé",
	}
	for limit := 4; limit < 80; limit++ {
		out := rec.Format(limit)
		require.True(t, utf8.ValidString(out), "limit %d", limit)
		errLine := out[strings.Index(out, "Error: ")+len("Error: "):]
		assert.LessOrEqual(t, len(errLine), limit, "limit %d", limit)
	}

	rapid.Check(t, func(t *rapid.T) {
		msg := rapid.StringN(0, 60, -1).Draw(t, "msg")
		limit := rapid.IntRange(1, 64).Draw(t, "limit")
		r := core.ExecutionRecord{Status: core.StatusError, ErrorMessage: "x" + msg}
		if !utf8.ValidString(r.Format(limit)) {
			t.Fatalf("invalid UTF-8 for limit %d", limit)
		}
	})
}
