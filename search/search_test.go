package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/vectorwave-go/config"
	"github.com/becomeliminal/vectorwave-go/core"
	"github.com/becomeliminal/vectorwave-go/store"
	"github.com/becomeliminal/vectorwave-go/store/chromem"
	"github.com/becomeliminal/vectorwave-go/store/embedder/mock"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	client   *chromem.Client
	searcher *Searcher
	pay      core.FunctionDescriptor
	render   core.FunctionDescriptor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, err := chromem.Open(chromem.Config{Embedder: mock.New(128)})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	s := config.Default()
	s.CollectionName = "Functions"
	s.ExecutionCollectionName = "Executions"

	searcher, err := New(client, s, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(searcher.Close)

	f := &fixture{
		client:   client,
		searcher: searcher,
		pay: core.NewFunctionDescriptor("billing", "process_payment", "", "",
			"Charge a card payment for a customer", "", map[string]any{"team": "billing"}),
		render: core.NewFunctionDescriptor("web", "render_chart", "", "",
			"Render the dashboard chart", "", map[string]any{"team": "web"}),
	}

	b := client.Batch()
	for _, d := range []core.FunctionDescriptor{f.pay, f.render} {
		require.NoError(t, b.AddObject("Functions", d.Properties(), d.ID))
	}
	records := []core.ExecutionRecord{
		{FunctionID: f.pay.ID, FunctionName: "process_payment", Timestamp: now.Add(-2 * time.Hour), DurationMs: 80, Status: core.StatusSuccess},
		{FunctionID: f.pay.ID, FunctionName: "process_payment", Timestamp: now.Add(-30 * time.Minute), DurationMs: 12, Status: core.StatusError,
			ErrorMessage: "*billing.Error: invalid amount", ErrorCode: "INVALID_INPUT", Extra: map[string]any{"team": "billing"}},
		{FunctionID: f.pay.ID, Timestamp: now.Add(-10 * time.Minute), DurationMs: 5, Status: core.StatusError,
			ErrorMessage: "*net.OpError: timeout", ErrorCode: "*net.OpError", Extra: map[string]any{"team": "billing"}},
		{FunctionID: f.render.ID, FunctionName: "render_chart", Timestamp: now.Add(-5 * time.Minute), DurationMs: 250, Status: core.StatusSuccess,
			TraceID: "t-1", SpanID: "01B", ParentSpanID: "01A"},
		{FunctionName: "handle_request", Timestamp: now.Add(-5 * time.Minute), DurationMs: 300, Status: core.StatusSuccess,
			TraceID: "t-1", SpanID: "01A"},
		{FunctionID: f.render.ID, FunctionName: "render_chart", Timestamp: now.Add(-4 * time.Minute), DurationMs: 1, Status: core.StatusSuccess,
			TraceID: "t-1", SpanID: "01C", ParentSpanID: "01A"},
	}
	for _, r := range records {
		require.NoError(t, b.AddObject("Executions", r.Properties(), ""))
	}
	_, err = b.Flush(context.Background())
	require.NoError(t, err)
	return f
}

func TestSearchFunctions(t *testing.T) {
	f := newFixture(t)

	results, err := f.searcher.SearchFunctions(context.Background(), "card payment", 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, f.pay.ID, results[0].Function.ID)
	assert.Equal(t, "process_payment", results[0].Function.Name)
	assert.Equal(t, "billing", results[0].Function.Tags["team"])
	require.NotNil(t, results[0].Distance)

	results, err = f.searcher.SearchFunctions(context.Background(), "card payment", 5, map[string]any{"team": "web"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "render_chart", results[0].Function.Name)
}

func TestSearchExecutions_DefaultsToNewestFirst(t *testing.T) {
	f := newFixture(t)

	records, err := f.searcher.SearchExecutions(context.Background(), ExecutionQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, now.Add(-4*time.Minute), records[0].Timestamp)
	assert.True(t, records[0].Timestamp.After(records[1].Timestamp))
}

func TestSearchExecutions_FiltersAndSort(t *testing.T) {
	f := newFixture(t)

	records, err := f.searcher.FindExecutions(context.Background(), ExecutionQuery{
		Filters:   map[string]any{"team": "billing", core.PropStatus: "ERROR"},
		SortBy:    core.PropDurationMs,
		Ascending: true,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 5.0, records[0].DurationMs)
	assert.Equal(t, 12.0, records[1].DurationMs)
}

func TestSearchExecutions_EnrichesFunctionName(t *testing.T) {
	f := newFixture(t)

	records, err := f.searcher.SearchExecutions(context.Background(), ExecutionQuery{
		Filters: map[string]any{core.PropErrorCode: "*net.OpError"},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "process_payment", records[0].FunctionName)
}

func TestFindRecentErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	records, err := f.searcher.FindRecentErrors(ctx, time.Hour, 10, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "*net.OpError", records[0].ErrorCode)
	assert.Equal(t, "INVALID_INPUT", records[1].ErrorCode)

	records, err = f.searcher.FindRecentErrors(ctx, 15*time.Minute, 10, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)

	records, err = f.searcher.FindRecentErrors(ctx, time.Hour, 10, nil, "INVALID_INPUT")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "INVALID_INPUT", records[0].ErrorCode)

	records, err = f.searcher.FindRecentErrors(ctx, time.Hour, 1, map[string]any{"team": "billing"}, "INVALID_INPUT", "*net.OpError")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "*net.OpError", records[0].ErrorCode)
}

func TestFindSlowestExecutions(t *testing.T) {
	f := newFixture(t)

	records, err := f.searcher.FindSlowestExecutions(context.Background(), 3, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []float64{300, 250, 80}, []float64{records[0].DurationMs, records[1].DurationMs, records[2].DurationMs})

	records, err = f.searcher.FindSlowestExecutions(context.Background(), 10, 100)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestFindByTraceID(t *testing.T) {
	f := newFixture(t)

	spans, err := f.searcher.FindByTraceID(context.Background(), "t-1")
	require.NoError(t, err)
	require.Len(t, spans, 3)
	assert.Equal(t, []string{"01A", "01B", "01C"}, []string{spans[0].SpanID, spans[1].SpanID, spans[2].SpanID})
	assert.Empty(t, spans[0].ParentSpanID)

	spans, err = f.searcher.FindByTraceID(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, spans)

	_, err = f.searcher.FindByTraceID(context.Background(), "")
	assert.Error(t, err)
}

type countingClient struct {
	store.Client
	gets int
}

func (c *countingClient) Get(ctx context.Context, collection, id string) (*store.Hit, error) {
	c.gets++
	return c.Client.Get(ctx, collection, id)
}

func TestFunction_IsCached(t *testing.T) {
	f := newFixture(t)
	counting := &countingClient{Client: f.client}
	s, err := New(counting, f.searcher.settings)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	for i := 0; i < 3; i++ {
		desc, err := s.Function(context.Background(), f.pay.ID)
		require.NoError(t, err)
		assert.Equal(t, "process_payment", desc.Name)
		assert.Equal(t, "billing", desc.Module)
	}
	assert.Equal(t, 1, counting.gets)

	_, err = s.Function(context.Background(), "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "No executions found.", Format(nil))
	assert.Equal(t, "No functions found.", FormatFunctions(nil))

	out := Format([]core.ExecutionRecord{
		{FunctionName: "pay", Timestamp: now, DurationMs: 1.5, Status: core.StatusSuccess},
		{FunctionName: "pay", Timestamp: now, DurationMs: 2, Status: core.StatusError, ErrorMessage: "boom\nstack", ErrorCode: "E1"},
	})
	assert.Contains(t, out, "=== EXECUTIONS (2) ===")
	assert.Contains(t, out, "1. [SUCCESS] pay  1.50 ms")
	assert.Contains(t, out, "Code: E1")
	assert.Contains(t, out, "Error: boom")
	assert.NotContains(t, out, "stack")

	d := 0.25
	out = FormatFunctions([]FunctionResult{{
		Function: core.NewFunctionDescriptor("billing", "pay", "", "", "Charge a card", "", nil),
		Distance: &d,
	}})
	assert.Contains(t, out, "1. billing.pay  (distance 0.2500)")
	assert.Contains(t, out, "Charge a card")
}
