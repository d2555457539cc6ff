package vectorize

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/becomeliminal/vectorwave-go/config"
	"github.com/becomeliminal/vectorwave-go/store"
)

const testModule = "github.com/becomeliminal/vectorwave-go/vectorize"

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)

type recordingSink struct {
	mu      sync.Mutex
	objects []store.Object
	flushes int
}

func (s *recordingSink) Enqueue(collection string, properties map[string]any, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = append(s.objects, store.Object{Collection: collection, Properties: properties, ID: id})
}

func (s *recordingSink) Flush(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func (s *recordingSink) in(collection string) []store.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Object
	for _, obj := range s.objects {
		if obj.Collection == collection {
			out = append(out, obj)
		}
	}
	return out
}

func (s *recordingSink) functions() []store.Object {
	return s.in("Functions")
}

func (s *recordingSink) executions() []store.Object {
	return s.in("Executions")
}

type panicSink struct{}

func (panicSink) Enqueue(string, map[string]any, string) {
	panic("sink exploded")
}

func testSettings() *config.Settings {
	s := config.Default()
	s.CollectionName = "Functions"
	s.ExecutionCollectionName = "Executions"
	s.CustomProperties = map[string]config.CustomProperty{
		"team":    {DataType: "TEXT"},
		"run_id":  {DataType: "TEXT"},
		"user_id": {DataType: "TEXT"},
	}
	s.GlobalCustomValues = map[string]string{"run_id": "r-42"}
	return s
}

type harness struct {
	rt       *Runtime
	sink     *recordingSink
	observed *observer.ObservedLogs
	settings *config.Settings
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, testSettings(), opts...)
}

func newHarnessWith(t *testing.T, s *config.Settings, opts ...Option) *harness {
	t.Helper()
	obsCore, observed := observer.New(zapcore.DebugLevel)
	sink := &recordingSink{}
	opts = append([]Option{WithLogger(zap.New(obsCore)), WithClock(func() time.Time { return fixedNow })}, opts...)
	return &harness{
		rt:       NewRuntime(s, sink, opts...),
		sink:     sink,
		observed: observed,
		settings: s,
	}
}

func (h *harness) messages(msg string) int {
	return h.observed.FilterMessage(msg).Len()
}
