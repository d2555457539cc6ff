package batch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/becomeliminal/vectorwave-go/config"
	"github.com/becomeliminal/vectorwave-go/store"
)

type fakeBatch struct {
	mu         sync.Mutex
	configured []store.BatchConfig
	objects    []store.Object
	flushes    int
	flushErr   error
	addErr     error
	reject     map[string]string
	panicAdd   bool
}

func (b *fakeBatch) Configure(cfg store.BatchConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configured = append(b.configured, cfg)
	return nil
}

func (b *fakeBatch) AddObject(collection string, properties map[string]any, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.panicAdd {
		panic("boom")
	}
	if b.addErr != nil {
		return b.addErr
	}
	b.objects = append(b.objects, store.Object{Collection: collection, ID: id, Properties: properties})
	return nil
}

func (b *fakeBatch) Flush(ctx context.Context) ([]store.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushes++
	if b.flushErr != nil {
		return nil, b.flushErr
	}
	results := make([]store.Result, 0, len(b.objects))
	for _, obj := range b.objects {
		res := store.Result{Collection: obj.Collection, ID: obj.ID}
		if msg, ok := b.reject[obj.ID]; ok {
			res.Errors = []string{msg}
		}
		results = append(results, res)
	}
	b.objects = nil
	return results, nil
}

func (b *fakeBatch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

type fakeClient struct {
	store.Client
	batch  *fakeBatch
	closed bool
}

func (c *fakeClient) Batch() store.Batch { return c.batch }
func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

type harness struct {
	manager  *Manager
	client   *fakeClient
	logs     *observer.ObservedLogs
	registry *prometheus.Registry
	hooks    int
	connects int
}

func newHarness(t *testing.T, connectErr error) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		client:   &fakeClient{batch: &fakeBatch{}},
		logs:     logs,
		registry: prometheus.NewRegistry(),
	}
	h.manager = New(context.Background(),
		WithSettings(config.Default()),
		WithLogger(zap.New(core)),
		WithRegisterer(h.registry),
		WithShutdownHook(func(func()) { h.hooks++ }),
		WithConnect(func(ctx context.Context, s *config.Settings) (store.Client, error) {
			h.connects++
			if connectErr != nil {
				return nil, connectErr
			}
			return h.client, nil
		}),
	)
	return h
}

func TestNew_ConfiguresBatchAndRegistersHook(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, StateReady, h.manager.State())
	assert.True(t, h.manager.Initialized())
	assert.Equal(t, 1, h.connects)
	assert.Equal(t, 1, h.hooks)
	require.Len(t, h.client.batch.configured, 1)
	cfg := h.client.batch.configured[0]
	assert.Equal(t, 20, cfg.Size)
	assert.True(t, cfg.Dynamic)
	assert.Equal(t, 3, cfg.TimeoutRetries)
	assert.Zero(t, cfg.FlushInterval)
	assert.NotNil(t, cfg.OnResults)
}

func TestNew_ConnectFailureDisables(t *testing.T) {
	h := newHarness(t, &store.ConnectionError{Err: errors.New("connection refused")})

	assert.Equal(t, StateDisabled, h.manager.State())
	assert.False(t, h.manager.Initialized())
	assert.Equal(t, 0, h.hooks)
	assert.Equal(t, 1, h.logs.FilterMessageSnippet("Failed to initialize batch manager").Len())

	// Every operation is a safe no-op.
	h.manager.Enqueue("Executions", map[string]any{"status": "SUCCESS"}, "")
	h.manager.Flush(context.Background())
	assert.Equal(t, 0, h.manager.Len())
	require.NoError(t, h.manager.Close(context.Background()))

	assert.Equal(t, 1, h.logs.FilterMessageSnippet("not initialized, dropping object").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.manager.metrics.dropped.WithLabelValues(dropNotReady)))
}

func TestEnqueue_AddsObject(t *testing.T) {
	h := newHarness(t, nil)

	h.manager.Enqueue("Functions", map[string]any{"function_name": "pay"}, "fn-1")
	assert.Equal(t, 1, h.manager.Len())
	assert.Equal(t, "fn-1", h.client.batch.objects[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.manager.metrics.enqueued.WithLabelValues("Functions")))
}

func TestEnqueue_SwallowsFailures(t *testing.T) {
	h := newHarness(t, nil)

	h.client.batch.addErr = errors.New("queue closed")
	assert.NotPanics(t, func() { h.manager.Enqueue("Executions", nil, "") })

	h.client.batch.addErr = nil
	h.client.batch.panicAdd = true
	assert.NotPanics(t, func() { h.manager.Enqueue("Executions", nil, "") })

	assert.Equal(t, 2.0, testutil.ToFloat64(h.manager.metrics.dropped.WithLabelValues(dropAdd)))
	assert.Equal(t, 1, h.logs.FilterMessage("Failed to add object to batch").Len())
	assert.Equal(t, 1, h.logs.FilterMessage("Panic while adding object to batch").Len())
}

func TestFlush_EmptyDoesNotTransmit(t *testing.T) {
	h := newHarness(t, nil)

	h.manager.Flush(context.Background())
	assert.Equal(t, 0, h.client.batch.flushes)
	assert.Equal(t, 1, h.logs.FilterMessage("No objects to flush").Len())
}

func TestFlush_TransmitsOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.client.batch.reject = map[string]string{"bad": "invalid property"}

	h.manager.Enqueue("Executions", nil, "good")
	h.manager.Enqueue("Executions", nil, "bad")
	h.manager.Flush(context.Background())

	assert.Equal(t, 1, h.client.batch.flushes)
	assert.Equal(t, 0, h.manager.Len())

	rejected := h.logs.FilterMessage("Object rejected by store").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "bad", rejected[0].ContextMap()["id"])

	assert.Equal(t, 1.0, testutil.ToFloat64(h.manager.metrics.flushed))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.manager.metrics.flushes.WithLabelValues(flushSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.manager.metrics.dropped.WithLabelValues(dropRejected)))
}

func TestFlush_TransportErrorIsLogged(t *testing.T) {
	h := newHarness(t, nil)
	h.client.batch.flushErr = errors.New("connection reset")

	h.manager.Enqueue("Executions", nil, "")
	assert.NotPanics(t, func() { h.manager.Flush(context.Background()) })

	assert.Equal(t, 1, h.client.batch.flushes)
	assert.Equal(t, 1, h.logs.FilterMessageSnippet("Batch flush failed").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.manager.metrics.flushes.WithLabelValues(flushError)))
}

func TestBackgroundRejectionsAreReported(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	reg := prometheus.NewRegistry()
	send := func(ctx context.Context, objects []store.Object) ([]store.Result, error) {
		results := make([]store.Result, len(objects))
		for i, obj := range objects {
			results[i] = store.Result{Collection: obj.Collection, ID: obj.ID, Errors: []string{"invalid property"}}
		}
		return results, nil
	}
	client := &fakeClient{}
	buf := store.NewBuffer(send)
	s := config.Default()
	s.BatchSize = 2
	s.BatchDynamic = false

	m := New(context.Background(),
		WithSettings(s),
		WithLogger(zap.New(core)),
		WithRegisterer(reg),
		WithShutdownHook(nil),
		WithConnect(func(context.Context, *config.Settings) (store.Client, error) {
			return &bufferedClient{fakeClient: client, buf: buf}, nil
		}),
	)
	require.True(t, m.Initialized())

	for i := 0; i < 100; i++ {
		m.Enqueue("Executions", nil, "")
	}
	// Flush waits for the background sends to finish.
	m.Flush(context.Background())

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 100, logs.FilterMessage("Object rejected by store").Len())
	assert.Equal(t, 100.0, testutil.ToFloat64(m.metrics.dropped.WithLabelValues(dropRejected)))
}

type bufferedClient struct {
	*fakeClient
	buf *store.Buffer
}

func (c *bufferedClient) Batch() store.Batch { return c.buf }

func TestClose_FlushesAndDisables(t *testing.T) {
	h := newHarness(t, nil)

	h.manager.Enqueue("Executions", nil, "")
	require.NoError(t, h.manager.Close(context.Background()))

	assert.Equal(t, 1, h.client.batch.flushes)
	assert.True(t, h.client.closed)
	assert.Equal(t, StateDisabled, h.manager.State())

	h.manager.Enqueue("Executions", nil, "")
	assert.Equal(t, 0, h.manager.Len())
}

func TestShutdownHook_FlushesPending(t *testing.T) {
	var flush func()
	client := &fakeClient{batch: &fakeBatch{}}
	m := New(context.Background(),
		WithSettings(config.Default()),
		WithShutdownHook(func(f func()) { flush = f }),
		WithConnect(func(context.Context, *config.Settings) (store.Client, error) { return client, nil }),
	)
	require.NotNil(t, flush)

	m.Enqueue("Executions", nil, "")
	flush()
	assert.Equal(t, 1, client.batch.flushes)
	assert.Equal(t, 0, m.Len())
}

func TestMetrics_SharedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	connect := WithConnect(func(context.Context, *config.Settings) (store.Client, error) {
		return &fakeClient{batch: &fakeBatch{}}, nil
	})
	a := New(context.Background(), WithSettings(config.Default()), WithRegisterer(reg), WithShutdownHook(nil), connect)
	b := New(context.Background(), WithSettings(config.Default()), WithRegisterer(reg), WithShutdownHook(nil), connect)

	a.Enqueue("Executions", nil, "")
	b.Enqueue("Executions", nil, "")
	assert.Equal(t, 2.0, testutil.ToFloat64(a.metrics.enqueued.WithLabelValues("Executions")))
}

func TestShared_ReturnsSameManager(t *testing.T) {
	resetShared()
	t.Cleanup(resetShared)

	first := Shared(context.Background())
	second := Shared(context.Background())
	assert.Same(t, first, second)
	assert.NotEqual(t, StateUninitialized, first.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "disabled", StateDisabled.String())
	assert.Equal(t, "unknown", State(42).String())
}
