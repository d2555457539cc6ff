// Package batch owns the process-wide write path to the vector store.
//
// A Manager connects once, configures the store's batch primitive and then
// accepts objects from the instrumentation. It never returns errors to its
// callers: a manager that failed to connect stays Disabled and turns every
// call into a logged no-op, so instrumented code keeps running without a
// store.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/becomeliminal/vectorwave-go/config"
	"github.com/becomeliminal/vectorwave-go/database"
	"github.com/becomeliminal/vectorwave-go/store"
)

// State is the lifecycle state of a Manager.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDisabled:
		return "disabled"
	}
	return "unknown"
}

// ConnectFunc opens a ready, initialized store client.
type ConnectFunc func(ctx context.Context, s *config.Settings) (store.Client, error)

// ShutdownHook arranges for flush to run when the process terminates.
type ShutdownHook func(flush func())

type options struct {
	settings     *config.Settings
	connect      ConnectFunc
	logger       *zap.Logger
	registerer   prometheus.Registerer
	hook         ShutdownHook
	flushTimeout time.Duration
}

// Option configures a Manager.
type Option func(*options)

// WithSettings uses s instead of the process-wide settings.
func WithSettings(s *config.Settings) Option {
	return func(o *options) {
		o.settings = s
	}
}

// WithConnect replaces database.Open as the way to obtain a client.
func WithConnect(connect ConnectFunc) Option {
	return func(o *options) {
		o.connect = connect
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegisterer registers the manager's metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithShutdownHook replaces the default signal hook. A nil hook disables
// shutdown flushing.
func WithShutdownHook(hook ShutdownHook) Option {
	return func(o *options) {
		o.hook = hook
	}
}

// WithFlushTimeout bounds the flush run by the shutdown hook.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.flushTimeout = d
		}
	}
}

// Manager buffers objects for the store.
type Manager struct {
	logger       *zap.Logger
	metrics      *metrics
	flushTimeout time.Duration

	mu       sync.Mutex
	state    State
	client   store.Client
	settings *config.Settings
}

// New constructs a manager and attempts initialization once. Failures are
// logged and leave the manager Disabled.
func New(ctx context.Context, opts ...Option) *Manager {
	o := &options{
		logger:       zap.NewNop(),
		hook:         SignalHook,
		flushTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.connect == nil {
		logger := o.logger
		o.connect = func(ctx context.Context, s *config.Settings) (store.Client, error) {
			return database.Open(ctx, s, database.WithLogger(logger))
		}
	}

	m := &Manager{
		logger:       o.logger.Named("batch"),
		metrics:      newMetrics(o.registerer),
		flushTimeout: o.flushTimeout,
	}
	m.initialize(ctx, o)
	return m
}

func (m *Manager) initialize(ctx context.Context, o *options) {
	m.setState(StateInitializing)

	s := o.settings
	if s == nil {
		s = config.Get()
	}

	client, err := o.connect(ctx, s)
	if err != nil {
		m.logger.Error("Failed to initialize batch manager, execution logging is disabled", zap.Error(err))
		m.setState(StateDisabled)
		return
	}

	cfg := store.BatchConfig{
		Size:           s.BatchSize,
		Dynamic:        s.BatchDynamic,
		TimeoutRetries: s.BatchRetries,
		FlushInterval:  s.FlushInterval,
		OnResults:      m.reportBackground,
	}
	if err := client.Batch().Configure(cfg); err != nil {
		m.logger.Error("Failed to configure batch, execution logging is disabled", zap.Error(err))
		client.Close()
		m.setState(StateDisabled)
		return
	}

	m.mu.Lock()
	m.client = client
	m.settings = s
	m.state = StateReady
	m.mu.Unlock()

	if o.hook != nil {
		o.hook(m.flushOnShutdown)
	}

	m.logger.Info("Batch manager initialized",
		zap.Int("batch_size", cfg.Size),
		zap.Bool("dynamic", cfg.Dynamic),
		zap.Int("timeout_retries", cfg.TimeoutRetries),
		zap.Duration("flush_interval", cfg.FlushInterval),
	)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Initialized reports whether the manager is Ready.
func (m *Manager) Initialized() bool {
	return m.State() == StateReady
}

// Settings returns the settings the manager was initialized with, or nil.
func (m *Manager) Settings() *config.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

func (m *Manager) ready() (store.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client, m.state == StateReady
}

// Enqueue adds an object to the batch. It never blocks on the network and
// never fails: problems are logged and the object is dropped.
func (m *Manager) Enqueue(collection string, properties map[string]any, id string) {
	client, ok := m.ready()
	if !ok {
		m.logger.Warn("Batch manager is not initialized, dropping object", zap.String("collection", collection))
		m.metrics.dropped.WithLabelValues(dropNotReady).Inc()
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic while adding object to batch",
				zap.String("collection", collection), zap.Any("panic", r))
			m.metrics.dropped.WithLabelValues(dropAdd).Inc()
		}
	}()

	if err := client.Batch().AddObject(collection, properties, id); err != nil {
		m.logger.Error("Failed to add object to batch",
			zap.String("collection", collection), zap.String("id", id), zap.Error(err))
		m.metrics.dropped.WithLabelValues(dropAdd).Inc()
		return
	}
	m.metrics.enqueued.WithLabelValues(collection).Inc()
}

// Flush transmits everything pending. An empty queue is not transmitted.
// Errors are logged, never returned.
func (m *Manager) Flush(ctx context.Context) {
	client, ok := m.ready()
	if !ok {
		m.logger.Debug("Batch manager is not initialized, nothing to flush")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Panic while flushing batch", zap.Any("panic", r))
			m.metrics.flushes.WithLabelValues(flushError).Inc()
		}
	}()

	b := client.Batch()
	pending := b.Len()
	if pending == 0 {
		m.logger.Info("No objects to flush")
		m.metrics.observeFlush(flushEmpty, 0, 0)
		return
	}

	start := time.Now()
	results, err := b.Flush(ctx)
	elapsed := time.Since(start)
	failed := m.reportRejected(results)

	if err != nil {
		m.logger.Error("Batch flush failed, objects remain queued",
			zap.Int("count", pending), zap.Error(err))
		m.metrics.observeFlush(flushError, len(results)-failed, elapsed)
		return
	}

	m.logger.Info("Batch flushed",
		zap.Int("count", len(results)),
		zap.Int("failed", failed),
		zap.Duration("duration", elapsed),
	)
	m.metrics.observeFlush(flushSuccess, len(results)-failed, elapsed)
}

// reportRejected logs and counts the objects the store rejected and
// returns how many there were.
func (m *Manager) reportRejected(results []store.Result) int {
	failed := 0
	for _, res := range results {
		if !res.Failed() {
			continue
		}
		failed++
		m.logger.Error("Object rejected by store",
			zap.String("collection", res.Collection),
			zap.String("id", res.ID),
			zap.Strings("errors", res.Errors),
		)
	}
	if failed > 0 {
		m.metrics.dropped.WithLabelValues(dropRejected).Add(float64(failed))
	}
	return failed
}

// reportBackground receives the results of size- and interval-triggered
// sends.
func (m *Manager) reportBackground(results []store.Result) {
	failed := m.reportRejected(results)
	m.metrics.flushed.Add(float64(len(results) - failed))
}

// Len returns the number of objects not yet acknowledged by the store.
func (m *Manager) Len() int {
	client, ok := m.ready()
	if !ok {
		return 0
	}
	return client.Batch().Len()
}

// Close flushes pending objects and closes the client. Later calls to
// Enqueue drop their objects.
func (m *Manager) Close(ctx context.Context) error {
	if _, ok := m.ready(); !ok {
		return nil
	}
	m.Flush(ctx)

	m.mu.Lock()
	client := m.client
	m.client = nil
	m.state = StateDisabled
	m.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

func (m *Manager) flushOnShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), m.flushTimeout)
	defer cancel()
	m.logger.Info("Flushing batch before exit")
	m.Flush(ctx)
}

var (
	sharedOnce sync.Once
	shared     *Manager
)

// Shared returns the process-wide manager, constructing it on first use
// with the process-wide settings, the global zap logger and the default
// Prometheus registerer. Construction is attempted once; later calls
// return the same manager whether or not it succeeded.
func Shared(ctx context.Context) *Manager {
	sharedOnce.Do(func() {
		shared = New(ctx,
			WithLogger(zap.L()),
			WithRegisterer(prometheus.DefaultRegisterer),
		)
	})
	return shared
}
