package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SendFunc transmits one batch of objects to the store. A non-nil error
// means the batch as a whole was not delivered; per-object rejections are
// reported through Result.Errors instead.
type SendFunc func(ctx context.Context, objects []Object) ([]Result, error)

const (
	dynamicFast       = 250 * time.Millisecond
	dynamicSlow       = 2 * time.Second
	defaultSendWait   = 100 * time.Millisecond
	maxFailurePause   = 30 * time.Second
	defaultBgTimeout  = 30 * time.Second
	dynamicGrowFactor = 4
)

// ErrBufferClosed is returned by AddObject after Close.
var ErrBufferClosed = errors.New("batch buffer closed")

// Buffer is the client-side write queue behind every Batch implementation.
//
// AddObject only appends. Sends happen in three ways: in the background
// when the queue reaches the configured size, in the background on a
// ticker when FlushInterval is set, and synchronously in Flush, which
// first waits for background sends to finish.
//
// When a send fails at transport level the attempted objects go back to
// the head of the queue, so a later Flush retries them. Per-object
// rejections are never retried: Flush returns them as results, and
// background sends hand them to BatchConfig.OnResults as soon as the
// store answers.
type Buffer struct {
	send      SendFunc
	logger    *zap.Logger
	bgTimeout time.Duration
	retryWait time.Duration

	mu         sync.Mutex
	idle       *sync.Cond
	cfg        BatchConfig
	size       int
	pending    []Object
	inflight   int
	sending    int
	failures   int
	pauseUntil time.Time
	stop       chan struct{}
	closed     bool
}

// BufferOption configures a Buffer.
type BufferOption func(*Buffer)

// WithBufferLogger sets the logger for background send failures.
func WithBufferLogger(logger *zap.Logger) BufferOption {
	return func(b *Buffer) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBackgroundTimeout bounds each background send.
func WithBackgroundTimeout(d time.Duration) BufferOption {
	return func(b *Buffer) {
		if d > 0 {
			b.bgTimeout = d
		}
	}
}

// WithRetryWait sets the base wait between send retries.
func WithRetryWait(d time.Duration) BufferOption {
	return func(b *Buffer) {
		b.retryWait = d
	}
}

// NewBuffer creates a buffer that transmits through send. Until Configure
// is called the buffer only sends on Flush.
func NewBuffer(send SendFunc, opts ...BufferOption) *Buffer {
	b := &Buffer{
		send:      send,
		logger:    zap.NewNop(),
		bgTimeout: defaultBgTimeout,
		retryWait: defaultSendWait,
	}
	b.idle = sync.NewCond(&b.mu)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Configure applies cfg and (re)starts the interval ticker.
func (b *Buffer) Configure(cfg BatchConfig) error {
	if cfg.Size < 0 {
		return fmt.Errorf("batch size must not be negative, got %d", cfg.Size)
	}
	if cfg.TimeoutRetries < 0 {
		return fmt.Errorf("timeout retries must not be negative, got %d", cfg.TimeoutRetries)
	}
	if cfg.FlushInterval < 0 {
		return fmt.Errorf("flush interval must not be negative, got %s", cfg.FlushInterval)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBufferClosed
	}
	b.cfg = cfg
	b.size = cfg.Size
	if b.stop != nil {
		close(b.stop)
		b.stop = nil
	}
	if cfg.FlushInterval > 0 {
		b.stop = make(chan struct{})
		go b.tick(cfg.FlushInterval, b.stop)
	}
	return nil
}

// AddObject appends an object. The properties map is copied.
func (b *Buffer) AddObject(collection string, properties map[string]any, id string) error {
	if collection == "" {
		return errors.New("collection is required")
	}
	props := make(map[string]any, len(properties))
	for k, v := range properties {
		props[k] = v
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBufferClosed
	}
	b.pending = append(b.pending, Object{Collection: collection, ID: id, Properties: props})
	if b.size > 0 && len(b.pending) >= b.size && time.Now().After(b.pauseUntil) {
		b.dispatchLocked()
	}
	return nil
}

// Len returns pending plus in-flight objects.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending) + b.inflight
}

// Flush waits for background sends, then transmits everything pending
// and returns the results of that send.
func (b *Buffer) Flush(ctx context.Context) ([]Result, error) {
	b.mu.Lock()
	for b.sending > 0 {
		b.idle.Wait()
	}
	batch := b.pending
	b.pending = nil
	b.inflight += len(batch)
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil, nil
	}

	sent, err := b.sendWithRetry(ctx, batch)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight -= len(batch)
	if err != nil {
		b.pending = append(batch, b.pending...)
		return nil, fmt.Errorf("send batch of %d objects: %w", len(batch), err)
	}
	b.failures = 0
	b.pauseUntil = time.Time{}
	return sent, nil
}

// Close stops the interval ticker and waits for background sends. Pending
// objects stay queued; call Flush first to deliver them.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.stop != nil {
		close(b.stop)
		b.stop = nil
	}
	for b.sending > 0 {
		b.idle.Wait()
	}
}

func (b *Buffer) tick(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			if len(b.pending) > 0 && time.Now().After(b.pauseUntil) {
				b.dispatchLocked()
			}
			b.mu.Unlock()
		case <-stop:
			return
		}
	}
}

// dispatchLocked moves the pending queue into a background send.
func (b *Buffer) dispatchLocked() {
	batch := b.pending
	b.pending = nil
	b.inflight += len(batch)
	b.sending++
	go b.sendBackground(batch)
}

func (b *Buffer) sendBackground(batch []Object) {
	ctx, cancel := context.WithTimeout(context.Background(), b.bgTimeout)
	defer cancel()

	start := time.Now()
	results, err := b.sendWithRetry(ctx, batch)
	elapsed := time.Since(start)
	if err == nil {
		b.report(results)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight -= len(batch)
	b.sending--
	defer b.idle.Broadcast()

	if err != nil {
		b.pending = append(batch, b.pending...)
		b.failures++
		pause := time.Duration(b.failures) * time.Second
		if pause > maxFailurePause {
			pause = maxFailurePause
		}
		b.pauseUntil = time.Now().Add(pause)
		b.logger.Warn("Background batch send failed, objects retained",
			zap.Int("count", len(batch)), zap.Duration("pause", pause), zap.Error(err))
		return
	}

	b.failures = 0
	b.pauseUntil = time.Time{}
	if b.cfg.Dynamic {
		b.adaptLocked(elapsed)
	}
}

// report hands background results to the configured callback. It runs
// before the send is marked finished, so a Flush that waited for it
// observes the reports.
func (b *Buffer) report(results []Result) {
	b.mu.Lock()
	onResults := b.cfg.OnResults
	b.mu.Unlock()

	if onResults != nil {
		onResults(results)
		return
	}
	for _, res := range results {
		if res.Failed() {
			b.logger.Error("Object rejected by store",
				zap.String("collection", res.Collection),
				zap.String("id", res.ID),
				zap.Strings("errors", res.Errors),
			)
		}
	}
}

// adaptLocked grows the effective size while sends are fast and shrinks it
// when they are slow, within [Size/4, Size*4].
func (b *Buffer) adaptLocked(elapsed time.Duration) {
	base := b.cfg.Size
	if base <= 0 {
		return
	}
	switch {
	case elapsed < dynamicFast && b.size < base*dynamicGrowFactor:
		b.size *= 2
		if b.size > base*dynamicGrowFactor {
			b.size = base * dynamicGrowFactor
		}
	case elapsed > dynamicSlow:
		b.size /= 2
		if floor := base / dynamicGrowFactor; b.size < floor {
			b.size = floor
		}
		if b.size < 1 {
			b.size = 1
		}
	}
}

func (b *Buffer) sendWithRetry(ctx context.Context, batch []Object) ([]Result, error) {
	b.mu.Lock()
	retries := b.cfg.TimeoutRetries
	b.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(time.Duration(attempt) * b.retryWait):
			}
		}
		results, err := b.send(ctx, batch)
		if err == nil {
			return results, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// EffectiveSize returns the current size trigger, which differs from the
// configured size when Dynamic is set.
func (b *Buffer) EffectiveSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
