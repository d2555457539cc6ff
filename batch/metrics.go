package batch

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons reported by vectorwave_batch_dropped_objects_total.
const (
	dropNotReady = "not_ready"
	dropAdd      = "add_failed"
	dropRejected = "rejected"
)

// Flush outcomes reported by vectorwave_batch_flushes_total.
const (
	flushEmpty   = "empty"
	flushSuccess = "success"
	flushError   = "error"
)

type metrics struct {
	enqueued      *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	flushes       *prometheus.CounterVec
	flushed       prometheus.Counter
	flushDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		enqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vectorwave_batch_enqueued_objects_total",
				Help: "Objects added to the batch queue",
			},
			[]string{"collection"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vectorwave_batch_dropped_objects_total",
				Help: "Objects that were not written, by reason",
			},
			[]string{"reason"},
		),
		flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vectorwave_batch_flushes_total",
				Help: "Flush calls by outcome",
			},
			[]string{"outcome"},
		),
		flushed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vectorwave_batch_flushed_objects_total",
				Help: "Objects accepted by the store",
			},
		),
		flushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vectorwave_batch_flush_duration_seconds",
				Help:    "Duration of flushes that transmitted objects",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
	}

	m.enqueued = register(reg, m.enqueued)
	m.dropped = register(reg, m.dropped)
	m.flushes = register(reg, m.flushes)
	m.flushed = register(reg, m.flushed)
	m.flushDuration = register(reg, m.flushDuration)
	return m
}

// register registers c, reusing the collector already registered under the
// same name so several managers can share one registerer.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) observeFlush(outcome string, accepted int, elapsed time.Duration) {
	m.flushes.WithLabelValues(outcome).Inc()
	if outcome == flushEmpty {
		return
	}
	m.flushed.Add(float64(accepted))
	m.flushDuration.Observe(elapsed.Seconds())
}
