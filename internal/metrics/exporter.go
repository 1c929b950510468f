// Package metrics exports run progress in the node-exporter textfile format.
package metrics

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"dockrun/internal/model"
)

const namespace = "dockrun"

type Exporter struct {
	path     string
	logger   zerolog.Logger
	registry *prometheus.Registry
	mu       sync.Mutex

	chunks          *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	attemptDuration prometheus.Histogram
	itemFailures    *prometheus.CounterVec
	itemsTotal      prometheus.Gauge
	itemsCompleted  prometheus.Gauge
	currentChunk    prometheus.Gauge
	lastChunkAt     prometheus.Gauge
}

// NewExporter writes metrics to path after every chunk and at the end of the run.
func NewExporter(path string, logger zerolog.Logger) *Exporter {
	e := &Exporter{
		path:     path,
		logger:   logger.With().Str("component", "metrics").Logger(),
		registry: prometheus.NewRegistry(),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks finished, by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Tool invocations, by result.",
		}, []string{"result"}),
		attemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Wall-clock duration of tool invocations.",
			Buckets:   prometheus.ExponentialBuckets(60, 2, 10),
		}),
		itemFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_failures_total",
			Help:      "Failure records written, by reason.",
		}, []string{"reason"}),
		itemsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "items",
			Help:      "Work items in the catalog.",
		}),
		itemsCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "items_completed",
			Help:      "Work items with an output artifact at the last check.",
		}),
		currentChunk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_chunk",
			Help:      "Number of the chunk being processed.",
		}),
		lastChunkAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_chunk_finished_timestamp_seconds",
			Help:      "Unix time the last chunk finished.",
		}),
	}
	e.registry.MustRegister(e.chunks, e.attempts, e.attemptDuration, e.itemFailures,
		e.itemsTotal, e.itemsCompleted, e.currentChunk, e.lastChunkAt)
	return e
}

func (e *Exporter) Observe(ev model.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Kind {
	case model.EventRunStarted:
		if ev.Summary != nil {
			e.itemsTotal.Set(float64(ev.Summary.ItemsTotal))
			e.itemsCompleted.Set(float64(ev.Summary.ItemsAlreadyDone))
		}
		e.flush()
	case model.EventChunkStarted:
		e.currentChunk.Set(float64(ev.Chunk))
	case model.EventAttemptFinished:
		result := "success"
		switch {
		case ev.TimedOut:
			result = "timeout"
		case ev.Err != "":
			result = "failure"
		}
		e.attempts.WithLabelValues(result).Inc()
		e.attemptDuration.Observe(ev.Duration.Seconds())
	case model.EventItemsFailed:
		for _, f := range ev.Failures {
			e.itemFailures.WithLabelValues(f.Reason).Inc()
		}
	case model.EventProgress:
		e.itemsTotal.Set(float64(ev.Total))
		e.itemsCompleted.Set(float64(ev.Completed))
	case model.EventChunkSkipped:
		e.chunks.WithLabelValues(model.OutcomeSkipped).Inc()
		e.flush()
	case model.EventChunkFinished:
		e.chunks.WithLabelValues(ev.Outcome).Inc()
		e.lastChunkAt.Set(float64(ev.At.Unix()))
		e.flush()
	case model.EventRunFinished:
		if ev.Summary != nil {
			e.itemsCompleted.Set(float64(ev.Summary.ItemsTotal - ev.Summary.ItemsRemaining))
		}
		e.flush()
	}
}

func (e *Exporter) flush() {
	if e.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		e.logger.Warn().Err(err).Str("path", e.path).Msg("create metrics directory failed")
		return
	}
	if err := prometheus.WriteToTextfile(e.path, e.registry); err != nil {
		e.logger.Warn().Err(err).Str("path", e.path).Msg("write metrics textfile failed")
	}
}

// Gatherer exposes the registry for tests and embedding.
func (e *Exporter) Gatherer() prometheus.Gatherer {
	return e.registry
}
