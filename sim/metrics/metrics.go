// Package metrics exposes orchestrator activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for finished executions.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeLost      = "lost"
	OutcomeCancelled = "cancelled"
)

// Recorder holds the orchestrator's collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	started  prometheus.Counter
	finished *prometheus.CounterVec
	records  prometheus.Counter
	workers  prometheus.Gauge
	duration *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neuronsim_executions_started_total",
			Help: "Simulation executions whose worker was spawned.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "neuronsim_executions_finished_total",
			Help: "Simulation executions by terminal outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neuronsim_records_streamed_total",
			Help: "Data records delivered to callers.",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "neuronsim_active_workers",
			Help: "Worker processes spawned and not yet cleaned up.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "neuronsim_execution_duration_seconds",
			Help:    "Wall time from spawn to terminal outcome.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{r.started, r.finished, r.records, r.workers, r.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustNewRecorder is NewRecorder that panics on registration failure.
func MustNewRecorder(reg prometheus.Registerer) *Recorder {
	r, err := NewRecorder(reg)
	if err != nil {
		panic(err)
	}
	return r
}

// WorkerSpawned counts a started execution and its live worker.
func (r *Recorder) WorkerSpawned() {
	if r == nil {
		return
	}
	r.started.Inc()
	r.workers.Inc()
}

// WorkerReleased marks a worker as cleaned up.
func (r *Recorder) WorkerReleased() {
	if r == nil {
		return
	}
	r.workers.Dec()
}

// RecordStreamed counts one delivered data record.
func (r *Recorder) RecordStreamed() {
	if r == nil {
		return
	}
	r.records.Inc()
}

// RecordsStreamed counts n delivered data records.
func (r *Recorder) RecordsStreamed(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.records.Add(float64(n))
}

// Finished records an execution's outcome and how long it ran.
func (r *Recorder) Finished(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.finished.WithLabelValues(outcome).Inc()
	r.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
