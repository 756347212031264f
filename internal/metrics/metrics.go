// Package metrics exposes run-level prometheus instrumentation.
//
// A nil *Recorder is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taskweaver"

// Task outcome labels.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusCached  = "cached"
)

// Memo cache labels.
const (
	CacheFileset = "fileset"
	CacheRuntime = "runtime"
)

// Recorder holds the collectors of one run.
type Recorder struct {
	registry *prometheus.Registry

	tasks           *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	memo            *prometheus.CounterVec
	runtimeCommands prometheus.Counter
	activeWorkers   prometheus.Gauge
}

// New creates a Recorder registered on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Tasks completed, by outcome.",
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of executed (non-cached) tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"target"}),
		memo: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hash_memo_total",
			Help:      "Hash memoization lookups, by cache and result.",
		}, []string{"cache", "result"}),
		runtimeCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runtime_commands_total",
			Help:      "Runtime input commands spawned while hashing.",
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Workers currently executing a task.",
		}),
	}
	r.registry.MustRegister(r.tasks, r.taskDuration, r.memo, r.runtimeCommands, r.activeWorkers)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// TaskFinished counts a task outcome.
func (r *Recorder) TaskFinished(status string) {
	if r == nil {
		return
	}
	r.tasks.WithLabelValues(status).Inc()
}

// TaskDuration observes the wall time of an executed task.
func (r *Recorder) TaskDuration(target string, d time.Duration) {
	if r == nil {
		return
	}
	r.taskDuration.WithLabelValues(target).Observe(d.Seconds())
}

// MemoLookup counts a memoization hit or miss.
func (r *Recorder) MemoLookup(cache string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.memo.WithLabelValues(cache, result).Inc()
}

// RuntimeCommand counts a spawned runtime input command.
func (r *Recorder) RuntimeCommand() {
	if r == nil {
		return
	}
	r.runtimeCommands.Inc()
}

// WorkerBusy adjusts the active worker gauge.
func (r *Recorder) WorkerBusy(busy bool) {
	if r == nil {
		return
	}
	if busy {
		r.activeWorkers.Inc()
		return
	}
	r.activeWorkers.Dec()
}

// WriteTextfile writes the registry in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
