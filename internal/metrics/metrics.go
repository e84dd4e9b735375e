// Package metrics is the backend-neutral metrics facade used by the pipeline.
//
// Core packages only call the Record* helpers. A concrete backend (Datadog, or
// the default nop) is installed once by the command via SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions, rendered as tags by backends.
type Labels map[string]string

// Backend receives counter and histogram observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer observations.
type Flusher interface {
	Flush() error
}

// Metric names understood by the backends.
const (
	StepTotal           = "priceetl_step_total"
	StepDurationSeconds = "priceetl_step_duration_seconds"
	RecordsTotal        = "priceetl_records_total"
	BatchesTotal        = "priceetl_batches_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the nop
// backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep counts one execution of a pipeline step and observes its duration.
// status is "ok" or "error".
func RecordStep(step, status string, d time.Duration) {
	l := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRecords counts n records of a kind (processed, skipped, facts_created...).
func RecordRecords(kind string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordBatch counts one flushed write batch.
func RecordBatch() {
	current().IncCounter(BatchesTotal, 1, nil)
}

// StatusOf maps an error to the step status label.
func StatusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
