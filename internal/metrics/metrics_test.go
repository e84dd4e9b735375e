package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	hist     map[string][]float64
	flushed  int
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{counters: map[string]float64{}, hist: map[string][]float64{}}
}

func (b *recordingBackend) IncCounter(name string, delta float64, labels Labels) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters[name+"|"+labels["step"]+labels["kind"]+labels["status"]] += delta
}

func (b *recordingBackend) ObserveHistogram(name string, value float64, labels Labels) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := name + "|" + labels["step"] + labels["status"]
	b.hist[k] = append(b.hist[k], value)
}

func (b *recordingBackend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushed++
	return nil
}

// Not parallel: mutates the process-wide backend.
func TestRecordHelpers_RouteToInstalledBackend(t *testing.T) {
	b := newRecordingBackend()
	SetBackend(b)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStep("warehouse_facts", "ok", 1500*time.Millisecond)
	RecordRecords("processed", 10)
	RecordRecords("skipped", 0) // ignored
	RecordBatch()

	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := b.counters[StepTotal+"|warehouse_factsok"]; got != 1 {
		t.Fatalf("step counter=%v, want 1", got)
	}
	if got := b.hist[StepDurationSeconds+"|warehouse_factsok"]; len(got) != 1 || got[0] != 1.5 {
		t.Fatalf("duration samples=%v, want [1.5]", got)
	}
	if got := b.counters[RecordsTotal+"|processed"]; got != 10 {
		t.Fatalf("records counter=%v, want 10", got)
	}
	if _, ok := b.counters[RecordsTotal+"|skipped"]; ok {
		t.Fatalf("zero deltas must not be recorded")
	}
	if got := b.counters[BatchesTotal+"|"]; got != 1 {
		t.Fatalf("batch counter=%v, want 1", got)
	}
	if b.flushed != 1 {
		t.Fatalf("flushed=%d, want 1", b.flushed)
	}
}

func TestStatusOf(t *testing.T) {
	t.Parallel()
	if StatusOf(nil) != "ok" || StatusOf(errors.New("x")) != "error" {
		t.Fatalf("unexpected status mapping")
	}
}
