package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// instantTimer fires immediately so retries do not sleep.
type instantTimer struct{ c chan time.Time }

func (t *instantTimer) Start(time.Duration) {
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

func testRunner() *Runner {
	r := NewRunner(nil)
	r.timer = &instantTimer{}
	return r
}

type countingTask struct {
	runs     atomic.Int32
	failures atomic.Int32
	lastErr  error
	run      func(ctx context.Context, n int32) error
}

func (c *countingTask) Name() string { return "counting" }

func (c *countingTask) Run(ctx context.Context) error {
	return c.run(ctx, c.runs.Add(1))
}

func (c *countingTask) OnFailure(_ context.Context, err error) {
	c.failures.Add(1)
	c.lastErr = err
}

func TestRunner(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name         string
		attempts     int
		run          func(ctx context.Context, n int32) error
		wantRuns     int32
		wantErr      error
		wantFailures int32
	}{
		{
			name:     "succeeds first time",
			attempts: 3,
			run:      func(context.Context, int32) error { return nil },
			wantRuns: 1,
		},
		{
			name:     "succeeds on retry",
			attempts: 3,
			run: func(_ context.Context, n int32) error {
				if n < 3 {
					return boom
				}
				return nil
			},
			wantRuns: 3,
		},
		{
			name:         "exhausts attempts",
			attempts:     3,
			run:          func(context.Context, int32) error { return boom },
			wantRuns:     3,
			wantErr:      boom,
			wantFailures: 1,
		},
		{
			name:         "permanent is not retried",
			attempts:     3,
			run:          func(context.Context, int32) error { return Permanent(boom) },
			wantRuns:     1,
			wantErr:      boom,
			wantFailures: 1,
		},
		{
			name:         "locked is not retried",
			attempts:     3,
			run:          func(context.Context, int32) error { return ErrLocked },
			wantRuns:     1,
			wantErr:      ErrLocked,
			wantFailures: 1,
		},
		{
			name:         "zero attempts still runs once",
			attempts:     0,
			run:          func(context.Context, int32) error { return boom },
			wantRuns:     1,
			wantErr:      boom,
			wantFailures: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			task := &countingTask{run: tc.run}
			err := testRunner().Run(context.Background(), task, Policy{Attempts: tc.attempts})

			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v, want %v", err, tc.wantErr)
			}
			if got := task.runs.Load(); got != tc.wantRuns {
				t.Fatalf("runs=%d want %d", got, tc.wantRuns)
			}
			if got := task.failures.Load(); got != tc.wantFailures {
				t.Fatalf("OnFailure calls=%d want %d", got, tc.wantFailures)
			}
		})
	}
}

func TestRunner_PerAttemptTimeout(t *testing.T) {
	t.Parallel()

	task := &countingTask{run: func(ctx context.Context, _ int32) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	err := testRunner().Run(context.Background(), task, Policy{Attempts: 2, Timeout: 10 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want DeadlineExceeded", err)
	}
	if got := task.runs.Load(); got != 2 {
		t.Fatalf("runs=%d want 2", got)
	}
}

func TestIsPermanent(t *testing.T) {
	t.Parallel()

	base := errors.New("bad file")
	if IsPermanent(base) {
		t.Fatalf("plain error reported permanent")
	}
	wrapped := fmt.Errorf("import: %w", Permanent(base))
	if !IsPermanent(wrapped) || !errors.Is(wrapped, base) {
		t.Fatalf("wrapped permanent error lost its marks")
	}
	if !IsPermanent(fmt.Errorf("x: %w", ErrLocked)) {
		t.Fatalf("ErrLocked must be permanent")
	}
	if Permanent(nil) != nil {
		t.Fatalf("Permanent(nil) must be nil")
	}
}

func TestPolicyBackoffDefaults(t *testing.T) {
	t.Parallel()

	b := Policy{InitialBackoff: 5 * time.Second, MaxBackoff: time.Second}.backOff()
	if b.MaxInterval != 5*time.Second {
		t.Fatalf("MaxInterval=%s, must not be below the initial interval", b.MaxInterval)
	}
	if b.MaxElapsedTime != 0 {
		t.Fatalf("MaxElapsedTime=%s, attempts bound retries", b.MaxElapsedTime)
	}
	if d := b.NextBackOff(); d < 2500*time.Millisecond || d > 7500*time.Millisecond {
		t.Fatalf("first backoff %s outside jitter window", d)
	}
}
