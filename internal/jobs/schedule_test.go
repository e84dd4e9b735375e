package jobs

import (
	"context"
	"slices"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_Tick(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var daily, weekly atomic.Int32
	s := NewScheduler(30*time.Second, nil,
		Daily("incremental", 2, 0, func(context.Context) error {
			daily.Add(1)
			return nil
		}),
		Weekly("full", time.Sunday, 1, 0, func(context.Context) error {
			weekly.Add(1)
			return nil
		}),
	)

	// 2024-03-10 is a Sunday.
	sunday := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want []string
	}{
		{at: sunday.Add(59 * time.Minute), want: nil},
		{at: sunday.Add(time.Hour), want: []string{"full"}},
		{at: sunday.Add(time.Hour + 30*time.Second), want: nil},
		{at: sunday.Add(2*time.Hour + 20*time.Second), want: []string{"incremental"}},
		{at: sunday.Add(2*time.Hour + 50*time.Second), want: nil},
		// Past the grace window.
		{at: sunday.Add(2*time.Hour + 5*time.Minute), want: nil},
		// Monday: daily only.
		{at: sunday.Add(24*time.Hour + time.Hour), want: nil},
		{at: sunday.Add(24*time.Hour + 2*time.Hour), want: []string{"incremental"}},
	}
	for _, tc := range tests {
		got := s.Tick(ctx, tc.at)
		if !slices.Equal(got, tc.want) {
			t.Fatalf("Tick(%s)=%v want %v", tc.at.Format(time.RFC3339), got, tc.want)
		}
	}
	s.Wait()
	if daily.Load() != 2 || weekly.Load() != 1 {
		t.Fatalf("daily=%d weekly=%d", daily.Load(), weekly.Load())
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewScheduler(time.Millisecond, nil).Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
}
