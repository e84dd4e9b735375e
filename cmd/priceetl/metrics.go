package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"priceetl/internal/metrics"
	"priceetl/internal/metrics/datadog"
)

type metricsBackend interface {
	Close() error
}

// Seams replaced by tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = func(b any) {
		mb, _ := b.(metrics.Backend)
		metrics.SetBackend(mb)
	}
	logPrintf = log.Printf
)

// initMetrics installs the configured backend. cleanup is never nil and
// flushes what the backend still buffers.
func initMetrics(ctx context.Context, job, backend string, tags []string, flushEvery time.Duration) (cleanup func(), err error) {
	cleanup = func() {}
	switch backend {
	case "", "none", "noop":
		return cleanup, nil
	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{JobName: job, Tags: tags, FlushEvery: flushEvery})
		if err != nil {
			return cleanup, fmt.Errorf("init metrics: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
			setMetricsBackend(nil)
		}, nil
	default:
		return cleanup, fmt.Errorf("init metrics: unknown metrics backend %q (want none|datadog)", backend)
	}
}
