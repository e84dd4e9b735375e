// Package jobs runs pipeline tasks under a retry policy, keeps warehouse loads
// from overlapping and fires scheduled loads.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"priceetl/internal/config"
	"priceetl/internal/logging"
	"priceetl/internal/metrics"
)

// ErrLocked is returned when another run holds the task's lock. It is never
// retried.
var ErrLocked = errors.New("jobs: lock held by another run")

// Task is one unit of background work.
type Task interface {
	Name() string
	Run(ctx context.Context) error
	// OnFailure is called once after the last attempt failed.
	OnFailure(ctx context.Context, err error)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil || IsPermanent(err) {
		return err
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent
// or is ErrLocked.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p) || errors.Is(err, ErrLocked)
}

// Policy bounds the attempts of one task.
type Policy struct {
	Attempts       int
	Timeout        time.Duration // per attempt; 0 means none
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64 // 2 when 0
	Jitter         float64 // randomization factor, 0.5 when 0
}

// PolicyFrom converts a configured retry block.
func PolicyFrom(r config.Retry) Policy {
	return Policy{
		Attempts:       r.Attempts,
		Timeout:        r.Timeout.Duration,
		InitialBackoff: r.InitialBackoff.Duration,
		MaxBackoff:     r.MaxBackoff.Duration,
	}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialBackoff,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxBackoff,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	if b.RandomizationFactor <= 0 {
		b.RandomizationFactor = backoff.DefaultRandomizationFactor
	}
	if b.Multiplier <= 0 {
		b.Multiplier = backoff.DefaultMultiplier
	}
	b.Reset()
	return b
}

// Runner executes tasks under a Policy.
type Runner struct {
	log   logrus.FieldLogger
	timer backoff.Timer // nil uses real timers
}

func NewRunner(log logrus.FieldLogger) *Runner {
	return &Runner{log: logging.OrDiscard(log)}
}

// Run runs t until it succeeds, fails permanently, or the attempts are used
// up. Each attempt gets its own timeout. The error of the last attempt is
// returned after t.OnFailure has seen it.
func (r *Runner) Run(ctx context.Context, t Task, p Policy) error {
	attempts := max(p.Attempts, 1)
	log := r.log.WithField("task", t.Name())
	start := time.Now()

	attempt := 0
	op := func() error {
		attempt++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		defer cancel()

		err := t.Run(actx)
		if err != nil && IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.WithFields(logrus.Fields{"attempt": attempt, "of": attempts, "retry_in": wait.Round(time.Millisecond)}).
			WithError(err).Warn("task attempt failed")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(attempts-1)), ctx)
	err := backoff.RetryNotifyWithTimer(op, b, notify, r.timer)

	metrics.RecordStep("task."+t.Name(), metrics.StatusOf(err), time.Since(start))
	if err != nil {
		log.WithField("attempts", attempt).WithError(err).Error("task failed")
		t.OnFailure(ctx, err)
		return fmt.Errorf("%s: %w", t.Name(), err)
	}
	log.WithField("attempts", attempt).Debug("task done")
	return nil
}

// FuncTask adapts plain functions to Task.
type FuncTask struct {
	TaskName string
	RunFunc  func(ctx context.Context) error
	FailFunc func(ctx context.Context, err error)
}

func (f FuncTask) Name() string { return f.TaskName }

func (f FuncTask) Run(ctx context.Context) error { return f.RunFunc(ctx) }

func (f FuncTask) OnFailure(ctx context.Context, err error) {
	if f.FailFunc != nil {
		f.FailFunc(ctx, err)
	}
}
