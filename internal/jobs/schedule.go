package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"priceetl/internal/logging"
)

// Entry is one recurring job. A nil Weekday means every day.
type Entry struct {
	Name    string
	Weekday *time.Weekday
	Hour    int
	Minute  int
	Fire    func(ctx context.Context) error
}

// Daily returns an entry firing every day at hour:minute (UTC).
func Daily(name string, hour, minute int, fire func(context.Context) error) Entry {
	return Entry{Name: name, Hour: hour, Minute: minute, Fire: fire}
}

// Weekly returns an entry firing on wd at hour:minute (UTC).
func Weekly(name string, wd time.Weekday, hour, minute int, fire func(context.Context) error) Entry {
	return Entry{Name: name, Weekday: &wd, Hour: hour, Minute: minute, Fire: fire}
}

// Scheduler fires entries at their slot, at most once per slot. A slot stays
// due for a short grace window so a late tick still fires it.
type Scheduler struct {
	entries []Entry
	every   time.Duration
	log     logrus.FieldLogger

	mu    sync.Mutex
	fired map[string]string // entry name -> slot key last fired
	wg    sync.WaitGroup
}

func NewScheduler(every time.Duration, log logrus.FieldLogger, entries ...Entry) *Scheduler {
	if every <= 0 {
		every = 30 * time.Second
	}
	return &Scheduler{entries: entries, every: every, log: logging.OrDiscard(log), fired: make(map[string]string)}
}

func (s *Scheduler) grace() time.Duration {
	return max(2*s.every, time.Minute)
}

// Run ticks until ctx is done, then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.every)
	defer t.Stop()
	s.log.WithField("entries", len(s.entries)).Info("scheduler started")

	s.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("scheduler stopped")
			return nil
		case now := <-t.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick fires the entries due at now and returns their names. Fired jobs run
// in their own goroutines.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []string {
	now = now.UTC()
	var due []string
	for _, e := range s.entries {
		key, ok := s.slot(e, now)
		if !ok {
			continue
		}
		s.mu.Lock()
		if s.fired[e.Name] == key {
			s.mu.Unlock()
			continue
		}
		s.fired[e.Name] = key
		s.mu.Unlock()

		due = append(due, e.Name)
		s.wg.Add(1)
		go func(e Entry) {
			defer s.wg.Done()
			log := s.log.WithFields(logrus.Fields{"job": e.Name, "slot": key})
			log.Info("scheduled job fired")
			if err := e.Fire(ctx); err != nil {
				log.WithError(err).Error("scheduled job failed")
			}
		}(e)
	}
	return due
}

// Wait blocks until every fired job returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

// slot reports whether now falls in e's slot grace window and names the slot.
func (s *Scheduler) slot(e Entry, now time.Time) (string, bool) {
	at := time.Date(now.Year(), now.Month(), now.Day(), e.Hour, e.Minute, 0, 0, time.UTC)
	if now.Before(at) || now.Sub(at) >= s.grace() {
		return "", false
	}
	if e.Weekday != nil && at.Weekday() != *e.Weekday {
		return "", false
	}
	return at.Format("2006-01-02T15:04"), true
}
