// Package pipeline turns queued jobs into tracked runs: an import through the
// ingestion engine, a warehouse load under the warehouse lock.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"priceetl/internal/config"
	"priceetl/internal/ingest"
	"priceetl/internal/jobs"
	"priceetl/internal/logging"
	"priceetl/internal/model"
	"priceetl/internal/queue"
	"priceetl/internal/source"
	"priceetl/internal/storage"
	"priceetl/internal/tracker"
	"priceetl/internal/warehouse"
)

// Opener opens an import input.
type Opener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Deps are the collaborators of a Pipeline. Dispatcher receives the warehouse
// loads that successful imports trigger; it may be set after New.
type Deps struct {
	Repo       storage.Repository
	Config     config.Config
	Log        logrus.FieldLogger
	Runner     *jobs.Runner
	Locker     jobs.Locker
	Opener     Opener
	Dispatcher queue.Dispatcher
	Now        func() time.Time
}

type Pipeline struct {
	Deps
}

func New(d Deps) *Pipeline {
	d.Log = logging.OrDiscard(d.Log)
	if d.Runner == nil {
		d.Runner = jobs.NewRunner(d.Log)
	}
	if d.Locker == nil {
		d.Locker = jobs.NewLocalLocker()
	}
	if d.Opener == nil {
		d.Opener = source.NewOpener(d.Config.GCP.ClientOptions()...)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Pipeline{Deps: d}
}

// Handle runs j with the retry policy of its kind. It is the queue.Handler of
// both dispatchers and the Pub/Sub worker.
func (p *Pipeline) Handle(ctx context.Context, j queue.Job) error {
	if err := j.Validate(); err != nil {
		return jobs.Permanent(err)
	}
	switch j.Kind {
	case queue.KindImport:
		_, err := p.RunImport(ctx, *j.Import)
		return err
	default:
		_, err := p.RunWarehouse(ctx, *j.Warehouse)
		return err
	}
}

// RunImport runs one tracked import under the import policy.
func (p *Pipeline) RunImport(ctx context.Context, j queue.ImportJob) (ingest.Stats, error) {
	t := p.ImportTask(j)
	err := p.Runner.Run(ctx, t, jobs.PolicyFrom(p.Config.Jobs.Import))
	return t.Stats, err
}

// RunWarehouse runs one warehouse load under the warehouse policy and lock.
func (p *Pipeline) RunWarehouse(ctx context.Context, j queue.WarehouseJob) (warehouse.Result, error) {
	t := p.WarehouseTask(j)
	locked := jobs.WithLock(t, p.Locker, jobs.WarehouseLockKey, p.Config.Lock.TTL.Duration)
	err := p.Runner.Run(ctx, locked, jobs.PolicyFrom(p.Config.Jobs.Warehouse))
	return t.Result, err
}

// ImportTask ingests one file and records the run. Stats hold the outcome of
// the last attempt.
type ImportTask struct {
	p     *Pipeline
	job   queue.ImportJob
	Stats ingest.Stats
}

func (p *Pipeline) ImportTask(j queue.ImportJob) *ImportTask {
	ic := p.Config.Import
	if j.ImportID == "" {
		j.ImportID = tracker.NewImportID(p.Now())
	}
	if j.ChunkSize <= 0 {
		j.ChunkSize = ic.ChunkSize
	}
	if j.DataSource == "" {
		j.DataSource = ic.DataSource
	}
	return &ImportTask{p: p, job: j}
}

func (t *ImportTask) Name() string { return "import" }

// ImportID is the id the run is tracked under.
func (t *ImportTask) ImportID() string { return t.job.ImportID }

func (t *ImportTask) Run(ctx context.Context) error {
	p, j := t.p, t.job
	log := p.Log.WithField("import_id", j.ImportID)
	tr := tracker.New(p.Repo, log, tracker.WithClock(p.Now))

	if _, err := tr.Begin(ctx, j.ImportID, j.Path, tracker.Options{
		ChunkSize:        j.ChunkSize,
		MaxRows:          j.MaxRows,
		TriggerWarehouse: j.TriggerWarehouse,
		DataSource:       j.DataSource,
		Format:           j.Format,
	}); err != nil {
		return err
	}

	st, err := t.ingest(ctx, log)
	t.Stats = st
	if err != nil {
		// The tracker keeps the failure even when the run is retried.
		if _, ferr := tr.Fail(context.WithoutCancel(ctx), j.ImportID, err); ferr != nil {
			log.WithError(ferr).Error("could not record import failure")
		}
		return err
	}
	if _, err := tr.Complete(ctx, j.ImportID, st); err != nil {
		return err
	}

	if j.TriggerWarehouse {
		t.triggerWarehouse(ctx, log)
	}
	return nil
}

func (t *ImportTask) ingest(ctx context.Context, log logrus.FieldLogger) (ingest.Stats, error) {
	p, j := t.p, t.job
	format, err := ingest.DetectFormat(j.Path, j.Format)
	if err != nil {
		return ingest.Stats{}, jobs.Permanent(err)
	}
	src, err := p.Opener.Open(ctx, j.Path)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			err = jobs.Permanent(err)
		}
		return ingest.Stats{}, err
	}
	defer src.Close()

	st, err := ingest.New(p.Repo, log, ingest.WithClock(p.Now)).Run(ctx, src, ingest.Options{
		ChunkSize:     j.ChunkSize,
		MaxRows:       j.MaxRows,
		ProgressEvery: int64(p.Config.Import.ProgressEvery),
		Format:        format,
	})
	if errors.Is(err, ingest.ErrMissingColumns) {
		err = jobs.Permanent(err)
	}
	return st, err
}

// triggerWarehouse asks for an incremental load from yesterday. A failed
// trigger does not fail the import.
func (t *ImportTask) triggerWarehouse(ctx context.Context, log logrus.FieldLogger) {
	d := t.p.Dispatcher
	if d == nil {
		log.Warn("no dispatcher, skipping warehouse trigger")
		return
	}
	from := model.Day(t.p.Now()).AddDate(0, 0, -1)
	if err := d.Dispatch(ctx, queue.NewWarehouse(queue.WarehouseJob{From: &from})); err != nil {
		log.WithError(err).Error("warehouse trigger failed")
		return
	}
	log.WithField("from", from.Format(time.DateOnly)).Info("warehouse load triggered")
}

func (t *ImportTask) OnFailure(_ context.Context, err error) {
	logging.LogError(t.p.Log, "pipeline", "import", map[string]any{"import_id": t.job.ImportID, "path": t.job.Path}, err)
}

// WarehouseTask runs one warehouse load. Result holds the last attempt.
type WarehouseTask struct {
	p      *Pipeline
	job    queue.WarehouseJob
	Result warehouse.Result
}

func (p *Pipeline) WarehouseTask(j queue.WarehouseJob) *WarehouseTask {
	return &WarehouseTask{p: p, job: j}
}

func (t *WarehouseTask) Name() string { return "warehouse" }

func (t *WarehouseTask) Run(ctx context.Context) error {
	wc := t.p.Config.Warehouse
	l := warehouse.New(t.p.Repo, t.p.Log, warehouse.WithClock(t.p.Now))
	res, err := l.Run(ctx, warehouse.Options{
		Full:      t.job.Full,
		From:      t.job.From,
		BatchSize: wc.BatchSize,
		Lookback:  wc.IncrementalLookback.Duration,
	})
	t.Result = res
	return err
}

func (t *WarehouseTask) OnFailure(_ context.Context, err error) {
	logging.LogError(t.p.Log, "pipeline", "warehouse", map[string]any{"full": t.job.Full}, err)
}

// ScheduleEntries are the recurring warehouse loads of sc, dispatched
// through d.
func ScheduleEntries(sc config.Schedule, d queue.Dispatcher) ([]jobs.Entry, error) {
	var out []jobs.Entry
	if sc.DailyAt != "" {
		h, m, err := config.ParseClock(sc.DailyAt)
		if err != nil {
			return nil, fmt.Errorf("daily_at: %w", err)
		}
		out = append(out, jobs.Daily("warehouse-incremental", h, m, func(ctx context.Context) error {
			return d.Dispatch(ctx, queue.NewWarehouse(queue.WarehouseJob{}))
		}))
	}
	if sc.WeeklyAt != "" {
		h, m, err := config.ParseClock(sc.WeeklyAt)
		if err != nil {
			return nil, fmt.Errorf("weekly_at: %w", err)
		}
		out = append(out, jobs.Weekly("warehouse-full", time.Sunday, h, m, func(ctx context.Context) error {
			return d.Dispatch(ctx, queue.NewWarehouse(queue.WarehouseJob{Full: true}))
		}))
	}
	return out, nil
}
