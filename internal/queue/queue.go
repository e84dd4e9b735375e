// Package queue moves pipeline jobs from whoever requests them to whoever runs
// them: in process, or through a Google Cloud Pub/Sub topic.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"priceetl/internal/logging"
)

var ErrInvalidJob = errors.New("invalid job")

type Kind string

const (
	KindImport    Kind = "import"
	KindWarehouse Kind = "warehouse"
)

// ImportJob asks for one tracked ingestion of Path.
type ImportJob struct {
	ImportID         string `json:"import_id"`
	Path             string `json:"path"`
	Format           string `json:"format,omitempty"`
	DataSource       string `json:"data_source,omitempty"`
	ChunkSize        int    `json:"chunk_size,omitempty"`
	MaxRows          int64  `json:"max_rows,omitempty"`
	TriggerWarehouse bool   `json:"trigger_warehouse"`
}

// WarehouseJob asks for one warehouse load. From is only read by incremental
// loads.
type WarehouseJob struct {
	Full bool       `json:"full"`
	From *time.Time `json:"from,omitempty"`
}

// Job is the message exchanged between dispatchers and workers.
type Job struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	Import     *ImportJob    `json:"import,omitempty"`
	Warehouse  *WarehouseJob `json:"warehouse,omitempty"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

func NewImport(j ImportJob) Job {
	return Job{ID: uuid.NewString(), Kind: KindImport, Import: &j, EnqueuedAt: time.Now().UTC()}
}

func NewWarehouse(j WarehouseJob) Job {
	return Job{ID: uuid.NewString(), Kind: KindWarehouse, Warehouse: &j, EnqueuedAt: time.Now().UTC()}
}

func (j Job) Validate() error {
	switch j.Kind {
	case KindImport:
		if j.Import == nil || j.Import.Path == "" || j.Import.ImportID == "" {
			return fmt.Errorf("%w: import job needs import_id and path", ErrInvalidJob)
		}
	case KindWarehouse:
		if j.Warehouse == nil {
			return fmt.Errorf("%w: warehouse job without payload", ErrInvalidJob)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, j.Kind)
	}
	return nil
}

// Decode parses and validates a job message.
func Decode(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return j, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return j, j.Validate()
}

// Handler runs one job.
type Handler func(ctx context.Context, j Job) error

// Dispatcher hands jobs to whatever executes them.
type Dispatcher interface {
	Dispatch(ctx context.Context, j Job) error
	Close() error
}

// Inline runs jobs in this process. With async set, Dispatch returns at once
// and Close waits for the running jobs.
type Inline struct {
	handle Handler
	async  bool
	log    logrus.FieldLogger
	wg     sync.WaitGroup
}

func NewInline(h Handler, async bool, log logrus.FieldLogger) *Inline {
	return &Inline{handle: h, async: async, log: logging.OrDiscard(log)}
}

func (d *Inline) Dispatch(ctx context.Context, j Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	if !d.async {
		return d.handle(ctx, j)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.handle(context.WithoutCancel(ctx), j); err != nil {
			d.log.WithFields(logrus.Fields{"job_id": j.ID, "kind": j.Kind}).WithError(err).Error("background job failed")
		}
	}()
	return nil
}

func (d *Inline) Close() error {
	d.wg.Wait()
	return nil
}
