// Package tracker records import runs: pending, processing, then completed or
// failed. One record is shared by every attempt of the same import_id.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"priceetl/internal/ingest"
	"priceetl/internal/logging"
	"priceetl/internal/model"
	"priceetl/internal/storage"
)

const idPrefix = "kaggle"

// NewImportID returns "kaggle_YYYYmmddHHMMSS_<8 hex>".
func NewImportID(now time.Time) string {
	return fmt.Sprintf("%s_%s_%s", idPrefix, now.UTC().Format("20060102150405"), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Options is what an import was asked to do. It is stored as the options blob.
type Options struct {
	ChunkSize        int    `json:"chunk_size"`
	MaxRows          int64  `json:"max_rows,omitempty"`
	TriggerWarehouse bool   `json:"trigger_warehouse"`
	DataSource       string `json:"data_source"`
	Format           string `json:"format,omitempty"`
}

type Tracker struct {
	store storage.ImportStore
	log   logrus.FieldLogger
	now   func() time.Time
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func New(store storage.ImportStore, log logrus.FieldLogger, opts ...Option) *Tracker {
	t := &Tracker{store: store, log: logging.OrDiscard(log), now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Begin moves importID to processing, creating it as pending first when it
// does not exist. A failed import re-enters processing with its error and
// completion time cleared.
func (t *Tracker) Begin(ctx context.Context, importID, filePath string, opt Options) (model.DataImport, error) {
	if importID == "" {
		return model.DataImport{}, errors.New("tracker: empty import id")
	}
	rawOpts, err := json.Marshal(opt)
	if err != nil {
		return model.DataImport{}, err
	}

	d, err := t.store.GetImport(ctx, importID)
	if errors.Is(err, storage.ErrNotFound) {
		err = t.store.CreateImport(ctx, model.DataImport{
			ImportID:   importID,
			FilePath:   filePath,
			DataSource: opt.DataSource,
			Status:     model.StatusPending,
			Options:    rawOpts,
		})
		if err == nil {
			d, err = t.store.GetImport(ctx, importID)
		}
	}
	if err != nil {
		return model.DataImport{}, fmt.Errorf("begin import %s: %w", importID, err)
	}

	now := t.now().UTC()
	d.Status = model.StatusProcessing
	d.StartedAt = &now
	d.CompletedAt = nil
	d.ErrorMessage = ""
	d.Options = rawOpts
	if filePath != "" {
		d.FilePath = filePath
	}
	if opt.DataSource != "" {
		d.DataSource = opt.DataSource
	}
	if err := t.store.UpdateImport(ctx, d); err != nil {
		return model.DataImport{}, fmt.Errorf("begin import %s: %w", importID, err)
	}
	t.log.WithFields(logrus.Fields{"import_id": importID, "file": d.FilePath}).Info("import started")
	return d, nil
}

// Complete stores the run's stats and marks it completed.
func (t *Tracker) Complete(ctx context.Context, importID string, st ingest.Stats) (model.DataImport, error) {
	d, err := t.store.GetImport(ctx, importID)
	if err != nil {
		return d, fmt.Errorf("complete import %s: %w", importID, err)
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return d, err
	}
	now := t.now().UTC()
	d.Status = model.StatusCompleted
	d.Stats = raw
	d.TotalRows = st.TotalRows
	d.ProcessedRows = st.Processed
	d.ProductsCreated = st.ProductsCreated
	d.PriceHistoriesCreated = st.PriceHistoriesCreated
	d.ErrorsCount = st.Errors
	d.CompletedAt = &now
	if err := t.store.UpdateImport(ctx, d); err != nil {
		return d, fmt.Errorf("complete import %s: %w", importID, err)
	}
	t.log.WithFields(logrus.Fields{"import_id": importID, "processed": st.Processed, "errors": st.Errors}).Info("import completed")
	return d, nil
}

// Fail marks the import failed. Counts already persisted are left alone.
func (t *Tracker) Fail(ctx context.Context, importID string, cause error) (model.DataImport, error) {
	d, err := t.store.GetImport(ctx, importID)
	if err != nil {
		return d, fmt.Errorf("fail import %s: %w", importID, err)
	}
	now := t.now().UTC()
	d.Status = model.StatusFailed
	if cause != nil {
		d.ErrorMessage = cause.Error()
	}
	d.CompletedAt = &now
	if err := t.store.UpdateImport(ctx, d); err != nil {
		return d, fmt.Errorf("fail import %s: %w", importID, err)
	}
	t.log.WithField("import_id", importID).WithError(cause).Warn("import failed")
	return d, nil
}

func (t *Tracker) Get(ctx context.Context, importID string) (model.DataImport, error) {
	return t.store.GetImport(ctx, importID)
}

// List returns the most recent imports, newest first.
func (t *Tracker) List(ctx context.Context, limit int) ([]model.DataImport, error) {
	return t.store.ListImports(ctx, limit)
}
