// Package warehouse loads the star schema from the operational tables.
//
// A load runs three ordered steps in one transaction: the date dimension, the
// product dimension snapshot, and the price change facts. Any failure rolls
// the whole load back.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"priceetl/internal/logging"
	"priceetl/internal/metrics"
	"priceetl/internal/model"
	"priceetl/internal/storage"
)

const (
	DefaultBatchSize = 500
	DefaultLookback  = 7 * 24 * time.Hour

	// dimDateHorizon extends the date dimension past the newest price.
	dimDateHorizon = 30
)

type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Options selects the kind of load. Full ignores From and Lookback.
type Options struct {
	Full      bool
	From      *time.Time
	BatchSize int
	Lookback  time.Duration
}

type Result struct {
	Mode             Mode       `json:"mode"`
	Cutoff           *time.Time `json:"cutoff,omitempty"`
	DatesCreated     int64      `json:"dates_created"`
	ProductsUpserted int64      `json:"products_upserted"`
	FactsDeleted     int64      `json:"facts_deleted"`
	FactsCreated     int64      `json:"facts_created"`
	DurationSeconds  float64    `json:"duration_seconds"`
}

type Loader struct {
	store storage.WarehouseStore
	log   logrus.FieldLogger
	now   func() time.Time
}

type Option func(*Loader)

// WithClock overrides the clock used for the incremental cutoff.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

func New(store storage.WarehouseStore, log logrus.FieldLogger, opts ...Option) *Loader {
	l := &Loader{store: store, log: logging.OrDiscard(log), now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Cutoff returns the first effective instant an incremental load recomputes,
// or nil for a full refresh.
func (o Options) Cutoff(now time.Time) *time.Time {
	switch {
	case o.Full:
		return nil
	case o.From != nil:
		c := model.Day(*o.From)
		return &c
	default:
		lb := o.Lookback
		if lb <= 0 {
			lb = DefaultLookback
		}
		c := now.UTC().Add(-lb)
		return &c
	}
}

// Run performs one load.
func (l *Loader) Run(ctx context.Context, opt Options) (res Result, err error) {
	start := l.now()
	res.Mode = ModeIncremental
	if opt.Full {
		res.Mode = ModeFull
	}
	res.Cutoff = opt.Cutoff(start)
	if opt.BatchSize <= 0 {
		opt.BatchSize = DefaultBatchSize
	}
	log := l.log.WithField("mode", res.Mode)
	if res.Cutoff != nil {
		log = log.WithField("cutoff", res.Cutoff.Format(time.RFC3339))
	}

	defer func() {
		d := l.now().Sub(start)
		res.DurationSeconds = d.Seconds()
		metrics.RecordStep("warehouse", metrics.StatusOf(err), d)
		if err != nil {
			log.WithError(err).Error("warehouse load failed")
			return
		}
		metrics.RecordRecords("dates_created", res.DatesCreated)
		metrics.RecordRecords("products_upserted", res.ProductsUpserted)
		metrics.RecordRecords("facts_deleted", res.FactsDeleted)
		metrics.RecordRecords("facts_created", res.FactsCreated)
		log.WithFields(logrus.Fields{
			"dates_created":     res.DatesCreated,
			"products_upserted": res.ProductsUpserted,
			"facts_deleted":     res.FactsDeleted,
			"facts_created":     res.FactsCreated,
			"duration":          d.Truncate(time.Millisecond),
		}).Info("warehouse load finished")
	}()

	tx, err := l.store.BeginWarehouse(ctx)
	if err != nil {
		return res, fmt.Errorf("begin warehouse: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	step := func(name string, fn func() error) error {
		t0 := l.now()
		err := fn()
		d := l.now().Sub(t0)
		metrics.RecordStep("warehouse."+name, metrics.StatusOf(err), d)
		if err != nil {
			return fmt.Errorf("warehouse %s: %w", name, err)
		}
		log.WithFields(logrus.Fields{"stage": name, "duration": d.Truncate(time.Millisecond)}).Debug("step done")
		return nil
	}

	if err := step("dim_dates", func() (err error) {
		res.DatesCreated, err = l.loadDimDates(ctx, tx, opt.BatchSize)
		return err
	}); err != nil {
		return res, err
	}
	if err := step("dim_products", func() (err error) {
		res.ProductsUpserted, err = l.loadDimProducts(ctx, tx, opt.BatchSize)
		return err
	}); err != nil {
		return res, err
	}
	if err := step("facts", func() (err error) {
		res.FactsDeleted, res.FactsCreated, err = l.loadFacts(ctx, tx, res.Cutoff, opt.BatchSize)
		return err
	}); err != nil {
		return res, err
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit warehouse: %w", err)
	}
	committed = true
	return res, nil
}

func (l *Loader) loadDimDates(ctx context.Context, tx storage.WarehouseTx, batch int) (int64, error) {
	first, last, ok, err := tx.HistoryDateRange(ctx)
	if err != nil || !ok {
		return 0, err
	}
	days := model.DateRange(first, model.Day(last).AddDate(0, 0, dimDateHorizon))
	rows := make([]model.DimDate, len(days))
	for i, d := range days {
		rows[i] = model.NewDimDate(d)
	}
	return inBatches(rows, batch, func(b []model.DimDate) (int64, error) { return tx.InsertDimDates(ctx, b) })
}

func (l *Loader) loadDimProducts(ctx context.Context, tx storage.WarehouseTx, batch int) (int64, error) {
	snaps, err := tx.ProductSnapshots(ctx)
	if err != nil {
		return 0, err
	}
	return inBatches(snaps, batch, func(b []model.DimProduct) (int64, error) { return tx.UpsertDimProducts(ctx, b) })
}

func (l *Loader) loadFacts(ctx context.Context, tx storage.WarehouseTx, cutoff *time.Time, batch int) (deleted, created int64, err error) {
	if deleted, err = tx.DeleteFacts(ctx, cutoff); err != nil {
		return 0, 0, err
	}
	history, err := tx.PriceHistoryForFacts(ctx, cutoff)
	if err != nil || len(history) == 0 {
		return deleted, 0, err
	}

	var first, last time.Time
	for _, h := range history {
		if cutoff != nil && h.EffectiveDate.Before(*cutoff) {
			continue
		}
		if first.IsZero() || h.EffectiveDate.Before(first) {
			first = h.EffectiveDate
		}
		if h.EffectiveDate.After(last) {
			last = h.EffectiveDate
		}
	}
	if first.IsZero() {
		return deleted, 0, nil
	}
	ids, err := tx.DimDateIDs(ctx, model.Day(first), model.Day(last))
	if err != nil {
		return deleted, 0, err
	}

	facts, err := ComputeFacts(history, cutoff, ids)
	if err != nil {
		return deleted, 0, err
	}
	created, err = inBatches(facts, batch, func(b []model.FactPriceChange) (int64, error) { return tx.InsertFacts(ctx, b) })
	return deleted, created, err
}

// inBatches calls write for consecutive slices of at most size rows and sums
// what it reports.
func inBatches[T any](rows []T, size int, write func([]T) (int64, error)) (int64, error) {
	var total int64
	for len(rows) > 0 {
		n := min(size, len(rows))
		c, err := write(rows[:n])
		if err != nil {
			return total, err
		}
		metrics.RecordBatch()
		total += c
		rows = rows[n:]
	}
	return total, nil
}
