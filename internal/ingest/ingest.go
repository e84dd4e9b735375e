// Package ingest streams a price file into the operational store.
//
// A parser goroutine feeds pooled rows through a channel bounded by the chunk
// size; the engine consumes them sequentially, one chunk at a time:
// transform, resolve entities, append price history, refresh current price.
// Rejected rows are counted, failing rows are logged and counted, and only
// file-level faults end the run with an error.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"priceetl/internal/logging"
	"priceetl/internal/metrics"
	csvparser "priceetl/internal/parser/csv"
	jsonparser "priceetl/internal/parser/json"
	"priceetl/internal/resolver"
	"priceetl/internal/storage"
	"priceetl/internal/transformer"
)

// ErrMissingColumns is returned when the header lacks a required field.
var ErrMissingColumns = transformer.ErrMissingColumns

const (
	DefaultChunkSize     = 1000
	DefaultProgressEvery = 1000
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// DetectFormat returns explicit when set, otherwise guesses from the path
// extension. Unknown extensions are read as CSV.
func DetectFormat(path, explicit string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(explicit))); f {
	case FormatCSV, FormatJSON:
		return f, nil
	case "":
	default:
		return "", fmt.Errorf("unknown format %q", explicit)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON, nil
	default:
		return FormatCSV, nil
	}
}

type Options struct {
	ChunkSize     int
	MaxRows       int64 // 0 reads everything
	ProgressEvery int64
	Format        Format
	CSV           csvparser.Options
}

// Stats is the outcome of one run. It is stored verbatim as the import's
// stats blob.
type Stats struct {
	TotalRows             int64            `json:"total_rows"`
	Processed             int64            `json:"processed"`
	Skipped               int64            `json:"skipped"`
	ProductsCreated       int64            `json:"products_created"`
	PriceHistoriesCreated int64            `json:"price_histories_created"`
	Errors                int64            `json:"errors"`
	Rejections            map[string]int64 `json:"rejections,omitempty"`
	DurationSeconds       float64          `json:"duration_seconds"`
}

// Store is what ingestion writes to.
type Store interface {
	storage.CatalogStore
	storage.HistoryStore
}

type Engine struct {
	store Store
	log   logrus.FieldLogger
	now   func() time.Time
}

type Option func(*Engine)

// WithClock overrides the clock used to pick the current price.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store Store, log logrus.FieldLogger, opts ...Option) *Engine {
	e := &Engine{store: store, log: logging.OrDiscard(log), now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run ingests src. The returned Stats are valid even when err is not nil and
// reflect the rows handled before the fault.
func (e *Engine) Run(ctx context.Context, src io.Reader, opt Options) (Stats, error) {
	start := e.now()
	st := Stats{Rejections: map[string]int64{}}
	err := e.run(ctx, src, opt, &st)
	d := e.now().Sub(start)
	st.DurationSeconds = d.Seconds()

	metrics.RecordStep("ingest", metrics.StatusOf(err), d)
	metrics.RecordRecords("processed", st.Processed)
	metrics.RecordRecords("skipped", st.Skipped)
	metrics.RecordRecords("errors", st.Errors)
	metrics.RecordRecords("products_created", st.ProductsCreated)
	metrics.RecordRecords("price_histories_created", st.PriceHistoriesCreated)

	e.log.WithFields(logrus.Fields{
		"stage":                   "ingest",
		"processed":               st.Processed,
		"skipped":                 st.Skipped,
		"errors":                  st.Errors,
		"products_created":        st.ProductsCreated,
		"price_histories_created": st.PriceHistoriesCreated,
		"duration":                d.Truncate(time.Millisecond),
	}).Info("ingest finished")
	return st, err
}

func (e *Engine) run(ctx context.Context, src io.Reader, opt Options, st *Stats) error {
	chunkSize := opt.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	progressEvery := opt.ProgressEvery
	if progressEvery <= 0 {
		progressEvery = DefaultProgressEvery
	}

	cache := resolver.NewCache(e.store)
	if err := cache.Prewarm(ctx); err != nil {
		return err
	}

	parseCtx, stopParser := context.WithCancel(ctx)
	defer stopParser()

	var badRecords atomic.Int64
	onErr := func(line int, err error) {
		badRecords.Add(1)
		e.log.WithFields(logrus.Fields{"stage": "parse", "line": line}).WithError(err).Warn("skipping malformed record")
	}

	rows := make(chan *transformer.Row, chunkSize)
	parseDone := make(chan error, 1)
	go func() {
		defer close(rows)
		parseDone <- e.parse(parseCtx, src, opt, rows, onErr)
	}()

	var (
		chunk   = make([]*transformer.Row, 0, chunkSize)
		stopped bool
		runErr  error
	)
	flush := func() {
		defer func() {
			for _, r := range chunk {
				r.Free()
			}
			chunk = chunk[:0]
		}()
		if stopped || runErr != nil {
			return
		}
		metrics.RecordBatch()
		for _, r := range chunk {
			if err := ctx.Err(); err != nil {
				runErr = err
				return
			}
			e.processRow(ctx, cache, r, st)
			if st.Processed%progressEvery == 0 {
				e.log.WithFields(logrus.Fields{
					"stage":     "ingest",
					"processed": st.Processed,
					"skipped":   st.Skipped,
					"errors":    st.Errors,
				}).Info("progress")
			}
			if opt.MaxRows > 0 && st.Processed >= opt.MaxRows {
				stopped = true
				stopParser()
				return
			}
		}
	}

	for r := range rows {
		if stopped || runErr != nil {
			r.Free()
			continue
		}
		chunk = append(chunk, r)
		if len(chunk) >= chunkSize {
			flush()
		}
	}
	flush()

	parseErr := <-parseDone
	// A malformed record was read but never produced a row: it counts as
	// processed and failed, so errors never exceed processed.
	bad := badRecords.Load()
	st.Processed += bad
	st.Errors += bad
	st.TotalRows = st.Processed

	if runErr != nil {
		return runErr
	}
	if parseErr != nil {
		if stopped && errors.Is(parseErr, context.Canceled) && ctx.Err() == nil {
			return nil
		}
		return fmt.Errorf("parse: %w", parseErr)
	}
	return nil
}

func (e *Engine) parse(ctx context.Context, src io.Reader, opt Options, out chan<- *transformer.Row, onErr func(int, error)) error {
	if opt.Format == FormatJSON {
		return jsonparser.StreamRows(ctx, src, out, onErr)
	}
	return csvparser.StreamRows(ctx, src, opt.CSV, out, onErr)
}

func (e *Engine) processRow(ctx context.Context, cache *resolver.Cache, r *transformer.Row, st *Stats) {
	st.Processed++

	rec, reason := transformer.Transform(r)
	if reason != "" {
		st.Skipped++
		st.Rejections[string(reason)]++
		return
	}

	rowErr := func(op string, err error) {
		st.Errors++
		e.log.WithFields(logrus.Fields{
			"stage": "ingest",
			"op":    op,
			"line":  r.Line,
			"sku":   rec.SKU,
		}).WithError(err).Error("row failed")
	}

	res, err := cache.Resolve(ctx, rec)
	if err != nil {
		rowErr("resolve", err)
		return
	}
	if res.ProductCreated {
		st.ProductsCreated++
	}

	inserted, err := e.store.InsertPriceIfNewDay(ctx, res.ProductID, rec.Price, rec.EffectiveDate)
	if err != nil {
		rowErr("price_history", err)
		return
	}
	if inserted {
		st.PriceHistoriesCreated++
	}

	if err := e.store.RefreshCurrentPrice(ctx, res.ProductID, e.now()); err != nil {
		rowErr("current_price", err)
	}
}
