// Package probe samples the head of an import file and reports how it would
// be read: the detected format, the column each field maps to, and what the
// sampled rows turn into. Nothing is written to storage.
//
// Sampling is bounded by Options.MaxBytes. A CSV sample is cut back to its
// last complete line; a JSON sample that ends mid-document is reported as
// truncated instead of failing the probe.
package probe

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"priceetl/internal/ingest"
	csvparser "priceetl/internal/parser/csv"
	jsonparser "priceetl/internal/parser/json"
	"priceetl/internal/transformer"
)

const (
	DefaultMaxBytes = 1 << 20
	DefaultMaxRows  = 1000
)

// Opener opens an import input.
type Opener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

type Options struct {
	// MaxBytes read from the start of the input.
	MaxBytes int
	// MaxRows transformed from the sample.
	MaxRows int
	// Format overrides detection ("csv" or "json").
	Format string
}

// Report summarizes a sample.
type Report struct {
	Path         string            `json:"path"`
	Format       ingest.Format     `json:"format"`
	SampledBytes int               `json:"sampled_bytes"`
	Truncated    bool              `json:"truncated"`
	Columns      map[string]string `json:"columns,omitempty"`
	Rows         int64             `json:"rows"`
	Accepted     int64             `json:"accepted"`
	Malformed    int64             `json:"malformed"`
	Rejections   map[string]int64  `json:"rejections"`
	Stores       []string          `json:"stores"`
	Categories   int               `json:"categories"`
	FirstDate    string            `json:"first_date,omitempty"`
	LastDate     string            `json:"last_date,omitempty"`
	MinPrice     *decimal.Decimal  `json:"min_price,omitempty"`
	MaxPrice     *decimal.Decimal  `json:"max_price,omitempty"`
}

// Probe samples path through o.
func Probe(ctx context.Context, o Opener, path string, opt Options) (Report, error) {
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = DefaultMaxBytes
	}
	if opt.MaxRows <= 0 {
		opt.MaxRows = DefaultMaxRows
	}

	rc, err := o.Open(ctx, path)
	if err != nil {
		return Report{}, err
	}
	defer rc.Close()

	// One extra byte tells a file that fits from one that was cut.
	sample, err := io.ReadAll(io.LimitReader(rc, int64(opt.MaxBytes)+1))
	if err != nil {
		return Report{}, fmt.Errorf("read sample: %w", err)
	}
	truncated := len(sample) > opt.MaxBytes
	if truncated {
		sample = sample[:opt.MaxBytes]
	}

	format, err := detect(path, opt.Format, sample)
	if err != nil {
		return Report{}, err
	}
	if format == ingest.FormatCSV && truncated {
		if i := bytes.LastIndexByte(sample, '\n'); i >= 0 {
			sample = sample[:i+1]
		}
	}

	rep := Report{
		Path:         path,
		Format:       format,
		SampledBytes: len(sample),
		Truncated:    truncated,
		Rejections:   map[string]int64{},
		Stores:       []string{},
	}
	if format == ingest.FormatCSV {
		cols, err := csvColumns(sample)
		if err != nil {
			return rep, err
		}
		rep.Columns = cols
	}

	err = rep.scan(ctx, bytes.NewReader(sample), format, opt.MaxRows)
	if err != nil && truncated && format == ingest.FormatJSON && !errors.Is(err, transformer.ErrMissingColumns) {
		// The document was cut mid-value.
		err = nil
	}
	return rep, err
}

// detect prefers an explicit format, then a known extension, then the first
// non-space byte of the sample.
func detect(path, explicit string, sample []byte) (ingest.Format, error) {
	f, err := ingest.DetectFormat(path, explicit)
	if err != nil || explicit != "" || f == ingest.FormatJSON {
		return f, err
	}
	if trim := bytes.TrimSpace(sample); len(trim) > 0 && (trim[0] == '{' || trim[0] == '[') {
		return ingest.FormatJSON, nil
	}
	return ingest.FormatCSV, nil
}

// csvColumns maps each resolved field to the header column feeding it.
func csvColumns(sample []byte) (map[string]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(sample, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	hdr, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h, err := transformer.ResolveHeader(hdr)
	if err != nil {
		return nil, err
	}
	cols := make(map[string]string)
	for f, i := range h {
		if i >= 0 {
			cols[transformer.Field(f).String()] = hdr[i]
		}
	}
	return cols, nil
}

func (rep *Report) scan(ctx context.Context, src io.Reader, format ingest.Format, maxRows int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows := make(chan *transformer.Row, 64)
	onErr := func(int, error) { rep.Malformed++ }
	errCh := make(chan error, 1)
	go func() {
		defer close(rows)
		if format == ingest.FormatJSON {
			errCh <- jsonparser.StreamRows(ctx, src, rows, onErr)
		} else {
			errCh <- csvparser.StreamRows(ctx, src, csvparser.Options{LazyQuotes: true}, rows, onErr)
		}
	}()

	stores := map[string]struct{}{}
	categories := map[string]struct{}{}
	var first, last time.Time
	stopped := false
	for r := range rows {
		if stopped {
			r.Free()
			continue
		}
		rep.Rows++
		rec, reason := transformer.Transform(r)
		r.Free()
		if reason != "" {
			rep.Rejections[string(reason)]++
		} else {
			rep.Accepted++
			stores[rec.Store] = struct{}{}
			categories[rec.Category] = struct{}{}
			if first.IsZero() || rec.EffectiveDate.Before(first) {
				first = rec.EffectiveDate
			}
			if rec.EffectiveDate.After(last) {
				last = rec.EffectiveDate
			}
			p := rec.Price
			if rep.MinPrice == nil || p.LessThan(*rep.MinPrice) {
				rep.MinPrice = &p
			}
			if rep.MaxPrice == nil || p.GreaterThan(*rep.MaxPrice) {
				rep.MaxPrice = &p
			}
		}
		if rep.Rows >= int64(maxRows) {
			stopped = true
			cancel()
		}
	}

	for s := range stores {
		rep.Stores = append(rep.Stores, s)
	}
	sort.Strings(rep.Stores)
	rep.Categories = len(categories)
	if !first.IsZero() {
		rep.FirstDate = first.Format(time.DateOnly)
		rep.LastDate = last.Format(time.DateOnly)
	}

	err := <-errCh
	if stopped && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
