// Package export writes warehouse reports to files.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"priceetl/internal/logging"
	"priceetl/internal/metrics"
	"priceetl/internal/model"
	"priceetl/internal/storage"
)

var (
	ErrNoData        = errors.New("no data to export")
	ErrUnknownKind   = errors.New("unknown export kind")
	ErrUnknownFormat = errors.New("unknown export format")
)

// DefaultDir is where exports go when no directory is configured.
const DefaultDir = "storage/exports"

const fileTimeLayout = "2006-01-02_15-04-05"

type Kind string

const (
	KindPriceTrends      Kind = "price-trends"
	KindProductSummary   Kind = "product-summary"
	KindCategoryAnalysis Kind = "category-analysis"
)

// Kinds lists the supported report kinds.
func Kinds() []Kind { return []Kind{KindPriceTrends, KindProductSummary, KindCategoryAnalysis} }

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Row is one report line.
type Row interface {
	Header() []string
	Values() []any
}

type Exporter struct {
	reports storage.ReportStore
	dir     string
	log     logrus.FieldLogger
	now     func() time.Time
}

type Option func(*Exporter)

func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

func New(reports storage.ReportStore, dir string, log logrus.FieldLogger, opts ...Option) *Exporter {
	if dir == "" {
		dir = DefaultDir
	}
	e := &Exporter{reports: reports, dir: dir, log: logging.OrDiscard(log), now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Query runs the report of kind.
func (e *Exporter) Query(ctx context.Context, kind Kind, f model.ReportFilter) ([]Row, error) {
	switch kind {
	case KindPriceTrends:
		rs, err := e.reports.PriceTrends(ctx, f)
		return toRows(rs), err
	case KindProductSummary:
		rs, err := e.reports.ProductSummary(ctx, f)
		return toRows(rs), err
	case KindCategoryAnalysis:
		rs, err := e.reports.CategoryAnalysis(ctx, f)
		return toRows(rs), err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func toRows[T Row](rs []T) []Row {
	out := make([]Row, len(rs))
	for i, r := range rs {
		out[i] = r
	}
	return out
}

// Export writes the report to {dir}/{kind}_{timestamp}.{format} and returns
// the path. Nothing is left behind when writing fails.
func (e *Exporter) Export(ctx context.Context, kind Kind, format Format, f model.ReportFilter) (path string, err error) {
	start := e.now()
	defer func() {
		metrics.RecordStep("export", metrics.StatusOf(err), e.now().Sub(start))
	}()

	if _, err := ParseFormat(string(format)); err != nil {
		return "", err
	}
	rows, err := e.Query(ctx, kind, f)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 && format != FormatJSON {
		return "", ErrNoData
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("export dir: %w", err)
	}
	path = filepath.Join(e.dir, FileName(kind, format, start))
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err = Write(out, format, rows); err == nil {
		err = out.Close()
	} else {
		_ = out.Close()
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	metrics.RecordRecords("exported", int64(len(rows)))
	e.log.WithFields(logrus.Fields{"kind": kind, "format": format, "rows": len(rows), "path": path}).Info("export written")
	return path, nil
}

// FileName is "{kind}_{2006-01-02_15-04-05}.{format}".
func FileName(kind Kind, format Format, at time.Time) string {
	return fmt.Sprintf("%s_%s.%s", kind, at.Format(fileTimeLayout), format)
}

// Write renders rows in format. CSV and XLSX need at least one row for the
// header; JSON writes "[]" for none.
func Write(w io.Writer, format Format, rows []Row) error {
	switch format {
	case FormatJSON:
		if rows == nil {
			rows = []Row{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case FormatCSV:
		if len(rows) == 0 {
			return ErrNoData
		}
		return writeCSV(w, rows)
	case FormatXLSX:
		if len(rows) == 0 {
			return ErrNoData
		}
		return writeXLSX(w, rows)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func writeCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(rows[0].Header()); err != nil {
		return err
	}
	rec := make([]string, len(rows[0].Header()))
	for _, r := range rows {
		for i, v := range r.Values() {
			rec[i] = csvCell(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvCell(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case decimal.Decimal:
		return x.String()
	case decimal.NullDecimal:
		if !x.Valid {
			return ""
		}
		return x.Decimal.String()
	case int64:
		return strconv.FormatInt(x, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

const sheetName = "Report"

func writeXLSX(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	header := rows[0].Header()
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	hdr := make([]any, len(header))
	for i, h := range header {
		hdr[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &hdr); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", last, style); err != nil {
		return err
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		vals := r.Values()
		for j, v := range vals {
			vals[j] = xlsxCell(v)
		}
		if err := f.SetSheetRow(sheetName, cell, &vals); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func xlsxCell(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.InexactFloat64()
	case decimal.NullDecimal:
		if !x.Valid {
			return nil
		}
		return x.Decimal.InexactFloat64()
	default:
		return v
	}
}
