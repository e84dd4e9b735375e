// Package csv streams price CSV files into pooled transformer rows.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"priceetl/internal/transformer"
	"priceetl/internal/transformer/builtin"
)

// Options tunes the CSV reader. The zero value reads comma-separated UTF-8
// with strict quoting.
type Options struct {
	Comma      rune
	LazyQuotes bool
}

// StreamRows reads the header of src, resolves it against the field aliases and
// then sends one *transformer.Row per record to out.
//
// The returned error is file level: an unreadable or incomplete header, or
// ctx cancellation. Malformed records are reported through onErr and skipped.
// StreamRows does not close out.
//
// On cancellation the in-flight row is dropped, not re-pooled, because a
// draining consumer may still hold it.
func StreamRows(
	ctx context.Context,
	src io.Reader,
	opt Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	// BOMOverride strips a UTF-8 BOM and transcodes UTF-16 files that carry one.
	r := transform.NewReader(src, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	line := 1
	hdr, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("read header: empty file: %w", transformer.ErrMissingColumns)
		}
		return fmt.Errorf("read header: %w", err)
	}
	cols, err := transformer.ResolveHeader(hdr)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line++
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}
		if isBlank(rec) {
			continue
		}

		row := transformer.GetRow()
		row.Line = line
		for f, si := range cols {
			if si < 0 || si >= len(rec) {
				continue
			}
			v := rec[si]
			if builtin.HasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row.V[f] = v
			}
		}

		select {
		case out <- row:
		case <-ctx.Done():
			row.Drop()
			return ctx.Err()
		}
	}
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
