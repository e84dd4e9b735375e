package csv

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/text/encoding/unicode"

	"priceetl/internal/transformer"
)

func collect(t *testing.T, input string, opt Options) ([]*transformer.Row, []int, error) {
	t.Helper()

	out := make(chan *transformer.Row, 16)
	var badLines []int
	errCh := make(chan error, 1)
	go func() {
		errCh <- StreamRows(context.Background(), strings.NewReader(input), opt, out, func(line int, _ error) {
			badLines = append(badLines, line)
		})
		close(out)
	}()

	var rows []*transformer.Row
	for r := range out {
		rows = append(rows, r)
	}
	return rows, badLines, <-errCh
}

func TestStreamRows_AlignsAliasedColumns(t *testing.T) {
	t.Parallel()

	input := "\uFEFFProduct_Name,Category, Brand ,Province,Price,Year,Month\n" +
		"Whole Milk , Dairy,Neilson,Ontario,$4.99,2023,7\n" +
		"\n" +
		"Bread,Bakery,,Quebec,2.50,2023,8\n"

	rows, bad, err := collect(t, input, Options{})
	if err != nil {
		t.Fatalf("StreamRows: %v", err)
	}
	if len(bad) != 0 {
		t.Fatalf("unexpected bad lines: %v", bad)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%d, want 2", len(rows))
	}

	r := rows[0]
	if r.Line != 2 || r.String(transformer.FieldName) != "Whole Milk" || r.String(transformer.FieldCategory) != "Dairy" {
		t.Fatalf("row0=%+v", r)
	}
	if r.String(transformer.FieldPrice) != "$4.99" || r.String(transformer.FieldMonth) != "7" {
		t.Fatalf("row0=%+v", r)
	}
	if rows[1].V[transformer.FieldBrand] != nil {
		t.Fatalf("empty cell should be nil, got %v", rows[1].V[transformer.FieldBrand])
	}
	if rows[1].V[transformer.FieldSKU] != nil {
		t.Fatalf("absent column should be nil")
	}
}

func TestStreamRows_MissingColumnsIsFileLevel(t *testing.T) {
	t.Parallel()

	_, _, err := collect(t, "category,price\nDairy,1.00\n", Options{})
	if !errors.Is(err, transformer.ErrMissingColumns) {
		t.Fatalf("err=%v, want ErrMissingColumns", err)
	}

	_, _, err = collect(t, "", Options{})
	if !errors.Is(err, transformer.ErrMissingColumns) {
		t.Fatalf("empty file err=%v", err)
	}
}

func TestStreamRows_MalformedRecordIsSkipped(t *testing.T) {
	t.Parallel()

	input := "name;category;price;date\n" +
		"a;b;1.00;2024-01-01\n" +
		"\"broken;b;1.00;2024-01-02\n"

	rows, bad, err := collect(t, input, Options{Comma: ';'})
	if err != nil {
		t.Fatalf("StreamRows: %v", err)
	}
	if len(rows) != 1 || len(bad) != 1 {
		t.Fatalf("rows=%d bad=%v", len(rows), bad)
	}
}

func TestStreamRows_UTF16WithBOM(t *testing.T) {
	t.Parallel()

	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	body, err := enc.String("name,category,price,date\nCafé,Drinks,3.00,2024-01-01\n")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	out := make(chan *transformer.Row, 4)
	if err := StreamRows(context.Background(), bytes.NewReader([]byte(body)), Options{}, out, nil); err != nil {
		t.Fatalf("StreamRows: %v", err)
	}
	close(out)
	r := <-out
	if r == nil || r.String(transformer.FieldName) != "Café" {
		t.Fatalf("row=%+v", r)
	}
}

func TestStreamRows_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan *transformer.Row)
	err := StreamRows(ctx, strings.NewReader("name,price,date\na,1,2024-01-01\n"), Options{}, out, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}
