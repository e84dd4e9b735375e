package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"priceetl/internal/storage"
)

// dedupeRowsByColumns keeps the first row of every distinct key. Upserts need
// it because Postgres refuses to touch the same row twice in one ON CONFLICT
// statement, and SQL Server's NOT EXISTS does not see sibling VALUES rows.
func dedupeRowsByColumns(rows [][]any, columns, keyColumns []string) ([][]any, error) {
	if len(keyColumns) == 0 || len(rows) < 2 {
		return rows, nil
	}
	idx := make([]int, len(keyColumns))
	for i, k := range keyColumns {
		pos := -1
		for j, c := range columns {
			if c == k {
				pos = j
				break
			}
		}
		if pos < 0 {
			return nil, fmt.Errorf("sqlstore: dedupe column %q not in %v", k, columns)
		}
		idx[i] = pos
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([][]any, 0, len(rows))
	var kb strings.Builder
	for _, r := range rows {
		kb.Reset()
		for _, i := range idx {
			kb.WriteString(storage.NormalizeKey(r[i]))
			kb.WriteByte(0x1f)
		}
		k := kb.String()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

// rowsPerChunk is how many rows of cols columns fit one statement.
func rowsPerChunk(d Dialect, cols int) int {
	n := d.MaxParams() / cols
	if n > maxRowsPerStatement {
		n = maxRowsPerStatement
	}
	if n < 1 {
		n = 1
	}
	return n
}

// writeBatches executes build(len(chunk)) once per chunk of rows and returns
// the summed RowsAffected.
func (s *Store) writeBatches(ctx context.Context, q queryer, cols int, rows [][]any, build func(n int) string) (int64, error) {
	var total int64
	step := rowsPerChunk(s.d, cols)
	for start := 0; start < len(rows); start += step {
		end := start + step
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		args := make([]any, 0, len(chunk)*cols)
		for _, r := range chunk {
			args = append(args, r...)
		}
		res, err := s.exec(ctx, q, build(len(chunk)), args...)
		if err != nil {
			return total, err
		}
		total += affected(res)
	}
	return total, nil
}

func (s *Store) insertIgnore(ctx context.Context, q queryer, table string, cols, conflict []string, rows [][]any) (int64, error) {
	rows, err := dedupeRowsByColumns(rows, cols, conflict)
	if err != nil {
		return 0, err
	}
	return s.writeBatches(ctx, q, len(cols), rows, func(n int) string {
		return s.d.InsertIgnore(table, cols, conflict, n)
	})
}

func (s *Store) upsert(ctx context.Context, q queryer, table string, cols, conflict, update []string, rows [][]any) (int64, error) {
	rows, err := dedupeRowsByColumns(rows, cols, conflict)
	if err != nil {
		return 0, err
	}
	return s.writeBatches(ctx, q, len(cols), rows, func(n int) string {
		return s.d.Upsert(table, cols, conflict, update, n)
	})
}

func (s *Store) insertPlain(ctx context.Context, q queryer, table string, cols []string, rows [][]any) (int64, error) {
	return s.writeBatches(ctx, q, len(cols), rows, func(n int) string {
		return "INSERT INTO " + s.tbl(table) + " (" + IdentList(s.d, "", cols) + ") VALUES " + ValuesList(len(cols), n)
	})
}
