package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"priceetl/internal/model"
	"priceetl/internal/storage"
)

var importCols = []string{
	"import_id", "file_path", "data_source", "status", "options", "stats", "error_message",
	"total_rows", "processed_rows", "products_created", "price_histories_created", "errors_count",
	"started_at", "completed_at", "created_at", "updated_at",
}

// importSelect lists importCols after the id.
func (s *Store) importSelect() string {
	return "id, " + IdentList(s.d, "", importCols)
}

func scanImport(sc interface{ Scan(...any) error }) (model.DataImport, error) {
	var (
		d                      model.DataImport
		status                 string
		options, stats, errMsg sql.NullString
		started, completed     nullTime
		created, updated       nullTime
	)
	err := sc.Scan(&d.ID, &d.ImportID, &d.FilePath, &d.DataSource, &status, &options, &stats, &errMsg,
		&d.TotalRows, &d.ProcessedRows, &d.ProductsCreated, &d.PriceHistoriesCreated, &d.ErrorsCount,
		&started, &completed, &created, &updated)
	if err != nil {
		return d, err
	}
	d.Status = model.ImportStatus(status)
	if options.Valid && options.String != "" {
		d.Options = []byte(options.String)
	}
	if stats.Valid && stats.String != "" {
		d.Stats = []byte(stats.String)
	}
	d.ErrorMessage = errMsg.String
	d.StartedAt, d.CompletedAt = started.Ptr(), completed.Ptr()
	d.CreatedAt, d.UpdatedAt = created.Time, updated.Time
	return d, nil
}

func (s *Store) GetImport(ctx context.Context, importID string) (model.DataImport, error) {
	row := s.queryRow(ctx, s.db,
		"SELECT "+s.importSelect()+" FROM "+s.tbl(storage.TDataImports)+" WHERE import_id = ?", importID)
	d, err := scanImport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("import %s: %w", importID, storage.ErrNotFound)
	}
	return d, err
}

func (s *Store) importArgs(d model.DataImport) []any {
	status := d.Status
	if status == "" {
		status = model.StatusPending
	}
	source := d.DataSource
	if source == "" {
		source = model.DefaultDataSource
	}
	return []any{
		d.ImportID, d.FilePath, source, string(status),
		nullString(string(d.Options)), nullString(string(d.Stats)), nullString(d.ErrorMessage),
		d.TotalRows, d.ProcessedRows, d.ProductsCreated, d.PriceHistoriesCreated, d.ErrorsCount,
		s.optTime(d.StartedAt), s.optTime(d.CompletedAt),
	}
}

func (s *Store) CreateImport(ctx context.Context, d model.DataImport) error {
	now := s.ts()
	args := append(s.importArgs(d), now, now)
	q := s.d.InsertIgnore(storage.TDataImports, importCols, []string{"import_id"}, 1)
	if _, err := s.exec(ctx, s.db, q, args...); err != nil {
		return fmt.Errorf("%s: create import %s: %w", s.d.Name(), d.ImportID, err)
	}
	return nil
}

func (s *Store) UpdateImport(ctx context.Context, d model.DataImport) error {
	// import_id is the match key and created_at is immutable.
	set := importCols[1 : len(importCols)-2]
	q := "UPDATE " + s.tbl(storage.TDataImports) + " SET "
	for _, c := range set {
		q += s.d.Ident(c) + " = ?, "
	}
	q += "updated_at = ? WHERE import_id = ?"

	args := append(s.importArgs(d)[1:], s.ts(), d.ImportID)
	res, err := s.exec(ctx, s.db, q, args...)
	if err != nil {
		return fmt.Errorf("%s: update import %s: %w", s.d.Name(), d.ImportID, err)
	}
	if affected(res) == 0 {
		return fmt.Errorf("import %s: %w", d.ImportID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListImports(ctx context.Context, limit int) ([]model.DataImport, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.d.SelectTop(limit, s.importSelect(), "FROM "+s.tbl(storage.TDataImports)+" ORDER BY created_at DESC, id DESC")
	rows, err := s.query(ctx, s.db, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DataImport
	for rows.Next() {
		d, err := scanImport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
