package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"priceetl/internal/model"
	"priceetl/internal/storage"
)

// warehouseTx runs every statement of one warehouse load on a single
// transaction. Readers buffer their rows: database/sql cannot execute on a
// transaction while one of its result sets is open.
type warehouseTx struct {
	s  *Store
	tx *sql.Tx
}

func (s *Store) BeginWarehouse(ctx context.Context) (storage.WarehouseTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin warehouse: %w", s.d.Name(), err)
	}
	return &warehouseTx{s: s, tx: tx}, nil
}

func (w *warehouseTx) Commit() error   { return w.tx.Commit() }
func (w *warehouseTx) Rollback() error { return w.tx.Rollback() }

func (w *warehouseTx) HistoryDateRange(ctx context.Context) (time.Time, time.Time, bool, error) {
	var lo, hi nullTime
	err := w.s.queryRow(ctx, w.tx,
		"SELECT MIN(effective_date), MAX(effective_date) FROM "+w.s.tbl(storage.TPriceHistory)+" WHERE deleted_at IS NULL").
		Scan(&lo, &hi)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if !lo.Valid || !hi.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return lo.Time, hi.Time, true, nil
}

var dimDateCols = []string{
	"full_date", "day", "week", "month", "year", "weekday",
	"month_name", "weekday_name", "quarter", "is_weekend", "created_at",
}

func (w *warehouseTx) InsertDimDates(ctx context.Context, dates []model.DimDate) (int64, error) {
	if len(dates) == 0 {
		return 0, nil
	}
	now := w.s.ts()
	rows := make([][]any, len(dates))
	for i, d := range dates {
		rows[i] = []any{
			w.s.d.BindDate(d.FullDate), d.Day, d.Week, d.Month, d.Year, d.Weekday,
			d.MonthName, d.WeekdayName, d.Quarter, d.IsWeekend, now,
		}
	}
	return w.s.insertIgnore(ctx, w.tx, storage.TDimDates, dimDateCols, []string{"full_date"}, rows)
}

func (w *warehouseTx) DimDateIDs(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	rows, err := w.s.query(ctx, w.tx,
		"SELECT id, full_date FROM "+w.s.tbl(storage.TDimDates)+" WHERE full_date >= ? AND full_date <= ?",
		w.s.d.BindDate(from), w.s.d.BindDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id int64
			fd nullTime
		)
		if err := rows.Scan(&id, &fd); err != nil {
			return nil, err
		}
		out[fd.Time.Format(time.DateOnly)] = id
	}
	return out, rows.Err()
}

func (w *warehouseTx) ProductSnapshots(ctx context.Context) ([]model.DimProduct, error) {
	t := w.s.tbl
	q := "SELECT p.id, p.sku, COALESCE(tr.name, p.sku), b.name, c.name, st.name, p.vat_percentage, p.created_at, p.updated_at, p.deleted_at" +
		" FROM " + t(storage.TProducts) + " p" +
		" LEFT JOIN " + t(storage.TTranslations) + " tr ON tr.product_id = p.id AND tr.locale = ?" +
		" LEFT JOIN " + t(storage.TBrands) + " b ON b.id = p.brand_id" +
		" LEFT JOIN " + t(storage.TCategories) + " c ON c.id = p.category_id" +
		" LEFT JOIN " + t(storage.TStores) + " st ON st.id = p.store_id" +
		" ORDER BY p.id"
	rows, err := w.s.query(ctx, w.tx, q, model.DefaultLocale)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DimProduct
	for rows.Next() {
		var (
			p                      model.DimProduct
			brand, category, store sql.NullString
			created, updated, gone nullTime
		)
		if err := rows.Scan(&p.ProductID, &p.SKU, &p.Name, &brand, &category, &store,
			&p.VATPercentage, &created, &updated, &gone); err != nil {
			return nil, err
		}
		p.Brand, p.Category, p.Store = brand.String, category.String, store.String
		p.VATPercentage = p.VATPercentage.Round(2)
		p.CreatedAt, p.UpdatedAt, p.DeletedAt = created.Time, updated.Time, gone.Ptr()
		out = append(out, p)
	}
	return out, rows.Err()
}

var dimProductCols = []string{
	"product_id", "sku", "name", "brand", "category", "store",
	"vat_percentage", "created_at", "updated_at", "deleted_at",
}

var dimProductUpdate = []string{"sku", "name", "brand", "category", "store", "vat_percentage", "updated_at", "deleted_at"}

func (w *warehouseTx) UpsertDimProducts(ctx context.Context, products []model.DimProduct) (int64, error) {
	if len(products) == 0 {
		return 0, nil
	}
	now := w.s.ts()
	rows := make([][]any, len(products))
	for i, p := range products {
		created := now
		if !p.CreatedAt.IsZero() {
			created = w.s.d.BindTime(p.CreatedAt)
		}
		rows[i] = []any{
			p.ProductID, p.SKU, nullString(p.Name), nullString(p.Brand), nullString(p.Category), nullString(p.Store),
			p.VATPercentage.Round(2), created, now, w.s.optTime(p.DeletedAt),
		}
	}
	if _, err := w.s.upsert(ctx, w.tx, storage.TDimProducts, dimProductCols, []string{"product_id"}, dimProductUpdate, rows); err != nil {
		return 0, err
	}
	// Affected-row counts of upserts differ per backend; report rows written.
	return int64(len(rows)), nil
}

func (w *warehouseTx) DeleteFacts(ctx context.Context, since *time.Time) (int64, error) {
	q := "DELETE FROM " + w.s.tbl(storage.TFacts)
	var args []any
	if since != nil {
		q += " WHERE effective_datetime >= ?"
		args = append(args, w.s.d.BindTime(*since))
	}
	res, err := w.s.exec(ctx, w.tx, q, args...)
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}

func (w *warehouseTx) PriceHistoryForFacts(ctx context.Context, since *time.Time) ([]model.PriceHistory, error) {
	ph := w.s.tbl(storage.TPriceHistory)
	q := "SELECT id, product_id, price, effective_date FROM " + ph + " WHERE deleted_at IS NULL"
	var args []any
	if since != nil {
		q += " AND product_id IN (SELECT product_id FROM " + ph + " WHERE deleted_at IS NULL AND effective_date >= ?)"
		args = append(args, w.s.d.BindTime(*since))
	}
	q += " ORDER BY product_id, effective_date, id"

	rows, err := w.s.query(ctx, w.tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PriceHistory
	for rows.Next() {
		var (
			h  model.PriceHistory
			ef nullTime
		)
		if err := rows.Scan(&h.ID, &h.ProductID, &h.Price, &ef); err != nil {
			return nil, err
		}
		h.Price = h.Price.Round(2)
		h.EffectiveDate = ef.Time
		out = append(out, h)
	}
	return out, rows.Err()
}

var factCols = []string{
	"product_id", "date_id", "price", "price_change", "price_change_percentage", "effective_datetime", "created_at",
}

func (w *warehouseTx) InsertFacts(ctx context.Context, facts []model.FactPriceChange) (int64, error) {
	if len(facts) == 0 {
		return 0, nil
	}
	now := w.s.ts()
	rows := make([][]any, len(facts))
	for i, f := range facts {
		rows[i] = []any{
			f.ProductID, f.DateID, f.Price, f.PriceChange, f.PriceChangePercentage,
			w.s.d.BindTime(f.EffectiveDatetime), now,
		}
	}
	return w.s.insertPlain(ctx, w.tx, storage.TFacts, factCols, rows)
}
