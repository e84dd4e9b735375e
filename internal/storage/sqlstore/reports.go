package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"priceetl/internal/model"
	"priceetl/internal/storage"
)

// reportFrom joins facts to both dimensions and applies the date filter.
func (s *Store) reportFrom(f model.ReportFilter) (string, []any) {
	q := " FROM " + s.tbl(storage.TFacts) + " f" +
		" JOIN " + s.tbl(storage.TDimProducts) + " p ON p.product_id = f.product_id" +
		" JOIN " + s.tbl(storage.TDimDates) + " d ON d.id = f.date_id"
	var (
		where []string
		args  []any
	)
	if f.From != nil {
		where = append(where, "d.full_date >= ?")
		args = append(args, s.d.BindDate(*f.From))
	}
	if f.To != nil {
		where = append(where, "d.full_date <= ?")
		args = append(args, s.d.BindDate(*f.To))
	}
	for i, w := range where {
		if i == 0 {
			q += " WHERE " + w
		} else {
			q += " AND " + w
		}
	}
	return q, args
}

func (s *Store) PriceTrends(ctx context.Context, f model.ReportFilter) ([]model.PriceTrend, error) {
	from, args := s.reportFrom(f)
	q := "SELECT p.sku, p.name, p.category, p.brand, p.store, d.full_date, f.price, f.price_change, f.price_change_percentage" +
		from + " ORDER BY d.full_date, p.sku, f.id"
	rows, err := s.query(ctx, s.db, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PriceTrend
	for rows.Next() {
		var (
			r                            model.PriceTrend
			name, category, brand, store sql.NullString
			fd                           nullTime
		)
		if err := rows.Scan(&r.SKU, &name, &category, &brand, &store, &fd,
			&r.Price, &r.PriceChange, &r.PriceChangePercentage); err != nil {
			return nil, err
		}
		r.Name, r.Category, r.Brand, r.Store = name.String, category.String, brand.String, store.String
		r.FullDate = fd.Time
		r.Date = fd.Time.Format(time.DateOnly)
		r.Price = r.Price.Round(2)
		r.PriceChange = roundNull(r.PriceChange, 2)
		r.PriceChangePercentage = roundNull(r.PriceChangePercentage, 4)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ProductSummary(ctx context.Context, f model.ReportFilter) ([]model.ProductSummary, error) {
	from, args := s.reportFrom(f)
	q := "SELECT p.sku, p.name, p.category, p.brand, p.store, MIN(f.price), MAX(f.price), AVG(f.price), COUNT(*), AVG(f.price_change_percentage)" +
		from + " GROUP BY f.product_id, p.sku, p.name, p.category, p.brand, p.store ORDER BY p.sku, f.product_id"
	rows, err := s.query(ctx, s.db, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProductSummary
	for rows.Next() {
		var (
			r                            model.ProductSummary
			name, category, brand, store sql.NullString
		)
		if err := rows.Scan(&r.SKU, &name, &category, &brand, &store,
			&r.MinPrice, &r.MaxPrice, &r.AvgPrice, &r.PriceChangesCount, &r.AvgChangePercentage); err != nil {
			return nil, err
		}
		r.Name, r.Category, r.Brand, r.Store = name.String, category.String, brand.String, store.String
		r.MinPrice, r.MaxPrice, r.AvgPrice = r.MinPrice.Round(2), r.MaxPrice.Round(2), r.AvgPrice.Round(2)
		r.AvgChangePercentage = roundNull(r.AvgChangePercentage, 4)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CategoryAnalysis(ctx context.Context, f model.ReportFilter) ([]model.CategoryAnalysis, error) {
	from, args := s.reportFrom(f)
	q := "SELECT p.category, COUNT(DISTINCT f.product_id), MIN(f.price), MAX(f.price), AVG(f.price), AVG(f.price_change_percentage)" +
		from + " GROUP BY p.category ORDER BY p.category"
	rows, err := s.query(ctx, s.db, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CategoryAnalysis
	for rows.Next() {
		var (
			r        model.CategoryAnalysis
			category sql.NullString
		)
		if err := rows.Scan(&category, &r.ProductsCount,
			&r.MinCategoryPrice, &r.MaxCategoryPrice, &r.AvgCategoryPrice, &r.AvgPriceVolatility); err != nil {
			return nil, err
		}
		r.Category = category.String
		r.MinCategoryPrice = r.MinCategoryPrice.Round(2)
		r.MaxCategoryPrice = r.MaxCategoryPrice.Round(2)
		r.AvgCategoryPrice = r.AvgCategoryPrice.Round(2)
		r.AvgPriceVolatility = roundNull(r.AvgPriceVolatility, 4)
		out = append(out, r)
	}
	return out, rows.Err()
}

func roundNull(d decimal.NullDecimal, places int32) decimal.NullDecimal {
	if !d.Valid {
		return d
	}
	return decimal.NewNullDecimal(d.Decimal.Round(places))
}
