package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"priceetl/internal/model"
	"priceetl/internal/storage"
)

func (s *Store) InsertPriceIfNewDay(ctx context.Context, productID int64, price decimal.Decimal, effective time.Time) (bool, error) {
	ph := s.tbl(storage.TPriceHistory)
	day := model.Day(effective)
	q := "INSERT INTO " + ph + " (product_id, price, effective_date, created_at, updated_at) SELECT " +
		s.d.Cast("?", storage.TypeBigInt) + ", " +
		s.d.Cast("?", storage.TypeMoney) + ", " +
		s.d.Cast("?", storage.TypeTimestamp) + ", " +
		s.d.Cast("?", storage.TypeTimestamp) + ", " +
		s.d.Cast("?", storage.TypeTimestamp) +
		" WHERE NOT EXISTS (SELECT 1 FROM " + s.d.LockedFrom(storage.TPriceHistory, "h") +
		" WHERE h.product_id = ? AND h.effective_date >= ? AND h.effective_date < ? AND h.deleted_at IS NULL)"

	now := s.ts()
	res, err := s.exec(ctx, s.db, q,
		productID, price.Round(2), s.d.BindTime(effective), now, now,
		productID, s.d.BindTime(day), s.d.BindTime(day.AddDate(0, 0, 1)))
	if err != nil {
		return false, fmt.Errorf("%s: insert price product=%d: %w", s.d.Name(), productID, err)
	}
	return affected(res) == 1, nil
}

func (s *Store) RefreshCurrentPrice(ctx context.Context, productID int64, now time.Time) error {
	latest := s.d.SelectTop(1, "h.price",
		"FROM "+s.tbl(storage.TPriceHistory)+" h WHERE h.product_id = ? AND h.deleted_at IS NULL AND h.effective_date <= ? ORDER BY h.effective_date DESC, h.id DESC")
	q := "UPDATE " + s.tbl(storage.TProducts) +
		" SET current_price = COALESCE((" + latest + "), current_price), updated_at = ? WHERE id = ?"
	if _, err := s.exec(ctx, s.db, q, productID, s.d.BindTime(now), s.ts(), productID); err != nil {
		return fmt.Errorf("%s: refresh current price product=%d: %w", s.d.Name(), productID, err)
	}
	return nil
}
