package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"priceetl/internal/model"
	"priceetl/internal/storage"
)

var namedCols = []string{"name", "created_at", "updated_at"}

func (s *Store) EnsureNamed(ctx context.Context, table, name string) (int64, bool, error) {
	if !storage.IsNamedTable(table) {
		return 0, false, fmt.Errorf("sqlstore: %s is not a named table", table)
	}
	now := s.ts()
	res, insErr := s.exec(ctx, s.db, s.d.InsertIgnore(table, namedCols, []string{"name"}, 1), name, now, now)

	var id int64
	err := s.queryRow(ctx, s.db, "SELECT id FROM "+s.tbl(table)+" WHERE name = ?", name).Scan(&id)
	if err != nil {
		if insErr != nil {
			return 0, false, fmt.Errorf("%s: ensure %s %q: %w", s.d.Name(), table, name, insErr)
		}
		return 0, false, fmt.Errorf("%s: lookup %s %q: %w", s.d.Name(), table, name, err)
	}
	// A failed insert that still resolves lost a race to another writer.
	created := insErr == nil && affected(res) == 1
	return id, created, nil
}

func (s *Store) AllNamed(ctx context.Context, table string) (map[string]int64, error) {
	if !storage.IsNamedTable(table) {
		return nil, fmt.Errorf("sqlstore: %s is not a named table", table)
	}
	rows, err := s.query(ctx, s.db, "SELECT name, id FROM "+s.tbl(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			k  any
			id int64
		)
		if err := rows.Scan(&k, &id); err != nil {
			return nil, err
		}
		out[storage.NormalizeKey(k)] = id
	}
	return out, rows.Err()
}

func (s *Store) SetStoreURL(ctx context.Context, storeID int64, url string) error {
	_, err := s.exec(ctx, s.db,
		"UPDATE "+s.tbl(storage.TStores)+" SET url = ?, updated_at = ? WHERE id = ? AND (url IS NULL OR url <> ?)",
		url, s.ts(), storeID, url)
	return err
}

var productCols = []string{"sku", "category_id", "brand_id", "store_id", "current_price", "vat_percentage", "created_at", "updated_at"}

func (s *Store) EnsureProduct(ctx context.Context, p storage.NewProduct) (int64, bool, error) {
	now := s.ts()
	q := s.d.InsertIgnore(storage.TProducts, productCols, []string{"sku", "store_id"}, 1)
	res, insErr := s.exec(ctx, s.db, q,
		p.SKU, p.CategoryID, p.BrandID, p.StoreID, p.Price.Round(2), p.VATPercentage.Round(2), now, now)

	var id int64
	err := s.queryRow(ctx, s.db,
		"SELECT id FROM "+s.tbl(storage.TProducts)+" WHERE sku = ? AND store_id = ?", p.SKU, p.StoreID).Scan(&id)
	if err != nil {
		if insErr != nil {
			return 0, false, fmt.Errorf("%s: ensure product %q: %w", s.d.Name(), p.SKU, insErr)
		}
		if errors.Is(err, sql.ErrNoRows) {
			err = storage.ErrNotFound
		}
		return 0, false, fmt.Errorf("%s: lookup product %q: %w", s.d.Name(), p.SKU, err)
	}
	return id, insErr == nil && affected(res) == 1, nil
}

var translationCols = []string{"product_id", "locale", "name", "description", "created_at", "updated_at"}

func (s *Store) UpsertTranslation(ctx context.Context, t model.ProductTranslation) error {
	locale := t.Locale
	if locale == "" {
		locale = model.DefaultLocale
	}
	now := s.ts()
	_, err := s.upsert(ctx, s.db, storage.TTranslations, translationCols,
		[]string{"product_id", "locale"},
		[]string{"name", "description", "updated_at"},
		[][]any{{t.ProductID, locale, t.Name, nullString(t.Description), now, now}})
	if err != nil {
		return fmt.Errorf("%s: upsert translation product=%d: %w", s.d.Name(), t.ProductID, err)
	}
	return nil
}
