package sqlstore_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"priceetl/internal/model"
	"priceetl/internal/storage"
	"priceetl/internal/storage/sqlite"
	"priceetl/internal/storage/sqlstore"
)

var clock = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "etl.db")+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	s := sqlstore.New(db, sqlite.Dialect{}, sqlstore.WithClock(func() time.Time { return clock }))
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func seedProduct(t *testing.T, s *sqlstore.Store, sku string) int64 {
	t.Helper()
	ctx := context.Background()
	cat, _, err := s.EnsureNamed(ctx, storage.TCategories, "Dairy")
	require.NoError(t, err)
	br, _, err := s.EnsureNamed(ctx, storage.TBrands, "Natrel")
	require.NoError(t, err)
	st, _, err := s.EnsureNamed(ctx, storage.TStores, "Ontario Retail")
	require.NoError(t, err)
	id, _, err := s.EnsureProduct(ctx, storage.NewProduct{
		SKU: sku, CategoryID: cat, BrandID: br, StoreID: st,
		Price: dec("4.99"), VATPercentage: model.DefaultVAT,
	})
	require.NoError(t, err)
	return id
}

func TestEnsureNamed_GetOrCreate(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	id1, created, err := s.EnsureNamed(ctx, storage.TBrands, "Natrel")
	require.NoError(t, err)
	assert.True(t, created)

	id2, created, err := s.EnsureNamed(ctx, storage.TBrands, "Natrel")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	other, _, err := s.EnsureNamed(ctx, storage.TBrands, "Lactantia")
	require.NoError(t, err)
	assert.NotEqual(t, id1, other)

	all, err := s.AllNamed(ctx, storage.TBrands)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"Natrel": id1, "Lactantia": other}, all)

	_, _, err = s.EnsureNamed(ctx, storage.TProducts, "x")
	assert.Error(t, err)
}

func TestEnsureProduct_KeyedBySKUAndStore(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	id := seedProduct(t, s, "NATREL-MILK")
	again := seedProduct(t, s, "NATREL-MILK")
	assert.Equal(t, id, again)

	st2, _, err := s.EnsureNamed(ctx, storage.TStores, "Quebec Retail")
	require.NoError(t, err)
	other, created, err := s.EnsureProduct(ctx, storage.NewProduct{SKU: "NATREL-MILK", CategoryID: 1, BrandID: 1, StoreID: st2, Price: dec("5.10"), VATPercentage: model.DefaultVAT})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, id, other)

	require.NoError(t, s.SetStoreURL(ctx, st2, "https://example.test/qc"))
	require.NoError(t, s.SetStoreURL(ctx, st2, "https://example.test/qc"))
}

func TestInsertPriceIfNewDay_DedupesByCalendarDay(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	pid := seedProduct(t, s, "SKU-1")

	ok, err := s.InsertPriceIfNewDay(ctx, pid, dec("4.99"), day(2024, 1, 1).Add(9*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InsertPriceIfNewDay(ctx, pid, dec("5.49"), day(2024, 1, 1).Add(23*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "same day, different price must still be skipped")

	ok, err = s.InsertPriceIfNewDay(ctx, pid, dec("5.49"), day(2024, 1, 2))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRefreshCurrentPrice_IgnoresFuture(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	pid := seedProduct(t, s, "SKU-1")

	for _, p := range []struct {
		price string
		at    time.Time
	}{
		{"3.00", day(2024, 1, 1)},
		{"3.50", day(2024, 2, 1)},
		{"9.99", day(2030, 1, 1)},
	} {
		_, err := s.InsertPriceIfNewDay(ctx, pid, dec(p.price), p.at)
		require.NoError(t, err)
	}
	require.NoError(t, s.RefreshCurrentPrice(ctx, pid, clock))

	var got decimal.Decimal
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT current_price FROM products WHERE id = ?`, pid).Scan(&got))
	assert.True(t, got.Equal(dec("3.50")), "current_price=%s", got)

	// No eligible history keeps the price.
	other := seedProduct(t, s, "SKU-2")
	require.NoError(t, s.RefreshCurrentPrice(ctx, other, clock))
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT current_price FROM products WHERE id = ?`, other).Scan(&got))
	assert.True(t, got.Equal(dec("4.99")), "current_price=%s", got)
}

func TestUpsertTranslation(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	pid := seedProduct(t, s, "SKU-1")

	require.NoError(t, s.UpsertTranslation(ctx, model.ProductTranslation{ProductID: pid, Name: "Milk"}))
	require.NoError(t, s.UpsertTranslation(ctx, model.ProductTranslation{ProductID: pid, Name: "Milk 2%", Description: "Partly skimmed"}))

	var (
		n    int
		name string
	)
	require.NoError(t, s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(name) FROM product_translations WHERE product_id = ? AND locale = 'en'`, pid).Scan(&n, &name))
	assert.Equal(t, 1, n)
	assert.Equal(t, "Milk 2%", name)
}

func TestImports_Lifecycle(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetImport(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	d := model.DataImport{ImportID: "kaggle_20240310120000_abcd1234", FilePath: "data.csv", Options: json.RawMessage(`{"chunk_size":1000}`)}
	require.NoError(t, s.CreateImport(ctx, d))
	require.NoError(t, s.CreateImport(ctx, d), "create is idempotent")

	got, err := s.GetImport(ctx, d.ImportID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, model.DefaultDataSource, got.DataSource)
	assert.JSONEq(t, `{"chunk_size":1000}`, string(got.Options))
	assert.Nil(t, got.StartedAt)
	assert.True(t, got.CreatedAt.Equal(clock))

	started := clock
	done := clock.Add(90 * time.Second)
	got.Status = model.StatusCompleted
	got.StartedAt, got.CompletedAt = &started, &done
	got.ProcessedRows, got.ErrorsCount = 10, 1
	got.Stats = json.RawMessage(`{"processed":10}`)
	require.NoError(t, s.UpdateImport(ctx, got))

	got, err = s.GetImport(ctx, d.ImportID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.DurationSeconds())
	assert.InDelta(t, 90, *got.DurationSeconds(), 0.001)
	assert.InDelta(t, 90, *got.SuccessRate(), 0.001)

	require.ErrorIs(t, s.UpdateImport(ctx, model.DataImport{ImportID: "nope"}), storage.ErrNotFound)

	require.NoError(t, s.CreateImport(ctx, model.DataImport{ImportID: "second", FilePath: "b.csv"}))
	list, err := s.ListImports(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "second", list[0].ImportID)
}

func TestWarehouseTx_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	pid := seedProduct(t, s, "SKU-1")
	bare := seedProduct(t, s, "SKU-2")
	require.NoError(t, s.UpsertTranslation(ctx, model.ProductTranslation{ProductID: pid, Name: "Milk"}))
	for _, p := range []struct {
		id    int64
		price string
		at    time.Time
	}{
		{pid, "2.00", day(2024, 1, 1)},
		{pid, "2.50", day(2024, 1, 5)},
		{bare, "7.00", day(2024, 1, 2)},
	} {
		_, err := s.InsertPriceIfNewDay(ctx, p.id, dec(p.price), p.at)
		require.NoError(t, err)
	}

	tx, err := s.BeginWarehouse(ctx)
	require.NoError(t, err)

	lo, hi, ok, err := tx.HistoryDateRange(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, lo.Equal(day(2024, 1, 1)))
	assert.True(t, hi.Equal(day(2024, 1, 5)))

	var dates []model.DimDate
	for _, d := range model.DateRange(lo, hi) {
		dates = append(dates, model.NewDimDate(d))
	}
	n, err := tx.InsertDimDates(ctx, dates)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	n, err = tx.InsertDimDates(ctx, dates[:2])
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	ids, err := tx.DimDateIDs(ctx, lo, hi)
	require.NoError(t, err)
	require.Len(t, ids, 5)

	snaps, err := tx.ProductSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "Milk", snaps[0].Name)
	assert.Equal(t, "SKU-2", snaps[1].Name, "untranslated products fall back to sku")
	assert.Equal(t, "Natrel", snaps[0].Brand)
	assert.Equal(t, "Ontario Retail", snaps[0].Store)
	_, err = tx.UpsertDimProducts(ctx, snaps)
	require.NoError(t, err)
	_, err = tx.UpsertDimProducts(ctx, snaps)
	require.NoError(t, err)

	since := day(2024, 1, 4)
	hist, err := tx.PriceHistoryForFacts(ctx, &since)
	require.NoError(t, err)
	require.Len(t, hist, 2, "only products with history since the cutoff, with their full history")
	assert.Equal(t, pid, hist[0].ProductID)
	assert.True(t, hist[0].EffectiveDate.Before(hist[1].EffectiveDate))

	all, err := tx.PriceHistoryForFacts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)

	facts := []model.FactPriceChange{
		{ProductID: pid, DateID: ids["2024-01-01"], Price: dec("2.00"), EffectiveDatetime: day(2024, 1, 1)},
		{ProductID: pid, DateID: ids["2024-01-05"], Price: dec("2.50"),
			PriceChange: decimal.NewNullDecimal(dec("0.50")), PriceChangePercentage: decimal.NewNullDecimal(dec("25.0000")),
			EffectiveDatetime: day(2024, 1, 5)},
		{ProductID: bare, DateID: ids["2024-01-02"], Price: dec("7.00"), EffectiveDatetime: day(2024, 1, 2)},
	}
	n, err = tx.InsertFacts(ctx, facts)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	require.NoError(t, tx.Commit())

	from := day(2024, 1, 2)
	trends, err := s.PriceTrends(ctx, model.ReportFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, trends, 2)
	assert.Equal(t, "2024-01-02", trends[0].Date)
	assert.Equal(t, "SKU-2", trends[0].SKU)
	assert.False(t, trends[0].PriceChange.Valid)
	assert.True(t, trends[1].PriceChangePercentage.Decimal.Equal(dec("25")))

	sum, err := s.ProductSummary(ctx, model.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, sum, 2)
	assert.Equal(t, "SKU-1", sum[0].SKU)
	assert.EqualValues(t, 2, sum[0].PriceChangesCount)
	assert.True(t, sum[0].AvgPrice.Equal(dec("2.25")), "avg=%s", sum[0].AvgPrice)
	assert.True(t, sum[0].AvgChangePercentage.Decimal.Equal(dec("25")))
	assert.False(t, sum[1].AvgChangePercentage.Valid)

	cats, err := s.CategoryAnalysis(ctx, model.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Dairy", cats[0].Category)
	assert.EqualValues(t, 2, cats[0].ProductsCount)
	assert.True(t, cats[0].MaxCategoryPrice.Equal(dec("7")))

	// Incremental delete only touches facts at or after the cutoff.
	tx, err = s.BeginWarehouse(ctx)
	require.NoError(t, err)
	n, err = tx.DeleteFacts(ctx, &since)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NoError(t, tx.Rollback())

	trends, err = s.PriceTrends(ctx, model.ReportFilter{})
	require.NoError(t, err)
	assert.Len(t, trends, 3, "rollback keeps every fact")
}
