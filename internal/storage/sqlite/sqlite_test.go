package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"priceetl/internal/storage"
	"priceetl/internal/storage/sqlstore"
)

func TestBindTime_RoundTripsThroughParseTime(t *testing.T) {
	t.Parallel()

	in := time.Date(2026, 1, 27, 12, 17, 8, 123, time.FixedZone("X", 3600))
	s, ok := Dialect{}.BindTime(in).(string)
	if !ok {
		t.Fatalf("BindTime should produce TEXT")
	}
	if s != "2026-01-27 11:17:08" {
		t.Fatalf("BindTime=%q", s)
	}
	got, err := sqlstore.ParseTime(s)
	if err != nil {
		t.Fatalf("ParseTime(%q): %v", s, err)
	}
	if !got.Equal(in.UTC().Truncate(time.Second)) {
		t.Fatalf("round trip got=%s want=%s", got, in.UTC().Truncate(time.Second))
	}
}

func TestBindTime_OrdersAsText(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	a := d.BindTime(time.Date(2024, 1, 9, 23, 0, 0, 0, time.UTC)).(string)
	b := d.BindTime(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)).(string)
	if !(a < b) {
		t.Fatalf("%q should sort before %q", a, b)
	}
	if got := d.BindDate(time.Date(2024, 3, 5, 22, 0, 0, 0, time.FixedZone("W", -5*3600))); got != "2024-03-06" {
		t.Fatalf("BindDate=%v", got)
	}
}

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:       "products",
		PrimaryKey: "id",
		Columns: []storage.ColumnSpec{
			{Name: "id", Type: storage.TypeID},
			{Name: "sku", Type: storage.TypeSKU},
			{Name: "vat_percentage", Type: storage.TypePercent, Default: "15.00"},
			{Name: "deleted_at", Type: storage.TypeTimestamp, Nullable: true},
		},
	}
	ddl, err := sqlstore.CreateTableSQL(Dialect{}, spec)
	if err != nil {
		t.Fatalf("CreateTableSQL: %v", err)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "products"`,
		`"id" INTEGER PRIMARY KEY AUTOINCREMENT`,
		`"sku" VARCHAR(100) NOT NULL`,
		`"vat_percentage" DECIMAL(5,2) NOT NULL DEFAULT 15.00`,
		`"deleted_at" TEXT`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("DDL missing %q:\n%s", want, ddl)
		}
	}
	if strings.Contains(ddl, `"deleted_at" TEXT NOT NULL`) {
		t.Fatalf("nullable column rendered NOT NULL:\n%s", ddl)
	}
}

func TestInsertAndUpsertSQL(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	got := d.InsertIgnore("brands", []string{"name", "created_at"}, []string{"name"}, 2)
	want := `INSERT OR IGNORE INTO "brands" ("name", "created_at") VALUES (?, ?), (?, ?)`
	if got != want {
		t.Fatalf("InsertIgnore:\n got %s\nwant %s", got, want)
	}

	got = d.Upsert("dim_products", []string{"product_id", "sku"}, []string{"product_id"}, []string{"sku"}, 1)
	want = `INSERT INTO "dim_products" ("product_id", "sku") VALUES (?, ?) ON CONFLICT ("product_id") DO UPDATE SET "sku" = excluded."sku"`
	if got != want {
		t.Fatalf("Upsert:\n got %s\nwant %s", got, want)
	}
}

func TestWithPragmas(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{in: "data.db", want: "data.db?_pragma=busy_timeout(5000)&_txlock=immediate&_pragma=journal_mode(WAL)"},
		{in: "file:x.db?cache=shared", want: "file:x.db?cache=shared&_pragma=busy_timeout(5000)&_txlock=immediate&_pragma=journal_mode(WAL)"},
		{in: ":memory:", want: ":memory:?_pragma=busy_timeout(5000)&_txlock=immediate"},
		{in: "x.db?_pragma=foreign_keys(1)", want: "x.db?_pragma=foreign_keys(1)"},
	}
	for _, tc := range tests {
		if got := withPragmas(tc.in); got != tc.want {
			t.Fatalf("withPragmas(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestOpen_EnsureSchemaIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "etl.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	for i := 0; i < 2; i++ {
		if err := repo.EnsureSchema(ctx); err != nil {
			t.Fatalf("EnsureSchema #%d: %v", i+1, err)
		}
	}
}
