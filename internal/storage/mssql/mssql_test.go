package mssql

import (
	"strings"
	"testing"

	"priceetl/internal/storage"
	"priceetl/internal/storage/sqlstore"
)

func TestMssqlTableIdent(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{in: "brands", want: "[brands]"},
		{in: "dbo.brands", want: "[dbo].[brands]"},
		{in: "we]ird", want: "[we]]ird]"},
	}
	for _, tc := range tests {
		if got := mssqlTableIdent(tc.in); got != tc.want {
			t.Fatalf("mssqlTableIdent(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCreateTableSQL_GuardedByObjectID(t *testing.T) {
	t.Parallel()

	ddl, err := sqlstore.CreateTableSQL(Dialect{}, storage.Schema[0])
	if err != nil {
		t.Fatalf("CreateTableSQL: %v", err)
	}
	if !strings.HasPrefix(ddl, "IF OBJECT_ID(N'categories', N'U') IS NULL BEGIN CREATE TABLE [categories] (") {
		t.Fatalf("missing guard: %s", ddl)
	}
	if !strings.Contains(ddl, "[id] BIGINT IDENTITY(1,1) PRIMARY KEY") {
		t.Fatalf("missing identity: %s", ddl)
	}
	if !strings.Contains(ddl, "[created_at] DATETIME2") {
		t.Fatalf("missing timestamp mapping: %s", ddl)
	}
}

func TestCreateIndex_Guarded(t *testing.T) {
	t.Parallel()

	got := Dialect{}.CreateIndex("products", storage.IndexSpec{Name: "ux_products_sku_store", Columns: []string{"sku", "store_id"}, Unique: true})
	want := "IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'ux_products_sku_store' AND object_id = OBJECT_ID(N'products')) " +
		"CREATE UNIQUE INDEX [ux_products_sku_store] ON [products] ([sku], [store_id]);"
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestInsertIgnore_NotExistsWithLocks(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	got := sqlstore.Rebind(d, d.InsertIgnore("products", []string{"sku", "store_id", "current_price"}, []string{"sku", "store_id"}, 2))
	want := "INSERT INTO [products] ([sku], [store_id], [current_price])" +
		" SELECT src.[sku], src.[store_id], src.[current_price]" +
		" FROM (VALUES (@p1, @p2, @p3), (@p4, @p5, @p6)) AS src ([sku], [store_id], [current_price])" +
		" WHERE NOT EXISTS (SELECT 1 FROM [products] AS tgt WITH (UPDLOCK, HOLDLOCK)" +
		" WHERE tgt.[sku] = src.[sku] AND tgt.[store_id] = src.[store_id])"
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestUpsert_Merge(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	got := d.Upsert("dim_products", []string{"product_id", "sku"}, []string{"product_id"}, []string{"sku"}, 1)
	want := "MERGE INTO [dim_products] WITH (HOLDLOCK) AS tgt USING (VALUES (?, ?)) AS src ([product_id], [sku])" +
		" ON tgt.[product_id] = src.[product_id]" +
		" WHEN MATCHED THEN UPDATE SET [sku] = src.[sku]" +
		" WHEN NOT MATCHED THEN INSERT ([product_id], [sku]) VALUES (src.[product_id], src.[sku]);"
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}

func TestSelectTop(t *testing.T) {
	t.Parallel()

	if got := (Dialect{}).SelectTop(1, "h.price", "FROM h ORDER BY h.id DESC"); got != "SELECT TOP (1) h.price FROM h ORDER BY h.id DESC" {
		t.Fatalf("SelectTop=%s", got)
	}
}
