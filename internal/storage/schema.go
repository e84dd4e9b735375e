package storage

// ColumnType is a logical column type each backend maps to its own DDL.
type ColumnType int

const (
	TypeID        ColumnType = iota // auto-increment primary key
	TypeBigInt                      // foreign keys and counters
	TypeInt                         // small integers (date parts)
	TypeString                      // VARCHAR(255)
	TypeSKU                         // VARCHAR(100)
	TypeText                        // unbounded text
	TypeMoney                       // DECIMAL(10,2)
	TypePercent                     // DECIMAL(5,2)
	TypeChangePct                   // DECIMAL(8,4)
	TypeBool
	TypeTimestamp
	TypeDate
)

type ColumnSpec struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Default  string // raw SQL literal, e.g. "15.00"
}

type IndexSpec struct {
	Name    string
	Columns []string
	Unique  bool
}

type TableSpec struct {
	Name string
	// PrimaryKey names the TypeID column, or the natural key column when
	// NaturalKey is set.
	PrimaryKey string
	NaturalKey bool
	Columns    []ColumnSpec
	Indexes    []IndexSpec
}

// Table names.
const (
	TCategories   = "categories"
	TBrands       = "brands"
	TStores       = "stores"
	TProducts     = "products"
	TTranslations = "product_translations"
	TPriceHistory = "price_histories"
	TDimDates     = "dim_dates"
	TDimProducts  = "dim_products"
	TFacts        = "fact_price_changes"
	TDataImports  = "data_imports"
)

func named(table string, extra ...ColumnSpec) TableSpec {
	cols := []ColumnSpec{{Name: "id", Type: TypeID}, {Name: "name", Type: TypeString}}
	cols = append(cols, extra...)
	cols = append(cols,
		ColumnSpec{Name: "created_at", Type: TypeTimestamp, Nullable: true},
		ColumnSpec{Name: "updated_at", Type: TypeTimestamp, Nullable: true},
	)
	return TableSpec{
		Name:       table,
		PrimaryKey: "id",
		Columns:    cols,
		Indexes:    []IndexSpec{{Name: "ux_" + table + "_name", Columns: []string{"name"}, Unique: true}},
	}
}

// Schema is the full operational, warehouse and import-run schema in creation
// order.
var Schema = []TableSpec{
	named(TCategories),
	named(TBrands),
	named(TStores, ColumnSpec{Name: "url", Type: TypeString, Nullable: true}),
	{
		Name:       TProducts,
		PrimaryKey: "id",
		Columns: []ColumnSpec{
			{Name: "id", Type: TypeID},
			{Name: "sku", Type: TypeSKU},
			{Name: "category_id", Type: TypeBigInt},
			{Name: "brand_id", Type: TypeBigInt},
			{Name: "store_id", Type: TypeBigInt},
			{Name: "current_price", Type: TypeMoney},
			{Name: "vat_percentage", Type: TypePercent, Default: "15.00"},
			{Name: "created_at", Type: TypeTimestamp, Nullable: true},
			{Name: "updated_at", Type: TypeTimestamp, Nullable: true},
			{Name: "deleted_at", Type: TypeTimestamp, Nullable: true},
		},
		Indexes: []IndexSpec{
			{Name: "ux_products_sku_store", Columns: []string{"sku", "store_id"}, Unique: true},
			{Name: "ix_products_category", Columns: []string{"category_id"}},
		},
	},
	{
		Name:       TTranslations,
		PrimaryKey: "id",
		Columns: []ColumnSpec{
			{Name: "id", Type: TypeID},
			{Name: "product_id", Type: TypeBigInt},
			{Name: "locale", Type: TypeString},
			{Name: "name", Type: TypeString},
			{Name: "description", Type: TypeText, Nullable: true},
			{Name: "created_at", Type: TypeTimestamp, Nullable: true},
			{Name: "updated_at", Type: TypeTimestamp, Nullable: true},
		},
		Indexes: []IndexSpec{
			{Name: "ux_product_translations_product_locale", Columns: []string{"product_id", "locale"}, Unique: true},
		},
	},
	{
		Name:       TPriceHistory,
		PrimaryKey: "id",
		Columns: []ColumnSpec{
			{Name: "id", Type: TypeID},
			{Name: "product_id", Type: TypeBigInt},
			{Name: "price", Type: TypeMoney},
			{Name: "effective_date", Type: TypeTimestamp},
			{Name: "created_at", Type: TypeTimestamp, Nullable: true},
			{Name: "updated_at", Type: TypeTimestamp, Nullable: true},
			{Name: "deleted_at", Type: TypeTimestamp, Nullable: true},
		},
		Indexes: []IndexSpec{
			{Name: "ix_price_histories_product_date", Columns: []string{"product_id", "effective_date"}},
		},
	},
	{
		Name:       TDimDates,
		PrimaryKey: "id",
		Columns: []ColumnSpec{
			{Name: "id", Type: TypeID},
			{Name: "full_date", Type: TypeDate},
			{Name: "day", Type: TypeInt},
			{Name: "week", Type: TypeInt},
			{Name: "month", Type: TypeInt},
			{Name: "year", Type: TypeInt},
			{Name: "weekday", Type: TypeInt},
			{Name: "month_name", Type: TypeString},
			{Name: "weekday_name", Type: TypeString},
			{Name: "quarter", Type: TypeInt},
			{Name: "is_weekend", Type: TypeBool},
			{Name: "created_at", Type: TypeTimestamp, Nullable: true},
		},
		Indexes: []IndexSpec{
			{Name: "ux_dim_dates_full_date", Columns: []string{"full_date"}, Unique: true},
			{Name: "ix_dim_dates_year_month", Columns: []string{"year", "month"}},
		},
	},
	{
		Name:       TDimProducts,
		PrimaryKey: "product_id",
		NaturalKey: true,
		Columns: []ColumnSpec{
			{Name: "product_id", Type: TypeBigInt},
			{Name: "sku", Type: TypeSKU},
			{Name: "name", Type: TypeString, Nullable: true},
			{Name: "brand", Type: TypeString, Nullable: true},
			{Name: "category", Type: TypeString, Nullable: true},
			{Name: "store", Type: TypeString, Nullable: true},
			{Name: "vat_percentage", Type: TypePercent, Default: "15.00"},
			{Name: "created_at", Type: TypeTimestamp, Nullable: true},
			{Name: "updated_at", Type: TypeTimestamp, Nullable: true},
			{Name: "deleted_at", Type: TypeTimestamp, Nullable: true},
		},
		Indexes: []IndexSpec{
			{Name: "ix_dim_products_sku", Columns: []string{"sku"}},
			{Name: "ix_dim_products_attrs", Columns: []string{"brand", "category", "store"}},
		},
	},
	{
		Name:       TFacts,
		PrimaryKey: "id",
		Columns: []ColumnSpec{
			{Name: "id", Type: TypeID},
			{Name: "product_id", Type: TypeBigInt},
			{Name: "date_id", Type: TypeBigInt},
			{Name: "price", Type: TypeMoney},
			{Name: "price_change", Type: TypeMoney, Nullable: true},
			{Name: "price_change_percentage", Type: TypeChangePct, Nullable: true},
			{Name: "effective_datetime", Type: TypeTimestamp},
			{Name: "created_at", Type: TypeTimestamp, Nullable: true},
		},
		Indexes: []IndexSpec{
			{Name: "ix_fact_price_changes_product_date", Columns: []string{"product_id", "date_id"}},
			{Name: "ix_fact_price_changes_effective", Columns: []string{"effective_datetime"}},
		},
	},
	{
		Name:       TDataImports,
		PrimaryKey: "id",
		Columns: []ColumnSpec{
			{Name: "id", Type: TypeID},
			{Name: "import_id", Type: TypeString},
			{Name: "file_path", Type: TypeText},
			{Name: "data_source", Type: TypeString, Default: "'kaggle-import'"},
			{Name: "status", Type: TypeString, Default: "'pending'"},
			{Name: "options", Type: TypeText, Nullable: true},
			{Name: "stats", Type: TypeText, Nullable: true},
			{Name: "error_message", Type: TypeText, Nullable: true},
			{Name: "total_rows", Type: TypeBigInt, Default: "0"},
			{Name: "processed_rows", Type: TypeBigInt, Default: "0"},
			{Name: "products_created", Type: TypeBigInt, Default: "0"},
			{Name: "price_histories_created", Type: TypeBigInt, Default: "0"},
			{Name: "errors_count", Type: TypeBigInt, Default: "0"},
			{Name: "started_at", Type: TypeTimestamp, Nullable: true},
			{Name: "completed_at", Type: TypeTimestamp, Nullable: true},
			{Name: "created_at", Type: TypeTimestamp, Nullable: true},
			{Name: "updated_at", Type: TypeTimestamp, Nullable: true},
		},
		Indexes: []IndexSpec{
			{Name: "ux_data_imports_import_id", Columns: []string{"import_id"}, Unique: true},
			{Name: "ix_data_imports_status", Columns: []string{"status"}},
		},
	},
}

// IsNamedTable reports whether table is resolved by EnsureNamed.
func IsNamedTable(table string) bool {
	return table == TCategories || table == TBrands || table == TStores
}
