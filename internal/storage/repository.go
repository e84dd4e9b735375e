// Package storage defines the backend-neutral persistence contract of the
// pipeline and the registry that maps a configured kind to a backend.
//
// Each backend implements the same semantics in its own SQL: idempotent
// "insert if absent" (SQLite OR IGNORE, Postgres ON CONFLICT DO NOTHING,
// SQL Server NOT EXISTS), upserts, and day-window deduplication.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"priceetl/internal/model"
)

// ErrNotFound is returned by single-record lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Config selects and configures a backend.
type Config struct {
	Kind         string
	DSN          string
	MaxOpenConns int
}

// NewProduct is the payload of a product get-or-create.
type NewProduct struct {
	SKU           string
	CategoryID    int64
	BrandID       int64
	StoreID       int64
	Price         decimal.Decimal
	VATPercentage decimal.Decimal
}

// CatalogStore resolves operational entities. All Ensure* calls are safe to
// race: the database constraint decides the winner and every caller gets the
// same id back.
type CatalogStore interface {
	// EnsureNamed gets or creates a row of categories, brands or stores by exact
	// name. created reports whether this call inserted it.
	EnsureNamed(ctx context.Context, table, name string) (id int64, created bool, err error)
	// AllNamed returns name->id for one named table.
	AllNamed(ctx context.Context, table string) (map[string]int64, error)
	SetStoreURL(ctx context.Context, storeID int64, url string) error

	// EnsureProduct gets or creates a product keyed by (sku, store_id).
	// Soft-deleted products are returned as-is.
	EnsureProduct(ctx context.Context, p NewProduct) (id int64, created bool, err error)
	UpsertTranslation(ctx context.Context, t model.ProductTranslation) error
}

// HistoryStore appends price observations.
type HistoryStore interface {
	// InsertPriceIfNewDay inserts a price history row unless a non-deleted row
	// for the product already exists on the same UTC calendar day. The check and
	// the insert are one statement.
	InsertPriceIfNewDay(ctx context.Context, productID int64, price decimal.Decimal, effective time.Time) (bool, error)
	// RefreshCurrentPrice sets products.current_price from the latest history row
	// effective at or before now. Products without such a row keep their price.
	RefreshCurrentPrice(ctx context.Context, productID int64, now time.Time) error
}

// ImportStore persists import run records.
type ImportStore interface {
	GetImport(ctx context.Context, importID string) (model.DataImport, error)
	// CreateImport inserts d unless its import_id exists.
	CreateImport(ctx context.Context, d model.DataImport) error
	// UpdateImport writes every mutable column of d, matched by import_id.
	UpdateImport(ctx context.Context, d model.DataImport) error
	ListImports(ctx context.Context, limit int) ([]model.DataImport, error)
}

// WarehouseStore opens the single transaction a warehouse load runs in.
type WarehouseStore interface {
	BeginWarehouse(ctx context.Context) (WarehouseTx, error)
}

// WarehouseTx is the set of statements of one warehouse load. Nothing is
// visible to readers until Commit.
type WarehouseTx interface {
	// HistoryDateRange returns the min and max effective_date of non-deleted
	// history. ok is false when there is none.
	HistoryDateRange(ctx context.Context) (min, max time.Time, ok bool, err error)
	// InsertDimDates inserts the dates whose full_date is absent.
	InsertDimDates(ctx context.Context, dates []model.DimDate) (int64, error)
	// DimDateIDs maps "2006-01-02" to dim_dates.id for from..to inclusive.
	DimDateIDs(ctx context.Context, from, to time.Time) (map[string]int64, error)

	// ProductSnapshots reads every product, soft-deleted included, as a
	// dimension row.
	ProductSnapshots(ctx context.Context) ([]model.DimProduct, error)
	UpsertDimProducts(ctx context.Context, rows []model.DimProduct) (int64, error)

	// DeleteFacts deletes every fact, or only those effective at or after since.
	DeleteFacts(ctx context.Context, since *time.Time) (int64, error)
	// PriceHistoryForFacts returns the non-deleted history of every product that
	// has a row at or after since (all products when since is nil), ordered by
	// product, effective_date and id.
	PriceHistoryForFacts(ctx context.Context, since *time.Time) ([]model.PriceHistory, error)
	InsertFacts(ctx context.Context, rows []model.FactPriceChange) (int64, error)

	Commit() error
	Rollback() error
}

// ReportStore runs the warehouse reports.
type ReportStore interface {
	PriceTrends(ctx context.Context, f model.ReportFilter) ([]model.PriceTrend, error)
	ProductSummary(ctx context.Context, f model.ReportFilter) ([]model.ProductSummary, error)
	CategoryAnalysis(ctx context.Context, f model.ReportFilter) ([]model.CategoryAnalysis, error)
}

// Repository is everything a backend provides.
type Repository interface {
	CatalogStore
	HistoryStore
	ImportStore
	WarehouseStore
	ReportStore

	// EnsureSchema creates missing tables and indexes. It is idempotent.
	EnsureSchema(ctx context.Context) error
	Close() error
}

// Factory opens a backend.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Backends call it from init.
// It panics on an empty kind, a nil factory or a duplicate kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens the backend registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%q (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
