// Package model holds the operational, warehouse and import-run records shared
// by the ingestion, warehouse and reporting packages.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultVAT is applied to products whose source row carries no VAT column.
var DefaultVAT = decimal.RequireFromString("15.00")

// DefaultLocale is the translation locale written by ingestion and read by the
// product dimension.
const DefaultLocale = "en"

type Product struct {
	ID            int64
	SKU           string
	CategoryID    int64
	BrandID       int64
	StoreID       int64
	CurrentPrice  decimal.Decimal
	VATPercentage decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

type ProductTranslation struct {
	ProductID   int64
	Locale      string
	Name        string
	Description string
}

// PriceHistory is one observed price. Rows are append-only; they are only ever
// soft-deleted.
type PriceHistory struct {
	ID            int64
	ProductID     int64
	Price         decimal.Decimal
	EffectiveDate time.Time
}

// DimProduct is the type-1 snapshot of a product written by the warehouse load.
type DimProduct struct {
	ProductID     int64
	SKU           string
	Name          string
	Brand         string
	Category      string
	Store         string
	VATPercentage decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// FactPriceChange is one fact row per qualifying price history row.
// PriceChange and PriceChangePercentage are invalid when there is no earlier
// price for the product.
type FactPriceChange struct {
	ProductID             int64
	DateID                int64
	Price                 decimal.Decimal
	PriceChange           decimal.NullDecimal
	PriceChangePercentage decimal.NullDecimal
	EffectiveDatetime     time.Time
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
