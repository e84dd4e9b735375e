package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportFilter bounds reports by dim_dates.full_date, both ends inclusive.
type ReportFilter struct {
	From *time.Time
	To   *time.Time
}

// PriceTrend is one fact row joined to its product and date.
type PriceTrend struct {
	SKU                   string              `json:"sku"`
	Name                  string              `json:"name"`
	Category              string              `json:"category"`
	Brand                 string              `json:"brand"`
	Store                 string              `json:"store"`
	FullDate              time.Time           `json:"-"`
	Date                  string              `json:"full_date"`
	Price                 decimal.Decimal     `json:"price"`
	PriceChange           decimal.NullDecimal `json:"price_change"`
	PriceChangePercentage decimal.NullDecimal `json:"price_change_percentage"`
}

func (PriceTrend) Header() []string {
	return []string{"sku", "name", "category", "brand", "store", "full_date", "price", "price_change", "price_change_percentage"}
}

func (r PriceTrend) Values() []any {
	return []any{r.SKU, r.Name, r.Category, r.Brand, r.Store, r.Date, r.Price, r.PriceChange, r.PriceChangePercentage}
}

// ProductSummary aggregates the facts of one product.
type ProductSummary struct {
	SKU                 string              `json:"sku"`
	Name                string              `json:"name"`
	Category            string              `json:"category"`
	Brand               string              `json:"brand"`
	Store               string              `json:"store"`
	MinPrice            decimal.Decimal     `json:"min_price"`
	MaxPrice            decimal.Decimal     `json:"max_price"`
	AvgPrice            decimal.Decimal     `json:"avg_price"`
	PriceChangesCount   int64               `json:"price_changes_count"`
	AvgChangePercentage decimal.NullDecimal `json:"avg_change_percentage"`
}

func (ProductSummary) Header() []string {
	return []string{"sku", "name", "category", "brand", "store", "min_price", "max_price", "avg_price", "price_changes_count", "avg_change_percentage"}
}

func (r ProductSummary) Values() []any {
	return []any{r.SKU, r.Name, r.Category, r.Brand, r.Store, r.MinPrice, r.MaxPrice, r.AvgPrice, r.PriceChangesCount, r.AvgChangePercentage}
}

// CategoryAnalysis aggregates the facts of one category.
type CategoryAnalysis struct {
	Category           string              `json:"category"`
	ProductsCount      int64               `json:"products_count"`
	MinCategoryPrice   decimal.Decimal     `json:"min_category_price"`
	MaxCategoryPrice   decimal.Decimal     `json:"max_category_price"`
	AvgCategoryPrice   decimal.Decimal     `json:"avg_category_price"`
	AvgPriceVolatility decimal.NullDecimal `json:"avg_price_volatility"`
}

func (CategoryAnalysis) Header() []string {
	return []string{"category", "products_count", "min_category_price", "max_category_price", "avg_category_price", "avg_price_volatility"}
}

func (r CategoryAnalysis) Values() []any {
	return []any{r.Category, r.ProductsCount, r.MinCategoryPrice, r.MaxCategoryPrice, r.AvgCategoryPrice, r.AvgPriceVolatility}
}
