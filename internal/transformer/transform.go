package transformer

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"priceetl/internal/model"
	"priceetl/internal/transformer/builtin"
)

// Reason explains why a row was rejected. The empty Reason means accepted.
type Reason string

const (
	ReasonMissingName     Reason = "missing_name"
	ReasonMissingCategory Reason = "missing_category"
	ReasonInvalidPrice    Reason = "invalid_price"
	ReasonInvalidYear     Reason = "invalid_year"
	ReasonInvalidMonth    Reason = "invalid_month"
	ReasonInvalidDate     Reason = "invalid_date"
)

const (
	maxSKULen   = 100
	minYear     = 2000
	unknownName = "Unknown"
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
}

// Record is a validated row ready for entity resolution.
type Record struct {
	ProductName   string
	SKU           string
	ExplicitSKU   bool
	Category      string
	Brand         string
	Store         string
	StoreURL      string
	Description   string
	VATPercentage decimal.Decimal
	Price         decimal.Decimal
	EffectiveDate time.Time
}

// Transform validates and normalizes r. It never fails: a row that cannot be
// used yields a non-empty Reason.
func Transform(r *Row) (Record, Reason) {
	var rec Record

	rec.ProductName = builtin.CleanString(r.String(FieldName))
	if rec.ProductName == "" {
		return rec, ReasonMissingName
	}
	rec.Category = builtin.CleanString(r.String(FieldCategory))
	if rec.Category == "" {
		return rec, ReasonMissingCategory
	}

	price, ok := builtin.CleanPrice(r.String(FieldPrice))
	if !ok || !price.IsPositive() {
		return rec, ReasonInvalidPrice
	}
	rec.Price = price

	eff, reason := effectiveDate(r)
	if reason != "" {
		return rec, reason
	}
	rec.EffectiveDate = eff

	rawBrand := builtin.CleanString(r.String(FieldBrand))
	rec.Brand = rawBrand
	if rec.Brand == "" {
		rec.Brand = unknownName
	}

	if sku := strings.TrimSpace(r.String(FieldSKU)); sku != "" {
		rec.SKU = builtin.Limit(sku, maxSKULen)
		rec.ExplicitSKU = true
	} else {
		rec.SKU = DeriveSKU(rawBrand, rec.ProductName)
	}

	if store := builtin.CleanString(r.String(FieldStore)); store != "" {
		rec.Store = store
	} else {
		rec.Store = builtin.StoreForProvince(builtin.CleanString(r.String(FieldProvince)))
	}
	rec.StoreURL = strings.TrimSpace(r.String(FieldStoreURL))
	rec.Description = strings.TrimSpace(r.String(FieldDescription))

	rec.VATPercentage = model.DefaultVAT
	if v, ok := builtin.CleanPrice(r.String(FieldVAT)); ok && !v.IsNegative() && v.LessThanOrEqual(decimal.NewFromInt(100)) {
		rec.VATPercentage = v
	}

	return rec, ""
}

// DeriveSKU builds "BRAND-NAME" from the first 10 runes of brand and the
// first 20 of name, slugged and uppercased.
func DeriveSKU(brand, name string) string {
	b := builtin.Slugify(builtin.Limit(brand, 10))
	n := builtin.Slugify(builtin.Limit(name, 20))
	return strings.ToUpper(b + "-" + n)
}

func effectiveDate(r *Row) (time.Time, Reason) {
	if s := strings.TrimSpace(r.String(FieldDate)); s != "" {
		t, ok := parseDate(s)
		if !ok {
			return time.Time{}, ReasonInvalidDate
		}
		if t.Year() < minYear {
			return time.Time{}, ReasonInvalidYear
		}
		return t, ""
	}

	ys := strings.TrimSpace(r.String(FieldYear))
	ms := strings.TrimSpace(r.String(FieldMonth))
	if ys == "" && ms == "" {
		return time.Time{}, ReasonInvalidDate
	}
	year, err := parseWhole(ys)
	if err != nil || year < minYear {
		return time.Time{}, ReasonInvalidYear
	}
	month, err := parseWhole(ms)
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, ReasonInvalidMonth
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), ""
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseWhole accepts "2023" and float-formatted integers such as "2023.0".
func parseWhole(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, strconv.ErrSyntax
	}
	return int(f), nil
}
