// Package transformer turns raw header-aligned rows into validated price
// records.
package transformer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"priceetl/internal/transformer/builtin"
)

// Field is a logical input column.
type Field int

const (
	FieldName Field = iota
	FieldCategory
	FieldBrand
	FieldProvince
	FieldStore
	FieldStoreURL
	FieldPrice
	FieldYear
	FieldMonth
	FieldDate
	FieldSKU
	FieldDescription
	FieldVAT

	NumFields
)

var fieldNames = [NumFields]string{
	"name", "category", "brand", "province", "store", "store_url",
	"price", "year", "month", "date", "sku", "description", "vat",
}

func (f Field) String() string {
	if f < 0 || f >= NumFields {
		return "field(" + strconv.Itoa(int(f)) + ")"
	}
	return fieldNames[f]
}

// Aliases lists the accepted source column names per field. The first alias
// present in a header wins.
var Aliases = [NumFields][]string{
	FieldName:        {"product_name", "name", "title"},
	FieldCategory:    {"category", "category_name"},
	FieldBrand:       {"brand", "manufacturer"},
	FieldProvince:    {"province", "region"},
	FieldStore:       {"store", "retailer"},
	FieldStoreURL:    {"store_url", "retailer_url"},
	FieldPrice:       {"price"},
	FieldYear:        {"year"},
	FieldMonth:       {"month"},
	FieldDate:        {"effective_date", "date", "price_date"},
	FieldSKU:         {"sku", "id"},
	FieldDescription: {"description"},
	FieldVAT:         {"vat_percentage", "vat", "tax"},
}

// ErrMissingColumns is returned when a header cannot feed the transformer.
var ErrMissingColumns = errors.New("missing required columns")

// NormalizeHeader canonicalizes a source column name: BOM and edge space are
// removed, the name is lowercased and inner spaces become '_'.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\uFEFF")
	if builtin.HasEdgeSpace(h) {
		h = strings.TrimSpace(h)
	}
	return strings.ReplaceAll(strings.ToLower(h), " ", "_")
}

// Header maps each Field to a source column position, or -1.
type Header [NumFields]int

// ResolveHeader resolves raw column names against Aliases.
func ResolveHeader(names []string) (Header, error) {
	pos := make(map[string]int, len(names))
	for i, n := range names {
		n = NormalizeHeader(n)
		if _, dup := pos[n]; !dup {
			pos[n] = i
		}
	}
	return resolve(func(alias string) (int, bool) {
		i, ok := pos[alias]
		return i, ok
	})
}

// ResolveKeys resolves the keys of a JSON object. Positions are meaningless for
// objects, so the result only tells which alias key to read per field.
func ResolveKeys(obj map[string]any) (keys [NumFields]string, err error) {
	norm := make(map[string]string, len(obj))
	for k := range obj {
		n := NormalizeHeader(k)
		if prev, dup := norm[n]; !dup || k < prev {
			norm[n] = k
		}
	}
	_, err = resolve(func(alias string) (int, bool) {
		_, ok := norm[alias]
		return 0, ok
	})
	for f := Field(0); f < NumFields; f++ {
		for _, a := range Aliases[f] {
			if k, ok := norm[a]; ok {
				keys[f] = k
				break
			}
		}
	}
	return keys, err
}

func resolve(lookup func(alias string) (int, bool)) (Header, error) {
	var h Header
	for f := Field(0); f < NumFields; f++ {
		h[f] = -1
		for _, a := range Aliases[f] {
			if i, ok := lookup(a); ok {
				h[f] = i
				break
			}
		}
	}

	var missing []string
	if h[FieldName] < 0 {
		missing = append(missing, "name")
	}
	if h[FieldPrice] < 0 {
		missing = append(missing, "price")
	}
	if h[FieldDate] < 0 && h[FieldYear] < 0 {
		missing = append(missing, "date or year/month")
	}
	if len(missing) > 0 {
		return h, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return h, nil
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
