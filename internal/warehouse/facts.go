package warehouse

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"priceetl/internal/model"
)

var (
	hundred = decimal.NewFromInt(100)
	// maxPct is the largest magnitude a DECIMAL(8,4) column holds.
	maxPct = decimal.RequireFromString("9999.9999")
)

// ComputeFacts turns price history into facts. history must be ordered by
// product, effective_date and id, as PriceHistoryForFacts returns it. Only
// rows effective at or after cutoff produce a fact, but earlier rows still
// serve as the previous price. dateIDs maps time.DateOnly keys to dim_dates ids.
//
// The previous price of a row is the last row of the same product with a
// strictly earlier effective_date; on equal dates the highest id wins, which
// is the last one in the given order.
func ComputeFacts(history []model.PriceHistory, cutoff *time.Time, dateIDs map[string]int64) ([]model.FactPriceChange, error) {
	var (
		out []model.FactPriceChange

		product  int64 = -1
		curDate  time.Time
		curPrice decimal.Decimal
		prev     decimal.NullDecimal
	)
	for _, h := range history {
		switch {
		case h.ProductID != product:
			product = h.ProductID
			prev = decimal.NullDecimal{}
		case !h.EffectiveDate.Equal(curDate):
			prev = decimal.NewNullDecimal(curPrice)
		}
		curDate, curPrice = h.EffectiveDate, h.Price

		if cutoff != nil && h.EffectiveDate.Before(*cutoff) {
			continue
		}
		key := h.EffectiveDate.UTC().Format(time.DateOnly)
		dateID, ok := dateIDs[key]
		if !ok {
			return nil, fmt.Errorf("no dim_dates row for %s (price history %d)", key, h.ID)
		}

		f := model.FactPriceChange{
			ProductID:         h.ProductID,
			DateID:            dateID,
			Price:             h.Price,
			EffectiveDatetime: h.EffectiveDate,
		}
		if prev.Valid {
			change := h.Price.Sub(prev.Decimal)
			f.PriceChange = decimal.NewNullDecimal(change.Round(2))
			if prev.Decimal.IsPositive() {
				// Percentages the column cannot hold stay null, like a zero base.
				if pct := change.Div(prev.Decimal).Mul(hundred).Round(4); pct.Abs().LessThanOrEqual(maxPct) {
					f.PriceChangePercentage = decimal.NewNullDecimal(pct)
				}
			}
		}
		out = append(out, f)
	}
	return out, nil
}
