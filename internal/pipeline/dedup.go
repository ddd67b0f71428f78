package pipeline

import (
	"fmt"
	"time"

	"costwatch/internal/billing"
	"costwatch/internal/models"

	"github.com/shopspring/decimal"
)

// NormalizeUsageDate brings the provider's usage date to YYYY-MM-DD.
// The provider emits dates in three textual forms: an 8-digit numeric
// form (20260112, sometimes as a JSON number), an ISO timestamp, or a
// bare YYYY-MM-DD prefix. Anything else is unparseable.
func NormalizeUsageDate(value interface{}) (string, bool) {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case float64:
		raw = fmt.Sprintf("%.0f", v)
	case int64:
		raw = fmt.Sprintf("%d", v)
	case int:
		raw = fmt.Sprintf("%d", v)
	default:
		return "", false
	}

	if len(raw) == 8 {
		if t, err := time.Parse("20060102", raw); err == nil {
			return t.Format(models.DateLayout), true
		}
		return "", false
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Format(models.DateLayout), true
	}

	if len(raw) >= 10 {
		if t, err := time.Parse(models.DateLayout, raw[:10]); err == nil {
			return t.Format(models.DateLayout), true
		}
	}

	return "", false
}

// MapRow turns one named provider row into a CostRecord candidate.
// Rows with an unparseable usage date are dropped, not fatal.
func MapRow(tenantID string, row billing.Row) (models.CostRecord, bool) {
	usageDate, ok := NormalizeUsageDate(row[billing.ColUsageDate])
	if !ok {
		return models.CostRecord{}, false
	}

	return models.CostRecord{
		TenantID:           tenantID,
		ExternalResourceID: row.String(billing.ColResourceID),
		ResourceGroup:      row.String(billing.ColResourceGroup),
		Category:           row.String(billing.ColCategory),
		SubCategory:        row.String(billing.ColSubCategory),
		Meter:              row.String(billing.ColMeter),
		CostAmount:         costAmount(row[billing.ColCost]),
		Currency:           row.String(billing.ColCurrency),
		UsageDate:          usageDate,
	}, true
}

func costAmount(value interface{}) decimal.Decimal {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v)
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	case int64:
		return decimal.NewFromInt(v)
	}
	return decimal.Zero
}

// Deduplicate collapses rows sharing a natural key into one summed
// record, preserving first-seen order. The store's upsert rejects
// touching the same key twice in one transaction, so this must run
// before every write.
func Deduplicate(records []models.CostRecord) []models.CostRecord {
	byKey := make(map[models.CostRecordKey]int, len(records))
	out := make([]models.CostRecord, 0, len(records))

	for i := range records {
		key := records[i].Key()
		if idx, seen := byKey[key]; seen {
			out[idx].CostAmount = out[idx].CostAmount.Add(records[i].CostAmount)
			continue
		}
		byKey[key] = len(out)
		out = append(out, records[i])
	}

	return out
}

// MapAndDeduplicate is the full per-chunk transform: map raw rows,
// drop the unparseable ones, then pre-aggregate by natural key.
func MapAndDeduplicate(tenantID string, rows []billing.Row) []models.CostRecord {
	records := make([]models.CostRecord, 0, len(rows))
	for _, row := range rows {
		if rec, ok := MapRow(tenantID, row); ok {
			records = append(records, rec)
		}
	}
	return Deduplicate(records)
}
