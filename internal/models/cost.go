package models

import (
	"github.com/shopspring/decimal"
)

// CostRecord is one daily cost observation for an external resource.
// UsageDate is always a normalized YYYY-MM-DD string.
type CostRecord struct {
	ID                 int64           `json:"id"`
	TenantID           string          `json:"tenant_id"`
	ExternalResourceID string          `json:"external_resource_id"`
	ResourceGroup      string          `json:"resource_group"`
	Category           string          `json:"category"`
	SubCategory        string          `json:"sub_category"`
	Meter              string          `json:"meter"`
	CostAmount         decimal.Decimal `json:"cost_amount"`
	Currency           string          `json:"currency"`
	UsageDate          string          `json:"usage_date"`
}

// CostRecordKey is the natural key the store enforces as unique.
type CostRecordKey struct {
	TenantID           string
	ExternalResourceID string
	UsageDate          string
	Category           string
	SubCategory        string
	Meter              string
}

// Key returns the natural key of the record.
func (r *CostRecord) Key() CostRecordKey {
	return CostRecordKey{
		TenantID:           r.TenantID,
		ExternalResourceID: r.ExternalResourceID,
		UsageDate:          r.UsageDate,
		Category:           r.Category,
		SubCategory:        r.SubCategory,
		Meter:              r.Meter,
	}
}

// TenantCredentials are the stored client credentials used for the
// billing API token exchange. Managed by the admin surface; the
// pipeline only reads them.
type TenantCredentials struct {
	TenantID       string `json:"tenant_id"`
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"-"`
	DirectoryID    string `json:"directory_id"`
	SubscriptionID string `json:"subscription_id"`
}
