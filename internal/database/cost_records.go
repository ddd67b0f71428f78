package database

import (
	"context"
	"fmt"
	"strings"

	"costwatch/internal/models"

	"github.com/shopspring/decimal"
)

// UpsertCostRecords writes deduplicated records in one transaction.
// Existing natural keys get their value replaced, not added to, so
// re-syncing the same chunk never double-counts. Returns rows written.
//
// Callers must pre-aggregate records sharing a natural key: the unique
// index rejects touching the same key twice within the transaction.
func (db *DB) UpsertCostRecords(ctx context.Context, records []models.CostRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx: %v", ErrStoreWrite, err)
	}
	defer tx.Rollback()

	query := `INSERT INTO cost_records (
                tenant_id, external_resource_id, resource_group, category, sub_category, meter,
                cost_amount, currency, usage_date
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(tenant_id, external_resource_id, usage_date, category, sub_category, meter)
            DO UPDATE SET
                cost_amount = excluded.cost_amount,
                currency = excluded.currency,
                resource_group = excluded.resource_group,
                updated_at = CURRENT_TIMESTAMP`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare upsert: %v", ErrStoreWrite, err)
	}
	defer stmt.Close()

	var written int64
	for i := range records {
		r := &records[i]
		if _, err := stmt.ExecContext(ctx,
			r.TenantID,
			r.ExternalResourceID,
			r.ResourceGroup,
			r.Category,
			r.SubCategory,
			r.Meter,
			r.CostAmount.String(),
			r.Currency,
			r.UsageDate,
		); err != nil {
			return 0, fmt.Errorf("%w: upsert record %s/%s: %v", ErrStoreWrite, r.ExternalResourceID, r.UsageDate, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrStoreWrite, err)
	}
	return written, nil
}

// CostRecordFilter narrows a paged cost_records read. Start and End are
// inclusive YYYY-MM-DD bounds; when both are empty the read is unbounded.
type CostRecordFilter struct {
	TenantID   string
	Start      string
	End        string
	Categories []string
}

// GetCostRecordsPage returns one page of matching records ordered by id.
// Callers page with limit/offset to bypass any single-query row cap.
func (db *DB) GetCostRecordsPage(ctx context.Context, filter CostRecordFilter, limit, offset int) ([]models.CostRecord, error) {
	var (
		where []string
		args  []interface{}
	)

	if filter.Start != "" && filter.End != "" {
		where = append(where, "usage_date BETWEEN ? AND ?")
		args = append(args, filter.Start, filter.End)
	}
	if filter.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if len(filter.Categories) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Categories)), ",")
		where = append(where, fmt.Sprintf("category IN (%s)", placeholders))
		for _, c := range filter.Categories {
			args = append(args, c)
		}
	}
	args = append(args, limit, offset)

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	query := fmt.Sprintf(`SELECT id, tenant_id, external_resource_id, resource_group, category, sub_category, meter,
               cost_amount, currency, usage_date
        FROM cost_records
        %s
        ORDER BY id
        LIMIT ? OFFSET ?`, clause)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost records: %w", err)
	}
	defer rows.Close()

	var records []models.CostRecord
	for rows.Next() {
		var (
			r      models.CostRecord
			amount string
		)
		if err := rows.Scan(
			&r.ID,
			&r.TenantID,
			&r.ExternalResourceID,
			&r.ResourceGroup,
			&r.Category,
			&r.SubCategory,
			&r.Meter,
			&amount,
			&r.Currency,
			&r.UsageDate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cost record: %w", err)
		}
		r.CostAmount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cost amount %q: %w", amount, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
