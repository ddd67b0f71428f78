package database

import (
	"context"
	"fmt"
)

// GetKnownResourceIDs returns the set of external resource ids the
// inventory currently knows for a tenant. The comparison engine uses
// it to flag cost rows whose resource no longer exists.
func (db *DB) GetKnownResourceIDs(ctx context.Context, tenantID string) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT external_resource_id FROM resources WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get known resources: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan resource id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// UpsertResource registers a resource in the inventory. The CRUD layer
// owns the inventory; this exists for tests and backfills.
func (db *DB) UpsertResource(ctx context.Context, tenantID, externalResourceID, resourceGroup, name string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO resources (tenant_id, external_resource_id, resource_group, name)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(tenant_id, external_resource_id) DO UPDATE SET
            resource_group = excluded.resource_group,
            name = excluded.name`,
		tenantID, externalResourceID, resourceGroup, name)
	if err != nil {
		return fmt.Errorf("failed to upsert resource: %w", err)
	}
	return nil
}
