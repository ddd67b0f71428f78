package database

import (
	"context"
	"database/sql"
	"fmt"

	"costwatch/internal/models"
)

// GetTenantCredentials returns the stored client credentials for a
// tenant, or ErrCredentialsNotFound when none are stored.
func (db *DB) GetTenantCredentials(ctx context.Context, tenantID string) (*models.TenantCredentials, error) {
	var creds models.TenantCredentials
	err := db.QueryRowContext(ctx,
		`SELECT tenant_id, client_id, client_secret, directory_id, subscription_id
         FROM tenant_credentials WHERE tenant_id = ?`, tenantID).Scan(
		&creds.TenantID,
		&creds.ClientID,
		&creds.ClientSecret,
		&creds.DirectoryID,
		&creds.SubscriptionID,
	)
	if err == sql.ErrNoRows {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant credentials: %w", err)
	}
	return &creds, nil
}

// PutTenantCredentials stores or replaces a tenant's credentials.
// Called by the admin surface; the pipeline itself only reads.
func (db *DB) PutTenantCredentials(ctx context.Context, creds *models.TenantCredentials) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO tenant_credentials (tenant_id, client_id, client_secret, directory_id, subscription_id)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(tenant_id) DO UPDATE SET
            client_id = excluded.client_id,
            client_secret = excluded.client_secret,
            directory_id = excluded.directory_id,
            subscription_id = excluded.subscription_id,
            updated_at = CURRENT_TIMESTAMP`,
		creds.TenantID,
		creds.ClientID,
		creds.ClientSecret,
		creds.DirectoryID,
		creds.SubscriptionID,
	)
	if err != nil {
		return fmt.Errorf("failed to put tenant credentials: %w", err)
	}
	return nil
}
