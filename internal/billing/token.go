package billing

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"costwatch/internal/config"
	"costwatch/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// CredentialsStore resolves stored per-tenant client credentials.
type CredentialsStore interface {
	GetTenantCredentials(ctx context.Context, tenantID string) (*models.TenantCredentials, error)
}

// TokenProvider exchanges a tenant's stored client credentials for a
// short-lived bearer token. Tokens are not cached across chunks: every
// chunk acquires a fresh one, which keeps long jobs immune to expiry
// races.
type TokenProvider struct {
	store      CredentialsStore
	cfg        config.BillingConfig
	httpClient *http.Client
}

func NewTokenProvider(store CredentialsStore, cfg config.BillingConfig) *TokenProvider {
	return &TokenProvider{
		store:      store,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Token resolves the tenant's credentials and performs the client
// credentials exchange. Returns the bearer token together with the
// credentials, so callers get the subscription id without a second
// store read. Propagates database.ErrCredentialsNotFound unchanged.
func (p *TokenProvider) Token(ctx context.Context, tenantID string) (string, *models.TenantCredentials, error) {
	creds, err := p.store.GetTenantCredentials(ctx, tenantID)
	if err != nil {
		return "", nil, err
	}

	tokenURL := p.cfg.TokenURL
	if strings.Contains(tokenURL, "%s") {
		tokenURL = fmt.Sprintf(tokenURL, creds.DirectoryID)
	}

	cc := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     tokenURL,
	}
	if p.cfg.Scope != "" {
		cc.Scopes = []string{p.cfg.Scope}
	}

	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := cc.Token(tokenCtx)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	return token.AccessToken, creds, nil
}
