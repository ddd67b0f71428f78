package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"costwatch/internal/config"
	"costwatch/internal/database"
	"costwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCredentialsStore struct {
	creds map[string]*models.TenantCredentials
}

func (s *fakeCredentialsStore) GetTenantCredentials(_ context.Context, tenantID string) (*models.TenantCredentials, error) {
	c, ok := s.creds[tenantID]
	if !ok {
		return nil, database.ErrCredentialsNotFound
	}
	return c, nil
}

func TestTokenExchange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	store := &fakeCredentialsStore{creds: map[string]*models.TenantCredentials{
		"tenant-1": {TenantID: "tenant-1", ClientID: "cid", ClientSecret: "csec", DirectoryID: "dir", SubscriptionID: "sub-1"},
	}}

	provider := NewTokenProvider(store, config.BillingConfig{
		TokenURL:    server.URL + "/%s/token",
		HTTPTimeout: 5 * time.Second,
	})

	token, creds, err := provider.Token(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, "sub-1", creds.SubscriptionID)
}

func TestTokenCredentialsNotFound(t *testing.T) {
	provider := NewTokenProvider(&fakeCredentialsStore{}, config.BillingConfig{TokenURL: "http://unused"})

	_, _, err := provider.Token(context.Background(), "missing-tenant")
	assert.ErrorIs(t, err, database.ErrCredentialsNotFound)
}

func TestTokenAuthFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	store := &fakeCredentialsStore{creds: map[string]*models.TenantCredentials{
		"tenant-1": {TenantID: "tenant-1", ClientID: "cid", ClientSecret: "bad", DirectoryID: "dir"},
	}}
	provider := NewTokenProvider(store, config.BillingConfig{TokenURL: server.URL, HTTPTimeout: 5 * time.Second})

	_, _, err := provider.Token(context.Background(), "tenant-1")
	assert.ErrorIs(t, err, ErrAuthFailed)
}
