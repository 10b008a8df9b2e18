package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/peregrinehq/gangway/internal/service/identity"
)

// IdentityProviderClient talks to a remote identity provider.
type IdentityProviderClient struct {
	base string
	http *http.Client
}

// NewIdentityProviderClient constructs a client for the given base URL.
func NewIdentityProviderClient(base string) *IdentityProviderClient {
	return &IdentityProviderClient{base: base, http: newHTTPClient()}
}

var _ identity.Provider = (*IdentityProviderClient)(nil)

// CreatePool creates an identity pool and returns its id.
func (c *IdentityProviderClient) CreatePool(ctx context.Context, name string) (string, error) {
	body := struct {
		Name string `json:"name"`
	}{Name: name}
	var resp struct {
		PoolID string `json:"pool_id"`
	}
	if err := doJSON(ctx, c.http, http.MethodPost, c.base+"/v1/pools", body, &resp); err != nil {
		return "", fmt.Errorf("create pool %s: %w", name, err)
	}
	return resp.PoolID, nil
}

// CreateClient registers a client within a pool.
func (c *IdentityProviderClient) CreateClient(ctx context.Context, poolID, name string, tokenValidity time.Duration) (identity.ClientCredentials, error) {
	body := struct {
		Name                 string `json:"name"`
		TokenValiditySeconds int64  `json:"token_validity_seconds"`
	}{Name: name, TokenValiditySeconds: int64(tokenValidity / time.Second)}
	var resp struct {
		ClientID string `json:"client_id"`
		Secret   string `json:"secret"`
	}
	endpoint := fmt.Sprintf("%s/v1/pools/%s/clients", c.base, url.PathEscape(poolID))
	if err := doJSON(ctx, c.http, http.MethodPost, endpoint, body, &resp); err != nil {
		return identity.ClientCredentials{}, fmt.Errorf("create client %s: %w", name, err)
	}
	return identity.ClientCredentials{ClientID: resp.ClientID, Secret: resp.Secret}, nil
}

// ValidateToken asks the provider to validate a bearer token.
func (c *IdentityProviderClient) ValidateToken(ctx context.Context, token string) (identity.Validation, error) {
	body := struct {
		Token string `json:"token"`
	}{Token: token}
	var resp struct {
		Valid   bool   `json:"valid"`
		Subject string `json:"subject"`
		Reason  string `json:"reason"`
	}
	if err := doJSON(ctx, c.http, http.MethodPost, c.base+"/v1/tokens/validate", body, &resp); err != nil {
		return identity.Validation{}, fmt.Errorf("validate token: %w", err)
	}
	return identity.Validation{Valid: resp.Valid, Subject: resp.Subject, Reason: resp.Reason}, nil
}
