package domain

import "time"

// IdentityConfig references the identity infrastructure protecting a
// deployment's endpoint.
type IdentityConfig struct {
	PoolID        string        `json:"pool_id"`
	ClientID      string        `json:"client_id"`
	DiscoveryURL  string        `json:"discovery_url,omitempty"`
	TokenValidity time.Duration `json:"token_validity,omitempty"`
}

// Reusable reports whether the config already names provisioned
// infrastructure that can be reused as-is.
func (c IdentityConfig) Reusable() bool {
	return c.PoolID != "" && c.ClientID != ""
}

// IdentityClient is a registered gateway client in the local provider.
type IdentityClient struct {
	ID            string
	PoolID        string
	Name          string
	SecretHash    []byte
	TokenValidity time.Duration
	CreatedAt     time.Time
}
