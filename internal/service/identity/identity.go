// Package identity provisions and validates against the identity
// infrastructure that protects deployed endpoints.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/peregrinehq/gangway/internal/domain"
	"github.com/peregrinehq/gangway/internal/faults"
)

// Validation is the provider's verdict on a token.
type Validation struct {
	Valid   bool
	Subject string
	Reason  string
}

// ClientCredentials holds freshly issued client credentials. Secret is the
// only copy ever returned in plaintext.
type ClientCredentials struct {
	ClientID string
	Secret   string
}

// Provider abstracts the identity provider backend.
type Provider interface {
	CreatePool(ctx context.Context, name string) (string, error)
	CreateClient(ctx context.Context, poolID, name string, tokenValidity time.Duration) (ClientCredentials, error)
	ValidateToken(ctx context.Context, token string) (Validation, error)
}

const defaultTokenValidity = time.Hour

// Provisioner ensures a pool and client registration exist.
type Provisioner struct {
	provider Provider
	logger   *slog.Logger
}

// NewProvisioner constructs a Provisioner.
func NewProvisioner(provider Provider, logger *slog.Logger) Provisioner {
	return Provisioner{provider: provider, logger: logger}
}

// Ensure reuses the identity configuration when it already names a pool and
// client, otherwise provisions both. Freshly issued credentials are
// returned alongside the config; reuse returns nil credentials.
func (p Provisioner) Ensure(ctx context.Context, cfg domain.IdentityConfig, projectName string) (domain.IdentityConfig, *ClientCredentials, error) {
	if cfg.Reusable() {
		p.logger.Info("reusing identity configuration", "pool_id", cfg.PoolID, "client_id", cfg.ClientID)
		return cfg, nil, nil
	}

	validity := cfg.TokenValidity
	if validity <= 0 {
		validity = defaultTokenValidity
	}

	poolID := cfg.PoolID
	if poolID == "" {
		created, err := p.provider.CreatePool(ctx, projectName+"-pool")
		if err != nil {
			return domain.IdentityConfig{}, nil, faults.Wrap(faults.CategoryAuth, faults.CodeProvisionFailed,
				fmt.Sprintf("create identity pool for %s", projectName), err)
		}
		poolID = created
		p.logger.Info("identity pool created", "pool_id", poolID)
	}

	creds, err := p.provider.CreateClient(ctx, poolID, projectName+"-client", validity)
	if err != nil {
		return domain.IdentityConfig{}, nil, faults.Wrap(faults.CategoryAuth, faults.CodeProvisionFailed,
			fmt.Sprintf("register identity client for %s", projectName), err)
	}
	p.logger.Info("identity client registered", "pool_id", poolID, "client_id", creds.ClientID)

	out := domain.IdentityConfig{
		PoolID:        poolID,
		ClientID:      creds.ClientID,
		DiscoveryURL:  cfg.DiscoveryURL,
		TokenValidity: validity,
	}
	return out, &creds, nil
}
