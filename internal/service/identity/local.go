package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/peregrinehq/gangway/internal/domain"
	"github.com/peregrinehq/gangway/internal/repository"
	"github.com/peregrinehq/gangway/pkg/crypto"
	"github.com/peregrinehq/gangway/pkg/jwt"
)

// LocalProvider is an embedded identity provider backed by the repository.
// Tokens are HS256 JWTs signed with a shared secret, so the gateway can
// validate them without a network hop.
type LocalProvider struct {
	clients repository.IdentityClientRepository
	secret  string
	logger  *slog.Logger
}

// NewLocalProvider constructs a LocalProvider.
func NewLocalProvider(clients repository.IdentityClientRepository, secret string, logger *slog.Logger) *LocalProvider {
	return &LocalProvider{clients: clients, secret: secret, logger: logger}
}

var _ Provider = (*LocalProvider)(nil)

// CreatePool mints a pool identifier. Pools are pure namespaces locally,
// nothing is stored until a client is registered.
func (p *LocalProvider) CreatePool(ctx context.Context, name string) (string, error) {
	return "pool-" + uuid.NewString(), nil
}

// CreateClient registers a client and returns its one-time plaintext secret.
func (p *LocalProvider) CreateClient(ctx context.Context, poolID, name string, tokenValidity time.Duration) (ClientCredentials, error) {
	secret, err := randomSecret()
	if err != nil {
		return ClientCredentials{}, fmt.Errorf("generate client secret: %w", err)
	}
	hash, err := crypto.HashSecret(secret)
	if err != nil {
		return ClientCredentials{}, fmt.Errorf("hash client secret: %w", err)
	}
	client := &domain.IdentityClient{
		ID:            "client-" + uuid.NewString(),
		PoolID:        poolID,
		Name:          name,
		SecretHash:    hash,
		TokenValidity: tokenValidity,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.clients.CreateIdentityClient(ctx, client); err != nil {
		return ClientCredentials{}, fmt.Errorf("store client registration: %w", err)
	}
	return ClientCredentials{ClientID: client.ID, Secret: secret}, nil
}

// ValidateToken checks signature, expiry and that the client is still
// registered. Rejections carry the provider's reason, not an error.
func (p *LocalProvider) ValidateToken(ctx context.Context, token string) (Validation, error) {
	claims, err := jwt.Parse(token, p.secret)
	if err != nil {
		return Validation{Valid: false, Reason: err.Error()}, nil
	}
	if _, err := p.clients.GetIdentityClient(ctx, claims.ClientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Validation{Valid: false, Reason: "client is not registered"}, nil
		}
		return Validation{}, fmt.Errorf("look up client %s: %w", claims.ClientID, err)
	}
	return Validation{Valid: true, Subject: claims.ClientID}, nil
}

// IssueToken exchanges client credentials for a signed token.
func (p *LocalProvider) IssueToken(ctx context.Context, clientID, secret string) (string, error) {
	client, err := p.clients.GetIdentityClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", errors.New("unknown client")
		}
		return "", err
	}
	if err := crypto.CompareSecret(client.SecretHash, secret); err != nil {
		return "", errors.New("invalid client secret")
	}
	validity := client.TokenValidity
	if validity <= 0 {
		validity = defaultTokenValidity
	}
	return jwt.GenerateToken(client.ID, client.PoolID, p.secret, validity)
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
