package repository

import (
	"context"

	"github.com/peregrinehq/gangway/internal/domain"
)

// HistoryRepository stores the append-only deployment history log.
type HistoryRepository interface {
	AppendHistory(ctx context.Context, entry *domain.DeploymentHistoryEntry) error
	LastSuccessByProject(ctx context.Context, projectID string) (*domain.DeploymentHistoryEntry, error)
	ListHistoryByProject(ctx context.Context, projectID string, limit int) ([]domain.DeploymentHistoryEntry, error)
}

// IdentityClientRepository persists clients registered with the local
// identity provider.
type IdentityClientRepository interface {
	CreateIdentityClient(ctx context.Context, client *domain.IdentityClient) error
	GetIdentityClient(ctx context.Context, id string) (*domain.IdentityClient, error)
}
