package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peregrinehq/gangway/internal/domain"
	"github.com/peregrinehq/gangway/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	channel string
}

// New constructs a Repository. channel names the pg_notify channel used to
// announce history appends; empty disables notifications.
func New(pool *pgxpool.Pool, channel string) *Repository {
	return &Repository{pool: pool, channel: channel}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.HistoryRepository        = (*Repository)(nil)
	_ repository.IdentityClientRepository = (*Repository)(nil)
)

// AppendHistory inserts a deployment history row and announces it on the
// deploy events channel.
func (r *Repository) AppendHistory(ctx context.Context, entry *domain.DeploymentHistoryEntry) error {
	const query = `INSERT INTO deploy_history (id, project_id, deployment_id, artifact_ref, status, endpoint_url, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.ProjectID, entry.DeploymentID, entry.ArtifactRef,
		string(entry.Status), entry.EndpointURL, entry.Message, entry.CreatedAt)
	if err != nil {
		return err
	}
	r.notify(ctx, entry)
	return nil
}

// LastSuccessByProject returns the most recent SUCCESS entry for a project.
func (r *Repository) LastSuccessByProject(ctx context.Context, projectID string) (*domain.DeploymentHistoryEntry, error) {
	const query = `SELECT id, project_id, deployment_id, artifact_ref, status, endpoint_url, message, created_at
		FROM deploy_history
		WHERE project_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`
	row := r.pool.QueryRow(ctx, query, projectID, string(domain.HistorySuccess))
	entry, err := scanHistory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

// ListHistoryByProject returns recent history entries, newest first.
func (r *Repository) ListHistoryByProject(ctx context.Context, projectID string, limit int) ([]domain.DeploymentHistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, project_id, deployment_id, artifact_ref, status, endpoint_url, message, created_at
		FROM deploy_history
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.DeploymentHistoryEntry
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// CreateIdentityClient inserts a local provider client registration.
func (r *Repository) CreateIdentityClient(ctx context.Context, client *domain.IdentityClient) error {
	const query = `INSERT INTO identity_clients (id, pool_id, name, secret_hash, token_validity_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		client.ID, client.PoolID, client.Name, client.SecretHash,
		int64(client.TokenValidity/time.Second), client.CreatedAt)
	return err
}

// GetIdentityClient retrieves a client registration by id.
func (r *Repository) GetIdentityClient(ctx context.Context, id string) (*domain.IdentityClient, error) {
	const query = `SELECT id, pool_id, name, secret_hash, token_validity_seconds, created_at
		FROM identity_clients WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var (
		client  domain.IdentityClient
		seconds int64
	)
	if err := row.Scan(&client.ID, &client.PoolID, &client.Name, &client.SecretHash, &seconds, &client.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	client.TokenValidity = time.Duration(seconds) * time.Second
	return &client, nil
}

func (r *Repository) notify(ctx context.Context, entry *domain.DeploymentHistoryEntry) {
	if r.channel == "" {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"project_id":    entry.ProjectID,
		"deployment_id": entry.DeploymentID,
		"artifact_ref":  entry.ArtifactRef,
		"status":        entry.Status,
		"endpoint_url":  entry.EndpointURL,
		"message":       entry.Message,
		"created_at":    entry.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	// Best effort: a dropped notification only affects live watchers, the
	// history row is already durable.
	_, _ = r.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, r.channel, string(payload))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (*domain.DeploymentHistoryEntry, error) {
	var (
		entry  domain.DeploymentHistoryEntry
		status string
	)
	if err := row.Scan(&entry.ID, &entry.ProjectID, &entry.DeploymentID, &entry.ArtifactRef,
		&status, &entry.EndpointURL, &entry.Message, &entry.CreatedAt); err != nil {
		return nil, err
	}
	entry.Status = domain.HistoryStatus(status)
	return &entry, nil
}
