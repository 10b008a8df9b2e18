// Package events bridges deployment history notifications from Postgres to
// connected stream subscribers. The deploy CLI appends history rows (which
// pg_notify on a channel) from its own process; the gateway listens here
// and fans the payloads out through the hub.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peregrinehq/gangway/internal/ws"
)

// DeployEvent is the payload announced on the deploy events channel.
type DeployEvent struct {
	ProjectID    string `json:"project_id"`
	DeploymentID string `json:"deployment_id"`
	ArtifactRef  string `json:"artifact_ref"`
	Status       string `json:"status"`
	EndpointURL  string `json:"endpoint_url"`
	Message      string `json:"message"`
	CreatedAt    string `json:"created_at"`
}

// Listener runs a LISTEN loop on the deploy events channel.
type Listener struct {
	pool    *pgxpool.Pool
	hub     *ws.Hub
	channel string
	logger  *slog.Logger
}

// NewListener constructs a Listener.
func NewListener(pool *pgxpool.Pool, hub *ws.Hub, channel string, logger *slog.Logger) *Listener {
	return &Listener{pool: pool, hub: hub, channel: channel, logger: logger}
}

// Run blocks listening for notifications until ctx is cancelled. Lost
// connections are re-acquired with a small backoff.
func (l *Listener) Run(ctx context.Context) {
	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("deploy event listener reconnecting", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+l.channel); err != nil {
		return err
	}
	l.logger.Info("listening for deploy events", "channel", l.channel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.dispatch(notification.Payload)
	}
}

// dispatch fans one notification payload out to the project's subscribers.
// Malformed payloads and payloads without a project are dropped.
func (l *Listener) dispatch(payload string) bool {
	var event DeployEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		l.logger.Warn("malformed deploy event payload", "error", err)
		return false
	}
	if event.ProjectID == "" {
		l.logger.Warn("deploy event missing project id")
		return false
	}
	l.hub.Broadcast(event.ProjectID, []byte(payload))
	return true
}
