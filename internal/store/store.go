// Package store persists channel mappings, the deployment default mapping,
// and Trello webhook registrations. Two implementations exist: Postgres for
// real deployments and Memory for tests and single-node db-less runs. Both
// honor the same error contract.
package store

import (
	"context"
	"errors"

	"github.com/boardcast/pkg/models"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConstraint is returned when a write loses a uniqueness race. The
	// caller surfaces it as a validation error, never a crash.
	ErrConstraint = errors.New("store: constraint violation")
)

// Store is the persistence contract shared by the resolver, the registry,
// and the admin surface. All writes are atomic at the row level; no
// operation spans rows.
type Store interface {
	// Channel mappings, keyed by (guild_id, channel_id).
	GetMapping(ctx context.Context, guildID, channelID string) (*models.ChannelMapping, error)
	UpsertMapping(ctx context.Context, m *models.ChannelMapping) error
	DeleteMapping(ctx context.Context, guildID, channelID string) error
	ListByBoard(ctx context.Context, boardID string) ([]models.ChannelMapping, error)
	ListMappings(ctx context.Context) ([]models.ChannelMapping, error)

	// Deployment-wide default destination. GetDefault returns ErrNotFound
	// when none is configured.
	GetDefault(ctx context.Context) (*models.DefaultMapping, error)
	SetDefault(ctx context.Context, d *models.DefaultMapping) error
	ClearDefault(ctx context.Context) error

	// Webhook registrations, keyed by board id for this deployment's
	// callback URL.
	GetRegistration(ctx context.Context, boardID string) (*models.WebhookRegistration, error)
	PutRegistration(ctx context.Context, r *models.WebhookRegistration) error
	DeleteRegistration(ctx context.Context, boardID string) error
	ListRegistrations(ctx context.Context) ([]models.WebhookRegistration, error)

	// Ping verifies the backing storage is reachable. Used by /healthz.
	Ping(ctx context.Context) error

	Close()
}
