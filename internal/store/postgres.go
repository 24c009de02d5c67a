package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/boardcast/pkg/models"
)

// Postgres is the durable Store used in real deployments.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Migrate creates the schema when it does not exist yet. Each table is tiny
// and independent, so plain CREATE IF NOT EXISTS is enough; there is no
// versioned migration history to manage.
func (s *Postgres) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS channel_mappings (
			guild_id   TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			board_id   TEXT NOT NULL,
			list_id    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (guild_id, channel_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_mappings_board ON channel_mappings (board_id)`,
		`CREATE TABLE IF NOT EXISTS default_mapping (
			singleton  BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
			board_id   TEXT NOT NULL,
			list_id    TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_registrations (
			board_id            TEXT NOT NULL,
			callback_url        TEXT NOT NULL,
			external_webhook_id TEXT NOT NULL,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (board_id, callback_url)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	log.Debug().Msg("database schema ensured")
	return nil
}

func (s *Postgres) GetMapping(ctx context.Context, guildID, channelID string) (*models.ChannelMapping, error) {
	query := `
	SELECT guild_id, channel_id, board_id, list_id, created_at, updated_at
	FROM channel_mappings
	WHERE guild_id = $1 AND channel_id = $2
	`

	var m models.ChannelMapping
	err := s.pool.QueryRow(ctx, query, guildID, channelID).Scan(
		&m.GuildID, &m.ChannelID, &m.BoardID, &m.ListID, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}

	return &m, nil
}

func (s *Postgres) UpsertMapping(ctx context.Context, m *models.ChannelMapping) error {
	query := `
	INSERT INTO channel_mappings (guild_id, channel_id, board_id, list_id, created_at, updated_at)
	VALUES ($1, $2, $3, $4, now(), now())
	ON CONFLICT (guild_id, channel_id)
	DO UPDATE SET board_id = EXCLUDED.board_id, list_id = EXCLUDED.list_id, updated_at = now()
	RETURNING created_at, updated_at
	`

	err := s.pool.QueryRow(ctx, query, m.GuildID, m.ChannelID, m.BoardID, m.ListID).
		Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert mapping: %w", wrapConstraint(err))
	}

	return nil
}

func (s *Postgres) DeleteMapping(ctx context.Context, guildID, channelID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM channel_mappings WHERE guild_id = $1 AND channel_id = $2`,
		guildID, channelID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListByBoard(ctx context.Context, boardID string) ([]models.ChannelMapping, error) {
	query := `
	SELECT guild_id, channel_id, board_id, list_id, created_at, updated_at
	FROM channel_mappings
	WHERE board_id = $1
	ORDER BY guild_id, channel_id
	`

	return s.queryMappings(ctx, query, boardID)
}

func (s *Postgres) ListMappings(ctx context.Context) ([]models.ChannelMapping, error) {
	query := `
	SELECT guild_id, channel_id, board_id, list_id, created_at, updated_at
	FROM channel_mappings
	ORDER BY guild_id, channel_id
	`

	return s.queryMappings(ctx, query)
}

func (s *Postgres) queryMappings(ctx context.Context, query string, args ...any) ([]models.ChannelMapping, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var out []models.ChannelMapping
	for rows.Next() {
		var m models.ChannelMapping
		if err := rows.Scan(&m.GuildID, &m.ChannelID, &m.BoardID, &m.ListID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mappings: %w", err)
	}

	return out, nil
}

func (s *Postgres) GetDefault(ctx context.Context) (*models.DefaultMapping, error) {
	var d models.DefaultMapping
	err := s.pool.QueryRow(ctx,
		`SELECT board_id, list_id, updated_at FROM default_mapping WHERE singleton`,
	).Scan(&d.BoardID, &d.ListID, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get default mapping: %w", err)
	}

	return &d, nil
}

func (s *Postgres) SetDefault(ctx context.Context, d *models.DefaultMapping) error {
	query := `
	INSERT INTO default_mapping (singleton, board_id, list_id, updated_at)
	VALUES (TRUE, $1, $2, now())
	ON CONFLICT (singleton)
	DO UPDATE SET board_id = EXCLUDED.board_id, list_id = EXCLUDED.list_id, updated_at = now()
	RETURNING updated_at
	`

	if err := s.pool.QueryRow(ctx, query, d.BoardID, d.ListID).Scan(&d.UpdatedAt); err != nil {
		return fmt.Errorf("failed to set default mapping: %w", err)
	}
	return nil
}

func (s *Postgres) ClearDefault(ctx context.Context) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM default_mapping WHERE singleton`)
	if err != nil {
		return fmt.Errorf("failed to clear default mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) GetRegistration(ctx context.Context, boardID string) (*models.WebhookRegistration, error) {
	var r models.WebhookRegistration
	err := s.pool.QueryRow(ctx,
		`SELECT board_id, external_webhook_id, callback_url, created_at
		 FROM webhook_registrations WHERE board_id = $1`,
		boardID,
	).Scan(&r.BoardID, &r.ExternalWebhookID, &r.CallbackURL, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}

	return &r, nil
}

func (s *Postgres) PutRegistration(ctx context.Context, r *models.WebhookRegistration) error {
	query := `
	INSERT INTO webhook_registrations (board_id, callback_url, external_webhook_id, created_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (board_id, callback_url)
	DO UPDATE SET external_webhook_id = EXCLUDED.external_webhook_id
	RETURNING created_at
	`

	err := s.pool.QueryRow(ctx, query, r.BoardID, r.CallbackURL, r.ExternalWebhookID).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to put registration: %w", wrapConstraint(err))
	}
	return nil
}

func (s *Postgres) DeleteRegistration(ctx context.Context, boardID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhook_registrations WHERE board_id = $1`, boardID)
	if err != nil {
		return fmt.Errorf("failed to delete registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListRegistrations(ctx context.Context) ([]models.WebhookRegistration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT board_id, external_webhook_id, callback_url, created_at
		 FROM webhook_registrations ORDER BY board_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	var out []models.WebhookRegistration
	for rows.Next() {
		var r models.WebhookRegistration
		if err := rows.Scan(&r.BoardID, &r.ExternalWebhookID, &r.CallbackURL, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read registrations: %w", err)
	}

	return out, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// wrapConstraint converts Postgres unique violations into ErrConstraint so
// callers never have to know pg error codes.
func wrapConstraint(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConstraint
	}
	return err
}
