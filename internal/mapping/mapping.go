// Package mapping resolves chat channels to Trello boards and manages the
// mapping table itself. Resolution is the hot path: cache first, then the
// store, then the instance-wide default. Writes invalidate the cache
// synchronously so a read that follows a write always sees the new value.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/boardcast/internal/cache"
	"github.com/boardcast/internal/metrics"
	"github.com/boardcast/internal/store"
	"github.com/boardcast/internal/trello"
	"github.com/boardcast/pkg/models"
)

var (
	// ErrNoMappingConfigured means neither a channel mapping nor a default
	// mapping exists for the requested channel.
	ErrNoMappingConfigured = errors.New("no mapping configured for channel")

	// ErrBoardNotFound means the board id failed validation against Trello.
	ErrBoardNotFound = errors.New("board not found on trello")

	// ErrListNotOnBoard means the list exists but belongs to another board.
	ErrListNotOnBoard = errors.New("list does not belong to board")
)

// BoardValidator is the slice of the Trello client used to validate mapping
// writes. A nil validator disables validation entirely.
type BoardValidator interface {
	GetBoard(ctx context.Context, boardID string) (*trello.Board, error)
	GetList(ctx context.Context, listID string) (*trello.List, error)
}

// SetResult reports the outcome of a mapping write. Validated is false when
// Trello could not be reached and the mapping was accepted unverified.
type SetResult struct {
	Mapping   models.ChannelMapping `json:"mapping"`
	Validated bool                  `json:"validated"`
	Warning   string                `json:"warning,omitempty"`
}

// SetDefaultResult reports the outcome of a default-mapping write.
type SetDefaultResult struct {
	Default   models.Destination `json:"default"`
	Validated bool               `json:"validated"`
	Warning   string             `json:"warning,omitempty"`
}

// Service owns channel-to-board mapping state: the Resolve hot path used on
// every outbound message, and the configuration surface used by admins.
type Service struct {
	store     store.Store
	cache     cache.Cache
	ttl       time.Duration
	validator BoardValidator
	onChange  func()
}

// NewService creates a mapping service. validator may be nil to skip
// upstream validation of writes (used in tests and offline tooling).
func NewService(st store.Store, ca cache.Cache, ttl time.Duration, validator BoardValidator) *Service {
	return &Service{
		store:     st,
		cache:     ca,
		ttl:       ttl,
		validator: validator,
	}
}

// SetChangeNotifier registers a callback invoked after every successful
// mapping write or removal. The registry reconciler uses it to wake up.
func (s *Service) SetChangeNotifier(fn func()) {
	s.onChange = fn
}

// Resolve returns the destination for a channel: its own mapping if one
// exists, otherwise the instance default. Per-channel mappings are cached;
// the default fallback is never cached under the channel's key, so a
// mapping created later takes effect within one cache TTL at most.
func (s *Service) Resolve(ctx context.Context, guildID, channelID string) (models.Destination, error) {
	if m, ok := s.cache.Get(ctx, guildID, channelID); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return m.Destination(), nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	m, err := s.store.GetMapping(ctx, guildID, channelID)
	if err == nil {
		s.cache.Put(ctx, m, s.ttl)
		return m.Destination(), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.Destination{}, fmt.Errorf("failed to resolve mapping for %s/%s: %w", guildID, channelID, err)
	}

	def, err := s.store.GetDefault(ctx)
	if err == nil {
		return def.Destination(), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.Destination{}, fmt.Errorf("failed to load default mapping: %w", err)
	}

	return models.Destination{}, ErrNoMappingConfigured
}

// Get returns the explicit mapping for a channel, not falling back to the
// default. Callers that want fallback semantics use Resolve.
func (s *Service) Get(ctx context.Context, guildID, channelID string) (*models.ChannelMapping, error) {
	return s.store.GetMapping(ctx, guildID, channelID)
}

// Set creates or replaces the mapping for a channel. When a validator is
// configured the board and list are checked against Trello first; if Trello
// is unreachable the write is accepted and flagged as unvalidated rather
// than blocking configuration on upstream availability.
func (s *Service) Set(ctx context.Context, m models.ChannelMapping) (*SetResult, error) {
	result := &SetResult{Validated: s.validator != nil}

	if s.validator != nil {
		if err := s.validate(ctx, m.BoardID, m.ListID); err != nil {
			if errors.Is(err, trello.ErrUnavailable) {
				log.Warn().
					Str("board_id", m.BoardID).
					Err(err).
					Msg("trello unreachable, accepting mapping without validation")
				result.Validated = false
				result.Warning = "mapping accepted but not validated: trello is unreachable"
			} else {
				return nil, err
			}
		}
	}

	if err := s.store.UpsertMapping(ctx, &m); err != nil {
		return nil, fmt.Errorf("failed to save mapping for %s/%s: %w", m.GuildID, m.ChannelID, err)
	}

	s.cache.Invalidate(ctx, m.GuildID, m.ChannelID)
	s.notifyChange()

	log.Info().
		Str("guild_id", m.GuildID).
		Str("channel_id", m.ChannelID).
		Str("board_id", m.BoardID).
		Bool("validated", result.Validated).
		Msg("channel mapping saved")

	result.Mapping = m
	return result, nil
}

// Remove deletes the mapping for a channel. Returns store.ErrNotFound when
// no mapping exists.
func (s *Service) Remove(ctx context.Context, guildID, channelID string) error {
	if err := s.store.DeleteMapping(ctx, guildID, channelID); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, guildID, channelID)
	s.notifyChange()

	log.Info().
		Str("guild_id", guildID).
		Str("channel_id", channelID).
		Msg("channel mapping removed")
	return nil
}

// SetDefault sets the instance-wide fallback destination used by channels
// with no explicit mapping. Same degraded-validation semantics as Set: an
// unreachable Trello downgrades the write to unvalidated, it never blocks it.
func (s *Service) SetDefault(ctx context.Context, dest models.Destination) (*SetDefaultResult, error) {
	result := &SetDefaultResult{Default: dest, Validated: s.validator != nil}

	if s.validator != nil {
		if err := s.validate(ctx, dest.BoardID, dest.ListID); err != nil {
			if errors.Is(err, trello.ErrUnavailable) {
				log.Warn().
					Str("board_id", dest.BoardID).
					Err(err).
					Msg("trello unreachable, accepting default mapping without validation")
				result.Validated = false
				result.Warning = "default mapping accepted but not validated: trello is unreachable"
			} else {
				return nil, err
			}
		}
	}

	if err := s.store.SetDefault(ctx, &models.DefaultMapping{BoardID: dest.BoardID, ListID: dest.ListID}); err != nil {
		return nil, fmt.Errorf("failed to set default mapping: %w", err)
	}

	s.notifyChange()
	log.Info().
		Str("board_id", dest.BoardID).
		Bool("validated", result.Validated).
		Msg("default mapping set")
	return result, nil
}

// GetDefault returns the instance-wide fallback destination.
func (s *Service) GetDefault(ctx context.Context) (*models.DefaultMapping, error) {
	return s.store.GetDefault(ctx)
}

// ClearDefault removes the instance-wide fallback destination.
func (s *Service) ClearDefault(ctx context.Context) error {
	if err := s.store.ClearDefault(ctx); err != nil {
		return err
	}
	s.notifyChange()
	log.Info().Msg("default mapping cleared")
	return nil
}

// List returns all channel mappings ordered by guild then channel.
func (s *Service) List(ctx context.Context) ([]models.ChannelMapping, error) {
	return s.store.ListMappings(ctx)
}

// TargetsForBoard returns every channel mapped to a board. This is the
// reverse lookup the event router uses for fan-out; the default mapping
// deliberately contributes no targets here.
func (s *Service) TargetsForBoard(ctx context.Context, boardID string) ([]models.ChannelMapping, error) {
	return s.store.ListByBoard(ctx, boardID)
}

// MappedBoards returns the distinct board ids that currently have at least
// one channel mapping or are the default destination. The registry keeps
// upstream webhooks in sync with exactly this set.
func (s *Service) MappedBoards(ctx context.Context) ([]string, error) {
	mappings, err := s.store.ListMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}

	seen := make(map[string]bool)
	var boards []string
	for _, m := range mappings {
		if !seen[m.BoardID] {
			seen[m.BoardID] = true
			boards = append(boards, m.BoardID)
		}
	}

	def, err := s.store.GetDefault(ctx)
	if err == nil && !seen[def.BoardID] {
		boards = append(boards, def.BoardID)
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load default mapping: %w", err)
	}

	return boards, nil
}

func (s *Service) validate(ctx context.Context, boardID, listID string) error {
	board, err := s.validator.GetBoard(ctx, boardID)
	if err != nil {
		if errors.Is(err, trello.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
		}
		return err
	}
	if board.Closed {
		return fmt.Errorf("%w: board %s is closed", ErrBoardNotFound, boardID)
	}

	if listID == "" {
		return nil
	}

	list, err := s.validator.GetList(ctx, listID)
	if err != nil {
		if errors.Is(err, trello.ErrNotFound) {
			return fmt.Errorf("%w: list %s not found", ErrListNotOnBoard, listID)
		}
		return err
	}
	if list.IDBoard != boardID {
		return fmt.Errorf("%w: list %s belongs to board %s", ErrListNotOnBoard, listID, list.IDBoard)
	}

	return nil
}

func (s *Service) notifyChange() {
	if s.onChange != nil {
		s.onChange()
	}
}
