package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boardcast/pkg/models"
)

// Memory is an in-process Store. It backs tests and db-less single-node
// deployments; data does not survive a restart.
type Memory struct {
	mu            sync.RWMutex
	mappings      map[mappingKey]models.ChannelMapping
	defaultDest   *models.DefaultMapping
	registrations map[string]models.WebhookRegistration
}

type mappingKey struct {
	guildID   string
	channelID string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		mappings:      make(map[mappingKey]models.ChannelMapping),
		registrations: make(map[string]models.WebhookRegistration),
	}
}

func (s *Memory) GetMapping(_ context.Context, guildID, channelID string) (*models.ChannelMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[mappingKey{guildID, channelID}]
	if !ok {
		return nil, ErrNotFound
	}
	out := m
	return &out, nil
}

func (s *Memory) UpsertMapping(_ context.Context, m *models.ChannelMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := mappingKey{m.GuildID, m.ChannelID}
	now := time.Now().UTC()

	if existing, ok := s.mappings[key]; ok {
		existing.BoardID = m.BoardID
		existing.ListID = m.ListID
		existing.UpdatedAt = now
		s.mappings[key] = existing
		*m = existing
		return nil
	}

	m.CreatedAt = now
	m.UpdatedAt = now
	s.mappings[key] = *m
	return nil
}

func (s *Memory) DeleteMapping(_ context.Context, guildID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := mappingKey{guildID, channelID}
	if _, ok := s.mappings[key]; !ok {
		return ErrNotFound
	}
	delete(s.mappings, key)
	return nil
}

func (s *Memory) ListByBoard(_ context.Context, boardID string) ([]models.ChannelMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ChannelMapping
	for _, m := range s.mappings {
		if m.BoardID == boardID {
			out = append(out, m)
		}
	}
	sortMappings(out)
	return out, nil
}

func (s *Memory) ListMappings(_ context.Context) ([]models.ChannelMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ChannelMapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		out = append(out, m)
	}
	sortMappings(out)
	return out, nil
}

func (s *Memory) GetDefault(_ context.Context) (*models.DefaultMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.defaultDest == nil {
		return nil, ErrNotFound
	}
	out := *s.defaultDest
	return &out, nil
}

func (s *Memory) SetDefault(_ context.Context, d *models.DefaultMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d.UpdatedAt = time.Now().UTC()
	copied := *d
	s.defaultDest = &copied
	return nil
}

func (s *Memory) ClearDefault(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.defaultDest == nil {
		return ErrNotFound
	}
	s.defaultDest = nil
	return nil
}

func (s *Memory) GetRegistration(_ context.Context, boardID string) (*models.WebhookRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.registrations[boardID]
	if !ok {
		return nil, ErrNotFound
	}
	out := r
	return &out, nil
}

func (s *Memory) PutRegistration(_ context.Context, r *models.WebhookRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.registrations[r.BoardID] = *r
	return nil
}

func (s *Memory) DeleteRegistration(_ context.Context, boardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registrations[boardID]; !ok {
		return ErrNotFound
	}
	delete(s.registrations, boardID)
	return nil
}

func (s *Memory) ListRegistrations(_ context.Context) ([]models.WebhookRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.WebhookRegistration, 0, len(s.registrations))
	for _, r := range s.registrations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BoardID < out[j].BoardID })
	return out, nil
}

func (s *Memory) Ping(_ context.Context) error { return nil }

func (s *Memory) Close() {}

func sortMappings(ms []models.ChannelMapping) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].GuildID != ms[j].GuildID {
			return ms[i].GuildID < ms[j].GuildID
		}
		return ms[i].ChannelID < ms[j].ChannelID
	})
}
