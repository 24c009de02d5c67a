// Package cache is the read-side performance layer in front of the mapping
// store. It is never authoritative: every implementation may drop entries at
// any time, and resolution must stay correct with caching disabled.
package cache

import (
	"context"
	"time"

	"github.com/boardcast/pkg/models"
)

// Cache holds copies of channel mappings for a bounded time.
type Cache interface {
	// Get returns the cached mapping for the channel, or false on miss.
	Get(ctx context.Context, guildID, channelID string) (*models.ChannelMapping, bool)

	// Put stores a copy of m under its (guild_id, channel_id) key for ttl.
	// A ttl <= 0 disables caching: the call is a no-op.
	Put(ctx context.Context, m *models.ChannelMapping, ttl time.Duration)

	// Invalidate drops the entry for the channel. Called synchronously
	// after every store write so readers never see a stale mapping for
	// longer than the write itself.
	Invalidate(ctx context.Context, guildID, channelID string)

	// Ping reports whether the cache backend is reachable. Health checks
	// surface a failure as informational only: a dead cache degrades every
	// lookup to a miss, it does not make resolution incorrect.
	Ping(ctx context.Context) error
}

func cacheKey(guildID, channelID string) string {
	return guildID + ":" + channelID
}
