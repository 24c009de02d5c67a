package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/boardcast/pkg/models"
)

// keyPrefix namespaces cache entries so the deployment can share a Redis
// database with other services.
const keyPrefix = "boardcast:mapping:"

// Redis caches mappings in a shared Redis so invalidations are visible to
// every replica. A Redis failure degrades to a cache miss, never an error:
// the store below stays authoritative.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects to Redis and verifies connectivity.
func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	return &Redis{rdb: rdb}, nil
}

// NewRedisWithClient wraps an existing client. Used by tests running against
// miniredis.
func NewRedisWithClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (c *Redis) Get(ctx context.Context, guildID, channelID string) (*models.ChannelMapping, bool) {
	raw, err := c.rdb.Get(ctx, keyPrefix+cacheKey(guildID, channelID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().Err(err).Msg("redis cache get failed, treating as miss")
		}
		return nil, false
	}

	var m models.ChannelMapping
	if err := json.Unmarshal(raw, &m); err != nil {
		log.Warn().Err(err).Msg("redis cache entry undecodable, treating as miss")
		return nil, false
	}

	return &m, true
}

func (c *Redis) Put(ctx context.Context, m *models.ChannelMapping, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	raw, err := json.Marshal(m)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal mapping for cache")
		return
	}

	if err := c.rdb.Set(ctx, keyPrefix+cacheKey(m.GuildID, m.ChannelID), raw, ttl).Err(); err != nil {
		log.Debug().Err(err).Msg("redis cache put failed")
	}
}

func (c *Redis) Invalidate(ctx context.Context, guildID, channelID string) {
	if err := c.rdb.Del(ctx, keyPrefix+cacheKey(guildID, channelID)).Err(); err != nil {
		// A failed invalidation means a stale entry can live until the TTL
		// expires; worth a warning rather than silence.
		log.Warn().Err(err).Str("guild_id", guildID).Str("channel_id", channelID).
			Msg("redis cache invalidate failed")
	}
}

// Ping reports Redis connectivity.
func (c *Redis) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *Redis) Close() error {
	return c.rdb.Close()
}
