package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/boardcast/pkg/models"
)

const shardCount = 16

// Memory is a sharded in-process cache. Keys hash onto independent shards so
// reads never contend with writes for unrelated channels.
type Memory struct {
	shards [shardCount]memoryShard
	stop   chan struct{}
	once   sync.Once
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	mapping   models.ChannelMapping
	expiresAt time.Time
}

// NewMemory creates the cache and starts a janitor that sweeps expired
// entries once a minute. Call Stop when done.
func NewMemory() *Memory {
	c := &Memory{stop: make(chan struct{})}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]memoryEntry)
	}

	go c.janitor()
	return c
}

func (c *Memory) Get(_ context.Context, guildID, channelID string) (*models.ChannelMapping, bool) {
	key := cacheKey(guildID, channelID)
	shard := c.shard(key)

	shard.mu.RLock()
	e, ok := shard.entries[key]
	shard.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		// Lazily drop the dead entry; the janitor would get it eventually.
		shard.mu.Lock()
		if cur, still := shard.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(shard.entries, key)
		}
		shard.mu.Unlock()
		return nil, false
	}

	out := e.mapping
	return &out, true
}

func (c *Memory) Put(_ context.Context, m *models.ChannelMapping, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	key := cacheKey(m.GuildID, m.ChannelID)
	shard := c.shard(key)

	shard.mu.Lock()
	shard.entries[key] = memoryEntry{mapping: *m, expiresAt: time.Now().Add(ttl)}
	shard.mu.Unlock()
}

func (c *Memory) Invalidate(_ context.Context, guildID, channelID string) {
	key := cacheKey(guildID, channelID)
	shard := c.shard(key)

	shard.mu.Lock()
	delete(shard.entries, key)
	shard.mu.Unlock()
}

// Ping always succeeds; the process-local cache has no backend to lose.
func (c *Memory) Ping(_ context.Context) error {
	return nil
}

// Stop shuts down the janitor goroutine.
func (c *Memory) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Memory) shard(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.shards[h.Sum32()%shardCount]
}

func (c *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			for i := range c.shards {
				shard := &c.shards[i]
				shard.mu.Lock()
				for key, e := range shard.entries {
					if now.After(e.expiresAt) {
						delete(shard.entries, key)
					}
				}
				shard.mu.Unlock()
			}
		}
	}
}
