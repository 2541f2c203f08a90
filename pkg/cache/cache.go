package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"plexmover/pkg/logger"
)

type entry struct {
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// RemoteFileCache remembers which remote paths already hold a file of a given
// size, backed by redis so the knowledge survives daemon restarts. All
// methods degrade to cache misses when redis is unavailable; the cache is an
// optimization, never an authority.
type RemoteFileCache struct {
	redisClient *redis.Client
	ttl         time.Duration
	log         *logger.Logger
}

func NewRemoteFileCache(redisClient *redis.Client, ttl time.Duration) *RemoteFileCache {
	return &RemoteFileCache{
		redisClient: redisClient,
		ttl:         ttl,
		log:         logger.NewDefault(),
	}
}

func cacheKey(hostID, remotePath string) string {
	return fmt.Sprintf("remote_exists:%s:%s", hostID, remotePath)
}

// Get reports the cached size of a remote file, if known.
func (c *RemoteFileCache) Get(ctx context.Context, hostID, remotePath string) (int64, bool) {
	if c == nil || c.redisClient == nil {
		return 0, false
	}

	raw, err := c.redisClient.Get(ctx, cacheKey(hostID, remotePath)).Result()
	if err != nil {
		return 0, false
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return 0, false
	}
	return e.Size, true
}

// Put records that a remote file exists with the given size.
func (c *RemoteFileCache) Put(ctx context.Context, hostID, remotePath string, size int64) {
	if c == nil || c.redisClient == nil {
		return
	}

	data, err := json.Marshal(entry{Size: size, Timestamp: time.Now()})
	if err != nil {
		return
	}

	if err := c.redisClient.Set(ctx, cacheKey(hostID, remotePath), data, c.ttl).Err(); err != nil {
		c.log.Warn("failed to cache remote file info", map[string]any{
			"host":  hostID,
			"path":  remotePath,
			"error": err.Error(),
		})
	}
}

// Forget drops a single cached path, for callers that changed the remote
// outside a transfer run.
func (c *RemoteFileCache) Forget(ctx context.Context, hostID, remotePath string) error {
	if c == nil || c.redisClient == nil {
		return nil
	}
	return c.redisClient.Del(ctx, cacheKey(hostID, remotePath)).Err()
}

// Clear drops every cached path for one host.
func (c *RemoteFileCache) Clear(ctx context.Context, hostID string) error {
	if c == nil || c.redisClient == nil {
		return nil
	}

	pattern := fmt.Sprintf("remote_exists:%s:*", hostID)
	keys, err := c.redisClient.Keys(ctx, pattern).Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redisClient.Del(ctx, keys...).Err()
}
