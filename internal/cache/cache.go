package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cutroom/cutroom/internal/metrics"
	"github.com/cutroom/cutroom/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Snapshot Cache Operations
//
// Snapshots are keyed by composition version, so every edit makes older entries unreachable
// and they simply expire.

func snapshotKey(compositionID string, version int) string {
	return fmt.Sprintf("snapshot:%s:%d", compositionID, version)
}

// SetSnapshot caches a composition snapshot under its current version
func (c *Cache) SetSnapshot(ctx context.Context, snap *models.Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := snapshotKey(snap.Composition.ID, snap.Composition.Version)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetSnapshot retrieves a snapshot for a composition version. A miss returns nil, nil.
func (c *Cache) GetSnapshot(ctx context.Context, compositionID string, version int) (*models.Snapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey(compositionID, version)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCacheAccess("snapshot", false)
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get snapshot from cache: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	metrics.RecordCacheAccess("snapshot", true)
	return &snap, nil
}

// DeleteSnapshots drops every cached version of a composition
func (c *Cache) DeleteSnapshots(ctx context.Context, compositionID string) error {
	return c.DeletePattern(ctx, fmt.Sprintf("snapshot:%s:*", compositionID))
}

// Frame Cache Operations

func frameKey(compositionID string, version, frame int) string {
	return fmt.Sprintf("frame:%s:%d:%d", compositionID, version, frame)
}

// SetFrame caches an encoded preview frame
func (c *Cache) SetFrame(ctx context.Context, compositionID string, version, frame int, png []byte, ttl time.Duration) error {
	return c.client.Set(ctx, frameKey(compositionID, version, frame), png, ttl).Err()
}

// GetFrame retrieves an encoded preview frame. A miss returns nil, nil.
func (c *Cache) GetFrame(ctx context.Context, compositionID string, version, frame int) ([]byte, error) {
	data, err := c.client.Get(ctx, frameKey(compositionID, version, frame)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCacheAccess("frame", false)
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get frame from cache: %w", err)
	}

	metrics.RecordCacheAccess("frame", true)
	return data, nil
}

// Export Progress Operations

// SetExportProgress caches export progress for quick retrieval
func (c *Cache) SetExportProgress(ctx context.Context, exportID string, progress float64, ttl time.Duration) error {
	key := fmt.Sprintf("export:progress:%s", exportID)
	return c.client.Set(ctx, key, progress, ttl).Err()
}

// GetExportProgress retrieves export progress from cache. ok is false on a miss.
func (c *Cache) GetExportProgress(ctx context.Context, exportID string) (progress float64, ok bool, err error) {
	key := fmt.Sprintf("export:progress:%s", exportID)
	progress, err = c.client.Get(ctx, key).Float64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCacheAccess("export_progress", false)
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get export progress: %w", err)
	}
	metrics.RecordCacheAccess("export_progress", true)
	return progress, true, nil
}

// Rate Limiting Operations

// CheckRateLimit checks if a rate limit has been exceeded
func (c *Cache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)

	// Increment counter
	count, err := c.client.Incr(ctx, rateLimitKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// Set expiry on first request
	if count == 1 {
		if err := c.client.Expire(ctx, rateLimitKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set expiry: %w", err)
		}
	}

	// Check if limit exceeded
	return count <= limit, nil
}

// Locking Operations for Distributed Systems

// releaseScript deletes the lock only while the caller still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func compositionLockKey(compositionID string) string {
	return fmt.Sprintf("lock:composition:%s", compositionID)
}

// AcquireCompositionLock claims a composition for one exporting worker
func (c *Cache) AcquireCompositionLock(ctx context.Context, compositionID, owner string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, compositionLockKey(compositionID), owner, ttl).Result()
}

// ReleaseCompositionLock releases the lock if owner still holds it
func (c *Cache) ReleaseCompositionLock(ctx context.Context, compositionID, owner string) error {
	return releaseScript.Run(ctx, c.client, []string{compositionLockKey(compositionID)}, owner).Err()
}

// Batch Operations

// DeletePattern deletes all keys matching a pattern
func (c *Cache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	return iter.Err()
}

// Exists checks if a key exists
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
