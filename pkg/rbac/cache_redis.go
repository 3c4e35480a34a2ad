package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/permgate/pkg/observability"
)

// DefaultRedisKeyPrefix namespaces permission entries in Redis
const DefaultRedisKeyPrefix = "permgate:perms:"

// versionKeyTTL bounds how long an idle per-user version counter is kept.
// A version only has to outlive one resolution.
const versionKeyTTL = 24 * time.Hour

// setIfVersionScript writes the payload only when the global and per-user
// generations still match the version read before resolving.
// KEYS: global version, user version, payload. ARGV: version, payload, ttl ms.
var setIfVersionScript = redis.NewScript(`
local g = redis.call('GET', KEYS[1]) or '0'
local u = redis.call('GET', KEYS[2]) or '0'
if g .. ':' .. u ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[3], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisCache is a VersionedCache shared between processes through Redis.
// Read failures are treated as misses so the caller falls back to the store.
type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	prefix  string
	now     func() time.Time
	log     *logrus.Logger
	metrics *observability.Metrics
}

type redisEntry struct {
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// RedisCacheOption configures a RedisCache
type RedisCacheOption func(*RedisCache)

// WithRedisTTL sets the entry time-to-live
func WithRedisTTL(ttl time.Duration) RedisCacheOption {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithRedisKeyPrefix sets the key namespace
func WithRedisKeyPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithRedisClock overrides the clock used to stamp and age entries
func WithRedisClock(now func() time.Time) RedisCacheOption {
	return func(c *RedisCache) { c.now = now }
}

// WithRedisLogger sets the logger
func WithRedisLogger(log *logrus.Logger) RedisCacheOption {
	return func(c *RedisCache) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRedisMetrics records hits, misses and invalidations
func WithRedisMetrics(metrics *observability.Metrics) RedisCacheOption {
	return func(c *RedisCache) { c.metrics = metrics }
}

// NewRedisCache creates a Redis-backed permission cache
func NewRedisCache(client *redis.Client, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{
		client: client,
		ttl:    DefaultCacheTTL,
		prefix: DefaultRedisKeyPrefix,
		now:    time.Now,
		log:    logrus.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached set if present and younger than the TTL
func (c *RedisCache) Get(ctx context.Context, userID int64) (PermissionSet, bool) {
	key := c.key(userID)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.metrics.RecordCacheMiss("redis")
		return nil, false
	} else if err != nil {
		c.log.WithError(err).WithField("user_id", userID).Warn("permission cache read failed")
		c.metrics.RecordCacheMiss("redis")
		return nil, false
	}

	var entry redisEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Drop corrupt data so the next resolve replaces it
		c.client.Del(ctx, key)
		c.log.WithError(err).WithField("user_id", userID).Warn("discarding corrupt permission cache entry")
		c.metrics.RecordCacheMiss("redis")
		return nil, false
	}

	if c.now().Sub(entry.CreatedAt) >= c.ttl {
		c.client.Del(ctx, key)
		c.metrics.RecordCacheMiss("redis")
		return nil, false
	}

	c.metrics.RecordCacheHit("redis")
	return NewPermissionSet(entry.Permissions...), true
}

// Set stores a resolved set with a Redis expiry equal to the TTL
func (c *RedisCache) Set(ctx context.Context, userID int64, perms PermissionSet) {
	data, err := c.encode(userID, perms)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(userID), data, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("user_id", userID).Warn("permission cache write failed")
	}
}

// Version returns "<global>:<user>" generation counters, 0 when unset
func (c *RedisCache) Version(ctx context.Context, userID int64) (string, error) {
	vals, err := c.client.MGet(ctx, c.globalVersionKey(), c.userVersionKey(userID)).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read cache version for user %d: %w", userID, err)
	}
	return versionPart(vals[0]) + ":" + versionPart(vals[1]), nil
}

// SetIfVersion atomically stores perms when version is still current
func (c *RedisCache) SetIfVersion(ctx context.Context, userID int64, perms PermissionSet, version string) (bool, error) {
	data, err := c.encode(userID, perms)
	if err != nil {
		return false, err
	}

	keys := []string{c.globalVersionKey(), c.userVersionKey(userID), c.key(userID)}
	applied, err := setIfVersionScript.Run(ctx, c.client, keys, version, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to write permission cache for user %d: %w", userID, err)
	}
	return applied == 1, nil
}

// Invalidate advances the user's version and deletes the entry in one transaction
func (c *RedisCache) Invalidate(ctx context.Context, userID int64) error {
	versionKey := c.userVersionKey(userID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		pipe.Expire(ctx, versionKey, versionKeyTTL)
		pipe.Del(ctx, c.key(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate permissions for user %d: %w", userID, err)
	}
	c.metrics.RecordInvalidation("redis", "user")
	return nil
}

// InvalidateAll advances the global version, then deletes every entry under
// the prefix. Version counters are kept.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.globalVersionKey()).Err(); err != nil {
		return fmt.Errorf("failed to invalidate permission cache: %w", err)
	}

	versionPrefix := c.prefix + "version:"
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		if strings.HasPrefix(iter.Val(), versionPrefix) {
			continue
		}
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("failed to invalidate permission cache: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan permission cache: %w", err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to invalidate permission cache: %w", err)
		}
	}
	c.metrics.RecordInvalidation("redis", "all")
	return nil
}

func (c *RedisCache) encode(userID int64, perms PermissionSet) ([]byte, error) {
	data, err := json.Marshal(redisEntry{Permissions: perms.Slice(), CreatedAt: c.now()})
	if err != nil {
		c.log.WithError(err).WithField("user_id", userID).Error("failed to encode permission cache entry")
		return nil, err
	}
	return data, nil
}

func (c *RedisCache) key(userID int64) string {
	return c.prefix + strconv.FormatInt(userID, 10)
}

func (c *RedisCache) globalVersionKey() string {
	return c.prefix + "version:all"
}

func (c *RedisCache) userVersionKey(userID int64) string {
	return c.prefix + "version:" + strconv.FormatInt(userID, 10)
}

func versionPart(v interface{}) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return "0"
}
