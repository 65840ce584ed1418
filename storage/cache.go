package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"todoless/domain"
)

const labelsCacheKey = "labels"

// Cache wraps a Backend with Redis-backed caching for the reads every
// request performs: the label snapshot used by access checks and the
// principal's user row. Writes go to the backend first and then evict.
//
// Every cached value lives under a generation-suffixed key. Eviction bumps
// the generation, so a snapshot read before a write and stored after its
// eviction lands under a key nobody reads again.
type Cache struct {
	Backend
	redis  *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{Backend: base, redis: client, ttl: ttl, logger: logger}
}

func (c *Cache) ListLabels(ctx context.Context) ([]domain.Label, error) {
	key, cacheable := c.versionedKey(ctx, labelsCacheKey)
	var labels []domain.Label
	if cacheable && c.load(ctx, key, &labels) {
		return labels, nil
	}
	labels, err := c.Backend.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	if cacheable {
		c.store(ctx, key, labels)
	}
	return labels, nil
}

func (c *Cache) CreateLabel(ctx context.Context, l domain.Label) error {
	if err := c.Backend.CreateLabel(ctx, l); err != nil {
		return err
	}
	c.evict(ctx, labelsCacheKey)
	return nil
}

func (c *Cache) UpdateLabel(ctx context.Context, l domain.Label) error {
	if err := c.Backend.UpdateLabel(ctx, l); err != nil {
		return err
	}
	c.evict(ctx, labelsCacheKey)
	return nil
}

func (c *Cache) DeleteLabel(ctx context.Context, id string) error {
	if err := c.Backend.DeleteLabel(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, labelsCacheKey)
	return nil
}

// SetLabelShared evicts even on failure: the table backend may have applied
// part of the cascade.
func (c *Cache) SetLabelShared(ctx context.Context, id string, shared bool) (domain.CascadeResult, error) {
	res, err := c.Backend.SetLabelShared(ctx, id, shared)
	c.evict(ctx, labelsCacheKey)
	return res, err
}

func (c *Cache) GetUser(ctx context.Context, id string) (domain.User, error) {
	key, cacheable := c.versionedKey(ctx, userCacheKey(id))
	var u domain.User
	if cacheable && c.load(ctx, key, &u) {
		return u, nil
	}
	u, err := c.Backend.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if cacheable {
		c.store(ctx, key, u)
	}
	return u, nil
}

func (c *Cache) CreateUser(ctx context.Context, u domain.User) error {
	if err := c.Backend.CreateUser(ctx, u); err != nil {
		return err
	}
	c.evict(ctx, userCacheKey(u.ID))
	return nil
}

func (c *Cache) UpdateUserRole(ctx context.Context, id string, role domain.Role) (domain.User, error) {
	u, err := c.Backend.UpdateUserRole(ctx, id, role)
	if err != nil {
		return domain.User{}, err
	}
	c.evict(ctx, userCacheKey(id))
	return u, nil
}

// versionedKey resolves key to its current generation. The generation is
// read before the backend so a later eviction always outdates the result.
func (c *Cache) versionedKey(ctx context.Context, key string) (string, bool) {
	if c.redis == nil {
		return "", false
	}
	gen, err := c.redis.Get(ctx, generationKey(key)).Int64()
	if err != nil && err != redis.Nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache generation read failed; bypassing cache")
		return "", false
	}
	return key + ":v" + strconv.FormatInt(gen, 10), true
}

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

// evict moves keys to a new generation; stale values expire with their TTL.
func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	for _, key := range keys {
		if err := c.redis.Incr(ctx, generationKey(key)).Err(); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("cache eviction failed; entry may stay stale until its TTL")
		}
	}
}

func generationKey(key string) string {
	return key + ":gen"
}

func userCacheKey(id string) string {
	return "user:" + id
}
