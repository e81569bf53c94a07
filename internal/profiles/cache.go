package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"groupchat-service/internal/models"
	"groupchat-service/internal/repositories"
)

// Resolver turns user ids into display identities.
type Resolver interface {
	Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error)
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// Cache is a read-through profile cache in front of the profile table. Each
// distinct sender is fetched from the store at most once per TTL; profile
// updates invalidate the entry. Entries are also kept in process, which serves
// reads when redis is nil or failing.
type Cache struct {
	repo  repositories.ProfileRepository
	redis *redis.Client
	local *localStore
	ttl   time.Duration
	log   *zap.Logger
}

// NewCache constructs a Cache.
func NewCache(repo repositories.ProfileRepository, client *redis.Client, ttl time.Duration, log *zap.Logger) *Cache {
	return &Cache{repo: repo, redis: client, local: newLocalStore(), ttl: ttl, log: log}
}

func key(id uuid.UUID) string {
	return "profile:" + id.String()
}

// Resolve returns a profile for every requested id. Ids without a stored
// profile map to the placeholder profile.
func (c *Cache) Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	result := make(map[uuid.UUID]models.Profile, len(ids))
	ids = dedupe(ids)
	if len(ids) == 0 {
		return result, nil
	}

	missing := c.lookup(ctx, ids, result)
	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := c.repo.BulkProfiles(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, p := range fetched {
		result[p.UserID] = p
		c.store(ctx, p)
	}
	for _, id := range missing {
		if _, ok := result[id]; !ok {
			result[id] = models.PlaceholderProfile(id)
		}
	}
	return result, nil
}

// Invalidate drops the cached profile of id.
func (c *Cache) Invalidate(ctx context.Context, id uuid.UUID) error {
	c.local.delete(id)
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, key(id)).Err()
}

func (c *Cache) lookup(ctx context.Context, ids []uuid.UUID, into map[uuid.UUID]models.Profile) []uuid.UUID {
	if c.redis == nil {
		return c.lookupLocal(ids, into)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, key(id))
	}
	vals, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn("profile cache read failed", zap.Error(err))
		return c.lookupLocal(ids, into)
	}

	var missing []uuid.UUID
	for i, val := range vals {
		raw, ok := val.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var p models.Profile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		into[ids[i]] = p
	}
	return missing
}

func (c *Cache) lookupLocal(ids []uuid.UUID, into map[uuid.UUID]models.Profile) []uuid.UUID {
	var missing []uuid.UUID
	for _, id := range ids {
		if p, ok := c.local.get(id); ok {
			into[id] = p
			continue
		}
		missing = append(missing, id)
	}
	return missing
}

func (c *Cache) store(ctx context.Context, p models.Profile) {
	c.local.set(p, c.ttl)
	if c.redis == nil {
		return
	}
	body, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key(p.UserID), body, c.ttl).Err(); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("profile cache write failed", zap.Error(err), zap.String("user_id", p.UserID.String()))
	}
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
