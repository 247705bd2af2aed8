package directory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	clog "github.com/mahaj/chatcore/pkg/log"
	"github.com/mahaj/chatcore/pkg/model"
)

const cachePrefix = "chat:user:"

// Cached is a read-through Redis cache in front of another Directory.
// Cache failures fall through to the backing directory.
type Cached struct {
	next Directory
	rdb  redis.UniversalClient
	ttl  time.Duration
}

func NewCached(next Directory, rdb redis.UniversalClient, ttl time.Duration) *Cached {
	return &Cached{next: next, rdb: rdb, ttl: ttl}
}

func (c *Cached) Get(ctx context.Context, id string) (model.User, error) {
	if u, ok := c.lookup(ctx, id); ok {
		return u, nil
	}
	u, err := c.next.Get(ctx, id)
	if err != nil {
		return u, err
	}
	c.store(ctx, u)
	return u, nil
}

func (c *Cached) GetMany(ctx context.Context, ids []string) (map[string]model.User, error) {
	out := make(map[string]model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cachePrefix + id
	}

	var missing []string
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		clog.Ctx(ctx).Warn().Err(err).Msg("directory cache mget failed")
		missing = ids
	} else {
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				missing = append(missing, ids[i])
				continue
			}
			var u model.User
			if json.Unmarshal([]byte(s), &u) != nil {
				missing = append(missing, ids[i])
				continue
			}
			out[u.ID] = u
		}
	}

	if len(missing) == 0 {
		return out, nil
	}
	fetched, err := c.next.GetMany(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, u := range fetched {
		out[id] = u
		c.store(ctx, u)
	}
	return out, nil
}

// ListExcept is not cached; the listing changes with every registration.
func (c *Cached) ListExcept(ctx context.Context, excludeID string) ([]model.User, error) {
	return c.next.ListExcept(ctx, excludeID)
}

func (c *Cached) lookup(ctx context.Context, id string) (model.User, bool) {
	raw, err := c.rdb.Get(ctx, cachePrefix+id).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			clog.Ctx(ctx).Warn().Err(err).Str(clog.FieldUserID, id).Msg("directory cache get failed")
		}
		return model.User{}, false
	}
	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return model.User{}, false
	}
	return u, true
}

func (c *Cached) store(ctx context.Context, u model.User) {
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cachePrefix+u.ID, raw, c.ttl).Err(); err != nil {
		clog.Ctx(ctx).Warn().Err(err).Str(clog.FieldUserID, u.ID).Msg("directory cache set failed")
	}
}
