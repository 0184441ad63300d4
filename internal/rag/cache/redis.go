package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"conductor/internal/rag/vectorstore"
)

// Redis is the shared query-cache backend selected when REDIS_ADDR is set.
// Keys carry the same sha1 scheme as the LRU; per-collection membership sets
// make invalidation cheap. Redis errors degrade to cache misses so retrieval
// keeps working without the cache.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

func NewRedis(addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (c *Redis) Get(key Key) ([]vectorstore.Result, bool) {
	ctx := context.Background()
	raw, err := c.client.Get(ctx, "ragcache:"+key.Hash).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Msg("redis_cache_get_error")
		}
		c.misses.Add(1)
		return nil, false
	}
	var out []vectorstore.Result
	if err := json.Unmarshal(raw, &out); err != nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return out, true
}

func (c *Redis) Put(key Key, value []vectorstore.Result) {
	ctx := context.Background()
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, "ragcache:"+key.Hash, raw, c.ttl)
	pipe.SAdd(ctx, "ragcache:collection:"+key.Collection, key.Hash)
	pipe.Expire(ctx, "ragcache:collection:"+key.Collection, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Debug().Err(err).Msg("redis_cache_put_error")
	}
}

func (c *Redis) Invalidate(collection string) {
	ctx := context.Background()
	setKey := "ragcache:collection:" + collection
	hashes, err := c.client.SMembers(ctx, setKey).Result()
	if err != nil {
		log.Debug().Err(err).Msg("redis_cache_invalidate_error")
		return
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, "ragcache:"+h)
	}
	keys = append(keys, setKey)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Debug().Err(err).Msg("redis_cache_invalidate_error")
	}
}

func (c *Redis) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
