package embedding

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"resumerag-go/internal/model"
	"resumerag-go/pkg/log"
)

// CacheKey content-addresses a vector: BLAKE2b-256 over the normalized text, a zero byte and
// the model version.
func CacheKey(normalizedText, modelVersion string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(normalizedText))
	h.Write([]byte{0})
	h.Write([]byte(modelVersion))
	return hex.EncodeToString(h.Sum(nil))
}

// RemoteCache is a shared second-level cache, e.g. Redis. Errors are logged and treated as misses.
type RemoteCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vector []float32) error
}

// vectorCache combines an in-process LRU with singleflight so that concurrent misses for the
// same key trigger one model call; the remote layer is consulted before loading.
type vectorCache struct {
	lru    *lru.Cache[string, []float32]
	group  singleflight.Group
	remote RemoteCache
}

func newVectorCache(size int, remote RemoteCache) (*vectorCache, error) {
	if size <= 0 {
		size = 1
	}
	l, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &vectorCache{lru: l, remote: remote}, nil
}

// get returns a copy of the cached vector, loading it on miss. hit reports whether no model
// call was needed.
func (c *vectorCache) get(ctx context.Context, key string, load func(context.Context) ([]float32, error)) (vector []float32, hit bool, err error) {
	if v, ok := c.lru.Get(key); ok {
		return clone(v), true, nil
	}

	loaded := false
	val, err, _ := c.group.Do(key, func() (any, error) {
		if c.remote != nil {
			v, ok, err := c.remote.Get(ctx, key)
			if err != nil {
				log.Warnf("[EmbeddingCache] 读取远程缓存失败, key: %s, error: %v", key, err)
			} else if ok {
				c.lru.Add(key, v)
				return v, nil
			}
		}

		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		loaded = true
		c.lru.Add(key, v)
		if c.remote != nil {
			if err := c.remote.Set(ctx, key, v); err != nil {
				log.Warnf("[EmbeddingCache] 写入远程缓存失败, key: %s, error: %v", key, err)
			}
		}
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return clone(val.([]float32)), !loaded, nil
}

func (c *vectorCache) len() int {
	return c.lru.Len()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// RedisCache stores vectors as little-endian float32 bytes under "embedding:<key>".
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	b, err := c.rdb.Get(ctx, "embedding:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var v model.Vector
	if err := v.Scan(b); err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, vector []float32) error {
	b, err := model.Vector(vector).Value()
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, "embedding:"+key, b, c.ttl).Err()
}
