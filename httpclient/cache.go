package httpclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// CacheEntry is a single cached response payload keyed by (url, sorted
// params).
type CacheEntry struct {
	StatusCode int
	Body       []byte
	CachedAt   time.Time
}

// ResponseCache is implemented by both the in-process LRU cache and the
// optional Redis-backed cache, so the HTTP core can be pointed at either
// without caring which backend is configured.
type ResponseCache interface {
	Get(ctx context.Context, key string) (CacheEntry, bool)
	Set(ctx context.Context, key string, entry CacheEntry, ttl time.Duration)
}

// CacheKey builds the content-addressed cache key for a (url, params)
// pair: the params are sorted by key before hashing so that equivalent
// param maps always produce the same key.
func CacheKey(url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(url))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(params[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LRUCache is the default in-process cache backend, built on
// hashicorp/golang-lru/v2 for insertion-order LRU eviction with a TTL
// check layered on top (the library itself is capacity-bounded but not
// TTL-aware).
type LRUCache struct {
	inner *lru.Cache[string, cacheRecord]
}

type cacheRecord struct {
	entry     CacheEntry
	expiresAt time.Time
}

// NewLRUCache constructs an in-process cache holding up to capacity
// entries.
func NewLRUCache(capacity int) *LRUCache {
	c, _ := lru.New[string, cacheRecord](capacity)
	return &LRUCache{inner: c}
}

func (c *LRUCache) Get(_ context.Context, key string) (CacheEntry, bool) {
	rec, ok := c.inner.Peek(key)
	if !ok {
		return CacheEntry{}, false
	}
	if time.Now().After(rec.expiresAt) {
		c.inner.Remove(key)
		return CacheEntry{}, false
	}
	return rec.entry, true
}

func (c *LRUCache) Set(_ context.Context, key string, entry CacheEntry, ttl time.Duration) {
	c.inner.Add(key, cacheRecord{entry: entry, expiresAt: time.Now().Add(ttl)})
}

// RedisCache is the distributed cache backend: cached response payloads
// live under a namespaced key with a TTL applied by SET ... EX, so
// several workers or processes can share one warm cache.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// RedisCacheConfig configures the Redis-backed cache.
type RedisCacheConfig struct {
	RedisURL  string
	KeyPrefix string
}

// NewRedisCache connects to Redis and verifies reachability before
// returning.
func NewRedisCache(ctx context.Context, cfg RedisCacheConfig) (*RedisCache, error) {
	url := cfg.RedisURL
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "bioetl:httpcache:"
	}
	return &RedisCache{client: client, prefix: prefix}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (CacheEntry, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return CacheEntry{}, false
	}
	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return CacheEntry{}, false
	}
	return entry, true
}

func (c *RedisCache) Set(ctx context.Context, key string, entry CacheEntry, ttl time.Duration) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.prefix+key, raw, ttl).Err()
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
