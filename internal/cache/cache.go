// Package cache provides response caching for chat-completion requests.
// It supports both in-memory (single instance) and Redis (distributed) backends.
// The in-memory backend layers an embedding-similarity lookup over exact
// hash matching; the Redis backend is exact-match only.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/frugalroute/frugalroute/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Result is the outcome of a cache lookup.
type Result struct {
	Hit      bool
	Response *domain.ChatResponse
	Model    string
	Source   string // "exact" or "semantic"
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Size              int     `json:"size"`
	EmbeddingEntries  int     `json:"embedding_entries"`
	Lookups           int64   `json:"lookups"`
	Hits              int64   `json:"hits"`
	HitRate           float64 `json:"hit_rate"`
	EmbeddingsEnabled bool    `json:"embeddings_enabled"`
}

// ResponseCache is the interface for cache backends. Lookup and Store
// accept an optional embedding; backends without a semantic layer ignore it.
type ResponseCache interface {
	Lookup(ctx context.Context, hash string, embedding []float64) Result
	Store(ctx context.Context, hash string, resp *domain.ChatResponse, model string, embedding []float64) error
	Stats() Stats
}

// HashPrompt returns the deterministic short digest used as cache key:
// 16 hex chars of the SHA-256 of the trimmed, lowercased prompt.
func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(prompt))))
	return hex.EncodeToString(sum[:])[:16]
}

type redisEntry struct {
	Response *domain.ChatResponse `json:"response"`
	Model    string               `json:"model"`
}

// RedisCache is the distributed, exact-match-only backend. Expiry is
// delegated to Redis TTLs.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Lookup(ctx context.Context, hash string, _ []float64) Result {
	data, err := c.client.Get(ctx, "cache:"+hash).Bytes()
	if err != nil {
		return Result{}
	}

	var e redisEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return Result{}
	}

	return Result{Hit: true, Response: e.Response, Model: e.Model, Source: "exact"}
}

func (c *RedisCache) Store(ctx context.Context, hash string, resp *domain.ChatResponse, model string, _ []float64) error {
	data, err := json.Marshal(redisEntry{Response: resp, Model: model})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "cache:"+hash, data, c.ttl).Err()
}

func (c *RedisCache) Stats() Stats {
	return Stats{}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
