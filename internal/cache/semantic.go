package cache

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/frugalroute/frugalroute/internal/domain"
)

// Config bounds the in-memory semantic cache.
type Config struct {
	MaxSize             int           // Exact-entry capacity before LRU eviction
	TTL                 time.Duration // Entries older than this are never returned
	SimilarityThreshold float64       // Minimum cosine similarity for a semantic hit
	MinEntriesForEmbed  int           // Embedding scan disabled below this entry count
	MinLookupsForGate   int           // Lookups before the hit-rate gate applies
	MinHitRate          float64       // Embeddings auto-disable below this hit rate
}

func DefaultConfig() Config {
	return Config{
		MaxSize:             10000,
		TTL:                 time.Hour,
		SimilarityThreshold: 0.92,
		MinEntriesForEmbed:  100,
		MinLookupsForGate:   50,
		MinHitRate:          0.15,
	}
}

type exactEntry struct {
	response  *domain.ChatResponse
	model     string
	timestamp time.Time
	hitCount  int
}

type embeddingEntry struct {
	embedding []float64
	hash      string
	timestamp time.Time
}

// SemanticCache is the in-memory backend: exact hash lookup first, then a
// gated linear scan over stored embeddings. LRU order is maintained as an
// ordered list of hashes separate from the entry map.
type SemanticCache struct {
	mu         sync.Mutex
	config     Config
	exact      map[string]*exactEntry
	embeddings []embeddingEntry
	lruOrder   []string
	lookups    int64
	hits       int64
	embedOff   bool
	now        func() time.Time
}

func NewSemanticCache(cfg Config) *SemanticCache {
	return &SemanticCache{
		config: cfg,
		exact:  make(map[string]*exactEntry),
		now:    time.Now,
	}
}

// Lookup prunes expired entries, tries the exact hash, then falls back to
// the best cosine match at or above the similarity threshold. A cache
// failure of any kind degrades to a miss.
func (c *SemanticCache) Lookup(_ context.Context, hash string, embedding []float64) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneExpired()
	c.lookups++

	if e, ok := c.exact[hash]; ok {
		e.hitCount++
		c.hits++
		c.touchLRU(hash)
		return Result{Hit: true, Response: e.response, Model: e.model, Source: "exact"}
	}

	if embedding != nil && c.embeddingsActive() {
		if r, ok := c.semanticLookup(embedding); ok {
			c.hits++
			return r
		}
	}

	c.maybeDisableEmbeddings()
	return Result{}
}

func (c *SemanticCache) semanticLookup(embedding []float64) (Result, bool) {
	cutoff := c.now().Add(-c.config.TTL)

	bestSim := 0.0
	bestHash := ""
	for _, e := range c.embeddings {
		if e.timestamp.Before(cutoff) {
			continue
		}
		sim := cosineSimilarity(embedding, e.embedding)
		if sim >= c.config.SimilarityThreshold && sim > bestSim {
			bestSim = sim
			bestHash = e.hash
		}
	}

	if bestHash == "" {
		return Result{}, false
	}

	e, ok := c.exact[bestHash]
	if !ok {
		return Result{}, false
	}
	e.hitCount++
	c.touchLRU(bestHash)
	return Result{Hit: true, Response: e.response, Model: e.model, Source: "semantic"}, true
}

// Store evicts least-recently-used entries until under capacity, then
// inserts the exact entry and, if an embedding was supplied, the paired
// embedding entry.
func (c *SemanticCache) Store(_ context.Context, hash string, resp *domain.ChatResponse, model string, embedding []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.exact) >= c.config.MaxSize {
		c.evictLRU()
	}

	c.exact[hash] = &exactEntry{
		response:  resp,
		model:     model,
		timestamp: c.now(),
	}
	if embedding != nil {
		c.embeddings = append(c.embeddings, embeddingEntry{
			embedding: embedding,
			hash:      hash,
			timestamp: c.now(),
		})
	}
	c.touchLRU(hash)
	return nil
}

func (c *SemanticCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:              len(c.exact),
		EmbeddingEntries:  len(c.embeddings),
		Lookups:           c.lookups,
		Hits:              c.hits,
		EmbeddingsEnabled: !c.embedOff,
	}
	if c.lookups > 0 {
		s.HitRate = float64(c.hits) / float64(c.lookups)
	}
	return s
}

// embeddingsActive gates the linear scan: enough entries, not auto-disabled.
// Caller holds the lock.
func (c *SemanticCache) embeddingsActive() bool {
	return !c.embedOff && len(c.exact) >= c.config.MinEntriesForEmbed
}

// maybeDisableEmbeddings turns the embedding scan off permanently once the
// overall hit rate proves too low to pay for it. Caller holds the lock.
func (c *SemanticCache) maybeDisableEmbeddings() {
	if c.embedOff || c.lookups < int64(c.config.MinLookupsForGate) {
		return
	}
	if float64(c.hits)/float64(c.lookups) < c.config.MinHitRate {
		c.embedOff = true
	}
}

// pruneExpired lazily drops entries past TTL. Caller holds the lock.
func (c *SemanticCache) pruneExpired() {
	cutoff := c.now().Add(-c.config.TTL)

	for hash, e := range c.exact {
		if e.timestamp.Before(cutoff) {
			delete(c.exact, hash)
			c.removeLRU(hash)
		}
	}

	kept := c.embeddings[:0]
	for _, e := range c.embeddings {
		if !e.timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	c.embeddings = kept
}

func (c *SemanticCache) evictLRU() {
	if len(c.lruOrder) == 0 {
		return
	}
	oldest := c.lruOrder[0]
	c.lruOrder = c.lruOrder[1:]
	delete(c.exact, oldest)

	kept := c.embeddings[:0]
	for _, e := range c.embeddings {
		if e.hash != oldest {
			kept = append(kept, e)
		}
	}
	c.embeddings = kept
}

func (c *SemanticCache) touchLRU(hash string) {
	c.removeLRU(hash)
	c.lruOrder = append(c.lruOrder, hash)
}

func (c *SemanticCache) removeLRU(hash string) {
	for i, h := range c.lruOrder {
		if h == hash {
			c.lruOrder = append(c.lruOrder[:i], c.lruOrder[i+1:]...)
			return
		}
	}
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
