// Package promptcache implements C11, the Prompt Cache: a SHA-256
// keyed cache of assembled system prompts with LRU eviction and TTL
// expiry, letting the orchestrator skip re-sending an unchanged prompt
// prefix to the generator. Grounded directly on the original
// prompt_cache.rs (hash-dedup, LRU-by-last-accessed eviction, TTL
// check, truncated-text storage, aggregate stats) and restyled after
// this repo's own retention.Controller injected-clock idiom for
// testability.
package promptcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Config holds the cache's tunable constants.
type Config struct {
	MaxEntries     int
	TTL            time.Duration
	EnableEviction bool
}

// DefaultConfig returns the spec-pinned defaults.
func DefaultConfig() Config {
	return Config{MaxEntries: 100, TTL: time.Hour, EnableEviction: true}
}

// textPreviewLimit is how much of the original prompt is kept verbatim
// in an entry, for debugging; the rest is discarded to bound memory.
const textPreviewLimit = 200

// Entry is one cached prompt.
type Entry struct {
	PromptHash   string
	PromptText   string // truncated to textPreviewLimit bytes
	CachedAt     time.Time
	LastAccessed time.Time
	AccessCount  int
	SizeBytes    int
}

// Stats are aggregate counters over the cache's lifetime.
type Stats struct {
	TotalHits      int
	TotalMisses    int
	TotalEvictions int
	CurrentEntries int
	TotalSizeBytes int
}

// Cache is a SHA-256 keyed, LRU-evicting, TTL-expiring prompt cache.
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	cfg     Config
	stats   Stats
	now     func() time.Time
	mirror  *RedisMirror // optional, set via WithRedisMirror; nil by default
}

// New returns an empty Cache configured with cfg.
func New(cfg Config) *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
		cfg:     cfg,
		now:     time.Now,
	}
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) isValid(e *Entry) bool {
	return c.now().Sub(e.CachedAt) < c.cfg.TTL
}

// Get returns the cached entry for prompt if present and unexpired.
// An expired entry is removed as a side effect of the lookup. On an
// in-process miss with a Redis mirror attached, Get falls back to the
// mirror and, on a hit there, repopulates the in-process entry (see
// WithRedisMirror) before returning it.
func (c *Cache) Get(prompt string) (Entry, bool) {
	hash := hashPrompt(prompt)

	c.mu.Lock()
	if e, ok := c.entries[hash]; ok {
		if c.isValid(e) {
			e.LastAccessed = c.now()
			e.AccessCount++
			c.stats.TotalHits++
			entry := *e
			c.mu.Unlock()
			return entry, true
		}
		delete(c.entries, hash)
		c.stats.CurrentEntries = len(c.entries)
	}
	c.stats.TotalMisses++
	mirror := c.mirror
	c.mu.Unlock()

	if mirror == nil {
		return Entry{}, false
	}
	text, ok := mirror.Get(context.Background(), hash)
	if !ok {
		return Entry{}, false
	}
	c.Put(text)
	c.mu.Lock()
	e := *c.entries[hash]
	c.mu.Unlock()
	return e, true
}

// Put inserts or overwrites the entry for prompt and returns its hash.
// If the cache is at capacity and eviction is enabled, the
// least-recently-accessed entry is evicted first; if eviction is
// disabled, a full cache silently declines the insert.
func (c *Cache) Put(prompt string) string {
	hash := hashPrompt(prompt)
	now := c.now()

	text := prompt
	if len(prompt) > textPreviewLimit {
		text = prompt[:textPreviewLimit] + "..."
	}
	entry := &Entry{
		PromptHash:   hash,
		PromptText:   text,
		CachedAt:     now,
		LastAccessed: now,
		AccessCount:  1,
		SizeBytes:    len(prompt),
	}

	c.mu.Lock()
	if _, exists := c.entries[hash]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		if !c.cfg.EnableEviction {
			c.mu.Unlock()
			return hash
		}
		c.evictLRU()
	}

	c.entries[hash] = entry
	c.stats.CurrentEntries = len(c.entries)
	c.stats.TotalSizeBytes = c.totalBytes()
	mirror := c.mirror
	c.mu.Unlock()

	if mirror != nil {
		mirror.Set(context.Background(), hash, prompt)
	}
	return hash
}

// Contains reports whether prompt has a live, unexpired entry, without
// affecting access metadata or stats.
func (c *Cache) Contains(prompt string) bool {
	hash := hashPrompt(prompt)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[hash]
	return ok && c.isValid(e)
}

// evictLRU removes the entry with the oldest LastAccessed. Callers
// must hold c.mu.
func (c *Cache) evictLRU() {
	if len(c.entries) == 0 {
		return
	}
	var lruHash string
	var lruTime time.Time
	first := true
	for hash, e := range c.entries {
		if first || e.LastAccessed.Before(lruTime) {
			lruHash, lruTime, first = hash, e.LastAccessed, false
		}
	}
	delete(c.entries, lruHash)
	c.stats.TotalEvictions++
	c.stats.CurrentEntries = len(c.entries)
}

// EvictLRU evicts the least-recently-accessed entry, if any.
func (c *Cache) EvictLRU() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLRU()
}

// ClearExpired removes every expired entry and returns how many were removed.
func (c *Cache) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := len(c.entries)
	for hash, e := range c.entries {
		if !c.isValid(e) {
			delete(c.entries, hash)
		}
	}
	removed := before - len(c.entries)
	if removed > 0 {
		c.stats.CurrentEntries = len(c.entries)
		c.stats.TotalSizeBytes = c.totalBytes()
	}
	return removed
}

// DropToHalfCapacity evicts least-recently-accessed entries until at
// most half of MaxEntries remain, regardless of EnableEviction.
// Returns how many entries were evicted. Used by C13 as an escalation
// step above ClearExpired when memory pressure is Critical.
func (c *Cache) DropToHalfCapacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.cfg.MaxEntries / 2
	evicted := 0
	for len(c.entries) > target {
		c.evictLRU()
		evicted++
	}
	return evicted
}

// ClearAll removes every entry.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.stats.CurrentEntries = 0
	c.stats.TotalSizeBytes = 0
}

// Stats returns a snapshot of the cache's aggregate counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.CurrentEntries = len(c.entries)
	s.TotalSizeBytes = c.totalBytes()
	return s
}

// HitRate returns TotalHits / (TotalHits + TotalMisses), or 0 if there
// have been no lookups yet.
func (c *Cache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.stats.TotalHits + c.stats.TotalMisses
	if total == 0 {
		return 0
	}
	return float64(c.stats.TotalHits) / float64(total)
}

// AllEntries returns every cached entry, for diagnostics.
func (c *Cache) AllEntries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	return out
}

// totalBytes sums SizeBytes across all entries. Callers must hold c.mu.
func (c *Cache) totalBytes() int {
	total := 0
	for _, e := range c.entries {
		total += e.SizeBytes
	}
	return total
}
