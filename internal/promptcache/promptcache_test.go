package promptcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time deterministically instead of sleeping.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time  { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(cfg Config) (*Cache, *fakeClock) {
	c := New(cfg)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c.now = clock.now
	return c, clock
}

func TestHashPromptIsDeterministicAndDistinct(t *testing.T) {
	h1 := hashPrompt("Hello, world!")
	h2 := hashPrompt("Hello, world!")
	h3 := hashPrompt("Different text")

	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, h3)
	require.Len(t, h1, 64)
}

func TestPutThenGetReturnsEntry(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())

	hash := c.Put("Test prompt for caching")
	require.Len(t, hash, 64)

	entry, ok := c.Get("Test prompt for caching")
	require.True(t, ok)
	require.Equal(t, hash, entry.PromptHash)
	require.Equal(t, 2, entry.AccessCount) // 1 from put, 1 from get
}

func TestGetOnMissingPromptIsMiss(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	_, ok := c.Get("never cached")
	require.False(t, ok)
}

func TestContains(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	c.Put("Test prompt")

	require.True(t, c.Contains("Test prompt"))
	require.False(t, c.Contains("Different prompt"))
}

func TestAccessCountIncrementsOnEachGet(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	c.Put("Test prompt")

	c.Get("Test prompt")
	c.Get("Test prompt")
	entry, ok := c.Get("Test prompt")
	require.True(t, ok)
	require.Equal(t, 4, entry.AccessCount) // 1 from put, 3 from gets
}

func TestLRUEvictionRemovesLeastRecentlyAccessed(t *testing.T) {
	cfg := Config{MaxEntries: 3, TTL: time.Hour, EnableEviction: true}
	c, clock := newTestCache(cfg)

	c.Put("Prompt 1")
	clock.advance(10 * time.Millisecond)
	c.Put("Prompt 2")
	clock.advance(10 * time.Millisecond)
	c.Put("Prompt 3")

	c.Get("Prompt 1") // touch to make it more recently used than 2

	clock.advance(10 * time.Millisecond)
	c.Put("Prompt 4") // cache full -> evict Prompt 2

	require.True(t, c.Contains("Prompt 1"))
	require.False(t, c.Contains("Prompt 2"))
	require.True(t, c.Contains("Prompt 3"))
	require.True(t, c.Contains("Prompt 4"))
}

func TestPutOnFullCacheWithEvictionDisabledDeclines(t *testing.T) {
	cfg := Config{MaxEntries: 1, TTL: time.Hour, EnableEviction: false}
	c, _ := newTestCache(cfg)

	c.Put("Prompt 1")
	c.Put("Prompt 2")

	require.True(t, c.Contains("Prompt 1"))
	require.False(t, c.Contains("Prompt 2"))
}

func TestTTLExpiration(t *testing.T) {
	cfg := Config{MaxEntries: 100, TTL: time.Second, EnableEviction: true}
	c, clock := newTestCache(cfg)

	c.Put("Test prompt")
	require.True(t, c.Contains("Test prompt"))

	clock.advance(2 * time.Second)
	require.False(t, c.Contains("Test prompt"))
}

func TestClearExpiredRemovesOnlyExpiredEntries(t *testing.T) {
	cfg := Config{MaxEntries: 100, TTL: time.Second, EnableEviction: true}
	c, clock := newTestCache(cfg)

	c.Put("Prompt 1")
	c.Put("Prompt 2")

	clock.advance(2 * time.Second)
	removed := c.ClearExpired()
	require.Equal(t, 2, removed)
	require.Equal(t, 0, c.Stats().CurrentEntries)
}

func TestClearAll(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	c.Put("Prompt 1")
	c.Put("Prompt 2")
	c.Put("Prompt 3")

	require.Equal(t, 3, c.Stats().CurrentEntries)

	c.ClearAll()

	require.Equal(t, 0, c.Stats().CurrentEntries)
	require.False(t, c.Contains("Prompt 1"))
}

func TestStatsTracksHitsMissesAndEntries(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	c.Put("Prompt 1")
	c.Put("Prompt 2")
	c.Put("Prompt 3")

	c.Get("Prompt 1")
	c.Get("Prompt 2")
	c.Get("Non-existent")

	stats := c.Stats()
	require.Equal(t, 2, stats.TotalHits)
	require.Equal(t, 1, stats.TotalMisses)
	require.Equal(t, 3, stats.CurrentEntries)

	require.InDelta(t, 0.666, c.HitRate(), 0.01)
}

func TestSizeTracking(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	c.Put("Short")
	c.Put("A much longer prompt that takes more bytes")

	stats := c.Stats()
	require.Greater(t, stats.TotalSizeBytes, 0)
	require.Equal(t, 2, stats.CurrentEntries)
}

func TestPromptTextIsTruncatedBeyondPreviewLimit(t *testing.T) {
	c, _ := newTestCache(DefaultConfig())
	long := make([]byte, textPreviewLimit+50)
	for i := range long {
		long[i] = 'a'
	}
	c.Put(string(long))

	entry, ok := c.Get(string(long))
	require.True(t, ok)
	require.Len(t, entry.PromptText, textPreviewLimit+len("..."))
}
