package memguard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	rss, total uint64
	err        error
}

func (f fakeSampler) Sample() (uint64, uint64, error) { return f.rss, f.total, f.err }

type fakeCache struct {
	clearedExpired int
	droppedHalf    int
	flushed        bool
}

func (f *fakeCache) ClearExpired() int        { f.clearedExpired++; return 3 }
func (f *fakeCache) DropToHalfCapacity() int  { f.droppedHalf++; return 5 }
func (f *fakeCache) ClearAll()                { f.flushed = true }

type fakeBuffers struct{ dropped int }

func (f *fakeBuffers) DropBuffers() { f.dropped++ }

func TestCheckOnceNormalTakesNoAction(t *testing.T) {
	cache := &fakeCache{}
	buf := &fakeBuffers{}
	g := NewWithSampler(fakeSampler{rss: 50, total: 100}, cache, buf, DefaultConfig())

	reading, err := g.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, Normal, reading.Level)
	require.Empty(t, reading.Actions)
	require.Zero(t, cache.clearedExpired)
}

func TestCheckOnceWarningClearsExpiredOnly(t *testing.T) {
	cache := &fakeCache{}
	buf := &fakeBuffers{}
	g := NewWithSampler(fakeSampler{rss: 75, total: 100}, cache, buf, DefaultConfig())

	reading, err := g.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, Warning, reading.Level)
	require.Equal(t, 1, cache.clearedExpired)
	require.Zero(t, cache.droppedHalf)
	require.Zero(t, buf.dropped)
}

func TestCheckOnceCriticalDropsCacheAndBuffers(t *testing.T) {
	cache := &fakeCache{}
	buf := &fakeBuffers{}
	g := NewWithSampler(fakeSampler{rss: 90, total: 100}, cache, buf, DefaultConfig())

	reading, err := g.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, Critical, reading.Level)
	require.Equal(t, 1, cache.clearedExpired)
	require.Equal(t, 1, cache.droppedHalf)
	require.Equal(t, 1, buf.dropped)
	require.False(t, cache.flushed)
}

func TestCheckOnceEmergencyFlushesCache(t *testing.T) {
	cache := &fakeCache{}
	buf := &fakeBuffers{}
	g := NewWithSampler(fakeSampler{rss: 96, total: 100}, cache, buf, DefaultConfig())

	reading, err := g.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, Emergency, reading.Level)
	require.True(t, cache.flushed)
}

func TestCheckOnceRespectsCooldown(t *testing.T) {
	cache := &fakeCache{}
	buf := &fakeBuffers{}
	g := NewWithSampler(fakeSampler{rss: 96, total: 100}, cache, buf, DefaultConfig())

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	_, err := g.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, cache.clearedExpired)

	// Same instant: cooldown blocks a second cleanup pass.
	reading, err := g.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, reading.Actions)
	require.Equal(t, 1, cache.clearedExpired)

	// Past the cooldown window: cleanup runs again.
	g.now = func() time.Time { return fixed.Add(2 * time.Minute) }
	reading, err = g.CheckOnce(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, reading.Actions)
	require.Equal(t, 2, cache.clearedExpired)
}

func TestCheckOnceSamplerErrorPropagates(t *testing.T) {
	g := NewWithSampler(fakeSampler{err: context.DeadlineExceeded}, &fakeCache{}, &fakeBuffers{}, DefaultConfig())
	_, err := g.CheckOnce(context.Background())
	require.Error(t, err)
}

func TestLevelForBoundaries(t *testing.T) {
	require.Equal(t, Normal, levelFor(0.69))
	require.Equal(t, Warning, levelFor(0.70))
	require.Equal(t, Warning, levelFor(0.84))
	require.Equal(t, Critical, levelFor(0.85))
	require.Equal(t, Critical, levelFor(0.94))
	require.Equal(t, Emergency, levelFor(0.95))
}
