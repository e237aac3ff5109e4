// Package memguard implements C13, the Memory-Pressure Guard: a
// periodic sampler of process RSS against total system memory that
// drives an escalating sequence of cleanup actions against C11 (prompt
// cache) and C8 (hybrid retriever). Grounded directly on the original
// memory_guard.rs (threshold bands, cooldown-gated escalation order)
// and restyled after the teacher's cache_service.go background-loop
// and zerolog idiom (internal/skills/cache_service.go).
package memguard

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Level is a memory-pressure band.
type Level int

const (
	Normal Level = iota
	Warning
	Critical
	Emergency
)

func (l Level) String() string {
	switch l {
	case Normal:
		return "normal"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	case Emergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// levelFor classifies a used-memory fraction into its band, matching
// spec.md §4.12's {Normal<70%, Warning 70-85%, Critical 85-95%,
// Emergency>=95%} thresholds.
func levelFor(fraction float64) Level {
	switch {
	case fraction >= 0.95:
		return Emergency
	case fraction >= 0.85:
		return Critical
	case fraction >= 0.70:
		return Warning
	default:
		return Normal
	}
}

// Config tunes the guard's sampling and cooldown behavior.
type Config struct {
	CheckInterval time.Duration
	Cooldown      time.Duration
}

// DefaultConfig returns the spec-pinned defaults (15s interval, 60s cooldown).
func DefaultConfig() Config {
	return Config{CheckInterval: 15 * time.Second, Cooldown: 60 * time.Second}
}

// Sampler reports current process RSS and total system memory, in
// bytes. The default implementation samples the running process via
// gopsutil; tests inject a fake.
type Sampler interface {
	Sample() (rss, total uint64, err error)
}

// gopsutilSampler samples the calling process's RSS and the host's
// total physical memory.
type gopsutilSampler struct {
	pid int32
}

func newGopsutilSampler() *gopsutilSampler {
	return &gopsutilSampler{pid: int32(os.Getpid())}
}

func (s *gopsutilSampler) Sample() (rss, total uint64, err error) {
	proc, err := process.NewProcess(s.pid)
	if err != nil {
		return 0, 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return info.RSS, vm.Total, nil
}

// CacheCleaner is the subset of promptcache.Cache the guard drives.
type CacheCleaner interface {
	ClearExpired() int
	DropToHalfCapacity() int
	ClearAll()
}

// BufferDropper is the subset of hybrid.Retriever the guard drives.
type BufferDropper interface {
	DropBuffers()
}

// Reading is one sample's outcome, returned for diagnostics and tests.
type Reading struct {
	RSSBytes   uint64
	TotalBytes uint64
	Fraction   float64
	Level      Level
	Actions    []string // cleanup actions actually taken this check, in order
}

// Guard periodically samples memory pressure and, subject to a
// cooldown, drives escalating cleanup against the cache and retriever.
// The guard never blocks generation and never touches episodes: it
// only ever calls CacheCleaner and BufferDropper methods.
type Guard struct {
	sampler  Sampler
	cache    CacheCleaner
	buffers  BufferDropper
	cfg      Config
	now      func() time.Time

	mu           sync.Mutex
	lastCleanup  time.Time
	lastReading  Reading
}

// New returns a Guard sampling the live process via gopsutil.
func New(cache CacheCleaner, buffers BufferDropper, cfg Config) *Guard {
	return &Guard{sampler: newGopsutilSampler(), cache: cache, buffers: buffers, cfg: cfg, now: time.Now}
}

// NewWithSampler returns a Guard driven by an injected Sampler, for tests.
func NewWithSampler(sampler Sampler, cache CacheCleaner, buffers BufferDropper, cfg Config) *Guard {
	return &Guard{sampler: sampler, cache: cache, buffers: buffers, cfg: cfg, now: time.Now}
}

// CheckOnce samples current memory pressure and, if above Normal and
// the cooldown has elapsed since the last cleanup, runs the
// escalating cleanup sequence up to the sampled level. It never
// returns an error for memory pressure itself; a non-nil error means
// sampling failed.
func (g *Guard) CheckOnce(_ context.Context) (Reading, error) {
	rss, total, err := g.sampler.Sample()
	if err != nil {
		return Reading{}, err
	}

	var fraction float64
	if total > 0 {
		fraction = float64(rss) / float64(total)
	}
	level := levelFor(fraction)
	reading := Reading{RSSBytes: rss, TotalBytes: total, Fraction: fraction, Level: level}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastReading = reading

	if level == Normal {
		return reading, nil
	}

	now := g.now()
	if !g.lastCleanup.IsZero() && now.Sub(g.lastCleanup) < g.cfg.Cooldown {
		return reading, nil
	}
	g.lastCleanup = now

	reading.Actions = g.cleanup(level, fraction)
	g.lastReading = reading
	return reading, nil
}

// cleanup runs the escalating cleanup sequence up to and including
// level, logging a warning first regardless of band.
func (g *Guard) cleanup(level Level, fraction float64) []string {
	actions := []string{"log_warning"}
	log.Warn().Float64("fraction", fraction).Str("level", level.String()).Msg("memguard: memory pressure detected")

	if level < Warning {
		return actions
	}

	if g.cache != nil {
		removed := g.cache.ClearExpired()
		actions = append(actions, "clear_expired_cache_entries")
		log.Info().Int("removed", removed).Msg("memguard: cleared expired prompt cache entries")
	}

	if level < Critical {
		return actions
	}

	if g.cache != nil {
		evicted := g.cache.DropToHalfCapacity()
		actions = append(actions, "drop_cache_to_half_capacity")
		log.Info().Int("evicted", evicted).Msg("memguard: dropped prompt cache to half capacity")
	}
	if g.buffers != nil {
		g.buffers.DropBuffers()
		actions = append(actions, "drop_retriever_buffers")
		log.Info().Msg("memguard: dropped hybrid retriever buffers")
	}

	if level < Emergency {
		return actions
	}

	if g.cache != nil {
		g.cache.ClearAll()
		actions = append(actions, "flush_cache")
		log.Warn().Msg("memguard: emergency cache flush")
	}
	return actions
}

// LastReading returns the most recent sample, or a zero Reading if
// CheckOnce has never run.
func (g *Guard) LastReading() Reading {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastReading
}

// Run samples at CheckInterval until ctx is canceled. It never returns
// an error; a failed sample is logged and skipped.
func (g *Guard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.CheckOnce(ctx); err != nil {
				log.Warn().Err(err).Msg("memguard: sample failed")
			}
		}
	}
}
