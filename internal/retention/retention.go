// Package retention implements C5, the Retention Controller: periodic
// decay and contextual boosting of episode retention scores. Grounded
// directly on the original contextual_retrieval.rs (decay formula,
// boost formula, default constants) and restyled after the teacher's
// service-with-injected-store idiom (internal/agent/memory/manager.go).
package retention

import (
	"context"
	"math"
	"time"

	"cortex/internal/coreerr"
	"cortex/internal/episodic"
	"cortex/internal/vectorstore"
)

// Config holds the controller's tunable constants.
type Config struct {
	SimilarityThreshold float64
	MaxBoostCount       int
	BaseBoost           float64
	BoostDecayDays      float64
}

// DefaultConfig returns the spec-pinned defaults.
func DefaultConfig() Config {
	return Config{SimilarityThreshold: 0.7, MaxBoostCount: 20, BaseBoost: 0.2, BoostDecayDays: 7.0}
}

// retentionFloor is the lowest retention decay is allowed to leave behind.
const retentionFloor = 0.1

// Boost records one contextual boost applied to an episode.
type Boost struct {
	EpisodeID      string
	SimilarityScore float64
	BoostAmount    float64
	BoostedAt      time.Time
}

// Embedder is the subset of C1 the controller needs to turn conversation
// text into a query vector for the contextual boost pass.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Controller applies decay and contextual boosts to episode retention.
type Controller struct {
	episodes episodic.Store
	vectors  vectorstore.VectorStore
	embedder Embedder
	cfg      Config
	now      func() time.Time
}

// New returns a Controller wired to the episodic store, vector store, and
// embedder it needs to find and update contextually relevant episodes.
func New(episodes episodic.Store, vectors vectorstore.VectorStore, embedder Embedder, cfg Config) *Controller {
	return &Controller{episodes: episodes, vectors: vectors, embedder: embedder, cfg: cfg, now: time.Now}
}

// BoostContextual embeds conversationText, finds the top MaxBoostCount
// episodes in the vector store with similarity at or above
// SimilarityThreshold, and boosts each one's retention proportionally to
// its similarity. Returns the boosts actually applied.
func (c *Controller) BoostContextual(ctx context.Context, conversationText string) ([]Boost, error) {
	vecs, err := c.embedder.EmbedBatch(ctx, []string{conversationText})
	if err != nil {
		return nil, coreerr.New(coreerr.Embedding, "embed conversation text for boost", err)
	}
	hits, err := c.vectors.Search(ctx, vecs[0], c.cfg.MaxBoostCount, nil)
	if err != nil {
		return nil, coreerr.New(coreerr.Retrieval, "search episodes for contextual boost", err)
	}

	now := c.now()
	boosts := make([]Boost, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < c.cfg.SimilarityThreshold {
			continue
		}
		ep, err := c.episodes.Get(ctx, hit.ID)
		if err != nil {
			continue // episode may have been pruned since indexing
		}
		boostAmount := c.cfg.BaseBoost * hit.Score
		ep.Retention = math.Min(1.0, ep.Retention+boostAmount)
		ep.LastBoostAt = now
		ep.TotalBoostAmount += boostAmount
		if err := c.episodes.Update(ctx, ep); err != nil {
			continue
		}
		boosts = append(boosts, Boost{EpisodeID: ep.ID, SimilarityScore: hit.Score, BoostAmount: boostAmount, BoostedAt: now})
	}
	return boosts, nil
}

// DecayBoosts scans every episode with a recorded boost and reduces
// retention by the portion of its accumulated boost that has decayed
// since it was last boosted, floored at retentionFloor. It returns the
// number of episodes whose retention was adjusted.
func (c *Controller) DecayBoosts(ctx context.Context) (int, error) {
	eps, err := c.episodes.List(ctx, 0)
	if err != nil {
		return 0, coreerr.New(coreerr.Storage, "list episodes for decay", err)
	}
	now := c.now()
	decayed := 0
	for _, ep := range eps {
		if ep.LastBoostAt.IsZero() {
			continue
		}
		days := now.Sub(ep.LastBoostAt).Hours() / 24
		decayFactor := math.Exp(-days / c.cfg.BoostDecayDays)
		if decayFactor >= 0.9 {
			continue
		}
		remainingBoost := ep.TotalBoostAmount * decayFactor
		reduction := ep.TotalBoostAmount - remainingBoost
		ep.Retention = math.Max(retentionFloor, ep.Retention-reduction)
		ep.TotalBoostAmount = remainingBoost
		if err := c.episodes.Update(ctx, ep); err != nil {
			continue
		}
		decayed++
	}
	return decayed, nil
}
