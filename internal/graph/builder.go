package graph

import (
	"context"
	"sort"

	"cortex/internal/coreerr"
)

// BuilderConfig tunes community detection.
type BuilderConfig struct {
	EnableCommunityDetection bool
	MinCommunitySize         int
}

// DefaultBuilderConfig matches the original GraphRAG builder's defaults.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{EnableCommunityDetection: true, MinCommunitySize: 3}
}

// Stats summarizes the current graph shape.
type Stats struct {
	NodeCount      int
	EdgeCount      int
	CommunityCount int
	AvgDegree      float64
}

// Builder constructs and maintains the knowledge graph over a Store.
type Builder struct {
	store Store
	cfg   BuilderConfig
}

// NewBuilder returns a Builder over store.
func NewBuilder(store Store, cfg BuilderConfig) *Builder {
	return &Builder{store: store, cfg: cfg}
}

// AddEntity upserts an entity, merging properties into an existing
// record sharing its EntityID (dedup key).
func (b *Builder) AddEntity(ctx context.Context, entityType, name string, props map[string]string) (Entity, error) {
	ent, err := b.store.UpsertEntity(ctx, entityType, name, props)
	if err != nil {
		return Entity{}, coreerr.New(coreerr.Storage, "upsert graph entity", err)
	}
	return ent, nil
}

// AddEdge upserts a relationship between two already-known entity ids,
// skipping it if an edge of the same relationship type already
// connects the pair in either direction.
func (b *Builder) AddEdge(ctx context.Context, sourceID, targetID, relType string, weight float64, props map[string]string) error {
	if _, err := b.store.UpsertEdge(ctx, sourceID, targetID, relType, weight, props); err != nil {
		return coreerr.New(coreerr.Storage, "upsert graph edge", err)
	}
	return nil
}

// Rebuild rescans node degrees and, if enabled, re-runs community
// detection. Call it once after a batch of AddEntity/AddEdge calls,
// mirroring the original build_from_text's end-of-batch pass.
func (b *Builder) Rebuild(ctx context.Context) (Stats, error) {
	if err := b.store.RescanDegrees(ctx); err != nil {
		return Stats{}, coreerr.New(coreerr.Storage, "rescan graph degrees", err)
	}
	if b.cfg.EnableCommunityDetection {
		if err := b.detectCommunities(ctx); err != nil {
			return Stats{}, err
		}
	}
	return b.stats(ctx)
}

func (b *Builder) stats(ctx context.Context) (Stats, error) {
	entities, err := b.store.ListEntities(ctx)
	if err != nil {
		return Stats{}, coreerr.New(coreerr.Storage, "list graph entities", err)
	}
	edges, err := b.store.ListEdges(ctx)
	if err != nil {
		return Stats{}, coreerr.New(coreerr.Storage, "list graph edges", err)
	}
	communities := make(map[int]struct{})
	for _, ent := range entities {
		if ent.CommunityID != nil {
			communities[*ent.CommunityID] = struct{}{}
		}
	}
	avgDegree := 0.0
	if len(entities) > 0 {
		avgDegree = float64(len(edges)) * 2.0 / float64(len(entities))
	}
	return Stats{
		NodeCount: len(entities), EdgeCount: len(edges),
		CommunityCount: len(communities), AvgDegree: avgDegree,
	}, nil
}

// detectCommunities runs label propagation to a fixed 10-iteration
// cap: every node starts in its own community (indexed by sorted
// entity id), then each iteration takes on the majority label among
// its neighbors, ties broken toward the smaller label. Communities
// smaller than MinCommunitySize are dropped.
func (b *Builder) detectCommunities(ctx context.Context) error {
	entities, err := b.store.ListEntities(ctx)
	if err != nil {
		return coreerr.New(coreerr.Storage, "list graph entities", err)
	}
	edges, err := b.store.ListEdges(ctx)
	if err != nil {
		return coreerr.New(coreerr.Storage, "list graph edges", err)
	}
	if len(entities) == 0 {
		return nil
	}

	ids := sortedIDs(entities)
	adjacency := buildAdjacency(edges)

	labels := make(map[string]int, len(ids))
	for i, id := range ids {
		labels[id] = i
	}

	const maxIterations = 10
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for _, id := range ids {
			neighbors := adjacency[id]
			if len(neighbors) == 0 {
				continue
			}
			counts := make(map[int]int)
			for _, nb := range neighbors {
				counts[labels[nb]]++
			}
			best := majorityLabel(counts)
			if labels[id] != best {
				labels[id] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	members := make(map[int][]string)
	for _, id := range ids {
		label := labels[id]
		members[label] = append(members[label], id)
	}

	assignments := make(map[string]*int, len(ids))
	for label, memberIDs := range members {
		if len(memberIDs) < b.cfg.MinCommunitySize {
			for _, id := range memberIDs {
				assignments[id] = nil
			}
			continue
		}
		l := label
		for _, id := range memberIDs {
			assignments[id] = &l
		}
	}

	if err := b.store.SetCommunities(ctx, assignments); err != nil {
		return coreerr.New(coreerr.Storage, "set graph communities", err)
	}
	return nil
}

func buildAdjacency(edges []Edge) map[string][]string {
	adjacency := make(map[string][]string)
	for _, e := range edges {
		adjacency[e.SourceID] = append(adjacency[e.SourceID], e.TargetID)
		adjacency[e.TargetID] = append(adjacency[e.TargetID], e.SourceID)
	}
	return adjacency
}

// majorityLabel picks the most frequent label, breaking ties toward
// the smallest label value for determinism.
func majorityLabel(counts map[int]int) int {
	labels := make([]int, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	best, bestCount := labels[0], counts[labels[0]]
	for _, l := range labels[1:] {
		if counts[l] > bestCount {
			best, bestCount = l, counts[l]
		}
	}
	return best
}
