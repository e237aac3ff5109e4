package graph

import (
	"context"
	"sort"

	"cortex/internal/coreerr"
)

// RetrievalConfig tunes the retrieval engine.
type RetrievalConfig struct {
	MaxHops                  int
	MaxResults               int
	MinRelevance             float64
	EnableCommunityExpansion bool
}

// DefaultRetrievalConfig matches the original GraphRAG engine's defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{MaxHops: 2, MaxResults: 10, MinRelevance: 0.3, EnableCommunityExpansion: true}
}

// RetrievalResult pairs an entity with its relevance to a query and
// the path by which it was reached from a seed entity.
type RetrievalResult struct {
	Entity         Entity
	RelevanceScore float64
	Path           []string
}

// Engine retrieves entities relevant to a query by seeding on name
// match and expanding over the graph.
type Engine struct {
	store Store
	cfg   RetrievalConfig
}

// NewEngine returns an Engine over store.
func NewEngine(store Store, cfg RetrievalConfig) *Engine {
	return &Engine{store: store, cfg: cfg}
}

// Retrieve finds seed entities by name match, expands each by BFS
// traversal (and community membership, if enabled), deduplicates,
// sorts by relevance descending, and caps at MaxResults.
func (e *Engine) Retrieve(ctx context.Context, query string) ([]RetrievalResult, error) {
	seeds, err := e.store.SearchByName(ctx, query, 5)
	if err != nil {
		return nil, coreerr.New(coreerr.Retrieval, "search graph entities", err)
	}
	if len(seeds) == 0 {
		return nil, nil
	}

	var all []RetrievalResult
	for _, seed := range seeds {
		expanded, err := e.expandFromEntity(ctx, seed)
		if err != nil {
			return nil, err
		}
		all = append(all, expanded...)
	}

	seen := make(map[string]struct{})
	unique := make([]RetrievalResult, 0, len(all))
	for _, r := range all {
		if _, ok := seen[r.Entity.ID]; ok {
			continue
		}
		seen[r.Entity.ID] = struct{}{}
		unique = append(unique, r)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		if unique[i].RelevanceScore != unique[j].RelevanceScore {
			return unique[i].RelevanceScore > unique[j].RelevanceScore
		}
		return unique[i].Entity.ID < unique[j].Entity.ID
	})

	if len(unique) > e.cfg.MaxResults {
		unique = unique[:e.cfg.MaxResults]
	}
	return unique, nil
}

func (e *Engine) expandFromEntity(ctx context.Context, seed Entity) ([]RetrievalResult, error) {
	results := []RetrievalResult{{Entity: seed, RelevanceScore: 1.0, Path: []string{seed.ID}}}

	visited := map[string]struct{}{seed.ID: {}}
	currentLevel := []string{seed.ID}

	for hop := 1; hop <= e.cfg.MaxHops; hop++ {
		var nextLevel []string
		for _, id := range currentLevel {
			neighbors, err := e.store.Neighbors(ctx, id)
			if err != nil {
				return nil, coreerr.New(coreerr.Retrieval, "expand graph neighbors", err)
			}
			for _, nb := range neighbors {
				if _, ok := visited[nb.ID]; ok {
					continue
				}
				visited[nb.ID] = struct{}{}

				relevance := 1.0 / (float64(hop) + 1.0)
				if relevance < e.cfg.MinRelevance {
					continue
				}

				results = append(results, RetrievalResult{
					Entity: nb, RelevanceScore: relevance,
					Path: []string{seed.ID, nb.ID},
				})
				nextLevel = append(nextLevel, nb.ID)
			}
		}
		currentLevel = nextLevel
		if len(currentLevel) == 0 {
			break
		}
	}

	if e.cfg.EnableCommunityExpansion && seed.CommunityID != nil {
		members, err := e.store.CommunityMembers(ctx, *seed.CommunityID)
		if err != nil {
			return nil, coreerr.New(coreerr.Retrieval, "expand graph community", err)
		}
		for _, m := range members {
			if _, ok := visited[m.ID]; ok {
				continue
			}
			visited[m.ID] = struct{}{}
			results = append(results, RetrievalResult{
				Entity: m, RelevanceScore: 0.5,
				Path: []string{seed.ID, m.ID},
			})
		}
	}

	return results, nil
}

// FindPath runs BFS over the undirected skeleton of the graph for the
// shortest path from sourceID to targetID within maxDepth hops. It
// returns ok=false if no such path exists.
func (e *Engine) FindPath(ctx context.Context, sourceID, targetID string, maxDepth int) ([]string, bool, error) {
	type queued struct {
		id   string
		path []string
	}
	queue := []queued{{id: sourceID, path: []string{sourceID}}}
	visited := map[string]struct{}{sourceID: {}}

	for depth := 0; len(queue) > 0 && depth <= maxDepth; depth++ {
		levelSize := len(queue)
		for i := 0; i < levelSize; i++ {
			current := queue[0]
			queue = queue[1:]

			if current.id == targetID {
				return current.path, true, nil
			}

			neighbors, err := e.store.Neighbors(ctx, current.id)
			if err != nil {
				return nil, false, coreerr.New(coreerr.Retrieval, "walk graph for path", err)
			}
			for _, nb := range neighbors {
				if _, ok := visited[nb.ID]; ok {
					continue
				}
				visited[nb.ID] = struct{}{}
				newPath := make([]string, len(current.path), len(current.path)+1)
				copy(newPath, current.path)
				newPath = append(newPath, nb.ID)
				queue = append(queue, queued{id: nb.ID, path: newPath})
			}
		}
	}
	return nil, false, nil
}
