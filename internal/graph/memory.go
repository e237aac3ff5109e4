package graph

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memoryStore struct {
	mu       sync.RWMutex
	entities map[string]Entity
	edges    []Edge
}

// NewMemory returns an in-memory Store, suitable for tests and for
// running without a configured relational backend.
func NewMemory() Store {
	return &memoryStore{entities: make(map[string]Entity)}
}

func (s *memoryStore) UpsertEntity(_ context.Context, entityType, name string, props map[string]string) (Entity, error) {
	id := EntityID(entityType, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entities[id]; ok {
		existing.Properties = mergeProps(existing.Properties, props)
		s.entities[id] = existing
		return existing, nil
	}
	ent := Entity{ID: id, Name: name, EntityType: entityType, Properties: copyProps(props)}
	s.entities[id] = ent
	return ent, nil
}

func (s *memoryStore) UpsertEdge(_ context.Context, sourceID, targetID, relType string, weight float64, props map[string]string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.edges {
		if samePair(e, sourceID, targetID, relType) {
			return false, nil
		}
	}
	s.edges = append(s.edges, Edge{
		SourceID: sourceID, TargetID: targetID, RelationshipType: relType,
		Weight: weight, Properties: copyProps(props),
	})
	return true, nil
}

func (s *memoryStore) RescanDegrees(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	degrees := make(map[string]int, len(s.entities))
	for _, e := range s.edges {
		degrees[e.SourceID]++
		degrees[e.TargetID]++
	}
	for id, ent := range s.entities {
		ent.Degree = degrees[id]
		s.entities[id] = ent
	}
	return nil
}

func (s *memoryStore) GetEntity(_ context.Context, id string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ent, ok := s.entities[id]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return ent, nil
}

func (s *memoryStore) ListEntities(_ context.Context) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, 0, len(s.entities))
	for _, ent := range s.entities {
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) ListEdges(_ context.Context) ([]Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Edge, len(s.edges))
	copy(out, s.edges)
	return out, nil
}

func (s *memoryStore) Neighbors(_ context.Context, id string) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []Entity
	for _, e := range s.edges {
		var otherID string
		switch id {
		case e.SourceID:
			otherID = e.TargetID
		case e.TargetID:
			otherID = e.SourceID
		default:
			continue
		}
		if _, ok := seen[otherID]; ok {
			continue
		}
		seen[otherID] = struct{}{}
		if ent, ok := s.entities[otherID]; ok {
			out = append(out, ent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) CommunityMembers(_ context.Context, communityID int) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entity
	for _, ent := range s.entities {
		if ent.CommunityID != nil && *ent.CommunityID == communityID {
			out = append(out, ent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) SetCommunities(_ context.Context, assignments map[string]*int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cid := range assignments {
		if ent, ok := s.entities[id]; ok {
			ent.CommunityID = cid
			s.entities[id] = ent
		}
	}
	return nil
}

func (s *memoryStore) SearchByName(_ context.Context, query string, limit int) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	var out []Entity
	for _, ent := range s.entities {
		if q == "" || strings.Contains(strings.ToLower(ent.Name), q) {
			out = append(out, ent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
