// Package graph implements C7, the Graph Store + Retrieval component: a
// small knowledge graph keyed by deterministic entity ids, with label
// propagation community detection and BFS-based retrieval. Grounded on
// the original graph_builder.rs/graph_retrieval.rs (dedup key,
// community detection loop, hop-decayed relevance, community
// expansion, find_path) and restyled after the teacher's
// internal/persistence/databases GraphDB split (memory_graph.go /
// postgres_graph.go backend pair behind one interface).
package graph

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned when an entity id has no matching record.
var ErrNotFound = errors.New("graph: entity not found")

// Entity is a node in the knowledge graph.
type Entity struct {
	ID          string
	Name        string
	EntityType  string
	Properties  map[string]string
	CommunityID *int
	Degree      int
}

// Edge is a relationship between two entities. The pair (SourceID,
// TargetID, RelationshipType) is unique up to direction: an edge a->b and
// b->a of the same type are the same edge.
type Edge struct {
	SourceID         string
	TargetID         string
	RelationshipType string
	Weight           float64
	Properties       map[string]string
}

// EntityID computes the deterministic dedup key for an entity:
// type:lowercased-name.
func EntityID(entityType, name string) string {
	return strings.ToLower(entityType) + ":" + strings.ToLower(name)
}

// Store is the graph persistence contract shared by every backend.
type Store interface {
	// UpsertEntity creates the entity if EntityID(entityType, name) is
	// new, otherwise merges props into the existing entity's properties.
	UpsertEntity(ctx context.Context, entityType, name string, props map[string]string) (Entity, error)
	// UpsertEdge inserts the edge unless one already exists between the
	// same pair in either direction with the same relationship type, in
	// which case it reports inserted=false and does nothing.
	UpsertEdge(ctx context.Context, sourceID, targetID, relType string, weight float64, props map[string]string) (inserted bool, err error)
	// RescanDegrees recomputes every entity's Degree from the current
	// edge set.
	RescanDegrees(ctx context.Context) error
	GetEntity(ctx context.Context, id string) (Entity, error)
	ListEntities(ctx context.Context) ([]Entity, error)
	ListEdges(ctx context.Context) ([]Edge, error)
	// Neighbors returns the entities reachable by one undirected edge
	// from id, in either edge direction.
	Neighbors(ctx context.Context, id string) ([]Entity, error)
	// CommunityMembers returns every entity assigned to communityID.
	CommunityMembers(ctx context.Context, communityID int) ([]Entity, error)
	// SetCommunities overwrites the CommunityID of every entity named in
	// assignments (nil clears it).
	SetCommunities(ctx context.Context, assignments map[string]*int) error
	// SearchByName returns entities whose name contains query
	// case-insensitively, up to limit results, ordered by name.
	SearchByName(ctx context.Context, query string, limit int) ([]Entity, error)
}

func mergeProps(dst, src map[string]string) map[string]string {
	out := make(map[string]string, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func copyProps(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func samePair(e Edge, sourceID, targetID, relType string) bool {
	if e.RelationshipType != relType {
		return false
	}
	return (e.SourceID == sourceID && e.TargetID == targetID) ||
		(e.SourceID == targetID && e.TargetID == sourceID)
}

func sortedIDs(entities []Entity) []string {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	sort.Strings(ids)
	return ids
}
