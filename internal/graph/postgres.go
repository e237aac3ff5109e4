package graph

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Postgres-backed Store and ensures its schema
// exists: graph_entities/graph_edges, per spec.md §6's graph
// persistence tables.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS graph_entities (
    entity_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    properties JSONB NOT NULL DEFAULT '{}'::jsonb,
    community_id INTEGER,
    degree INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS graph_edges (
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    relationship_type TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL DEFAULT 0,
    properties JSONB NOT NULL DEFAULT '{}'::jsonb,
    PRIMARY KEY (source_id, target_id, relationship_type)
);
CREATE INDEX IF NOT EXISTS graph_entities_community_idx ON graph_entities(community_id);
CREATE INDEX IF NOT EXISTS graph_edges_target_idx ON graph_edges(target_id, relationship_type);
`)
	if err != nil {
		return nil, err
	}
	return &postgresStore{pool: pool}, nil
}

func scanEntity(row pgx.Row) (Entity, error) {
	var ent Entity
	var props map[string]string
	err := row.Scan(&ent.ID, &ent.Name, &ent.EntityType, &props, &ent.CommunityID, &ent.Degree)
	if err != nil {
		return Entity{}, err
	}
	ent.Properties = props
	return ent, nil
}

const entityColumns = "entity_id, name, entity_type, properties, community_id, degree"

func (s *postgresStore) UpsertEntity(ctx context.Context, entityType, name string, props map[string]string) (Entity, error) {
	id := EntityID(entityType, name)
	if props == nil {
		props = map[string]string{}
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO graph_entities (entity_id, name, entity_type, properties)
VALUES ($1, $2, $3, $4)
ON CONFLICT (entity_id) DO UPDATE
SET properties = graph_entities.properties || EXCLUDED.properties
RETURNING `+entityColumns,
		id, name, entityType, props)
	return scanEntity(row)
}

func (s *postgresStore) UpsertEdge(ctx context.Context, sourceID, targetID, relType string, weight float64, props map[string]string) (bool, error) {
	if props == nil {
		props = map[string]string{}
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS(
    SELECT 1 FROM graph_edges
    WHERE relationship_type = $3
      AND ((source_id = $1 AND target_id = $2) OR (source_id = $2 AND target_id = $1))
)`, sourceID, targetID, relType).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO graph_edges (source_id, target_id, relationship_type, weight, properties)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT DO NOTHING`, sourceID, targetID, relType, weight, props)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *postgresStore) RescanDegrees(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
UPDATE graph_entities e
SET degree = COALESCE((
    SELECT COUNT(*) FROM graph_edges g
    WHERE g.source_id = e.entity_id OR g.target_id = e.entity_id
), 0)
`)
	return err
}

func (s *postgresStore) GetEntity(ctx context.Context, id string) (Entity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM graph_entities WHERE entity_id = $1`, id)
	ent, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	return ent, err
}

func (s *postgresStore) ListEntities(ctx context.Context) ([]Entity, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entityColumns+` FROM graph_entities ORDER BY entity_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Entity, 0)
	for rows.Next() {
		ent, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

func (s *postgresStore) ListEdges(ctx context.Context) ([]Edge, error) {
	rows, err := s.pool.Query(ctx, `SELECT source_id, target_id, relationship_type, weight, properties FROM graph_edges`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Edge, 0)
	for rows.Next() {
		var e Edge
		var props map[string]string
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.RelationshipType, &e.Weight, &props); err != nil {
			return nil, err
		}
		e.Properties = props
		out = append(out, e)
	}
	return out, rows.Err()
}

const entityColumnsAliased = "e.entity_id, e.name, e.entity_type, e.properties, e.community_id, e.degree"

func (s *postgresStore) Neighbors(ctx context.Context, id string) ([]Entity, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+entityColumnsAliased+`
FROM graph_entities e
JOIN graph_edges g ON (g.source_id = $1 AND g.target_id = e.entity_id)
                    OR (g.target_id = $1 AND g.source_id = e.entity_id)
WHERE e.entity_id != $1
ORDER BY e.entity_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := make(map[string]struct{})
	out := make([]Entity, 0)
	for rows.Next() {
		ent, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[ent.ID]; ok {
			continue
		}
		seen[ent.ID] = struct{}{}
		out = append(out, ent)
	}
	return out, rows.Err()
}

func (s *postgresStore) CommunityMembers(ctx context.Context, communityID int) ([]Entity, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entityColumns+` FROM graph_entities WHERE community_id = $1 ORDER BY entity_id`, communityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Entity, 0)
	for rows.Next() {
		ent, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

func (s *postgresStore) SetCommunities(ctx context.Context, assignments map[string]*int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for id, cid := range assignments {
		if _, err := tx.Exec(ctx, `UPDATE graph_entities SET community_id = $2 WHERE entity_id = $1`, id, cid); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *postgresStore) SearchByName(ctx context.Context, query string, limit int) ([]Entity, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+entityColumns+` FROM graph_entities
WHERE $1 = '' OR name ILIKE '%' || $1 || '%'
ORDER BY name
LIMIT $2`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Entity, 0)
	for rows.Next() {
		ent, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}
