// Package episodic implements C4, the Episodic Store: the system of
// record for conversational exchanges (spec.md §3's Episode). Grounded
// on the teacher's internal/persistence/databases chat store pair
// (chat_store_memory.go's mutex-guarded map, chat_store_postgres.go's
// pgx table/query shape) and on the original episodic_memory table in
// database/schema.rs, extended with the retention/last_boost_at fields
// the retention controller (C5) needs.
package episodic

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an episode id has no matching record.
var ErrNotFound = errors.New("episodic: episode not found")

// Episode is a single conversational exchange, per spec.md §3.
type Episode struct {
	ID           string
	UserMessage  string
	AIResponse   string
	Satisfaction float64
	Importance   float64
	Retention    float64
	AccessCount  int
	CreatedAt    time.Time
	LastBoostAt  time.Time
	EmbeddingRef string // empty if embedding failed

	// TotalBoostAmount accumulates every contextual boost (C5) applied
	// since the last decay pass, so decay can later claw back the
	// portion that has expired without touching boosts still live.
	TotalBoostAmount float64
}

// Store is the episodic memory contract shared by every backend.
type Store interface {
	Create(ctx context.Context, ep Episode) (Episode, error)
	Get(ctx context.Context, id string) (Episode, error)
	Update(ctx context.Context, ep Episode) error
	Touch(ctx context.Context, id string) error // increments access_count
	List(ctx context.Context, limit int) ([]Episode, error)
	Delete(ctx context.Context, id string) error
}

// --- in-memory backend -----------------------------------------------------

type memoryStore struct {
	mu   sync.RWMutex
	recs map[string]Episode
}

// NewMemory returns an in-memory Store, suitable for tests and for running
// without a configured relational backend.
func NewMemory() Store {
	return &memoryStore{recs: make(map[string]Episode)}
}

func (s *memoryStore) Create(_ context.Context, ep Episode) (Episode, error) {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.Satisfaction == 0 {
		ep.Satisfaction = 0.5
	}
	if ep.Importance == 0 {
		ep.Importance = ep.Satisfaction
	}
	if ep.Retention == 0 {
		ep.Retention = 1.0
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[ep.ID] = ep
	return ep, nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.recs[id]
	if !ok {
		return Episode{}, ErrNotFound
	}
	return ep, nil
}

func (s *memoryStore) Update(_ context.Context, ep Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[ep.ID]; !ok {
		return ErrNotFound
	}
	s.recs[ep.ID] = ep
	return nil
}

func (s *memoryStore) Touch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.recs[id]
	if !ok {
		return ErrNotFound
	}
	ep.AccessCount++
	s.recs[id] = ep
	return nil
}

func (s *memoryStore) List(_ context.Context, limit int) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Episode, 0, len(s.recs))
	for _, ep := range s.recs {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return ErrNotFound
	}
	delete(s.recs, id)
	return nil
}

// --- postgres backend -------------------------------------------------------

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Postgres-backed Store and ensures its schema exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS episodes (
    id TEXT PRIMARY KEY,
    user_message TEXT NOT NULL,
    ai_response TEXT NOT NULL,
    satisfaction DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    retention DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    access_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_boost_at TIMESTAMPTZ,
    embedding_ref TEXT NOT NULL DEFAULT '',
    total_boost_amount DOUBLE PRECISION NOT NULL DEFAULT 0.0
);
CREATE INDEX IF NOT EXISTS episodes_retention_idx ON episodes(retention DESC);
CREATE INDEX IF NOT EXISTS episodes_created_idx ON episodes(created_at DESC);
`)
	if err != nil {
		return nil, err
	}
	return &postgresStore{pool: pool}, nil
}

func scanEpisode(row pgx.Row) (Episode, error) {
	var ep Episode
	var lastBoost *time.Time
	err := row.Scan(&ep.ID, &ep.UserMessage, &ep.AIResponse, &ep.Satisfaction, &ep.Importance,
		&ep.Retention, &ep.AccessCount, &ep.CreatedAt, &lastBoost, &ep.EmbeddingRef, &ep.TotalBoostAmount)
	if err != nil {
		return Episode{}, err
	}
	if lastBoost != nil {
		ep.LastBoostAt = *lastBoost
	}
	return ep, nil
}

const episodeColumns = "id, user_message, ai_response, satisfaction, importance, retention, access_count, created_at, last_boost_at, embedding_ref, total_boost_amount"

func (s *postgresStore) Create(ctx context.Context, ep Episode) (Episode, error) {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.Satisfaction == 0 {
		ep.Satisfaction = 0.5
	}
	if ep.Importance == 0 {
		ep.Importance = ep.Satisfaction
	}
	if ep.Retention == 0 {
		ep.Retention = 1.0
	}
	var lastBoost any
	if !ep.LastBoostAt.IsZero() {
		lastBoost = ep.LastBoostAt
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO episodes (id, user_message, ai_response, satisfaction, importance, retention, access_count, last_boost_at, embedding_ref, total_boost_amount)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+episodeColumns,
		ep.ID, ep.UserMessage, ep.AIResponse, ep.Satisfaction, ep.Importance, ep.Retention, ep.AccessCount, lastBoost, ep.EmbeddingRef, ep.TotalBoostAmount)
	return scanEpisode(row)
}

func (s *postgresStore) Get(ctx context.Context, id string) (Episode, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = $1`, id)
	ep, err := scanEpisode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Episode{}, ErrNotFound
	}
	return ep, err
}

func (s *postgresStore) Update(ctx context.Context, ep Episode) error {
	var lastBoost any
	if !ep.LastBoostAt.IsZero() {
		lastBoost = ep.LastBoostAt
	}
	cmd, err := s.pool.Exec(ctx, `
UPDATE episodes
SET user_message = $2, ai_response = $3, satisfaction = $4, importance = $5,
    retention = $6, access_count = $7, last_boost_at = $8, embedding_ref = $9, total_boost_amount = $10
WHERE id = $1`,
		ep.ID, ep.UserMessage, ep.AIResponse, ep.Satisfaction, ep.Importance, ep.Retention, ep.AccessCount, lastBoost, ep.EmbeddingRef, ep.TotalBoostAmount)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) Touch(ctx context.Context, id string) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE episodes SET access_count = access_count + 1 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) List(ctx context.Context, limit int) ([]Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Episode, 0)
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (s *postgresStore) Delete(ctx context.Context, id string) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM episodes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
