package persona

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const singletonID = "default"

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Postgres-backed Store and ensures its schema
// exists, matching spec.md §6's persona_settings/persona_changes
// tables. persona_settings carries a single live row keyed by
// singletonID, mirroring the spec's single-user/embedded scope.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS persona_settings (
    id TEXT PRIMARY KEY,
    formality INTEGER NOT NULL DEFAULT 50,
    enthusiasm INTEGER NOT NULL DEFAULT 50,
    humor INTEGER NOT NULL DEFAULT 30,
    directness INTEGER NOT NULL DEFAULT 20,
    empathy INTEGER NOT NULL DEFAULT 60,
    detail INTEGER NOT NULL DEFAULT 50,
    proactivity INTEGER NOT NULL DEFAULT 40,
    playfulness INTEGER NOT NULL DEFAULT 50,
    confidence INTEGER NOT NULL DEFAULT 70,
    questioning INTEGER NOT NULL DEFAULT 40,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS persona_changes (
    id TEXT PRIMARY KEY,
    previous_params JSONB NOT NULL,
    new_params JSONB NOT NULL,
    changed_parameters JSONB NOT NULL,
    change_magnitude DOUBLE PRECISION NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    reason TEXT NOT NULL CHECK (reason IN ('manual','preset','optimization','reset'))
);
`)
	if err != nil {
		return nil, err
	}
	s := &postgresStore{pool: pool}
	if err := s.ensureSeed(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *postgresStore) ensureSeed(ctx context.Context) error {
	d := Default()
	_, err := s.pool.Exec(ctx, `
INSERT INTO persona_settings (id, formality, enthusiasm, humor, directness, empathy, detail, proactivity, playfulness, confidence, questioning)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING`,
		singletonID, d.Formality, d.Enthusiasm, d.Humor, d.Directness, d.Empathy,
		d.Detail, d.Proactivity, d.Playfulness, d.Confidence, d.Questioning)
	return err
}

func (s *postgresStore) Get(ctx context.Context) (Parameters, error) {
	row := s.pool.QueryRow(ctx, `
SELECT formality, enthusiasm, humor, directness, empathy, detail, proactivity, playfulness, confidence, questioning
FROM persona_settings WHERE id = $1`, singletonID)
	var p Parameters
	err := row.Scan(&p.Formality, &p.Enthusiasm, &p.Humor, &p.Directness, &p.Empathy,
		&p.Detail, &p.Proactivity, &p.Playfulness, &p.Confidence, &p.Questioning)
	if errors.Is(err, pgx.ErrNoRows) {
		return Default(), nil
	}
	return p, err
}

func (s *postgresStore) Update(ctx context.Context, next Parameters, reason ChangeReason) (Change, bool, error) {
	next = next.Clamp()
	current, err := s.Get(ctx)
	if err != nil {
		return Change{}, false, err
	}
	change, moved := diff(current, next, reason, time.Now().UTC())
	if !moved {
		return Change{}, false, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Change{}, false, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
UPDATE persona_settings
SET formality=$2, enthusiasm=$3, humor=$4, directness=$5, empathy=$6,
    detail=$7, proactivity=$8, playfulness=$9, confidence=$10, questioning=$11, updated_at=NOW()
WHERE id=$1`,
		singletonID, next.Formality, next.Enthusiasm, next.Humor, next.Directness, next.Empathy,
		next.Detail, next.Proactivity, next.Playfulness, next.Confidence, next.Questioning)
	if err != nil {
		return Change{}, false, err
	}

	change.ID = uuid.NewString()
	prevJSON, err := json.Marshal(change.Previous)
	if err != nil {
		return Change{}, false, err
	}
	newJSON, err := json.Marshal(change.New)
	if err != nil {
		return Change{}, false, err
	}
	changedJSON, err := json.Marshal(change.ChangedParameters)
	if err != nil {
		return Change{}, false, err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO persona_changes (id, previous_params, new_params, changed_parameters, change_magnitude, timestamp, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		change.ID, prevJSON, newJSON, changedJSON, change.Magnitude, change.Timestamp, string(change.Reason))
	if err != nil {
		return Change{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Change{}, false, err
	}
	return change, true, nil
}

func (s *postgresStore) Changes(ctx context.Context, limit int) ([]Change, error) {
	query := `SELECT id, previous_params, new_params, changed_parameters, change_magnitude, timestamp, reason
FROM persona_changes ORDER BY timestamp DESC`
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

	out := make([]Change, 0)
	for rows.Next() {
		var c Change
		var prevJSON, newJSON, changedJSON []byte
		var reason string
		if err := rows.Scan(&c.ID, &prevJSON, &newJSON, &changedJSON, &c.Magnitude, &c.Timestamp, &reason); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(prevJSON, &c.Previous); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(newJSON, &c.New); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(changedJSON, &c.ChangedParameters); err != nil {
			return nil, err
		}
		c.Reason = ChangeReason(reason)
		out = append(out, c)
	}
	return out, rows.Err()
}
