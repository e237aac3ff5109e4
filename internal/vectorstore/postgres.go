package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"cortex/internal/coreerr"
)

type postgresStore struct {
	pool       *pgxpool.Pool
	dimensions int
	metric     string // cosine|l2|euclidean|ip|dot
}

// NewPostgres returns a VectorStore backed by the pgvector extension. The
// caller owns the pool's lifecycle.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, dimensions int, metric string) (VectorStore, error) {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, coreerr.New(coreerr.Storage, "create vector extension", err)
	}
	vecType := "vector"
	if dimensions > 0 {
		vecType = fmt.Sprintf("vector(%d)", dimensions)
	}
	_, err := pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS vector_records (
  id TEXT PRIMARY KEY,
  text TEXT NOT NULL DEFAULT '',
  vec %s,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);
`, vecType))
	if err != nil {
		return nil, coreerr.New(coreerr.Storage, "create vector_records table", err)
	}
	return &postgresStore{pool: pool, dimensions: dimensions, metric: strings.ToLower(strings.TrimSpace(metric))}, nil
}

func (p *postgresStore) Insert(ctx context.Context, batch []Record) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return coreerr.New(coreerr.Storage, "begin insert tx", err)
	}
	defer tx.Rollback(ctx)
	for _, r := range batch {
		md, err := json.Marshal(r.Metadata)
		if err != nil {
			return coreerr.New(coreerr.Internal, "marshal metadata", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO vector_records(id, text, vec, metadata) VALUES($1, $2, $3::vector, $4)
ON CONFLICT (id) DO UPDATE SET text=EXCLUDED.text, vec=EXCLUDED.vec, metadata=EXCLUDED.metadata
`, r.ID, r.Text, toVectorLiteral(r.Vector), md)
		if err != nil {
			return coreerr.New(coreerr.Storage, "upsert vector record", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return coreerr.New(coreerr.Storage, "commit insert tx", err)
	}
	return nil
}

func (p *postgresStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM vector_records WHERE id = ANY($1)`, ids)
	if err != nil {
		return coreerr.New(coreerr.Storage, "delete vector records", err)
	}
	return nil
}

func (p *postgresStore) Search(ctx context.Context, query []float32, k int, filter map[string]string) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	vecLit := toVectorLiteral(query)
	op := "<=>"
	scoreExpr := "1 - (vec <=> $1::vector)"
	switch p.metric {
	case "l2", "euclidean":
		op = "<->"
		// pgvector's <-> is unsquared L2 distance on unit-norm vectors;
		// cos = 1 - L^2/2 converts it back to cosine similarity.
		scoreExpr = "1 - (pow(vec <-> $1::vector, 2) / 2)"
	case "ip", "dot":
		op = "<#>"
		scoreExpr = "-(vec <#> $1::vector)"
	}
	args := []any{vecLit, k}
	where := ""
	if len(filter) > 0 {
		md, err := json.Marshal(filter)
		if err != nil {
			return nil, coreerr.New(coreerr.Internal, "marshal filter", err)
		}
		where = "WHERE metadata @> $3"
		args = append(args, md)
	}
	query2 := fmt.Sprintf(`SELECT id, text, %s AS score, metadata FROM vector_records %s ORDER BY vec %s $1::vector LIMIT $2`, scoreExpr, where, op)
	rows, err := p.pool.Query(ctx, query2, args...)
	if err != nil {
		return nil, coreerr.New(coreerr.Retrieval, "vector similarity query", err)
	}
	defer rows.Close()
	out := make([]Result, 0, k)
	for rows.Next() {
		var r Result
		var mdRaw []byte
		if err := rows.Scan(&r.ID, &r.Text, &r.Score, &mdRaw); err != nil {
			return nil, coreerr.New(coreerr.Retrieval, "scan vector result", err)
		}
		if len(mdRaw) > 0 {
			_ = json.Unmarshal(mdRaw, &r.Metadata)
		}
		if r.Score < 0 {
			r.Score = 0
		}
		if r.Score > 1 {
			r.Score = 1
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *postgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM vector_records`).Scan(&n); err != nil {
		return 0, coreerr.New(coreerr.Storage, "count vector records", err)
	}
	return n, nil
}

// Compact runs VACUUM to reclaim dead tuples from deletes and updates.
func (p *postgresStore) Compact(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `VACUUM vector_records`); err != nil {
		return coreerr.New(coreerr.Storage, "vacuum vector_records", err)
	}
	return nil
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fmt.Sprintf("%g", x))
	}
	b.WriteByte(']')
	return b.String()
}
