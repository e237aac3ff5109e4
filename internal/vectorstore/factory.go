package vectorstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"cortex/internal/config"
	"cortex/internal/coreerr"
)

// New constructs a VectorStore from configuration, following the teacher's
// switch-on-backend-name factory pattern.
func New(ctx context.Context, cfg config.VectorStoreConfig) (VectorStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.Dimensions), nil
	case "qdrant":
		if cfg.DSN == "" {
			return nil, coreerr.New(coreerr.Input, "qdrant backend requires a dsn", nil)
		}
		return NewQdrant(cfg.DSN, cfg.Collection, cfg.Dimensions, cfg.Metric)
	case "postgres", "pgvector", "pg":
		if cfg.DSN == "" {
			return nil, coreerr.New(coreerr.Input, "postgres backend requires a dsn", nil)
		}
		pool, err := newPgPool(ctx, cfg.DSN)
		if err != nil {
			return nil, coreerr.New(coreerr.Connection, "connect postgres vector store", err)
		}
		return NewPostgres(ctx, pool, cfg.Dimensions, cfg.Metric)
	default:
		return nil, coreerr.New(coreerr.Input, "unsupported vector store backend: "+cfg.Backend, nil)
	}
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pcfg.MaxConns = 8
	pcfg.MinConns = 0
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
