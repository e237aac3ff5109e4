// Command cortexd is the core's process entrypoint: it loads
// configuration, wires every component per spec.md §6's backend
// choices, starts the background schedulers (memory-pressure guard,
// retention decay, graph community rebuild, cache expiry sweep), and
// serves the turn-taking HTTP API until SIGINT/SIGTERM. Grounded on
// the teacher's cmd/orchestrator/main.go (config load -> dependency
// wiring -> signal.NotifyContext graceful shutdown) and
// cmd/agentd/main.go (minimal stdlib http.ServeMux API surface), with
// the UI/desktop-shell surface the original source pairs with
// entirely out of scope per spec.md §1's Non-goals.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"cortex/internal/attention"
	"cortex/internal/config"
	"cortex/internal/conversation"
	"cortex/internal/crashlog"
	"cortex/internal/embedding"
	"cortex/internal/episodic"
	"cortex/internal/graph"
	"cortex/internal/hybrid"
	"cortex/internal/lexical"
	"cortex/internal/llm"
	"cortex/internal/llm/anthropic"
	"cortex/internal/llm/openai"
	"cortex/internal/memguard"
	"cortex/internal/orchestrator"
	"cortex/internal/persona"
	"cortex/internal/promptcache"
	"cortex/internal/rerank"
	"cortex/internal/retention"
	"cortex/internal/summary"
	"cortex/internal/telemetry"
	"cortex/internal/vectorstore"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	configPath := os.Getenv("CORTEX_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	telemetry.InitLogger(cfg.LogPath, cfg.LogLevel)

	reporter, err := crashlog.New(filepath.Join(cfg.DataPath, "crashlog"), os.Getenv("HOME"), os.Getenv("USER"))
	if err != nil {
		log.Warn().Err(err).Msg("cortexd: crash reporter unavailable")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps, err := wireDependencies(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("cortexd: failed to wire dependencies")
	}

	guard := memguard.New(deps.cache, deps.retriever, memguard.Config{
		CheckInterval: time.Duration(cfg.MemGuard.CheckIntervalSeconds) * time.Second,
		Cooldown:      time.Duration(cfg.MemGuard.CooldownSeconds) * time.Second,
	})
	go guard.Run(ctx)
	go runDecayLoop(ctx, deps.retentionCtl)
	if deps.graphBuilder != nil {
		go runGraphRebuildLoop(ctx, deps.graphBuilder)
	}
	go runCacheSweepLoop(ctx, deps.cache)

	srv := newServer(deps.orchestrator, reporter)
	addr := os.Getenv("CORTEX_LISTEN_ADDR")
	if addr == "" {
		addr = ":8420"
	}

	httpSrv := &http.Server{Addr: addr, Handler: srv}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("cortexd: http shutdown error")
		}
	}()

	log.Info().Str("addr", addr).Msg("cortexd listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("cortexd: server failed")
	}
	log.Info().Msg("cortexd stopped")
}

// dependencies bundles every constructed component the background
// schedulers and HTTP handlers need a handle on.
type dependencies struct {
	orchestrator *orchestrator.Orchestrator
	cache        *promptcache.Cache
	retriever    *hybrid.Retriever
	retentionCtl *retention.Controller
	graphBuilder *graph.Builder
}

// wireDependencies builds every component per cfg's backend
// selections, following spec.md §6's relational/vector/graph backend
// options: "memory" for single-process/test operation, or a real
// backend (Postgres, Qdrant) for durable deployments.
func wireDependencies(ctx context.Context, cfg *config.Config) (*dependencies, error) {
	var relPool *pgxpool.Pool
	if cfg.Relational.Backend == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.Relational.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect relational postgres: %w", err)
		}
		relPool = pool
	}

	episodes, err := newEpisodicStore(ctx, cfg, relPool)
	if err != nil {
		return nil, err
	}
	conversations, err := newConversationStore(ctx, cfg, relPool)
	if err != nil {
		return nil, err
	}
	summaries, err := newSummaryStore(ctx, cfg, relPool)
	if err != nil {
		return nil, err
	}
	personaStore, err := newPersonaStore(ctx, cfg, relPool)
	if err != nil {
		return nil, err
	}

	vectors, err := newVectorStore(cfg)
	if err != nil {
		return nil, err
	}

	graphStore, graphBuilder, graphEngine, err := newGraphStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	_ = graphStore

	embedder := newEmbedder(cfg)

	idx := lexical.New()
	if err := rebuildLexicalIndex(ctx, idx, episodes); err != nil {
		log.Warn().Err(err).Msg("cortexd: failed to seed lexical index from episodic store")
	}

	hybridCfg := hybrid.DefaultConfig()
	hybridCfg.BM25Weight = cfg.Hybrid.BM25Weight
	hybridCfg.SemanticWeight = cfg.Hybrid.SemanticWeight
	hybridCfg.RRFConstant = cfg.Hybrid.RRFK
	hybridCfg.EnableReranking = cfg.Hybrid.EnableRerank
	retriever := hybrid.New(idx, vectors, embedder, rerank.Heuristic(), hybridCfg)

	retentionCfg := retention.DefaultConfig()
	retentionCfg.SimilarityThreshold = cfg.Retention.SimilarityThreshold
	retentionCfg.MaxBoostCount = cfg.Retention.MaxBoostCount
	retentionCfg.BaseBoost = cfg.Retention.BaseBoost
	retentionCfg.BoostDecayDays = cfg.Retention.BoostDecayDays
	retentionCtl := retention.New(episodes, vectors, embedder, retentionCfg)

	cacheCfg := promptcache.Config{
		MaxEntries:     cfg.Cache.MaxEntries,
		TTL:            time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		EnableEviction: cfg.Cache.EnableEvict,
	}
	cache := promptcache.New(cacheCfg)
	if cfg.Cache.Backend == "redis" {
		mirror, err := promptcache.NewRedisMirror(ctx, cfg.Cache.RedisAddr, cacheCfg.TTL)
		if err != nil {
			log.Warn().Err(err).Msg("cortexd: prompt cache redis mirror unavailable, continuing without it")
		} else {
			cache.WithRedisMirror(mirror)
		}
	}

	generator := newGenerator(cfg)

	attnCfg := attention.Config{
		SinkSize: cfg.Attention.SinkSize, WindowSize: cfg.Attention.WindowSize,
		ChunkSize: cfg.Attention.ChunkSize, MaxContextTokens: cfg.Attention.MaxContextTokens,
	}
	compressor := attention.New(attnCfg)

	orchCfg := orchestrator.DefaultConfig()
	orch := orchestrator.New(
		personaStore, summaries, cache, retriever, compressor, generator,
		conversations, episodes, vectors, embedder, retentionCtl, graphEngine, orchCfg,
	)

	return &dependencies{
		orchestrator: orch, cache: cache, retriever: retriever,
		retentionCtl: retentionCtl, graphBuilder: graphBuilder,
	}, nil
}

func newEpisodicStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (episodic.Store, error) {
	if cfg.Relational.Backend == "postgres" {
		return episodic.NewPostgres(ctx, pool)
	}
	return episodic.NewMemory(), nil
}

func newConversationStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (conversation.Store, error) {
	if cfg.Relational.Backend == "postgres" {
		return conversation.NewPostgres(ctx, pool)
	}
	return conversation.NewMemory(), nil
}

func newSummaryStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (summary.Store, error) {
	if cfg.Relational.Backend == "postgres" {
		return summary.NewPostgres(ctx, pool)
	}
	return summary.NewMemory(), nil
}

func newPersonaStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (persona.Store, error) {
	if cfg.Relational.Backend == "postgres" {
		return persona.NewPostgres(ctx, pool)
	}
	return persona.NewMemory(), nil
}

func newVectorStore(cfg *config.Config) (vectorstore.VectorStore, error) {
	switch cfg.VectorStore.Backend {
	case "qdrant":
		return vectorstore.NewQdrant(cfg.VectorStore.DSN, cfg.VectorStore.Collection, cfg.VectorStore.Dimensions, cfg.VectorStore.Metric)
	case "postgres":
		pool, err := pgxpool.New(context.Background(), cfg.VectorStore.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect vector postgres: %w", err)
		}
		return vectorstore.NewPostgres(context.Background(), pool, cfg.VectorStore.Dimensions, cfg.VectorStore.Metric)
	default:
		return vectorstore.NewMemory(cfg.VectorStore.Dimensions), nil
	}
}

func newGraphStore(ctx context.Context, cfg *config.Config) (graph.Store, *graph.Builder, *graph.Engine, error) {
	var store graph.Store
	var err error
	if cfg.Graph.Backend == "postgres" {
		pool, poolErr := pgxpool.New(ctx, cfg.Graph.DSN)
		if poolErr != nil {
			return nil, nil, nil, fmt.Errorf("connect graph postgres: %w", poolErr)
		}
		store, err = graph.NewPostgres(ctx, pool)
	} else {
		store = graph.NewMemory()
	}
	if err != nil {
		return nil, nil, nil, err
	}

	builderCfg := graph.DefaultBuilderConfig()
	builderCfg.MinCommunitySize = cfg.Graph.MinCommunitySize
	builder := graph.NewBuilder(store, builderCfg)

	retrievalCfg := graph.DefaultRetrievalConfig()
	retrievalCfg.MaxHops = cfg.Graph.MaxHops
	retrievalCfg.MaxResults = cfg.Graph.MaxResults
	retrievalCfg.MinRelevance = cfg.Graph.MinRelevanceScore
	retrievalCfg.EnableCommunityExpansion = cfg.Graph.EnableCommunityExp
	engine := graph.NewEngine(store, retrievalCfg)

	return store, builder, engine, nil
}

func newEmbedder(cfg *config.Config) embedding.Embedder {
	if cfg.Embedding.BaseURL == "" {
		log.Warn().Msg("cortexd: no embedding endpoint configured, using deterministic stub embedder")
		dim := cfg.Embedding.Dimensions
		if dim <= 0 {
			dim = 384
		}
		return embedding.NewDeterministic(dim, 0)
	}
	return embedding.NewHTTPClient(cfg.Embedding)
}

func newGenerator(cfg *config.Config) llm.Generator {
	switch cfg.Generator.Backend {
	case "openai":
		return openai.New(cfg.Generator)
	case "anthropic":
		return anthropic.New(cfg.Generator)
	default:
		log.Warn().Str("backend", cfg.Generator.Backend).Msg("cortexd: unknown generator backend, using stub")
		return &llm.Stub{}
	}
}

// rebuildLexicalIndex seeds C3's in-memory BM25 index from the
// durable episodic store at startup, since the lexical index itself
// is never persisted (spec.md §2's "in-memory inverted index").
func rebuildLexicalIndex(ctx context.Context, idx *lexical.Index, episodes episodic.Store) error {
	eps, err := episodes.List(ctx, 0)
	if err != nil {
		return err
	}
	for _, ep := range eps {
		idx.Add(ep.ID, ep.UserMessage+"\n"+ep.AIResponse)
	}
	return nil
}

func runDecayLoop(ctx context.Context, ctl *retention.Controller) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := ctl.DecayBoosts(ctx); err != nil {
				log.Warn().Err(err).Msg("cortexd: retention decay pass failed")
			} else {
				log.Info().Int("episodes_decayed", n).Msg("cortexd: retention decay pass complete")
			}
		}
	}
}

func runGraphRebuildLoop(ctx context.Context, builder *graph.Builder) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stats, err := builder.Rebuild(ctx); err != nil {
				log.Warn().Err(err).Msg("cortexd: graph rebuild pass failed")
			} else {
				log.Info().Interface("stats", stats).Msg("cortexd: graph rebuild pass complete")
			}
		}
	}
}

func runCacheSweepLoop(ctx context.Context, cache *promptcache.Cache) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := cache.ClearExpired(); n > 0 {
				log.Info().Int("removed", n).Msg("cortexd: prompt cache sweep removed expired entries")
			}
		}
	}
}

// --- HTTP API ---------------------------------------------------------

func newServer(orch *orchestrator.Orchestrator, reporter *crashlog.Reporter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("/turn", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			ConversationID string `json:"conversation_id"`
			Message        string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		result, err := orch.RunTurn(r.Context(), req.ConversationID, req.Message)
		if err != nil {
			if reporter != nil {
				_ = reporter.Report(err, "turn", map[string]any{"conversation_id": req.ConversationID})
			}
			log.Error().Err(err).Str("conversation_id", req.ConversationID).Msg("cortexd: turn failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"assistant_message": result.AssistantMessage,
			"message_count":     result.Conversation.MessageCount,
			"episode_id":        result.EpisodeID,
			"used_cached_prompt": result.UsedCachedPrompt,
			"compressed":        result.Compressed,
			"retrieved_count":   result.RetrievedCount,
		})
	})

	return mux
}
