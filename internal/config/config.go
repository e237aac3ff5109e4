// Package config loads cortex's YAML configuration, following the teacher's
// config.go pattern: a flat struct tree unmarshaled from YAML with defaults
// filled in; a warning is logged when data_path is missing. Env vars override the
// file for secrets, matching the teacher's preference for keeping API keys
// out of checked-in YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// EmbeddingConfig configures the C1 Embedder's HTTP client.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	Path       string `yaml:"path"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	APIHeader  string `yaml:"api_header"`
	Dimensions int    `yaml:"dimensions"`
	Timeout    int    `yaml:"timeout_seconds"`
}

// VectorStoreConfig selects and configures the C2 backend.
type VectorStoreConfig struct {
	Backend    string `yaml:"backend"` // "memory", "qdrant", "postgres"
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric"` // "cosine", "euclidean", "dot"
}

// RelationalConfig configures the Postgres-backed episodic (C4), summary
// (C9), conversation and persona stores. The graph store (C7) is
// configured separately by GraphConfig.
type RelationalConfig struct {
	Backend string `yaml:"backend"` // "memory" or "postgres"
	DSN     string `yaml:"dsn"`
}

// CacheConfig configures C11 and its optional Redis mirror.
type CacheConfig struct {
	MaxEntries   int    `yaml:"max_entries"`
	TTLSeconds   int    `yaml:"ttl_seconds"`
	EnableEvict  bool   `yaml:"enable_eviction"`
	Backend      string `yaml:"backend"` // "memory" or "redis"
	RedisAddr    string `yaml:"redis_addr"`
}

// RetentionConfig configures C5.
type RetentionConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxBoostCount       int     `yaml:"max_boost_count"`
	BaseBoost           float64 `yaml:"retention_boost"`
	BoostDecayDays      float64 `yaml:"boost_decay_days"`
}

// AttentionConfig configures C10.
type AttentionConfig struct {
	SinkSize         int `yaml:"sink_size"`
	WindowSize       int `yaml:"window_size"`
	ChunkSize        int `yaml:"chunk_size"`
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// GraphConfig configures C7.
type GraphConfig struct {
	Backend            string  `yaml:"backend"` // "memory" or "postgres"
	DSN                string  `yaml:"dsn"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MinCommunitySize    int     `yaml:"min_community_size"`
	MaxHops             int     `yaml:"max_hops"`
	MaxResults          int     `yaml:"max_results"`
	MinRelevanceScore   float64 `yaml:"min_relevance_score"`
	EnableCommunityExp  bool    `yaml:"enable_community_expansion"`
}

// HybridConfig configures C8 fusion weights.
type HybridConfig struct {
	BM25Weight     float64 `yaml:"bm25_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	RRFK           float64 `yaml:"rrf_k"`
	EnableRerank   bool    `yaml:"enable_reranking"`
}

// MemGuardConfig configures C13.
type MemGuardConfig struct {
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
	CooldownSeconds      int `yaml:"cooldown_seconds"`
}

// GeneratorConfig configures the black-box LLM transport (internal/llm).
type GeneratorConfig struct {
	Backend       string  `yaml:"backend"` // "anthropic", "openai"
	BaseURL       string  `yaml:"base_url"`
	Model         string  `yaml:"model"`
	APIKey        string  `yaml:"api_key"`
	Temperature   float64 `yaml:"temperature"`
	TopP          float64 `yaml:"top_p"`
	TopK          int     `yaml:"top_k"`
	RepeatPenalty float64 `yaml:"repeat_penalty"`
}

// Config is the root configuration tree.
type Config struct {
	DataPath   string             `yaml:"data_path"`
	LogPath    string             `yaml:"log_path"`
	LogLevel   string             `yaml:"log_level"`
	Embedding  EmbeddingConfig    `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Relational RelationalConfig   `yaml:"relational"`
	Cache      CacheConfig        `yaml:"cache"`
	Retention  RetentionConfig    `yaml:"retention"`
	Attention  AttentionConfig    `yaml:"attention"`
	Graph      GraphConfig        `yaml:"graph"`
	Hybrid     HybridConfig       `yaml:"hybrid"`
	MemGuard   MemGuardConfig     `yaml:"mem_guard"`
	Generator  GeneratorConfig    `yaml:"generator"`
}

// Load reads path, unmarshals it into a Config, applies defaults for any
// zero-valued field the spec pins to a concrete constant, and overrides
// secrets from well-known environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DataPath == "" {
		cfg.DataPath = "./data"
		log.Warn().Msg("no data_path configured, defaulting to ./data")
	}
	if cfg.VectorStore.Backend == "" {
		cfg.VectorStore.Backend = "memory"
	}
	if cfg.Relational.Backend == "" {
		cfg.Relational.Backend = "memory"
	}
	if cfg.Graph.Backend == "" {
		cfg.Graph.Backend = "memory"
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = 100
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 3600
	}
	if cfg.Retention.SimilarityThreshold <= 0 {
		cfg.Retention.SimilarityThreshold = 0.7
	}
	if cfg.Retention.MaxBoostCount <= 0 {
		cfg.Retention.MaxBoostCount = 20
	}
	if cfg.Retention.BaseBoost <= 0 {
		cfg.Retention.BaseBoost = 0.2
	}
	if cfg.Retention.BoostDecayDays <= 0 {
		cfg.Retention.BoostDecayDays = 7.0
	}
	if cfg.Attention.SinkSize <= 0 {
		cfg.Attention.SinkSize = 4
	}
	if cfg.Attention.WindowSize <= 0 {
		cfg.Attention.WindowSize = 4000
	}
	if cfg.Attention.ChunkSize <= 0 {
		cfg.Attention.ChunkSize = 2000
	}
	if cfg.Attention.MaxContextTokens <= 0 {
		cfg.Attention.MaxContextTokens = 32768
	}
	if cfg.Graph.SimilarityThreshold <= 0 {
		cfg.Graph.SimilarityThreshold = 0.8
	}
	if cfg.Graph.MinCommunitySize <= 0 {
		cfg.Graph.MinCommunitySize = 3
	}
	if cfg.Graph.MaxHops <= 0 {
		cfg.Graph.MaxHops = 2
	}
	if cfg.Graph.MaxResults <= 0 {
		cfg.Graph.MaxResults = 10
	}
	if cfg.Graph.MinRelevanceScore <= 0 {
		cfg.Graph.MinRelevanceScore = 0.3
	}
	if cfg.Hybrid.BM25Weight == 0 && cfg.Hybrid.SemanticWeight == 0 {
		cfg.Hybrid.BM25Weight = 0.5
		cfg.Hybrid.SemanticWeight = 0.5
	}
	if cfg.Hybrid.RRFK <= 0 {
		cfg.Hybrid.RRFK = 60.0
	}
	if cfg.MemGuard.CheckIntervalSeconds <= 0 {
		cfg.MemGuard.CheckIntervalSeconds = 15
	}
	if cfg.MemGuard.CooldownSeconds <= 0 {
		cfg.MemGuard.CooldownSeconds = 60
	}
	if cfg.Generator.Temperature == 0 {
		cfg.Generator.Temperature = 0.8
	}
	if cfg.Generator.TopP == 0 {
		cfg.Generator.TopP = 0.92
	}
	if cfg.Generator.TopK == 0 {
		cfg.Generator.TopK = 45
	}
	if cfg.Generator.RepeatPenalty == 0 {
		cfg.Generator.RepeatPenalty = 1.15
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// applyEnvOverrides lets CORTEX_* environment variables override values
// from the YAML file, following the teacher's practice of keeping
// credentials out of YAML files.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CORTEX_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("CORTEX_GENERATOR_API_KEY"); v != "" {
		cfg.Generator.APIKey = v
	}
	if v := os.Getenv("CORTEX_VECTOR_DSN"); v != "" {
		cfg.VectorStore.DSN = v
	}
	if v := os.Getenv("CORTEX_RELATIONAL_DSN"); v != "" {
		cfg.Relational.DSN = v
	}
	if v := os.Getenv("CORTEX_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("CORTEX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CORTEX_MEM_GUARD_COOLDOWN_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MemGuard.CooldownSeconds = n
		}
	}
}
